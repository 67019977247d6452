package worker

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"
)

// Drainer runs one drain.
type Drainer interface {
	Drain(ctx context.Context) (DrainReport, error)
}

// Scheduler triggers a drain every interval. After a halted drain the next
// attempt is delayed by the retry policy instead.
type Scheduler struct {
	drainer  Drainer
	interval time.Duration
	retry    RetryPolicy
	logger   zerolog.Logger

	halts int
}

func NewScheduler(drainer Drainer, interval time.Duration, retry RetryPolicy, logger *zerolog.Logger) *Scheduler {
	l := zerolog.Nop()
	if logger != nil {
		l = logger.With().Str("component", "scheduler").Logger()
	}
	return &Scheduler{drainer: drainer, interval: interval, retry: retry, logger: l}
}

// Run blocks until ctx is done. A zero interval disables periodic drains.
func (s *Scheduler) Run(ctx context.Context) {
	if s.interval <= 0 {
		s.logger.Info().Msg("periodic sync disabled")
		return
	}
	s.logger.Info().Dur("interval", s.interval).Msg("scheduler started")
	defer s.logger.Info().Msg("scheduler stopped")

	timer := time.NewTimer(s.interval)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
			report, err := s.drainer.Drain(ctx)
			delay := s.nextDelay(report, err)
			if err != nil && !errors.Is(err, ErrSyncInProgress) && ctx.Err() == nil {
				s.logger.Warn().Err(err).Msg("scheduled drain failed")
			}
			timer.Reset(delay)
		}
	}
}

func (s *Scheduler) nextDelay(report DrainReport, err error) time.Duration {
	if errors.Is(err, ErrSyncInProgress) {
		return s.interval
	}
	if err != nil || !report.Halted {
		s.halts = 0
		return s.interval
	}
	s.halts = s.retry.Advance(s.halts)
	delay := s.retry.NextDelay(s.halts)
	s.logger.Debug().Int("halts", s.halts).Dur("delay", delay).Msg("backing off after halted drain")
	return delay
}
