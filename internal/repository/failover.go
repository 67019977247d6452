package repository

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"syncqueue/internal/domain"

	"github.com/rs/zerolog"
)

const recoveryInterval = time.Minute

// FailoverTokenRepository uses primary until it fails, then serves from
// fallback and retries primary once per recoveryInterval.
type FailoverTokenRepository struct {
	primary  domain.TokenRepository
	fallback domain.TokenRepository
	logger   *zerolog.Logger
	isDown   atomic.Bool

	mu        sync.Mutex
	lastCheck time.Time
}

func NewFailoverTokenRepository(primary, fallback domain.TokenRepository, logger *zerolog.Logger) *FailoverTokenRepository {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &FailoverTokenRepository{
		primary:  primary,
		fallback: fallback,
		logger:   logger,
	}
}

func (r *FailoverTokenRepository) markDown(err error) {
	if !r.isDown.Swap(true) {
		r.logger.Error().Err(err).Msg("Primary token repository failed, falling back to memory")
	}
	r.mu.Lock()
	r.lastCheck = time.Now()
	r.mu.Unlock()
}

func (r *FailoverTokenRepository) shouldProbe() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return time.Since(r.lastCheck) > recoveryInterval
}

func (r *FailoverTokenRepository) GetToken(ctx context.Context, name string) (string, error) {
	if !r.isDown.Load() || r.shouldProbe() {
		token, err := r.primary.GetToken(ctx, name)
		if err == nil {
			if r.isDown.Swap(false) {
				r.logger.Info().Msg("Primary token repository recovered")
			}
			return token, nil
		}
		r.markDown(err)
	}
	return r.fallback.GetToken(ctx, name)
}

// SetToken always writes the fallback too so a later outage still has the token.
func (r *FailoverTokenRepository) SetToken(ctx context.Context, name, value string, ttl time.Duration) error {
	if err := r.fallback.SetToken(ctx, name, value, ttl); err != nil {
		return err
	}
	if r.isDown.Load() && !r.shouldProbe() {
		return nil
	}
	if err := r.primary.SetToken(ctx, name, value, ttl); err != nil {
		r.markDown(err)
		return nil
	}
	r.isDown.Store(false)
	return nil
}

func (r *FailoverTokenRepository) ClearToken(ctx context.Context, name string) error {
	if err := r.fallback.ClearToken(ctx, name); err != nil {
		return err
	}
	if r.isDown.Load() {
		return nil
	}
	if err := r.primary.ClearToken(ctx, name); err != nil {
		r.markDown(err)
	}
	return nil
}
