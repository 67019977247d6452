package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"syncqueue/internal/domain"
	"syncqueue/internal/metrics"
	"syncqueue/internal/models"
	"syncqueue/internal/queue"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

var (
	// ErrSyncInProgress is returned when a drain is triggered while another is running.
	ErrSyncInProgress = errors.New("sync already in progress")
	// ErrLeaseLost is returned when another process took over the drain lease mid-drain.
	ErrLeaseLost = errors.New("drain lease lost")
)

// DefaultLeaseTTL bounds how long a crashed drainer blocks others. The lease is
// renewed before every send, so it must outlast one remote call.
const DefaultLeaseTTL = 2 * time.Minute

const (
	OutcomeSucceeded = "succeeded"
	OutcomeRejected  = "rejected"
	OutcomeRetained  = "retained"
	OutcomeDeferred  = "deferred"
	OutcomeHalted    = "halted"
)

// DrainReport summarises one drain run.
type DrainReport struct {
	Seeded    int           `json:"seeded"`
	Sent      int           `json:"sent"`
	Succeeded int           `json:"succeeded"`
	Rejected  int           `json:"rejected"`
	Retained  int           `json:"retained"`
	Deferred  int           `json:"deferred"`
	Errors    int           `json:"errors"`
	Halted    bool          `json:"halted"`
	Duration  time.Duration `json:"duration_ns"`
}

// Option customises a Processor.
type Option func(*Processor)

// WithDeadLetter routes rejected entries to sink.
func WithDeadLetter(sink domain.DeadLetterSink) Option {
	return func(p *Processor) { p.deadLetter = sink }
}

// LeaseTTLFor returns a lease long enough to cover a remote call bounded by requestTimeout.
func LeaseTTLFor(requestTimeout time.Duration) time.Duration {
	return max(DefaultLeaseTTL, 2*requestTimeout)
}

// WithLeaseTTL sets how long each claim of the drain lease lasts.
func WithLeaseTTL(ttl time.Duration) Option {
	return func(p *Processor) {
		if ttl > 0 {
			p.leaseTTL = ttl
		}
	}
}

// WithClock overrides the wall clock used for clock-skew detection.
func WithClock(now func() time.Time) Option {
	return func(p *Processor) { p.now = now }
}

// Processor drains the durable queue against the remote API. Only one drain runs at a time.
type Processor struct {
	store      domain.Store
	queue      *queue.Queue
	transport  domain.Transport
	creds      domain.CredentialProvider
	publisher  domain.EventPublisher
	deadLetter domain.DeadLetterSink
	lease      domain.DrainLease
	leaseOwner string
	leaseTTL   time.Duration
	now        func() time.Time
	logger     zerolog.Logger

	syncing atomic.Bool
}

// NewProcessor wires a processor over store. The queue index is owned by the
// processor. A store that also implements domain.DrainLease guards drains
// across processes.
func NewProcessor(
	store domain.Store,
	transport domain.Transport,
	creds domain.CredentialProvider,
	publisher domain.EventPublisher,
	logger *zerolog.Logger,
	opts ...Option,
) *Processor {
	l := zerolog.Nop()
	if logger != nil {
		l = logger.With().Str("component", "sync_worker").Logger()
	}
	p := &Processor{
		store:     store,
		queue:     queue.New(store, logger),
		transport: transport,
		creds:     creds,
		publisher: publisher,
		leaseTTL:  DefaultLeaseTTL,
		now:       time.Now,
		logger:    l,
	}
	if lease, ok := store.(domain.DrainLease); ok {
		p.lease = lease
		p.leaseOwner = uuid.NewString()
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Syncing reports whether a drain is in flight.
func (p *Processor) Syncing() bool {
	return p.syncing.Load()
}

// Drain seeds the queue and replays entries until it is empty, the remote is
// unreachable, or ctx is done. A concurrent call returns ErrSyncInProgress.
func (p *Processor) Drain(ctx context.Context) (report DrainReport, err error) {
	if !p.syncing.CompareAndSwap(false, true) {
		metrics.IncDrain("skipped")
		return DrainReport{}, ErrSyncInProgress
	}
	defer p.syncing.Store(false)

	started := time.Now()
	defer func() { report.Duration = time.Since(started) }()

	if err := ctx.Err(); err != nil {
		metrics.IncDrain("canceled")
		return report, err
	}

	if p.lease != nil {
		held, err := p.lease.AcquireDrainLease(ctx, p.leaseOwner, p.leaseTTL)
		if err != nil {
			metrics.IncDrain("failed")
			return report, err
		}
		if !held {
			metrics.IncDrain("skipped")
			p.logger.Info().Msg("drain lease held by another process")
			return report, ErrSyncInProgress
		}
		defer p.releaseLease(ctx)
	}

	if err := p.queue.Seed(ctx); err != nil {
		p.logger.Warn().Err(err).Msg("seed finished with errors")
		report.Errors++
	}
	report.Seeded = p.queue.Size()
	metrics.SetQueueDepth(report.Seeded)
	p.logger.Info().Int("seeded", report.Seeded).Msg("drain started")

	for !p.queue.IsEmpty() {
		if err := ctx.Err(); err != nil {
			metrics.IncDrain("canceled")
			return report, err
		}

		entry, ok := p.queue.Peek()
		if !ok {
			break
		}
		if err := p.renewLease(ctx); err != nil {
			metrics.IncDrain("failed")
			p.logger.Warn().Err(err).Int("remaining", p.queue.Size()).Msg("drain stopped")
			return report, err
		}

		sentAt := time.Now()
		resp := p.transport.Process(ctx, entry.Request)
		metrics.ObserveRequest(resp.Status, time.Since(sentAt))
		report.Sent++

		if resp.IsNetworkError() && ctx.Err() != nil {
			metrics.IncDrain("canceled")
			return report, ctx.Err()
		}

		halt := p.resolve(ctx, entry, resp, &report)
		metrics.SetQueueDepth(p.queue.Size())
		if halt {
			report.Halted = true
			metrics.IncDrain("halted")
			p.logger.Warn().Int("remaining", p.queue.Size()).Msg("drain halted on network error")
			return report, nil
		}
	}

	metrics.IncDrain("completed")
	p.logger.Info().
		Int("succeeded", report.Succeeded).
		Int("rejected", report.Rejected).
		Int("retained", report.Retained).
		Int("deferred", report.Deferred).
		Int("errors", report.Errors).
		Msg("drain completed")
	return report, nil
}

func (p *Processor) renewLease(ctx context.Context) error {
	if p.lease == nil {
		return nil
	}
	held, err := p.lease.AcquireDrainLease(ctx, p.leaseOwner, p.leaseTTL)
	if err != nil {
		return err
	}
	if !held {
		return ErrLeaseLost
	}
	return nil
}

func (p *Processor) releaseLease(ctx context.Context) {
	if err := p.lease.ReleaseDrainLease(context.WithoutCancel(ctx), p.leaseOwner); err != nil {
		p.logger.Warn().Err(err).Msg("failed to release drain lease")
	}
}

// resolve applies the outcome of one send. It returns true when the drain must halt.
func (p *Processor) resolve(ctx context.Context, entry models.QueueEntry, resp models.HTTPResponse, report *DrainReport) bool {
	log := p.logger.With().
		Str("msg_id", entry.ID).
		Str("type", string(entry.Type)).
		Int("priority", entry.Priority).
		Int("status", resp.Status).
		Logger()

	switch {
	case resp.IsSuccess():
		if err := p.postProcess(ctx, entry, resp); err != nil {
			log.Warn().Err(err).Msg("post-processing failed")
			report.Errors++
		}
		if err := p.queue.Dequeue(ctx, false); err != nil {
			log.Warn().Err(err).Msg("failed to delete synced entry")
			report.Errors++
		}
		report.Succeeded++
		metrics.IncEntry(OutcomeSucceeded)
		log.Debug().Msg("entry synced")

		if entry.Config.ShouldPublishResult {
			event, err := models.SuccessEvent(entry, resp.Body)
			if err != nil {
				log.Warn().Err(err).Msg("failed to build success event")
				report.Errors++
				return false
			}
			p.publisher.Publish(event)
		}
		return false

	case resp.Status == http.StatusBadRequest:
		if err := p.queue.Dequeue(ctx, false); err != nil {
			log.Warn().Err(err).Msg("failed to delete rejected entry")
			report.Errors++
		}
		p.publisher.Publish(models.ErrorEvent(models.EventErrorBadRequest))
		if p.deadLetter != nil {
			if err := p.deadLetter.PushDeadLetter(ctx, entry, resp); err != nil {
				log.Warn().Err(err).Msg("dead-letter push failed")
				report.Errors++
			}
		}
		report.Rejected++
		metrics.IncEntry(OutcomeRejected)
		log.Info().Msg("entry rejected by remote")
		return false

	case resp.Status == http.StatusUnauthorized:
		if err := p.refreshCredentials(ctx, &entry, resp.Body); err != nil {
			log.Warn().Err(err).Msg("credential refresh failed")
			report.Errors++
		}
		_ = p.queue.Dequeue(ctx, true)
		report.Retained++
		metrics.IncEntry(OutcomeRetained)
		log.Info().Msg("entry retained for auth retry")
		return false

	case resp.IsNetworkError():
		p.publisher.Publish(models.ErrorEvent(models.EventErrorNetworkError))
		metrics.IncEntry(OutcomeHalted)
		log.Warn().Str("error", resp.Error).Msg("remote unreachable")
		return true

	default:
		// Left in the store for the next seed.
		_ = p.queue.Dequeue(ctx, true)
		report.Deferred++
		metrics.IncEntry(OutcomeDeferred)
		log.Warn().Str("error", resp.Error).Msg("unhandled status, entry deferred")
		return false
	}
}

// refreshCredentials rewrites the entry's auth header and persists the request.
func (p *Processor) refreshCredentials(ctx context.Context, entry *models.QueueEntry, body string) error {
	var payload struct {
		Message string `json:"message"`
	}
	// A body that is not JSON is treated as a user-token failure.
	_ = json.Unmarshal([]byte(body), &payload)

	if strings.EqualFold(payload.Message, "Unauthorized") {
		token := p.bearerToken(ctx)
		if token == "" {
			return fmt.Errorf("refresh %s: no bearer token available", entry.ID)
		}
		entry.Request.SetHeader(models.HeaderAuthorization, "Bearer "+token)
	} else if token := p.userToken(ctx); token != "" {
		entry.Request.SetHeader(models.HeaderUserToken, token)
	}

	raw, err := models.EncodeRequest(entry.Request)
	if err != nil {
		return err
	}
	if _, err := p.store.Update(ctx, "msg_id", []string{entry.ID}, map[string]any{"request": raw}); err != nil {
		return fmt.Errorf("persist refreshed request %s: %w", entry.ID, err)
	}
	return nil
}

func (p *Processor) bearerToken(ctx context.Context) string {
	if p.creds == nil {
		return ""
	}
	return p.creds.BearerToken(ctx)
}

func (p *Processor) userToken(ctx context.Context) string {
	if p.creds == nil {
		return ""
	}
	return p.creds.UserToken(ctx)
}
