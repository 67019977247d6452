package service

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"syncqueue/internal/domain"
	"syncqueue/internal/events"
	"syncqueue/internal/models"
	"syncqueue/internal/worker"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// ErrInvalidDescriptor is returned when an enqueue descriptor cannot be composed into a queue row.
var ErrInvalidDescriptor = errors.New("invalid request descriptor")

const defaultPriority = 1

// Drainer is the sync processor as seen by the service.
type Drainer interface {
	Drain(ctx context.Context) (worker.DrainReport, error)
	Syncing() bool
}

// Submitter schedules background jobs.
type Submitter interface {
	Submit(job worker.Job) error
}

// Status is a point-in-time view of the queue.
type Status struct {
	Pending     int  `json:"pending"`
	Syncing     bool `json:"syncing"`
	Subscribers int  `json:"subscribers"`
}

// SyncService is the facade used by the host bridge: enqueue, sync and subscribe.
type SyncService struct {
	store     domain.QueueStore
	processor Drainer
	pool      Submitter
	publisher *events.Publisher
	logger    *zerolog.Logger
	now       func() time.Time
}

func NewSyncService(store domain.QueueStore, processor Drainer, pool Submitter, publisher *events.Publisher, logger *zerolog.Logger) *SyncService {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &SyncService{
		store:     store,
		processor: processor,
		pool:      pool,
		publisher: publisher,
		logger:    logger,
		now:       time.Now,
	}
}

// descriptor is the caller-supplied envelope around a request.
type descriptor struct {
	Request   json.RawMessage `json:"request"`
	MsgID     string          `json:"msg_id"`
	Type      string          `json:"type"`
	Priority  *int            `json:"priority"`
	ItemCount int             `json:"item_count"`
	Timestamp int64           `json:"timestamp"`
	Config    json.RawMessage `json:"config"`
}

// Enqueue persists payload as the body of the descriptor's request and, if
// shouldSync is set and no drain is running, schedules one. The returned error
// covers persistence only.
func (s *SyncService) Enqueue(ctx context.Context, payload, rawDescriptor json.RawMessage, shouldSync bool) (string, error) {
	row, err := s.compose(payload, rawDescriptor)
	if err != nil {
		return "", err
	}

	if _, err := s.store.Insert(ctx, &row); err != nil {
		s.logger.Error().Err(err).Str("msg_id", row.MsgID).Msg("failed to persist queue entry")
		return "", err
	}
	s.logger.Debug().Str("msg_id", row.MsgID).Str("type", row.Type).Int("priority", row.Priority).Msg("entry enqueued")

	if shouldSync && !s.processor.Syncing() {
		if err := s.Sync(); err != nil {
			s.logger.Warn().Err(err).Str("msg_id", row.MsgID).Msg("failed to schedule sync after enqueue")
		}
	}
	return row.MsgID, nil
}

func (s *SyncService) compose(payload, rawDescriptor json.RawMessage) (models.QueueRow, error) {
	var d descriptor
	if err := json.Unmarshal(rawDescriptor, &d); err != nil {
		return models.QueueRow{}, fmt.Errorf("%w: %v", ErrInvalidDescriptor, err)
	}

	reqDoc, err := unwrapDocument(d.Request)
	if err != nil {
		return models.QueueRow{}, fmt.Errorf("%w: request: %v", ErrInvalidDescriptor, err)
	}
	if len(reqDoc) == 0 || reqDoc[0] != '{' {
		return models.QueueRow{}, fmt.Errorf("%w: request must be an object", ErrInvalidDescriptor)
	}

	var req models.Request
	if err := json.Unmarshal(reqDoc, &req); err != nil {
		return models.QueueRow{}, fmt.Errorf("%w: request: %v", ErrInvalidDescriptor, err)
	}
	if trimmed := bytes.TrimSpace(payload); len(trimmed) > 0 {
		req.Body = append(json.RawMessage(nil), trimmed...)
	}

	encoded, err := models.EncodeRequest(req)
	if err != nil {
		return models.QueueRow{}, err
	}

	cfg, err := unwrapDocument(d.Config)
	if err != nil {
		return models.QueueRow{}, fmt.Errorf("%w: config: %v", ErrInvalidDescriptor, err)
	}

	row := models.QueueRow{
		MsgID:     d.MsgID,
		Type:      d.Type,
		Priority:  defaultPriority,
		ItemCount: d.ItemCount,
		Timestamp: d.Timestamp,
		Config:    string(cfg),
		Request:   encoded,
	}
	if row.MsgID == "" {
		row.MsgID = uuid.NewString()
	}
	if d.Priority != nil {
		row.Priority = *d.Priority
	}
	if row.Timestamp == 0 {
		row.Timestamp = s.now().UnixMilli()
	}
	return row, nil
}

// unwrapDocument accepts either an embedded JSON value or a string holding
// serialized JSON and returns the compacted document.
func unwrapDocument(raw json.RawMessage) ([]byte, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}
	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return nil, err
		}
		raw = []byte(s)
	}
	var buf bytes.Buffer
	if err := json.Compact(&buf, raw); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Sync schedules a drain on the worker pool. It is a no-op while one is running.
func (s *SyncService) Sync() error {
	if s.processor.Syncing() {
		s.logger.Debug().Msg("sync requested while draining, ignored")
		return nil
	}
	return s.pool.Submit(func(ctx context.Context) {
		report, err := s.processor.Drain(ctx)
		switch {
		case errors.Is(err, worker.ErrSyncInProgress):
			return
		case err != nil:
			s.logger.Warn().Err(err).Msg("drain stopped")
		default:
			s.logger.Debug().Interface("report", report).Msg("drain finished")
		}
	})
}

// SyncNow drains on the calling goroutine.
func (s *SyncService) SyncNow(ctx context.Context) (worker.DrainReport, error) {
	return s.processor.Drain(ctx)
}

// Subscribe registers a long-lived listener for sync outcomes.
func (s *SyncService) Subscribe(listener events.Listener) (cancel func()) {
	return s.publisher.Subscribe(listener)
}

func (s *SyncService) Status(ctx context.Context) (Status, error) {
	n, err := s.store.Count(ctx)
	if err != nil {
		return Status{}, err
	}
	return Status{
		Pending:     n,
		Syncing:     s.processor.Syncing(),
		Subscribers: s.publisher.Subscribers(),
	}, nil
}
