package domain

import (
	"context"
	"time"

	"syncqueue/internal/models"
)

// QueueStore is the persistent side of the durable queue.
type QueueStore interface {
	Seed(ctx context.Context) ([]models.QueueRow, error)
	Insert(ctx context.Context, row *models.QueueRow) (int64, error)
	Delete(ctx context.Context, msgID string) (int64, error)
	Update(ctx context.Context, matchColumn string, matchValues []string, patch map[string]any) (int64, error)
	Count(ctx context.Context) (int, error)
}

// KVStore holds small flags shared with the host application.
type KVStore interface {
	Read(ctx context.Context, table string, columns []string, where string, args ...any) ([]map[string]any, error)
	SetValue(ctx context.Context, key, value string) (int64, error)
}

// Store is everything the sync core needs from persistence.
type Store interface {
	QueueStore
	KVStore
}

// Transport sends a request and always returns a response. Connectivity loss is reported as models.StatusNetworkError.
type Transport interface {
	Process(ctx context.Context, req models.Request) models.HTTPResponse
}

// CredentialProvider supplies tokens for auth refresh. Empty string means unavailable.
type CredentialProvider interface {
	BearerToken(ctx context.Context) string
	UserToken(ctx context.Context) string
}

// EventPublisher fans a sync outcome out to subscribers.
type EventPublisher interface {
	Publish(event *models.SyncEvent)
}

// TokenRepository stores credential tokens by name.
type TokenRepository interface {
	GetToken(ctx context.Context, name string) (string, error)
	SetToken(ctx context.Context, name, value string, ttl time.Duration) error
	ClearToken(ctx context.Context, name string) error
}

// DeadLetterSink receives entries rejected by the remote.
type DeadLetterSink interface {
	PushDeadLetter(ctx context.Context, entry models.QueueEntry, resp models.HTTPResponse) error
}

// DrainLease is a store-level lock that keeps drains from different processes
// sharing one database from overlapping.
type DrainLease interface {
	AcquireDrainLease(ctx context.Context, owner string, ttl time.Duration) (bool, error)
	ReleaseDrainLease(ctx context.Context, owner string) error
}
