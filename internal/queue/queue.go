package queue

import (
	"container/heap"
	"context"
	"errors"
	"fmt"
	"sync"

	"syncqueue/internal/domain"
	"syncqueue/internal/models"

	"github.com/rs/zerolog"
)

// Queue is an in-memory priority index over the persisted queue rows.
// Ordering is (priority asc, seq asc) where seq is the store-assigned row id.
type Queue struct {
	store  domain.QueueStore
	logger zerolog.Logger

	mu    sync.Mutex
	items entryHeap
}

func New(store domain.QueueStore, logger *zerolog.Logger) *Queue {
	l := zerolog.Nop()
	if logger != nil {
		l = logger.With().Str("component", "queue").Logger()
	}
	return &Queue{store: store, logger: l}
}

// Seed discards the index and rebuilds it from the store. Rows that fail to
// decode are skipped and reported in the returned error; the rest are kept.
func (q *Queue) Seed(ctx context.Context) error {
	rows, err := q.store.Seed(ctx)

	items := make(entryHeap, 0, len(rows))
	var errs []error
	if err != nil {
		errs = append(errs, fmt.Errorf("seed: %w", err))
	}
	for _, row := range rows {
		entry, decodeErr := models.EntryFromRow(row)
		if decodeErr != nil {
			q.logger.Warn().Err(decodeErr).Str("msg_id", row.MsgID).Msg("skipping undecodable queue row")
			errs = append(errs, decodeErr)
			continue
		}
		items = append(items, entry)
	}
	heap.Init(&items)

	q.mu.Lock()
	q.items = items
	q.mu.Unlock()

	q.logger.Debug().Int("size", len(items)).Msg("queue seeded")
	return errors.Join(errs...)
}

// Peek returns the head entry without removing it.
func (q *Queue) Peek() (models.QueueEntry, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return models.QueueEntry{}, false
	}
	return q.items[0], true
}

// Dequeue removes the head from the index. Unless retain is set, the row is
// also deleted from the store. A delete failure still removes the head from
// the index and is returned to the caller.
func (q *Queue) Dequeue(ctx context.Context, retain bool) error {
	q.mu.Lock()
	if len(q.items) == 0 {
		q.mu.Unlock()
		return nil
	}
	head := heap.Pop(&q.items).(models.QueueEntry)
	q.mu.Unlock()

	if retain {
		return nil
	}
	if _, err := q.store.Delete(ctx, head.ID); err != nil {
		return fmt.Errorf("dequeue %s: %w", head.ID, err)
	}
	return nil
}

func (q *Queue) IsEmpty() bool {
	return q.Size() == 0
}

func (q *Queue) Size() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

type entryHeap []models.QueueEntry

func (h entryHeap) Len() int           { return len(h) }
func (h entryHeap) Less(i, j int) bool { return h[i].Less(h[j]) }
func (h entryHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }

func (h *entryHeap) Push(x any) {
	*h = append(*h, x.(models.QueueEntry))
}

func (h *entryHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = models.QueueEntry{}
	*h = old[:n-1]
	return item
}
