package worker

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"syncqueue/internal/models"

	"github.com/redis/go-redis/v9"
)

// deadLetterRecord is what lands on the redis list for a rejected entry.
type deadLetterRecord struct {
	MsgID      string         `json:"msg_id"`
	Type       string         `json:"type"`
	Priority   int            `json:"priority"`
	Request    models.Request `json:"request"`
	Status     int            `json:"status"`
	Body       string         `json:"body,omitempty"`
	RejectedAt time.Time      `json:"rejected_at"`
}

// RedisDeadLetter pushes rejected entries onto a redis list for later inspection.
type RedisDeadLetter struct {
	client *redis.Client
	key    string
}

func NewRedisDeadLetter(client *redis.Client, key string) *RedisDeadLetter {
	return &RedisDeadLetter{client: client, key: key}
}

func (d *RedisDeadLetter) PushDeadLetter(ctx context.Context, entry models.QueueEntry, resp models.HTTPResponse) error {
	if d.client == nil {
		return errors.New("redis client is nil")
	}
	data, err := json.Marshal(deadLetterRecord{
		MsgID:      entry.ID,
		Type:       string(entry.Type),
		Priority:   entry.Priority,
		Request:    redactCredentials(entry.Request),
		Status:     resp.Status,
		Body:       resp.Body,
		RejectedAt: time.Now().UTC(),
	})
	if err != nil {
		return err
	}
	return d.client.LPush(ctx, d.key, data).Err()
}

// redactCredentials drops auth headers so tokens never reach the dead-letter list.
func redactCredentials(req models.Request) models.Request {
	out := req.Clone()
	for name := range out.Headers {
		if strings.EqualFold(name, models.HeaderAuthorization) || strings.EqualFold(name, models.HeaderUserToken) {
			delete(out.Headers, name)
		}
	}
	return out
}

// Len returns the number of dead-lettered entries.
func (d *RedisDeadLetter) Len(ctx context.Context) (int64, error) {
	if d.client == nil {
		return 0, errors.New("redis client is nil")
	}
	return d.client.LLen(ctx, d.key).Result()
}
