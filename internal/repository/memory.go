package repository

import (
	"context"
	"sync"
	"time"
)

type tokenEntry struct {
	value     string
	expiresAt time.Time
}

// MemoryTokenRepository is the in-process fallback token store.
type MemoryTokenRepository struct {
	tokens sync.Map
	ttl    time.Duration
	now    func() time.Time
}

func NewMemoryTokenRepository(ttl time.Duration) *MemoryTokenRepository {
	return &MemoryTokenRepository{
		ttl: ttl,
		now: time.Now,
	}
}

func (r *MemoryTokenRepository) GetToken(_ context.Context, name string) (string, error) {
	val, ok := r.tokens.Load(name)
	if !ok {
		return "", nil
	}
	entry := val.(tokenEntry)
	if !entry.expiresAt.IsZero() && r.now().After(entry.expiresAt) {
		r.tokens.Delete(name)
		return "", nil
	}
	return entry.value, nil
}

func (r *MemoryTokenRepository) SetToken(_ context.Context, name, value string, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = r.ttl
	}
	entry := tokenEntry{value: value}
	if ttl > 0 {
		entry.expiresAt = r.now().Add(ttl)
	}
	r.tokens.Store(name, entry)
	return nil
}

func (r *MemoryTokenRepository) ClearToken(_ context.Context, name string) error {
	r.tokens.Delete(name)
	return nil
}
