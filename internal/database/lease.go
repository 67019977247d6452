package database

import (
	"context"
	"fmt"
	"time"
)

// AcquireDrainLease claims the single drain lease for owner until now+ttl.
// It succeeds when the lease is free, expired, or already held by owner, so
// calling it again renews the lease. Processes sharing the database file see
// the same row.
func (db *DB) AcquireDrainLease(ctx context.Context, owner string, ttl time.Duration) (bool, error) {
	now := time.Now().UnixMilli()
	res, err := db.ExecContext(ctx, `
        INSERT INTO drain_lease (id, owner, expires_at) VALUES (1, ?, ?)
        ON CONFLICT(id) DO UPDATE SET owner = excluded.owner, expires_at = excluded.expires_at
        WHERE drain_lease.owner = excluded.owner OR drain_lease.expires_at <= ?`,
		owner, now+ttl.Milliseconds(), now)
	if err != nil {
		return false, fmt.Errorf("acquire drain lease: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("acquire drain lease: %w", err)
	}
	return n == 1, nil
}

// ReleaseDrainLease gives the lease up if owner still holds it.
func (db *DB) ReleaseDrainLease(ctx context.Context, owner string) error {
	if _, err := db.ExecContext(ctx, `DELETE FROM drain_lease WHERE id = 1 AND owner = ?`, owner); err != nil {
		return fmt.Errorf("release drain lease: %w", err)
	}
	return nil
}
