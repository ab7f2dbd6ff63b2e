// Package locks defines the distributed lock port. Locks are re-entrant per
// holder, expire on TTL, and guarantee at most one holder — they are the only
// mutex on record state, so every write path goes through them.
package locks

import (
	"context"
	"errors"
	"time"
)

// ErrContended is returned when the lock is held by another holder.
var ErrContended = errors.New("lock contended")

// Manager is the distributed lock port.
type Manager interface {
	// TryAcquire takes the lock for holderID with the given TTL. Returns
	// true when acquired (including re-entry by the same holder).
	TryAcquire(ctx context.Context, key, holderID string, ttl time.Duration) (bool, error)

	// Release drops the lock if holderID still owns it.
	Release(ctx context.Context, key, holderID string) error

	// Close releases the backend connection.
	Close() error
}

// WithLock runs fn while holding the lock, releasing it afterwards. Returns
// ErrContended without running fn when the lock is busy.
func WithLock(ctx context.Context, m Manager, key, holderID string, ttl time.Duration, fn func(ctx context.Context) error) error {
	ok, err := m.TryAcquire(ctx, key, holderID, ttl)
	if err != nil {
		return err
	}
	if !ok {
		return ErrContended
	}
	defer func() {
		// Release on a fresh context so lock cleanup survives caller
		// cancellation; the TTL is the backstop if this fails too.
		releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
		defer cancel()
		_ = m.Release(releaseCtx, key, holderID)
	}()
	return fn(ctx)
}
