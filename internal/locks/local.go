package locks

import (
	"context"
	"sync"
	"time"
)

// LocalManager is the in-process fallback lock manager for single-node
// deployments. TTL expiry is evaluated lazily on acquisition, so a lock held
// by a dead holder becomes free once its TTL passes.
type LocalManager struct {
	mu    sync.Mutex
	locks map[string]localLock
	now   func() time.Time
}

type localLock struct {
	holder    string
	expiresAt time.Time
}

// NewLocalManager creates an empty local lock manager.
func NewLocalManager() *LocalManager {
	return &LocalManager{locks: make(map[string]localLock), now: time.Now}
}

// NewLocalManagerWithClock creates a local lock manager with an injected clock.
func NewLocalManagerWithClock(now func() time.Time) *LocalManager {
	return &LocalManager{locks: make(map[string]localLock), now: now}
}

// TryAcquire takes or re-enters the lock for holderID.
func (m *LocalManager) TryAcquire(_ context.Context, key, holderID string, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	if l, ok := m.locks[key]; ok && l.expiresAt.After(now) && l.holder != holderID {
		return false, nil
	}
	m.locks[key] = localLock{holder: holderID, expiresAt: now.Add(ttl)}
	return true, nil
}

// Release drops the lock if holderID still owns it.
func (m *LocalManager) Release(_ context.Context, key, holderID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if l, ok := m.locks[key]; ok && l.holder == holderID {
		delete(m.locks, key)
	}
	return nil
}

// Close is a no-op for the local lock manager.
func (m *LocalManager) Close() error { return nil }
