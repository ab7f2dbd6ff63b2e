package cache

import (
	"context"
	"strings"
	"sync"
	"time"
)

// LocalCache is the in-process fallback used by single-node deployments when
// no Redis backend is configured. Expired entries are dropped lazily on Get
// and swept opportunistically on Set.
type LocalCache struct {
	mu      sync.RWMutex
	entries map[string]localEntry
	now     func() time.Time
}

type localEntry struct {
	value     []byte
	expiresAt time.Time
}

// NewLocalCache creates an empty in-process cache.
func NewLocalCache() *LocalCache {
	return &LocalCache{
		entries: make(map[string]localEntry),
		now:     time.Now,
	}
}

// NewLocalCacheWithClock creates a local cache with an injected clock.
func NewLocalCacheWithClock(now func() time.Time) *LocalCache {
	return &LocalCache{entries: make(map[string]localEntry), now: now}
}

// Get returns the cached value for key, or ErrMiss.
func (c *LocalCache) Get(_ context.Context, key string) ([]byte, error) {
	c.mu.RLock()
	e, ok := c.entries[key]
	c.mu.RUnlock()
	if !ok {
		return nil, ErrMiss
	}
	if !e.expiresAt.IsZero() && !e.expiresAt.After(c.now()) {
		c.mu.Lock()
		delete(c.entries, key)
		c.mu.Unlock()
		return nil, ErrMiss
	}
	return e.value, nil
}

// Set stores value under key with the given TTL.
func (c *LocalCache) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	// Drop anything already expired while we hold the lock.
	for k, e := range c.entries {
		if !e.expiresAt.IsZero() && !e.expiresAt.After(now) {
			delete(c.entries, k)
		}
	}

	var expiresAt time.Time
	if ttl > 0 {
		expiresAt = now.Add(ttl)
	}
	buf := make([]byte, len(value))
	copy(buf, value)
	c.entries[key] = localEntry{value: buf, expiresAt: expiresAt}
	return nil
}

// InvalidatePrefix drops every key with the given prefix.
func (c *LocalCache) InvalidatePrefix(_ context.Context, prefix string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for k := range c.entries {
		if strings.HasPrefix(k, prefix) {
			delete(c.entries, k)
		}
	}
	return nil
}

// Close is a no-op for the local cache.
func (c *LocalCache) Close() error { return nil }
