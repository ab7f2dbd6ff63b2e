// Package cache defines the query-result cache port. Values are opaque
// blobs; entries are immutable within their TTL and invalidated by scope
// prefix on every write in that scope.
package cache

import (
	"context"
	"errors"
	"time"
)

// ErrMiss is returned by Get when the key is absent or expired.
var ErrMiss = errors.New("cache miss")

// Cache is the query-result cache port.
type Cache interface {
	// Get returns the cached value for key, or ErrMiss.
	Get(ctx context.Context, key string) ([]byte, error)

	// Set stores value under key with the given TTL.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// InvalidatePrefix drops every key with the given prefix.
	InvalidatePrefix(ctx context.Context, prefix string) error

	// Close releases the backend connection.
	Close() error
}
