package locks

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// acquireScript takes the lock if free, or refreshes it when the same holder
// re-enters. Atomicity matters here: check-then-set from the client would
// race against TTL expiry.
var acquireScript = redis.NewScript(`
if redis.call("EXISTS", KEYS[1]) == 0 then
	redis.call("SET", KEYS[1], ARGV[1], "PX", ARGV[2])
	return 1
end
if redis.call("GET", KEYS[1]) == ARGV[1] then
	redis.call("PEXPIRE", KEYS[1], ARGV[2])
	return 1
end
return 0
`)

// releaseScript drops the lock only when the caller still owns it.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisManager implements Manager over Redis.
type RedisManager struct {
	client *redis.Client
	logger *slog.Logger
}

// NewRedisManager wraps an existing Redis client.
func NewRedisManager(client *redis.Client, logger *slog.Logger) *RedisManager {
	return &RedisManager{client: client, logger: logger}
}

// TryAcquire takes or re-enters the lock for holderID.
func (m *RedisManager) TryAcquire(ctx context.Context, key, holderID string, ttl time.Duration) (bool, error) {
	res, err := acquireScript.Run(ctx, m.client, []string{key}, holderID, ttl.Milliseconds()).Int()
	if err != nil {
		return false, fmt.Errorf("acquiring lock %s: %w", key, err)
	}
	return res == 1, nil
}

// Release drops the lock if holderID still owns it. Releasing a lock lost to
// TTL expiry is not an error.
func (m *RedisManager) Release(ctx context.Context, key, holderID string) error {
	if _, err := releaseScript.Run(ctx, m.client, []string{key}, holderID).Int(); err != nil {
		return fmt.Errorf("releasing lock %s: %w", key, err)
	}
	return nil
}

// Close releases the Redis client.
func (m *RedisManager) Close() error {
	return m.client.Close()
}
