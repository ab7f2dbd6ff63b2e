package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalCacheGetSet(t *testing.T) {
	ctx := context.Background()
	c := NewLocalCache()

	_, err := c.Get(ctx, "missing")
	assert.ErrorIs(t, err, ErrMiss)

	require.NoError(t, c.Set(ctx, "k1", []byte("v1"), time.Minute))
	got, err := c.Get(ctx, "k1")
	require.NoError(t, err)
	assert.Equal(t, []byte("v1"), got)
}

func TestLocalCacheTTL(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	c := NewLocalCacheWithClock(func() time.Time { return now })

	require.NoError(t, c.Set(ctx, "k1", []byte("v1"), 5*time.Minute))
	require.NoError(t, c.Set(ctx, "forever", []byte("v2"), 0))

	now = now.Add(4 * time.Minute)
	_, err := c.Get(ctx, "k1")
	assert.NoError(t, err)

	now = now.Add(2 * time.Minute)
	_, err = c.Get(ctx, "k1")
	assert.ErrorIs(t, err, ErrMiss)

	// Zero TTL never expires.
	got, err := c.Get(ctx, "forever")
	require.NoError(t, err)
	assert.Equal(t, []byte("v2"), got)
}

func TestLocalCacheInvalidatePrefix(t *testing.T) {
	ctx := context.Background()
	c := NewLocalCache()

	require.NoError(t, c.Set(ctx, "mem:v1:aaaa:search:1", []byte("x"), time.Minute))
	require.NoError(t, c.Set(ctx, "mem:v1:aaaa:id:2", []byte("y"), time.Minute))
	require.NoError(t, c.Set(ctx, "mem:v1:bbbb:search:3", []byte("z"), time.Minute))

	require.NoError(t, c.InvalidatePrefix(ctx, "mem:v1:aaaa:"))

	_, err := c.Get(ctx, "mem:v1:aaaa:search:1")
	assert.ErrorIs(t, err, ErrMiss)
	_, err = c.Get(ctx, "mem:v1:aaaa:id:2")
	assert.ErrorIs(t, err, ErrMiss)
	_, err = c.Get(ctx, "mem:v1:bbbb:search:3")
	assert.NoError(t, err, "other scopes survive")
}

func newRedisCache(t *testing.T) (*RedisCache, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return NewRedisCache(client, nil), mr
}

func TestRedisCacheGetSet(t *testing.T) {
	ctx := context.Background()
	c, _ := newRedisCache(t)
	defer c.Close()

	_, err := c.Get(ctx, "missing")
	assert.ErrorIs(t, err, ErrMiss)

	require.NoError(t, c.Set(ctx, "k1", []byte("v1"), time.Minute))
	got, err := c.Get(ctx, "k1")
	require.NoError(t, err)
	assert.Equal(t, []byte("v1"), got)
}

func TestRedisCacheTTL(t *testing.T) {
	ctx := context.Background()
	c, mr := newRedisCache(t)
	defer c.Close()

	require.NoError(t, c.Set(ctx, "k1", []byte("v1"), 5*time.Minute))
	mr.FastForward(6 * time.Minute)

	_, err := c.Get(ctx, "k1")
	assert.ErrorIs(t, err, ErrMiss)
}

func TestRedisCacheInvalidatePrefix(t *testing.T) {
	ctx := context.Background()
	c, _ := newRedisCache(t)
	defer c.Close()

	require.NoError(t, c.Set(ctx, "mem:v1:aaaa:search:1", []byte("x"), time.Minute))
	require.NoError(t, c.Set(ctx, "mem:v1:aaaa:id:2", []byte("y"), time.Minute))
	require.NoError(t, c.Set(ctx, "mem:v1:bbbb:search:3", []byte("z"), time.Minute))

	require.NoError(t, c.InvalidatePrefix(ctx, "mem:v1:aaaa:"))

	_, err := c.Get(ctx, "mem:v1:aaaa:search:1")
	assert.ErrorIs(t, err, ErrMiss)
	_, err = c.Get(ctx, "mem:v1:bbbb:search:3")
	assert.NoError(t, err)
}
