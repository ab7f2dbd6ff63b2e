package locks

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalManagerAcquireRelease(t *testing.T) {
	ctx := context.Background()
	m := NewLocalManager()

	ok, err := m.TryAcquire(ctx, "lock:a", "holder-1", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = m.TryAcquire(ctx, "lock:a", "holder-2", time.Minute)
	require.NoError(t, err)
	assert.False(t, ok, "held lock refuses another holder")

	// Same holder re-enters.
	ok, err = m.TryAcquire(ctx, "lock:a", "holder-1", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, m.Release(ctx, "lock:a", "holder-1"))
	ok, err = m.TryAcquire(ctx, "lock:a", "holder-2", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestLocalManagerReleaseWrongHolder(t *testing.T) {
	ctx := context.Background()
	m := NewLocalManager()

	ok, _ := m.TryAcquire(ctx, "lock:a", "holder-1", time.Minute)
	require.True(t, ok)

	// A stranger's release is a no-op.
	require.NoError(t, m.Release(ctx, "lock:a", "holder-2"))
	ok, err := m.TryAcquire(ctx, "lock:a", "holder-3", time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestLocalManagerTTLExpiry(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	m := NewLocalManagerWithClock(func() time.Time { return now })

	ok, _ := m.TryAcquire(ctx, "lock:a", "holder-1", 30*time.Second)
	require.True(t, ok)

	now = now.Add(31 * time.Second)
	ok, err := m.TryAcquire(ctx, "lock:a", "holder-2", 30*time.Second)
	require.NoError(t, err)
	assert.True(t, ok, "expired lock is free for the taking")
}

func TestWithLock(t *testing.T) {
	ctx := context.Background()
	m := NewLocalManager()

	ran := false
	err := WithLock(ctx, m, "lock:a", "holder-1", time.Minute, func(ctx context.Context) error {
		ran = true
		// The lock is held while fn runs.
		ok, err := m.TryAcquire(ctx, "lock:a", "other", time.Minute)
		require.NoError(t, err)
		assert.False(t, ok)
		return nil
	})
	require.NoError(t, err)
	assert.True(t, ran)

	// Released afterwards.
	ok, err := m.TryAcquire(ctx, "lock:a", "other", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestWithLockContended(t *testing.T) {
	ctx := context.Background()
	m := NewLocalManager()

	ok, _ := m.TryAcquire(ctx, "lock:a", "other", time.Minute)
	require.True(t, ok)

	err := WithLock(ctx, m, "lock:a", "holder-1", time.Minute, func(ctx context.Context) error {
		t.Fatal("fn must not run while contended")
		return nil
	})
	assert.ErrorIs(t, err, ErrContended)
}

func TestWithLockReleasesOnError(t *testing.T) {
	ctx := context.Background()
	m := NewLocalManager()
	boom := errors.New("boom")

	err := WithLock(ctx, m, "lock:a", "holder-1", time.Minute, func(ctx context.Context) error {
		return boom
	})
	assert.ErrorIs(t, err, boom)

	ok, err := m.TryAcquire(ctx, "lock:a", "other", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
}

func newRedisManager(t *testing.T) (*RedisManager, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return NewRedisManager(client, nil), mr
}

func TestRedisManagerAcquireRelease(t *testing.T) {
	ctx := context.Background()
	m, _ := newRedisManager(t)
	defer m.Close()

	ok, err := m.TryAcquire(ctx, "lock:a", "holder-1", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = m.TryAcquire(ctx, "lock:a", "holder-2", time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = m.TryAcquire(ctx, "lock:a", "holder-1", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok, "same holder re-enters")

	require.NoError(t, m.Release(ctx, "lock:a", "holder-1"))
	ok, err = m.TryAcquire(ctx, "lock:a", "holder-2", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestRedisManagerReleaseWrongHolder(t *testing.T) {
	ctx := context.Background()
	m, _ := newRedisManager(t)
	defer m.Close()

	ok, _ := m.TryAcquire(ctx, "lock:a", "holder-1", time.Minute)
	require.True(t, ok)

	require.NoError(t, m.Release(ctx, "lock:a", "holder-2"))
	ok, err := m.TryAcquire(ctx, "lock:a", "holder-3", time.Minute)
	require.NoError(t, err)
	assert.False(t, ok, "release by a non-owner must not free the lock")
}

func TestRedisManagerTTLExpiry(t *testing.T) {
	ctx := context.Background()
	m, mr := newRedisManager(t)
	defer m.Close()

	ok, _ := m.TryAcquire(ctx, "lock:a", "holder-1", 30*time.Second)
	require.True(t, ok)

	mr.FastForward(31 * time.Second)
	ok, err := m.TryAcquire(ctx, "lock:a", "holder-2", 30*time.Second)
	require.NoError(t, err)
	assert.True(t, ok)
}
