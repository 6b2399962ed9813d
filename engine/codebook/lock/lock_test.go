package lock

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/compozy/codebook/pkg/logger"
)

func newTestContext(t *testing.T) context.Context {
	t.Helper()
	return logger.ContextWithLogger(t.Context(), logger.NewForTests())
}

func setupRedis(t *testing.T) (*miniredis.Miniredis, *RedisLocker) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	locker, err := NewRedisLocker(client, "")
	require.NoError(t, err)
	return mr, locker
}

func TestRedisLocker(t *testing.T) {
	t.Run("Should grant the lock to a single holder", func(t *testing.T) {
		ctx := newTestContext(t)
		mr, locker := setupRedis(t)
		held, err := locker.Acquire(ctx, "springfield_il", time.Minute)
		require.NoError(t, err)
		assert.Equal(t, "springfield_il", held.Resource())
		assert.True(t, mr.Exists("codebook:lock:springfield_il"))

		_, err = locker.Acquire(ctx, "springfield_il", time.Minute)
		assert.ErrorIs(t, err, ErrNotAcquired)

		require.NoError(t, held.Release(ctx))
		assert.False(t, mr.Exists("codebook:lock:springfield_il"))
		again, err := locker.Acquire(ctx, "springfield_il", time.Minute)
		require.NoError(t, err)
		require.NoError(t, again.Release(ctx))
	})

	t.Run("Should let a new holder in after expiry and keep the stale holder out", func(t *testing.T) {
		ctx := newTestContext(t)
		mr, locker := setupRedis(t)
		stale, err := locker.Acquire(ctx, "springfield_il", time.Second)
		require.NoError(t, err)
		mr.FastForward(2 * time.Second)

		fresh, err := locker.Acquire(ctx, "springfield_il", time.Minute)
		require.NoError(t, err)
		assert.ErrorIs(t, stale.Release(ctx), ErrNotHeld)
		assert.True(t, mr.Exists("codebook:lock:springfield_il"))
		require.NoError(t, fresh.Release(ctx))
	})

	t.Run("Should extend the expiry of a held lock on refresh", func(t *testing.T) {
		ctx := newTestContext(t)
		mr, locker := setupRedis(t)
		held, err := locker.Acquire(ctx, "springfield_il", time.Second)
		require.NoError(t, err)
		mr.FastForward(500 * time.Millisecond)
		require.NoError(t, held.Refresh(ctx, time.Minute))
		assert.Equal(t, time.Minute, mr.TTL("codebook:lock:springfield_il"))
		mr.FastForward(2 * time.Second)

		_, err = locker.Acquire(ctx, "springfield_il", time.Minute)
		assert.ErrorIs(t, err, ErrNotAcquired)
		require.NoError(t, held.Release(ctx))
	})

	t.Run("Should refuse to refresh an expired or taken over lock", func(t *testing.T) {
		ctx := newTestContext(t)
		mr, locker := setupRedis(t)
		stale, err := locker.Acquire(ctx, "springfield_il", time.Second)
		require.NoError(t, err)
		mr.FastForward(2 * time.Second)
		assert.ErrorIs(t, stale.Refresh(ctx, time.Minute), ErrNotHeld)

		fresh, err := locker.Acquire(ctx, "springfield_il", time.Second)
		require.NoError(t, err)
		assert.ErrorIs(t, stale.Refresh(ctx, time.Minute), ErrNotHeld)
		assert.Equal(t, time.Second, mr.TTL("codebook:lock:springfield_il"))
		require.NoError(t, fresh.Release(ctx))
	})

	t.Run("Should apply a custom prefix", func(t *testing.T) {
		ctx := newTestContext(t)
		mr := miniredis.RunT(t)
		client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
		defer client.Close()
		locker, err := NewRedisLocker(client, "test:")
		require.NoError(t, err)
		held, err := locker.Acquire(ctx, "doc", 0)
		require.NoError(t, err)
		assert.True(t, mr.Exists("test:doc"))
		assert.Equal(t, DefaultTTL, mr.TTL("test:doc"))
		require.NoError(t, held.Release(ctx))
	})

	t.Run("Should open a locker from a redis URL", func(t *testing.T) {
		ctx := newTestContext(t)
		mr := miniredis.RunT(t)
		locker, closeFn, err := Open(ctx, "redis://"+mr.Addr(), "")
		require.NoError(t, err)
		defer func() { _ = closeFn() }()
		held, err := locker.Acquire(ctx, "doc", time.Minute)
		require.NoError(t, err)
		require.NoError(t, held.Release(ctx))
	})

	t.Run("Should reject a nil client and a bad URL", func(t *testing.T) {
		_, err := NewRedisLocker(nil, "")
		assert.Error(t, err)
		_, _, err = Open(newTestContext(t), "://bad", "")
		assert.Error(t, err)
	})
}

func TestLocalLocker(t *testing.T) {
	t.Run("Should be exclusive until released", func(t *testing.T) {
		ctx := newTestContext(t)
		locker := NewLocalLocker()
		held, err := locker.Acquire(ctx, "doc", time.Minute)
		require.NoError(t, err)
		_, err = locker.Acquire(ctx, "doc", time.Minute)
		assert.ErrorIs(t, err, ErrNotAcquired)
		_, err = locker.Acquire(ctx, "other", time.Minute)
		assert.NoError(t, err)
		require.NoError(t, held.Release(ctx))
		assert.ErrorIs(t, held.Release(ctx), ErrNotHeld)
	})

	t.Run("Should expire holders after their ttl", func(t *testing.T) {
		ctx := newTestContext(t)
		locker := NewLocalLocker()
		now := time.Unix(0, 0)
		locker.now = func() time.Time { return now }
		stale, err := locker.Acquire(ctx, "doc", time.Second)
		require.NoError(t, err)
		now = now.Add(2 * time.Second)
		fresh, err := locker.Acquire(ctx, "doc", time.Second)
		require.NoError(t, err)
		assert.ErrorIs(t, stale.Release(ctx), ErrNotHeld)
		assert.NoError(t, fresh.Release(ctx))
	})

	t.Run("Should keep a refreshed holder exclusive past its first ttl", func(t *testing.T) {
		ctx := newTestContext(t)
		locker := NewLocalLocker()
		now := time.Unix(0, 0)
		locker.now = func() time.Time { return now }
		held, err := locker.Acquire(ctx, "doc", time.Second)
		require.NoError(t, err)
		now = now.Add(800 * time.Millisecond)
		require.NoError(t, held.Refresh(ctx, time.Second))
		now = now.Add(800 * time.Millisecond)
		_, err = locker.Acquire(ctx, "doc", time.Second)
		assert.ErrorIs(t, err, ErrNotAcquired)

		now = now.Add(time.Second)
		assert.ErrorIs(t, held.Refresh(ctx, time.Second), ErrNotHeld)
	})
}
