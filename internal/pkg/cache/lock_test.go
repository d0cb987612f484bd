package cache

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vdcapital/billing/internal/pkg/env"
)

func newTestRedis(t *testing.T) *redis.Client {
	t.Helper()

	c := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%s", env.GetEnv("CACHE_HOST", "localhost"), env.GetEnv("CACHE_PORT", "6379")),
		Password: env.GetEnv("CACHE_PASSWORD", ""),
		DB:       15,
	})
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := c.Ping(ctx).Err(); err != nil {
		_ = c.Close()
		t.Skipf("Skipping Redis-dependent test: %v", err)
	}
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestLocker_TryLock(t *testing.T) {
	c := newTestRedis(t)
	ctx := context.Background()
	key := "test:lock:" + uuid.NewString()
	t.Cleanup(func() { c.Del(context.Background(), key) })

	locker := NewLocker(c)

	release, ok, err := locker.TryLock(ctx, key, time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	_, ok, err = locker.TryLock(ctx, key, time.Minute)
	require.NoError(t, err)
	assert.False(t, ok, "second caller must not get the lock")

	release()

	again, ok, err := locker.TryLock(ctx, key, time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
	again()
}

func TestLocker_ReleaseLeavesForeignToken(t *testing.T) {
	c := newTestRedis(t)
	ctx := context.Background()
	key := "test:lock:" + uuid.NewString()
	t.Cleanup(func() { c.Del(context.Background(), key) })

	locker := NewLocker(c)
	release, ok, err := locker.TryLock(ctx, key, time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	// Simulate expiry followed by another holder.
	require.NoError(t, c.Set(ctx, key, "someone-else", time.Minute).Err())
	release()

	val, err := c.Get(ctx, key).Result()
	require.NoError(t, err)
	assert.Equal(t, "someone-else", val)
}

func TestLocker_ReportsBackendErrors(t *testing.T) {
	c := redis.NewClient(&redis.Options{Addr: "127.0.0.1:1", DialTimeout: 100 * time.Millisecond, MaxRetries: -1})
	t.Cleanup(func() { _ = c.Close() })

	_, ok, err := NewLocker(c).TryLock(context.Background(), "k", time.Second)
	assert.Error(t, err)
	assert.False(t, ok)
}
