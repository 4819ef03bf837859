package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupRedisLimiter(t *testing.T) (*RedisLimiter, *miniredis.Miniredis) {
	t.Helper()

	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	return NewRedisLimiter(client), mr
}

func TestRedisLimiterFixedWindow(t *testing.T) {
	l, mr := setupRedisLimiter(t)
	ctx := context.Background()

	d, err := l.Allow(ctx, "sync:u1", 2, time.Second)
	require.NoError(t, err)
	assert.True(t, d.OK)
	assert.Equal(t, 1, d.Remaining)

	d, err = l.Allow(ctx, "sync:u1", 2, time.Second)
	require.NoError(t, err)
	assert.True(t, d.OK)
	assert.Equal(t, 0, d.Remaining)

	d, err = l.Allow(ctx, "sync:u1", 2, time.Second)
	require.NoError(t, err)
	assert.False(t, d.OK)

	// the rejected hit did not increment the counter
	val, err := mr.Get(KeyPrefix + "sync:u1")
	require.NoError(t, err)
	assert.Equal(t, "2", val)

	d, err = l.Allow(ctx, "sync:u2", 2, time.Second)
	require.NoError(t, err)
	assert.True(t, d.OK)

	mr.FastForward(time.Second)
	d, err = l.Allow(ctx, "sync:u1", 2, time.Second)
	require.NoError(t, err)
	assert.True(t, d.OK, "expired window starts over")
	assert.Equal(t, 1, d.Remaining)
}

func TestRedisLimiterSetsExpiry(t *testing.T) {
	l, mr := setupRedisLimiter(t)

	_, err := l.Allow(context.Background(), "backfill:u1", 2, time.Minute)
	require.NoError(t, err)

	assert.Equal(t, time.Minute, mr.TTL(KeyPrefix+"backfill:u1"))
}

func TestRedisLimiterMatchesMemoryLimiter(t *testing.T) {
	redisLimiter, _ := setupRedisLimiter(t)
	memLimiter, _ := newTestLimiter(time.Unix(1_700_000_000, 0))
	ctx := context.Background()

	for i := range 6 {
		want, err := memLimiter.Allow(ctx, "k", 4, time.Minute)
		require.NoError(t, err)
		got, err := redisLimiter.Allow(ctx, "k", 4, time.Minute)
		require.NoError(t, err)

		assert.Equal(t, want.OK, got.OK, "hit %d", i+1)
		assert.Equal(t, want.Remaining, got.Remaining, "hit %d", i+1)
	}
}

func TestRedisLimiterUnavailable(t *testing.T) {
	l, mr := setupRedisLimiter(t)
	mr.Close()

	_, err := l.Allow(context.Background(), "k", 1, time.Second)
	assert.Error(t, err)
}
