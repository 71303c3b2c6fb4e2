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

func setupRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, client
}

func TestRedisLimiterBudget(t *testing.T) {
	mr, client := setupRedis(t)
	l := NewRedis(client, "", DefaultConfig())
	ctx := context.Background()
	key := Key("S7", "sess-9")

	for i := 1; i <= 5; i++ {
		d, err := l.Allow(ctx, key)
		require.NoError(t, err)
		assert.True(t, d.Allowed, "attempt %d", i)
	}

	d, err := l.Allow(ctx, key)
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.Greater(t, d.RetryAfter, time.Duration(0))
	assert.LessOrEqual(t, d.RetryAfter, time.Minute)

	mr.FastForward(time.Minute + time.Millisecond)

	d, err = l.Allow(ctx, key)
	require.NoError(t, err)
	assert.True(t, d.Allowed)
	assert.Equal(t, 1, d.Count)
}

func TestRedisLimiterSetsExpiry(t *testing.T) {
	mr, client := setupRedis(t)
	l := NewRedis(client, "rl:", DefaultConfig())

	_, err := l.Allow(context.Background(), "k")
	require.NoError(t, err)
	assert.True(t, mr.Exists("rl:k"))
	assert.Equal(t, time.Minute, mr.TTL("rl:k"))
}

func TestRedisLimiterUnavailable(t *testing.T) {
	client := redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 50 * time.Millisecond,
		MaxRetries:  -1,
	})
	defer client.Close()
	l := NewRedis(client, "", DefaultConfig())

	_, err := l.Allow(context.Background(), "k")
	assert.Error(t, err)
}
