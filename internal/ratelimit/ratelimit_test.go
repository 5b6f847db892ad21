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

func setupTestRedis(t *testing.T) *redis.Client {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return client
}

func TestLimiter_Allow_WithinLimit(t *testing.T) {
	client := setupTestRedis(t)
	l := New(client)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		allowed, err := l.Allow(ctx, "client-a", 5, time.Minute)
		require.NoError(t, err)
		assert.True(t, allowed)
	}
}

func TestLimiter_Allow_ExceedsLimit(t *testing.T) {
	client := setupTestRedis(t)
	l := New(client)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		allowed, err := l.Allow(ctx, "client-b", 3, time.Minute)
		require.NoError(t, err)
		assert.True(t, allowed)
	}

	allowed, err := l.Allow(ctx, "client-b", 3, time.Minute)
	require.NoError(t, err)
	assert.False(t, allowed)
}

func TestLimiter_Allow_KeysAreIndependent(t *testing.T) {
	client := setupTestRedis(t)
	l := New(client)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		allowed, err := l.Allow(ctx, "client-c", 2, time.Minute)
		require.NoError(t, err)
		assert.True(t, allowed)
	}

	allowed, err := l.Allow(ctx, "client-d", 2, time.Minute)
	require.NoError(t, err)
	assert.True(t, allowed)
}

func TestLimiter_Allow_FailsOpenOnClosedClient(t *testing.T) {
	client := setupTestRedis(t)
	l := New(client)
	client.Close()

	allowed, err := l.Allow(context.Background(), "client-e", 1, time.Minute)
	assert.NoError(t, err)
	assert.True(t, allowed, "rate limiter must fail open when redis is unreachable")
}

func TestLimiter_Ping(t *testing.T) {
	client := setupTestRedis(t)
	l := New(client)

	assert.NoError(t, l.Ping(context.Background()))

	client.Close()
	assert.Error(t, l.Ping(context.Background()))
}
