// Package ratelimit implements a simple fixed-window limiter backed by
// Redis INCR+EXPIRE.
package ratelimit

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

type Limiter struct {
	client *redis.Client
}

func New(client *redis.Client) *Limiter {
	return &Limiter{client: client}
}

// Allow increments the per-key counter in the current window, setting
// the window's expiry on the first hit. Fails open (allows the request)
// on a Redis error so Redis unavailability never blocks the API.
func (l *Limiter) Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error) {
	count, err := l.client.Incr(ctx, "ratelimit:"+key).Result()
	if err != nil {
		return true, nil
	}
	if count == 1 {
		_ = l.client.Expire(ctx, "ratelimit:"+key, window).Err()
	}
	return count <= int64(limit), nil
}

// Ping satisfies rest.Pinger for the /readyz probe.
func (l *Limiter) Ping(ctx context.Context) error {
	return l.client.Ping(ctx).Err()
}
