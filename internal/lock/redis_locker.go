// Package lock implements the booking core's distributed advisory lock
// against Redis: SET NX EX to acquire, a Lua compare-and-delete to
// release, a Lua compare-and-expire to extend (SPEC_FULL §4.1).
//
// The original Python source's release_lock is a bare DELETE, which lets
// a second holder's lock be deleted by a first holder whose TTL already
// lapsed. The spec requires compare-and-delete; this is the one place
// this rewrite deliberately improves on the source rather than copying it
// (see DESIGN.md, Open Question 2).
package lock

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"time"

	"github.com/evently/bookings-core/internal/domain"
	"github.com/redis/go-redis/v9"
)

const pollInterval = 100 * time.Millisecond

var releaseScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
else
	return 0
end
`)

var extendScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("pexpire", KEYS[1], ARGV[2])
else
	return 0
end
`)

type RedisLocker struct {
	client *redis.Client
}

func NewRedisLocker(client *redis.Client) *RedisLocker {
	return &RedisLocker{client: client}
}

var _ domain.Locker = (*RedisLocker)(nil)

func newToken() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

func (l *RedisLocker) Acquire(ctx context.Context, key string, holdTTL, waitBudget time.Duration) (string, error) {
	token, err := newToken()
	if err != nil {
		return "", err
	}

	deadline := time.Now().Add(waitBudget)
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		ok, err := l.client.SetNX(ctx, key, token, holdTTL).Result()
		if err != nil {
			return "", err
		}
		if ok {
			return token, nil
		}

		if time.Now().After(deadline) {
			return "", domain.ErrLockTimeout
		}

		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-ticker.C:
		}
	}
}

func (l *RedisLocker) Release(ctx context.Context, key, token string) error {
	res, err := releaseScript.Run(ctx, l.client, []string{key}, token).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil
		}
		return err
	}
	// A release after the TTL already expired (res == 0) is a no-op, per
	// the idempotent-release contract in SPEC_FULL §4.1.
	_ = res
	return nil
}

func (l *RedisLocker) Extend(ctx context.Context, key, token string, additionalTTL time.Duration) error {
	_, err := extendScript.Run(ctx, l.client, []string{key}, token, additionalTTL.Milliseconds()).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return err
	}
	return nil
}
