package lock

import (
	"context"
	"time"

	"github.com/evently/bookings-core/internal/domain"
	"github.com/evently/bookings-core/internal/platform/logger"
)

// Guard acquires key, runs fn, and releases on every exit path — the
// "scoped-acquisition-with-guaranteed-release" primitive called for in
// SPEC_FULL §9 (Design Notes, "Async and scoped resources").
func Guard(ctx context.Context, l domain.Locker, key string, holdTTL, waitBudget time.Duration, fn func(ctx context.Context) error) error {
	token, err := l.Acquire(ctx, key, holdTTL, waitBudget)
	if err != nil {
		return err
	}
	defer func() {
		if rerr := l.Release(ctx, key, token); rerr != nil {
			logger.Logger.Warn().Err(rerr).Str("lock_key", key).Msg("lock release failed")
		}
	}()
	return fn(ctx)
}
