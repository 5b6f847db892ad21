// Package sweep runs the two background ticker loops that keep booking
// holds and waitlist notification windows bounded (SPEC_FULL §4.3/§4.4
// "expire" operations), using a ctx-bound ticker that runs once
// immediately on start.
package sweep

import (
	"context"
	"time"

	"github.com/evently/bookings-core/internal/platform/logger"
	"github.com/rs/zerolog"
)

type BookingExpirer interface {
	ExpirePending(ctx context.Context) (int, error)
}

type WaitlistExpirer interface {
	ExpireNotified(ctx context.Context) (int, error)
}

// StartExpirePending sweeps PENDING bookings whose hold window has
// elapsed, releasing reserved capacity and notifying the waitlist.
func StartExpirePending(ctx context.Context, svc BookingExpirer, interval time.Duration) {
	go func() {
		log := logger.Logger.With().Str("component", "booking_expiry_sweep").Logger()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		runOnce(ctx, log, "bookings", func() (int, error) { return svc.ExpirePending(ctx) })

		for {
			select {
			case <-ctx.Done():
				log.Info().Msg("stopped")
				return
			case <-ticker.C:
				runOnce(ctx, log, "bookings", func() (int, error) { return svc.ExpirePending(ctx) })
			}
		}
	}()
}

// StartExpireNotified sweeps NOTIFIED waitlist entries whose
// notification window has elapsed.
func StartExpireNotified(ctx context.Context, svc WaitlistExpirer, interval time.Duration) {
	go func() {
		log := logger.Logger.With().Str("component", "waitlist_expiry_sweep").Logger()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		runOnce(ctx, log, "waitlist entries", func() (int, error) { return svc.ExpireNotified(ctx) })

		for {
			select {
			case <-ctx.Done():
				log.Info().Msg("stopped")
				return
			case <-ticker.C:
				runOnce(ctx, log, "waitlist entries", func() (int, error) { return svc.ExpireNotified(ctx) })
			}
		}
	}()
}

func runOnce(_ context.Context, log zerolog.Logger, noun string, fn func() (int, error)) {
	n, err := fn()
	if err != nil {
		log.Warn().Err(err).Msg(noun + " expiry sweep failed")
		return
	}
	if n > 0 {
		log.Info().Int("expired", n).Msg(noun + " expired")
	}
}
