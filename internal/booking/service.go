// Package booking implements the Booking Service (SPEC_FULL §4.3):
// create/confirm/cancel/expire, orchestrating the Locker, Capacity
// Ledger, and Booking Repository. Grounded almost line for line on
// original_source/bookings_service/app/services/booking_service.py.
package booking

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/evently/bookings-core/internal/domain"
	"github.com/evently/bookings-core/internal/lock"
	"github.com/evently/bookings-core/internal/platform/clock"
	"github.com/evently/bookings-core/internal/platform/logger"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
)

// txLedger and txRepo are the Postgres-backed repositories' optional
// transactional extensions (internal/ledger.Postgres and
// internal/booking.Postgres). Create type-asserts for them so reserve
// and insert run inside one shared transaction (SPEC_FULL §4.3 step
// 4-6 / §5); in-memory test doubles don't implement them and fall back
// to the two-step form, which is safe there since those fakes have no
// real transaction boundary to leak across.
type txLedger interface {
	BeginTx(ctx context.Context) (pgx.Tx, error)
	ReserveTx(ctx context.Context, tx pgx.Tx, eventID uuid.UUID, qty int) (domain.EventAvailability, error)
	InvalidateCache(ctx context.Context, eventID uuid.UUID)
}

type txRepo interface {
	CreateTx(ctx context.Context, tx pgx.Tx, b domain.Booking) (domain.Booking, error)
}

// WaitlistNotifier is implemented by the waitlist service; the booking
// service invokes it best-effort on cancel/expire (SPEC_FULL §4.3 steps
// cancel.7, expire). Kept as a narrow interface to avoid a dependency
// cycle between the booking and waitlist packages.
type WaitlistNotifier interface {
	NotifyNext(ctx context.Context, eventID uuid.UUID, availableQty int) error
}

// Service orchestrates locking and the capacity ledger around the
// Booking Repository. Outbound notifications (BookingCreated/Confirmed/
// Cancelled/Expired, plus the confirmation email job) are outbox-backed
// and enqueued by the repository inside the same transaction as the
// mutation (SPEC_FULL §4.5) — the service layer itself does not publish
// directly, unlike the original Python's best-effort post-commit publish.
type Service struct {
	repo     domain.BookingRepository
	ledger   domain.CapacityLedger
	locker   domain.Locker
	waitlist WaitlistNotifier
	clock    clock.Clock

	holdDuration    time.Duration
	lockHoldTTL     time.Duration
	lockWaitBudget  time.Duration
	defaultCurrency string
}

func NewService(repo domain.BookingRepository, ledger domain.CapacityLedger, locker domain.Locker, waitlist WaitlistNotifier, c clock.Clock, holdDuration, lockHoldTTL, lockWaitBudget time.Duration, defaultCurrency string) *Service {
	return &Service{
		repo: repo, ledger: ledger, locker: locker, waitlist: waitlist, clock: c,
		holdDuration: holdDuration, lockHoldTTL: lockHoldTTL, lockWaitBudget: lockWaitBudget,
		defaultCurrency: defaultCurrency,
	}
}

func generateBookingReference(now time.Time) (string, error) {
	b := make([]byte, 4)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return fmt.Sprintf("BK-%s-%s", now.Format("20060102"), strings.ToUpper(hex.EncodeToString(b))), nil
}

type CreateInput struct {
	UserID    uuid.UUID
	EventID   uuid.UUID
	Quantity  int
	Notes     string
	IPAddress string
	UserAgent string
}

// Create implements SPEC_FULL §4.3 "create".
func (s *Service) Create(ctx context.Context, in CreateInput) (domain.Booking, error) {
	if in.Quantity < 1 || in.Quantity > 10 {
		return domain.Booking{}, domain.ErrInvalidQuantity
	}

	availability, err := s.ledger.Get(ctx, in.EventID)
	if err != nil {
		return domain.Booking{}, domain.ErrEventNotFound
	}

	totalAmount := availability.Price.Mul(decimal.NewFromInt(int64(in.Quantity)))
	now := s.clock.Now()
	expiresAt := now.Add(s.holdDuration)

	ref, err := generateBookingReference(now)
	if err != nil {
		return domain.Booking{}, err
	}

	var created domain.Booking
	lockKey := fmt.Sprintf("booking:event:%s", in.EventID)
	err = lock.Guard(ctx, s.locker, lockKey, s.lockHoldTTL, s.lockWaitBudget, func(ctx context.Context) error {
		b := domain.Booking{
			ID:               uuid.New(),
			UserID:           in.UserID,
			EventID:          in.EventID,
			BookingReference: ref,
			Quantity:         in.Quantity,
			TotalAmount:      totalAmount,
			Currency:         s.defaultCurrency,
			Status:           domain.BookingPending,
			PaymentStatus:    domain.PaymentPending,
			BookingDate:      now,
			ExpiresAt:        &expiresAt,
			Version:          1,
			Notes:            in.Notes,
			IPAddress:        in.IPAddress,
			UserAgent:        in.UserAgent,
			Items: []domain.BookingItem{{
				ID:           uuid.New(),
				PricePerItem: availability.Price,
				Quantity:     in.Quantity,
				TotalPrice:   totalAmount,
			}},
		}

		if tl, ok := s.ledger.(txLedger); ok {
			if tr, ok := s.repo.(txRepo); ok {
				tx, err := tl.BeginTx(ctx)
				if err != nil {
					return err
				}
				defer func() { _ = tx.Rollback(ctx) }()

				if _, err := tl.ReserveTx(ctx, tx, in.EventID, in.Quantity); err != nil {
					return err
				}
				created, err = tr.CreateTx(ctx, tx, b)
				if err != nil {
					return err
				}
				if err := tx.Commit(ctx); err != nil {
					return err
				}
				tl.InvalidateCache(ctx, in.EventID)
				return nil
			}
		}

		if _, err := s.ledger.Reserve(ctx, in.EventID, in.Quantity); err != nil {
			return err
		}
		created, err = s.repo.Create(ctx, b)
		return err
	})
	if err != nil {
		return domain.Booking{}, err
	}

	return created, nil
}

// Confirm implements SPEC_FULL §4.3 "confirm".
func (s *Service) Confirm(ctx context.Context, bookingID uuid.UUID, callerUserID *uuid.UUID, isAdmin bool) (domain.Booking, error) {
	lockKey := fmt.Sprintf("booking:confirm:%s", bookingID)

	var confirmed domain.Booking
	err := lock.Guard(ctx, s.locker, lockKey, s.lockHoldTTL, s.lockWaitBudget, func(ctx context.Context) error {
		b, err := s.repo.GetByID(ctx, bookingID)
		if err != nil {
			return err
		}
		if !isAdmin && callerUserID != nil && b.UserID != *callerUserID {
			return domain.ErrForbidden
		}
		if b.Status != domain.BookingPending {
			return domain.ErrNotPending
		}
		if b.ExpiresAt != nil && s.clock.Now().After(*b.ExpiresAt) {
			// The sweeper may not have gotten to this row yet; expire it
			// here so the caller sees a consistent state, and release its
			// own reserved capacity since the sweeper's WHERE status =
			// 'PENDING' will never select this row again once it's EXPIRED.
			if _, err := s.repo.UpdateStatus(ctx, b.ID, b.UserID, domain.BookingExpired, "Booking hold expired"); err != nil {
				logger.Logger.Warn().Err(err).Msg("inline expire-on-confirm transition failed")
			}
			if _, err := s.ledger.ReleaseReserved(ctx, b.EventID, b.Quantity); err != nil {
				logger.Logger.Warn().Err(err).Msg("inline expire-on-confirm release_reserved failed")
			}
			return domain.ErrBookingExpired
		}

		if _, err := s.ledger.Confirm(ctx, b.EventID, b.Quantity); err != nil {
			return err
		}
		confirmed, err = s.repo.Confirm(ctx, bookingID)
		return err
	})
	if err != nil {
		return domain.Booking{}, err
	}

	return confirmed, nil
}

// Cancel implements SPEC_FULL §4.3 "cancel".
func (s *Service) Cancel(ctx context.Context, bookingID uuid.UUID, callerUserID *uuid.UUID, isAdmin bool, reason string) (domain.Booking, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		reason = "Booking cancelled"
	}

	lockKey := fmt.Sprintf("booking:cancel:%s", bookingID)

	var cancelled domain.Booking
	var oldStatus domain.BookingStatus
	var quantity int
	var eventID uuid.UUID

	err := lock.Guard(ctx, s.locker, lockKey, s.lockHoldTTL, s.lockWaitBudget, func(ctx context.Context) error {
		b, err := s.repo.GetByID(ctx, bookingID)
		if err != nil {
			return err
		}
		if !isAdmin && callerUserID != nil && b.UserID != *callerUserID {
			return domain.ErrForbidden
		}
		if b.Status == domain.BookingCancelled || b.Status == domain.BookingCompleted {
			return domain.ErrNotCancellable
		}

		oldStatus, quantity, eventID = b.Status, b.Quantity, b.EventID

		var actor uuid.UUID
		if callerUserID != nil {
			actor = *callerUserID
		}
		cancelled, err = s.repo.Cancel(ctx, bookingID, actor, reason)
		if err != nil {
			return err
		}

		switch oldStatus {
		case domain.BookingPending:
			_, err = s.ledger.ReleaseReserved(ctx, eventID, quantity)
		case domain.BookingConfirmed:
			_, err = s.ledger.ReleaseConfirmed(ctx, eventID, quantity)
		}
		return err
	})
	if err != nil {
		return domain.Booking{}, err
	}

	if oldStatus == domain.BookingPending || oldStatus == domain.BookingConfirmed {
		if s.waitlist != nil {
			if err := s.waitlist.NotifyNext(ctx, eventID, quantity); err != nil {
				logger.Logger.Warn().Err(err).Str("event_id", eventID.String()).Msg("waitlist notify_next failed after cancel")
			}
		}
	}

	return cancelled, nil
}

// ExpirePending implements SPEC_FULL §4.3 "expire" (sweeper entry point).
func (s *Service) ExpirePending(ctx context.Context) (int, error) {
	now := s.clock.Now()
	expired, err := s.repo.ExpirePending(ctx, now)
	if err != nil {
		return 0, err
	}

	affectedEvents := map[uuid.UUID]int{}
	for _, b := range expired {
		if _, err := s.ledger.ReleaseReserved(ctx, b.EventID, b.Quantity); err != nil {
			logger.Logger.Warn().Err(err).Str("booking_id", b.ID.String()).Msg("release_reserved failed during expiry sweep")
			continue
		}
		affectedEvents[b.EventID] += b.Quantity
	}

	if s.waitlist != nil {
		for eventID, qty := range affectedEvents {
			if err := s.waitlist.NotifyNext(ctx, eventID, qty); err != nil {
				logger.Logger.Warn().Err(err).Str("event_id", eventID.String()).Msg("waitlist notify_next failed after expiry")
			}
		}
	}

	return len(expired), nil
}

func (s *Service) GetByID(ctx context.Context, bookingID uuid.UUID, callerUserID *uuid.UUID, isAdmin bool) (domain.Booking, error) {
	b, err := s.repo.GetByID(ctx, bookingID)
	if err != nil {
		return domain.Booking{}, err
	}
	if !isAdmin && callerUserID != nil && b.UserID != *callerUserID {
		return domain.Booking{}, domain.ErrForbidden
	}
	return b, nil
}

func (s *Service) ListForUser(ctx context.Context, userID uuid.UUID, statuses []domain.BookingStatus, limit int, cursor *domain.KeysetCursor) ([]domain.Booking, *domain.KeysetCursor, error) {
	return s.repo.ListForUser(ctx, userID, statuses, limit, cursor)
}

func (s *Service) GetAuditLog(ctx context.Context, bookingID uuid.UUID, callerUserID *uuid.UUID, isAdmin bool) ([]domain.BookingAuditLog, error) {
	if _, err := s.GetByID(ctx, bookingID, callerUserID, isAdmin); err != nil {
		return nil, err
	}
	return s.repo.GetAuditLog(ctx, bookingID)
}

// Admin operations (SPEC_FULL §4.3 supplement).

func (s *Service) AdminUpdateStatus(ctx context.Context, bookingID, actorID uuid.UUID, to domain.BookingStatus, reason string) (domain.Booking, error) {
	return s.repo.UpdateStatus(ctx, bookingID, actorID, to, reason)
}

func (s *Service) AdminDelete(ctx context.Context, bookingID uuid.UUID) error {
	return s.repo.Delete(ctx, bookingID)
}

func (s *Service) AdminStats(ctx context.Context, periodDays int) (domain.BookingStats, error) {
	return s.repo.Stats(ctx, periodDays)
}

func (s *Service) AdminList(ctx context.Context, statuses []domain.BookingStatus, limit int, cursor *domain.KeysetCursor) ([]domain.Booking, *domain.KeysetCursor, error) {
	return s.repo.ListAdmin(ctx, statuses, limit, cursor)
}
