package waitlist

import (
	"context"
	"fmt"
	"time"

	"github.com/evently/bookings-core/internal/domain"
	"github.com/evently/bookings-core/internal/lock"
	"github.com/evently/bookings-core/internal/platform/clock"
	"github.com/google/uuid"
)

// Service orchestrates locking and the capacity ledger around the
// Waitlist Repository (SPEC_FULL §4.4), grounded on
// original_source/bookings_service/app/services/waitlist_service.py.
type Service struct {
	repo   domain.WaitlistRepository
	ledger domain.CapacityLedger
	locker domain.Locker
	clock  clock.Clock

	notificationWindow time.Duration
	lockHoldTTL         time.Duration
	lockWaitBudget      time.Duration
}

func NewService(repo domain.WaitlistRepository, ledger domain.CapacityLedger, locker domain.Locker, c clock.Clock, notificationWindow, lockHoldTTL, lockWaitBudget time.Duration) *Service {
	return &Service{
		repo: repo, ledger: ledger, locker: locker, clock: c,
		notificationWindow: notificationWindow, lockHoldTTL: lockHoldTTL, lockWaitBudget: lockWaitBudget,
	}
}

type JoinInput struct {
	UserID    uuid.UUID
	EventID   uuid.UUID
	Quantity  int
	Notes     string
	IPAddress string
	UserAgent string
}

// Join implements SPEC_FULL §4.4 "join", grounded on join_waitlist.
func (s *Service) Join(ctx context.Context, in JoinInput) (domain.WaitlistEntry, error) {
	if in.Quantity < 1 || in.Quantity > 10 {
		return domain.WaitlistEntry{}, domain.ErrInvalidQuantity
	}

	lockKey := fmt.Sprintf("waitlist:event:%s", in.EventID)

	var joined domain.WaitlistEntry
	err := lock.Guard(ctx, s.locker, lockKey, s.lockHoldTTL, s.lockWaitBudget, func(ctx context.Context) error {
		if _, err := s.repo.GetActiveForUserEvent(ctx, in.UserID, in.EventID); err == nil {
			return domain.ErrDuplicateActiveEntry
		} else if err != domain.ErrWaitlistNotFound {
			return err
		}

		availability, err := s.ledger.Get(ctx, in.EventID)
		if err != nil {
			return domain.ErrEventNotFound
		}
		if availability.Available >= in.Quantity {
			return domain.ErrHasAvailability
		}

		e := domain.WaitlistEntry{
			ID:       uuid.New(),
			UserID:   in.UserID,
			EventID:  in.EventID,
			Quantity: in.Quantity,
			Notes:    in.Notes,
		}
		joined, err = s.repo.Join(ctx, e)
		return err
	})
	if err != nil {
		return domain.WaitlistEntry{}, err
	}
	return joined, nil
}

// Cancel implements SPEC_FULL §4.4 "cancel".
func (s *Service) Cancel(ctx context.Context, entryID uuid.UUID, callerUserID *uuid.UUID, isAdmin bool) (domain.WaitlistEntry, error) {
	lockKey := fmt.Sprintf("waitlist:cancel:%s", entryID)

	var cancelled domain.WaitlistEntry
	err := lock.Guard(ctx, s.locker, lockKey, s.lockHoldTTL, s.lockWaitBudget, func(ctx context.Context) error {
		e, err := s.repo.GetByID(ctx, entryID)
		if err != nil {
			return err
		}
		if !isAdmin && callerUserID != nil && e.UserID != *callerUserID {
			return domain.ErrForbidden
		}
		cancelled, err = s.repo.Cancel(ctx, entryID)
		return err
	})
	if err != nil {
		return domain.WaitlistEntry{}, err
	}
	return cancelled, nil
}

// NotifyNext implements SPEC_FULL §4.4 "notify_next" and satisfies
// booking.WaitlistNotifier, called by the Booking Service after a
// cancel/expire frees capacity.
func (s *Service) NotifyNext(ctx context.Context, eventID uuid.UUID, availableQty int) error {
	lockKey := fmt.Sprintf("waitlist:notify:%s", eventID)
	return lock.Guard(ctx, s.locker, lockKey, s.lockHoldTTL, s.lockWaitBudget, func(ctx context.Context) error {
		_, err := s.repo.NotifyNext(ctx, eventID, availableQty, s.notificationWindow, s.clock.Now())
		return err
	})
}

// ExpireNotified implements SPEC_FULL §4.4 "expire" (sweeper entry point).
func (s *Service) ExpireNotified(ctx context.Context) (int, error) {
	expired, err := s.repo.ExpireNotified(ctx, s.clock.Now())
	if err != nil {
		return 0, err
	}
	return len(expired), nil
}

func (s *Service) GetByID(ctx context.Context, entryID uuid.UUID, callerUserID *uuid.UUID, isAdmin bool) (domain.WaitlistEntry, error) {
	e, err := s.repo.GetByID(ctx, entryID)
	if err != nil {
		return domain.WaitlistEntry{}, err
	}
	if !isAdmin && callerUserID != nil && e.UserID != *callerUserID {
		return domain.WaitlistEntry{}, domain.ErrForbidden
	}
	return e, nil
}

func (s *Service) GetAuditLog(ctx context.Context, entryID uuid.UUID, callerUserID *uuid.UUID, isAdmin bool) ([]domain.WaitlistAuditLog, error) {
	if _, err := s.GetByID(ctx, entryID, callerUserID, isAdmin); err != nil {
		return nil, err
	}
	return s.repo.GetAuditLog(ctx, entryID)
}

func (s *Service) ListForUser(ctx context.Context, userID uuid.UUID, limit int, cursor *domain.KeysetCursor) ([]domain.WaitlistEntry, *domain.KeysetCursor, error) {
	return s.repo.ListForUser(ctx, userID, limit, cursor)
}

// ListForEvent is the admin read (SPEC_FULL §4.4 supplement).
func (s *Service) ListForEvent(ctx context.Context, eventID uuid.UUID, limit int, cursor *domain.KeysetCursor) ([]domain.WaitlistEntry, *domain.KeysetCursor, error) {
	return s.repo.ListForEvent(ctx, eventID, limit, cursor)
}

func (s *Service) Position(ctx context.Context, entryID uuid.UUID) (int, error) {
	return s.repo.Position(ctx, entryID)
}

// Eligibility implements SPEC_FULL §4.4 "eligibility", grounded on
// check_waitlist_eligibility.
type Eligibility struct {
	CanJoin bool
	EventID uuid.UUID
	Reason  string
}

func (s *Service) CheckEligibility(ctx context.Context, eventID, userID uuid.UUID, requestedQty int) (Eligibility, error) {
	availability, err := s.ledger.Get(ctx, eventID)
	if err != nil {
		return Eligibility{EventID: eventID, CanJoin: false}, nil
	}

	if availability.Available >= requestedQty {
		return Eligibility{EventID: eventID, CanJoin: false, Reason: "event has available capacity, no need to join waitlist"}, nil
	}

	existing, err := s.repo.GetActiveForUserEvent(ctx, userID, eventID)
	if err == nil {
		reason := "you already have a pending waitlist entry for this event"
		if existing.Status == domain.WaitlistNotified {
			reason = "you have already been notified about availability for this event"
		}
		return Eligibility{EventID: eventID, CanJoin: false, Reason: reason}, nil
	}
	if err != domain.ErrWaitlistNotFound {
		return Eligibility{}, err
	}

	return Eligibility{EventID: eventID, CanJoin: true}, nil
}
