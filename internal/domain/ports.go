package domain

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// KeysetCursor drives cursor-based pagination over created_at/id pairs.
type KeysetCursor struct {
	CreatedAt time.Time `json:"created_at"`
	ID        uuid.UUID `json:"id"`
}

// Locker is a keyed, bounded-wait distributed advisory lock (SPEC_FULL §4.1).
type Locker interface {
	// Acquire sets key to a unique token, expiring after holdTTL, retrying
	// internally until success or waitBudget elapses.
	Acquire(ctx context.Context, key string, holdTTL, waitBudget time.Duration) (token string, err error)
	// Release deletes key only if its current value equals token.
	Release(ctx context.Context, key, token string) error
	// Extend resets key's expiry to additionalTTL from now, only if token still holds it.
	Extend(ctx context.Context, key, token string, additionalTTL time.Duration) error
}

// CapacityLedger owns the counters on EventAvailability (SPEC_FULL §4.2).
// All mutations are transactional and optimistically versioned; a failed
// conditional update surfaces ErrConflict (no internal retry, per
// DESIGN.md Open Question 4).
type CapacityLedger interface {
	Get(ctx context.Context, eventID uuid.UUID) (EventAvailability, error)
	Reserve(ctx context.Context, eventID uuid.UUID, qty int) (EventAvailability, error)
	Confirm(ctx context.Context, eventID uuid.UUID, qty int) (EventAvailability, error)
	ReleaseReserved(ctx context.Context, eventID uuid.UUID, qty int) (EventAvailability, error)
	ReleaseConfirmed(ctx context.Context, eventID uuid.UUID, qty int) (EventAvailability, error)
	// Create is idempotent (no-op if the row already exists); used by the
	// catalog event subscriber, which may see EventCreated redelivered.
	Create(ctx context.Context, eventID uuid.UUID, total int, price string, name string) (EventAvailability, error)
	// CreateCapacity is Create's strict counterpart for the admin
	// capacity endpoint (SPEC_FULL §4.2 table): it surfaces
	// ErrLedgerAlreadyExists instead of silently returning the existing
	// row when eventID already has a ledger entry.
	CreateCapacity(ctx context.Context, eventID uuid.UUID, total int, price string, name string) (EventAvailability, error)
	UpdateTotal(ctx context.Context, eventID uuid.UUID, newTotal int) (EventAvailability, error)
	// UpdateDetails re-syncs total capacity alongside price/name from an
	// upstream catalog update (SPEC_FULL §4.5 "EventUpdated ⇒ update_total
	// and refresh price/name"); UpdateTotal alone only ever changes the
	// total, for the admin capacity endpoint.
	UpdateDetails(ctx context.Context, eventID uuid.UUID, newTotal int, price, name string) (EventAvailability, error)
	Delete(ctx context.Context, eventID uuid.UUID) error
}

// BookingRepository is transactional CRUD for booking aggregates.
type BookingRepository interface {
	GetByID(ctx context.Context, id uuid.UUID) (Booking, error)
	GetAuditLog(ctx context.Context, bookingID uuid.UUID) ([]BookingAuditLog, error)
	ListForUser(ctx context.Context, userID uuid.UUID, statuses []BookingStatus, limit int, cursor *KeysetCursor) ([]Booking, *KeysetCursor, error)
	ListAdmin(ctx context.Context, statuses []BookingStatus, limit int, cursor *KeysetCursor) ([]Booking, *KeysetCursor, error)
	Stats(ctx context.Context, periodDays int) (BookingStats, error)

	// Create inserts a PENDING booking + items + CREATE audit row in its
	// own transaction; the booking service calls it after a separate
	// ledger Reserve when the repositories offer no shared-transaction
	// extension (see internal/booking/service.go).
	Create(ctx context.Context, b Booking) (Booking, error)
	Confirm(ctx context.Context, bookingID uuid.UUID) (Booking, error)
	Cancel(ctx context.Context, bookingID, actorID uuid.UUID, reason string) (Booking, error)
	ExpirePending(ctx context.Context, now time.Time) ([]Booking, error)
	UpdateStatus(ctx context.Context, bookingID, actorID uuid.UUID, to BookingStatus, reason string) (Booking, error)
	Delete(ctx context.Context, bookingID uuid.UUID) error
}

type BookingStats struct {
	PeriodDays    int                    `json:"period_days"`
	TotalBookings int                    `json:"total_bookings"`
	TotalRevenue  string                 `json:"total_revenue"`
	ByStatus      map[BookingStatus]int  `json:"by_status"`
}

// WaitlistRepository is transactional CRUD for waitlist entries.
type WaitlistRepository interface {
	GetByID(ctx context.Context, id uuid.UUID) (WaitlistEntry, error)
	GetAuditLog(ctx context.Context, entryID uuid.UUID) ([]WaitlistAuditLog, error)
	GetActiveForUserEvent(ctx context.Context, userID, eventID uuid.UUID) (WaitlistEntry, error)
	ListForUser(ctx context.Context, userID uuid.UUID, limit int, cursor *KeysetCursor) ([]WaitlistEntry, *KeysetCursor, error)
	ListForEvent(ctx context.Context, eventID uuid.UUID, limit int, cursor *KeysetCursor) ([]WaitlistEntry, *KeysetCursor, error)
	Position(ctx context.Context, entryID uuid.UUID) (int, error)

	Join(ctx context.Context, e WaitlistEntry) (WaitlistEntry, error)
	Cancel(ctx context.Context, entryID uuid.UUID) (WaitlistEntry, error)
	NotifyNext(ctx context.Context, eventID uuid.UUID, availableQty int, notificationWindow time.Duration, now time.Time) (notified []WaitlistEntry, err error)
	ExpireNotified(ctx context.Context, now time.Time) ([]WaitlistEntry, error)
}

// Publisher fire-and-forget publishes a domain event to a named channel
// (SPEC_FULL §4.5). message must already be JSON-marshalable.
type Publisher interface {
	Publish(ctx context.Context, channel string, message any) error
}
