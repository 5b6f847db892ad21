package domain

import "errors"

// Sentinel errors surfaced by the booking/waitlist/ledger services. The
// transport layer maps these to HTTP status + error code per SPEC_FULL §7.
var (
	// Validation
	ErrInvalidQuantity = errors.New("quantity out of bounds")

	// Unauthorized / Forbidden
	ErrUnauthorized = errors.New("unauthorized")
	ErrForbidden    = errors.New("forbidden")

	// NotFound
	ErrEventNotFound    = errors.New("event availability not found")
	ErrBookingNotFound  = errors.New("booking not found")
	ErrWaitlistNotFound = errors.New("waitlist entry not found")

	// DomainConflict
	ErrInsufficientCapacity  = errors.New("insufficient capacity")
	ErrNotPending            = errors.New("booking is not pending")
	ErrNotCancellable        = errors.New("booking cannot be cancelled from its current status")
	ErrBookingExpired        = errors.New("booking hold has expired")
	ErrHasAvailability       = errors.New("event currently has availability; cannot join waitlist")
	ErrDuplicateActiveEntry  = errors.New("user already has an active waitlist entry for this event")
	ErrWaitlistNotCancelable = errors.New("waitlist entry cannot be cancelled from its current status")

	// Ledger
	ErrLedgerAlreadyExists = errors.New("event availability already exists")
	ErrLedgerInsufficient  = errors.New("insufficient ledger balance for requested operation")

	// Conflict (optimistic concurrency)
	ErrConflict = errors.New("version conflict, retry")

	// ResourceLocked
	ErrLockTimeout = errors.New("lock acquisition timed out")
)
