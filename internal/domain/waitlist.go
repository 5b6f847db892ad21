package domain

import (
	"time"

	"github.com/google/uuid"
)

type WaitlistStatus string

const (
	WaitlistPending   WaitlistStatus = "PENDING"
	WaitlistNotified  WaitlistStatus = "NOTIFIED"
	WaitlistBooked    WaitlistStatus = "BOOKED"
	WaitlistCancelled WaitlistStatus = "CANCELLED"
	WaitlistExpired   WaitlistStatus = "EXPIRED"
)

// ActiveWaitlistStatuses are the statuses that count against the
// at-most-one-active-entry-per-user-per-event invariant.
var ActiveWaitlistStatuses = []WaitlistStatus{WaitlistPending, WaitlistNotified}

func IsActiveWaitlistStatus(s WaitlistStatus) bool {
	return s == WaitlistPending || s == WaitlistNotified
}

type WaitlistEntry struct {
	ID          uuid.UUID
	UserID      uuid.UUID
	EventID     uuid.UUID
	Quantity    int
	Priority    int
	Status      WaitlistStatus
	JoinedAt    time.Time
	NotifiedAt  *time.Time
	ExpiresAt   *time.Time
	CancelledAt *time.Time
	Version     int
	Notes       string
}

type WaitlistAuditAction string

const (
	WaitlistAuditJoin   WaitlistAuditAction = "JOIN"
	WaitlistAuditCancel WaitlistAuditAction = "CANCEL"
	WaitlistAuditNotify WaitlistAuditAction = "NOTIFY"
	WaitlistAuditExpire WaitlistAuditAction = "EXPIRE"
	WaitlistAuditBook   WaitlistAuditAction = "BOOK"
)

type WaitlistAuditLog struct {
	ID        uuid.UUID
	EntryID   uuid.UUID
	Action    WaitlistAuditAction
	FieldName string
	OldValue  string
	NewValue  string
	ChangedBy uuid.UUID
	ChangedAt time.Time
	Reason    string
}

var waitlistTransitions = map[WaitlistStatus]map[WaitlistStatus]bool{
	WaitlistPending: {
		WaitlistNotified:  true,
		WaitlistCancelled: true,
	},
	WaitlistNotified: {
		WaitlistExpired:   true,
		WaitlistBooked:    true,
		WaitlistCancelled: true,
	},
}

func CanTransitionWaitlist(from, to WaitlistStatus) bool {
	next, ok := waitlistTransitions[from]
	if !ok {
		return false
	}
	return next[to]
}
