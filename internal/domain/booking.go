package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type BookingStatus string

const (
	BookingPending   BookingStatus = "PENDING"
	BookingConfirmed BookingStatus = "CONFIRMED"
	BookingCancelled BookingStatus = "CANCELLED"
	BookingExpired   BookingStatus = "EXPIRED"
	BookingRefunded  BookingStatus = "REFUNDED"
	BookingCompleted BookingStatus = "COMPLETED"
)

type PaymentStatus string

const (
	PaymentPending    PaymentStatus = "PENDING"
	PaymentProcessing PaymentStatus = "PROCESSING"
	PaymentCompleted  PaymentStatus = "COMPLETED"
	PaymentFailed     PaymentStatus = "FAILED"
	PaymentRefunded   PaymentStatus = "REFUNDED"
)

// Booking is the aggregate root: header + items, always read and written
// together (SPEC_FULL §9 "eagerly materialized aggregate"). Audit rows are
// written in the same transaction as each mutation but read separately.
type Booking struct {
	ID                uuid.UUID
	UserID            uuid.UUID
	EventID           uuid.UUID
	BookingReference  string
	Quantity          int
	TotalAmount       decimal.Decimal
	Currency          string
	Status            BookingStatus
	PaymentStatus     PaymentStatus
	BookingDate       time.Time
	ExpiresAt         *time.Time
	ConfirmedAt       *time.Time
	CancelledAt       *time.Time
	Version           int
	Notes             string
	IPAddress         string
	UserAgent         string
	CancellationReason string

	Items []BookingItem
}

type BookingItem struct {
	ID            uuid.UUID
	BookingID     uuid.UUID
	TicketType    string
	PricePerItem  decimal.Decimal
	Quantity      int
	TotalPrice    decimal.Decimal
}

type BookingAuditAction string

const (
	BookingAuditCreate  BookingAuditAction = "CREATE"
	BookingAuditConfirm BookingAuditAction = "CONFIRM"
	BookingAuditCancel  BookingAuditAction = "CANCEL"
	BookingAuditExpire  BookingAuditAction = "EXPIRE"
	BookingAuditStatus  BookingAuditAction = "STATUS_CHANGE"
)

type BookingAuditLog struct {
	ID        uuid.UUID
	BookingID uuid.UUID
	Action    BookingAuditAction
	FieldName string
	OldValue  string
	NewValue  string
	ChangedBy uuid.UUID
	ChangedAt time.Time
	Reason    string
}

// bookingTransitions enumerates the booking state machine of SPEC_FULL §4.3.
var bookingTransitions = map[BookingStatus]map[BookingStatus]bool{
	BookingPending: {
		BookingConfirmed: true,
		BookingCancelled: true,
		BookingExpired:   true,
	},
	BookingConfirmed: {
		BookingCancelled: true,
		BookingCompleted: true,
		BookingRefunded:  true,
	},
}

// CanTransitionBooking reports whether from->to is an allowed booking transition.
func CanTransitionBooking(from, to BookingStatus) bool {
	next, ok := bookingTransitions[from]
	if !ok {
		return false
	}
	return next[to]
}
