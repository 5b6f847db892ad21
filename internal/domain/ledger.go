package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// EventAvailability is the per-event capacity ledger row: the source of
// truth for oversell prevention (SPEC_FULL §3, §4.2).
type EventAvailability struct {
	EventID        uuid.UUID
	EventName      string
	TotalCapacity  int
	Available      int
	Reserved       int
	Confirmed      int
	Price          decimal.Decimal
	Version        int
	LastUpdated    time.Time
	CreatedAt      time.Time
}

// Invariant reports whether the row satisfies the at-rest balance
// (SPEC_FULL §8 property 1) and non-negativity (property 2).
func (a EventAvailability) Invariant() bool {
	if a.Available < 0 || a.Reserved < 0 || a.Confirmed < 0 {
		return false
	}
	return a.Available+a.Reserved+a.Confirmed == a.TotalCapacity
}
