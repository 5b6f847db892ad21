package rest

import (
	"time"

	"github.com/evently/bookings-core/internal/domain"
)

type bookingItemDTO struct {
	ID           string `json:"id"`
	TicketType   string `json:"ticket_type,omitempty"`
	PricePerItem string `json:"price_per_item"`
	Quantity     int    `json:"quantity"`
	TotalPrice   string `json:"total_price"`
}

type bookingDTO struct {
	ID                 string           `json:"id"`
	UserID             string           `json:"user_id"`
	EventID            string           `json:"event_id"`
	BookingReference   string           `json:"booking_reference"`
	Quantity           int              `json:"quantity"`
	TotalAmount        string           `json:"total_amount"`
	Currency           string           `json:"currency"`
	Status             string           `json:"status"`
	PaymentStatus      string           `json:"payment_status"`
	BookingDate        time.Time        `json:"booking_date"`
	ExpiresAt          *time.Time       `json:"expires_at,omitempty"`
	ConfirmedAt        *time.Time       `json:"confirmed_at,omitempty"`
	CancelledAt        *time.Time       `json:"cancelled_at,omitempty"`
	Version            int              `json:"version"`
	Notes              string           `json:"notes,omitempty"`
	CancellationReason string           `json:"cancellation_reason,omitempty"`
	Items              []bookingItemDTO `json:"items,omitempty"`
}

func toBookingDTO(b domain.Booking) bookingDTO {
	items := make([]bookingItemDTO, 0, len(b.Items))
	for _, it := range b.Items {
		items = append(items, bookingItemDTO{
			ID:           it.ID.String(),
			TicketType:   it.TicketType,
			PricePerItem: it.PricePerItem.String(),
			Quantity:     it.Quantity,
			TotalPrice:   it.TotalPrice.String(),
		})
	}
	return bookingDTO{
		ID:                 b.ID.String(),
		UserID:             b.UserID.String(),
		EventID:            b.EventID.String(),
		BookingReference:   b.BookingReference,
		Quantity:           b.Quantity,
		TotalAmount:        b.TotalAmount.String(),
		Currency:           b.Currency,
		Status:             string(b.Status),
		PaymentStatus:      string(b.PaymentStatus),
		BookingDate:        b.BookingDate,
		ExpiresAt:          b.ExpiresAt,
		ConfirmedAt:        b.ConfirmedAt,
		CancelledAt:        b.CancelledAt,
		Version:            b.Version,
		Notes:              b.Notes,
		CancellationReason: b.CancellationReason,
		Items:              items,
	}
}

func toBookingDTOs(bs []domain.Booking) []bookingDTO {
	out := make([]bookingDTO, 0, len(bs))
	for _, b := range bs {
		out = append(out, toBookingDTO(b))
	}
	return out
}

type bookingAuditDTO struct {
	ID        string    `json:"id"`
	BookingID string    `json:"booking_id"`
	Action    string    `json:"action"`
	FieldName string    `json:"field_name,omitempty"`
	OldValue  string    `json:"old_value,omitempty"`
	NewValue  string    `json:"new_value,omitempty"`
	ChangedBy string    `json:"changed_by,omitempty"`
	ChangedAt time.Time `json:"changed_at"`
	Reason    string    `json:"reason,omitempty"`
}

func toBookingAuditDTOs(logs []domain.BookingAuditLog) []bookingAuditDTO {
	out := make([]bookingAuditDTO, 0, len(logs))
	for _, l := range logs {
		out = append(out, bookingAuditDTO{
			ID:        l.ID.String(),
			BookingID: l.BookingID.String(),
			Action:    string(l.Action),
			FieldName: l.FieldName,
			OldValue:  l.OldValue,
			NewValue:  l.NewValue,
			ChangedBy: l.ChangedBy.String(),
			ChangedAt: l.ChangedAt,
			Reason:    l.Reason,
		})
	}
	return out
}

type waitlistEntryDTO struct {
	ID          string     `json:"id"`
	UserID      string     `json:"user_id"`
	EventID     string     `json:"event_id"`
	Quantity    int        `json:"quantity"`
	Priority    int        `json:"priority"`
	Status      string     `json:"status"`
	JoinedAt    time.Time  `json:"joined_at"`
	NotifiedAt  *time.Time `json:"notified_at,omitempty"`
	ExpiresAt   *time.Time `json:"expires_at,omitempty"`
	CancelledAt *time.Time `json:"cancelled_at,omitempty"`
	Version     int        `json:"version"`
	Notes       string     `json:"notes,omitempty"`
}

func toWaitlistDTO(e domain.WaitlistEntry) waitlistEntryDTO {
	return waitlistEntryDTO{
		ID:          e.ID.String(),
		UserID:      e.UserID.String(),
		EventID:     e.EventID.String(),
		Quantity:    e.Quantity,
		Priority:    e.Priority,
		Status:      string(e.Status),
		JoinedAt:    e.JoinedAt,
		NotifiedAt:  e.NotifiedAt,
		ExpiresAt:   e.ExpiresAt,
		CancelledAt: e.CancelledAt,
		Version:     e.Version,
		Notes:       e.Notes,
	}
}

func toWaitlistDTOs(es []domain.WaitlistEntry) []waitlistEntryDTO {
	out := make([]waitlistEntryDTO, 0, len(es))
	for _, e := range es {
		out = append(out, toWaitlistDTO(e))
	}
	return out
}

type waitlistAuditDTO struct {
	ID        string    `json:"id"`
	EntryID   string    `json:"waitlist_entry_id"`
	Action    string    `json:"action"`
	FieldName string    `json:"field_name,omitempty"`
	OldValue  string    `json:"old_value,omitempty"`
	NewValue  string    `json:"new_value,omitempty"`
	ChangedBy string    `json:"changed_by,omitempty"`
	ChangedAt time.Time `json:"changed_at"`
	Reason    string    `json:"reason,omitempty"`
}

func toWaitlistAuditDTOs(logs []domain.WaitlistAuditLog) []waitlistAuditDTO {
	out := make([]waitlistAuditDTO, 0, len(logs))
	for _, l := range logs {
		out = append(out, waitlistAuditDTO{
			ID:        l.ID.String(),
			EntryID:   l.EntryID.String(),
			Action:    string(l.Action),
			FieldName: l.FieldName,
			OldValue:  l.OldValue,
			NewValue:  l.NewValue,
			ChangedBy: l.ChangedBy.String(),
			ChangedAt: l.ChangedAt,
			Reason:    l.Reason,
		})
	}
	return out
}

type availabilityDTO struct {
	EventID       string    `json:"event_id"`
	EventName     string    `json:"event_name"`
	TotalCapacity int       `json:"total_capacity"`
	Available     int       `json:"available"`
	Reserved      int       `json:"reserved"`
	Confirmed     int       `json:"confirmed"`
	Price         string    `json:"price"`
	Version       int       `json:"version"`
	LastUpdated   time.Time `json:"last_updated"`
}

func toAvailabilityDTO(a domain.EventAvailability) availabilityDTO {
	return availabilityDTO{
		EventID:       a.EventID.String(),
		EventName:     a.EventName,
		TotalCapacity: a.TotalCapacity,
		Available:     a.Available,
		Reserved:      a.Reserved,
		Confirmed:     a.Confirmed,
		Price:         a.Price.String(),
		Version:       a.Version,
		LastUpdated:   a.LastUpdated,
	}
}
