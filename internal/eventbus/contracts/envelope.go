// Package contracts defines the wire envelope shared by every message on
// the event bus.
package contracts

import "time"

type DomainEventEnvelope[T any] struct {
	Version    int       `json:"version"`
	Producer   string    `json:"producer"`
	TraceID    string    `json:"trace_id"`
	MessageID  string    `json:"message_id"`
	OccurredAt time.Time `json:"occurred_at"`
	Payload    T         `json:"payload"`
}

// EventPublishedPayload / EventUpdatedPayload carry the catalog's
// announcement of a new or changed event (SPEC_FULL §4.5 inbound).
type EventPublishedPayload struct {
	EventID  string `json:"event_id"`
	Name     string `json:"name,omitempty"`
	Capacity *int   `json:"capacity"`
	Price    string `json:"price,omitempty"`
	Status   string `json:"status,omitempty"`
}

type EventUpdatedPayload = EventPublishedPayload

type EventDeletedPayload struct {
	EventID string `json:"event_id"`
	Status  string `json:"status,omitempty"`
}

// BookingEventPayload carries outbound BookingCreated/Confirmed/Cancelled/
// Expired notifications (SPEC_FULL §4.5 outbound, outbox-backed).
type BookingEventPayload struct {
	BookingID   string `json:"booking_id"`
	UserID      string `json:"user_id"`
	EventID     string `json:"event_id"`
	Reference   string `json:"booking_reference"`
	Quantity    int    `json:"quantity"`
	Status      string `json:"status"`
	TotalAmount string `json:"total_amount"`
	Currency    string `json:"currency"`
	Reason      string `json:"reason,omitempty"`
}

// WaitlistEventPayload carries outbound WaitlistJoined/Cancelled
// notifications (SPEC_FULL §4.5 outbound, outbox-backed).
type WaitlistEventPayload struct {
	EntryID  string `json:"waitlist_entry_id"`
	UserID   string `json:"user_id"`
	EventID  string `json:"event_id"`
	Quantity int    `json:"quantity"`
	Status   string `json:"status"`
}

// EmailJobPayload is the thin job description enqueued for the external
// email worker pool (SPEC_FULL §4.5 [AMBIENT]).
type EmailJobPayload struct {
	Template string `json:"template"`
	UserID   string `json:"user_id"`
	RefID    string `json:"ref_id"`
}
