package rest

import (
	"net/http"
	"strconv"

	"github.com/evently/bookings-core/internal/domain"
	"github.com/evently/bookings-core/internal/transport/rest/response"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

type AvailabilityHandler struct {
	ledger domain.CapacityLedger
}

func NewAvailabilityHandler(ledger domain.CapacityLedger) *AvailabilityHandler {
	return &AvailabilityHandler{ledger: ledger}
}

func (h *AvailabilityHandler) Get(w http.ResponseWriter, r *http.Request) {
	eventID, err := uuid.Parse(chi.URLParam(r, "event_id"))
	if err != nil {
		fail(w, r, http.StatusUnprocessableEntity, "request.invalid", "invalid event_id", nil)
		return
	}

	a, err := h.ledger.Get(r.Context(), eventID)
	if err != nil {
		handleErr(w, r, err)
		return
	}
	response.Data(w, http.StatusOK, toAvailabilityDTO(a))
}

func (h *AvailabilityHandler) Check(w http.ResponseWriter, r *http.Request) {
	eventID, err := uuid.Parse(chi.URLParam(r, "event_id"))
	if err != nil {
		fail(w, r, http.StatusUnprocessableEntity, "request.invalid", "invalid event_id", nil)
		return
	}
	qty, _ := strconv.Atoi(r.URL.Query().Get("quantity"))
	if qty < 1 {
		qty = 1
	}

	a, err := h.ledger.Get(r.Context(), eventID)
	if err != nil {
		handleErr(w, r, err)
		return
	}
	response.Data(w, http.StatusOK, map[string]any{
		"is_available": a.Available >= qty,
		"available":    a.Available,
	})
}

func (h *AvailabilityHandler) CreateCapacity(w http.ResponseWriter, r *http.Request) {
	eventID, err := uuid.Parse(chi.URLParam(r, "event_id"))
	if err != nil {
		fail(w, r, http.StatusUnprocessableEntity, "request.invalid", "invalid event_id", nil)
		return
	}
	total, err := strconv.Atoi(r.URL.Query().Get("total_capacity"))
	if err != nil || total < 0 {
		fail(w, r, http.StatusUnprocessableEntity, "request.invalid", "total_capacity must be a non-negative integer", nil)
		return
	}
	price := r.URL.Query().Get("price")
	if price == "" {
		price = "0.00"
	}
	name := r.URL.Query().Get("name")

	a, err := h.ledger.CreateCapacity(r.Context(), eventID, total, price, name)
	if err != nil {
		handleErr(w, r, err)
		return
	}
	response.Data(w, http.StatusCreated, toAvailabilityDTO(a))
}

func (h *AvailabilityHandler) UpdateCapacity(w http.ResponseWriter, r *http.Request) {
	eventID, err := uuid.Parse(chi.URLParam(r, "event_id"))
	if err != nil {
		fail(w, r, http.StatusUnprocessableEntity, "request.invalid", "invalid event_id", nil)
		return
	}
	total, err := strconv.Atoi(r.URL.Query().Get("new_total_capacity"))
	if err != nil || total < 0 {
		fail(w, r, http.StatusUnprocessableEntity, "request.invalid", "new_total_capacity must be a non-negative integer", nil)
		return
	}

	a, err := h.ledger.UpdateTotal(r.Context(), eventID, total)
	if err != nil {
		handleErr(w, r, err)
		return
	}
	response.Data(w, http.StatusOK, toAvailabilityDTO(a))
}
