package rest

import (
	"net/http"
	"strings"

	"github.com/evently/bookings-core/internal/booking"
	"github.com/evently/bookings-core/internal/domain"
	"github.com/evently/bookings-core/internal/transport/rest/response"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
	"github.com/google/uuid"
)

type BookingHandler struct {
	svc *booking.Service
}

func NewBookingHandler(svc *booking.Service) *BookingHandler {
	return &BookingHandler{svc: svc}
}

func (h *BookingHandler) Create(w http.ResponseWriter, r *http.Request) {
	auth, ok := GetAuth(r.Context())
	if !ok {
		fail(w, r, http.StatusUnauthorized, "auth.unauthorized", "unauthorized", nil)
		return
	}

	var req struct {
		EventID  string `json:"event_id"`
		Quantity int    `json:"quantity"`
		Notes    string `json:"notes"`
	}
	if err := render.DecodeJSON(r.Body, &req); err != nil {
		fail(w, r, http.StatusUnprocessableEntity, "request.invalid", "invalid body", nil)
		return
	}
	eventID, err := uuid.Parse(req.EventID)
	if err != nil {
		fail(w, r, http.StatusUnprocessableEntity, "request.invalid", "invalid event_id", map[string]string{"event_id": "must be a valid uuid"})
		return
	}

	b, err := h.svc.Create(r.Context(), booking.CreateInput{
		UserID:    auth.UserID,
		EventID:   eventID,
		Quantity:  req.Quantity,
		Notes:     req.Notes,
		IPAddress: clientIP(r),
		UserAgent: r.UserAgent(),
	})
	if err != nil {
		handleErr(w, r, err)
		return
	}

	response.Data(w, http.StatusCreated, map[string]any{
		"booking":    toBookingDTO(b),
		"expires_at": b.ExpiresAt,
	})
}

func (h *BookingHandler) List(w http.ResponseWriter, r *http.Request) {
	auth, ok := GetAuth(r.Context())
	if !ok {
		fail(w, r, http.StatusUnauthorized, "auth.unauthorized", "unauthorized", nil)
		return
	}

	limit := parseLimit(r.URL.Query().Get("limit"))
	cur, err := decodeCursor(r.URL.Query().Get("cursor"))
	if err != nil {
		fail(w, r, http.StatusUnprocessableEntity, "request.invalid", "invalid cursor", nil)
		return
	}
	var statuses []domain.BookingStatus
	if s := strings.TrimSpace(r.URL.Query().Get("status")); s != "" {
		for _, p := range strings.Split(s, ",") {
			if v := strings.TrimSpace(p); v != "" {
				statuses = append(statuses, domain.BookingStatus(v))
			}
		}
	}

	items, next, err := h.svc.ListForUser(r.Context(), auth.UserID, statuses, limit, cur)
	if err != nil {
		handleErr(w, r, err)
		return
	}

	response.Data(w, http.StatusOK, map[string]any{
		"items":       toBookingDTOs(items),
		"next_cursor": encodeCursor(next),
	})
}

func (h *BookingHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		fail(w, r, http.StatusUnprocessableEntity, "request.invalid", "invalid id", nil)
		return
	}
	auth, ok := GetAuth(r.Context())
	if !ok {
		fail(w, r, http.StatusUnauthorized, "auth.unauthorized", "unauthorized", nil)
		return
	}

	b, err := h.svc.GetByID(r.Context(), id, &auth.UserID, auth.IsAdmin())
	if err != nil {
		handleErr(w, r, err)
		return
	}
	response.Data(w, http.StatusOK, toBookingDTO(b))
}

func (h *BookingHandler) Confirm(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		fail(w, r, http.StatusUnprocessableEntity, "request.invalid", "invalid id", nil)
		return
	}
	auth, ok := GetAuth(r.Context())
	if !ok {
		fail(w, r, http.StatusUnauthorized, "auth.unauthorized", "unauthorized", nil)
		return
	}

	b, err := h.svc.Confirm(r.Context(), id, &auth.UserID, auth.IsAdmin())
	if err != nil {
		handleErr(w, r, err)
		return
	}
	response.Data(w, http.StatusOK, toBookingDTO(b))
}

func (h *BookingHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		fail(w, r, http.StatusUnprocessableEntity, "request.invalid", "invalid id", nil)
		return
	}
	auth, ok := GetAuth(r.Context())
	if !ok {
		fail(w, r, http.StatusUnauthorized, "auth.unauthorized", "unauthorized", nil)
		return
	}

	var req struct {
		Reason string `json:"reason"`
	}
	_ = render.DecodeJSON(r.Body, &req)

	b, err := h.svc.Cancel(r.Context(), id, &auth.UserID, auth.IsAdmin(), req.Reason)
	if err != nil {
		handleErr(w, r, err)
		return
	}
	response.Data(w, http.StatusOK, toBookingDTO(b))
}

func (h *BookingHandler) Audit(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		fail(w, r, http.StatusUnprocessableEntity, "request.invalid", "invalid id", nil)
		return
	}
	auth, ok := GetAuth(r.Context())
	if !ok {
		fail(w, r, http.StatusUnauthorized, "auth.unauthorized", "unauthorized", nil)
		return
	}

	logs, err := h.svc.GetAuditLog(r.Context(), id, &auth.UserID, auth.IsAdmin())
	if err != nil {
		handleErr(w, r, err)
		return
	}
	response.Data(w, http.StatusOK, map[string]any{"items": toBookingAuditDTOs(logs)})
}
