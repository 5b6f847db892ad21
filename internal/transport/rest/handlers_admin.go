package rest

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/evently/bookings-core/internal/booking"
	"github.com/evently/bookings-core/internal/domain"
	"github.com/evently/bookings-core/internal/transport/rest/response"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
	"github.com/google/uuid"
)

// AdminBookingHandler implements the admin-only booking endpoints
// (SPEC_FULL §6 admin list/status/delete/stats/expire supplement).
type AdminBookingHandler struct {
	svc *booking.Service
}

func NewAdminBookingHandler(svc *booking.Service) *AdminBookingHandler {
	return &AdminBookingHandler{svc: svc}
}

func (h *AdminBookingHandler) List(w http.ResponseWriter, r *http.Request) {
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

	items, next, err := h.svc.AdminList(r.Context(), statuses, limit, cur)
	if err != nil {
		handleErr(w, r, err)
		return
	}
	response.Data(w, http.StatusOK, map[string]any{
		"items":       toBookingDTOs(items),
		"next_cursor": encodeCursor(next),
	})
}

func (h *AdminBookingHandler) UpdateStatus(w http.ResponseWriter, r *http.Request) {
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
		Status string `json:"status"`
		Reason string `json:"reason"`
	}
	if err := render.DecodeJSON(r.Body, &req); err != nil {
		fail(w, r, http.StatusUnprocessableEntity, "request.invalid", "invalid body", nil)
		return
	}

	b, err := h.svc.AdminUpdateStatus(r.Context(), id, auth.UserID, domain.BookingStatus(strings.ToUpper(req.Status)), req.Reason)
	if err != nil {
		handleErr(w, r, err)
		return
	}
	response.Data(w, http.StatusOK, toBookingDTO(b))
}

func (h *AdminBookingHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		fail(w, r, http.StatusUnprocessableEntity, "request.invalid", "invalid id", nil)
		return
	}

	if err := h.svc.AdminDelete(r.Context(), id); err != nil {
		handleErr(w, r, err)
		return
	}
	response.Data(w, http.StatusOK, map[string]string{"msg": "deleted"})
}

func (h *AdminBookingHandler) Stats(w http.ResponseWriter, r *http.Request) {
	periodDays, err := strconv.Atoi(r.URL.Query().Get("period_days"))
	if err != nil || periodDays < 1 {
		periodDays = 30
	}

	s, err := h.svc.AdminStats(r.Context(), periodDays)
	if err != nil {
		handleErr(w, r, err)
		return
	}
	response.Data(w, http.StatusOK, s)
}

func (h *AdminBookingHandler) Expire(w http.ResponseWriter, r *http.Request) {
	n, err := h.svc.ExpirePending(r.Context())
	if err != nil {
		handleErr(w, r, err)
		return
	}
	response.Data(w, http.StatusOK, map[string]any{"expired": n})
}
