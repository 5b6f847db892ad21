package rest

import (
	"net/http"
	"strconv"

	"github.com/evently/bookings-core/internal/transport/rest/response"
	"github.com/evently/bookings-core/internal/waitlist"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
	"github.com/google/uuid"
)

type WaitlistHandler struct {
	svc *waitlist.Service
}

func NewWaitlistHandler(svc *waitlist.Service) *WaitlistHandler {
	return &WaitlistHandler{svc: svc}
}

func (h *WaitlistHandler) CheckEligibility(w http.ResponseWriter, r *http.Request) {
	eventID, err := uuid.Parse(chi.URLParam(r, "event_id"))
	if err != nil {
		fail(w, r, http.StatusUnprocessableEntity, "request.invalid", "invalid event_id", nil)
		return
	}
	auth, ok := GetAuth(r.Context())
	if !ok {
		fail(w, r, http.StatusUnauthorized, "auth.unauthorized", "unauthorized", nil)
		return
	}
	qty, _ := strconv.Atoi(r.URL.Query().Get("quantity"))
	if qty < 1 {
		qty = 1
	}

	e, err := h.svc.CheckEligibility(r.Context(), eventID, auth.UserID, qty)
	if err != nil {
		handleErr(w, r, err)
		return
	}
	response.Data(w, http.StatusOK, map[string]any{
		"event_id": e.EventID.String(),
		"can_join": e.CanJoin,
		"reason":   e.Reason,
	})
}

func (h *WaitlistHandler) Join(w http.ResponseWriter, r *http.Request) {
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
		fail(w, r, http.StatusUnprocessableEntity, "request.invalid", "invalid event_id", nil)
		return
	}

	e, err := h.svc.Join(r.Context(), waitlist.JoinInput{
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
	response.Data(w, http.StatusCreated, toWaitlistDTO(e))
}

func (h *WaitlistHandler) List(w http.ResponseWriter, r *http.Request) {
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

	items, next, err := h.svc.ListForUser(r.Context(), auth.UserID, limit, cur)
	if err != nil {
		handleErr(w, r, err)
		return
	}
	response.Data(w, http.StatusOK, map[string]any{
		"items":       toWaitlistDTOs(items),
		"next_cursor": encodeCursor(next),
	})
}

func (h *WaitlistHandler) Get(w http.ResponseWriter, r *http.Request) {
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

	e, err := h.svc.GetByID(r.Context(), id, &auth.UserID, auth.IsAdmin())
	if err != nil {
		handleErr(w, r, err)
		return
	}
	response.Data(w, http.StatusOK, toWaitlistDTO(e))
}

func (h *WaitlistHandler) Cancel(w http.ResponseWriter, r *http.Request) {
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

	e, err := h.svc.Cancel(r.Context(), id, &auth.UserID, auth.IsAdmin())
	if err != nil {
		handleErr(w, r, err)
		return
	}
	response.Data(w, http.StatusOK, toWaitlistDTO(e))
}

func (h *WaitlistHandler) Position(w http.ResponseWriter, r *http.Request) {
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
	if _, err := h.svc.GetByID(r.Context(), id, &auth.UserID, auth.IsAdmin()); err != nil {
		handleErr(w, r, err)
		return
	}

	pos, err := h.svc.Position(r.Context(), id)
	if err != nil {
		handleErr(w, r, err)
		return
	}
	response.Data(w, http.StatusOK, map[string]any{"position": pos})
}

func (h *WaitlistHandler) Audit(w http.ResponseWriter, r *http.Request) {
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
	response.Data(w, http.StatusOK, map[string]any{"items": toWaitlistAuditDTOs(logs)})
}

// Admin-only reads/actions (SPEC_FULL §4.4 supplement).

func (h *WaitlistHandler) AdminListForEvent(w http.ResponseWriter, r *http.Request) {
	eventID, err := uuid.Parse(chi.URLParam(r, "event_id"))
	if err != nil {
		fail(w, r, http.StatusUnprocessableEntity, "request.invalid", "invalid event_id", nil)
		return
	}
	limit := parseLimit(r.URL.Query().Get("limit"))
	cur, err := decodeCursor(r.URL.Query().Get("cursor"))
	if err != nil {
		fail(w, r, http.StatusUnprocessableEntity, "request.invalid", "invalid cursor", nil)
		return
	}

	items, next, err := h.svc.ListForEvent(r.Context(), eventID, limit, cur)
	if err != nil {
		handleErr(w, r, err)
		return
	}
	response.Data(w, http.StatusOK, map[string]any{
		"items":       toWaitlistDTOs(items),
		"next_cursor": encodeCursor(next),
	})
}

func (h *WaitlistHandler) AdminNotify(w http.ResponseWriter, r *http.Request) {
	eventID, err := uuid.Parse(chi.URLParam(r, "event_id"))
	if err != nil {
		fail(w, r, http.StatusUnprocessableEntity, "request.invalid", "invalid event_id", nil)
		return
	}
	qty, _ := strconv.Atoi(r.URL.Query().Get("available_quantity"))
	if qty < 1 {
		fail(w, r, http.StatusUnprocessableEntity, "request.invalid", "available_quantity must be >= 1", nil)
		return
	}

	if err := h.svc.NotifyNext(r.Context(), eventID, qty); err != nil {
		handleErr(w, r, err)
		return
	}
	response.Data(w, http.StatusOK, map[string]any{"msg": "notified"})
}
