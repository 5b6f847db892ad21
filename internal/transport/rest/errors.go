package rest

import (
	"errors"
	"net/http"

	appCtx "github.com/evently/bookings-core/internal/platform/context"
	"github.com/evently/bookings-core/internal/domain"
	"github.com/evently/bookings-core/internal/transport/rest/response"
)

// handleErr maps the domain error taxonomy (SPEC_FULL §7) onto HTTP
// status + error code. Validation -> 422, Unauthorized -> 401,
// Forbidden -> 403, NotFound -> 404, DomainConflict -> 400,
// ResourceLocked -> 503, Conflict -> 409, Infrastructure -> 500.
func handleErr(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, domain.ErrInvalidQuantity):
		fail(w, r, http.StatusUnprocessableEntity, "validation.invalid_quantity", err.Error(), nil)
	case errors.Is(err, domain.ErrUnauthorized):
		fail(w, r, http.StatusUnauthorized, "auth.unauthorized", err.Error(), nil)
	case errors.Is(err, domain.ErrForbidden):
		fail(w, r, http.StatusForbidden, "auth.forbidden", err.Error(), nil)
	case errors.Is(err, domain.ErrBookingNotFound):
		fail(w, r, http.StatusNotFound, "booking.not_found", err.Error(), nil)
	case errors.Is(err, domain.ErrWaitlistNotFound):
		fail(w, r, http.StatusNotFound, "waitlist.not_found", err.Error(), nil)
	case errors.Is(err, domain.ErrEventNotFound):
		fail(w, r, http.StatusNotFound, "availability.not_found", err.Error(), nil)
	case errors.Is(err, domain.ErrInsufficientCapacity):
		fail(w, r, http.StatusBadRequest, "booking.insufficient_capacity", err.Error(), nil)
	case errors.Is(err, domain.ErrNotPending):
		fail(w, r, http.StatusBadRequest, "booking.not_pending", err.Error(), nil)
	case errors.Is(err, domain.ErrNotCancellable):
		fail(w, r, http.StatusBadRequest, "booking.not_cancellable", err.Error(), nil)
	case errors.Is(err, domain.ErrBookingExpired):
		fail(w, r, http.StatusBadRequest, "booking.expired", err.Error(), nil)
	case errors.Is(err, domain.ErrHasAvailability):
		fail(w, r, http.StatusBadRequest, "waitlist.has_availability", err.Error(), nil)
	case errors.Is(err, domain.ErrDuplicateActiveEntry):
		fail(w, r, http.StatusBadRequest, "waitlist.duplicate_active_entry", err.Error(), nil)
	case errors.Is(err, domain.ErrWaitlistNotCancelable):
		fail(w, r, http.StatusBadRequest, "waitlist.not_cancellable", err.Error(), nil)
	case errors.Is(err, domain.ErrLedgerAlreadyExists):
		fail(w, r, http.StatusBadRequest, "availability.already_exists", err.Error(), nil)
	case errors.Is(err, domain.ErrLedgerInsufficient):
		fail(w, r, http.StatusBadRequest, "availability.insufficient", err.Error(), nil)
	case errors.Is(err, domain.ErrLockTimeout):
		fail(w, r, http.StatusServiceUnavailable, "lock.timeout", err.Error(), nil)
	case errors.Is(err, domain.ErrConflict):
		fail(w, r, http.StatusConflict, "version.conflict", err.Error(), nil)
	case errors.Is(err, errBadCursor):
		fail(w, r, http.StatusBadRequest, "request.invalid", err.Error(), nil)
	default:
		fail(w, r, http.StatusInternalServerError, "internal", "internal error", nil)
	}
}

func fail(w http.ResponseWriter, r *http.Request, status int, code, message string, meta map[string]string) {
	reqID := appCtx.GetRequestID(r.Context())
	if reqID == "" {
		reqID = "no-request-id"
	}
	response.Fail(w, status, code, message, meta, reqID)
}
