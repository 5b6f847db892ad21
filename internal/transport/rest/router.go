package rest

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/evently/bookings-core/internal/platform/metrics"
	"github.com/evently/bookings-core/internal/security"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Pinger is satisfied by *pgxpool.Pool and *ratelimit.Limiter (which
// pings its Redis client); used only by the /readyz probe.
type Pinger interface {
	Ping(ctx context.Context) error
}

type RouterDeps struct {
	Booking      *BookingHandler
	Waitlist     *WaitlistHandler
	Availability *AvailabilityHandler
	Admin        *AdminBookingHandler

	Verifier  security.AccessTokenVerifier
	JWTIssuer string

	RateLimiter RateLimiter
	RLLimit     int
	RLWindow    time.Duration

	DB    Pinger
	Cache Pinger
}

func NewRouter(d RouterDeps) http.Handler {
	if d.Booking == nil || d.Waitlist == nil || d.Availability == nil || d.Admin == nil {
		panic("rest.NewRouter: nil handler")
	}
	if d.Verifier == nil {
		panic("rest.NewRouter: nil verifier")
	}

	r := chi.NewRouter()

	r.Use(RequestID)
	r.Use(metrics.Middleware)
	r.Use(HTTPLogger)
	r.Use(middleware.Recoverer)
	r.Use(RateLimitMiddleware(d.RateLimiter, d.RLLimit, d.RLWindow))
	r.Use(SecurityHeaders)

	r.Get("/healthz", healthzHandler)
	r.Get("/readyz", readyzHandler(d.DB, d.Cache))
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Use(AuthMiddleware(d.Verifier, AuthOptions{ExpectedIssuer: d.JWTIssuer}))

		r.Route("/bookings", func(r chi.Router) {
			r.Post("/", d.Booking.Create)
			r.Get("/", d.Booking.List)
			r.Get("/{id}", d.Booking.Get)
			r.Put("/{id}/confirm", d.Booking.Confirm)
			r.Put("/{id}/cancel", d.Booking.Cancel)
			r.Get("/{id}/audit", d.Booking.Audit)
		})

		r.Route("/availability/events/{event_id}", func(r chi.Router) {
			r.Get("/", d.Availability.Get)
			r.Get("/check", d.Availability.Check)
			r.Group(func(r chi.Router) {
				r.Use(RequireAdmin)
				r.Post("/capacity", d.Availability.CreateCapacity)
				r.Put("/capacity", d.Availability.UpdateCapacity)
			})
		})

		r.Route("/waitlist", func(r chi.Router) {
			r.Get("/check/{event_id}", d.Waitlist.CheckEligibility)
			r.Post("/join", d.Waitlist.Join)
			r.Get("/", d.Waitlist.List)
			r.Get("/{id}", d.Waitlist.Get)
			r.Put("/{id}/cancel", d.Waitlist.Cancel)
			r.Get("/{id}/position", d.Waitlist.Position)
			r.Get("/{id}/audit", d.Waitlist.Audit)

			r.Route("/admin", func(r chi.Router) {
				r.Use(RequireAdmin)
				r.Get("/event/{event_id}", d.Waitlist.AdminListForEvent)
				r.Post("/notify/{event_id}", d.Waitlist.AdminNotify)
			})
		})

		r.Route("/admin/bookings", func(r chi.Router) {
			r.Use(RequireAdmin)
			r.Get("/", d.Admin.List)
			r.Put("/{id}/status", d.Admin.UpdateStatus)
			r.Delete("/{id}", d.Admin.Delete)
			r.Get("/stats", d.Admin.Stats)
			r.Post("/expire", d.Admin.Expire)
		})
	})

	return r
}

func healthzHandler(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}

func readyzHandler(db, cache Pinger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
		defer cancel()

		checks := make(map[string]string)
		allHealthy := true

		if db != nil {
			if err := db.Ping(ctx); err != nil {
				checks["postgres"] = "unhealthy: " + err.Error()
				allHealthy = false
			} else {
				checks["postgres"] = "healthy"
			}
		}
		if cache != nil {
			if err := cache.Ping(ctx); err != nil {
				checks["redis"] = "unhealthy: " + err.Error()
				allHealthy = false
			} else {
				checks["redis"] = "healthy"
			}
		}

		checks["status"] = "ready"
		if !allHealthy {
			checks["status"] = "not_ready"
			w.WriteHeader(http.StatusServiceUnavailable)
		} else {
			w.WriteHeader(http.StatusOK)
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(checks)
	}
}
