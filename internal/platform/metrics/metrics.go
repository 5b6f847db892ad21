// Package metrics wires the HTTP surface to Prometheus: one histogram for
// request latency and one counter for request volume, both labeled by
// method, route pattern, and status code.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	RequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "evently",
		Subsystem: "bookings",
		Name:      "http_request_duration_seconds",
		Help:      "HTTP request latency in seconds.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method", "route", "status"})

	RequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "evently",
		Subsystem: "bookings",
		Name:      "http_requests_total",
		Help:      "Total HTTP requests served.",
	}, []string{"method", "route", "status"})
)

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

// Middleware records latency/count per chi route pattern so high-cardinality
// path params (booking ids, event ids) never become label values.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(sw, r)

		route := chi.RouteContext(r.Context()).RoutePattern()
		if route == "" {
			route = "unmatched"
		}
		status := strconv.Itoa(sw.status)
		RequestDuration.WithLabelValues(r.Method, route, status).Observe(time.Since(start).Seconds())
		RequestsTotal.WithLabelValues(r.Method, route, status).Inc()
	})
}
