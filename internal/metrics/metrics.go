// Package metrics provides Prometheus metrics for the inbox service.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// HTTPRequestsTotal counts total HTTP requests by method, path, and status
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "driftmail",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests by method, path, and status code",
		},
		[]string{"method", "path", "status"},
	)

	// HTTPRequestDuration measures HTTP request duration in seconds
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "driftmail",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"method", "path"},
	)

	// HTTPRequestsInFlight tracks current in-flight requests
	HTTPRequestsInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "driftmail",
			Subsystem: "http",
			Name:      "requests_in_flight",
			Help:      "Current number of HTTP requests being processed",
		},
	)
)

var (
	// EmailsIngested counts emails accepted by the ingestion pipeline
	EmailsIngested = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "driftmail",
			Subsystem: "ingest",
			Name:      "emails_total",
			Help:      "Total number of emails accepted by the ingestion pipeline",
		},
	)

	// EmailsDropped counts messages silently dropped for a malformed envelope
	EmailsDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "driftmail",
			Subsystem: "ingest",
			Name:      "emails_dropped_total",
			Help:      "Total number of messages dropped for missing sender or recipients",
		},
	)

	// AttachmentsAdmitted counts attachments passing admission filtering
	AttachmentsAdmitted = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "driftmail",
			Subsystem: "ingest",
			Name:      "attachments_admitted_total",
			Help:      "Total number of attachments admitted for storage",
		},
	)

	// AttachmentsDropped counts attachments rejected by admission filtering
	AttachmentsDropped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "driftmail",
			Subsystem: "ingest",
			Name:      "attachments_dropped_total",
			Help:      "Total number of attachments dropped by admission filtering, by reason",
		},
		[]string{"reason"},
	)

	// AttachmentPersistFailures counts failed halves of the attachment tail
	AttachmentPersistFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "driftmail",
			Subsystem: "ingest",
			Name:      "attachment_persist_failures_total",
			Help:      "Total number of failed attachment persistence operations, by store",
		},
		[]string{"store"},
	)
)

var (
	// EmailsDeleted counts emails removed, by trigger (id, mailbox, retention)
	EmailsDeleted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "driftmail",
			Subsystem: "sweeper",
			Name:      "emails_deleted_total",
			Help:      "Total number of emails deleted, by trigger",
		},
		[]string{"trigger"},
	)

	// BlobDeleteFailures counts blob deletions that failed during sweeps
	BlobDeleteFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "driftmail",
			Subsystem: "sweeper",
			Name:      "blob_delete_failures_total",
			Help:      "Total number of blob deletions that failed during sweeps",
		},
	)

	// SweepDuration measures retention sweep duration
	SweepDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "driftmail",
			Subsystem: "sweeper",
			Name:      "sweep_duration_seconds",
			Help:      "Retention sweep duration in seconds",
			Buckets:   []float64{.01, .05, .1, .5, 1, 5, 10, 30, 60},
		},
	)
)

// responseWriter wraps http.ResponseWriter to capture status code and size
type responseWriter struct {
	http.ResponseWriter
	statusCode int
	size       int
}

func newResponseWriter(w http.ResponseWriter) *responseWriter {
	return &responseWriter{
		ResponseWriter: w,
		statusCode:     http.StatusOK,
	}
}

// WriteHeader captures the status code
func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// Write captures the response size
func (rw *responseWriter) Write(b []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(b)
	rw.size += n
	return n, err
}

// Middleware returns a chi middleware that records HTTP metrics
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		HTTPRequestsInFlight.Inc()
		defer HTTPRequestsInFlight.Dec()

		rw := newResponseWriter(w)
		next.ServeHTTP(rw, r)

		path := getRoutePattern(r)
		HTTPRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(rw.statusCode)).Inc()
		HTTPRequestDuration.WithLabelValues(r.Method, path).Observe(time.Since(start).Seconds())
	})
}

// getRoutePattern returns the route pattern from chi context.
// Falls back to URL path if pattern not available.
func getRoutePattern(r *http.Request) string {
	rctx := chi.RouteContext(r.Context())
	if rctx != nil && rctx.RoutePattern() != "" {
		return rctx.RoutePattern()
	}
	return r.URL.Path
}

// Handler returns the Prometheus metrics HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}
