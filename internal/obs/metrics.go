package obs

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// HTTP metrics
var (
	httpInFlight = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "http_in_flight_requests",
		Help: "In-flight HTTP requests.",
	})

	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latencies in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)

// Domain metrics
var (
	// RequirementsExpired counts requirement instances reverted to pending by
	// the read-time expiry check.
	RequirementsExpired = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "ecolex_requirements_expired_total",
		Help: "Requirement instances reverted to pending because their expiry date passed.",
	})

	// AttachmentsUploaded counts stored files by blob category.
	AttachmentsUploaded = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ecolex_attachments_uploaded_total",
			Help: "Files written to the blob store.",
		},
		[]string{"category"},
	)

	// EventsDropped counts change events a slow SSE client missed.
	EventsDropped = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "ecolex_stream_events_dropped_total",
		Help: "Project change events dropped because a subscriber buffer was full.",
	})

	// StreamSubscribers tracks open SSE connections.
	StreamSubscribers = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "ecolex_stream_subscribers",
		Help: "Clients currently following the project change feed.",
	})
)

var initOnce sync.Once

// Init registers all metrics in the default registry. Safe to call twice.
func Init() {
	initOnce.Do(func() {
		prometheus.MustRegister(
			httpInFlight, httpRequestsTotal, httpRequestDuration,
			RequirementsExpired, AttachmentsUploaded,
			EventsDropped, StreamSubscribers, buildInfo,
		)
	})
}

// Handler exposes the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Instrument records RPS, latency and in-flight requests. It must run inside
// a chi router so the matched route pattern is known after next returns.
func Instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		httpInFlight.Inc()
		defer httpInFlight.Dec()
		start := time.Now()

		sw := &statusWriter{ResponseWriter: w, code: http.StatusOK}
		next.ServeHTTP(sw, r)

		path := RoutePattern(r)
		status := strconv.Itoa(sw.code)
		httpRequestDuration.WithLabelValues(r.Method, path, status).Observe(time.Since(start).Seconds())
		httpRequestsTotal.WithLabelValues(r.Method, path, status).Inc()
	})
}

// RoutePattern returns the chi pattern matched for r, e.g.
// "/api/projetos/{id}", or "unmatched" so raw paths never become labels.
func RoutePattern(r *http.Request) string {
	if rc := chi.RouteContext(r.Context()); rc != nil {
		if p := rc.RoutePattern(); p != "" {
			return p
		}
	}
	return "unmatched"
}

type statusWriter struct {
	http.ResponseWriter
	code int
}

func (w *statusWriter) WriteHeader(code int) {
	w.code = code
	w.ResponseWriter.WriteHeader(code)
}

// Flush keeps SSE responses streaming through the wrapper.
func (w *statusWriter) Flush() {
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}
