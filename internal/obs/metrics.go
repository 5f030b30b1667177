package obs

import (
	"net/http"
	"runtime"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

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

	loginAttempts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "admin_login_attempts_total",
			Help: "Login submissions by outcome (success, failed, blocked, error).",
		},
		[]string{"result"},
	)

	sessionRotations = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "admin_session_rotations_total",
		Help: "Session cookies transparently reissued by the access gate.",
	})

	auditAppendFailures = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "audit_append_failures_total",
		Help: "Audit events that could not be persisted.",
	})

	buildInfo = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "build_info",
			Help: "Sitekeeper build information.",
		},
		[]string{"version", "goversion"},
	)

	initOnce sync.Once
)

// Init registers every collector in the default registry. Safe to call more than once.
func Init() {
	initOnce.Do(func() {
		prometheus.MustRegister(
			httpInFlight, httpRequestsTotal, httpRequestDuration,
			loginAttempts, sessionRotations, auditAppendFailures, buildInfo,
		)
	})
}

// SetBuildInfo publishes build_info{version,goversion} 1.
func SetBuildInfo(version string) {
	buildInfo.WithLabelValues(version, runtime.Version()).Set(1)
}

// Handler serves the Prometheus exposition format.
func Handler() http.Handler {
	return promhttp.Handler()
}

// LoginAttempt counts a login submission by result.
func LoginAttempt(result string) {
	loginAttempts.WithLabelValues(result).Inc()
}

// SessionRotated counts a transparent session reissue.
func SessionRotated() {
	sessionRotations.Inc()
}

// AuditAppendFailed counts a dropped audit event.
func AuditAppendFailed() {
	auditAppendFailures.Inc()
}

// Instrument records in-flight, request count and latency per canonical path.
func Instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path := CanonicalPath(r.URL.Path)
		method := r.Method

		httpInFlight.Inc()
		defer httpInFlight.Dec()
		start := time.Now()

		sw := NewStatusWriter(w)
		next.ServeHTTP(sw, r)

		status := strconv.Itoa(sw.Status())
		httpRequestDuration.WithLabelValues(method, path, status).Observe(time.Since(start).Seconds())
		httpRequestsTotal.WithLabelValues(method, path, status).Inc()
	})
}

// CanonicalPath collapses per-document and admin UI paths so label
// cardinality stays bounded.
func CanonicalPath(raw string) string {
	path := raw
	if i := strings.IndexByte(path, '?'); i >= 0 {
		path = path[:i]
	}
	if path == "" {
		return "/"
	}
	switch {
	case strings.HasPrefix(path, "/api/admin/content/"):
		rest := strings.TrimPrefix(path, "/api/admin/content/")
		if rest != "" && !strings.Contains(rest, "/") {
			return "/api/admin/content/:domain"
		}
	case path == "/admin/login":
		return path
	case strings.HasPrefix(path, "/admin/"):
		return "/admin/*"
	}
	return path
}

// StatusWriter remembers the status code written through it.
type StatusWriter struct {
	http.ResponseWriter
	code int
}

// NewStatusWriter wraps w with a default status of 200.
func NewStatusWriter(w http.ResponseWriter) *StatusWriter {
	return &StatusWriter{ResponseWriter: w, code: http.StatusOK}
}

func (w *StatusWriter) WriteHeader(code int) {
	w.code = code
	w.ResponseWriter.WriteHeader(code)
}

// Status is the code sent to the client.
func (w *StatusWriter) Status() int { return w.code }
