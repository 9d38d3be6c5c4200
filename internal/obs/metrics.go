package obs

import (
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	initOnce sync.Once

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

	sessionsIssued = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "auth_sessions_issued_total",
			Help: "Sessions issued, by method (register, login, refresh).",
		},
		[]string{"method"},
	)

	refreshOutcomes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "auth_refresh_total",
			Help: "Refresh rotations, by outcome.",
		},
		[]string{"outcome"},
	)

	refreshReuse = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "auth_refresh_reuse_total",
		Help: "Presentations of an already rotated refresh token.",
	})

	ledgerSwept = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "auth_ledger_swept_total",
		Help: "Refresh records deleted by the ledger sweep.",
	})
)

// Init registers the service metrics in the default registry. Safe to call more than once.
func Init() {
	initOnce.Do(func() {
		prometheus.MustRegister(
			httpInFlight, httpRequestsTotal, httpRequestDuration,
			sessionsIssued, refreshOutcomes, refreshReuse, ledgerSwept,
		)
	})
}

// Handler exposes the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}

// SessionIssued counts a session minted through method.
func SessionIssued(method string) { sessionsIssued.WithLabelValues(method).Inc() }

// RefreshOutcome counts a rotation attempt by outcome code.
func RefreshOutcome(outcome string) { refreshOutcomes.WithLabelValues(outcome).Inc() }

// RefreshReuse counts a detected refresh token reuse.
func RefreshReuse() { refreshReuse.Inc() }

// LedgerSwept adds n deleted ledger rows.
func LedgerSwept(n int64) {
	if n > 0 {
		ledgerSwept.Add(float64(n))
	}
}

var knownPaths = map[string]struct{}{
	"/":              {},
	"/auth/register": {},
	"/auth/login":    {},
	"/auth/refresh":  {},
	"/auth/logout":   {},
	"/auth/me":       {},
	"/healthz":       {},
	"/readyz":        {},
	"/metrics":       {},
}

// CanonicalPath maps a request path to a bounded label value.
func CanonicalPath(path string) string {
	if i := strings.IndexByte(path, '?'); i >= 0 {
		path = path[:i]
	}
	if path == "" {
		return "/"
	}
	if len(path) > 1 {
		path = strings.TrimSuffix(path, "/")
	}
	if _, ok := knownPaths[path]; ok {
		return path
	}
	return "other"
}

// Instrument records in-flight, count and latency for every request.
func Instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path := CanonicalPath(r.URL.Path)
		method := r.Method

		httpInFlight.Inc()
		defer httpInFlight.Dec()
		start := time.Now()

		sw := &statusWriter{ResponseWriter: w, code: http.StatusOK}
		next.ServeHTTP(sw, r)

		status := strconv.Itoa(sw.code)
		httpRequestDuration.WithLabelValues(method, path, status).Observe(time.Since(start).Seconds())
		httpRequestsTotal.WithLabelValues(method, path, status).Inc()
	})
}

type statusWriter struct {
	http.ResponseWriter
	code int
}

func (w *statusWriter) WriteHeader(code int) {
	w.code = code
	w.ResponseWriter.WriteHeader(code)
}
