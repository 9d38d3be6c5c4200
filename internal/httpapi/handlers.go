package httpapi

import (
	"context"
	"database/sql"
	"net/http"
	"net/netip"

	"spendly.app/internal/auth"
	"spendly.app/internal/obs"
)

const serviceName = "spendly-api"

// ReadyProbe pings the database when one is configured.
type ReadyProbe struct {
	DB *sql.DB
}

func (rp ReadyProbe) Check(ctx context.Context) error {
	if rp.DB == nil {
		return nil
	}
	return rp.DB.PingContext(ctx)
}

// API is the HTTP surface of the session core.
type API struct {
	mux        *http.ServeMux
	svc        *auth.Service
	authCfg    auth.Config
	readyProbe ReadyProbe
	version    string

	rateBurst  int
	ratePerSec float64
	trusted    []netip.Prefix
}

// Option configures the API.
type Option func(*API)

// WithCredentialRateLimit limits register, login and refresh per client IP.
func WithCredentialRateLimit(perSecond float64, burst int) Option {
	return func(a *API) {
		if perSecond > 0 && burst > 0 {
			a.ratePerSec = perSecond
			a.rateBurst = burst
		}
	}
}

// WithTrustedProxies names the proxies whose X-Forwarded-For header is believed.
func WithTrustedProxies(prefixes ...netip.Prefix) Option {
	return func(a *API) { a.trusted = append(a.trusted, prefixes...) }
}

func New(svc *auth.Service, rp ReadyProbe, version string, opts ...Option) *API {
	a := &API{
		mux:        http.NewServeMux(),
		svc:        svc,
		authCfg:    svc.Config(),
		readyProbe: rp,
		version:    version,
		rateBurst:  5,
		ratePerSec: 1,
	}
	for _, opt := range opts {
		opt(a)
	}

	limited := func(h http.Handler) http.Handler {
		return RateLimit(h, a.rateBurst, a.ratePerSec)
	}

	// health/ready
	a.mux.HandleFunc("/healthz", a.Healthz)
	a.mux.HandleFunc("/readyz", a.Ready)

	// session endpoints
	a.mux.Handle("/auth/register", limited(http.HandlerFunc(a.handleRegister)))
	a.mux.Handle("/auth/login", limited(http.HandlerFunc(a.handleLogin)))
	a.mux.Handle("/auth/refresh", limited(http.HandlerFunc(a.handleRefresh)))
	a.mux.Handle("/auth/logout", a.RequireSession(http.HandlerFunc(a.handleLogout)))
	a.mux.Handle("/auth/me", a.RequireSession(http.HandlerFunc(a.handleMe)))

	// Prometheus metrics
	a.mux.Handle("/metrics", obs.Handler())

	a.mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		writeError(w, r, http.StatusNotFound, "NOT_FOUND", "resource not found")
	})

	return a
}

// Handler returns the full middleware chain around the mux.
func (a *API) Handler() http.Handler {
	var h http.Handler = obs.Instrument(a.mux)
	h = MaxBodyBytes(h, maxBodyBytes)
	h = CORS(h)
	h = SecurityHeaders(h)
	h = LoggingJSON(h)
	h = ClientIP(h, a.trusted)
	return RequestID(h)
}

func (a *API) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": serviceName,
		"version": a.version,
	})
}

func (a *API) Ready(w http.ResponseWriter, r *http.Request) {
	if err := a.readyProbe.Check(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "not_ready",
			"error":  err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ready",
	})
}
