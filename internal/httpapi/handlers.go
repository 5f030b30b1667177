package httpapi

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"sitekeeper.io/internal/audit"
	"sitekeeper.io/internal/auth"
	"sitekeeper.io/internal/content"
	"sitekeeper.io/internal/obs"
	"sitekeeper.io/internal/ratelimit"
)

const serviceName = "sitekeeper"

// Readiness reports whether the service can take traffic.
type Readiness interface {
	Check(ctx context.Context) error
}

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

// Deps are the collaborators the HTTP layer drives.
type Deps struct {
	Logger   *zap.Logger
	Actors   *auth.Registry
	Sessions *auth.Codec
	Limiter  *ratelimit.Limiter
	Audit    *audit.Log
	Content  content.Store
	Ready    Readiness
}

// Options tune request handling.
type Options struct {
	Version       string
	CodeLength    int
	SecureCookies bool
	TrustProxy    bool
	RateBurst     int
	RatePerSecond int
	MaxBodyBytes  int64
}

// DefaultOptions mirrors the configuration defaults.
func DefaultOptions() Options {
	return Options{
		Version:       "dev",
		CodeLength:    13,
		RateBurst:     30,
		RatePerSecond: 10,
		MaxBodyBytes:  1 << 20,
	}
}

// API is the HTTP layer.
type API struct {
	router   *mux.Router
	logger   *zap.Logger
	actors   *auth.Registry
	sessions *auth.Codec
	limiter  *ratelimit.Limiter
	audit    *audit.Log
	content  content.Store
	ready    Readiness
	validate *validator.Validate
	opts     Options

	// wait imposes the post-failure delay; replaced in tests.
	wait func(ctx context.Context, d time.Duration) error
	now  func() time.Time
}

// New wires the router. Missing collaborators fail closed at request time.
func New(deps Deps, opts Options) *API {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	ready := deps.Ready
	if ready == nil {
		ready = ReadyProbe{}
	}
	var counter ratelimit.FailureCounter
	auditLog := deps.Audit
	if auditLog == nil {
		auditLog = audit.NewLog(nil, logger)
	} else {
		counter = auditLog
	}
	limiter := deps.Limiter
	if limiter == nil {
		limiter = ratelimit.New(ratelimit.DefaultConfig(), counter, logger)
	}
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = 1 << 20
	}

	a := &API{
		router:   mux.NewRouter(),
		logger:   logger.Named("http"),
		actors:   deps.Actors,
		sessions: deps.Sessions,
		limiter:  limiter,
		audit:    auditLog,
		content:  deps.Content,
		ready:    ready,
		validate: validator.New(validator.WithRequiredStructEnabled()),
		opts:     opts,
		wait:     ratelimit.Wait,
		now:      time.Now,
	}
	a.routes()
	return a
}

func (a *API) routes() {
	r := a.router
	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, r, http.StatusNotFound, "not found")
	})
	r.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, r, http.StatusMethodNotAllowed, "method not allowed")
	})

	r.HandleFunc("/healthz", a.Healthz).Methods(http.MethodGet)
	r.HandleFunc("/readyz", a.Ready).Methods(http.MethodGet)
	r.Handle("/metrics", obs.Handler()).Methods(http.MethodGet)

	api := r.PathPrefix("/api/admin").Subrouter()
	api.NotFoundHandler = r.NotFoundHandler
	api.MethodNotAllowedHandler = r.MethodNotAllowedHandler
	api.HandleFunc("/login", a.handleLogin).Methods(http.MethodPost)
	api.HandleFunc("/logout", a.handleLogout).Methods(http.MethodPost)
	api.HandleFunc("/content/{domain}", a.handleGetContent).Methods(http.MethodGet)
	api.HandleFunc("/content/{domain}", a.handlePutContent).Methods(http.MethodPut)
	api.HandleFunc("/audit", a.handleListAudit).Methods(http.MethodGet)

	r.HandleFunc("/admin/login", a.handleLoginPage).Methods(http.MethodGet)
	r.HandleFunc("/admin", a.handleAdminPage).Methods(http.MethodGet)
	r.PathPrefix("/admin/").HandlerFunc(a.handleAdminPage).Methods(http.MethodGet)
}

// Handler returns the fully wrapped handler for the HTTP server.
func (a *API) Handler() http.Handler {
	var h http.Handler = a.router
	h = a.withAccessGate(h)
	h = obs.Instrument(h)
	h = MaxBodyBytes(h, a.opts.MaxBodyBytes)
	if a.opts.RateBurst > 0 && a.opts.RatePerSecond > 0 {
		h = RateLimit(h, a.opts.RateBurst, a.opts.RatePerSecond, a.opts.TrustProxy)
	}
	h = SecurityHeaders(h)
	h = LoggingJSON(h, a.logger)
	return RequestID(h)
}

func (a *API) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": serviceName,
		"version": a.opts.Version,
	})
}

func (a *API) Ready(w http.ResponseWriter, r *http.Request) {
	if err := a.ready.Check(r.Context()); err != nil {
		a.logger.Warn("readiness check failed", zap.Error(err))
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "not_ready",
		})
		return
	}
	if a.sessions == nil || !a.sessions.Configured() || a.actors.Len() == 0 {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "not_ready",
			"error":  "authentication is not configured",
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ready",
	})
}

// --- helpers ---

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, r *http.Request, code int, msg string) {
	payload := map[string]any{
		"ok":    false,
		"error": msg,
	}
	if rid := audit.RequestIDFromContext(r.Context()); rid != "" {
		payload["request_id"] = rid
	}
	writeJSON(w, code, payload)
}

func decodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("request body is required")
		}
		return err
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		if err == nil {
			return errors.New("unexpected data after JSON body")
		}
		return err
	}
	return nil
}

func parsePositiveInt(raw string, def, min, max int) (int, error) {
	if strings.TrimSpace(raw) == "" {
		return def, nil
	}
	val, err := strconv.Atoi(raw)
	if err != nil {
		return 0, errors.New("limit must be an integer")
	}
	if val < min || val > max {
		return 0, errors.New("limit must be between " + strconv.Itoa(min) + " and " + strconv.Itoa(max))
	}
	return val, nil
}
