// Package server implements the HTTP handlers and routing for the catalog service.
// It serves the public movie API, the visitor presence endpoints, the admin
// panel API with mirror site reporting, and the server-rendered pages.
package server

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/cinematic-site/cinematic-go/internal/auth"
	"github.com/cinematic-site/cinematic-go/internal/backup"
	"github.com/cinematic-site/cinematic-go/internal/catalog"
	errordefs "github.com/cinematic-site/cinematic-go/internal/errors"
	"github.com/cinematic-site/cinematic-go/internal/metrics"
	"github.com/cinematic-site/cinematic-go/internal/presence"
	"github.com/cinematic-site/cinematic-go/internal/registry"
	"github.com/cinematic-site/cinematic-go/internal/render"
	"github.com/cinematic-site/cinematic-go/internal/schema"
	"github.com/cinematic-site/cinematic-go/internal/storage"
	"github.com/cinematic-site/cinematic-go/internal/telemetry"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/go-playground/validator/v10"
	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

// ContextKey is used for context values to avoid collisions
// when storing values in request context
type ContextKey string

const (
	// Context keys for storing request-scoped values
	ContextKeyCorrelationID ContextKey = "correlationId" // Unique ID for request tracking
	ContextKeyAdmin         ContextKey = "admin"         // Admin username from the bearer token
	ContextKeySite          ContextKey = "site"          // Authenticated mirror site

	// maxBodyBytes caps every JSON request body
	maxBodyBytes = 64 << 10
)

// Deps are the collaborators the HTTP surface is wired to.
type Deps struct {
	Store       storage.Store
	Catalog     *catalog.Catalog
	Warmer      *catalog.Warmer
	Presence    *presence.Tracker
	Registry    *registry.Registry
	Signer      *auth.Signer
	Credentials *auth.Credentials
	Backups     *backup.Service
	Renderer    *render.Renderer
	Validator   *schema.Validator

	PublicDir          string   // Static pages and assets
	CORSAllowedOrigins []string // Allowed origins for CORS
	Logger             *slog.Logger

	// Rate limits; zero values use the defaults below
	LoginLimit     int
	LoginWindow    time.Duration
	HeartbeatLimit int
}

// Default rate limits per client IP.
const (
	defaultLoginLimit     = 5
	defaultLoginWindow    = 5 * time.Minute
	defaultHeartbeatLimit = 120 // per minute
)

// Mux handles HTTP requests for the catalog service.
type Mux struct {
	Deps
	router  chi.Router
	query   *validator.Validate // Query parameter validation
	metrics *metrics.Metrics
	tracer  trace.Tracer
}

// NewMux creates the router with every endpoint registered.
// Parameters:
//   - deps: Wired collaborators; Logger defaults to slog.Default()
//
// Returns:
//   - *Mux: Ready to serve as an http.Handler
func NewMux(deps Deps) *Mux {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.LoginLimit <= 0 {
		deps.LoginLimit = defaultLoginLimit
	}
	if deps.LoginWindow <= 0 {
		deps.LoginWindow = defaultLoginWindow
	}
	if deps.HeartbeatLimit <= 0 {
		deps.HeartbeatLimit = defaultHeartbeatLimit
	}

	m := &Mux{
		Deps:    deps,
		query:   validator.New(validator.WithRequiredStructEnabled()),
		metrics: metrics.NewMetrics(),
		tracer:  otel.Tracer(telemetry.TracerName),
	}

	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(m.correlate)
	r.Use(m.observe)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   deps.CORSAllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Authorization", "Content-Type", "X-API-Key", "X-Correlation-Id"},
		ExposedHeaders:   []string{"X-Correlation-Id"},
		AllowCredentials: false,
		MaxAge:           86400,
	}))

	r.Get("/healthz", m.handleHealthz)
	r.Get("/readyz", m.handleReadyz)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Get("/movie/{id}", m.handleMovie)
		r.Get("/search", m.handleSearch)
		r.Get("/top", m.handleTop)
		r.Get("/genre/{genre}", m.handleGenre)
		r.Get("/new", m.handleNew)
		r.Get("/series", m.handleSeries)
		r.Get("/films", m.handleFilms)
		r.Get("/collections", m.handleCollections)
		r.Get("/stats", m.handleStats)

		r.Route("/online", func(r chi.Router) {
			r.With(m.limit(deps.HeartbeatLimit, time.Minute)).Post("/heartbeat", m.handleOnlineHeartbeat)
			r.Get("/count", m.handleOnlineCount)
		})

		r.Route("/admin", func(r chi.Router) {
			r.With(m.limit(deps.LoginLimit, deps.LoginWindow)).Post("/login", m.handleLogin)

			// Mirror sites report with their own key, not an admin token.
			r.Group(func(r chi.Router) {
				r.Use(m.limit(deps.HeartbeatLimit, time.Minute), m.siteAuth)
				r.Post("/sites/{siteId}/heartbeat", m.handleSiteHeartbeat)
				r.Post("/sites/{siteId}/stats", m.handleSiteStats)
			})

			r.Group(func(r chi.Router) {
				r.Use(m.adminAuth)
				r.Get("/check", m.handleCheck)
				r.Get("/sites", m.handleListSites)
				r.Post("/sites", m.handleRegisterSite)
				r.Get("/sites/{siteId}", m.handleGetSite)
				r.Delete("/sites/{siteId}", m.handleDeleteSite)
				r.Get("/stats", m.handleAdminStats)
				r.Post("/cache/warm", m.handleCacheWarm)
				r.Post("/cache/backup", m.handleCacheBackup)
				r.Delete("/cache", m.handleCacheReset)
			})
		})
	})

	r.Get("/watch/{id}", m.handleWatch)
	r.Get("/movie/{id}", m.handleWatch)
	r.Get("/sitemap.xml", m.handleSitemap)
	r.Get("/", m.page("index.html"))
	r.Get("/movies", m.page("category.html"))
	r.Get("/series", m.page("category.html"))
	r.Get("/new", m.page("category.html"))
	r.Get("/category/{name}", m.page("category.html"))
	r.Get("/admin", m.page("admin.html"))
	r.Handle("/*", http.FileServer(http.Dir(deps.PublicDir)))

	m.router = r
	return m
}

// ServeHTTP implements http.Handler.
func (m *Mux) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	m.router.ServeHTTP(w, r)
}

// correlate binds a correlation id to the request, echoing the caller's.
func (m *Mux) correlate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		correlationID := r.Header.Get("X-Correlation-Id")
		if correlationID == "" {
			correlationID = uuid.New().String()
		}
		w.Header().Set("X-Correlation-Id", correlationID)
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), ContextKeyCorrelationID, correlationID)))
	})
}

// observe logs every request and records HTTP metrics by route pattern.
func (m *Mux) observe(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			route = rctx.RoutePattern()
		}
		duration := time.Since(start)
		labels := []string{r.Method, route, strconv.Itoa(status)}
		m.metrics.HTTPRequestTotal.WithLabelValues(labels...).Inc()
		m.metrics.HTTPRequestDuration.WithLabelValues(labels...).Observe(duration.Seconds())
		m.logRequest(r, status, duration, correlationID(r.Context()))
	})
}

// limit rate limits a route per client IP.
func (m *Mux) limit(requests int, window time.Duration) func(http.Handler) http.Handler {
	return httprate.Limit(requests, window,
		httprate.WithKeyFuncs(httprate.KeyByRealIP),
		httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
			m.fail(w, r, errordefs.CINE_RATE_LIMIT, "too many requests", nil)
		}),
	)
}

// correlationID returns the request's correlation id, if any.
func correlationID(ctx context.Context) string {
	id, _ := ctx.Value(ContextKeyCorrelationID).(string)
	return id
}

// writeJSON writes a JSON response body as is.
func (m *Mux) writeJSON(w http.ResponseWriter, statusCode int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(body)
}

// writeSuccess writes a successful envelope: fields plus success=true.
func (m *Mux) writeSuccess(w http.ResponseWriter, statusCode int, fields map[string]interface{}) {
	body := make(map[string]interface{}, len(fields)+1)
	for k, v := range fields {
		body[k] = v
	}
	body["success"] = true
	m.writeJSON(w, statusCode, body)
}

// writeErrorDef writes an error response using the error definitions package
func (m *Mux) writeErrorDef(w http.ResponseWriter, err *errordefs.Error) {
	m.writeJSON(w, err.HTTPStatus, map[string]interface{}{
		"success": false,
		"error":   err,
	})
}

// fail writes an error response bound to the request's correlation id.
func (m *Mux) fail(w http.ResponseWriter, r *http.Request, code errordefs.ErrorCode, message string, details interface{}) {
	m.writeErrorDef(w, errordefs.NewWithDetails(code, message, correlationID(r.Context()), details))
}

// readBody reads a capped request body and checks it against a schema.
// An empty body is read as an empty object.
func (m *Mux) readBody(w http.ResponseWriter, r *http.Request, kind string, dst interface{}) bool {
	raw, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		m.fail(w, r, errordefs.CINE_BAD_REQUEST, "request body too large", nil)
		return false
	}
	if len(raw) == 0 {
		raw = []byte("{}")
	}
	if err := m.Validator.Validate(kind, raw); err != nil {
		var details interface{}
		if verr, ok := err.(*schema.ValidationError); ok {
			details = verr.Details
		}
		m.fail(w, r, errordefs.CINE_SCHEMA_REJECT, "request body rejected", details)
		return false
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		m.fail(w, r, errordefs.CINE_VALIDATION, "invalid JSON", nil)
		return false
	}
	return true
}

// logRequest logs request details
func (m *Mux) logRequest(r *http.Request, status int, duration time.Duration, correlationID string) {
	attrs := []slog.Attr{
		slog.String("method", r.Method),
		slog.String("path", r.URL.Path),
		slog.Int("status", status),
		slog.Duration("duration", duration),
		slog.String("user_agent", r.UserAgent()),
		slog.String("remote_addr", r.RemoteAddr),
	}

	if correlationID != "" {
		attrs = append(attrs, slog.String("correlation_id", correlationID))
	}

	level := slog.LevelInfo
	switch {
	case status >= 500:
		level = slog.LevelError
	case status >= 400:
		level = slog.LevelWarn
	}
	m.Logger.LogAttrs(r.Context(), level, "request completed", attrs...)
}

// handleHealthz handles liveness health check requests
func (m *Mux) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// handleReadyz reports whether the store answers.
func (m *Mux) handleReadyz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	if err := m.Store.Ping(ctx); err != nil {
		m.Logger.WarnContext(ctx, "readiness check failed", "error", err)
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("not ready"))
		return
	}

	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}
