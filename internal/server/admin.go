package server

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/cinematic-site/cinematic-go/internal/auth"
	"github.com/cinematic-site/cinematic-go/internal/backup"
	"github.com/cinematic-site/cinematic-go/internal/catalog"
	errordefs "github.com/cinematic-site/cinematic-go/internal/errors"
	"github.com/cinematic-site/cinematic-go/internal/model"
	"github.com/cinematic-site/cinematic-go/internal/registry"
	"github.com/cinematic-site/cinematic-go/internal/schema"
	"github.com/cinematic-site/cinematic-go/internal/storage"
	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type registerRequest struct {
	Name   string `json:"name"`
	Domain string `json:"domain"`
}

type siteHeartbeatRequest struct {
	Online int   `json:"online"`
	Views  int64 `json:"views"`
}

type siteStatsRequest struct {
	Views  int64 `json:"views"`
	Events int64 `json:"events"`
}

// adminAuth requires a valid admin bearer token.
func (m *Mux) adminAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		if header == "" {
			m.fail(w, r, errordefs.CINE_AUTHN, "missing Authorization header", nil)
			return
		}
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || token == "" {
			m.fail(w, r, errordefs.CINE_AUTHN, "invalid Authorization header format", nil)
			return
		}

		claims, err := m.Signer.Validate(token)
		switch {
		case errors.Is(err, auth.ErrTokenExpired):
			m.fail(w, r, errordefs.CINE_TOKEN_EXPIRED, "token expired", nil)
			return
		case err != nil:
			m.fail(w, r, errordefs.CINE_TOKEN_INVALID, "invalid token", nil)
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), ContextKeyAdmin, claims.Subject)))
	})
}

// siteAuth requires the X-API-Key of the site named in the path.
func (m *Mux) siteAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		site, err := m.Registry.Authenticate(r.Context(), chi.URLParam(r, "siteId"), r.Header.Get("X-API-Key"))
		if errors.Is(err, registry.ErrUnauthorized) {
			m.fail(w, r, errordefs.CINE_API_KEY_INVALID, "Invalid API key", nil)
			return
		}
		if err != nil {
			m.Logger.ErrorContext(r.Context(), "site authentication failed", "error", err)
			m.fail(w, r, errordefs.CINE_INTERNAL, "failed to authenticate site", nil)
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), ContextKeySite, site)))
	})
}

// handleLogin handles POST /api/admin/login
func (m *Mux) handleLogin(w http.ResponseWriter, r *http.Request) {
	ctx, span := m.tracer.Start(r.Context(), "handleLogin")
	defer span.End()

	var req loginRequest
	if !m.readBody(w, r, schema.Login, &req) {
		return
	}
	if !m.Credentials.Verify(req.Username, req.Password) {
		span.SetStatus(codes.Error, "bad credentials")
		m.Logger.WarnContext(ctx, "admin login rejected", "username", req.Username, "remote_addr", clientIP(r))
		m.fail(w, r, errordefs.CINE_AUTHN, "Invalid credentials", nil)
		return
	}

	token, claims, err := m.Signer.Issue(req.Username)
	if err != nil {
		span.SetStatus(codes.Error, "failed to issue token")
		m.Logger.ErrorContext(ctx, "token issue failed", "error", err)
		m.fail(w, r, errordefs.CINE_INTERNAL, "failed to issue token", nil)
		return
	}
	m.writeSuccess(w, http.StatusOK, map[string]interface{}{
		"token":     token,
		"expiresAt": claims.ExpiresAt,
	})
}

// handleCheck handles GET /api/admin/check
func (m *Mux) handleCheck(w http.ResponseWriter, r *http.Request) {
	_, span := m.tracer.Start(r.Context(), "handleCheck")
	defer span.End()

	user, _ := r.Context().Value(ContextKeyAdmin).(string)
	m.writeSuccess(w, http.StatusOK, map[string]interface{}{
		"user": map[string]string{"username": user},
	})
}

// handleListSites handles GET /api/admin/sites
func (m *Mux) handleListSites(w http.ResponseWriter, r *http.Request) {
	ctx, span := m.tracer.Start(r.Context(), "handleListSites")
	defer span.End()

	sites, err := m.Registry.List(ctx)
	if err != nil {
		span.SetStatus(codes.Error, "failed to list sites")
		m.internal(w, r, "failed to list sites", err)
		return
	}
	m.writeSuccess(w, http.StatusOK, map[string]interface{}{"sites": sites})
}

// handleRegisterSite handles POST /api/admin/sites. The response is the only
// place the full API key is shown.
func (m *Mux) handleRegisterSite(w http.ResponseWriter, r *http.Request) {
	ctx, span := m.tracer.Start(r.Context(), "handleRegisterSite")
	defer span.End()

	var req registerRequest
	if !m.readBody(w, r, schema.SiteRegister, &req) {
		return
	}

	site, err := m.Registry.Register(ctx, registry.Registration{Name: req.Name, Domain: req.Domain})
	switch {
	case errors.Is(err, registry.ErrInvalid):
		span.SetStatus(codes.Error, "invalid site")
		m.fail(w, r, errordefs.CINE_VALIDATION, "Name and domain are required", nil)
		return
	case err != nil:
		span.SetStatus(codes.Error, "failed to register site")
		m.internal(w, r, "failed to register site", err)
		return
	}
	span.SetAttributes(attribute.String("site_id", site.SiteID))
	m.writeSuccess(w, http.StatusCreated, map[string]interface{}{"site": site})
}

// handleGetSite handles GET /api/admin/sites/{siteId}
func (m *Mux) handleGetSite(w http.ResponseWriter, r *http.Request) {
	ctx, span := m.tracer.Start(r.Context(), "handleGetSite")
	defer span.End()

	site, err := m.Registry.Get(ctx, chi.URLParam(r, "siteId"))
	if err != nil {
		m.siteError(w, r, err)
		return
	}
	m.writeSuccess(w, http.StatusOK, map[string]interface{}{"site": site})
}

// handleDeleteSite handles DELETE /api/admin/sites/{siteId}
func (m *Mux) handleDeleteSite(w http.ResponseWriter, r *http.Request) {
	ctx, span := m.tracer.Start(r.Context(), "handleDeleteSite")
	defer span.End()

	if err := m.Registry.Delete(ctx, chi.URLParam(r, "siteId")); err != nil {
		m.siteError(w, r, err)
		return
	}
	m.writeSuccess(w, http.StatusOK, nil)
}

// handleSiteHeartbeat handles POST /api/admin/sites/{siteId}/heartbeat
func (m *Mux) handleSiteHeartbeat(w http.ResponseWriter, r *http.Request) {
	ctx, span := m.tracer.Start(r.Context(), "handleSiteHeartbeat")
	defer span.End()

	var req siteHeartbeatRequest
	if !m.readBody(w, r, schema.SiteHeartbeat, &req) {
		return
	}
	site, err := m.Registry.Heartbeat(ctx, chi.URLParam(r, "siteId"), registry.Heartbeat{Online: req.Online, Views: req.Views})
	if err != nil {
		m.siteError(w, r, err)
		return
	}
	m.writeSuccess(w, http.StatusOK, map[string]interface{}{"site": site.Redacted()})
}

// handleSiteStats handles POST /api/admin/sites/{siteId}/stats
func (m *Mux) handleSiteStats(w http.ResponseWriter, r *http.Request) {
	ctx, span := m.tracer.Start(r.Context(), "handleSiteStats")
	defer span.End()

	var req siteStatsRequest
	if !m.readBody(w, r, schema.SiteStats, &req) {
		return
	}
	site, err := m.Registry.ReportStats(ctx, chi.URLParam(r, "siteId"), registry.StatsReport{Views: req.Views, Events: req.Events})
	if err != nil {
		m.siteError(w, r, err)
		return
	}
	m.writeSuccess(w, http.StatusOK, map[string]interface{}{"site": site.Redacted()})
}

// handleAdminStats handles GET /api/admin/stats
func (m *Mux) handleAdminStats(w http.ResponseWriter, r *http.Request) {
	ctx, span := m.tracer.Start(r.Context(), "handleAdminStats")
	defer span.End()

	stats, err := m.Registry.Aggregate(ctx)
	if err != nil {
		m.internal(w, r, "failed to aggregate stats", err)
		return
	}
	cache, err := m.Catalog.Stats(ctx)
	if err != nil {
		m.Logger.WarnContext(ctx, "cache stats failed", "error", err)
		cache = model.CacheStats{}
	}
	m.writeSuccess(w, http.StatusOK, map[string]interface{}{
		"stats":  stats,
		"cache":  cache,
		"online": m.Presence.Count(),
	})
}

// handleCacheWarm handles POST /api/admin/cache/warm. The warm-up runs in
// the background and outlives the request.
func (m *Mux) handleCacheWarm(w http.ResponseWriter, r *http.Request) {
	ctx, span := m.tracer.Start(r.Context(), "handleCacheWarm")
	defer span.End()

	err := m.Warmer.Start(context.WithoutCancel(ctx))
	if errors.Is(err, catalog.ErrWarmInProgress) {
		span.SetStatus(codes.Error, "warm-up in progress")
		m.fail(w, r, errordefs.CINE_CONFLICT, "warm-up already in progress", nil)
		return
	}
	m.writeSuccess(w, http.StatusAccepted, map[string]interface{}{"started": true})
}

// handleCacheBackup handles POST /api/admin/cache/backup
func (m *Mux) handleCacheBackup(w http.ResponseWriter, r *http.Request) {
	ctx, span := m.tracer.Start(r.Context(), "handleCacheBackup")
	defer span.End()

	res, err := m.Backups.Run(ctx)
	switch {
	case errors.Is(err, backup.ErrDisabled):
		m.fail(w, r, errordefs.CINE_UNAVAILABLE, "backups are not configured", nil)
		return
	case err != nil:
		span.SetStatus(codes.Error, "backup failed")
		m.internal(w, r, "backup failed", err)
		return
	}
	span.SetAttributes(attribute.String("key", res.Key), attribute.Int("movies", res.Movies))
	m.writeSuccess(w, http.StatusOK, map[string]interface{}{"backup": res})
}

// handleCacheReset handles DELETE /api/admin/cache
func (m *Mux) handleCacheReset(w http.ResponseWriter, r *http.Request) {
	ctx, span := m.tracer.Start(r.Context(), "handleCacheReset")
	defer span.End()

	if err := m.Catalog.Reset(ctx); err != nil {
		m.internal(w, r, "failed to reset cache", err)
		return
	}
	m.Logger.InfoContext(ctx, "cache reset", "admin", r.Context().Value(ContextKeyAdmin))
	m.writeSuccess(w, http.StatusOK, nil)
}

// siteError maps registry and store errors for the site endpoints.
func (m *Mux) siteError(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, storage.ErrNotFound) {
		m.fail(w, r, errordefs.CINE_NOT_FOUND, "Site not found", nil)
		return
	}
	m.internal(w, r, "site operation failed", err)
}

// internal logs err and writes a 500.
func (m *Mux) internal(w http.ResponseWriter, r *http.Request, message string, err error) {
	m.Logger.ErrorContext(r.Context(), message, "error", err, "correlation_id", correlationID(r.Context()))
	m.fail(w, r, errordefs.CINE_INTERNAL, message, nil)
}
