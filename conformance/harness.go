// Package conformance provides a test harness that runs the full HTTP surface
// against a scripted origin and checks the externally observable behavior.
package conformance

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cinematic-site/cinematic-go/internal/auth"
	"github.com/cinematic-site/cinematic-go/internal/backup"
	"github.com/cinematic-site/cinematic-go/internal/catalog"
	"github.com/cinematic-site/cinematic-go/internal/model"
	"github.com/cinematic-site/cinematic-go/internal/origin"
	"github.com/cinematic-site/cinematic-go/internal/presence"
	"github.com/cinematic-site/cinematic-go/internal/registry"
	"github.com/cinematic-site/cinematic-go/internal/render"
	"github.com/cinematic-site/cinematic-go/internal/schema"
	"github.com/cinematic-site/cinematic-go/internal/server"
	"github.com/cinematic-site/cinematic-go/internal/storage"
	"github.com/goccy/go-json"
)

// Config holds configuration for the conformance test harness.
type Config struct {
	OnlineTimeout    time.Duration // Visitor inactivity window
	SiteOfflineAfter time.Duration // Mirror heartbeat timeout
	AdminUsername    string
	AdminPassword    string

	// Films are the detail bodies the scripted origin serves, by id
	Films map[int64]string
}

// Clock is a manually advanced time source shared by every component.
type Clock struct {
	mu  sync.Mutex
	now time.Time
}

// Now returns the current harness time.
func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves the clock forward.
func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// Harness runs the service behind an httptest server.
type Harness struct {
	cfg      Config
	server   *httptest.Server
	origin   *httptest.Server
	store    storage.Store
	presence *presence.Tracker
	registry *registry.Registry
	clock    *Clock

	originDown  atomic.Bool  // Origin drops every connection while set
	originCalls atomic.Int32 // Requests that reached the origin

	bearer string // Admin Authorization header, once logged in
}

// NewHarness creates a new conformance test harness.
func NewHarness(cfg Config) (*Harness, error) {
	if cfg.OnlineTimeout == 0 {
		cfg.OnlineTimeout = 60 * time.Second
	}
	if cfg.SiteOfflineAfter == 0 {
		cfg.SiteOfflineAfter = 2 * time.Minute
	}
	if cfg.AdminUsername == "" {
		cfg.AdminUsername, cfg.AdminPassword = "admin", "cinema2024"
	}

	h := &Harness{
		cfg:   cfg,
		store: storage.NewMemory(),
		clock: &Clock{now: time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)},
	}
	h.origin = httptest.NewServer(http.HandlerFunc(h.serveOrigin))

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	src := origin.New(origin.Config{BaseURL: h.origin.URL, APIKey: "conformance", Timeout: 2 * time.Second, FailureThreshold: 1000})
	cat := catalog.New(h.store, src, catalog.WithClock(h.clock.Now), catalog.WithLogger(logger))

	h.presence = presence.New(presence.Config{Timeout: cfg.OnlineTimeout}, presence.WithClock(h.clock.Now))
	h.registry = registry.New(h.store, registry.Config{OfflineAfter: cfg.SiteOfflineAfter},
		registry.WithClock(h.clock.Now), registry.WithLogger(logger))

	creds, err := auth.NewCredentials(cfg.AdminUsername, cfg.AdminPassword, "")
	if err != nil {
		return nil, fmt.Errorf("failed to create admin credentials: %w", err)
	}
	renderer, err := render.New("https://cinematic.test")
	if err != nil {
		return nil, fmt.Errorf("failed to create renderer: %w", err)
	}
	validator, err := schema.NewValidator()
	if err != nil {
		return nil, fmt.Errorf("failed to initialize schema validator: %w", err)
	}

	mux := server.NewMux(server.Deps{
		Store:              h.store,
		Catalog:            cat,
		Warmer:             catalog.NewWarmer(cat, 0, 0),
		Presence:           h.presence,
		Registry:           h.registry,
		Signer:             auth.NewSigner("conformance-secret", time.Hour, auth.WithClock(h.clock.Now)),
		Credentials:        creds,
		Backups:            backup.NewService(nil, cat),
		Renderer:           renderer,
		Validator:          validator,
		PublicDir:          ".",
		CORSAllowedOrigins: []string{"*"},
		Logger:             logger,
	})
	h.server = httptest.NewServer(mux)
	return h, nil
}

// URL returns the base URL of the service.
func (h *Harness) URL() string {
	return h.server.URL
}

// Close stops the service and the scripted origin.
func (h *Harness) Close() {
	h.server.Close()
	h.origin.Close()
	h.store.Close()
}

// SetOriginDown makes the origin drop connections, like a network failure.
func (h *Harness) SetOriginDown(down bool) {
	h.originDown.Store(down)
}

// Advance moves the shared clock and runs both sweeps.
func (h *Harness) Advance(d time.Duration) error {
	h.clock.Advance(d)
	h.presence.Sweep()
	_, err := h.registry.Sweep(context.Background())
	return err
}

// serveOrigin plays the film API.
func (h *Harness) serveOrigin(w http.ResponseWriter, r *http.Request) {
	h.originCalls.Add(1)
	if h.originDown.Load() {
		if hj, ok := w.(http.Hijacker); ok {
			if conn, _, err := hj.Hijack(); err == nil {
				conn.Close()
				return
			}
		}
		w.WriteHeader(http.StatusBadGateway)
		return
	}

	const filmPrefix = "/api/v2.2/films/"
	if id := strings.TrimPrefix(r.URL.Path, filmPrefix); id != r.URL.Path && !strings.Contains(id, "/") {
		for filmID, body := range h.cfg.Films {
			if fmt.Sprint(filmID) == id {
				_, _ = io.WriteString(w, body)
				return
			}
		}
		w.WriteHeader(http.StatusNotFound)
		return
	}
	_, _ = io.WriteString(w, `{"total":0,"totalPages":1,"items":[]}`)
}

// do sends a request and decodes the JSON response.
func (h *Harness) do(t *testing.T, method, path, body string, headers ...string) (int, map[string]interface{}) {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req, err := http.NewRequest(method, h.URL()+path, reader)
	if err != nil {
		t.Fatal(err)
	}
	req.Header.Set("Content-Type", "application/json")
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(resp.Body)
	var out map[string]interface{}
	_ = json.Unmarshal(raw, &out)
	return resp.StatusCode, out
}

// RunConformanceTests runs the full conformance suite.
func (h *Harness) RunConformanceTests(t *testing.T) {
	t.Run("Health", h.testHealthEndpoints)
	t.Run("AdminAuth", h.testAdminAuth)
	t.Run("SiteRegistration", h.testSiteRegistration)
	t.Run("SiteOfflineSweep", h.testSiteOfflineSweep)
	t.Run("OnlinePresence", h.testOnlinePresence)
	t.Run("MovieStubOnOriginFailure", h.testMovieStub)
	t.Run("CacheSurvivesOutage", h.testCacheSurvivesOutage)
	t.Run("ListingFallback", h.testListingFallback)
}

func (h *Harness) testHealthEndpoints(t *testing.T) {
	for _, path := range []string{"/healthz", "/readyz"} {
		resp, err := http.Get(h.URL() + path)
		if err != nil {
			t.Fatalf("GET %s: %v", path, err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			t.Errorf("GET %s: got %v want %v", path, resp.StatusCode, http.StatusOK)
		}
	}
}

// login returns the admin Authorization header. Login is rate limited,
// so the token is reused across tests.
func (h *Harness) login(t *testing.T) string {
	t.Helper()
	if h.bearer != "" {
		return h.bearer
	}
	body := fmt.Sprintf(`{"username":%q,"password":%q}`, h.cfg.AdminUsername, h.cfg.AdminPassword)
	status, resp := h.do(t, "POST", "/api/admin/login", body)
	if status != http.StatusOK {
		t.Fatalf("login: got %v want %v", status, http.StatusOK)
	}
	token, _ := resp["token"].(string)
	h.bearer = "Bearer " + token
	return h.bearer
}

func (h *Harness) testAdminAuth(t *testing.T) {
	if status, _ := h.do(t, "GET", "/api/admin/sites", ""); status != http.StatusUnauthorized {
		t.Errorf("sites without token: got %v want %v", status, http.StatusUnauthorized)
	}
	status, resp := h.do(t, "GET", "/api/admin/check", "", "Authorization", h.login(t))
	if status != http.StatusOK || resp["success"] != true {
		t.Errorf("check = %v %v, want success", status, resp)
	}
}

func (h *Harness) testSiteRegistration(t *testing.T) {
	bearer := h.login(t)
	status, resp := h.do(t, "POST", "/api/admin/sites", `{"name":"Mirror A","domain":"a.example"}`, "Authorization", bearer)
	if status != http.StatusCreated {
		t.Fatalf("register: got %v want %v", status, http.StatusCreated)
	}
	site, _ := resp["site"].(map[string]interface{})
	siteID, _ := site["siteId"].(string)
	apiKey, _ := site["apiKey"].(string)
	if !strings.HasPrefix(siteID, "site_") || !strings.HasPrefix(apiKey, "ck_") {
		t.Fatalf("site = %v, want site_ id and ck_ key", site)
	}

	_, resp = h.do(t, "GET", "/api/admin/sites", "", "Authorization", bearer)
	sites, _ := resp["sites"].([]interface{})
	found := false
	for _, s := range sites {
		listed, _ := s.(map[string]interface{})
		if listed["siteId"] != siteID {
			continue
		}
		found = true
		if want := apiKey[:8] + "..."; listed["apiKey"] != want {
			t.Errorf("listed apiKey = %v, want %v", listed["apiKey"], want)
		}
	}
	if !found {
		t.Errorf("registered site %s missing from listing", siteID)
	}
}

func (h *Harness) testSiteOfflineSweep(t *testing.T) {
	bearer := h.login(t)
	_, resp := h.do(t, "POST", "/api/admin/sites", `{"name":"Mirror B","domain":"b.example"}`, "Authorization", bearer)
	site, _ := resp["site"].(map[string]interface{})
	siteID, _ := site["siteId"].(string)
	apiKey, _ := site["apiKey"].(string)

	status, resp := h.do(t, "POST", "/api/admin/sites/"+siteID+"/heartbeat", `{"online":4,"views":9}`, "X-API-Key", apiKey)
	site, _ = resp["site"].(map[string]interface{})
	if status != http.StatusOK || site["status"] != string(model.SiteOnline) {
		t.Fatalf("heartbeat = %v %v, want online", status, resp)
	}

	if err := h.Advance(h.cfg.SiteOfflineAfter + time.Second); err != nil {
		t.Fatal(err)
	}
	_, resp = h.do(t, "GET", "/api/admin/sites/"+siteID, "", "Authorization", h.login(t))
	site, _ = resp["site"].(map[string]interface{})
	stats, _ := site["stats"].(map[string]interface{})
	if site["status"] != string(model.SiteOffline) || stats["onlineNow"] != float64(0) {
		t.Errorf("site after sweep = %v, want offline with onlineNow 0", site)
	}
	if stats["viewsTotal"] != float64(9) {
		t.Errorf("viewsTotal after sweep = %v, want 9", stats["viewsTotal"])
	}
}

func (h *Harness) testOnlinePresence(t *testing.T) {
	status, resp := h.do(t, "POST", "/api/online/heartbeat", `{"sessionId":"s1"}`)
	if status != http.StatusOK || resp["success"] != true {
		t.Fatalf("heartbeat = %v %v, want success", status, resp)
	}
	if _, resp = h.do(t, "GET", "/api/online/count", ""); resp["online"] != float64(1) {
		t.Errorf("count = %v, want 1", resp)
	}

	if err := h.Advance(h.cfg.OnlineTimeout + time.Second); err != nil {
		t.Fatal(err)
	}
	if _, resp = h.do(t, "GET", "/api/online/count", ""); resp["online"] != float64(0) {
		t.Errorf("count after timeout = %v, want 0", resp)
	}
}

func (h *Harness) testMovieStub(t *testing.T) {
	h.SetOriginDown(true)
	defer h.SetOriginDown(false)

	status, resp := h.do(t, "GET", "/api/movie/447301", "")
	if status != http.StatusOK || resp["success"] != true {
		t.Fatalf("movie = %v %v, want success", status, resp)
	}
	movie, _ := resp["movie"].(map[string]interface{})
	if movie["id"] != float64(447301) || movie["title"] != model.PlaceholderTitle || movie["streamUrl"] != "/watch/447301" {
		t.Errorf("movie = %v, want stub", movie)
	}
}

func (h *Harness) testCacheSurvivesOutage(t *testing.T) {
	status, resp := h.do(t, "GET", "/api/movie/435", "")
	movie, _ := resp["movie"].(map[string]interface{})
	if status != http.StatusOK || movie["description"] == nil {
		t.Fatalf("movie 435 = %v %v, want complete record", status, resp)
	}

	h.SetOriginDown(true)
	defer h.SetOriginDown(false)
	before := h.originCalls.Load()

	_, resp = h.do(t, "GET", "/api/movie/435", "")
	cached, _ := resp["movie"].(map[string]interface{})
	if cached["title"] != movie["title"] || cached["description"] != movie["description"] {
		t.Errorf("cached movie = %v, want %v", cached, movie)
	}
	if calls := h.originCalls.Load() - before; calls != 0 {
		t.Errorf("origin calls for a complete record = %d, want 0", calls)
	}
}

func (h *Harness) testListingFallback(t *testing.T) {
	h.SetOriginDown(true)
	defer h.SetOriginDown(false)

	status, resp := h.do(t, "GET", "/api/top", "")
	if status != http.StatusOK || resp["source"] != "cache" {
		t.Fatalf("top = %v %v, want cache-sourced page", status, resp)
	}
	for _, field := range []string{"movies", "page", "totalPages", "hasMore"} {
		if _, ok := resp[field]; !ok {
			t.Errorf("fallback envelope lacks %q", field)
		}
	}
}
