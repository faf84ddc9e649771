package registry

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/cinematic-site/cinematic-go/internal/model"
	"github.com/cinematic-site/cinematic-go/internal/storage"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// recorder captures published site status events.
type recorder struct {
	mu    sync.Mutex
	sites []model.Site
}

func (r *recorder) PublishMovieCached(ctx context.Context, movie model.Movie) error { return nil }

func (r *recorder) PublishSiteStatus(ctx context.Context, site model.Site) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sites = append(r.sites, site)
	return nil
}

func (r *recorder) Close() error { return nil }

func newTestRegistry() (*Registry, *fakeClock, *recorder) {
	clock := &fakeClock{now: time.Date(2025, 3, 10, 23, 50, 0, 0, time.UTC)}
	rec := &recorder{}
	r := New(storage.NewMemory(), Config{OfflineAfter: 2 * time.Minute, SweepInterval: time.Minute},
		WithClock(clock.Now), WithPublisher(rec))
	return r, clock, rec
}

func TestRegisterAndListRedactsKey(t *testing.T) {
	r, _, _ := newTestRegistry()
	ctx := context.Background()

	site, err := r.Register(ctx, Registration{Name: "Mirror A", Domain: "a.example"})
	if err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	if !strings.HasPrefix(site.SiteID, "site_") || site.SiteID != strings.ToLower(site.SiteID) {
		t.Errorf("Register() siteId = %q, want lowercase site_ prefix", site.SiteID)
	}
	if !strings.HasPrefix(site.APIKey, "ck_") || len(site.APIKey) != 3+apiKeyLength {
		t.Errorf("Register() apiKey = %q, want ck_ plus %d chars", site.APIKey, apiKeyLength)
	}
	if site.Status != model.SiteOffline || site.Stats.ViewsTotal != 0 {
		t.Errorf("Register() status %v stats %+v, want offline and zeroed", site.Status, site.Stats)
	}

	sites, err := r.List(ctx)
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(sites) != 1 {
		t.Fatalf("List() returned %d sites, want 1", len(sites))
	}
	if want := site.APIKey[:8] + "..."; sites[0].APIKey != want {
		t.Errorf("List() apiKey = %q, want %q", sites[0].APIKey, want)
	}

	full, err := r.Get(ctx, site.SiteID)
	if err != nil || full.APIKey != site.APIKey {
		t.Errorf("Get() = %q, %v want full key", full.APIKey, err)
	}
}

func TestRegisterRequiresNameAndDomain(t *testing.T) {
	r, _, _ := newTestRegistry()
	if _, err := r.Register(context.Background(), Registration{Name: " ", Domain: "a.example"}); !errors.Is(err, ErrInvalid) {
		t.Errorf("Register() error = %v, want ErrInvalid", err)
	}
}

func TestAPIKeysAreUnique(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		key, err := newAPIKey()
		if err != nil {
			t.Fatalf("newAPIKey() error = %v", err)
		}
		if seen[key] {
			t.Fatalf("newAPIKey() repeated %q", key)
		}
		seen[key] = true
		for _, ch := range strings.TrimPrefix(key, "ck_") {
			if !strings.ContainsRune(base36, ch) {
				t.Fatalf("newAPIKey() = %q has non-base36 rune %q", key, ch)
			}
		}
	}
}

func TestAuthenticate(t *testing.T) {
	r, _, _ := newTestRegistry()
	ctx := context.Background()
	site, _ := r.Register(ctx, Registration{Name: "A", Domain: "a.example"})

	if _, err := r.Authenticate(ctx, site.SiteID, site.APIKey); err != nil {
		t.Errorf("Authenticate() error = %v, want nil", err)
	}
	tests := []struct{ name, id, key string }{
		{"wrong key", site.SiteID, "ck_wrong"},
		{"empty key", site.SiteID, ""},
		{"unknown site", "site_missing", site.APIKey},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := r.Authenticate(ctx, tt.id, tt.key); !errors.Is(err, ErrUnauthorized) {
				t.Errorf("Authenticate() error = %v, want ErrUnauthorized", err)
			}
		})
	}
}

func TestHeartbeatAndStatsAccumulateDeltas(t *testing.T) {
	r, _, rec := newTestRegistry()
	ctx := context.Background()
	site, _ := r.Register(ctx, Registration{Name: "A", Domain: "a.example"})

	got, err := r.Heartbeat(ctx, site.SiteID, Heartbeat{Online: 7, Views: 10})
	if err != nil {
		t.Fatalf("Heartbeat() error = %v", err)
	}
	if got.Status != model.SiteOnline || got.LastHeartbeat == nil || got.Stats.OnlineNow != 7 {
		t.Errorf("Heartbeat() = %+v, want online with onlineNow 7", got)
	}

	if _, err := r.Heartbeat(ctx, site.SiteID, Heartbeat{Online: 3, Views: 5}); err != nil {
		t.Fatal(err)
	}
	got, err = r.ReportStats(ctx, site.SiteID, StatsReport{Views: 4, Events: 2})
	if err != nil {
		t.Fatalf("ReportStats() error = %v", err)
	}
	want := model.SiteStats{OnlineNow: 3, ViewsToday: 19, ViewsTotal: 19, EventsTotal: 2, StatsDay: "2025-03-10"}
	if got.Stats != want {
		t.Errorf("stats = %+v, want %+v", got.Stats, want)
	}
	if len(rec.sites) != 1 || rec.sites[0].Status != model.SiteOnline {
		t.Errorf("published %+v, want one online event", rec.sites)
	}
}

func TestViewsTodayStartsOverOnNewDay(t *testing.T) {
	r, clock, _ := newTestRegistry()
	ctx := context.Background()
	site, _ := r.Register(ctx, Registration{Name: "A", Domain: "a.example"})
	r.Heartbeat(ctx, site.SiteID, Heartbeat{Views: 10})

	clock.Advance(20 * time.Minute)
	agg, _ := r.Aggregate(ctx)
	if agg.ViewsToday != 0 || agg.ViewsTotal != 10 {
		t.Errorf("Aggregate() after midnight = %+v, want viewsToday 0 viewsTotal 10", agg)
	}

	got, _ := r.Heartbeat(ctx, site.SiteID, Heartbeat{Views: 3})
	if got.Stats.ViewsToday != 3 || got.Stats.ViewsTotal != 13 {
		t.Errorf("Heartbeat() stats = %+v, want viewsToday 3 viewsTotal 13", got.Stats)
	}
}

func TestSweepDemotesSilentSites(t *testing.T) {
	r, clock, rec := newTestRegistry()
	ctx := context.Background()
	quiet, _ := r.Register(ctx, Registration{Name: "Quiet", Domain: "q.example"})
	chatty, _ := r.Register(ctx, Registration{Name: "Chatty", Domain: "c.example"})
	r.Heartbeat(ctx, quiet.SiteID, Heartbeat{Online: 4})
	r.Heartbeat(ctx, chatty.SiteID, Heartbeat{Online: 2})

	clock.Advance(2 * time.Minute)
	if n, _ := r.Sweep(ctx); n != 0 {
		t.Errorf("Sweep() at exactly the threshold demoted %d, want 0", n)
	}

	r.Heartbeat(ctx, chatty.SiteID, Heartbeat{Online: 2})
	clock.Advance(time.Second)
	n, err := r.Sweep(ctx)
	if err != nil || n != 1 {
		t.Fatalf("Sweep() = %d, %v want 1, nil", n, err)
	}

	got, _ := r.Get(ctx, quiet.SiteID)
	if got.Status != model.SiteOffline || got.Stats.OnlineNow != 0 {
		t.Errorf("quiet site = %v onlineNow %d, want offline 0", got.Status, got.Stats.OnlineNow)
	}
	last := rec.sites[len(rec.sites)-1]
	if last.SiteID != quiet.SiteID || last.Status != model.SiteOffline {
		t.Errorf("last event = %s %s, want %s offline", last.SiteID, last.Status, quiet.SiteID)
	}

	agg, _ := r.Aggregate(ctx)
	want := model.AggregateStats{TotalSites: 2, OnlineSites: 1, TotalOnlineUsers: 2}
	if agg != want {
		t.Errorf("Aggregate() = %+v, want %+v", agg, want)
	}
}

// retryingStore runs every UpdateSites callback once against a throwaway copy
// and lets a competing write land before the committed attempt.
type retryingStore struct {
	storage.Store
	between func()
}

func (s *retryingStore) UpdateSites(ctx context.Context, fn func(*model.Site) bool) ([]model.Site, error) {
	sites, err := s.Store.ListSites(ctx)
	if err != nil {
		return nil, err
	}
	for i := range sites {
		fn(&sites[i])
	}
	s.between()
	return s.Store.UpdateSites(ctx, fn)
}

func TestSweepIgnoresAbortedAttempts(t *testing.T) {
	clock := &fakeClock{now: time.Date(2025, 3, 10, 23, 50, 0, 0, time.UTC)}
	rec := &recorder{}
	store := &retryingStore{Store: storage.NewMemory()}
	r := New(store, Config{OfflineAfter: 2 * time.Minute}, WithClock(clock.Now), WithPublisher(rec))
	ctx := context.Background()

	site, _ := r.Register(ctx, Registration{Name: "A", Domain: "a.example"})
	r.Heartbeat(ctx, site.SiteID, Heartbeat{Online: 1, Views: 2})
	clock.Advance(15 * time.Minute)
	store.between = func() {
		if _, err := r.Heartbeat(ctx, site.SiteID, Heartbeat{Online: 1}); err != nil {
			t.Errorf("Heartbeat() error = %v", err)
		}
	}

	n, err := r.Sweep(ctx)
	if err != nil || n != 0 {
		t.Fatalf("Sweep() = %d, %v want 0, nil", n, err)
	}
	for _, ev := range rec.sites {
		if ev.Status == model.SiteOffline {
			t.Errorf("published offline event for %s after an aborted attempt", ev.SiteID)
		}
	}
	got, _ := r.Get(ctx, site.SiteID)
	if got.Status != model.SiteOnline {
		t.Errorf("status = %v, want online", got.Status)
	}
}

func TestDeleteUnknownSite(t *testing.T) {
	r, _, _ := newTestRegistry()
	if err := r.Delete(context.Background(), "site_missing"); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("Delete() error = %v, want ErrNotFound", err)
	}
}
