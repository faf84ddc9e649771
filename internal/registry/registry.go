// Package registry manages mirror sites: registration by the admin, reports
// from the mirrors themselves, and demotion of mirrors that stop reporting.
//
// Counters use one accumulation model: every reported view count is a delta
// since the mirror's previous report and is added to both viewsToday and
// viewsTotal. viewsToday starts over on each UTC day.
package registry

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/cinematic-site/cinematic-go/internal/event"
	"github.com/cinematic-site/cinematic-go/internal/metrics"
	"github.com/cinematic-site/cinematic-go/internal/model"
	"github.com/cinematic-site/cinematic-go/internal/storage"
	"github.com/oklog/ulid/v2"
)

var (
	// ErrUnauthorized is returned when a site id and API key do not match.
	ErrUnauthorized = errors.New("invalid site credentials")
	// ErrInvalid is returned for registrations missing a name or domain.
	ErrInvalid = errors.New("invalid site")
)

const (
	siteIDPrefix = "site_"
	apiKeyPrefix = "ck_"
	apiKeyLength = 32
	base36       = "0123456789abcdefghijklmnopqrstuvwxyz"
	dayLayout    = "2006-01-02"
)

// Config configures the offline sweep.
type Config struct {
	OfflineAfter  time.Duration // Heartbeat age after which a site is offline
	SweepInterval time.Duration // How often Serve sweeps
}

// Registration is the admin's request to add a mirror.
type Registration struct {
	Name   string
	Domain string
}

// Heartbeat is a liveness report from a mirror.
type Heartbeat struct {
	Online int   // Visitors online on the mirror right now
	Views  int64 // Views since the previous report
}

// StatsReport is a counters report from a mirror.
type StatsReport struct {
	Views  int64 // Views since the previous report
	Events int64 // Events since the previous report
}

// Option customizes a Registry.
type Option func(*Registry)

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(r *Registry) { r.now = now }
}

// WithPublisher announces status transitions through p.
func WithPublisher(p event.Publisher) Option {
	return func(r *Registry) { r.events = p }
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(r *Registry) { r.logger = l }
}

// Registry is the mirror site service.
type Registry struct {
	store   storage.SiteStore
	cfg     Config
	events  event.Publisher
	logger  *slog.Logger
	metrics *metrics.Metrics
	now     func() time.Time
}

// New creates a registry. Zero config values default to a 2m offline
// threshold and a 1m sweep.
func New(store storage.SiteStore, cfg Config, opts ...Option) *Registry {
	if cfg.OfflineAfter <= 0 {
		cfg.OfflineAfter = 2 * time.Minute
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = time.Minute
	}
	r := &Registry{
		store:   store,
		cfg:     cfg,
		events:  event.Noop{},
		logger:  slog.Default(),
		metrics: metrics.NewMetrics(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Register creates a site with a fresh id and API key. The returned site
// carries the full key; it is never shown again unredacted in listings.
func (r *Registry) Register(ctx context.Context, reg Registration) (model.Site, error) {
	name, domain := strings.TrimSpace(reg.Name), strings.TrimSpace(reg.Domain)
	if name == "" || domain == "" {
		return model.Site{}, fmt.Errorf("%w: name and domain are required", ErrInvalid)
	}

	now := r.now().UTC()
	key, err := newAPIKey()
	if err != nil {
		return model.Site{}, err
	}
	site := model.Site{
		SiteID:    newSiteID(now),
		Name:      name,
		Domain:    domain,
		APIKey:    key,
		Status:    model.SiteOffline,
		Stats:     model.SiteStats{StatsDay: now.Format(dayLayout)},
		CreatedAt: now,
	}
	if err := r.store.CreateSite(ctx, site); err != nil {
		return model.Site{}, err
	}
	r.logger.InfoContext(ctx, "site registered", "site_id", site.SiteID, "domain", site.Domain)
	return site, nil
}

// List returns every site with its API key redacted.
func (r *Registry) List(ctx context.Context) ([]model.Site, error) {
	sites, err := r.store.ListSites(ctx)
	if err != nil {
		return nil, err
	}
	for i := range sites {
		sites[i] = sites[i].Redacted()
	}
	return sites, nil
}

// Get returns one site in full.
func (r *Registry) Get(ctx context.Context, siteID string) (model.Site, error) {
	return r.store.GetSite(ctx, siteID)
}

// Delete removes a site.
func (r *Registry) Delete(ctx context.Context, siteID string) error {
	if err := r.store.DeleteSite(ctx, siteID); err != nil {
		return err
	}
	r.logger.InfoContext(ctx, "site deleted", "site_id", siteID)
	return nil
}

// Authenticate checks a mirror's API key. Unknown sites and wrong keys are
// indistinguishable to the caller.
func (r *Registry) Authenticate(ctx context.Context, siteID, apiKey string) (model.Site, error) {
	site, err := r.store.GetSite(ctx, siteID)
	if errors.Is(err, storage.ErrNotFound) {
		return model.Site{}, ErrUnauthorized
	}
	if err != nil {
		return model.Site{}, err
	}
	if apiKey == "" || subtle.ConstantTimeCompare([]byte(site.APIKey), []byte(apiKey)) != 1 {
		return model.Site{}, ErrUnauthorized
	}
	return site, nil
}

// Heartbeat marks the site online, overwrites its online count and adds
// the reported views.
func (r *Registry) Heartbeat(ctx context.Context, siteID string, hb Heartbeat) (model.Site, error) {
	now := r.now().UTC()
	var cameOnline bool
	site, err := r.store.UpdateSite(ctx, siteID, func(s *model.Site) error {
		cameOnline = s.Status != model.SiteOnline
		s.Status = model.SiteOnline
		s.LastHeartbeat = &now
		s.Stats.OnlineNow = max(hb.Online, 0)
		rollDay(&s.Stats, now)
		addViews(&s.Stats, hb.Views)
		return nil
	})
	if err != nil {
		return model.Site{}, err
	}
	if cameOnline {
		r.logger.InfoContext(ctx, "site online", "site_id", siteID)
		r.publish(ctx, site)
	}
	return site, nil
}

// ReportStats adds the reported views and events.
func (r *Registry) ReportStats(ctx context.Context, siteID string, rep StatsReport) (model.Site, error) {
	now := r.now().UTC()
	return r.store.UpdateSite(ctx, siteID, func(s *model.Site) error {
		rollDay(&s.Stats, now)
		addViews(&s.Stats, rep.Views)
		if rep.Events > 0 {
			s.Stats.EventsTotal += rep.Events
		}
		return nil
	})
}

// Aggregate sums all sites.
func (r *Registry) Aggregate(ctx context.Context) (model.AggregateStats, error) {
	sites, err := r.store.ListSites(ctx)
	if err != nil {
		return model.AggregateStats{}, err
	}
	today := r.now().UTC().Format(dayLayout)

	agg := model.AggregateStats{TotalSites: len(sites)}
	for _, s := range sites {
		if s.Status == model.SiteOnline {
			agg.OnlineSites++
		}
		agg.TotalOnlineUsers += s.Stats.OnlineNow
		if s.Stats.StatsDay == today {
			agg.ViewsToday += s.Stats.ViewsToday
		}
		agg.ViewsTotal += s.Stats.ViewsTotal
	}
	r.metrics.SitesOnline.Set(float64(agg.OnlineSites))
	return agg, nil
}

// Sweep demotes online sites whose last heartbeat is older than the offline
// threshold and starts a new day's view count where the day has turned.
// It returns how many sites were demoted.
func (r *Registry) Sweep(ctx context.Context) (int, error) {
	now := r.now().UTC()
	// A store may retry fn; each attempt overwrites every site's entry, so
	// only the committed attempt's decisions remain.
	demoted := make(map[string]bool)
	changed, err := r.store.UpdateSites(ctx, func(s *model.Site) bool {
		demoted[s.SiteID] = false
		dirty := rollDay(&s.Stats, now)
		if s.Status == model.SiteOnline && (s.LastHeartbeat == nil || now.Sub(*s.LastHeartbeat) > r.cfg.OfflineAfter) {
			s.Status = model.SiteOffline
			s.Stats.OnlineNow = 0
			demoted[s.SiteID] = true
			dirty = true
		}
		return dirty
	})
	if err != nil {
		return 0, err
	}
	n := 0
	for _, s := range changed {
		if demoted[s.SiteID] {
			n++
			r.logger.InfoContext(ctx, "site offline", "site_id", s.SiteID)
			r.publish(ctx, s)
		}
	}
	if _, err := r.Aggregate(ctx); err != nil {
		r.logger.WarnContext(ctx, "site gauge refresh failed", "error", err)
	}
	return n, nil
}

// Serve sweeps on a fixed interval until ctx is done.
func (r *Registry) Serve(ctx context.Context) error {
	ticker := time.NewTicker(r.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if _, err := r.Sweep(ctx); err != nil {
				r.logger.WarnContext(ctx, "site sweep failed", "error", err)
			}
		}
	}
}

func (r *Registry) String() string { return "site-sweeper" }

func (r *Registry) publish(ctx context.Context, site model.Site) {
	if err := r.events.PublishSiteStatus(ctx, site); err != nil {
		r.logger.WarnContext(ctx, "publish site status failed", "site_id", site.SiteID, "error", err)
	}
}

// rollDay zeroes viewsToday when the UTC day differs from the one the
// counter belongs to. It reports whether the stats changed.
func rollDay(s *model.SiteStats, now time.Time) bool {
	day := now.Format(dayLayout)
	if s.StatsDay == day {
		return false
	}
	s.StatsDay = day
	s.ViewsToday = 0
	return true
}

func addViews(s *model.SiteStats, views int64) {
	if views <= 0 {
		return
	}
	s.ViewsToday += views
	s.ViewsTotal += views
}

// newSiteID returns site_ followed by a lowercase ULID.
func newSiteID(now time.Time) string {
	entropy := ulid.Monotonic(rand.Reader, 0)
	return siteIDPrefix + strings.ToLower(ulid.MustNew(ulid.Timestamp(now), entropy).String())
}

// newAPIKey returns ck_ followed by 32 random base36 characters.
func newAPIKey() (string, error) {
	var sb strings.Builder
	sb.WriteString(apiKeyPrefix)
	buf := make([]byte, apiKeyLength*2)
	for sb.Len() < len(apiKeyPrefix)+apiKeyLength {
		if _, err := rand.Read(buf); err != nil {
			return "", fmt.Errorf("generate api key: %w", err)
		}
		for _, b := range buf {
			// 252 is the largest multiple of 36 below 256; rejecting the
			// rest keeps the alphabet uniform.
			if b >= 252 {
				continue
			}
			sb.WriteByte(base36[b%36])
			if sb.Len() == len(apiKeyPrefix)+apiKeyLength {
				break
			}
		}
	}
	return sb.String(), nil
}
