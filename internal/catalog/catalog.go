// Package catalog is the cache orchestrator. It decides per request whether a
// cached record is good enough to serve or whether the origin must be asked,
// and degrades to the best local data whenever the origin fails.
package catalog

import (
	"context"
	"errors"
	"log/slog"
	"strconv"
	"time"

	"github.com/cinematic-site/cinematic-go/internal/event"
	"github.com/cinematic-site/cinematic-go/internal/metrics"
	"github.com/cinematic-site/cinematic-go/internal/model"
	"github.com/cinematic-site/cinematic-go/internal/origin"
	"github.com/cinematic-site/cinematic-go/internal/storage"
	"golang.org/x/sync/singleflight"
)

// Origin is the upstream film API. *origin.Client implements it.
type Origin interface {
	Film(ctx context.Context, id int64) (model.Movie, error)
	Search(ctx context.Context, keyword string, page int) (origin.Result, error)
	Collection(ctx context.Context, kind origin.Collection, page int) (origin.Result, error)
	Filter(ctx context.Context, f origin.FilterQuery) (origin.Result, error)
	Premieres(ctx context.Context, year int, month time.Month) ([]model.Movie, error)
}

// Source tells where a served movie came from.
type Source string

const (
	SourceCache  Source = "cache"  // Complete record from the store
	SourceOrigin Source = "origin" // Freshly fetched and stored
	SourceStale  Source = "stale"  // Origin failed, partial record served
	SourceStub   Source = "stub"   // Origin failed, nothing cached
)

// searchLimit caps how many search results are returned.
const searchLimit = 20

// Option customizes a Catalog.
type Option func(*Catalog)

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(c *Catalog) { c.now = now }
}

// WithPublisher announces stored records through p.
func WithPublisher(p event.Publisher) Option {
	return func(c *Catalog) { c.events = p }
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(c *Catalog) { c.logger = l }
}

// Catalog reconciles the record store with the origin.
type Catalog struct {
	store   storage.MovieStore
	origin  Origin
	events  event.Publisher
	logger  *slog.Logger
	metrics *metrics.Metrics
	now     func() time.Time

	flight singleflight.Group
}

// New creates a catalog over store and src.
func New(store storage.MovieStore, src Origin, opts ...Option) *Catalog {
	c := &Catalog{
		store:   store,
		origin:  src,
		events:  event.Noop{},
		logger:  slog.Default(),
		metrics: metrics.NewMetrics(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// GetMovie returns a movie by id. A complete cached record is served without
// touching the origin. Otherwise the origin is asked and the result upserted;
// if that fails the partial record, or a stub, is served. It never fails.
func (c *Catalog) GetMovie(ctx context.Context, id int64) (model.Movie, Source) {
	cached, found := c.lookup(ctx, id)
	if found && cached.Complete() {
		c.metrics.CacheLookupTotal.WithLabelValues("hit").Inc()
		return cached, SourceCache
	}

	// Concurrent misses for one id share a single origin call, which must
	// not be cut short by whichever caller happened to start it.
	v, err, _ := c.flight.Do(strconv.FormatInt(id, 10), func() (interface{}, error) {
		return c.fetch(context.WithoutCancel(ctx), id)
	})
	if err == nil {
		c.metrics.CacheLookupTotal.WithLabelValues("miss").Inc()
		return v.(model.Movie), SourceOrigin
	}

	c.logger.WarnContext(ctx, "origin film fetch failed", "movie_id", id, "error", err)
	if found {
		c.metrics.CacheLookupTotal.WithLabelValues("stale").Inc()
		return cached, SourceStale
	}
	c.metrics.CacheLookupTotal.WithLabelValues("stub").Inc()
	return model.StubMovie(id), SourceStub
}

// lookup reads one record. Store errors other than absence are logged and
// treated as a miss.
func (c *Catalog) lookup(ctx context.Context, id int64) (model.Movie, bool) {
	start := time.Now()
	movie, err := c.store.GetMovie(ctx, id)
	c.observe("get_movie", start, err)
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			c.logger.WarnContext(ctx, "movie store read failed", "movie_id", id, "error", err)
		}
		return model.Movie{}, false
	}
	return movie, true
}

func (c *Catalog) fetch(ctx context.Context, id int64) (model.Movie, error) {
	movie, err := c.origin.Film(ctx, id)
	if err != nil {
		return model.Movie{}, err
	}
	now := c.now().UTC()
	movie.CachedAt = &now

	start := time.Now()
	err = c.store.PutMovie(ctx, movie)
	c.observe("put_movie", start, err)
	if err != nil {
		// The fetched record is still the best answer.
		c.logger.WarnContext(ctx, "movie store write failed", "movie_id", id, "error", err)
		return movie, nil
	}
	if err := c.events.PublishMovieCached(ctx, movie); err != nil {
		c.logger.WarnContext(ctx, "publish movie cached failed", "movie_id", id, "error", err)
	}
	return movie, nil
}

// Search always asks the origin. New results are inserted without touching
// records already cached. An origin failure yields an empty list.
func (c *Catalog) Search(ctx context.Context, query string) []model.Movie {
	res, err := c.origin.Search(ctx, query, 1)
	if err != nil {
		c.logger.WarnContext(ctx, "origin search failed", "query", query, "error", err)
		return []model.Movie{}
	}
	movies := res.Movies
	if len(movies) > searchLimit {
		movies = movies[:searchLimit]
	}
	c.insertIfAbsent(ctx, movies)
	return movies
}

// insertIfAbsent stores listing-derived records whose ids are not cached yet.
func (c *Catalog) insertIfAbsent(ctx context.Context, movies []model.Movie) {
	if len(movies) == 0 {
		return
	}
	now := c.now().UTC()
	stamped := make([]model.Movie, len(movies))
	for i, m := range movies {
		m.CachedAt = &now
		stamped[i] = m
	}

	start := time.Now()
	n, err := c.store.PutMoviesIfAbsent(ctx, stamped)
	c.observe("put_movies_if_absent", start, err)
	if err != nil {
		c.logger.WarnContext(ctx, "movie store insert failed", "count", len(movies), "error", err)
		return
	}
	if n > 0 {
		c.logger.DebugContext(ctx, "cached listing records", "inserted", n, "offered", len(movies))
	}
}

// snapshot returns every cached record; store errors read as an empty store.
func (c *Catalog) snapshot(ctx context.Context) []model.Movie {
	start := time.Now()
	movies, err := c.store.ListMovies(ctx)
	c.observe("list_movies", start, err)
	if err != nil {
		c.logger.WarnContext(ctx, "movie store list failed", "error", err)
		return nil
	}
	return movies
}

// Collections builds the home page shelves from cached records only.
func (c *Catalog) Collections(ctx context.Context) model.Collections {
	const shelf = 12
	recent := c.now().Year() - 2
	out := model.Collections{Popular: []model.Movie{}, New: []model.Movie{}, Classic: []model.Movie{}}
	for _, m := range c.snapshot(ctx) {
		if len(out.Popular) < shelf && m.Rating != nil && *m.Rating >= 8 {
			out.Popular = append(out.Popular, m)
		}
		if len(out.New) < shelf && m.Year != nil && *m.Year >= recent {
			out.New = append(out.New, m)
		}
		if len(out.Classic) < shelf && m.Year != nil && *m.Year < 2000 {
			out.Classic = append(out.Classic, m)
		}
	}
	return out
}

// Stats summarizes the store.
func (c *Catalog) Stats(ctx context.Context) (model.CacheStats, error) {
	start := time.Now()
	stats, err := c.store.MovieStats(ctx)
	c.observe("movie_stats", start, err)
	return stats, err
}

// Movies returns every cached record, for the sitemap and backups.
func (c *Catalog) Movies(ctx context.Context) ([]model.Movie, error) {
	start := time.Now()
	movies, err := c.store.ListMovies(ctx)
	c.observe("list_movies", start, err)
	return movies, err
}

// Reset drops every cached record.
func (c *Catalog) Reset(ctx context.Context) error {
	start := time.Now()
	err := c.store.ResetMovies(ctx)
	c.observe("reset_movies", start, err)
	if err == nil {
		c.logger.InfoContext(ctx, "movie cache reset")
	}
	return err
}

func (c *Catalog) observe(op string, start time.Time, err error) {
	status := "ok"
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		status = "error"
	}
	c.metrics.StorageOperationTotal.WithLabelValues(op, status).Inc()
	c.metrics.StorageOperationDuration.WithLabelValues(op, status).Observe(time.Since(start).Seconds())
}
