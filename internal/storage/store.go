// Package storage provides the persistent record store for cached movies and
// the mirror site registry, with JSON-file, in-memory, Badger and PostgreSQL backends.
package storage

import (
	"context"
	"errors"
	"sort"

	"github.com/cinematic-site/cinematic-go/internal/model"
)

// Standard errors returned by the storage layer
var (
	ErrNotFound = errors.New("not found") // Returned when a movie or site is not found
	ErrConflict = errors.New("conflict")  // Returned when a site id is already taken
)

// MovieStore is the record store of cached movies keyed by id.
// Every mutation is serialized per store so concurrent writers never lose updates.
type MovieStore interface {
	GetMovie(ctx context.Context, id int64) (model.Movie, error)              // ErrNotFound when absent
	PutMovie(ctx context.Context, movie model.Movie) error                    // Upsert, overwriting any prior record
	PutMoviesIfAbsent(ctx context.Context, movies []model.Movie) (int, error) // Insert only new ids, returns inserted count
	ListMovies(ctx context.Context) ([]model.Movie, error)                    // Snapshot ordered by id
	MovieStats(ctx context.Context) (model.CacheStats, error)                 // Count and last write time
	ResetMovies(ctx context.Context) error                                    // Full reset of the cache
}

// SiteStore is the persistent registry of mirror sites.
type SiteStore interface {
	CreateSite(ctx context.Context, site model.Site) error                                         // ErrConflict on duplicate id
	GetSite(ctx context.Context, siteID string) (model.Site, error)                                // ErrNotFound when absent
	ListSites(ctx context.Context) ([]model.Site, error)                                           // Ordered by creation time
	DeleteSite(ctx context.Context, siteID string) error                                           // ErrNotFound when absent
	UpdateSite(ctx context.Context, siteID string, fn func(*model.Site) error) (model.Site, error) // Atomic read-modify-write
	UpdateSites(ctx context.Context, fn func(*model.Site) bool) ([]model.Site, error)              // Apply fn to all sites, persist and return the changed ones
}

// Store bundles both stores behind one backend.
type Store interface {
	MovieStore
	SiteStore
	Ping(ctx context.Context) error
	Close() error
}

// sortMovies orders movies by id so snapshots are deterministic.
func sortMovies(movies []model.Movie) {
	sort.Slice(movies, func(i, j int) bool { return movies[i].ID < movies[j].ID })
}

// sortSites orders sites by creation time, then id.
func sortSites(sites []model.Site) {
	sort.Slice(sites, func(i, j int) bool {
		if sites[i].CreatedAt.Equal(sites[j].CreatedAt) {
			return sites[i].SiteID < sites[j].SiteID
		}
		return sites[i].CreatedAt.Before(sites[j].CreatedAt)
	})
}
