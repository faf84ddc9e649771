// internal/storage/memory.go
package storage

import (
	"context"
	"sync"
	"time"

	"github.com/cinematic-site/cinematic-go/internal/model"
)

// memory implements the Store interface using in-memory maps.
// It's intended for development and testing purposes.
type memory struct {
	mu         sync.RWMutex          // Protects concurrent access to maps
	movies     map[int64]model.Movie // Map of movie id to record
	lastUpdate *time.Time            // Time of the last movie write
	sites      map[string]model.Site // Map of site id to site
}

// NewMemory creates a new in-memory storage implementation.
func NewMemory() Store {
	return &memory{
		movies: make(map[int64]model.Movie),
		sites:  make(map[string]model.Site),
	}
}

func (m *memory) touch() {
	now := time.Now().UTC()
	m.lastUpdate = &now
}

func (m *memory) GetMovie(ctx context.Context, id int64) (model.Movie, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	movie, ok := m.movies[id]
	if !ok {
		return model.Movie{}, ErrNotFound
	}
	return movie, nil
}

func (m *memory) PutMovie(ctx context.Context, movie model.Movie) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.movies[movie.ID] = movie
	m.touch()
	return nil
}

func (m *memory) PutMoviesIfAbsent(ctx context.Context, movies []model.Movie) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	inserted := 0
	for _, movie := range movies {
		if _, exists := m.movies[movie.ID]; exists {
			continue
		}
		m.movies[movie.ID] = movie
		inserted++
	}
	if inserted > 0 {
		m.touch()
	}
	return inserted, nil
}

func (m *memory) ListMovies(ctx context.Context) ([]model.Movie, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]model.Movie, 0, len(m.movies))
	for _, movie := range m.movies {
		out = append(out, movie)
	}
	sortMovies(out)
	return out, nil
}

func (m *memory) MovieStats(ctx context.Context) (model.CacheStats, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return model.CacheStats{TotalMovies: len(m.movies), LastUpdate: m.lastUpdate}, nil
}

func (m *memory) ResetMovies(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.movies = make(map[int64]model.Movie)
	m.touch()
	return nil
}

func (m *memory) CreateSite(ctx context.Context, site model.Site) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.sites[site.SiteID]; exists {
		return ErrConflict
	}
	m.sites[site.SiteID] = site
	return nil
}

func (m *memory) GetSite(ctx context.Context, siteID string) (model.Site, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	site, ok := m.sites[siteID]
	if !ok {
		return model.Site{}, ErrNotFound
	}
	return site, nil
}

func (m *memory) ListSites(ctx context.Context) ([]model.Site, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]model.Site, 0, len(m.sites))
	for _, site := range m.sites {
		out = append(out, site)
	}
	sortSites(out)
	return out, nil
}

func (m *memory) DeleteSite(ctx context.Context, siteID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.sites[siteID]; !ok {
		return ErrNotFound
	}
	delete(m.sites, siteID)
	return nil
}

func (m *memory) UpdateSite(ctx context.Context, siteID string, fn func(*model.Site) error) (model.Site, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	site, ok := m.sites[siteID]
	if !ok {
		return model.Site{}, ErrNotFound
	}
	if err := fn(&site); err != nil {
		return model.Site{}, err
	}
	m.sites[siteID] = site
	return site, nil
}

func (m *memory) UpdateSites(ctx context.Context, fn func(*model.Site) bool) ([]model.Site, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var changed []model.Site
	for id, site := range m.sites {
		if fn(&site) {
			m.sites[id] = site
			changed = append(changed, site)
		}
	}
	sortSites(changed)
	return changed, nil
}

func (m *memory) Ping(ctx context.Context) error { return nil }

func (m *memory) Close() error { return nil }
