// internal/storage/file.go
package storage

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/cinematic-site/cinematic-go/internal/model"
	"github.com/goccy/go-json"
)

const (
	moviesFile = "movies.json"
	sitesFile  = "sites.json"
)

// movieDoc is the on-disk shape of movies.json.
type movieDoc struct {
	Movies     map[string]model.Movie `json:"movies"`
	LastUpdate *time.Time             `json:"lastUpdate"`
}

// siteDoc is the on-disk shape of sites.json.
type siteDoc struct {
	Sites map[string]model.Site `json:"sites"`
}

// file implements the Store interface with two flat JSON documents.
// Each document is fully read and rewritten on every mutation; a per-document
// mutex makes the read-modify-write a single critical section and the write
// lands through a temp file and rename, so readers never observe a torn file.
type file struct {
	dir      string     // Directory holding both documents
	moviesMu sync.Mutex // Serializes access to movies.json
	sitesMu  sync.Mutex // Serializes access to sites.json
	logger   *slog.Logger
}

// NewFile creates a JSON-file store rooted at dir.
// Missing documents are created lazily on the first write.
func NewFile(dir string, logger *slog.Logger) (Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &file{dir: dir, logger: logger}, nil
}

// readDoc decodes path into v. Unreadable or corrupt documents are treated
// as empty so a damaged cache never takes the process down.
func (f *file) readDoc(name string, v interface{}) {
	path := filepath.Join(f.dir, name)
	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			f.logger.Warn("store document unreadable, treating as empty", "path", path, "error", err)
		}
		return
	}
	if err := json.Unmarshal(data, v); err != nil {
		f.logger.Warn("store document corrupt, treating as empty", "path", path, "error", err)
	}
}

// writeDoc replaces the document atomically.
func (f *file) writeDoc(name string, v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("encode %s: %w", name, err)
	}

	tmp, err := os.CreateTemp(f.dir, "."+name+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp for %s: %w", name, err)
	}
	tmpName := tmp.Name()
	defer func() {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
	}()

	if _, err := tmp.Write(data); err != nil {
		return fmt.Errorf("write %s: %w", name, err)
	}
	if err := tmp.Sync(); err != nil {
		return fmt.Errorf("sync %s: %w", name, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close %s: %w", name, err)
	}
	if err := os.Rename(tmpName, filepath.Join(f.dir, name)); err != nil {
		return fmt.Errorf("replace %s: %w", name, err)
	}
	return nil
}

func (f *file) loadMovies() movieDoc {
	var doc movieDoc
	f.readDoc(moviesFile, &doc)
	if doc.Movies == nil {
		doc.Movies = make(map[string]model.Movie)
	}
	return doc
}

func (f *file) saveMovies(doc movieDoc) error {
	now := time.Now().UTC()
	doc.LastUpdate = &now
	return f.writeDoc(moviesFile, doc)
}

func (f *file) loadSites() siteDoc {
	var doc siteDoc
	f.readDoc(sitesFile, &doc)
	if doc.Sites == nil {
		doc.Sites = make(map[string]model.Site)
	}
	return doc
}

func (f *file) GetMovie(ctx context.Context, id int64) (model.Movie, error) {
	f.moviesMu.Lock()
	defer f.moviesMu.Unlock()

	movie, ok := f.loadMovies().Movies[model.Movie{ID: id}.Key()]
	if !ok {
		return model.Movie{}, ErrNotFound
	}
	return movie, nil
}

func (f *file) PutMovie(ctx context.Context, movie model.Movie) error {
	f.moviesMu.Lock()
	defer f.moviesMu.Unlock()

	doc := f.loadMovies()
	doc.Movies[movie.Key()] = movie
	return f.saveMovies(doc)
}

func (f *file) PutMoviesIfAbsent(ctx context.Context, movies []model.Movie) (int, error) {
	f.moviesMu.Lock()
	defer f.moviesMu.Unlock()

	doc := f.loadMovies()
	inserted := 0
	for _, movie := range movies {
		if _, exists := doc.Movies[movie.Key()]; exists {
			continue
		}
		doc.Movies[movie.Key()] = movie
		inserted++
	}
	if inserted == 0 {
		return 0, nil
	}
	if err := f.saveMovies(doc); err != nil {
		return 0, err
	}
	return inserted, nil
}

func (f *file) ListMovies(ctx context.Context) ([]model.Movie, error) {
	f.moviesMu.Lock()
	defer f.moviesMu.Unlock()

	doc := f.loadMovies()
	out := make([]model.Movie, 0, len(doc.Movies))
	for _, movie := range doc.Movies {
		out = append(out, movie)
	}
	sortMovies(out)
	return out, nil
}

func (f *file) MovieStats(ctx context.Context) (model.CacheStats, error) {
	f.moviesMu.Lock()
	defer f.moviesMu.Unlock()

	doc := f.loadMovies()
	return model.CacheStats{TotalMovies: len(doc.Movies), LastUpdate: doc.LastUpdate}, nil
}

func (f *file) ResetMovies(ctx context.Context) error {
	f.moviesMu.Lock()
	defer f.moviesMu.Unlock()

	return f.saveMovies(movieDoc{Movies: make(map[string]model.Movie)})
}

func (f *file) CreateSite(ctx context.Context, site model.Site) error {
	f.sitesMu.Lock()
	defer f.sitesMu.Unlock()

	doc := f.loadSites()
	if _, exists := doc.Sites[site.SiteID]; exists {
		return ErrConflict
	}
	doc.Sites[site.SiteID] = site
	return f.writeDoc(sitesFile, doc)
}

func (f *file) GetSite(ctx context.Context, siteID string) (model.Site, error) {
	f.sitesMu.Lock()
	defer f.sitesMu.Unlock()

	site, ok := f.loadSites().Sites[siteID]
	if !ok {
		return model.Site{}, ErrNotFound
	}
	return site, nil
}

func (f *file) ListSites(ctx context.Context) ([]model.Site, error) {
	f.sitesMu.Lock()
	defer f.sitesMu.Unlock()

	doc := f.loadSites()
	out := make([]model.Site, 0, len(doc.Sites))
	for _, site := range doc.Sites {
		out = append(out, site)
	}
	sortSites(out)
	return out, nil
}

func (f *file) DeleteSite(ctx context.Context, siteID string) error {
	f.sitesMu.Lock()
	defer f.sitesMu.Unlock()

	doc := f.loadSites()
	if _, ok := doc.Sites[siteID]; !ok {
		return ErrNotFound
	}
	delete(doc.Sites, siteID)
	return f.writeDoc(sitesFile, doc)
}

func (f *file) UpdateSite(ctx context.Context, siteID string, fn func(*model.Site) error) (model.Site, error) {
	f.sitesMu.Lock()
	defer f.sitesMu.Unlock()

	doc := f.loadSites()
	site, ok := doc.Sites[siteID]
	if !ok {
		return model.Site{}, ErrNotFound
	}
	if err := fn(&site); err != nil {
		return model.Site{}, err
	}
	doc.Sites[siteID] = site
	if err := f.writeDoc(sitesFile, doc); err != nil {
		return model.Site{}, err
	}
	return site, nil
}

func (f *file) UpdateSites(ctx context.Context, fn func(*model.Site) bool) ([]model.Site, error) {
	f.sitesMu.Lock()
	defer f.sitesMu.Unlock()

	doc := f.loadSites()
	var changed []model.Site
	for id, site := range doc.Sites {
		if fn(&site) {
			doc.Sites[id] = site
			changed = append(changed, site)
		}
	}
	if len(changed) == 0 {
		return nil, nil
	}
	if err := f.writeDoc(sitesFile, doc); err != nil {
		return nil, err
	}
	sortSites(changed)
	return changed, nil
}

// Ping checks that the data directory still exists.
func (f *file) Ping(ctx context.Context) error {
	info, err := os.Stat(f.dir)
	if err != nil {
		return err
	}
	if !info.IsDir() {
		return fmt.Errorf("%s is not a directory", f.dir)
	}
	return nil
}

func (f *file) Close() error { return nil }
