package storage

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/cinematic-site/cinematic-go/internal/model"
)

// backends returns a fresh instance of every embedded backend.
func backends(t *testing.T) map[string]Store {
	t.Helper()

	fileStore, err := NewFile(t.TempDir(), nil)
	if err != nil {
		t.Fatalf("NewFile() error = %v", err)
	}
	badgerStore, err := NewBadger("")
	if err != nil {
		t.Fatalf("NewBadger() error = %v", err)
	}
	t.Cleanup(func() { _ = badgerStore.Close() })

	return map[string]Store{
		"memory": NewMemory(),
		"file":   fileStore,
		"badger": badgerStore,
	}
}

func ptr[T any](v T) *T { return &v }

func TestMovieUpsertAndInsertIfAbsent(t *testing.T) {
	ctx := context.Background()
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			if _, err := s.GetMovie(ctx, 1); !errors.Is(err, ErrNotFound) {
				t.Fatalf("GetMovie() on empty store error = %v, want ErrNotFound", err)
			}

			thin := model.Movie{ID: 1, Title: "Thin", StreamURL: "/watch/1"}
			n, err := s.PutMoviesIfAbsent(ctx, []model.Movie{thin, {ID: 2, Title: "Other"}})
			if err != nil || n != 2 {
				t.Fatalf("PutMoviesIfAbsent() = %v, %v want 2, nil", n, err)
			}

			full := model.Movie{ID: 1, Title: "Full", Description: "plot", Year: ptr(2010)}
			if err := s.PutMovie(ctx, full); err != nil {
				t.Fatalf("PutMovie() error = %v", err)
			}

			// A thinner listing copy must not clobber the enriched record
			n, err = s.PutMoviesIfAbsent(ctx, []model.Movie{thin})
			if err != nil || n != 0 {
				t.Fatalf("PutMoviesIfAbsent() = %v, %v want 0, nil", n, err)
			}

			got, err := s.GetMovie(ctx, 1)
			if err != nil {
				t.Fatalf("GetMovie() error = %v", err)
			}
			if got.Title != "Full" || !got.Complete() {
				t.Errorf("GetMovie() = %+v, want the enriched record", got)
			}

			list, err := s.ListMovies(ctx)
			if err != nil {
				t.Fatalf("ListMovies() error = %v", err)
			}
			if len(list) != 2 || list[0].ID != 1 || list[1].ID != 2 {
				t.Errorf("ListMovies() = %+v, want ids [1 2]", list)
			}

			stats, err := s.MovieStats(ctx)
			if err != nil {
				t.Fatalf("MovieStats() error = %v", err)
			}
			if stats.TotalMovies != 2 || stats.LastUpdate == nil {
				t.Errorf("MovieStats() = %+v, want 2 movies with lastUpdate", stats)
			}

			if err := s.ResetMovies(ctx); err != nil {
				t.Fatalf("ResetMovies() error = %v", err)
			}
			if list, _ := s.ListMovies(ctx); len(list) != 0 {
				t.Errorf("ListMovies() after reset = %d movies, want 0", len(list))
			}
		})
	}
}

func TestSiteLifecycle(t *testing.T) {
	ctx := context.Background()
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			site := model.Site{SiteID: "site_a", Name: "A", Domain: "a.example", APIKey: "ck_x", Status: model.SiteOffline, CreatedAt: time.Now().UTC()}
			if err := s.CreateSite(ctx, site); err != nil {
				t.Fatalf("CreateSite() error = %v", err)
			}
			if err := s.CreateSite(ctx, site); !errors.Is(err, ErrConflict) {
				t.Errorf("CreateSite() duplicate error = %v, want ErrConflict", err)
			}

			updated, err := s.UpdateSite(ctx, "site_a", func(s *model.Site) error {
				s.Status = model.SiteOnline
				s.Stats.ViewsTotal += 5
				return nil
			})
			if err != nil {
				t.Fatalf("UpdateSite() error = %v", err)
			}
			if updated.Status != model.SiteOnline || updated.Stats.ViewsTotal != 5 {
				t.Errorf("UpdateSite() = %+v", updated)
			}

			if _, err := s.UpdateSite(ctx, "site_missing", func(*model.Site) error { return nil }); !errors.Is(err, ErrNotFound) {
				t.Errorf("UpdateSite() missing error = %v, want ErrNotFound", err)
			}

			changed, err := s.UpdateSites(ctx, func(s *model.Site) bool {
				if s.Status != model.SiteOnline {
					return false
				}
				s.Status = model.SiteOffline
				return true
			})
			if err != nil || len(changed) != 1 {
				t.Fatalf("UpdateSites() = %v, %v want 1 change", changed, err)
			}

			got, err := s.GetSite(ctx, "site_a")
			if err != nil {
				t.Fatalf("GetSite() error = %v", err)
			}
			if got.Status != model.SiteOffline || got.Stats.ViewsTotal != 5 {
				t.Errorf("GetSite() = %+v", got)
			}

			if err := s.DeleteSite(ctx, "site_a"); err != nil {
				t.Fatalf("DeleteSite() error = %v", err)
			}
			if err := s.DeleteSite(ctx, "site_a"); !errors.Is(err, ErrNotFound) {
				t.Errorf("DeleteSite() twice error = %v, want ErrNotFound", err)
			}
			if sites, _ := s.ListSites(ctx); len(sites) != 0 {
				t.Errorf("ListSites() = %d sites, want 0", len(sites))
			}
		})
	}
}

// TestConcurrentSiteUpdatesAreNotLost checks that increments under contention all land.
func TestConcurrentSiteUpdatesAreNotLost(t *testing.T) {
	ctx := context.Background()
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			if err := s.CreateSite(ctx, model.Site{SiteID: "site_c", CreatedAt: time.Now()}); err != nil {
				t.Fatalf("CreateSite() error = %v", err)
			}

			const writers = 20
			var wg sync.WaitGroup
			for i := 0; i < writers; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					_, err := s.UpdateSite(ctx, "site_c", func(s *model.Site) error {
						s.Stats.ViewsTotal++
						return nil
					})
					if err != nil {
						t.Errorf("UpdateSite() error = %v", err)
					}
				}()
			}
			wg.Wait()

			got, _ := s.GetSite(ctx, "site_c")
			if got.Stats.ViewsTotal != writers {
				t.Errorf("ViewsTotal = %d, want %d", got.Stats.ViewsTotal, writers)
			}
		})
	}
}

func TestSweepRacingUpdatesKeepsEveryIncrement(t *testing.T) {
	ctx := context.Background()
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			for _, id := range []string{"site_a", "site_b"} {
				if err := s.CreateSite(ctx, model.Site{SiteID: id, CreatedAt: time.Now()}); err != nil {
					t.Fatalf("CreateSite(%s) error = %v", id, err)
				}
			}

			const rounds = 15
			var wg sync.WaitGroup
			for i := 0; i < rounds; i++ {
				wg.Add(2)
				go func() {
					defer wg.Done()
					if _, err := s.UpdateSite(ctx, "site_a", func(s *model.Site) error {
						s.Stats.ViewsTotal++
						return nil
					}); err != nil {
						t.Errorf("UpdateSite() error = %v", err)
					}
				}()
				go func() {
					defer wg.Done()
					if _, err := s.UpdateSites(ctx, func(s *model.Site) bool {
						s.Stats.EventsTotal++
						return true
					}); err != nil {
						t.Errorf("UpdateSites() error = %v", err)
					}
				}()
			}
			wg.Wait()

			got, _ := s.GetSite(ctx, "site_a")
			if got.Stats.ViewsTotal != rounds || got.Stats.EventsTotal != rounds {
				t.Errorf("site_a stats = %+v, want viewsTotal and eventsTotal %d", got.Stats, rounds)
			}
		})
	}
}

func TestFileStoreTreatsCorruptDocumentAsEmpty(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, moviesFile), []byte("{not json"), 0o644); err != nil {
		t.Fatal(err)
	}

	s, err := NewFile(dir, nil)
	if err != nil {
		t.Fatalf("NewFile() error = %v", err)
	}
	ctx := context.Background()

	list, err := s.ListMovies(ctx)
	if err != nil || len(list) != 0 {
		t.Fatalf("ListMovies() = %v, %v want empty, nil", list, err)
	}

	if err := s.PutMovie(ctx, model.Movie{ID: 7, Title: "Seven"}); err != nil {
		t.Fatalf("PutMovie() error = %v", err)
	}
	if _, err := s.GetMovie(ctx, 7); err != nil {
		t.Errorf("GetMovie() after recovery error = %v", err)
	}

	entries, _ := os.ReadDir(dir)
	for _, e := range entries {
		if e.Name() != moviesFile {
			t.Errorf("unexpected leftover file %q", e.Name())
		}
	}
}

func TestFileStoreDocumentShape(t *testing.T) {
	dir := t.TempDir()
	s, err := NewFile(dir, nil)
	if err != nil {
		t.Fatalf("NewFile() error = %v", err)
	}
	if err := s.PutMovie(context.Background(), model.Movie{ID: 435, Title: "Green Mile"}); err != nil {
		t.Fatalf("PutMovie() error = %v", err)
	}

	data, err := os.ReadFile(filepath.Join(dir, moviesFile))
	if err != nil {
		t.Fatal(err)
	}
	for _, want := range []string{`"movies"`, `"435"`, `"lastUpdate"`} {
		if !strings.Contains(string(data), want) {
			t.Errorf("movies.json missing %s: %s", want, data)
		}
	}
}
