package catalog

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/cinematic-site/cinematic-go/internal/model"
	"github.com/thejerf/suture/v4"
)

func TestWarmerPreloadsAndEnriches(t *testing.T) {
	films := map[int64]model.Movie{}
	for _, id := range PreloadIDs {
		films[id] = completeMovie(id)
	}
	films[9001] = completeMovie(9001)
	films[9002] = completeMovie(9002)

	src := &fakeOrigin{films: films}
	c, store := newTestCatalog(src)
	seed(t, store,
		completeMovie(PreloadIDs[0]),
		model.Movie{ID: 9001},
		model.Movie{ID: 9002},
	)

	report, err := NewWarmer(c, 0, 1).Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if report.Preloaded != len(PreloadIDs)-1 {
		t.Errorf("Run() preloaded = %d, want %d", report.Preloaded, len(PreloadIDs)-1)
	}
	if report.Enriched != 1 {
		t.Errorf("Run() enriched = %d, want 1", report.Enriched)
	}
	if m, _ := store.GetMovie(context.Background(), 9001); !m.Complete() {
		t.Errorf("record 9001 not enriched: %+v", m)
	}
}

func TestWarmerServeDoesNotRestart(t *testing.T) {
	c, _ := newTestCatalog(&fakeOrigin{down: true})
	err := NewWarmer(c, 0, 0).Serve(context.Background())
	if !errors.Is(err, suture.ErrDoNotRestart) {
		t.Errorf("Serve() error = %v, want ErrDoNotRestart", err)
	}
}

func TestWarmerRejectsConcurrentRun(t *testing.T) {
	c, _ := newTestCatalog(&fakeOrigin{down: true})
	w := NewWarmer(c, 0, 0)
	w.running.Store(true)
	if _, err := w.Run(context.Background()); !errors.Is(err, ErrWarmInProgress) {
		t.Errorf("Run() error = %v, want ErrWarmInProgress", err)
	}
}

func TestWarmerStartRunsInBackground(t *testing.T) {
	films := map[int64]model.Movie{}
	for _, id := range PreloadIDs {
		films[id] = completeMovie(id)
	}
	c, store := newTestCatalog(&fakeOrigin{films: films})
	w := NewWarmer(c, 0, 0)

	if err := w.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	deadline := time.Now().Add(2 * time.Second)
	for w.running.Load() && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	stats, _ := store.MovieStats(context.Background())
	if stats.TotalMovies != len(PreloadIDs) {
		t.Errorf("stored movies = %d, want %d", stats.TotalMovies, len(PreloadIDs))
	}
}
