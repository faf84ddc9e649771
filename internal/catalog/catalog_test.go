package catalog

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"reflect"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cinematic-site/cinematic-go/internal/model"
	"github.com/cinematic-site/cinematic-go/internal/origin"
	"github.com/cinematic-site/cinematic-go/internal/storage"
)

var errDown = errors.New("origin down")

// fakeOrigin serves canned data and counts calls. A nil map entry or a set
// down flag makes the call fail.
type fakeOrigin struct {
	mu        sync.Mutex
	down      bool
	films     map[int64]model.Movie
	listing   origin.Result
	premieres []model.Movie
	filmCalls atomic.Int32
	lastQuery origin.FilterQuery
	lastKw    string
	block     chan struct{}
}

func (f *fakeOrigin) setDown(down bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.down = down
}

func (f *fakeOrigin) isDown() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.down
}

func (f *fakeOrigin) Film(ctx context.Context, id int64) (model.Movie, error) {
	f.filmCalls.Add(1)
	if f.block != nil {
		<-f.block
	}
	if f.isDown() {
		return model.Movie{}, errDown
	}
	m, ok := f.films[id]
	if !ok {
		return model.Movie{}, &origin.StatusError{Endpoint: "film", Code: http.StatusNotFound}
	}
	return m, nil
}

func (f *fakeOrigin) Search(ctx context.Context, keyword string, page int) (origin.Result, error) {
	f.mu.Lock()
	f.lastKw = keyword
	f.mu.Unlock()
	if f.isDown() {
		return origin.Result{}, errDown
	}
	return f.listing, nil
}

func (f *fakeOrigin) Collection(ctx context.Context, kind origin.Collection, page int) (origin.Result, error) {
	if f.isDown() {
		return origin.Result{}, errDown
	}
	return f.listing, nil
}

func (f *fakeOrigin) Filter(ctx context.Context, q origin.FilterQuery) (origin.Result, error) {
	f.mu.Lock()
	f.lastQuery = q
	f.mu.Unlock()
	if f.isDown() {
		return origin.Result{}, errDown
	}
	return f.listing, nil
}

func (f *fakeOrigin) Premieres(ctx context.Context, year int, month time.Month) ([]model.Movie, error) {
	if f.isDown() || f.premieres == nil {
		return nil, errDown
	}
	return f.premieres, nil
}

var fixedNow = time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)

func newTestCatalog(src Origin) (*Catalog, storage.Store) {
	store := storage.NewMemory()
	return New(store, src, WithClock(func() time.Time { return fixedNow })), store
}

func ptr[T any](v T) *T { return &v }

func completeMovie(id int64) model.Movie {
	return model.Movie{ID: id, Title: "Интерстеллар", Description: "Space.", Year: ptr(2014), StreamURL: model.StreamPath(id)}
}

func TestGetMovieCompleteRecordIsNeverRefetched(t *testing.T) {
	src := &fakeOrigin{films: map[int64]model.Movie{258687: completeMovie(258687)}}
	c, _ := newTestCatalog(src)
	ctx := context.Background()

	first, source := c.GetMovie(ctx, 258687)
	if source != SourceOrigin {
		t.Fatalf("first GetMovie() source = %v, want %v", source, SourceOrigin)
	}
	if first.CachedAt == nil || !first.CachedAt.Equal(fixedNow) {
		t.Errorf("GetMovie() CachedAt = %v, want %v", first.CachedAt, fixedNow)
	}

	second, source := c.GetMovie(ctx, 258687)
	if source != SourceCache {
		t.Errorf("second GetMovie() source = %v, want %v", source, SourceCache)
	}
	if !reflect.DeepEqual(first, second) {
		t.Errorf("GetMovie() not stable: got %+v want %+v", second, first)
	}
	if got := src.filmCalls.Load(); got != 1 {
		t.Errorf("origin Film calls = %d, want 1", got)
	}
}

func TestGetMovieUpgradesPartialRecord(t *testing.T) {
	src := &fakeOrigin{films: map[int64]model.Movie{435: completeMovie(435)}}
	c, store := newTestCatalog(src)
	ctx := context.Background()
	if err := store.PutMovie(ctx, model.Movie{ID: 435, Title: "thin"}); err != nil {
		t.Fatal(err)
	}

	got, source := c.GetMovie(ctx, 435)
	if source != SourceOrigin || got.Description == "" {
		t.Fatalf("GetMovie() = %+v, %v want complete record from origin", got, source)
	}
	stored, err := store.GetMovie(ctx, 435)
	if err != nil || !stored.Complete() {
		t.Errorf("stored record = %+v, %v want complete", stored, err)
	}
}

func TestGetMovieOriginFailureServesPartialRecord(t *testing.T) {
	src := &fakeOrigin{down: true}
	c, store := newTestCatalog(src)
	ctx := context.Background()
	partial := model.Movie{ID: 329, Title: "Список Шиндлера", StreamURL: model.StreamPath(329)}
	if err := store.PutMovie(ctx, partial); err != nil {
		t.Fatal(err)
	}

	got, source := c.GetMovie(ctx, 329)
	if source != SourceStale {
		t.Errorf("GetMovie() source = %v, want %v", source, SourceStale)
	}
	if !reflect.DeepEqual(got, partial) {
		t.Errorf("GetMovie() = %+v, want %+v", got, partial)
	}
}

func TestGetMovieOriginFailureWithoutCacheServesStub(t *testing.T) {
	// A closed server refuses connections like an unreachable origin.
	srv := httptest.NewServer(http.NotFoundHandler())
	srv.Close()

	c, _ := newTestCatalog(origin.New(origin.Config{BaseURL: srv.URL, APIKey: "k", Timeout: time.Second}))
	got, source := c.GetMovie(context.Background(), 447301)

	want := model.Movie{ID: 447301, Title: model.PlaceholderTitle, StreamURL: "/watch/447301"}
	if source != SourceStub {
		t.Errorf("GetMovie() source = %v, want %v", source, SourceStub)
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("GetMovie() = %+v, want %+v", got, want)
	}
}

func TestGetMovieCollapsesConcurrentMisses(t *testing.T) {
	src := &fakeOrigin{films: map[int64]model.Movie{3498: completeMovie(3498)}, block: make(chan struct{})}
	c, _ := newTestCatalog(src)

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.GetMovie(context.Background(), 3498)
		}()
	}
	time.Sleep(50 * time.Millisecond)
	close(src.block)
	wg.Wait()

	if got := src.filmCalls.Load(); got != 1 {
		t.Errorf("origin Film calls = %d, want 1", got)
	}
}

func TestSearchInsertsOnlyAbsentRecords(t *testing.T) {
	results := make([]model.Movie, 25)
	for i := range results {
		results[i] = model.Movie{ID: int64(i + 1), Title: "thin"}
	}
	src := &fakeOrigin{listing: origin.Result{Movies: results}}
	c, store := newTestCatalog(src)
	ctx := context.Background()
	if err := store.PutMovie(ctx, completeMovie(1)); err != nil {
		t.Fatal(err)
	}

	got := c.Search(ctx, "матрица")
	if len(got) != searchLimit {
		t.Errorf("Search() returned %d movies, want %d", len(got), searchLimit)
	}
	kept, _ := store.GetMovie(ctx, 1)
	if !kept.Complete() {
		t.Errorf("Search() overwrote enriched record: %+v", kept)
	}
	stats, _ := store.MovieStats(ctx)
	if stats.TotalMovies != searchLimit {
		t.Errorf("stored movies = %d, want %d", stats.TotalMovies, searchLimit)
	}
}

func TestSearchOriginFailureIsEmpty(t *testing.T) {
	c, _ := newTestCatalog(&fakeOrigin{down: true})
	got := c.Search(context.Background(), "x")
	if got == nil || len(got) != 0 {
		t.Errorf("Search() = %v, want empty non-nil slice", got)
	}
}

func TestCollections(t *testing.T) {
	c, store := newTestCatalog(&fakeOrigin{})
	ctx := context.Background()
	movies := []model.Movie{
		{ID: 1, Rating: ptr(8.5), Year: ptr(1994)},
		{ID: 2, Rating: ptr(7.0), Year: ptr(2024)},
		{ID: 3, Year: ptr(2010)},
	}
	for _, m := range movies {
		if err := store.PutMovie(ctx, m); err != nil {
			t.Fatal(err)
		}
	}

	got := c.Collections(ctx)
	if len(got.Popular) != 1 || got.Popular[0].ID != 1 {
		t.Errorf("Collections() popular = %v, want [1]", got.Popular)
	}
	if len(got.New) != 1 || got.New[0].ID != 2 {
		t.Errorf("Collections() new = %v, want [2]", got.New)
	}
	if len(got.Classic) != 1 || got.Classic[0].ID != 1 {
		t.Errorf("Collections() classic = %v, want [1]", got.Classic)
	}
}
