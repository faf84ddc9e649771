package origin

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func TestClientFilmSendsAPIKey(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("X-API-KEY"); got != "test-key" {
			t.Errorf("X-API-KEY = %q, want test-key", got)
		}
		if r.URL.Path != "/api/v2.2/films/435" {
			t.Errorf("path = %v, want /api/v2.2/films/435", r.URL.Path)
		}
		_, _ = w.Write([]byte(`{"kinopoiskId":435,"nameRu":"Зеленая миля","description":"В тюрьме"}`))
	}))
	defer srv.Close()

	c := New(Config{BaseURL: srv.URL, APIKey: "test-key", Timeout: time.Second})
	m, err := c.Film(context.Background(), 435)
	if err != nil {
		t.Fatalf("Film() error = %v", err)
	}
	if m.Title != "Зеленая миля" || !m.Complete() {
		t.Errorf("Film() = %+v", m)
	}
}

func TestClientListingEndpoints(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		switch r.URL.Path {
		case "/api/v2.2/films/collections":
			if q.Get("type") != "TOP_AWAIT" || q.Get("page") != "2" {
				t.Errorf("collection query = %v", q)
			}
		case "/api/v2.2/films":
			if q.Get("keyword") == "" && (q.Get("yearFrom") != "1950" || q.Get("genres") != "3" || q.Get("order") != "YEAR") {
				t.Errorf("filter query = %v", q)
			}
		case "/api/v2.2/films/premieres":
			if q.Get("month") != "MARCH" || q.Get("year") != "2026" {
				t.Errorf("premieres query = %v", q)
			}
			_, _ = w.Write([]byte(`{"total":1,"items":[{"kinopoiskId":9,"nameRu":"Премьера"}]}`))
			return
		}
		_, _ = w.Write([]byte(`{"total":2,"totalPages":7,"items":[{"kinopoiskId":1,"nameRu":"Один"},{"kinopoiskId":0},{"kinopoiskId":2,"nameRu":"Два"}]}`))
	}))
	defer srv.Close()

	c := New(Config{BaseURL: srv.URL, APIKey: "k"})
	ctx := context.Background()

	res, err := c.Collection(ctx, CollectionAwaited, 2)
	if err != nil {
		t.Fatalf("Collection() error = %v", err)
	}
	if len(res.Movies) != 2 || res.TotalPages != 7 {
		t.Errorf("Collection() = %d movies / %d pages, want 2 / 7", len(res.Movies), res.TotalPages)
	}

	if _, err := c.Search(ctx, "матрица", 1); err != nil {
		t.Errorf("Search() error = %v", err)
	}
	if _, err := c.Filter(ctx, FilterQuery{Page: 1, Order: "YEAR", YearFrom: 1950, YearTo: 1989, Genre: GenreIDs["action"]}); err != nil {
		t.Errorf("Filter() error = %v", err)
	}

	prem, err := c.Premieres(ctx, 2026, time.March)
	if err != nil || len(prem) != 1 {
		t.Errorf("Premieres() = %v, %v", prem, err)
	}
}

func TestClientNon2xxIsStatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusNotFound)
	}))
	defer srv.Close()

	c := New(Config{BaseURL: srv.URL, APIKey: "k"})
	_, err := c.Film(context.Background(), 1)
	var se *StatusError
	if !errors.As(err, &se) || se.Code != http.StatusNotFound {
		t.Errorf("Film() error = %v, want StatusError 404", err)
	}
}

func TestClientBreakerOpensAfterConsecutiveFailures(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	c := New(Config{BaseURL: srv.URL, APIKey: "k", FailureThreshold: 3, OpenTimeout: time.Minute})
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		if _, err := c.Film(ctx, 1); err == nil {
			t.Fatalf("Film() call %d error = nil, want failure", i)
		}
	}

	_, err := c.Film(ctx, 1)
	if !errors.Is(err, ErrUnavailable) {
		t.Errorf("Film() error = %v, want ErrUnavailable", err)
	}
	if got := hits.Load(); got != 3 {
		t.Errorf("origin hits = %d, want 3", got)
	}
}

func TestClientNotFoundDoesNotTripBreaker(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	c := New(Config{BaseURL: srv.URL, APIKey: "k", FailureThreshold: 2})
	for i := 0; i < 5; i++ {
		_, err := c.Film(context.Background(), 1)
		if errors.Is(err, ErrUnavailable) {
			t.Fatalf("Film() call %d tripped the breaker", i)
		}
	}
}
