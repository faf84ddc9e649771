package backup

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/cinematic-site/cinematic-go/internal/model"
)

type staticSource struct{ movies []model.Movie }

func (s staticSource) Movies(ctx context.Context) ([]model.Movie, error) { return s.movies, nil }

func (s staticSource) Stats(ctx context.Context) (model.CacheStats, error) {
	return model.CacheStats{TotalMovies: len(s.movies)}, nil
}

func TestServiceUploadsSnapshot(t *testing.T) {
	var (
		mu     sync.Mutex
		method string
		path   string
		body   string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		mu.Lock()
		method, path, body = r.Method, r.URL.Path, string(b)
		mu.Unlock()
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	client, err := NewS3Client(context.Background(), srv.URL, "us-east-1", "snapshots", "key", "secret")
	if err != nil {
		t.Fatalf("NewS3Client() error = %v", err)
	}
	svc := NewService(client, staticSource{movies: []model.Movie{{ID: 447301, Title: "Начало"}}})
	svc.now = func() time.Time { return time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC) }

	res, err := svc.Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	wantKey := "snapshots/movies-20250310T120000Z.json"
	if res.Key != wantKey || res.Movies != 1 {
		t.Errorf("Run() = %+v, want key %s and 1 movie", res, wantKey)
	}
	if !strings.Contains(res.DownloadURL, "/snapshots/"+wantKey) || !strings.Contains(res.DownloadURL, "X-Amz-Signature") {
		t.Errorf("Run() downloadUrl = %s, want presigned path-style URL", res.DownloadURL)
	}

	mu.Lock()
	defer mu.Unlock()
	if method != http.MethodPut || path != "/snapshots/"+wantKey {
		t.Errorf("upload = %s %s, want PUT /snapshots/%s", method, path, wantKey)
	}
	if !strings.Contains(body, `"id":447301`) {
		t.Errorf("upload body = %s, want the cached movie", body)
	}
}

func TestServiceDisabled(t *testing.T) {
	svc := NewService(nil, staticSource{})
	if _, err := svc.Run(context.Background()); !errors.Is(err, ErrDisabled) {
		t.Errorf("Run() error = %v, want ErrDisabled", err)
	}
}
