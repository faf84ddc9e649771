package backup

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/cinematic-site/cinematic-go/internal/model"
)

// ErrDisabled is returned when no bucket is configured.
var ErrDisabled = errors.New("backups are not configured")

// downloadTTL is how long a presigned snapshot link stays valid.
const downloadTTL = 15 * time.Minute

// Source provides the records to back up. *catalog.Catalog implements it.
type Source interface {
	Movies(ctx context.Context) ([]model.Movie, error)
	Stats(ctx context.Context) (model.CacheStats, error)
}

// Result describes an uploaded snapshot.
type Result struct {
	Key         string    `json:"key"`
	DownloadURL string    `json:"downloadUrl"`
	Movies      int       `json:"movies"`
	TakenAt     time.Time `json:"takenAt"`
}

// Service snapshots the movie cache into a bucket.
type Service struct {
	client *S3Client
	source Source
	now    func() time.Time
}

// NewService creates a backup service. A nil client yields a service whose
// Run always returns ErrDisabled.
func NewService(client *S3Client, source Source) *Service {
	return &Service{client: client, source: source, now: time.Now}
}

// Run uploads a snapshot of every cached movie.
func (s *Service) Run(ctx context.Context) (Result, error) {
	if s.client == nil {
		return Result{}, ErrDisabled
	}
	movies, err := s.source.Movies(ctx)
	if err != nil {
		return Result{}, err
	}
	stats, err := s.source.Stats(ctx)
	if err != nil {
		return Result{}, err
	}

	snap := Snapshot{TakenAt: s.now().UTC(), LastUpdate: stats.LastUpdate, Movies: movies}
	key, err := s.client.Upload(ctx, snap)
	if err != nil {
		return Result{}, err
	}
	url, err := s.client.PresignGet(ctx, key, downloadTTL)
	if err != nil {
		return Result{}, err
	}

	slog.InfoContext(ctx, "cache snapshot uploaded", "key", key, "movies", len(movies))
	return Result{Key: key, DownloadURL: url, Movies: len(movies), TakenAt: snap.TakenAt}, nil
}
