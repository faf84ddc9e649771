// internal/storage/postgres.go
package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cinematic-site/cinematic-go/internal/model"
	"github.com/goccy/go-json"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// postgres implements the Store interface on PostgreSQL.
// Records are kept as JSONB documents keyed by id; row locks take the place
// of the file store's mutex.
type postgres struct {
	db *pgxpool.Pool // Connection pool to PostgreSQL database
}

// NewPostgres creates a new PostgreSQL storage implementation.
// It establishes a connection pool to the database and initializes the schema.
// Parameters:
//   - dsn: Database connection string in PostgreSQL format
//
// Returns:
//   - Store: Implementation of the storage interface
//   - error: Any error that occurred during initialization
func NewPostgres(dsn string) (Store, error) {
	config, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("invalid database DSN: %w", err)
	}

	config.MaxConns = 10
	config.MinConns = 2
	config.MaxConnLifetime = time.Hour
	config.MaxConnIdleTime = time.Minute * 30
	config.HealthCheckPeriod = time.Minute

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if err := initSchema(ctx, pool); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return &postgres{db: pool}, nil
}

// initSchema creates all required tables if they don't already exist.
func initSchema(ctx context.Context, db *pgxpool.Pool) error {
	schema := `
		-- Cached movie records
		CREATE TABLE IF NOT EXISTS movies (
		    id BIGINT PRIMARY KEY,                   -- External movie id
		    data JSONB NOT NULL,                     -- Movie record
		    cached_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
		);

		-- Registered mirror sites
		CREATE TABLE IF NOT EXISTS sites (
		    site_id TEXT PRIMARY KEY,                -- site_ prefixed id
		    data JSONB NOT NULL,                     -- Site document
		    created_at TIMESTAMP WITH TIME ZONE NOT NULL
		);

		-- Single-row bookkeeping
		CREATE TABLE IF NOT EXISTS store_meta (
		    key TEXT PRIMARY KEY,
		    updated_at TIMESTAMP WITH TIME ZONE NOT NULL
		);
	`
	_, err := db.Exec(ctx, schema)
	return err
}

// Close closes the connection pool.
func (p *postgres) Close() error {
	p.db.Close()
	return nil
}

func (p *postgres) Ping(ctx context.Context) error {
	return p.db.Ping(ctx)
}

// touch records the time of the last movie write.
func touch(ctx context.Context, q interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
}) error {
	_, err := q.Exec(ctx, `
		INSERT INTO store_meta (key, updated_at) VALUES ('movies', $1)
		ON CONFLICT (key) DO UPDATE SET updated_at = EXCLUDED.updated_at`, time.Now().UTC())
	return err
}

func (p *postgres) GetMovie(ctx context.Context, id int64) (model.Movie, error) {
	var data []byte
	err := p.db.QueryRow(ctx, `SELECT data FROM movies WHERE id = $1`, id).Scan(&data)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.Movie{}, ErrNotFound
		}
		return model.Movie{}, fmt.Errorf("failed to get movie: %w", err)
	}
	var movie model.Movie
	if err := json.Unmarshal(data, &movie); err != nil {
		return model.Movie{}, fmt.Errorf("failed to decode movie: %w", err)
	}
	return movie, nil
}

func (p *postgres) PutMovie(ctx context.Context, movie model.Movie) error {
	data, err := json.Marshal(movie)
	if err != nil {
		return fmt.Errorf("failed to encode movie: %w", err)
	}
	tx, err := p.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, `
		INSERT INTO movies (id, data, cached_at) VALUES ($1, $2, NOW())
		ON CONFLICT (id) DO UPDATE SET data = EXCLUDED.data, cached_at = EXCLUDED.cached_at`,
		movie.ID, data)
	if err != nil {
		return fmt.Errorf("failed to upsert movie: %w", err)
	}
	if err := touch(ctx, tx); err != nil {
		return fmt.Errorf("failed to update store meta: %w", err)
	}
	return tx.Commit(ctx)
}

func (p *postgres) PutMoviesIfAbsent(ctx context.Context, movies []model.Movie) (int, error) {
	if len(movies) == 0 {
		return 0, nil
	}
	tx, err := p.db.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	inserted := 0
	for _, movie := range movies {
		data, err := json.Marshal(movie)
		if err != nil {
			return 0, fmt.Errorf("failed to encode movie: %w", err)
		}
		tag, err := tx.Exec(ctx, `
			INSERT INTO movies (id, data, cached_at) VALUES ($1, $2, NOW())
			ON CONFLICT (id) DO NOTHING`, movie.ID, data)
		if err != nil {
			return 0, fmt.Errorf("failed to insert movie: %w", err)
		}
		inserted += int(tag.RowsAffected())
	}
	if inserted > 0 {
		if err := touch(ctx, tx); err != nil {
			return 0, fmt.Errorf("failed to update store meta: %w", err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, err
	}
	return inserted, nil
}

func (p *postgres) ListMovies(ctx context.Context) ([]model.Movie, error) {
	rows, err := p.db.Query(ctx, `SELECT data FROM movies ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list movies: %w", err)
	}
	defer rows.Close()

	var out []model.Movie
	for rows.Next() {
		var data []byte
		if err := rows.Scan(&data); err != nil {
			return nil, err
		}
		var movie model.Movie
		if err := json.Unmarshal(data, &movie); err != nil {
			return nil, fmt.Errorf("failed to decode movie: %w", err)
		}
		out = append(out, movie)
	}
	return out, rows.Err()
}

func (p *postgres) MovieStats(ctx context.Context) (model.CacheStats, error) {
	var stats model.CacheStats
	if err := p.db.QueryRow(ctx, `SELECT COUNT(*) FROM movies`).Scan(&stats.TotalMovies); err != nil {
		return stats, fmt.Errorf("failed to count movies: %w", err)
	}
	var last time.Time
	err := p.db.QueryRow(ctx, `SELECT updated_at FROM store_meta WHERE key = 'movies'`).Scan(&last)
	switch {
	case err == nil:
		last = last.UTC()
		stats.LastUpdate = &last
	case !errors.Is(err, pgx.ErrNoRows):
		return stats, fmt.Errorf("failed to read store meta: %w", err)
	}
	return stats, nil
}

func (p *postgres) ResetMovies(ctx context.Context) error {
	tx, err := p.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `TRUNCATE movies`); err != nil {
		return fmt.Errorf("failed to reset movies: %w", err)
	}
	if err := touch(ctx, tx); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (p *postgres) CreateSite(ctx context.Context, site model.Site) error {
	data, err := json.Marshal(site)
	if err != nil {
		return fmt.Errorf("failed to encode site: %w", err)
	}
	_, err = p.db.Exec(ctx, `INSERT INTO sites (site_id, data, created_at) VALUES ($1, $2, $3)`,
		site.SiteID, data, site.CreatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return ErrConflict
		}
		return fmt.Errorf("failed to create site: %w", err)
	}
	return nil
}

func (p *postgres) GetSite(ctx context.Context, siteID string) (model.Site, error) {
	var data []byte
	err := p.db.QueryRow(ctx, `SELECT data FROM sites WHERE site_id = $1`, siteID).Scan(&data)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.Site{}, ErrNotFound
		}
		return model.Site{}, fmt.Errorf("failed to get site: %w", err)
	}
	var site model.Site
	if err := json.Unmarshal(data, &site); err != nil {
		return model.Site{}, fmt.Errorf("failed to decode site: %w", err)
	}
	return site, nil
}

func (p *postgres) ListSites(ctx context.Context) ([]model.Site, error) {
	rows, err := p.db.Query(ctx, `SELECT data FROM sites ORDER BY created_at, site_id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list sites: %w", err)
	}
	defer rows.Close()
	return scanSites(rows)
}

func scanSites(rows pgx.Rows) ([]model.Site, error) {
	var out []model.Site
	for rows.Next() {
		var data []byte
		if err := rows.Scan(&data); err != nil {
			return nil, err
		}
		var site model.Site
		if err := json.Unmarshal(data, &site); err != nil {
			return nil, fmt.Errorf("failed to decode site: %w", err)
		}
		out = append(out, site)
	}
	return out, rows.Err()
}

func (p *postgres) DeleteSite(ctx context.Context, siteID string) error {
	tag, err := p.db.Exec(ctx, `DELETE FROM sites WHERE site_id = $1`, siteID)
	if err != nil {
		return fmt.Errorf("failed to delete site: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (p *postgres) UpdateSite(ctx context.Context, siteID string, fn func(*model.Site) error) (model.Site, error) {
	tx, err := p.db.Begin(ctx)
	if err != nil {
		return model.Site{}, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	var data []byte
	err = tx.QueryRow(ctx, `SELECT data FROM sites WHERE site_id = $1 FOR UPDATE`, siteID).Scan(&data)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.Site{}, ErrNotFound
		}
		return model.Site{}, fmt.Errorf("failed to lock site: %w", err)
	}
	var site model.Site
	if err := json.Unmarshal(data, &site); err != nil {
		return model.Site{}, fmt.Errorf("failed to decode site: %w", err)
	}
	if err := fn(&site); err != nil {
		return model.Site{}, err
	}
	if data, err = json.Marshal(site); err != nil {
		return model.Site{}, fmt.Errorf("failed to encode site: %w", err)
	}
	if _, err := tx.Exec(ctx, `UPDATE sites SET data = $2 WHERE site_id = $1`, siteID, data); err != nil {
		return model.Site{}, fmt.Errorf("failed to update site: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return model.Site{}, err
	}
	return site, nil
}

func (p *postgres) UpdateSites(ctx context.Context, fn func(*model.Site) bool) ([]model.Site, error) {
	tx, err := p.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	rows, err := tx.Query(ctx, `SELECT data FROM sites ORDER BY created_at, site_id FOR UPDATE`)
	if err != nil {
		return nil, fmt.Errorf("failed to lock sites: %w", err)
	}
	sites, err := scanSites(rows)
	rows.Close()
	if err != nil {
		return nil, err
	}

	var changed []model.Site
	for i := range sites {
		if !fn(&sites[i]) {
			continue
		}
		data, err := json.Marshal(sites[i])
		if err != nil {
			return nil, fmt.Errorf("failed to encode site: %w", err)
		}
		if _, err := tx.Exec(ctx, `UPDATE sites SET data = $2 WHERE site_id = $1`, sites[i].SiteID, data); err != nil {
			return nil, fmt.Errorf("failed to update site: %w", err)
		}
		changed = append(changed, sites[i])
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return changed, nil
}
