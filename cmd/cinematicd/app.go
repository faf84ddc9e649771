package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/cinematic-site/cinematic-go/internal/backup"
	"github.com/cinematic-site/cinematic-go/internal/catalog"
	"github.com/cinematic-site/cinematic-go/internal/config"
	"github.com/cinematic-site/cinematic-go/internal/event"
	"github.com/cinematic-site/cinematic-go/internal/origin"
	"github.com/cinematic-site/cinematic-go/internal/storage"
)

// app holds the components shared by every command.
type app struct {
	cfg     config.Config
	logger  *slog.Logger
	store   storage.Store
	events  event.Publisher
	catalog *catalog.Catalog
	warmer  *catalog.Warmer
}

// newApp loads configuration, sets up logging and opens the store.
func newApp() (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("config load failed: %w", err)
	}

	// Configure structured logging for the application
	logLevel := slog.LevelInfo
	if cfg.Env == "dev" {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: logLevel,
	}))
	slog.SetDefault(logger)

	store, err := openStore(cfg, logger)
	if err != nil {
		return nil, err
	}

	events := event.NewPublisher(cfg.NATSURL)
	src := origin.New(origin.Config{
		BaseURL: cfg.OriginURL,
		APIKey:  cfg.OriginAPIKey,
		Timeout: cfg.OriginTimeout,
	})
	cat := catalog.New(store, src, catalog.WithPublisher(events), catalog.WithLogger(logger))

	return &app{
		cfg:     cfg,
		logger:  logger,
		store:   store,
		events:  events,
		catalog: cat,
		warmer:  catalog.NewWarmer(cat, cfg.WarmInterval, cfg.EnrichLimit),
	}, nil
}

// openStore initializes the configured storage backend.
func openStore(cfg config.Config, logger *slog.Logger) (storage.Store, error) {
	var (
		store storage.Store
		err   error
	)
	switch cfg.Store {
	case "postgres":
		store, err = storage.NewPostgres(cfg.DatabaseDSN)
	case "badger":
		store, err = storage.NewBadger(cfg.BadgerDir)
	default:
		store, err = storage.NewFile(cfg.DataDir, logger)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to initialize %s storage: %w", cfg.Store, err)
	}
	logger.Info("storage ready", "backend", cfg.Store)
	return store, nil
}

// backups returns the snapshot service, disabled when no bucket is configured.
func (a *app) backups(ctx context.Context) (*backup.Service, error) {
	if !a.cfg.BackupsEnabled() {
		return backup.NewService(nil, a.catalog), nil
	}
	client, err := backup.NewS3Client(ctx, a.cfg.S3Endpoint, a.cfg.S3Region, a.cfg.S3Bucket, a.cfg.S3AccessKey, a.cfg.S3SecretKey)
	if err != nil {
		return nil, err
	}
	return backup.NewService(client, a.catalog), nil
}

func (a *app) Close() error {
	return errors.Join(a.events.Close(), a.store.Close())
}
