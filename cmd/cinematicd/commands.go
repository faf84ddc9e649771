package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cinematic-site/cinematic-go/internal/auth"
	"github.com/cinematic-site/cinematic-go/internal/metrics"
	"github.com/cinematic-site/cinematic-go/internal/presence"
	"github.com/cinematic-site/cinematic-go/internal/registry"
	"github.com/cinematic-site/cinematic-go/internal/render"
	"github.com/cinematic-site/cinematic-go/internal/schema"
	"github.com/cinematic-site/cinematic-go/internal/server"
	"github.com/cinematic-site/cinematic-go/internal/supervisor"
	"github.com/cinematic-site/cinematic-go/internal/telemetry"
	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the API and pages (default)",
	Args:  cobra.NoArgs,
	RunE:  runServe,
}

var warmCmd = &cobra.Command{
	Use:   "warm",
	Short: "Preload and enrich the movie cache once, then exit",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.Close()

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		report, err := a.warmer.Run(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "preloaded %d, enriched %d, failed %d\n", report.Preloaded, report.Enriched, report.Failed)
		return nil
	},
}

var sitemapCmd = &cobra.Command{
	Use:   "sitemap",
	Short: "Print the sitemap of the cached movies to stdout",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.Close()

		renderer, err := render.New(a.cfg.SiteURL)
		if err != nil {
			return err
		}
		movies, err := a.catalog.Movies(cmd.Context())
		if err != nil {
			return err
		}
		return renderer.Sitemap(cmd.OutOrStdout(), movies, time.Now())
	},
}

// runServe wires the HTTP surface and runs it with the sweepers under a
// supervisor tree until SIGINT or SIGTERM.
func runServe(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()
	cfg, logger := a.cfg, a.logger

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Spans go to stdout in development only
	if cfg.Env == "dev" {
		shutdown, err := telemetry.InitTracer("cinematic", version, os.Stdout)
		if err != nil {
			return fmt.Errorf("failed to initialize OpenTelemetry tracer: %w", err)
		}
		defer func() {
			sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = shutdown(sctx)
		}()
	}

	creds, err := auth.NewCredentials(cfg.AdminUsername, cfg.AdminPassword, cfg.AdminPasswordHash)
	if err != nil {
		return err
	}
	renderer, err := render.New(cfg.SiteURL)
	if err != nil {
		return err
	}
	validator, err := schema.NewValidator()
	if err != nil {
		return err
	}
	backups, err := a.backups(ctx)
	if err != nil {
		return err
	}

	tracker := presence.New(presence.Config{Timeout: cfg.OnlineTimeout, SweepInterval: cfg.OnlineSweepInterval},
		presence.WithGauge(metrics.NewMetrics().OnlineSessions))
	sites := registry.New(a.store, registry.Config{
		OfflineAfter:  cfg.SiteOfflineAfter,
		SweepInterval: cfg.SiteSweepInterval,
	}, registry.WithPublisher(a.events), registry.WithLogger(logger))

	mux := server.NewMux(server.Deps{
		Store:              a.store,
		Catalog:            a.catalog,
		Warmer:             a.warmer,
		Presence:           tracker,
		Registry:           sites,
		Signer:             auth.NewSigner(cfg.TokenSecret, cfg.TokenTTL),
		Credentials:        creds,
		Backups:            backups,
		Renderer:           renderer,
		Validator:          validator,
		PublicDir:          cfg.PublicDir,
		CORSAllowedOrigins: cfg.CORSAllowedOrigins,
		Logger:             logger,
	})

	addr := ":" + cfg.Port
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      30 * time.Second,
	}

	tree := supervisor.NewTree(logger, supervisor.TreeConfig{})
	tree.AddAPI(supervisor.NewHTTPService(srv, 10*time.Second))
	tree.AddBackground(tracker)
	tree.AddBackground(sites)
	if cfg.WarmOnStart {
		tree.AddBackground(a.warmer)
	}

	logger.Info("server starting", "addr", addr, "env", cfg.Env, "version", version)
	err = tree.Serve(ctx)
	if report, rerr := tree.UnstoppedServiceReport(); rerr == nil && len(report) > 0 {
		logger.Warn("services did not stop in time", "services", len(report))
	}
	logger.Info("server exited")
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
