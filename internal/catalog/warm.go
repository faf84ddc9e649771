package catalog

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/thejerf/suture/v4"
	"golang.org/x/time/rate"
)

// PreloadIDs are popular titles fetched on warm-up so the home page has
// complete records even before the first visitor.
var PreloadIDs = []int64{447301, 258687, 526875, 1143242, 435, 329, 3498, 41520, 32898, 342, 519, 301}

// ErrWarmInProgress is returned when a warm-up is already running.
var ErrWarmInProgress = errors.New("warm-up already in progress")

// WarmReport summarizes one warm-up run.
type WarmReport struct {
	Preloaded int `json:"preloaded"` // Preload ids fetched from the origin
	Enriched  int `json:"enriched"`  // Incomplete records upgraded to full detail
	Failed    int `json:"failed"`    // Fetches that fell back to cached or stub data
}

// Warmer preloads popular movies and enriches incomplete records, pacing
// origin calls with a rate limiter.
type Warmer struct {
	catalog  *Catalog
	interval time.Duration
	limit    int
	running  atomic.Bool
}

// NewWarmer creates a warmer that spaces origin calls by interval and
// enriches at most limit incomplete records per run.
func NewWarmer(c *Catalog, interval time.Duration, limit int) *Warmer {
	return &Warmer{catalog: c, interval: interval, limit: limit}
}

// Run performs one warm-up. Only one run is active at a time.
func (w *Warmer) Run(ctx context.Context) (WarmReport, error) {
	if !w.running.CompareAndSwap(false, true) {
		return WarmReport{}, ErrWarmInProgress
	}
	defer w.running.Store(false)
	return w.run(ctx)
}

// Start launches a warm-up in the background and returns at once.
func (w *Warmer) Start(ctx context.Context) error {
	if !w.running.CompareAndSwap(false, true) {
		return ErrWarmInProgress
	}
	go func() {
		defer w.running.Store(false)
		if _, err := w.run(ctx); err != nil {
			w.catalog.logger.WarnContext(ctx, "cache warm-up failed", "error", err)
		}
	}()
	return nil
}

func (w *Warmer) run(ctx context.Context) (WarmReport, error) {
	var report WarmReport
	limiter := rate.NewLimiter(rate.Every(w.interval), 1)
	c := w.catalog

	for _, id := range PreloadIDs {
		if m, ok := c.lookup(ctx, id); ok && m.Complete() {
			continue
		}
		if err := limiter.Wait(ctx); err != nil {
			return report, err
		}
		if _, src := c.GetMovie(ctx, id); src == SourceOrigin {
			report.Preloaded++
		} else {
			report.Failed++
		}
	}

	pending := 0
	for _, m := range c.snapshot(ctx) {
		if pending >= w.limit {
			break
		}
		if m.Complete() {
			continue
		}
		pending++
		if err := limiter.Wait(ctx); err != nil {
			return report, err
		}
		if _, src := c.GetMovie(ctx, m.ID); src == SourceOrigin {
			report.Enriched++
		} else {
			report.Failed++
		}
	}

	c.logger.InfoContext(ctx, "cache warm-up finished",
		"preloaded", report.Preloaded, "enriched", report.Enriched, "failed", report.Failed)
	return report, nil
}

// Serve runs a single warm-up under a supervisor and is not restarted.
func (w *Warmer) Serve(ctx context.Context) error {
	if _, err := w.Run(ctx); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		w.catalog.logger.WarnContext(ctx, "cache warm-up failed", "error", err)
	}
	return suture.ErrDoNotRestart
}

func (w *Warmer) String() string { return "cache-warmer" }
