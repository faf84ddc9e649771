// Package presence counts visitors by heartbeat. Each session keeps only its
// last-seen time; a periodic sweep evicts sessions that went quiet.
package presence

import (
	"context"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Config configures a Tracker.
type Config struct {
	Timeout       time.Duration // A session idle longer than this is evicted
	SweepInterval time.Duration // How often Serve sweeps
}

// Option customizes a Tracker.
type Option func(*Tracker)

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(t *Tracker) { t.now = now }
}

// WithGauge reports the live session count to g. Trackers without a gauge
// report nowhere, so independent instances never share a series.
func WithGauge(g prometheus.Gauge) Option {
	return func(t *Tracker) { t.gauge = g }
}

// Tracker maps session ids to their last heartbeat.
type Tracker struct {
	cfg   Config
	now   func() time.Time
	gauge prometheus.Gauge

	mu       sync.Mutex
	sessions map[string]time.Time
}

// New creates a tracker. Zero config values default to a 60s timeout and a 30s sweep.
func New(cfg Config, opts ...Option) *Tracker {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = 30 * time.Second
	}
	t := &Tracker{
		cfg:      cfg,
		now:      time.Now,
		sessions: make(map[string]time.Time),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Heartbeat marks id as active now and returns the number of tracked sessions.
func (t *Tracker) Heartbeat(id string) int {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.sessions[id] = t.now()
	n := len(t.sessions)
	t.report(n)
	return n
}

// Count returns the number of tracked sessions. Staleness is not checked
// here; only Sweep removes sessions.
func (t *Tracker) Count() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.sessions)
}

// Sweep evicts every session idle for longer than the timeout and returns
// how many were removed.
func (t *Tracker) Sweep() int {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	removed := 0
	for id, last := range t.sessions {
		if now.Sub(last) > t.cfg.Timeout {
			delete(t.sessions, id)
			removed++
		}
	}
	t.report(len(t.sessions))
	return removed
}

func (t *Tracker) report(n int) {
	if t.gauge != nil {
		t.gauge.Set(float64(n))
	}
}

// Serve sweeps on a fixed interval until ctx is done.
func (t *Tracker) Serve(ctx context.Context) error {
	ticker := time.NewTicker(t.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			t.Sweep()
		}
	}
}

func (t *Tracker) String() string { return "presence-sweeper" }
