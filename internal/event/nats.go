// internal/event/nats.go
// Package event provides NATS JetStream implementation for event publishing.
// It streams cache writes and mirror status changes to downstream consumers.
package event

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cinematic-site/cinematic-go/internal/metrics"
	"github.com/cinematic-site/cinematic-go/internal/model"
	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
)

// Event types published by the service
const (
	TypeMovieCached = "cinematic.movies.cached"
	TypeSiteStatus  = "cinematic.sites.status"
)

// dedupWindow suppresses repeats of the same event within this window.
const dedupWindow = 2 * time.Minute

// Publisher interface defines the event publishing operations required by the catalog service.
type Publisher interface {
	// PublishMovieCached announces that a movie record was written to the cache
	PublishMovieCached(ctx context.Context, movie model.Movie) error

	// PublishSiteStatus announces a mirror site status transition
	PublishSiteStatus(ctx context.Context, site model.Site) error

	// Close closes the publisher connection
	Close() error
}

// Noop is a no-op implementation of Publisher for when NATS is not configured.
type Noop struct{}

func (Noop) Close() error { return nil }

func (Noop) PublishMovieCached(ctx context.Context, movie model.Movie) error { return nil }

func (Noop) PublishSiteStatus(ctx context.Context, site model.Site) error { return nil }

// natsPub is the NATS JetStream implementation of Publisher.
type natsPub struct {
	nc      *nats.Conn            // NATS connection
	js      nats.JetStreamContext // JetStream context for stream operations
	metrics *metrics.Metrics

	dedup map[string]time.Time // Event key to last publish time
	mutex sync.Mutex           // Protects dedup
}

// NewPublisher connects to url and returns a JetStream publisher.
// If url is empty or the connection fails, it returns a no-op publisher
// so the service keeps running without event streaming.
func NewPublisher(url string) Publisher {
	if url == "" {
		return Noop{}
	}

	nc, err := nats.Connect(url, nats.Name("cinematic"))
	if err != nil {
		slog.Warn("NATS connect failed, using noop publisher", "error", err)
		return Noop{}
	}

	js, err := nc.JetStream()
	if err != nil {
		slog.Warn("NATS JetStream context creation failed, using noop publisher", "error", err)
		nc.Close()
		return Noop{}
	}

	if err := initStreams(js); err != nil {
		slog.Warn("NATS stream initialization failed, using noop publisher", "error", err)
		nc.Close()
		return Noop{}
	}

	return &natsPub{
		nc:      nc,
		js:      js,
		metrics: metrics.NewMetrics(),
		dedup:   make(map[string]time.Time),
	}
}

// initStreams creates the CINE_MOVIES and CINE_SITES streams.
func initStreams(js nats.JetStreamContext) error {
	_, err := js.AddStream(&nats.StreamConfig{
		Name:      "CINE_MOVIES",
		Subjects:  []string{"cinematic.movies.*"},
		Retention: nats.LimitsPolicy,
		MaxAge:    24 * time.Hour,
		Discard:   nats.DiscardOld,
		Storage:   nats.FileStorage,
	})
	if err != nil {
		return fmt.Errorf("failed to create CINE_MOVIES stream: %w", err)
	}

	_, err = js.AddStream(&nats.StreamConfig{
		Name:      "CINE_SITES",
		Subjects:  []string{"cinematic.sites.*"},
		Retention: nats.LimitsPolicy,
		MaxAge:    7 * 24 * time.Hour,
		Discard:   nats.DiscardOld,
		Storage:   nats.FileStorage,
	})
	if err != nil {
		return fmt.Errorf("failed to create CINE_SITES stream: %w", err)
	}

	return nil
}

// EventEnvelope represents the standard event envelope structure.
type EventEnvelope struct {
	Type          string      `json:"type"`          // Event type identifier
	Version       string      `json:"version"`       // Event schema version
	OccurredAt    time.Time   `json:"occurredAt"`    // When the event occurred
	CorrelationID string      `json:"correlationId"` // Correlation ID for tracing
	Payload       interface{} `json:"payload"`       // Event-specific data
}

// Close closes the NATS connection.
func (p *natsPub) Close() error {
	if p.nc != nil {
		p.nc.Drain()
	}
	return nil
}

// seen reports whether key was published within the dedup window and
// records it otherwise. Entries older than the window are pruned.
func (p *natsPub) seen(key string, now time.Time) bool {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	if last, ok := p.dedup[key]; ok && now.Sub(last) < dedupWindow {
		return true
	}
	for k, t := range p.dedup {
		if now.Sub(t) >= dedupWindow {
			delete(p.dedup, k)
		}
	}
	p.dedup[key] = now
	return false
}

func (p *natsPub) forget(key string) {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	delete(p.dedup, key)
}

// publish sends one event. An empty dedupKey disables suppression.
func (p *natsPub) publish(ctx context.Context, eventType, dedupKey string, payload interface{}) error {
	if dedupKey != "" && p.seen(dedupKey, time.Now()) {
		return nil
	}

	b, err := json.Marshal(EventEnvelope{
		Type:          eventType,
		Version:       "1.0.0",
		OccurredAt:    time.Now().UTC(),
		CorrelationID: uuid.New().String(),
		Payload:       payload,
	})
	if err != nil {
		p.forget(dedupKey)
		return err
	}

	if _, err := p.js.Publish(eventType, b, nats.Context(ctx)); err != nil {
		p.forget(dedupKey)
		p.metrics.EventPublishTotal.WithLabelValues(eventType, "error").Inc()
		return err
	}
	p.metrics.EventPublishTotal.WithLabelValues(eventType, "ok").Inc()
	return nil
}

// PublishMovieCached publishes a movie cached event. A record's upgrade to
// complete detail is a distinct event from its first thin insert.
func (p *natsPub) PublishMovieCached(ctx context.Context, movie model.Movie) error {
	key := fmt.Sprintf("movie:%d:%t", movie.ID, movie.Complete())
	return p.publish(ctx, TypeMovieCached, key, movie)
}

// PublishSiteStatus publishes a site status event. The API key is redacted.
// Status events are never deduplicated: the registry only reports real
// transitions, and a site may flap faster than the dedup window.
func (p *natsPub) PublishSiteStatus(ctx context.Context, site model.Site) error {
	return p.publish(ctx, TypeSiteStatus, "", site.Redacted())
}
