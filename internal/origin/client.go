// Package origin is the client for the upstream film metadata API.
// It translates each endpoint's payload into the canonical movie record and
// reports every failure as a soft error the cache layer can fall back from.
package origin

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/cinematic-site/cinematic-go/internal/metrics"
	"github.com/cinematic-site/cinematic-go/internal/model"
	"github.com/cinematic-site/cinematic-go/internal/telemetry"
	"github.com/goccy/go-json"
	gobreaker "github.com/sony/gobreaker/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// ErrUnavailable is returned while the circuit breaker refuses origin calls.
var ErrUnavailable = errors.New("origin unavailable")

// StatusError is returned for non-2xx origin responses.
type StatusError struct {
	Endpoint string
	Code     int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("origin %s: unexpected status %d", e.Endpoint, e.Code)
}

// maxBodyBytes caps how much of a response body is read.
const maxBodyBytes = 8 << 20

// Collection names a curated origin list.
type Collection string

const (
	CollectionPopularMovies Collection = "TOP_POPULAR_MOVIES"
	CollectionAwaited       Collection = "TOP_AWAIT"
	CollectionPopularAll    Collection = "TOP_POPULAR_ALL"
)

// Config configures the origin client.
type Config struct {
	BaseURL          string        // e.g. https://kinopoiskapiunofficial.tech
	APIKey           string        // X-API-KEY header value
	Timeout          time.Duration // Per-request timeout
	FailureThreshold uint32        // Consecutive failures before the breaker opens
	OpenTimeout      time.Duration // How long the breaker stays open
}

// Result is one page of a listing endpoint.
type Result struct {
	Movies     []model.Movie
	Total      int // Total items reported by the origin, 0 when absent
	TotalPages int // Total pages reported by the origin, 0 when absent
}

// Client for the origin film API.
type Client struct {
	base    string
	apiKey  string
	hc      *http.Client
	breaker *gobreaker.CircuitBreaker[[]byte]
	metrics *metrics.Metrics
}

// New creates an origin client with a circuit breaker around every call.
func New(cfg Config) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.FailureThreshold == 0 {
		cfg.FailureThreshold = 5
	}
	if cfg.OpenTimeout <= 0 {
		cfg.OpenTimeout = 30 * time.Second
	}

	transport := &http.Transport{
		DialContext:         (&net.Dialer{Timeout: 3 * time.Second}).DialContext,
		TLSHandshakeTimeout: 5 * time.Second,
		MaxIdleConnsPerHost: 8,
	}

	m := metrics.NewMetrics()
	c := &Client{
		base:    cfg.BaseURL,
		apiKey:  cfg.APIKey,
		hc:      &http.Client{Transport: transport, Timeout: cfg.Timeout},
		metrics: m,
	}

	c.breaker = gobreaker.NewCircuitBreaker[[]byte](gobreaker.Settings{
		Name:        "origin",
		MaxRequests: 1,
		Timeout:     cfg.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.FailureThreshold
		},
		IsSuccessful: countsAsHealthy,
		OnStateChange: func(name string, from, to gobreaker.State) {
			m.OriginBreakerState.WithLabelValues(name).Set(float64(to))
		},
	})

	return c
}

// countsAsHealthy keeps client-side errors (unknown id, bad request, caller
// cancellation) from tripping the breaker.
func countsAsHealthy(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return true
	}
	var se *StatusError
	if errors.As(err, &se) {
		return se.Code < 500 && se.Code != http.StatusTooManyRequests && se.Code != http.StatusUnauthorized && se.Code != http.StatusForbidden
	}
	return false
}

// Film fetches full detail for one movie.
func (c *Client) Film(ctx context.Context, id int64) (model.Movie, error) {
	body, err := c.get(ctx, "film", "/api/v2.2/films/"+strconv.FormatInt(id, 10), nil)
	if err != nil {
		return model.Movie{}, err
	}
	var f filmResponse
	if err := json.Unmarshal(body, &f); err != nil {
		return model.Movie{}, fmt.Errorf("decode film %d: %w", id, err)
	}
	return FromFilm(f, id), nil
}

// Search runs a keyword search.
func (c *Client) Search(ctx context.Context, keyword string, page int) (Result, error) {
	q := url.Values{}
	q.Set("keyword", keyword)
	q.Set("page", strconv.Itoa(max(page, 1)))
	return c.list(ctx, "search", "/api/v2.2/films", q)
}

// Collection fetches one page of a curated collection.
func (c *Client) Collection(ctx context.Context, kind Collection, page int) (Result, error) {
	q := url.Values{}
	q.Set("type", string(kind))
	q.Set("page", strconv.Itoa(max(page, 1)))
	return c.list(ctx, "collection", "/api/v2.2/films/collections", q)
}

// Filter browses the catalog with structured filters.
func (c *Client) Filter(ctx context.Context, f FilterQuery) (Result, error) {
	return c.list(ctx, "filter", "/api/v2.2/films", f.values())
}

// Premieres lists the premieres of a month. The endpoint is not paginated.
func (c *Client) Premieres(ctx context.Context, year int, month time.Month) ([]model.Movie, error) {
	q := url.Values{}
	q.Set("year", strconv.Itoa(year))
	q.Set("month", monthName(month))

	body, err := c.get(ctx, "premieres", "/api/v2.2/films/premieres", q)
	if err != nil {
		return nil, err
	}
	var resp premieresResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("decode premieres: %w", err)
	}
	out := make([]model.Movie, 0, len(resp.Items))
	for _, item := range resp.Items {
		if item.KinopoiskID == 0 {
			continue
		}
		out = append(out, FromPremiere(item))
	}
	return out, nil
}

func (c *Client) list(ctx context.Context, endpoint, path string, q url.Values) (Result, error) {
	body, err := c.get(ctx, endpoint, path, q)
	if err != nil {
		return Result{}, err
	}
	var resp listResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return Result{}, fmt.Errorf("decode %s: %w", endpoint, err)
	}
	res := Result{Total: resp.Total, TotalPages: resp.TotalPages, Movies: make([]model.Movie, 0, len(resp.Items))}
	for _, item := range resp.Items {
		m := FromListItem(item)
		if m.ID == 0 {
			continue
		}
		res.Movies = append(res.Movies, m)
	}
	return res, nil
}

// get performs an authenticated GET through the circuit breaker.
func (c *Client) get(ctx context.Context, endpoint, path string, q url.Values) ([]byte, error) {
	ctx, span := otel.Tracer(telemetry.TracerName).Start(ctx, "origin."+endpoint)
	defer span.End()
	span.SetAttributes(attribute.String("origin.path", path))

	start := time.Now()
	body, err := c.breaker.Execute(func() ([]byte, error) {
		return c.do(ctx, endpoint, path, q)
	})
	c.metrics.OriginRequestDuration.WithLabelValues(endpoint).Observe(time.Since(start).Seconds())
	c.metrics.OriginRequestTotal.WithLabelValues(endpoint, statusLabel(err)).Inc()

	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			err = fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	return body, nil
}

func (c *Client) do(ctx context.Context, endpoint, path string, q url.Values) ([]byte, error) {
	u := c.base + path
	if len(q) > 0 {
		u += "?" + q.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("X-API-KEY", c.apiKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.hc.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
		return nil, &StatusError{Endpoint: endpoint, Code: resp.StatusCode}
	}
	return io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
}

func statusLabel(err error) string {
	if err == nil {
		return "ok"
	}
	var se *StatusError
	switch {
	case errors.As(err, &se):
		return strconv.Itoa(se.Code)
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		return "breaker_open"
	default:
		return "error"
	}
}
