package server

import (
	"errors"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/cinematic-site/cinematic-go/internal/catalog"
	errordefs "github.com/cinematic-site/cinematic-go/internal/errors"
	"github.com/cinematic-site/cinematic-go/internal/model"
	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// maxPage bounds the page query parameter; anything outside reads as 1.
const maxPage = 1000

var digitRun = regexp.MustCompile(`\d+`)

type searchQuery struct {
	Q string `validate:"required,max=200"`
}

type newQuery struct {
	Year  int    `validate:"omitempty,gte=1900,lte=2100"`
	Month string `validate:"omitempty,max=9"`
}

type filmsQuery struct {
	Year    string `validate:"omitempty,max=9"`
	Genre   string `validate:"omitempty,max=32"`
	Country string `validate:"omitempty,max=64"`
	Sort    string `validate:"omitempty,oneof=RATING NUM_VOTE YEAR"`
	Type    string `validate:"omitempty,oneof=FILM TV_SERIES ALL"`
}

// parseMovieID takes the first run of digits in a path segment, so that
// slugs like "447301-some-title" resolve.
func parseMovieID(segment string) (int64, bool) {
	run := digitRun.FindString(segment)
	if run == "" {
		return 0, false
	}
	id, err := strconv.ParseInt(run, 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}

// parsePage reads the page query parameter leniently.
func parsePage(r *http.Request) int {
	page, err := strconv.Atoi(r.URL.Query().Get("page"))
	if err != nil || page < 1 || page > maxPage {
		return 1
	}
	return page
}

// parseMonth accepts an English month name in any case, or its number.
func parseMonth(v string) (time.Month, bool) {
	if v == "" {
		return 0, true
	}
	if n, err := strconv.Atoi(v); err == nil {
		return time.Month(n), n >= 1 && n <= 12
	}
	for m := time.January; m <= time.December; m++ {
		if strings.EqualFold(m.String(), v) {
			return m, true
		}
	}
	return 0, false
}

// listing renders a catalog page in the shared listing envelope.
func (m *Mux) listing(w http.ResponseWriter, p model.Page) {
	fields := map[string]interface{}{
		"movies":     p.Movies,
		"page":       p.Page,
		"totalPages": p.TotalPages,
		"hasMore":    p.HasMore,
	}
	if p.Source != "" {
		fields["source"] = p.Source
	}
	if p.Genre != "" {
		fields["genre"] = p.Genre
	}
	if p.Filters != nil {
		fields["filters"] = p.Filters
	}
	m.writeSuccess(w, http.StatusOK, fields)
}

// handleMovie handles GET /api/movie/{id}. Origin failures never surface:
// the caller gets the cached record or a stub.
func (m *Mux) handleMovie(w http.ResponseWriter, r *http.Request) {
	ctx, span := m.tracer.Start(r.Context(), "handleMovie")
	defer span.End()

	id, ok := parseMovieID(chi.URLParam(r, "id"))
	if !ok {
		span.SetStatus(codes.Error, "invalid id")
		m.fail(w, r, errordefs.CINE_VALIDATION, "Invalid ID", nil)
		return
	}

	movie, source := m.Catalog.GetMovie(ctx, id)
	span.SetAttributes(
		attribute.Int64("movie_id", id),
		attribute.String("source", string(source)),
	)
	m.writeSuccess(w, http.StatusOK, map[string]interface{}{"movie": movie})
}

// handleSearch handles GET /api/search?q=
func (m *Mux) handleSearch(w http.ResponseWriter, r *http.Request) {
	ctx, span := m.tracer.Start(r.Context(), "handleSearch")
	defer span.End()

	q := searchQuery{Q: strings.TrimSpace(r.URL.Query().Get("q"))}
	if err := m.query.Struct(q); err != nil {
		span.SetStatus(codes.Error, "query required")
		m.fail(w, r, errordefs.CINE_VALIDATION, "Query required", nil)
		return
	}
	span.SetAttributes(attribute.String("query", q.Q))

	m.writeSuccess(w, http.StatusOK, map[string]interface{}{"movies": m.Catalog.Search(ctx, q.Q)})
}

// handleTop handles GET /api/top?page=
func (m *Mux) handleTop(w http.ResponseWriter, r *http.Request) {
	ctx, span := m.tracer.Start(r.Context(), "handleTop")
	defer span.End()

	m.listing(w, m.Catalog.Top(ctx, parsePage(r)))
}

// handleGenre handles GET /api/genre/{genre}?page=
func (m *Mux) handleGenre(w http.ResponseWriter, r *http.Request) {
	ctx, span := m.tracer.Start(r.Context(), "handleGenre")
	defer span.End()

	tag := chi.URLParam(r, "genre")
	span.SetAttributes(attribute.String("genre", tag))

	p, err := m.Catalog.Genre(ctx, tag, parsePage(r))
	if errors.Is(err, catalog.ErrUnknownGenre) {
		span.SetStatus(codes.Error, "unknown genre")
		m.fail(w, r, errordefs.CINE_VALIDATION, "Unknown genre", nil)
		return
	}
	m.listing(w, p)
}

// handleNew handles GET /api/new?page=&year=&month=
func (m *Mux) handleNew(w http.ResponseWriter, r *http.Request) {
	ctx, span := m.tracer.Start(r.Context(), "handleNew")
	defer span.End()

	q := newQuery{Month: r.URL.Query().Get("month")}
	if v := r.URL.Query().Get("year"); v != "" {
		year, err := strconv.Atoi(v)
		if err != nil {
			m.fail(w, r, errordefs.CINE_VALIDATION, "invalid year", nil)
			return
		}
		q.Year = year
	}
	month, ok := parseMonth(q.Month)
	if err := m.query.Struct(q); err != nil || !ok {
		span.SetStatus(codes.Error, "invalid premiere period")
		m.fail(w, r, errordefs.CINE_VALIDATION, "invalid year or month", nil)
		return
	}

	m.listing(w, m.Catalog.New(ctx, parsePage(r), q.Year, month))
}

// handleSeries handles GET /api/series?page=
func (m *Mux) handleSeries(w http.ResponseWriter, r *http.Request) {
	ctx, span := m.tracer.Start(r.Context(), "handleSeries")
	defer span.End()

	m.listing(w, m.Catalog.Series(ctx, parsePage(r)))
}

// handleFilms handles GET /api/films with year, genre, country, sort and type filters.
func (m *Mux) handleFilms(w http.ResponseWriter, r *http.Request) {
	ctx, span := m.tracer.Start(r.Context(), "handleFilms")
	defer span.End()

	values := r.URL.Query()
	q := filmsQuery{
		Year:    strings.TrimSpace(values.Get("year")),
		Genre:   strings.TrimSpace(values.Get("genre")),
		Country: strings.TrimSpace(values.Get("country")),
		Sort:    strings.ToUpper(strings.TrimSpace(values.Get("sort"))),
		Type:    strings.ToUpper(strings.TrimSpace(values.Get("type"))),
	}
	if err := m.query.Struct(q); err != nil {
		span.SetStatus(codes.Error, "invalid filter")
		m.fail(w, r, errordefs.CINE_VALIDATION, "invalid filter", err.Error())
		return
	}

	p, err := m.Catalog.Films(ctx, model.FilmFilters(q), parsePage(r))
	if err != nil {
		span.SetStatus(codes.Error, "invalid filter")
		m.fail(w, r, errordefs.CINE_VALIDATION, "invalid filter", err.Error())
		return
	}
	m.listing(w, p)
}

// handleCollections handles GET /api/collections
func (m *Mux) handleCollections(w http.ResponseWriter, r *http.Request) {
	ctx, span := m.tracer.Start(r.Context(), "handleCollections")
	defer span.End()

	m.writeSuccess(w, http.StatusOK, map[string]interface{}{"collections": m.Catalog.Collections(ctx)})
}

// handleStats handles GET /api/stats. A store failure reads as an empty cache.
func (m *Mux) handleStats(w http.ResponseWriter, r *http.Request) {
	ctx, span := m.tracer.Start(r.Context(), "handleStats")
	defer span.End()

	stats, err := m.Catalog.Stats(ctx)
	if err != nil {
		m.Logger.WarnContext(ctx, "cache stats failed", "error", err)
		stats = model.CacheStats{}
	}
	m.writeJSON(w, http.StatusOK, stats)
}
