package catalog

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/cinematic-site/cinematic-go/internal/model"
	"github.com/cinematic-site/cinematic-go/internal/origin"
)

// pageSize is the page length of store-backed listings and premieres.
const pageSize = 20

// Default page counts used when the origin omits totalPages.
const (
	defaultTopPages      = 20
	defaultGenrePages    = 10
	defaultSeriesPages   = 10
	defaultAwaitedPages  = 10
	defaultFilmsPages    = 5
	defaultPremierePages = 5
)

const (
	classicYearFrom = 1950
	classicYearTo   = 1989
)

// Listing sources as reported in metrics and the envelope.
const (
	listingSourceOrigin   = "origin"
	listingSourceFallback = "cache"
)

var (
	// ErrUnknownGenre is returned for a genre tag outside GenreKeywords.
	ErrUnknownGenre = errors.New("unknown genre")
	// ErrInvalidFilter is returned for a malformed browse filter.
	ErrInvalidFilter = errors.New("invalid filter")
)

// GenreKeywords maps genre tags to the genre names they match in cached
// records. Matching is case-insensitive substring containment.
var GenreKeywords = map[string][]string{
	"action":    {"боевик", "экшн"},
	"drama":     {"драма"},
	"comedy":    {"комедия"},
	"horror":    {"ужасы"},
	"scifi":     {"фантастика", "научная фантастика"},
	"romance":   {"мелодрама"},
	"thriller":  {"триллер"},
	"fantasy":   {"фэнтези"},
	"animation": {"мультфильм", "анимация"},
	"crime":     {"криминал", "детектив"},
}

// Top lists popular movies.
func (c *Catalog) Top(ctx context.Context, page int) model.Page {
	page = max(page, 1)
	res, err := c.origin.Collection(ctx, origin.CollectionPopularMovies, page)
	if err == nil {
		c.insertIfAbsent(ctx, res.Movies)
		return c.originPage("top", res.Movies, page, res.TotalPages, defaultTopPages)
	}
	c.logger.WarnContext(ctx, "origin top listing failed", "page", page, "error", err)
	return c.fallbackPage("top", c.snapshot(ctx), page)
}

// Genre lists movies of a genre tag. The origin is searched by the tag's
// first keyword; the fallback matches any keyword against cached genres.
func (c *Catalog) Genre(ctx context.Context, tag string, page int) (model.Page, error) {
	tag = strings.ToLower(tag)
	keywords, ok := GenreKeywords[tag]
	if !ok {
		return model.Page{}, fmt.Errorf("%w: %q", ErrUnknownGenre, tag)
	}
	page = max(page, 1)

	var p model.Page
	res, err := c.origin.Search(ctx, keywords[0], page)
	if err == nil {
		c.insertIfAbsent(ctx, res.Movies)
		p = c.originPage("genre", res.Movies, page, res.TotalPages, defaultGenrePages)
	} else {
		c.logger.WarnContext(ctx, "origin genre listing failed", "genre", tag, "page", page, "error", err)
		p = c.fallbackPage("genre", filter(c.snapshot(ctx), func(m model.Movie) bool {
			return matchesGenre(m, keywords)
		}), page)
	}
	p.Genre = tag
	return p, nil
}

// New lists recent releases: the month's premieres first, then the awaited
// collection, then cached records from the last two years, newest first.
// Zero year or month mean the current ones.
func (c *Catalog) New(ctx context.Context, page, year int, month time.Month) model.Page {
	page = max(page, 1)
	now := c.now()
	if year <= 0 {
		year = now.Year()
	}
	if month < time.January || month > time.December {
		month = now.Month()
	}

	premieres, err := c.origin.Premieres(ctx, year, month)
	if err == nil {
		start := min((page-1)*pageSize, len(premieres))
		end := min(start+pageSize, len(premieres))
		movies := premieres[start:end]
		c.insertIfAbsent(ctx, movies)

		totalPages := ceilDiv(len(premieres), pageSize)
		if totalPages == 0 {
			totalPages = defaultPremierePages
		}
		c.metrics.ListingTotal.WithLabelValues("new", listingSourceOrigin).Inc()
		return model.Page{
			Movies:     nonNil(movies),
			Page:       page,
			TotalPages: totalPages,
			HasMore:    start+pageSize < len(premieres),
		}
	}
	c.logger.WarnContext(ctx, "origin premieres failed", "year", year, "month", month.String(), "error", err)

	res, err := c.origin.Collection(ctx, origin.CollectionAwaited, page)
	if err == nil {
		c.insertIfAbsent(ctx, res.Movies)
		return c.originPage("new", res.Movies, page, res.TotalPages, defaultAwaitedPages)
	}
	c.logger.WarnContext(ctx, "origin awaited listing failed", "page", page, "error", err)

	recent := now.Year() - 2
	movies := filter(c.snapshot(ctx), func(m model.Movie) bool {
		return m.Year != nil && *m.Year >= recent
	})
	sort.SliceStable(movies, func(i, j int) bool { return yearOf(movies[i]) > yearOf(movies[j]) })
	return c.fallbackPage("new", movies, page)
}

// Series lists popular series.
func (c *Catalog) Series(ctx context.Context, page int) model.Page {
	page = max(page, 1)
	res, err := c.origin.Collection(ctx, origin.CollectionPopularAll, page)
	if err == nil {
		series := make([]model.Movie, 0, len(res.Movies))
		for _, m := range res.Movies {
			if m.Type == model.TypeSeries {
				series = append(series, m)
			}
		}
		c.insertIfAbsent(ctx, series)
		return c.originPage("series", series, page, res.TotalPages, defaultSeriesPages)
	}
	c.logger.WarnContext(ctx, "origin series listing failed", "page", page, "error", err)
	return c.fallbackPage("series", filter(c.snapshot(ctx), func(m model.Movie) bool {
		return m.Type == model.TypeSeries
	}), page)
}

// Films browses with structured filters. The response echoes the filters
// after defaults are applied.
func (c *Catalog) Films(ctx context.Context, f model.FilmFilters, page int) (model.Page, error) {
	page = max(page, 1)
	if f.Sort == "" {
		f.Sort = "RATING"
	}
	if f.Type == "" {
		f.Type = "ALL"
	}
	f.Genre = strings.ToLower(f.Genre)

	yearFrom, yearTo, err := parseYears(f.Year)
	if err != nil {
		return model.Page{}, err
	}

	q := origin.FilterQuery{
		Page:     page,
		Order:    f.Sort,
		Type:     f.Type,
		YearFrom: yearFrom,
		YearTo:   yearTo,
		Genre:    origin.GenreIDs[f.Genre],
		Country:  origin.CountryIDs[f.Country],
	}

	var p model.Page
	res, err := c.origin.Filter(ctx, q)
	if err == nil {
		c.insertIfAbsent(ctx, res.Movies)
		p = c.originPage("films", res.Movies, page, res.TotalPages, defaultFilmsPages)
	} else {
		c.logger.WarnContext(ctx, "origin films listing failed", "page", page, "error", err)
		movies := filter(c.snapshot(ctx), filmMatcher(f, yearFrom, yearTo))
		sortFilms(movies, f.Sort)
		p = c.fallbackPage("films", movies, page)
	}
	p.Filters = &f
	return p, nil
}

func (c *Catalog) originPage(listing string, movies []model.Movie, page, totalPages, defaultPages int) model.Page {
	c.metrics.ListingTotal.WithLabelValues(listing, listingSourceOrigin).Inc()
	if totalPages <= 0 {
		totalPages = defaultPages
	}
	return model.Page{
		Movies:     nonNil(movies),
		Page:       page,
		TotalPages: totalPages,
		HasMore:    page < totalPages,
	}
}

// fallbackPage slices already filtered and ordered store records.
func (c *Catalog) fallbackPage(listing string, movies []model.Movie, page int) model.Page {
	c.metrics.ListingTotal.WithLabelValues(listing, listingSourceFallback).Inc()
	n := len(movies)
	start := min((page-1)*pageSize, n)
	end := min(start+pageSize, n)
	return model.Page{
		Movies:     nonNil(movies[start:end]),
		Page:       page,
		TotalPages: max(1, ceilDiv(n, pageSize)),
		HasMore:    (page-1)*pageSize+pageSize < n,
		Source:     listingSourceFallback,
	}
}

// parseYears accepts "", "YYYY", "YYYY-YYYY" and "classic".
func parseYears(year string) (from, to int, err error) {
	switch year = strings.TrimSpace(year); {
	case year == "":
		return 0, 0, nil
	case year == "classic":
		return classicYearFrom, classicYearTo, nil
	case strings.Contains(year, "-"):
		lo, hi, _ := strings.Cut(year, "-")
		from, err1 := strconv.Atoi(lo)
		to, err2 := strconv.Atoi(hi)
		if err1 != nil || err2 != nil || from <= 0 || to < from {
			return 0, 0, fmt.Errorf("%w: year %q", ErrInvalidFilter, year)
		}
		return from, to, nil
	default:
		y, err := strconv.Atoi(year)
		if err != nil || y <= 0 {
			return 0, 0, fmt.Errorf("%w: year %q", ErrInvalidFilter, year)
		}
		return y, y, nil
	}
}

func filmMatcher(f model.FilmFilters, yearFrom, yearTo int) func(model.Movie) bool {
	keywords := GenreKeywords[f.Genre]
	if keywords == nil && f.Genre != "" {
		keywords = []string{f.Genre}
	}
	return func(m model.Movie) bool {
		if yearFrom > 0 && (m.Year == nil || *m.Year < yearFrom || *m.Year > yearTo) {
			return false
		}
		if keywords != nil && !matchesGenre(m, keywords) {
			return false
		}
		if f.Country != "" && !containsFold(m.Countries, f.Country) {
			return false
		}
		switch f.Type {
		case "FILM":
			return m.Type != model.TypeSeries
		case "TV_SERIES":
			return m.Type == model.TypeSeries
		}
		return true
	}
}

func sortFilms(movies []model.Movie, order string) {
	var key func(model.Movie) float64
	switch order {
	case "NUM_VOTE":
		key = func(m model.Movie) float64 {
			if m.Votes == nil {
				return 0
			}
			return float64(*m.Votes)
		}
	case "YEAR":
		key = func(m model.Movie) float64 { return float64(yearOf(m)) }
	default:
		key = func(m model.Movie) float64 {
			if m.Rating == nil {
				return 0
			}
			return *m.Rating
		}
	}
	sort.SliceStable(movies, func(i, j int) bool { return key(movies[i]) > key(movies[j]) })
}

func matchesGenre(m model.Movie, keywords []string) bool {
	for _, g := range m.Genres {
		g = strings.ToLower(g)
		for _, kw := range keywords {
			if strings.Contains(g, strings.ToLower(kw)) {
				return true
			}
		}
	}
	return false
}

func containsFold(values []string, want string) bool {
	for _, v := range values {
		if strings.EqualFold(v, want) {
			return true
		}
	}
	return false
}

func filter(movies []model.Movie, keep func(model.Movie) bool) []model.Movie {
	out := make([]model.Movie, 0, len(movies))
	for _, m := range movies {
		if keep(m) {
			out = append(out, m)
		}
	}
	return out
}

func yearOf(m model.Movie) int {
	if m.Year == nil {
		return 0
	}
	return *m.Year
}

func nonNil(movies []model.Movie) []model.Movie {
	if movies == nil {
		return []model.Movie{}
	}
	return movies
}

func ceilDiv(n, d int) int {
	return (n + d - 1) / d
}
