// Package render produces the server-rendered pages: the SEO watch page and
// the sitemap.
package render

import (
	"embed"
	"fmt"
	"html/template"
	"io"
	"strconv"

	"github.com/cinematic-site/cinematic-go/internal/model"
	"github.com/goccy/go-json"
)

//go:embed templates/*.html
var templates embed.FS

// Site-wide defaults used when a movie cannot be resolved.
const (
	DefaultTitle       = "Смотреть онлайн — CINEMATIC"
	DefaultDescription = "Смотрите лучшие фильмы и сериалы в премиум качестве бесплатно."
	DefaultImagePath   = "/assets/og-image.jpg"
)

// descriptionRunes caps the synopsis excerpt in the meta description.
const descriptionRunes = 150

// WatchPage is the data behind the watch template.
type WatchPage struct {
	MovieID     int64
	Heading     string
	Title       string
	Description string
	Image       string
	URL         string
	JSONLD      template.JS // Empty for unresolved movies
}

// Renderer renders pages for one canonical site URL.
type Renderer struct {
	siteURL string
	watch   *template.Template
}

// New parses the embedded templates.
func New(siteURL string) (*Renderer, error) {
	watch, err := template.ParseFS(templates, "templates/watch.html")
	if err != nil {
		return nil, fmt.Errorf("parse watch template: %w", err)
	}
	return &Renderer{siteURL: siteURL, watch: watch}, nil
}

// Watch renders the watch page. An unresolved movie gets the site defaults
// and no structured data.
func (r *Renderer) Watch(w io.Writer, movie model.Movie, resolved bool) error {
	page, err := r.WatchPage(movie, resolved)
	if err != nil {
		return err
	}
	return r.watch.Execute(w, page)
}

// WatchPage builds the template data for a movie.
func (r *Renderer) WatchPage(movie model.Movie, resolved bool) (WatchPage, error) {
	page := WatchPage{
		MovieID:     movie.ID,
		Heading:     movie.Title,
		Title:       DefaultTitle,
		Description: DefaultDescription,
		Image:       r.siteURL + DefaultImagePath,
		URL:         r.siteURL + model.StreamPath(movie.ID),
	}
	if !resolved || movie.Title == "" {
		return page, nil
	}

	page.Title = movie.Title + " — смотреть онлайн бесплатно в 4K | CINEMATIC"
	page.Description = watchDescription(movie)
	if movie.Poster != nil {
		page.Image = *movie.Poster
	}

	ld, err := movieLD(movie, page)
	if err != nil {
		return WatchPage{}, err
	}
	page.JSONLD = ld
	return page, nil
}

func watchDescription(m model.Movie) string {
	s := "Смотреть фильм " + m.Title
	if m.Year != nil {
		s += " (" + strconv.Itoa(*m.Year) + ")"
	}
	s += " онлайн в хорошем качестве."
	if m.Description != "" {
		excerpt := []rune(m.Description)
		if len(excerpt) > descriptionRunes {
			excerpt = excerpt[:descriptionRunes]
		}
		s += " " + string(excerpt) + "..."
	}
	return s
}

type aggregateRating struct {
	Type        string `json:"@type"`
	RatingValue string `json:"ratingValue"`
	BestRating  string `json:"bestRating"`
	RatingCount string `json:"ratingCount"`
}

type movieSchema struct {
	Context         string          `json:"@context"`
	Type            string          `json:"@type"`
	Name            string          `json:"name"`
	Image           string          `json:"image"`
	Description     string          `json:"description"`
	URL             string          `json:"url"`
	DatePublished   string          `json:"datePublished,omitempty"`
	AggregateRating aggregateRating `json:"aggregateRating"`
}

// movieLD encodes the schema.org Movie object. The encoder escapes <, >
// and &, so the result is safe inside a script element.
func movieLD(m model.Movie, page WatchPage) (template.JS, error) {
	ld := movieSchema{
		Context:     "https://schema.org",
		Type:        "Movie",
		Name:        m.Title,
		Image:       page.Image,
		Description: page.Description,
		URL:         page.URL,
		AggregateRating: aggregateRating{
			Type:        "AggregateRating",
			RatingValue: "0",
			BestRating:  "10",
			RatingCount: "0",
		},
	}
	if m.Year != nil {
		ld.DatePublished = strconv.Itoa(*m.Year)
	}
	if m.Rating != nil {
		ld.AggregateRating.RatingValue = strconv.FormatFloat(*m.Rating, 'f', -1, 64)
	}
	if m.Votes != nil {
		ld.AggregateRating.RatingCount = strconv.Itoa(*m.Votes)
	}

	b, err := json.Marshal(ld)
	if err != nil {
		return "", fmt.Errorf("encode movie structured data: %w", err)
	}
	return template.JS(b), nil
}
