package render

import (
	"bytes"
	"encoding/xml"
	"strings"
	"testing"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/cinematic-site/cinematic-go/internal/model"
	"github.com/goccy/go-json"
)

const site = "https://cinematic.site"

func ptr[T any](v T) *T { return &v }

func renderWatch(t *testing.T, movie model.Movie, resolved bool) *goquery.Document {
	t.Helper()
	r, err := New(site)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	var buf bytes.Buffer
	if err := r.Watch(&buf, movie, resolved); err != nil {
		t.Fatalf("Watch() error = %v", err)
	}
	doc, err := goquery.NewDocumentFromReader(&buf)
	if err != nil {
		t.Fatalf("parse rendered page: %v", err)
	}
	return doc
}

func meta(doc *goquery.Document, selector string) string {
	v, _ := doc.Find(selector).Attr("content")
	return v
}

func TestWatchResolvedMovie(t *testing.T) {
	movie := model.Movie{
		ID:          447301,
		Title:       `Начало "Inception"`,
		Year:        ptr(2010),
		Description: strings.Repeat("я", 200),
		Poster:      ptr("https://img.example/447301.jpg"),
		Rating:      ptr(8.7),
		Votes:       ptr(1000),
	}
	doc := renderWatch(t, movie, true)

	wantTitle := `Начало "Inception" — смотреть онлайн бесплатно в 4K | CINEMATIC`
	if got := doc.Find("title").Text(); got != wantTitle {
		t.Errorf("title = %q, want %q", got, wantTitle)
	}
	if got := meta(doc, `meta[property="og:title"]`); got != wantTitle {
		t.Errorf("og:title = %q, want %q", got, wantTitle)
	}

	wantDesc := `Смотреть фильм Начало "Inception" (2010) онлайн в хорошем качестве. ` + strings.Repeat("я", 150) + "..."
	if got := meta(doc, `meta[name="description"]`); got != wantDesc {
		t.Errorf("description = %q, want %q", got, wantDesc)
	}
	if got := meta(doc, `meta[property="og:image"]`); got != *movie.Poster {
		t.Errorf("og:image = %q, want %q", got, *movie.Poster)
	}
	if got := meta(doc, `meta[property="og:url"]`); got != site+"/watch/447301" {
		t.Errorf("og:url = %q, want %q", got, site+"/watch/447301")
	}

	raw := doc.Find(`script[type="application/ld+json"]`).Text()
	var ld struct {
		Type            string `json:"@type"`
		Name            string `json:"name"`
		DatePublished   string `json:"datePublished"`
		AggregateRating struct {
			RatingValue string `json:"ratingValue"`
			RatingCount string `json:"ratingCount"`
		} `json:"aggregateRating"`
	}
	if err := json.Unmarshal([]byte(raw), &ld); err != nil {
		t.Fatalf("JSON-LD %q: %v", raw, err)
	}
	if ld.Type != "Movie" || ld.Name != movie.Title || ld.DatePublished != "2010" {
		t.Errorf("JSON-LD = %+v", ld)
	}
	if ld.AggregateRating.RatingValue != "8.7" || ld.AggregateRating.RatingCount != "1000" {
		t.Errorf("JSON-LD rating = %+v, want 8.7 / 1000", ld.AggregateRating)
	}
}

func TestWatchUnresolvedMovieUsesDefaults(t *testing.T) {
	doc := renderWatch(t, model.StubMovie(447301), false)

	if got := doc.Find("title").Text(); got != DefaultTitle {
		t.Errorf("title = %q, want %q", got, DefaultTitle)
	}
	if got := meta(doc, `meta[name="description"]`); got != DefaultDescription {
		t.Errorf("description = %q, want %q", got, DefaultDescription)
	}
	if got := meta(doc, `meta[property="og:image"]`); got != site+DefaultImagePath {
		t.Errorf("og:image = %q, want %q", got, site+DefaultImagePath)
	}
	if n := doc.Find(`script[type="application/ld+json"]`).Length(); n != 0 {
		t.Errorf("JSON-LD scripts = %d, want 0", n)
	}
}

func TestWatchEscapesScriptBreakout(t *testing.T) {
	movie := model.Movie{ID: 1, Title: "</script><script>alert(1)</script>", Description: "x"}
	r, _ := New(site)
	var buf bytes.Buffer
	if err := r.Watch(&buf, movie, true); err != nil {
		t.Fatalf("Watch() error = %v", err)
	}
	if strings.Contains(buf.String(), "<script>alert(1)") {
		t.Errorf("rendered page contains unescaped title script")
	}
}

func TestSitemap(t *testing.T) {
	r, _ := New(site)
	cached := time.Date(2024, 12, 31, 23, 0, 0, 0, time.UTC)
	movies := []model.Movie{{ID: 435, CachedAt: &cached}, {ID: 329}}

	var buf bytes.Buffer
	if err := r.Sitemap(&buf, movies, time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC)); err != nil {
		t.Fatalf("Sitemap() error = %v", err)
	}

	var got urlset
	if err := xml.Unmarshal(buf.Bytes(), &got); err != nil {
		t.Fatalf("parse sitemap: %v", err)
	}
	if len(got.URLs) != 4 {
		t.Fatalf("sitemap has %d urls, want 4", len(got.URLs))
	}
	if got.URLs[0].Loc != site+"/" || got.URLs[0].Priority != "1.0" {
		t.Errorf("first url = %+v", got.URLs[0])
	}
	want := sitemapURL{Loc: site + "/watch/435", LastMod: "2024-12-31", ChangeFreq: "weekly", Priority: "0.7"}
	if got.URLs[2] != want {
		t.Errorf("movie url = %+v, want %+v", got.URLs[2], want)
	}
	if got.URLs[3].LastMod != "2025-03-10" {
		t.Errorf("uncached lastmod = %q, want today", got.URLs[3].LastMod)
	}
	if !strings.Contains(buf.String(), `xmlns="`+sitemapNS+`"`) {
		t.Errorf("sitemap missing namespace")
	}
}
