package render

import (
	"encoding/xml"
	"io"
	"time"

	"github.com/cinematic-site/cinematic-go/internal/model"
)

const sitemapNS = "http://www.sitemaps.org/schemas/sitemap/0.9"

type urlset struct {
	XMLName xml.Name     `xml:"urlset"`
	XMLNS   string       `xml:"xmlns,attr"`
	URLs    []sitemapURL `xml:"url"`
}

type sitemapURL struct {
	Loc        string `xml:"loc"`
	LastMod    string `xml:"lastmod,omitempty"`
	ChangeFreq string `xml:"changefreq"`
	Priority   string `xml:"priority"`
}

// Sitemap writes the sitemap: the home and movies pages, then one watch
// page per cached movie dated by when it was cached.
func (r *Renderer) Sitemap(w io.Writer, movies []model.Movie, now time.Time) error {
	set := urlset{
		XMLNS: sitemapNS,
		URLs: []sitemapURL{
			{Loc: r.siteURL + "/", ChangeFreq: "daily", Priority: "1.0"},
			{Loc: r.siteURL + "/movies", ChangeFreq: "daily", Priority: "0.8"},
		},
	}
	today := now.UTC().Format(time.DateOnly)
	for _, m := range movies {
		lastMod := today
		if m.CachedAt != nil {
			lastMod = m.CachedAt.UTC().Format(time.DateOnly)
		}
		set.URLs = append(set.URLs, sitemapURL{
			Loc:        r.siteURL + model.StreamPath(m.ID),
			LastMod:    lastMod,
			ChangeFreq: "weekly",
			Priority:   "0.7",
		})
	}

	if _, err := io.WriteString(w, xml.Header); err != nil {
		return err
	}
	enc := xml.NewEncoder(w)
	enc.Indent("", "  ")
	if err := enc.Encode(set); err != nil {
		return err
	}
	return enc.Close()
}
