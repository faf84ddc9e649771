package server

import (
	"bytes"
	"net/http"
	"path/filepath"
	"time"

	"github.com/cinematic-site/cinematic-go/internal/catalog"
	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// handleWatch renders the SEO watch page for /watch/{id} and /movie/{id}.
// A movie the origin could not resolve gets the generic site tags.
func (m *Mux) handleWatch(w http.ResponseWriter, r *http.Request) {
	ctx, span := m.tracer.Start(r.Context(), "handleWatch")
	defer span.End()

	id, ok := parseMovieID(chi.URLParam(r, "id"))
	if !ok {
		http.NotFound(w, r)
		return
	}
	movie, source := m.Catalog.GetMovie(ctx, id)
	span.SetAttributes(attribute.Int64("movie_id", id), attribute.String("source", string(source)))

	var buf bytes.Buffer
	if err := m.Renderer.Watch(&buf, movie, source != catalog.SourceStub); err != nil {
		span.SetStatus(codes.Error, "render failed")
		m.Logger.ErrorContext(ctx, "watch page render failed", "movie_id", id, "error", err)
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(buf.Bytes())
}

// handleSitemap handles GET /sitemap.xml. A store failure yields a sitemap
// with the static entries only.
func (m *Mux) handleSitemap(w http.ResponseWriter, r *http.Request) {
	ctx, span := m.tracer.Start(r.Context(), "handleSitemap")
	defer span.End()

	movies, err := m.Catalog.Movies(ctx)
	if err != nil {
		m.Logger.WarnContext(ctx, "sitemap store read failed", "error", err)
		movies = nil
	}
	span.SetAttributes(attribute.Int("movies", len(movies)))

	var buf bytes.Buffer
	if err := m.Renderer.Sitemap(&buf, movies, time.Now()); err != nil {
		span.SetStatus(codes.Error, "render failed")
		m.Logger.ErrorContext(ctx, "sitemap render failed", "error", err)
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/xml; charset=utf-8")
	_, _ = w.Write(buf.Bytes())
}

// page serves one static HTML file from the public directory.
func (m *Mux) page(name string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		http.ServeFile(w, r, filepath.Join(m.PublicDir, name))
	}
}
