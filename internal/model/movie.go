// Package model defines the data structures used throughout the catalog service.
// These structures represent cached movie records, listing envelopes and mirror sites.
package model

import (
	"strconv"
	"time"
)

// MovieType distinguishes feature films from series.
type MovieType string

const (
	TypeMovie  MovieType = "movie"
	TypeSeries MovieType = "series"
)

// PlaceholderTitle is used when neither the store nor the origin can name a movie.
const PlaceholderTitle = "Фильм"

// Movie is the canonical cached unit.
// A record is created thin from listing data and upgraded in place once a
// detail fetch succeeds. Optional fields are nil when the origin omits them.
type Movie struct {
	ID            int64      `json:"id"`                      // External identifier
	Title         string     `json:"title"`                   // Localized title
	OriginalTitle *string    `json:"originalTitle,omitempty"` // Title in the original language
	Year          *int       `json:"year,omitempty"`          // Release year
	Description   string     `json:"description,omitempty"`   // Synopsis; non-empty marks the record complete
	Poster        *string    `json:"poster,omitempty"`        // Full-size poster URL
	PosterPreview *string    `json:"posterPreview,omitempty"` // Small poster URL
	Backdrop      *string    `json:"backdrop,omitempty"`      // Cover art URL
	Rating        *float64   `json:"rating,omitempty"`        // Primary rating, secondary when primary is absent
	RatingImdb    *float64   `json:"ratingImdb,omitempty"`    // IMDb rating
	Votes         *int       `json:"votes,omitempty"`         // Vote count behind the primary rating
	Duration      *int       `json:"duration,omitempty"`      // Length in minutes
	Genres        []string   `json:"genres,omitempty"`        // Ordered genre names
	Countries     []string   `json:"countries,omitempty"`     // Ordered production countries
	AgeRating     *string    `json:"ageRating,omitempty"`     // Minimum age, e.g. "16"
	Type          MovieType  `json:"type,omitempty"`          // movie or series
	Slogan        *string    `json:"slogan,omitempty"`        // Tagline
	StreamURL     string     `json:"streamUrl"`               // Watch page path
	CachedAt      *time.Time `json:"cachedAt,omitempty"`      // Set whenever the record is written
}

// Key returns the store key for the movie.
func (m Movie) Key() string {
	return strconv.FormatInt(m.ID, 10)
}

// Complete reports whether the record carries full detail.
func (m Movie) Complete() bool {
	return m.Description != ""
}

// StreamPath returns the watch page path for a movie id.
func StreamPath(id int64) string {
	return "/watch/" + strconv.FormatInt(id, 10)
}

// StubMovie synthesizes the minimal record served when nothing better exists.
func StubMovie(id int64) Movie {
	return Movie{
		ID:        id,
		Title:     PlaceholderTitle,
		StreamURL: StreamPath(id),
	}
}

// Page is the pagination envelope shared by origin-backed and store-backed listings.
type Page struct {
	Movies     []Movie      `json:"movies"`
	Page       int          `json:"page"`
	TotalPages int          `json:"totalPages"`
	HasMore    bool         `json:"hasMore"`
	Source     string       `json:"source,omitempty"` // "cache" when served from the local store
	Genre      string       `json:"genre,omitempty"`
	Filters    *FilmFilters `json:"filters,omitempty"`
}

// FilmFilters are the browse filters accepted by the films listing.
type FilmFilters struct {
	Year    string `json:"year,omitempty"`    // YYYY, YYYY-YYYY or "classic"
	Genre   string `json:"genre,omitempty"`   // Genre tag, e.g. "action"
	Country string `json:"country,omitempty"` // Country name
	Sort    string `json:"sort,omitempty"`    // RATING, NUM_VOTE or YEAR
	Type    string `json:"type,omitempty"`    // FILM, TV_SERIES or ALL
}

// Collections groups cached records for the home page shelves.
type Collections struct {
	Popular []Movie `json:"popular"`
	New     []Movie `json:"new"`
	Classic []Movie `json:"classic"`
}

// CacheStats summarizes the movie store.
type CacheStats struct {
	TotalMovies int        `json:"totalMovies"`
	LastUpdate  *time.Time `json:"lastUpdate"`
}
