package origin

import (
	"strings"

	"github.com/cinematic-site/cinematic-go/internal/model"
)

// placeholderMarker identifies the origin's "no poster available" artwork.
const placeholderMarker = "no-poster"

// FromFilm maps a detail response to a movie record. The requested id wins
// over the payload's own id.
func FromFilm(f filmResponse, id int64) model.Movie {
	poster := artwork(f.PosterURL)
	backdrop := artwork(f.CoverURL)
	if backdrop == nil {
		backdrop = poster
	}

	return model.Movie{
		ID:            id,
		Title:         title(f.NameRu, f.NameOriginal, f.NameEn),
		OriginalTitle: optional(firstNonEmpty(f.NameOriginal, f.NameEn)),
		Year:          f.Year.int(),
		Description:   firstNonEmpty(f.Description, f.ShortDescription),
		Poster:        poster,
		PosterPreview: artwork(f.PosterURLPreview),
		Backdrop:      backdrop,
		Rating:        rating(f.RatingKinopoisk, f.RatingImdb),
		RatingImdb:    f.RatingImdb.float(),
		Votes:         f.RatingKinopoiskVoteCount.int(),
		Duration:      f.FilmLength.int(),
		Genres:        genres(f.Genres),
		Countries:     countries(f.Countries),
		AgeRating:     optional(strings.TrimPrefix(f.RatingAgeLimits, "age")),
		Type:          movieType(f.Type),
		Slogan:        optional(f.Slogan),
		StreamURL:     model.StreamPath(id),
	}
}

// FromListItem maps a search, collection or filter entry. Listing entries
// never carry a description, so the result is always incomplete.
func FromListItem(item listItem) model.Movie {
	id := item.KinopoiskID
	if id == 0 {
		id = item.FilmID
	}
	preview := artwork(item.PosterURLPreview)
	poster := preview
	if poster == nil {
		poster = artwork(item.PosterURL)
	}

	m := model.Movie{
		ID:            id,
		Title:         title(item.NameRu, item.NameOriginal, item.NameEn),
		OriginalTitle: optional(item.NameOriginal),
		Year:          item.Year.int(),
		Poster:        poster,
		PosterPreview: preview,
		Rating:        rating(item.RatingKinopoisk, item.RatingImdb),
		RatingImdb:    item.RatingImdb.float(),
		Genres:        genres(item.Genres),
		Countries:     countries(item.Countries),
		StreamURL:     model.StreamPath(id),
	}
	if item.Type != "" {
		m.Type = movieType(item.Type)
	}
	return m
}

// FromPremiere maps a premieres entry.
func FromPremiere(p premiereItem) model.Movie {
	preview := artwork(p.PosterURLPreview)
	poster := preview
	if poster == nil {
		poster = artwork(p.PosterURL)
	}

	return model.Movie{
		ID:            p.KinopoiskID,
		Title:         title(p.NameRu, p.NameEn),
		OriginalTitle: optional(p.NameEn),
		Year:          p.Year.int(),
		Poster:        poster,
		PosterPreview: preview,
		Duration:      p.Duration.int(),
		Genres:        genres(p.Genres),
		Countries:     countries(p.Countries),
		StreamURL:     model.StreamPath(p.KinopoiskID),
	}
}

// artwork drops empty URLs and the origin's placeholder image.
func artwork(url string) *string {
	if url == "" || strings.Contains(url, placeholderMarker) {
		return nil
	}
	return &url
}

// rating prefers the primary rating and only falls back when it is absent.
func rating(primary, secondary number) *float64 {
	if v := primary.float(); v != nil {
		return v
	}
	return secondary.float()
}

func title(names ...string) string {
	if t := firstNonEmpty(names...); t != "" {
		return t
	}
	return model.PlaceholderTitle
}

func movieType(t string) model.MovieType {
	switch t {
	case "TV_SERIES", "MINI_SERIES":
		return model.TypeSeries
	default:
		return model.TypeMovie
	}
}

func genres(refs []genreRef) []string {
	out := make([]string, 0, len(refs))
	for _, g := range refs {
		if g.Genre != "" {
			out = append(out, g.Genre)
		}
	}
	return out
}

func countries(refs []countryRef) []string {
	out := make([]string, 0, len(refs))
	for _, c := range refs {
		if c.Country != "" {
			out = append(out, c.Country)
		}
	}
	return out
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
