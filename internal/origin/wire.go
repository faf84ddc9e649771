package origin

import (
	"bytes"
	"strconv"
	"strings"
)

// number is a numeric field the origin sends as a number, a numeric string or null.
type number struct {
	Value float64
	Valid bool
}

// UnmarshalJSON accepts 7.5, "7.5", null and "null"; anything else is treated as absent.
func (n *number) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*n = number{}
		return nil
	}
	s := string(data)
	if data[0] == '"' {
		unq, err := strconv.Unquote(s)
		if err != nil {
			*n = number{}
			return nil
		}
		s = strings.TrimSpace(strings.TrimSuffix(unq, "%"))
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		*n = number{}
		return nil
	}
	*n = number{Value: v, Valid: true}
	return nil
}

// positive returns the value when it is present and above zero.
func (n number) positive() (float64, bool) {
	return n.Value, n.Valid && n.Value > 0
}

func (n number) float() *float64 {
	v, ok := n.positive()
	if !ok {
		return nil
	}
	return &v
}

func (n number) int() *int {
	v, ok := n.positive()
	if !ok {
		return nil
	}
	i := int(v)
	return &i
}

type genreRef struct {
	Genre string `json:"genre"`
}

type countryRef struct {
	Country string `json:"country"`
}

// filmResponse is the shape of GET /api/v2.2/films/{id}.
type filmResponse struct {
	KinopoiskID              int64        `json:"kinopoiskId"`
	NameRu                   string       `json:"nameRu"`
	NameEn                   string       `json:"nameEn"`
	NameOriginal             string       `json:"nameOriginal"`
	PosterURL                string       `json:"posterUrl"`
	PosterURLPreview         string       `json:"posterUrlPreview"`
	CoverURL                 string       `json:"coverUrl"`
	RatingKinopoisk          number       `json:"ratingKinopoisk"`
	RatingKinopoiskVoteCount number       `json:"ratingKinopoiskVoteCount"`
	RatingImdb               number       `json:"ratingImdb"`
	Year                     number       `json:"year"`
	FilmLength               number       `json:"filmLength"`
	Slogan                   string       `json:"slogan"`
	Description              string       `json:"description"`
	ShortDescription         string       `json:"shortDescription"`
	Type                     string       `json:"type"`
	RatingAgeLimits          string       `json:"ratingAgeLimits"`
	Countries                []countryRef `json:"countries"`
	Genres                   []genreRef   `json:"genres"`
}

// listItem is one entry of the keyword search, collections and filter endpoints.
type listItem struct {
	KinopoiskID      int64        `json:"kinopoiskId"`
	FilmID           int64        `json:"filmId"`
	NameRu           string       `json:"nameRu"`
	NameEn           string       `json:"nameEn"`
	NameOriginal     string       `json:"nameOriginal"`
	PosterURL        string       `json:"posterUrl"`
	PosterURLPreview string       `json:"posterUrlPreview"`
	RatingKinopoisk  number       `json:"ratingKinopoisk"`
	RatingImdb       number       `json:"ratingImdb"`
	Year             number       `json:"year"`
	Type             string       `json:"type"`
	Countries        []countryRef `json:"countries"`
	Genres           []genreRef   `json:"genres"`
}

type listResponse struct {
	Total      int        `json:"total"`
	TotalPages int        `json:"totalPages"`
	Items      []listItem `json:"items"`
}

// premiereItem is one entry of GET /api/v2.2/films/premieres.
type premiereItem struct {
	KinopoiskID      int64        `json:"kinopoiskId"`
	NameRu           string       `json:"nameRu"`
	NameEn           string       `json:"nameEn"`
	PosterURL        string       `json:"posterUrl"`
	PosterURLPreview string       `json:"posterUrlPreview"`
	Year             number       `json:"year"`
	Duration         number       `json:"duration"`
	PremiereRu       string       `json:"premiereRu"`
	Countries        []countryRef `json:"countries"`
	Genres           []genreRef   `json:"genres"`
}

type premieresResponse struct {
	Total int            `json:"total"`
	Items []premiereItem `json:"items"`
}
