package origin

import (
	"net/url"
	"strconv"
	"strings"
	"time"
)

// GenreIDs maps genre tags to the origin's numeric genre ids.
var GenreIDs = map[string]int{
	"action":    3,
	"drama":     2,
	"comedy":    13,
	"horror":    17,
	"scifi":     6,
	"romance":   4,
	"thriller":  1,
	"fantasy":   5,
	"animation": 18,
	"crime":     3,
	"adventure": 7,
	"family":    19,
}

// CountryIDs maps country names to the origin's numeric country ids.
var CountryIDs = map[string]int{
	"США":            1,
	"Россия":         34,
	"Великобритания": 11,
	"Франция":        3,
	"Германия":       9,
	"Корея":          49,
	"Япония":         12,
	"Индия":          32,
}

// FilterQuery is a structured browse request. Zero values are omitted.
type FilterQuery struct {
	Page     int
	Order    string // RATING, NUM_VOTE or YEAR
	Type     string // FILM, TV_SERIES or ALL
	YearFrom int
	YearTo   int
	Genre    int
	Country  int
}

func (f FilterQuery) values() url.Values {
	q := url.Values{}
	q.Set("page", strconv.Itoa(max(f.Page, 1)))
	if f.Order != "" {
		q.Set("order", f.Order)
	}
	if f.Type != "" {
		q.Set("type", f.Type)
	}
	if f.YearFrom > 0 {
		q.Set("yearFrom", strconv.Itoa(f.YearFrom))
	}
	if f.YearTo > 0 {
		q.Set("yearTo", strconv.Itoa(f.YearTo))
	}
	if f.Genre > 0 {
		q.Set("genres", strconv.Itoa(f.Genre))
	}
	if f.Country > 0 {
		q.Set("countries", strconv.Itoa(f.Country))
	}
	return q
}

// monthName renders a month the way the premieres endpoint expects, e.g. JANUARY.
func monthName(m time.Month) string {
	return strings.ToUpper(m.String())
}
