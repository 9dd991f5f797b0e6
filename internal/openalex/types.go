// Package openalex provides a cursor-paging client for the OpenAlex works API.
//
// API Documentation: https://docs.openalex.org/
package openalex

import "cloud.google.com/go/civil"

// Query selects works by concept and inclusive publication date range.
type Query struct {
	ConceptID string
	From      civil.Date
	To        civil.Date
	PerPage   int
}

// WorksPage is one cursor page of the works endpoint.
type WorksPage struct {
	Meta    Meta   `json:"meta"`
	Results []Work `json:"results"`

	// Cursor is the cursor that was used to request this page.
	Cursor string `json:"-"`
}

// Meta contains result metadata including the next cursor.
// NextCursor is nil (or empty) on the last page.
type Meta struct {
	Count      int     `json:"count"`
	DBTime     int     `json:"db_response_time_ms"`
	PerPage    int     `json:"per_page"`
	NextCursor *string `json:"next_cursor"`
}

// Next returns the cursor for the following page, or "" when done.
func (m Meta) Next() string {
	if m.NextCursor == nil {
		return ""
	}
	return *m.NextCursor
}

// Work is a raw work record. Only the fields needed downstream are decoded.
type Work struct {
	ID              string       `json:"id"`
	DOI             string       `json:"doi"`
	Title           string       `json:"title"`
	DisplayName     string       `json:"display_name"`
	PublicationDate string       `json:"publication_date"`
	Authorships     []Authorship `json:"authorships"`
}

// Authorship links an author to the institutions listed for them.
type Authorship struct {
	AuthorPosition string         `json:"author_position"`
	Institutions   []*Institution `json:"institutions"`
}

// Institution is an institution as embedded in a work or returned by the
// institutions endpoint. Geo is usually absent on embedded entries.
type Institution struct {
	ID          string `json:"id"`
	DisplayName string `json:"display_name"`
	CountryCode string `json:"country_code"`
	Geo         *Geo   `json:"geo,omitempty"`
}

// Geo holds the location of an institution.
type Geo struct {
	City        string   `json:"city,omitempty"`
	CountryCode string   `json:"country_code,omitempty"`
	Latitude    *float64 `json:"latitude"`
	Longitude   *float64 `json:"longitude"`
}
