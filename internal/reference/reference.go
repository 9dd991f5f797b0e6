// Package reference defines the core domain types for ingested papers and
// their institutional affiliations.
package reference

import (
	"math"

	"cloud.google.com/go/civil"
)

// Paper represents a scholarly work ingested from OpenAlex.
type Paper struct {
	// Identity
	ID string `json:"id"` // OpenAlex work id without URL prefix (e.g. W2741809807)

	// Metadata
	Title     string     `json:"title,omitempty"`
	Published civil.Date `json:"publication_date"`

	// External identifiers
	DOI         string `json:"doi,omitempty"` // Without https://doi.org/ prefix
	OpenAlexURL string `json:"openalex_url,omitempty"`
}

// Institution is an affiliation that can be placed on a map.
type Institution struct {
	ID          string  `json:"id"` // OpenAlex institution id without URL prefix
	Name        string  `json:"name"`
	CountryCode string  `json:"country_code,omitempty"` // ISO-3166 alpha-2, empty if unknown
	Lat         float64 `json:"lat"`
	Lng         float64 `json:"lng"`
}

// Link records that an institution is one of the affiliations on a paper.
type Link struct {
	PaperID       string `json:"paper_id"`
	InstitutionID string `json:"institution_id"`
}

// Unit is everything derived from one source record. The store applies a
// unit atomically: the paper, its institutions and its links land together.
type Unit struct {
	Paper        Paper
	Institutions []Institution
	Links        []Link

	// DroppedInstitutions counts affiliation entries discarded during
	// normalization (no geo, no id, duplicates are not counted).
	DroppedInstitutions int
}

// ValidCoordinates reports whether lat and lng are usable map coordinates.
func ValidCoordinates(lat, lng float64) bool {
	return isFinite(lat) && isFinite(lng)
}

func isFinite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}
