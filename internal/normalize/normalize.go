// Package normalize turns raw OpenAlex works into store-ready units.
package normalize

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"cloud.google.com/go/civil"
	"github.com/UditKarth/RoboticsMap/internal/geocode"
	"github.com/UditKarth/RoboticsMap/internal/openalex"
	"github.com/UditKarth/RoboticsMap/internal/reference"
	"github.com/rs/zerolog"
)

const doiPrefix = "https://doi.org/"

// MalformedRecordError is returned for a work that cannot be stored: no id
// or no parseable publication date. The caller skips the record.
type MalformedRecordError struct {
	ID     string
	Reason string
}

func (e *MalformedRecordError) Error() string {
	if e.ID == "" {
		return "malformed record: " + e.Reason
	}
	return fmt.Sprintf("malformed record %s: %s", e.ID, e.Reason)
}

// IsMalformed reports whether err is a *MalformedRecordError.
func IsMalformed(err error) bool {
	var m *MalformedRecordError
	return errors.As(err, &m)
}

// Resolver supplies coordinates for institutions listed without geo.
type Resolver interface {
	Resolve(ctx context.Context, id string) (*reference.Institution, error)
}

// Normalizer maps works to units.
type Normalizer struct {
	resolver Resolver
	logger   zerolog.Logger
}

// Option configures a Normalizer.
type Option func(*Normalizer)

// WithResolver enables geo lookups for institutions missing coordinates.
func WithResolver(r Resolver) Option {
	return func(n *Normalizer) {
		n.resolver = r
	}
}

// WithLogger sets the logger used for dropped-institution messages.
func WithLogger(l zerolog.Logger) Option {
	return func(n *Normalizer) {
		n.logger = l
	}
}

// New creates a Normalizer.
func New(opts ...Option) *Normalizer {
	n := &Normalizer{logger: zerolog.Nop()}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

// Normalize converts one work. Institutions without an id, a name or finite
// coordinates are dropped and counted; duplicates within the work collapse
// to the first occurrence. A work whose institutions are all dropped still
// yields a unit with its paper and no links. A geo lookup that fails for any
// reason other than geocode.ErrNoGeo fails the whole work, so the caller
// does not commit it with links missing.
func (n *Normalizer) Normalize(ctx context.Context, w openalex.Work) (*reference.Unit, error) {
	id := StripID(w.ID)
	if id == "" {
		return nil, &MalformedRecordError{Reason: "missing id"}
	}

	published, err := ParseDate(w.PublicationDate)
	if err != nil {
		return nil, &MalformedRecordError{ID: id, Reason: err.Error()}
	}

	title := strings.TrimSpace(w.Title)
	if title == "" {
		title = strings.TrimSpace(w.DisplayName)
	}

	unit := &reference.Unit{
		Paper: reference.Paper{
			ID:          id,
			Title:       title,
			Published:   published,
			DOI:         strings.TrimPrefix(w.DOI, doiPrefix),
			OpenAlexURL: openalex.IDPrefix + id,
		},
	}

	seen := make(map[string]bool)
	for _, a := range w.Authorships {
		for _, raw := range a.Institutions {
			inst, ok, err := n.institution(ctx, raw)
			if err != nil {
				return nil, fmt.Errorf("normalizing %s: %w", id, err)
			}
			if !ok {
				unit.DroppedInstitutions++
				continue
			}
			if seen[inst.ID] {
				continue
			}
			seen[inst.ID] = true
			unit.Institutions = append(unit.Institutions, inst)
			unit.Links = append(unit.Links, reference.Link{PaperID: id, InstitutionID: inst.ID})
		}
	}

	return unit, nil
}

// institution extracts one affiliation, consulting the resolver when the
// entry carries no coordinates. ok is false for an entry that is dropped.
func (n *Normalizer) institution(ctx context.Context, raw *openalex.Institution) (reference.Institution, bool, error) {
	if raw == nil {
		return reference.Institution{}, false, nil
	}
	id := StripID(raw.ID)
	if id == "" {
		return reference.Institution{}, false, nil
	}

	inst := reference.Institution{
		ID:          id,
		Name:        strings.TrimSpace(raw.DisplayName),
		CountryCode: countryCode(raw),
	}

	if lat, lng, ok := coordinates(raw.Geo); ok {
		inst.Lat, inst.Lng = lat, lng
	} else {
		if n.resolver == nil {
			return reference.Institution{}, false, nil
		}
		resolved, err := n.resolver.Resolve(ctx, id)
		if errors.Is(err, geocode.ErrNoGeo) {
			n.logger.Debug().Str("institution_id", id).Msg("dropping institution without geo")
			return reference.Institution{}, false, nil
		}
		if err != nil {
			return reference.Institution{}, false, err
		}
		inst.Lat, inst.Lng = resolved.Lat, resolved.Lng
		if inst.Name == "" {
			inst.Name = resolved.Name
		}
		if inst.CountryCode == "" {
			inst.CountryCode = resolved.CountryCode
		}
	}

	if inst.Name == "" || !reference.ValidCoordinates(inst.Lat, inst.Lng) {
		return reference.Institution{}, false, nil
	}
	return inst, true, nil
}

// StripID removes the OpenAlex URL prefix from an entity id.
func StripID(id string) string {
	return strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(id), openalex.IDPrefix))
}

// ParseDate parses a YYYY-MM-DD publication date. Longer timestamps are cut
// to their date part.
func ParseDate(s string) (civil.Date, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return civil.Date{}, errors.New("missing publication date")
	}
	if len(s) > 10 {
		s = s[:10]
	}
	d, err := civil.ParseDate(s)
	if err != nil {
		return civil.Date{}, fmt.Errorf("invalid publication date %q", s)
	}
	return d, nil
}

func countryCode(raw *openalex.Institution) string {
	cc := raw.CountryCode
	if cc == "" && raw.Geo != nil {
		cc = raw.Geo.CountryCode
	}
	return strings.ToUpper(strings.TrimSpace(cc))
}

func coordinates(g *openalex.Geo) (float64, float64, bool) {
	if g == nil || g.Latitude == nil || g.Longitude == nil {
		return 0, 0, false
	}
	lat, lng := *g.Latitude, *g.Longitude
	return lat, lng, reference.ValidCoordinates(lat, lng)
}
