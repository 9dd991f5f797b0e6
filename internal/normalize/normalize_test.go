package normalize

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"cloud.google.com/go/civil"
	"github.com/UditKarth/RoboticsMap/internal/geocode"
	"github.com/UditKarth/RoboticsMap/internal/openalex"
	"github.com/UditKarth/RoboticsMap/internal/reference"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func geo(lat, lng float64) *openalex.Geo {
	return &openalex.Geo{Latitude: &lat, Longitude: &lng}
}

func inst(id, name, cc string, g *openalex.Geo) *openalex.Institution {
	return &openalex.Institution{ID: openalex.IDPrefix + id, DisplayName: name, CountryCode: cc, Geo: g}
}

func work(id, date string, affiliations ...[]*openalex.Institution) openalex.Work {
	w := openalex.Work{ID: openalex.IDPrefix + id, PublicationDate: date, Title: "A robot paper"}
	for _, insts := range affiliations {
		w.Authorships = append(w.Authorships, openalex.Authorship{Institutions: insts})
	}
	return w
}

type stubResolver map[string]*reference.Institution

func (s stubResolver) Resolve(_ context.Context, id string) (*reference.Institution, error) {
	if id == "IERR" {
		return nil, &openalex.FetchError{Resource: "institutions/IERR", Attempts: 5, StatusCode: 503, Err: errors.New("unavailable")}
	}
	if r, ok := s[id]; ok {
		return r, nil
	}
	return nil, geocode.ErrNoGeo
}

func TestNormalize_Basic(t *testing.T) {
	w := work("W1", "2024-03-05",
		[]*openalex.Institution{inst("I1", "MIT", "us", geo(42.36, -71.09))},
		[]*openalex.Institution{inst("I2", "ETH Zurich", "CH", geo(47.37, 8.54))},
	)
	w.DOI = "https://doi.org/10.1109/icra.2024.1"

	unit, err := New().Normalize(context.Background(), w)
	require.NoError(t, err)

	assert.Equal(t, "W1", unit.Paper.ID)
	assert.Equal(t, civil.Date{Year: 2024, Month: time.March, Day: 5}, unit.Paper.Published)
	assert.Equal(t, "10.1109/icra.2024.1", unit.Paper.DOI)
	assert.Equal(t, "https://openalex.org/W1", unit.Paper.OpenAlexURL)

	require.Len(t, unit.Institutions, 2)
	assert.Equal(t, "US", unit.Institutions[0].CountryCode)
	assert.Equal(t, []reference.Link{
		{PaperID: "W1", InstitutionID: "I1"},
		{PaperID: "W1", InstitutionID: "I2"},
	}, unit.Links)
	assert.Zero(t, unit.DroppedInstitutions)
}

func TestNormalize_DedupWithinPaper(t *testing.T) {
	mit := inst("I1", "MIT", "US", geo(42.36, -71.09))
	mitAgain := inst("I1", "Massachusetts Institute of Technology", "US", geo(0, 0))

	unit, err := New().Normalize(context.Background(),
		work("W1", "2024-01-01", []*openalex.Institution{mit}, []*openalex.Institution{mitAgain, mit}))
	require.NoError(t, err)

	require.Len(t, unit.Institutions, 1)
	assert.Equal(t, "MIT", unit.Institutions[0].Name)
	assert.Len(t, unit.Links, 1)
	assert.Zero(t, unit.DroppedInstitutions)
}

func TestNormalize_DropsUnlocatedInstitutions(t *testing.T) {
	unit, err := New().Normalize(context.Background(), work("W2", "2024-01-01", []*openalex.Institution{
		inst("I1", "No Geo", "US", nil),
		inst("I2", "Half Geo", "US", &openalex.Geo{Latitude: new(float64)}),
		inst("I3", "NaN Geo", "US", geo(math.NaN(), 1)),
		inst("", "No ID", "US", geo(1, 1)),
		inst("I4", "", "US", geo(1, 1)),
		nil,
		inst("I5", "Kept", "", geo(0, 0)),
	}))
	require.NoError(t, err)

	require.Len(t, unit.Institutions, 1)
	assert.Equal(t, "I5", unit.Institutions[0].ID)
	assert.Empty(t, unit.Institutions[0].CountryCode)
	assert.Equal(t, 6, unit.DroppedInstitutions)
}

func TestNormalize_ZeroInstitutionsStillYieldsPaper(t *testing.T) {
	unit, err := New().Normalize(context.Background(), work("W3", "2023-12-31",
		[]*openalex.Institution{inst("I1", "Ghost", "US", nil)}))
	require.NoError(t, err)

	assert.Equal(t, "W3", unit.Paper.ID)
	assert.Empty(t, unit.Institutions)
	assert.Empty(t, unit.Links)
	assert.Equal(t, 1, unit.DroppedInstitutions)
}

func TestNormalize_UsesResolver(t *testing.T) {
	resolver := stubResolver{
		"I1": {ID: "I1", Name: "Resolved Name", CountryCode: "DE", Lat: 48.1, Lng: 11.6},
	}
	n := New(WithResolver(resolver))

	unit, err := n.Normalize(context.Background(), work("W4", "2024-06-01", []*openalex.Institution{
		inst("I1", "TU Munich", "", nil),
		inst("I2", "Unknown", "FR", nil),
	}))
	require.NoError(t, err)

	require.Len(t, unit.Institutions, 1)
	got := unit.Institutions[0]
	assert.Equal(t, "TU Munich", got.Name)
	assert.Equal(t, "DE", got.CountryCode)
	assert.InDelta(t, 48.1, got.Lat, 1e-9)
	assert.Equal(t, 1, unit.DroppedInstitutions)
}

func TestNormalize_ResolverFailureFailsWork(t *testing.T) {
	n := New(WithResolver(stubResolver{}))

	unit, err := n.Normalize(context.Background(), work("W5", "2024-06-01", []*openalex.Institution{
		inst("I1", "Located", "US", geo(1, 1)),
		inst("IERR", "Failing", "FR", nil),
	}))
	require.Error(t, err)
	assert.Nil(t, unit)
	assert.False(t, IsMalformed(err))

	var fe *openalex.FetchError
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, 503, fe.StatusCode)
	assert.Contains(t, err.Error(), "W5")
}

func TestNormalize_Malformed(t *testing.T) {
	tests := []struct {
		name string
		work openalex.Work
	}{
		{"missing id", openalex.Work{PublicationDate: "2024-01-01"}},
		{"bare prefix id", openalex.Work{ID: openalex.IDPrefix, PublicationDate: "2024-01-01"}},
		{"missing date", openalex.Work{ID: "W1"}},
		{"bad date", openalex.Work{ID: "W1", PublicationDate: "2024-13-40"}},
		{"year only", openalex.Work{ID: "W1", PublicationDate: "2024"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New().Normalize(context.Background(), tt.work)
			require.Error(t, err)
			assert.True(t, IsMalformed(err))
		})
	}
}

func TestNormalize_TitleFallback(t *testing.T) {
	w := openalex.Work{ID: "W9", PublicationDate: "2024-02-02", DisplayName: " Display "}
	unit, err := New().Normalize(context.Background(), w)
	require.NoError(t, err)
	assert.Equal(t, "Display", unit.Paper.Title)
}

func TestParseDate(t *testing.T) {
	d, err := ParseDate("2024-02-29T00:00:00")
	require.NoError(t, err)
	assert.Equal(t, civil.Date{Year: 2024, Month: time.February, Day: 29}, d)

	_, err = ParseDate("2023-02-29")
	assert.Error(t, err)
}

func TestStripID(t *testing.T) {
	assert.Equal(t, "W123", StripID("https://openalex.org/W123"))
	assert.Equal(t, "W123", StripID(" W123 "))
	assert.Equal(t, "", StripID(""))
}
