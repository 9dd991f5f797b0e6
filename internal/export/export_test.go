package export

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"cloud.google.com/go/civil"
	"github.com/UditKarth/RoboticsMap/internal/reference"
	"github.com/UditKarth/RoboticsMap/internal/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var fixedNow = time.Date(2025, 3, 1, 8, 0, 0, 0, time.UTC)

func openStore(t *testing.T) *storage.DB {
	t.Helper()
	db, err := storage.OpenDB(filepath.Join(t.TempDir(), "publications.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func located(id, cc string) reference.Institution {
	return reference.Institution{ID: id, Name: "Inst " + id, CountryCode: cc, Lat: 1.5, Lng: -2.25}
}

func paperUnit(id string, d civil.Date, insts ...reference.Institution) reference.Unit {
	u := reference.Unit{Paper: reference.Paper{ID: id, Published: d}}
	for _, inst := range insts {
		u.Institutions = append(u.Institutions, inst)
		u.Links = append(u.Links, reference.Link{PaperID: id, InstitutionID: inst.ID})
	}
	return u
}

func readJSON(t *testing.T, path string, v any) {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(data, v))
}

func TestExport_TwoPapersThreeInstitutions(t *testing.T) {
	db := openStore(t)
	ctx := context.Background()

	require.NoError(t, db.ApplyBatch(ctx, []reference.Unit{
		paperUnit("A", civil.Date{Year: 2024, Month: 1, Day: 10}, located("X", "US"), located("Y", "US")),
		paperUnit("B", civil.Date{Year: 2024, Month: 2, Day: 20}, located("Z", "FR")),
	}))

	dir := t.TempDir()
	summary, err := New(db, dir, WithClock(func() time.Time { return fixedNow })).Export(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, summary.Institutions)

	var institutions []InstitutionEntry
	readJSON(t, filepath.Join(dir, "institutions.json"), &institutions)
	require.Len(t, institutions, 3)
	for i, id := range []string{"X", "Y", "Z"} {
		assert.Equal(t, id, institutions[i].ID)
		assert.Equal(t, 1, institutions[i].PaperCount)
	}

	var meta map[string]any
	readJSON(t, filepath.Join(dir, "meta.json"), &meta)
	assert.EqualValues(t, 2, meta["total_papers"])
	assert.EqualValues(t, 3, meta["total_institutions"])
	assert.Equal(t, map[string]any{"US": float64(1), "FR": float64(1)}, meta["papers_by_country"])
	assert.Equal(t, "2024-01-10", meta["earliest_publication_date"])
	assert.Equal(t, "2024-02-20", meta["latest_publication_date"])
	assert.Equal(t, "2025-03-01T08:00:00Z", meta["last_updated"])
}

func TestExport_Deterministic(t *testing.T) {
	db := openStore(t)
	ctx := context.Background()

	units := []reference.Unit{
		paperUnit("W1", civil.Date{Year: 2023, Month: 5, Day: 1}, located("I2", "DE"), located("I1", "")),
		paperUnit("W2", civil.Date{Year: 2023, Month: 6, Day: 1}, located("I2", "DE")),
	}
	require.NoError(t, db.ApplyBatch(ctx, units))

	dir := t.TempDir()
	exp := New(db, dir, WithClock(func() time.Time { return fixedNow }))

	_, err := exp.Export(ctx)
	require.NoError(t, err)
	firstInst, _ := os.ReadFile(filepath.Join(dir, "institutions.json"))
	firstMeta, _ := os.ReadFile(filepath.Join(dir, "meta.json"))

	// Re-ingesting the same records changes nothing.
	require.NoError(t, db.ApplyBatch(ctx, units))
	_, err = exp.Export(ctx)
	require.NoError(t, err)
	secondInst, _ := os.ReadFile(filepath.Join(dir, "institutions.json"))
	secondMeta, _ := os.ReadFile(filepath.Join(dir, "meta.json"))

	assert.Equal(t, string(firstInst), string(secondInst))
	assert.Equal(t, string(firstMeta), string(secondMeta))

	var institutions []InstitutionEntry
	readJSON(t, filepath.Join(dir, "institutions.json"), &institutions)
	require.Len(t, institutions, 2)
	assert.Equal(t, "I2", institutions[0].ID)
	assert.Equal(t, 2, institutions[0].PaperCount)
	assert.Nil(t, institutions[1].CountryCode)

	// No temp files left behind.
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 2)
}

func TestExport_EmptyStore(t *testing.T) {
	dir := t.TempDir()
	summary, err := New(openStore(t), dir).Export(context.Background())
	require.NoError(t, err)
	assert.Zero(t, summary.Institutions)

	data, err := os.ReadFile(filepath.Join(dir, "institutions.json"))
	require.NoError(t, err)
	assert.JSONEq(t, "[]", string(data))

	var meta map[string]any
	readJSON(t, filepath.Join(dir, "meta.json"), &meta)
	assert.Nil(t, meta["earliest_publication_date"])
	assert.Equal(t, map[string]any{}, meta["papers_by_country"])
}

type failingSource struct{}

func (failingSource) Snapshot(context.Context) (*storage.Snapshot, error) {
	return nil, errors.New("database is locked")
}

func TestExport_FailureKeepsPreviousDocuments(t *testing.T) {
	dir := t.TempDir()
	instPath := filepath.Join(dir, "institutions.json")
	metaPath := filepath.Join(dir, "meta.json")
	require.NoError(t, os.WriteFile(instPath, []byte("[]\n"), 0o644))
	require.NoError(t, os.WriteFile(metaPath, []byte("{\"total_papers\": 7}\n"), 0o644))

	_, err := New(failingSource{}, dir).Export(context.Background())
	var ee *ExportError
	require.ErrorAs(t, err, &ee)

	inst, _ := os.ReadFile(instPath)
	meta, _ := os.ReadFile(metaPath)
	assert.Equal(t, "[]\n", string(inst))
	assert.Equal(t, "{\"total_papers\": 7}\n", string(meta))
}

func TestExport_WriteFailure(t *testing.T) {
	db := openStore(t)
	dir := t.TempDir()
	metaPath := filepath.Join(dir, "meta.json")
	require.NoError(t, os.WriteFile(metaPath, []byte("{}\n"), 0o644))

	// A non-empty directory in place of institutions.json cannot be renamed over.
	blocker := filepath.Join(dir, "institutions.json")
	require.NoError(t, os.MkdirAll(filepath.Join(blocker, "keep"), 0o755))

	_, err := New(db, dir).Export(context.Background())
	var ee *ExportError
	require.ErrorAs(t, err, &ee)
	assert.Equal(t, blocker, ee.Path)

	meta, _ := os.ReadFile(metaPath)
	assert.Equal(t, "{}\n", string(meta))
}

func TestBuild_PureFunctionOfSnapshot(t *testing.T) {
	snap := &storage.Snapshot{
		Institutions: []storage.InstitutionCount{
			{Institution: reference.Institution{ID: "I1", Name: "A&B <Lab>", CountryCode: "GB", Lat: 51.5, Lng: -0.12}, PaperCount: 4},
		},
		TotalPapers:       4,
		TotalInstitutions: 1,
		PapersByCountry:   map[string]int{"GB": 4},
	}

	inst, meta := Build(snap, fixedNow)
	require.Len(t, inst, 1)
	require.NotNil(t, inst[0].CountryCode)
	assert.Equal(t, "GB", *inst[0].CountryCode)
	assert.Nil(t, meta.EarliestPublicationDate)

	// Mutating the output does not leak into the snapshot.
	meta.PapersByCountry["GB"] = 0
	assert.Equal(t, 4, snap.PapersByCountry["GB"])

	data, err := encode(inst)
	require.NoError(t, err)
	assert.Contains(t, string(data), "A&B <Lab>")
}
