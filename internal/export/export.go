// Package export builds the institutions.json and meta.json documents from
// the store and writes them atomically.
package export

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"cloud.google.com/go/civil"
	"github.com/UditKarth/RoboticsMap/internal/config"
	"github.com/UditKarth/RoboticsMap/internal/storage"
	"github.com/rs/zerolog"
)

// ExportError is returned when a document could not be built or written.
// Previously exported files are left in place.
type ExportError struct {
	Path string
	Err  error
}

func (e *ExportError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("export failed: %v", e.Err)
	}
	return fmt.Sprintf("exporting %s: %v", e.Path, e.Err)
}

func (e *ExportError) Unwrap() error {
	return e.Err
}

// Source supplies a consistent view of the store.
type Source interface {
	Snapshot(ctx context.Context) (*storage.Snapshot, error)
}

// InstitutionEntry is one element of institutions.json.
type InstitutionEntry struct {
	ID          string  `json:"id"`
	Name        string  `json:"name"`
	CountryCode *string `json:"country_code"`
	Lat         float64 `json:"lat"`
	Lng         float64 `json:"lng"`
	PaperCount  int     `json:"paper_count"`
}

// MetaDocument is the content of meta.json.
type MetaDocument struct {
	TotalPapers             int            `json:"total_papers"`
	TotalInstitutions       int            `json:"total_institutions"`
	EarliestPublicationDate *civil.Date    `json:"earliest_publication_date"`
	LatestPublicationDate   *civil.Date    `json:"latest_publication_date"`
	LastUpdated             string         `json:"last_updated"`
	PapersByCountry         map[string]int `json:"papers_by_country"`
}

// Summary describes a completed export.
type Summary struct {
	InstitutionsPath string       `json:"institutions_path"`
	MetaPath         string       `json:"meta_path"`
	Institutions     int          `json:"institutions"`
	Meta             MetaDocument `json:"meta"`
}

// Exporter writes the two documents into a directory.
type Exporter struct {
	source Source
	dir    string
	now    func() time.Time
	logger zerolog.Logger
}

// Option configures an Exporter.
type Option func(*Exporter)

// WithClock sets the clock used for last_updated.
func WithClock(now func() time.Time) Option {
	return func(e *Exporter) {
		e.now = now
	}
}

// WithLogger sets the exporter's logger.
func WithLogger(l zerolog.Logger) Option {
	return func(e *Exporter) {
		e.logger = l
	}
}

// New creates an Exporter writing into dir.
func New(source Source, dir string, opts ...Option) *Exporter {
	e := &Exporter{
		source: source,
		dir:    dir,
		now:    time.Now,
		logger: zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Export rebuilds both documents from the store. Both are encoded and
// staged on disk before either file is replaced, and a failed replacement
// restores the previous pair.
func (e *Exporter) Export(ctx context.Context) (*Summary, error) {
	snap, err := e.source.Snapshot(ctx)
	if err != nil {
		return nil, &ExportError{Err: fmt.Errorf("reading store: %w", err)}
	}

	institutions, meta := Build(snap, e.now())

	instPath := config.InstitutionsPath(e.dir)
	metaPath := config.MetaPath(e.dir)

	instData, err := encode(institutions)
	if err != nil {
		return nil, &ExportError{Path: instPath, Err: err}
	}
	metaData, err := encode(meta)
	if err != nil {
		return nil, &ExportError{Path: metaPath, Err: err}
	}

	if err := os.MkdirAll(e.dir, 0o755); err != nil {
		return nil, &ExportError{Path: e.dir, Err: fmt.Errorf("creating output directory: %w", err)}
	}
	err = ReplaceFiles(
		File{Path: instPath, Data: instData},
		File{Path: metaPath, Data: metaData},
	)
	if err != nil {
		return nil, err
	}
	if err := syncDir(e.dir); err != nil {
		e.logger.Warn().Err(err).Str("dir", e.dir).Msg("documents replaced but directory sync failed")
	}

	e.logger.Info().
		Int("institutions", len(institutions)).
		Int("total_papers", meta.TotalPapers).
		Str("dir", e.dir).
		Msg("exported documents")

	return &Summary{
		InstitutionsPath: instPath,
		MetaPath:         metaPath,
		Institutions:     len(institutions),
		Meta:             meta,
	}, nil
}

// Build derives both documents from a snapshot. It is a pure function of its
// inputs.
func Build(snap *storage.Snapshot, now time.Time) ([]InstitutionEntry, MetaDocument) {
	institutions := make([]InstitutionEntry, 0, len(snap.Institutions))
	for _, ic := range snap.Institutions {
		entry := InstitutionEntry{
			ID:         ic.ID,
			Name:       ic.Name,
			Lat:        ic.Lat,
			Lng:        ic.Lng,
			PaperCount: ic.PaperCount,
		}
		if ic.CountryCode != "" {
			cc := ic.CountryCode
			entry.CountryCode = &cc
		}
		institutions = append(institutions, entry)
	}

	byCountry := make(map[string]int, len(snap.PapersByCountry))
	for cc, n := range snap.PapersByCountry {
		byCountry[cc] = n
	}

	meta := MetaDocument{
		TotalPapers:       snap.TotalPapers,
		TotalInstitutions: snap.TotalInstitutions,
		LastUpdated:       now.UTC().Format(time.RFC3339),
		PapersByCountry:   byCountry,
	}
	if snap.HasDates {
		earliest, latest := snap.Earliest, snap.Latest
		meta.EarliestPublicationDate = &earliest
		meta.LatestPublicationDate = &latest
	}

	return institutions, meta
}

// encode renders v as indented JSON. Map keys come out sorted.
func encode(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return nil, fmt.Errorf("encoding JSON: %w", err)
	}
	return buf.Bytes(), nil
}
