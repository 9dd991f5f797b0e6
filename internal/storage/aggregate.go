package storage

import (
	"context"
	"database/sql"
	"fmt"

	"cloud.google.com/go/civil"
	"github.com/UditKarth/RoboticsMap/internal/reference"
)

// InstitutionCount is an institution together with the number of distinct
// papers linked to it.
type InstitutionCount struct {
	reference.Institution
	PaperCount int
}

// Snapshot is a consistent view of every aggregate the exporter needs.
type Snapshot struct {
	Institutions      []InstitutionCount
	TotalPapers       int
	TotalInstitutions int
	Earliest          civil.Date
	Latest            civil.Date
	HasDates          bool
	PapersByCountry   map[string]int
}

// InstitutionCounts returns every institution with at least one link,
// ordered by paper count descending, then id.
func (d *DB) InstitutionCounts(ctx context.Context) ([]InstitutionCount, error) {
	return institutionCounts(ctx, d.db)
}

// CountPapers returns the number of stored papers.
func (d *DB) CountPapers(ctx context.Context) (int, error) {
	return countPapers(ctx, d.db)
}

// CountLinkedInstitutions returns the number of institutions with at least
// one linked paper.
func (d *DB) CountLinkedInstitutions(ctx context.Context) (int, error) {
	return countLinkedInstitutions(ctx, d.db)
}

// CountLinks returns the number of paper/institution pairs.
func (d *DB) CountLinks(ctx context.Context) (int, error) {
	var count int
	err := d.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM paper_institutions").Scan(&count)
	return count, err
}

// DateRange returns the earliest and latest publication dates. ok is false
// when the store holds no papers.
func (d *DB) DateRange(ctx context.Context) (earliest, latest civil.Date, ok bool, err error) {
	return dateRange(ctx, d.db)
}

// PapersByCountry returns, per country code, the number of distinct papers
// with at least one linked institution in that country.
func (d *DB) PapersByCountry(ctx context.Context) (map[string]int, error) {
	return papersByCountry(ctx, d.db)
}

// Snapshot reads all aggregates inside one transaction so the numbers agree
// with each other.
func (d *DB) Snapshot(ctx context.Context) (*Snapshot, error) {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("beginning snapshot: %w", err)
	}
	defer tx.Rollback()

	var s Snapshot
	if s.Institutions, err = institutionCounts(ctx, tx); err != nil {
		return nil, err
	}
	if s.TotalPapers, err = countPapers(ctx, tx); err != nil {
		return nil, err
	}
	if s.TotalInstitutions, err = countLinkedInstitutions(ctx, tx); err != nil {
		return nil, err
	}
	if s.Earliest, s.Latest, s.HasDates, err = dateRange(ctx, tx); err != nil {
		return nil, err
	}
	if s.PapersByCountry, err = papersByCountry(ctx, tx); err != nil {
		return nil, err
	}
	return &s, nil
}

func institutionCounts(ctx context.Context, q querier) ([]InstitutionCount, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT i.id, i.name, i.country_code, i.lat, i.lng,
			COUNT(DISTINCT pi.paper_id) AS paper_count
		FROM institutions i
		JOIN paper_institutions pi ON pi.institution_id = i.id
		GROUP BY i.id, i.name, i.country_code, i.lat, i.lng
		ORDER BY paper_count DESC, i.id ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("counting papers per institution: %w", err)
	}
	defer rows.Close()

	var out []InstitutionCount
	for rows.Next() {
		var ic InstitutionCount
		var country sql.NullString
		if err := rows.Scan(&ic.ID, &ic.Name, &country, &ic.Lat, &ic.Lng, &ic.PaperCount); err != nil {
			return nil, fmt.Errorf("scanning institution count: %w", err)
		}
		ic.CountryCode = country.String
		out = append(out, ic)
	}
	return out, rows.Err()
}

func countPapers(ctx context.Context, q querier) (int, error) {
	var count int
	if err := q.QueryRowContext(ctx, "SELECT COUNT(*) FROM papers").Scan(&count); err != nil {
		return 0, fmt.Errorf("counting papers: %w", err)
	}
	return count, nil
}

func countLinkedInstitutions(ctx context.Context, q querier) (int, error) {
	var count int
	err := q.QueryRowContext(ctx, "SELECT COUNT(DISTINCT institution_id) FROM paper_institutions").Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("counting institutions: %w", err)
	}
	return count, nil
}

func dateRange(ctx context.Context, q querier) (civil.Date, civil.Date, bool, error) {
	var minDate, maxDate sql.NullString
	err := q.QueryRowContext(ctx, "SELECT MIN(publication_date), MAX(publication_date) FROM papers").Scan(&minDate, &maxDate)
	if err != nil {
		return civil.Date{}, civil.Date{}, false, fmt.Errorf("reading date range: %w", err)
	}
	if !minDate.Valid || !maxDate.Valid {
		return civil.Date{}, civil.Date{}, false, nil
	}

	earliest, err := civil.ParseDate(minDate.String)
	if err != nil {
		return civil.Date{}, civil.Date{}, false, fmt.Errorf("parsing earliest date: %w", err)
	}
	latest, err := civil.ParseDate(maxDate.String)
	if err != nil {
		return civil.Date{}, civil.Date{}, false, fmt.Errorf("parsing latest date: %w", err)
	}
	return earliest, latest, true, nil
}

// papersByCountry counts distinct papers per country. Summing institution
// counts would double count papers with several institutions in one country.
func papersByCountry(ctx context.Context, q querier) (map[string]int, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT i.country_code, COUNT(DISTINCT pi.paper_id)
		FROM paper_institutions pi
		JOIN institutions i ON i.id = pi.institution_id
		WHERE i.country_code IS NOT NULL AND i.country_code != ''
		GROUP BY i.country_code
	`)
	if err != nil {
		return nil, fmt.Errorf("counting papers per country: %w", err)
	}
	defer rows.Close()

	out := make(map[string]int)
	for rows.Next() {
		var country string
		var count int
		if err := rows.Scan(&country, &count); err != nil {
			return nil, fmt.Errorf("scanning country count: %w", err)
		}
		out[country] = count
	}
	return out, rows.Err()
}
