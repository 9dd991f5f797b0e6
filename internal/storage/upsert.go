package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"cloud.google.com/go/civil"
	"github.com/UditKarth/RoboticsMap/internal/reference"
)

// StoreWriteError is returned when a write could not be committed. Nothing
// from the failed transaction is visible afterwards.
type StoreWriteError struct {
	Op      string
	PaperID string
	Err     error
}

func (e *StoreWriteError) Error() string {
	if e.PaperID != "" {
		return fmt.Sprintf("store %s (paper %s): %v", e.Op, e.PaperID, e.Err)
	}
	return fmt.Sprintf("store %s: %v", e.Op, e.Err)
}

func (e *StoreWriteError) Unwrap() error {
	return e.Err
}

// Tx is a write transaction. All upserts made through it commit or roll
// back together.
type Tx struct {
	tx *sql.Tx
}

// UpsertPaper inserts or refreshes a paper.
func (t *Tx) UpsertPaper(ctx context.Context, p reference.Paper) error {
	return upsertPaper(ctx, t.tx, p)
}

// UpsertInstitution inserts or refreshes an institution.
func (t *Tx) UpsertInstitution(ctx context.Context, inst reference.Institution) error {
	return upsertInstitution(ctx, t.tx, inst)
}

// UpsertLink records a paper/institution pair. Existing pairs are left alone.
func (t *Tx) UpsertLink(ctx context.Context, l reference.Link) error {
	return upsertLink(ctx, t.tx, l)
}

// UpsertPaper inserts or refreshes a paper outside of any batch.
func (d *DB) UpsertPaper(ctx context.Context, p reference.Paper) error {
	return upsertPaper(ctx, d.db, p)
}

// UpsertInstitution inserts or refreshes an institution outside of any batch.
func (d *DB) UpsertInstitution(ctx context.Context, inst reference.Institution) error {
	return upsertInstitution(ctx, d.db, inst)
}

// UpsertLink records a paper/institution pair outside of any batch.
func (d *DB) UpsertLink(ctx context.Context, l reference.Link) error {
	return upsertLink(ctx, d.db, l)
}

// WithTx runs fn in a transaction, committing if fn returns nil and rolling
// back otherwise.
func (d *DB) WithTx(ctx context.Context, fn func(*Tx) error) error {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}

	if err := fn(&Tx{tx: tx}); err != nil {
		_ = tx.Rollback()
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}

// ApplyUnit writes one unit (paper, institutions, links) atomically.
func (d *DB) ApplyUnit(ctx context.Context, u reference.Unit) error {
	return d.ApplyBatch(ctx, []reference.Unit{u})
}

// ApplyBatch writes a batch of units in a single transaction. Either every
// unit lands or none does.
func (d *DB) ApplyBatch(ctx context.Context, units []reference.Unit) error {
	if len(units) == 0 {
		return nil
	}

	var failed string
	err := d.WithTx(ctx, func(tx *Tx) error {
		for _, u := range units {
			if err := tx.apply(ctx, u); err != nil {
				failed = u.Paper.ID
				return err
			}
		}
		return nil
	})
	if err != nil {
		return &StoreWriteError{Op: "apply batch", PaperID: failed, Err: err}
	}
	return nil
}

func (t *Tx) apply(ctx context.Context, u reference.Unit) error {
	if err := t.UpsertPaper(ctx, u.Paper); err != nil {
		return err
	}
	for _, inst := range u.Institutions {
		if err := t.UpsertInstitution(ctx, inst); err != nil {
			return err
		}
	}
	for _, l := range u.Links {
		if err := t.UpsertLink(ctx, l); err != nil {
			return err
		}
	}
	return nil
}

func upsertPaper(ctx context.Context, ex execer, p reference.Paper) error {
	if p.ID == "" {
		return errors.New("paper id is empty")
	}
	if !p.Published.IsValid() {
		return fmt.Errorf("paper %s has invalid publication date", p.ID)
	}

	_, err := ex.ExecContext(ctx, `
		INSERT INTO papers (id, title, publication_date, doi, openalex_url)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			title = excluded.title,
			publication_date = excluded.publication_date,
			doi = excluded.doi,
			openalex_url = excluded.openalex_url
	`, p.ID, nullableStringValue(p.Title), p.Published.String(),
		nullableStringValue(p.DOI), nullableStringValue(p.OpenAlexURL))
	if err != nil {
		return fmt.Errorf("upserting paper %s: %w", p.ID, err)
	}
	return nil
}

func upsertInstitution(ctx context.Context, ex execer, inst reference.Institution) error {
	if inst.ID == "" {
		return errors.New("institution id is empty")
	}
	if !reference.ValidCoordinates(inst.Lat, inst.Lng) {
		return fmt.Errorf("institution %s has no usable coordinates", inst.ID)
	}

	_, err := ex.ExecContext(ctx, `
		INSERT INTO institutions (id, name, country_code, lat, lng)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			country_code = excluded.country_code,
			lat = excluded.lat,
			lng = excluded.lng
	`, inst.ID, inst.Name, nullableStringValue(inst.CountryCode), inst.Lat, inst.Lng)
	if err != nil {
		return fmt.Errorf("upserting institution %s: %w", inst.ID, err)
	}
	return nil
}

func upsertLink(ctx context.Context, ex execer, l reference.Link) error {
	_, err := ex.ExecContext(ctx, `
		INSERT INTO paper_institutions (paper_id, institution_id)
		VALUES (?, ?)
		ON CONFLICT(paper_id, institution_id) DO NOTHING
	`, l.PaperID, l.InstitutionID)
	if err != nil {
		return fmt.Errorf("linking paper %s to institution %s: %w", l.PaperID, l.InstitutionID, err)
	}
	return nil
}

// GetPaper retrieves a paper by id. It returns (nil, nil) when not found.
func (d *DB) GetPaper(ctx context.Context, id string) (*reference.Paper, error) {
	var p reference.Paper
	var title, doi, url sql.NullString
	var published string

	err := d.db.QueryRowContext(ctx, `
		SELECT id, title, publication_date, doi, openalex_url
		FROM papers WHERE id = ?
	`, id).Scan(&p.ID, &title, &published, &doi, &url)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("getting paper %s: %w", id, err)
	}

	p.Published, err = civil.ParseDate(published)
	if err != nil {
		return nil, fmt.Errorf("parsing publication date for %s: %w", id, err)
	}
	p.Title = title.String
	p.DOI = doi.String
	p.OpenAlexURL = url.String
	return &p, nil
}

// GetInstitution retrieves an institution by id. It returns (nil, nil) when
// not found.
func (d *DB) GetInstitution(ctx context.Context, id string) (*reference.Institution, error) {
	var inst reference.Institution
	var country sql.NullString

	err := d.db.QueryRowContext(ctx, `
		SELECT id, name, country_code, lat, lng
		FROM institutions WHERE id = ?
	`, id).Scan(&inst.ID, &inst.Name, &country, &inst.Lat, &inst.Lng)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("getting institution %s: %w", id, err)
	}
	inst.CountryCode = country.String
	return &inst, nil
}
