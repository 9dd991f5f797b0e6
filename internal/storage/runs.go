package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// runTimeFormat has a fixed width so stored timestamps sort as text.
const runTimeFormat = "2006-01-02T15:04:05.000000000Z07:00"

// RunRecord is one row of run history.
type RunRecord struct {
	ID                  string    `json:"id"`
	Mode                string    `json:"mode"`
	State               string    `json:"state"`
	From                string    `json:"from,omitempty"`
	To                  string    `json:"to,omitempty"`
	Pages               int       `json:"pages"`
	Records             int       `json:"records"`
	Papers              int       `json:"papers"`
	Malformed           int       `json:"malformed"`
	DroppedInstitutions int       `json:"dropped_institutions"`
	Watermark           string    `json:"watermark,omitempty"`
	Error               string    `json:"error,omitempty"`
	StartedAt           time.Time `json:"started_at"`
	FinishedAt          time.Time `json:"finished_at"`
}

// RecordRun inserts a run or updates it in place when the id already exists.
func (d *DB) RecordRun(ctx context.Context, r RunRecord) error {
	var finished sql.NullString
	if !r.FinishedAt.IsZero() {
		finished = sql.NullString{String: r.FinishedAt.UTC().Format(runTimeFormat), Valid: true}
	}

	_, err := d.db.ExecContext(ctx, `
		INSERT INTO runs (
			id, mode, state, window_from, window_to,
			pages, records, papers, malformed, dropped_institutions,
			watermark, error, started_at, finished_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			state = excluded.state,
			window_from = excluded.window_from,
			window_to = excluded.window_to,
			pages = excluded.pages,
			records = excluded.records,
			papers = excluded.papers,
			malformed = excluded.malformed,
			dropped_institutions = excluded.dropped_institutions,
			watermark = excluded.watermark,
			error = excluded.error,
			finished_at = excluded.finished_at
	`, r.ID, r.Mode, r.State, nullableStringValue(r.From), nullableStringValue(r.To),
		r.Pages, r.Records, r.Papers, r.Malformed, r.DroppedInstitutions,
		nullableStringValue(r.Watermark), nullableStringValue(r.Error),
		r.StartedAt.UTC().Format(runTimeFormat), finished)
	if err != nil {
		return fmt.Errorf("recording run %s: %w", r.ID, err)
	}
	return nil
}

// RecentRuns returns up to limit runs, newest first.
func (d *DB) RecentRuns(ctx context.Context, limit int) ([]RunRecord, error) {
	if limit <= 0 {
		limit = 10
	}

	rows, err := d.db.QueryContext(ctx, `
		SELECT id, mode, state, window_from, window_to,
			pages, records, papers, malformed, dropped_institutions,
			watermark, error, started_at, finished_at
		FROM runs
		ORDER BY started_at DESC, id DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("listing runs: %w", err)
	}
	defer rows.Close()

	var runs []RunRecord
	for rows.Next() {
		var r RunRecord
		var from, to, watermark, errText, finished sql.NullString
		var started string
		if err := rows.Scan(
			&r.ID, &r.Mode, &r.State, &from, &to,
			&r.Pages, &r.Records, &r.Papers, &r.Malformed, &r.DroppedInstitutions,
			&watermark, &errText, &started, &finished,
		); err != nil {
			return nil, fmt.Errorf("scanning run: %w", err)
		}

		r.From = from.String
		r.To = to.String
		r.Watermark = watermark.String
		r.Error = errText.String
		if r.StartedAt, err = time.Parse(runTimeFormat, started); err != nil {
			return nil, fmt.Errorf("parsing start time of run %s: %w", r.ID, err)
		}
		if finished.Valid {
			if r.FinishedAt, err = time.Parse(runTimeFormat, finished.String); err != nil {
				return nil, fmt.Errorf("parsing finish time of run %s: %w", r.ID, err)
			}
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}
