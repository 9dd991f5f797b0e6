package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// Keys used in the _meta table.
const (
	MetaWatermark  = "watermark"
	MetaLastExport = "last_export"
)

// Meta returns the value stored under key. ok is false when the key is absent.
func (d *DB) Meta(ctx context.Context, key string) (value string, ok bool, err error) {
	var v sql.NullString
	err = d.db.QueryRowContext(ctx, "SELECT value FROM _meta WHERE key = ?", key).Scan(&v)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("reading meta %s: %w", key, err)
	}
	return v.String, v.Valid, nil
}

// SetMeta stores value under key.
func (d *DB) SetMeta(ctx context.Context, key, value string) error {
	_, err := d.db.ExecContext(ctx, `
		INSERT INTO _meta (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value
	`, key, value)
	if err != nil {
		return fmt.Errorf("writing meta %s: %w", key, err)
	}
	return nil
}

// LoadWatermark returns the persisted watermark, or "" if none was ever saved.
func (d *DB) LoadWatermark(ctx context.Context) (string, error) {
	v, _, err := d.Meta(ctx, MetaWatermark)
	return v, err
}

// SaveWatermark persists the watermark.
func (d *DB) SaveWatermark(ctx context.Context, value string) error {
	return d.SetMeta(ctx, MetaWatermark, value)
}

// LastExport returns when documents were last exported, zero if never.
func (d *DB) LastExport(ctx context.Context) (time.Time, error) {
	v, ok, err := d.Meta(ctx, MetaLastExport)
	if err != nil || !ok || v == "" {
		return time.Time{}, err
	}
	return time.Parse(time.RFC3339, v)
}

// SetLastExport records an export time.
func (d *DB) SetLastExport(ctx context.Context, t time.Time) error {
	return d.SetMeta(ctx, MetaLastExport, t.UTC().Format(time.RFC3339))
}
