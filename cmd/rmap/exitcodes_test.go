package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/UditKarth/RoboticsMap/internal/config"
	"github.com/UditKarth/RoboticsMap/internal/export"
	"github.com/UditKarth/RoboticsMap/internal/lock"
	"github.com/UditKarth/RoboticsMap/internal/openalex"
	"github.com/UditKarth/RoboticsMap/internal/storage"
)

func TestExitCodeFor(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"nil", nil, ExitSuccess},
		{"locked", fmt.Errorf("%w: /data/.lock", lock.ErrLocked), ExitLocked},
		{"invalid config", fmt.Errorf("%w: DataDir failed", config.ErrInvalidConfig), ExitConfigError},
		{"fetch", &openalex.FetchError{Cursor: "c2", Attempts: 5, Err: openalex.ErrNetworkError}, ExitFetchError},
		{"wrapped fetch", fmt.Errorf("walking: %w", &openalex.FetchError{Cursor: "*"}), ExitFetchError},
		{"cancelled before commit", &openalex.FetchError{Cursor: "c1", Err: context.Canceled}, ExitFetchError},
		{"institution lookup", fmt.Errorf("normalizing W1: %w", &openalex.FetchError{Resource: "institutions/I1", Err: errors.New("breaker is open")}), ExitFetchError},
		{"store", &storage.StoreWriteError{Op: "upsert paper", PaperID: "W1", Err: errors.New("disk full")}, ExitStoreError},
		{"export", &export.ExportError{Path: "institutions.json", Err: errors.New("read-only")}, ExitExportError},
		{"other", errors.New("boom"), ExitError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := exitCodeFor(tt.err); got != tt.want {
				t.Errorf("exitCodeFor(%v) = %d, want %d", tt.err, got, tt.want)
			}
		})
	}
}

func TestParseDateFlag(t *testing.T) {
	d, ok, err := parseDateFlag("until", "")
	if err != nil || ok {
		t.Fatalf("empty value: got ok=%v err=%v", ok, err)
	}
	if !d.IsZero() {
		t.Errorf("empty value: got %v, want zero date", d)
	}

	d, ok, err = parseDateFlag("until", "2024-02-29")
	if err != nil || !ok {
		t.Fatalf("valid value: got ok=%v err=%v", ok, err)
	}
	if d.String() != "2024-02-29" {
		t.Errorf("got %s, want 2024-02-29", d)
	}

	if _, _, err := parseDateFlag("from", "2024-13-01"); err == nil {
		t.Error("expected error for invalid month")
	}
	if _, _, err := parseDateFlag("from", "yesterday"); err == nil {
		t.Error("expected error for non-date")
	}
}

func TestLoadConfigFlagOverrides(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yml")
	content := "data_dir: " + filepath.Join(dir, "from-file") + "\nlogging:\n  level: warn\n  format: json\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("RMAP_DATA_DIR", "")
	t.Setenv("RMAP_LOG_LEVEL", "")

	oldConfig, oldDataDir, oldLevel := configPath, dataDirFlag, logLevel
	t.Cleanup(func() { configPath, dataDirFlag, logLevel = oldConfig, oldDataDir, oldLevel })

	configPath = path
	dataDirFlag = filepath.Join(dir, "from-flag")
	logLevel = "debug"

	cfg, err := loadConfig()
	if err != nil {
		t.Fatalf("loadConfig: %v", err)
	}
	if cfg.DataDir != filepath.Join(dir, "from-flag") {
		t.Errorf("DataDir = %q, want flag value", cfg.DataDir)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("Logging.Level = %q, want debug", cfg.Logging.Level)
	}
	if cfg.Logging.Format != "json" {
		t.Errorf("Logging.Format = %q, want json from file", cfg.Logging.Format)
	}

	logLevel = "verbose"
	if _, err := loadConfig(); !errors.Is(err, config.ErrInvalidConfig) {
		t.Errorf("invalid level: got %v, want ErrInvalidConfig", err)
	}
}
