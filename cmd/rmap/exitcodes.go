package main

import (
	"errors"

	"github.com/UditKarth/RoboticsMap/internal/config"
	"github.com/UditKarth/RoboticsMap/internal/export"
	"github.com/UditKarth/RoboticsMap/internal/lock"
	"github.com/UditKarth/RoboticsMap/internal/openalex"
	"github.com/UditKarth/RoboticsMap/internal/storage"
)

// Exit codes reported to the scheduler.
const (
	ExitSuccess     = 0 // Success
	ExitError       = 1 // General error (invalid arguments, runtime failure)
	ExitConfigError = 2 // Configuration error (unreadable or invalid config)
	ExitFetchError  = 3 // Upstream fetch failed after retries, run aborted
	ExitStoreError  = 4 // Store write failed, run aborted
	ExitExportError = 5 // Export failed, ingestion already committed
	ExitLocked      = 6 // Another run holds the data directory lock
)

// exitCodeFor maps a run error to its exit code.
func exitCodeFor(err error) int {
	var (
		fetchErr  *openalex.FetchError
		storeErr  *storage.StoreWriteError
		exportErr *export.ExportError
	)

	switch {
	case err == nil:
		return ExitSuccess
	case errors.Is(err, lock.ErrLocked):
		return ExitLocked
	case errors.Is(err, config.ErrInvalidConfig):
		return ExitConfigError
	case errors.As(err, &fetchErr):
		return ExitFetchError
	case errors.As(err, &storeErr):
		return ExitStoreError
	case errors.As(err, &exportErr):
		return ExitExportError
	default:
		return ExitError
	}
}
