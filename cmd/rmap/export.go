package main

import (
	"errors"
	"time"

	"github.com/UditKarth/RoboticsMap/internal/config"
	"github.com/UditKarth/RoboticsMap/internal/export"
	"github.com/UditKarth/RoboticsMap/internal/lock"
	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(exportCmd)
}

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Regenerate institutions.json and meta.json from the store",
	Long: `Regenerate the exported documents from the current store without fetching.

Use this to recover after an update exited with code 5: ingestion was
committed but the documents were not replaced.`,
	Args: cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		cfg := mustLoadConfig()
		logger := newLogger(cfg)

		l, err := lock.Acquire(config.LockPath(cfg.DataDir))
		if err != nil {
			exitWithError(exitCodeFor(err), "%v", err)
		}
		defer l.Release()

		db := mustOpenDatabase(cfg)
		defer db.Close()

		ctx, stop := signalContext()
		defer stop()

		summary, err := export.New(db, cfg.DataDir, export.WithLogger(logger)).Export(ctx)
		if err != nil {
			var ee *export.ExportError
			if !errors.As(err, &ee) {
				err = &export.ExportError{Path: cfg.DataDir, Err: err}
			}
			l.Release()
			exitWithError(ExitExportError, "%v", err)
		}
		if err := db.SetLastExport(ctx, time.Now()); err != nil {
			logger.Warn().Err(err).Msg("recording export time")
		}

		if humanOutput {
			outputHuman("Exported %d institutions, %d papers\n", summary.Institutions, summary.Meta.TotalPapers)
			outputHuman("  %s\n  %s\n", summary.InstitutionsPath, summary.MetaPath)
			return
		}
		outputJSON(summary)
	},
}
