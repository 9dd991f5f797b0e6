package main

import (
	"github.com/UditKarth/RoboticsMap/internal/watermark"
	"github.com/spf13/cobra"
)

var (
	updateUntil    string
	updateNoExport bool
)

func init() {
	updateCmd.Flags().StringVar(&updateUntil, "until", "", "Last publication date to fetch (default today, UTC)")
	updateCmd.Flags().BoolVar(&updateNoExport, "no-export", false, "Skip regenerating the exported documents")
	rootCmd.AddCommand(updateCmd)
}

var updateCmd = &cobra.Command{
	Use:   "update",
	Short: "Fetch papers published after the watermark",
	Long: `Fetch papers published strictly after the last committed publication date,
then export. Without a watermark this behaves like a backfill.

Intended to be invoked by cron or CI. Exit codes:
  0  success
  2  configuration error
  3  fetch failed (run aborted, watermark unchanged)
  4  store write failed (run aborted, watermark unchanged)
  5  export failed (ingestion committed, retry with 'rmap export')
  6  another run holds the lock`,
	Args: cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		runIngest(ingestRequest{
			mode:       watermark.Incremental,
			until:      updateUntil,
			skipExport: updateNoExport,
		})
	},
}
