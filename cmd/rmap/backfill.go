package main

import (
	"github.com/UditKarth/RoboticsMap/internal/watermark"
	"github.com/spf13/cobra"
)

var (
	backfillFrom     string
	backfillUntil    string
	backfillNoExport bool
)

func init() {
	backfillCmd.Flags().StringVar(&backfillFrom, "from", "", "First publication date to fetch (default ingest.backfill_from)")
	backfillCmd.Flags().StringVar(&backfillUntil, "until", "", "Last publication date to fetch (default today, UTC)")
	backfillCmd.Flags().BoolVar(&backfillNoExport, "no-export", false, "Skip regenerating the exported documents")
	rootCmd.AddCommand(backfillCmd)
}

var backfillCmd = &cobra.Command{
	Use:   "backfill",
	Short: "Fetch every robotics paper in the historical window",
	Long: `Fetch every robotics paper published between the backfill start date and
--until, upsert it into the store, then export.

Re-running a backfill is safe: papers, institutions and links are upserted,
and the watermark only ever moves forward.

Examples:
  rmap backfill
  rmap backfill --from 2023-01-01 --until 2023-12-31 --no-export`,
	Args: cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		runIngest(ingestRequest{
			mode:       watermark.Backfill,
			from:       backfillFrom,
			until:      backfillUntil,
			skipExport: backfillNoExport,
		})
	},
}
