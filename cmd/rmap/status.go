package main

import (
	"sort"
	"time"

	"github.com/spf13/cobra"
)

var statusRuns int

func init() {
	statusCmd.Flags().IntVar(&statusRuns, "runs", 5, "Number of recent runs to show")
	rootCmd.AddCommand(statusCmd)
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show store totals, watermark and recent runs",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		cfg := mustLoadConfig()
		db := mustOpenDatabase(cfg)
		defer db.Close()

		ctx := cmd.Context()
		resp := StatusResponse{DataDir: cfg.DataDir}

		snap, err := db.Snapshot(ctx)
		if err != nil {
			exitWithError(ExitStoreError, "reading store: %v", err)
		}
		resp.TotalPapers = snap.TotalPapers
		resp.TotalInstitutions = snap.TotalInstitutions
		resp.PapersByCountry = snap.PapersByCountry
		if snap.HasDates {
			resp.Earliest = snap.Earliest.String()
			resp.Latest = snap.Latest.String()
		}

		if resp.TotalLinks, err = db.CountLinks(ctx); err != nil {
			exitWithError(ExitStoreError, "counting links: %v", err)
		}
		if resp.Watermark, err = db.LoadWatermark(ctx); err != nil {
			exitWithError(ExitStoreError, "reading watermark: %v", err)
		}
		lastExport, err := db.LastExport(ctx)
		if err != nil {
			exitWithError(ExitStoreError, "reading last export: %v", err)
		}
		if !lastExport.IsZero() {
			resp.LastExport = lastExport.UTC().Format(time.RFC3339)
		}
		if resp.RecentRuns, err = db.RecentRuns(ctx, statusRuns); err != nil {
			exitWithError(ExitStoreError, "reading runs: %v", err)
		}

		if humanOutput {
			printStatus(resp)
			return
		}
		outputJSON(resp)
	},
}

func printStatus(resp StatusResponse) {
	outputHuman("Data dir:      %s\n", resp.DataDir)
	outputHuman("Watermark:     %s\n", orNone(resp.Watermark))
	outputHuman("Last export:   %s\n", orNone(resp.LastExport))
	outputHuman("Papers:        %d\n", resp.TotalPapers)
	outputHuman("Institutions:  %d\n", resp.TotalInstitutions)
	outputHuman("Links:         %d\n", resp.TotalLinks)
	if resp.Earliest != "" {
		outputHuman("Dates:         %s .. %s\n", resp.Earliest, resp.Latest)
	}

	if len(resp.PapersByCountry) > 0 {
		codes := make([]string, 0, len(resp.PapersByCountry))
		for code := range resp.PapersByCountry {
			codes = append(codes, code)
		}
		sort.Slice(codes, func(i, j int) bool {
			ci, cj := resp.PapersByCountry[codes[i]], resp.PapersByCountry[codes[j]]
			if ci != cj {
				return ci > cj
			}
			return codes[i] < codes[j]
		})
		if len(codes) > 10 {
			codes = codes[:10]
		}
		outputHuman("\nTop countries:\n")
		for _, code := range codes {
			outputHuman("  %s  %d\n", code, resp.PapersByCountry[code])
		}
	}

	if len(resp.RecentRuns) > 0 {
		outputHuman("\nRecent runs:\n")
		for _, r := range resp.RecentRuns {
			outputHuman("  %s  %-11s %-13s papers=%d", r.StartedAt.Format(time.RFC3339), r.Mode, r.State, r.Papers)
			if r.Error != "" {
				outputHuman("  error=%s", r.Error)
			}
			outputHuman("\n")
		}
	}
}

func orNone(s string) string {
	if s == "" {
		return "(none)"
	}
	return s
}
