package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/UditKarth/RoboticsMap/internal/config"
	"github.com/UditKarth/RoboticsMap/internal/storage"
)

// outputJSON writes a value as formatted JSON to stdout.
func outputJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// outputHuman writes a human-readable string to stdout.
func outputHuman(format string, args ...interface{}) {
	fmt.Printf(format, args...)
}

// exitWithError outputs an error in the appropriate format (human or JSON) and exits.
func exitWithError(code int, format string, args ...interface{}) {
	msg := fmt.Sprintf(format, args...)
	if humanOutput {
		fmt.Fprintf(os.Stderr, "error: %s\n", msg)
	} else {
		outputJSON(ErrorResponse{Error: msg, Code: code})
	}
	os.Exit(code)
}

// ErrorResponse is a JSON error response.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  int    `json:"exit_code"`
}

// ConfigResponse is the response for the config command.
type ConfigResponse struct {
	Path   string         `json:"path"`
	Exists bool           `json:"exists"`
	Config *config.Config `json:"config"`
}

// StatusResponse is the response for the status command.
type StatusResponse struct {
	DataDir           string              `json:"data_dir"`
	Watermark         string              `json:"watermark,omitempty"`
	LastExport        string              `json:"last_export,omitempty"`
	TotalPapers       int                 `json:"total_papers"`
	TotalInstitutions int                 `json:"total_institutions"`
	TotalLinks        int                 `json:"total_links"`
	Earliest          string              `json:"earliest_publication_date,omitempty"`
	Latest            string              `json:"latest_publication_date,omitempty"`
	PapersByCountry   map[string]int      `json:"papers_by_country"`
	RecentRuns        []storage.RunRecord `json:"recent_runs"`
}
