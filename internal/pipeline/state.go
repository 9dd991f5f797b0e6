// Package pipeline runs one ingestion pass: fetch pages, normalize, commit
// each page, advance the watermark, then export.
package pipeline

import (
	"time"

	"github.com/UditKarth/RoboticsMap/internal/export"
	"github.com/UditKarth/RoboticsMap/internal/watermark"
)

// State is a step of the run state machine.
type State string

const (
	Idle         State = "idle"
	Fetching     State = "fetching"
	Writing      State = "writing"
	Committed    State = "committed"
	Exporting    State = "exporting"
	Done         State = "done"
	Aborted      State = "aborted"
	ExportFailed State = "export_failed"
)

// Terminal reports whether no further transitions follow s.
func (s State) Terminal() bool {
	return s == Done || s == Aborted || s == ExportFailed
}

// transitions lists the legal successors of each state.
var transitions = map[State][]State{
	Idle:      {Fetching, Aborted},
	Fetching:  {Writing, Committed, Aborted},
	Writing:   {Fetching, Aborted},
	Committed: {Exporting, Done, Aborted},
	Exporting: {Done, ExportFailed},
}

// CanTransition reports whether from -> to is a legal step.
func CanTransition(from, to State) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Result summarizes a run.
type Result struct {
	RunID string         `json:"run_id"`
	Mode  watermark.Mode `json:"mode"`
	State State          `json:"state"`

	Window  watermark.Window `json:"window"`
	Skipped bool             `json:"skipped,omitempty"` // window was empty

	Pages               int `json:"pages"`
	Records             int `json:"records"`
	Papers              int `json:"papers"`
	Malformed           int `json:"malformed"`
	DroppedInstitutions int `json:"dropped_institutions"`

	PreviousWatermark string `json:"previous_watermark,omitempty"`
	Watermark         string `json:"watermark,omitempty"`

	Export   *export.Summary `json:"export,omitempty"`
	Error    string          `json:"error,omitempty"`
	Duration time.Duration   `json:"duration_ns"`
}
