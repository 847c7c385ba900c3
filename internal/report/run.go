package report

import (
	"maps"
	"slices"
	"time"

	"github.com/nao1215/darkwatch/internal/model"
	"github.com/nao1215/darkwatch/internal/pipeline"
)

// Run is the summary of one crawl run.
type Run struct {
	Version     string    `json:"version,omitempty"`
	RunID       string    `json:"run_id"`
	StartedAt   time.Time `json:"started_at"`
	FinishedAt  time.Time `json:"finished_at"`
	Interrupted bool      `json:"interrupted"`

	// Outputs are where the run wrote its results.
	Outputs Outputs `json:"outputs"`

	// Stored holds the database totals across every run. It is nil
	// without a database.
	Stored *Stored `json:"stored,omitempty"`

	Forums []Forum        `json:"forums"`
	Totals model.Counters `json:"totals"`
}

// Outputs lists the files a run produced. Empty fields were disabled.
type Outputs struct {
	PostLog       string `json:"post_log"`
	Database      string `json:"database,omitempty"`
	Checkpoint    string `json:"checkpoint,omitempty"`
	QuarantineDir string `json:"quarantine_dir,omitempty"`
	Archive       string `json:"archive,omitempty"`
}

// Stored counts what the database holds after the run.
type Stored struct {
	Posts       int            `json:"posts"`
	Quarantined int            `json:"quarantined"`
	Indicators  map[string]int `json:"indicators,omitempty"`
}

// Forum is the outcome of one forum.
type Forum struct {
	Key         string           `json:"forum"`
	Engine      string           `json:"engine"`
	State       model.ForumState `json:"state"`
	Skipped     bool             `json:"skipped,omitempty"`
	AbortReason string           `json:"abort_reason,omitempty"`
	Error       string           `json:"error,omitempty"`
	Counters    model.Counters   `json:"counters"`
}

// FromSummary builds a Run from the scheduler's summary.
func FromSummary(s *pipeline.Summary, version string, out Outputs) *Run {
	r := &Run{
		Version:     version,
		RunID:       s.RunID,
		StartedAt:   s.StartedAt,
		FinishedAt:  s.FinishedAt,
		Interrupted: s.Interrupted,
		Outputs:     out,
		Forums:      make([]Forum, 0, len(s.Forums)),
		Totals:      s.Totals(),
	}
	for _, o := range s.Forums {
		f := Forum{
			Key:     o.Forum,
			Engine:  o.Engine.String(),
			Skipped: o.Skipped,
			State:   model.StatePending,
		}
		if o.Checkpoint != nil {
			f.State = o.Checkpoint.State
			f.AbortReason = o.Checkpoint.AbortReason
			f.Counters = o.Checkpoint.Counters
		}
		if o.Err != nil {
			f.Error = o.Err.Error()
		}
		r.Forums = append(r.Forums, f)
	}
	return r
}

// Elapsed is the wall time of the run.
func (r *Run) Elapsed() time.Duration {
	return r.FinishedAt.Sub(r.StartedAt)
}

// Aborted returns the number of forums that ended aborted.
func (r *Run) Aborted() int {
	n := 0
	for _, f := range r.Forums {
		if f.State == model.StateAborted {
			n++
		}
	}
	return n
}

// sortedKeys returns the keys of m in a stable order for rendering.
func sortedKeys(m map[string]int) []string {
	return slices.Sorted(maps.Keys(m))
}
