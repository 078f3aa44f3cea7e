package syncer

import (
	"time"

	"github.com/italolelis/puttr/internal/storage"
	"github.com/italolelis/puttr/internal/transfer"
)

// ActionCounts tallies one action category of a cycle.
type ActionCounts struct {
	Planned   int `json:"planned"`
	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`
}

func (c *ActionCounts) tally(outcomes []transfer.Outcome) {
	failed := transfer.CountFailed(outcomes)

	c.Failed += failed
	c.Succeeded += len(outcomes) - failed
}

// CycleReport summarizes one sync cycle.
type CycleReport struct {
	CycleID        string       `json:"cycle_id"`
	StartedAt      time.Time    `json:"started_at"`
	FinishedAt     time.Time    `json:"finished_at"`
	Moves          ActionCounts `json:"moves"`
	Deletes        ActionCounts `json:"deletes"`
	Downloads      ActionCounts `json:"downloads"`
	Published      bool         `json:"published"`
	PublishedFiles int          `json:"published_files"`
	PrunedPartials int          `json:"pruned_partials"`
	Error          string       `json:"error,omitempty"`

	Outcomes []transfer.Outcome `json:"-"`
}

// Failed returns the number of actions that ended in error.
func (r *CycleReport) Failed() int {
	return r.Moves.Failed + r.Deletes.Failed + r.Downloads.Failed
}

// Duration is the wall time of the cycle.
func (r *CycleReport) Duration() time.Duration {
	return r.FinishedAt.Sub(r.StartedAt)
}

func (r *CycleReport) record() storage.CycleRecord {
	return storage.CycleRecord{
		ID:             r.CycleID,
		StartedAt:      r.StartedAt,
		FinishedAt:     r.FinishedAt,
		Moves:          r.Moves.Succeeded,
		Deletes:        r.Deletes.Succeeded,
		Downloads:      r.Downloads.Succeeded,
		Failed:         r.Failed(),
		Published:      r.Published,
		PublishedFiles: r.PublishedFiles,
		Error:          r.Error,
	}
}
