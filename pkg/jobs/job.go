// Package jobs holds the ingestion job model, its lifecycle rules and the
// trackers that make job progress observable to pollers.
package jobs

import "time"

// State is a job lifecycle state.
type State string

const (
	StatePending    State = "pending"
	StateInProgress State = "in_progress"
	StateSucceeded  State = "succeeded"
	StateFailed     State = "failed"
)

// Terminal reports whether no further transitions are allowed.
func (s State) Terminal() bool {
	return s == StateSucceeded || s == StateFailed
}

// Valid reports whether s is one of the known states.
func (s State) Valid() bool {
	switch s {
	case StatePending, StateInProgress, StateSucceeded, StateFailed:
		return true
	default:
		return false
	}
}

// Mode records whether a job produced real embeddings.
type Mode string

const (
	ModeReal      Mode = "real"
	ModeSimulated Mode = "simulated"
)

// Summary counts what happened to a job's passages.
type Summary struct {
	Attempted int `json:"attempted"`
	Embedded  int `json:"embedded"`
	Skipped   int `json:"skipped"`
	Upserted  int `json:"upserted"`
}

// Snapshot is a point-in-time copy of a job. Trackers store and return
// snapshots by value so readers never observe a half-applied update.
type Snapshot struct {
	ID             string  `json:"job_id"`
	DocumentID     string  `json:"document_id"`
	TotalUnits     int     `json:"total_units"`
	CompletedUnits int     `json:"completed_units"`
	State          State   `json:"state"`
	Status         string  `json:"status,omitempty"`
	Mode           Mode    `json:"mode,omitempty"`
	Summary        Summary `json:"summary"`
	Error          string  `json:"error,omitempty"`

	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
	StartedAt  *time.Time `json:"started_at,omitempty"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}

// Percent is the completed share of the job, 0-100. A job with no units is
// complete once it has succeeded.
func (s Snapshot) Percent() int {
	if s.TotalUnits == 0 {
		if s.State == StateSucceeded {
			return 100
		}
		return 0
	}
	return s.CompletedUnits * 100 / s.TotalUnits
}

// NewSnapshot returns a pending job for documentID with total units of work.
func NewSnapshot(id, documentID string, total int, now time.Time) Snapshot {
	return Snapshot{
		ID:         id,
		DocumentID: documentID,
		TotalUnits: total,
		State:      StatePending,
		Status:     "queued",
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}

// Expired reports whether a terminal snapshot finished before cutoff.
func (s Snapshot) Expired(cutoff time.Time) bool {
	return s.State.Terminal() && s.FinishedAt != nil && s.FinishedAt.Before(cutoff)
}
