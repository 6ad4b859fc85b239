package eventstream

import (
	"time"

	"github.com/papercomputeco/stacks/pkg/jobs"
)

const (
	// SchemaVersionV1 is the first version of the event payload schema.
	SchemaVersionV1 = 1

	// EventTypeJobUpdated is emitted after every job state or progress change.
	EventTypeJobUpdated = "stacks.job.updated"
)

// JobEvent is a transport-neutral event payload for an ingestion job update.
type JobEvent struct {
	SchemaVersion int           `json:"schema_version"`
	EventType     string        `json:"event_type"`
	EventID       string        `json:"event_id"`
	EmittedAt     time.Time     `json:"emitted_at"`
	Job           jobs.Snapshot `json:"job"`
}

// NewJobEvent wraps a job snapshot in a v1 event.
func NewJobEvent(id string, snap jobs.Snapshot, now time.Time) *JobEvent {
	return &JobEvent{
		SchemaVersion: SchemaVersionV1,
		EventType:     EventTypeJobUpdated,
		EventID:       id,
		EmittedAt:     now,
		Job:           snap,
	}
}
