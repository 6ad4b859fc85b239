package jobs

import (
	"context"
	"time"
)

// DefaultRetention is how long finished jobs stay readable.
const DefaultRetention = time.Hour

// Tracker stores job snapshots. Writers are the ingest runner; readers poll
// from request handlers, possibly in another process.
type Tracker interface {
	// Put stores next after validating it against the stored snapshot with
	// CheckTransition. The check and the write are atomic.
	Put(ctx context.Context, next Snapshot) error

	// Get returns a copy of the job, or ErrNotFound.
	Get(ctx context.Context, id string) (Snapshot, error)

	// Sweep evicts finished jobs older than the retention period and
	// returns how many were removed.
	Sweep(ctx context.Context) (int, error)

	// Close releases any resources held by the tracker.
	Close() error
}
