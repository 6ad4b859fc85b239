package jobs

import (
	"context"
	"sync"
	"time"
)

// MemoryTrackerConfig configures NewMemoryTracker.
type MemoryTrackerConfig struct {
	// Retention defaults to DefaultRetention.
	Retention time.Duration

	// Now overrides the clock, for tests.
	Now func() time.Time
}

// MemoryTracker is an in-process Tracker. Expired jobs are evicted lazily on
// Get and in bulk by Sweep.
type MemoryTracker struct {
	mu        sync.RWMutex
	jobs      map[string]Snapshot
	retention time.Duration
	now       func() time.Time
}

// NewMemoryTracker creates an empty in-memory tracker.
func NewMemoryTracker(c MemoryTrackerConfig) *MemoryTracker {
	t := &MemoryTracker{
		jobs:      make(map[string]Snapshot),
		retention: c.Retention,
		now:       c.Now,
	}
	if t.retention <= 0 {
		t.retention = DefaultRetention
	}
	if t.now == nil {
		t.now = time.Now
	}
	return t
}

func (t *MemoryTracker) Put(_ context.Context, next Snapshot) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	var prev *Snapshot
	if cur, ok := t.jobs[next.ID]; ok {
		prev = &cur
	}
	if err := CheckTransition(prev, next); err != nil {
		return err
	}

	t.jobs[next.ID] = next
	return nil
}

func (t *MemoryTracker) Get(_ context.Context, id string) (Snapshot, error) {
	t.mu.RLock()
	snap, ok := t.jobs[id]
	t.mu.RUnlock()

	if !ok {
		return Snapshot{}, ErrNotFound
	}

	if snap.Expired(t.now().Add(-t.retention)) {
		t.mu.Lock()
		// Re-check under the write lock; the job may have been replaced.
		if cur, ok := t.jobs[id]; ok && cur.Expired(t.now().Add(-t.retention)) {
			delete(t.jobs, id)
		}
		t.mu.Unlock()
		return Snapshot{}, ErrNotFound
	}

	return snap, nil
}

func (t *MemoryTracker) Sweep(_ context.Context) (int, error) {
	cutoff := t.now().Add(-t.retention)

	t.mu.Lock()
	defer t.mu.Unlock()

	removed := 0
	for id, snap := range t.jobs {
		if snap.Expired(cutoff) {
			delete(t.jobs, id)
			removed++
		}
	}
	return removed, nil
}

// Len returns the number of tracked jobs, expired ones included.
func (t *MemoryTracker) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.jobs)
}

func (t *MemoryTracker) Close() error {
	return nil
}

var _ Tracker = (*MemoryTracker)(nil)
