package jobs

// CheckTransition validates replacing prev with next. prev is nil when next
// creates the job.
//
// Progress is monotonic: completed units never decrease and never exceed the
// total, and a job only succeeds once every unit is done. States only move forward along
//
//	pending -> in_progress -> succeeded | failed
//	pending -> failed
//
// and terminal states are absorbing.
func CheckTransition(prev *Snapshot, next Snapshot) error {
	fail := func(from State, reason string) error {
		return &TransitionError{JobID: next.ID, From: from, To: next.State, Reason: reason}
	}

	if next.ID == "" {
		return fail("", "missing job id")
	}
	if !next.State.Valid() {
		return fail("", "unknown state")
	}
	if next.TotalUnits < 0 || next.CompletedUnits < 0 {
		return fail("", "negative progress")
	}
	if next.CompletedUnits > next.TotalUnits {
		return fail("", "completed units exceed total")
	}

	if next.State == StateSucceeded && next.CompletedUnits != next.TotalUnits {
		return fail("", "succeeded with work remaining")
	}

	if prev == nil {
		if next.State != StatePending {
			return fail("", "jobs are created pending")
		}
		return nil
	}

	from := prev.State
	if next.TotalUnits != prev.TotalUnits {
		return fail(from, "total units changed")
	}
	if next.CompletedUnits < prev.CompletedUnits {
		return fail(from, "completed units decreased")
	}

	switch from {
	case StatePending:
		if next.State == StateSucceeded {
			return fail(from, "job must start before it succeeds")
		}
	case StateInProgress:
		if next.State == StatePending {
			return fail(from, "job cannot return to pending")
		}
	case StateSucceeded, StateFailed:
		if next.State != from || next.CompletedUnits != prev.CompletedUnits {
			return fail(from, "job already finished")
		}
	}

	return nil
}
