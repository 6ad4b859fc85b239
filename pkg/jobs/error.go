package jobs

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned for unknown or evicted job ids.
	ErrNotFound = errors.New("job not found")

	// ErrInvalidTransition is matched by every TransitionError.
	ErrInvalidTransition = errors.New("invalid job transition")
)

// TransitionError describes a rejected tracker write.
type TransitionError struct {
	JobID  string
	From   State
	To     State
	Reason string
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("job %s: %s -> %s: %s", e.JobID, e.From, e.To, e.Reason)
}

func (e *TransitionError) Unwrap() error {
	return ErrInvalidTransition
}
