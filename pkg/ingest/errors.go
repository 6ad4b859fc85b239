package ingest

import "errors"

var (
	// ErrQueueFull is returned by Submit when the job queue has no capacity.
	// The job is recorded as failed before the error is returned.
	ErrQueueFull = errors.New("queue full")

	// ErrClosed is returned by Submit after Close.
	ErrClosed = errors.New("runner closed")

	// ErrTooManyFailures fails a job after repeated timeouts or unreachable
	// provider errors.
	ErrTooManyFailures = errors.New("too many consecutive embedding failures")
)
