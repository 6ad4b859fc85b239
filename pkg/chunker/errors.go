package chunker

import (
	"errors"
	"fmt"
)

// ErrInvalidSize is matched by every ValidationError.
var ErrInvalidSize = errors.New("invalid chunk size")

// ValidationError reports malformed chunking parameters. It is returned
// synchronously and never reaches the ingest runner.
type ValidationError struct {
	Field  string
	Value  int
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("chunker: %s %d %s", e.Field, e.Value, e.Reason)
}

func (e *ValidationError) Unwrap() error {
	return ErrInvalidSize
}
