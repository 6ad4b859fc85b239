package pipeline

import "errors"

var (
	// ErrInvalidDocument is returned by Submit for documents without an id.
	ErrInvalidDocument = errors.New("invalid document")

	// ErrEmptyQuery is returned by AssembleContext for blank queries.
	ErrEmptyQuery = errors.New("empty query")
)
