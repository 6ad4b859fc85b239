package embeddings

import (
	"errors"

	"github.com/papercomputeco/stacks/pkg/gateway"
)

var (
	// ErrNotConfigured is returned when an embedding provider is missing the
	// credentials or endpoint it needs. Callers fall back to simulation.
	ErrNotConfigured = gateway.NewError("embeddings", gateway.KindNotConfigured, errors.New("embedding provider not configured"))

	// ErrEmptyResponse is returned when a provider answers without vectors.
	ErrEmptyResponse = errors.New("no embeddings returned")

	// ErrCountMismatch is returned when a batch response does not line up
	// with its inputs.
	ErrCountMismatch = errors.New("embedding count does not match input count")
)
