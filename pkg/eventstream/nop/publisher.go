package nop

import (
	"context"

	"github.com/papercomputeco/stacks/pkg/eventstream"
)

// Publisher is a no-op eventstream publisher used for tests and disabled mode.
type Publisher struct{}

// NewPublisher creates a new no-op eventstream publisher.
func NewPublisher() *Publisher {
	return &Publisher{}
}

// PublishJob validates input and otherwise does nothing.
func (p *Publisher) PublishJob(_ context.Context, event *eventstream.JobEvent) error {
	if event == nil {
		return eventstream.ErrNilJobEvent
	}

	return nil
}

// Close is a no-op.
func (p *Publisher) Close() error {
	return nil
}
