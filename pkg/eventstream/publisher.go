// Package eventstream publishes ingestion job updates to an event stream so
// that other services can follow progress without polling.
package eventstream

import "context"

// Publisher publishes job events to an event stream backend.
type Publisher interface {
	PublishJob(ctx context.Context, event *JobEvent) error
	Close() error
}
