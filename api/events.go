package api

import (
	"bufio"
	"context"
	"encoding/json"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/papercomputeco/stacks/pkg/jobs"
	"github.com/papercomputeco/stacks/pkg/sse"
)

// Job stream event types.
const (
	EventProgress = "progress"
	EventDone     = "done"
	EventError    = "error"
)

// keepAliveTicks is the number of unchanged polls between keep-alive
// comments.
const keepAliveTicks = 20

// handleJobEvents handles GET /v1/jobs/:id/events. It streams a "progress"
// event whenever the job changes and a final "done" event once it is
// terminal, then closes the stream.
func (s *Server) handleJobEvents(c *fiber.Ctx) error {
	id := c.Params("id")
	snap, err := s.service.GetStatus(c.UserContext(), id)
	if err != nil {
		return c.Status(statusFor(err)).JSON(ErrorResponse{Error: err.Error()})
	}

	c.Set(fiber.HeaderContentType, "text/event-stream")
	c.Set(fiber.HeaderCacheControl, "no-cache")
	c.Set(fiber.HeaderConnection, "keep-alive")

	// The request context does not outlive the handler, the stream does.
	c.Context().SetBodyStreamWriter(func(w *bufio.Writer) {
		s.streamJob(context.Background(), w, snap, s.service.GetStatus)
	})
	return nil
}

// snapshotFunc loads the current snapshot of a job.
type snapshotFunc func(ctx context.Context, jobID string) (jobs.Snapshot, error)

// streamJob writes snap and every later change loaded through fetch. The
// terminal snapshot is always written, even when it carries the same
// UpdatedAt as the previous write.
func (s *Server) streamJob(ctx context.Context, w *bufio.Writer, snap jobs.Snapshot, fetch snapshotFunc) {
	ticker := time.NewTicker(s.config.EventInterval)
	defer ticker.Stop()

	var last time.Time
	idle := 0
	for {
		if !snap.UpdatedAt.Equal(last) || snap.State.Terminal() {
			if err := writeSnapshot(w, snap); err != nil {
				s.logger.Debug("job event stream closed", "job_id", snap.ID, "error", err)
				return
			}
			last = snap.UpdatedAt
			idle = 0
		} else if idle++; idle%keepAliveTicks == 0 {
			if err := sse.WriteComment(w, "keep-alive"); err != nil {
				return
			}
			if err := w.Flush(); err != nil {
				s.logger.Debug("job event stream closed", "job_id", snap.ID, "error", err)
				return
			}
		}

		if snap.State.Terminal() {
			return
		}

		select {
		case <-s.done:
			return
		case <-ticker.C:
		}

		next, err := fetch(ctx, snap.ID)
		if err != nil {
			// Swept, or the tracker failed.
			_ = sse.WriteEvent(w, sse.Event{Type: EventError, Data: err.Error()})
			_ = w.Flush()
			return
		}
		snap = next
	}
}

func writeSnapshot(w *bufio.Writer, snap jobs.Snapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return err
	}

	eventType := EventProgress
	if snap.State.Terminal() {
		eventType = EventDone
	}

	if err := sse.WriteEvent(w, sse.Event{
		Type: eventType,
		ID:   snap.UpdatedAt.UTC().Format(time.RFC3339Nano),
		Data: string(data),
	}); err != nil {
		return err
	}
	return w.Flush()
}
