package apiclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/papercomputeco/stacks/api"
	"github.com/papercomputeco/stacks/pkg/jobs"
	"github.com/papercomputeco/stacks/pkg/sse"
)

// ErrStreamEnded is returned when a job event stream closes before the job
// reached a terminal state.
var ErrStreamEnded = errors.New("event stream ended before the job finished")

// WatchJob follows the job's event stream until the job reaches a terminal
// state or ctx is done. onUpdate, when set, sees every streamed snapshot.
func (c *Client) WatchJob(ctx context.Context, jobID string, onUpdate func(jobs.Snapshot)) (jobs.Snapshot, error) {
	u := *c.target
	u.Path = "/v1/jobs/" + url.PathEscape(jobID) + "/events"

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return jobs.Snapshot{}, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Accept", "text/event-stream")

	resp, err := c.stream.Do(req)
	if err != nil {
		return jobs.Snapshot{}, fmt.Errorf("failed to connect to stacks API at %s: %w", c.target.String(), err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(resp.Body)
		return jobs.Snapshot{}, newStatusError(resp.StatusCode, data)
	}

	var last jobs.Snapshot
	reader := sse.NewReader(resp.Body)
	for {
		ev, err := reader.Next()
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return last, ctxErr
			}
			return last, fmt.Errorf("reading job events: %w", err)
		}
		if ev == nil {
			return last, ErrStreamEnded
		}

		switch ev.Type {
		case api.EventProgress, api.EventDone:
			var snap jobs.Snapshot
			if err := json.Unmarshal([]byte(ev.Data), &snap); err != nil {
				return last, fmt.Errorf("parsing job event: %w", err)
			}
			last = snap
			if onUpdate != nil {
				onUpdate(snap)
			}
			if snap.State.Terminal() {
				return snap, nil
			}

		case api.EventError:
			return last, fmt.Errorf("job %s: %s", jobID, ev.Data)
		}
	}
}
