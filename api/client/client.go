// Package apiclient is the HTTP client the stacks CLI uses to talk to a
// running stacks API server.
package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/papercomputeco/stacks/api"
	"github.com/papercomputeco/stacks/pkg/document"
	"github.com/papercomputeco/stacks/pkg/jobs"
	"github.com/papercomputeco/stacks/pkg/retrieval"
)

const defaultTimeout = 30 * time.Second

// ErrNotFound is returned for 404 responses.
var ErrNotFound = errors.New("not found")

// StatusError is a non-2xx response.
type StatusError struct {
	StatusCode int
	Message    string

	// JobID is set when the server recorded the rejected submission as a job.
	JobID string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("request failed (HTTP %d): %s", e.StatusCode, e.Message)
}

func (e *StatusError) Unwrap() error {
	if e.StatusCode == http.StatusNotFound {
		return ErrNotFound
	}
	return nil
}

// Client calls the stacks API at a base URL.
type Client struct {
	target *url.URL
	http   *http.Client

	// stream has no overall timeout; event streams last as long as the job.
	stream *http.Client
}

// New creates a client for apiTarget, e.g. "http://localhost:8080".
func New(apiTarget string) (*Client, error) {
	u, err := url.Parse(apiTarget)
	if err != nil {
		return nil, fmt.Errorf("invalid API target URL: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid API target URL %q: scheme and host are required", apiTarget)
	}

	return &Client{
		target: u,
		http:   &http.Client{Timeout: defaultTimeout},
		stream: &http.Client{},
	}, nil
}

// SubmitDocument posts doc for ingestion and returns the job id.
func (c *Client) SubmitDocument(ctx context.Context, doc document.Document) (string, error) {
	var out api.SubmitResponse
	if err := c.do(ctx, http.MethodPost, "/v1/documents", doc, &out); err != nil {
		return "", err
	}
	return out.JobID, nil
}

// GetJob returns the latest snapshot of a job.
func (c *Client) GetJob(ctx context.Context, jobID string) (jobs.Snapshot, error) {
	var snap jobs.Snapshot
	err := c.do(ctx, http.MethodGet, "/v1/jobs/"+url.PathEscape(jobID), nil, &snap)
	return snap, err
}

// CancelJob asks the server to stop a job. It reports whether a running or
// queued job was cancelled.
func (c *Client) CancelJob(ctx context.Context, jobID string) (bool, error) {
	var out api.CancelResponse
	if err := c.do(ctx, http.MethodPost, "/v1/jobs/"+url.PathEscape(jobID)+"/cancel", nil, &out); err != nil {
		return false, err
	}
	return out.Cancelled, nil
}

// RetireDocument deletes every stored passage of documentID.
func (c *Client) RetireDocument(ctx context.Context, documentID string) error {
	return c.do(ctx, http.MethodDelete, "/v1/documents/"+url.PathEscape(documentID), nil, nil)
}

// AssembleContext requests a retrieval context for req.
func (c *Client) AssembleContext(ctx context.Context, req api.ContextRequest) (retrieval.Context, error) {
	var out retrieval.Context
	err := c.do(ctx, http.MethodPost, "/v1/context", req, &out)
	return out, err
}

// WaitForJob polls the job every interval until it reaches a terminal state
// or ctx is done. onUpdate, when set, sees every polled snapshot.
func (c *Client) WaitForJob(ctx context.Context, jobID string, interval time.Duration, onUpdate func(jobs.Snapshot)) (jobs.Snapshot, error) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		snap, err := c.GetJob(ctx, jobID)
		if err != nil {
			return snap, err
		}
		if onUpdate != nil {
			onUpdate(snap)
		}
		if snap.State.Terminal() {
			return snap, nil
		}

		select {
		case <-ctx.Done():
			return snap, ctx.Err()
		case <-ticker.C:
		}
	}
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	u := *c.target
	u.Path = path

	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encoding request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("failed to connect to stacks API at %s: %w", c.target.String(), err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return newStatusError(resp.StatusCode, data)
	}

	if out == nil || len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}
	return nil
}

func newStatusError(code int, body []byte) *StatusError {
	serr := &StatusError{StatusCode: code, Message: string(body)}
	var apiErr api.ErrorResponse
	if json.Unmarshal(body, &apiErr) == nil && apiErr.Error != "" {
		serr.Message = apiErr.Error
		serr.JobID = apiErr.JobID
	}
	return serr
}
