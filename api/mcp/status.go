package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/papercomputeco/stacks/pkg/jobs"
)

var (
	jobStatusToolName    = "job_status"
	jobStatusDescription = "Report the progress of a document ingestion job: its state (pending, in_progress, succeeded, failed), completed and total passages, and the failure summary when it failed."
)

// JobStatusInput represents the input arguments for the job_status tool.
type JobStatusInput struct {
	JobID string `json:"job_id" jsonschema:"the job id returned when the document was submitted"`
}

// JobStatusOutput represents the output of the job_status tool. Timestamps
// are RFC 3339 strings.
type JobStatusOutput struct {
	JobID          string `json:"job_id"`
	DocumentID     string `json:"document_id"`
	State          string `json:"state"`
	Status         string `json:"status,omitempty"`
	Mode           string `json:"mode,omitempty"`
	CompletedUnits int    `json:"completed_units"`
	TotalUnits     int    `json:"total_units"`
	Percent        int    `json:"percent"`
	Embedded       int    `json:"embedded"`
	Skipped        int    `json:"skipped"`
	Error          string `json:"error,omitempty"`
	UpdatedAt      string `json:"updated_at"`
}

// handleJobStatus processes a job_status request.
func (s *Server) handleJobStatus(ctx context.Context, _ *mcp.CallToolRequest, input JobStatusInput) (*mcp.CallToolResult, JobStatusOutput, error) {
	if input.JobID == "" {
		return toolError("job_id is required"), JobStatusOutput{}, nil
	}

	snap, err := s.config.Service.GetStatus(ctx, input.JobID)
	if err != nil {
		if errors.Is(err, jobs.ErrNotFound) {
			return toolError("Job %s not found", input.JobID), JobStatusOutput{}, nil
		}
		s.config.Logger.Error("failed to get job status", "job_id", input.JobID, "error", err)
		return toolError("Failed to get job status: %v", err), JobStatusOutput{}, nil
	}

	output := newJobStatusOutput(snap)

	jsonBytes, err := json.Marshal(output)
	if err != nil {
		return toolError("Failed to serialize job status: %v", err), JobStatusOutput{}, nil
	}

	return &mcp.CallToolResult{
		Content: []mcp.Content{
			&mcp.TextContent{Text: string(jsonBytes)},
		},
	}, output, nil
}

func newJobStatusOutput(snap jobs.Snapshot) JobStatusOutput {
	return JobStatusOutput{
		JobID:          snap.ID,
		DocumentID:     snap.DocumentID,
		State:          string(snap.State),
		Status:         snap.Status,
		Mode:           string(snap.Mode),
		CompletedUnits: snap.CompletedUnits,
		TotalUnits:     snap.TotalUnits,
		Percent:        snap.Percent(),
		Embedded:       snap.Summary.Embedded,
		Skipped:        snap.Summary.Skipped,
		Error:          snap.Error,
		UpdatedAt:      snap.UpdatedAt.Format(time.RFC3339),
	}
}
