package logger

import "log/slog"

// Attribute keys shared by every component that logs about a job.
const (
	KeyJobID      = "job_id"
	KeyDocumentID = "document_id"
)

// ForJob returns a child of l that tags every record with the job and the
// document it ingests.
func ForJob(l *slog.Logger, jobID, documentID string) *slog.Logger {
	return l.With(KeyJobID, jobID, KeyDocumentID, documentID)
}
