package api

import (
	"errors"

	"github.com/gofiber/fiber/v2"

	"github.com/papercomputeco/stacks/pkg/chunker"
	"github.com/papercomputeco/stacks/pkg/document"
	"github.com/papercomputeco/stacks/pkg/gateway"
	"github.com/papercomputeco/stacks/pkg/ingest"
	"github.com/papercomputeco/stacks/pkg/jobs"
	"github.com/papercomputeco/stacks/pkg/pipeline"
	"github.com/papercomputeco/stacks/pkg/retrieval"
	"github.com/papercomputeco/stacks/pkg/vector"
)

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error string `json:"error"`

	// JobID is set when a submission was recorded as a failed job.
	JobID string `json:"job_id,omitempty"`
}

// SubmitResponse is returned by POST /v1/documents.
type SubmitResponse struct {
	JobID string `json:"job_id"`
}

// CancelResponse is returned by POST /v1/jobs/:id/cancel.
type CancelResponse struct {
	JobID     string `json:"job_id"`
	Cancelled bool   `json:"cancelled"`
}

// ContextRequest is the body of POST /v1/context. Omitted bounds fall back to
// the server's configured retrieval defaults.
type ContextRequest struct {
	Query           string   `json:"query"`
	MaxPassages     int      `json:"max_passages,omitempty"`
	MaxContextChars int      `json:"max_context_chars,omitempty"`
	DocumentIDs     []string `json:"document_ids,omitempty"`
}

// handlePing returns a simple health check response.
func (s *Server) handlePing(c *fiber.Ctx) error {
	return c.JSON("pong")
}

// handleSubmitDocument handles POST /v1/documents.
func (s *Server) handleSubmitDocument(c *fiber.Ctx) error {
	var doc document.Document
	if err := c.BodyParser(&doc); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(ErrorResponse{
			Error: "invalid request body",
		})
	}

	id, err := s.service.Submit(c.UserContext(), doc)
	if err != nil {
		s.logger.Warn("document submission rejected",
			"document_id", doc.ID,
			"error", err,
		)
		return c.Status(statusFor(err)).JSON(ErrorResponse{
			Error: err.Error(),
			JobID: id,
		})
	}

	return c.Status(fiber.StatusAccepted).JSON(SubmitResponse{JobID: id})
}

// handleRetireDocument handles DELETE /v1/documents/:id.
func (s *Server) handleRetireDocument(c *fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return c.Status(fiber.StatusBadRequest).JSON(ErrorResponse{
			Error: "id parameter is required",
		})
	}

	if err := s.service.RetireDocument(c.UserContext(), id); err != nil {
		s.logger.Error("failed to retire document", "document_id", id, "error", err)
		return c.Status(statusFor(err)).JSON(ErrorResponse{Error: err.Error()})
	}

	return c.SendStatus(fiber.StatusNoContent)
}

// handleGetJob handles GET /v1/jobs/:id. Failed jobs are reported with 200
// and their failure summary; only unknown or evicted jobs are 404.
func (s *Server) handleGetJob(c *fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return c.Status(fiber.StatusBadRequest).JSON(ErrorResponse{
			Error: "id parameter is required",
		})
	}

	snap, err := s.service.GetStatus(c.UserContext(), id)
	if err != nil {
		return c.Status(statusFor(err)).JSON(ErrorResponse{Error: err.Error()})
	}

	return c.JSON(snap)
}

// handleCancelJob handles POST /v1/jobs/:id/cancel.
func (s *Server) handleCancelJob(c *fiber.Ctx) error {
	id := c.Params("id")

	if _, err := s.service.GetStatus(c.UserContext(), id); err != nil {
		return c.Status(statusFor(err)).JSON(ErrorResponse{Error: err.Error()})
	}

	return c.JSON(CancelResponse{
		JobID:     id,
		Cancelled: s.service.CancelJob(id),
	})
}

// handleAssembleContext handles POST /v1/context.
func (s *Server) handleAssembleContext(c *fiber.Ctx) error {
	var req ContextRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(ErrorResponse{
			Error: "invalid request body",
		})
	}

	opts := retrieval.Options{
		MaxPassages:     req.MaxPassages,
		MaxContextChars: req.MaxContextChars,
	}
	if len(req.DocumentIDs) > 0 {
		opts.Filter = &vector.Filter{DocumentIDs: req.DocumentIDs}
	}

	out, err := s.service.AssembleContext(c.UserContext(), req.Query, opts.Merge(s.config.Retrieval))
	if err != nil {
		s.logger.Error("failed to assemble context", "error", err)
		return c.Status(statusFor(err)).JSON(ErrorResponse{Error: err.Error()})
	}

	if out.Passages == nil {
		out.Passages = []retrieval.Passage{}
	}
	return c.JSON(out)
}

// statusFor maps service errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, pipeline.ErrInvalidDocument),
		errors.Is(err, pipeline.ErrEmptyQuery),
		errors.Is(err, chunker.ErrInvalidSize),
		errors.Is(err, retrieval.ErrInvalidOptions):
		return fiber.StatusBadRequest

	case errors.Is(err, jobs.ErrNotFound):
		return fiber.StatusNotFound

	case errors.Is(err, ingest.ErrQueueFull),
		errors.Is(err, ingest.ErrClosed):
		return fiber.StatusServiceUnavailable
	}

	switch gateway.KindOf(err) {
	case gateway.KindInvalidInput:
		return fiber.StatusBadRequest
	case gateway.KindTimeout:
		return fiber.StatusGatewayTimeout
	case gateway.KindUnavailable, gateway.KindServerError, gateway.KindRateLimited, gateway.KindUnauthorized, gateway.KindNotConfigured:
		return fiber.StatusBadGateway
	default:
		return fiber.StatusInternalServerError
	}
}
