// Package pipeline wires the chunker, the ingest runner, the job tracker and
// the retrieval assembler behind the submission and query API used by the
// HTTP and MCP surfaces.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/papercomputeco/stacks/pkg/chunker"
	"github.com/papercomputeco/stacks/pkg/document"
	"github.com/papercomputeco/stacks/pkg/embeddings"
	"github.com/papercomputeco/stacks/pkg/ingest"
	"github.com/papercomputeco/stacks/pkg/jobs"
	"github.com/papercomputeco/stacks/pkg/logger"
	"github.com/papercomputeco/stacks/pkg/retrieval"
	"github.com/papercomputeco/stacks/pkg/vector"
)

// Config holds the collaborators of a Service. The Service takes ownership
// of all of them and closes them in Close.
type Config struct {
	Runner  *ingest.Runner
	Tracker jobs.Tracker
	Driver  vector.Driver

	// Embedder embeds queries. Nil means simulation mode.
	Embedder embeddings.Embedder

	// Chunking defaults to chunker.DefaultOptions.
	Chunking chunker.Options

	// CallTimeout bounds query embedding and vector store calls.
	CallTimeout time.Duration

	Logger *slog.Logger
}

// Service is the submission and query API.
type Service struct {
	runner    *ingest.Runner
	tracker   jobs.Tracker
	driver    vector.Driver
	embedder  embeddings.Embedder
	assembler *retrieval.Assembler
	chunking  chunker.Options
	timeout   time.Duration
	logger    *slog.Logger
}

// New creates a Service.
func New(c Config) (*Service, error) {
	if c.Runner == nil {
		return nil, errors.New("ingest runner is required")
	}
	if c.Tracker == nil {
		return nil, errors.New("job tracker is required")
	}
	if c.Driver == nil {
		return nil, errors.New("vector driver is required")
	}

	chunking := c.Chunking
	if chunking == (chunker.Options{}) {
		chunking = chunker.DefaultOptions()
	}
	if err := chunking.Validate(); err != nil {
		return nil, err
	}

	timeout := c.CallTimeout
	if timeout <= 0 {
		timeout = retrieval.DefaultCallTimeout
	}

	log := c.Logger
	if log == nil {
		log = logger.Nop()
	}

	assembler, err := retrieval.NewAssembler(retrieval.AssemblerConfig{
		Driver:      c.Driver,
		CallTimeout: timeout,
		Logger:      log,
	})
	if err != nil {
		return nil, err
	}

	return &Service{
		runner:    c.Runner,
		tracker:   c.Tracker,
		driver:    c.Driver,
		embedder:  c.Embedder,
		assembler: assembler,
		chunking:  chunking,
		timeout:   timeout,
		logger:    log,
	}, nil
}

// Simulated reports whether the service runs without an embedder.
func (s *Service) Simulated() bool {
	return s.embedder == nil
}

// Submit chunks doc and queues an ingestion job for it. The returned job id
// can be polled with GetStatus. On ErrQueueFull the id of the failed job is
// returned as well.
func (s *Service) Submit(ctx context.Context, doc document.Document) (string, error) {
	if strings.TrimSpace(doc.ID) == "" {
		return "", fmt.Errorf("%w: document_id is required", ErrInvalidDocument)
	}

	passages, err := chunker.ChunkDocument(doc, s.chunking)
	if err != nil {
		return "", err
	}

	id, err := s.runner.Submit(ctx, doc.ID, passages)
	if err != nil {
		return id, err
	}

	s.logger.Info("document submitted",
		logger.KeyJobID, id,
		"document_id", doc.ID,
		"passages", len(passages),
	)
	return id, nil
}

// GetStatus returns the latest snapshot of a job, or jobs.ErrNotFound.
func (s *Service) GetStatus(ctx context.Context, jobID string) (jobs.Snapshot, error) {
	return s.tracker.Get(ctx, jobID)
}

// CancelJob stops a queued or running job. It reports false when the job is
// unknown or already finished.
func (s *Service) CancelJob(jobID string) bool {
	ok := s.runner.Cancel(jobID)
	if ok {
		s.logger.Info("job cancel requested", logger.KeyJobID, jobID)
	}
	return ok
}

// AssembleContext embeds query and assembles a bounded context from the
// nearest passages. Without an embedder it returns the empty-context text
// and marks the result as simulated.
func (s *Service) AssembleContext(ctx context.Context, query string, opts retrieval.Options) (retrieval.Context, error) {
	if err := opts.Validate(); err != nil {
		return retrieval.Context{}, err
	}
	if strings.TrimSpace(query) == "" {
		return retrieval.Context{}, ErrEmptyQuery
	}

	if s.embedder == nil {
		out := retrieval.Build(nil, opts)
		out.Simulated = true
		return out, nil
	}

	embedCtx, cancel := context.WithTimeout(ctx, s.timeout)
	vec, err := s.embedder.Embed(embedCtx, query)
	cancel()
	if err != nil {
		return retrieval.Context{}, fmt.Errorf("embedding query: %w", err)
	}

	return s.assembler.Assemble(ctx, vec, opts)
}

// RetireDocument deletes every stored passage of documentID.
func (s *Service) RetireDocument(ctx context.Context, documentID string) error {
	if strings.TrimSpace(documentID) == "" {
		return fmt.Errorf("%w: document_id is required", ErrInvalidDocument)
	}

	deleteCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	if err := s.driver.Delete(deleteCtx, vector.Filter{DocumentIDs: []string{documentID}}); err != nil {
		return fmt.Errorf("retiring document %s: %w", documentID, err)
	}

	s.logger.Info("document retired", "document_id", documentID)
	return nil
}

// RunSweeper evicts expired jobs every interval until ctx is done.
func (s *Service) RunSweeper(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := s.tracker.Sweep(ctx)
			if err != nil {
				s.logger.Warn("job sweep failed", "error", err)
				continue
			}
			if n > 0 {
				s.logger.Debug("swept expired jobs", "count", n)
			}
		}
	}
}

// Close drains the runner and closes every collaborator.
func (s *Service) Close() error {
	return s.Shutdown(context.Background())
}

// Shutdown drains the runner until ctx is done, cancelling whatever is left,
// then closes every collaborator.
func (s *Service) Shutdown(ctx context.Context) error {
	var errs []error
	if err := s.runner.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("draining ingest jobs: %w", err))
	}

	if s.embedder != nil {
		errs = append(errs, s.embedder.Close())
	}
	errs = append(errs, s.driver.Close(), s.tracker.Close())
	return errors.Join(errs...)
}
