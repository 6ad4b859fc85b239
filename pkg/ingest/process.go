package ingest

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/time/rate"

	"github.com/papercomputeco/stacks/pkg/document"
	"github.com/papercomputeco/stacks/pkg/gateway"
	"github.com/papercomputeco/stacks/pkg/jobs"
	"github.com/papercomputeco/stacks/pkg/logger"
	"github.com/papercomputeco/stacks/pkg/vector"
)

// progress carries the mutable state of one running job.
type progress struct {
	snap        *jobs.Snapshot
	buffer      []vector.Record
	consecutive int
}

// process runs a job to a terminal state.
func (r *Runner) process(j *job) {
	defer r.unregister(j.snap.ID)
	defer j.cancel()

	ctx := j.ctx
	if r.config.JobTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.config.JobTimeout)
		defer cancel()
	}

	snap := &j.snap
	log := logger.ForJob(r.logger, snap.ID, snap.DocumentID)

	if err := ctx.Err(); err != nil {
		r.fail(ctx, snap, fmt.Errorf("cancelled before start: %w", err))
		return
	}

	started := r.config.Now()
	snap.State = jobs.StateInProgress
	snap.StartedAt = &started
	if r.Simulated() {
		snap.Mode = jobs.ModeSimulated
		snap.Status = "simulating"
	} else {
		snap.Mode = jobs.ModeReal
		snap.Status = "embedding passages"
	}
	r.record(ctx, snap)

	var err error
	if r.Simulated() {
		err = r.simulate(ctx, snap, j.passages)
	} else {
		err = r.embed(ctx, snap, j.passages)
	}

	if err != nil {
		log.Error("ingest job failed", "error", err)
		r.fail(ctx, snap, err)
		return
	}

	finished := r.config.Now()
	snap.State = jobs.StateSucceeded
	snap.Status = "completed"
	snap.FinishedAt = &finished
	r.record(ctx, snap)

	log.Info("ingest job completed",
		"mode", snap.Mode,
		"embedded", snap.Summary.Embedded,
		"skipped", snap.Summary.Skipped,
		"upserted", snap.Summary.Upserted,
	)
}

// simulate advances the job one passage per SimulationInterval without
// producing vectors.
func (r *Runner) simulate(ctx context.Context, snap *jobs.Snapshot, passages []document.Passage) error {
	ticker := time.NewTicker(r.config.SimulationInterval)
	defer ticker.Stop()

	for i := range passages {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}

		snap.Summary.Attempted++
		snap.CompletedUnits++
		snap.Status = fmt.Sprintf("simulated %d/%d", i+1, len(passages))
		r.record(ctx, snap)
	}
	return nil
}

// embed processes passages in batches, paced by a per-job limiter.
func (r *Runner) embed(ctx context.Context, snap *jobs.Snapshot, passages []document.Passage) error {
	limiter := rate.NewLimiter(rate.Every(r.config.BatchInterval), 1)
	p := &progress{snap: snap}

	for start := 0; start < len(passages); start += r.config.BatchSize {
		if err := limiter.Wait(ctx); err != nil {
			return contextErr(ctx, err)
		}

		end := min(start+r.config.BatchSize, len(passages))
		if err := r.embedBatch(ctx, p, passages[start:end]); err != nil {
			return err
		}

		if len(p.buffer) >= r.config.FlushSize {
			if err := r.flush(ctx, p); err != nil {
				return err
			}
		}
	}

	return r.flush(ctx, p)
}

// embedBatch embeds one batch. A batch failure that is not an infrastructure
// failure falls back to embedding each passage on its own so that only the
// offending passages are skipped.
func (r *Runner) embedBatch(ctx context.Context, p *progress, batch []document.Passage) error {
	texts := make([]string, len(batch))
	for i, passage := range batch {
		texts[i] = passage.Text
	}

	callCtx, cancel := context.WithTimeout(ctx, r.config.CallTimeout)
	vecs, err := r.config.Embedder.EmbedBatch(callCtx, texts)
	cancel()

	if err == nil && len(vecs) != len(batch) {
		err = fmt.Errorf("embedding batch returned %d vectors for %d passages", len(vecs), len(batch))
	}

	if err == nil {
		p.consecutive = 0
		for i, passage := range batch {
			p.buffer = append(p.buffer, toRecord(passage, vecs[i]))
			p.snap.Summary.Embedded++
			r.advance(ctx, p.snap)
		}
		return nil
	}

	if ctx.Err() != nil {
		return ctx.Err()
	}

	kind := gateway.KindOf(err)
	if kind.Infrastructure() {
		return fmt.Errorf("embedding batch: %w", err)
	}

	// A server error may come from a single passage in the batch, so only
	// the per-passage calls below count toward the failure limit.
	if kind != gateway.KindServerError {
		if err := r.countFailure(p, kind, err); err != nil {
			return err
		}
	}

	r.logger.Warn("embedding batch failed, retrying passages individually",
		logger.KeyJobID, p.snap.ID,
		"batch_size", len(batch),
		"error", err,
	)

	for _, passage := range batch {
		if err := r.embedOne(ctx, p, passage); err != nil {
			return err
		}
	}
	return nil
}

// embedOne embeds a single passage. A failure skips the passage unless it
// signals that the provider as a whole is unusable.
func (r *Runner) embedOne(ctx context.Context, p *progress, passage document.Passage) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	callCtx, cancel := context.WithTimeout(ctx, r.config.CallTimeout)
	vec, err := r.config.Embedder.Embed(callCtx, passage.Text)
	cancel()

	if err == nil && len(vec) == 0 {
		err = fmt.Errorf("empty embedding for passage %d", passage.Index)
	}

	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		kind := gateway.KindOf(err)
		if kind == gateway.KindNotConfigured || kind == gateway.KindUnauthorized {
			return fmt.Errorf("embedding passage %d: %w", passage.Index, err)
		}
		if err := r.countFailure(p, kind, err); err != nil {
			return err
		}

		r.logger.Warn("skipping passage",
			logger.KeyJobID, p.snap.ID,
			"chunk_index", passage.Index,
			"error", err,
		)
		p.snap.Summary.Skipped++
		r.advance(ctx, p.snap)
		return nil
	}

	p.consecutive = 0
	p.buffer = append(p.buffer, toRecord(passage, vec))
	p.snap.Summary.Embedded++
	r.advance(ctx, p.snap)
	return nil
}

// countFailure tracks timeouts, server errors and unreachable errors in a
// row. Any other failure breaks the run.
func (r *Runner) countFailure(p *progress, kind gateway.Kind, err error) error {
	switch kind {
	case gateway.KindTimeout, gateway.KindUnavailable, gateway.KindServerError:
	default:
		p.consecutive = 0
		return nil
	}

	p.consecutive++
	if p.consecutive >= r.config.MaxConsecutiveFailures {
		return fmt.Errorf("%w (%d): %w", ErrTooManyFailures, p.consecutive, err)
	}
	return nil
}

// flush upserts the buffered records, retrying with a linear backoff. There
// is no safe place to keep vectors that could not be stored, so exhausting
// the retries fails the job.
func (r *Runner) flush(ctx context.Context, p *progress) error {
	if len(p.buffer) == 0 {
		return nil
	}

	var err error
	for attempt := 0; attempt <= r.config.UpsertRetries; attempt++ {
		if attempt > 0 {
			if werr := sleep(ctx, time.Duration(attempt)*r.config.UpsertBackoff); werr != nil {
				return werr
			}
		}

		callCtx, cancel := context.WithTimeout(ctx, r.config.CallTimeout)
		err = r.config.Driver.Upsert(callCtx, p.buffer)
		cancel()

		if err == nil {
			p.snap.Summary.Upserted += len(p.buffer)
			r.logger.Debug("flushed records",
				logger.KeyJobID, p.snap.ID,
				"count", len(p.buffer),
			)
			p.buffer = p.buffer[:0]
			return nil
		}

		if ctx.Err() != nil {
			return ctx.Err()
		}

		if gateway.Is(err, gateway.KindInvalidInput) {
			break
		}

		r.logger.Warn("upsert failed",
			logger.KeyJobID, p.snap.ID,
			"attempt", attempt+1,
			"error", err,
		)
	}

	return fmt.Errorf("storing %d records: %w", len(p.buffer), err)
}

// advance records one more attempted passage.
func (r *Runner) advance(ctx context.Context, snap *jobs.Snapshot) {
	snap.Summary.Attempted++
	snap.CompletedUnits++
	snap.Status = fmt.Sprintf("embedded %d/%d", snap.CompletedUnits, snap.TotalUnits)
	r.record(ctx, snap)
}

// record writes snap to the tracker, logging failures. Progress writes never
// stop a job.
func (r *Runner) record(ctx context.Context, snap *jobs.Snapshot) {
	if err := r.put(ctx, snap); err != nil {
		r.logger.Warn("failed to record job progress",
			logger.KeyJobID, snap.ID,
			"state", snap.State,
			"error", err,
		)
	}
}

func (r *Runner) fail(ctx context.Context, snap *jobs.Snapshot, err error) {
	finished := r.config.Now()
	snap.State = jobs.StateFailed
	snap.Status = "failed"
	snap.Error = err.Error()
	snap.FinishedAt = &finished
	r.record(ctx, snap)
}

func toRecord(p document.Passage, vec []float32) vector.Record {
	return vector.Record{
		ID:     p.ID,
		Vector: vec,
		Payload: vector.Payload{
			DocumentID: p.DocumentID,
			Index:      p.Index,
			Text:       p.Text,
			Page:       p.Page,
			Title:      p.Title,
		},
	}
}

// contextErr prefers the context's own error over the limiter's wrapper.
func contextErr(ctx context.Context, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return context.DeadlineExceeded
	}
	return err
}

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
