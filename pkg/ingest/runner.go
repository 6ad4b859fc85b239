// Package ingest runs batch embedding jobs: passages are embedded in batches,
// buffered and upserted into the vector store while progress is reported to
// a job tracker.
//
// Jobs are processed by a fixed pool of workers fed by a bounded queue so that
// submission never blocks on the embedding provider or the vector store.
package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/papercomputeco/stacks/pkg/document"
	"github.com/papercomputeco/stacks/pkg/embeddings"
	"github.com/papercomputeco/stacks/pkg/eventstream"
	"github.com/papercomputeco/stacks/pkg/eventstream/nop"
	"github.com/papercomputeco/stacks/pkg/jobs"
	"github.com/papercomputeco/stacks/pkg/logger"
	"github.com/papercomputeco/stacks/pkg/vector"
)

var (
	defaultNumWorkers   uint = 3
	defaultJobQueueSize uint = 256
)

const (
	DefaultBatchSize              = 5
	DefaultBatchInterval          = time.Second
	DefaultCallTimeout            = 30 * time.Second
	DefaultMaxConsecutiveFailures = 3
	DefaultUpsertRetries          = 2
	DefaultUpsertBackoff          = 250 * time.Millisecond
	DefaultSimulationInterval     = time.Second
)

// Config is the configuration options for the Runner.
type Config struct {
	// Embedder generates passage embeddings. When nil the runner works in
	// simulation mode: progress advances on a timer and nothing is stored.
	Embedder embeddings.Embedder

	// Driver is the vector store receiving embedded passages.
	// Required when Embedder is set.
	Driver vector.Driver

	// Tracker records job snapshots. Required.
	Tracker jobs.Tracker

	// Publisher receives a JobEvent for every tracker write. Defaults to a
	// no-op publisher.
	Publisher eventstream.Publisher

	// NumWorkers is the number of jobs processed in parallel (defaults to 3).
	NumWorkers uint

	// QueueSize is the capacity of the buffered job channel (defaults to 256).
	QueueSize uint

	// BatchSize is the number of passages per embedding call (defaults to 5).
	BatchSize int

	// BatchInterval is the minimum spacing between a job's embedding calls.
	BatchInterval time.Duration

	// CallTimeout bounds every embedding and vector store call.
	CallTimeout time.Duration

	// MaxConsecutiveFailures is how many timeouts or unreachable errors in a
	// row fail the job.
	MaxConsecutiveFailures int

	// FlushSize is the number of buffered records that triggers an upsert
	// (defaults to BatchSize).
	FlushSize int

	// UpsertRetries is how many times a failed upsert is retried (defaults to 2).
	UpsertRetries int

	// UpsertBackoff is the base delay between upsert attempts.
	UpsertBackoff time.Duration

	// SimulationInterval is the time spent per passage in simulation mode.
	SimulationInterval time.Duration

	// JobTimeout bounds a job from the moment a worker picks it up. Zero
	// means no limit.
	JobTimeout time.Duration

	// Logger is the provided slog logger.
	Logger *slog.Logger

	// Now is the clock, defaults to time.Now.
	Now func() time.Time
}

// job is a unit of work for the worker pool.
type job struct {
	ctx      context.Context
	cancel   context.CancelFunc
	snap     jobs.Snapshot
	passages []document.Passage
}

// Runner processes ingestion jobs asynchronously via a worker pool.
type Runner struct {
	config    *Config
	queue     chan *job
	wg        sync.WaitGroup
	logger    *slog.Logger
	publisher eventstream.Publisher

	base       context.Context
	cancelBase context.CancelFunc

	// mu guards closed and the queue send against Close.
	mu     sync.RWMutex
	closed bool

	runningMu sync.Mutex
	running   map[string]context.CancelFunc

	closeOnce sync.Once
}

// NewRunner creates a new Runner and starts its worker goroutines.
func NewRunner(c *Config) (*Runner, error) {
	if c.Tracker == nil {
		return nil, fmt.Errorf("job tracker is required")
	}

	if c.Embedder != nil && c.Driver == nil {
		return nil, fmt.Errorf("vector driver is required when an embedder is configured")
	}

	if c.NumWorkers == 0 {
		c.NumWorkers = defaultNumWorkers
	}

	if c.QueueSize == 0 {
		c.QueueSize = defaultJobQueueSize
	}

	if c.NumWorkers > uint(math.MaxInt) {
		return nil, fmt.Errorf("NumWorkers %d exceeds max int", c.NumWorkers)
	}

	applyDefaults(c)

	publisher := c.Publisher
	if publisher == nil {
		publisher = nop.NewPublisher()
	}

	log := c.Logger
	if log == nil {
		log = logger.Nop()
	}

	base, cancel := context.WithCancel(context.Background())

	r := &Runner{
		config:     c,
		queue:      make(chan *job, c.QueueSize),
		logger:     log,
		publisher:  publisher,
		base:       base,
		cancelBase: cancel,
		running:    make(map[string]context.CancelFunc),
	}

	r.wg.Add(int(c.NumWorkers))
	for i := range c.NumWorkers {
		go r.worker(i)
	}

	return r, nil
}

func applyDefaults(c *Config) {
	if c.BatchSize <= 0 {
		c.BatchSize = DefaultBatchSize
	}
	if c.BatchInterval <= 0 {
		c.BatchInterval = DefaultBatchInterval
	}
	if c.CallTimeout <= 0 {
		c.CallTimeout = DefaultCallTimeout
	}
	if c.MaxConsecutiveFailures <= 0 {
		c.MaxConsecutiveFailures = DefaultMaxConsecutiveFailures
	}
	if c.FlushSize <= 0 {
		c.FlushSize = c.BatchSize
	}
	if c.UpsertRetries <= 0 {
		c.UpsertRetries = DefaultUpsertRetries
	}
	if c.UpsertBackoff <= 0 {
		c.UpsertBackoff = DefaultUpsertBackoff
	}
	if c.SimulationInterval <= 0 {
		c.SimulationInterval = DefaultSimulationInterval
	}
	if c.Now == nil {
		c.Now = time.Now
	}
}

// Simulated reports whether jobs run without an embedder.
func (r *Runner) Simulated() bool {
	return r.config.Embedder == nil
}

// Submit records a pending job for documentID and queues it. It never waits
// on the embedder or the vector store. When the queue is full the job is
// recorded as failed and ErrQueueFull is returned alongside its id.
func (r *Runner) Submit(ctx context.Context, documentID string, passages []document.Passage) (string, error) {
	id := document.NewJobID()
	snap := jobs.NewSnapshot(id, documentID, len(passages), r.config.Now())

	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.closed {
		return "", ErrClosed
	}

	if err := r.put(ctx, &snap); err != nil {
		return "", fmt.Errorf("recording job: %w", err)
	}

	jobCtx, cancel := context.WithCancel(r.base)
	j := &job{
		ctx:      jobCtx,
		cancel:   cancel,
		snap:     snap,
		passages: passages,
	}

	r.register(id, cancel)

	select {
	case r.queue <- j:
		r.logger.Debug("job queued",
			logger.KeyJobID, id,
			"document_id", documentID,
			"passages", len(passages),
		)
		return id, nil
	default:
		r.unregister(id)
		cancel()

		r.logger.Error("job not queued, queue full",
			logger.KeyJobID, id,
			"document_id", documentID,
		)

		snap.State = jobs.StateFailed
		snap.Status = "queue full"
		snap.Error = ErrQueueFull.Error()
		finished := r.config.Now()
		snap.FinishedAt = &finished
		if err := r.put(ctx, &snap); err != nil {
			r.logger.Warn("could not record rejected job", logger.KeyJobID, id, "error", err)
		}
		return id, ErrQueueFull
	}
}

// Cancel stops a queued or running job. The job ends failed with the
// cancellation as its error. Returns false when the job is not active.
func (r *Runner) Cancel(jobID string) bool {
	r.runningMu.Lock()
	cancel, ok := r.running[jobID]
	r.runningMu.Unlock()

	if ok {
		cancel()
	}
	return ok
}

// Close stops accepting jobs and waits for queued and in-flight jobs to drain.
func (r *Runner) Close() {
	_ = r.Shutdown(context.Background())
}

// Shutdown stops accepting jobs and waits for queued and in-flight jobs to
// drain until ctx is done. Jobs left at that point are cancelled: each ends
// failed with the cancellation as its error, and Shutdown returns once they
// are recorded. The error is ctx.Err() when the drain was cut short.
// Call this during graceful shutdown after the HTTP server has stopped.
func (r *Runner) Shutdown(ctx context.Context) error {
	r.closeOnce.Do(func() {
		r.mu.Lock()
		r.closed = true
		close(r.queue)
		r.mu.Unlock()
	})

	drained := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(drained)
	}()

	var err error
	select {
	case <-drained:
	case <-ctx.Done():
		err = ctx.Err()
		r.logger.Warn("shutdown deadline reached, cancelling remaining jobs")
		r.cancelBase()
		<-drained
	}
	r.cancelBase()
	return err
}

// worker is the inner worker thread that continuously pulls jobs off the queue.
func (r *Runner) worker(id uint) {
	defer r.wg.Done()
	r.logger.Debug("ingest worker started", "worker_id", id)

	for j := range r.queue {
		r.process(j)
	}

	r.logger.Debug("ingest worker stopped", "worker_id", id)
}

func (r *Runner) register(id string, cancel context.CancelFunc) {
	r.runningMu.Lock()
	r.running[id] = cancel
	r.runningMu.Unlock()
}

func (r *Runner) unregister(id string) {
	r.runningMu.Lock()
	delete(r.running, id)
	r.runningMu.Unlock()
}

// put stamps and records snap, then publishes it. Publishing failures are
// logged and never fail the job.
func (r *Runner) put(ctx context.Context, snap *jobs.Snapshot) error {
	snap.UpdatedAt = r.config.Now()

	// Tracker writes must land even when the job context was cancelled.
	ctx = context.WithoutCancel(ctx)

	if err := r.config.Tracker.Put(ctx, *snap); err != nil {
		return err
	}

	event := eventstream.NewJobEvent(uuid.NewString(), *snap, snap.UpdatedAt)
	if err := r.publisher.PublishJob(ctx, event); err != nil {
		r.logger.Warn("failed to publish job event",
			logger.KeyJobID, snap.ID,
			"error", err,
		)
	}
	return nil
}
