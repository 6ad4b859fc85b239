package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/papercomputeco/stacks/pkg/document"
	"github.com/papercomputeco/stacks/pkg/embeddings/ollama"
	"github.com/papercomputeco/stacks/pkg/eventstream"
	"github.com/papercomputeco/stacks/pkg/gateway"
	"github.com/papercomputeco/stacks/pkg/jobs"
	"github.com/papercomputeco/stacks/pkg/logger"
	testutils "github.com/papercomputeco/stacks/pkg/utils/test"
)

// recordingTracker keeps every snapshot written for a job on top of a
// memory tracker.
type recordingTracker struct {
	*jobs.MemoryTracker

	mu      sync.Mutex
	history map[string][]jobs.Snapshot
}

func newRecordingTracker() *recordingTracker {
	return &recordingTracker{
		MemoryTracker: jobs.NewMemoryTracker(jobs.MemoryTrackerConfig{}),
		history:       make(map[string][]jobs.Snapshot),
	}
}

func (t *recordingTracker) Put(ctx context.Context, snap jobs.Snapshot) error {
	if err := t.MemoryTracker.Put(ctx, snap); err != nil {
		return err
	}
	t.mu.Lock()
	t.history[snap.ID] = append(t.history[snap.ID], snap)
	t.mu.Unlock()
	return nil
}

func (t *recordingTracker) History(id string) []jobs.Snapshot {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]jobs.Snapshot(nil), t.history[id]...)
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []*eventstream.JobEvent
}

func (p *recordingPublisher) PublishJob(_ context.Context, event *eventstream.JobEvent) error {
	p.mu.Lock()
	p.events = append(p.events, event)
	p.mu.Unlock()
	return nil
}

func (p *recordingPublisher) Close() error { return nil }

func (p *recordingPublisher) Events() []*eventstream.JobEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]*eventstream.JobEvent(nil), p.events...)
}

func passagesFor(docID string, n int) []document.Passage {
	passages := make([]document.Passage, n)
	for i := range passages {
		passages[i] = document.NewPassage(docID, i, fmt.Sprintf("passage %d of %s", i, docID))
	}
	return passages
}

func fastConfig() *Config {
	return &Config{
		Logger:             logger.Nop(),
		BatchSize:          5,
		BatchInterval:      time.Millisecond,
		CallTimeout:        time.Second,
		UpsertBackoff:      time.Millisecond,
		SimulationInterval: time.Millisecond,
	}
}

var _ = Describe("Runner", func() {
	var (
		ctx       context.Context
		embedder  *testutils.MockEmbedder
		driver    *testutils.MockVectorDriver
		tracker   *recordingTracker
		publisher *recordingPublisher
		config    *Config
		runner    *Runner
	)

	BeforeEach(func() {
		ctx = context.Background()
		embedder = testutils.NewMockEmbedder()
		driver = testutils.NewMockVectorDriver()
		tracker = newRecordingTracker()
		publisher = &recordingPublisher{}

		config = fastConfig()
		config.Embedder = embedder
		config.Driver = driver
		config.Tracker = tracker
		config.Publisher = publisher
	})

	JustBeforeEach(func() {
		var err error
		runner, err = NewRunner(config)
		Expect(err).NotTo(HaveOccurred())
		DeferCleanup(runner.Close)
	})

	status := func(id string) func() jobs.State {
		return func() jobs.State {
			snap, err := tracker.Get(ctx, id)
			if err != nil {
				return ""
			}
			return snap.State
		}
	}

	Describe("NewRunner", func() {
		It("requires a tracker", func() {
			_, err := NewRunner(&Config{})
			Expect(err).To(MatchError(ContainSubstring("tracker")))
		})

		It("requires a driver alongside an embedder", func() {
			_, err := NewRunner(&Config{Tracker: tracker, Embedder: embedder})
			Expect(err).To(MatchError(ContainSubstring("vector driver")))
		})

		It("applies defaults", func() {
			Expect(config.NumWorkers).To(Equal(defaultNumWorkers))
			Expect(config.QueueSize).To(Equal(defaultJobQueueSize))
			Expect(config.FlushSize).To(Equal(config.BatchSize))
			Expect(config.MaxConsecutiveFailures).To(Equal(DefaultMaxConsecutiveFailures))
		})
	})

	Describe("Submit", func() {
		It("records a pending job before returning", func() {
			embedder.Delay = 50 * time.Millisecond
			id, err := runner.Submit(ctx, "book-1", passagesFor("book-1", 3))
			Expect(err).NotTo(HaveOccurred())
			Expect(id).NotTo(BeEmpty())

			history := tracker.History(id)
			Expect(history).NotTo(BeEmpty())
			Expect(history[0].State).To(Equal(jobs.StatePending))
			Expect(history[0].TotalUnits).To(Equal(3))
		})

		It("embeds every passage in batches and stores them", func() {
			id, err := runner.Submit(ctx, "book-1", passagesFor("book-1", 12))
			Expect(err).NotTo(HaveOccurred())

			Eventually(status(id)).Should(Equal(jobs.StateSucceeded))

			snap, err := tracker.Get(ctx, id)
			Expect(err).NotTo(HaveOccurred())
			Expect(snap.CompletedUnits).To(Equal(12))
			Expect(snap.Percent()).To(Equal(100))
			Expect(snap.Mode).To(Equal(jobs.ModeReal))
			Expect(snap.Summary).To(Equal(jobs.Summary{Attempted: 12, Embedded: 12, Upserted: 12}))
			Expect(snap.StartedAt).NotTo(BeNil())
			Expect(snap.FinishedAt).NotTo(BeNil())

			Expect(embedder.BatchCalls()).To(Equal(3))
			Expect(driver.Len()).To(Equal(12))
		})

		It("succeeds immediately for a document without passages", func() {
			id, err := runner.Submit(ctx, "empty", nil)
			Expect(err).NotTo(HaveOccurred())
			Eventually(status(id)).Should(Equal(jobs.StateSucceeded))
			Expect(driver.UpsertCalls()).To(BeZero())
		})

		It("stores passage metadata in the payload", func() {
			passages := passagesFor("book-2", 1)
			passages[0].Title = "Atlas"
			passages[0].Page = 4

			id, err := runner.Submit(ctx, "book-2", passages)
			Expect(err).NotTo(HaveOccurred())
			Eventually(status(id)).Should(Equal(jobs.StateSucceeded))

			records := driver.Records()
			Expect(records).To(HaveLen(1))
			Expect(records[0].ID).To(Equal(passages[0].ID))
			Expect(records[0].Payload.Title).To(Equal("Atlas"))
			Expect(records[0].Payload.Page).To(Equal(4))
			Expect(records[0].Payload.Text).To(Equal(passages[0].Text))
		})

		It("publishes an event for every tracker write", func() {
			id, err := runner.Submit(ctx, "book-1", passagesFor("book-1", 4))
			Expect(err).NotTo(HaveOccurred())
			Eventually(status(id)).Should(Equal(jobs.StateSucceeded))

			Eventually(func() int { return len(publisher.Events()) }).Should(Equal(len(tracker.History(id))))
			events := publisher.Events()
			Expect(events[len(events)-1].Job.State).To(Equal(jobs.StateSucceeded))
		})
	})

	Context("when one passage is rejected by the provider", func() {
		var passages []document.Passage

		BeforeEach(func() {
			passages = passagesFor("book-3", 5)
			embedder.Fail(passages[3].Text, nil)
		})

		It("skips only that passage and succeeds", func() {
			id, err := runner.Submit(ctx, "book-3", passages)
			Expect(err).NotTo(HaveOccurred())
			Eventually(status(id)).Should(Equal(jobs.StateSucceeded))

			snap, err := tracker.Get(ctx, id)
			Expect(err).NotTo(HaveOccurred())
			Expect(snap.CompletedUnits).To(Equal(5))
			Expect(snap.Summary).To(Equal(jobs.Summary{Attempted: 5, Embedded: 4, Skipped: 1, Upserted: 4}))

			Expect(driver.Len()).To(Equal(4))
			for _, r := range driver.Records() {
				Expect(r.Payload.Index).NotTo(Equal(3))
			}
			Expect(embedder.EmbedCalls()).To(Equal(5))
		})
	})

	Context("when the provider answers 500 for one passage", func() {
		var (
			server   *httptest.Server
			passages []document.Passage
		)

		BeforeEach(func() {
			// Ollama answers 500 when an input exceeds the model's context.
			server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				var req struct {
					Input []string `json:"input"`
				}
				if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
					http.Error(w, err.Error(), http.StatusBadRequest)
					return
				}
				vecs := make([][]float32, len(req.Input))
				for i, text := range req.Input {
					if strings.Contains(text, "BAD") {
						http.Error(w, `{"error":"input length exceeds the context length"}`, http.StatusInternalServerError)
						return
					}
					vecs[i] = []float32{1, float32(i)}
				}
				json.NewEncoder(w).Encode(map[string]any{"embeddings": vecs})
			}))
			DeferCleanup(server.Close)

			embedder, err := ollama.NewEmbedder(ollama.EmbedderConfig{BaseURL: server.URL})
			Expect(err).NotTo(HaveOccurred())
			config.Embedder = embedder

			passages = passagesFor("book-15", 5)
			passages[2].Text = "BAD passage"
		})

		It("skips that passage and succeeds", func() {
			id, err := runner.Submit(ctx, "book-15", passages)
			Expect(err).NotTo(HaveOccurred())
			Eventually(status(id)).Should(Equal(jobs.StateSucceeded))

			snap, err := tracker.Get(ctx, id)
			Expect(err).NotTo(HaveOccurred())
			Expect(snap.Summary).To(Equal(jobs.Summary{Attempted: 5, Embedded: 4, Skipped: 1, Upserted: 4}))
			Expect(driver.Len()).To(Equal(4))
			for _, r := range driver.Records() {
				Expect(r.Payload.Index).NotTo(Equal(2))
			}
		})

		It("fails once every passage keeps answering 500", func() {
			for i := range passages {
				passages[i].Text = fmt.Sprintf("BAD passage %d", i)
			}

			id, err := runner.Submit(ctx, "book-15", passages)
			Expect(err).NotTo(HaveOccurred())
			Eventually(status(id)).Should(Equal(jobs.StateFailed))

			snap, err := tracker.Get(ctx, id)
			Expect(err).NotTo(HaveOccurred())
			Expect(snap.Error).To(ContainSubstring(ErrTooManyFailures.Error()))
			Expect(snap.Summary.Skipped).To(Equal(DefaultMaxConsecutiveFailures - 1))
			Expect(driver.Len()).To(BeZero())
		})
	})

	Context("when the provider is unreachable", func() {
		BeforeEach(func() {
			embedder.BatchErr = gateway.NewError("mock.embed_batch", gateway.KindUnavailable, errors.New("connection refused"))
		})

		It("fails the job with the gateway error", func() {
			id, err := runner.Submit(ctx, "book-4", passagesFor("book-4", 6))
			Expect(err).NotTo(HaveOccurred())
			Eventually(status(id)).Should(Equal(jobs.StateFailed))

			snap, err := tracker.Get(ctx, id)
			Expect(err).NotTo(HaveOccurred())
			Expect(snap.Error).To(ContainSubstring("connection refused"))
			Expect(snap.CompletedUnits).To(BeZero())
			Expect(driver.Len()).To(BeZero())
		})
	})

	Context("when the provider rejects the credentials", func() {
		BeforeEach(func() {
			embedder.BatchErr = gateway.NewError("mock.embed_batch", gateway.KindUnauthorized, errors.New("bad key"))
		})

		It("fails without falling back to single passages", func() {
			id, err := runner.Submit(ctx, "book-4", passagesFor("book-4", 6))
			Expect(err).NotTo(HaveOccurred())
			Eventually(status(id)).Should(Equal(jobs.StateFailed))
			Expect(embedder.EmbedCalls()).To(BeZero())
		})
	})

	Context("when every call times out", func() {
		BeforeEach(func() {
			embedder.Delay = 200 * time.Millisecond
			config.CallTimeout = 5 * time.Millisecond
		})

		It("fails after the consecutive failure limit", func() {
			id, err := runner.Submit(ctx, "book-5", passagesFor("book-5", 10))
			Expect(err).NotTo(HaveOccurred())
			Eventually(status(id), 2*time.Second).Should(Equal(jobs.StateFailed))

			snap, err := tracker.Get(ctx, id)
			Expect(err).NotTo(HaveOccurred())
			Expect(snap.Error).To(ContainSubstring(ErrTooManyFailures.Error()))
			Expect(embedder.BatchCalls()).To(Equal(1))
			Expect(embedder.EmbedCalls()).To(Equal(2))
		})
	})

	Context("when the vector store fails transiently", func() {
		BeforeEach(func() {
			driver.FailUpserts = 2
		})

		It("retries the upsert and succeeds", func() {
			id, err := runner.Submit(ctx, "book-6", passagesFor("book-6", 5))
			Expect(err).NotTo(HaveOccurred())
			Eventually(status(id)).Should(Equal(jobs.StateSucceeded))
			Expect(driver.UpsertCalls()).To(Equal(3))
			Expect(driver.Len()).To(Equal(5))
		})
	})

	Context("when the vector store keeps failing", func() {
		BeforeEach(func() {
			driver.FailUpserts = 100
		})

		It("fails the job once retries are exhausted", func() {
			id, err := runner.Submit(ctx, "book-7", passagesFor("book-7", 5))
			Expect(err).NotTo(HaveOccurred())
			Eventually(status(id)).Should(Equal(jobs.StateFailed))

			snap, err := tracker.Get(ctx, id)
			Expect(err).NotTo(HaveOccurred())
			Expect(snap.Error).To(ContainSubstring("storing 5 records"))
			Expect(driver.UpsertCalls()).To(Equal(1 + DefaultUpsertRetries))
		})
	})

	Context("without an embedder", func() {
		BeforeEach(func() {
			config.Embedder = nil
			config.Driver = nil
		})

		It("simulates progress and succeeds", func() {
			Expect(runner.Simulated()).To(BeTrue())

			id, err := runner.Submit(ctx, "book-8", passagesFor("book-8", 4))
			Expect(err).NotTo(HaveOccurred())
			Eventually(status(id)).Should(Equal(jobs.StateSucceeded))

			snap, err := tracker.Get(ctx, id)
			Expect(err).NotTo(HaveOccurred())
			Expect(snap.Mode).To(Equal(jobs.ModeSimulated))
			Expect(snap.CompletedUnits).To(Equal(4))
			Expect(snap.Summary.Embedded).To(BeZero())
		})
	})

	It("is idempotent for a re-submitted document", func() {
		passages := passagesFor("book-9", 7)

		first, err := runner.Submit(ctx, "book-9", passages)
		Expect(err).NotTo(HaveOccurred())
		Eventually(status(first)).Should(Equal(jobs.StateSucceeded))

		second, err := runner.Submit(ctx, "book-9", passages)
		Expect(err).NotTo(HaveOccurred())
		Eventually(status(second)).Should(Equal(jobs.StateSucceeded))

		Expect(second).NotTo(Equal(first))
		Expect(driver.Len()).To(Equal(7))
	})

	It("reports monotonic progress", func() {
		id, err := runner.Submit(ctx, "book-10", passagesFor("book-10", 11))
		Expect(err).NotTo(HaveOccurred())
		Eventually(status(id)).Should(Equal(jobs.StateSucceeded))

		history := tracker.History(id)
		Expect(len(history)).To(BeNumerically(">=", 11))
		for i := 1; i < len(history); i++ {
			Expect(history[i].CompletedUnits).To(BeNumerically(">=", history[i-1].CompletedUnits))
			Expect(history[i].CompletedUnits).To(BeNumerically("<=", history[i].TotalUnits))
		}
	})

	Describe("Cancel", func() {
		BeforeEach(func() {
			embedder.Delay = 100 * time.Millisecond
		})

		It("fails a running job with the cancellation", func() {
			id, err := runner.Submit(ctx, "book-11", passagesFor("book-11", 20))
			Expect(err).NotTo(HaveOccurred())
			Eventually(status(id)).Should(Equal(jobs.StateInProgress))

			Expect(runner.Cancel(id)).To(BeTrue())
			Eventually(status(id)).Should(Equal(jobs.StateFailed))

			snap, err := tracker.Get(ctx, id)
			Expect(err).NotTo(HaveOccurred())
			Expect(snap.Error).To(ContainSubstring(context.Canceled.Error()))
			Expect(snap.CompletedUnits).To(BeNumerically("<", 20))
		})

		It("returns false for unknown jobs", func() {
			Expect(runner.Cancel("nope")).To(BeFalse())
		})
	})

	Context("with a job timeout", func() {
		BeforeEach(func() {
			embedder.Delay = 50 * time.Millisecond
			config.JobTimeout = 20 * time.Millisecond
		})

		It("fails jobs that run too long", func() {
			id, err := runner.Submit(ctx, "book-12", passagesFor("book-12", 10))
			Expect(err).NotTo(HaveOccurred())
			Eventually(status(id)).Should(Equal(jobs.StateFailed))

			snap, err := tracker.Get(ctx, id)
			Expect(err).NotTo(HaveOccurred())
			Expect(snap.Error).To(ContainSubstring(context.DeadlineExceeded.Error()))
		})
	})

	Context("when the queue is full", func() {
		BeforeEach(func() {
			config.NumWorkers = 1
			config.QueueSize = 1
			embedder.Delay = 200 * time.Millisecond
		})

		It("fails the rejected job and returns ErrQueueFull", func() {
			var rejected string
			for i := range 3 {
				docID := fmt.Sprintf("book-%d", i)
				id, err := runner.Submit(ctx, docID, passagesFor(docID, 1))
				if errors.Is(err, ErrQueueFull) {
					rejected = id
				}
			}
			Expect(rejected).NotTo(BeEmpty())

			snap, err := tracker.Get(ctx, rejected)
			Expect(err).NotTo(HaveOccurred())
			Expect(snap.State).To(Equal(jobs.StateFailed))
			Expect(snap.Error).To(Equal("queue full"))
		})
	})

	Describe("Close", func() {
		It("drains queued jobs and rejects new ones", func() {
			id, err := runner.Submit(ctx, "book-13", passagesFor("book-13", 3))
			Expect(err).NotTo(HaveOccurred())

			runner.Close()

			snap, err := tracker.Get(ctx, id)
			Expect(err).NotTo(HaveOccurred())
			Expect(snap.State).To(Equal(jobs.StateSucceeded))

			_, err = runner.Submit(ctx, "book-14", nil)
			Expect(err).To(MatchError(ErrClosed))
		})
	})

	Describe("Shutdown", func() {
		BeforeEach(func() {
			config.Embedder = nil
			config.Driver = nil
			config.NumWorkers = 1
			config.SimulationInterval = time.Hour
		})

		It("fails the running and queued jobs once the deadline passes", func() {
			var ids []string
			for i := range 3 {
				docID := fmt.Sprintf("book-2%d", i)
				id, err := runner.Submit(ctx, docID, passagesFor(docID, 2))
				Expect(err).NotTo(HaveOccurred())
				ids = append(ids, id)
			}
			Eventually(status(ids[0])).Should(Equal(jobs.StateInProgress))

			shutdownCtx, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
			defer cancel()
			Expect(runner.Shutdown(shutdownCtx)).To(MatchError(context.DeadlineExceeded))

			for _, id := range ids {
				snap, err := tracker.Get(ctx, id)
				Expect(err).NotTo(HaveOccurred())
				Expect(snap.State).To(Equal(jobs.StateFailed))
				Expect(snap.Error).To(ContainSubstring("context canceled"))
				Expect(snap.FinishedAt).NotTo(BeNil())
			}

			_, err := runner.Submit(ctx, "book-29", nil)
			Expect(err).To(MatchError(ErrClosed))
		})

		It("returns nil when the jobs drain in time", func() {
			config.SimulationInterval = time.Millisecond

			id, err := runner.Submit(ctx, "book-30", passagesFor("book-30", 2))
			Expect(err).NotTo(HaveOccurred())

			Expect(runner.Shutdown(ctx)).To(Succeed())
			Expect(status(id)()).To(Equal(jobs.StateSucceeded))
		})
	})
})
