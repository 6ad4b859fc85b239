package pipeline_test

import (
	"context"
	"errors"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/papercomputeco/stacks/pkg/chunker"
	"github.com/papercomputeco/stacks/pkg/document"
	"github.com/papercomputeco/stacks/pkg/embeddings"
	"github.com/papercomputeco/stacks/pkg/ingest"
	"github.com/papercomputeco/stacks/pkg/jobs"
	"github.com/papercomputeco/stacks/pkg/logger"
	"github.com/papercomputeco/stacks/pkg/pipeline"
	"github.com/papercomputeco/stacks/pkg/retrieval"
	testutils "github.com/papercomputeco/stacks/pkg/utils/test"
	"github.com/papercomputeco/stacks/pkg/vector"
	"github.com/papercomputeco/stacks/pkg/vector/inmemory"
)

const manual = "The boiler must be bled before winter. " +
	"Check the pressure gauge every month. " +
	"Replace the filter when the light turns red."

func newService(embedder embeddings.Embedder, driver vector.Driver, tracker jobs.Tracker) *pipeline.Service {
	runner, err := ingest.NewRunner(&ingest.Config{
		Embedder:           embedder,
		Driver:             driver,
		Tracker:            tracker,
		Logger:             logger.Nop(),
		BatchInterval:      time.Millisecond,
		SimulationInterval: time.Millisecond,
	})
	Expect(err).NotTo(HaveOccurred())

	svc, err := pipeline.New(pipeline.Config{
		Runner:   runner,
		Tracker:  tracker,
		Driver:   driver,
		Embedder: embedder,
		Logger:   logger.Nop(),
	})
	Expect(err).NotTo(HaveOccurred())
	return svc
}

var _ = Describe("Service", func() {
	var (
		ctx      context.Context
		embedder *testutils.MockEmbedder
		driver   *inmemory.Driver
		tracker  *jobs.MemoryTracker
		svc      *pipeline.Service
	)

	state := func(id string) func() jobs.State {
		return func() jobs.State {
			snap, err := svc.GetStatus(ctx, id)
			if err != nil {
				return ""
			}
			return snap.State
		}
	}

	BeforeEach(func() {
		ctx = context.Background()
		embedder = testutils.NewMockEmbedder()
		driver = inmemory.NewDriver(inmemory.Config{}, logger.Nop())
		tracker = jobs.NewMemoryTracker(jobs.MemoryTrackerConfig{})
	})

	Describe("New", func() {
		It("requires its collaborators", func() {
			_, err := pipeline.New(pipeline.Config{})
			Expect(err).To(HaveOccurred())
		})

		It("rejects invalid chunking options", func() {
			runner, err := ingest.NewRunner(&ingest.Config{Tracker: tracker})
			Expect(err).NotTo(HaveOccurred())
			defer runner.Close()

			_, err = pipeline.New(pipeline.Config{
				Runner:   runner,
				Tracker:  tracker,
				Driver:   driver,
				Chunking: chunker.Options{TargetSize: 10, Overlap: 20},
			})
			Expect(errors.Is(err, chunker.ErrInvalidSize)).To(BeTrue())
		})
	})

	Context("with an embedder", func() {
		BeforeEach(func() {
			svc = newService(embedder, driver, tracker)
			DeferCleanup(svc.Close)
		})

		It("ingests a document and assembles context from it", func() {
			id, err := svc.Submit(ctx, document.Document{ID: "manual", Title: "Boiler Manual", Text: manual})
			Expect(err).NotTo(HaveOccurred())
			Eventually(state(id)).Should(Equal(jobs.StateSucceeded))

			snap, err := svc.GetStatus(ctx, id)
			Expect(err).NotTo(HaveOccurred())
			Expect(snap.DocumentID).To(Equal("manual"))
			Expect(snap.CompletedUnits).To(Equal(snap.TotalUnits))
			Expect(driver.Len()).To(Equal(snap.TotalUnits))

			out, err := svc.AssembleContext(ctx, manual, retrieval.Options{MaxPassages: 2, MaxContextChars: 1000})
			Expect(err).NotTo(HaveOccurred())
			Expect(out.Simulated).To(BeFalse())
			Expect(out.CitedDocuments).To(Equal([]string{"manual"}))
			Expect(out.Text).To(HavePrefix("--- Excerpt from 'Boiler Manual' ---\n"))
			Expect(out.Passages).To(HaveLen(1))
			Expect(out.Passages[0].Text).To(Equal(manual))
			Expect(out.Passages[0].Score).To(BeNumerically("~", 1, 1e-4))
		})

		It("returns the sentinel for an empty store", func() {
			out, err := svc.AssembleContext(ctx, "anything", retrieval.DefaultOptions())
			Expect(err).NotTo(HaveOccurred())
			Expect(out.Text).To(Equal(retrieval.NoContext))
			Expect(out.CitedDocuments).To(BeEmpty())
		})

		It("keeps one record per passage when a document is re-submitted", func() {
			doc := document.Document{ID: "manual", Text: manual}

			first, err := svc.Submit(ctx, doc)
			Expect(err).NotTo(HaveOccurred())
			Eventually(state(first)).Should(Equal(jobs.StateSucceeded))
			count := driver.Len()

			second, err := svc.Submit(ctx, doc)
			Expect(err).NotTo(HaveOccurred())
			Eventually(state(second)).Should(Equal(jobs.StateSucceeded))
			Expect(driver.Len()).To(Equal(count))
		})

		It("retires a document", func() {
			id, err := svc.Submit(ctx, document.Document{ID: "manual", Text: manual})
			Expect(err).NotTo(HaveOccurred())
			Eventually(state(id)).Should(Equal(jobs.StateSucceeded))

			Expect(svc.RetireDocument(ctx, "manual")).To(Succeed())
			Expect(driver.Len()).To(BeZero())
		})

		It("rejects documents without an id", func() {
			_, err := svc.Submit(ctx, document.Document{Text: manual})
			Expect(errors.Is(err, pipeline.ErrInvalidDocument)).To(BeTrue())

			Expect(errors.Is(svc.RetireDocument(ctx, " "), pipeline.ErrInvalidDocument)).To(BeTrue())
		})

		It("rejects blank queries and invalid options", func() {
			_, err := svc.AssembleContext(ctx, "  ", retrieval.DefaultOptions())
			Expect(err).To(MatchError(pipeline.ErrEmptyQuery))

			_, err = svc.AssembleContext(ctx, "query", retrieval.Options{})
			Expect(errors.Is(err, retrieval.ErrInvalidOptions)).To(BeTrue())
		})

		It("reports unknown jobs", func() {
			_, err := svc.GetStatus(ctx, "missing")
			Expect(err).To(MatchError(jobs.ErrNotFound))
			Expect(svc.CancelJob("missing")).To(BeFalse())
		})

		It("does not cancel finished jobs", func() {
			id, err := svc.Submit(ctx, document.Document{ID: "manual", Text: manual})
			Expect(err).NotTo(HaveOccurred())
			Eventually(state(id)).Should(Equal(jobs.StateSucceeded))

			Eventually(func() bool { return svc.CancelJob(id) }).Should(BeFalse())
		})
	})

	Context("without an embedder", func() {
		BeforeEach(func() {
			svc = newService(nil, driver, tracker)
			DeferCleanup(svc.Close)
		})

		It("simulates ingestion", func() {
			Expect(svc.Simulated()).To(BeTrue())

			id, err := svc.Submit(ctx, document.Document{ID: "manual", Text: manual})
			Expect(err).NotTo(HaveOccurred())
			Eventually(state(id)).Should(Equal(jobs.StateSucceeded))

			snap, err := svc.GetStatus(ctx, id)
			Expect(err).NotTo(HaveOccurred())
			Expect(snap.Mode).To(Equal(jobs.ModeSimulated))
			Expect(snap.CompletedUnits).To(Equal(snap.TotalUnits))
			Expect(driver.Len()).To(BeZero())
		})

		It("returns a simulated empty context", func() {
			out, err := svc.AssembleContext(ctx, "boiler", retrieval.DefaultOptions())
			Expect(err).NotTo(HaveOccurred())
			Expect(out.Simulated).To(BeTrue())
			Expect(out.Text).To(Equal(retrieval.NoContext))
		})
	})
})
