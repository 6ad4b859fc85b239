package eventstream_test

import (
	"encoding/json"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/papercomputeco/stacks/pkg/eventstream"
	"github.com/papercomputeco/stacks/pkg/jobs"
)

var _ = Describe("Event", func() {
	It("marshals JobEvent with expected top-level keys", func() {
		now := time.Unix(1735689600, 0).UTC()
		snap := jobs.NewSnapshot("job-1", "book-1", 12, now)
		snap.State = jobs.StateInProgress
		snap.CompletedUnits = 5

		event := eventstream.NewJobEvent("evt_123", snap, now)

		payload, err := json.Marshal(event)
		Expect(err).NotTo(HaveOccurred())

		var got map[string]any
		Expect(json.Unmarshal(payload, &got)).To(Succeed())

		Expect(got).To(HaveKeyWithValue("schema_version", BeNumerically("==", eventstream.SchemaVersionV1)))
		Expect(got).To(HaveKeyWithValue("event_type", eventstream.EventTypeJobUpdated))
		Expect(got).To(HaveKeyWithValue("event_id", "evt_123"))
		Expect(got).To(HaveKey("emitted_at"))

		job, ok := got["job"].(map[string]any)
		Expect(ok).To(BeTrue())
		Expect(job).To(HaveKeyWithValue("job_id", "job-1"))
		Expect(job).To(HaveKeyWithValue("state", "in_progress"))
		Expect(job).To(HaveKeyWithValue("completed_units", BeNumerically("==", 5)))
	})

	It("defines stable event constants", func() {
		Expect(eventstream.SchemaVersionV1).To(BeNumerically(">", 0))
		Expect(eventstream.EventTypeJobUpdated).To(Equal("stacks.job.updated"))
	})

	It("provides ErrNilJobEvent for nil payload validation", func() {
		Expect(eventstream.ErrNilJobEvent).To(MatchError("nil job event"))
	})
})
