package jobs_test

import (
	"errors"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/papercomputeco/stacks/pkg/jobs"
)

func snap(state jobs.State, completed, total int) jobs.Snapshot {
	return jobs.Snapshot{ID: "job-1", DocumentID: "book", State: state, CompletedUnits: completed, TotalUnits: total}
}

var _ = Describe("CheckTransition", func() {
	DescribeTable("allowed transitions",
		func(prev *jobs.Snapshot, next jobs.Snapshot) {
			Expect(jobs.CheckTransition(prev, next)).To(Succeed())
		},
		Entry("create pending", nil, snap(jobs.StatePending, 0, 10)),
		Entry("start", ptr(snap(jobs.StatePending, 0, 10)), snap(jobs.StateInProgress, 0, 10)),
		Entry("fail before start", ptr(snap(jobs.StatePending, 0, 10)), snap(jobs.StateFailed, 0, 10)),
		Entry("progress", ptr(snap(jobs.StateInProgress, 2, 10)), snap(jobs.StateInProgress, 5, 10)),
		Entry("same progress", ptr(snap(jobs.StateInProgress, 5, 10)), snap(jobs.StateInProgress, 5, 10)),
		Entry("succeed", ptr(snap(jobs.StateInProgress, 9, 10)), snap(jobs.StateSucceeded, 10, 10)),
		Entry("fail midway", ptr(snap(jobs.StateInProgress, 4, 10)), snap(jobs.StateFailed, 4, 10)),
		Entry("empty job succeeds", ptr(snap(jobs.StateInProgress, 0, 0)), snap(jobs.StateSucceeded, 0, 0)),
	)

	DescribeTable("rejected transitions",
		func(prev *jobs.Snapshot, next jobs.Snapshot) {
			err := jobs.CheckTransition(prev, next)
			Expect(errors.Is(err, jobs.ErrInvalidTransition)).To(BeTrue())

			var terr *jobs.TransitionError
			Expect(errors.As(err, &terr)).To(BeTrue())
			Expect(terr.JobID).To(Equal("job-1"))
		},
		Entry("create in progress", nil, snap(jobs.StateInProgress, 0, 10)),
		Entry("completed above total", nil, snap(jobs.StatePending, 11, 10)),
		Entry("progress goes backwards", ptr(snap(jobs.StateInProgress, 5, 10)), snap(jobs.StateInProgress, 4, 10)),
		Entry("total changes", ptr(snap(jobs.StateInProgress, 5, 10)), snap(jobs.StateInProgress, 5, 12)),
		Entry("succeed without starting", ptr(snap(jobs.StatePending, 0, 0)), snap(jobs.StateSucceeded, 0, 0)),
		Entry("succeed with work left", ptr(snap(jobs.StateInProgress, 5, 10)), snap(jobs.StateSucceeded, 5, 10)),
		Entry("back to pending", ptr(snap(jobs.StateInProgress, 0, 10)), snap(jobs.StatePending, 0, 10)),
		Entry("leave succeeded", ptr(snap(jobs.StateSucceeded, 10, 10)), snap(jobs.StateFailed, 10, 10)),
		Entry("leave failed", ptr(snap(jobs.StateFailed, 3, 10)), snap(jobs.StateInProgress, 3, 10)),
		Entry("progress after failure", ptr(snap(jobs.StateFailed, 3, 10)), snap(jobs.StateFailed, 4, 10)),
		Entry("unknown state", nil, snap(jobs.State("paused"), 0, 10)),
	)

	It("requires a job id", func() {
		err := jobs.CheckTransition(nil, jobs.Snapshot{State: jobs.StatePending})
		Expect(errors.Is(err, jobs.ErrInvalidTransition)).To(BeTrue())
	})
})

var _ = Describe("Snapshot", func() {
	It("creates pending snapshots", func() {
		now := time.Now()
		s := jobs.NewSnapshot("id", "doc", 7, now)
		Expect(s.State).To(Equal(jobs.StatePending))
		Expect(s.TotalUnits).To(Equal(7))
		Expect(s.CreatedAt).To(Equal(now))
	})

	It("reports percent complete", func() {
		Expect(snap(jobs.StateInProgress, 5, 10).Percent()).To(Equal(50))
		Expect(snap(jobs.StateSucceeded, 0, 0).Percent()).To(Equal(100))
		Expect(snap(jobs.StatePending, 0, 0).Percent()).To(Equal(0))
	})

	It("knows terminal states", func() {
		Expect(jobs.StateSucceeded.Terminal()).To(BeTrue())
		Expect(jobs.StateFailed.Terminal()).To(BeTrue())
		Expect(jobs.StateInProgress.Terminal()).To(BeFalse())
		Expect(jobs.StatePending.Terminal()).To(BeFalse())
	})
})

func ptr[T any](v T) *T {
	return &v
}
