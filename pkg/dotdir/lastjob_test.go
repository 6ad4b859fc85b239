package dotdir_test

import (
	"os"
	"path/filepath"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/papercomputeco/stacks/pkg/dotdir"
)

var _ = Describe("dotdir.Manager last job", func() {
	var tmpDir string
	var m *dotdir.Manager

	BeforeEach(func() {
		var err error
		tmpDir, err = os.MkdirTemp("", "dotdir-test-*")
		Expect(err).NotTo(HaveOccurred())
		m = dotdir.NewManager()
	})

	AfterEach(func() {
		os.RemoveAll(tmpDir)
	})

	It("returns nil when no job was recorded", func() {
		job, err := m.LoadLastJob(tmpDir)
		Expect(err).NotTo(HaveOccurred())
		Expect(job).To(BeNil())
	})

	It("saves and loads the last job", func() {
		submitted := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
		Expect(m.SaveLastJob(&dotdir.LastJob{
			JobID:       "job-1",
			DocumentID:  "book-1",
			APITarget:   "http://localhost:8080",
			SubmittedAt: submitted,
		}, tmpDir)).To(Succeed())

		job, err := m.LoadLastJob(tmpDir)
		Expect(err).NotTo(HaveOccurred())
		Expect(job.JobID).To(Equal("job-1"))
		Expect(job.DocumentID).To(Equal("book-1"))
		Expect(job.SubmittedAt.Equal(submitted)).To(BeTrue())
	})

	It("returns error for invalid JSON", func() {
		Expect(os.WriteFile(filepath.Join(tmpDir, "last_job.json"), []byte("not json"), 0o600)).To(Succeed())

		job, err := m.LoadLastJob(tmpDir)
		Expect(err).To(HaveOccurred())
		Expect(job).To(BeNil())
	})

	It("rejects nil jobs", func() {
		Expect(m.SaveLastJob(nil, tmpDir)).To(HaveOccurred())
	})

	It("clears the last job and tolerates a missing file", func() {
		Expect(m.SaveLastJob(&dotdir.LastJob{JobID: "job-1"}, tmpDir)).To(Succeed())
		Expect(m.ClearLastJob(tmpDir)).To(Succeed())

		job, err := m.LoadLastJob(tmpDir)
		Expect(err).NotTo(HaveOccurred())
		Expect(job).To(BeNil())

		Expect(m.ClearLastJob(tmpDir)).To(Succeed())
	})
})
