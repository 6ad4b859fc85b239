package inmemory_test

import (
	"context"
	"errors"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/papercomputeco/stacks/pkg/document"
	"github.com/papercomputeco/stacks/pkg/logger"
	"github.com/papercomputeco/stacks/pkg/vector"
	"github.com/papercomputeco/stacks/pkg/vector/inmemory"
)

func record(docID string, index int, text string, vec ...float32) vector.Record {
	return vector.Record{
		ID:      document.PassageID(docID, index),
		Vector:  vec,
		Payload: vector.Payload{DocumentID: docID, Index: index, Text: text},
	}
}

var _ = Describe("Driver", func() {
	var (
		ctx    context.Context
		driver *inmemory.Driver
	)

	BeforeEach(func() {
		ctx = context.Background()
		driver = inmemory.NewDriver(inmemory.Config{}, logger.Nop())
	})

	It("adopts the dimensionality of the first upsert", func() {
		Expect(driver.Upsert(ctx, []vector.Record{record("a", 0, "x", 1, 0)})).To(Succeed())
		err := driver.Upsert(ctx, []vector.Record{record("a", 1, "y", 1, 0, 0)})
		Expect(errors.Is(err, vector.ErrDimensionMismatch)).To(BeTrue())
	})

	It("is idempotent by record id, last write wins", func() {
		Expect(driver.Upsert(ctx, []vector.Record{record("a", 0, "first", 1, 0), record("a", 1, "other", 0, 1)})).To(Succeed())
		Expect(driver.Upsert(ctx, []vector.Record{record("a", 0, "second", 1, 0)})).To(Succeed())

		Expect(driver.Len()).To(Equal(2))
		r, ok := driver.Get(document.PassageID("a", 0))
		Expect(ok).To(BeTrue())
		Expect(r.Payload.Text).To(Equal("second"))
	})

	It("does not alias caller vectors", func() {
		vec := []float32{1, 0}
		Expect(driver.Upsert(ctx, []vector.Record{record("a", 0, "x", vec...)})).To(Succeed())
		vec[0] = 0

		r, _ := driver.Get(document.PassageID("a", 0))
		Expect(r.Vector).To(Equal([]float32{1, 0}))
	})

	Context("searching", func() {
		BeforeEach(func() {
			Expect(driver.Upsert(ctx, []vector.Record{
				record("a", 0, "east", 1, 0),
				record("a", 1, "north", 0, 1),
				record("b", 0, "east too", 1, 0),
				record("b", 1, "north-east", 1, 1),
			})).To(Succeed())
		})

		It("returns nearest records with ties broken by index then document", func() {
			results, err := driver.Search(ctx, []float32{1, 0}, 3, nil)
			Expect(err).NotTo(HaveOccurred())
			Expect(results).To(HaveLen(3))
			Expect(results[0].Payload.DocumentID).To(Equal("a"))
			Expect(results[1].Payload.DocumentID).To(Equal("b"))
			Expect(results[1].Payload.Index).To(Equal(0))
			Expect(results[2].Payload.Text).To(Equal("north-east"))
		})

		It("applies the document filter", func() {
			results, err := driver.Search(ctx, []float32{1, 0}, 10, &vector.Filter{DocumentIDs: []string{"b"}})
			Expect(err).NotTo(HaveOccurred())
			Expect(results).To(HaveLen(2))
			Expect(results[0].Payload.Text).To(Equal("east too"))
		})

		It("returns nothing for a non-positive limit", func() {
			results, err := driver.Search(ctx, []float32{1, 0}, 0, nil)
			Expect(err).NotTo(HaveOccurred())
			Expect(results).To(BeEmpty())
		})

		It("rejects queries of the wrong size", func() {
			_, err := driver.Search(ctx, []float32{1, 0, 0}, 3, nil)
			Expect(errors.Is(err, vector.ErrDimensionMismatch)).To(BeTrue())
		})

		It("deletes by document", func() {
			Expect(driver.Delete(ctx, vector.Filter{DocumentIDs: []string{"a"}})).To(Succeed())
			Expect(driver.Len()).To(Equal(2))
		})

		It("refuses an empty delete filter", func() {
			err := driver.Delete(ctx, vector.Filter{})
			Expect(errors.Is(err, vector.ErrEmptyFilter)).To(BeTrue())
			Expect(driver.Len()).To(Equal(4))
		})
	})
})
