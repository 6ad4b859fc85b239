package qdrant_test

import (
	"context"
	"errors"
	"fmt"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	qc "github.com/qdrant/go-client/qdrant"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/papercomputeco/stacks/pkg/document"
	"github.com/papercomputeco/stacks/pkg/gateway"
	"github.com/papercomputeco/stacks/pkg/logger"
	"github.com/papercomputeco/stacks/pkg/vector"
	"github.com/papercomputeco/stacks/pkg/vector/qdrant"
)

var _ = Describe("Driver", func() {
	Describe("NewDriver", func() {
		It("requires a host", func() {
			_, err := qdrant.NewDriver(qdrant.Config{Dimensions: 4}, logger.Nop())
			Expect(err).To(MatchError(ContainSubstring("host is required")))
		})

		It("requires dimensions", func() {
			_, err := qdrant.NewDriver(qdrant.Config{Host: "localhost"}, logger.Nop())
			Expect(err).To(MatchError(ContainSubstring("dimensions")))
		})

		It("does not dial until first use", func() {
			d, err := qdrant.NewDriver(qdrant.Config{Host: "localhost", Dimensions: 4}, logger.Nop())
			Expect(err).NotTo(HaveOccurred())
			Expect(d.Close()).To(Succeed())
		})
	})

	It("rejects an empty delete filter before touching the network", func() {
		d, err := qdrant.NewDriver(qdrant.Config{Host: "localhost", Dimensions: 4}, logger.Nop())
		Expect(err).NotTo(HaveOccurred())
		defer d.Close()

		err = d.Delete(context.Background(), vector.Filter{})
		Expect(errors.Is(err, vector.ErrEmptyFilter)).To(BeTrue())
		Expect(gateway.KindOf(err)).To(Equal(gateway.KindInvalidInput))
	})

	It("rejects records of the wrong size before touching the network", func() {
		d, err := qdrant.NewDriver(qdrant.Config{Host: "localhost", Dimensions: 4}, logger.Nop())
		Expect(err).NotTo(HaveOccurred())
		defer d.Close()

		err = d.Upsert(context.Background(), []vector.Record{{ID: "x", Vector: []float32{1, 2}}})
		Expect(errors.Is(err, vector.ErrDimensionMismatch)).To(BeTrue())
	})

	Describe("point conversion", func() {
		It("round-trips a record through a scored point", func() {
			id := document.PassageID("book-1", 4)
			point := qdrant.ToPoint(vector.Record{
				ID:     id,
				Vector: []float32{1, 0, 0, 0},
				Payload: vector.Payload{
					DocumentID: "book-1",
					Index:      4,
					Text:       "a passage",
					Page:       12,
					Title:      "Atlas",
				},
			})

			Expect(point.GetId().GetUuid()).To(Equal(id))
			Expect(point.GetPayload()["document_id"].GetStringValue()).To(Equal("book-1"))

			got := qdrant.FromScoredPoint(&qc.ScoredPoint{
				Id:      point.GetId(),
				Payload: point.GetPayload(),
				Score:   0.75,
			})
			Expect(got.ID).To(Equal(id))
			Expect(got.Score).To(BeNumerically("==", 0.75))
			Expect(got.Payload).To(Equal(vector.Payload{
				DocumentID: "book-1",
				Index:      4,
				Text:       "a passage",
				Page:       12,
				Title:      "Atlas",
			}))
		})

		It("omits unknown pages and titles", func() {
			point := qdrant.ToPoint(vector.Record{ID: document.PassageID("b", 0), Vector: []float32{1}, Payload: vector.Payload{DocumentID: "b"}})
			Expect(point.GetPayload()).NotTo(HaveKey("page_number"))
			Expect(point.GetPayload()).NotTo(HaveKey("title"))
		})
	})

	Describe("filters", func() {
		It("is nil for an empty filter", func() {
			Expect(qdrant.ToFilter(nil)).To(BeNil())
			Expect(qdrant.ToFilter(&vector.Filter{})).To(BeNil())
		})

		It("matches document ids as keywords", func() {
			f := qdrant.ToFilter(&vector.Filter{DocumentIDs: []string{"a", "b"}})
			Expect(f.GetMust()).To(HaveLen(1))
			match := f.GetMust()[0].GetField()
			Expect(match.GetKey()).To(Equal("document_id"))
			Expect(match.GetMatch().GetKeywords().GetStrings()).To(Equal([]string{"a", "b"}))
		})
	})

	DescribeTable("classifies gRPC status codes",
		func(code codes.Code, kind gateway.Kind) {
			err := qdrant.Classify("qdrant.test", fmt.Errorf("wrapped: %w", status.Error(code, "boom")))
			Expect(gateway.KindOf(err)).To(Equal(kind))
		},
		Entry("unavailable", codes.Unavailable, gateway.KindUnavailable),
		Entry("deadline", codes.DeadlineExceeded, gateway.KindTimeout),
		Entry("unauthenticated", codes.Unauthenticated, gateway.KindUnauthorized),
		Entry("invalid argument", codes.InvalidArgument, gateway.KindInvalidInput),
		Entry("already exists", codes.AlreadyExists, gateway.KindConflict),
		Entry("not found", codes.NotFound, gateway.KindNotFound),
		Entry("resource exhausted", codes.ResourceExhausted, gateway.KindRateLimited),
	)

	It("classifies context deadlines as timeouts", func() {
		err := qdrant.Classify("qdrant.test", context.DeadlineExceeded)
		Expect(gateway.KindOf(err)).To(Equal(gateway.KindTimeout))
	})
})
