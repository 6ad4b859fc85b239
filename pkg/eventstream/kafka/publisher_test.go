package kafka_test

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	kafkago "github.com/segmentio/kafka-go"

	"github.com/papercomputeco/stacks/pkg/eventstream"
	"github.com/papercomputeco/stacks/pkg/eventstream/kafka"
	"github.com/papercomputeco/stacks/pkg/jobs"
)

type recordingWriter struct {
	messages []kafkago.Message
	err      error
	closed   bool
}

func (w *recordingWriter) WriteMessages(_ context.Context, msgs ...kafkago.Message) error {
	if w.err != nil {
		return w.err
	}
	w.messages = append(w.messages, msgs...)
	return nil
}

func (w *recordingWriter) Close() error {
	w.closed = true
	return nil
}

var _ = Describe("Publisher", func() {
	var (
		writer *recordingWriter
		pub    *kafka.Publisher
		event  *eventstream.JobEvent
	)

	BeforeEach(func() {
		writer = &recordingWriter{}
		pub = kafka.NewPublisherWithWriter(writer, "stacks.jobs")

		now := time.Unix(1735689600, 0).UTC()
		event = eventstream.NewJobEvent("evt-1", jobs.NewSnapshot("job-42", "book-1", 3, now), now)
	})

	It("requires brokers", func() {
		_, err := kafka.NewPublisher(kafka.Config{})
		Expect(err).To(HaveOccurred())
	})

	It("builds a publisher without dialing", func() {
		p, err := kafka.NewPublisher(kafka.Config{Brokers: []string{"127.0.0.1:1"}})
		Expect(err).NotTo(HaveOccurred())
		Expect(p.Close()).To(Succeed())
	})

	It("rejects nil events", func() {
		Expect(pub.PublishJob(context.Background(), nil)).To(MatchError(eventstream.ErrNilJobEvent))
		Expect(writer.messages).To(BeEmpty())
	})

	It("keys messages by job id and encodes the event as JSON", func() {
		Expect(pub.PublishJob(context.Background(), event)).To(Succeed())
		Expect(writer.messages).To(HaveLen(1))

		msg := writer.messages[0]
		Expect(string(msg.Key)).To(Equal("job-42"))

		var decoded eventstream.JobEvent
		Expect(json.Unmarshal(msg.Value, &decoded)).To(Succeed())
		Expect(decoded.EventID).To(Equal("evt-1"))
		Expect(decoded.Job.ID).To(Equal("job-42"))
		Expect(decoded.Job.State).To(Equal(jobs.StatePending))

		Expect(msg.Headers).To(ContainElement(kafkago.Header{Key: "event_type", Value: []byte(eventstream.EventTypeJobUpdated)}))
	})

	It("wraps writer errors", func() {
		writer.err = errors.New("broker down")
		err := pub.PublishJob(context.Background(), event)
		Expect(err).To(MatchError(ContainSubstring("broker down")))
		Expect(err).To(MatchError(ContainSubstring("stacks.jobs")))
	})

	It("closes the writer", func() {
		Expect(pub.Close()).To(Succeed())
		Expect(writer.closed).To(BeTrue())
	})
})
