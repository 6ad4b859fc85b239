// Package kafka publishes job events to a Kafka topic.
package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	kafkago "github.com/segmentio/kafka-go"

	"github.com/papercomputeco/stacks/pkg/eventstream"
)

// DefaultTopic receives job events when no topic is configured.
const DefaultTopic = "stacks.jobs"

// Config holds configuration for the Kafka publisher.
type Config struct {
	// Brokers is the bootstrap broker list, e.g. ["localhost:9092"].
	Brokers []string

	// Topic defaults to DefaultTopic.
	Topic string

	// WriteTimeout bounds a single produce call. Defaults to 10s.
	WriteTimeout time.Duration
}

// messageWriter is the subset of *kafkago.Writer the publisher needs.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafkago.Message) error
	Close() error
}

// Publisher writes each event as one message keyed by job id, so that a
// job's updates land on one partition in order.
type Publisher struct {
	writer messageWriter
	topic  string
}

// NewPublisher creates a Kafka publisher. Connections are opened on the
// first write.
func NewPublisher(c Config) (*Publisher, error) {
	if len(c.Brokers) == 0 {
		return nil, fmt.Errorf("kafka brokers are required")
	}

	topic := c.Topic
	if topic == "" {
		topic = DefaultTopic
	}

	timeout := c.WriteTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	return newPublisher(&kafkago.Writer{
		Addr:                   kafkago.TCP(c.Brokers...),
		Topic:                  topic,
		Balancer:               &kafkago.Hash{},
		RequiredAcks:           kafkago.RequireOne,
		WriteTimeout:           timeout,
		AllowAutoTopicCreation: true,
	}, topic), nil
}

func newPublisher(w messageWriter, topic string) *Publisher {
	return &Publisher{writer: w, topic: topic}
}

// PublishJob encodes event as JSON and writes it synchronously.
func (p *Publisher) PublishJob(ctx context.Context, event *eventstream.JobEvent) error {
	if event == nil {
		return eventstream.ErrNilJobEvent
	}

	value, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("encoding job event: %w", err)
	}

	msg := kafkago.Message{
		Key:   []byte(event.Job.ID),
		Value: value,
		Time:  event.EmittedAt,
		Headers: []kafkago.Header{
			{Key: "event_type", Value: []byte(event.EventType)},
			{Key: "schema_version", Value: []byte(strconv.Itoa(event.SchemaVersion))},
		},
	}

	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("publishing job event to %s: %w", p.topic, err)
	}
	return nil
}

// Close flushes pending writes and closes broker connections.
func (p *Publisher) Close() error {
	return p.writer.Close()
}

var _ eventstream.Publisher = (*Publisher)(nil)
