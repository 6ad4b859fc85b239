package kafka

type MessageWriter = messageWriter

func NewPublisherWithWriter(w MessageWriter, topic string) *Publisher {
	return newPublisher(w, topic)
}
