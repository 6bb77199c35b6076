package progress

import (
	"context"
	"fmt"
	"time"

	kafkago "github.com/segmentio/kafka-go"

	"github.com/cochaviz/executor-builder/internal/models"
)

var _ Sink = (*KafkaSink)(nil)

// KafkaConfig configures the Kafka progress sink.
type KafkaConfig struct {
	Brokers []string
	Topic   string
}

// KafkaSink publishes progress events to a Kafka topic keyed by recipient, so
// every event of one observer lands on the same partition in order.
type KafkaSink struct {
	writer messageWriter
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafkago.Message) error
	Close() error
}

// NewKafkaSink constructs a sink using the supplied configuration.
func NewKafkaSink(cfg KafkaConfig) (*KafkaSink, error) {
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("at least one broker must be provided")
	}
	if cfg.Topic == "" {
		return nil, fmt.Errorf("topic must be provided")
	}

	writer := &kafkago.Writer{
		Addr:                   kafkago.TCP(cfg.Brokers...),
		Topic:                  cfg.Topic,
		AllowAutoTopicCreation: true,
		Balancer:               &kafkago.Hash{},
		RequiredAcks:           kafkago.RequireOne,
		BatchTimeout:           10 * time.Millisecond,
	}

	return newKafkaSink(writer), nil
}

func newKafkaSink(writer messageWriter) *KafkaSink {
	return &KafkaSink{writer: writer}
}

// Publish serializes and writes the event to Kafka.
func (s *KafkaSink) Publish(ctx context.Context, event models.ProgressEvent) error {
	if s.writer == nil {
		return fmt.Errorf("sink is not initialized")
	}

	payload, err := encodeEvent(event)
	if err != nil {
		return err
	}

	msg := kafkago.Message{
		Key:   []byte(event.RecipientID),
		Value: payload,
		Time:  event.Timestamp,
	}

	if err := s.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("write message: %w", err)
	}
	return nil
}

// Close releases the underlying Kafka writer.
func (s *KafkaSink) Close() error {
	if s.writer == nil {
		return nil
	}
	return s.writer.Close()
}
