package bus

import (
	"context"
	"fmt"
	"time"

	"github.com/abiolaogu/VoxGuard-sub001/internal/domain"
	"github.com/segmentio/kafka-go"
)

// messageWriter is the part of *kafka.Writer the forwarder uses.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaForwarder copies domain events to one topic, keyed by destination
// number so a destination's events stay on one partition.
type KafkaForwarder struct {
	writer messageWriter
	topic  string
}

// NewKafkaForwarder creates a forwarder writing to cfg.Topic.
func NewKafkaForwarder(cfg domain.KafkaConfig) (*KafkaForwarder, error) {
	if len(cfg.Brokers) == 0 {
		return nil, &domain.ConfigurationError{Field: "eventbus.kafka.brokers", Value: cfg.Brokers, Reason: "at least one broker is required"}
	}
	if cfg.Topic == "" {
		cfg.Topic = "voxguard.events"
	}
	w := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.Hash{},
		BatchTimeout: 10 * time.Millisecond,
		RequiredAcks: kafka.RequireOne,
	}
	return &KafkaForwarder{writer: w, topic: cfg.Topic}, nil
}

func (f *KafkaForwarder) Name() string { return "kafka" }

// Handle writes one event.
func (f *KafkaForwarder) Handle(ctx context.Context, ev domain.Event) error {
	data, err := EncodeEvent(ev)
	if err != nil {
		return err
	}
	msg := kafka.Message{
		Key:   []byte(ev.Key()),
		Value: data,
		Time:  ev.OccurredAt,
		Headers: []kafka.Header{
			{Key: "kind", Value: []byte(ev.Kind)},
			{Key: "event_id", Value: []byte(ev.ID)},
		},
	}
	if err := f.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("failed to write to kafka topic %s: %w", f.topic, err)
	}
	return nil
}

// Close flushes pending writes.
func (f *KafkaForwarder) Close() error {
	return f.writer.Close()
}
