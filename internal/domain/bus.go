package domain

import (
	"context"
)

// EventBus fans domain events out to subscribers.
// Handlers for one kind run in subscription order; a failing handler never
// stops delivery to the next one and never fails Publish.
type EventBus interface {
	// Subscribe registers a handler for a kind.
	Subscribe(kind EventKind, handler EventHandler) (Subscription, error)

	// Publish delivers one event.
	Publish(ctx context.Context, event Event) error

	// PublishAll delivers events in order.
	PublishAll(ctx context.Context, events []Event) error

	// Lifecycle
	Close() error
}

// EventHandler processes one event.
type EventHandler func(ctx context.Context, event Event) error

// Subscription represents an active subscription.
type Subscription interface {
	// Unsubscribe stops receiving events.
	Unsubscribe() error

	// Kind returns the subscribed event kind.
	Kind() EventKind
}

// EventBusConfig holds configuration for the event bus and its forwarders.
type EventBusConfig struct {
	// BufferSize is the queue length of each subscriber; 0 delivers inline.
	BufferSize int `koanf:"buffer_size" validate:"gte=0"`

	NATS  NATSConfig  `koanf:"nats"`
	Kafka KafkaConfig `koanf:"kafka"`
}

// NATSConfig configures the NATS event forwarder and signal ingest.
type NATSConfig struct {
	Enabled       bool   `koanf:"enabled"`
	URL           string `koanf:"url"`
	Token         string `koanf:"token"`
	MaxReconnects int    `koanf:"max_reconnects" validate:"gte=0"`
	ReconnectWait int    `koanf:"reconnect_wait"` // seconds
	SubjectPrefix string `koanf:"subject_prefix"`
}

// KafkaConfig configures the Kafka event forwarder.
type KafkaConfig struct {
	Enabled bool     `koanf:"enabled"`
	Brokers []string `koanf:"brokers"`
	Topic   string   `koanf:"topic"`
}
