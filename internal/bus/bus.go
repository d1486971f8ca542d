package bus

import (
	"context"
	"fmt"
	"time"

	"github.com/abiolaogu/VoxGuard-sub001/internal/domain"
	"github.com/abiolaogu/VoxGuard-sub001/internal/resilience"
	"github.com/nats-io/nats.go"
)

// Forwarder copies events to an external system.
type Forwarder interface {
	Name() string
	Handle(ctx context.Context, ev domain.Event) error
}

// forwardTimeout bounds one forwarded event.
const forwardTimeout = 5 * time.Second

// New creates the in-process bus and attaches the forwarders enabled in cfg.
// nc may be nil when NATS is disabled; the caller owns it.
func New(cfg domain.EventBusConfig, nc *nats.Conn, breaker domain.BreakerConfig) (*ChannelBus, error) {
	b := NewChannelBus(cfg.BufferSize)

	if cfg.NATS.Enabled {
		if nc == nil {
			_ = b.Close()
			return nil, fmt.Errorf("eventbus: NATS forwarding enabled without a connection")
		}
		if err := Forward(b, NewNATSForwarder(nc, cfg.NATS.SubjectPrefix), breaker); err != nil {
			_ = b.Close()
			return nil, err
		}
	}

	if cfg.Kafka.Enabled {
		kf, err := NewKafkaForwarder(cfg.Kafka)
		if err != nil {
			_ = b.Close()
			return nil, err
		}
		if err := Forward(b, kf, breaker); err != nil {
			_ = kf.Close()
			_ = b.Close()
			return nil, err
		}
		b.OnClose(kf.Close)
	}

	return b, nil
}

// Forward subscribes f to every event kind on one queue behind a circuit
// breaker. An unreachable broker fails fast and only ever backs up f's queue.
func Forward(b *ChannelBus, f Forwarder, breaker domain.BreakerConfig) error {
	cb := resilience.NewBreaker("forward-"+f.Name(), breaker)
	handler := func(ctx context.Context, ev domain.Event) error {
		ctx, cancel := context.WithTimeout(ctx, forwardTimeout)
		defer cancel()
		_, err := cb.Execute(func() (interface{}, error) {
			return nil, f.Handle(ctx, ev)
		})
		return err
	}

	if _, err := b.SubscribeKinds(domain.EventKinds(), handler); err != nil {
		return fmt.Errorf("failed to attach %s forwarder: %w", f.Name(), err)
	}
	return nil
}
