package bus

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/abiolaogu/VoxGuard-sub001/internal/domain"
	"github.com/segmentio/kafka-go"
)

func testAlert() *domain.FraudAlert {
	return domain.NewFraudAlert("+19876543210", domain.FraudSIMBox, 6, 0.81, "rules",
		[]string{"+15550000001"}, []string{"10.1.1.1"}, time.Now())
}

func TestChannelBusInline(t *testing.T) {
	bus := NewChannelBus(0)
	defer bus.Close()

	ctx := context.Background()

	t.Run("HandlersRunInSubscriptionOrder", func(t *testing.T) {
		var order []string
		for _, name := range []string{"first", "second", "third"} {
			name := name
			_, err := bus.Subscribe(domain.EventFraudDetected, func(ctx context.Context, ev domain.Event) error {
				order = append(order, name)
				return nil
			})
			if err != nil {
				t.Fatalf("subscribe failed: %v", err)
			}
		}

		if err := bus.Publish(ctx, domain.NewFraudDetectedEvent(testAlert(), time.Now())); err != nil {
			t.Fatalf("publish failed: %v", err)
		}

		if len(order) != 3 || order[0] != "first" || order[1] != "second" || order[2] != "third" {
			t.Errorf("expected [first second third], got %v", order)
		}
	})

	t.Run("FailingHandlerIsIsolated", func(t *testing.T) {
		var after atomic.Int32
		bus.Subscribe(domain.EventAlertResolved, func(ctx context.Context, ev domain.Event) error {
			return errors.New("webhook returned 502")
		})
		bus.Subscribe(domain.EventAlertResolved, func(ctx context.Context, ev domain.Event) error {
			panic("nil map")
		})
		bus.Subscribe(domain.EventAlertResolved, func(ctx context.Context, ev domain.Event) error {
			after.Add(1)
			return nil
		})

		if err := bus.Publish(ctx, domain.NewAlertResolvedEvent(testAlert(), time.Now())); err != nil {
			t.Fatalf("publish should not fail on handler errors: %v", err)
		}
		if after.Load() != 1 {
			t.Errorf("expected the third handler to run once, got %d", after.Load())
		}
	})

	t.Run("KindsAreSeparate", func(t *testing.T) {
		var count atomic.Int32
		bus.Subscribe(domain.EventReportSubmitted, func(ctx context.Context, ev domain.Event) error {
			count.Add(1)
			return nil
		})

		bus.Publish(ctx, domain.NewAlertAcknowledgedEvent(testAlert(), time.Now()))
		if count.Load() != 0 {
			t.Errorf("expected 0 report events, got %d", count.Load())
		}
	})

	t.Run("Unsubscribe", func(t *testing.T) {
		var count atomic.Int32
		sub, _ := bus.Subscribe(domain.EventCallRegistered, func(ctx context.Context, ev domain.Event) error {
			count.Add(1)
			return nil
		})
		if sub.Kind() != domain.EventCallRegistered {
			t.Errorf("expected kind %s, got %s", domain.EventCallRegistered, sub.Kind())
		}

		call := domain.NewCall("abc@10.0.0.1", "+15550000001", "+19876543210", "10.0.0.1", time.Now())
		bus.Publish(ctx, domain.NewCallRegisteredEvent(call, time.Now()))
		if err := sub.Unsubscribe(); err != nil {
			t.Fatalf("unsubscribe failed: %v", err)
		}
		bus.Publish(ctx, domain.NewCallRegisteredEvent(call, time.Now()))

		if count.Load() != 1 {
			t.Errorf("expected 1 event before unsubscribe, got %d", count.Load())
		}
	})

	t.Run("NilHandler", func(t *testing.T) {
		if _, err := bus.Subscribe(domain.EventCallRegistered, nil); !errors.Is(err, domain.ErrInvalidInput) {
			t.Errorf("expected ErrInvalidInput, got %v", err)
		}
	})
}

func TestChannelBusPublishAllKeepsOrder(t *testing.T) {
	bus := NewChannelBus(16)

	var mu sync.Mutex
	var kinds []domain.EventKind
	record := func(ctx context.Context, ev domain.Event) error {
		mu.Lock()
		kinds = append(kinds, ev.Kind)
		mu.Unlock()
		return nil
	}
	if _, err := bus.SubscribeKinds([]domain.EventKind{domain.EventFraudDetected, domain.EventGatewayBlacklisted}, record); err != nil {
		t.Fatalf("subscribe failed: %v", err)
	}

	a := testAlert()
	entry := domain.NewBlacklistEntry("10.1.1.1", "auto-block", a.ID, time.Now(), time.Hour)
	events := []domain.Event{
		domain.NewFraudDetectedEvent(a, time.Now()),
		domain.NewGatewayBlacklistedEvent(entry, time.Now()),
	}

	ctx, cancel := context.WithCancel(context.Background())
	if err := bus.PublishAll(ctx, events); err != nil {
		t.Fatalf("publish failed: %v", err)
	}
	// A cancelled request context does not stop queued delivery.
	cancel()

	if err := bus.Close(); err != nil {
		t.Fatalf("close failed: %v", err)
	}

	if len(kinds) != 2 || kinds[0] != domain.EventFraudDetected || kinds[1] != domain.EventGatewayBlacklisted {
		t.Errorf("expected fraud.detected then gateway.blacklisted, got %v", kinds)
	}
}

func TestChannelBusClose(t *testing.T) {
	bus := NewChannelBus(100)
	ctx := context.Background()

	var closed atomic.Bool
	bus.OnClose(func() error {
		closed.Store(true)
		return nil
	})

	if err := bus.Close(); err != nil {
		t.Errorf("close failed: %v", err)
	}
	if !closed.Load() {
		t.Error("expected close hooks to run")
	}
	if err := bus.Close(); err != nil {
		t.Errorf("second close failed: %v", err)
	}

	if err := bus.Publish(ctx, domain.NewAlertAcknowledgedEvent(testAlert(), time.Now())); !errors.Is(err, ErrClosed) {
		t.Errorf("expected ErrClosed, got %v", err)
	}
	if _, err := bus.Subscribe(domain.EventAlertAcknowledged, func(context.Context, domain.Event) error { return nil }); !errors.Is(err, ErrClosed) {
		t.Errorf("expected ErrClosed on subscribe, got %v", err)
	}
	if err := bus.Ping(ctx); err == nil {
		t.Error("expected ping error after close")
	}
}

func TestChannelBusSlowSubscriberIsolated(t *testing.T) {
	bus := NewChannelBus(4)

	release := make(chan struct{})
	var slow, fast atomic.Int32
	bus.Subscribe(domain.EventCallRegistered, func(ctx context.Context, ev domain.Event) error {
		<-release
		slow.Add(1)
		return nil
	})
	bus.Subscribe(domain.EventCallRegistered, func(ctx context.Context, ev domain.Event) error {
		fast.Add(1)
		return nil
	})

	call := domain.NewCall("slow@10.0.0.1", "+15550000001", "+19876543210", "", time.Now())
	ctx := context.Background()

	const events = 20
	for i := 1; i <= events; i++ {
		if err := bus.Publish(ctx, domain.NewCallRegisteredEvent(call, time.Now())); err != nil {
			t.Fatalf("publish %d failed: %v", i, err)
		}
		deadline := time.Now().Add(time.Second)
		for fast.Load() < int32(i) {
			if time.Now().After(deadline) {
				t.Fatalf("fast subscriber stalled at %d/%d", fast.Load(), i)
			}
			time.Sleep(time.Millisecond)
		}
	}

	close(release)
	if err := bus.Close(); err != nil {
		t.Fatalf("close failed: %v", err)
	}

	if fast.Load() != events {
		t.Errorf("expected fast subscriber to see %d events, got %d", events, fast.Load())
	}
	// One event in the handler plus a full queue; the rest were dropped.
	if got := slow.Load(); got < 4 || got > 5 {
		t.Errorf("expected the slow subscriber to keep 4-5 events, got %d", got)
	}
}

func TestChannelBusUnsubscribeAsync(t *testing.T) {
	bus := NewChannelBus(8)
	defer bus.Close()

	var count atomic.Int32
	sub, err := bus.SubscribeKinds([]domain.EventKind{domain.EventAlertAcknowledged, domain.EventAlertResolved}, func(context.Context, domain.Event) error {
		count.Add(1)
		return nil
	})
	if err != nil {
		t.Fatalf("subscribe failed: %v", err)
	}
	if sub.Kind() != domain.EventAlertAcknowledged {
		t.Errorf("expected first kind, got %s", sub.Kind())
	}
	if err := sub.Unsubscribe(); err != nil {
		t.Fatalf("unsubscribe failed: %v", err)
	}
	if err := sub.Unsubscribe(); err != nil {
		t.Fatalf("second unsubscribe failed: %v", err)
	}

	if err := bus.Publish(context.Background(), domain.NewAlertResolvedEvent(testAlert(), time.Now())); err != nil {
		t.Fatalf("publish failed: %v", err)
	}
	if _, err := bus.SubscribeKinds(nil, func(context.Context, domain.Event) error { return nil }); !errors.Is(err, domain.ErrInvalidInput) {
		t.Errorf("expected ErrInvalidInput, got %v", err)
	}
	if count.Load() != 0 {
		t.Errorf("expected no delivery after unsubscribe, got %d", count.Load())
	}
}

func TestChannelBusHighLoad(t *testing.T) {
	bus := NewChannelBus(1000)
	defer bus.Close()

	ctx := context.Background()

	var received atomic.Int32
	const eventCount = 100

	var wg sync.WaitGroup
	wg.Add(eventCount)

	bus.Subscribe(domain.EventCallRegistered, func(ctx context.Context, ev domain.Event) error {
		received.Add(1)
		wg.Done()
		return nil
	})

	call := domain.NewCall("load@10.0.0.1", "+15550000001", "+19876543210", "", time.Now())
	for i := 0; i < eventCount; i++ {
		bus.Publish(ctx, domain.NewCallRegisteredEvent(call, time.Now()))
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		if received.Load() != eventCount {
			t.Errorf("expected %d events, got %d", eventCount, received.Load())
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("timeout: received %d/%d events", received.Load(), eventCount)
	}
}

type fakePublisher struct {
	mu       sync.Mutex
	subjects []string
	payloads [][]byte
	err      error
}

func (p *fakePublisher) Publish(subject string, data []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.subjects = append(p.subjects, subject)
	p.payloads = append(p.payloads, data)
	return nil
}

func TestNATSForwarder(t *testing.T) {
	pub := &fakePublisher{}
	fwd := newNATSForwarder(pub, "")
	bus := NewChannelBus(0)
	defer bus.Close()

	if err := Forward(bus, fwd, domain.BreakerConfig{}); err != nil {
		t.Fatalf("forward failed: %v", err)
	}

	a := testAlert()
	bus.Publish(context.Background(), domain.NewFraudDetectedEvent(a, time.Now()))

	if len(pub.subjects) != 1 || pub.subjects[0] != "voxguard.events.fraud.detected" {
		t.Fatalf("expected one publish to voxguard.events.fraud.detected, got %v", pub.subjects)
	}

	ev, err := DecodeEvent(pub.payloads[0])
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if ev.FraudDetected == nil || ev.FraudDetected.AlertID != a.ID {
		t.Errorf("expected fraud payload for alert %s, got %+v", a.ID, ev.FraudDetected)
	}
	if ev.FraudDetected.DistinctCallers != 6 {
		t.Errorf("expected 6 distinct callers, got %d", ev.FraudDetected.DistinctCallers)
	}
}

func TestForwarderBreakerOpens(t *testing.T) {
	pub := &fakePublisher{err: errors.New("nats: connection closed")}
	bus := NewChannelBus(0)
	defer bus.Close()

	if err := Forward(bus, newNATSForwarder(pub, "vg"), domain.BreakerConfig{FailureThreshold: 2, Timeout: time.Minute}); err != nil {
		t.Fatalf("forward failed: %v", err)
	}

	var local atomic.Int32
	bus.Subscribe(domain.EventAlertAcknowledged, func(context.Context, domain.Event) error {
		local.Add(1)
		return nil
	})

	for i := 0; i < 5; i++ {
		if err := bus.Publish(context.Background(), domain.NewAlertAcknowledgedEvent(testAlert(), time.Now())); err != nil {
			t.Fatalf("publish failed: %v", err)
		}
	}
	if local.Load() != 5 {
		t.Errorf("expected local handler to see 5 events, got %d", local.Load())
	}
}

type fakeWriter struct {
	msgs   []kafka.Message
	closed bool
}

func (w *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *fakeWriter) Close() error {
	w.closed = true
	return nil
}

func TestKafkaForwarder(t *testing.T) {
	w := &fakeWriter{}
	fwd := &KafkaForwarder{writer: w, topic: "voxguard.events"}

	entry := domain.NewBlacklistEntry("10.1.1.1", "auto-block", "alert-1", time.Now(), time.Hour)
	if err := fwd.Handle(context.Background(), domain.NewGatewayBlacklistedEvent(entry, time.Now())); err != nil {
		t.Fatalf("handle failed: %v", err)
	}

	if len(w.msgs) != 1 {
		t.Fatalf("expected 1 message, got %d", len(w.msgs))
	}
	msg := w.msgs[0]
	if string(msg.Key) != "10.1.1.1" {
		t.Errorf("expected key 10.1.1.1, got %s", msg.Key)
	}
	if len(msg.Headers) == 0 || string(msg.Headers[0].Value) != string(domain.EventGatewayBlacklisted) {
		t.Errorf("expected kind header, got %+v", msg.Headers)
	}

	if err := fwd.Close(); err != nil || !w.closed {
		t.Errorf("expected writer to be closed, err=%v", err)
	}
}

func TestNew(t *testing.T) {
	t.Run("InProcessOnly", func(t *testing.T) {
		bus, err := New(domain.EventBusConfig{BufferSize: 10}, nil, domain.BreakerConfig{})
		if err != nil {
			t.Fatalf("New failed: %v", err)
		}
		defer bus.Close()
		if err := bus.Ping(context.Background()); err != nil {
			t.Errorf("ping failed: %v", err)
		}
	})

	t.Run("NATSWithoutConnection", func(t *testing.T) {
		cfg := domain.EventBusConfig{NATS: domain.NATSConfig{Enabled: true}}
		if _, err := New(cfg, nil, domain.BreakerConfig{}); err == nil {
			t.Error("expected error when NATS is enabled without a connection")
		}
	})

	t.Run("KafkaWithoutBrokers", func(t *testing.T) {
		cfg := domain.EventBusConfig{Kafka: domain.KafkaConfig{Enabled: true}}
		_, err := New(cfg, nil, domain.BreakerConfig{})
		if !errors.Is(err, domain.ErrConfiguration) {
			t.Errorf("expected configuration error, got %v", err)
		}
	})
}
