// Package bus provides the in-process event bus and the forwarders that copy
// domain events to NATS and Kafka.
package bus

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/abiolaogu/VoxGuard-sub001/internal/domain"
	"github.com/abiolaogu/VoxGuard-sub001/internal/logging"
	"github.com/abiolaogu/VoxGuard-sub001/internal/metrics"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// ErrClosed is returned by Publish and Subscribe after Close.
var ErrClosed = errors.New("event bus is closed")

// ChannelBus implements EventBus in process.
//
// With a zero buffer Publish runs every handler before returning, in
// subscription order. Otherwise every subscription owns a buffered channel
// and a goroutine: a subscriber sees events in publish order, and a slow one
// only loses its own events once its buffer is full.
type ChannelBus struct {
	mu            sync.RWMutex
	bufferSize    int
	subscriptions map[domain.EventKind][]*channelSubscription
	closed        bool
	closers       []func() error
	wg            sync.WaitGroup

	log zerolog.Logger
}

type delivery struct {
	ctx context.Context
	ev  domain.Event
}

type channelSubscription struct {
	id      string
	kinds   []domain.EventKind
	handler domain.EventHandler
	msgCh   chan delivery
	active  atomic.Bool
	bus     *ChannelBus
}

// NewChannelBus creates a bus. bufferSize is the per-subscription queue
// length; 0 delivers inline.
func NewChannelBus(bufferSize int) *ChannelBus {
	if bufferSize < 0 {
		bufferSize = 0
	}
	return &ChannelBus{
		bufferSize:    bufferSize,
		subscriptions: make(map[domain.EventKind][]*channelSubscription),
		log:           logging.With().Str("component", "bus").Logger(),
	}
}

// Subscribe registers a handler for kind.
func (b *ChannelBus) Subscribe(kind domain.EventKind, handler domain.EventHandler) (domain.Subscription, error) {
	return b.SubscribeKinds([]domain.EventKind{kind}, handler)
}

// SubscribeKinds registers one handler for several kinds behind a single
// queue, so it sees events of different kinds in publish order.
func (b *ChannelBus) SubscribeKinds(kinds []domain.EventKind, handler domain.EventHandler) (domain.Subscription, error) {
	if handler == nil {
		return nil, fmt.Errorf("%w: handler is required", domain.ErrInvalidInput)
	}
	if len(kinds) == 0 {
		return nil, fmt.Errorf("%w: at least one event kind is required", domain.ErrInvalidInput)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil, ErrClosed
	}

	sub := &channelSubscription{
		id:      uuid.New().String(),
		kinds:   append([]domain.EventKind(nil), kinds...),
		handler: handler,
		bus:     b,
	}
	sub.active.Store(true)

	if b.bufferSize > 0 {
		sub.msgCh = make(chan delivery, b.bufferSize)
		b.wg.Add(1)
		go b.handleMessages(sub)
	}

	for _, kind := range sub.kinds {
		b.subscriptions[kind] = append(b.subscriptions[kind], sub)
	}
	return sub, nil
}

// Publish delivers one event.
func (b *ChannelBus) Publish(ctx context.Context, event domain.Event) error {
	return b.PublishAll(ctx, []domain.Event{event})
}

// PublishAll delivers events in order. Handler failures and full subscriber
// queues never surface here.
func (b *ChannelBus) PublishAll(ctx context.Context, events []domain.Event) error {
	if len(events) == 0 {
		return nil
	}

	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		return ErrClosed
	}

	if b.bufferSize == 0 {
		targets := make([][]*channelSubscription, len(events))
		for i, ev := range events {
			targets[i] = b.subscriptions[ev.Kind]
		}
		b.mu.RUnlock()

		for i, ev := range events {
			metrics.EventsPublished.WithLabelValues(string(ev.Kind)).Inc()
			for _, sub := range targets[i] {
				if sub.active.Load() {
					b.run(ctx, sub, ev)
				}
			}
		}
		return nil
	}
	defer b.mu.RUnlock()

	// Handlers outlive the publishing request.
	ctx = context.WithoutCancel(ctx)
	for _, ev := range events {
		metrics.EventsPublished.WithLabelValues(string(ev.Kind)).Inc()
		for _, sub := range b.subscriptions[ev.Kind] {
			select {
			case sub.msgCh <- delivery{ctx: ctx, ev: ev}:
			default:
				metrics.EventsDropped.WithLabelValues(string(ev.Kind)).Inc()
				b.log.Warn().
					Str("kind", string(ev.Kind)).
					Str("event_id", ev.ID).
					Str("subscription", sub.id).
					Msg("subscriber queue full, event dropped")
			}
		}
	}
	return nil
}

// handleMessages drains one subscription until its channel is closed.
func (b *ChannelBus) handleMessages(sub *channelSubscription) {
	defer b.wg.Done()
	for d := range sub.msgCh {
		if sub.active.Load() {
			b.run(d.ctx, sub, d.ev)
		}
	}
}

func (b *ChannelBus) run(ctx context.Context, sub *channelSubscription, ev domain.Event) {
	if err := b.invoke(ctx, sub, ev); err != nil {
		metrics.HandlerErrors.WithLabelValues(string(ev.Kind)).Inc()
		b.log.Error().
			Err(err).
			Str("kind", string(ev.Kind)).
			Str("event_id", ev.ID).
			Str("subscription", sub.id).
			Msg("event handler failed")
	}
}

func (b *ChannelBus) invoke(ctx context.Context, sub *channelSubscription, ev domain.Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return sub.handler(ctx, ev)
}

// OnClose registers fn to run after the subscriber queues have drained on Close.
func (b *ChannelBus) OnClose(fn func() error) {
	b.mu.Lock()
	b.closers = append(b.closers, fn)
	b.mu.Unlock()
}

// Ping reports whether the bus still accepts events.
func (b *ChannelBus) Ping(context.Context) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return ErrClosed
	}
	return nil
}

// Close stops accepting events, lets every subscriber finish its queue and
// runs the registered closers.
func (b *ChannelBus) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	seen := make(map[*channelSubscription]struct{})
	for _, subs := range b.subscriptions {
		for _, sub := range subs {
			if _, dup := seen[sub]; dup || sub.msgCh == nil {
				continue
			}
			seen[sub] = struct{}{}
			close(sub.msgCh)
		}
	}
	closers := b.closers
	b.closers = nil
	b.mu.Unlock()

	b.wg.Wait()

	var errs []error
	for _, fn := range closers {
		if err := fn(); err != nil {
			errs = append(errs, err)
		}
	}

	b.mu.Lock()
	b.subscriptions = make(map[domain.EventKind][]*channelSubscription)
	b.mu.Unlock()
	return errors.Join(errs...)
}

// Unsubscribe stops delivery to this handler. Events still queued are discarded.
func (s *channelSubscription) Unsubscribe() error {
	if !s.active.Swap(false) {
		return nil
	}

	b := s.bus
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, kind := range s.kinds {
		subs := b.subscriptions[kind]
		for i, other := range subs {
			if other == s {
				kept := make([]*channelSubscription, 0, len(subs)-1)
				kept = append(kept, subs[:i]...)
				b.subscriptions[kind] = append(kept, subs[i+1:]...)
				break
			}
		}
	}
	if s.msgCh != nil && !b.closed {
		close(s.msgCh)
	}
	return nil
}

// Kind returns the subscribed event kind, the first one for SubscribeKinds.
func (s *channelSubscription) Kind() domain.EventKind {
	return s.kinds[0]
}
