// Package worker turns raw signaling messages into detection calls on a
// bounded pool of goroutines.
package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/abiolaogu/VoxGuard-sub001/internal/detection"
	"github.com/abiolaogu/VoxGuard-sub001/internal/domain"
	"github.com/abiolaogu/VoxGuard-sub001/internal/logging"
	"github.com/abiolaogu/VoxGuard-sub001/internal/metrics"
	"github.com/abiolaogu/VoxGuard-sub001/internal/sip"
	"github.com/cespare/xxhash/v2"
)

var (
	// ErrQueueFull is returned by Submit when the packet's worker queue is full.
	ErrQueueFull = errors.New("worker: queue full")

	// ErrNotRunning is returned by Submit before Serve starts or after it returns.
	ErrNotRunning = errors.New("worker: pool not running")
)

// Processor runs a parsed signal through detection.
type Processor interface {
	ProcessSignal(ctx context.Context, sig *domain.CallSignal) (*detection.Result, error)
}

// Packet is one raw signaling message and where it came from.
type Packet struct {
	Data []byte
	// SourceIP is the transport peer. It is used only when the message
	// itself names no source.
	SourceIP string
	// Source labels the ingest path for metrics ("udp", "nats", "http").
	Source string
}

// Config holds pool sizing. QueueSize is split evenly across the workers.
type Config struct {
	Workers   int
	QueueSize int
}

// Stats is a snapshot of pool counters.
type Stats struct {
	Workers     int    `json:"workers"`
	Queued      int    `json:"queued"`
	Processed   uint64 `json:"processed"`
	ParseErrors uint64 `json:"parseErrors"`
	Failed      uint64 `json:"failed"`
	Dropped     uint64 `json:"dropped"`
}

// Pool parses and processes packets with a fixed number of workers.
// Every worker owns a queue and packets are routed by Call-ID, so the
// messages of one call are handled one at a time in arrival order.
// It implements suture.Service; Serve may be restarted after it returns.
type Pool struct {
	proc    Processor
	queues  []chan Packet
	next    atomic.Uint64
	running atomic.Bool

	processed   atomic.Uint64
	parseErrors atomic.Uint64
	failed      atomic.Uint64
	dropped     atomic.Uint64
}

// NewPool creates a pool. Zero sizes fall back to 4 workers and a queue of 1024.
func NewPool(proc Processor, cfg Config) *Pool {
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 1024
	}
	perWorker := (cfg.QueueSize + cfg.Workers - 1) / cfg.Workers
	p := &Pool{
		proc:   proc,
		queues: make([]chan Packet, cfg.Workers),
	}
	for i := range p.queues {
		p.queues[i] = make(chan Packet, perWorker)
	}
	return p
}

// Serve runs the workers until ctx is cancelled, then drains what is queued.
func (p *Pool) Serve(ctx context.Context) error {
	if !p.running.CompareAndSwap(false, true) {
		return fmt.Errorf("worker: pool already running")
	}
	defer p.running.Store(false)

	logging.Info().Int("workers", len(p.queues)).Int("queue", cap(p.queues[0])).Msg("Ingest workers started")

	var wg sync.WaitGroup
	for _, q := range p.queues {
		wg.Add(1)
		go func(q chan Packet) {
			defer wg.Done()
			p.run(ctx, q)
		}(q)
	}
	wg.Wait()

	logging.Info().Uint64("processed", p.processed.Load()).Msg("Ingest workers stopped")
	return ctx.Err()
}

func (p *Pool) run(ctx context.Context, q chan Packet) {
	for {
		select {
		case pkt := <-q:
			metrics.IngestQueueDepth.Set(float64(p.queued()))
			p.handle(ctx, pkt)
		case <-ctx.Done():
			p.drain(q)
			return
		}
	}
}

// drain finishes queued packets on a context detached from shutdown.
func (p *Pool) drain(q chan Packet) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(context.Background()), 5*time.Second)
	defer cancel()
	for {
		select {
		case pkt := <-q:
			p.handle(ctx, pkt)
		default:
			return
		}
	}
}

// Submit enqueues a packet without blocking.
func (p *Pool) Submit(pkt Packet) error {
	if !p.running.Load() {
		return ErrNotRunning
	}
	select {
	case p.queueFor(pkt) <- pkt:
		metrics.IngestQueueDepth.Set(float64(p.queued()))
		return nil
	default:
		p.dropped.Add(1)
		metrics.IngestDropped.WithLabelValues(sourceLabel(pkt.Source)).Inc()
		return ErrQueueFull
	}
}

// queueFor picks the worker for pkt. Packets without a Call-ID cannot be
// ordered against anything and are spread round-robin.
func (p *Pool) queueFor(pkt Packet) chan Packet {
	n := uint64(len(p.queues))
	if n == 1 {
		return p.queues[0]
	}
	if id := sip.CallID(pkt.Data); id != "" {
		return p.queues[xxhash.Sum64String(id)%n]
	}
	return p.queues[p.next.Add(1)%n]
}

func (p *Pool) queued() int {
	n := 0
	for _, q := range p.queues {
		n += len(q)
	}
	return n
}

// Process parses and processes one packet on the caller's goroutine.
func (p *Pool) Process(ctx context.Context, pkt Packet) (*detection.Result, error) {
	sig, err := sip.Parse(pkt.Data)
	if err != nil {
		p.parseErrors.Add(1)
		reason := "malformed"
		if errors.Is(err, domain.ErrNotRecognized) {
			reason = "not_recognized"
		}
		metrics.ParseErrors.WithLabelValues(reason).Inc()
		return nil, err
	}
	if sig.SourceIP == "" {
		sig.SourceIP = pkt.SourceIP
	}

	res, err := p.proc.ProcessSignal(ctx, sig)
	if err != nil && res == nil {
		p.failed.Add(1)
		return nil, err
	}
	p.processed.Add(1)
	return res, err
}

func (p *Pool) handle(ctx context.Context, pkt Packet) {
	defer func() {
		if r := recover(); r != nil {
			p.failed.Add(1)
			logging.Error().Interface("panic", r).Str("source", pkt.Source).Msg("Signal processing panicked")
		}
	}()

	res, err := p.Process(ctx, pkt)
	switch {
	case errors.Is(err, domain.ErrNotRecognized):
		logging.Debug().Str("source", pkt.Source).Str("peer", pkt.SourceIP).Msg("Ignoring non-SIP datagram")
	case err != nil && res == nil:
		logging.Warn().Err(err).Str("source", pkt.Source).Str("peer", pkt.SourceIP).Msg("Signal rejected")
	case res != nil && res.Alert != nil:
		logging.Info().
			Str("alert_id", res.Alert.ID).
			Str("b_number", res.Alert.BNumber).
			Int("distinct_callers", res.Alert.DistinctCallers).
			Msg("Fraud alert raised")
	}
}

// Stats returns the current counters.
func (p *Pool) Stats() Stats {
	return Stats{
		Workers:     len(p.queues),
		Queued:      p.queued(),
		Processed:   p.processed.Load(),
		ParseErrors: p.parseErrors.Load(),
		Failed:      p.failed.Load(),
		Dropped:     p.dropped.Load(),
	}
}

func (p *Pool) String() string { return "ingest-workers" }

func sourceLabel(s string) string {
	if s == "" {
		return "unknown"
	}
	return s
}
