package services

import (
	"context"
	"errors"
	"fmt"
	"net"

	"github.com/nats-io/nats.go"

	"github.com/abiolaogu/VoxGuard-sub001/internal/logging"
	"github.com/abiolaogu/VoxGuard-sub001/internal/worker"
)

// maxDatagram is the largest UDP payload.
const maxDatagram = 65535

// Submitter accepts raw packets for processing.
type Submitter interface {
	Submit(pkt worker.Packet) error
}

// UDPListener reads SIP datagrams and hands them to the worker pool.
type UDPListener struct {
	addr string
	out  Submitter

	// onListen is called with the bound address once the socket is open.
	onListen func(net.Addr)
}

// NewUDPListener listens on addr, e.g. ":5060".
func NewUDPListener(addr string, out Submitter) *UDPListener {
	return &UDPListener{addr: addr, out: out}
}

// Serve reads until ctx is cancelled or the socket fails.
func (l *UDPListener) Serve(ctx context.Context) error {
	conn, err := net.ListenPacket("udp", l.addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", l.addr, err)
	}
	logging.Info().Str("addr", conn.LocalAddr().String()).Msg("SIP UDP listener started")
	if l.onListen != nil {
		l.onListen(conn.LocalAddr())
	}

	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	buf := make([]byte, maxDatagram)
	for {
		n, peer, err := conn.ReadFrom(buf)
		if err != nil {
			conn.Close()
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("udp read failed: %w", err)
		}

		data := make([]byte, n)
		copy(data, buf[:n])

		err = l.out.Submit(worker.Packet{Data: data, SourceIP: peerIP(peer), Source: "udp"})
		if errors.Is(err, worker.ErrQueueFull) {
			logging.Debug().Str("peer", peer.String()).Msg("Dropping datagram, ingest queue full")
		} else if err != nil {
			logging.Warn().Err(err).Msg("Datagram not accepted")
		}
	}
}

func (l *UDPListener) String() string { return "sip-udp-listener" }

func peerIP(addr net.Addr) string {
	if u, ok := addr.(*net.UDPAddr); ok {
		return u.IP.String()
	}
	host, _, err := net.SplitHostPort(addr.String())
	if err != nil {
		return ""
	}
	return host
}

// SourceIPHeader carries the gateway address on NATS ingest messages.
const SourceIPHeader = "X-Source-IP"

// NATSIngest subscribes to a subject of raw SIP messages.
type NATSIngest struct {
	conn    *nats.Conn
	subject string
	queue   string
	out     Submitter
}

// NewNATSIngest consumes subject as part of queue group "voxguard-ingest",
// so that several nodes share the stream.
func NewNATSIngest(conn *nats.Conn, subject string, out Submitter) *NATSIngest {
	return &NATSIngest{conn: conn, subject: subject, queue: "voxguard-ingest", out: out}
}

// Serve holds the subscription until ctx is cancelled.
func (n *NATSIngest) Serve(ctx context.Context) error {
	sub, err := n.conn.QueueSubscribe(n.subject, n.queue, n.onMessage)
	if err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", n.subject, err)
	}
	logging.Info().Str("subject", n.subject).Str("queue", n.queue).Msg("NATS signal ingest started")

	<-ctx.Done()
	if err := sub.Drain(); err != nil {
		logging.Warn().Err(err).Str("subject", n.subject).Msg("Failed to drain ingest subscription")
	}
	return ctx.Err()
}

func (n *NATSIngest) onMessage(msg *nats.Msg) {
	pkt := worker.Packet{Data: msg.Data, Source: "nats"}
	if msg.Header != nil {
		pkt.SourceIP = msg.Header.Get(SourceIPHeader)
	}
	if err := n.out.Submit(pkt); err != nil && !errors.Is(err, worker.ErrQueueFull) {
		logging.Warn().Err(err).Str("subject", msg.Subject).Msg("Ingest message not accepted")
	}
}

func (n *NATSIngest) String() string { return "nats-signal-ingest" }
