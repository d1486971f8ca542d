package bus

import (
	"context"
	"fmt"
	"time"

	"github.com/abiolaogu/VoxGuard-sub001/internal/domain"
	"github.com/abiolaogu/VoxGuard-sub001/internal/logging"
	"github.com/goccy/go-json"
	"github.com/nats-io/nats.go"
)

// ConnectNATS opens a NATS connection with reconnect handling. The initial
// connect is retried MaxReconnects times, ReconnectWait apart.
func ConnectNATS(cfg domain.NATSConfig) (*nats.Conn, error) {
	if cfg.URL == "" {
		cfg.URL = nats.DefaultURL
	}
	if cfg.MaxReconnects == 0 {
		cfg.MaxReconnects = 10
	}
	if cfg.ReconnectWait == 0 {
		cfg.ReconnectWait = 5
	}
	wait := time.Duration(cfg.ReconnectWait) * time.Second

	opts := []nats.Option{
		nats.Name("voxguard"),
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.ReconnectWait(wait),
		nats.ReconnectBufSize(8 * 1024 * 1024),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			logging.Warn().Err(err).Bool("will_reconnect", !nc.IsClosed()).Msg("NATS disconnected")
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logging.Info().Str("url", nc.ConnectedUrl()).Msg("NATS reconnected")
		}),
		nats.ClosedHandler(func(*nats.Conn) {
			logging.Info().Msg("NATS connection closed")
		}),
		nats.ErrorHandler(func(_ *nats.Conn, sub *nats.Subscription, err error) {
			ev := logging.Error().Err(err)
			if sub != nil {
				ev = ev.Str("subject", sub.Subject)
			}
			ev.Msg("NATS error")
		}),
	}
	if cfg.Token != "" {
		opts = append(opts, nats.Token(cfg.Token))
	}

	var conn *nats.Conn
	var err error
	for i := 0; i < cfg.MaxReconnects; i++ {
		conn, err = nats.Connect(cfg.URL, opts...)
		if err == nil {
			break
		}
		logging.Warn().
			Err(err).
			Int("attempt", i+1).
			Int("max_attempts", cfg.MaxReconnects).
			Msg("NATS connection attempt failed")
		time.Sleep(wait)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS after %d attempts: %w", cfg.MaxReconnects, err)
	}

	logging.Info().
		Str("url", conn.ConnectedUrl()).
		Str("server_id", conn.ConnectedServerId()).
		Msg("NATS connected")
	return conn, nil
}

// publisher is the part of *nats.Conn the forwarder uses.
type publisher interface {
	Publish(subject string, data []byte) error
}

// NATSForwarder copies domain events to <prefix>.<kind> subjects as JSON.
type NATSForwarder struct {
	conn   publisher
	prefix string
}

// NewNATSForwarder creates a forwarder on an open connection.
func NewNATSForwarder(conn *nats.Conn, prefix string) *NATSForwarder {
	return newNATSForwarder(conn, prefix)
}

func newNATSForwarder(conn publisher, prefix string) *NATSForwarder {
	if prefix == "" {
		prefix = "voxguard.events"
	}
	return &NATSForwarder{conn: conn, prefix: prefix}
}

func (f *NATSForwarder) Name() string { return "nats" }

// Subject returns the subject events of kind are published on.
func (f *NATSForwarder) Subject(kind domain.EventKind) string {
	return f.prefix + "." + string(kind)
}

// Handle publishes one event.
func (f *NATSForwarder) Handle(_ context.Context, ev domain.Event) error {
	data, err := EncodeEvent(ev)
	if err != nil {
		return err
	}
	if err := f.conn.Publish(f.Subject(ev.Kind), data); err != nil {
		return fmt.Errorf("failed to publish to NATS: %w", err)
	}
	return nil
}

// EncodeEvent is the wire form shared by the forwarders.
func EncodeEvent(ev domain.Event) ([]byte, error) {
	data, err := json.Marshal(ev)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal event: %w", err)
	}
	return data, nil
}

// DecodeEvent parses the output of EncodeEvent.
func DecodeEvent(data []byte) (domain.Event, error) {
	var ev domain.Event
	if err := json.Unmarshal(data, &ev); err != nil {
		return domain.Event{}, fmt.Errorf("failed to unmarshal event: %w", err)
	}
	return ev, nil
}
