package relay

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-monolith/mono/pkg/types"
	"github.com/nats-io/nats.go"

	"github.com/example/chat-fanout/domain/chat"
)

// NATSConfig holds the NATS connection settings.
type NATSConfig struct {
	URL      string
	Name     string
	Username string
	Password string
	TLS      bool
	// ReconnectDelay returns the wait before reconnect attempt n.
	ReconnectDelay func(attempt int) time.Duration
}

// NATSBroker relays over core NATS subjects.
type NATSBroker struct {
	cfg    NATSConfig
	logger types.Logger

	mu sync.RWMutex
	nc *nats.Conn
}

// NewNATSBroker creates a NATS broker. Call Connect before use.
func NewNATSBroker(cfg NATSConfig, logger types.Logger) *NATSBroker {
	return &NATSBroker{cfg: cfg, logger: logger}
}

// Connect dials the server. Once connected, the client reconnects on its
// own and restores subscriptions. Publishing is not buffered while
// disconnected, so messages sent during an outage fail instead of being
// replayed later.
func (b *NATSBroker) Connect(_ context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.nc != nil && !b.nc.IsClosed() {
		return nil
	}

	opts := []nats.Option{
		nats.Name(b.cfg.Name),
		nats.Timeout(5 * time.Second),
		nats.MaxReconnects(-1),
		nats.ReconnectBufSize(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				b.logger.Warn("NATS disconnected", "error", err)
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			b.logger.Info("NATS reconnected", "url", nc.ConnectedUrl())
		}),
		nats.ClosedHandler(func(_ *nats.Conn) {
			b.logger.Info("NATS connection closed")
		}),
	}
	if b.cfg.ReconnectDelay != nil {
		opts = append(opts, nats.CustomReconnectDelay(b.cfg.ReconnectDelay))
	}
	if b.cfg.Username != "" {
		opts = append(opts, nats.UserInfo(b.cfg.Username, b.cfg.Password))
	}
	if b.cfg.TLS {
		opts = append(opts, nats.Secure())
	}

	nc, err := nats.Connect(b.cfg.URL, opts...)
	if err != nil {
		return fmt.Errorf("%w: connect to NATS at %s: %v", chat.ErrBrokerUnavailable, b.cfg.URL, err)
	}
	b.nc = nc
	return nil
}

func (b *NATSBroker) conn() (*nats.Conn, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.nc == nil || !b.nc.IsConnected() {
		return nil, chat.ErrBrokerUnavailable
	}
	return b.nc, nil
}

func (b *NATSBroker) Publish(_ context.Context, topic string, payload []byte) error {
	nc, err := b.conn()
	if err != nil {
		return err
	}
	if err := nc.Publish(topic, payload); err != nil {
		return fmt.Errorf("%w: %v", chat.ErrBrokerUnavailable, err)
	}
	return nil
}

func (b *NATSBroker) Subscribe(_ context.Context, topic string, handler Handler) (Subscription, error) {
	nc, err := b.conn()
	if err != nil {
		return nil, err
	}
	sub, err := nc.Subscribe(topic, func(m *nats.Msg) {
		handler(m.Data)
	})
	if err != nil {
		return nil, fmt.Errorf("%w: subscribe %s: %v", chat.ErrBrokerUnavailable, topic, err)
	}
	return sub, nil
}

func (b *NATSBroker) Connected() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.nc != nil && b.nc.IsConnected()
}

func (b *NATSBroker) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.nc != nil {
		b.nc.Close()
		b.nc = nil
	}
	return nil
}
