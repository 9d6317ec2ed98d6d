// Package relay bridges local message fanout to an external pub/sub broker
// so that several server instances deliver the same messages.
package relay

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/go-monolith/mono/pkg/types"

	"github.com/example/chat-fanout/config"
	"github.com/example/chat-fanout/domain/chat"
)

// Handler receives raw payloads published on a topic.
type Handler func(payload []byte)

// Subscription is an active topic subscription.
type Subscription interface {
	Unsubscribe() error
}

// Broker is the publish/subscribe capability the relay needs. Delivery is
// at-least-once with FIFO order per publisher.
type Broker interface {
	Connect(ctx context.Context) error
	Publish(ctx context.Context, topic string, payload []byte) error
	Subscribe(ctx context.Context, topic string, handler Handler) (Subscription, error)
	Connected() bool
	Close() error
}

// NewBroker builds the broker selected by cfg. A disabled relay yields a
// Local broker, so the process runs with local-only fanout.
func NewBroker(cfg config.RelayConfig, clientName string, logger types.Logger) (Broker, error) {
	if !cfg.Enabled {
		return NewLocal(), nil
	}

	backoff := Backoff{Min: cfg.MinBackoff, Max: cfg.MaxBackoff}
	switch cfg.Driver {
	case config.DriverNATS:
		return NewNATSBroker(NATSConfig{
			URL:            cfg.URL,
			Name:           clientName,
			Username:       cfg.Username,
			Password:       cfg.Password,
			TLS:            cfg.TLS,
			ReconnectDelay: backoff.Delay,
		}, logger), nil
	case config.DriverRedis:
		return NewRedisBroker(RedisConfig{
			Addr:            cfg.URL,
			Username:        cfg.Username,
			Password:        cfg.Password,
			TLS:             cfg.TLS,
			MinRetryBackoff: cfg.MinBackoff,
			MaxRetryBackoff: cfg.MaxBackoff,
		}, logger), nil
	default:
		return nil, fmt.Errorf("unknown relay driver %q", cfg.Driver)
	}
}

// Local is the broker used when the relay is disabled. Publishing is a
// no-op and subscriptions never receive anything.
type Local struct{}

// NewLocal creates a Local broker.
func NewLocal() *Local {
	return &Local{}
}

func (*Local) Connect(context.Context) error { return nil }

func (*Local) Publish(context.Context, string, []byte) error { return nil }

func (*Local) Connected() bool { return true }

func (*Local) Close() error { return nil }

func (*Local) Subscribe(context.Context, string, Handler) (Subscription, error) {
	return noopSubscription{}, nil
}

type noopSubscription struct{}

func (noopSubscription) Unsubscribe() error { return nil }

// MemoryBroker is an in-process broker. Adapters sharing one MemoryBroker
// behave like server instances sharing a broker; handlers run
// synchronously in publish order.
type MemoryBroker struct {
	mu        sync.RWMutex
	subs      map[string]map[uint64]Handler
	published map[string]int
	seq       atomic.Uint64
	down      atomic.Bool
}

// NewMemoryBroker creates an empty MemoryBroker.
func NewMemoryBroker() *MemoryBroker {
	return &MemoryBroker{
		subs:      make(map[string]map[uint64]Handler),
		published: make(map[string]int),
	}
}

// SetDown simulates losing (true) or restoring (false) the broker.
func (b *MemoryBroker) SetDown(down bool) {
	b.down.Store(down)
}

func (b *MemoryBroker) Connect(context.Context) error {
	if b.down.Load() {
		return chat.ErrBrokerUnavailable
	}
	return nil
}

func (b *MemoryBroker) Publish(_ context.Context, topic string, payload []byte) error {
	if b.down.Load() {
		return chat.ErrBrokerUnavailable
	}

	b.mu.Lock()
	b.published[topic]++
	handlers := make([]Handler, 0, len(b.subs[topic]))
	for _, h := range b.subs[topic] {
		handlers = append(handlers, h)
	}
	b.mu.Unlock()

	for _, h := range handlers {
		h(payload)
	}
	return nil
}

func (b *MemoryBroker) Subscribe(_ context.Context, topic string, handler Handler) (Subscription, error) {
	if b.down.Load() {
		return nil, chat.ErrBrokerUnavailable
	}

	id := b.seq.Add(1)
	b.mu.Lock()
	if b.subs[topic] == nil {
		b.subs[topic] = make(map[uint64]Handler)
	}
	b.subs[topic][id] = handler
	b.mu.Unlock()

	return &memorySubscription{broker: b, topic: topic, id: id}, nil
}

func (b *MemoryBroker) Connected() bool {
	return !b.down.Load()
}

// Close is a no-op; the broker is shared by every adapter using it.
func (b *MemoryBroker) Close() error {
	return nil
}

// Published returns how many payloads were published on topic.
func (b *MemoryBroker) Published(topic string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.published[topic]
}

type memorySubscription struct {
	broker *MemoryBroker
	topic  string
	id     uint64
}

func (s *memorySubscription) Unsubscribe() error {
	s.broker.mu.Lock()
	defer s.broker.mu.Unlock()
	delete(s.broker.subs[s.topic], s.id)
	return nil
}
