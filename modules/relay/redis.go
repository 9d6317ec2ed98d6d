package relay

import (
	"context"
	"crypto/tls"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-monolith/mono/pkg/types"
	"github.com/redis/go-redis/v9"

	"github.com/example/chat-fanout/domain/chat"
)

// RedisConfig holds the Redis connection settings.
type RedisConfig struct {
	Addr            string
	Username        string
	Password        string
	TLS             bool
	MinRetryBackoff time.Duration
	MaxRetryBackoff time.Duration

	// HealthCheckInterval is how often an open subscription pings Redis.
	// Zero means 5s.
	HealthCheckInterval time.Duration
}

// RedisBroker relays over Redis pub/sub channels.
type RedisBroker struct {
	cfg    RedisConfig
	logger types.Logger

	mu      sync.RWMutex
	client  *redis.Client
	healthy atomic.Bool
}

// NewRedisBroker creates a Redis broker. Call Connect before use.
func NewRedisBroker(cfg RedisConfig, logger types.Logger) *RedisBroker {
	if cfg.HealthCheckInterval <= 0 {
		cfg.HealthCheckInterval = 5 * time.Second
	}
	return &RedisBroker{cfg: cfg, logger: logger}
}

func (b *RedisBroker) Connect(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.client != nil {
		return nil
	}

	opts := &redis.Options{
		Addr:            b.cfg.Addr,
		Username:        b.cfg.Username,
		Password:        b.cfg.Password,
		DialTimeout:     5 * time.Second,
		ReadTimeout:     3 * time.Second,
		WriteTimeout:    3 * time.Second,
		MinRetryBackoff: b.cfg.MinRetryBackoff,
		MaxRetryBackoff: b.cfg.MaxRetryBackoff,
	}
	if b.cfg.TLS {
		opts.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return fmt.Errorf("%w: connect to Redis at %s: %v", chat.ErrBrokerUnavailable, b.cfg.Addr, err)
	}
	b.client = client
	b.healthy.Store(true)
	return nil
}

func (b *RedisBroker) currentClient() (*redis.Client, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.client == nil {
		return nil, chat.ErrBrokerUnavailable
	}
	return b.client, nil
}

func (b *RedisBroker) Publish(ctx context.Context, topic string, payload []byte) error {
	client, err := b.currentClient()
	if err != nil {
		return err
	}
	err = client.Publish(ctx, topic, payload).Err()
	b.observe("publish", err)
	if err != nil {
		return fmt.Errorf("%w: %v", chat.ErrBrokerUnavailable, err)
	}
	return nil
}

// observe records the outcome of a publish or a subscription ping. Either
// path can take the link down or bring it back.
func (b *RedisBroker) observe(path string, err error) {
	if err != nil {
		if b.healthy.Swap(false) {
			b.logger.Warn("Redis link failing", "path", path, "error", err)
		}
		return
	}
	if !b.healthy.Swap(true) {
		b.logger.Info("Redis link recovered", "path", path)
	}
}

// watchSubscription pings over the subscription connection until stop is
// closed.
func (b *RedisBroker) watchSubscription(ps *redis.PubSub, stop <-chan struct{}) {
	interval := b.cfg.HealthCheckInterval
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), interval)
			err := ps.Ping(ctx)
			cancel()
			b.observe("subscribe", err)
		}
	}
}

// Subscribe waits for the subscription to be confirmed, then delivers
// messages from a background goroutine until Unsubscribe. The pub/sub
// connection is re-established by the client after network errors; a
// second goroutine pings it so Connected reflects the receive side too.
func (b *RedisBroker) Subscribe(ctx context.Context, topic string, handler Handler) (Subscription, error) {
	client, err := b.currentClient()
	if err != nil {
		return nil, err
	}

	ps := client.Subscribe(ctx, topic)
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, fmt.Errorf("%w: subscribe %s: %v", chat.ErrBrokerUnavailable, topic, err)
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		for msg := range ps.Channel() {
			handler([]byte(msg.Payload))
		}
	}()

	stop := make(chan struct{})
	watched := make(chan struct{})
	go func() {
		defer close(watched)
		b.watchSubscription(ps, stop)
	}()

	return &redisSubscription{ps: ps, done: done, stop: stop, watched: watched}, nil
}

func (b *RedisBroker) Connected() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.client != nil && b.healthy.Load()
}

func (b *RedisBroker) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.client == nil {
		return nil
	}
	err := b.client.Close()
	b.client = nil
	b.healthy.Store(false)
	return err
}

type redisSubscription struct {
	ps      *redis.PubSub
	done    chan struct{}
	stop    chan struct{}
	watched chan struct{}
}

func (s *redisSubscription) Unsubscribe() error {
	close(s.stop)
	<-s.watched
	err := s.ps.Close()
	<-s.done
	return err
}
