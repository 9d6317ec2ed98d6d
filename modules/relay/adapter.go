package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-monolith/mono/pkg/types"

	"github.com/example/chat-fanout/domain/chat"
)

// Envelope is the wire form of a relayed message: the canonical message
// plus the id of the instance that published it.
type Envelope struct {
	chat.Message
	Origin string `json:"origin"`
}

// Encode marshals msg for the wire.
func Encode(origin string, msg chat.Message) ([]byte, error) {
	return json.Marshal(Envelope{Message: msg, Origin: origin})
}

// Decode parses a wire payload. Payloads that are not JSON or lack an id
// or sender fail with chat.ErrMalformedRelayPayload.
func Decode(payload []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return Envelope{}, fmt.Errorf("%w: %v", chat.ErrMalformedRelayPayload, err)
	}
	if env.ID == "" {
		return Envelope{}, fmt.Errorf("%w: missing id", chat.ErrMalformedRelayPayload)
	}
	if env.SenderID == "" {
		return Envelope{}, fmt.Errorf("%w: missing senderId", chat.ErrMalformedRelayPayload)
	}
	return env, nil
}

// Sink receives messages relayed from other instances.
type Sink func(ctx context.Context, msg chat.Message)

// Options configures an Adapter.
type Options struct {
	Topic      string
	InstanceID string
	Backoff    Backoff
}

// Stats is a snapshot of relay counters.
type Stats struct {
	Linked    bool  `json:"linked"`
	Connected bool  `json:"connected"`
	Published int64 `json:"published"`
	Failed    int64 `json:"failed"`
	Received  int64 `json:"received"`
	Echoes    int64 `json:"echoes"`
	Dropped   int64 `json:"dropped"`
	Attempts  int64 `json:"attempts"`
}

// Adapter publishes locally submitted messages and hands messages from
// other instances to its sink.
type Adapter struct {
	broker     Broker
	topic      string
	instanceID string
	backoff    Backoff
	logger     types.Logger

	mu     sync.Mutex
	sink   Sink
	sub    Subscription
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	linked    atomic.Bool
	published atomic.Int64
	failed    atomic.Int64
	received  atomic.Int64
	echoes    atomic.Int64
	dropped   atomic.Int64
	attempts  atomic.Int64
}

// NewAdapter creates an adapter over broker.
func NewAdapter(broker Broker, opts Options, logger types.Logger) *Adapter {
	return &Adapter{
		broker:     broker,
		topic:      opts.Topic,
		instanceID: opts.InstanceID,
		backoff:    opts.Backoff,
		logger:     logger,
	}
}

// InstanceID returns the origin stamped on published messages.
func (a *Adapter) InstanceID() string {
	return a.instanceID
}

// SetSink sets the receiver for relayed messages. It must be called
// before Start.
func (a *Adapter) SetSink(sink Sink) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.sink = sink
}

// Start links to the broker in the background, retrying with backoff
// until it succeeds or Stop is called. It never fails because the broker
// is down.
func (a *Adapter) Start() {
	a.mu.Lock()
	if a.cancel != nil {
		a.mu.Unlock()
		return
	}
	a.ctx, a.cancel = context.WithCancel(context.Background())
	a.done = make(chan struct{})
	ctx, done := a.ctx, a.done
	a.mu.Unlock()

	go func() {
		defer close(done)
		a.run(ctx)
	}()
}

func (a *Adapter) run(ctx context.Context) {
	for attempt := 1; ; attempt++ {
		a.attempts.Add(1)
		err := a.link(ctx)
		if err == nil {
			a.linked.Store(true)
			a.logger.Info("Relay linked", "topic", a.topic, "instance", a.instanceID, "attempt", attempt)
			return
		}

		delay := a.backoff.Delay(attempt)
		a.logger.Warn("Relay link failed, retrying",
			"topic", a.topic,
			"attempt", attempt,
			"retry_in", delay,
			"error", err)

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}

func (a *Adapter) link(ctx context.Context) error {
	if err := a.broker.Connect(ctx); err != nil {
		return err
	}
	sub, err := a.broker.Subscribe(ctx, a.topic, a.handle)
	if err != nil {
		return err
	}

	a.mu.Lock()
	a.sub = sub
	a.mu.Unlock()
	return nil
}

// Publish sends a locally submitted message to the other instances.
// It fails with chat.ErrBrokerUnavailable while the relay is not linked.
func (a *Adapter) Publish(ctx context.Context, msg chat.Message) error {
	if !a.linked.Load() {
		a.failed.Add(1)
		return fmt.Errorf("%w: relay not linked", chat.ErrBrokerUnavailable)
	}

	payload, err := Encode(a.instanceID, msg)
	if err != nil {
		a.failed.Add(1)
		return fmt.Errorf("encode relay payload: %w", err)
	}
	if err := a.broker.Publish(ctx, a.topic, payload); err != nil {
		a.failed.Add(1)
		if !errors.Is(err, chat.ErrBrokerUnavailable) {
			err = fmt.Errorf("%w: %v", chat.ErrBrokerUnavailable, err)
		}
		return err
	}
	a.published.Add(1)
	return nil
}

func (a *Adapter) handle(payload []byte) {
	env, err := Decode(payload)
	if err != nil {
		a.dropped.Add(1)
		a.logger.Warn("Dropping relay payload", "topic", a.topic, "bytes", len(payload), "error", err)
		return
	}
	if env.Origin == a.instanceID {
		a.echoes.Add(1)
		return
	}

	a.mu.Lock()
	sink, ctx := a.sink, a.ctx
	a.mu.Unlock()

	if ctx == nil {
		ctx = context.Background()
	}

	a.received.Add(1)
	if sink != nil {
		sink(ctx, env.Message)
	}
}

// Connected reports whether the adapter is linked and the broker is up.
func (a *Adapter) Connected() bool {
	return a.linked.Load() && a.broker.Connected()
}

// Stats returns the current counters.
func (a *Adapter) Stats() Stats {
	return Stats{
		Linked:    a.linked.Load(),
		Connected: a.Connected(),
		Published: a.published.Load(),
		Failed:    a.failed.Load(),
		Received:  a.received.Load(),
		Echoes:    a.echoes.Load(),
		Dropped:   a.dropped.Load(),
		Attempts:  a.attempts.Load(),
	}
}

// Stop ends the link loop, unsubscribes and closes the broker.
func (a *Adapter) Stop(ctx context.Context) error {
	a.mu.Lock()
	cancel, done := a.cancel, a.done
	a.mu.Unlock()

	if cancel != nil {
		cancel()
		select {
		case <-done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	a.mu.Lock()
	sub := a.sub
	a.sub = nil
	a.mu.Unlock()

	a.linked.Store(false)
	var errs []error
	if sub != nil {
		if err := sub.Unsubscribe(); err != nil {
			errs = append(errs, fmt.Errorf("unsubscribe: %w", err))
		}
	}
	if err := a.broker.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close broker: %w", err))
	}
	return errors.Join(errs...)
}
