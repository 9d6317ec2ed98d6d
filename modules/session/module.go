package session

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-monolith/mono"
	"github.com/go-monolith/mono/pkg/types"

	"github.com/example/chat-fanout/domain/chat"
	"github.com/example/chat-fanout/events"
	"github.com/example/chat-fanout/modules/identity"
	"github.com/example/chat-fanout/modules/presence"
	"github.com/example/chat-fanout/modules/reconciler"
	"github.com/example/chat-fanout/modules/typing"
)

// Module runs the Supervisor inside the mono application and publishes
// its transitions on the EventBus.
type Module struct {
	supervisor *Supervisor
	eventBus   mono.EventBus
	startTime  time.Time
	logger     types.Logger
}

// Compile-time interface checks
var (
	_ mono.Module                = (*Module)(nil)
	_ mono.EventBusAwareModule   = (*Module)(nil)
	_ mono.EventEmitterModule    = (*Module)(nil)
	_ mono.ServiceProviderModule = (*Module)(nil)
	_ mono.HealthCheckableModule = (*Module)(nil)
	_ Observer                   = (*Module)(nil)
)

// NewModule creates the session module and its Supervisor.
func NewModule(registry *identity.Registry, rec *reconciler.Reconciler, relay Publisher, typingTimeout time.Duration, logger types.Logger) *Module {
	m := &Module{logger: logger}
	m.supervisor = NewSupervisor(registry, rec, relay, logger,
		WithTypingTimeout(typingTimeout),
		WithObserver(m),
	)
	return m
}

// Name returns the module name.
func (m *Module) Name() string {
	return "session"
}

// Supervisor returns the connection supervisor.
func (m *Module) Supervisor() *Supervisor {
	return m.supervisor
}

// SetEventBus receives the EventBus from the framework.
func (m *Module) SetEventBus(bus mono.EventBus) {
	m.eventBus = bus
}

// EmitEvents declares the events this module can emit.
func (m *Module) EmitEvents() []mono.BaseEventDefinition {
	return []mono.BaseEventDefinition{
		events.MessageDeliveredV1.ToBase(),
		events.PresenceChangedV1.ToBase(),
		events.TypingChangedV1.ToBase(),
	}
}

// Start marks the module as running.
func (m *Module) Start(_ context.Context) error {
	m.startTime = time.Now()
	m.logger.Info("Session module started")
	return nil
}

// Stop disconnects every connection.
func (m *Module) Stop(ctx context.Context) error {
	m.supervisor.Shutdown(ctx)
	m.logger.Info("Session module stopped")
	return nil
}

// RegisterServices registers the session services.
func (m *Module) RegisterServices(container mono.ServiceContainer) error {
	if err := container.RegisterRequestReplyService(
		ServiceOnlineUsers,
		m.handleOnlineUsers,
	); err != nil {
		return fmt.Errorf("failed to register %s: %w", ServiceOnlineUsers, err)
	}

	if err := container.RegisterRequestReplyService(
		ServiceSessionStats,
		m.handleSessionStats,
	); err != nil {
		return fmt.Errorf("failed to register %s: %w", ServiceSessionStats, err)
	}

	m.logger.Info("Registered session services",
		"services", []string{ServiceOnlineUsers, ServiceSessionStats})
	return nil
}

// Health reports the number of live connections.
func (m *Module) Health(_ context.Context) mono.HealthStatus {
	if m.startTime.IsZero() {
		return mono.HealthStatus{
			Healthy: false,
			Message: "not started",
		}
	}
	stats := m.supervisor.Stats()
	return mono.HealthStatus{
		Healthy: true,
		Message: "operational",
		Details: map[string]any{
			"uptime":      time.Since(m.startTime).Round(time.Second).String(),
			"connections": stats.Connections,
			"rooms":       stats.Rooms,
		},
	}
}

func (m *Module) handleOnlineUsers(_ context.Context, msg *types.Msg) ([]byte, error) {
	var req OnlineUsersRequest
	if len(msg.Data) > 0 {
		if err := json.Unmarshal(msg.Data, &req); err != nil {
			return nil, fmt.Errorf("invalid request: %w", err)
		}
	}
	return json.Marshal(OnlineUsersResponse{
		RoomID: req.RoomID,
		Users:  nonNil(m.supervisor.OnlineUsers(req.RoomID)),
		Typing: nonNil(m.supervisor.TypingIn(req.RoomID)),
	})
}

func (m *Module) handleSessionStats(_ context.Context, _ *types.Msg) ([]byte, error) {
	return json.Marshal(SessionStatsResponse{Stats: m.supervisor.Stats()})
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

// MessageDelivered publishes a MessageDelivered event.
func (m *Module) MessageDelivered(msg chat.Message, relayed bool, recipients int) {
	if m.eventBus == nil {
		return
	}
	if err := events.MessageDeliveredV1.Publish(m.eventBus, events.MessageDeliveredEvent{
		MessageID:  msg.ID,
		RoomID:     msg.ConversationID,
		SenderID:   msg.SenderID,
		Relayed:    relayed,
		Recipients: recipients,
		Timestamp:  time.Now(),
	}, nil); err != nil {
		m.logger.Warn("Failed to publish MessageDelivered event", "error", err)
	}
}

// PresenceChanged publishes a PresenceChanged event.
func (m *Module) PresenceChanged(t presence.Transition) {
	if m.eventBus == nil {
		return
	}
	if err := events.PresenceChangedV1.Publish(m.eventBus, events.PresenceChangedEvent{
		RoomID:    t.RoomID,
		UserID:    t.UserID,
		Online:    t.Kind == presence.KindJoined,
		Timestamp: time.Now(),
	}, nil); err != nil {
		m.logger.Warn("Failed to publish PresenceChanged event", "error", err)
	}
}

// TypingChanged publishes a TypingChanged event.
func (m *Module) TypingChanged(n typing.Notification) {
	if m.eventBus == nil {
		return
	}
	if err := events.TypingChangedV1.Publish(m.eventBus, events.TypingChangedEvent{
		RoomID:    n.RoomID,
		UserID:    n.UserID,
		Typing:    n.Kind == typing.KindStarted,
		Expired:   n.Expired,
		Timestamp: time.Now(),
	}, nil); err != nil {
		m.logger.Warn("Failed to publish TypingChanged event", "error", err)
	}
}
