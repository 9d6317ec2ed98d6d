// Package activity consumes session events and keeps per-room activity
// counters.
package activity

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/go-monolith/mono"
	"github.com/go-monolith/mono/pkg/helper"
	"github.com/go-monolith/mono/pkg/types"

	"github.com/example/chat-fanout/events"
)

// Module implements the activity consumer module.
type Module struct {
	store  *Store
	logger types.Logger
}

// Compile-time interface checks
var (
	_ mono.Module                = (*Module)(nil)
	_ mono.EventConsumerModule   = (*Module)(nil)
	_ mono.ServiceProviderModule = (*Module)(nil)
)

// NewModule creates a new activity module.
func NewModule(logger types.Logger) *Module {
	return &Module{
		store:  NewStore(),
		logger: logger,
	}
}

// Name returns the module name.
func (m *Module) Name() string {
	return "activity"
}

// Store returns the activity store.
func (m *Module) Store() *Store {
	return m.store
}

// RegisterEventConsumers registers handlers for the session events.
func (m *Module) RegisterEventConsumers(registry mono.EventRegistry) error {
	if err := helper.RegisterTypedEventConsumer(
		registry, events.MessageDeliveredV1, m.handleMessageDelivered, m,
	); err != nil {
		return fmt.Errorf("failed to register MessageDelivered consumer: %w", err)
	}

	if err := helper.RegisterTypedEventConsumer(
		registry, events.PresenceChangedV1, m.handlePresenceChanged, m,
	); err != nil {
		return fmt.Errorf("failed to register PresenceChanged consumer: %w", err)
	}

	if err := helper.RegisterTypedEventConsumer(
		registry, events.TypingChangedV1, m.handleTypingChanged, m,
	); err != nil {
		return fmt.Errorf("failed to register TypingChanged consumer: %w", err)
	}

	m.logger.Info("Registered event consumers",
		"events", []string{"MessageDelivered.v1", "PresenceChanged.v1", "TypingChanged.v1"})
	return nil
}

func (m *Module) handleMessageDelivered(_ context.Context, event events.MessageDeliveredEvent, _ *mono.Msg) error {
	m.store.RecordMessage(event)
	return nil
}

func (m *Module) handlePresenceChanged(_ context.Context, event events.PresenceChangedEvent, _ *mono.Msg) error {
	m.store.RecordPresence(event)
	m.logger.Debug("Recorded presence change",
		"room", event.RoomID,
		"user", event.UserID,
		"online", event.Online)
	return nil
}

func (m *Module) handleTypingChanged(_ context.Context, event events.TypingChangedEvent, _ *mono.Msg) error {
	m.store.RecordTyping(event)
	return nil
}

// Start initializes the activity module.
func (m *Module) Start(_ context.Context) error {
	m.logger.Info("Activity module started")
	return nil
}

// Stop gracefully shuts down the module.
func (m *Module) Stop(_ context.Context) error {
	m.logger.Info("Activity module stopped")
	return nil
}

// RegisterServices registers the activity-stats service.
func (m *Module) RegisterServices(container mono.ServiceContainer) error {
	if err := container.RegisterRequestReplyService(ServiceActivityStats, m.handleStats); err != nil {
		return fmt.Errorf("failed to register %s service: %w", ServiceActivityStats, err)
	}
	m.logger.Info("Registered activity services", "services", []string{ServiceActivityStats})
	return nil
}

func (m *Module) handleStats(_ context.Context, _ *mono.Msg) ([]byte, error) {
	return json.Marshal(m.store.Summary())
}
