package relay

import (
	"context"

	"github.com/go-monolith/mono"
	"github.com/go-monolith/mono/pkg/types"
)

// Module runs the relay adapter inside the mono application.
type Module struct {
	adapter *Adapter
	enabled bool
	logger  types.Logger
}

// Compile-time interface checks
var (
	_ mono.Module                = (*Module)(nil)
	_ mono.HealthCheckableModule = (*Module)(nil)
)

// NewModule creates the relay module. A disabled relay still runs the
// adapter over a Local broker.
func NewModule(adapter *Adapter, enabled bool, logger types.Logger) *Module {
	return &Module{
		adapter: adapter,
		enabled: enabled,
		logger:  logger,
	}
}

// Name returns the module name.
func (m *Module) Name() string {
	return "relay"
}

// Adapter returns the underlying adapter.
func (m *Module) Adapter() *Adapter {
	return m.adapter
}

// Start begins linking to the broker in the background.
func (m *Module) Start(_ context.Context) error {
	m.adapter.Start()
	if m.enabled {
		m.logger.Info("Relay module started", "topic", m.adapter.topic, "instance", m.adapter.InstanceID())
	} else {
		m.logger.Info("Relay disabled, fanout is local only")
	}
	return nil
}

// Stop unlinks from the broker.
func (m *Module) Stop(ctx context.Context) error {
	if err := m.adapter.Stop(ctx); err != nil {
		m.logger.Error("Failed to stop relay", "error", err)
		return err
	}
	m.logger.Info("Relay module stopped")
	return nil
}

// Health reports the link state. A degraded link leaves the process
// healthy since local fanout keeps working.
func (m *Module) Health(_ context.Context) mono.HealthStatus {
	stats := m.adapter.Stats()
	message := "linked"
	switch {
	case !m.enabled:
		message = "disabled"
	case !stats.Connected:
		message = "degraded"
	}
	return mono.HealthStatus{
		Healthy: true,
		Message: message,
		Details: map[string]any{
			"published": stats.Published,
			"failed":    stats.Failed,
			"received":  stats.Received,
			"dropped":   stats.Dropped,
			"attempts":  stats.Attempts,
		},
	}
}
