// Package config loads process configuration from environment variables.
package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/google/uuid"
)

// Relay drivers.
const (
	DriverNATS  = "nats"
	DriverRedis = "redis"
)

// Config holds the process configuration.
type Config struct {
	Port               string        `env:"PORT" envDefault:"3000"`
	InstanceID         string        `env:"INSTANCE_ID"`
	CORSAllowedOrigins string        `env:"CORS_ALLOWED_ORIGINS" envDefault:"http://localhost:3000,http://localhost:8080"`
	ShutdownTimeout    time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"30s"`
	TypingTimeout      time.Duration `env:"TYPING_TIMEOUT" envDefault:"3s"`

	// WebSocket limits
	MessagesPerSecond int `env:"WS_MESSAGES_PER_SECOND" envDefault:"10"`
	Burst             int `env:"WS_BURST" envDefault:"20"`
	SendBuffer        int `env:"WS_SEND_BUFFER" envDefault:"64"`

	Relay RelayConfig `envPrefix:"RELAY_"`
}

// RelayConfig configures the cross-instance broker link.
type RelayConfig struct {
	Enabled    bool          `env:"ENABLED" envDefault:"false"`
	Driver     string        `env:"DRIVER" envDefault:"nats"`
	URL        string        `env:"URL"`
	Username   string        `env:"USERNAME"`
	Password   string        `env:"PASSWORD"`
	TLS        bool          `env:"TLS" envDefault:"false"`
	Topic      string        `env:"TOPIC" envDefault:"chat.messages"`
	MinBackoff time.Duration `env:"MIN_BACKOFF" envDefault:"500ms"`
	MaxBackoff time.Duration `env:"MAX_BACKOFF" envDefault:"30s"`
}

// Load parses the environment and validates the result.
func Load() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	if cfg.InstanceID == "" {
		cfg.InstanceID = uuid.New().String()
	}
	if cfg.Relay.URL == "" {
		cfg.Relay.URL = defaultURL(cfg.Relay.Driver)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate reports configuration errors that must stop startup. A relay
// that is enabled but unreachable is not one of them.
func (c Config) Validate() error {
	if c.Port == "" {
		return errors.New("PORT is required")
	}
	if c.TypingTimeout <= 0 {
		return errors.New("TYPING_TIMEOUT must be positive")
	}
	if c.MessagesPerSecond <= 0 || c.Burst <= 0 {
		return errors.New("WS_MESSAGES_PER_SECOND and WS_BURST must be positive")
	}
	if c.SendBuffer <= 0 {
		return errors.New("WS_SEND_BUFFER must be positive")
	}
	if !c.Relay.Enabled {
		return nil
	}
	switch c.Relay.Driver {
	case DriverNATS, DriverRedis:
	default:
		return fmt.Errorf("unknown RELAY_DRIVER %q", c.Relay.Driver)
	}
	if c.Relay.Topic == "" {
		return errors.New("RELAY_TOPIC is required when the relay is enabled")
	}
	if c.Relay.MinBackoff <= 0 || c.Relay.MaxBackoff < c.Relay.MinBackoff {
		return errors.New("RELAY_MIN_BACKOFF must be positive and not exceed RELAY_MAX_BACKOFF")
	}
	return nil
}

func defaultURL(driver string) string {
	if driver == DriverRedis {
		return "localhost:6379"
	}
	return "nats://localhost:4222"
}
