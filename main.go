package main

import (
	"context"
	"log"
	"os"

	gfshutdown "github.com/gelmium/graceful-shutdown"
	"github.com/go-monolith/mono"

	"github.com/example/chat-fanout/config"
	"github.com/example/chat-fanout/modules/activity"
	"github.com/example/chat-fanout/modules/api"
	"github.com/example/chat-fanout/modules/identity"
	"github.com/example/chat-fanout/modules/reconciler"
	"github.com/example/chat-fanout/modules/relay"
	"github.com/example/chat-fanout/modules/session"
)

func main() {
	log.Println("=== Chat Fanout - Fiber WebSocket + Cross-Instance Relay ===")

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// Create mono application
	app, err := mono.NewMonoApplication(
		mono.WithShutdownTimeout(cfg.ShutdownTimeout),
		mono.WithLogLevel(mono.LogLevelInfo),
		mono.WithLogFormat(mono.LogFormatText),
	)
	if err != nil {
		log.Fatalf("Failed to create application: %v", err)
	}
	logger := app.Logger()

	// Relay: broker link shared by every instance
	broker, err := relay.NewBroker(cfg.Relay, "chat-fanout-"+cfg.InstanceID, logger.WithModule("relay"))
	if err != nil {
		log.Fatalf("Failed to create relay broker: %v", err)
	}
	adapter := relay.NewAdapter(broker, relay.Options{
		Topic:      cfg.Relay.Topic,
		InstanceID: cfg.InstanceID,
		Backoff:    relay.Backoff{Min: cfg.Relay.MinBackoff, Max: cfg.Relay.MaxBackoff},
	}, logger.WithModule("relay"))

	registry, err := identity.NewRegistry()
	if err != nil {
		log.Fatalf("Failed to create identity registry: %v", err)
	}

	// Create modules
	relayModule := relay.NewModule(adapter, cfg.Relay.Enabled, logger.WithModule("relay"))
	sessionModule := session.NewModule(registry, reconciler.New(), adapter, cfg.TypingTimeout, logger.WithModule("session"))
	activityModule := activity.NewModule(logger.WithModule("activity"))
	apiModule := api.NewModule(api.Config{
		Port:               cfg.Port,
		CORSAllowedOrigins: cfg.CORSAllowedOrigins,
		MessagesPerSecond:  float64(cfg.MessagesPerSecond),
		Burst:              cfg.Burst,
		SendBuffer:         cfg.SendBuffer,
	})

	// Wire what the ServiceContainer does not carry: relayed messages go
	// straight to the supervisor, and the API reads it for WebSocket sessions.
	adapter.SetSink(sessionModule.Supervisor().DeliverRelayed)
	apiModule.SetSupervisor(sessionModule.Supervisor())
	apiModule.SetRelayStats(adapter.Stats)

	// Register modules with the framework.
	// - relay: broker link (retries in the background, never blocks startup)
	// - session: connection supervisor (ServiceProviderModule + EventEmitterModule)
	// - activity: per-room counters (EventConsumerModule + ServiceProviderModule)
	// - api: driving adapter (Fiber HTTP/WebSocket server)
	app.Register(relayModule)
	app.Register(sessionModule)
	app.Register(activityModule)
	app.Register(apiModule)

	// Start application
	if err := app.Start(context.Background()); err != nil {
		log.Fatalf("Failed to start application: %v", err)
	}

	printStartupInfo(cfg)

	// Graceful shutdown
	wait := gfshutdown.GracefulShutdown(
		context.Background(),
		cfg.ShutdownTimeout,
		map[string]gfshutdown.Operation{
			"mono-app": func(ctx context.Context) error {
				log.Println("Graceful shutdown initiated...")
				return app.Stop(ctx)
			},
		},
	)

	exitCode := <-wait
	log.Printf("Application exited with code: %d", exitCode)
	os.Exit(exitCode)
}

func printStartupInfo(cfg config.Config) {
	log.Println("")
	log.Println("Application started successfully!")
	log.Printf("  Instance: %s", cfg.InstanceID)
	if cfg.Relay.Enabled {
		log.Printf("  Relay: %s at %s (topic %s)", cfg.Relay.Driver, cfg.Relay.URL, cfg.Relay.Topic)
	} else {
		log.Println("  Relay: disabled (local fanout only)")
	}
	log.Println("")
	log.Printf("REST API Endpoints (http://localhost:%s):", cfg.Port)
	log.Println("  GET    /health                   - Health check")
	log.Println("  GET    /api/v1/online            - Users online on this instance")
	log.Println("  GET    /api/v1/rooms/:id/online  - Users online in a room")
	log.Println("  GET    /api/v1/stats             - Session, relay and activity counters")
	log.Println("")
	log.Printf("WebSocket Endpoint (ws://localhost:%s/ws):", cfg.Port)
	log.Printf("  Connect with: ws://localhost:%s/ws?userId=alice&username=Alice", cfg.Port)
	log.Println("  Client events: join_room, leave_room, event:message, user:typing, user:stop-typing")
	log.Println("")
	log.Println("Press Ctrl+C to shutdown gracefully")
}
