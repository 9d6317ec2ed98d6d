package api

import (
	"log"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"golang.org/x/time/rate"
)

// setupRoutes configures all HTTP routes.
func (m *APIModule) setupRoutes(app *fiber.App) {
	// Health check
	app.Get("/health", m.healthHandler)

	// WebSocket endpoint
	app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	app.Get("/ws", websocket.New(func(c *websocket.Conn) {
		limit := rate.Inf
		if m.cfg.MessagesPerSecond > 0 {
			limit = rate.Limit(m.cfg.MessagesPerSecond)
		}
		limiter := rate.NewLimiter(limit, m.cfg.Burst)
		serveConn(m.supervisor, c, c.Query("userId"), c.Query("username"), limiter, m.cfg.SendBuffer)
	}))

	// REST API v1
	api := app.Group("/api/v1")
	api.Get("/online", m.getOnline)
	api.Get("/rooms/:id/online", m.getRoomOnline)
	api.Get("/stats", m.getStats)
}

// healthHandler handles GET /health.
func (m *APIModule) healthHandler(c *fiber.Ctx) error {
	details := map[string]any{
		"module": "api",
	}
	if m.supervisor != nil {
		details["connections"] = m.supervisor.Stats().Connections
	}
	if m.relayStats != nil {
		details["relay_connected"] = m.relayStats().Connected
	}
	return c.JSON(HealthResponse{
		Status:  "healthy",
		Details: details,
	})
}

// getOnline handles GET /api/v1/online.
func (m *APIModule) getOnline(c *fiber.Ctx) error {
	return m.online(c, "")
}

// getRoomOnline handles GET /api/v1/rooms/:id/online.
func (m *APIModule) getRoomOnline(c *fiber.Ctx) error {
	roomID := c.Params("id")
	if roomID == "" {
		return c.Status(fiber.StatusBadRequest).JSON(ErrorResponse{
			Error:   "validation_error",
			Message: "Room ID is required",
		})
	}
	return m.online(c, roomID)
}

func (m *APIModule) online(c *fiber.Ctx, roomID string) error {
	resp, err := m.sessionAdapter.OnlineUsers(c.UserContext(), roomID)
	if err != nil {
		log.Printf("[api] Failed to get online users: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(ErrorResponse{
			Error:   "presence_failed",
			Message: "Failed to get online users",
		})
	}

	return c.JSON(OnlineResponse{
		RoomID: resp.RoomID,
		Users:  resp.Users,
		Typing: resp.Typing,
		Count:  len(resp.Users),
	})
}

// getStats handles GET /api/v1/stats.
func (m *APIModule) getStats(c *fiber.Ctx) error {
	stats, err := m.sessionAdapter.Stats(c.UserContext())
	if err != nil {
		log.Printf("[api] Failed to get session stats: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(ErrorResponse{
			Error:   "stats_failed",
			Message: "Failed to get stats",
		})
	}

	resp := StatsResponse{Session: stats.Stats}
	if m.relayStats != nil {
		relayStats := m.relayStats()
		resp.Relay = &relayStats
	}
	if m.activityAdapter != nil {
		// activity is best effort
		summary, err := m.activityAdapter.Summary(c.UserContext())
		if err != nil {
			log.Printf("[api] Failed to get activity stats: %v", err)
		} else {
			resp.Activity = summary
		}
	}
	return c.JSON(resp)
}
