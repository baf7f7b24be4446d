package handlers

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
	"go.uber.org/zap"

	"github.com/spec-kit/helpdesk/internal/auth"
	"github.com/spec-kit/helpdesk/internal/domain"
	"github.com/spec-kit/helpdesk/internal/realtime"
)

const streamActorKey = "stream_actor"

// StreamHandler upgrades authenticated requests to websocket connections and
// attaches them to the fan-out hub.
type StreamHandler struct {
	hub    *realtime.Hub
	logger *zap.Logger
}

// NewStreamHandler constructs handler.
func NewStreamHandler(hub *realtime.Hub, logger *zap.Logger) *StreamHandler {
	return &StreamHandler{hub: hub, logger: logger}
}

// Upgrade gates GET /ws. Auth middleware has already run; the actor is
// stashed in Locals because the websocket callback gets a different context.
func (h *StreamHandler) Upgrade(c *fiber.Ctx) error {
	if !websocket.IsWebSocketUpgrade(c) {
		return fiber.ErrUpgradeRequired
	}
	principal, ok := auth.PrincipalFromContext(c)
	if !ok || principal.User == nil {
		return fiber.ErrUnauthorized
	}
	c.Locals(streamActorKey, principal.Actor())
	return c.Next()
}

// Serve runs the connection until the peer goes away.
func (h *StreamHandler) Serve() fiber.Handler {
	return websocket.New(func(conn *websocket.Conn) {
		actor, ok := conn.Locals(streamActorKey).(domain.Actor)
		if !ok {
			_ = conn.Close()
			return
		}
		client := realtime.NewClient(h.hub, conn, actor, h.logger)
		go client.WriteLoop()
		client.ReadLoop()
	})
}
