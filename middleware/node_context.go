// middleware/node_context.go
package middleware

import (
	"strconv"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"
)

const nodeIDKey = "node_id"

// NodeContextMiddleware reads the acting node forwarded by the gateway in
// X-Node-ID and rejects the request when it is missing or malformed.
func NodeContextMiddleware(logger zerolog.Logger) fiber.Handler {
	log := logger.With().Str("component", "node_ctx").Logger()
	return func(c *fiber.Ctx) error {
		raw := c.Get("X-Node-ID")
		if raw == "" {
			log.Warn().Str("path", c.Path()).Msg("❌ [NODE_CTX] X-Node-ID required but missing")
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "missing X-Node-ID: request must come through gateway with node context",
			})
		}
		id, err := strconv.ParseUint(raw, 10, 64)
		if err != nil || id == 0 {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid X-Node-ID"})
		}
		c.Locals(nodeIDKey, uint(id))
		return c.Next()
	}
}

// NodeID returns the acting node set by NodeContextMiddleware.
func NodeID(c *fiber.Ctx) (uint, bool) {
	id, ok := c.Locals(nodeIDKey).(uint)
	return id, ok
}
