// middleware/service_auth.go
package middleware

import (
	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"
)

// ServiceAuthMiddleware guards the escrow endpoints that only the realtime
// orchestrator may call. The key travels in X-Service-Token.
func ServiceAuthMiddleware(serviceKey string, logger zerolog.Logger) fiber.Handler {
	log := logger.With().Str("component", "service_auth").Logger()
	return func(c *fiber.Ctx) error {
		if !tokenMatches(c.Get("X-Service-Token"), serviceKey) {
			log.Warn().Str("path", c.Path()).Msg("❌ [SERVICE_AUTH] rejected service call")
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "invalid service token",
			})
		}
		return c.Next()
	}
}
