// handlers/routes.go
package handlers

import (
	"match-escrow-system/middleware"
	"match-escrow-system/services"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// Deps is everything the HTTP surface needs.
type Deps struct {
	Ledger              *services.LedgerService
	Governance          *services.GovernanceService
	Players             *services.PlayerService
	Settings            *services.SettingsService
	Registry            *services.MatchRegistry
	ServiceKey          string
	PlatformFeeFraction decimal.Decimal
	Logger              zerolog.Logger
}

// SetupRoutes mounts the /api/v1 surface on app.
func SetupRoutes(app fiber.Router, d Deps) {
	api := app.Group("/api/v1")
	SetupEconomyRoutes(api, d)
	SetupPlayerRoutes(api, d)
	SetupAdminRoutes(api, d)
}

func nodeScoped(d Deps) fiber.Handler {
	return middleware.NodeContextMiddleware(d.Logger)
}
