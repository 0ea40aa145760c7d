// handlers/admin.go
package handlers

import (
	"match-escrow-system/middleware"

	"github.com/gofiber/fiber/v2"
	"github.com/shopspring/decimal"
)

func SetupAdminRoutes(api fiber.Router, d Deps) {
	log := d.Logger.With().Str("component", "admin_api").Logger()
	admin := api.Group("/admin", nodeScoped(d))

	// Full forest, Super nodes only
	admin.Get("/revenue_tree", func(c *fiber.Ctx) error {
		nodeID, _ := middleware.NodeID(c)
		node, err := d.Governance.GetNode(c.UserContext(), nodeID)
		if err != nil {
			return respondError(c, log, err)
		}
		if !node.Type.IsRoot() {
			return c.Status(fiber.StatusForbidden).JSON(fiber.Map{"error": "revenue tree requires a Super node"})
		}
		tree, err := d.Governance.BuildRevenueTree(c.UserContext(), nil)
		if err != nil {
			return respondError(c, log, err)
		}
		return c.JSON(fiber.Map{"status": "success", "data": tree})
	})

	admin.Get("/my_tree", func(c *fiber.Ctx) error {
		nodeID, _ := middleware.NodeID(c)
		tree, err := d.Governance.ScopedTree(c.UserContext(), nodeID)
		if err != nil {
			return respondError(c, log, err)
		}
		return c.JSON(fiber.Map{"status": "success", "data": tree})
	})

	admin.Get("/authorize", func(c *fiber.Ctx) error {
		nodeID, _ := middleware.NodeID(c)
		target := c.QueryInt("target_node_id", 0)
		if target <= 0 {
			return badRequest(c, "Required: target_node_id")
		}
		allowed, err := d.Governance.CanAdminister(c.UserContext(), nodeID, uint(target))
		if err != nil {
			return respondError(c, log, err)
		}
		return c.JSON(fiber.Map{"admin_node_id": nodeID, "target_node_id": target, "allowed": allowed})
	})

	admin.Get("/command", func(c *fiber.Ctx) error {
		ctx := c.UserContext()
		nodes, err := d.Governance.CountNodes(ctx)
		if err != nil {
			return respondError(c, log, err)
		}
		wallets, err := d.Governance.CountWallets(ctx)
		if err != nil {
			return respondError(c, log, err)
		}
		rate, err := d.Settings.ConversionRate(ctx)
		if err != nil {
			return respondError(c, log, err)
		}
		return c.JSON(fiber.Map{
			"status": "success",
			"data": fiber.Map{
				"conversion_rate": rate.String(),
				"queue_length":    d.Registry.QueueLength(),
				"live_matches":    d.Registry.LiveMatches(),
				"node_count":      nodes,
				"wallet_count":    wallets,
			},
		})
	})

	admin.Get("/conversion_rate", func(c *fiber.Ctx) error {
		rate, err := d.Settings.ConversionRate(c.UserContext())
		if err != nil {
			return respondError(c, log, err)
		}
		return c.JSON(fiber.Map{"coin_to_fiat_ratio": rate.String()})
	})

	admin.Post("/conversion_rate", func(c *fiber.Ctx) error {
		nodeID, _ := middleware.NodeID(c)
		node, err := d.Governance.GetNode(c.UserContext(), nodeID)
		if err != nil {
			return respondError(c, log, err)
		}
		if !node.Type.IsRoot() {
			return c.Status(fiber.StatusForbidden).JSON(fiber.Map{"error": "conversion rate requires a Super node"})
		}
		var req struct {
			Ratio decimal.Decimal `json:"coin_to_fiat_ratio"`
		}
		if err := c.BodyParser(&req); err != nil {
			return badRequest(c, "Invalid ratio value.")
		}
		if err := d.Settings.SetConversionRate(c.UserContext(), req.Ratio); err != nil {
			return respondError(c, log, err)
		}
		log.Info().Uint("node_id", nodeID).Str("ratio", req.Ratio.String()).Msg("[ADMIN] conversion rate updated")
		return c.JSON(fiber.Map{
			"status":    "success",
			"message":   "Conversion Rate Updated",
			"new_ratio": req.Ratio.String(),
		})
	})
}
