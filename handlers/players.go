// handlers/players.go
package handlers

import (
	"match-escrow-system/services"

	"github.com/gofiber/fiber/v2"
)

func SetupPlayerRoutes(api fiber.Router, d Deps) {
	log := d.Logger.With().Str("component", "players_api").Logger()

	api.Post("/players", func(c *fiber.Ctx) error {
		var req struct {
			Username      string `json:"username"`
			SponsorNodeID uint   `json:"sponsor_node_id"`
			Currency      string `json:"currency"`
		}
		if err := c.BodyParser(&req); err != nil {
			return badRequest(c, "Invalid request body")
		}
		player, wallet, err := d.Players.Provision(c.UserContext(), services.NewPlayer{
			Username:      req.Username,
			SponsorNodeID: req.SponsorNodeID,
			Currency:      req.Currency,
		})
		if err != nil {
			return respondError(c, log, err)
		}
		return c.Status(fiber.StatusCreated).JSON(fiber.Map{
			"status": "success",
			"data": fiber.Map{
				"player": player,
				"wallet": wallet,
			},
		})
	})
}
