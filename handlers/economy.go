// handlers/economy.go
package handlers

import (
	"strconv"

	"match-escrow-system/middleware"
	"match-escrow-system/models"
	"match-escrow-system/services"

	"github.com/gofiber/fiber/v2"
	"github.com/shopspring/decimal"
)

func walletParam(c *fiber.Ctx) (uint, bool) {
	id, err := strconv.ParseUint(c.Params("wallet_id"), 10, 64)
	if err != nil || id == 0 {
		return 0, false
	}
	return uint(id), true
}

func SetupEconomyRoutes(api fiber.Router, d Deps) {
	log := d.Logger.With().Str("component", "economy_api").Logger()
	economy := api.Group("/economy")

	// Genesis credit: no sender
	economy.Post("/mint", func(c *fiber.Ctx) error {
		var req struct {
			WalletID uint            `json:"wallet_id"`
			Amount   decimal.Decimal `json:"amount"`
		}
		if err := c.BodyParser(&req); err != nil {
			return badRequest(c, "Invalid request body")
		}
		if req.WalletID == 0 {
			return badRequest(c, "Required: wallet_id, amount")
		}
		entries, err := d.Ledger.TransferCredits(c.UserContext(), nil, req.WalletID, req.Amount, models.KindDeposit)
		if err != nil {
			return respondError(c, log, err)
		}
		return c.Status(fiber.StatusCreated).JSON(fiber.Map{
			"status":        "success",
			"message":       "Credits minted",
			"minted_amount": req.Amount,
			"reference_id":  entries[0].ReferenceID,
		})
	})

	economy.Post("/transfer", func(c *fiber.Ctx) error {
		var req struct {
			SenderID   uint            `json:"sender_id"`
			ReceiverID uint            `json:"receiver_id"`
			Amount     decimal.Decimal `json:"amount"`
		}
		if err := c.BodyParser(&req); err != nil {
			return badRequest(c, "Invalid request body")
		}
		if req.SenderID == 0 || req.ReceiverID == 0 {
			return badRequest(c, "Required: sender_id, receiver_id, amount")
		}
		sender := req.SenderID
		entries, err := d.Ledger.TransferCredits(c.UserContext(), &sender, req.ReceiverID, req.Amount, models.KindTransfer)
		if err != nil {
			return respondError(c, log, err)
		}
		return c.JSON(fiber.Map{
			"status":          "success",
			"transfer_amount": req.Amount,
			"reference_id":    entries[0].ReferenceID,
		})
	})

	economy.Get("/balance/:wallet_id", func(c *fiber.Ctx) error {
		id, ok := walletParam(c)
		if !ok {
			return badRequest(c, "Invalid wallet_id")
		}
		wallet, err := d.Ledger.Balance(c.UserContext(), id)
		if err != nil {
			return respondError(c, log, err)
		}
		return c.JSON(fiber.Map{
			"status": "success",
			"data": fiber.Map{
				"wallet_id":         wallet.ID,
				"total_balance":     wallet.Balance,
				"locked_balance":    wallet.LockedBalance,
				"available_balance": wallet.Available(),
				"currency":          wallet.Currency,
			},
		})
	})

	economy.Get("/wallets/:wallet_id/transactions", func(c *fiber.Ctx) error {
		id, ok := walletParam(c)
		if !ok {
			return badRequest(c, "Invalid wallet_id")
		}
		page := c.QueryInt("page", 1)
		size := c.QueryInt("size", 20)
		entries, total, err := d.Ledger.History(c.UserContext(), id, page, size)
		if err != nil {
			return respondError(c, log, err)
		}
		return c.JSON(fiber.Map{"data": entries, "page": page, "total": total})
	})

	economy.Get("/wallets/:wallet_id/stream", StreamWalletEntries(d.Ledger, log))

	// Server to server: only the realtime orchestrator holds this key
	serviceAuth := middleware.ServiceAuthMiddleware(d.ServiceKey, d.Logger)

	economy.Post("/lock_fees", serviceAuth, func(c *fiber.Ctx) error {
		var req struct {
			MatchID string          `json:"match_id"`
			WalletA uint            `json:"wallet_a"`
			WalletB uint            `json:"wallet_b"`
			Amount  decimal.Decimal `json:"amount"`
		}
		if err := c.BodyParser(&req); err != nil {
			return badRequest(c, "Invalid request body")
		}
		if err := d.Ledger.LockFees(c.UserContext(), req.MatchID, req.WalletA, req.WalletB, req.Amount); err != nil {
			return respondError(c, log, err)
		}
		return c.JSON(fiber.Map{"status": "success", "match_id": req.MatchID, "locked_amount": req.Amount})
	})

	economy.Post("/release_fees", serviceAuth, func(c *fiber.Ctx) error {
		var req struct {
			MatchID string `json:"match_id"`
		}
		if err := c.BodyParser(&req); err != nil {
			return badRequest(c, "Invalid request body")
		}
		released, err := d.Ledger.ReleaseFees(c.UserContext(), req.MatchID)
		if err != nil {
			return respondError(c, log, err)
		}
		return c.JSON(fiber.Map{"status": "success", "match_id": req.MatchID, "released_holds": released})
	})

	economy.Post("/settle_match", serviceAuth, func(c *fiber.Ctx) error {
		var req struct {
			MatchID             string           `json:"match_id"`
			WinnerWalletID      uint             `json:"winner_wallet_id"`
			LoserWalletID       uint             `json:"loser_wallet_id"`
			TotalPool           decimal.Decimal  `json:"total_pool"`
			PlatformFeeFraction *decimal.Decimal `json:"platform_fee_fraction"`
		}
		if err := c.BodyParser(&req); err != nil {
			return badRequest(c, "Invalid request body")
		}
		fraction := d.PlatformFeeFraction
		if req.PlatformFeeFraction != nil {
			fraction = *req.PlatformFeeFraction
		}
		result, err := d.Ledger.SettleMatch(c.UserContext(), services.SettleRequest{
			MatchID:             req.MatchID,
			WinnerWalletID:      req.WinnerWalletID,
			LoserWalletID:       req.LoserWalletID,
			TotalPool:           req.TotalPool,
			PlatformFeeFraction: fraction,
		})
		if err != nil {
			return respondError(c, log, err)
		}
		return c.JSON(fiber.Map{
			"status":  "success",
			"message": "Match settled. Multi-tier revenue split calculated.",
			"data":    result,
		})
	})

	economy.Post("/manual_fiat_settlement", nodeScoped(d), func(c *fiber.Ctx) error {
		adminID, _ := middleware.NodeID(c)
		var req struct {
			TargetNodeID   uint            `json:"target_node_id"`
			TargetWalletID uint            `json:"target_wallet_id"`
			Amount         decimal.Decimal `json:"amount"`
		}
		if err := c.BodyParser(&req); err != nil {
			return badRequest(c, "Invalid request body")
		}
		if req.TargetNodeID == 0 {
			return badRequest(c, "Required: target_node_id, amount")
		}
		ctx := c.UserContext()
		if err := d.Governance.Authorize(ctx, adminID, req.TargetNodeID); err != nil {
			return respondError(c, log, err)
		}
		wallet, err := d.Governance.NodeWallet(ctx, req.TargetNodeID)
		if err != nil {
			return respondError(c, log, err)
		}
		if req.TargetWalletID != 0 && req.TargetWalletID != wallet.ID {
			return badRequest(c, "target_wallet_id does not belong to target_node_id")
		}
		if _, err := d.Ledger.TransferCredits(ctx, nil, wallet.ID, req.Amount, models.KindManualFiat); err != nil {
			return respondError(c, log, err)
		}
		log.Info().Uint("admin", adminID).Uint("target", req.TargetNodeID).Str("amount", req.Amount.String()).
			Msg("[ECONOMY] manual fiat settlement credited")
		return c.JSON(fiber.Map{
			"status":           "success",
			"target_wallet_id": wallet.ID,
			"credited_amount":  req.Amount,
		})
	})
}
