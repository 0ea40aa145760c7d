// services/player_service.go
package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"match-escrow-system/models"

	"github.com/rs/zerolog"
	"gorm.io/gorm"
)

type PlayerService struct {
	DB       *gorm.DB
	Currency string
	Logger   zerolog.Logger
}

func NewPlayerService(db *gorm.DB, currency string, logger zerolog.Logger) *PlayerService {
	return &PlayerService{DB: db, Currency: currency, Logger: logger.With().Str("component", "players").Logger()}
}

type NewPlayer struct {
	Username      string
	SponsorNodeID uint
	Currency      string
}

// Provision creates a player under a sponsor node together with an empty wallet.
func (s *PlayerService) Provision(ctx context.Context, req NewPlayer) (*models.Player, *models.Wallet, error) {
	username := strings.TrimSpace(req.Username)
	if username == "" {
		return nil, nil, fmt.Errorf("username is required: %w", ErrInvalidArgument)
	}
	if req.SponsorNodeID == 0 {
		return nil, nil, fmt.Errorf("sponsor node is required: %w", ErrInvalidArgument)
	}
	currency := req.Currency
	if currency == "" {
		currency = s.Currency
	}

	var player models.Player
	var wallet *models.Wallet
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		sponsor, err := findNode(tx, req.SponsorNodeID)
		if err != nil {
			return err
		}
		if sponsor.Status != models.NodeActive {
			return fmt.Errorf("sponsor node %d is %s: %w", sponsor.ID, sponsor.Status, ErrInvalidArgument)
		}

		var taken int64
		if err := tx.Model(&models.Player{}).Where("username = ?", username).Count(&taken).Error; err != nil {
			return err
		}
		if taken > 0 {
			return fmt.Errorf("username %q is taken: %w", username, ErrInvalidArgument)
		}

		player = models.Player{Username: username, SponsorNodeID: &sponsor.ID, Status: "active"}
		if err := tx.Create(&player).Error; err != nil {
			return fmt.Errorf("create player: %w", err)
		}
		wallet, err = openWallet(tx, models.OwnerPlayer, player.ID, currency)
		return err
	})
	if err != nil {
		return nil, nil, err
	}
	s.Logger.Info().Uint("player_id", player.ID).Uint("wallet_id", wallet.ID).Uint("sponsor", req.SponsorNodeID).
		Msg("[PLAYERS] player provisioned")
	return &player, wallet, nil
}

// WalletOwner returns the player that owns walletID.
func (s *PlayerService) WalletOwner(ctx context.Context, walletID uint) (*models.Player, error) {
	var wallet models.Wallet
	db := s.DB.WithContext(ctx)
	if err := db.First(&wallet, walletID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("wallet %d: %w", walletID, ErrNotFound)
		}
		return nil, err
	}
	if wallet.OwnerType != models.OwnerPlayer {
		return nil, fmt.Errorf("wallet %d is not a player wallet: %w", walletID, ErrInvalidArgument)
	}
	var player models.Player
	if err := db.First(&player, wallet.OwnerID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("player %d: %w", wallet.OwnerID, ErrNotFound)
		}
		return nil, err
	}
	return &player, nil
}
