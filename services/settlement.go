// services/settlement.go
package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"match-escrow-system/models"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// TierWeight is the share of the platform cut owed to one tier.
type TierWeight struct {
	Tier   models.NodeType
	Weight decimal.Decimal
}

// TierWeights lists the paid tiers from the bottom of the chain upwards.
// The last tier takes whatever truncation leaves over.
var TierWeights = []TierWeight{
	{Tier: models.NodeFranchisee, Weight: decimal.RequireFromString("0.5")},
	{Tier: models.NodeMaster, Weight: decimal.RequireFromString("0.3")},
	{Tier: models.NodeSuper, Weight: decimal.RequireFromString("0.2")},
}

type TierShare struct {
	Tier   models.NodeType
	Amount decimal.Decimal
}

// SplitPlatformCut divides cut across TierWeights. Every share but the last
// is truncated to precision; the last tier receives the remainder, so the
// shares always add up to cut.
func SplitPlatformCut(cut decimal.Decimal, precision int32) []TierShare {
	shares := make([]TierShare, 0, len(TierWeights))
	remaining := cut
	for i, tw := range TierWeights {
		amount := remaining
		if i < len(TierWeights)-1 {
			amount = cut.Mul(tw.Weight).Truncate(precision)
		}
		remaining = remaining.Sub(amount)
		shares = append(shares, TierShare{Tier: tw.Tier, Amount: amount})
	}
	return shares
}

type SettleRequest struct {
	MatchID             string
	WinnerWalletID      uint
	LoserWalletID       uint
	TotalPool           decimal.Decimal
	PlatformFeeFraction decimal.Decimal
}

// TierSplit is one commission credit of a settlement.
type TierSplit struct {
	Tier     models.NodeType `json:"tier"`
	NodeID   uint            `json:"node_id"`
	WalletID uint            `json:"wallet_id"`
	Amount   decimal.Decimal `json:"amount"`
}

type Settlement struct {
	MatchID        string          `json:"match_id"`
	WinnerWalletID uint            `json:"winner_wallet_id"`
	TotalPool      decimal.Decimal `json:"total_pool"`
	PlatformCut    decimal.Decimal `json:"platform_cut"`
	WinnerTake     decimal.Decimal `json:"winner_take"`
	Splits         []TierSplit     `json:"splits"`
}

// SettleMatch consumes the match's escrow holds, pays the winner and
// distributes the platform cut up the winner's sponsor chain, all in one unit.
func (s *LedgerService) SettleMatch(ctx context.Context, req SettleRequest) (*Settlement, error) {
	if req.MatchID == "" {
		return nil, fmt.Errorf("match id is required: %w", ErrInvalidArgument)
	}
	if !req.TotalPool.IsPositive() {
		return nil, fmt.Errorf("total pool must be positive: %w", ErrInvalidArgument)
	}
	if req.PlatformFeeFraction.IsNegative() || req.PlatformFeeFraction.GreaterThan(decimal.NewFromInt(1)) {
		return nil, fmt.Errorf("platform fee fraction must be within [0,1]: %w", ErrInvalidArgument)
	}
	if req.WinnerWalletID == 0 || req.LoserWalletID == 0 || req.WinnerWalletID == req.LoserWalletID {
		return nil, fmt.Errorf("winner and loser must be distinct wallets: %w", ErrInvalidArgument)
	}

	cut := req.TotalPool.Mul(req.PlatformFeeFraction).Truncate(s.Precision)
	result := &Settlement{
		MatchID:        req.MatchID,
		WinnerWalletID: req.WinnerWalletID,
		TotalPool:      req.TotalPool,
		PlatformCut:    cut,
		WinnerTake:     req.TotalPool.Sub(cut),
	}

	// The chain is read before locking to learn which wallets to lock, then
	// read again inside the unit.
	shares := SplitPlatformCut(cut, s.Precision)
	planned, err := resolveBeneficiaries(s.DB.WithContext(ctx), req.WinnerWalletID, shares)
	if err != nil {
		s.Metrics.Settled("rejected", 0)
		return nil, classifyLedgerError(err)
	}

	ids := []uint{req.WinnerWalletID, req.LoserWalletID}
	for _, sp := range planned {
		ids = append(ids, sp.WalletID)
	}

	err = s.atomic(ctx, "settle_match", ids, func(tx *gorm.DB) error {
		wallets, err := lockWallets(tx, ids...)
		if err != nil {
			return err
		}
		splits, err := confirmBeneficiaries(tx, req.WinnerWalletID, shares, wallets)
		if err != nil {
			return err
		}
		result.Splits = splits

		var holds []models.EscrowHold
		if err := tx.Where("match_id = ? AND status = ?", req.MatchID, models.HoldHeld).Find(&holds).Error; err != nil {
			return err
		}
		if len(holds) == 0 {
			return fmt.Errorf("no escrow holds for match %s: %w", req.MatchID, ErrNotFound)
		}
		held := decimal.Zero
		for _, h := range holds {
			if h.WalletID != req.WinnerWalletID && h.WalletID != req.LoserWalletID {
				return fmt.Errorf("hold of wallet %d is not a participant of match %s: %w", h.WalletID, req.MatchID, ErrInvalidArgument)
			}
			held = held.Add(h.Amount)
		}
		if !held.Equal(req.TotalPool) {
			return fmt.Errorf("pool %s does not match held stakes %s: %w", req.TotalPool, held, ErrInvalidArgument)
		}

		var entries []models.Transaction
		stakeRef := "match_stake_" + req.MatchID
		for i := range holds {
			w := wallets[holds[i].WalletID]
			w.LockedBalance = w.LockedBalance.Sub(holds[i].Amount)
			w.Balance = w.Balance.Sub(holds[i].Amount)
			entries = append(entries, newEntry(w.ID, holds[i].Amount.Neg(), models.KindTransfer, stakeRef))
			if err := tx.Model(&holds[i]).Update("status", models.HoldSettled).Error; err != nil {
				return err
			}
		}

		if result.WinnerTake.IsPositive() {
			winner := wallets[req.WinnerWalletID]
			winner.Balance = winner.Balance.Add(result.WinnerTake)
			entries = append(entries, newEntry(winner.ID, result.WinnerTake, models.KindReward, "match_prize_"+req.MatchID))
		}
		for _, sp := range splits {
			w := wallets[sp.WalletID]
			w.Balance = w.Balance.Add(sp.Amount)
			ref := fmt.Sprintf("fee_split_%s_Cut_%s", sp.Tier, req.MatchID)
			entries = append(entries, newEntry(w.ID, sp.Amount, models.KindFee, ref))
		}

		for _, id := range uniqueSorted(ids) {
			if err := saveWallet(tx, wallets[id]); err != nil {
				return err
			}
		}
		return tx.Create(&entries).Error
	})
	if err != nil {
		s.Metrics.Settled("failed", 0)
		s.Logger.Error().Err(err).Str("match_id", req.MatchID).Msg("[LEDGER] settlement failed")
		return nil, err
	}

	s.Metrics.Settled("settled", cut.InexactFloat64())
	s.Logger.Info().Str("match_id", req.MatchID).Uint("winner", req.WinnerWalletID).
		Str("winner_take", result.WinnerTake.String()).Str("platform_cut", cut.String()).
		Int("splits", len(result.Splits)).Msg("[LEDGER] match settled")
	return result, nil
}

// confirmBeneficiaries resolves the splits again under the unit's locks. Every
// beneficiary wallet must be among the locked ones.
func confirmBeneficiaries(tx *gorm.DB, winnerWalletID uint, shares []TierShare, locked map[uint]*models.Wallet) ([]TierSplit, error) {
	splits, err := resolveBeneficiaries(tx, winnerWalletID, shares)
	if err != nil {
		return nil, err
	}
	for _, sp := range splits {
		if _, ok := locked[sp.WalletID]; !ok {
			return nil, fmt.Errorf("node %d wallet %d was not locked: %w", sp.NodeID, sp.WalletID, ErrBeneficiariesChanged)
		}
	}
	return splits, nil
}

// resolveBeneficiaries maps each tier share to a node wallet of the chain
// above the winner's sponsor. A tier that is missing from the chain or whose
// node is not active hands its share to the next tier up; the top of the
// chain always receives what is left. Zero shares are dropped.
func resolveBeneficiaries(tx *gorm.DB, winnerWalletID uint, shares []TierShare) ([]TierSplit, error) {
	chain, err := winnerChain(tx, winnerWalletID)
	if err != nil {
		return nil, err
	}
	top := chain[len(chain)-1]

	var splits []TierSplit
	carry := decimal.Zero
	for i, share := range shares {
		amount := share.Amount.Add(carry)
		last := i == len(shares)-1

		var beneficiary *models.Node
		if last {
			beneficiary = &top
		} else {
			for j := range chain {
				if strings.EqualFold(string(chain[j].Type), string(share.Tier)) {
					if chain[j].Status == models.NodeActive {
						beneficiary = &chain[j]
					}
					break
				}
			}
		}
		if beneficiary == nil {
			carry = amount
			continue
		}
		carry = decimal.Zero
		if !amount.IsPositive() {
			continue
		}
		wallet, err := nodeWallet(tx, beneficiary.ID)
		if err != nil {
			return nil, err
		}
		splits = append(splits, TierSplit{Tier: share.Tier, NodeID: beneficiary.ID, WalletID: wallet.ID, Amount: amount})
	}
	return splits, nil
}

// winnerChain is the sponsor chain of the winning wallet, ending at a root.
// A wallet without a sponsor is attributed to the oldest root.
func winnerChain(tx *gorm.DB, winnerWalletID uint) ([]models.Node, error) {
	var wallet models.Wallet
	if err := tx.First(&wallet, winnerWalletID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("wallet %d: %w", winnerWalletID, ErrNotFound)
		}
		return nil, err
	}

	var start *uint
	switch wallet.OwnerType {
	case models.OwnerPlayer:
		var player models.Player
		err := tx.First(&player, wallet.OwnerID).Error
		if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, err
		}
		start = player.SponsorNodeID
	case models.OwnerNode:
		id := wallet.OwnerID
		start = &id
	}

	if start != nil {
		chain, err := sponsorChain(tx, *start)
		if err != nil {
			return nil, err
		}
		if chain[len(chain)-1].Type.IsRoot() {
			return chain, nil
		}
	}
	root, err := rootNode(tx)
	if err != nil {
		return nil, err
	}
	return []models.Node{*root}, nil
}
