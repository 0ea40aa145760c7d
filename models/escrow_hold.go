package models

import "github.com/shopspring/decimal"

type HoldStatus string

const (
	HoldHeld     HoldStatus = "held"
	HoldSettled  HoldStatus = "settled"
	HoldReleased HoldStatus = "released"
)

// EscrowHold records the part of a wallet's LockedBalance reserved for one match.
// A hold leaves the held status exactly once.
type EscrowHold struct {
	ID       string          `gorm:"primaryKey;type:uuid" json:"id"`
	MatchID  string          `gorm:"type:varchar(64);not null;uniqueIndex:idx_hold_match_wallet" json:"match_id"`
	WalletID uint            `gorm:"not null;uniqueIndex:idx_hold_match_wallet" json:"wallet_id"`
	Amount   decimal.Decimal `gorm:"type:numeric(20,4);not null" json:"amount"`
	Status   HoldStatus      `gorm:"type:varchar(16);not null;index" json:"status"`

	Timestamps
}
