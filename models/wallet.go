// models/wallet.go
package models

import (
	"github.com/shopspring/decimal"
)

// OwnerType tells which record a wallet belongs to.
type OwnerType string

const (
	OwnerPlayer OwnerType = "player"
	OwnerNode   OwnerType = "node"
)

// Wallet is the balance record of a player or a node operator.
// Mutated only by the ledger; never deleted.
type Wallet struct {
	ID            uint            `gorm:"primaryKey" json:"id"`
	OwnerType     OwnerType       `gorm:"type:varchar(16);not null;uniqueIndex:idx_wallet_owner" json:"owner_type"`
	OwnerID       uint            `gorm:"not null;uniqueIndex:idx_wallet_owner" json:"owner_id"`
	Balance       decimal.Decimal `gorm:"type:numeric(20,4);not null" json:"balance"`
	LockedBalance decimal.Decimal `gorm:"type:numeric(20,4);not null" json:"locked_balance"`
	Currency      string          `gorm:"type:varchar(10);not null" json:"currency"`

	Timestamps
}

// Available is the only amount a wallet may spend or stake.
func (w *Wallet) Available() decimal.Decimal {
	return w.Balance.Sub(w.LockedBalance)
}

// Consistent reports whether balance >= locked >= 0 holds.
func (w *Wallet) Consistent() bool {
	return !w.LockedBalance.IsNegative() && w.Balance.GreaterThanOrEqual(w.LockedBalance)
}
