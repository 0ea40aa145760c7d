package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type TransactionKind string

const (
	KindDeposit    TransactionKind = "deposit"
	KindWithdrawal TransactionKind = "withdrawal"
	KindTransfer   TransactionKind = "transfer"
	KindFee        TransactionKind = "fee"
	KindReward     TransactionKind = "reward"
	KindManualFiat TransactionKind = "manual_fiat"
)

// Valid reports whether k is one of the ledger kinds.
func (k TransactionKind) Valid() bool {
	switch k {
	case KindDeposit, KindWithdrawal, KindTransfer, KindFee, KindReward, KindManualFiat:
		return true
	}
	return false
}

type TransactionStatus string

const (
	TransactionPending   TransactionStatus = "pending"
	TransactionCompleted TransactionStatus = "completed"
	TransactionFailed    TransactionStatus = "failed"
)

// Transaction is one immutable side of a money movement. Amount is signed:
// debits are negative, credits positive.
type Transaction struct {
	ID          string            `gorm:"primaryKey;type:uuid" json:"id"`
	WalletID    uint              `gorm:"index;not null" json:"wallet_id"`
	Amount      decimal.Decimal   `gorm:"type:numeric(20,4);not null" json:"amount"`
	Kind        TransactionKind   `gorm:"type:varchar(16);not null;index" json:"kind"`
	ReferenceID string            `gorm:"type:varchar(128);index" json:"reference_id"`
	Status      TransactionStatus `gorm:"type:varchar(16);not null;default:'completed'" json:"status"`
	CreatedAt   time.Time         `gorm:"autoCreateTime;index" json:"created_at"`
}
