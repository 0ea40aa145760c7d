package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// MatchState is the lifecycle of a head-to-head match.
type MatchState string

const (
	MatchPreMatch MatchState = "pre-match"
	MatchActive   MatchState = "active"
	MatchSettling MatchState = "settling"
	MatchSettled  MatchState = "settled"
	MatchFailed   MatchState = "failed"
	MatchVoided   MatchState = "voided"
)

// MatchRecord archives a torn-down match (settled, failed or voided).
type MatchRecord struct {
	ID             string          `gorm:"primaryKey;type:uuid" json:"id"`
	Seat1WalletID  uint            `gorm:"index;not null" json:"seat1_wallet_id"`
	Seat2WalletID  uint            `gorm:"index;not null" json:"seat2_wallet_id"`
	Seat1Score     int64           `json:"seat1_score"`
	Seat2Score     int64           `json:"seat2_score"`
	WinnerWalletID *uint           `gorm:"index" json:"winner_wallet_id,omitempty"`
	EntryFee       decimal.Decimal `gorm:"type:numeric(20,4);not null" json:"entry_fee"`
	Pool           decimal.Decimal `gorm:"type:numeric(20,4);not null" json:"pool"`
	PlatformCut    decimal.Decimal `gorm:"type:numeric(20,4);not null" json:"platform_cut"`
	WinnerTake     decimal.Decimal `gorm:"type:numeric(20,4);not null" json:"winner_take"`
	State          MatchState      `gorm:"type:varchar(16);not null;index" json:"state"`
	Reason         string          `json:"reason,omitempty"`
	FinishedAt     time.Time       `gorm:"not null;index" json:"finished_at"`

	// Receipt archive
	ArchivedAt      *time.Time `gorm:"index" json:"archived_at,omitempty"`
	ReceiptURL      string     `json:"receipt_url,omitempty"`
	ArchiveAttempts int        `gorm:"not null;default:0" json:"-"` // failed uploads so far

	CreatedAt time.Time `json:"created_at" gorm:"autoCreateTime"`
}
