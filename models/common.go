package models

import "time"

// Timestamps is embedded by records that are updated in place. Ledger rows never
// are, so Transaction carries its own CreatedAt only.
type Timestamps struct {
	CreatedAt time.Time `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt time.Time `json:"updated_at" gorm:"autoUpdateTime"`
}
