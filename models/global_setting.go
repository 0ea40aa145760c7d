package models

import "time"

const SettingCoinToFiatRatio = "coin_to_fiat_ratio"

// GlobalSetting is a platform-wide key/value configuration row.
type GlobalSetting struct {
	Key       string    `gorm:"primaryKey;type:varchar(64)" json:"setting_key"`
	Value     string    `gorm:"not null" json:"setting_value"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}
