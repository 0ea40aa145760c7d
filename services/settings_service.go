// services/settings_service.go
package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"match-escrow-system/models"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var defaultConversionRate = decimal.RequireFromString("1.00")

type SettingsService struct {
	DB *gorm.DB
}

func NewSettingsService(db *gorm.DB) *SettingsService {
	return &SettingsService{DB: db}
}

// ConversionRate is the coin to fiat ratio, 1.00 until one is set.
func (s *SettingsService) ConversionRate(ctx context.Context) (decimal.Decimal, error) {
	var setting models.GlobalSetting
	err := s.DB.WithContext(ctx).First(&setting, "key = ?", models.SettingCoinToFiatRatio).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return defaultConversionRate, nil
	}
	if err != nil {
		return decimal.Zero, err
	}
	rate, err := decimal.NewFromString(setting.Value)
	if err != nil {
		return decimal.Zero, fmt.Errorf("stored %s %q: %w", setting.Key, setting.Value, err)
	}
	return rate, nil
}

func (s *SettingsService) SetConversionRate(ctx context.Context, rate decimal.Decimal) error {
	if !rate.IsPositive() {
		return fmt.Errorf("conversion rate must be positive: %w", ErrInvalidArgument)
	}
	setting := models.GlobalSetting{
		Key:       models.SettingCoinToFiatRatio,
		Value:     rate.String(),
		UpdatedAt: time.Now(),
	}
	return s.DB.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "key"}},
		DoUpdates: clause.AssignmentColumns([]string{"value", "updated_at"}),
	}).Create(&setting).Error
}
