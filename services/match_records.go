// services/match_records.go
package services

import (
	"context"
	"time"

	"match-escrow-system/models"

	"gorm.io/gorm"
)

// MatchRecordStore persists torn-down matches and tracks their receipt upload.
type MatchRecordStore struct {
	DB *gorm.DB
}

func NewMatchRecordStore(db *gorm.DB) *MatchRecordStore {
	return &MatchRecordStore{DB: db}
}

func (s *MatchRecordStore) Record(ctx context.Context, rec *models.MatchRecord) error {
	return s.DB.WithContext(ctx).Create(rec).Error
}

// Unarchived returns records without a receipt, at most limit. Records that
// failed fewer uploads come first, oldest first within the same count.
func (s *MatchRecordStore) Unarchived(ctx context.Context, limit int) ([]models.MatchRecord, error) {
	var recs []models.MatchRecord
	err := s.DB.WithContext(ctx).
		Where("archived_at IS NULL").
		Order("archive_attempts ASC, finished_at ASC").
		Limit(limit).
		Find(&recs).Error
	return recs, err
}

func (s *MatchRecordStore) MarkArchived(ctx context.Context, id, receiptURL string) error {
	now := time.Now()
	return s.DB.WithContext(ctx).Model(&models.MatchRecord{}).
		Where("id = ?", id).
		Updates(map[string]any{"archived_at": now, "receipt_url": receiptURL}).Error
}

// MarkFailed counts a failed receipt upload.
func (s *MatchRecordStore) MarkFailed(ctx context.Context, id string) error {
	return s.DB.WithContext(ctx).Model(&models.MatchRecord{}).
		Where("id = ?", id).
		UpdateColumn("archive_attempts", gorm.Expr("archive_attempts + 1")).Error
}

func (s *MatchRecordStore) Get(ctx context.Context, id string) (*models.MatchRecord, error) {
	var rec models.MatchRecord
	if err := s.DB.WithContext(ctx).First(&rec, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &rec, nil
}
