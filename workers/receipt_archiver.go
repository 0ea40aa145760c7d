// workers/receipt_archiver.go
package workers

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"match-escrow-system/models"
	"match-escrow-system/utils"

	"github.com/rs/zerolog"
)

const defaultArchiveBatch = 50

// RecordSource is where the archiver finds match records without a receipt.
// Unarchived should put records with fewer failed uploads first so a
// receipt that keeps failing cannot starve newer ones.
type RecordSource interface {
	Unarchived(ctx context.Context, limit int) ([]models.MatchRecord, error)
	MarkArchived(ctx context.Context, id, receiptURL string) error
	MarkFailed(ctx context.Context, id string) error
}

// ReceiptArchiver uploads a JSON receipt of every finished match to object storage.
type ReceiptArchiver struct {
	Records   RecordSource
	Store     utils.ObjectStore
	BatchSize int
	Logger    zerolog.Logger
}

func NewReceiptArchiver(records RecordSource, store utils.ObjectStore, logger zerolog.Logger) *ReceiptArchiver {
	return &ReceiptArchiver{
		Records:   records,
		Store:     store,
		BatchSize: defaultArchiveBatch,
		Logger:    logger.With().Str("component", "receipt_archiver").Logger(),
	}
}

// ReceiptKey is the object key of a match receipt.
func ReceiptKey(rec models.MatchRecord) string {
	return fmt.Sprintf("receipts/%s/%s.json", rec.FinishedAt.UTC().Format("2006/01/02"), rec.ID)
}

// ArchiveOnce uploads one batch and returns how many receipts were written.
func (a *ReceiptArchiver) ArchiveOnce(ctx context.Context) (int, error) {
	recs, err := a.Records.Unarchived(ctx, a.BatchSize)
	if err != nil {
		return 0, fmt.Errorf("load unarchived records: %w", err)
	}

	archived := 0
	for _, rec := range recs {
		body, err := json.Marshal(rec)
		if err != nil {
			return archived, fmt.Errorf("encode receipt %s: %w", rec.ID, err)
		}
		url, err := a.Store.PutObject(ctx, ReceiptKey(rec), body, "application/json")
		if err != nil {
			// Retried on a later tick, behind fresh records
			a.Logger.Error().Err(err).Str("match_id", rec.ID).Int("attempts", rec.ArchiveAttempts+1).Msg("❌ receipt upload failed")
			if err := a.Records.MarkFailed(ctx, rec.ID); err != nil {
				return archived, fmt.Errorf("mark %s failed: %w", rec.ID, err)
			}
			continue
		}
		if err := a.Records.MarkArchived(ctx, rec.ID, url); err != nil {
			return archived, fmt.Errorf("mark %s archived: %w", rec.ID, err)
		}
		archived++
	}
	return archived, nil
}

// Run polls until ctx is cancelled.
func (a *ReceiptArchiver) Run(ctx context.Context, interval time.Duration) {
	a.Logger.Info().Dur("interval", interval).Msg("Starting receipt archiver...")
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			a.Logger.Info().Msg("Receipt archiver stopped.")
			return
		case <-ticker.C:
			n, err := a.ArchiveOnce(ctx)
			if err != nil {
				a.Logger.Error().Err(err).Msg("❌ archive pass failed")
				continue
			}
			if n > 0 {
				a.Logger.Info().Int("receipts", n).Msg("📤 archived match receipts")
			}
		}
	}
}
