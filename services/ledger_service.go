// services/ledger_service.go
package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"match-escrow-system/models"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	defaultHistoryPageSize = 20
	maxHistoryPageSize     = 100
)

type LedgerOptions struct {
	Currency  string
	Precision int32
	Metrics   *Metrics
}

// LedgerService is the only writer of wallet balances and ledger entries.
// Every operation is one database transaction; the wallets it touches are
// locked for the whole unit.
type LedgerService struct {
	DB        *gorm.DB
	Currency  string
	Precision int32
	Metrics   *Metrics
	Logger    zerolog.Logger

	locks *walletLocks
}

func NewLedgerService(db *gorm.DB, opts LedgerOptions, logger zerolog.Logger) *LedgerService {
	if opts.Currency == "" {
		opts.Currency = "CRD"
	}
	return &LedgerService{
		DB:        db,
		Currency:  opts.Currency,
		Precision: opts.Precision,
		Metrics:   opts.Metrics,
		Logger:    logger.With().Str("component", "ledger").Logger(),
		locks:     newWalletLocks(),
	}
}

// atomic runs fn as one unit while holding the in-process locks of walletIDs.
// The locks are taken before the transaction opens so a waiting unit never pins a connection.
func (s *LedgerService) atomic(ctx context.Context, operation string, walletIDs []uint, fn func(tx *gorm.DB) error) error {
	start := time.Now()
	unlock := s.locks.acquire(walletIDs...)
	defer unlock()

	err := s.DB.WithContext(ctx).Transaction(fn)
	s.Metrics.ObserveLedger(operation, time.Since(start).Seconds())
	return classifyLedgerError(err)
}

// lockWallets loads the wallets in ascending id order, with row locks on postgres.
func lockWallets(tx *gorm.DB, ids ...uint) (map[uint]*models.Wallet, error) {
	ordered := uniqueSorted(ids)
	q := tx
	if tx.Dialector.Name() == "postgres" {
		q = tx.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	var wallets []models.Wallet
	if err := q.Where("id IN ?", ordered).Order("id ASC").Find(&wallets).Error; err != nil {
		return nil, fmt.Errorf("load wallets: %w", err)
	}
	byID := make(map[uint]*models.Wallet, len(wallets))
	for i := range wallets {
		byID[wallets[i].ID] = &wallets[i]
	}
	for _, id := range ordered {
		if _, ok := byID[id]; !ok {
			return nil, fmt.Errorf("wallet %d: %w", id, ErrNotFound)
		}
	}
	return byID, nil
}

func saveWallet(tx *gorm.DB, w *models.Wallet) error {
	if !w.Consistent() {
		return fmt.Errorf("wallet %d would break balance >= locked >= 0 (balance %s, locked %s)",
			w.ID, w.Balance, w.LockedBalance)
	}
	err := tx.Model(&models.Wallet{}).Where("id = ?", w.ID).Updates(map[string]any{
		"balance":        w.Balance,
		"locked_balance": w.LockedBalance,
		"updated_at":     time.Now(),
	}).Error
	if err != nil {
		return fmt.Errorf("save wallet %d: %w", w.ID, err)
	}
	return nil
}

func newEntry(walletID uint, amount decimal.Decimal, kind models.TransactionKind, ref string) models.Transaction {
	return models.Transaction{
		ID:          uuid.NewString(),
		WalletID:    walletID,
		Amount:      amount,
		Kind:        kind,
		ReferenceID: ref,
		Status:      models.TransactionCompleted,
	}
}

func (s *LedgerService) validAmount(amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return fmt.Errorf("amount must be positive: %w", ErrInvalidArgument)
	}
	if !amount.Equal(amount.Truncate(s.Precision)) {
		return fmt.Errorf("amount %s is finer than %d decimals: %w", amount, s.Precision, ErrInvalidArgument)
	}
	return nil
}

// OpenWallet creates an empty wallet for an owner.
func (s *LedgerService) OpenWallet(ctx context.Context, ownerType models.OwnerType, ownerID uint, currency string) (*models.Wallet, error) {
	if currency == "" {
		currency = s.Currency
	}
	return openWallet(s.DB.WithContext(ctx), ownerType, ownerID, currency)
}

func openWallet(tx *gorm.DB, ownerType models.OwnerType, ownerID uint, currency string) (*models.Wallet, error) {
	if ownerType != models.OwnerPlayer && ownerType != models.OwnerNode {
		return nil, fmt.Errorf("owner type %q: %w", ownerType, ErrInvalidArgument)
	}
	wallet := &models.Wallet{
		OwnerType:     ownerType,
		OwnerID:       ownerID,
		Balance:       decimal.Zero,
		LockedBalance: decimal.Zero,
		Currency:      currency,
	}
	if err := tx.Create(wallet).Error; err != nil {
		return nil, fmt.Errorf("open wallet for %s %d: %w", ownerType, ownerID, err)
	}
	return wallet, nil
}

// TransferCredits moves amount from sender to receiver. A nil sender mints:
// the receiver is credited and a single entry is written.
func (s *LedgerService) TransferCredits(ctx context.Context, senderID *uint, receiverID uint, amount decimal.Decimal, kind models.TransactionKind) ([]models.Transaction, error) {
	if !kind.Valid() {
		return nil, fmt.Errorf("transaction kind %q: %w", kind, ErrInvalidArgument)
	}
	if err := s.validAmount(amount); err != nil {
		return nil, err
	}
	if receiverID == 0 {
		return nil, fmt.Errorf("receiver is required: %w", ErrInvalidArgument)
	}
	ids := []uint{receiverID}
	if senderID != nil {
		if *senderID == receiverID {
			return nil, fmt.Errorf("sender and receiver are the same wallet: %w", ErrInvalidArgument)
		}
		ids = append(ids, *senderID)
	}

	ref := fmt.Sprintf("%s_%s", kind, uuid.NewString())
	var entries []models.Transaction
	err := s.atomic(ctx, "transfer", ids, func(tx *gorm.DB) error {
		wallets, err := lockWallets(tx, ids...)
		if err != nil {
			return err
		}
		receiver := wallets[receiverID]

		if senderID != nil {
			sender := wallets[*senderID]
			if sender.Currency != receiver.Currency {
				return fmt.Errorf("currency mismatch %s -> %s: %w", sender.Currency, receiver.Currency, ErrInvalidArgument)
			}
			if sender.Available().LessThan(amount) {
				return fmt.Errorf("wallet %d has %s available: %w", sender.ID, sender.Available(), ErrInsufficientFunds)
			}
			sender.Balance = sender.Balance.Sub(amount)
			if err := saveWallet(tx, sender); err != nil {
				return err
			}
			entries = append(entries, newEntry(sender.ID, amount.Neg(), kind, ref))
		}

		receiver.Balance = receiver.Balance.Add(amount)
		if err := saveWallet(tx, receiver); err != nil {
			return err
		}
		entries = append(entries, newEntry(receiver.ID, amount, kind, ref))

		return tx.Create(&entries).Error
	})
	if err != nil {
		s.Logger.Warn().Err(err).Uint("receiver", receiverID).Str("amount", amount.String()).Msg("[LEDGER] transfer rejected")
		return nil, err
	}
	s.Logger.Info().Str("reference", ref).Uint("receiver", receiverID).Str("amount", amount.String()).Msg("[LEDGER] transfer committed")
	return entries, nil
}

// LockFees reserves amount on both wallets for matchID. Either both holds
// are written or neither is.
func (s *LedgerService) LockFees(ctx context.Context, matchID string, walletA, walletB uint, amount decimal.Decimal) error {
	if matchID == "" {
		return fmt.Errorf("match id is required: %w", ErrInvalidArgument)
	}
	if walletA == 0 || walletB == 0 || walletA == walletB {
		return fmt.Errorf("two distinct wallets are required: %w", ErrInvalidArgument)
	}
	if err := s.validAmount(amount); err != nil {
		return err
	}

	err := s.atomic(ctx, "lock_fees", []uint{walletA, walletB}, func(tx *gorm.DB) error {
		wallets, err := lockWallets(tx, walletA, walletB)
		if err != nil {
			return err
		}
		var existing int64
		if err := tx.Model(&models.EscrowHold{}).Where("match_id = ?", matchID).Count(&existing).Error; err != nil {
			return err
		}
		if existing > 0 {
			return fmt.Errorf("match %s already has escrow holds: %w", matchID, ErrInvalidArgument)
		}

		for _, id := range []uint{walletA, walletB} {
			w := wallets[id]
			if w.Available().LessThan(amount) {
				return fmt.Errorf("wallet %d has %s available: %w", id, w.Available(), ErrInsufficientFunds)
			}
		}
		for _, id := range []uint{walletA, walletB} {
			w := wallets[id]
			w.LockedBalance = w.LockedBalance.Add(amount)
			if err := saveWallet(tx, w); err != nil {
				return err
			}
			hold := models.EscrowHold{
				ID:       uuid.NewString(),
				MatchID:  matchID,
				WalletID: id,
				Amount:   amount,
				Status:   models.HoldHeld,
			}
			if err := tx.Create(&hold).Error; err != nil {
				return fmt.Errorf("write hold for wallet %d: %w", id, err)
			}
		}
		return nil
	})
	if err != nil {
		s.Metrics.LockFailed()
		s.Logger.Warn().Err(err).Str("match_id", matchID).Msg("[ESCROW] entry fee lock failed")
		return err
	}
	s.Logger.Info().Str("match_id", matchID).Uint("wallet_a", walletA).Uint("wallet_b", walletB).
		Str("amount", amount.String()).Msg("[ESCROW] entry fees locked")
	return nil
}

// ReleaseFees returns every held stake of matchID to available balance and
// reports how many holds were released. Holds already settled or released are untouched.
func (s *LedgerService) ReleaseFees(ctx context.Context, matchID string) (int, error) {
	if matchID == "" {
		return 0, fmt.Errorf("match id is required: %w", ErrInvalidArgument)
	}
	var walletIDs []uint
	if err := s.DB.WithContext(ctx).Model(&models.EscrowHold{}).
		Where("match_id = ? AND status = ?", matchID, models.HoldHeld).
		Pluck("wallet_id", &walletIDs).Error; err != nil {
		return 0, classifyLedgerError(err)
	}
	if len(walletIDs) == 0 {
		return 0, nil
	}

	released := 0
	err := s.atomic(ctx, "release_fees", walletIDs, func(tx *gorm.DB) error {
		wallets, err := lockWallets(tx, walletIDs...)
		if err != nil {
			return err
		}
		var holds []models.EscrowHold
		if err := tx.Where("match_id = ? AND status = ? AND wallet_id IN ?", matchID, models.HoldHeld, walletIDs).
			Find(&holds).Error; err != nil {
			return err
		}
		for i := range holds {
			w := wallets[holds[i].WalletID]
			w.LockedBalance = w.LockedBalance.Sub(holds[i].Amount)
			if err := saveWallet(tx, w); err != nil {
				return err
			}
			if err := tx.Model(&holds[i]).Update("status", models.HoldReleased).Error; err != nil {
				return err
			}
		}
		released = len(holds)
		return nil
	})
	if err != nil {
		return 0, err
	}
	s.Metrics.HoldsReleased(released)
	s.Logger.Info().Str("match_id", matchID).Int("holds", released).Msg("[ESCROW] entry fees released")
	return released, nil
}

// ReleaseStaleHolds releases held stakes of matches that are no longer live.
// olderThan limits the sweep to holds created before now-olderThan; zero sweeps all.
func (s *LedgerService) ReleaseStaleHolds(ctx context.Context, olderThan time.Duration, isLive func(matchID string) bool) (int, error) {
	q := s.DB.WithContext(ctx).Model(&models.EscrowHold{}).Where("status = ?", models.HoldHeld)
	if olderThan > 0 {
		q = q.Where("created_at < ?", time.Now().Add(-olderThan))
	}
	var matchIDs []string
	if err := q.Distinct("match_id").Pluck("match_id", &matchIDs).Error; err != nil {
		return 0, classifyLedgerError(err)
	}

	total := 0
	var errs []error
	for _, id := range matchIDs {
		if isLive != nil && isLive(id) {
			continue
		}
		n, err := s.ReleaseFees(ctx, id)
		if err != nil {
			errs = append(errs, fmt.Errorf("release match %s: %w", id, err))
			continue
		}
		total += n
	}
	if total > 0 {
		s.Logger.Warn().Int("holds", total).Msg("[ESCROW] released stale holds")
	}
	return total, errors.Join(errs...)
}

// Balance returns the wallet with its current totals.
func (s *LedgerService) Balance(ctx context.Context, walletID uint) (*models.Wallet, error) {
	var wallet models.Wallet
	if err := s.DB.WithContext(ctx).First(&wallet, walletID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("wallet %d: %w", walletID, ErrNotFound)
		}
		return nil, err
	}
	return &wallet, nil
}

// History pages through a wallet's entries, newest first.
func (s *LedgerService) History(ctx context.Context, walletID uint, page, size int) ([]models.Transaction, int64, error) {
	if _, err := s.Balance(ctx, walletID); err != nil {
		return nil, 0, err
	}
	if page < 1 {
		page = 1
	}
	if size < 1 {
		size = defaultHistoryPageSize
	}
	if size > maxHistoryPageSize {
		size = maxHistoryPageSize
	}

	var total int64
	q := s.DB.WithContext(ctx).Model(&models.Transaction{}).Where("wallet_id = ?", walletID)
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, err
	}
	var entries []models.Transaction
	if err := q.Order("created_at DESC").Order("id").Offset((page - 1) * size).Limit(size).Find(&entries).Error; err != nil {
		return nil, 0, err
	}
	return entries, total, nil
}

// EntryCursor is a position in a wallet's entry stream: the newest creation
// time delivered and the ids already delivered at exactly that time.
type EntryCursor struct {
	CreatedAt time.Time
	IDs       []string
}

func (c EntryCursor) delivered(e models.Transaction) bool {
	if !e.CreatedAt.Equal(c.CreatedAt) {
		return false
	}
	for _, id := range c.IDs {
		if id == e.ID {
			return true
		}
	}
	return false
}

// advance moves the cursor past entries, which must be ordered by creation time.
func (c EntryCursor) advance(entries []models.Transaction) EntryCursor {
	if len(entries) == 0 {
		return c
	}
	last := entries[len(entries)-1].CreatedAt
	next := EntryCursor{CreatedAt: last}
	if last.Equal(c.CreatedAt) {
		next.IDs = append(next.IDs, c.IDs...)
	}
	for _, e := range entries {
		if e.CreatedAt.Equal(last) {
			next.IDs = append(next.IDs, e.ID)
		}
	}
	return next
}

// EntriesAfter returns the entries of walletID not yet delivered at cur,
// oldest first, with the cursor that follows them. Entries sharing the
// cursor's timestamp are matched by id so none is skipped.
func (s *LedgerService) EntriesAfter(ctx context.Context, walletID uint, cur EntryCursor) ([]models.Transaction, EntryCursor, error) {
	var rows []models.Transaction
	err := s.DB.WithContext(ctx).
		Where("wallet_id = ? AND created_at >= ?", walletID, cur.CreatedAt).
		Order("created_at ASC, id ASC").
		Find(&rows).Error
	if err != nil {
		return nil, cur, err
	}
	entries := rows[:0]
	for _, e := range rows {
		if !cur.delivered(e) {
			entries = append(entries, e)
		}
	}
	return entries, cur.advance(entries), nil
}

// StreamCursor is the cursor positioned after the newest entry of walletID.
func (s *LedgerService) StreamCursor(ctx context.Context, walletID uint) (EntryCursor, error) {
	var latest models.Transaction
	err := s.DB.WithContext(ctx).Where("wallet_id = ?", walletID).Order("created_at DESC").First(&latest).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return EntryCursor{}, nil
	}
	if err != nil {
		return EntryCursor{}, err
	}
	var ids []string
	if err := s.DB.WithContext(ctx).Model(&models.Transaction{}).
		Where("wallet_id = ? AND created_at = ?", walletID, latest.CreatedAt).
		Pluck("id", &ids).Error; err != nil {
		return EntryCursor{}, err
	}
	return EntryCursor{CreatedAt: latest.CreatedAt, IDs: ids}, nil
}
