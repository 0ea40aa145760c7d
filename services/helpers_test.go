package services

import (
	"context"
	"fmt"
	"testing"

	"match-escrow-system/models"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	require.NoError(t, models.AutoMigrate(db))
	return db
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func requireDecimal(t *testing.T, want string, got decimal.Decimal) {
	t.Helper()
	require.Truef(t, dec(want).Equal(got), "want %s, got %s", want, got)
}

// fixture is a Super -> Master -> Franchisee hierarchy with a ledger on top.
type fixture struct {
	db         *gorm.DB
	ledger     *LedgerService
	gov        *GovernanceService
	players    *PlayerService
	super      *models.Node
	master     *models.Node
	franchisee *models.Node
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	db := setupTestDB(t)
	log := zerolog.Nop()

	f := &fixture{
		db:      db,
		ledger:  NewLedgerService(db, LedgerOptions{Currency: "CRD", Precision: 2}, log),
		gov:     NewGovernanceService(db, "CRD", log),
		players: NewPlayerService(db, "CRD", log),
	}

	var err error
	f.super, err = f.gov.EnsureRoot(ctx, "Platform")
	require.NoError(t, err)
	f.master, err = f.gov.CreateNode(ctx, NewNode{ParentID: &f.super.ID, DisplayName: "North", CommissionRate: dec("0.05")})
	require.NoError(t, err)
	f.franchisee, err = f.gov.CreateNode(ctx, NewNode{ParentID: &f.master.ID, DisplayName: "Harbor", CommissionRate: dec("0.1")})
	require.NoError(t, err)
	return f
}

// player provisions a player under sponsor and mints funds into its wallet.
func (f *fixture) player(t *testing.T, name string, sponsor *models.Node, funds string) *models.Wallet {
	t.Helper()
	ctx := context.Background()
	_, wallet, err := f.players.Provision(ctx, NewPlayer{Username: name, SponsorNodeID: sponsor.ID})
	require.NoError(t, err)
	if amount := dec(funds); amount.IsPositive() {
		_, err := f.ledger.TransferCredits(ctx, nil, wallet.ID, amount, models.KindDeposit)
		require.NoError(t, err)
	}
	return wallet
}

func (f *fixture) wallet(t *testing.T, id uint) *models.Wallet {
	t.Helper()
	w, err := f.ledger.Balance(context.Background(), id)
	require.NoError(t, err)
	return w
}

func (f *fixture) nodeWallet(t *testing.T, node *models.Node) *models.Wallet {
	t.Helper()
	w, err := f.gov.NodeWallet(context.Background(), node.ID)
	require.NoError(t, err)
	return w
}

func (f *fixture) countEntries(t *testing.T, where string, args ...any) int64 {
	t.Helper()
	var n int64
	require.NoError(t, f.db.Model(&models.Transaction{}).Where(where, args...).Count(&n).Error)
	return n
}
