package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"match-escrow-system/models"
	"match-escrow-system/services"

	"github.com/glebarez/sqlite"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

const testServiceKey = "svc-secret"

type testEnv struct {
	app        *fiber.App
	deps       Deps
	super      *models.Node
	master     *models.Node
	franchisee *models.Node
	rival      *models.Node
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	require.NoError(t, models.AutoMigrate(db))

	log := zerolog.Nop()
	d := Deps{
		Ledger:              services.NewLedgerService(db, services.LedgerOptions{Currency: "CRD", Precision: 2}, log),
		Governance:          services.NewGovernanceService(db, "CRD", log),
		Players:             services.NewPlayerService(db, "CRD", log),
		Settings:            services.NewSettingsService(db),
		Registry:            services.NewMatchRegistry(decimal.NewFromInt(100), nil),
		ServiceKey:          testServiceKey,
		PlatformFeeFraction: decimal.RequireFromString("0.10"),
		Logger:              log,
	}

	env := &testEnv{deps: d}
	ctx := context.Background()
	env.super, err = d.Governance.EnsureRoot(ctx, "Platform")
	require.NoError(t, err)
	env.master, err = d.Governance.CreateNode(ctx, services.NewNode{ParentID: &env.super.ID, DisplayName: "North"})
	require.NoError(t, err)
	env.franchisee, err = d.Governance.CreateNode(ctx, services.NewNode{ParentID: &env.master.ID, DisplayName: "Harbor"})
	require.NoError(t, err)
	env.rival, err = d.Governance.CreateNode(ctx, services.NewNode{ParentID: &env.super.ID, DisplayName: "South"})
	require.NoError(t, err)

	env.app = fiber.New()
	SetupRoutes(env.app, d)
	return env
}

func (e *testEnv) do(t *testing.T, method, path string, body any, headers map[string]string) (int, map[string]any) {
	t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := e.app.Test(req, -1)
	require.NoError(t, err)
	defer resp.Body.Close()

	out := map[string]any{}
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	if len(raw) > 0 {
		require.NoError(t, json.Unmarshal(raw, &out), string(raw))
	}
	return resp.StatusCode, out
}

func (e *testEnv) playerWallet(t *testing.T, name string) uint {
	t.Helper()
	_, wallet, err := e.deps.Players.Provision(context.Background(), services.NewPlayer{Username: name, SponsorNodeID: e.franchisee.ID})
	require.NoError(t, err)
	return wallet.ID
}

func asNode(n *models.Node) map[string]string {
	return map[string]string{"X-Node-ID": fmt.Sprint(n.ID)}
}

func decimalField(t *testing.T, v any) decimal.Decimal {
	t.Helper()
	s, ok := v.(string)
	require.Truef(t, ok, "expected decimal string, got %T", v)
	return decimal.RequireFromString(s)
}

func TestMintAndBalance(t *testing.T) {
	env := newTestEnv(t)
	wallet := env.playerWallet(t, "alice")

	status, body := env.do(t, http.MethodPost, "/api/v1/economy/mint", fiber.Map{"wallet_id": wallet, "amount": "150.50"}, nil)
	require.Equal(t, http.StatusCreated, status, body)
	assert.Equal(t, "success", body["status"])
	assert.NotEmpty(t, body["reference_id"])

	status, body = env.do(t, http.MethodGet, fmt.Sprintf("/api/v1/economy/balance/%d", wallet), nil, nil)
	require.Equal(t, http.StatusOK, status)
	data := body["data"].(map[string]any)
	assert.True(t, decimalField(t, data["total_balance"]).Equal(decimal.RequireFromString("150.50")))
	assert.True(t, decimalField(t, data["locked_balance"]).IsZero())
	assert.Equal(t, "CRD", data["currency"])
}

func TestTransferErrorsMapToStatus(t *testing.T) {
	env := newTestEnv(t)
	a := env.playerWallet(t, "alice")
	b := env.playerWallet(t, "bob")

	status, _ := env.do(t, http.MethodPost, "/api/v1/economy/transfer", fiber.Map{"sender_id": a, "receiver_id": b, "amount": "10"}, nil)
	assert.Equal(t, http.StatusUnprocessableEntity, status)

	status, _ = env.do(t, http.MethodPost, "/api/v1/economy/transfer", fiber.Map{"sender_id": a, "receiver_id": 9999, "amount": "10"}, nil)
	assert.Equal(t, http.StatusNotFound, status)

	status, _ = env.do(t, http.MethodPost, "/api/v1/economy/transfer", fiber.Map{"sender_id": a, "receiver_id": b, "amount": "-1"}, nil)
	assert.Equal(t, http.StatusBadRequest, status)

	status, _ = env.do(t, http.MethodPost, "/api/v1/economy/transfer", fiber.Map{"receiver_id": b, "amount": "1"}, nil)
	assert.Equal(t, http.StatusBadRequest, status)

	status, _ = env.do(t, http.MethodGet, "/api/v1/economy/balance/abc", nil, nil)
	assert.Equal(t, http.StatusBadRequest, status)
}

func TestTransactionHistory(t *testing.T) {
	env := newTestEnv(t)
	wallet := env.playerWallet(t, "alice")
	for i := 0; i < 3; i++ {
		status, _ := env.do(t, http.MethodPost, "/api/v1/economy/mint", fiber.Map{"wallet_id": wallet, "amount": "5"}, nil)
		require.Equal(t, http.StatusCreated, status)
	}

	status, body := env.do(t, http.MethodGet, fmt.Sprintf("/api/v1/economy/wallets/%d/transactions?page=1&size=2", wallet), nil, nil)
	require.Equal(t, http.StatusOK, status)
	assert.EqualValues(t, 3, body["total"])
	assert.Len(t, body["data"], 2)
}

func TestEscrowEndpointsRequireServiceToken(t *testing.T) {
	env := newTestEnv(t)
	for _, path := range []string{"/lock_fees", "/release_fees", "/settle_match"} {
		status, _ := env.do(t, http.MethodPost, "/api/v1/economy"+path, fiber.Map{"match_id": "m1"}, nil)
		assert.Equal(t, http.StatusUnauthorized, status, path)

		status, _ = env.do(t, http.MethodPost, "/api/v1/economy"+path, fiber.Map{"match_id": "m1"},
			map[string]string{"X-Service-Token": "wrong"})
		assert.Equal(t, http.StatusUnauthorized, status, path)
	}
}

func TestEscrowLifecycleOverHTTP(t *testing.T) {
	env := newTestEnv(t)
	a := env.playerWallet(t, "alice")
	b := env.playerWallet(t, "bob")
	for _, w := range []uint{a, b} {
		status, _ := env.do(t, http.MethodPost, "/api/v1/economy/mint", fiber.Map{"wallet_id": w, "amount": "100"}, nil)
		require.Equal(t, http.StatusCreated, status)
	}
	svc := map[string]string{"X-Service-Token": testServiceKey}

	status, body := env.do(t, http.MethodPost, "/api/v1/economy/lock_fees",
		fiber.Map{"match_id": "m1", "wallet_a": a, "wallet_b": b, "amount": "100"}, svc)
	require.Equal(t, http.StatusOK, status, body)

	status, body = env.do(t, http.MethodPost, "/api/v1/economy/settle_match",
		fiber.Map{"match_id": "m1", "winner_wallet_id": a, "loser_wallet_id": b, "total_pool": "200"}, svc)
	require.Equal(t, http.StatusOK, status, body)
	data := body["data"].(map[string]any)
	assert.True(t, decimalField(t, data["platform_cut"]).Equal(decimal.NewFromInt(20)))
	assert.True(t, decimalField(t, data["winner_take"]).Equal(decimal.NewFromInt(180)))
	assert.Len(t, data["splits"], 3)

	status, _ = env.do(t, http.MethodPost, "/api/v1/economy/settle_match",
		fiber.Map{"match_id": "m1", "winner_wallet_id": a, "loser_wallet_id": b, "total_pool": "200"}, svc)
	assert.Equal(t, http.StatusNotFound, status)

	status, body = env.do(t, http.MethodPost, "/api/v1/economy/release_fees", fiber.Map{"match_id": "m1"}, svc)
	require.Equal(t, http.StatusOK, status)
	assert.EqualValues(t, 0, body["released_holds"])
}

func TestManualFiatSettlement(t *testing.T) {
	env := newTestEnv(t)
	path := "/api/v1/economy/manual_fiat_settlement"

	status, _ := env.do(t, http.MethodPost, path, fiber.Map{"target_node_id": env.franchisee.ID, "amount": "50"}, nil)
	assert.Equal(t, http.StatusUnauthorized, status)

	status, _ = env.do(t, http.MethodPost, path, fiber.Map{"target_node_id": env.franchisee.ID, "amount": "50"}, asNode(env.rival))
	assert.Equal(t, http.StatusForbidden, status)

	status, body := env.do(t, http.MethodPost, path, fiber.Map{"target_node_id": env.franchisee.ID, "amount": "50"}, asNode(env.master))
	require.Equal(t, http.StatusOK, status, body)

	wallet, err := env.deps.Governance.NodeWallet(context.Background(), env.franchisee.ID)
	require.NoError(t, err)
	assert.True(t, wallet.Balance.Equal(decimal.NewFromInt(50)))
	assert.EqualValues(t, wallet.ID, body["target_wallet_id"])

	status, _ = env.do(t, http.MethodPost, path,
		fiber.Map{"target_node_id": env.franchisee.ID, "target_wallet_id": wallet.ID + 100, "amount": "5"}, asNode(env.super))
	assert.Equal(t, http.StatusBadRequest, status)
}

func TestProvisionPlayer(t *testing.T) {
	env := newTestEnv(t)

	status, body := env.do(t, http.MethodPost, "/api/v1/players", fiber.Map{"username": "carol", "sponsor_node_id": env.franchisee.ID}, nil)
	require.Equal(t, http.StatusCreated, status, body)
	data := body["data"].(map[string]any)
	assert.NotNil(t, data["wallet"])

	status, _ = env.do(t, http.MethodPost, "/api/v1/players", fiber.Map{"username": "carol", "sponsor_node_id": env.franchisee.ID}, nil)
	assert.Equal(t, http.StatusBadRequest, status)

	status, _ = env.do(t, http.MethodPost, "/api/v1/players", fiber.Map{"username": "dave", "sponsor_node_id": 4242}, nil)
	assert.Equal(t, http.StatusNotFound, status)
}

func TestConversionRate(t *testing.T) {
	env := newTestEnv(t)
	path := "/api/v1/admin/conversion_rate"

	status, body := env.do(t, http.MethodGet, path, nil, asNode(env.master))
	require.Equal(t, http.StatusOK, status)
	assert.True(t, decimalField(t, body["coin_to_fiat_ratio"]).Equal(decimal.NewFromInt(1)))

	status, _ = env.do(t, http.MethodPost, path, fiber.Map{"coin_to_fiat_ratio": "0.25"}, asNode(env.master))
	assert.Equal(t, http.StatusForbidden, status)

	status, _ = env.do(t, http.MethodPost, path, fiber.Map{"coin_to_fiat_ratio": "0"}, asNode(env.super))
	assert.Equal(t, http.StatusBadRequest, status)

	status, _ = env.do(t, http.MethodPost, path, fiber.Map{"coin_to_fiat_ratio": "0.25"}, asNode(env.super))
	require.Equal(t, http.StatusOK, status)

	_, body = env.do(t, http.MethodGet, path, nil, asNode(env.master))
	assert.True(t, decimalField(t, body["coin_to_fiat_ratio"]).Equal(decimal.RequireFromString("0.25")))
}

func TestAdminAuthorizeAndTrees(t *testing.T) {
	env := newTestEnv(t)

	cases := []struct {
		admin   *models.Node
		target  *models.Node
		allowed bool
	}{
		{env.super, env.franchisee, true},
		{env.master, env.franchisee, true},
		{env.franchisee, env.master, false},
		{env.rival, env.franchisee, false},
	}
	for _, tc := range cases {
		status, body := env.do(t, http.MethodGet, fmt.Sprintf("/api/v1/admin/authorize?target_node_id=%d", tc.target.ID), nil, asNode(tc.admin))
		require.Equal(t, http.StatusOK, status)
		assert.Equal(t, tc.allowed, body["allowed"], "%s -> %s", tc.admin.DisplayName, tc.target.DisplayName)
	}

	status, _ := env.do(t, http.MethodGet, "/api/v1/admin/revenue_tree", nil, asNode(env.master))
	assert.Equal(t, http.StatusForbidden, status)

	status, body := env.do(t, http.MethodGet, "/api/v1/admin/revenue_tree", nil, asNode(env.super))
	require.Equal(t, http.StatusOK, status)
	assert.Len(t, body["data"], 1)

	status, body = env.do(t, http.MethodGet, "/api/v1/admin/my_tree", nil, asNode(env.master))
	require.Equal(t, http.StatusOK, status)
	assert.NotNil(t, body["data"])

	status, _ = env.do(t, http.MethodGet, "/api/v1/admin/command", nil, map[string]string{"X-Node-ID": "nope"})
	assert.Equal(t, http.StatusBadRequest, status)

	status, body = env.do(t, http.MethodGet, "/api/v1/admin/command", nil, asNode(env.super))
	require.Equal(t, http.StatusOK, status)
	data := body["data"].(map[string]any)
	assert.EqualValues(t, 4, data["node_count"])
	assert.EqualValues(t, 0, data["queue_length"])
}

func TestStatusFor(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{fmt.Errorf("x: %w", services.ErrInvalidArgument), fiber.StatusBadRequest},
		{services.ErrInsufficientFunds, fiber.StatusUnprocessableEntity},
		{services.ErrNotFound, fiber.StatusNotFound},
		{services.ErrAuthorizationDenied, fiber.StatusForbidden},
		{fmt.Errorf("%w: disk", services.ErrCommitFailure), fiber.StatusServiceUnavailable},
		{fmt.Errorf("boom"), fiber.StatusInternalServerError},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, statusFor(tc.err), tc.err.Error())
	}
}
