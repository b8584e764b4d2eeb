package sqlite

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cryptoMegaBot/internal/domain"
	"cryptoMegaBot/internal/ports"
)

type mockLogger struct{}

func (m *mockLogger) Debug(ctx context.Context, msg string, fields ...map[string]interface{}) {}
func (m *mockLogger) Info(ctx context.Context, msg string, fields ...map[string]interface{})  {}
func (m *mockLogger) Warn(ctx context.Context, msg string, fields ...map[string]interface{})  {}
func (m *mockLogger) Error(ctx context.Context, err error, msg string, fields ...map[string]interface{}) {
}

func setupTestDB(t *testing.T) (*Repository, func()) {
	t.Helper()

	tmpDir, err := os.MkdirTemp("", "engine-test-*")
	require.NoError(t, err)

	dbPath := filepath.Join(tmpDir, "test.db")
	repo, err := NewRepository(Config{DBPath: dbPath, Logger: &mockLogger{}})
	require.NoError(t, err)

	cleanup := func() {
		repo.Close()
		os.RemoveAll(tmpDir)
	}
	return repo, cleanup
}

func samplePosition() *domain.Position {
	return &domain.Position{
		ProfileID:  1,
		PosKey:     "P1_BINANCE_BTC_USDT_1h",
		Symbol:     "BTCUSDT",
		Side:       domain.Long,
		Timeframe:  "1h",
		Qty:        decimal.NewFromFloat(0.01),
		EntryPrice: decimal.NewFromInt(60000),
		SLPrice:    decimal.NewFromInt(59000),
		TPPrice:    decimal.NewFromInt(62000),
		Leverage:   5,
		MarginMode: domain.MarginIsolated,
		Status:     domain.StatusActive,
		OrderType:  domain.OrderTypeMarket,
		EntryTime:  time.Now(),
	}
}

func TestRepository_UpsertActive_RejectsDuplicateKey(t *testing.T) {
	repo, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	first := samplePosition()
	require.NoError(t, repo.UpsertActive(ctx, first))
	assert.NotZero(t, first.ID)

	second := samplePosition()
	err := repo.UpsertActive(ctx, second)
	require.Error(t, err)
	assert.ErrorIs(t, err, ports.ErrConflictActiveExists)
}

func TestRepository_GetActive_RoundTripsDecimals(t *testing.T) {
	repo, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	pos := samplePosition()
	require.NoError(t, repo.UpsertActive(ctx, pos))

	fetched, err := repo.GetActive(ctx, pos.ProfileID, pos.PosKey)
	require.NoError(t, err)
	require.NotNil(t, fetched)
	assert.True(t, fetched.EntryPrice.Equal(decimal.NewFromInt(60000)))
	assert.True(t, fetched.Qty.Equal(decimal.NewFromFloat(0.01)))
	assert.Equal(t, domain.StatusActive, fetched.Status)
}

func TestRepository_Finalize_InsertsTradeAndClosesPosition(t *testing.T) {
	repo, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	pos := samplePosition()
	require.NoError(t, repo.UpsertActive(ctx, pos))

	trade := &domain.Trade{
		ProfileID:  pos.ProfileID,
		PosKey:     pos.PosKey,
		Symbol:     pos.Symbol,
		Side:       pos.Side,
		EntryPrice: pos.EntryPrice,
		ExitPrice:  decimal.NewFromInt(61000),
		Qty:        pos.Qty,
		PNL:        decimal.NewFromInt(10),
		Fees:       decimal.NewFromFloat(0.5),
		ExitReason: domain.ExitTakeProfit,
		EntryTime:  pos.EntryTime,
		ExitTime:   time.Now(),
	}
	require.NoError(t, repo.Finalize(ctx, pos.ID, domain.StatusClosed, trade))

	fetched, err := repo.GetActive(ctx, pos.ProfileID, pos.PosKey)
	require.NoError(t, err)
	assert.Nil(t, fetched, "closed position must not appear in the active set")

	closed, err := repo.FindByID(ctx, pos.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusClosed, closed.Status)

	trades, err := repo.ListRecent(ctx, pos.ProfileID, pos.Symbol, 10)
	require.NoError(t, err)
	require.Len(t, trades, 1)
	assert.True(t, trades[0].PNL.Equal(decimal.NewFromInt(10)))

	sum, err := repo.SumPNL(ctx, pos.ProfileID)
	require.NoError(t, err)
	assert.True(t, sum.Equal(decimal.NewFromInt(10)))
}

func TestRepository_MarkAndClearWaitingSync(t *testing.T) {
	repo, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	pos := samplePosition()
	require.NoError(t, repo.UpsertActive(ctx, pos))

	require.NoError(t, repo.MarkWaitingSync(ctx, pos.ID, domain.WaitingSyncPhantomClosure))
	fetched, err := repo.FindByID(ctx, pos.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusWaitingSync, fetched.Status)
	assert.Equal(t, domain.WaitingSyncPhantomClosure, fetched.WaitingSyncReason)

	require.NoError(t, repo.ClearWaitingSync(ctx, pos.ID))
	fetched, err = repo.FindByID(ctx, pos.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusActive, fetched.Status)
}

func TestCooldownStore_SetAndGet(t *testing.T) {
	repo, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()
	store := NewCooldownStore(repo)

	cd := &domain.Cooldown{ProfileID: 1, Symbol: "BTCUSDT", ExpiresAt: time.Now().Add(2 * time.Hour)}
	require.NoError(t, store.Set(ctx, cd))

	fetched, err := store.Get(ctx, 1, "BTCUSDT")
	require.NoError(t, err)
	require.NotNil(t, fetched)
	assert.True(t, fetched.Active(time.Now()))
}

func TestRiskMetricsStore_SaveAndGet(t *testing.T) {
	repo, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()
	store := NewRiskMetricsStore(repo)

	rm := &domain.RiskMetrics{
		ProfileID:       1,
		PeakBalance:     decimal.NewFromInt(10000),
		DailyLoss:       decimal.Zero,
		DailyResetDate:  "2026-07-31",
		StartingBalance: decimal.NewFromInt(10000),
		UpdatedAt:       time.Now(),
	}
	require.NoError(t, store.Save(ctx, rm))

	fetched, err := store.Get(ctx, 1)
	require.NoError(t, err)
	require.NotNil(t, fetched)
	assert.True(t, fetched.PeakBalance.Equal(decimal.NewFromInt(10000)))
}

func TestProfileStore_ListActiveAndDisable(t *testing.T) {
	repo, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()
	store := NewProfileStore(repo)

	_, err := repo.db.ExecContext(ctx,
		`INSERT INTO profiles (name, environment, exchange, active, universe) VALUES (?,?,?,?,?)`,
		"main", string(domain.EnvLive), "binance", 1, "BTCUSDT,ETHUSDT")
	require.NoError(t, err)

	profiles, err := store.ListActive(ctx)
	require.NoError(t, err)
	require.Len(t, profiles, 1)
	assert.Equal(t, []string{"BTCUSDT", "ETHUSDT"}, profiles[0].Universe)

	require.NoError(t, store.Disable(ctx, profiles[0].ID, "circuit breaker"))
	updated, err := store.Get(ctx, profiles[0].ID)
	require.NoError(t, err)
	assert.True(t, updated.Disabled)
	assert.Equal(t, "circuit breaker", updated.DisabledReason)
}
