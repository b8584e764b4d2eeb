package risk

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cryptoMegaBot/internal/domain"
	"cryptoMegaBot/internal/ports"
)

type noopLogger struct{}

func (noopLogger) Debug(ctx context.Context, msg string, fields ...map[string]interface{}) {}
func (noopLogger) Info(ctx context.Context, msg string, fields ...map[string]interface{})  {}
func (noopLogger) Warn(ctx context.Context, msg string, fields ...map[string]interface{})  {}
func (noopLogger) Error(ctx context.Context, err error, msg string, fields ...map[string]interface{}) {
}

type memMetrics struct{ m map[int64]*domain.RiskMetrics }

func newMemMetrics() *memMetrics { return &memMetrics{m: map[int64]*domain.RiskMetrics{}} }
func (s *memMetrics) Get(ctx context.Context, profileID int64) (*domain.RiskMetrics, error) {
	return s.m[profileID], nil
}
func (s *memMetrics) Save(ctx context.Context, rm *domain.RiskMetrics) error {
	cp := *rm
	s.m[rm.ProfileID] = &cp
	return nil
}

type memCooldowns struct{ m map[string]*domain.Cooldown }

func newMemCooldowns() *memCooldowns { return &memCooldowns{m: map[string]*domain.Cooldown{}} }
func key(profileID int64, symbol string) string {
	return symbol
}
func (s *memCooldowns) Get(ctx context.Context, profileID int64, symbol string) (*domain.Cooldown, error) {
	return s.m[key(profileID, symbol)], nil
}
func (s *memCooldowns) Set(ctx context.Context, cd *domain.Cooldown) error {
	cp := *cd
	s.m[key(cd.ProfileID, cd.Symbol)] = &cp
	return nil
}

type memPositions struct{ active []*domain.Position }

func (s *memPositions) UpsertActive(ctx context.Context, pos *domain.Position) error { return nil }
func (s *memPositions) GetActive(ctx context.Context, profileID int64, posKey string) (*domain.Position, error) {
	return nil, nil
}
func (s *memPositions) ListActive(ctx context.Context, profileID int64) ([]*domain.Position, error) {
	return s.active, nil
}
func (s *memPositions) ListAllActive(ctx context.Context) ([]*domain.Position, error) { return s.active, nil }
func (s *memPositions) Finalize(ctx context.Context, posID int64, status domain.PositionStatus, trade *domain.Trade) error {
	return nil
}
func (s *memPositions) MarkWaitingSync(ctx context.Context, posID int64, reason domain.WaitingSyncReason) error {
	return nil
}
func (s *memPositions) ClearWaitingSync(ctx context.Context, posID int64) error { return nil }
func (s *memPositions) FindByID(ctx context.Context, id int64) (*domain.Position, error) {
	return nil, nil
}

func newTestGate(active []*domain.Position) (*Gate, *memMetrics, *memCooldowns) {
	metrics := newMemMetrics()
	cooldowns := newMemCooldowns()
	positions := &memPositions{active: active}
	cfg := Config{
		Tiers: []SizingTier{
			{MinScore: 8, Leverage: 10, MarginUSDT: decimal.NewFromInt(100)},
			{MinScore: 0, Leverage: 3, MarginUSDT: decimal.NewFromInt(50)},
		},
	}
	return NewGate(cfg, metrics, cooldowns, positions, noopLogger{}, nil), metrics, cooldowns
}

func TestGate_Evaluate_ApprovesAndSizesByTier(t *testing.T) {
	gate, _, _ := newTestGate(nil)
	ctx := context.Background()

	d := gate.Evaluate(ctx, EntryRequest{ProfileID: 1, Symbol: "BTCUSDT", EntryPrice: decimal.NewFromInt(100), Score: 9}, decimal.NewFromInt(10000))
	require.True(t, d.Approved)
	assert.Equal(t, 10, d.Leverage)
	assert.True(t, d.Qty.Equal(decimal.NewFromInt(1000).Div(decimal.NewFromInt(100))))
}

func TestGate_Evaluate_ClampsLeverageToMax(t *testing.T) {
	gate, _, _ := newTestGate(nil)
	gate.cfg.MaxLeverage = 5
	ctx := context.Background()

	d := gate.Evaluate(ctx, EntryRequest{ProfileID: 1, Symbol: "BTCUSDT", EntryPrice: decimal.NewFromInt(100), Score: 9}, decimal.NewFromInt(10000))
	require.True(t, d.Approved)
	assert.Equal(t, 5, d.Leverage)
}

func TestGate_Evaluate_DeniesOnCircuitBreaker(t *testing.T) {
	gate, metrics, _ := newTestGate(nil)
	metrics.m[1] = &domain.RiskMetrics{ProfileID: 1, PeakBalance: decimal.NewFromInt(10000), StartingBalance: decimal.NewFromInt(10000), DailyResetDate: today(gate.cfg.Location)}
	ctx := context.Background()

	d := gate.Evaluate(ctx, EntryRequest{ProfileID: 1, Symbol: "BTCUSDT", EntryPrice: decimal.NewFromInt(100), Score: 9}, decimal.NewFromInt(8900))
	assert.False(t, d.Approved)
	assert.ErrorIs(t, d.Reason, ports.ErrCircuitBreakerTripped)
}

func TestGate_Evaluate_DeniesOnSymbolGuard(t *testing.T) {
	active := []*domain.Position{{ProfileID: 1, Symbol: "BTCUSDT", Status: domain.StatusActive}}
	gate, _, _ := newTestGate(active)
	ctx := context.Background()

	d := gate.Evaluate(ctx, EntryRequest{ProfileID: 1, Symbol: "BTCUSDT", EntryPrice: decimal.NewFromInt(100), Score: 9}, decimal.NewFromInt(10000))
	assert.False(t, d.Approved)
	assert.ErrorIs(t, d.Reason, ports.ErrSymbolGuard)
}

func TestGate_RecordClose_SetsCooldownOnlyOnStopLoss(t *testing.T) {
	gate, _, cooldowns := newTestGate(nil)
	ctx := context.Background()

	require.NoError(t, gate.RecordClose(ctx, 1, "BTCUSDT", decimal.NewFromInt(-50), true, decimal.NewFromInt(9950)))
	cd, err := cooldowns.Get(ctx, 1, "BTCUSDT")
	require.NoError(t, err)
	require.NotNil(t, cd)
	assert.True(t, cd.Active(time.Now()))

	require.NoError(t, gate.RecordClose(ctx, 1, "ETHUSDT", decimal.NewFromInt(-50), false, decimal.NewFromInt(9900)))
	cd2, err := cooldowns.Get(ctx, 1, "ETHUSDT")
	require.NoError(t, err)
	assert.Nil(t, cd2)
}

func TestGate_RecordClose_ProfitLockedStopLossDoesNotArmCooldown(t *testing.T) {
	gate, _, cooldowns := newTestGate(nil)
	ctx := context.Background()

	// A profit-locked SL hit reports ExitStopLoss but must not re-arm
	// the cooldown — only the original entry SL does (Open Question #1).
	require.NoError(t, gate.RecordClose(ctx, 1, "BTCUSDT", decimal.NewFromInt(10), false, decimal.NewFromInt(10010)))
	cd, err := cooldowns.Get(ctx, 1, "BTCUSDT")
	require.NoError(t, err)
	assert.Nil(t, cd)
}

func TestGate_ResumeAfterCircuitBreaker_RebaselinesPeakAndClearsTrip(t *testing.T) {
	gate, metrics, _ := newTestGate(nil)
	ctx := context.Background()
	metrics.m[1] = &domain.RiskMetrics{ProfileID: 1, PeakBalance: decimal.NewFromInt(10000), StartingBalance: decimal.NewFromInt(10000), DailyResetDate: today(gate.cfg.Location)}

	tripped := gate.Evaluate(ctx, EntryRequest{ProfileID: 1, Symbol: "BTCUSDT", EntryPrice: decimal.NewFromInt(100), Score: 9}, decimal.NewFromInt(8900))
	require.False(t, tripped.Approved)
	require.ErrorIs(t, tripped.Reason, ports.ErrCircuitBreakerTripped)

	require.NoError(t, gate.ResumeAfterCircuitBreaker(ctx, 1, decimal.NewFromInt(8900)))

	resumed := gate.Evaluate(ctx, EntryRequest{ProfileID: 1, Symbol: "BTCUSDT", EntryPrice: decimal.NewFromInt(100), Score: 9}, decimal.NewFromInt(8900))
	assert.True(t, resumed.Approved)
}

func TestGate_Evaluate_DeniesOnCooldown(t *testing.T) {
	gate, _, cooldowns := newTestGate(nil)
	ctx := context.Background()
	require.NoError(t, cooldowns.Set(ctx, &domain.Cooldown{ProfileID: 1, Symbol: "BTCUSDT", ExpiresAt: time.Now().Add(time.Hour)}))

	d := gate.Evaluate(ctx, EntryRequest{ProfileID: 1, Symbol: "BTCUSDT", EntryPrice: decimal.NewFromInt(100), Score: 9}, decimal.NewFromInt(10000))
	assert.False(t, d.Approved)
	assert.ErrorIs(t, d.Reason, ports.ErrSymbolCooldown)
}
