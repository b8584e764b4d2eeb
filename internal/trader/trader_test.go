package trader

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cryptoMegaBot/internal/domain"
	"cryptoMegaBot/internal/ports"
	"cryptoMegaBot/internal/risk"
)

type noopLogger struct{}

func (noopLogger) Debug(ctx context.Context, msg string, fields ...map[string]interface{}) {}
func (noopLogger) Info(ctx context.Context, msg string, fields ...map[string]interface{})  {}
func (noopLogger) Warn(ctx context.Context, msg string, fields ...map[string]interface{})  {}
func (noopLogger) Error(ctx context.Context, err error, msg string, fields ...map[string]interface{}) {
}

type fakeExchange struct {
	category      ports.VenueCategory
	mark          decimal.Decimal
	balance       decimal.Decimal
	minNotional   decimal.Decimal
	nextOrderID   int
	entryCalls    []ports.PlaceEntryRequest
	reduceCalls   []ports.PlaceReduceOnlyRequest
	cancelCalls   []string
	openOrders    []ports.Order
	entryErr      error
}

func (f *fakeExchange) Category() ports.VenueCategory { return f.category }
func (f *fakeExchange) PlaceEntry(ctx context.Context, req ports.PlaceEntryRequest) (*ports.OrderAck, error) {
	if f.entryErr != nil {
		return nil, f.entryErr
	}
	f.entryCalls = append(f.entryCalls, req)
	f.nextOrderID++
	return &ports.OrderAck{OrderID: idOf(f.nextOrderID), ClientOrderID: req.ClientOrderID, AvgPrice: f.mark, ExecutedQty: req.Qty, Timestamp: time.Now()}, nil
}
func (f *fakeExchange) PlaceReduceOnly(ctx context.Context, req ports.PlaceReduceOnlyRequest) (*ports.OrderAck, error) {
	f.reduceCalls = append(f.reduceCalls, req)
	f.nextOrderID++
	return &ports.OrderAck{OrderID: idOf(f.nextOrderID), ClientOrderID: req.ClientOrderID}, nil
}
func (f *fakeExchange) CancelOrder(ctx context.Context, symbol, orderID string, hint domain.CancelHint) error {
	f.cancelCalls = append(f.cancelCalls, orderID)
	return nil
}
func (f *fakeExchange) FetchPositions(ctx context.Context) ([]ports.ExchangePosition, error) {
	return nil, nil
}
func (f *fakeExchange) FetchOpenOrders(ctx context.Context, symbol string) ([]ports.Order, error) {
	return f.openOrders, nil
}
func (f *fakeExchange) FetchMyTrades(ctx context.Context, symbol string, since time.Time) ([]ports.Fill, error) {
	return nil, nil
}
func (f *fakeExchange) SetLeverage(ctx context.Context, symbol string, leverage int) error { return nil }
func (f *fakeExchange) SetMarginMode(ctx context.Context, symbol string, mode domain.MarginMode) error {
	return nil
}
func (f *fakeExchange) NormalizeSymbol(input string) string       { return input }
func (f *fakeExchange) ToVenueSymbol(canonical string) string     { return canonical }
func (f *fakeExchange) AmountToPrecision(symbol string, amount decimal.Decimal) decimal.Decimal {
	return amount
}
func (f *fakeExchange) PriceToPrecision(symbol string, price decimal.Decimal) decimal.Decimal {
	return price
}
func (f *fakeExchange) MinNotional(symbol string) decimal.Decimal { return f.minNotional }
func (f *fakeExchange) ServerTime(ctx context.Context) (time.Time, error) { return time.Now(), nil }
func (f *fakeExchange) MarkPrice(ctx context.Context, symbol string) (decimal.Decimal, error) {
	return f.mark, nil
}
func (f *fakeExchange) AccountBalance(ctx context.Context, asset string) (decimal.Decimal, error) {
	return f.balance, nil
}
func (f *fakeExchange) Name() string { return "FAKE" }

func idOf(n int) string { return decimal.NewFromInt(int64(n)).String() }

type memPositions struct {
	byKey map[string]*domain.Position
	next  int64
}

func newMemPositions() *memPositions { return &memPositions{byKey: map[string]*domain.Position{}} }

func (m *memPositions) UpsertActive(ctx context.Context, pos *domain.Position) error {
	if pos.ID == 0 {
		m.next++
		pos.ID = m.next
	}
	m.byKey[pos.PosKey] = pos
	return nil
}
func (m *memPositions) GetActive(ctx context.Context, profileID int64, posKey string) (*domain.Position, error) {
	p, ok := m.byKey[posKey]
	if !ok || !p.IsOpen() {
		return nil, nil
	}
	return p, nil
}
func (m *memPositions) ListActive(ctx context.Context, profileID int64) ([]*domain.Position, error) {
	var out []*domain.Position
	for _, p := range m.byKey {
		if p.IsOpen() {
			out = append(out, p)
		}
	}
	return out, nil
}
func (m *memPositions) ListAllActive(ctx context.Context) ([]*domain.Position, error) {
	return m.ListActive(ctx, 0)
}
func (m *memPositions) Finalize(ctx context.Context, posID int64, status domain.PositionStatus, trade *domain.Trade) error {
	for _, p := range m.byKey {
		if p.ID == posID {
			p.Status = status
		}
	}
	return nil
}
func (m *memPositions) MarkWaitingSync(ctx context.Context, posID int64, reason domain.WaitingSyncReason) error {
	return nil
}
func (m *memPositions) ClearWaitingSync(ctx context.Context, posID int64) error { return nil }
func (m *memPositions) FindByID(ctx context.Context, id int64) (*domain.Position, error) {
	for _, p := range m.byKey {
		if p.ID == id {
			return p, nil
		}
	}
	return nil, nil
}

type memMetrics struct{ m map[int64]*domain.RiskMetrics }

func (s *memMetrics) Get(ctx context.Context, profileID int64) (*domain.RiskMetrics, error) {
	return s.m[profileID], nil
}
func (s *memMetrics) Save(ctx context.Context, rm *domain.RiskMetrics) error {
	s.m[rm.ProfileID] = rm
	return nil
}

type memCooldowns struct{ m map[string]*domain.Cooldown }

func (s *memCooldowns) Get(ctx context.Context, profileID int64, symbol string) (*domain.Cooldown, error) {
	return s.m[symbol], nil
}
func (s *memCooldowns) Set(ctx context.Context, cd *domain.Cooldown) error {
	s.m[cd.Symbol] = cd
	return nil
}

func newTestTrader(category ports.VenueCategory) (*Trader, *fakeExchange, *memPositions) {
	exchange := &fakeExchange{category: category, mark: decimal.NewFromInt(100), balance: decimal.NewFromInt(10000), minNotional: decimal.NewFromInt(5)}
	positions := newMemPositions()
	gate := risk.NewGate(risk.Config{Tiers: []risk.SizingTier{{MinScore: 0, Leverage: 5, MarginUSDT: decimal.NewFromInt(100)}}},
		&memMetrics{m: map[int64]*domain.RiskMetrics{}}, &memCooldowns{m: map[string]*domain.Cooldown{}}, positions, noopLogger{}, nil)
	profile := &domain.Profile{ID: 1, Name: "test", Environment: domain.EnvTest, Exchange: "FAKE", Universe: []string{"BTCUSDT"}}
	tr := New(Config{}, profile, exchange, positions, gate, noopLogger{}, nil)
	return tr, exchange, positions
}

func TestTrader_Open_AlgoSeparate_PlacesStandaloneSLAndTP(t *testing.T) {
	tr, exchange, positions := newTestTrader(ports.VenueAlgoSeparate)
	ctx := context.Background()

	signal := domain.SignalSnapshot{Side: domain.SignalBuy, Score: 5, Confidence: 0.8}
	pos, err := tr.Open(ctx, "BTCUSDT", "1h", signal, 1)
	require.NoError(t, err)
	require.NotNil(t, pos)

	assert.Equal(t, domain.StatusActive, pos.Status)
	assert.Len(t, exchange.entryCalls, 1)
	assert.Nil(t, exchange.entryCalls[0].AttachedSL, "algo-separate venues must not receive attached SL")
	assert.Len(t, exchange.reduceCalls, 2, "SL and TP placed as standalone reduce-only orders")

	fetched, err := positions.GetActive(ctx, 1, pos.PosKey)
	require.NoError(t, err)
	assert.NotNil(t, fetched)
}

func TestTrader_Open_ParentChild_AttachesSLTPAtEntry(t *testing.T) {
	tr, exchange, _ := newTestTrader(ports.VenueParentChild)
	ctx := context.Background()

	signal := domain.SignalSnapshot{Side: domain.SignalBuy, Score: 5, Confidence: 0.8}
	pos, err := tr.Open(ctx, "BTCUSDT", "1h", signal, 1)
	require.NoError(t, err)
	require.NotNil(t, pos)

	require.Len(t, exchange.entryCalls, 1)
	assert.NotNil(t, exchange.entryCalls[0].AttachedSL)
	assert.NotNil(t, exchange.entryCalls[0].AttachedTP)
	assert.Empty(t, exchange.reduceCalls, "parent-child venues attach at entry, no standalone calls")
}

func TestTrader_Open_RespectsSymbolGuard(t *testing.T) {
	tr, _, _ := newTestTrader(ports.VenueParentChild)
	ctx := context.Background()
	signal := domain.SignalSnapshot{Side: domain.SignalBuy, Score: 5, Confidence: 0.8}

	first, err := tr.Open(ctx, "BTCUSDT", "1h", signal, 1)
	require.NoError(t, err)
	require.NotNil(t, first)

	second, err := tr.Open(ctx, "BTCUSDT", "4h", signal, 1)
	require.NoError(t, err)
	assert.Nil(t, second, "a second slot for the same symbol must be denied by the per-symbol guard")
}

func TestTrader_Open_NonActionableSignalIsNoOp(t *testing.T) {
	tr, exchange, _ := newTestTrader(ports.VenueParentChild)
	ctx := context.Background()

	pos, err := tr.Open(ctx, "BTCUSDT", "1h", domain.SignalSnapshot{Side: domain.SignalNone}, 1)
	require.NoError(t, err)
	assert.Nil(t, pos)
	assert.Empty(t, exchange.entryCalls)
}

func TestTrader_Close_FinalizesAndCancelsProtectiveOrders(t *testing.T) {
	tr, exchange, positions := newTestTrader(ports.VenueAlgoSeparate)
	ctx := context.Background()
	signal := domain.SignalSnapshot{Side: domain.SignalBuy, Score: 5, Confidence: 0.8}

	pos, err := tr.Open(ctx, "BTCUSDT", "1h", signal, 1)
	require.NoError(t, err)
	require.NotNil(t, pos)

	exchange.mark = decimal.NewFromInt(105)
	require.NoError(t, tr.Close(ctx, pos, domain.ExitManual))

	assert.Contains(t, exchange.cancelCalls, pos.SLOrderID)
	assert.Contains(t, exchange.cancelCalls, pos.TPOrderID)

	closed, err := positions.FindByID(ctx, pos.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusClosed, closed.Status)
}

func TestTrader_OpenStarter_AppliesPenaltiesAndMarksStarter(t *testing.T) {
	tr, _, _ := newTestTrader(ports.VenueAlgoSeparate)
	ctx := context.Background()

	full, err := tr.Open(ctx, "BTCUSDT", "1h", domain.SignalSnapshot{Side: domain.SignalBuy, Score: 5, Confidence: 0.8}, 1)
	require.NoError(t, err)
	require.NoError(t, tr.Close(ctx, full, domain.ExitSignalFlip))

	starter, err := tr.OpenStarter(ctx, "BTCUSDT", "1h", domain.SignalSnapshot{Side: domain.SignalSell, Score: 5, Confidence: 0.8}, 1)
	require.NoError(t, err)
	require.NotNil(t, starter)

	assert.True(t, starter.StarterPosition)
	assert.Less(t, starter.Leverage, full.Leverage, "starter leverage must be reduced from a full entry")
	assert.True(t, starter.Qty.LessThan(full.Qty), "starter notional must be reduced from a full entry")
}

func TestTrader_TickSLTP_RecreatesMissingSLOrder(t *testing.T) {
	tr, exchange, positions := newTestTrader(ports.VenueAlgoSeparate)
	tr.cfg.SLTPCreationCooldown = 0
	ctx := context.Background()

	pos, err := tr.Open(ctx, "BTCUSDT", "1h", domain.SignalSnapshot{Side: domain.SignalBuy, Score: 5, Confidence: 0.8}, 1)
	require.NoError(t, err)
	require.NotEmpty(t, pos.SLOrderID)

	staleSLOrderID := pos.SLOrderID
	exchange.openOrders = nil // SL order vanished from the venue

	require.NoError(t, tr.TickSLTP(ctx, pos, decimal.NewFromInt(100)))

	assert.NotEqual(t, staleSLOrderID, pos.SLOrderID, "a missing SL must be recreated with a fresh order id")

	fetched, err := positions.FindByID(ctx, pos.ID)
	require.NoError(t, err)
	assert.Equal(t, pos.SLOrderID, fetched.SLOrderID)
}

func TestTrader_TickSLTP_LeavesLiveSLOrderAlone(t *testing.T) {
	tr, exchange, _ := newTestTrader(ports.VenueAlgoSeparate)
	tr.cfg.SLTPCreationCooldown = 0
	ctx := context.Background()

	pos, err := tr.Open(ctx, "BTCUSDT", "1h", domain.SignalSnapshot{Side: domain.SignalBuy, Score: 5, Confidence: 0.8}, 1)
	require.NoError(t, err)

	exchange.openOrders = []ports.Order{{OrderID: pos.SLOrderID, Kind: domain.ReduceOnlySL}, {OrderID: pos.TPOrderID, Kind: domain.ReduceOnlyTP}}
	slBefore, tpBefore := pos.SLOrderID, pos.TPOrderID

	require.NoError(t, tr.TickSLTP(ctx, pos, decimal.NewFromInt(100)))

	assert.Equal(t, slBefore, pos.SLOrderID)
	assert.Equal(t, tpBefore, pos.TPOrderID)
}

func TestTrader_MonitorPending_StrongReversalCancelsImmediately(t *testing.T) {
	tr, exchange, positions := newTestTrader(ports.VenueParentChild)
	tr.profile.UseLimitOrders = true
	tr.profile.LimitPatiencePct = decimal.NewFromFloat(0.01)
	ctx := context.Background()

	pos, err := tr.OpenLimit(ctx, "BTCUSDT", "1h", domain.SignalSnapshot{Side: domain.SignalBuy, Score: 5, Confidence: 0.8}, decimal.NewFromInt(99), 1)
	require.NoError(t, err)
	require.NotNil(t, pos)
	exchange.openOrders = []ports.Order{{OrderID: pos.EntryOrderID}} // still resting

	reversal := domain.SignalSnapshot{Side: domain.SignalSell, Score: 5, Confidence: 0.9}
	require.NoError(t, tr.MonitorPending(ctx, pos, reversal))

	got, err := positions.FindByID(ctx, pos.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCancelled, got.Status)
}

func TestTrader_MonitorPending_WeakOppositeWaitsForMinPendingSecs(t *testing.T) {
	tr, exchange, positions := newTestTrader(ports.VenueParentChild)
	tr.profile.UseLimitOrders = true
	tr.profile.LimitPatiencePct = decimal.NewFromFloat(0.01)
	tr.cfg.LimitPatience = time.Hour
	tr.cfg.MinPendingSecs = time.Hour
	ctx := context.Background()

	pos, err := tr.OpenLimit(ctx, "BTCUSDT", "1h", domain.SignalSnapshot{Side: domain.SignalBuy, Score: 5, Confidence: 0.8}, decimal.NewFromInt(99), 1)
	require.NoError(t, err)
	exchange.openOrders = []ports.Order{{OrderID: pos.EntryOrderID}} // still resting

	weakOpposite := domain.SignalSnapshot{Side: domain.SignalSell, Score: 5, Confidence: 0.1}
	require.NoError(t, tr.MonitorPending(ctx, pos, weakOpposite))

	got, err := positions.FindByID(ctx, pos.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPending, got.Status, "a weak opposite signal must not cancel before MinPendingSecs elapses")
}
