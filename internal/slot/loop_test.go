package slot

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
	"cryptoMegaBot/internal/trader"
)

type noopLogger struct{}

func (noopLogger) Debug(ctx context.Context, msg string, fields ...map[string]interface{}) {}
func (noopLogger) Info(ctx context.Context, msg string, fields ...map[string]interface{})  {}
func (noopLogger) Warn(ctx context.Context, msg string, fields ...map[string]interface{})  {}
func (noopLogger) Error(ctx context.Context, err error, msg string, fields ...map[string]interface{}) {
}

type fakeSignals struct {
	snapshot domain.SignalSnapshot
	err      error
	calls    int
}

func (f *fakeSignals) Latest(ctx context.Context, symbol, timeframe string) (domain.SignalSnapshot, error) {
	f.calls++
	return f.snapshot, f.err
}
func (f *fakeSignals) RequiredDataPoints() int { return 50 }

type fakeExchange struct {
	entryCalls int
}

func (f *fakeExchange) Category() ports.VenueCategory { return ports.VenueParentChild }
func (f *fakeExchange) PlaceEntry(ctx context.Context, req ports.PlaceEntryRequest) (*ports.OrderAck, error) {
	f.entryCalls++
	return &ports.OrderAck{OrderID: "o1", AvgPrice: decimal.NewFromInt(100), ExecutedQty: req.Qty}, nil
}
func (f *fakeExchange) PlaceReduceOnly(ctx context.Context, req ports.PlaceReduceOnlyRequest) (*ports.OrderAck, error) {
	return &ports.OrderAck{OrderID: "o2"}, nil
}
func (f *fakeExchange) CancelOrder(ctx context.Context, symbol, orderID string, hint domain.CancelHint) error {
	return nil
}
func (f *fakeExchange) FetchPositions(ctx context.Context) ([]ports.ExchangePosition, error) {
	return nil, nil
}
func (f *fakeExchange) FetchOpenOrders(ctx context.Context, symbol string) ([]ports.Order, error) {
	return nil, nil
}
func (f *fakeExchange) FetchMyTrades(ctx context.Context, symbol string, since time.Time) ([]ports.Fill, error) {
	return nil, nil
}
func (f *fakeExchange) SetLeverage(ctx context.Context, symbol string, leverage int) error { return nil }
func (f *fakeExchange) SetMarginMode(ctx context.Context, symbol string, mode domain.MarginMode) error {
	return nil
}
func (f *fakeExchange) NormalizeSymbol(input string) string   { return input }
func (f *fakeExchange) ToVenueSymbol(canonical string) string { return canonical }
func (f *fakeExchange) AmountToPrecision(symbol string, amount decimal.Decimal) decimal.Decimal {
	return amount
}
func (f *fakeExchange) PriceToPrecision(symbol string, price decimal.Decimal) decimal.Decimal {
	return price
}
func (f *fakeExchange) MinNotional(symbol string) decimal.Decimal         { return decimal.Zero }
func (f *fakeExchange) ServerTime(ctx context.Context) (time.Time, error) { return time.Now(), nil }
func (f *fakeExchange) MarkPrice(ctx context.Context, symbol string) (decimal.Decimal, error) {
	return decimal.NewFromInt(100), nil
}
func (f *fakeExchange) AccountBalance(ctx context.Context, asset string) (decimal.Decimal, error) {
	return decimal.NewFromInt(10000), nil
}
func (f *fakeExchange) Name() string { return "FAKE" }

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

type memMetrics struct{}

func (memMetrics) Get(ctx context.Context, profileID int64) (*domain.RiskMetrics, error) {
	return &domain.RiskMetrics{ProfileID: profileID}, nil
}
func (memMetrics) Save(ctx context.Context, rm *domain.RiskMetrics) error { return nil }

type memCooldowns struct{}

func (memCooldowns) Get(ctx context.Context, profileID int64, symbol string) (*domain.Cooldown, error) {
	return nil, nil
}
func (memCooldowns) Set(ctx context.Context, cd *domain.Cooldown) error { return nil }

func newTestLoop(t *testing.T, signal domain.SignalSnapshot) (*Loop, *memPositions, *fakeSignals) {
	t.Helper()
	profile := &domain.Profile{ID: 1, Exchange: "FAKE", Universe: []string{"BTCUSDT"}}
	positions := newMemPositions()
	exchange := &fakeExchange{}
	gate := risk.NewGate(risk.Config{}, memMetrics{}, memCooldowns{}, positions, noopLogger{}, nil)
	tr := trader.New(trader.Config{}, profile, exchange, positions, gate, noopLogger{}, nil)
	signals := &fakeSignals{snapshot: signal}
	l := New(Config{EntryScoreThreshold: 1}, profile, "BTCUSDT", "1h", signals, positions, exchange, tr, noopLogger{})
	return l, positions, signals
}

func TestLoop_Tick_OpensOnActionableSignalWhenFlat(t *testing.T) {
	signal := domain.SignalSnapshot{Side: domain.SignalBuy, Score: 5, Confidence: 0.8, Timestamp: time.Now()}
	l, positions, _ := newTestLoop(t, signal)

	l.tick(context.Background())

	active, err := positions.ListActive(context.Background(), 1)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, domain.StatusActive, active[0].Status)
}

func TestLoop_Tick_NonActionableSignalDoesNothing(t *testing.T) {
	signal := domain.SignalSnapshot{Side: domain.SignalNone}
	l, positions, _ := newTestLoop(t, signal)

	l.tick(context.Background())

	active, err := positions.ListActive(context.Background(), 1)
	require.NoError(t, err)
	assert.Empty(t, active)
}

func TestLoop_TickActive_SignalFlipClosesPosition(t *testing.T) {
	signal := domain.SignalSnapshot{Side: domain.SignalSell, Score: 5, Confidence: 0.8}
	l, positions, _ := newTestLoop(t, signal)

	pos := &domain.Position{ID: 1, ProfileID: 1, PosKey: "P1_FAKE_BTCUSDT_1h", Symbol: "BTCUSDT", Side: domain.Long, Qty: decimal.NewFromInt(1), EntryPrice: decimal.NewFromInt(100), SLPrice: decimal.NewFromInt(95), TPPrice: decimal.NewFromInt(110), Status: domain.StatusActive}
	require.NoError(t, positions.UpsertActive(context.Background(), pos))

	l.tickActive(context.Background(), pos, signal)

	closed, err := positions.FindByID(context.Background(), pos.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusClosed, closed.Status)
}
