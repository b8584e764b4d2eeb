// Package trader implements the Trader state machine (spec §4.3): the
// only component that opens, monitors, and closes Position rows. It
// owns client-order-id composition, per-(profile,symbol) serialization,
// and the precondition chain guarding every entry. SL/TP lifecycle
// management lives in sltp.go, the pending-fill monitor in pending.go,
// and the orphan reaper in reaper.go — all sharing this file's Trader
// receiver and mutex discipline, grounded on the teacher's
// TradingService (enterPosition/closePosition/emergencyClose pattern).
package trader

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"cryptoMegaBot/internal/domain"
	"cryptoMegaBot/internal/ports"
	"cryptoMegaBot/internal/risk"
)

// Config tunes the Trader's entry and lifecycle behavior.
type Config struct {
	// LimitPatience bounds how long a LIMIT entry is left resting before
	// MonitorPending cancels it and finalizes the position as CANCELLED;
	// no MARKET order is placed in its place.
	LimitPatience time.Duration
	// SLTPCreationCooldown is the minimum age of an SL or TP order
	// (since its SLCreatedAt/TPCreatedAt) before a missing one is
	// recreated (spec §4.3.3, default 20s — avoids a recreation loop on
	// repeated fetch failures).
	SLTPCreationCooldown time.Duration
	// ProfitLockFraction is the path fraction (entry→TP) at which the SL
	// is moved to breakeven-or-better (spec §4.3.3, default 0.80).
	ProfitLockFraction decimal.Decimal
	// TPExtensionMultiple caps how far a single TP extension can widen
	// the original target (spec §4.3.3, default 1.5×).
	TPExtensionMultiple decimal.Decimal
	// EmergencyConfidenceFraction is the fraction of entry confidence
	// below which the SL is tightened defensively (spec §4.3.3, default 0.50).
	EmergencyConfidenceFraction float64
	// StarterLeveragePenalty, StarterNotionalPenalty and
	// StarterSLPenalty scale down a reversal "starter position" relative
	// to a normal entry (spec §4.3.4: -40%, -50%, -40%).
	StarterLeveragePenalty float64
	StarterNotionalPenalty float64
	StarterSLPenalty       float64

	// StrongReversalThreshold is the confidence above which an opposite
	// signal cancels a resting PENDING order immediately, bypassing
	// MinPendingSecs (spec §4.3.2, default 0.4).
	StrongReversalThreshold float64
	// MinPendingSecs is the minimum time a PENDING order must rest
	// before a weak opposite or invalidated signal is allowed to cancel
	// it, to avoid churn on noisy ticks (spec §4.3.2, default 120s).
	MinPendingSecs time.Duration
	// InvalidationThreshold is the confidence below which a PENDING
	// order's originating signal is considered invalidated once
	// MinPendingSecs has elapsed (spec §4.3.2, default 0.2).
	InvalidationThreshold float64
}

func (c Config) withDefaults() Config {
	if c.LimitPatience == 0 {
		c.LimitPatience = 15 * time.Second
	}
	if c.SLTPCreationCooldown == 0 {
		c.SLTPCreationCooldown = 20 * time.Second
	}
	if c.ProfitLockFraction.IsZero() {
		c.ProfitLockFraction = decimal.NewFromFloat(0.80)
	}
	if c.TPExtensionMultiple.IsZero() {
		c.TPExtensionMultiple = decimal.NewFromFloat(1.5)
	}
	if c.EmergencyConfidenceFraction == 0 {
		c.EmergencyConfidenceFraction = 0.50
	}
	if c.StarterLeveragePenalty == 0 {
		c.StarterLeveragePenalty = 0.40
	}
	if c.StarterNotionalPenalty == 0 {
		c.StarterNotionalPenalty = 0.50
	}
	if c.StarterSLPenalty == 0 {
		c.StarterSLPenalty = 0.40
	}
	if c.StrongReversalThreshold == 0 {
		c.StrongReversalThreshold = 0.40
	}
	if c.MinPendingSecs == 0 {
		c.MinPendingSecs = 120 * time.Second
	}
	if c.InvalidationThreshold == 0 {
		c.InvalidationThreshold = 0.20
	}
	return c
}

// Trader orchestrates open/close/lifecycle operations for one profile's
// universe of symbols against one ExchangeAdapter.
type Trader struct {
	cfg         Config
	profile     *domain.Profile
	exchange    ports.ExchangeAdapter
	positions   ports.PositionStore
	gate        *risk.Gate
	logger      ports.Logger
	notifier    ports.Notifier

	mu     sync.Mutex
	locks  map[string]*sync.Mutex // per-symbol serialization (spec §5 concurrency model)
	marginUSDT decimal.Decimal
}

// New builds a Trader for one profile.
func New(cfg Config, profile *domain.Profile, exchange ports.ExchangeAdapter, positions ports.PositionStore, gate *risk.Gate, logger ports.Logger, notifier ports.Notifier) *Trader {
	return &Trader{
		cfg:       cfg.withDefaults(),
		profile:   profile,
		exchange:  exchange,
		positions: positions,
		gate:      gate,
		logger:    logger,
		notifier:  notifier,
		locks:     make(map[string]*sync.Mutex),
	}
}

func (t *Trader) symbolLock(symbol string) *sync.Mutex {
	t.mu.Lock()
	defer t.mu.Unlock()
	l, ok := t.locks[symbol]
	if !ok {
		l = &sync.Mutex{}
		t.locks[symbol] = l
	}
	return l
}

// SymbolLock exposes the same per-symbol mutex symbolLock hands out
// internally, so the Reconciler can hold it across its own Position
// mutations (spec §5: "Reconciler acquires the same per-symbol mutex
// before mutating any Position").
func (t *Trader) SymbolLock(symbol string) *sync.Mutex {
	return t.symbolLock(symbol)
}

// posKey composes the slot identity (spec §3.1) as
// "P{profile_id}_{EXCHANGE}_{SYMBOL}_{TIMEFRAME}": the canonical symbol
// is one segment, base and quote are not split apart.
func posKey(profileID int64, exchange, symbol, timeframe string) string {
	return fmt.Sprintf("P%d_%s_%s_%s", profileID, exchange, symbol, timeframe)
}

// clientOrderID composes {env_prefix}{VENUE}_{CANONICAL_SYMBOL}_{SIDE}_{timestamp_ms}_{disambiguator}.
// The trailing uuid segment guards against two orders landing in the
// same millisecond for the same symbol/side, which plain timestamps
// can't distinguish.
func clientOrderID(env domain.Environment, venue, symbol string, side domain.OrderSide, at time.Time) string {
	return fmt.Sprintf("%s%s_%s_%s_%d_%s", env.EnvPrefix(), venue, symbol, side, at.UnixMilli(), uuid.New().String()[:8])
}

// Open runs the full entry precondition chain and, if every check
// passes, places the entry order and persists the resulting Position
// (spec §4.3.1). It serializes on the symbol so a concurrent Reconciler
// pass or duplicate slot tick can't race the same key.
func (t *Trader) Open(ctx context.Context, symbol, timeframe string, signal domain.SignalSnapshot, entryScoreThreshold float64) (*domain.Position, error) {
	if !signal.IsActionable(entryScoreThreshold) {
		return nil, nil
	}

	// Placement policy (spec §4.3.1): a profile configured for
	// LIMIT-with-patience entries gets a LIMIT order offset from the
	// mark price instead of a MARKET fill; OpenLimit recomputes SL/TP
	// from that limit price, never from the mark price used here.
	if t.profile.UseLimitOrders && t.profile.LimitPatiencePct.IsPositive() {
		markPrice, err := t.exchange.MarkPrice(ctx, symbol)
		if err != nil {
			return nil, fmt.Errorf("trader: open: mark price for limit patience: %w", err)
		}
		limitPrice := limitPriceFor(signal.OrderSide(), markPrice, t.profile.LimitPatiencePct)
		return t.OpenLimit(ctx, symbol, timeframe, signal, limitPrice, entryScoreThreshold)
	}

	lock := t.symbolLock(symbol)
	lock.Lock()
	defer lock.Unlock()

	key := posKey(t.profile.ID, t.exchange.Name(), symbol, timeframe)

	existing, err := t.positions.GetActive(ctx, t.profile.ID, key)
	if err != nil {
		return nil, fmt.Errorf("trader: open: check existing slot: %w", err)
	}
	if existing != nil {
		return nil, nil
	}

	markPrice, err := t.exchange.MarkPrice(ctx, symbol)
	if err != nil {
		return nil, fmt.Errorf("trader: open: mark price: %w", err)
	}

	balance, err := t.exchange.AccountBalance(ctx, "USDT")
	if err != nil {
		return nil, fmt.Errorf("trader: open: account balance: %w", err)
	}

	decision := t.gate.Evaluate(ctx, risk.EntryRequest{
		ProfileID:   t.profile.ID,
		Symbol:      symbol,
		EntryPrice:  markPrice,
		Score:       signal.Score,
		MinNotional: t.exchange.MinNotional(symbol),
	}, balance)
	if !decision.Approved {
		t.logger.Info(ctx, "trader: open denied by risk gate", map[string]interface{}{"symbol": symbol, "reason": decision.Reason.Error()})
		return nil, nil
	}

	side := signal.OrderSide()
	qty := t.exchange.AmountToPrecision(symbol, decision.Qty)
	entryPrice := t.exchange.PriceToPrecision(symbol, markPrice)

	if err := t.exchange.SetMarginMode(ctx, symbol, domain.MarginIsolated); err != nil {
		return nil, fmt.Errorf("trader: open: set margin mode: %w", err)
	}
	if err := t.exchange.SetLeverage(ctx, symbol, decision.Leverage); err != nil {
		return nil, fmt.Errorf("trader: open: set leverage: %w", err)
	}

	slPrice, tpPrice := t.initialStopsFor(side, entryPrice)

	now := time.Now()
	coid := clientOrderID(t.profile.Environment, t.exchange.Name(), symbol, side, now)

	req := ports.PlaceEntryRequest{
		Symbol:        symbol,
		Side:          side,
		Qty:           qty,
		Leverage:      decision.Leverage,
		MarginMode:    domain.MarginIsolated,
		ClientOrderID: coid,
	}
	if t.exchange.Category() == ports.VenueParentChild {
		req.AttachedSL = &slPrice
		req.AttachedTP = &tpPrice
	}

	ack, err := t.exchange.PlaceEntry(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("trader: open: place entry: %w", err)
	}

	pos := &domain.Position{
		ProfileID:       t.profile.ID,
		PosKey:          key,
		Symbol:          symbol,
		Side:            side,
		Timeframe:       timeframe,
		Qty:             qty,
		EntryPrice:      entryOrMark(ack.AvgPrice, entryPrice),
		SLPrice:         slPrice,
		TPPrice:         tpPrice,
		OriginalSLPrice: slPrice,
		Leverage:        decision.Leverage,
		MarginMode:      domain.MarginIsolated,
		Status:          domain.StatusPending,
		OrderType:       domain.OrderTypeMarket,
		EntryOrderID:    ack.OrderID,
		EntryTime:       now,
		EntryConfidence: signal.Confidence,
		FeatureSnapshot: signal.Features,
	}

	if err := t.positions.UpsertActive(ctx, pos); err != nil {
		t.logger.Error(ctx, err, "trader: open: failed to persist new position after entry ack; attempting emergency close", map[string]interface{}{"symbol": symbol, "orderID": ack.OrderID})
		t.emergencyClose(ctx, symbol, side, qty)
		return nil, fmt.Errorf("trader: open: persist position: %w", err)
	}

	if t.exchange.Category() == ports.VenueAlgoSeparate {
		if err := t.attachProtectiveOrders(ctx, pos); err != nil {
			t.logger.Error(ctx, err, "trader: open: failed to attach SL/TP after entry; leaving position for the reconciler/reaper", map[string]interface{}{"symbol": symbol, "positionID": pos.ID})
		}
	}

	pos.Status = domain.StatusActive
	if err := t.positions.UpsertActive(ctx, pos); err != nil {
		return pos, fmt.Errorf("trader: open: mark active: %w", err)
	}

	t.logger.Info(ctx, "trader: position opened", map[string]interface{}{
		"symbol": symbol, "side": side, "qty": qty.String(), "entry": pos.EntryPrice.String(), "leverage": decision.Leverage,
	})
	return pos, nil
}

// attachProtectiveOrders places SL and TP as standalone reduce-only
// orders for VenueAlgoSeparate venues, rolling back the entry with an
// emergency close if either placement fails (grounded on the teacher's
// enterPosition SL/TP failure cleanup).
func (t *Trader) attachProtectiveOrders(ctx context.Context, pos *domain.Position) error {
	closeSide := pos.Side.Opposite()

	slAck, err := t.exchange.PlaceReduceOnly(ctx, ports.PlaceReduceOnlyRequest{
		Symbol: pos.Symbol, SideOpposite: closeSide, Qty: pos.Qty, StopPrice: pos.SLPrice, Kind: domain.ReduceOnlySL,
		ClientOrderID: clientOrderID(t.profile.Environment, t.exchange.Name(), pos.Symbol, closeSide, time.Now()),
	})
	if err != nil {
		t.emergencyClose(ctx, pos.Symbol, pos.Side, pos.Qty)
		return fmt.Errorf("place SL: %w", err)
	}
	pos.SLOrderID = slAck.OrderID
	pos.SLCreatedAt = time.Now()

	tpAck, err := t.exchange.PlaceReduceOnly(ctx, ports.PlaceReduceOnlyRequest{
		Symbol: pos.Symbol, SideOpposite: closeSide, Qty: pos.Qty, StopPrice: pos.TPPrice, Kind: domain.ReduceOnlyTP,
		ClientOrderID: clientOrderID(t.profile.Environment, t.exchange.Name(), pos.Symbol, closeSide, time.Now()),
	})
	if err != nil {
		_ = t.exchange.CancelOrder(ctx, pos.Symbol, pos.SLOrderID, domain.CancelAuto)
		t.emergencyClose(ctx, pos.Symbol, pos.Side, pos.Qty)
		return fmt.Errorf("place TP: %w", err)
	}
	pos.TPOrderID = tpAck.OrderID
	pos.TPCreatedAt = time.Now()
	return nil
}

// emergencyClose fires a market order against an exposed position when
// a downstream step (persistence, SL/TP attachment) fails after entry.
// It never returns an error to the caller — it's a last-ditch safety
// net, not a normal control-flow step.
func (t *Trader) emergencyClose(ctx context.Context, symbol string, entrySide domain.OrderSide, qty decimal.Decimal) {
	t.logger.Warn(ctx, "trader: emergency close triggered", map[string]interface{}{"symbol": symbol, "side": entrySide})
	closeSide := entrySide.Opposite()
	_, err := t.exchange.PlaceEntry(ctx, ports.PlaceEntryRequest{
		Symbol: symbol, Side: closeSide, Qty: qty,
		ClientOrderID: clientOrderID(t.profile.Environment, t.exchange.Name(), symbol, closeSide, time.Now()),
	})
	if err != nil {
		t.logger.Error(ctx, err, "trader: EMERGENCY CLOSE FAILED, manual intervention required", map[string]interface{}{"symbol": symbol})
		if t.notifier != nil {
			t.notifier.Notify(ctx, fmt.Sprintf("EMERGENCY CLOSE FAILED for %s — manual intervention required", symbol))
		}
	}
}

// initialStopsFor computes the default SL/TP prices at entry. Actual
// percentages are a profile-level concern layered on top in a future
// config pass; the 2%/4% defaults here mirror the teacher's
// StopLoss/MaxProfit config fields pending that wiring.
func (t *Trader) initialStopsFor(side domain.OrderSide, entryPrice decimal.Decimal) (sl, tp decimal.Decimal) {
	slPct := decimal.NewFromFloat(0.02)
	tpPct := decimal.NewFromFloat(0.04)
	if side == domain.Long {
		return entryPrice.Mul(decimal.NewFromInt(1).Sub(slPct)), entryPrice.Mul(decimal.NewFromInt(1).Add(tpPct))
	}
	return entryPrice.Mul(decimal.NewFromInt(1).Add(slPct)), entryPrice.Mul(decimal.NewFromInt(1).Sub(tpPct))
}

func entryOrMark(fillPrice, fallback decimal.Decimal) decimal.Decimal {
	if fillPrice.IsPositive() {
		return fillPrice
	}
	return fallback
}

// Close exits pos at market and finalizes its Trade record (spec §4.3.2:
// manual close, signal-flip exit). Protective orders are cancelled
// first so they can't race the closing fill.
func (t *Trader) Close(ctx context.Context, pos *domain.Position, reason domain.ExitReason) error {
	lock := t.symbolLock(pos.Symbol)
	lock.Lock()
	defer lock.Unlock()

	if pos.SLOrderID != "" {
		if err := t.exchange.CancelOrder(ctx, pos.Symbol, pos.SLOrderID, domain.CancelAuto); err != nil {
			t.logger.Warn(ctx, "trader: close: failed to cancel SL order", map[string]interface{}{"positionID": pos.ID, "error": err.Error()})
		}
	}
	if pos.TPOrderID != "" {
		if err := t.exchange.CancelOrder(ctx, pos.Symbol, pos.TPOrderID, domain.CancelAuto); err != nil {
			t.logger.Warn(ctx, "trader: close: failed to cancel TP order", map[string]interface{}{"positionID": pos.ID, "error": err.Error()})
		}
	}

	closeSide := pos.Side.Opposite()
	ack, err := t.exchange.PlaceEntry(ctx, ports.PlaceEntryRequest{
		Symbol: pos.Symbol, Side: closeSide, Qty: pos.Qty,
		ClientOrderID: clientOrderID(t.profile.Environment, t.exchange.Name(), pos.Symbol, closeSide, time.Now()),
	})
	if err != nil {
		return fmt.Errorf("trader: close: place closing order: %w", err)
	}

	exitPrice := ack.AvgPrice
	if !exitPrice.IsPositive() {
		exitPrice, err = t.exchange.MarkPrice(ctx, pos.Symbol)
		if err != nil {
			exitPrice = pos.EntryPrice
		}
	}

	pnl := exitPrice.Sub(pos.EntryPrice).Mul(pos.Qty)
	if pos.Side == domain.Short {
		pnl = pos.EntryPrice.Sub(exitPrice).Mul(pos.Qty)
	}

	// Only a fill at the SL price as first computed at entry re-arms the
	// cooldown; a profit-locked or emergency-tightened SL relocation must
	// not (SPEC_FULL.md §D, Open Question resolution 1).
	originalSLHit := reason == domain.ExitStopLoss && !pos.ProfitLocked && !pos.EmergencyTightened

	trade := &domain.Trade{
		ProfileID:       pos.ProfileID,
		PosKey:          pos.PosKey,
		Symbol:          pos.Symbol,
		Side:            pos.Side,
		EntryPrice:      pos.EntryPrice,
		ExitPrice:       exitPrice,
		Qty:             pos.Qty,
		PNL:             pnl,
		ExitReason:      reason,
		EntryTime:       pos.EntryTime,
		ExitTime:        time.Now(),
		OriginalSLHit:   originalSLHit,
		FeatureSnapshot: pos.FeatureSnapshot,
	}

	if err := t.positions.Finalize(ctx, pos.ID, domain.StatusClosed, trade); err != nil {
		return fmt.Errorf("trader: close: finalize: %w", err)
	}

	balance, balErr := t.exchange.AccountBalance(ctx, "USDT")
	if balErr == nil {
		if err := t.gate.RecordClose(ctx, pos.ProfileID, pos.Symbol, pnl, originalSLHit, balance); err != nil {
			t.logger.Warn(ctx, "trader: close: failed to record risk outcome", map[string]interface{}{"error": err.Error()})
		}
	}

	t.logger.Info(ctx, "trader: position closed", map[string]interface{}{"symbol": pos.Symbol, "reason": reason, "pnl": pnl.String()})
	return nil
}
