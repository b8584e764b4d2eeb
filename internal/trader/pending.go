package trader

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"cryptoMegaBot/internal/domain"
	"cryptoMegaBot/internal/ports"
	"cryptoMegaBot/internal/risk"
)

// limitPriceFor computes px * (1 ∓ patience_pct): BUY (LONG) entries
// bid below the mark price, SELL (SHORT) entries offer above it (spec
// §4.3.1).
func limitPriceFor(side domain.OrderSide, mark, patiencePct decimal.Decimal) decimal.Decimal {
	if side == domain.Long {
		return mark.Mul(decimal.NewFromInt(1).Sub(patiencePct))
	}
	return mark.Mul(decimal.NewFromInt(1).Add(patiencePct))
}

// OpenLimit places a LIMIT entry at limitPrice instead of Open's MARKET
// fill, persisting the Position as PENDING. Callers must drive
// MonitorPending on a timer until it reports the position ACTIVE or
// gone (spec §4.3.1: "LIMIT-with-patience vs MARKET placement").
func (t *Trader) OpenLimit(ctx context.Context, symbol, timeframe string, signal domain.SignalSnapshot, limitPrice decimal.Decimal, entryScoreThreshold float64) (*domain.Position, error) {
	lock := t.symbolLock(symbol)
	lock.Lock()
	defer lock.Unlock()

	if !signal.IsActionable(entryScoreThreshold) {
		return nil, nil
	}

	key := posKey(t.profile.ID, t.exchange.Name(), symbol, timeframe)
	existing, err := t.positions.GetActive(ctx, t.profile.ID, key)
	if err != nil {
		return nil, fmt.Errorf("trader: open limit: check existing slot: %w", err)
	}
	if existing != nil {
		return nil, nil
	}

	balance, err := t.exchange.AccountBalance(ctx, "USDT")
	if err != nil {
		return nil, fmt.Errorf("trader: open limit: account balance: %w", err)
	}

	decision := t.gate.Evaluate(ctx, risk.EntryRequest{
		ProfileID:   t.profile.ID,
		Symbol:      symbol,
		EntryPrice:  limitPrice,
		Score:       signal.Score,
		MinNotional: t.exchange.MinNotional(symbol),
	}, balance)
	if !decision.Approved {
		return nil, nil
	}

	side := signal.OrderSide()
	qty := t.exchange.AmountToPrecision(symbol, decision.Qty)
	price := t.exchange.PriceToPrecision(symbol, limitPrice)

	if err := t.exchange.SetMarginMode(ctx, symbol, domain.MarginIsolated); err != nil {
		return nil, fmt.Errorf("trader: open limit: set margin mode: %w", err)
	}
	if err := t.exchange.SetLeverage(ctx, symbol, decision.Leverage); err != nil {
		return nil, fmt.Errorf("trader: open limit: set leverage: %w", err)
	}

	slPrice, tpPrice := t.initialStopsFor(side, price)
	now := time.Now()
	coid := clientOrderID(t.profile.Environment, t.exchange.Name(), symbol, side, now)

	ack, err := t.exchange.PlaceEntry(ctx, ports.PlaceEntryRequest{
		Symbol: symbol, Side: side, Qty: qty, Price: &price,
		Leverage: decision.Leverage, MarginMode: domain.MarginIsolated, ClientOrderID: coid,
	})
	if err != nil {
		return nil, fmt.Errorf("trader: open limit: place entry: %w", err)
	}

	pos := &domain.Position{
		ProfileID: t.profile.ID, PosKey: key, Symbol: symbol, Side: side, Timeframe: timeframe,
		Qty: qty, EntryPrice: price, SLPrice: slPrice, TPPrice: tpPrice, OriginalSLPrice: slPrice,
		Leverage: decision.Leverage, MarginMode: domain.MarginIsolated, Status: domain.StatusPending,
		OrderType: domain.OrderTypeLimit, EntryOrderID: ack.OrderID, EntryTime: now,
		EntryConfidence: signal.Confidence, FeatureSnapshot: signal.Features,
	}
	if err := t.positions.UpsertActive(ctx, pos); err != nil {
		_ = t.exchange.CancelOrder(ctx, symbol, ack.OrderID, domain.CancelStandard)
		return nil, fmt.Errorf("trader: open limit: persist position: %w", err)
	}
	return pos, nil
}

// MonitorPending checks one PENDING LIMIT position's resting order
// against the latest signal read for its slot (spec §4.3.2). If it has
// filled (no longer present in open orders), it attaches protective
// orders and promotes the position to ACTIVE. Otherwise it evaluates,
// in order:
//   - past LimitPatience the order is cancelled whatever the signal;
//   - a strong reversal signal (confidence > StrongReversalThreshold,
//     opposite side) cancels immediately;
//   - past MinPendingSecs, a weak opposite signal or an invalidated one
//     (confidence < InvalidationThreshold, or no side at all) cancels;
//   - anything else leaves the order resting.
func (t *Trader) MonitorPending(ctx context.Context, pos *domain.Position, signal domain.SignalSnapshot) error {
	lock := t.symbolLock(pos.Symbol)
	lock.Lock()
	defer lock.Unlock()

	if pos.Status != domain.StatusPending {
		return nil
	}

	openOrders, err := t.exchange.FetchOpenOrders(ctx, pos.Symbol)
	if err != nil {
		return fmt.Errorf("trader: monitor pending: fetch open orders: %w", err)
	}
	stillResting := false
	for _, o := range openOrders {
		if o.OrderID == pos.EntryOrderID {
			stillResting = true
			break
		}
	}

	if stillResting {
		if !t.pendingCancelSignal(pos, signal) {
			return nil
		}
		if err := t.exchange.CancelOrder(ctx, pos.Symbol, pos.EntryOrderID, domain.CancelStandard); err != nil {
			t.logger.Warn(ctx, "trader: monitor pending: failed to cancel stale limit order", map[string]interface{}{"positionID": pos.ID, "error": err.Error()})
		}
		return t.positions.Finalize(ctx, pos.ID, domain.StatusCancelled, nil)
	}

	fills, err := t.exchange.FetchMyTrades(ctx, pos.Symbol, pos.EntryTime.Add(-time.Minute))
	if err != nil {
		return fmt.Errorf("trader: monitor pending: fetch fills: %w", err)
	}
	for _, f := range fills {
		if f.OrderID == pos.EntryOrderID {
			pos.EntryPrice = f.Price
			break
		}
	}

	if t.exchange.Category() == ports.VenueAlgoSeparate {
		if err := t.attachProtectiveOrders(ctx, pos); err != nil {
			t.logger.Error(ctx, err, "trader: monitor pending: failed to attach SL/TP on fill", map[string]interface{}{"positionID": pos.ID})
		}
	}
	pos.Status = domain.StatusActive
	return t.positions.UpsertActive(ctx, pos)
}

// pendingCancelSignal decides whether the resting order should be
// cancelled on this tick, ahead of the LimitPatience timeout (spec
// §4.3.2). A strong reversal cancels immediately; a weak opposite
// signal or an invalidated one only cancels once MinPendingSecs has
// elapsed, so a single noisy tick can't churn a resting order. Past
// LimitPatience the order is always cancelled regardless of signal.
func (t *Trader) pendingCancelSignal(pos *domain.Position, signal domain.SignalSnapshot) bool {
	if time.Since(pos.EntryTime) >= t.cfg.LimitPatience {
		return true
	}

	opposite := signal.Side != domain.SignalNone && signal.OrderSide() != pos.Side
	if opposite && signal.Confidence > t.cfg.StrongReversalThreshold {
		return true
	}

	if time.Since(pos.EntryTime) < t.cfg.MinPendingSecs {
		return false
	}

	if opposite {
		return true
	}
	return signal.Side == domain.SignalNone || signal.Confidence < t.cfg.InvalidationThreshold
}
