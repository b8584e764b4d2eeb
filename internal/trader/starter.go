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

// OpenStarter opens a reduced-size re-entry on the opposite side right
// after a signal-flip close (spec §4.3.5). It runs the same precondition
// chain as Open, then scales leverage down by StarterLeveragePenalty,
// notional down by StarterNotionalPenalty, and tightens the SL distance
// by StarterSLPenalty, marking the resulting Position StarterPosition so
// later SL/TP and exit logic can tell it apart from a full-size entry.
func (t *Trader) OpenStarter(ctx context.Context, symbol, timeframe string, signal domain.SignalSnapshot, entryScoreThreshold float64) (*domain.Position, error) {
	if !signal.IsActionable(entryScoreThreshold) {
		return nil, nil
	}

	lock := t.symbolLock(symbol)
	lock.Lock()
	defer lock.Unlock()

	key := posKey(t.profile.ID, t.exchange.Name(), symbol, timeframe)

	existing, err := t.positions.GetActive(ctx, t.profile.ID, key)
	if err != nil {
		return nil, fmt.Errorf("trader: open starter: check existing slot: %w", err)
	}
	if existing != nil {
		return nil, nil
	}

	markPrice, err := t.exchange.MarkPrice(ctx, symbol)
	if err != nil {
		return nil, fmt.Errorf("trader: open starter: mark price: %w", err)
	}

	balance, err := t.exchange.AccountBalance(ctx, "USDT")
	if err != nil {
		return nil, fmt.Errorf("trader: open starter: account balance: %w", err)
	}

	decision := t.gate.Evaluate(ctx, risk.EntryRequest{
		ProfileID:   t.profile.ID,
		Symbol:      symbol,
		EntryPrice:  markPrice,
		Score:       signal.Score,
		MinNotional: t.exchange.MinNotional(symbol),
	}, balance)
	if !decision.Approved {
		t.logger.Info(ctx, "trader: starter open denied by risk gate", map[string]interface{}{"symbol": symbol, "reason": decision.Reason.Error()})
		return nil, nil
	}

	leverage := scaleDownInt(decision.Leverage, t.cfg.StarterLeveragePenalty)
	notionalScale := decimal.NewFromFloat(1 - t.cfg.StarterNotionalPenalty)

	side := signal.OrderSide()
	qty := t.exchange.AmountToPrecision(symbol, decision.Qty.Mul(notionalScale))
	entryPrice := t.exchange.PriceToPrecision(symbol, markPrice)

	if err := t.exchange.SetMarginMode(ctx, symbol, domain.MarginIsolated); err != nil {
		return nil, fmt.Errorf("trader: open starter: set margin mode: %w", err)
	}
	if err := t.exchange.SetLeverage(ctx, symbol, leverage); err != nil {
		return nil, fmt.Errorf("trader: open starter: set leverage: %w", err)
	}

	slPrice, tpPrice := t.initialStopsFor(side, entryPrice)
	slPrice = tightenStarterSL(side, entryPrice, slPrice, t.cfg.StarterSLPenalty)

	now := time.Now()
	coid := clientOrderID(t.profile.Environment, t.exchange.Name(), symbol, side, now)

	req := ports.PlaceEntryRequest{
		Symbol:        symbol,
		Side:          side,
		Qty:           qty,
		Leverage:      leverage,
		MarginMode:    domain.MarginIsolated,
		ClientOrderID: coid,
	}
	if t.exchange.Category() == ports.VenueParentChild {
		req.AttachedSL = &slPrice
		req.AttachedTP = &tpPrice
	}

	ack, err := t.exchange.PlaceEntry(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("trader: open starter: place entry: %w", err)
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
		Leverage:        leverage,
		MarginMode:      domain.MarginIsolated,
		Status:          domain.StatusPending,
		OrderType:       domain.OrderTypeMarket,
		EntryOrderID:    ack.OrderID,
		EntryTime:       now,
		EntryConfidence: signal.Confidence,
		FeatureSnapshot: signal.Features,
		StarterPosition: true,
	}

	if err := t.positions.UpsertActive(ctx, pos); err != nil {
		t.logger.Error(ctx, err, "trader: open starter: failed to persist new position after entry ack; attempting emergency close", map[string]interface{}{"symbol": symbol, "orderID": ack.OrderID})
		t.emergencyClose(ctx, symbol, side, qty)
		return nil, fmt.Errorf("trader: open starter: persist position: %w", err)
	}

	if t.exchange.Category() == ports.VenueAlgoSeparate {
		if err := t.attachProtectiveOrders(ctx, pos); err != nil {
			t.logger.Error(ctx, err, "trader: open starter: failed to attach SL/TP after entry; leaving position for the reconciler/reaper", map[string]interface{}{"symbol": symbol, "positionID": pos.ID})
		}
	}

	pos.Status = domain.StatusActive
	if err := t.positions.UpsertActive(ctx, pos); err != nil {
		return pos, fmt.Errorf("trader: open starter: mark active: %w", err)
	}

	t.logger.Info(ctx, "trader: starter position opened", map[string]interface{}{
		"symbol": symbol, "side": side, "qty": qty.String(), "entry": pos.EntryPrice.String(), "leverage": leverage,
	})
	return pos, nil
}

// scaleDownInt reduces an integer leverage by pct, floored at 1 — a
// starter position is never denied leverage entirely.
func scaleDownInt(leverage int, pct float64) int {
	scaled := int(float64(leverage) * (1 - pct))
	if scaled < 1 {
		return 1
	}
	return scaled
}

// tightenStarterSL shrinks the entry→SL distance by pct, keeping the SL
// on the same side of entry (spec §4.3.5: SL tightened -40%).
func tightenStarterSL(side domain.OrderSide, entryPrice, slPrice decimal.Decimal, pct float64) decimal.Decimal {
	scale := decimal.NewFromFloat(1 - pct)
	distance := entryPrice.Sub(slPrice).Abs().Mul(scale)
	if side == domain.Long {
		return entryPrice.Sub(distance)
	}
	return entryPrice.Add(distance)
}
