package trader

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"cryptoMegaBot/internal/domain"
	"cryptoMegaBot/internal/ports"
)

// TickSLTP runs one pass of the SL/TP lifecycle engine against pos at
// currentPrice (spec §4.3.3). It is idempotent and safe to call on
// every price tick; each rule only fires once its own guard is met.
func (t *Trader) TickSLTP(ctx context.Context, pos *domain.Position, currentPrice decimal.Decimal) error {
	lock := t.symbolLock(pos.Symbol)
	lock.Lock()
	defer lock.Unlock()

	if err := t.maybeRecreateProtectiveOrders(ctx, pos); err != nil {
		return fmt.Errorf("trader: sltp: recreate protective orders: %w", err)
	}

	if err := t.maybeLockProfit(ctx, pos, currentPrice); err != nil {
		return fmt.Errorf("trader: sltp: profit lock: %w", err)
	}
	if err := t.maybeExtendTP(ctx, pos, currentPrice); err != nil {
		return fmt.Errorf("trader: sltp: tp extension: %w", err)
	}
	if err := t.maybeTightenEmergency(ctx, pos, currentPrice); err != nil {
		return fmt.Errorf("trader: sltp: emergency tighten: %w", err)
	}
	return nil
}

// maybeRecreateProtectiveOrders confirms pos's SL and TP orders are
// still resting on the exchange and recreates whichever is missing,
// each gated by its own SLTPCreationCooldown measured from when that
// specific order was (re)created — not from position entry — so a
// just-replaced order isn't immediately replaced again (spec §4.3.3,
// invariant P3, §7 "Missing SL/TP on ACTIVE → Recreate, 20s cooldown").
func (t *Trader) maybeRecreateProtectiveOrders(ctx context.Context, pos *domain.Position) error {
	if t.exchange.Category() != ports.VenueAlgoSeparate {
		// VenueParentChild stops are attached to the entry order itself;
		// there is no standalone SL/TP order id to go missing.
		return nil
	}

	openOrders, err := t.exchange.FetchOpenOrders(ctx, pos.Symbol)
	if err != nil {
		return fmt.Errorf("fetch open orders: %w", err)
	}
	live := make(map[string]bool, len(openOrders))
	for _, o := range openOrders {
		live[o.OrderID] = true
	}

	if (pos.SLOrderID == "" || !live[pos.SLOrderID]) && time.Since(pos.SLCreatedAt) >= t.cfg.SLTPCreationCooldown {
		pos.SLOrderID = ""
		if err := t.replaceSL(ctx, pos, pos.SLPrice); err != nil {
			return fmt.Errorf("recreate SL: %w", err)
		}
		if err := t.positions.UpsertActive(ctx, pos); err != nil {
			return fmt.Errorf("persist recreated SL: %w", err)
		}
		t.logger.Warn(ctx, "trader: recreated missing SL order", map[string]interface{}{"positionID": pos.ID, "symbol": pos.Symbol})
	}

	if (pos.TPOrderID == "" || !live[pos.TPOrderID]) && time.Since(pos.TPCreatedAt) >= t.cfg.SLTPCreationCooldown {
		pos.TPOrderID = ""
		if err := t.replaceTP(ctx, pos, pos.TPPrice); err != nil {
			return fmt.Errorf("recreate TP: %w", err)
		}
		if err := t.positions.UpsertActive(ctx, pos); err != nil {
			return fmt.Errorf("persist recreated TP: %w", err)
		}
		t.logger.Warn(ctx, "trader: recreated missing TP order", map[string]interface{}{"positionID": pos.ID, "symbol": pos.Symbol})
	}
	return nil
}

// maybeLockProfit moves SL to breakeven once price has travelled at
// least ProfitLockFraction of the path from entry to TP, never
// undoing a lock already in place.
func (t *Trader) maybeLockProfit(ctx context.Context, pos *domain.Position, currentPrice decimal.Decimal) error {
	if pos.ProfitLocked {
		return nil
	}
	if pos.PathFraction(currentPrice).LessThan(t.cfg.ProfitLockFraction) {
		return nil
	}

	newSL := pos.EntryPrice
	if err := t.replaceSL(ctx, pos, newSL); err != nil {
		return err
	}
	pos.ProfitLocked = true
	return t.positions.UpsertActive(ctx, pos)
}

// maybeExtendTP widens the take-profit target once price has covered at
// least 95% of the entry→TP path, moving TP out to TPExtensionMultiple
// times the original entry→TP distance. It fires once per position and
// does not look at the trend beyond that path fraction.
func (t *Trader) maybeExtendTP(ctx context.Context, pos *domain.Position, currentPrice decimal.Decimal) error {
	if pos.TPExtended {
		return nil
	}
	if pos.PathFraction(currentPrice).LessThan(decimal.NewFromFloat(0.95)) {
		return nil
	}

	originalDistance := pos.TPPrice.Sub(pos.EntryPrice).Abs()
	maxDistance := originalDistance.Mul(t.cfg.TPExtensionMultiple)
	var newTP decimal.Decimal
	if pos.Side == domain.Long {
		newTP = pos.EntryPrice.Add(maxDistance)
	} else {
		newTP = pos.EntryPrice.Sub(maxDistance)
	}

	if err := t.replaceTP(ctx, pos, newTP); err != nil {
		return err
	}
	pos.TPExtended = true
	return t.positions.UpsertActive(ctx, pos)
}

// maybeTightenEmergency does nothing: the defensive SL tightening on
// confidence decay (spec §4.3.3) is done by TightenOnSignalDecay, which
// the slot loop calls with its current signal read.
func (t *Trader) maybeTightenEmergency(ctx context.Context, pos *domain.Position, currentPrice decimal.Decimal) error {
	return nil // driven by TightenOnSignalDecay below, kept separate since it needs a fresh signal read
}

// TightenOnSignalDecay is called by the slot loop when a fresh signal
// read shows confidence has fallen below EmergencyConfidenceFraction of
// the entry confidence, tightening SL halfway to the current price.
func (t *Trader) TightenOnSignalDecay(ctx context.Context, pos *domain.Position, currentConfidence float64) error {
	lock := t.symbolLock(pos.Symbol)
	lock.Lock()
	defer lock.Unlock()

	if pos.EmergencyTightened || pos.EntryConfidence <= 0 {
		return nil
	}
	if currentConfidence >= pos.EntryConfidence*t.cfg.EmergencyConfidenceFraction {
		return nil
	}

	markPrice, err := t.exchange.MarkPrice(ctx, pos.Symbol)
	if err != nil {
		return fmt.Errorf("trader: emergency tighten: mark price: %w", err)
	}
	newSL := pos.SLPrice.Add(markPrice).Div(decimal.NewFromInt(2))
	if pos.Side == domain.Long && newSL.LessThanOrEqual(pos.SLPrice) {
		return nil
	}
	if pos.Side == domain.Short && newSL.GreaterThanOrEqual(pos.SLPrice) {
		return nil
	}

	if err := t.replaceSL(ctx, pos, newSL); err != nil {
		return err
	}
	pos.EmergencyTightened = true
	return t.positions.UpsertActive(ctx, pos)
}

func (t *Trader) replaceSL(ctx context.Context, pos *domain.Position, newSL decimal.Decimal) error {
	newSL = t.exchange.PriceToPrecision(pos.Symbol, newSL)
	if pos.SLOrderID != "" {
		if err := t.exchange.CancelOrder(ctx, pos.Symbol, pos.SLOrderID, domain.CancelAuto); err != nil {
			return fmt.Errorf("cancel existing SL: %w", err)
		}
	}
	ack, err := t.exchange.PlaceReduceOnly(ctx, ports.PlaceReduceOnlyRequest{
		Symbol: pos.Symbol, SideOpposite: pos.Side.Opposite(), Qty: pos.Qty, StopPrice: newSL, Kind: domain.ReduceOnlySL,
		ClientOrderID: clientOrderID(t.profile.Environment, t.exchange.Name(), pos.Symbol, pos.Side.Opposite(), time.Now()),
	})
	if err != nil {
		return fmt.Errorf("place replacement SL: %w", err)
	}
	pos.SLPrice = newSL
	pos.SLOrderID = ack.OrderID
	pos.SLCreatedAt = time.Now()
	return nil
}

func (t *Trader) replaceTP(ctx context.Context, pos *domain.Position, newTP decimal.Decimal) error {
	newTP = t.exchange.PriceToPrecision(pos.Symbol, newTP)
	if pos.TPOrderID != "" {
		if err := t.exchange.CancelOrder(ctx, pos.Symbol, pos.TPOrderID, domain.CancelAuto); err != nil {
			return fmt.Errorf("cancel existing TP: %w", err)
		}
	}
	ack, err := t.exchange.PlaceReduceOnly(ctx, ports.PlaceReduceOnlyRequest{
		Symbol: pos.Symbol, SideOpposite: pos.Side.Opposite(), Qty: pos.Qty, StopPrice: newTP, Kind: domain.ReduceOnlyTP,
		ClientOrderID: clientOrderID(t.profile.Environment, t.exchange.Name(), pos.Symbol, pos.Side.Opposite(), time.Now()),
	})
	if err != nil {
		return fmt.Errorf("place replacement TP: %w", err)
	}
	pos.TPPrice = newTP
	pos.TPOrderID = ack.OrderID
	pos.TPCreatedAt = time.Now()
	return nil
}
