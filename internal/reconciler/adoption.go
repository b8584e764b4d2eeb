package reconciler

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"cryptoMegaBot/internal/domain"
	"cryptoMegaBot/internal/ports"
)

// fullScan re-derives the complete local/exchange picture: it runs
// deepSync again (catching anything the fast pass might have missed
// across a full 500ms+retry cycle) and then runs the Adoption Protocol
// for any exchange position with no matching local row at all (spec
// §4.4 point 3).
func (r *Reconciler) fullScan(ctx context.Context) error {
	if err := r.deepSync(ctx); err != nil {
		return fmt.Errorf("full scan: deep sync: %w", err)
	}
	return r.adoptUnmatched(ctx)
}

// adoptUnmatched constructs a synthetic Position, timeframe ADOPTED,
// for every exchange position this profile holds that has no
// corresponding local row in any state. SL/TP are inferred from the
// venue's open orders where possible, otherwise synthesized from
// DefaultSLPercent/DefaultTPPercent. Idempotent: an adoption already on
// record for the symbol is left alone.
func (r *Reconciler) adoptUnmatched(ctx context.Context) error {
	exchangePositions, err := r.exchange.FetchPositions(ctx)
	if err != nil {
		return fmt.Errorf("fetch exchange positions: %w", err)
	}
	if len(exchangePositions) == 0 {
		return nil
	}

	local, err := r.positions.ListActive(ctx, r.profile.ID)
	if err != nil {
		return fmt.Errorf("list active: %w", err)
	}
	matched := make(map[string]struct{}, len(local))
	for _, p := range local {
		matched[p.Symbol+"|"+string(p.Side)] = struct{}{}
	}

	openOrders, err := r.exchange.FetchOpenOrders(ctx, "")
	if err != nil {
		return fmt.Errorf("fetch open orders: %w", err)
	}
	ordersBySymbol := make(map[string][]ports.Order, len(openOrders))
	for _, o := range openOrders {
		ordersBySymbol[o.Symbol] = append(ordersBySymbol[o.Symbol], o)
	}

	for _, ep := range exchangePositions {
		if ep.Qty.IsZero() {
			continue
		}
		key := ep.Symbol + "|" + string(ep.Side)
		if _, ok := matched[key]; ok {
			continue
		}

		posKeyStr := posKeyAdopted(r.profile.ID, r.exchange.Name(), ep.Symbol)
		existing, err := r.positions.GetActive(ctx, r.profile.ID, posKeyStr)
		if err != nil {
			r.logger.Warn(ctx, "reconciler: adoption: check existing failed", map[string]interface{}{"symbol": ep.Symbol, "error": err.Error()})
			continue
		}
		if existing != nil {
			continue // already adopted, idempotent
		}

		sl, tp, slOrderID, tpOrderID := inferStops(ordersBySymbol[ep.Symbol], ep, r.cfg)

		adopted := &domain.Position{
			ProfileID: r.profile.ID, PosKey: posKeyStr, Symbol: ep.Symbol, Side: ep.Side,
			Timeframe: domain.AdoptedTimeframe, Qty: ep.Qty, EntryPrice: ep.EntryPrice,
			SLPrice: sl, TPPrice: tp, OriginalSLPrice: sl, Leverage: ep.Leverage,
			MarginMode: domain.MarginIsolated, Status: domain.StatusActive, OrderType: domain.OrderTypeMarket,
			SLOrderID: slOrderID, TPOrderID: tpOrderID,
		}
		lock := r.locker.SymbolLock(ep.Symbol)
		lock.Lock()
		err = r.positions.UpsertActive(ctx, adopted)
		lock.Unlock()
		if err != nil {
			r.logger.Error(ctx, err, "reconciler: adoption: failed to persist synthetic position", map[string]interface{}{"symbol": ep.Symbol})
			continue
		}

		r.logger.Info(ctx, "reconciler: adopted unmatched exchange position", map[string]interface{}{"symbol": ep.Symbol, "side": ep.Side, "qty": ep.Qty.String()})
		if r.notifier != nil {
			r.notifier.Notify(ctx, fmt.Sprintf("adopted untracked %s position on %s (qty %s) — verify manually", ep.Side, ep.Symbol, ep.Qty.String()))
		}
	}
	return nil
}

func posKeyAdopted(profileID int64, exchange, symbol string) string {
	return fmt.Sprintf("P%d_%s_%s_%s", profileID, exchange, symbol, domain.AdoptedTimeframe)
}

// inferStops looks for an existing reduce-only SL/TP among symbol's
// open orders; anything missing is synthesized from the configured
// default percentages.
func inferStops(orders []ports.Order, ep ports.ExchangePosition, cfg Config) (sl, tp decimal.Decimal, slOrderID, tpOrderID string) {
	for _, o := range orders {
		switch o.Kind {
		case domain.ReduceOnlySL:
			sl = o.StopPrice
			slOrderID = o.OrderID
		case domain.ReduceOnlyTP:
			tp = o.StopPrice
			tpOrderID = o.OrderID
		}
	}

	if sl.IsZero() {
		if ep.Side == domain.Long {
			sl = ep.EntryPrice.Mul(decimal.NewFromInt(1).Sub(cfg.DefaultSLPercent))
		} else {
			sl = ep.EntryPrice.Mul(decimal.NewFromInt(1).Add(cfg.DefaultSLPercent))
		}
	}
	if tp.IsZero() {
		if ep.Side == domain.Long {
			tp = ep.EntryPrice.Mul(decimal.NewFromInt(1).Add(cfg.DefaultTPPercent))
		} else {
			tp = ep.EntryPrice.Mul(decimal.NewFromInt(1).Sub(cfg.DefaultTPPercent))
		}
	}
	return sl, tp, slOrderID, tpOrderID
}
