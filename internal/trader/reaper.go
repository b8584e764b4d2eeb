package trader

import (
	"context"
	"fmt"
	"time"

	"cryptoMegaBot/internal/domain"
)

// ReapOrphans cancels open orders that belong to this profile's venue
// but don't correspond to any ACTIVE|PENDING Position and whose symbol
// isn't in the profile's configured universe (spec §4.4, P8: "the
// orphan reaper never cancels an order whose client_order_id maps to an
// ACTIVE|PENDING Position"). Batched at 20 orders per sweep with ≥500ms
// spacing to stay clear of venue rate limits.
func (t *Trader) ReapOrphans(ctx context.Context) error {
	active, err := t.positions.ListActive(ctx, t.profile.ID)
	if err != nil {
		return fmt.Errorf("trader: reap orphans: list active: %w", err)
	}

	knownOrderIDs := make(map[string]struct{}, len(active)*3)
	for _, p := range active {
		if p.EntryOrderID != "" {
			knownOrderIDs[p.EntryOrderID] = struct{}{}
		}
		if p.SLOrderID != "" {
			knownOrderIDs[p.SLOrderID] = struct{}{}
		}
		if p.TPOrderID != "" {
			knownOrderIDs[p.TPOrderID] = struct{}{}
		}
	}

	universe := make(map[string]struct{}, len(t.profile.Universe))
	for _, s := range t.profile.Universe {
		universe[s] = struct{}{}
	}

	openOrders, err := t.exchange.FetchOpenOrders(ctx, "")
	if err != nil {
		return fmt.Errorf("trader: reap orphans: fetch open orders: %w", err)
	}

	const batchLimit = 20
	const spacing = 500 * time.Millisecond
	cancelled := 0
	for _, o := range openOrders {
		if cancelled >= batchLimit {
			break
		}
		if _, known := knownOrderIDs[o.OrderID]; known {
			continue
		}
		if _, inUniverse := universe[t.exchange.NormalizeSymbol(o.Symbol)]; inUniverse {
			continue
		}

		hint := domain.CancelStandard
		if o.IsAlgo {
			hint = domain.CancelAlgo
		}
		if err := t.exchange.CancelOrder(ctx, o.Symbol, o.OrderID, hint); err != nil {
			t.logger.Warn(ctx, "trader: reap orphans: failed to cancel orphaned order", map[string]interface{}{"symbol": o.Symbol, "orderID": o.OrderID, "error": err.Error()})
			continue
		}
		cancelled++
		t.logger.Info(ctx, "trader: reaped orphaned order", map[string]interface{}{"symbol": o.Symbol, "orderID": o.OrderID})

		select {
		case <-time.After(spacing):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}
