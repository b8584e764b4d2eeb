package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Position is the central record the engine owns. Identity is
// (ProfileID, PosKey); at most one row with Status in {PENDING, ACTIVE}
// may exist for a given key (enforced by the PositionStore).
type Position struct {
	ID        int64
	ProfileID int64
	PosKey    string // "P{profile_id}_{EXCHANGE}_{BASE}_{QUOTE}_{TIMEFRAME}"

	Symbol    string // canonical symbol, e.g. "BTCUSDT"
	Side      OrderSide
	Timeframe string

	Qty        decimal.Decimal
	EntryPrice decimal.Decimal
	SLPrice    decimal.Decimal
	TPPrice    decimal.Decimal
	Leverage   int
	MarginMode MarginMode

	Status    PositionStatus
	OrderType OrderType

	EntryOrderID string
	SLOrderID    string
	TPOrderID    string

	EntryTime       time.Time
	EntryConfidence float64
	FeatureSnapshot []byte // opaque, stored verbatim
	ConfigVersion   string

	// Lifecycle tracking mutated in place by the Trader's SL/TP engine.
	// None of these participate in store identity.
	SLCreatedAt         time.Time
	TPCreatedAt         time.Time
	ProfitLocked        bool
	OriginalSLPrice     decimal.Decimal // SL price as first computed at entry, never mutated again
	TPExtended          bool
	EmergencyTightened  bool
	StarterPosition     bool
	WaitingSyncReason   WaitingSyncReason
	WaitingSyncSince    time.Time
}

// IsOpen reports whether the position currently occupies its slot.
func (p *Position) IsOpen() bool {
	return p.Status == StatusPending || p.Status == StatusActive || p.Status == StatusWaitingSync
}

// IsAdopted reports whether this Position originated from the
// Reconciler's Adoption Protocol rather than Trader.open.
func (p *Position) IsAdopted() bool {
	return p.Timeframe == AdoptedTimeframe
}

// PathFraction returns how far the current price has travelled from
// EntryPrice toward TPPrice, as a fraction in [0, 1] (clamped). Used by
// the profit-lock rule (spec §4.3.3: "≥ 80% of the path entry→TP").
func (p *Position) PathFraction(currentPrice decimal.Decimal) decimal.Decimal {
	total := p.TPPrice.Sub(p.EntryPrice)
	if total.IsZero() {
		return decimal.Zero
	}
	travelled := currentPrice.Sub(p.EntryPrice)
	frac := travelled.Div(total)
	if frac.IsNegative() {
		return decimal.Zero
	}
	one := decimal.NewFromInt(1)
	if frac.GreaterThan(one) {
		return one
	}
	return frac
}
