package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Trade is the write-once, append-only ledger entry produced when a
// Position is finalized. Never mutated after insertion.
type Trade struct {
	ID         int64
	ProfileID  int64
	PosKey     string
	Symbol     string
	Side       OrderSide
	EntryPrice decimal.Decimal
	ExitPrice  decimal.Decimal
	Qty        decimal.Decimal
	PNL        decimal.Decimal
	Fees       decimal.Decimal
	ExitReason ExitReason
	EntryTime  time.Time
	ExitTime   time.Time

	// OriginalSLHit is true only when the close was a stop-loss fill at
	// the SL price as first computed at entry — a profit-locked or
	// emergency-tightened SL hit does not set this (SPEC_FULL.md §D, Open
	// Question resolution 1: only the original SL re-arms the symbol cooldown).
	OriginalSLHit bool

	FeatureSnapshot []byte
}
