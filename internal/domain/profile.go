package domain

import "github.com/shopspring/decimal"

// Environment distinguishes live trading from a test/paper venue
// credential set. Carried on Profile so the engine can run both
// simultaneously without cross-contaminating client-order-id prefixes.
type Environment string

const (
	EnvLive Environment = "LIVE"
	EnvTest Environment = "TEST"
)

// EnvPrefix returns the client-order-id prefix for this environment
// (spec §6.4): "bot_" for LIVE, "dry_" for TEST/dry-run.
func (e Environment) EnvPrefix() string {
	if e == EnvLive {
		return "bot_"
	}
	return "dry_"
}

// Profile owns a trading universe and a credential set against one
// exchange. The engine runs N profiles concurrently; a Profile's
// lifetime is the engine run.
type Profile struct {
	ID          int64
	Name        string
	Environment Environment
	Exchange    string
	Active      bool

	// Universe is the set of canonical symbols this profile is allowed
	// to trade; the orphan reaper (§4.3.6) treats anything outside it
	// on an otherwise-unmatched order as a candidate for cancellation.
	Universe []string

	// Timeframes lists the signal timeframes this profile runs; the
	// Scheduler starts one SlotLoop per (symbol, timeframe) pair drawn
	// from Universe × Timeframes.
	Timeframes []string

	// Disabled is set true by the auth-error policy (§7): "disable that
	// profile for the run; raise operator alert; continue others."
	Disabled       bool
	DisabledReason string

	// UseLimitOrders selects the LIMIT-with-patience placement policy
	// over plain MARKET entries (spec §4.3.1). LimitPatiencePct is the
	// offset applied to the mark price — BUY minus, SELL plus — and is
	// only meaningful when UseLimitOrders is set.
	UseLimitOrders   bool
	LimitPatiencePct decimal.Decimal
}
