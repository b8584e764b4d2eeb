package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// RiskMetrics is the per-(profile, environment) drawdown and daily-loss
// ledger read by RiskGate and mutated by the Trader on every closed
// trade.
type RiskMetrics struct {
	ProfileID       int64
	PeakBalance     decimal.Decimal
	DailyLoss       decimal.Decimal
	DailyResetDate  string // YYYY-MM-DD in the configured local timezone
	StartingBalance decimal.Decimal
	UpdatedAt       time.Time
}

// Drawdown returns (peak - current) / peak as a fraction, or zero if
// peak is non-positive.
func (r RiskMetrics) Drawdown(currentBalance decimal.Decimal) decimal.Decimal {
	if !r.PeakBalance.IsPositive() {
		return decimal.Zero
	}
	return r.PeakBalance.Sub(currentBalance).Div(r.PeakBalance)
}

// DailyLossFraction returns daily_loss / starting_balance.
func (r RiskMetrics) DailyLossFraction() decimal.Decimal {
	if !r.StartingBalance.IsPositive() {
		return decimal.Zero
	}
	return r.DailyLoss.Div(r.StartingBalance)
}

// Cooldown tracks the per-symbol re-entry freeze set after a realized
// SL (spec §4.5: "set on realized SL only").
type Cooldown struct {
	ProfileID  int64
	Symbol     string
	ExpiresAt  time.Time
}

// Active reports whether the cooldown still denies opens at the given
// instant.
func (c Cooldown) Active(now time.Time) bool {
	return now.Before(c.ExpiresAt)
}
