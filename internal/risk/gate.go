// Package risk implements RiskGate, the single place every entry
// decision passes through (spec §4.5). Every rule is evaluated in a
// fixed order with short-circuit denial, mirroring the Trader's own
// precondition chain (spec §4.3.1).
package risk

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"cryptoMegaBot/internal/domain"
	"cryptoMegaBot/internal/ports"
)

// SizingTier maps a minimum signal score onto a leverage and margin
// allocation (spec §4.5 rule 5). Tiers are evaluated highest-score-first;
// the first tier whose MinScore the signal clears wins.
type SizingTier struct {
	MinScore   float64
	Leverage   int
	MarginUSDT decimal.Decimal
}

// Config holds RiskGate's tunables, loaded once from the hot-reloadable
// strategy/risk configuration file.
type Config struct {
	// DrawdownLimit is the fraction of peak balance that trips the
	// circuit breaker (default 0.10, spec §4.5 rule 1).
	DrawdownLimit decimal.Decimal
	// DailyLossLimit is the fraction of starting balance that halts
	// opens until local midnight (default 0.03, spec §4.5 rule 2).
	DailyLossLimit decimal.Decimal
	// SLCooldown is the TTL applied to a symbol after a realized SL
	// (default 2h, spec §4.5 "Cooldown is set on realized SL only").
	SLCooldown time.Duration
	// MaxLeverage is the hard clamp applied after tiered sizing
	// (default 12×, spec §4.5 rule 6).
	MaxLeverage int
	// Tiers is sorted descending by MinScore internally; at least one
	// tier (typically MinScore 0) should exist as a catch-all.
	Tiers []SizingTier
	// Location is the timezone daily-loss rollover is computed in.
	Location *time.Location
}

func (c Config) withDefaults() Config {
	if c.DrawdownLimit.IsZero() {
		c.DrawdownLimit = decimal.NewFromFloat(0.10)
	}
	if c.DailyLossLimit.IsZero() {
		c.DailyLossLimit = decimal.NewFromFloat(0.03)
	}
	if c.SLCooldown == 0 {
		c.SLCooldown = 2 * time.Hour
	}
	if c.MaxLeverage == 0 {
		c.MaxLeverage = 12
	}
	if c.Location == nil {
		c.Location = time.Local
	}
	if len(c.Tiers) == 0 {
		c.Tiers = []SizingTier{{MinScore: 0, Leverage: 3, MarginUSDT: decimal.NewFromInt(50)}}
	}
	return c
}

// Decision is the outcome of Evaluate: either an approved sizing plan
// or a reason for denial.
type Decision struct {
	Approved bool
	Reason   error
	Leverage int
	Qty      decimal.Decimal
}

// EntryRequest is everything RiskGate needs to size and gate an open.
type EntryRequest struct {
	ProfileID  int64
	Symbol     string
	EntryPrice decimal.Decimal
	Score      float64
	MinNotional decimal.Decimal
}

// Gate is the centralized entry approval system (spec §4.5).
type Gate struct {
	cfg        Config
	metrics    ports.RiskMetricsRepository
	cooldowns  ports.CooldownRepository
	positions  ports.PositionStore
	logger     ports.Logger
	notifier   ports.Notifier
}

// NewGate builds a RiskGate backed by the store implementations that
// persist its state across restarts (spec §4.5: cooldowns and
// risk_metrics are both durable tables).
func NewGate(cfg Config, metrics ports.RiskMetricsRepository, cooldowns ports.CooldownRepository, positions ports.PositionStore, logger ports.Logger, notifier ports.Notifier) *Gate {
	sorted := append([]SizingTier(nil), cfg.withDefaults().Tiers...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].MinScore > sorted[j].MinScore })
	cfg = cfg.withDefaults()
	cfg.Tiers = sorted
	return &Gate{cfg: cfg, metrics: metrics, cooldowns: cooldowns, positions: positions, logger: logger, notifier: notifier}
}

// Evaluate runs every rule in spec order and returns a sizing decision.
// Trader.open must not place an order unless Approved is true.
func (g *Gate) Evaluate(ctx context.Context, req EntryRequest, currentBalance decimal.Decimal) Decision {
	rm, err := g.metrics.Get(ctx, req.ProfileID)
	if err != nil {
		return Decision{Reason: fmt.Errorf("risk gate: load metrics: %w", err)}
	}
	if rm == nil {
		rm = &domain.RiskMetrics{ProfileID: req.ProfileID, PeakBalance: currentBalance, StartingBalance: currentBalance, DailyResetDate: today(g.cfg.Location)}
	}
	rm = g.rolloverIfNeeded(rm, currentBalance)

	// 1. Circuit breaker.
	if rm.PeakBalance.IsPositive() && rm.Drawdown(currentBalance).GreaterThanOrEqual(g.cfg.DrawdownLimit) {
		g.alert(ctx, fmt.Sprintf("circuit breaker tripped for profile %d: drawdown %.2f%%", req.ProfileID, rm.Drawdown(currentBalance).Mul(decimal.NewFromInt(100)).InexactFloat64()))
		return Decision{Reason: ports.ErrCircuitBreakerTripped}
	}

	// 2. Daily loss limit.
	if rm.DailyLossFraction().GreaterThanOrEqual(g.cfg.DailyLossLimit) {
		return Decision{Reason: ports.ErrDailyLossLimitHit}
	}

	// 3. Cooldown.
	cd, err := g.cooldowns.Get(ctx, req.ProfileID, req.Symbol)
	if err != nil {
		return Decision{Reason: fmt.Errorf("risk gate: load cooldown: %w", err)}
	}
	if cd != nil && cd.Active(time.Now()) {
		return Decision{Reason: ports.ErrSymbolCooldown}
	}

	// 4. Per-symbol guard: one active Position per symbol per profile,
	// across every timeframe.
	active, err := g.positions.ListActive(ctx, req.ProfileID)
	if err != nil {
		return Decision{Reason: fmt.Errorf("risk gate: list active positions: %w", err)}
	}
	for _, p := range active {
		if p.Symbol == req.Symbol {
			return Decision{Reason: ports.ErrSymbolGuard}
		}
	}

	// 5. Tiered sizing.
	tier, ok := g.pickTier(req.Score)
	if !ok {
		return Decision{Reason: fmt.Errorf("risk gate: %w: no sizing tier matches score %.2f", ports.ErrPositionSizeRejected, req.Score)}
	}
	if !req.EntryPrice.IsPositive() {
		return Decision{Reason: fmt.Errorf("risk gate: %w: non-positive entry price", ports.ErrPositionSizeRejected)}
	}
	qty := tier.MarginUSDT.Mul(decimal.NewFromInt(int64(tier.Leverage))).Div(req.EntryPrice)
	if !qty.IsPositive() {
		return Decision{Reason: fmt.Errorf("risk gate: %w: computed qty <= 0", ports.ErrPositionSizeRejected)}
	}
	notional := qty.Mul(req.EntryPrice)
	if req.MinNotional.IsPositive() && notional.LessThan(req.MinNotional) {
		return Decision{Reason: fmt.Errorf("risk gate: %w: notional %s below venue minimum %s", ports.ErrPositionSizeRejected, notional, req.MinNotional)}
	}

	// 6. Leverage clamp.
	leverage := tier.Leverage
	if leverage > g.cfg.MaxLeverage {
		leverage = g.cfg.MaxLeverage
	}

	return Decision{Approved: true, Leverage: leverage, Qty: qty}
}

func (g *Gate) pickTier(score float64) (SizingTier, bool) {
	for _, t := range g.cfg.Tiers {
		if score >= t.MinScore {
			return t, true
		}
	}
	return SizingTier{}, false
}

// rolloverIfNeeded resets the daily-loss counter at local midnight and
// advances the peak balance. It only changes rm in memory; nothing here
// saves it.
func (g *Gate) rolloverIfNeeded(rm *domain.RiskMetrics, currentBalance decimal.Decimal) *domain.RiskMetrics {
	day := today(g.cfg.Location)
	if rm.DailyResetDate != day {
		rm.DailyResetDate = day
		rm.DailyLoss = decimal.Zero
		rm.StartingBalance = currentBalance
	}
	if currentBalance.GreaterThan(rm.PeakBalance) {
		rm.PeakBalance = currentBalance
	}
	rm.UpdatedAt = time.Now()
	return rm
}

// RecordClose updates RiskMetrics and, for a realized SL only, sets the
// per-symbol cooldown (spec §4.5: "Cooldown is set on realized SL
// only"). originalSLHit must be true only when the close was a fill at
// the SL price as first computed at entry — a profit-locked or
// emergency-tightened SL hit must not re-arm the cooldown (SPEC_FULL.md
// §D, Open Question resolution 1).
func (g *Gate) RecordClose(ctx context.Context, profileID int64, symbol string, pnl decimal.Decimal, originalSLHit bool, currentBalance decimal.Decimal) error {
	rm, err := g.metrics.Get(ctx, profileID)
	if err != nil {
		return fmt.Errorf("risk gate: record close: load metrics: %w", err)
	}
	if rm == nil {
		rm = &domain.RiskMetrics{ProfileID: profileID, PeakBalance: currentBalance, StartingBalance: currentBalance, DailyResetDate: today(g.cfg.Location)}
	}
	rm = g.rolloverIfNeeded(rm, currentBalance)
	if pnl.IsNegative() {
		rm.DailyLoss = rm.DailyLoss.Add(pnl.Abs())
	}
	if err := g.metrics.Save(ctx, rm); err != nil {
		return fmt.Errorf("risk gate: record close: save metrics: %w", err)
	}

	if originalSLHit {
		cd := &domain.Cooldown{ProfileID: profileID, Symbol: symbol, ExpiresAt: time.Now().Add(g.cfg.SLCooldown)}
		if err := g.cooldowns.Set(ctx, cd); err != nil {
			return fmt.Errorf("risk gate: record close: set cooldown: %w", err)
		}
	}
	return nil
}

// ResumeAfterCircuitBreaker re-baselines the peak balance to the
// current balance, clearing a tripped circuit breaker so new opens are
// evaluated against a fresh drawdown baseline (spec §6.5
// resume_after_circuit_breaker). An operator action, not something the
// Gate triggers on its own.
func (g *Gate) ResumeAfterCircuitBreaker(ctx context.Context, profileID int64, currentBalance decimal.Decimal) error {
	rm, err := g.metrics.Get(ctx, profileID)
	if err != nil {
		return fmt.Errorf("risk gate: resume: load metrics: %w", err)
	}
	if rm == nil {
		rm = &domain.RiskMetrics{ProfileID: profileID, DailyResetDate: today(g.cfg.Location)}
	}
	rm.PeakBalance = currentBalance
	rm.UpdatedAt = time.Now()
	if err := g.metrics.Save(ctx, rm); err != nil {
		return fmt.Errorf("risk gate: resume: save metrics: %w", err)
	}
	g.logger.Info(ctx, "risk gate: circuit breaker resumed by operator", map[string]interface{}{"profileID": profileID, "newPeakBalance": currentBalance.String()})
	return nil
}

func (g *Gate) alert(ctx context.Context, msg string) {
	g.logger.Warn(ctx, msg)
	if g.notifier != nil {
		g.notifier.Notify(ctx, msg)
	}
}

func today(loc *time.Location) string {
	return time.Now().In(loc).Format("2006-01-02")
}
