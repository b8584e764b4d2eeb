// Package reconciler implements the Reconciler (spec §4.4): the
// component that keeps the PositionStore honest against what the venue
// actually reports. It runs a fast deep-sync on a short interval and a
// full scan (including the Adoption Protocol) on a longer one, grounded
// on the local-vs-exchange comparison loop in
// other_examples/.../trader-position_sync.go (PositionSyncManager),
// generalized from that example's single-exchange-map comparison into
// the spec's Phantom Closure and Adoption protocols.
package reconciler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"cryptoMegaBot/internal/domain"
	"cryptoMegaBot/internal/ports"
	"cryptoMegaBot/internal/risk"
)

// SymbolLocker exposes a per-symbol mutex, shared with the Trader, so
// the Reconciler serializes its own Position mutations against it
// (spec §5: "Reconciler acquires the same per-symbol mutex before
// mutating any Position").
type SymbolLocker interface {
	SymbolLock(symbol string) *sync.Mutex
}

// localLocker is the SymbolLocker fallback used when no Trader (or
// equivalent) is available to share locks with — standalone runs and
// tests construct a Reconciler with nil and get this instead.
type localLocker struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func newLocalLocker() *localLocker {
	return &localLocker{locks: make(map[string]*sync.Mutex)}
}

func (l *localLocker) SymbolLock(symbol string) *sync.Mutex {
	l.mu.Lock()
	defer l.mu.Unlock()
	m, ok := l.locks[symbol]
	if !ok {
		m = &sync.Mutex{}
		l.locks[symbol] = m
	}
	return m
}

// Config tunes sync cadence and the Phantom Closure retry policy.
type Config struct {
	FastInterval      time.Duration // default 15s: cheap position-count comparison
	FullScanInterval  time.Duration // default 10m: full scan + Adoption Protocol
	PhantomRetryDelay time.Duration // default 500ms between fetch_my_trades retries
	PhantomMaxRetries int           // default 3
	DefaultSLPercent  decimal.Decimal
	DefaultTPPercent  decimal.Decimal
}

func (c Config) withDefaults() Config {
	if c.FastInterval == 0 {
		c.FastInterval = 15 * time.Second
	}
	if c.FullScanInterval == 0 {
		c.FullScanInterval = 10 * time.Minute
	}
	if c.PhantomRetryDelay == 0 {
		c.PhantomRetryDelay = 500 * time.Millisecond
	}
	if c.PhantomMaxRetries == 0 {
		c.PhantomMaxRetries = 3
	}
	if c.DefaultSLPercent.IsZero() {
		c.DefaultSLPercent = decimal.NewFromFloat(0.02)
	}
	if c.DefaultTPPercent.IsZero() {
		c.DefaultTPPercent = decimal.NewFromFloat(0.04)
	}
	return c
}

// Reconciler runs deep-sync and full-scan passes for one profile.
type Reconciler struct {
	cfg       Config
	profile   *domain.Profile
	exchange  ports.ExchangeAdapter
	positions ports.PositionStore
	gate      *risk.Gate
	locker    SymbolLocker
	logger    ports.Logger
	notifier  ports.Notifier

	lastFullScan time.Time
}

// New builds a Reconciler for one profile's venue. locker is typically
// the profile's *trader.Trader, so the Reconciler's Position mutations
// serialize against the Trader's own per-symbol locking; passing nil
// falls back to a private lock map (standalone use, tests).
func New(cfg Config, profile *domain.Profile, exchange ports.ExchangeAdapter, positions ports.PositionStore, gate *risk.Gate, locker SymbolLocker, logger ports.Logger, notifier ports.Notifier) *Reconciler {
	if locker == nil {
		locker = newLocalLocker()
	}
	return &Reconciler{cfg: cfg.withDefaults(), profile: profile, exchange: exchange, positions: positions, gate: gate, locker: locker, logger: logger, notifier: notifier}
}

// Run drives the fast/full-scan cadence until ctx is cancelled.
func (r *Reconciler) Run(ctx context.Context) {
	ticker := time.NewTicker(r.cfg.FastInterval)
	defer ticker.Stop()

	r.Tick(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.Tick(ctx)
		}
	}
}

// Tick runs one fast deep-sync pass, and a full scan if FullScanInterval
// has elapsed since the last one.
func (r *Reconciler) Tick(ctx context.Context) {
	if err := r.deepSync(ctx); err != nil {
		r.logger.Error(ctx, err, "reconciler: deep sync failed", map[string]interface{}{"profile": r.profile.ID})
	}
	if time.Since(r.lastFullScan) < r.cfg.FullScanInterval {
		return
	}
	r.lastFullScan = time.Now()
	if err := r.fullScan(ctx); err != nil {
		r.logger.Error(ctx, err, "reconciler: full scan failed", map[string]interface{}{"profile": r.profile.ID})
	}
}

// deepSync compares every locally ACTIVE position against the venue's
// reported positions; anything missing on the venue side enters the
// Phantom Closure Protocol (spec §4.4).
func (r *Reconciler) deepSync(ctx context.Context) error {
	local, err := r.positions.ListActive(ctx, r.profile.ID)
	if err != nil {
		return fmt.Errorf("list active: %w", err)
	}
	if len(local) == 0 {
		return nil
	}

	exchangePositions, err := r.exchange.FetchPositions(ctx)
	if err != nil {
		return fmt.Errorf("fetch exchange positions: %w", err)
	}
	exchangeSet := make(map[string]ports.ExchangePosition, len(exchangePositions))
	for _, p := range exchangePositions {
		if p.Qty.IsZero() {
			continue
		}
		exchangeSet[p.Symbol+"|"+string(p.Side)] = p
	}

	for _, pos := range local {
		if pos.Status != domain.StatusActive {
			continue // PENDING positions are the Trader's own monitor's job
		}
		if _, ok := exchangeSet[pos.Symbol+"|"+string(pos.Side)]; ok {
			continue
		}
		r.beginPhantomClosure(ctx, pos)
	}
	return nil
}

// beginPhantomClosure implements the Phantom Closure Protocol: sleep
// 500ms, then retry fetch_my_trades up to PhantomMaxRetries times
// looking for the authoritative closing fill. If found, finalize the
// Trade from it (never from price inference alone — spec P5). If not
// found after all retries, mark WAITING_SYNC rather than guessing.
func (r *Reconciler) beginPhantomClosure(ctx context.Context, pos *domain.Position) {
	select {
	case <-time.After(r.cfg.PhantomRetryDelay):
	case <-ctx.Done():
		return
	}

	for attempt := 1; attempt <= r.cfg.PhantomMaxRetries; attempt++ {
		fills, err := r.exchange.FetchMyTrades(ctx, pos.Symbol, pos.EntryTime)
		if err != nil {
			r.logger.Warn(ctx, "reconciler: phantom closure: fetch fills failed", map[string]interface{}{"positionID": pos.ID, "attempt": attempt, "error": err.Error()})
		} else if fill, ok := matchClosingFill(fills, pos); ok {
			r.finalizeFromFill(ctx, pos, fill)
			return
		}

		if attempt < r.cfg.PhantomMaxRetries {
			select {
			case <-time.After(r.cfg.PhantomRetryDelay):
			case <-ctx.Done():
				return
			}
		}
	}

	r.logger.Warn(ctx, "reconciler: phantom closure unresolved, marking WAITING_SYNC", map[string]interface{}{"positionID": pos.ID, "symbol": pos.Symbol})
	lock := r.locker.SymbolLock(pos.Symbol)
	lock.Lock()
	err := r.positions.MarkWaitingSync(ctx, pos.ID, domain.WaitingSyncPhantomClosure)
	lock.Unlock()
	if err != nil {
		r.logger.Error(ctx, err, "reconciler: failed to mark WAITING_SYNC", map[string]interface{}{"positionID": pos.ID})
	}
	if r.notifier != nil {
		r.notifier.Notify(ctx, fmt.Sprintf("position %d (%s) vanished from the exchange and no closing fill was found after %d retries; marked WAITING_SYNC", pos.ID, pos.Symbol, r.cfg.PhantomMaxRetries))
	}
}

// matchClosingFill finds the fill that closes pos: the first fill on the
// opposite side, same symbol, timestamped at or after entry. The fill's
// quantity is not compared with the position's size.
func matchClosingFill(fills []ports.Fill, pos *domain.Position) (ports.Fill, bool) {
	closeSide := pos.Side.Opposite()
	for _, f := range fills {
		if f.Symbol != pos.Symbol || f.Side != closeSide {
			continue
		}
		if f.Time.Before(pos.EntryTime) {
			continue
		}
		return f, true
	}
	return ports.Fill{}, false
}

// phantomExitTolerance is how close a fill price must be to a stored
// SL/TP trigger price to be classified as that trigger firing, rather
// than a manual close that happened to land near it (SPEC_FULL.md §D,
// Open Question resolution 2: ±0.15%).
var phantomExitTolerance = decimal.NewFromFloat(0.0015)

func near(price, target decimal.Decimal) bool {
	if !target.IsPositive() {
		return false
	}
	diff := price.Sub(target).Abs().Div(target)
	return diff.LessThanOrEqual(phantomExitTolerance)
}

func (r *Reconciler) finalizeFromFill(ctx context.Context, pos *domain.Position, fill ports.Fill) {
	reason := domain.ExitManual
	switch {
	case near(fill.Price, pos.SLPrice):
		reason = domain.ExitStopLoss
	case near(fill.Price, pos.TPPrice):
		reason = domain.ExitTakeProfit
	}
	if pos.IsAdopted() {
		reason = domain.ExitAdoptedExit
	}

	// Only a fill at the SL price as first computed at entry re-arms the
	// cooldown; a profit-locked or emergency-tightened SL relocation
	// must not (SPEC_FULL.md §D, Open Question resolution 1).
	originalSLHit := reason == domain.ExitStopLoss && !pos.ProfitLocked && !pos.EmergencyTightened && near(fill.Price, pos.OriginalSLPrice)

	pnl := fill.RealizedPNL
	trade := &domain.Trade{
		ProfileID: pos.ProfileID, PosKey: pos.PosKey, Symbol: pos.Symbol, Side: pos.Side,
		EntryPrice: pos.EntryPrice, ExitPrice: fill.Price, Qty: pos.Qty, PNL: pnl, Fees: fill.Fee,
		ExitReason: reason, EntryTime: pos.EntryTime, ExitTime: fill.Time,
		OriginalSLHit: originalSLHit, FeatureSnapshot: pos.FeatureSnapshot,
	}
	lock := r.locker.SymbolLock(pos.Symbol)
	lock.Lock()
	err := r.positions.Finalize(ctx, pos.ID, domain.StatusClosed, trade)
	lock.Unlock()
	if err != nil {
		r.logger.Error(ctx, err, "reconciler: failed to finalize phantom-closed position", map[string]interface{}{"positionID": pos.ID})
		return
	}

	if r.gate != nil {
		if balance, err := r.exchange.AccountBalance(ctx, "USDT"); err == nil {
			_ = r.gate.RecordClose(ctx, pos.ProfileID, pos.Symbol, pnl, originalSLHit, balance)
		}
	}
	r.logger.Info(ctx, "reconciler: phantom closure resolved from authoritative fill", map[string]interface{}{"positionID": pos.ID, "reason": reason, "exitPrice": fill.Price.String()})
}
