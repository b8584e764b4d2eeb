// Package slot implements the SlotLoop (spec §4.6): one cooperative
// task per (profile, symbol, timeframe), polling its SignalSource on a
// heartbeat and driving Trader.Open/TickSLTP/Close. Grounded on the
// teacher's TradingService.Start/handleKlineEvent loop shape (ticker
// instead of a WebSocket event per slot, since one profile now runs
// many concurrent slots rather than one symbol's event stream).
package slot

import (
	"context"
	"fmt"
	"time"

	"cryptoMegaBot/internal/domain"
	"cryptoMegaBot/internal/ports"
	"cryptoMegaBot/internal/trader"
)

// Config tunes one slot's heartbeat and entry/exit thresholds.
type Config struct {
	Heartbeat           time.Duration // default 5s
	EntryScoreThreshold float64
	// ExitScoreThreshold gates the signal-flip exit (spec §4.3.4)
	// independently of entry; falls back to EntryScoreThreshold when
	// zero so existing single-threshold profiles keep behaving as before.
	ExitScoreThreshold float64
}

func (c Config) withDefaults() Config {
	if c.Heartbeat == 0 {
		c.Heartbeat = 5 * time.Second
	}
	if c.ExitScoreThreshold == 0 {
		c.ExitScoreThreshold = c.EntryScoreThreshold
	}
	return c
}

// Loop drives one (profile, symbol, timeframe) slot.
type Loop struct {
	cfg       Config
	profile   *domain.Profile
	symbol    string
	timeframe string
	signals   ports.SignalSource
	positions ports.PositionStore
	exchange  ports.ExchangeAdapter
	trader    *trader.Trader
	logger    ports.Logger
}

// New builds a slot Loop.
func New(cfg Config, profile *domain.Profile, symbol, timeframe string, signals ports.SignalSource, positions ports.PositionStore, exchange ports.ExchangeAdapter, tr *trader.Trader, logger ports.Logger) *Loop {
	return &Loop{cfg: cfg.withDefaults(), profile: profile, symbol: symbol, timeframe: timeframe, signals: signals, positions: positions, exchange: exchange, trader: tr, logger: logger}
}

// Run executes the slot's heartbeat until ctx is cancelled.
func (l *Loop) Run(ctx context.Context) {
	ticker := time.NewTicker(l.cfg.Heartbeat)
	defer ticker.Stop()

	l.tick(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			l.tick(ctx)
		}
	}
}

// tick reads the latest signal and drives open/monitor/lifecycle steps
// for this slot's key. Errors are logged, never fatal to the loop —
// a single bad tick must not kill the slot (spec §7: transient errors
// are retried on the next natural tick).
func (l *Loop) tick(ctx context.Context) {
	key := fmt.Sprintf("P%d_%s_%s_%s", l.profile.ID, l.profile.Exchange, l.symbol, l.timeframe)

	pos, err := l.positions.GetActive(ctx, l.profile.ID, key)
	if err != nil {
		l.logger.Error(ctx, err, "slot: failed to load active position", map[string]interface{}{"symbol": l.symbol, "timeframe": l.timeframe})
		return
	}

	signal, err := l.signals.Latest(ctx, l.symbol, l.timeframe)
	if err != nil {
		l.logger.Error(ctx, err, "slot: failed to read signal", map[string]interface{}{"symbol": l.symbol, "timeframe": l.timeframe})
		return
	}

	switch {
	case pos == nil:
		if _, err := l.trader.Open(ctx, l.symbol, l.timeframe, signal, l.cfg.EntryScoreThreshold); err != nil {
			l.logger.Error(ctx, err, "slot: open failed", map[string]interface{}{"symbol": l.symbol})
		}
	case pos.Status == domain.StatusPending:
		if err := l.trader.MonitorPending(ctx, pos, signal); err != nil {
			l.logger.Error(ctx, err, "slot: monitor pending failed", map[string]interface{}{"positionID": pos.ID})
		}
	case pos.Status == domain.StatusActive:
		l.tickActive(ctx, pos, signal)
	}
}

func (l *Loop) tickActive(ctx context.Context, pos *domain.Position, signal domain.SignalSnapshot) {
	// Signal-flip exit: an opposite, actionable signal closes the
	// position immediately rather than waiting on SL/TP (spec §4.3.4).
	if signal.IsActionable(l.cfg.ExitScoreThreshold) && signal.OrderSide() != pos.Side {
		if err := l.trader.Close(ctx, pos, domain.ExitSignalFlip); err != nil {
			l.logger.Error(ctx, err, "slot: signal-flip close failed", map[string]interface{}{"positionID": pos.ID})
			return
		}
		// Reversal/starter entry (spec §4.3.5): re-enter on the new side
		// at reduced leverage/notional with a tightened SL, rather than
		// waiting for the next full-size signal.
		if _, err := l.trader.OpenStarter(ctx, l.symbol, l.timeframe, signal, l.cfg.EntryScoreThreshold); err != nil {
			l.logger.Error(ctx, err, "slot: starter open failed", map[string]interface{}{"symbol": l.symbol})
		}
		return
	}

	if err := l.trader.TightenOnSignalDecay(ctx, pos, signal.Confidence); err != nil {
		l.logger.Error(ctx, err, "slot: emergency tighten failed", map[string]interface{}{"positionID": pos.ID})
	}

	markPrice, err := l.exchange.MarkPrice(ctx, pos.Symbol)
	if err != nil {
		l.logger.Error(ctx, err, "slot: mark price read failed", map[string]interface{}{"positionID": pos.ID})
		return
	}
	if err := l.trader.TickSLTP(ctx, pos, markPrice); err != nil {
		l.logger.Error(ctx, err, "slot: tick SL/TP failed", map[string]interface{}{"positionID": pos.ID})
	}
}
