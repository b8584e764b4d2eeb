// Package scheduler fans a set of profiles out into concurrent slot
// loops, per-profile reconcilers, and orphan-reaper timers, and owns
// graceful shutdown (spec §4.6/§5). Grounded on the teacher's
// TradingService.Start goroutine-per-concern shape in
// internal/app/service.go, generalized from "one symbol's WebSocket
// stream" to "N profiles × M slots, each independently cancellable".
package scheduler

import (
	"context"
	"sync"
	"time"

	"cryptoMegaBot/internal/domain"
	"cryptoMegaBot/internal/ports"
	"cryptoMegaBot/internal/reconciler"
	"cryptoMegaBot/internal/slot"
	"cryptoMegaBot/internal/trader"
)

// Config tunes the orphan reaper cadence and shutdown deadline.
type Config struct {
	ReaperInterval   time.Duration // default 5m
	ShutdownDeadline time.Duration // default 30s
}

func (c Config) withDefaults() Config {
	if c.ReaperInterval == 0 {
		c.ReaperInterval = 5 * time.Minute
	}
	if c.ShutdownDeadline == 0 {
		c.ShutdownDeadline = 30 * time.Second
	}
	return c
}

// ProfileUnit bundles everything one profile needs to run: its
// exchange adapter, its Trader/Reconciler instances (already wired
// against that adapter and a shared PositionStore), and the signal
// source driving its slots.
type ProfileUnit struct {
	Profile    *domain.Profile
	Exchange   ports.ExchangeAdapter
	Positions  ports.PositionStore
	Trader     *trader.Trader
	Reconciler *reconciler.Reconciler
	Signals    ports.SignalSource
	SlotConfig slot.Config
}

// Scheduler owns the lifecycle of every profile's background tasks.
type Scheduler struct {
	cfg    Config
	units  []ProfileUnit
	logger ports.Logger

	wg     sync.WaitGroup
	cancel context.CancelFunc
}

// New builds a Scheduler over the given profile units.
func New(cfg Config, units []ProfileUnit, logger ports.Logger) *Scheduler {
	return &Scheduler{cfg: cfg.withDefaults(), units: units, logger: logger}
}

// Run starts every profile's slot loops, reconciler, and orphan reaper,
// and blocks until ctx is cancelled. On cancellation it waits (bounded
// by ShutdownDeadline) for every task to observe the cancellation and
// return before Run itself returns.
func (s *Scheduler) Run(ctx context.Context) {
	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	defer cancel()

	for _, unit := range s.units {
		s.startProfile(runCtx, unit)
	}

	<-runCtx.Done()
	s.awaitShutdown()
}

// Shutdown cancels every running task and blocks until they finish or
// ShutdownDeadline elapses, whichever comes first.
func (s *Scheduler) Shutdown() {
	if s.cancel != nil {
		s.cancel()
	}
	s.awaitShutdown()
}

func (s *Scheduler) awaitShutdown() {
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.logger.Info(context.Background(), "scheduler: all tasks exited cleanly", nil)
	case <-time.After(s.cfg.ShutdownDeadline):
		s.logger.Warn(context.Background(), "scheduler: shutdown deadline exceeded, some tasks may still be in flight", nil)
	}
}

func (s *Scheduler) startProfile(ctx context.Context, unit ProfileUnit) {
	for _, symbol := range unit.Profile.Universe {
		for _, timeframe := range unit.Profile.Timeframes {
			l := slot.New(unit.SlotConfig, unit.Profile, symbol, timeframe, unit.Signals, unit.Positions, unit.Exchange, unit.Trader, s.logger)
			s.spawn(func() { l.Run(ctx) })
		}
	}

	if unit.Reconciler != nil {
		s.spawn(func() { unit.Reconciler.Run(ctx) })
	}

	s.spawn(func() { s.runReaper(ctx, unit) })
}

// runReaper periodically calls Trader.ReapOrphans for one profile
// (spec P8): orders resting on the exchange that match no known
// position and whose symbol has left the profile's universe.
func (s *Scheduler) runReaper(ctx context.Context, unit ProfileUnit) {
	ticker := time.NewTicker(s.cfg.ReaperInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := unit.Trader.ReapOrphans(ctx); err != nil {
				s.logger.Error(ctx, err, "scheduler: orphan reap failed", map[string]interface{}{"profile": unit.Profile.ID})
			}
		}
	}
}

func (s *Scheduler) spawn(fn func()) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		fn()
	}()
}
