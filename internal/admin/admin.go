// Package admin implements the operator interface (spec §6.5): a
// plain Go interface that cmd/adminctl builds and calls in its own
// process, against the engine's database and exchange credentials,
// rather than through a network transport to the engine. Grounded on the teacher's own service-layer shape
// (internal/app/service.go), generalized from "one TradingService"
// into "a control surface over N profile handles".
package admin

import (
	"context"
	"fmt"

	"cryptoMegaBot/config"
	"cryptoMegaBot/internal/domain"
	"cryptoMegaBot/internal/ports"
	"cryptoMegaBot/internal/risk"
	"cryptoMegaBot/internal/trader"
)

// API is the operator-facing surface named in spec §6.5.
type API interface {
	ListPositions(ctx context.Context, profileID *int64) ([]*domain.Position, error)
	ForceClose(ctx context.Context, posKey string) error
	ResumeAfterCircuitBreaker(ctx context.Context, profileID int64) error
	ReloadConfig(ctx context.Context) error
	Shutdown(ctx context.Context) error
}

// ProfileHandle bundles the per-profile components ForceClose and
// ResumeAfterCircuitBreaker need to act on a single profile.
type ProfileHandle struct {
	Trader   *trader.Trader
	Gate     *risk.Gate
	Exchange ports.ExchangeAdapter
}

// Service implements API over the engine's live profile handles.
type Service struct {
	positions ports.PositionStore
	profiles  map[int64]ProfileHandle
	strategy  *config.StrategyStore
	cancel    context.CancelFunc
	logger    ports.Logger
}

// New builds a Service. cancel is invoked by Shutdown to stop the
// Scheduler's run context.
func New(positions ports.PositionStore, profiles map[int64]ProfileHandle, strategy *config.StrategyStore, cancel context.CancelFunc, logger ports.Logger) *Service {
	return &Service{positions: positions, profiles: profiles, strategy: strategy, cancel: cancel, logger: logger}
}

// ListPositions returns every open position, optionally scoped to one
// profile.
func (s *Service) ListPositions(ctx context.Context, profileID *int64) ([]*domain.Position, error) {
	if profileID == nil {
		return s.positions.ListAllActive(ctx)
	}
	return s.positions.ListActive(ctx, *profileID)
}

// ForceClose closes the open position identified by posKey, regardless
// of which profile owns it.
func (s *Service) ForceClose(ctx context.Context, posKey string) error {
	pos, err := s.findByPosKey(ctx, posKey)
	if err != nil {
		return err
	}
	handle, ok := s.profiles[pos.ProfileID]
	if !ok {
		return fmt.Errorf("admin: no live handle for profile %d owning %q", pos.ProfileID, posKey)
	}
	return handle.Trader.Close(ctx, pos, domain.ExitManual)
}

// ResumeAfterCircuitBreaker re-baselines the named profile's circuit
// breaker against its current exchange balance.
func (s *Service) ResumeAfterCircuitBreaker(ctx context.Context, profileID int64) error {
	handle, ok := s.profiles[profileID]
	if !ok {
		return fmt.Errorf("admin: unknown profile %d", profileID)
	}
	balance, err := handle.Exchange.AccountBalance(ctx, "USDT")
	if err != nil {
		return fmt.Errorf("admin: resume: fetch balance: %w", err)
	}
	return handle.Gate.ResumeAfterCircuitBreaker(ctx, profileID, balance)
}

// ReloadConfig forces an immediate re-read of the strategy/risk
// document, outside its regular poll interval.
func (s *Service) ReloadConfig(ctx context.Context) error {
	return s.strategy.Reload()
}

// Shutdown requests cooperative engine shutdown by cancelling the run
// context the Scheduler observes.
func (s *Service) Shutdown(ctx context.Context) error {
	s.logger.Info(ctx, "admin: shutdown requested by operator")
	s.cancel()
	return nil
}

func (s *Service) findByPosKey(ctx context.Context, posKey string) (*domain.Position, error) {
	all, err := s.positions.ListAllActive(ctx)
	if err != nil {
		return nil, fmt.Errorf("admin: list positions: %w", err)
	}
	for _, p := range all {
		if p.PosKey == posKey {
			return p, nil
		}
	}
	return nil, fmt.Errorf("admin: %w: no open position with pos_key %q", ports.ErrPositionNotFound, posKey)
}
