package ports

import (
	"context"

	"cryptoMegaBot/internal/domain"
)

// SignalSource is the external strategy collaborator's interface into
// the core (spec §6.1, out of core scope beyond this contract): per
// tick, for each slot, it produces a SignalSnapshot.
type SignalSource interface {
	// Latest returns the most recent signal for (symbol, timeframe).
	// Implementations must not block on network I/O beyond what the
	// caller's context allows.
	Latest(ctx context.Context, symbol, timeframe string) (domain.SignalSnapshot, error)

	// RequiredDataPoints reports how many klines of history the source
	// needs loaded before it can produce a meaningful signal.
	RequiredDataPoints() int
}
