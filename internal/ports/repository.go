package ports

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"cryptoMegaBot/internal/domain"
)

// PositionStore is the transactional store keyed by (profile_id,
// pos_key) (spec §4.2). Implementations must guarantee crash-safety:
// writes are durable before returning success, and partial writes
// cannot leave two active rows for one key.
type PositionStore interface {
	// UpsertActive inserts or updates pos. Fails with
	// ErrConflictActiveExists if another ACTIVE|PENDING row for the
	// same (ProfileID, PosKey) exists and pos.ID doesn't match it.
	UpsertActive(ctx context.Context, pos *domain.Position) error

	// GetActive returns the ACTIVE|PENDING|WAITING_SYNC row for the key,
	// or nil, nil if none exists.
	GetActive(ctx context.Context, profileID int64, posKey string) (*domain.Position, error)

	// ListActive returns every open row for one profile.
	ListActive(ctx context.Context, profileID int64) ([]*domain.Position, error)

	// ListAllActive returns every open row across all profiles, used by
	// the global symbol guard and the Scheduler's startup sync.
	ListAllActive(ctx context.Context) ([]*domain.Position, error)

	// Finalize atomically transitions pos to CLOSED or CANCELLED
	// (status determines which; CANCELLED positions have no
	// trade) and appends trade to the ledger when non-nil.
	Finalize(ctx context.Context, posID int64, status domain.PositionStatus, trade *domain.Trade) error

	// MarkWaitingSync transitions an ACTIVE position into WAITING_SYNC.
	MarkWaitingSync(ctx context.Context, posID int64, reason domain.WaitingSyncReason) error

	// ClearWaitingSync returns a WAITING_SYNC position to ACTIVE (the
	// "false alarm" path). A position whose closing fill is eventually
	// confirmed is finalized as CLOSED with Finalize instead.
	ClearWaitingSync(ctx context.Context, posID int64) error

	// FindByID retrieves any position (any status) by its row id.
	FindByID(ctx context.Context, id int64) (*domain.Position, error)
}

// TradeLedger is the append-only, write-once ledger of finalized trades.
type TradeLedger interface {
	ListRecent(ctx context.Context, profileID int64, symbol string, limit int) ([]*domain.Trade, error)
	CountToday(ctx context.Context, profileID int64, symbol string, loc *time.Location) (int, error)
	SumPNL(ctx context.Context, profileID int64) (decimal.Decimal, error)
}

// ProfileRepository persists and retrieves Profile records.
type ProfileRepository interface {
	ListActive(ctx context.Context) ([]*domain.Profile, error)
	Get(ctx context.Context, id int64) (*domain.Profile, error)
	Disable(ctx context.Context, id int64, reason string) error
}

// CooldownRepository persists the per-symbol post-SL cooldown map.
type CooldownRepository interface {
	Get(ctx context.Context, profileID int64, symbol string) (*domain.Cooldown, error)
	Set(ctx context.Context, cd *domain.Cooldown) error
}

// RiskMetricsRepository persists the per-profile drawdown/daily-loss
// ledger read by RiskGate.
type RiskMetricsRepository interface {
	Get(ctx context.Context, profileID int64) (*domain.RiskMetrics, error)
	Save(ctx context.Context, rm *domain.RiskMetrics) error
}
