package ports

import "errors"

// Standard application-level errors. Adapters wrap underlying
// infrastructure errors with these using %w so callers can match with
// errors.Is/errors.As regardless of venue.
var (
	// General
	ErrUnknown            = errors.New("unknown error occurred")
	ErrInvalidRequest     = errors.New("invalid request parameters or format")
	ErrNotFound           = errors.New("resource not found")
	ErrTimeout            = errors.New("operation timed out")
	ErrContextCanceled    = errors.New("operation canceled via context")
	ErrConfigurationError = errors.New("invalid or missing configuration")

	// ExchangeAdapter error taxonomy (spec §4.1)
	ErrTransientNetwork     = errors.New("transient network error")
	ErrRateLimited          = errors.New("API rate limit exceeded")
	ErrVenueDown            = errors.New("exchange venue unavailable")
	ErrAuthenticationFailed = errors.New("exchange authentication failed (check API keys)")
	ErrInsufficientFunds    = errors.New("insufficient funds for operation")
	ErrOrderNotFound        = errors.New("order not found on the exchange")
	ErrPositionNotFound     = errors.New("position not found on the exchange")
	ErrOrderPlacementFailed = errors.New("failed to place order")
	ErrOrderCancelFailed    = errors.New("failed to cancel order")
	ErrInvalidParam         = errors.New("invalid parameter rejected by venue")

	// PositionStore
	ErrConflictActiveExists = errors.New("an ACTIVE or PENDING position already exists for this key")
	ErrDuplicateEntry       = errors.New("database record already exists")
	ErrDBConnection         = errors.New("database connection error")
	ErrQueryFailed          = errors.New("database query failed")
	ErrUpdateFailed         = errors.New("database update failed")

	// RiskGate
	ErrCircuitBreakerTripped = errors.New("circuit breaker tripped: drawdown limit exceeded")
	ErrDailyLossLimitHit     = errors.New("daily loss limit reached")
	ErrSymbolCooldown        = errors.New("symbol is in post-SL cooldown")
	ErrSymbolGuard           = errors.New("an active position already exists for this symbol")
	ErrPositionSizeRejected  = errors.New("computed position size or notional below venue minimum")
	ErrLeverageExceedsCap    = errors.New("requested leverage exceeds configured maximum")
)
