package ports

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"cryptoMegaBot/internal/domain"
)

// OrderAck is the minimal acknowledgement returned by a placement call.
type OrderAck struct {
	OrderID       string
	ClientOrderID string
	Status        string // venue-reported status string, e.g. NEW, FILLED
	AvgPrice      decimal.Decimal
	ExecutedQty   decimal.Decimal
	Timestamp     time.Time
}

// ExchangePosition is the adapter-normalized view of a venue position.
// Sign conventions are normalized: SHORT is represented by Side, never
// by a negative Qty (spec §4.1).
type ExchangePosition struct {
	Symbol     string
	Side       domain.OrderSide
	Qty        decimal.Decimal
	EntryPrice decimal.Decimal
	Leverage   int
}

// Order is a normalized open order, merged across whatever queues the
// venue splits standard and algo/conditional orders into.
type Order struct {
	OrderID       string
	ClientOrderID string
	Symbol        string
	Side          domain.OrderSide
	Kind          domain.ReduceOnlyKind // "" for a plain entry order
	StopPrice     decimal.Decimal
	Qty           decimal.Decimal
	IsAlgo        bool
}

// Fill is one authoritative execution returned by fetch_my_trades,
// used to compute realized PnL and to attest a CLOSED Trade (spec P5:
// never record a win from price inference alone).
type Fill struct {
	TradeID   string
	OrderID   string
	Symbol    string
	Side      domain.OrderSide
	Price     decimal.Decimal
	Qty       decimal.Decimal
	Fee       decimal.Decimal
	RealizedPNL decimal.Decimal
	Time      time.Time
}

// VenueCategory records how a venue handles attached protective orders
// (spec §4.1 "venue-specific obligations").
type VenueCategory string

const (
	// VenueParentChild venues cancel attached SL/TP automatically when
	// the parent order is cancelled, and place_entry may attach them.
	VenueParentChild VenueCategory = "PARENT_CHILD"
	// VenueAlgoSeparate venues keep SL/TP in a distinct queue invisible
	// to the standard order endpoint; place_entry never attaches them.
	VenueAlgoSeparate VenueCategory = "ALGO_SEPARATE"
)

// ExchangeAdapter is the uniform capability set normalizing placement,
// cancellation, and fetching across venues (spec §4.1). Implementations
// are registered in a map keyed by exchange name (§6.2) — no inheritance
// beyond this one interface.
type ExchangeAdapter interface {
	// Category reports this venue's SL/TP attachment behavior, used by
	// the Trader to decide whether to place protective orders
	// separately after an entry ack.
	Category() VenueCategory

	// PlaceEntry places the entry order. If attachedSL/attachedTP are
	// non-nil and Category() == VenueParentChild, the adapter MUST
	// attach them atomically with the entry; otherwise it ignores them
	// and the caller places them separately via PlaceReduceOnly.
	PlaceEntry(ctx context.Context, req PlaceEntryRequest) (*OrderAck, error)

	// PlaceReduceOnly places a standalone protective (SL or TP) order.
	PlaceReduceOnly(ctx context.Context, req PlaceReduceOnlyRequest) (*OrderAck, error)

	// CancelOrder cancels an order. On CancelAuto the adapter retries
	// across queues when the first attempt reports not-found.
	CancelOrder(ctx context.Context, symbol, orderID string, hint domain.CancelHint) error

	// FetchPositions returns all open positions for this adapter's
	// credentials, normalized.
	FetchPositions(ctx context.Context) ([]ExchangePosition, error)

	// FetchOpenOrders returns open orders, merging standard and
	// algo/conditional queues into one list. symbol == "" fetches all.
	FetchOpenOrders(ctx context.Context, symbol string) ([]Order, error)

	// FetchMyTrades returns fills since the given time, used for
	// authoritative PnL after a closure is suspected.
	FetchMyTrades(ctx context.Context, symbol string, since time.Time) ([]Fill, error)

	SetLeverage(ctx context.Context, symbol string, leverage int) error
	SetMarginMode(ctx context.Context, symbol string, mode domain.MarginMode) error

	// NormalizeSymbol maps a venue-native or loosely formatted symbol
	// onto the canonical form used throughout the core.
	NormalizeSymbol(input string) string
	// ToVenueSymbol maps a canonical symbol onto this venue's native form.
	ToVenueSymbol(canonical string) string

	AmountToPrecision(symbol string, amount decimal.Decimal) decimal.Decimal
	PriceToPrecision(symbol string, price decimal.Decimal) decimal.Decimal

	// MinNotional returns the venue's minimum order notional for symbol.
	MinNotional(symbol string) decimal.Decimal

	// ServerTime returns the adapter's drift-adjusted view of exchange
	// time (a safety buffer is applied internally, e.g. -5s).
	ServerTime(ctx context.Context) (time.Time, error)

	// MarkPrice returns the current mark price for symbol.
	MarkPrice(ctx context.Context, symbol string) (decimal.Decimal, error)

	// AccountBalance returns the available balance of asset.
	AccountBalance(ctx context.Context, asset string) (decimal.Decimal, error)

	// Name identifies the venue for registry lookup and client-order-id
	// composition.
	Name() string
}

// PlaceEntryRequest carries every parameter place_entry needs (spec
// §4.1). Price is nil for a MARKET order.
type PlaceEntryRequest struct {
	Symbol        string
	Side          domain.OrderSide
	Qty           decimal.Decimal
	Price         *decimal.Decimal
	Leverage      int
	MarginMode    domain.MarginMode
	ClientOrderID string
	AttachedSL    *decimal.Decimal
	AttachedTP    *decimal.Decimal
}

// PlaceReduceOnlyRequest places a protective order against an existing
// position.
type PlaceReduceOnlyRequest struct {
	Symbol        string
	SideOpposite  domain.OrderSide // side of the closing order, opposite the position
	Qty           decimal.Decimal
	StopPrice     decimal.Decimal
	Kind          domain.ReduceOnlyKind
	ClientOrderID string
}
