// Package paperclient implements a dry-run ExchangeAdapter that never
// touches a real venue. It services every Profile whose Environment is
// domain.EnvTest (spec §6.4): state lives in memory, fills happen
// synchronously against the last observed mark price, and protective
// orders are attached atomically at entry, matching a parent-child
// venue shape so the Trader's SL/TP bookkeeping exercises both
// categories during a single run.
package paperclient

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"

	"cryptoMegaBot/internal/domain"
	"cryptoMegaBot/internal/ports"
)

// PriceFeed supplies the mark price paper fills execute against. In
// production wiring this is backed by the live venue's adapter so paper
// profiles trade against real prices without placing real orders.
type PriceFeed interface {
	MarkPrice(ctx context.Context, symbol string) (decimal.Decimal, error)
}

type paperOrder struct {
	ports.Order
	entryFilled bool
}

type paperPosition struct {
	ports.ExchangePosition
	slOrderID string
	tpOrderID string
}

// Client is an in-memory paper-trading ExchangeAdapter.
type Client struct {
	logger ports.Logger
	feed   PriceFeed
	name   string

	balance decimal.Decimal
	nextID  int64

	mu        sync.Mutex
	positions map[string]*paperPosition // keyed by symbol
	orders    map[string]*paperOrder    // keyed by orderID
	fills     []ports.Fill
}

// Config configures the paper adapter.
type Config struct {
	Logger         ports.Logger
	Feed           PriceFeed
	Name           string // e.g. "binance-paper"
	StartingWallet decimal.Decimal
}

// New creates a paper adapter seeded with a wallet balance.
func New(cfg Config) *Client {
	name := cfg.Name
	if name == "" {
		name = "paper"
	}
	balance := cfg.StartingWallet
	if balance.IsZero() {
		balance = decimal.NewFromInt(10000)
	}
	return &Client{
		logger:    cfg.Logger,
		feed:      cfg.Feed,
		name:      name,
		balance:   balance,
		positions: make(map[string]*paperPosition),
		orders:    make(map[string]*paperOrder),
	}
}

func (c *Client) Name() string { return c.name }

// Category reports parent-child: PlaceEntry honors AttachedSL/AttachedTP.
func (c *Client) Category() ports.VenueCategory { return ports.VenueParentChild }

func (c *Client) nextOrderID() string {
	id := atomic.AddInt64(&c.nextID, 1)
	return fmt.Sprintf("PAPER-%d", id)
}

func (c *Client) PlaceEntry(ctx context.Context, req ports.PlaceEntryRequest) (*ports.OrderAck, error) {
	price, err := c.resolvePrice(ctx, req.Symbol, req.Price)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.positions[req.Symbol]; exists {
		return nil, fmt.Errorf("%s: %w: paper adapter only tracks one position per symbol", "PlaceEntry", ports.ErrInvalidRequest)
	}

	orderID := c.nextOrderID()
	pp := &paperPosition{
		ExchangePosition: ports.ExchangePosition{
			Symbol:     req.Symbol,
			Side:       req.Side,
			Qty:        req.Qty,
			EntryPrice: price,
			Leverage:   req.Leverage,
		},
	}
	c.positions[req.Symbol] = pp
	c.orders[orderID] = &paperOrder{
		Order: ports.Order{
			OrderID:       orderID,
			ClientOrderID: req.ClientOrderID,
			Symbol:        req.Symbol,
			Side:          req.Side,
			Qty:           req.Qty,
		},
		entryFilled: true,
	}

	if req.AttachedSL != nil {
		slID := c.nextOrderID()
		pp.slOrderID = slID
		c.orders[slID] = &paperOrder{Order: ports.Order{
			OrderID: slID, Symbol: req.Symbol, Side: req.Side.Opposite(),
			Kind: domain.ReduceOnlySL, StopPrice: *req.AttachedSL, Qty: req.Qty,
		}}
	}
	if req.AttachedTP != nil {
		tpID := c.nextOrderID()
		pp.tpOrderID = tpID
		c.orders[tpID] = &paperOrder{Order: ports.Order{
			OrderID: tpID, Symbol: req.Symbol, Side: req.Side.Opposite(),
			Kind: domain.ReduceOnlyTP, StopPrice: *req.AttachedTP, Qty: req.Qty,
		}}
	}

	c.logger.Info(ctx, "paper entry filled", map[string]interface{}{"symbol": req.Symbol, "side": req.Side, "price": price, "orderID": orderID})

	return &ports.OrderAck{
		OrderID:       orderID,
		ClientOrderID: req.ClientOrderID,
		Status:        "FILLED",
		AvgPrice:      price,
		ExecutedQty:   req.Qty,
		Timestamp:     time.Now(),
	}, nil
}

func (c *Client) resolvePrice(ctx context.Context, symbol string, requested *decimal.Decimal) (decimal.Decimal, error) {
	if requested != nil {
		return *requested, nil
	}
	if c.feed == nil {
		return decimal.Zero, fmt.Errorf("PlaceEntry: %w: no price feed configured for market order", ports.ErrConfigurationError)
	}
	return c.feed.MarkPrice(ctx, symbol)
}

// PlaceReduceOnly attaches a standalone protective order. Since the
// paper venue is parent-child, this path only fires if PlaceEntry
// wasn't given the leg (e.g. profit-lock tightening an existing SL).
func (c *Client) PlaceReduceOnly(ctx context.Context, req ports.PlaceReduceOnlyRequest) (*ports.OrderAck, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	pp, ok := c.positions[req.Symbol]
	if !ok {
		return nil, fmt.Errorf("PlaceReduceOnly: %w", ports.ErrPositionNotFound)
	}

	orderID := c.nextOrderID()
	c.orders[orderID] = &paperOrder{Order: ports.Order{
		OrderID: orderID, ClientOrderID: req.ClientOrderID, Symbol: req.Symbol,
		Side: req.SideOpposite, Kind: req.Kind, StopPrice: req.StopPrice, Qty: req.Qty,
	}}
	if req.Kind == domain.ReduceOnlySL {
		pp.slOrderID = orderID
	} else {
		pp.tpOrderID = orderID
	}

	return &ports.OrderAck{OrderID: orderID, ClientOrderID: req.ClientOrderID, Status: "NEW", Timestamp: time.Now()}, nil
}

// CancelOrder cancels a resting order. The hint is irrelevant here: a
// parent-child venue has a single queue.
func (c *Client) CancelOrder(ctx context.Context, symbol, orderID string, hint domain.CancelHint) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.orders[orderID]; !ok {
		return nil // already gone, spec §7
	}
	delete(c.orders, orderID)
	return nil
}

func (c *Client) FetchPositions(ctx context.Context) ([]ports.ExchangePosition, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]ports.ExchangePosition, 0, len(c.positions))
	for _, p := range c.positions {
		out = append(out, p.ExchangePosition)
	}
	return out, nil
}

func (c *Client) FetchOpenOrders(ctx context.Context, symbol string) ([]ports.Order, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]ports.Order, 0)
	for _, o := range c.orders {
		if symbol != "" && o.Symbol != symbol {
			continue
		}
		out = append(out, o.Order)
	}
	return out, nil
}

func (c *Client) FetchMyTrades(ctx context.Context, symbol string, since time.Time) ([]ports.Fill, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]ports.Fill, 0)
	for _, f := range c.fills {
		if f.Symbol == symbol && !f.Time.Before(since) {
			out = append(out, f)
		}
	}
	return out, nil
}

// CloseAt is a simulation hook closing a tracked position at a given
// price and recording the resulting fill, so Reconciler/Trader scenarios
// can be driven without a live feed. Nothing in the repository calls it.
func (c *Client) CloseAt(symbol string, price decimal.Decimal) (ports.Fill, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	pp, ok := c.positions[symbol]
	if !ok {
		return ports.Fill{}, false
	}
	delta := price.Sub(pp.EntryPrice)
	if pp.Side == domain.Short {
		delta = delta.Neg()
	}
	pnl := delta.Mul(pp.Qty)
	fill := ports.Fill{
		TradeID:     c.nextOrderID(),
		Symbol:      symbol,
		Side:        pp.Side.Opposite(),
		Price:       price,
		Qty:         pp.Qty,
		RealizedPNL: pnl,
		Time:        time.Now(),
	}
	c.fills = append(c.fills, fill)
	c.balance = c.balance.Add(pnl)
	delete(c.positions, symbol)
	if pp.slOrderID != "" {
		delete(c.orders, pp.slOrderID)
	}
	if pp.tpOrderID != "" {
		delete(c.orders, pp.tpOrderID)
	}
	return fill, true
}

func (c *Client) SetLeverage(ctx context.Context, symbol string, leverage int) error { return nil }

func (c *Client) SetMarginMode(ctx context.Context, symbol string, mode domain.MarginMode) error {
	return nil
}

func (c *Client) NormalizeSymbol(input string) string { return input }
func (c *Client) ToVenueSymbol(canonical string) string { return canonical }

func (c *Client) AmountToPrecision(symbol string, amount decimal.Decimal) decimal.Decimal {
	return amount.Round(3)
}

func (c *Client) PriceToPrecision(symbol string, price decimal.Decimal) decimal.Decimal {
	return price.Round(2)
}

func (c *Client) MinNotional(symbol string) decimal.Decimal { return decimal.NewFromInt(5) }

func (c *Client) ServerTime(ctx context.Context) (time.Time, error) { return time.Now(), nil }

func (c *Client) MarkPrice(ctx context.Context, symbol string) (decimal.Decimal, error) {
	if c.feed != nil {
		return c.feed.MarkPrice(ctx, symbol)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if pp, ok := c.positions[symbol]; ok {
		return pp.EntryPrice, nil
	}
	return decimal.Zero, fmt.Errorf("MarkPrice: %w: no feed and no tracked position for %s", ports.ErrNotFound, symbol)
}

func (c *Client) AccountBalance(ctx context.Context, asset string) (decimal.Decimal, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.balance, nil
}
