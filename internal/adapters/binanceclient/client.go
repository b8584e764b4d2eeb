package binanceclient

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/adshao/go-binance/v2/common"
	"github.com/adshao/go-binance/v2/futures"
	"github.com/jpillora/backoff"
	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"

	"cryptoMegaBot/internal/domain"
	"cryptoMegaBot/internal/ports"
)

const (
	baseURLProduction = "https://fapi.binance.com"
	baseURLTestnet    = "https://testnet.binancefuture.com"

	// driftSafetyBuffer is subtracted from the measured clock offset so
	// that timestamps sent to the venue are always slightly behind
	// rather than ahead (spec §4.1: "a safety buffer (e.g. -5s)").
	driftSafetyBuffer = -5 * time.Second
)

// Client implements ports.ExchangeAdapter against Binance USDⓈ-M
// futures. Binance classifies as an algo-separate venue: STOP_MARKET
// and TAKE_PROFIT_MARKET orders are ordinary orders on the standard
// order book, not a parent-child attachment, so PlaceEntry never
// attaches protective orders.
type Client struct {
	futuresClient        *futures.Client
	logger               ports.Logger
	reconnectDelay       time.Duration
	maxReconnectAttempts int
	limiter              *rate.Limiter

	mu          sync.RWMutex
	driftOffset time.Duration
	precision   map[string]symbolPrecision
}

type symbolPrecision struct {
	pricePrecision int
	qtyPrecision   int
	minNotional    decimal.Decimal
}

// Config holds configuration specific to the Binance client adapter.
type Config struct {
	APIKey               string
	SecretKey            string
	UseTestnet           bool
	Logger               ports.Logger
	ReconnectDelay       time.Duration
	MaxReconnectAttempts int
	// RequestsPerSecond caps the adapter's own outbound rate, on top of
	// whatever the transport already serializes (spec §5: "token-bucket
	// per venue, e.g. 10 req/s").
	RequestsPerSecond float64
}

// New creates a new Binance client adapter.
func New(cfg Config) (*Client, error) {
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger is required for Binance client")
	}
	if cfg.APIKey == "" || cfg.SecretKey == "" {
		cfg.Logger.Warn(context.Background(), "APIKey or SecretKey is empty; client will only work for public endpoints")
	}

	client := futures.NewClient(cfg.APIKey, cfg.SecretKey)

	if cfg.UseTestnet {
		client.BaseURL = baseURLTestnet
		cfg.Logger.Info(context.Background(), "Binance client configured for Testnet", map[string]interface{}{"baseURL": client.BaseURL})
	} else {
		client.BaseURL = baseURLProduction
		cfg.Logger.Info(context.Background(), "Binance client configured for Production", map[string]interface{}{"baseURL": client.BaseURL})
	}

	reconnectDelay := cfg.ReconnectDelay
	if reconnectDelay <= 0 {
		reconnectDelay = 1 * time.Second
	}
	maxAttempts := cfg.MaxReconnectAttempts
	if maxAttempts <= 0 {
		maxAttempts = 10
	}
	rps := cfg.RequestsPerSecond
	if rps <= 0 {
		rps = 10
	}

	return &Client{
		futuresClient:        client,
		logger:               cfg.Logger,
		reconnectDelay:       reconnectDelay,
		maxReconnectAttempts: maxAttempts,
		limiter:              rate.NewLimiter(rate.Limit(rps), int(rps)),
		precision:            make(map[string]symbolPrecision),
	}, nil
}

func (c *Client) Name() string { return "binance" }

func (c *Client) Category() ports.VenueCategory { return ports.VenueAlgoSeparate }

// wait blocks until the venue's token bucket has a slot, or ctx is done.
func (c *Client) wait(ctx context.Context) error {
	return c.limiter.Wait(ctx)
}

// handleError translates common Binance API errors into the shared
// ports error taxonomy (spec §4.1).
func (c *Client) handleError(ctx context.Context, err error, operation string) error {
	if err == nil {
		return nil
	}

	fields := map[string]interface{}{"operation": operation, "originalError": err.Error()}

	var apiErr *common.APIError
	if errors.As(err, &apiErr) {
		fields["apiErrorCode"] = apiErr.Code
		fields["apiErrorMessage"] = apiErr.Message

		var mappedErr error
		switch apiErr.Code {
		case -1003:
			mappedErr = ports.ErrRateLimited
		case -1021:
			mappedErr = ports.ErrTimeout
		case -1022:
			mappedErr = ports.ErrAuthenticationFailed
		case -1101, -1102, -1103, -1104, -1105, -1106, -1111, -1115, -1116, -1117, -1120, -1121, -1125, -1127, -1128, -1130:
			mappedErr = ports.ErrInvalidParam
		case -2010:
			mappedErr = ports.ErrOrderPlacementFailed
		case -2011:
			mappedErr = ports.ErrOrderCancelFailed
		case -2013:
			mappedErr = ports.ErrOrderNotFound
		case -2014, -2015:
			mappedErr = ports.ErrAuthenticationFailed
		case -2019, -3005, -3041:
			mappedErr = ports.ErrInsufficientFunds
		case -2022:
			mappedErr = ports.ErrOrderPlacementFailed
		case -4003, -4014, -4015:
			mappedErr = ports.ErrInvalidParam
		case -4044:
			mappedErr = ports.ErrPositionNotFound
		case -4047:
			mappedErr = ports.ErrInsufficientFunds
		default:
			mappedErr = ports.ErrUnknown
		}
		finalErr := fmt.Errorf("%s failed: %w: %w", operation, mappedErr, err)
		c.logger.Error(ctx, err, fmt.Sprintf("%s failed with API error", operation), fields)
		return finalErr
	}

	var finalErr error
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		finalErr = fmt.Errorf("%s failed: %w: %w", operation, ports.ErrTimeout, err)
	case errors.Is(err, context.Canceled):
		finalErr = fmt.Errorf("%s operation canceled: %w: %w", operation, ports.ErrContextCanceled, err)
	case strings.Contains(err.Error(), "use of closed network connection"),
		strings.Contains(err.Error(), "connection refused"),
		strings.Contains(err.Error(), "connection reset by peer"):
		finalErr = fmt.Errorf("%s failed: %w: %w", operation, ports.ErrTransientNetwork, err)
	default:
		finalErr = fmt.Errorf("%s failed: %w: %w", operation, ports.ErrUnknown, err)
	}

	c.logger.Error(ctx, err, fmt.Sprintf("%s failed", operation), fields)
	return finalErr
}

// ServerTime returns the drift-adjusted current time (spec §4.1).
func (c *Client) ServerTime(ctx context.Context) (time.Time, error) {
	op := "ServerTime"
	if err := c.wait(ctx); err != nil {
		return time.Time{}, err
	}
	serverMs, err := c.futuresClient.NewServerTimeService().Do(ctx)
	if err != nil {
		return time.Time{}, c.handleError(ctx, err, op)
	}
	server := time.UnixMilli(serverMs)
	offset := time.Until(server) + driftSafetyBuffer
	c.mu.Lock()
	c.driftOffset = offset
	c.mu.Unlock()
	return time.Now().Add(offset), nil
}

// MarkPrice retrieves the current mark price for a symbol.
func (c *Client) MarkPrice(ctx context.Context, symbol string) (decimal.Decimal, error) {
	op := "MarkPrice"
	if err := c.wait(ctx); err != nil {
		return decimal.Zero, err
	}
	tickers, err := c.futuresClient.NewPremiumIndexService().Symbol(symbol).Do(ctx)
	if err != nil {
		return decimal.Zero, c.handleError(ctx, err, op)
	}
	if len(tickers) == 0 {
		return decimal.Zero, c.handleError(ctx, fmt.Errorf("no price data returned for symbol %s", symbol), op)
	}
	price, err := decimal.NewFromString(tickers[0].MarkPrice)
	if err != nil {
		return decimal.Zero, c.handleError(ctx, fmt.Errorf("could not parse price %q: %w", tickers[0].MarkPrice, err), op)
	}
	return price, nil
}

// AccountBalance retrieves the available wallet balance for an asset.
func (c *Client) AccountBalance(ctx context.Context, asset string) (decimal.Decimal, error) {
	op := "AccountBalance"
	if err := c.wait(ctx); err != nil {
		return decimal.Zero, err
	}
	account, err := c.futuresClient.NewGetAccountService().Do(ctx)
	if err != nil {
		return decimal.Zero, c.handleError(ctx, err, op)
	}
	for _, bal := range account.Assets {
		if bal.Asset == asset {
			balance, err := decimal.NewFromString(bal.WalletBalance)
			if err != nil {
				return decimal.Zero, c.handleError(ctx, fmt.Errorf("could not parse balance %q for asset %s: %w", bal.WalletBalance, asset, err), op)
			}
			return balance, nil
		}
	}
	return decimal.Zero, c.handleError(ctx, fmt.Errorf("asset %s not found in account balance", asset), op)
}

func (c *Client) SetLeverage(ctx context.Context, symbol string, leverage int) error {
	op := "SetLeverage"
	if err := c.wait(ctx); err != nil {
		return err
	}
	_, err := c.futuresClient.NewChangeLeverageService().Symbol(symbol).Leverage(leverage).Do(ctx)
	if err != nil {
		return c.handleError(ctx, err, op)
	}
	c.logger.Info(ctx, op+" successful", map[string]interface{}{"symbol": symbol, "leverage": leverage})
	return nil
}

func (c *Client) SetMarginMode(ctx context.Context, symbol string, mode domain.MarginMode) error {
	op := "SetMarginMode"
	if err := c.wait(ctx); err != nil {
		return err
	}
	marginType := futures.MarginTypeIsolated
	if mode != domain.MarginIsolated {
		marginType = futures.MarginTypeCrossed
	}
	err := c.futuresClient.NewChangeMarginTypeService().Symbol(symbol).MarginType(marginType).Do(ctx)
	if err != nil {
		// Binance returns -4046 "No need to change margin type" when it
		// already matches; treat as success.
		var apiErr *common.APIError
		if errors.As(err, &apiErr) && apiErr.Code == -4046 {
			return nil
		}
		return c.handleError(ctx, err, op)
	}
	return nil
}

// PlaceEntry places the entry order. Binance never attaches SL/TP to an
// entry (algo-separate venue), so AttachedSL/AttachedTP are ignored.
func (c *Client) PlaceEntry(ctx context.Context, req ports.PlaceEntryRequest) (*ports.OrderAck, error) {
	op := "PlaceEntry"
	if err := c.wait(ctx); err != nil {
		return nil, err
	}

	svc := c.futuresClient.NewCreateOrderService().
		Symbol(req.Symbol).
		Side(sideToBinance(req.Side)).
		Quantity(req.Qty.String()).
		NewClientOrderID(req.ClientOrderID)

	if req.Price != nil {
		svc = svc.Type(futures.OrderTypeLimit).TimeInForce(futures.TimeInForceTypeGTC).Price(req.Price.String())
	} else {
		svc = svc.Type(futures.OrderTypeMarket)
	}

	order, err := svc.Do(ctx)
	if err != nil {
		return nil, c.handleError(ctx, err, op)
	}
	ack := translateOrderAck(order)
	c.logger.Info(ctx, op+" successful", map[string]interface{}{"symbol": req.Symbol, "side": req.Side, "orderID": ack.OrderID})
	return ack, nil
}

// PlaceReduceOnly places a standalone STOP_MARKET or TAKE_PROFIT_MARKET
// order that closes the entire position (spec §4.1).
func (c *Client) PlaceReduceOnly(ctx context.Context, req ports.PlaceReduceOnlyRequest) (*ports.OrderAck, error) {
	op := "PlaceReduceOnly:" + string(req.Kind)
	if err := c.wait(ctx); err != nil {
		return nil, err
	}

	orderType := futures.OrderTypeStopMarket
	if req.Kind == domain.ReduceOnlyTP {
		orderType = futures.OrderTypeTakeProfitMarket
	}

	order, err := c.futuresClient.NewCreateOrderService().
		Symbol(req.Symbol).
		Side(sideToBinance(req.SideOpposite)).
		Type(orderType).
		Quantity(req.Qty.String()).
		StopPrice(req.StopPrice.String()).
		ClosePosition(true).
		NewClientOrderID(req.ClientOrderID).
		Do(ctx)
	if err != nil {
		return nil, c.handleError(ctx, err, op)
	}
	ack := translateOrderAck(order)
	c.logger.Info(ctx, op+" successful", map[string]interface{}{"symbol": req.Symbol, "stopPrice": req.StopPrice, "orderID": ack.OrderID})
	return ack, nil
}

// CancelOrder cancels an order by exchange order id. Binance does not
// split SL/TP into a separate algo queue (they are STOP_MARKET/
// TAKE_PROFIT_MARKET orders on the same book), so every hint resolves
// to the single standard cancel endpoint; AUTO never needs a second
// queue here.
func (c *Client) CancelOrder(ctx context.Context, symbol, orderID string, hint domain.CancelHint) error {
	op := "CancelOrder"
	if err := c.wait(ctx); err != nil {
		return err
	}
	id, err := strconv.ParseInt(orderID, 10, 64)
	if err != nil {
		return fmt.Errorf("%s: invalid order id %q: %w", op, orderID, ports.ErrInvalidParam)
	}
	_, err = c.futuresClient.NewCancelOrderService().Symbol(symbol).OrderID(id).Do(ctx)
	if err != nil {
		translated := c.handleError(ctx, err, op)
		if errors.Is(translated, ports.ErrOrderNotFound) {
			// Already gone: spec §7 "treat as already-gone, proceed with local cleanup".
			return nil
		}
		return translated
	}
	return nil
}

func (c *Client) FetchPositions(ctx context.Context) ([]ports.ExchangePosition, error) {
	op := "FetchPositions"
	if err := c.wait(ctx); err != nil {
		return nil, err
	}
	raw, err := c.futuresClient.NewGetPositionRiskService().Do(ctx)
	if err != nil {
		return nil, c.handleError(ctx, err, op)
	}
	out := make([]ports.ExchangePosition, 0, len(raw))
	for _, p := range raw {
		amt, _ := decimal.NewFromString(p.PositionAmt)
		if amt.IsZero() {
			continue
		}
		side := domain.Long
		if amt.IsNegative() {
			side = domain.Short
		}
		entry, _ := decimal.NewFromString(p.EntryPrice)
		leverage, _ := strconv.Atoi(p.Leverage)
		out = append(out, ports.ExchangePosition{
			Symbol:     p.Symbol,
			Side:       side,
			Qty:        amt.Abs(),
			EntryPrice: entry,
			Leverage:   leverage,
		})
	}
	return out, nil
}

func (c *Client) FetchOpenOrders(ctx context.Context, symbol string) ([]ports.Order, error) {
	op := "FetchOpenOrders"
	if err := c.wait(ctx); err != nil {
		return nil, err
	}
	svc := c.futuresClient.NewListOpenOrdersService()
	if symbol != "" {
		svc = svc.Symbol(symbol)
	}
	raw, err := svc.Do(ctx)
	if err != nil {
		return nil, c.handleError(ctx, err, op)
	}
	out := make([]ports.Order, 0, len(raw))
	for _, o := range raw {
		out = append(out, translateOpenOrder(o))
	}
	return out, nil
}

func (c *Client) FetchMyTrades(ctx context.Context, symbol string, since time.Time) ([]ports.Fill, error) {
	op := "FetchMyTrades"
	if err := c.wait(ctx); err != nil {
		return nil, err
	}
	raw, err := c.futuresClient.NewListAccountTradeService().
		Symbol(symbol).
		StartTime(since.UnixMilli()).
		Do(ctx)
	if err != nil {
		return nil, c.handleError(ctx, err, op)
	}
	out := make([]ports.Fill, 0, len(raw))
	for _, t := range raw {
		price, _ := decimal.NewFromString(t.Price)
		qty, _ := decimal.NewFromString(t.Quantity)
		fee, _ := decimal.NewFromString(t.Commission)
		pnl, _ := decimal.NewFromString(t.RealizedPnl)
		side := domain.Long
		if t.Side == futures.SideTypeSell {
			side = domain.Short
		}
		out = append(out, ports.Fill{
			TradeID:     strconv.FormatInt(t.ID, 10),
			OrderID:     strconv.FormatInt(t.OrderID, 10),
			Symbol:      t.Symbol,
			Side:        side,
			Price:       price,
			Qty:         qty,
			Fee:         fee,
			RealizedPNL: pnl,
			Time:        time.UnixMilli(t.Time),
		})
	}
	return out, nil
}

func (c *Client) NormalizeSymbol(input string) string {
	return strings.ToUpper(strings.ReplaceAll(input, "-", ""))
}

func (c *Client) ToVenueSymbol(canonical string) string {
	return canonical
}

func (c *Client) AmountToPrecision(symbol string, amount decimal.Decimal) decimal.Decimal {
	c.mu.RLock()
	prec, ok := c.precision[symbol]
	c.mu.RUnlock()
	if !ok {
		return amount.Round(3)
	}
	return amount.Round(int32(prec.qtyPrecision))
}

func (c *Client) PriceToPrecision(symbol string, price decimal.Decimal) decimal.Decimal {
	c.mu.RLock()
	prec, ok := c.precision[symbol]
	c.mu.RUnlock()
	if !ok {
		return price.Round(2)
	}
	return price.Round(int32(prec.pricePrecision))
}

func (c *Client) MinNotional(symbol string) decimal.Decimal {
	c.mu.RLock()
	prec, ok := c.precision[symbol]
	c.mu.RUnlock()
	if !ok {
		return decimal.NewFromInt(5)
	}
	return prec.minNotional
}

// LoadExchangeInfo caches per-symbol precision and minimum notional.
// Called once at startup by cmd/engine; a stale cache only degrades
// rounding precision, it never blocks trading.
func (c *Client) LoadExchangeInfo(ctx context.Context) error {
	op := "LoadExchangeInfo"
	if err := c.wait(ctx); err != nil {
		return err
	}
	info, err := c.futuresClient.NewExchangeInfoService().Do(ctx)
	if err != nil {
		return c.handleError(ctx, err, op)
	}
	next := make(map[string]symbolPrecision, len(info.Symbols))
	for _, s := range info.Symbols {
		sp := symbolPrecision{
			pricePrecision: s.PricePrecision,
			qtyPrecision:   s.QuantityPrecision,
		}
		for _, f := range s.Filters {
			if notional, ok := f["notional"]; ok {
				if v, ok := notional.(string); ok {
					if d, err := decimal.NewFromString(v); err == nil {
						sp.minNotional = d
					}
				}
			}
		}
		next[s.Symbol] = sp
	}
	c.mu.Lock()
	c.precision = next
	c.mu.Unlock()
	return nil
}

// StreamKlines starts a reconnecting WebSocket kline stream, translated
// into domain.Kline events. Used by the signalsource adapter to feed
// indicator computation, not by the Trader directly.
func (c *Client) StreamKlines(ctx context.Context, symbol, interval string, handler func(kline *domain.Kline), errHandler func(err error)) (doneCh chan struct{}, stopCh chan struct{}, err error) {
	op := "StreamKlines"
	wsCtx, cancelWs := context.WithCancel(ctx)

	binanceHandler := func(event *futures.WsKlineEvent) {
		domainKline, err := translateWsKline(event)
		if err != nil {
			c.logger.Error(wsCtx, err, op+": failed to translate WebSocket kline event")
			return
		}
		handler(domainKline)
	}

	binanceErrHandler := func(err error) {
		translatedErr := c.handleError(wsCtx, err, op+" WebSocket")
		c.logger.Warn(wsCtx, op+": WebSocket error reported", map[string]interface{}{"error": translatedErr})
		errHandler(translatedErr)
	}

	reconnect := &backoff.Backoff{
		Min:    c.reconnectDelay,
		Max:    c.reconnectDelay * 32,
		Factor: 2,
		Jitter: true,
	}

	go func() {
		defer cancelWs()
		attempt := 0
		for {
			select {
			case <-wsCtx.Done():
				return
			default:
				innerDoneCh, innerStopCh, connectErr := futures.WsKlineServe(symbol, interval, binanceHandler, binanceErrHandler)
				if connectErr != nil {
					c.handleError(wsCtx, connectErr, op+" connection attempt")
					attempt++
					if attempt >= c.maxReconnectAttempts {
						c.logger.Error(wsCtx, connectErr, op+": max reconnection attempts exceeded, giving up", map[string]interface{}{"symbol": symbol, "interval": interval})
						return
					}
					select {
					case <-time.After(reconnect.Duration()):
						continue
					case <-wsCtx.Done():
						return
					}
				}

				attempt = 0
				reconnect.Reset()
				select {
				case <-innerDoneCh:
					c.logger.Warn(wsCtx, op+": WebSocket connection closed unexpectedly, reconnecting", map[string]interface{}{"symbol": symbol, "interval": interval})
				case <-wsCtx.Done():
					select {
					case innerStopCh <- struct{}{}:
					default:
					}
					return
				}
			}
		}
	}()

	doneCh = make(chan struct{})
	stopCh = make(chan struct{})

	go func() {
		select {
		case <-stopCh:
			cancelWs()
		case <-wsCtx.Done():
		}
	}()
	go func() {
		<-wsCtx.Done()
		close(doneCh)
	}()

	return doneCh, stopCh, nil
}

// GetKlines retrieves historical klines for warm-up/backfill.
func (c *Client) GetKlines(ctx context.Context, symbol, interval string, limit int) ([]*domain.Kline, error) {
	op := "GetKlines"
	if err := c.wait(ctx); err != nil {
		return nil, err
	}
	raw, err := c.futuresClient.NewKlinesService().Symbol(symbol).Interval(interval).Limit(limit).Do(ctx)
	if err != nil {
		return nil, c.handleError(ctx, err, op)
	}
	out := make([]*domain.Kline, 0, len(raw))
	for _, bk := range raw {
		dk, err := translateBinanceKline(bk, symbol, interval)
		if err != nil {
			return nil, c.handleError(ctx, fmt.Errorf("failed to translate historical kline: %w", err), op)
		}
		out = append(out, dk)
	}
	return out, nil
}

func sideToBinance(side domain.OrderSide) futures.SideType {
	if side == domain.Short {
		return futures.SideTypeSell
	}
	return futures.SideTypeBuy
}

func translateOrderAck(order *futures.CreateOrderResponse) *ports.OrderAck {
	if order == nil {
		return nil
	}
	avgPrice, _ := decimal.NewFromString(order.AvgPrice)
	execQty, _ := decimal.NewFromString(order.ExecutedQuantity)
	return &ports.OrderAck{
		OrderID:       strconv.FormatInt(order.OrderID, 10),
		ClientOrderID: order.ClientOrderID,
		Status:        string(order.Status),
		AvgPrice:      avgPrice,
		ExecutedQty:   execQty,
		Timestamp:     time.UnixMilli(order.UpdateTime),
	}
}

func translateOpenOrder(o *futures.Order) ports.Order {
	stopPrice, _ := decimal.NewFromString(o.StopPrice)
	qty, _ := decimal.NewFromString(o.OrigQuantity)
	side := domain.Long
	if o.Side == futures.SideTypeSell {
		side = domain.Short
	}
	kind := domain.ReduceOnlyKind("")
	switch o.Type {
	case futures.OrderTypeStopMarket, futures.OrderTypeStop:
		kind = domain.ReduceOnlySL
	case futures.OrderTypeTakeProfitMarket, futures.OrderTypeTakeProfit:
		kind = domain.ReduceOnlyTP
	}
	return ports.Order{
		OrderID:       strconv.FormatInt(o.OrderID, 10),
		ClientOrderID: o.ClientOrderID,
		Symbol:        o.Symbol,
		Side:          side,
		Kind:          kind,
		StopPrice:     stopPrice,
		Qty:           qty,
		IsAlgo:        false,
	}
}

func translateWsKline(event *futures.WsKlineEvent) (*domain.Kline, error) {
	if event == nil {
		return nil, errors.New("received nil kline event")
	}
	k := event.Kline
	open, err := strconv.ParseFloat(k.Open, 64)
	if err != nil {
		return nil, fmt.Errorf("parsing open price %q: %w", k.Open, err)
	}
	high, err := strconv.ParseFloat(k.High, 64)
	if err != nil {
		return nil, fmt.Errorf("parsing high price %q: %w", k.High, err)
	}
	low, err := strconv.ParseFloat(k.Low, 64)
	if err != nil {
		return nil, fmt.Errorf("parsing low price %q: %w", k.Low, err)
	}
	cls, err := strconv.ParseFloat(k.Close, 64)
	if err != nil {
		return nil, fmt.Errorf("parsing close price %q: %w", k.Close, err)
	}
	vol, err := strconv.ParseFloat(k.Volume, 64)
	if err != nil {
		return nil, fmt.Errorf("parsing volume %q: %w", k.Volume, err)
	}
	return &domain.Kline{
		OpenTime:  time.UnixMilli(k.StartTime),
		CloseTime: time.UnixMilli(k.EndTime),
		Symbol:    k.Symbol,
		Interval:  k.Interval,
		Open:      open,
		High:      high,
		Low:       low,
		Close:     cls,
		Volume:    vol,
		IsFinal:   k.IsFinal,
	}, nil
}

func translateBinanceKline(bk *futures.Kline, symbol, interval string) (*domain.Kline, error) {
	if bk == nil {
		return nil, errors.New("received nil historical kline")
	}
	open, err := strconv.ParseFloat(bk.Open, 64)
	if err != nil {
		return nil, fmt.Errorf("parsing open price %q: %w", bk.Open, err)
	}
	high, err := strconv.ParseFloat(bk.High, 64)
	if err != nil {
		return nil, fmt.Errorf("parsing high price %q: %w", bk.High, err)
	}
	low, err := strconv.ParseFloat(bk.Low, 64)
	if err != nil {
		return nil, fmt.Errorf("parsing low price %q: %w", bk.Low, err)
	}
	cls, err := strconv.ParseFloat(bk.Close, 64)
	if err != nil {
		return nil, fmt.Errorf("parsing close price %q: %w", bk.Close, err)
	}
	vol, err := strconv.ParseFloat(bk.Volume, 64)
	if err != nil {
		return nil, fmt.Errorf("parsing volume %q: %w", bk.Volume, err)
	}
	return &domain.Kline{
		OpenTime:  time.UnixMilli(bk.OpenTime),
		CloseTime: time.UnixMilli(bk.CloseTime),
		Symbol:    symbol,
		Interval:  interval,
		Open:      open,
		High:      high,
		Low:       low,
		Close:     cls,
		Volume:    vol,
		IsFinal:   true,
	}, nil
}
