// Package signalsource implements ports.SignalSource, the external
// scoring collaborator's contract (spec §6.1), using the moving
// average / RSI / ATR indicator stack. It supersedes the older
// boolean-returning MA-crossover strategy: instead of deciding
// enter/exit directly, it emits a domain.SignalSnapshot{Side,
// Confidence, Score} per (symbol, timeframe) tick and lets SlotLoop and
// RiskGate decide what to do with it.
package signalsource

import (
	"context"
	"fmt"
	"sync"
	"time"

	"cryptoMegaBot/internal/domain"
	"cryptoMegaBot/internal/ports"
	"cryptoMegaBot/internal/strategy/indicators"
)

// KlineFeed supplies the historical candles a Source needs to compute
// its indicators. internal/adapters/binanceclient.Client satisfies this
// structurally via its GetKlines method.
type KlineFeed interface {
	GetKlines(ctx context.Context, symbol, interval string, limit int) ([]*domain.Kline, error)
}

// Config configures the moving-average-crossover-with-RSI-confirmation
// source (grounded on the teacher's MACrossover strategy, generalized
// to produce a scored snapshot instead of a bool decision).
type Config struct {
	ShortMAPeriod int
	LongMAPeriod  int
	RSIPeriod     int
	RSIOverbought float64
	RSIOversold   float64
	ATRPeriod     int
	// EntryScoreThreshold is read by callers via
	// domain.SignalSnapshot.IsActionable; Source doesn't apply it
	// itself so the Trader/SlotLoop can tune thresholds per profile.
}

func (c Config) withDefaults() Config {
	if c.ShortMAPeriod == 0 {
		c.ShortMAPeriod = 20
	}
	if c.LongMAPeriod == 0 {
		c.LongMAPeriod = 50
	}
	if c.RSIPeriod == 0 {
		c.RSIPeriod = 14
	}
	if c.RSIOverbought == 0 {
		c.RSIOverbought = 70
	}
	if c.RSIOversold == 0 {
		c.RSIOversold = 30
	}
	if c.ATRPeriod == 0 {
		c.ATRPeriod = 14
	}
	return c
}

// Source implements ports.SignalSource over a KlineFeed.
type Source struct {
	feed   KlineFeed
	cfg    Config
	logger ports.Logger

	shortMA *indicators.MovingAverage
	longMA  *indicators.MovingAverage
	rsi     *indicators.RSI
	atr     *indicators.ATR

	mu    sync.Mutex
	cache map[string][]*domain.Kline // keyed by symbol|timeframe
}

// New builds a Source. feed supplies historical klines on demand; a
// live venue adapter or a dedicated websocket cache both qualify.
func New(feed KlineFeed, cfg Config, logger ports.Logger) *Source {
	cfg = cfg.withDefaults()
	return &Source{
		feed:    feed,
		cfg:     cfg,
		logger:  logger,
		shortMA: indicators.NewMovingAverage(indicators.MovingAverageConfig{IndicatorConfig: indicators.IndicatorConfig{Period: cfg.ShortMAPeriod}, Type: indicators.ExponentialMovingAverage}),
		longMA:  indicators.NewMovingAverage(indicators.MovingAverageConfig{IndicatorConfig: indicators.IndicatorConfig{Period: cfg.LongMAPeriod}, Type: indicators.ExponentialMovingAverage}),
		rsi:     indicators.NewRSI(indicators.RSIConfig{IndicatorConfig: indicators.IndicatorConfig{Period: cfg.RSIPeriod}, Overbought: cfg.RSIOverbought, Oversold: cfg.RSIOversold}),
		atr:     indicators.NewATR(indicators.ATRConfig{IndicatorConfig: indicators.IndicatorConfig{Period: cfg.ATRPeriod}}),
		cache:   make(map[string][]*domain.Kline),
	}
}

// RequiredDataPoints reports how much history must be warmed up before
// Latest can produce a meaningful signal.
func (s *Source) RequiredDataPoints() int {
	n := s.cfg.LongMAPeriod
	if s.cfg.RSIPeriod+1 > n {
		n = s.cfg.RSIPeriod + 1
	}
	if s.cfg.ATRPeriod+1 > n {
		n = s.cfg.ATRPeriod + 1
	}
	return n
}

func cacheKey(symbol, timeframe string) string { return symbol + "|" + timeframe }

// Latest refreshes the kline window for (symbol, timeframe) and derives
// a SignalSnapshot from an EMA crossover confirmed by RSI, with
// confidence scaled down by ATR-relative volatility (a choppy market
// produces lower-confidence signals even on a clean crossover).
func (s *Source) Latest(ctx context.Context, symbol, timeframe string) (domain.SignalSnapshot, error) {
	klines, err := s.feed.GetKlines(ctx, symbol, timeframe, s.RequiredDataPoints()+5)
	if err != nil {
		return domain.SignalSnapshot{}, fmt.Errorf("signalsource: fetch klines for %s/%s: %w", symbol, timeframe, err)
	}
	if len(klines) < s.RequiredDataPoints() {
		ts := time.Now()
		if len(klines) > 0 {
			ts = klines[len(klines)-1].CloseTime
		}
		return domain.SignalSnapshot{Timestamp: ts, Side: domain.SignalNone}, nil
	}

	s.mu.Lock()
	s.cache[cacheKey(symbol, timeframe)] = klines
	s.mu.Unlock()

	shortVal, err := s.shortMA.Calculate(ctx, klines)
	if err != nil {
		return domain.SignalSnapshot{}, fmt.Errorf("signalsource: short MA: %w", err)
	}
	longVal, err := s.longMA.Calculate(ctx, klines)
	if err != nil {
		return domain.SignalSnapshot{}, fmt.Errorf("signalsource: long MA: %w", err)
	}
	rsiVal, err := s.rsi.Calculate(ctx, klines)
	if err != nil {
		return domain.SignalSnapshot{}, fmt.Errorf("signalsource: RSI: %w", err)
	}
	atrVal, err := s.atr.Calculate(ctx, klines)
	if err != nil {
		return domain.SignalSnapshot{}, fmt.Errorf("signalsource: ATR: %w", err)
	}

	last := klines[len(klines)-1]
	side := domain.SignalNone
	switch {
	case shortVal > longVal && !s.rsi.IsOverbought(rsiVal):
		side = domain.SignalBuy
	case shortVal < longVal && !s.rsi.IsOversold(rsiVal):
		side = domain.SignalSell
	}

	separation := 0.0
	if longVal != 0 {
		separation = abs(shortVal-longVal) / longVal
	}

	// Volatility relative to price: a wide ATR band against a thin
	// crossover separation means the crossover is likely noise.
	volRatio := 0.0
	if last.Close != 0 {
		volRatio = atrVal / last.Close
	}
	confidence := clamp01(separation*20 - volRatio*5)
	score := confidence * 10

	snapshot := domain.SignalSnapshot{
		Timestamp:  last.CloseTime,
		Side:       side,
		Confidence: confidence,
		Score:      score,
		Features:   encodeFeatures(shortVal, longVal, rsiVal, atrVal),
	}

	s.logger.Debug(ctx, "signal computed", map[string]interface{}{
		"symbol": symbol, "timeframe": timeframe, "side": side, "score": score, "rsi": rsiVal,
	})

	return snapshot, nil
}

func abs(f float64) float64 {
	if f < 0 {
		return -f
	}
	return f
}

func clamp01(f float64) float64 {
	if f < 0 {
		return 0
	}
	if f > 1 {
		return 1
	}
	return f
}

// encodeFeatures produces the opaque snapshot stored verbatim on a
// Position at entry (spec §3.1 "feature_snapshot (opaque)").
func encodeFeatures(shortMA, longMA, rsi, atr float64) []byte {
	return []byte(fmt.Sprintf(`{"short_ma":%.6f,"long_ma":%.6f,"rsi":%.4f,"atr":%.6f}`, shortMA, longMA, rsi, atr))
}
