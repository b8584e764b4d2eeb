package signalsource

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cryptoMegaBot/internal/domain"
)

type noopLogger struct{}

func (noopLogger) Debug(ctx context.Context, msg string, fields ...map[string]interface{}) {}
func (noopLogger) Info(ctx context.Context, msg string, fields ...map[string]interface{})  {}
func (noopLogger) Warn(ctx context.Context, msg string, fields ...map[string]interface{})  {}
func (noopLogger) Error(ctx context.Context, err error, msg string, fields ...map[string]interface{}) {
}

type fakeFeed struct {
	klines []*domain.Kline
	err    error
}

func (f *fakeFeed) GetKlines(ctx context.Context, symbol, interval string, limit int) ([]*domain.Kline, error) {
	if f.err != nil {
		return nil, f.err
	}
	if limit > len(f.klines) {
		limit = len(f.klines)
	}
	return f.klines[len(f.klines)-limit:], nil
}

// uptrend builds n klines whose close price rises steadily, producing a
// clean bullish EMA crossover with thin ATR.
func uptrend(n int, start float64, step float64) []*domain.Kline {
	out := make([]*domain.Kline, n)
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	price := start
	for i := 0; i < n; i++ {
		price += step
		out[i] = &domain.Kline{
			OpenTime:  base.Add(time.Duration(i) * time.Hour),
			CloseTime: base.Add(time.Duration(i+1) * time.Hour),
			Symbol:    "BTCUSDT",
			Interval:  "1h",
			Open:      price - step,
			High:      price + 0.5,
			Low:       price - step - 0.5,
			Close:     price,
			Volume:    100,
			IsFinal:   true,
		}
	}
	return out
}

// risingWithPullbacks builds n klines that alternate a +3 and a -2 close
// move: a net uptrend with a bullish EMA crossover whose pullbacks keep
// RSI well below the overbought line (a steady rise drives RSI to 100,
// which vetoes the Buy).
func risingWithPullbacks(n int, start float64) []*domain.Kline {
	out := make([]*domain.Kline, n)
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	price := start
	for i := 0; i < n; i++ {
		prev := price
		if i%2 == 0 {
			price += 3
		} else {
			price -= 2
		}
		out[i] = &domain.Kline{
			OpenTime:  base.Add(time.Duration(i) * time.Hour),
			CloseTime: base.Add(time.Duration(i+1) * time.Hour),
			Symbol:    "BTCUSDT",
			Interval:  "1h",
			Open:      prev,
			High:      math.Max(prev, price) + 0.5,
			Low:       math.Min(prev, price) - 0.5,
			Close:     price,
			Volume:    100,
			IsFinal:   true,
		}
	}
	return out
}

func flat(n int, price float64) []*domain.Kline {
	out := make([]*domain.Kline, n)
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < n; i++ {
		out[i] = &domain.Kline{
			OpenTime:  base.Add(time.Duration(i) * time.Hour),
			CloseTime: base.Add(time.Duration(i+1) * time.Hour),
			Symbol:    "BTCUSDT",
			Interval:  "1h",
			Open:      price,
			High:      price + 1,
			Low:       price - 1,
			Close:     price,
			Volume:    100,
			IsFinal:   true,
		}
	}
	return out
}

func testConfig() Config {
	return Config{ShortMAPeriod: 5, LongMAPeriod: 10, RSIPeriod: 5, ATRPeriod: 5}
}

func TestSource_Latest_BullishCrossoverProducesBuySignal(t *testing.T) {
	feed := &fakeFeed{klines: risingWithPullbacks(60, 100)}
	src := New(feed, testConfig(), noopLogger{})

	snap, err := src.Latest(context.Background(), "BTCUSDT", "1h")
	require.NoError(t, err)
	assert.Equal(t, domain.SignalBuy, snap.Side)
	assert.Greater(t, snap.Score, 0.0)
	assert.NotEmpty(t, snap.Features)
}

func TestSource_Latest_FlatMarketProducesNoSignal(t *testing.T) {
	feed := &fakeFeed{klines: flat(60, 100)}
	src := New(feed, testConfig(), noopLogger{})

	snap, err := src.Latest(context.Background(), "BTCUSDT", "1h")
	require.NoError(t, err)
	assert.Equal(t, domain.SignalNone, snap.Side)
}

func TestSource_Latest_InsufficientHistoryReturnsNoSignalNotError(t *testing.T) {
	feed := &fakeFeed{klines: uptrend(3, 100, 1)}
	src := New(feed, testConfig(), noopLogger{})

	snap, err := src.Latest(context.Background(), "BTCUSDT", "1h")
	require.NoError(t, err)
	assert.Equal(t, domain.SignalNone, snap.Side)
}

func TestSource_RequiredDataPoints_CoversAllIndicators(t *testing.T) {
	src := New(&fakeFeed{}, Config{ShortMAPeriod: 5, LongMAPeriod: 50, RSIPeriod: 14, ATRPeriod: 20}, noopLogger{})
	assert.Equal(t, 50, src.RequiredDataPoints())
}
