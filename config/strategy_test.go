package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type noopLogger struct{}

func (noopLogger) Debug(ctx context.Context, msg string, fields ...map[string]interface{}) {}
func (noopLogger) Info(ctx context.Context, msg string, fields ...map[string]interface{})  {}
func (noopLogger) Warn(ctx context.Context, msg string, fields ...map[string]interface{})  {}
func (noopLogger) Error(ctx context.Context, err error, msg string, fields ...map[string]interface{}) {
}

const sampleDoc = `
version: "v1"
signal:
  short_ma_period: 10
  long_ma_period: 30
risk:
  max_leverage: 5
  tiers:
    - min_score: 0
      leverage: 2
      margin_usdt: 25
entry_score_threshold: 3
`

func writeTempDoc(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "strategy.yaml")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))
	return path
}

func TestNewStrategyStore_LoadsAndAppliesDefaults(t *testing.T) {
	path := writeTempDoc(t, sampleDoc)

	store, err := NewStrategyStore(path, time.Hour, noopLogger{})
	require.NoError(t, err)

	doc := store.Current()
	assert.Equal(t, "v1", doc.Version)
	assert.Equal(t, 10, doc.Signal.ShortMAPeriod)
	assert.Equal(t, 30, doc.Signal.LongMAPeriod)
	assert.Equal(t, 14, doc.Signal.RSIPeriod) // defaulted
	assert.Equal(t, 5, doc.Risk.MaxLeverage)
	require.Len(t, doc.Risk.Tiers, 1)
	assert.Equal(t, 2, doc.Risk.Tiers[0].Leverage)

	riskCfg := doc.RiskConfig()
	assert.Equal(t, 5, riskCfg.MaxLeverage)
	require.Len(t, riskCfg.Tiers, 1)

	signalCfg := doc.SignalConfig()
	assert.Equal(t, 10, signalCfg.ShortMAPeriod)
}

func TestStrategyStore_Watch_ReloadsOnFileChange(t *testing.T) {
	path := writeTempDoc(t, sampleDoc)

	store, err := NewStrategyStore(path, 5*time.Millisecond, noopLogger{})
	require.NoError(t, err)
	assert.Equal(t, "v1", store.Current().Version)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go store.Watch(ctx)

	time.Sleep(10 * time.Millisecond)
	updated := `
version: "v2"
signal:
  short_ma_period: 10
  long_ma_period: 30
`
	// ensure a distinct mtime on filesystems with coarse timestamp resolution
	time.Sleep(10 * time.Millisecond)
	require.NoError(t, os.WriteFile(path, []byte(updated), 0o644))

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if store.Current().Version == "v2" {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	assert.Equal(t, "v2", store.Current().Version)
}
