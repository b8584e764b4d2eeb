package config

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"cryptoMegaBot/internal/ports"
	"cryptoMegaBot/internal/risk"
	"cryptoMegaBot/internal/signalsource"
)

// StrategyDocument is the hot-reloadable YAML shape (spec §6.3): new
// opens pick up whatever StrategyStore.Current() returns at the time;
// positions already open keep the ConfigVersion they were opened with.
type StrategyDocument struct {
	Version string `yaml:"version"`

	Signal struct {
		ShortMAPeriod int     `yaml:"short_ma_period"`
		LongMAPeriod  int     `yaml:"long_ma_period"`
		RSIPeriod     int     `yaml:"rsi_period"`
		RSIOverbought float64 `yaml:"rsi_overbought"`
		RSIOversold   float64 `yaml:"rsi_oversold"`
		ATRPeriod     int     `yaml:"atr_period"`
	} `yaml:"signal"`

	Risk struct {
		DrawdownLimit     float64 `yaml:"drawdown_limit"`
		DailyLossLimit    float64 `yaml:"daily_loss_limit"`
		SLCooldownMinutes int     `yaml:"sl_cooldown_minutes"`
		MaxLeverage       int     `yaml:"max_leverage"`
		Tiers             []struct {
			MinScore   float64 `yaml:"min_score"`
			Leverage   int     `yaml:"leverage"`
			MarginUSDT float64 `yaml:"margin_usdt"`
		} `yaml:"tiers"`
	} `yaml:"risk"`

	EntryScoreThreshold float64 `yaml:"entry_score_threshold"`
	// ExitScoreThreshold gates the signal-flip exit (spec §4.3.4)
	// separately from entry; defaults to EntryScoreThreshold when unset
	// so a document that only sets one threshold still behaves sanely.
	ExitScoreThreshold float64 `yaml:"exit_score_threshold"`
}

// SignalConfig converts the YAML signal block into signalsource.Config.
func (d StrategyDocument) SignalConfig() signalsource.Config {
	return signalsource.Config{
		ShortMAPeriod: d.Signal.ShortMAPeriod,
		LongMAPeriod:  d.Signal.LongMAPeriod,
		RSIPeriod:     d.Signal.RSIPeriod,
		RSIOverbought: d.Signal.RSIOverbought,
		RSIOversold:   d.Signal.RSIOversold,
		ATRPeriod:     d.Signal.ATRPeriod,
	}
}

// RiskConfig converts the YAML risk block into risk.Config.
func (d StrategyDocument) RiskConfig() risk.Config {
	tiers := make([]risk.SizingTier, 0, len(d.Risk.Tiers))
	for _, t := range d.Risk.Tiers {
		tiers = append(tiers, risk.SizingTier{
			MinScore:   t.MinScore,
			Leverage:   t.Leverage,
			MarginUSDT: decimalFromFloat(t.MarginUSDT),
		})
	}
	return risk.Config{
		DrawdownLimit:  decimalFromFloat(d.Risk.DrawdownLimit),
		DailyLossLimit: decimalFromFloat(d.Risk.DailyLossLimit),
		SLCooldown:     time.Duration(d.Risk.SLCooldownMinutes) * time.Minute,
		MaxLeverage:    d.Risk.MaxLeverage,
		Tiers:          tiers,
	}
}

// StrategyStore polls StrategyConfigPath's modification time and
// reloads the YAML document when it changes (spec §6.3: polled every
// 60s by default). Grounded on AlejandroRuiz99-polybot's config.Load
// (yaml.Unmarshal + defaults), generalized from a load-once CLI config
// into a poll-and-swap live document.
type StrategyStore struct {
	path     string
	interval time.Duration
	logger   ports.Logger

	mu      sync.RWMutex
	current StrategyDocument
	modTime time.Time
}

// NewStrategyStore loads path once synchronously and returns a store
// ready for Watch to be called.
func NewStrategyStore(path string, interval time.Duration, logger ports.Logger) (*StrategyStore, error) {
	s := &StrategyStore{path: path, interval: interval, logger: logger}
	if err := s.reload(); err != nil {
		return nil, err
	}
	return s, nil
}

// Current returns the most recently loaded document. Safe for
// concurrent use.
func (s *StrategyStore) Current() StrategyDocument {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current
}

// Watch polls the file's modification time every interval and reloads
// on change, until ctx is cancelled.
func (s *StrategyStore) Watch(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			info, err := os.Stat(s.path)
			if err != nil {
				s.logger.Warn(ctx, "strategy config: stat failed, keeping current document", map[string]interface{}{"path": s.path, "error": err.Error()})
				continue
			}
			s.mu.RLock()
			unchanged := info.ModTime().Equal(s.modTime)
			s.mu.RUnlock()
			if unchanged {
				continue
			}
			if err := s.reload(); err != nil {
				s.logger.Warn(ctx, "strategy config: reload failed, keeping current document", map[string]interface{}{"path": s.path, "error": err.Error()})
				continue
			}
			s.logger.Info(ctx, "strategy config: reloaded", map[string]interface{}{"path": s.path, "version": s.Current().Version})
		}
	}
}

// Reload forces an immediate re-read of the document outside the
// regular poll cycle (spec §6.5 reload_config, driven by the admin
// API rather than Watch's ticker).
func (s *StrategyStore) Reload() error {
	return s.reload()
}

func (s *StrategyStore) reload() error {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return fmt.Errorf("strategy config: read %q: %w", s.path, err)
	}
	var doc StrategyDocument
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("strategy config: parse YAML: %w", err)
	}
	applyStrategyDefaults(&doc)

	info, statErr := os.Stat(s.path)

	s.mu.Lock()
	s.current = doc
	if statErr == nil {
		s.modTime = info.ModTime()
	}
	s.mu.Unlock()
	return nil
}

func decimalFromFloat(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}

func applyStrategyDefaults(d *StrategyDocument) {
	if d.Version == "" {
		d.Version = "unversioned"
	}
	if d.Signal.ShortMAPeriod <= 0 {
		d.Signal.ShortMAPeriod = 20
	}
	if d.Signal.LongMAPeriod <= 0 {
		d.Signal.LongMAPeriod = 50
	}
	if d.Signal.RSIPeriod <= 0 {
		d.Signal.RSIPeriod = 14
	}
	if d.Signal.RSIOverbought <= 0 {
		d.Signal.RSIOverbought = 70
	}
	if d.Signal.RSIOversold <= 0 {
		d.Signal.RSIOversold = 30
	}
	if d.Signal.ATRPeriod <= 0 {
		d.Signal.ATRPeriod = 14
	}
	if d.Risk.DrawdownLimit <= 0 {
		d.Risk.DrawdownLimit = 0.10
	}
	if d.Risk.DailyLossLimit <= 0 {
		d.Risk.DailyLossLimit = 0.03
	}
	if d.Risk.SLCooldownMinutes <= 0 {
		d.Risk.SLCooldownMinutes = 120
	}
	if d.Risk.MaxLeverage <= 0 {
		d.Risk.MaxLeverage = 12
	}
	if len(d.Risk.Tiers) == 0 {
		d.Risk.Tiers = []struct {
			MinScore   float64 `yaml:"min_score"`
			Leverage   int     `yaml:"leverage"`
			MarginUSDT float64 `yaml:"margin_usdt"`
		}{{MinScore: 0, Leverage: 3, MarginUSDT: 50}}
	}
	if d.EntryScoreThreshold <= 0 {
		d.EntryScoreThreshold = 5
	}
	if d.ExitScoreThreshold <= 0 {
		d.ExitScoreThreshold = d.EntryScoreThreshold
	}
}
