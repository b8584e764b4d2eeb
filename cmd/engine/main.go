// Command engine is the primary entrypoint: it loads configuration,
// wires every adapter and core component per profile, and runs the
// Scheduler until an interrupt signal requests graceful shutdown.
// Grounded on the teacher's root main.go wiring order (config → logger
// → repository → adapters → service → Start), generalized from one
// hardcoded symbol/strategy into the Profile-driven multi-exchange
// fan-out this engine supports.
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"

	"cryptoMegaBot/config"
	"cryptoMegaBot/internal/adapters/binanceclient"
	"cryptoMegaBot/internal/adapters/logger"
	"cryptoMegaBot/internal/adapters/notify"
	"cryptoMegaBot/internal/adapters/paperclient"
	"cryptoMegaBot/internal/adapters/sqlite"
	"cryptoMegaBot/internal/domain"
	"cryptoMegaBot/internal/ports"
	"cryptoMegaBot/internal/reconciler"
	"cryptoMegaBot/internal/risk"
	"cryptoMegaBot/internal/scheduler"
	"cryptoMegaBot/internal/signalsource"
	"cryptoMegaBot/internal/slot"
	"cryptoMegaBot/internal/trader"

	"github.com/shopspring/decimal"
)

// pidFilePath places the engine's PID file alongside its database so
// cmd/adminctl can find a running instance without a network transport
// (spec §6.5 shutdown(), delivered as an OS signal).
func pidFilePath(dbPath string) string {
	return filepath.Join(filepath.Dir(dbPath), "engine.pid")
}

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("FATAL: failed to load configuration: %v", err)
	}

	appLogger := logger.NewStdLogger(cfg.LogLevel)
	ctx := context.Background()
	appLogger.Info(ctx, "engine starting", map[string]interface{}{"logLevel": cfg.LogLevel.String()})

	repo, err := sqlite.NewRepository(sqlite.Config{DBPath: cfg.DBPath, Logger: appLogger})
	if err != nil {
		appLogger.Error(ctx, err, "FATAL: failed to initialize repository")
		os.Exit(1)
	}
	defer func() {
		if err := repo.Close(); err != nil {
			appLogger.Error(ctx, err, "error closing repository")
		}
	}()

	profileStore := sqlite.NewProfileStore(repo)
	cooldownStore := sqlite.NewCooldownStore(repo)
	riskMetricsStore := sqlite.NewRiskMetricsStore(repo)

	notifier, err := notify.New(notify.Config{BotToken: cfg.TelegramBotToken, ChatID: cfg.TelegramChatID, Logger: appLogger})
	if err != nil {
		appLogger.Error(ctx, err, "FATAL: failed to initialize notifier")
		os.Exit(1)
	}

	strategyStore, err := config.NewStrategyStore(cfg.StrategyConfigPath, cfg.StrategyPollInterval, appLogger)
	if err != nil {
		appLogger.Error(ctx, err, "FATAL: failed to load strategy configuration")
		os.Exit(1)
	}

	liveClient, err := binanceclient.New(binanceclient.Config{
		APIKey: cfg.APIKey, SecretKey: cfg.SecretKey, UseTestnet: cfg.IsTestnet,
		Logger: appLogger, ReconnectDelay: cfg.ReconnectDelay, MaxReconnectAttempts: cfg.MaxReconnectAttempts,
		RequestsPerSecond: 10,
	})
	if err != nil {
		appLogger.Error(ctx, err, "FATAL: failed to initialize Binance client")
		os.Exit(1)
	}
	if err := liveClient.LoadExchangeInfo(ctx); err != nil {
		appLogger.Warn(ctx, "failed to preload exchange info, precision lookups will use default precision", map[string]interface{}{"error": err.Error()})
	}

	profiles, err := profileStore.ListActive(ctx)
	if err != nil {
		appLogger.Error(ctx, err, "FATAL: failed to load profiles")
		os.Exit(1)
	}
	if len(profiles) == 0 {
		appLogger.Warn(ctx, "no active profiles configured; engine has nothing to run")
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	go strategyStore.Watch(runCtx)

	units := make([]scheduler.ProfileUnit, 0, len(profiles))
	for _, profile := range profiles {
		unit, err := buildProfileUnit(profile, liveClient, repo, cooldownStore, riskMetricsStore, strategyStore, appLogger, notifier)
		if err != nil {
			appLogger.Error(ctx, err, "failed to wire profile, skipping", map[string]interface{}{"profile": profile.ID})
			continue
		}
		units = append(units, unit)
	}

	// cmd/adminctl is a second process against the same database and
	// exchange credentials (internal/admin), not a client of this one —
	// the only admin action this process itself participates in is
	// shutdown(), delivered as a signal against the pid file below.
	pidPath := pidFilePath(cfg.DBPath)
	if err := os.WriteFile(pidPath, []byte(strconv.Itoa(os.Getpid())), 0o644); err != nil {
		appLogger.Warn(ctx, "failed to write pid file, cmd/adminctl shutdown() will be unavailable", map[string]interface{}{"error": err.Error()})
	}
	defer os.Remove(pidPath)

	sched := scheduler.New(scheduler.Config{}, units, appLogger)

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	go func() {
		sig := <-stop
		appLogger.Info(ctx, "shutdown signal received", map[string]interface{}{"signal": fmt.Sprint(sig)})
		cancel()
	}()

	sched.Run(runCtx)
	appLogger.Info(ctx, "engine stopped")
}

// buildProfileUnit wires one profile's exchange adapter (live Binance
// for EnvLive, the in-memory paper adapter fed by the live mark-price
// feed for EnvTest, per spec §6.4), Trader, Reconciler, and signal
// source into a scheduler.ProfileUnit.
func buildProfileUnit(
	profile *domain.Profile,
	liveClient *binanceclient.Client,
	positions ports.PositionStore,
	cooldowns ports.CooldownRepository,
	riskMetrics ports.RiskMetricsRepository,
	strategyStore *config.StrategyStore,
	appLogger ports.Logger,
	notifier ports.Notifier,
) (scheduler.ProfileUnit, error) {
	var exchange ports.ExchangeAdapter = liveClient
	if profile.Environment == domain.EnvTest {
		exchange = paperclient.New(paperclient.Config{
			Logger: appLogger, Feed: liveClient, Name: profile.Exchange + "-paper",
			StartingWallet: decimal.NewFromInt(10000),
		})
	}

	doc := strategyStore.Current()
	gate := risk.NewGate(doc.RiskConfig(), riskMetrics, cooldowns, positions, appLogger, notifier)
	tr := trader.New(trader.Config{}, profile, exchange, positions, gate, appLogger, notifier)
	rec := reconciler.New(reconciler.Config{}, profile, exchange, positions, gate, tr, appLogger, notifier)
	signals := signalsource.New(liveClient, doc.SignalConfig(), appLogger)

	return scheduler.ProfileUnit{
		Profile: profile, Exchange: exchange, Positions: positions,
		Trader: tr, Reconciler: rec, Signals: signals,
		SlotConfig: slot.Config{EntryScoreThreshold: doc.EntryScoreThreshold, ExitScoreThreshold: doc.ExitScoreThreshold},
	}, nil
}
