// Command adminctl is the operator CLI for the admin API (spec §6.5).
// It is a second process, not a client of the running engine over a
// new transport: it opens the same SQLite database and, for
// commands that touch the exchange, the same credentials, and renders
// results directly — mirroring cmd/engine's own wiring order on a
// much smaller scale. shutdown() is the one exception, delivered as a
// SIGTERM to the PID cmd/engine recorded at startup.
//
// Usage:
//
//	adminctl list_positions [profile_id]
//	adminctl force_close <pos_key>
//	adminctl resume_after_circuit_breaker <profile_id>
//	adminctl reload_config
//	adminctl shutdown
package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"syscall"

	"github.com/olekukonko/tablewriter"

	"cryptoMegaBot/config"
	"cryptoMegaBot/internal/adapters/binanceclient"
	"cryptoMegaBot/internal/adapters/logger"
	"cryptoMegaBot/internal/adapters/sqlite"
	"cryptoMegaBot/internal/admin"
	"cryptoMegaBot/internal/risk"
	"cryptoMegaBot/internal/trader"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}
	command := os.Args[1]
	args := os.Args[2:]

	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "adminctl: failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	appLogger := logger.NewStdLogger(cfg.LogLevel)
	ctx := context.Background()

	if command == "shutdown" {
		if err := sendShutdown(cfg.DBPath); err != nil {
			fmt.Fprintf(os.Stderr, "adminctl: shutdown failed: %v\n", err)
			os.Exit(1)
		}
		fmt.Println("shutdown signal sent")
		return
	}

	repo, err := sqlite.NewRepository(sqlite.Config{DBPath: cfg.DBPath, Logger: appLogger})
	if err != nil {
		fmt.Fprintf(os.Stderr, "adminctl: failed to open repository: %v\n", err)
		os.Exit(1)
	}
	defer repo.Close()

	strategyStore, err := config.NewStrategyStore(cfg.StrategyConfigPath, cfg.StrategyPollInterval, appLogger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "adminctl: failed to load strategy configuration: %v\n", err)
		os.Exit(1)
	}

	if command == "reload_config" {
		if err := strategyStore.Reload(); err != nil {
			fmt.Fprintf(os.Stderr, "adminctl: reload_config failed: %v\n", err)
			os.Exit(1)
		}
		fmt.Println("strategy configuration reloaded")
		return
	}

	profileStore := sqlite.NewProfileStore(repo)
	cooldownStore := sqlite.NewCooldownStore(repo)
	riskMetricsStore := sqlite.NewRiskMetricsStore(repo)

	profiles, err := profileStore.ListActive(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "adminctl: failed to load profiles: %v\n", err)
		os.Exit(1)
	}

	liveClient, err := binanceclient.New(binanceclient.Config{
		APIKey: cfg.APIKey, SecretKey: cfg.SecretKey, UseTestnet: cfg.IsTestnet, Logger: appLogger,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "adminctl: failed to initialize exchange client: %v\n", err)
		os.Exit(1)
	}

	handles := make(map[int64]admin.ProfileHandle, len(profiles))
	doc := strategyStore.Current()
	for _, profile := range profiles {
		gate := risk.NewGate(doc.RiskConfig(), riskMetricsStore, cooldownStore, repo, appLogger, nil)
		tr := trader.New(trader.Config{}, profile, liveClient, repo, gate, appLogger, nil)
		handles[profile.ID] = admin.ProfileHandle{Trader: tr, Gate: gate, Exchange: liveClient}
	}

	svc := admin.New(repo, handles, strategyStore, func() {}, appLogger)

	switch command {
	case "list_positions":
		runListPositions(ctx, svc, args)
	case "force_close":
		if len(args) != 1 {
			fmt.Fprintln(os.Stderr, "usage: adminctl force_close <pos_key>")
			os.Exit(1)
		}
		if err := svc.ForceClose(ctx, args[0]); err != nil {
			fmt.Fprintf(os.Stderr, "adminctl: force_close failed: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("position %s closed\n", args[0])
	case "resume_after_circuit_breaker":
		if len(args) != 1 {
			fmt.Fprintln(os.Stderr, "usage: adminctl resume_after_circuit_breaker <profile_id>")
			os.Exit(1)
		}
		profileID, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			fmt.Fprintf(os.Stderr, "adminctl: invalid profile_id %q: %v\n", args[0], err)
			os.Exit(1)
		}
		if err := svc.ResumeAfterCircuitBreaker(ctx, profileID); err != nil {
			fmt.Fprintf(os.Stderr, "adminctl: resume_after_circuit_breaker failed: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("profile %d circuit breaker resumed\n", profileID)
	default:
		usage()
		os.Exit(1)
	}
}

func runListPositions(ctx context.Context, svc *admin.Service, args []string) {
	var profileID *int64
	if len(args) == 1 {
		id, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			fmt.Fprintf(os.Stderr, "adminctl: invalid profile_id %q: %v\n", args[0], err)
			os.Exit(1)
		}
		profileID = &id
	}

	positions, err := svc.ListPositions(ctx, profileID)
	if err != nil {
		fmt.Fprintf(os.Stderr, "adminctl: list_positions failed: %v\n", err)
		os.Exit(1)
	}
	if len(positions) == 0 {
		fmt.Println("no open positions")
		return
	}

	table := tablewriter.NewWriter(os.Stdout)
	table.Header("Profile", "PosKey", "Symbol", "Side", "Qty", "Entry", "SL", "TP", "Status")
	for _, p := range positions {
		table.Append(
			strconv.FormatInt(p.ProfileID, 10),
			p.PosKey,
			p.Symbol,
			string(p.Side),
			p.Qty.String(),
			p.EntryPrice.String(),
			p.SLPrice.String(),
			p.TPPrice.String(),
			string(p.Status),
		)
	}
	table.Render()
}

func sendShutdown(dbPath string) error {
	pidPath := filepath.Join(filepath.Dir(dbPath), "engine.pid")
	data, err := os.ReadFile(pidPath)
	if err != nil {
		return fmt.Errorf("read pid file %q: %w", pidPath, err)
	}
	pid, err := strconv.Atoi(string(data))
	if err != nil {
		return fmt.Errorf("parse pid file %q: %w", pidPath, err)
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		return fmt.Errorf("find process %d: %w", pid, err)
	}
	return proc.Signal(syscall.SIGTERM)
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage: adminctl <list_positions [profile_id]|force_close <pos_key>|resume_after_circuit_breaker <profile_id>|reload_config|shutdown>")
}
