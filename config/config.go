// Package config loads the engine's two configuration layers: process
// credentials from the environment (validated eagerly at startup, the
// teacher's own LoadConfig shape) and the hot-reloadable strategy/risk
// tier document as YAML, polled by modification time (spec §6.3),
// grounded on AlejandroRuiz99-polybot's config.Load (yaml.Unmarshal +
// env-override + setDefaults pattern).
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"cryptoMegaBot/internal/adapters/logger"
)

// Config holds process-level credentials and connection settings,
// loaded once from the environment at startup.
type Config struct {
	// Binance API
	APIKey    string
	SecretKey string
	IsTestnet bool

	// Storage
	DBPath string

	// Telegram notifier (§5 mailbox)
	TelegramBotToken string
	TelegramChatID   int64

	// Logging
	LogLevel logger.LogLevel

	// Connection settings
	ReconnectDelay       time.Duration
	MaxReconnectAttempts int

	// StrategyConfigPath points at the hot-reloadable YAML document
	// (StrategyDocument) this process polls every StrategyPollInterval.
	StrategyConfigPath string
	StrategyPollInterval time.Duration

	// AdminListenAddr is loaded from ADMIN_LISTEN_ADDR. No component
	// reads it: the engine opens no admin listener, and cmd/adminctl
	// reaches the running engine only through its pid file (§6.5).
	AdminListenAddr string
}

// LoadConfig loads process configuration from environment variables
// (.env via godotenv, consistent with the teacher's LoadConfig).
func LoadConfig() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{}
	var errs []string

	cfg.APIKey = getEnv("BINANCE_API_KEY", "")
	cfg.SecretKey = getEnv("BINANCE_API_SECRET", "")
	cfg.IsTestnet = getEnvAsBool("IS_TESTNET", true)
	if cfg.APIKey == "" {
		errs = append(errs, "BINANCE_API_KEY must be set")
	}
	if cfg.SecretKey == "" {
		errs = append(errs, "BINANCE_API_SECRET must be set")
	}

	cfg.DBPath = getEnv("DB_PATH", "./data/engine.db")
	if cfg.DBPath == "" {
		errs = append(errs, "DB_PATH must be set")
	}

	cfg.TelegramBotToken = getEnv("TELEGRAM_BOT_TOKEN", "")
	chatIDStr := getEnv("TELEGRAM_CHAT_ID", "0")
	chatID, err := strconv.ParseInt(chatIDStr, 10, 64)
	if err != nil {
		errs = append(errs, fmt.Sprintf("invalid TELEGRAM_CHAT_ID: %v", err))
	}
	cfg.TelegramChatID = chatID

	cfg.LogLevel = logger.ParseLevel(getEnv("LOG_LEVEL", "INFO"))

	reconnectDelaySeconds := getEnvAsInt("RECONNECT_DELAY_SECONDS", 5)
	if reconnectDelaySeconds <= 0 {
		errs = append(errs, "RECONNECT_DELAY_SECONDS must be positive")
	}
	cfg.ReconnectDelay = time.Duration(reconnectDelaySeconds) * time.Second

	cfg.MaxReconnectAttempts = getEnvAsInt("MAX_RECONNECT_ATTEMPTS", 10)
	if cfg.MaxReconnectAttempts < 0 {
		errs = append(errs, "MAX_RECONNECT_ATTEMPTS cannot be negative")
	}

	cfg.StrategyConfigPath = getEnv("STRATEGY_CONFIG_PATH", "./config/strategy.yaml")
	pollSeconds := getEnvAsInt("STRATEGY_POLL_SECONDS", 60)
	if pollSeconds <= 0 {
		errs = append(errs, "STRATEGY_POLL_SECONDS must be positive")
	}
	cfg.StrategyPollInterval = time.Duration(pollSeconds) * time.Second

	cfg.AdminListenAddr = getEnv("ADMIN_LISTEN_ADDR", "")

	if len(errs) > 0 {
		return nil, fmt.Errorf("configuration validation failed: %s", strings.Join(errs, "; "))
	}
	return cfg, nil
}

// --- Env var helpers (teacher's config package) ---

func getEnv(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}
