// Package notify implements ports.Notifier for the operator alert
// channel (spec §1, §7: auth failures, circuit breaker trips, WAITING_SYNC
// escalations all flow through here as a best-effort, fire-and-forget
// sink).
package notify

import (
	"context"
	"fmt"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"golang.org/x/time/rate"

	"cryptoMegaBot/internal/ports"
)

// telegramMessageLimit is Telegram's hard per-message character cap.
const telegramMessageLimit = 4096

// TelegramNotifier sends operator alerts to a single chat, rate-limited
// so a burst of RiskGate rejections or reconciler retries can never
// trip Telegram's own throttling.
type TelegramNotifier struct {
	bot     *tgbotapi.BotAPI
	chatID  int64
	logger  ports.Logger
	limiter *rate.Limiter
}

// Config configures the Telegram notifier.
type Config struct {
	BotToken string
	ChatID   int64
	Logger   ports.Logger
	// MessagesPerSecond caps outbound throughput; Telegram recommends
	// staying under ~30/s globally and ~1/s per chat for safety.
	MessagesPerSecond float64
}

// New creates a Telegram-backed Notifier. A zero-value BotToken returns
// a notifier that silently drops messages, so profiles without
// operator alerting configured don't need conditional wiring elsewhere.
func New(cfg Config) (*TelegramNotifier, error) {
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger is required for Telegram notifier")
	}
	if cfg.BotToken == "" {
		cfg.Logger.Warn(context.Background(), "Telegram bot token not configured; notifications disabled")
		return &TelegramNotifier{logger: cfg.Logger}, nil
	}

	bot, err := tgbotapi.NewBotAPI(cfg.BotToken)
	if err != nil {
		return nil, fmt.Errorf("init telegram bot: %w", err)
	}

	rps := cfg.MessagesPerSecond
	if rps <= 0 {
		rps = 2
	}

	cfg.Logger.Info(context.Background(), "Telegram notifier authorized", map[string]interface{}{"account": bot.Self.UserName})

	return &TelegramNotifier{
		bot:     bot,
		chatID:  cfg.ChatID,
		logger:  cfg.Logger,
		limiter: rate.NewLimiter(rate.Limit(rps), 1),
	}, nil
}

// Notify sends message, chunking it across Telegram's 4096-character
// limit and never blocking the caller's trading-path goroutine (spec
// §7: notifier failures never propagate to trading logic).
func (n *TelegramNotifier) Notify(ctx context.Context, message string) {
	if n.bot == nil || n.chatID == 0 {
		return
	}

	chunks := chunkMessage(message, telegramMessageLimit)
	go func() {
		for _, chunk := range chunks {
			if err := n.limiter.Wait(context.Background()); err != nil {
				n.logger.Warn(ctx, "telegram rate limiter wait failed", map[string]interface{}{"error": err.Error()})
				return
			}
			msg := tgbotapi.NewMessage(n.chatID, chunk)
			if _, err := n.bot.Send(msg); err != nil {
				n.logger.Warn(ctx, "failed to send telegram notification", map[string]interface{}{"error": err.Error()})
			}
		}
	}()
}

// SetChatID lets the engine auto-discover the operator's chat on first
// /start, mirroring a common Telegram bot pattern where the chat id
// isn't known until the operator first messages the bot.
func (n *TelegramNotifier) SetChatID(id int64) {
	n.chatID = id
}

func chunkMessage(msg string, limit int) []string {
	if len(msg) <= limit {
		return []string{msg}
	}
	var chunks []string
	runes := []rune(msg)
	for len(runes) > 0 {
		n := limit
		if n > len(runes) {
			n = len(runes)
		}
		chunks = append(chunks, string(runes[:n]))
		runes = runes[n:]
	}
	return chunks
}
