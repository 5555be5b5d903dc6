package telegram

import (
	"context"
	"errors"
	"fmt"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"

	"render-credit-platform/internal/config"
	"render-credit-platform/internal/domain/ports/adapter"
)

var _ adapter.OperatorNotifier = (*BotNotifier)(nil)

type sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// BotNotifier posts operator alerts into one Telegram chat.
type BotNotifier struct {
	bot    sender
	chatID int64
	log    *zerolog.Logger
}

func NewBotNotifier(cfg config.NotifyConfig, logger *zerolog.Logger) (*BotNotifier, error) {
	if cfg.TelegramToken == "" || cfg.ChatID == 0 {
		return nil, errors.New("notify.telegram_token and notify.chat_id are required")
	}
	bot, err := tgbotapi.NewBotAPI(cfg.TelegramToken)
	if err != nil {
		return nil, fmt.Errorf("telegram bot: %w", err)
	}
	return newBotNotifier(bot, cfg.ChatID, logger), nil
}

func newBotNotifier(bot sender, chatID int64, logger *zerolog.Logger) *BotNotifier {
	l := logger.With().Str("component", "TelegramNotifier").Logger()
	return &BotNotifier{bot: bot, chatID: chatID, log: &l}
}

func (n *BotNotifier) Notify(ctx context.Context, a adapter.Alert) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}
	msg := tgbotapi.NewMessage(n.chatID, formatAlert(a))
	msg.DisableWebPagePreview = true
	if _, err := n.bot.Send(msg); err != nil {
		n.log.Warn().Err(err).Str("kind", string(a.Kind)).Str("job_id", a.JobID).Msg("alert not delivered")
		return err
	}
	return nil
}

func formatAlert(a adapter.Alert) string {
	var b strings.Builder
	fmt.Fprintf(&b, "[%s]", strings.ToUpper(string(a.Kind)))
	if a.JobID != "" {
		fmt.Fprintf(&b, " job=%s", a.JobID)
	}
	if a.UserID != "" {
		fmt.Fprintf(&b, " user=%s", a.UserID)
	}
	if a.Text != "" {
		b.WriteString("\n")
		b.WriteString(a.Text)
	}
	return b.String()
}
