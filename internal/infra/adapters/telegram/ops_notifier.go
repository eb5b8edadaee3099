package telegram

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"

	"whatsapp-voice-subscription/internal/domain/ports/adapter"
)

var (
	_ adapter.OpsNotifier = (*OpsNotifier)(nil)
	_ adapter.OpsNotifier = (*NoopOpsNotifier)(nil)
)

// sender is the part of tgbotapi.BotAPI used here.
type sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// OpsNotifier posts operator alerts to one Telegram chat.
type OpsNotifier struct {
	bot    sender
	chatID int64
	log    *zerolog.Logger
}

func NewOpsNotifier(token string, chatID int64, logger *zerolog.Logger) (*OpsNotifier, error) {
	if token == "" || chatID == 0 {
		return nil, errors.New("telegram token and chat id are required")
	}
	bot, err := tgbotapi.NewBotAPIWithClient(token, tgbotapi.APIEndpoint, &http.Client{Timeout: 10 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("telegram bot: %w", err)
	}
	l := logger.With().Str("component", "OpsNotifier").Logger()
	l.Info().Str("bot", bot.Self.UserName).Int64("chat_id", chatID).Msg("ops alerts enabled")
	return &OpsNotifier{bot: bot, chatID: chatID, log: &l}, nil
}

// Notify sends text. The bot API has no context support, so a cancelled ctx
// abandons the wait while the request finishes in the background.
func (n *OpsNotifier) Notify(ctx context.Context, text string) error {
	msg := tgbotapi.NewMessage(n.chatID, text)
	msg.DisableWebPagePreview = true

	done := make(chan error, 1)
	go func() {
		_, err := n.bot.Send(msg)
		done <- err
	}()
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// NoopOpsNotifier logs alerts instead of sending them.
type NoopOpsNotifier struct {
	log *zerolog.Logger
}

func NewNoopOpsNotifier(logger *zerolog.Logger) *NoopOpsNotifier {
	l := logger.With().Str("component", "OpsNotifier").Logger()
	return &NoopOpsNotifier{log: &l}
}

func (n *NoopOpsNotifier) Notify(_ context.Context, text string) error {
	n.log.Info().Str("alert", text).Msg("ops alert (telegram disabled)")
	return nil
}
