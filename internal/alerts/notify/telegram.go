package notify

import (
	"context"
	"errors"
	"fmt"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

type messageSender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// TelegramChannel sends notifications to a Telegram chat through a bot.
type TelegramChannel struct {
	bot    messageSender
	chatID int64
}

// NewTelegramChannel authorizes the bot token and targets chatID.
func NewTelegramChannel(token string, chatID int64) (*TelegramChannel, error) {
	if token == "" {
		return nil, errors.New("telegram channel: empty token")
	}
	if chatID == 0 {
		return nil, errors.New("telegram channel: empty chat id")
	}
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("telegram channel: failed to create bot: %w", err)
	}
	return &TelegramChannel{bot: bot, chatID: chatID}, nil
}

// Send posts content as a plain text message. The bot API call is not
// context-aware; cancellation is checked before sending.
func (t *TelegramChannel) Send(ctx context.Context, content string) error {
	if t == nil || t.bot == nil {
		return errors.New("telegram channel: not configured")
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	msg := tgbotapi.NewMessage(t.chatID, content)
	msg.DisableWebPagePreview = true
	if _, err := t.bot.Send(msg); err != nil {
		return fmt.Errorf("telegram channel: %w", err)
	}
	return nil
}
