package notifier

import (
	"context"
	"errors"
	"strings"
	"time"

	tele "gopkg.in/telebot.v4"
)

// Telegram delivers notifications to a single chat.
type Telegram struct {
	bot    *tele.Bot
	chatID int64
}

// NewTelegram builds the delivery channel. It validates the token with
// the Telegram API once at construction time.
func NewTelegram(token string, chatID int64, pollTimeout time.Duration) (*Telegram, error) {
	if strings.TrimSpace(token) == "" {
		return nil, errors.New("telegram token is empty")
	}
	if chatID == 0 {
		return nil, errors.New("telegram chat_id is required")
	}
	if pollTimeout <= 0 {
		pollTimeout = 10 * time.Second
	}
	b, err := tele.NewBot(tele.Settings{
		Token:  token,
		Poller: &tele.LongPoller{Timeout: pollTimeout},
	})
	if err != nil {
		return nil, err
	}
	return &Telegram{bot: b, chatID: chatID}, nil
}

func (t *Telegram) Send(ctx context.Context, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	chat := &tele.Chat{ID: t.chatID}
	_, err := t.bot.Send(chat, text, &tele.SendOptions{DisableWebPagePreview: true})
	return err
}
