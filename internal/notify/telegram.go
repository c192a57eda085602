package notify

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	tele "gopkg.in/telebot.v4"

	"reminder-dispatcher/internal/model"
)

type TelegramOptions struct {
	Token   string
	BaseURL string // Bot API server, default https://api.telegram.org
	Timeout time.Duration
}

// Telegram delivers reminders as bot messages. The record identity is the
// numeric chat id the user opened with the bot.
type Telegram struct {
	bot *tele.Bot
}

func NewTelegram(opts TelegramOptions) (*Telegram, error) {
	token := strings.TrimSpace(opts.Token)
	if token == "" {
		return nil, errors.New("telegram token is empty")
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	b, err := tele.NewBot(tele.Settings{
		Token:   token,
		URL:     strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/"),
		Client:  &http.Client{Timeout: timeout},
		Offline: true, // send-only: no getMe round trip, no poller
	})
	if err != nil {
		return nil, err
	}
	return &Telegram{bot: b}, nil
}

func (t *Telegram) Send(ctx context.Context, identity, content string) model.Outcome {
	chatID, err := strconv.ParseInt(strings.TrimSpace(identity), 10, 64)
	if err != nil {
		return model.Failure("identity is not a telegram chat id: " + identity)
	}
	// telebot takes no context; once the request is out only the client
	// timeout bounds it.
	if err := ctx.Err(); err != nil {
		return model.Failure(err.Error())
	}
	if _, err := t.bot.Send(tele.ChatID(chatID), content); err != nil {
		return model.Failure(truncate(err.Error(), 300))
	}
	return model.Success()
}
