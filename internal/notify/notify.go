// Package notify holds the outbound notification adapters.
//
// Every adapter implements Client. A Client performs exactly one outbound call
// per Send and never retries on its own; retry belongs to the dispatcher. All
// failures, including transport errors, auth errors and API rejections, come
// back as a failed model.Outcome rather than an error or a panic.
package notify

import (
	"context"
	"fmt"
	"strings"
	"time"

	"reminder-dispatcher/internal/logx"
	"reminder-dispatcher/internal/model"
)

type Client interface {
	Send(ctx context.Context, identity, content string) model.Outcome
}

// ClientFunc adapts a function to Client.
type ClientFunc func(ctx context.Context, identity, content string) model.Outcome

func (f ClientFunc) Send(ctx context.Context, identity, content string) model.Outcome {
	return f(ctx, identity, content)
}

// Config selects and configures an adapter.
type Config struct {
	Driver     string // messenger | telegram | log
	Timeout    time.Duration
	RatePerSec float64

	Messenger MessengerOptions
	Telegram  TelegramOptions
}

// New builds the configured client, wrapped in a rate limiter when RatePerSec > 0.
func New(cfg Config, log logx.Logger) (Client, error) {
	if log.IsZero() {
		log = logx.Nop()
	}
	var (
		c   Client
		err error
	)
	switch strings.ToLower(strings.TrimSpace(cfg.Driver)) {
	case "", "messenger":
		opts := cfg.Messenger
		if opts.Timeout <= 0 {
			opts.Timeout = cfg.Timeout
		}
		c, err = NewMessenger(opts)
	case "telegram":
		opts := cfg.Telegram
		if opts.Timeout <= 0 {
			opts.Timeout = cfg.Timeout
		}
		c, err = NewTelegram(opts)
	case "log":
		c = NewLog(log)
	default:
		return nil, fmt.Errorf("unknown notify driver %q", cfg.Driver)
	}
	if err != nil {
		return nil, err
	}
	if cfg.RatePerSec > 0 {
		c = Throttled(c, cfg.RatePerSec)
	}
	return c, nil
}

// Log is a dry-run client: it only logs and always succeeds.
type Log struct {
	log logx.Logger
}

func NewLog(log logx.Logger) *Log { return &Log{log: log} }

func (l *Log) Send(ctx context.Context, identity, content string) model.Outcome {
	if err := ctx.Err(); err != nil {
		return model.Failure(err.Error())
	}
	l.log.Info("dry-run notification", logx.String("identity", identity), logx.Int("content_len", len(content)))
	return model.Success()
}

func truncate(s string, maxN int) string {
	if maxN <= 0 || len(s) <= maxN {
		return s
	}
	if maxN < 10 {
		return s[:maxN]
	}
	return s[:maxN-3] + "..."
}
