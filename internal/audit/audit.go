// Package audit keeps a durable trail of delivery attempts so an operator can
// tell which reminders were sent, which keep failing and which were sent but
// could not be cleaned up (and will therefore be sent again).
//
// Backends:
//   - "sqlite": a local database file (modernc.org/sqlite, no cgo)
//   - "postgres": a shared database (github.com/lib/pq)
//
// An empty driver or "none" disables the audit log; Open then returns (nil, nil)
// and callers treat a nil Store as "do not record".
package audit

import (
	"context"
	"errors"
	"strings"
	"time"

	"reminder-dispatcher/internal/logx"
)

var ErrDisabled = errors.New("audit disabled")

type Action string

const (
	ActionSent         Action = "sent"
	ActionSendFailed   Action = "send_failed"
	ActionDeleteFailed Action = "delete_failed"
)

// Entry is one delivery attempt.
type Entry struct {
	At       time.Time `json:"at"`
	PassID   string    `json:"pass_id"`
	Key      string    `json:"key"`
	Identity string    `json:"identity"`
	Action   Action    `json:"action"`
	Error    string    `json:"error,omitempty"`
}

type Config struct {
	Driver string
	DSN    string
}

// Store is the audit persistence API.
type Store interface {
	Append(ctx context.Context, e Entry) error
	Recent(ctx context.Context, limit int) ([]Entry, error)
	Close() error
}

// Open initializes the configured audit store.
func Open(ctx context.Context, cfg Config, log logx.Logger) (Store, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	if driver == "" || driver == "none" {
		return nil, nil
	}
	if log.IsZero() {
		log = logx.Nop()
	}

	switch driver {
	case "sqlite", "sqlite3":
		return openSQL(ctx, sqliteDialect, cfg.DSN, log)
	case "postgres", "postgresql":
		return openSQL(ctx, postgresDialect, cfg.DSN, log)
	default:
		return nil, errors.New("unknown audit driver: " + driver)
	}
}
