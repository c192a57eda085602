package audit

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"

	"reminder-dispatcher/internal/logx"
)

type dialect struct {
	name    string
	driver  string
	schema  string
	insert  string
	recent  string
	prepare func(dsn string) error
}

var sqliteDialect = dialect{
	name:   "sqlite",
	driver: "sqlite",
	schema: `
CREATE TABLE IF NOT EXISTS delivery_audit (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	at_ms      INTEGER NOT NULL,
	pass_id    TEXT    NOT NULL,
	record_key TEXT    NOT NULL,
	identity   TEXT    NOT NULL,
	action     TEXT    NOT NULL,
	err        TEXT
);
CREATE INDEX IF NOT EXISTS delivery_audit_key ON delivery_audit(record_key);`,
	insert: `INSERT INTO delivery_audit(at_ms, pass_id, record_key, identity, action, err) VALUES(?,?,?,?,?,?)`,
	recent: `SELECT at_ms, pass_id, record_key, identity, action, err FROM delivery_audit ORDER BY id DESC LIMIT ?`,
	prepare: func(dsn string) error {
		// The database file's directory must exist before the driver opens it.
		if strings.HasPrefix(dsn, "file:") || strings.Contains(dsn, ":memory:") {
			return nil
		}
		return os.MkdirAll(filepath.Dir(dsn), 0o755)
	},
}

var postgresDialect = dialect{
	name:   "postgres",
	driver: "postgres",
	schema: `
CREATE TABLE IF NOT EXISTS delivery_audit (
	id         BIGSERIAL PRIMARY KEY,
	at_ms      BIGINT NOT NULL,
	pass_id    TEXT   NOT NULL,
	record_key TEXT   NOT NULL,
	identity   TEXT   NOT NULL,
	action     TEXT   NOT NULL,
	err        TEXT
);
CREATE INDEX IF NOT EXISTS delivery_audit_key ON delivery_audit(record_key);`,
	insert: `INSERT INTO delivery_audit(at_ms, pass_id, record_key, identity, action, err) VALUES($1,$2,$3,$4,$5,$6)`,
	recent: `SELECT at_ms, pass_id, record_key, identity, action, err FROM delivery_audit ORDER BY id DESC LIMIT $1`,
}

type sqlStore struct {
	db      *sql.DB
	dialect dialect
	log     logx.Logger
}

func openSQL(ctx context.Context, d dialect, dsn string, log logx.Logger) (Store, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return nil, fmt.Errorf("%s audit dsn is required", d.name)
	}
	if d.prepare != nil {
		if err := d.prepare(dsn); err != nil {
			return nil, err
		}
	}

	db, err := sql.Open(d.driver, dsn)
	if err != nil {
		return nil, err
	}
	if d.name == "sqlite" {
		// SQLite prefers a single writer.
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
	}

	st := &sqlStore{db: db, dialect: d, log: log}
	if err := st.migrate(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("%s audit migrate: %w", d.name, err)
	}
	log.Info("audit store ready", logx.String("driver", d.name))
	return st, nil
}

func (s *sqlStore) migrate(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := s.db.PingContext(ctx); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx, s.dialect.schema)
	return err
}

func (s *sqlStore) Append(ctx context.Context, e Entry) error {
	if s == nil || s.db == nil {
		return ErrDisabled
	}
	if e.At.IsZero() {
		e.At = time.Now()
	}
	_, err := s.db.ExecContext(ctx, s.dialect.insert,
		e.At.UnixMilli(), e.PassID, e.Key, e.Identity, string(e.Action), nullStr(e.Error),
	)
	return err
}

func (s *sqlStore) Recent(ctx context.Context, limit int) ([]Entry, error) {
	if s == nil || s.db == nil {
		return nil, ErrDisabled
	}
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx, s.dialect.recent, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var (
			e      Entry
			ms     int64
			action string
			errStr sql.NullString
		)
		if err := rows.Scan(&ms, &e.PassID, &e.Key, &e.Identity, &action, &errStr); err != nil {
			return nil, err
		}
		e.At = time.UnixMilli(ms)
		e.Action = Action(action)
		e.Error = errStr.String
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *sqlStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func nullStr(v string) any {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return v
}

// IsDisabled reports whether err means "no audit store configured".
func IsDisabled(err error) bool { return errors.Is(err, ErrDisabled) }
