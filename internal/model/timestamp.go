package model

import (
	"fmt"
	"strings"
	"time"
)

// DefaultTimeLayout is the documented receivedAt format. It accepts the
// ISO-8601 strings produced by JavaScript's Date.toISOString as well.
const DefaultTimeLayout = time.RFC3339

// Timestamp is a parsed receivedAt value. The zero value means "unknown".
type Timestamp struct {
	t time.Time
}

func NewTimestamp(t time.Time) Timestamp { return Timestamp{t: t} }

// ParseTimestamp parses raw with layout. Empty layout means DefaultTimeLayout.
func ParseTimestamp(raw, layout string) (Timestamp, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return Timestamp{}, ErrBadTimestamp
	}
	if layout == "" {
		layout = DefaultTimeLayout
	}
	t, err := time.Parse(layout, raw)
	if err != nil {
		return Timestamp{}, fmt.Errorf("%w: %q", ErrBadTimestamp, raw)
	}
	return Timestamp{t: t}, nil
}

func (ts Timestamp) IsZero() bool     { return ts.t.IsZero() }
func (ts Timestamp) Time() time.Time  { return ts.t }
func (ts Timestamp) String() string   { return ts.Format(DefaultTimeLayout) }
func (ts Timestamp) UnixMilli() int64 { return ts.t.UnixMilli() }

// Format renders the timestamp, empty for the zero value.
func (ts Timestamp) Format(layout string) string {
	if ts.t.IsZero() {
		return ""
	}
	if layout == "" {
		layout = DefaultTimeLayout
	}
	return ts.t.Format(layout)
}

// Age is the elapsed time between the timestamp and now.
func (ts Timestamp) Age(now time.Time) time.Duration {
	return now.Sub(ts.t)
}
