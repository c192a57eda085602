package model

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

var (
	ErrMissingIdentity   = errors.New("identity field missing")
	ErrBadTimestamp      = errors.New("receivedAt field missing or unparseable")
	ErrAttemptsExhausted = errors.New("delivery attempts exhausted")
)

// Schema names the hash fields a pending record is stored under.
type Schema struct {
	IdentityField   string
	ReceivedAtField string
	TimeLayout      string
}

const (
	DefaultIdentityField   = "identity"
	DefaultReceivedAtField = "receivedAt"

	AttemptsField    = "attempts"
	LastAttemptField = "lastAttemptAt"
)

// DefaultSchema returns the field names used when no override is configured.
func DefaultSchema() Schema {
	return Schema{
		IdentityField:   DefaultIdentityField,
		ReceivedAtField: DefaultReceivedAtField,
		TimeLayout:      DefaultTimeLayout,
	}
}

func (s Schema) withDefaults() Schema {
	if strings.TrimSpace(s.IdentityField) == "" {
		s.IdentityField = DefaultIdentityField
	}
	if strings.TrimSpace(s.ReceivedAtField) == "" {
		s.ReceivedAtField = DefaultReceivedAtField
	}
	if strings.TrimSpace(s.TimeLayout) == "" {
		s.TimeLayout = DefaultTimeLayout
	}
	return s
}

// PendingRecord is one outstanding reminder read from the store.
type PendingRecord struct {
	Key         string
	Identity    string
	ReceivedAt  Timestamp
	Attempts    int
	LastAttempt Timestamp
}

// MalformedError reports a record that can never be dispatched as-is.
type MalformedError struct {
	Key    string
	Reason error
}

func (e *MalformedError) Error() string {
	return fmt.Sprintf("malformed record %q: %v", e.Key, e.Reason)
}

func (e *MalformedError) Unwrap() error { return e.Reason }

// ParseRecord validates a raw field map once at the read boundary.
// The returned error is always a *MalformedError.
func ParseRecord(key string, fields map[string]string, schema Schema) (PendingRecord, error) {
	schema = schema.withDefaults()
	rec := PendingRecord{Key: key}

	rec.Identity = strings.TrimSpace(fields[schema.IdentityField])
	if rec.Identity == "" {
		return rec, &MalformedError{Key: key, Reason: ErrMissingIdentity}
	}

	ts, err := ParseTimestamp(fields[schema.ReceivedAtField], schema.TimeLayout)
	if err != nil {
		return rec, &MalformedError{Key: key, Reason: err}
	}
	rec.ReceivedAt = ts

	// Bookkeeping fields are optional; garbage there only resets the counter.
	if raw := strings.TrimSpace(fields[AttemptsField]); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			rec.Attempts = n
		}
	}
	if raw := fields[LastAttemptField]; raw != "" {
		if last, err := ParseTimestamp(raw, time.RFC3339Nano); err == nil {
			rec.LastAttempt = last
		}
	}
	return rec, nil
}

// Outcome is the result of one outbound notification call.
type Outcome struct {
	OK     bool
	Reason string
	Status int // transport status code when known
}

func Success() Outcome { return Outcome{OK: true} }

func Failure(reason string) Outcome { return Outcome{Reason: reason} }

func (o Outcome) String() string {
	if o.OK {
		return "success"
	}
	if o.Status != 0 {
		return fmt.Sprintf("failure (%d): %s", o.Status, o.Reason)
	}
	return "failure: " + o.Reason
}
