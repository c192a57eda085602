package worker

import (
	"fmt"
	"math"
	"time"
)

type RetryDecision int

const (
	RetrySend RetryDecision = iota
	RetryWait
	RetryExhausted
)

func (d RetryDecision) String() string {
	switch d {
	case RetryWait:
		return "wait"
	case RetryExhausted:
		return "exhausted"
	default:
		return "send"
	}
}

// RetryPolicy decides whether a due record that already failed should be
// attempted again on this pass. attempts counts earlier failed sends.
type RetryPolicy interface {
	// Tracks reports whether failed sends must be recorded on the record.
	Tracks() bool
	Decide(attempts int, lastAttempt, now time.Time) RetryDecision
	String() string
}

// Unbounded retries on every pass with no backoff and no cap.
type Unbounded struct{}

func (Unbounded) Tracks() bool                                   { return false }
func (Unbounded) Decide(int, time.Time, time.Time) RetryDecision { return RetrySend }
func (Unbounded) String() string                                 { return "unbounded" }

// Backoff waits Base*2^(attempts-1), capped at Max, between attempts and
// gives up after MaxAttempts failures (0 = never gives up).
type Backoff struct {
	MaxAttempts int
	Base        time.Duration
	Max         time.Duration
}

func (b Backoff) Tracks() bool { return true }

func (b Backoff) Decide(attempts int, lastAttempt, now time.Time) RetryDecision {
	if b.MaxAttempts > 0 && attempts >= b.MaxAttempts {
		return RetryExhausted
	}
	if attempts <= 0 || lastAttempt.IsZero() {
		return RetrySend
	}
	if now.Sub(lastAttempt) < b.Delay(attempts) {
		return RetryWait
	}
	return RetrySend
}

// Delay is the wait imposed after the given number of failures.
func (b Backoff) Delay(attempts int) time.Duration {
	if b.Base <= 0 || attempts <= 0 {
		return 0
	}
	d := b.Base
	for i := 1; i < attempts; i++ {
		if b.Max > 0 && d >= b.Max {
			break
		}
		if d > math.MaxInt64/2 {
			return time.Duration(math.MaxInt64)
		}
		d *= 2
	}
	if b.Max > 0 && d > b.Max {
		d = b.Max
	}
	return d
}

func (b Backoff) String() string {
	return fmt.Sprintf("backoff(max_attempts=%d base=%s max=%s)", b.MaxAttempts, b.Base, b.Max)
}

// NewRetryPolicy returns Unbounded when neither a cap nor a delay is set.
func NewRetryPolicy(maxAttempts int, base, maxDelay time.Duration) RetryPolicy {
	if maxAttempts <= 0 && base <= 0 {
		return Unbounded{}
	}
	return Backoff{MaxAttempts: maxAttempts, Base: base, Max: maxDelay}
}
