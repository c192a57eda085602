package worker

import (
	"time"

	"reminder-dispatcher/internal/model"
)

type Verdict int

const (
	// VerdictIndeterminate: the receipt time is unknown, the record is malformed.
	VerdictIndeterminate Verdict = iota
	// VerdictDeferred: not old enough yet, look again next pass.
	VerdictDeferred
	// VerdictDue: the delay has elapsed.
	VerdictDue
)

func (v Verdict) String() string {
	switch v {
	case VerdictDeferred:
		return "deferred"
	case VerdictDue:
		return "due"
	default:
		return "indeterminate"
	}
}

// HasAged reports whether now-receivedAt >= threshold. The boundary is inclusive.
func HasAged(receivedAt model.Timestamp, now time.Time, threshold time.Duration) bool {
	return !receivedAt.IsZero() && receivedAt.Age(now) >= threshold
}

// AgeEvaluator classifies records against a delay threshold.
type AgeEvaluator struct {
	Threshold time.Duration
	Layout    string
}

// Classify judges an already parsed timestamp.
func (a AgeEvaluator) Classify(receivedAt model.Timestamp, now time.Time) Verdict {
	if receivedAt.IsZero() {
		return VerdictIndeterminate
	}
	if HasAged(receivedAt, now, a.Threshold) {
		return VerdictDue
	}
	return VerdictDeferred
}

// Evaluate parses raw with the evaluator's layout and classifies it.
func (a AgeEvaluator) Evaluate(raw string, now time.Time) (Verdict, model.Timestamp) {
	ts, err := model.ParseTimestamp(raw, a.Layout)
	if err != nil {
		return VerdictIndeterminate, model.Timestamp{}
	}
	return a.Classify(ts, now), ts
}

// Remaining is how long until receivedAt becomes due; 0 once it is.
func (a AgeEvaluator) Remaining(receivedAt model.Timestamp, now time.Time) time.Duration {
	left := a.Threshold - receivedAt.Age(now)
	if left < 0 {
		return 0
	}
	return left
}
