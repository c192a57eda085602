package worker

import (
	"context"
	"errors"
	"time"

	"reminder-dispatcher/internal/model"
	"reminder-dispatcher/internal/store"
)

// Finding is a record a dispatch pass would never resolve on its own.
type Finding struct {
	Key      string `json:"key"`
	Identity string `json:"identity,omitempty"`
	Problem  string `json:"problem"`
	Attempts int    `json:"attempts,omitempty"`
}

// Inspect walks the keyspace without sending, recording or deleting anything
// and lists malformed and retry-exhausted records. A key that cannot be read
// is listed with the read error and the walk carries on.
func Inspect(ctx context.Context, st store.RecordStore, s Settings, now time.Time, maxBatches int) ([]Finding, error) {
	s = s.withDefaults()
	ages := AgeEvaluator{Threshold: s.Delay, Layout: s.Schema.TimeLayout}
	var out []Finding
	_, err := walkKeys(ctx, st, maxBatches, func(b scanBatch) error {
		for _, key := range b.Keys {
			if !s.Filter.Eligible(key) {
				continue
			}
			fields, err := st.GetAll(ctx, key)
			if err != nil {
				out = append(out, Finding{Key: key, Problem: "read failed: " + err.Error()})
				continue
			}
			if len(fields) == 0 {
				continue
			}
			if f, ok := inspectRecord(key, fields, s, ages, now); ok {
				out = append(out, f)
			}
		}
		return nil
	})
	return out, err
}

func inspectRecord(key string, fields map[string]string, s Settings, ages AgeEvaluator, now time.Time) (Finding, bool) {
	rec, err := model.ParseRecord(key, fields, s.Schema)
	if err != nil {
		f := Finding{Key: key, Identity: fields[s.Schema.IdentityField], Problem: err.Error()}
		var me *model.MalformedError
		if errors.As(err, &me) {
			f.Problem = me.Reason.Error()
		}
		return f, true
	}
	if ages.Classify(rec.ReceivedAt, now) == VerdictIndeterminate {
		return Finding{Key: key, Identity: rec.Identity, Problem: model.ErrBadTimestamp.Error()}, true
	}
	if s.Retry.Tracks() && s.Retry.Decide(rec.Attempts, rec.LastAttempt.Time(), now) == RetryExhausted {
		return Finding{Key: key, Identity: rec.Identity, Problem: model.ErrAttemptsExhausted.Error(), Attempts: rec.Attempts}, true
	}
	return Finding{}, false
}
