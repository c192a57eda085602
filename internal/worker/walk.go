package worker

import (
	"context"

	"reminder-dispatcher/internal/store"
)

const defaultMaxBatches = 100000

// scanBatch is one Scan result with keys already returned earlier in the same
// walk removed.
type scanBatch struct {
	Keys       []string
	Scanned    int
	Duplicates int
}

// walkKeys pages through st once and hands every batch to visit. It stops on
// ctx cancellation, a Scan or visit error, or after maxBatches batches; the
// last case reports truncated with a nil error.
func walkKeys(ctx context.Context, st store.RecordStore, maxBatches int, visit func(scanBatch) error) (truncated bool, err error) {
	if maxBatches <= 0 {
		maxBatches = defaultMaxBatches
	}
	seen := make(map[string]struct{})
	var cursor uint64
	for batch := 0; ; batch++ {
		if err := ctx.Err(); err != nil {
			return false, err
		}
		if batch >= maxBatches {
			return true, nil
		}

		next, keys, err := st.Scan(ctx, cursor)
		if err != nil {
			return false, err
		}

		b := scanBatch{Keys: keys[:0:0], Scanned: len(keys)}
		for _, key := range keys {
			if _, ok := seen[key]; ok {
				b.Duplicates++
				continue
			}
			seen[key] = struct{}{}
			b.Keys = append(b.Keys, key)
		}
		if err := visit(b); err != nil {
			return false, err
		}

		cursor = next
		if cursor == 0 {
			return false, nil
		}
	}
}
