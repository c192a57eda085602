package worker

import (
	"sync"
	"time"
)

// PassReport summarizes one pass over the keyspace.
type PassReport struct {
	ID       string        `json:"id"`
	Started  time.Time     `json:"started"`
	Duration time.Duration `json:"duration"`

	Batches    int `json:"batches"`
	Scanned    int `json:"scanned"`
	Duplicates int `json:"duplicates"`

	Filtered   int `json:"filtered"`
	Vanished   int `json:"vanished"`
	ReadFailed int `json:"read_failed"`
	Malformed  int `json:"malformed"`
	Exhausted  int `json:"exhausted"`
	Deferred   int `json:"deferred"`
	BackingOff int `json:"backing_off"`

	Sent         int `json:"sent"`
	SendFailed   int `json:"send_failed"`
	Deleted      int `json:"deleted"`
	DeleteFailed int `json:"delete_failed"`

	// Truncated is set when the pass hit the batch cap before the store
	// reported the end of iteration.
	Truncated bool `json:"truncated,omitempty"`
	// Error is why the pass stopped early (scan failure or shutdown).
	Error string `json:"error,omitempty"`
}

// Complete reports whether the pass walked the whole keyspace.
func (r PassReport) Complete() bool { return !r.Truncated && r.Error == "" }

type keyResult int

const (
	resultFiltered keyResult = iota
	resultVanished
	resultReadFailed
	resultMalformed
	resultExhausted
	resultDeferred
	resultBackingOff
	resultSendFailed
	resultDeleteFailed
	resultDelivered
)

// tally collects per-key results from concurrent workers.
type tally struct {
	mu sync.Mutex
	r  PassReport
}

func (t *tally) add(res keyResult) {
	t.mu.Lock()
	defer t.mu.Unlock()
	switch res {
	case resultFiltered:
		t.r.Filtered++
	case resultVanished:
		t.r.Vanished++
	case resultReadFailed:
		t.r.ReadFailed++
	case resultMalformed:
		t.r.Malformed++
	case resultExhausted:
		t.r.Exhausted++
	case resultDeferred:
		t.r.Deferred++
	case resultBackingOff:
		t.r.BackingOff++
	case resultSendFailed:
		t.r.SendFailed++
	case resultDeleteFailed:
		t.r.Sent++
		t.r.DeleteFailed++
	case resultDelivered:
		t.r.Sent++
		t.r.Deleted++
	}
}

func (t *tally) update(fn func(r *PassReport)) {
	t.mu.Lock()
	fn(&t.r)
	t.mu.Unlock()
}

func (t *tally) snapshot() PassReport {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.r
}
