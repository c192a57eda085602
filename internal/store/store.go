package store

import (
	"context"
	"errors"
	"time"
)

var ErrClosed = errors.New("store closed")

// RecordStore is the key-value contract the dispatcher consumes.
// Implemented by Redis in production and by MemoryStore in tests.
type RecordStore interface {
	// Scan returns one batch of keys and the cursor for the next call.
	// A returned cursor of 0 ends the iteration. A key present for the whole
	// iteration is returned at least once; keys created or deleted
	// mid-iteration may be seen zero or more times.
	Scan(ctx context.Context, cursor uint64) (next uint64, keys []string, err error)

	// GetAll returns every field of key. An empty map means the key is gone.
	GetAll(ctx context.Context, key string) (map[string]string, error)

	// Delete removes key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error

	// RecordAttempt bumps the attempt counter of an existing record and stamps
	// the attempt time. It never recreates a vanished record; in that case
	// it returns 0 attempts and no error.
	RecordAttempt(ctx context.Context, key string, at time.Time) (attempts int, err error)

	Close() error
}
