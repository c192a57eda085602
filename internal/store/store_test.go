package store

import (
	"context"
	"sort"
	"strconv"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"reminder-dispatcher/internal/logx"
	"reminder-dispatcher/internal/model"
)

func scanAll(t *testing.T, s RecordStore) []string {
	t.Helper()
	var (
		cursor uint64
		all    []string
	)
	for i := 0; ; i++ {
		require.Less(t, i, 1000, "scan did not terminate")
		next, keys, err := s.Scan(context.Background(), cursor)
		require.NoError(t, err)
		all = append(all, keys...)
		cursor = next
		if cursor == 0 {
			break
		}
	}
	sort.Strings(all)
	return all
}

// scanMutating runs a full iteration and calls mutate after every batch,
// before the next Scan call. It returns every key in the order seen.
func scanMutating(t *testing.T, s RecordStore, mutate func(batch []string)) []string {
	t.Helper()
	var (
		cursor uint64
		seen   []string
	)
	for i := 0; ; i++ {
		require.Less(t, i, 1000, "scan did not terminate")
		next, keys, err := s.Scan(context.Background(), cursor)
		require.NoError(t, err)
		seen = append(seen, keys...)
		mutate(keys)
		cursor = next
		if cursor == 0 {
			return seen
		}
	}
}

func newMiniStore(t *testing.T, match string) (*miniredis.Miniredis, *RedisStore) {
	t.Helper()
	mr := miniredis.RunT(t)
	s, err := NewRedisStore(context.Background(), RedisOptions{URL: "redis://" + mr.Addr(), Match: match, ScanCount: 2}, logx.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return mr, s
}

func TestRedisStoreScanAndGet(t *testing.T) {
	mr, s := newMiniStore(t, "")
	for i := 0; i < 7; i++ {
		mr.HSet("u"+strconv.Itoa(i), "identity", "id"+strconv.Itoa(i), "receivedAt", "2024-01-01T00:00:00Z")
	}

	keys := scanAll(t, s)
	assert.Equal(t, []string{"u0", "u1", "u2", "u3", "u4", "u5", "u6"}, keys)

	fields, err := s.GetAll(context.Background(), "u3")
	require.NoError(t, err)
	assert.Equal(t, "id3", fields["identity"])

	fields, err = s.GetAll(context.Background(), "missing")
	require.NoError(t, err)
	assert.Empty(t, fields)
}

func TestRedisStoreMatchPattern(t *testing.T) {
	mr, s := newMiniStore(t, "1*")
	mr.HSet("1234567890", "identity", "a")
	mr.HSet("other", "identity", "b")

	assert.Equal(t, []string{"1234567890"}, scanAll(t, s))
}

func TestRedisStoreDelete(t *testing.T) {
	mr, s := newMiniStore(t, "")
	mr.HSet("u1", "identity", "abc")

	require.NoError(t, s.Delete(context.Background(), "u1"))
	assert.False(t, mr.Exists("u1"))
	require.NoError(t, s.Delete(context.Background(), "u1"), "deleting a missing key is fine")
}

func TestRedisStoreRecordAttempt(t *testing.T) {
	mr, s := newMiniStore(t, "")
	mr.HSet("u1", "identity", "abc")
	at := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

	n, err := s.RecordAttempt(context.Background(), "u1", at)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	n, err = s.RecordAttempt(context.Background(), "u1", at.Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, "2", mr.HGet("u1", model.AttemptsField))
	assert.Equal(t, "2024-05-01T10:01:00Z", mr.HGet("u1", model.LastAttemptField))

	n, err = s.RecordAttempt(context.Background(), "gone", at)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.False(t, mr.Exists("gone"), "vanished record must not be recreated")
}

func TestNewRedisStoreFailsWithoutServer(t *testing.T) {
	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()

	_, err := NewRedisStore(context.Background(), RedisOptions{Addr: addr, DialTimeout: 200 * time.Millisecond}, logx.Nop())
	require.Error(t, err)
}

func TestNewRedisStoreBadURL(t *testing.T) {
	_, err := NewRedisStore(context.Background(), RedisOptions{URL: "http://nope"}, logx.Nop())
	require.Error(t, err)
}

func TestMemoryStorePagination(t *testing.T) {
	s := NewMemoryStore(3)
	for i := 0; i < 8; i++ {
		s.Put("k"+strconv.Itoa(i), map[string]string{"identity": "x"})
	}

	next, keys, err := s.Scan(context.Background(), 0)
	require.NoError(t, err)
	assert.Equal(t, uint64(4), next)
	assert.Equal(t, []string{"k0", "k1", "k2"}, keys)

	assert.Len(t, scanAll(t, s), 8)
}

func TestMemoryStoreRecordAttemptAndClose(t *testing.T) {
	s := NewMemoryStore(0)
	s.Put("u1", map[string]string{"identity": "abc"})

	n, err := s.RecordAttempt(context.Background(), "u1", time.Now())
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	n, err = s.RecordAttempt(context.Background(), "nope", time.Now())
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.False(t, s.Has("nope"))

	require.NoError(t, s.Close())
	_, _, err = s.Scan(context.Background(), 0)
	assert.ErrorIs(t, err, ErrClosed)
}

func TestMemoryStoreScanSurvivesDeletes(t *testing.T) {
	s := NewMemoryStore(2)
	for i := 0; i < 9; i++ {
		s.Put("u"+strconv.Itoa(i), map[string]string{"identity": "x"})
	}

	// A pass deletes every key it was handed before asking for the next batch.
	seen := scanMutating(t, s, func(batch []string) {
		for _, k := range batch {
			require.NoError(t, s.Delete(context.Background(), k))
		}
	})
	assert.Equal(t, []string{"u0", "u1", "u2", "u3", "u4", "u5", "u6", "u7", "u8"}, seen)
	assert.Zero(t, s.Len())
}

func TestMemoryStoreScanWithConcurrentChanges(t *testing.T) {
	s := NewMemoryStore(2)
	for i := 0; i < 6; i++ {
		s.Put("u"+strconv.Itoa(i), map[string]string{"identity": "x"})
	}

	first := true
	seen := scanMutating(t, s, func(batch []string) {
		if !first {
			return
		}
		first = false
		require.Equal(t, []string{"u0", "u1"}, batch)
		require.NoError(t, s.Delete(context.Background(), "u0"))
		require.NoError(t, s.Delete(context.Background(), "u4"))
		s.Put("new", map[string]string{"identity": "y"})
		s.Put("u2", map[string]string{"identity": "rewritten"})
	})

	assert.Equal(t, []string{"u0", "u1", "u2", "u3", "u5", "new"}, seen)
	assert.NotContains(t, seen, "u4", "deleted before it was reached")
}

func TestRedisStoreScanWithConcurrentChanges(t *testing.T) {
	mr, s := newMiniStore(t, "")
	all := []string{"u0", "u1", "u2", "u3", "u4", "u5", "u6"}
	for _, k := range all {
		mr.HSet(k, "identity", "x")
	}

	var (
		first   = true
		deleted string
	)
	seen := scanMutating(t, s, func(batch []string) {
		if !first {
			return
		}
		first = false
		returned := map[string]bool{}
		for _, k := range batch {
			returned[k] = true
		}
		for i := len(all) - 1; i >= 0; i-- {
			if !returned[all[i]] {
				deleted = all[i]
				break
			}
		}
		if deleted != "" {
			mr.Del(deleted)
		}
		mr.HSet("u9", "identity", "y")
	})

	for _, k := range all {
		if k == deleted {
			continue
		}
		assert.Contains(t, seen, k, "key present for the whole iteration must be returned")
	}
	if deleted != "" {
		assert.NotContains(t, seen, deleted)
	}
}
