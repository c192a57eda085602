package store

import (
	"context"
	"path"
	"sort"
	"strconv"
	"sync"
	"time"

	"reminder-dispatcher/internal/model"
)

// MemoryStore is an in-process RecordStore. Every key gets a sequence number
// when first stored and the Scan cursor is the next sequence to return, so a
// key present for a whole iteration is returned exactly once no matter what
// is deleted around it. Keys created mid-iteration are returned too.
type MemoryStore struct {
	mu      sync.Mutex
	records map[string]map[string]string
	seqs    map[string]uint64
	nextSeq uint64
	match   string
	batch   int
	closed  bool
}

func NewMemoryStore(batch int) *MemoryStore {
	if batch <= 0 {
		batch = 10
	}
	return &MemoryStore{
		records: map[string]map[string]string{},
		seqs:    map[string]uint64{},
		nextSeq: 1,
		match:   "*",
		batch:   batch,
	}
}

// SetMatch sets the glob pattern Scan filters keys with.
func (s *MemoryStore) SetMatch(pattern string) {
	s.mu.Lock()
	s.match = pattern
	s.mu.Unlock()
}

// Put stores a copy of fields under key, replacing any previous record. A
// replaced key keeps its place in the scan order.
func (s *MemoryStore) Put(key string, fields map[string]string) {
	cp := make(map[string]string, len(fields))
	for k, v := range fields {
		cp[k] = v
	}
	s.mu.Lock()
	if _, ok := s.seqs[key]; !ok {
		s.seqs[key] = s.nextSeq
		s.nextSeq++
	}
	s.records[key] = cp
	s.mu.Unlock()
}

// Has reports whether key is present.
func (s *MemoryStore) Has(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.records[key]
	return ok
}

// Len returns the number of stored records.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records)
}

func (s *MemoryStore) Scan(ctx context.Context, cursor uint64) (uint64, []string, error) {
	if err := ctx.Err(); err != nil {
		return 0, nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, nil, ErrClosed
	}

	var pending []string
	for k := range s.records {
		if s.seqs[k] < cursor {
			continue
		}
		if ok, _ := path.Match(s.match, k); ok {
			pending = append(pending, k)
		}
	}
	sort.Slice(pending, func(i, j int) bool { return s.seqs[pending[i]] < s.seqs[pending[j]] })

	if len(pending) <= s.batch {
		return 0, pending, nil
	}
	pending = pending[:s.batch]
	return s.seqs[pending[len(pending)-1]] + 1, pending, nil
}

func (s *MemoryStore) GetAll(ctx context.Context, key string) (map[string]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrClosed
	}
	rec := s.records[key]
	out := make(map[string]string, len(rec))
	for k, v := range rec {
		out[k] = v
	}
	return out, nil
}

func (s *MemoryStore) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	delete(s.records, key)
	delete(s.seqs, key)
	return nil
}

func (s *MemoryStore) RecordAttempt(ctx context.Context, key string, at time.Time) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, ErrClosed
	}
	rec, ok := s.records[key]
	if !ok {
		return 0, nil
	}
	n, _ := strconv.Atoi(rec[model.AttemptsField])
	n++
	rec[model.AttemptsField] = strconv.Itoa(n)
	rec[model.LastAttemptField] = at.UTC().Format(time.RFC3339Nano)
	return n, nil
}

func (s *MemoryStore) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}
