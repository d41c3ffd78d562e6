package stickiness

import (
	"context"
	"sync"
	"time"
)

// OpenTimeStore tracks when each position pair was opened, keyed by
// symbol-longExchange-shortExchange. Contract: RecordOpen is called exactly when
// a pair is opened and RemoveOpen exactly when it closes; a stale entry makes
// age computation wrong on any symbol reuse.
type OpenTimeStore interface {
	RecordOpen(ctx context.Context, key string, openedAt time.Time) error
	RemoveOpen(ctx context.Context, key string) error
	// AgeHours returns the tracked age; ok is false when the key is untracked.
	AgeHours(ctx context.Context, key string, now time.Time) (hours float64, ok bool, err error)
}

// MemoryStore is the in-process OpenTimeStore used by tests and library
// embedders. Single-writer-per-cycle discipline makes the lock uncontended in
// practice.
type MemoryStore struct {
	mu    sync.RWMutex
	opens map[string]time.Time
}

// NewMemoryStore returns an empty in-memory open-time store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{opens: make(map[string]time.Time)}
}

func (s *MemoryStore) RecordOpen(_ context.Context, key string, openedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.opens[key] = openedAt
	return nil
}

func (s *MemoryStore) RemoveOpen(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.opens, key)
	return nil
}

func (s *MemoryStore) AgeHours(_ context.Context, key string, now time.Time) (float64, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	openedAt, ok := s.opens[key]
	if !ok {
		return 0, false, nil
	}
	return now.Sub(openedAt).Hours(), true, nil
}
