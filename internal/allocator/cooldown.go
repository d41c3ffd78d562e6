package allocator

import (
	"context"
	"sync"
	"time"
)

// CooldownStore tracks exchange pairs that recently failed execution and are
// still within their filtered TTL. Opportunities on a filtered pair are skipped
// by the allocator until the entry expires.
type CooldownStore interface {
	MarkFiltered(ctx context.Context, pairKey string, until time.Time) error
	IsFiltered(ctx context.Context, pairKey string, now time.Time) (bool, error)
}

// MemoryCooldownStore is the in-process CooldownStore.
type MemoryCooldownStore struct {
	mu    sync.RWMutex
	until map[string]time.Time
}

// NewMemoryCooldownStore returns an empty in-memory cooldown store.
func NewMemoryCooldownStore() *MemoryCooldownStore {
	return &MemoryCooldownStore{until: make(map[string]time.Time)}
}

func (s *MemoryCooldownStore) MarkFiltered(_ context.Context, pairKey string, until time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.until[pairKey] = until
	return nil
}

func (s *MemoryCooldownStore) IsFiltered(_ context.Context, pairKey string, now time.Time) (bool, error) {
	s.mu.RLock()
	expiry, ok := s.until[pairKey]
	s.mu.RUnlock()
	if !ok {
		return false, nil
	}
	if now.After(expiry) {
		s.mu.Lock()
		delete(s.until, pairKey)
		s.mu.Unlock()
		return false, nil
	}
	return true, nil
}
