package memory

import (
	"context"
	"sync"

	"tipbot/internal/storage"
)

// DedupStore is an in-memory implementation of storage.DedupStore.
type DedupStore struct {
	mu        sync.RWMutex
	processed map[string]bool
}

// NewDedupStore creates a new in-memory dedup store.
func NewDedupStore() *DedupStore {
	return &DedupStore{
		processed: make(map[string]bool),
	}
}

// IsProcessed reports whether the mention already completed.
func (s *DedupStore) IsProcessed(_ context.Context, mentionID string) (bool, error) {
	if mentionID == "" {
		return false, storage.ErrInvalidInput
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.processed[mentionID], nil
}

// MarkProcessed records completion. Marking twice is a no-op.
func (s *DedupStore) MarkProcessed(_ context.Context, mentionID string) error {
	if mentionID == "" {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.processed[mentionID] = true
	return nil
}
