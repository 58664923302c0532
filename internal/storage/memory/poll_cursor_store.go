package memory

import (
	"context"
	"sync"

	"tipbot/internal/storage"
)

// PollCursorStore is an in-memory implementation of storage.PollCursorStore.
type PollCursorStore struct {
	mu     sync.RWMutex
	cursor string
	set    bool
}

// NewPollCursorStore creates a new in-memory poll cursor store.
func NewPollCursorStore() *PollCursorStore {
	return &PollCursorStore{}
}

// Get returns the last seen mention ID.
func (s *PollCursorStore) Get(_ context.Context) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if !s.set {
		return "", storage.ErrNotFound
	}
	return s.cursor, nil
}

// Set saves the last seen mention ID.
func (s *PollCursorStore) Set(_ context.Context, mentionID string) error {
	if mentionID == "" {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.cursor = mentionID
	s.set = true
	return nil
}
