package memory

import (
	"context"
	"sync"

	"tipbot/internal/domain"
	"tipbot/internal/storage"
)

// AccountLinkStore is an in-memory implementation of storage.AccountLinkStore.
type AccountLinkStore struct {
	mu   sync.RWMutex
	data map[string]*domain.AccountLink // keyed by handle
}

// NewAccountLinkStore creates a new in-memory account link store.
func NewAccountLinkStore() *AccountLinkStore {
	return &AccountLinkStore{
		data: make(map[string]*domain.AccountLink),
	}
}

// Insert adds a new link. Returns ErrDuplicateKey if the handle is already linked.
func (s *AccountLinkStore) Insert(_ context.Context, link *domain.AccountLink) error {
	if link == nil || link.Handle == "" || link.AccountID == "" {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.data[link.Handle]; exists {
		return storage.ErrDuplicateKey
	}

	copy := *link
	s.data[link.Handle] = &copy
	return nil
}

// GetByHandle retrieves a link. Returns ErrNotFound if not linked.
func (s *AccountLinkStore) GetByHandle(_ context.Context, handle string) (*domain.AccountLink, error) {
	if handle == "" {
		return nil, storage.ErrInvalidInput
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	link, ok := s.data[handle]
	if !ok {
		return nil, storage.ErrNotFound
	}

	copy := *link
	return &copy, nil
}
