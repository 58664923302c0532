package memory

import (
	"context"
	"sort"
	"sync"

	"tipbot/internal/domain"
	"tipbot/internal/storage"
)

// TransferRecordStore is an in-memory implementation of storage.TransferRecordStore.
type TransferRecordStore struct {
	mu   sync.RWMutex
	data map[string]*domain.TransferRecord // keyed by transfer_id
}

// NewTransferRecordStore creates a new in-memory transfer record store.
func NewTransferRecordStore() *TransferRecordStore {
	return &TransferRecordStore{
		data: make(map[string]*domain.TransferRecord),
	}
}

// Insert adds a new record. Returns ErrDuplicateKey if transfer_id exists.
func (s *TransferRecordStore) Insert(_ context.Context, rec *domain.TransferRecord) error {
	if rec == nil || rec.TransferID == "" {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.data[rec.TransferID]; exists {
		return storage.ErrDuplicateKey
	}

	copy := *rec
	s.data[rec.TransferID] = &copy
	return nil
}

// GetByID retrieves a record by transfer_id. Returns ErrNotFound if not exists.
func (s *TransferRecordStore) GetByID(_ context.Context, transferID string) (*domain.TransferRecord, error) {
	if transferID == "" {
		return nil, storage.ErrInvalidInput
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.data[transferID]
	if !ok {
		return nil, storage.ErrNotFound
	}

	copy := *rec
	return &copy, nil
}

// Settle moves an INDETERMINATE record to a terminal status.
func (s *TransferRecordStore) Settle(_ context.Context, transferID, status, txID, failReason string, settledAt int64) error {
	if transferID == "" {
		return storage.ErrInvalidInput
	}
	if status != domain.TransferStatusSuccess && status != domain.TransferStatusFailed {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.data[transferID]
	if !ok {
		return storage.ErrNotFound
	}
	if rec.Status != domain.TransferStatusIndeterminate {
		return storage.ErrInvalidTransition
	}

	rec.Status = status
	if txID != "" {
		rec.TxID = txID
	}
	rec.FailReason = failReason
	rec.SettledAt = settledAt
	return nil
}

// ListIndeterminate returns INDETERMINATE records submitted before olderThan,
// ordered by submitted_at ascending.
func (s *TransferRecordStore) ListIndeterminate(_ context.Context, olderThan int64) ([]*domain.TransferRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*domain.TransferRecord
	for _, rec := range s.data {
		if rec.Status == domain.TransferStatusIndeterminate && rec.SubmittedAt < olderThan {
			copy := *rec
			out = append(out, &copy)
		}
	}

	sort.Slice(out, func(i, j int) bool {
		return out[i].SubmittedAt < out[j].SubmittedAt
	})
	return out, nil
}
