package postgres

import (
	"context"

	"tipbot/internal/storage"
)

// DedupStore is a PostgreSQL implementation of storage.DedupStore.
type DedupStore struct {
	pool *Pool
}

// NewDedupStore creates a new PostgreSQL dedup store.
func NewDedupStore(pool *Pool) *DedupStore {
	return &DedupStore{pool: pool}
}

// IsProcessed reports whether the mention already completed.
func (s *DedupStore) IsProcessed(ctx context.Context, mentionID string) (bool, error) {
	if mentionID == "" {
		return false, storage.ErrInvalidInput
	}

	row := s.pool.QueryRow(ctx, `
		SELECT EXISTS(SELECT 1 FROM processed_mentions WHERE mention_id = $1)
	`, mentionID)

	var exists bool
	err := row.Scan(&exists)
	if err != nil {
		return false, err
	}

	return exists, nil
}

// MarkProcessed records completion. Marking twice is a no-op.
func (s *DedupStore) MarkProcessed(ctx context.Context, mentionID string) error {
	if mentionID == "" {
		return storage.ErrInvalidInput
	}

	_, err := s.pool.Exec(ctx, `
		INSERT INTO processed_mentions (mention_id, processed_at)
		VALUES ($1, NOW())
		ON CONFLICT (mention_id) DO NOTHING
	`, mentionID)

	return err
}
