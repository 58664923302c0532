package postgres

import (
	"context"

	"tipbot/internal/storage"
)

// PollCursorStore is a PostgreSQL implementation of storage.PollCursorStore.
// A single-row table holds the last seen mention ID.
type PollCursorStore struct {
	pool *Pool
}

// NewPollCursorStore creates a new PostgreSQL poll cursor store.
func NewPollCursorStore(pool *Pool) *PollCursorStore {
	return &PollCursorStore{pool: pool}
}

// Get returns the last seen mention ID.
func (s *PollCursorStore) Get(ctx context.Context) (string, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT mention_id
		FROM poll_cursor
		LIMIT 1
	`)

	var cursor string
	err := row.Scan(&cursor)
	if err != nil {
		if isNotFoundError(err) {
			return "", storage.ErrNotFound
		}
		return "", err
	}

	return cursor, nil
}

// Set saves the last seen mention ID.
// Uses upsert to handle initial insert and subsequent updates.
func (s *PollCursorStore) Set(ctx context.Context, mentionID string) error {
	if mentionID == "" {
		return storage.ErrInvalidInput
	}

	_, err := s.pool.Exec(ctx, `
		INSERT INTO poll_cursor (id, mention_id, updated_at)
		VALUES (1, $1, NOW())
		ON CONFLICT (id) DO UPDATE
		SET mention_id = EXCLUDED.mention_id,
		    updated_at = NOW()
	`, mentionID)

	return err
}
