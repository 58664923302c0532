package postgres

import (
	"context"

	"tipbot/internal/domain"
	"tipbot/internal/storage"
)

// AccountLinkStore is a PostgreSQL implementation of storage.AccountLinkStore.
// The handle column carries a unique constraint; concurrent provisioning
// races resolve to exactly one row.
type AccountLinkStore struct {
	pool *Pool
}

// NewAccountLinkStore creates a new PostgreSQL account link store.
func NewAccountLinkStore(pool *Pool) *AccountLinkStore {
	return &AccountLinkStore{pool: pool}
}

// Insert adds a new link. Returns ErrDuplicateKey if the handle is already linked.
func (s *AccountLinkStore) Insert(ctx context.Context, link *domain.AccountLink) error {
	if link == nil || link.Handle == "" || link.AccountID == "" {
		return storage.ErrInvalidInput
	}

	_, err := s.pool.Exec(ctx, `
		INSERT INTO account_links (handle, account_id, created_at, auto_provisioned)
		VALUES ($1, $2, $3, $4)
	`, link.Handle, link.AccountID, link.CreatedAt, link.AutoProvisioned)

	if isDuplicateKeyError(err) {
		return storage.ErrDuplicateKey
	}
	return err
}

// GetByHandle retrieves a link. Returns ErrNotFound if not linked.
func (s *AccountLinkStore) GetByHandle(ctx context.Context, handle string) (*domain.AccountLink, error) {
	if handle == "" {
		return nil, storage.ErrInvalidInput
	}

	row := s.pool.QueryRow(ctx, `
		SELECT handle, account_id, created_at, auto_provisioned
		FROM account_links
		WHERE handle = $1
	`, handle)

	var link domain.AccountLink
	err := row.Scan(&link.Handle, &link.AccountID, &link.CreatedAt, &link.AutoProvisioned)
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, err
	}

	return &link, nil
}
