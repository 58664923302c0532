package postgres_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tipbot/internal/domain"
	"tipbot/internal/storage"
	pgstore "tipbot/internal/storage/postgres"
)

func TestAccountLinkStore_InsertAndGet(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	store := pgstore.NewAccountLinkStore(pool)

	link := &domain.AccountLink{
		Handle:          "alice",
		AccountID:       "9yQ6BzMvCcqf3Emb",
		CreatedAt:       1700000000000,
		AutoProvisioned: true,
	}
	require.NoError(t, store.Insert(ctx, link))

	got, err := store.GetByHandle(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, link.AccountID, got.AccountID)
	assert.Equal(t, link.CreatedAt, got.CreatedAt)
	assert.True(t, got.AutoProvisioned)
}

func TestAccountLinkStore_DuplicateHandle(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	store := pgstore.NewAccountLinkStore(pool)

	require.NoError(t, store.Insert(ctx, &domain.AccountLink{Handle: "bob", AccountID: "acc1", CreatedAt: 1}))

	err := store.Insert(ctx, &domain.AccountLink{Handle: "bob", AccountID: "acc2", CreatedAt: 2})
	assert.ErrorIs(t, err, storage.ErrDuplicateKey)

	got, err := store.GetByHandle(ctx, "bob")
	require.NoError(t, err)
	assert.Equal(t, "acc1", got.AccountID, "first insert must win")
}

func TestAccountLinkStore_NotFound(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	store := pgstore.NewAccountLinkStore(pool)

	_, err := store.GetByHandle(context.Background(), "ghost")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}
