package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tipbot/internal/storage"
)

func TestDedupStore(t *testing.T) {
	store := NewDedupStore()
	ctx := context.Background()

	seen, err := store.IsProcessed(ctx, "100")
	require.NoError(t, err)
	assert.False(t, seen)

	require.NoError(t, store.MarkProcessed(ctx, "100"))

	seen, err = store.IsProcessed(ctx, "100")
	require.NoError(t, err)
	assert.True(t, seen)

	// Marking twice is a no-op.
	require.NoError(t, store.MarkProcessed(ctx, "100"))

	_, err = store.IsProcessed(ctx, "")
	assert.ErrorIs(t, err, storage.ErrInvalidInput)
}

func TestPollCursorStore(t *testing.T) {
	store := NewPollCursorStore()
	ctx := context.Background()

	_, err := store.Get(ctx)
	assert.ErrorIs(t, err, storage.ErrNotFound)

	require.NoError(t, store.Set(ctx, "101"))
	require.NoError(t, store.Set(ctx, "105"))

	cursor, err := store.Get(ctx)
	require.NoError(t, err)
	assert.Equal(t, "105", cursor)

	assert.ErrorIs(t, store.Set(ctx, ""), storage.ErrInvalidInput)
}
