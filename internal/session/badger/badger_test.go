package badger

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tokligence/ragflow-pipeline/internal/session"
)

func TestInMemoryStore(t *testing.T) {
	store, err := New(Config{InMemory: true})
	require.NoError(t, err)
	defer store.Close()
	ctx := context.Background()

	_, err = store.Get(ctx, "chat")
	assert.ErrorIs(t, err, session.ErrNotFound)

	require.NoError(t, store.Put(ctx, "chat", "sess-1"))
	got, err := store.Get(ctx, "chat")
	require.NoError(t, err)
	assert.Equal(t, "sess-1", got)
}

func TestPersistentStoreSurvivesReopen(t *testing.T) {
	dir := t.TempDir()
	store, err := New(Config{Path: dir})
	require.NoError(t, err)
	require.NoError(t, store.Put(context.Background(), "chat", "sess-9"))
	require.NoError(t, store.Close())

	reopened, err := New(Config{Path: dir})
	require.NoError(t, err)
	defer reopened.Close()
	got, err := reopened.Get(context.Background(), "chat")
	require.NoError(t, err)
	assert.Equal(t, "sess-9", got)
}

func TestPathRequired(t *testing.T) {
	_, err := New(Config{})
	assert.Error(t, err)
}
