package sqlite

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/tokligence/ragflow-pipeline/internal/session"
)

func TestStoreRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "sessions.db")
	store, err := New(path)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ctx := context.Background()

	if _, err := store.Get(ctx, "chat-1"); err != session.ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := store.Put(ctx, "chat-1", "sess-a"); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if err := store.Put(ctx, "chat-1", "sess-b"); err != nil {
		t.Fatalf("Put overwrite: %v", err)
	}
	got, err := store.Get(ctx, "chat-1")
	if err != nil || got != "sess-b" {
		t.Fatalf("Get = %q, %v", got, err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	reopened, err := New(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer reopened.Close()
	got, err = reopened.Get(ctx, "chat-1")
	if err != nil || got != "sess-b" {
		t.Fatalf("mapping not persisted: %q, %v", got, err)
	}
}
