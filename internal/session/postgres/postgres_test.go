package postgres

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/tokligence/ragflow-pipeline/internal/session"
)

func TestStoreAgainstLiveDatabase(t *testing.T) {
	dsn := os.Getenv("RAGFLOW_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("RAGFLOW_TEST_POSTGRES_DSN not set")
	}
	store, err := New(dsn, 2, 1, time.Minute)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer store.Close()

	ctx := context.Background()
	conv := "test-" + uuid.NewString()
	if _, err := store.Get(ctx, conv); err != session.ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := store.Put(ctx, conv, "sess-1"); err != nil {
		t.Fatalf("Put: %v", err)
	}
	got, err := store.Get(ctx, conv)
	if err != nil || got != "sess-1" {
		t.Fatalf("Get = %q, %v", got, err)
	}
}
