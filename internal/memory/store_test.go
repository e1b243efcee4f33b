package memory

import (
	"context"
	"path/filepath"
	"testing"

	"klix/internal/domain"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	store, err := NewSQLiteStore(filepath.Join(t.TempDir(), "memory.db"), nil)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestStoreAddAndRecent(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	id, err := store.Add(ctx, domain.Memory{
		UserID:  "alice",
		Content: "prefers table-driven tests",
		Type:    domain.MemorySemantic,
	})
	if err != nil {
		t.Fatalf("add: %v", err)
	}
	if id == "" {
		t.Fatal("add should assign an id")
	}

	mems, err := store.Recent(ctx, "alice", 10)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(mems) != 1 || mems[0].Content != "prefers table-driven tests" {
		t.Fatalf("unexpected memories: %+v", mems)
	}
	if mems[0].Type != domain.MemorySemantic {
		t.Errorf("type not persisted: %s", mems[0].Type)
	}
}

func TestStoreSearchMatchesContent(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	for _, content := range []string{"works on a Go project", "likes espresso", "Go modules confuse them"} {
		if _, err := store.Add(ctx, domain.Memory{UserID: "u", Content: content}); err != nil {
			t.Fatal(err)
		}
	}

	mems, err := store.Search(ctx, "u", "Go", 10)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(mems) != 2 {
		t.Fatalf("expected 2 matches, got %d", len(mems))
	}
}

func TestStoreSearchScopedToUser(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	if _, err := store.Add(ctx, domain.Memory{UserID: "alice", Content: "secret fact"}); err != nil {
		t.Fatal(err)
	}
	mems, err := store.Search(ctx, "bob", "secret", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(mems) != 0 {
		t.Fatal("memories must not leak across users")
	}
}

func TestStoreDelete(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	id, err := store.Add(ctx, domain.Memory{UserID: "u", Content: "temp"})
	if err != nil {
		t.Fatal(err)
	}
	if err := store.Delete(ctx, id); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if err := store.Delete(ctx, id); err == nil {
		t.Error("deleting a missing id should error")
	}
}

func TestStoreDeleteAll(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if _, err := store.Add(ctx, domain.Memory{UserID: "u", Content: "fact"}); err != nil {
			t.Fatal(err)
		}
	}
	if _, err := store.Add(ctx, domain.Memory{UserID: "other", Content: "fact"}); err != nil {
		t.Fatal(err)
	}

	if err := store.DeleteAll(ctx, "u"); err != nil {
		t.Fatalf("delete all: %v", err)
	}
	if mems, _ := store.Recent(ctx, "u", 10); len(mems) != 0 {
		t.Error("user memories should be gone")
	}
	if mems, _ := store.Recent(ctx, "other", 10); len(mems) != 1 {
		t.Error("other users must be untouched")
	}
}

func TestStoreMetadataRoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	_, err := store.Add(ctx, domain.Memory{
		UserID:   "u",
		Content:  "with metadata",
		Metadata: map[string]string{"source": "extraction"},
	})
	if err != nil {
		t.Fatal(err)
	}
	mems, err := store.Recent(ctx, "u", 1)
	if err != nil {
		t.Fatal(err)
	}
	if mems[0].Metadata["source"] != "extraction" {
		t.Errorf("metadata lost: %+v", mems[0].Metadata)
	}
}
