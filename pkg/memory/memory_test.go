package memory

import (
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(filepath.Join(t.TempDir(), "memory.db"))
	if err != nil {
		t.Fatalf("Open() error: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestRememberAndRecallByKeyword(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	if _, err := store.Remember(ctx, "preference", "User prefers tea over coffee"); err != nil {
		t.Fatalf("Remember() error: %v", err)
	}
	if _, err := store.Remember(ctx, "fact", "Lives in Berlin"); err != nil {
		t.Fatalf("Remember() error: %v", err)
	}

	entries, err := store.Recall(ctx, "tea", 10)
	if err != nil {
		t.Fatalf("Recall() error: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("Recall(tea) returned %d entries, want 1", len(entries))
	}
	if entries[0].Category != "preference" || !strings.Contains(entries[0].Content, "tea") {
		t.Errorf("entry = %+v", entries[0])
	}

	// LIKE matching is case-insensitive for ASCII
	entries, err = store.Recall(ctx, "berlin", 10)
	if err != nil {
		t.Fatalf("Recall() error: %v", err)
	}
	if len(entries) != 1 {
		t.Errorf("Recall(berlin) returned %d entries, want 1", len(entries))
	}
}

func TestRecallMatchesCategory(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	if _, err := store.Remember(ctx, "decision", "Chose the red theme"); err != nil {
		t.Fatalf("Remember() error: %v", err)
	}
	entries, err := store.Recall(ctx, "decision", 10)
	if err != nil {
		t.Fatalf("Recall() error: %v", err)
	}
	if len(entries) != 1 {
		t.Errorf("Recall(decision) returned %d entries, want 1", len(entries))
	}
}

func TestRecallEmptyQueryNewestFirst(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	for _, content := range []string{"first", "second", "third"} {
		if _, err := store.Remember(ctx, "fact", content); err != nil {
			t.Fatalf("Remember(%s) error: %v", content, err)
		}
		time.Sleep(20 * time.Millisecond)
	}

	entries, err := store.Recall(ctx, "", 2)
	if err != nil {
		t.Fatalf("Recall() error: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("Recall limit 2 returned %d entries", len(entries))
	}
	if entries[0].Content != "third" || entries[1].Content != "second" {
		t.Errorf("entries = [%s, %s], want newest first", entries[0].Content, entries[1].Content)
	}
}

func TestRememberRejectsEmptyContent(t *testing.T) {
	store := openTestStore(t)
	if _, err := store.Remember(context.Background(), "fact", "   "); err == nil {
		t.Fatal("expected error for empty content")
	}
}

func TestRememberDefaultsCategory(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	if _, err := store.Remember(ctx, "", "uncategorized note"); err != nil {
		t.Fatalf("Remember() error: %v", err)
	}
	entries, _ := store.Recall(ctx, "uncategorized", 10)
	if len(entries) != 1 || entries[0].Category != "other" {
		t.Fatalf("entries = %+v, want category other", entries)
	}
}

func TestForget(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	id, err := store.Remember(ctx, "fact", "temporary")
	if err != nil {
		t.Fatalf("Remember() error: %v", err)
	}
	if err := store.Forget(ctx, id); err != nil {
		t.Fatalf("Forget() error: %v", err)
	}
	if entries, _ := store.Recall(ctx, "temporary", 10); len(entries) != 0 {
		t.Errorf("entry still present after Forget: %+v", entries)
	}
	if err := store.Forget(ctx, id); err == nil {
		t.Error("second Forget should report not found")
	}
}

func TestContextBlock(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	block, err := store.ContextBlock(ctx, 20)
	if err != nil {
		t.Fatalf("ContextBlock() error: %v", err)
	}
	if block != "" {
		t.Errorf("empty store block = %q, want empty", block)
	}

	store.Remember(ctx, "preference", "Speaks German")
	store.Remember(ctx, "fact", "Commutes by bike")

	block, err = store.ContextBlock(ctx, 20)
	if err != nil {
		t.Fatalf("ContextBlock() error: %v", err)
	}
	if !strings.HasPrefix(block, "Known facts about the user:\n") {
		t.Errorf("block = %q", block)
	}
	if !strings.Contains(block, "- [preference] Speaks German") ||
		!strings.Contains(block, "- [fact] Commutes by bike") {
		t.Errorf("block missing entries: %q", block)
	}
}
