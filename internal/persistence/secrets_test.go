package persistence

import (
	"context"
	"testing"
)

func TestRecordSecretFetch(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	if err := store.RecordSecretFetch(ctx, "ANTHROPIC_API_KEY", "keychain", ""); err != nil {
		t.Fatalf("record secret fetch: %v", err)
	}

	entry, err := store.GetSecretCacheEntry(ctx, "ANTHROPIC_API_KEY")
	if err != nil {
		t.Fatalf("get secret cache entry: %v", err)
	}
	if entry == nil {
		t.Fatalf("expected entry to exist")
	}
	if entry.FetchError != "" {
		t.Fatalf("expected no fetch error, got %q", entry.FetchError)
	}
}

func TestRecordSecretFetch_RecordsError(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	if err := store.RecordSecretFetch(ctx, "MISSING_KEY", "keychain", "not found"); err != nil {
		t.Fatalf("record secret fetch: %v", err)
	}
	entry, err := store.GetSecretCacheEntry(ctx, "MISSING_KEY")
	if err != nil {
		t.Fatalf("get secret cache entry: %v", err)
	}
	if entry.FetchError != "not found" {
		t.Fatalf("expected fetch error recorded, got %q", entry.FetchError)
	}
}

func TestGetSecretCacheEntry_Missing(t *testing.T) {
	store := newTestStore(t)
	entry, err := store.GetSecretCacheEntry(context.Background(), "never-fetched")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if entry != nil {
		t.Fatalf("expected nil entry for unfetched key")
	}
}
