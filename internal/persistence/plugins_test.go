package persistence

import (
	"context"
	"testing"
)

func TestExtensionLifecycle(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	rec := ExtensionRecord{
		Name:         "fs-editor",
		Version:      "0.1.0",
		ArtifactPath: "plugins/fs-editor.wasm",
		ContentHash:  "sha256:abc",
		Permissions:  []byte(`{"allowed_paths":["workspace"]}`),
		LoadState:    LoadUnloaded,
	}
	if err := store.UpsertExtension(ctx, rec); err != nil {
		t.Fatalf("upsert extension: %v", err)
	}

	got, err := store.GetExtension(ctx, "fs-editor")
	if err != nil {
		t.Fatalf("get extension: %v", err)
	}
	if got.LoadState != LoadUnloaded {
		t.Fatalf("expected unloaded, got %q", got.LoadState)
	}

	if err := store.SetLoadState(ctx, "fs-editor", LoadLoaded); err != nil {
		t.Fatalf("set load state: %v", err)
	}
	got, _ = store.GetExtension(ctx, "fs-editor")
	if got.LoadState != LoadLoaded {
		t.Fatalf("expected loaded, got %q", got.LoadState)
	}
}

func TestExtensionCrashCount(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	rec := ExtensionRecord{Name: "flaky", Version: "1.0.0", ArtifactPath: "p", ContentHash: "sha256:x", Permissions: []byte(`{}`)}
	if err := store.UpsertExtension(ctx, rec); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	for i := 1; i <= 3; i++ {
		count, err := store.IncrementCrashCount(ctx, "flaky")
		if err != nil {
			t.Fatalf("increment crash count: %v", err)
		}
		if count != i {
			t.Fatalf("expected crash count %d, got %d", i, count)
		}
	}

	if err := store.ResetCrashCount(ctx, "flaky"); err != nil {
		t.Fatalf("reset crash count: %v", err)
	}
	got, _ := store.GetExtension(ctx, "flaky")
	if got.CrashCount != 0 {
		t.Fatalf("expected crash count reset to 0, got %d", got.CrashCount)
	}
}

func TestListExtensions(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	for _, name := range []string{"b-plugin", "a-plugin"} {
		rec := ExtensionRecord{Name: name, Version: "1.0.0", ArtifactPath: "p", ContentHash: "sha256:x", Permissions: []byte(`{}`)}
		if err := store.UpsertExtension(ctx, rec); err != nil {
			t.Fatalf("upsert: %v", err)
		}
	}
	list, err := store.ListExtensions(ctx)
	if err != nil {
		t.Fatalf("list extensions: %v", err)
	}
	if len(list) != 2 || list[0].Name != "a-plugin" {
		t.Fatalf("expected alphabetical [a-plugin, b-plugin], got %+v", list)
	}
}

func TestGetExtension_NotFound(t *testing.T) {
	store := newTestStore(t)
	if _, err := store.GetExtension(context.Background(), "nonexistent"); err == nil {
		t.Fatalf("expected error for nonexistent extension")
	}
}
