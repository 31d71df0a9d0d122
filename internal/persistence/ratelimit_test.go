package persistence

import (
	"context"
	"testing"
)

func TestRecordAndListRateSnapshots(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	if err := store.RecordRateSnapshot(ctx, "telegram:123", "T2", 4, false); err != nil {
		t.Fatalf("record snapshot: %v", err)
	}
	if err := store.RecordRateSnapshot(ctx, "telegram:123", "T2", 5, true); err != nil {
		t.Fatalf("record snapshot: %v", err)
	}

	snapshots, err := store.ListRateSnapshots(ctx, "telegram:123", 10)
	if err != nil {
		t.Fatalf("list snapshots: %v", err)
	}
	if len(snapshots) != 2 {
		t.Fatalf("expected 2 snapshots, got %d", len(snapshots))
	}
	if !snapshots[0].CircuitOpen {
		t.Fatalf("expected most recent snapshot first with circuit open")
	}
}
