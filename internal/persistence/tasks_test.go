package persistence

import (
	"context"
	"testing"

	"github.com/google/uuid"
)

func TestListRecentTasks_Limit(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		if err := store.CreateTask(ctx, uuid.NewString(), "prompt"); err != nil {
			t.Fatalf("create task: %v", err)
		}
	}

	tasks, err := store.ListRecentTasks(ctx, 3)
	if err != nil {
		t.Fatalf("list recent tasks: %v", err)
	}
	if len(tasks) != 3 {
		t.Fatalf("expected limit of 3, got %d", len(tasks))
	}
}

func TestListRecentTasks_CrossesStatuses(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	pending := uuid.NewString()
	if err := store.CreateTask(ctx, pending, "still pending"); err != nil {
		t.Fatalf("create task: %v", err)
	}
	completed := uuid.NewString()
	if err := store.CreateTask(ctx, completed, "done"); err != nil {
		t.Fatalf("create task: %v", err)
	}
	if err := store.Finalize(ctx, completed, TaskCompleted, "anthropic", 1200); err != nil {
		t.Fatalf("finalize task: %v", err)
	}

	tasks, err := store.ListRecentTasks(ctx, 10)
	if err != nil {
		t.Fatalf("list recent tasks: %v", err)
	}
	if len(tasks) != 2 {
		t.Fatalf("expected both tasks regardless of status, got %d", len(tasks))
	}
}

func TestListRecentTasks_Empty(t *testing.T) {
	store := newTestStore(t)
	tasks, err := store.ListRecentTasks(context.Background(), 10)
	if err != nil {
		t.Fatalf("list recent tasks: %v", err)
	}
	if len(tasks) != 0 {
		t.Fatalf("expected no tasks, got %d", len(tasks))
	}
}
