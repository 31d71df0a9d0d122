package persistence

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/rove-run/rove/internal/bus"
)

// TaskStatus is a Task's lifecycle state.
type TaskStatus string

const (
	TaskPending   TaskStatus = "pending"
	TaskRunning   TaskStatus = "running"
	TaskCompleted TaskStatus = "completed"
	TaskFailed    TaskStatus = "failed"
)

// ErrTaskTerminal is returned when a caller attempts to append a step or
// change the status of a task already in a terminal state.
var ErrTaskTerminal = errors.New("persistence: task is in a terminal state")

// Task is the persisted record of one agent-core run.
type Task struct {
	ID          string
	Prompt      string
	Status      TaskStatus
	Provider    string
	DurationMS  int64
	CreatedAt   time.Time
	CompletedAt sql.NullTime
}

// CreateTask inserts a new task in pending status. Persisted before the
// first LLM call.
func (s *Store) CreateTask(ctx context.Context, id, prompt string) error {
	return retryOnBusy(ctx, 5, func() error {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO tasks (id, prompt, status) VALUES (?, ?, ?);
		`, id, prompt, TaskPending)
		if err != nil {
			return fmt.Errorf("create task: %w", err)
		}
		return nil
	})
}

// GetTask fetches a task by id.
func (s *Store) GetTask(ctx context.Context, id string) (*Task, error) {
	var t Task
	var status string
	var provider sql.NullString
	var durationMS sql.NullInt64
	err := s.db.QueryRowContext(ctx, `
		SELECT id, prompt, status, provider, duration_ms, created_at, completed_at
		FROM tasks WHERE id = ?;
	`, id).Scan(&t.ID, &t.Prompt, &status, &provider, &durationMS, &t.CreatedAt, &t.CompletedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("persistence: task %q not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("get task: %w", err)
	}
	t.Status = TaskStatus(status)
	t.Provider = provider.String
	t.DurationMS = durationMS.Int64
	return &t, nil
}

// SetRunning transitions a task to running.
func (s *Store) SetRunning(ctx context.Context, id string) error {
	return s.transitionStatus(ctx, id, TaskRunning, "")
}

// Finalize transitions a task to completed or failed — a terminal state.
// Once set, no further steps may be appended (enforced by AppendStep).
// If a bus is configured, a TaskStateChangedEvent is published.
func (s *Store) Finalize(ctx context.Context, id string, status TaskStatus, provider string, durationMS int64) error {
	if status != TaskCompleted && status != TaskFailed {
		return fmt.Errorf("persistence: Finalize requires a terminal status, got %q", status)
	}
	old, err := s.GetTask(ctx, id)
	if err != nil {
		return err
	}
	err = retryOnBusy(ctx, 5, func() error {
		_, execErr := s.db.ExecContext(ctx, `
			UPDATE tasks SET status = ?, provider = ?, duration_ms = ?, completed_at = CURRENT_TIMESTAMP
			WHERE id = ?;
		`, status, provider, durationMS, id)
		return execErr
	})
	if err != nil {
		return fmt.Errorf("finalize task: %w", err)
	}
	s.publishStateChanged(id, string(old.Status), string(status))
	return nil
}

func (s *Store) transitionStatus(ctx context.Context, id string, status TaskStatus, provider string) error {
	old, err := s.GetTask(ctx, id)
	if err != nil {
		return err
	}
	if old.Status == TaskCompleted || old.Status == TaskFailed {
		return ErrTaskTerminal
	}
	err = retryOnBusy(ctx, 5, func() error {
		_, execErr := s.db.ExecContext(ctx, `UPDATE tasks SET status = ? WHERE id = ?;`, status, id)
		return execErr
	})
	if err != nil {
		return fmt.Errorf("transition task status: %w", err)
	}
	s.publishStateChanged(id, string(old.Status), string(status))
	return nil
}

func (s *Store) publishStateChanged(taskID, oldStatus, newStatus string) {
	if s.bus == nil {
		return
	}
	s.bus.Publish(bus.TopicTaskStateChanged, bus.TaskStateChangedEvent{
		TaskID:    taskID,
		OldStatus: oldStatus,
		NewStatus: newStatus,
	})
	switch newStatus {
	case string(TaskCompleted):
		s.bus.Publish(bus.TopicTaskCompleted, bus.TaskStateChangedEvent{TaskID: taskID, OldStatus: oldStatus, NewStatus: newStatus})
	case string(TaskFailed):
		s.bus.Publish(bus.TopicTaskFailed, bus.TaskStateChangedEvent{TaskID: taskID, OldStatus: oldStatus, NewStatus: newStatus})
	}
}

// ListTasksByStatus returns tasks in the given status, most recent first.
// Used by `rove history` and `rove status`.
func (s *Store) ListTasksByStatus(ctx context.Context, status TaskStatus, limit int) ([]Task, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, prompt, status, provider, duration_ms, created_at, completed_at
		FROM tasks WHERE status = ? ORDER BY created_at DESC LIMIT ?;
	`, status, limit)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	defer rows.Close()

	var out []Task
	for rows.Next() {
		var t Task
		var st string
		var provider sql.NullString
		var durationMS sql.NullInt64
		if err := rows.Scan(&t.ID, &t.Prompt, &st, &provider, &durationMS, &t.CreatedAt, &t.CompletedAt); err != nil {
			return nil, fmt.Errorf("scan task: %w", err)
		}
		t.Status = TaskStatus(st)
		t.Provider = provider.String
		t.DurationMS = durationMS.Int64
		out = append(out, t)
	}
	return out, rows.Err()
}

// ListRecentTasks returns the most recent tasks across all statuses,
// most recent first. Used by `rove history`.
func (s *Store) ListRecentTasks(ctx context.Context, limit int) ([]Task, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, prompt, status, provider, duration_ms, created_at, completed_at
		FROM tasks ORDER BY created_at DESC LIMIT ?;
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("list recent tasks: %w", err)
	}
	defer rows.Close()

	var out []Task
	for rows.Next() {
		var t Task
		var st string
		var provider sql.NullString
		var durationMS sql.NullInt64
		if err := rows.Scan(&t.ID, &t.Prompt, &st, &provider, &durationMS, &t.CreatedAt, &t.CompletedAt); err != nil {
			return nil, fmt.Errorf("scan task: %w", err)
		}
		t.Status = TaskStatus(st)
		t.Provider = provider.String
		t.DurationMS = durationMS.Int64
		out = append(out, t)
	}
	return out, rows.Err()
}
