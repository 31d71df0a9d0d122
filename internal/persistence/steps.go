package persistence

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// StepKind is a TaskStep's role in the think/act/observe loop.
type StepKind string

const (
	StepUserMessage      StepKind = "user_message"
	StepAssistantMessage StepKind = "assistant_message"
	StepToolCall         StepKind = "tool_call"
	StepToolResult       StepKind = "tool_result"
)

// TaskStep is one append-only entry in a task's step log.
type TaskStep struct {
	ID         int64
	TaskID     string
	OrderIndex int
	Kind       StepKind
	Content    string
	CreatedAt  time.Time
}

// AppendStep inserts the next step for a task, enforcing the
// gap-free-increasing order invariant by computing order_index from
// MAX(order_index)+1 inside the same transaction, and refusing to
// append to a terminal task.
func (s *Store) AppendStep(ctx context.Context, taskID string, kind StepKind, content string) (int, error) {
	var orderIndex int
	err := retryOnBusy(ctx, 5, func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		defer func() { _ = tx.Rollback() }()

		var status string
		if err := tx.QueryRowContext(ctx, `SELECT status FROM tasks WHERE id = ?;`, taskID).Scan(&status); err != nil {
			if err == sql.ErrNoRows {
				return fmt.Errorf("persistence: task %q not found", taskID)
			}
			return err
		}
		if status == string(TaskCompleted) || status == string(TaskFailed) {
			return ErrTaskTerminal
		}

		if err := tx.QueryRowContext(ctx, `
			SELECT COALESCE(MAX(order_index), -1) + 1 FROM task_steps WHERE task_id = ?;
		`, taskID).Scan(&orderIndex); err != nil {
			return err
		}

		if _, err := tx.ExecContext(ctx, `
			INSERT INTO task_steps (task_id, order_index, kind, content) VALUES (?, ?, ?, ?);
		`, taskID, orderIndex, kind, content); err != nil {
			return err
		}
		return tx.Commit()
	})
	if err != nil {
		return 0, fmt.Errorf("append step: %w", err)
	}
	return orderIndex, nil
}

// ListSteps returns every step for a task in order.
func (s *Store) ListSteps(ctx context.Context, taskID string) ([]TaskStep, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, task_id, order_index, kind, content, created_at
		FROM task_steps WHERE task_id = ? ORDER BY order_index ASC;
	`, taskID)
	if err != nil {
		return nil, fmt.Errorf("list steps: %w", err)
	}
	defer rows.Close()

	var out []TaskStep
	for rows.Next() {
		var st TaskStep
		var kind string
		if err := rows.Scan(&st.ID, &st.TaskID, &st.OrderIndex, &kind, &st.Content, &st.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan step: %w", err)
		}
		st.Kind = StepKind(kind)
		out = append(out, st)
	}
	return out, rows.Err()
}

// SearchSteps runs a full-text query over task_steps.content via the FTS5
// mirror table, used by `rove history --search` and `rove replay`.
func (s *Store) SearchSteps(ctx context.Context, query string, limit int) ([]TaskStep, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT ts.id, ts.task_id, ts.order_index, ts.kind, ts.content, ts.created_at
		FROM task_steps_fts
		JOIN task_steps ts ON ts.id = task_steps_fts.rowid
		WHERE task_steps_fts MATCH ?
		ORDER BY rank LIMIT ?;
	`, query, limit)
	if err != nil {
		return nil, fmt.Errorf("search steps: %w", err)
	}
	defer rows.Close()

	var out []TaskStep
	for rows.Next() {
		var st TaskStep
		var kind string
		if err := rows.Scan(&st.ID, &st.TaskID, &st.OrderIndex, &kind, &st.Content, &st.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan search result: %w", err)
		}
		st.Kind = StepKind(kind)
		out = append(out, st)
	}
	return out, rows.Err()
}
