package persistence

import (
	"context"
	"fmt"
	"time"
)

// RateSnapshot is one persisted audit row for a rate-limiter window.
type RateSnapshot struct {
	ID          int64
	Source      string
	Tier        string
	WindowCount int
	CircuitOpen bool
	RecordedAt  time.Time
}

// RecordRateSnapshot persists an opportunistic audit snapshot of the
// in-memory rate limiter's counters for one (source, tier) pair. This is
// a write-only audit trail; admission decisions never read it back — the
// live counters in internal/ratelimit are authoritative.
func (s *Store) RecordRateSnapshot(ctx context.Context, source, tier string, windowCount int, circuitOpen bool) error {
	return retryOnBusy(ctx, 5, func() error {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO rate_limits (source, tier, window_count, circuit_open) VALUES (?, ?, ?, ?);
		`, source, tier, windowCount, boolToInt(circuitOpen))
		if err != nil {
			return fmt.Errorf("record rate snapshot: %w", err)
		}
		return nil
	})
}

// ListRateSnapshots returns the most recent audit snapshots for a
// source, newest first. Used by `rove doctor` and `rove status --json`.
func (s *Store) ListRateSnapshots(ctx context.Context, source string, limit int) ([]RateSnapshot, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, source, tier, window_count, circuit_open, recorded_at
		FROM rate_limits WHERE source = ? ORDER BY recorded_at DESC LIMIT ?;
	`, source, limit)
	if err != nil {
		return nil, fmt.Errorf("list rate snapshots: %w", err)
	}
	defer rows.Close()

	var out []RateSnapshot
	for rows.Next() {
		var rs RateSnapshot
		var circuitOpen int
		if err := rows.Scan(&rs.ID, &rs.Source, &rs.Tier, &rs.WindowCount, &circuitOpen, &rs.RecordedAt); err != nil {
			return nil, fmt.Errorf("scan rate snapshot: %w", err)
		}
		rs.CircuitOpen = circuitOpen != 0
		out = append(out, rs)
	}
	return out, rows.Err()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
