package persistence

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// LoadState is an ExtensionRecord's runtime lifecycle state.
type LoadState string

const (
	LoadUnloaded    LoadState = "unloaded"
	LoadLoaded      LoadState = "loaded"
	LoadQuarantined LoadState = "quarantined"
)

// ExtensionRecord is the persisted bookkeeping for one loaded WASM
// plugin or native tool.
type ExtensionRecord struct {
	Name         string
	Version      string
	ArtifactPath string
	ContentHash  string
	Signature    string
	Permissions  json.RawMessage
	CrashCount   int
	LoadState    LoadState
	UpdatedAt    time.Time
}

// UpsertExtension records (or re-records, on reload) an extension's
// manifest-derived metadata. Transitioning to LoadLoaded is the caller's
// responsibility to only do after every applicable gate has passed —
// this method does not itself verify anything.
func (s *Store) UpsertExtension(ctx context.Context, rec ExtensionRecord) error {
	return retryOnBusy(ctx, 5, func() error {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO plugins (name, version, artifact_path, content_hash, signature, permissions, crash_count, load_state, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, CURRENT_TIMESTAMP)
			ON CONFLICT(name) DO UPDATE SET
				version = excluded.version,
				artifact_path = excluded.artifact_path,
				content_hash = excluded.content_hash,
				signature = excluded.signature,
				permissions = excluded.permissions,
				crash_count = excluded.crash_count,
				load_state = excluded.load_state,
				updated_at = CURRENT_TIMESTAMP;
		`, rec.Name, rec.Version, rec.ArtifactPath, rec.ContentHash, rec.Signature, rec.Permissions, rec.CrashCount, rec.LoadState)
		if err != nil {
			return fmt.Errorf("upsert extension: %w", err)
		}
		return nil
	})
}

// GetExtension fetches one extension's record by name.
func (s *Store) GetExtension(ctx context.Context, name string) (*ExtensionRecord, error) {
	var rec ExtensionRecord
	var loadState string
	err := s.db.QueryRowContext(ctx, `
		SELECT name, version, artifact_path, content_hash, signature, permissions, crash_count, load_state, updated_at
		FROM plugins WHERE name = ?;
	`, name).Scan(&rec.Name, &rec.Version, &rec.ArtifactPath, &rec.ContentHash, &rec.Signature, &rec.Permissions, &rec.CrashCount, &loadState, &rec.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("persistence: extension %q not found", name)
	}
	if err != nil {
		return nil, fmt.Errorf("get extension: %w", err)
	}
	rec.LoadState = LoadState(loadState)
	return &rec, nil
}

// IncrementCrashCount bumps an extension's crash counter by one and
// returns the new count, used by the crash-isolation restart decision
// (MAX_CRASH_RESTARTS = 3).
func (s *Store) IncrementCrashCount(ctx context.Context, name string) (int, error) {
	var count int
	err := retryOnBusy(ctx, 5, func() error {
		_, err := s.db.ExecContext(ctx, `UPDATE plugins SET crash_count = crash_count + 1, updated_at = CURRENT_TIMESTAMP WHERE name = ?;`, name)
		if err != nil {
			return err
		}
		return s.db.QueryRowContext(ctx, `SELECT crash_count FROM plugins WHERE name = ?;`, name).Scan(&count)
	})
	if err != nil {
		return 0, fmt.Errorf("increment crash count: %w", err)
	}
	return count, nil
}

// ResetCrashCount clears an extension's crash counter, used on a
// successful call and on manual restart.
func (s *Store) ResetCrashCount(ctx context.Context, name string) error {
	return retryOnBusy(ctx, 5, func() error {
		_, err := s.db.ExecContext(ctx, `UPDATE plugins SET crash_count = 0, updated_at = CURRENT_TIMESTAMP WHERE name = ?;`, name)
		return err
	})
}

// SetLoadState transitions an extension's load_state.
func (s *Store) SetLoadState(ctx context.Context, name string, state LoadState) error {
	return retryOnBusy(ctx, 5, func() error {
		_, err := s.db.ExecContext(ctx, `UPDATE plugins SET load_state = ?, updated_at = CURRENT_TIMESTAMP WHERE name = ?;`, state, name)
		return err
	})
}

// ListExtensions returns every known extension record, used by
// `rove plugins list` and the doctor diagnostic.
func (s *Store) ListExtensions(ctx context.Context) ([]ExtensionRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT name, version, artifact_path, content_hash, signature, permissions, crash_count, load_state, updated_at
		FROM plugins ORDER BY name ASC;
	`)
	if err != nil {
		return nil, fmt.Errorf("list extensions: %w", err)
	}
	defer rows.Close()

	var out []ExtensionRecord
	for rows.Next() {
		var rec ExtensionRecord
		var loadState string
		if err := rows.Scan(&rec.Name, &rec.Version, &rec.ArtifactPath, &rec.ContentHash, &rec.Signature, &rec.Permissions, &rec.CrashCount, &loadState, &rec.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan extension: %w", err)
		}
		rec.LoadState = LoadState(loadState)
		out = append(out, rec)
	}
	return out, rows.Err()
}
