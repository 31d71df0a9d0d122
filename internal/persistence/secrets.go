package persistence

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// SecretCacheEntry records that a credential key was resolved from the
// OS keychain, without ever storing the secret value itself — the
// cache exists purely so the secret store can answer "have we fetched
// this key recently" without re-touching the keychain on every call.
type SecretCacheEntry struct {
	Key           string
	Source        string
	LastFetchedAt time.Time
	FetchError    string
}

// RecordSecretFetch upserts the bookkeeping row for a resolved (or
// failed) keychain lookup.
func (s *Store) RecordSecretFetch(ctx context.Context, key, source, fetchErr string) error {
	return retryOnBusy(ctx, 5, func() error {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO secrets_cache (key, source, last_fetched_at, fetch_error)
			VALUES (?, ?, CURRENT_TIMESTAMP, ?)
			ON CONFLICT(key) DO UPDATE SET
				source = excluded.source,
				last_fetched_at = CURRENT_TIMESTAMP,
				fetch_error = excluded.fetch_error;
		`, key, source, nullIfEmpty(fetchErr))
		if err != nil {
			return fmt.Errorf("record secret fetch: %w", err)
		}
		return nil
	})
}

// GetSecretCacheEntry fetches bookkeeping for a key, if any.
func (s *Store) GetSecretCacheEntry(ctx context.Context, key string) (*SecretCacheEntry, error) {
	var e SecretCacheEntry
	var fetchErr sql.NullString
	err := s.db.QueryRowContext(ctx, `
		SELECT key, source, last_fetched_at, fetch_error FROM secrets_cache WHERE key = ?;
	`, key).Scan(&e.Key, &e.Source, &e.LastFetchedAt, &fetchErr)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get secret cache entry: %w", err)
	}
	e.FetchError = fetchErr.String
	return &e, nil
}

func nullIfEmpty(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
