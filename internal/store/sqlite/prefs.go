package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"OverlayCompanion/internal/domain"
)

type PrefsStore struct {
	db *sql.DB
}

func NewPrefsStore(db *sql.DB) *PrefsStore {
	return &PrefsStore{db: db}
}

func (s *PrefsStore) Get(ctx context.Context, key string) (domain.Preference, error) {
	const q = `SELECT key, value, updated_at FROM prefs WHERE key = ?`

	var p domain.Preference
	err := s.db.QueryRowContext(ctx, q, key).Scan(&p.Key, &p.Value, &p.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Preference{}, domain.ErrNotFound
		}
		return domain.Preference{}, fmt.Errorf("get pref: %w", err)
	}
	return p, nil
}

func (s *PrefsStore) Set(ctx context.Context, key, value string, when time.Time) error {
	const q = `
		INSERT INTO prefs (key, value, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET
			value = excluded.value,
			updated_at = excluded.updated_at
	`
	if _, err := s.db.ExecContext(ctx, q, key, value, when.UTC()); err != nil {
		return fmt.Errorf("set pref: %w", err)
	}
	return nil
}

func (s *PrefsStore) Delete(ctx context.Context, key string) error {
	const q = `DELETE FROM prefs WHERE key = ?`
	if _, err := s.db.ExecContext(ctx, q, key); err != nil {
		return fmt.Errorf("delete pref: %w", err)
	}
	return nil
}

func (s *PrefsStore) List(ctx context.Context) ([]domain.Preference, error) {
	const q = `SELECT key, value, updated_at FROM prefs ORDER BY key`

	rows, err := s.db.QueryContext(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("list prefs: %w", err)
	}
	defer rows.Close()

	out := []domain.Preference{}
	for rows.Next() {
		var p domain.Preference
		if err := rows.Scan(&p.Key, &p.Value, &p.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan pref: %w", err)
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list prefs: %w", err)
	}
	return out, nil
}
