package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"OverlayCompanion/internal/domain"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PrefsStore keeps preferences in a shared database, one scope per
// installation so several overlays can share a server.
type PrefsStore struct {
	pool  *pgxpool.Pool
	scope string
}

func NewPrefsStore(pool *pgxpool.Pool, scope string) *PrefsStore {
	return &PrefsStore{pool: pool, scope: scopeOrDefault(scope)}
}

func (s *PrefsStore) Get(ctx context.Context, key string) (domain.Preference, error) {
	const q = `
		SELECT value, updated_at
		FROM companion_prefs
		WHERE user_scope = $1 AND key = $2
	`

	var (
		value     pgtype.Text
		updatedAt pgtype.Timestamptz
	)
	err := s.pool.QueryRow(ctx, q, s.scope, key).Scan(&value, &updatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Preference{}, domain.ErrNotFound
		}
		return domain.Preference{}, fmt.Errorf("get pref: %w", err)
	}
	return preferenceFrom(key, value, updatedAt), nil
}

func (s *PrefsStore) Set(ctx context.Context, key, value string, when time.Time) error {
	const q = `
		INSERT INTO companion_prefs (user_scope, key, value, updated_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (user_scope, key)
		DO UPDATE SET
			value = EXCLUDED.value,
			updated_at = EXCLUDED.updated_at
	`
	if _, err := s.pool.Exec(ctx, q, s.scope, key, value, when.UTC()); err != nil {
		return fmt.Errorf("set pref: %w", err)
	}
	return nil
}

func (s *PrefsStore) Delete(ctx context.Context, key string) error {
	const q = `DELETE FROM companion_prefs WHERE user_scope = $1 AND key = $2`
	if _, err := s.pool.Exec(ctx, q, s.scope, key); err != nil {
		return fmt.Errorf("delete pref: %w", err)
	}
	return nil
}

func (s *PrefsStore) List(ctx context.Context) ([]domain.Preference, error) {
	const q = `
		SELECT key, value, updated_at
		FROM companion_prefs
		WHERE user_scope = $1
		ORDER BY key
	`
	rows, err := s.pool.Query(ctx, q, s.scope)
	if err != nil {
		return nil, fmt.Errorf("list prefs: %w", err)
	}
	defer rows.Close()

	out := []domain.Preference{}
	for rows.Next() {
		var (
			key       string
			value     pgtype.Text
			updatedAt pgtype.Timestamptz
		)
		if err := rows.Scan(&key, &value, &updatedAt); err != nil {
			return nil, fmt.Errorf("scan pref: %w", err)
		}
		out = append(out, preferenceFrom(key, value, updatedAt))
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list prefs: %w", err)
	}
	return out, nil
}
