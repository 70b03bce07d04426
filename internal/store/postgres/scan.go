package postgres

import (
	"strings"
	"time"

	"OverlayCompanion/internal/domain"

	"github.com/jackc/pgx/v5/pgtype"
)

const defaultScope = "local"

func scopeOrDefault(scope string) string {
	scope = strings.TrimSpace(scope)
	if scope == "" {
		return defaultScope
	}
	return scope
}

func textOrEmpty(t pgtype.Text) string {
	if t.Valid {
		return t.String
	}
	return ""
}

func timestamptzOrZero(t pgtype.Timestamptz) time.Time {
	if !t.Valid {
		return time.Time{}
	}
	return t.Time.UTC()
}

func preferenceFrom(key string, value pgtype.Text, updatedAt pgtype.Timestamptz) domain.Preference {
	return domain.Preference{
		Key:       key,
		Value:     textOrEmpty(value),
		UpdatedAt: timestamptzOrZero(updatedAt),
	}
}
