package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/sakif/itmo-auth/internal/model"
	"github.com/sakif/itmo-auth/internal/repository"
)

var _ repository.AuthSessionRepository = (*AuthSessionDB)(nil)

// AuthSessionDB is the auth_sessions audit table.
type AuthSessionDB struct {
	pool *pgxpool.Pool
}

// Append writes one audit row and fills in its ID and CreatedAt.
func (a *AuthSessionDB) Append(ctx context.Context, session *model.AuthSession) error {
	err := a.pool.QueryRow(ctx,
		`INSERT INTO auth_sessions (status, isu) VALUES ($1, $2)
		 RETURNING id, created_at`,
		session.Status,
		session.ISU,
	).Scan(&session.ID, &session.CreatedAt)
	if err != nil {
		return fmt.Errorf("postgres: appending auth session: %w", err)
	}
	return nil
}

// CountByISU counts audit rows for isu, or rows with no ISU when isu is nil.
func (a *AuthSessionDB) CountByISU(ctx context.Context, isu *int64) (int, error) {
	var count int
	err := a.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM auth_sessions WHERE isu IS NOT DISTINCT FROM $1`,
		isu,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("postgres: counting auth sessions: %w", err)
	}
	return count, nil
}
