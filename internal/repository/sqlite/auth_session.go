package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/sakif/itmo-auth/internal/model"
	"github.com/sakif/itmo-auth/internal/repository"
)

var _ repository.AuthSessionRepository = (*AuthSessionDB)(nil)

// AuthSessionDB is the auth_sessions audit table.
type AuthSessionDB struct {
	conn *sql.DB
}

// Append writes one audit row and fills in its ID and CreatedAt.
func (a *AuthSessionDB) Append(ctx context.Context, session *model.AuthSession) error {
	now := time.Now().UTC()

	res, err := a.conn.ExecContext(ctx,
		`INSERT INTO auth_sessions (status, isu, created_at) VALUES (?, ?, ?)`,
		session.Status,
		session.ISU,
		now,
	)
	if err != nil {
		return fmt.Errorf("sqlite: appending auth session: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("sqlite: reading auth session id: %w", err)
	}

	session.ID = id
	session.CreatedAt = now
	return nil
}

// CountByISU counts audit rows for isu, or rows with no ISU when isu is nil.
func (a *AuthSessionDB) CountByISU(ctx context.Context, isu *int64) (int, error) {
	var (
		row   *sql.Row
		count int
	)
	if isu == nil {
		row = a.conn.QueryRowContext(ctx, `SELECT COUNT(*) FROM auth_sessions WHERE isu IS NULL`)
	} else {
		row = a.conn.QueryRowContext(ctx, `SELECT COUNT(*) FROM auth_sessions WHERE isu = ?`, *isu)
	}
	if err := row.Scan(&count); err != nil {
		return 0, fmt.Errorf("sqlite: counting auth sessions: %w", err)
	}
	return count, nil
}
