package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/rs/xid"

	"github.com/sakif/itmo-auth/internal/apperror"
	"github.com/sakif/itmo-auth/internal/model"
	"github.com/sakif/itmo-auth/internal/repository"
)

var _ repository.UserRepository = (*UserDB)(nil)

// UserDB is the users table.
type UserDB struct {
	conn *sql.DB
}

// CreateIfAbsent inserts user unless its ISU is already taken.
//
// The UNIQUE constraint on isu does the existence check, so two concurrent
// inserts for the same ISU cannot both succeed: the loser sees zero rows
// affected and reports created=false.
func (u *UserDB) CreateIfAbsent(ctx context.Context, user *model.User) (bool, error) {
	id := xid.New().String()
	now := time.Now().UTC()

	res, err := u.conn.ExecContext(ctx,
		`INSERT INTO users (id, isu, name, avatar_url, email, nickname, birthdate, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(isu) DO NOTHING`,
		id,
		user.ISU,
		user.Name,
		user.AvatarURL,
		user.Email,
		user.Nickname,
		user.Birthdate,
		now,
		now,
	)
	if err != nil {
		return false, fmt.Errorf("sqlite: inserting user (isu=%d): %w", user.ISU, err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("sqlite: checking rows affected: %w", err)
	}
	if n == 0 {
		return false, nil
	}

	user.ID = id
	user.CreatedAt = now
	user.UpdatedAt = now
	return true, nil
}

// GetByISU returns the user with the given ISU.
func (u *UserDB) GetByISU(ctx context.Context, isu int64) (*model.User, error) {
	var usr model.User

	err := u.conn.QueryRowContext(ctx,
		`SELECT id, isu, name, avatar_url, email, nickname, birthdate, created_at, updated_at
		 FROM users WHERE isu = ?`,
		isu,
	).Scan(
		&usr.ID,
		&usr.ISU,
		&usr.Name,
		&usr.AvatarURL,
		&usr.Email,
		&usr.Nickname,
		&usr.Birthdate,
		&usr.CreatedAt,
		&usr.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperror.NotFound("user", strconv.FormatInt(isu, 10))
		}
		return nil, fmt.Errorf("sqlite: getting user (isu=%d): %w", isu, err)
	}

	return &usr, nil
}
