package postgres

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/xid"

	"github.com/sakif/itmo-auth/internal/apperror"
	"github.com/sakif/itmo-auth/internal/model"
	"github.com/sakif/itmo-auth/internal/repository"
)

var _ repository.UserRepository = (*UserDB)(nil)

// UserDB is the users table.
type UserDB struct {
	pool *pgxpool.Pool
}

// CreateIfAbsent inserts user unless its ISU is already taken. Losing a race
// on the isu constraint is reported as created=false, never as an error.
func (u *UserDB) CreateIfAbsent(ctx context.Context, user *model.User) (bool, error) {
	id := xid.New().String()
	now := time.Now().UTC()

	tag, err := u.pool.Exec(ctx,
		`INSERT INTO users (id, isu, name, avatar_url, email, nickname, birthdate, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		 ON CONFLICT (isu) DO NOTHING`,
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
		if isDuplicateKey(err) {
			return false, nil
		}
		return false, fmt.Errorf("postgres: inserting user (isu=%d): %w", user.ISU, err)
	}
	if tag.RowsAffected() == 0 {
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

	err := u.pool.QueryRow(ctx,
		`SELECT id, isu, name, avatar_url, email, nickname, birthdate, created_at, updated_at
		 FROM users WHERE isu = $1`,
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
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperror.NotFound("user", strconv.FormatInt(isu, 10))
		}
		return nil, fmt.Errorf("postgres: getting user (isu=%d): %w", isu, err)
	}

	return &usr, nil
}
