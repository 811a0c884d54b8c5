package repository

import (
	"context"

	"github.com/sakif/itmo-auth/internal/model"
)

// UserRepository stores user records keyed by ISU.
type UserRepository interface {
	// GetByISU returns apperror.ErrNotFound when no user has that ISU.
	GetByISU(ctx context.Context, isu int64) (*model.User, error)

	// CreateIfAbsent inserts user unless a row with the same ISU exists.
	// It reports whether this call created the row. An existing row is left
	// untouched and user is not modified in that case.
	CreateIfAbsent(ctx context.Context, user *model.User) (bool, error)
}

// AuthSessionRepository is the append-only sign-in audit trail.
type AuthSessionRepository interface {
	Append(ctx context.Context, session *model.AuthSession) error

	// CountByISU counts rows for isu; a nil isu counts rows without one.
	CountByISU(ctx context.Context, isu *int64) (int, error)
}

// Store is everything the sign-in flow needs from a storage backend.
type Store interface {
	Users() UserRepository
	AuthSessions() AuthSessionRepository
	Ping(ctx context.Context) error
	Close() error
}
