// Package postgres implements the repository interfaces on PostgreSQL
// through a pgx connection pool. The schema is managed by goose migrations
// embedded in the binary.
package postgres

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"

	"github.com/sakif/itmo-auth/internal/repository"
)

//go:embed migrations/*.sql
var migrations embed.FS

const migrationsTable = "schema_migrations"

var (
	ErrConnect = errors.New("postgres: failed to open db connection")
	ErrMigrate = errors.New("postgres: failed to apply migrations")
	ErrConfig  = errors.New("postgres: failed to parse db config")
)

var _ repository.Store = (*DB)(nil)

// Options tunes the pool and the startup retry loop. Zero values fall back
// to the defaults below.
type Options struct {
	MaxConns      int32
	MinConns      int32
	RetryAttempts int
	RetryInterval time.Duration
}

func (o Options) withDefaults() Options {
	if o.MaxConns == 0 {
		o.MaxConns = 10
	}
	if o.MinConns == 0 {
		o.MinConns = 1
	}
	if o.RetryAttempts == 0 {
		o.RetryAttempts = 3
	}
	if o.RetryInterval == 0 {
		o.RetryInterval = 2 * time.Second
	}
	return o
}

// DB wraps a pgx pool and hands out the table repositories.
type DB struct {
	pool *pgxpool.Pool
}

// New connects to databaseURL, retrying with linear backoff, and applies
// pending migrations.
func New(ctx context.Context, databaseURL string, opts Options, logger *slog.Logger) (*DB, error) {
	opts = opts.withDefaults()

	poolCfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, errors.Join(ErrConfig, err)
	}
	poolCfg.MaxConns = opts.MaxConns
	poolCfg.MinConns = opts.MinConns

	pool, err := connect(ctx, poolCfg, opts, logger)
	if err != nil {
		return nil, err
	}

	if err := migrate(ctx, pool, logger); err != nil {
		pool.Close()
		return nil, err
	}

	return &DB{pool: pool}, nil
}

func connect(ctx context.Context, poolCfg *pgxpool.Config, opts Options, logger *slog.Logger) (*pgxpool.Pool, error) {
	var lastErr error
	for i := range opts.RetryAttempts {
		pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
		if err == nil {
			if err = pool.Ping(ctx); err == nil {
				return pool, nil
			}
			pool.Close()
		}
		lastErr = err

		logger.Warn("postgres not reachable, retrying",
			"attempt", i+1,
			"error", err,
		)

		select {
		case <-ctx.Done():
			return nil, errors.Join(ErrConnect, ctx.Err())
		case <-time.After(time.Duration(i+1) * opts.RetryInterval):
		}
	}
	return nil, errors.Join(ErrConnect, lastErr)
}

// migrate runs the embedded goose migrations. goose speaks database/sql, so
// the pool is bridged through pgx's stdlib adapter.
func migrate(ctx context.Context, pool *pgxpool.Pool, logger *slog.Logger) error {
	db := stdlib.OpenDBFromPool(pool)
	defer func(db *sql.DB) {
		if err := db.Close(); err != nil {
			logger.ErrorContext(ctx, "closing migration connection", "error", err)
		}
	}(db)

	goose.SetBaseFS(migrations)
	goose.SetLogger(&gooseLogger{log: logger})
	goose.SetTableName(migrationsTable)

	if err := goose.SetDialect("postgres"); err != nil {
		return errors.Join(ErrMigrate, err)
	}
	if err := goose.UpContext(ctx, db, "migrations"); err != nil {
		return errors.Join(ErrMigrate, err)
	}
	return nil
}

// Users returns the users table repository.
func (db *DB) Users() repository.UserRepository {
	return &UserDB{pool: db.pool}
}

// AuthSessions returns the audit trail repository.
func (db *DB) AuthSessions() repository.AuthSessionRepository {
	return &AuthSessionDB{pool: db.pool}
}

// Ping checks that the database is reachable.
func (db *DB) Ping(ctx context.Context) error {
	if err := db.pool.Ping(ctx); err != nil {
		return fmt.Errorf("postgres: ping: %w", err)
	}
	return nil
}

// Close closes the pool. It never fails; the error return satisfies
// repository.Store.
func (db *DB) Close() error {
	db.pool.Close()
	return nil
}

// isDuplicateKey reports a unique constraint violation (SQLSTATE 23505).
func isDuplicateKey(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

// gooseLogger routes goose's printf logging into slog.
type gooseLogger struct {
	log *slog.Logger
}

func (g *gooseLogger) Fatalf(format string, v ...any) {
	g.log.Error(fmt.Sprintf(format, v...))
}

func (g *gooseLogger) Printf(format string, v ...any) {
	g.log.Info(fmt.Sprintf(format, v...))
}
