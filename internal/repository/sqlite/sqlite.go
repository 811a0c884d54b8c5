// Package sqlite implements the repository interfaces on SQLite.
//
// It uses modernc.org/sqlite, a pure Go translation of SQLite, so the binary
// builds without cgo. Pass ":memory:" as the path for a throwaway database in
// tests.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"

	"github.com/sakif/itmo-auth/internal/repository"
)

var _ repository.Store = (*DB)(nil)

// DB wraps a sql.DB connection pool and hands out the table repositories.
type DB struct {
	conn *sql.DB
}

// New opens the database at dbPath, applies pragmas and runs migrations.
func New(dbPath string) (*DB, error) {
	conn, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("sqlite: opening database: %w", err)
	}

	// An in-memory database lives and dies with its connection; a pool of
	// several would give each caller its own empty database.
	if dbPath == ":memory:" {
		conn.SetMaxOpenConns(1)
	}

	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("sqlite: pinging database: %w", err)
	}

	// WAL lets readers proceed while a sign-in is writing.
	if _, err := conn.Exec("PRAGMA journal_mode=WAL"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("sqlite: setting WAL mode: %w", err)
	}

	// Concurrent first logins contend for the write lock; wait instead of
	// failing with SQLITE_BUSY.
	if _, err := conn.Exec("PRAGMA busy_timeout=5000"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("sqlite: setting busy timeout: %w", err)
	}

	db := &DB{conn: conn}

	if err := db.migrate(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("sqlite: running migrations: %w", err)
	}

	return db, nil
}

// Users returns the users table repository.
func (db *DB) Users() repository.UserRepository {
	return &UserDB{conn: db.conn}
}

// AuthSessions returns the audit trail repository.
func (db *DB) AuthSessions() repository.AuthSessionRepository {
	return &AuthSessionDB{conn: db.conn}
}

// Ping checks that the database is reachable.
func (db *DB) Ping(ctx context.Context) error {
	if err := db.conn.PingContext(ctx); err != nil {
		return fmt.Errorf("sqlite: ping: %w", err)
	}
	return nil
}

// Close closes the connection pool.
func (db *DB) Close() error {
	return db.conn.Close()
}

// migrate creates the schema. Every statement is idempotent, so it runs on
// each start.
func (db *DB) migrate() error {
	// isu is UNIQUE: concurrent first logins for the same person resolve to
	// a single row instead of duplicates.
	_, err := db.conn.Exec(`
		CREATE TABLE IF NOT EXISTS users (
			id         TEXT PRIMARY KEY,
			isu        INTEGER NOT NULL UNIQUE,
			name       TEXT NOT NULL DEFAULT '',
			avatar_url TEXT,
			email      TEXT,
			nickname   TEXT,
			birthdate  TEXT,
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		);
	`)
	if err != nil {
		return fmt.Errorf("creating users table: %w", err)
	}

	_, err = db.conn.Exec(`
		CREATE TABLE IF NOT EXISTS auth_sessions (
			id         INTEGER PRIMARY KEY AUTOINCREMENT,
			status     INTEGER NOT NULL,
			isu        INTEGER,
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		);
		CREATE INDEX IF NOT EXISTS idx_auth_sessions_isu ON auth_sessions(isu);
	`)
	if err != nil {
		return fmt.Errorf("creating auth_sessions table: %w", err)
	}

	return nil
}
