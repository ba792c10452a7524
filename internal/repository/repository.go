// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

package repository

import (
	"context"
	"database/sql"
	"errors"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/vinovest/sqlx"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

var (
	// ErrNotFound is returned when a record is not found
	ErrNotFound = errors.New("record not found")
	// ErrDuplicateEmail is returned when an email is already registered
	ErrDuplicateEmail = errors.New("email already registered")
	// ErrTokenMismatch is returned when a conditional update finds the
	// token already consumed, replaced or expired
	ErrTokenMismatch = errors.New("token no longer matches")
	// ErrAlreadyVerified is returned when a verification token is set on a
	// user that is already verified
	ErrAlreadyVerified = errors.New("user already verified")
	// ErrNoPassword is returned when a user would be written without a hash
	ErrNoPassword = errors.New("user has no password")
)

// PasswordHasher turns a plaintext password into a one-way digest.
type PasswordHasher interface {
	Hash(ctx context.Context, plain string) (string, error)
}

// Repository wraps sqlx for database operations
type Repository struct {
	db     *sqlx.DB
	hasher PasswordHasher
}

// New creates a new Repository instance
func New(db *sqlx.DB, hasher PasswordHasher) *Repository {
	return &Repository{db: db, hasher: hasher}
}

// DB returns the underlying sqlx DB for direct access
func (r *Repository) DB() *sqlx.DB {
	return r.db
}

// Ping checks that the database is reachable.
func (r *Repository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// wrapError converts driver errors to repository errors
func wrapError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if isUniqueViolation(err) {
		return ErrDuplicateEmail
	}
	return err
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}

	var liteErr *sqlite.Error
	if errors.As(err, &liteErr) {
		return liteErr.Code() == sqlite3.SQLITE_CONSTRAINT_UNIQUE
	}

	return false
}
