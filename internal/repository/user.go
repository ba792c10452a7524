// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

package repository

import (
	"context"
	"fmt"
	"time"

	"codeberg.org/oliverandrich/account-service/internal/models"
	"github.com/google/uuid"
)

const userColumns = `id, name, email, password_hash, role, is_verified,
	verification_token, password_reset_token, password_reset_expires,
	created_at, updated_at`

// prepareWrite runs before a user row is inserted or its password replaced.
// A staged plaintext password is hashed here and then dropped, so no write
// path can persist a password that does not match its hash.
func (r *Repository) prepareWrite(ctx context.Context, user *models.User, now time.Time) error {
	if plain, ok := user.PendingPassword(); ok {
		hash, err := r.hasher.Hash(ctx, plain)
		if err != nil {
			return err
		}
		user.PasswordHash = hash
		user.ClearPendingPassword()
	}
	if user.PasswordHash == "" {
		return ErrNoPassword
	}

	if user.Role == "" {
		user.Role = models.RoleUser
	}
	if !user.Role.Valid() {
		return fmt.Errorf("invalid role %q", user.Role)
	}

	user.UpdatedAt = now
	return nil
}

// CreateUser inserts a new user. ID, timestamps and the default role are
// assigned here. A taken email fails with ErrDuplicateEmail.
func (r *Repository) CreateUser(ctx context.Context, user *models.User) error {
	now := time.Now().UTC()
	if err := r.prepareWrite(ctx, user, now); err != nil {
		return err
	}
	if user.ID == "" {
		user.ID = uuid.NewString()
	}
	user.CreatedAt = now

	_, err := r.db.ExecContext(ctx, r.db.Rebind(`INSERT INTO users (`+userColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		user.ID, user.Name, user.Email, user.PasswordHash, string(user.Role), user.IsVerified,
		nullString(user.VerificationToken), nullString(user.PasswordResetToken), nullTime(user.PasswordResetExpires),
		user.CreatedAt, user.UpdatedAt)
	return wrapError(err)
}

// GetUserByID retrieves a user by their ID
func (r *Repository) GetUserByID(ctx context.Context, id string) (*models.User, error) {
	return r.getUser(ctx, `WHERE id = ?`, id)
}

// GetUserByEmail retrieves a user by their email address
func (r *Repository) GetUserByEmail(ctx context.Context, email string) (*models.User, error) {
	return r.getUser(ctx, `WHERE email = ?`, email)
}

// GetUserByVerificationToken retrieves the user holding the given
// verification token digest.
func (r *Repository) GetUserByVerificationToken(ctx context.Context, digest string) (*models.User, error) {
	return r.getUser(ctx, `WHERE verification_token = ?`, digest)
}

// GetUserByActiveResetToken retrieves the user holding the given reset token
// digest, provided it has not expired at now.
func (r *Repository) GetUserByActiveResetToken(ctx context.Context, digest string, now time.Time) (*models.User, error) {
	return r.getUser(ctx, `WHERE password_reset_token = ? AND password_reset_expires > ?`, digest, now.UTC())
}

func (r *Repository) getUser(ctx context.Context, where string, args ...any) (*models.User, error) {
	var user models.User
	query := r.db.Rebind(`SELECT ` + userColumns + ` FROM users ` + where)
	if err := r.db.GetContext(ctx, &user, query, args...); err != nil {
		return nil, wrapError(err)
	}
	return &user, nil
}

// Each workflow below writes only the columns it owns, so an update built
// from an earlier read cannot undo what another workflow committed since.

// SetResetToken stores a reset token digest and its expiry, replacing any
// earlier one.
func (r *Repository) SetResetToken(ctx context.Context, user *models.User, digest string, expires time.Time) error {
	now := time.Now().UTC()
	expires = expires.UTC()
	n, err := r.exec(ctx, `UPDATE users
		SET password_reset_token = ?, password_reset_expires = ?, updated_at = ?
		WHERE id = ?`,
		digest, expires, now, user.ID)
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}

	user.PasswordResetToken = &digest
	user.PasswordResetExpires = &expires
	user.UpdatedAt = now
	return nil
}

// SetVerificationToken stores a new verification token digest for a user
// that is still unverified. A user verified in the meantime, or gone, gets
// ErrAlreadyVerified.
func (r *Repository) SetVerificationToken(ctx context.Context, user *models.User, digest string) error {
	now := time.Now().UTC()
	n, err := r.exec(ctx, `UPDATE users
		SET verification_token = ?, updated_at = ?
		WHERE id = ? AND is_verified = ?`,
		digest, now, user.ID, false)
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrAlreadyVerified
	}

	user.VerificationToken = &digest
	user.UpdatedAt = now
	return nil
}

// MarkVerified flags user as verified and clears its verification and reset
// tokens, but only while the stored verification token still equals digest.
// Of several concurrent callers presenting the same token at most one
// succeeds; the others get ErrTokenMismatch.
func (r *Repository) MarkVerified(ctx context.Context, user *models.User, digest string) error {
	now := time.Now().UTC()
	n, err := r.exec(ctx, `UPDATE users
		SET is_verified = ?, verification_token = NULL,
			password_reset_token = NULL, password_reset_expires = NULL, updated_at = ?
		WHERE id = ? AND verification_token = ?`,
		true, now, user.ID, digest)
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrTokenMismatch
	}

	user.IsVerified = true
	user.ClearVerification()
	user.ClearPasswordReset()
	user.UpdatedAt = now
	return nil
}

// SetPasswordIfResetToken writes the password staged on user and clears the
// reset token, but only while the stored reset token still equals digest and
// has not expired at now.
func (r *Repository) SetPasswordIfResetToken(ctx context.Context, user *models.User, digest string, now time.Time) error {
	if _, ok := user.PendingPassword(); !ok {
		return ErrNoPassword
	}
	if err := r.prepareWrite(ctx, user, time.Now().UTC()); err != nil {
		return err
	}

	n, err := r.exec(ctx, `UPDATE users
		SET password_hash = ?, password_reset_token = NULL, password_reset_expires = NULL, updated_at = ?
		WHERE id = ? AND password_reset_token = ? AND password_reset_expires > ?`,
		user.PasswordHash, user.UpdatedAt, user.ID, digest, now.UTC())
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrTokenMismatch
	}

	user.ClearPasswordReset()
	return nil
}

func (r *Repository) exec(ctx context.Context, query string, args ...any) (int64, error) {
	result, err := r.db.ExecContext(ctx, r.db.Rebind(query), args...)
	if err != nil {
		return 0, wrapError(err)
	}
	return result.RowsAffected()
}

// SetUserRole changes the role of the user with the given email.
func (r *Repository) SetUserRole(ctx context.Context, email string, role models.Role) error {
	if !role.Valid() {
		return fmt.Errorf("invalid role %q", role)
	}

	result, err := r.db.ExecContext(ctx,
		r.db.Rebind(`UPDATE users SET role = ?, updated_at = ? WHERE email = ?`),
		string(role), time.Now().UTC(), email)
	if err != nil {
		return err
	}
	n, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// CountUsers returns the total number of users
func (r *Repository) CountUsers(ctx context.Context) (int64, error) {
	var count int64
	if err := r.db.GetContext(ctx, &count, `SELECT count(*) FROM users`); err != nil {
		return 0, err
	}
	return count, nil
}

// ClearExpiredResetTokens removes reset tokens whose expiry lies at or
// before now and returns how many users were touched.
func (r *Repository) ClearExpiredResetTokens(ctx context.Context, now time.Time) (int64, error) {
	now = now.UTC()
	result, err := r.db.ExecContext(ctx, r.db.Rebind(`UPDATE users
		SET password_reset_token = NULL, password_reset_expires = NULL, updated_at = ?
		WHERE password_reset_expires IS NOT NULL AND password_reset_expires <= ?`),
		now, now)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

func nullString(s *string) any {
	if s == nil {
		return nil
	}
	return *s
}

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC()
}
