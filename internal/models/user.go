// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

package models

import (
	"strings"
	"time"
)

// Role is the binary authorization flag carried by every account.
type Role string

const (
	RoleUser  Role = "user"
	RoleAdmin Role = "admin"
)

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	return r == RoleUser || r == RoleAdmin
}

// NormalizeEmail trims and lowercases an address. Emails are stored and
// looked up in this form.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// User is the single persistent account record.
type User struct { //nolint:govet // fieldalignment: readability over optimization
	ID                   string     `db:"id" json:"id"`
	Name                 string     `db:"name" json:"name"`
	Email                string     `db:"email" json:"email"`
	PasswordHash         string     `db:"password_hash" json:"-"`
	Role                 Role       `db:"role" json:"role"`
	IsVerified           bool       `db:"is_verified" json:"isVerified"`
	VerificationToken    *string    `db:"verification_token" json:"-"`    // SHA256 digest
	PasswordResetToken   *string    `db:"password_reset_token" json:"-"`  // SHA256 digest
	PasswordResetExpires *time.Time `db:"password_reset_expires" json:"-"`
	CreatedAt            time.Time  `db:"created_at" json:"createdAt"`
	UpdatedAt            time.Time  `db:"updated_at" json:"updatedAt"`

	pendingPassword *string
}

// SetPassword stages a new plaintext password. The repository hashes it on
// the next write and discards the plaintext.
func (u *User) SetPassword(plaintext string) {
	u.pendingPassword = &plaintext
}

// PendingPassword returns the staged plaintext password, if any.
func (u *User) PendingPassword() (string, bool) {
	if u.pendingPassword == nil {
		return "", false
	}
	return *u.pendingPassword, true
}

// ClearPendingPassword drops the staged plaintext password.
func (u *User) ClearPendingPassword() {
	u.pendingPassword = nil
}

// ClearVerification removes any outstanding verification token.
func (u *User) ClearVerification() {
	u.VerificationToken = nil
}

// ClearPasswordReset removes any outstanding reset token and its expiry.
func (u *User) ClearPasswordReset() {
	u.PasswordResetToken = nil
	u.PasswordResetExpires = nil
}

// HasActiveReset reports whether a reset token is outstanding at now.
// An expired token counts as absent.
func (u *User) HasActiveReset(now time.Time) bool {
	return u.PasswordResetToken != nil &&
		u.PasswordResetExpires != nil &&
		u.PasswordResetExpires.After(now)
}

// Public is the login response view of a user.
type Public struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
	Role  Role   `json:"role"`
}

// Public returns the minimal public view of the user.
func (u *User) Public() Public {
	return Public{
		ID:    u.ID,
		Name:  u.Name,
		Email: u.Email,
		Role:  u.Role,
	}
}
