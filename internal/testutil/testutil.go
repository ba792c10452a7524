// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

// Package testutil provides test helpers and fixtures.
package testutil

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"codeberg.org/oliverandrich/account-service/internal/database"
	"codeberg.org/oliverandrich/account-service/internal/models"
	"codeberg.org/oliverandrich/account-service/internal/repository"
	"codeberg.org/oliverandrich/account-service/internal/services/password"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/require"
	"github.com/vinovest/sqlx"
	"golang.org/x/crypto/bcrypt"
)

// TestPassword is the password given to users created by NewTestUser.
const TestPassword = "secret123"

// NewHasher returns a password hasher with the cheapest bcrypt cost.
func NewHasher() *password.Hasher {
	return password.NewHasher(bcrypt.MinCost, 4)
}

// NewTestDB creates an in-memory SQLite database for tests.
// Returns both the database connection and the repository for convenience.
func NewTestDB(t *testing.T) (*sqlx.DB, *repository.Repository) {
	t.Helper()
	db, err := database.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = db.Close()
	})
	repo := repository.New(db, NewHasher())
	return db, repo
}

// NewTestUser creates an unverified user with TestPassword.
func NewTestUser(t *testing.T, repo *repository.Repository, name, email string) *models.User {
	t.Helper()
	user := &models.User{
		Name:  name,
		Email: email,
	}
	user.SetPassword(TestPassword)
	require.NoError(t, repo.CreateUser(context.Background(), user))
	return user
}

// Mail is one message captured by MailRecorder.
type Mail struct {
	To      string
	Subject string
	Body    string
}

// MailRecorder is an email sender that keeps messages in memory.
// Setting Err makes every send fail with it.
type MailRecorder struct {
	Err error

	mu   sync.Mutex
	sent []Mail
}

// ErrMailDown is a convenient failure for MailRecorder.Err.
var ErrMailDown = errors.New("mail server unavailable")

// Send records the message or returns Err.
func (m *MailRecorder) Send(_ context.Context, to, subject, body string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return m.Err
	}
	m.sent = append(m.sent, Mail{To: to, Subject: subject, Body: body})
	return nil
}

// Sent returns a copy of all recorded messages.
func (m *MailRecorder) Sent() []Mail {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Mail(nil), m.sent...)
}

// Last returns the most recent message.
func (m *MailRecorder) Last(t *testing.T) Mail {
	t.Helper()
	sent := m.Sent()
	require.NotEmpty(t, sent, "no mail was sent")
	return sent[len(sent)-1]
}

// NewEchoContext creates an Echo context for handler tests.
func NewEchoContext(e *echo.Echo, method, path string, body io.Reader) (echo.Context, *httptest.ResponseRecorder) {
	req := httptest.NewRequest(method, path, body)
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	return c, rec
}

// NewRequest creates an HTTP request for testing.
func NewRequest(method, path string, body io.Reader) *http.Request {
	req := httptest.NewRequest(method, path, body)
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	return req
}
