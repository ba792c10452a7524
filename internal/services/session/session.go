// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

// Package session issues and verifies the signed, self-contained session
// tokens handed out on login.
package session

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"codeberg.org/oliverandrich/account-service/internal/config"
	"codeberg.org/oliverandrich/account-service/internal/models"
	"github.com/golang-jwt/jwt/v5"
	"github.com/gorilla/securecookie"
)

var (
	// ErrNoSession is returned when a request carries no session token.
	ErrNoSession = errors.New("no session token")
	// ErrInvalidSession is returned for any token that fails verification.
	ErrInvalidSession = errors.New("invalid session token")
)

// DefaultLifetime is used when the configuration does not set a max age.
const DefaultLifetime = 24 * time.Hour

// Claims is the payload of a session token.
type Claims struct {
	UserID string      `json:"id"`
	Role   models.Role `json:"role"`
	jwt.RegisteredClaims
}

// Manager signs and verifies session tokens and builds the session cookie.
type Manager struct {
	now        func() time.Time
	key        []byte
	cookieName string
	lifetime   time.Duration
	secure     bool
	httpOnly   bool
}

// Option configures a Manager.
type Option func(*Manager)

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		m.now = now
	}
}

// NewManager creates a session manager. An empty secret is replaced by a
// random key, which invalidates all sessions on restart.
func NewManager(cfg *config.SessionConfig, opts ...Option) (*Manager, error) {
	key := []byte(cfg.Secret)
	if len(key) == 0 {
		key = securecookie.GenerateRandomKey(32)
		if key == nil {
			return nil, fmt.Errorf("failed to generate session secret")
		}
		slog.Warn("session_secret_generated", "reason", "no session secret configured, sessions end on restart")
	}

	m := &Manager{
		now:        time.Now,
		key:        key,
		cookieName: cfg.CookieName,
		lifetime:   cfg.Lifetime(),
		secure:     cfg.CookieSecure,
		httpOnly:   cfg.CookieHTTPOnly,
	}
	if m.cookieName == "" {
		m.cookieName = "token"
	}
	if m.lifetime <= 0 {
		m.lifetime = DefaultLifetime
	}
	for _, opt := range opts {
		opt(m)
	}

	return m, nil
}

// CookieName returns the name of the session cookie.
func (m *Manager) CookieName() string {
	return m.cookieName
}

// Issue signs a new token for the user. It returns the token and its expiry.
func (m *Manager) Issue(userID string, role models.Role) (string, time.Time, error) {
	now := m.now()
	expires := now.Add(m.lifetime)

	claims := Claims{
		UserID: userID,
		Role:   role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expires),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.key)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("failed to sign session token: %w", err)
	}
	return signed, expires, nil
}

// Parse verifies a token and returns its claims. Every failure, whether a
// bad signature, a foreign algorithm, expiry or garbage input, wraps
// ErrInvalidSession.
func (m *Manager) Parse(tokenString string) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims,
		func(*jwt.Token) (any, error) {
			return m.key, nil
		},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
		jwt.WithTimeFunc(m.now),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidSession, err)
	}
	if !token.Valid || claims.UserID == "" {
		return nil, ErrInvalidSession
	}
	return claims, nil
}

// Cookie wraps a token in the session cookie.
func (m *Manager) Cookie(token string) *http.Cookie {
	return &http.Cookie{
		Name:     m.cookieName,
		Value:    token,
		Path:     "/",
		MaxAge:   int(m.lifetime / time.Second),
		Expires:  m.now().Add(m.lifetime),
		HttpOnly: m.httpOnly,
		Secure:   m.secure,
		SameSite: http.SameSiteLaxMode,
	}
}

// ClearCookie returns a cookie that removes the session cookie.
func (m *Manager) ClearCookie() *http.Cookie {
	return &http.Cookie{
		Name:     m.cookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		Expires:  time.Unix(0, 0),
		HttpOnly: m.httpOnly,
		Secure:   m.secure,
		SameSite: http.SameSiteLaxMode,
	}
}

// TokenFromRequest extracts the session token. The cookie wins over an
// Authorization: Bearer header.
func (m *Manager) TokenFromRequest(r *http.Request) (string, error) {
	if c, err := r.Cookie(m.cookieName); err == nil && c.Value != "" {
		return c.Value, nil
	}

	scheme, token, ok := strings.Cut(r.Header.Get("Authorization"), " ")
	if ok && strings.EqualFold(scheme, "Bearer") {
		if token = strings.TrimSpace(token); token != "" {
			return token, nil
		}
	}

	return "", ErrNoSession
}
