// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

package server

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"codeberg.org/oliverandrich/account-service/internal/config"
	"codeberg.org/oliverandrich/account-service/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

func testConfig() *config.Config {
	return &config.Config{
		Server: config.ServerConfig{
			Host:        "localhost",
			Port:        3000,
			BaseURL:     "http://localhost:3000",
			MaxBodySize: 1,
			CORSOrigins: []string{"http://localhost:5173"},
		},
		Session: config.SessionConfig{
			Secret:     "test-secret",
			CookieName: "token",
			MaxAge:     86400,
		},
		SMTP: config.SMTPConfig{
			Timeout: time.Second,
		},
		Auth: config.AuthConfig{
			BcryptCost:        bcrypt.MinCost,
			HashWorkers:       2,
			ResetTTL:          10 * time.Minute,
			MinPasswordLength: 8,
		},
		Metrics: config.MetricsConfig{
			Enabled: true,
		},
	}
}

func newTestApp(t *testing.T, cfg *config.Config) *App {
	t.Helper()
	db, _ := testutil.NewTestDB(t)
	app, err := New(cfg, db)
	require.NoError(t, err)
	return app
}

func serve(app *App, req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	app.Echo.ServeHTTP(rec, req)
	return rec
}

func TestNew_InvalidBaseURL(t *testing.T) {
	cfg := testConfig()
	cfg.Server.BaseURL = ""
	db, _ := testutil.NewTestDB(t)

	_, err := New(cfg, db)

	require.Error(t, err)
}

func TestNew_InvalidSMTPConfig(t *testing.T) {
	cfg := testConfig()
	cfg.SMTP.Host = "smtp.example.com"
	db, _ := testutil.NewTestDB(t)

	_, err := New(cfg, db)

	require.Error(t, err)
}

func TestRoutes(t *testing.T) {
	app := newTestApp(t, testConfig())

	tests := []struct {
		method string
		path   string
		body   string
		status int
	}{
		{http.MethodGet, "/health", "", http.StatusOK},
		{http.MethodPost, "/api/v1/users/register", `{}`, http.StatusBadRequest},
		{http.MethodGet, "/api/v1/users/verify/abc", "", http.StatusBadRequest},
		{http.MethodPost, "/api/v1/users/login", `{}`, http.StatusBadRequest},
		{http.MethodGet, "/api/v1/users/me", "", http.StatusUnauthorized},
		{http.MethodGet, "/api/v1/users/logout", "", http.StatusOK},
		{http.MethodPost, "/api/v1/users/forgot-password", `{}`, http.StatusBadRequest},
		{http.MethodPost, "/api/v1/users/reset-password/abc", `{"password":"brand-new-pass"}`, http.StatusBadRequest},
		{http.MethodPost, "/api/v1/users/resend-verification", `{}`, http.StatusBadRequest},
		{http.MethodPost, "/api/v1/users/login/", `{}`, http.StatusBadRequest},
		{http.MethodGet, "/api/v1/users/unknown", "", http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.method+" "+tt.path, func(t *testing.T) {
			req := testutil.NewRequest(tt.method, tt.path, strings.NewReader(tt.body))
			rec := serve(app, req)

			assert.Equal(t, tt.status, rec.Code, rec.Body.String())
		})
	}
}

func TestMetricsEndpoint(t *testing.T) {
	app := newTestApp(t, testConfig())

	serve(app, testutil.NewRequest(http.MethodPost, "/api/v1/users/login", strings.NewReader(`{}`)))

	rec := serve(app, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, `account_workflows_total{outcome="missing_credentials",workflow="login"} 1`)
	assert.Contains(t, body, `http_requests_total{method="POST",route="/api/v1/users/login",status="400"} 1`)
}

func TestMetricsDisabled(t *testing.T) {
	cfg := testConfig()
	cfg.Metrics.Enabled = false
	app := newTestApp(t, cfg)

	rec := serve(app, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	// Workflows still run without collectors
	rec = serve(app, testutil.NewRequest(http.MethodPost, "/api/v1/users/login", strings.NewReader(`{}`)))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCORS(t *testing.T) {
	app := newTestApp(t, testConfig())

	t.Run("allowed origin preflight", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodOptions, "/api/v1/users/login", nil)
		req.Header.Set("Origin", "http://localhost:5173")
		req.Header.Set("Access-Control-Request-Method", http.MethodPost)
		rec := serve(app, req)

		assert.Equal(t, http.StatusNoContent, rec.Code)
		assert.Equal(t, "http://localhost:5173", rec.Header().Get("Access-Control-Allow-Origin"))
		assert.Equal(t, "true", rec.Header().Get("Access-Control-Allow-Credentials"))
	})

	t.Run("allowed origin request", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/health", nil)
		req.Header.Set("Origin", "http://localhost:5173")
		rec := serve(app, req)

		assert.Equal(t, "http://localhost:5173", rec.Header().Get("Access-Control-Allow-Origin"))
		assert.Contains(t, rec.Header().Get("Access-Control-Expose-Headers"), "Set-Cookie")
	})

	t.Run("foreign origin", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/health", nil)
		req.Header.Set("Origin", "http://evil.example")
		rec := serve(app, req)

		assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
	})
}

func TestBodyLimit(t *testing.T) {
	app := newTestApp(t, testConfig())

	body := `{"email":"` + strings.Repeat("a", 2<<20) + `"}`
	rec := serve(app, testutil.NewRequest(http.MethodPost, "/api/v1/users/forgot-password", strings.NewReader(body)))

	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
}

func TestBodyLimitValue(t *testing.T) {
	assert.Equal(t, "1M", bodyLimit(0))
	assert.Equal(t, "1M", bodyLimit(-3))
	assert.Equal(t, "5M", bodyLimit(5))
}

func TestSecurityHeaders(t *testing.T) {
	app := newTestApp(t, testConfig())

	rec := serve(app, httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
	assert.NotEmpty(t, rec.Header().Get("X-Request-Id"))
}

func TestSweepResetTokens(t *testing.T) {
	app := newTestApp(t, testConfig())
	ctx := context.Background()

	user := testutil.NewTestUser(t, app.Repo, "Alice", "alice@x.com")
	digest := strings.Repeat("a", 64)
	require.NoError(t, app.Repo.SetResetToken(ctx, user, digest, time.Now().Add(-time.Minute)))

	sweepCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		app.sweepResetTokens(sweepCtx, 10*time.Millisecond)
		close(done)
	}()

	require.Eventually(t, func() bool {
		stored, err := app.Repo.GetUserByID(ctx, user.ID)
		return err == nil && stored.PasswordResetToken == nil
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("sweeper did not stop")
	}
}

func TestSweepResetTokens_Disabled(t *testing.T) {
	app := newTestApp(t, testConfig())
	done := make(chan struct{})

	go func() {
		app.sweepResetTokens(context.Background(), 0)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("disabled sweeper kept running")
	}
}

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := newLogger("warn", "json", &buf)

	logger.Info("hidden")
	logger.Warn("shown", "key", "value")

	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), `"msg":"shown"`)
	assert.Contains(t, buf.String(), `"key":"value"`)

	buf.Reset()
	newLogger("debug", "text", &buf).Debug("debug_event")
	assert.Contains(t, buf.String(), "debug_event")
}
