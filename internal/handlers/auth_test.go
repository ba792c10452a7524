// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

package handlers_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"regexp"
	"strings"
	"testing"
	"time"

	"codeberg.org/oliverandrich/account-service/internal/config"
	"codeberg.org/oliverandrich/account-service/internal/handlers"
	"codeberg.org/oliverandrich/account-service/internal/i18n"
	"codeberg.org/oliverandrich/account-service/internal/middleware"
	"codeberg.org/oliverandrich/account-service/internal/models"
	authsvc "codeberg.org/oliverandrich/account-service/internal/services/auth"
	"codeberg.org/oliverandrich/account-service/internal/services/email"
	"codeberg.org/oliverandrich/account-service/internal/services/session"
	"codeberg.org/oliverandrich/account-service/internal/testutil"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var linkToken = regexp.MustCompile(`/(?:verify|reset-password)/([0-9a-f]{64})`)

type testAPI struct {
	e        *echo.Echo
	mail     *testutil.MailRecorder
	sessions *session.Manager
}

func newTestAPI(t *testing.T, opts ...func(*config.AuthConfig)) *testAPI {
	t.Helper()
	require.NoError(t, i18n.Init())

	_, repo := testutil.NewTestDB(t)
	mail := &testutil.MailRecorder{}
	mailer, err := email.NewService(mail, "http://localhost:3000", time.Second, nil)
	require.NoError(t, err)

	sessions, err := session.NewManager(&config.SessionConfig{
		Secret:     "test-secret",
		CookieName: "token",
		MaxAge:     86400,
	})
	require.NoError(t, err)

	cfg := &config.AuthConfig{ResetTTL: 10 * time.Minute}
	for _, opt := range opts {
		opt(cfg)
	}
	svc := authsvc.NewService(repo, testutil.NewHasher(), sessions, mailer, cfg)
	h := handlers.NewAuth(svc, sessions)

	e := echo.New()
	e.Use(middleware.Locale())
	g := e.Group("/api/v1/users")
	g.POST("/register", h.Register)
	g.GET("/verify/:token", h.Verify)
	g.POST("/login", h.Login)
	g.GET("/me", h.Me, middleware.RequireSession(sessions))
	g.GET("/logout", h.Logout)
	g.POST("/forgot-password", h.ForgotPassword)
	g.POST("/reset-password/:token", h.ResetPassword)
	g.POST("/resend-verification", h.ResendVerification)

	return &testAPI{e: e, mail: mail, sessions: sessions}
}

func (a *testAPI) do(t *testing.T, method, path, body string, opts ...func(*http.Request)) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = testutil.NewRequest(method, path, strings.NewReader(body))
	}
	for _, opt := range opts {
		opt(req)
	}
	rec := httptest.NewRecorder()
	a.e.ServeHTTP(rec, req)
	return rec
}

func (a *testAPI) lastToken(t *testing.T) string {
	t.Helper()
	m := linkToken.FindStringSubmatch(a.mail.Last(t).Body)
	require.Len(t, m, 2)
	return m[1]
}

func (a *testAPI) register(t *testing.T) {
	t.Helper()
	rec := a.do(t, http.MethodPost, "/api/v1/users/register",
		`{"name":"Alice","email":"alice@x.com","password":"secret123"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
}

func withCookie(c *http.Cookie) func(*http.Request) {
	return func(r *http.Request) { r.AddCookie(c) }
}

func withLanguage(lang string) func(*http.Request) {
	return func(r *http.Request) { r.Header.Set("Accept-Language", lang) }
}

func sessionCookie(t *testing.T, rec *httptest.ResponseRecorder) *http.Cookie {
	t.Helper()
	for _, c := range rec.Result().Cookies() {
		if c.Name == "token" {
			return c
		}
	}
	require.FailNow(t, "no session cookie set")
	return nil
}

func TestRegister(t *testing.T) {
	api := newTestAPI(t)

	rec := api.do(t, http.MethodPost, "/api/v1/users/register",
		`{"name":"Alice","email":"alice@x.com","password":"secret123"}`)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"success":true,"message":"User registered, check your email to verify"}`, rec.Body.String())
	assert.Equal(t, "alice@x.com", api.mail.Last(t).To)
	assert.Contains(t, api.mail.Last(t).Body, "http://localhost:3000/api/v1/users/verify/")
}

func TestRegister_Errors(t *testing.T) {
	api := newTestAPI(t)
	api.register(t)

	tests := []struct {
		name    string
		body    string
		message string
	}{
		{"missing fields", `{"name":"Bob","email":"bob@x.com"}`, "All fields are required"},
		{"invalid email", `{"name":"Bob","email":"bob","password":"secret123"}`, "Please provide a valid email address"},
		{"duplicate", `{"name":"Alice","email":"ALICE@x.com","password":"secret123"}`, "User already exists"},
		{"malformed json", `{"name":`, "Invalid request body"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := api.do(t, http.MethodPost, "/api/v1/users/register", tt.body)

			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.JSONEq(t, `{"success":false,"message":"`+tt.message+`"}`, rec.Body.String())
		})
	}
}

func TestRegister_WeakPassword(t *testing.T) {
	api := newTestAPI(t, func(cfg *config.AuthConfig) {
		cfg.PasswordPolicy = true
		cfg.MinPasswordLength = 8
	})

	rec := api.do(t, http.MethodPost, "/api/v1/users/register",
		`{"name":"Bob","email":"bob@x.com","password":"1234"}`)

	require.Equal(t, http.StatusBadRequest, rec.Code)
	var body handlers.Response
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.False(t, body.Success)
	assert.Equal(t, []string{
		"Password must be at least 8 characters long.",
		"Password cannot be entirely numeric.",
	}, body.Errors)
}

func TestRegister_PasswordTooLong(t *testing.T) {
	api := newTestAPI(t)

	rec := api.do(t, http.MethodPost, "/api/v1/users/register",
		`{"name":"Bob","email":"bob@x.com","password":"`+strings.Repeat("x", 80)+`"}`)

	require.Equal(t, http.StatusBadRequest, rec.Code)
	var body handlers.Response
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, []string{"Password cannot be longer than 72 bytes."}, body.Errors)

	// Short passwords are fine unless the strength policy is enabled.
	rec = api.do(t, http.MethodPost, "/api/v1/users/register",
		`{"name":"Bob","email":"bob@x.com","password":"1234"}`)
	assert.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
}

func TestRegister_MailFailure(t *testing.T) {
	api := newTestAPI(t)
	api.mail.Err = testutil.ErrMailDown

	rec := api.do(t, http.MethodPost, "/api/v1/users/register",
		`{"name":"Alice","email":"alice@x.com","password":"secret123"}`)

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.JSONEq(t, `{"success":false,"message":"Email could not be sent, please try again later"}`, rec.Body.String())
	assert.NotContains(t, rec.Body.String(), testutil.ErrMailDown.Error())
}

func TestVerify(t *testing.T) {
	api := newTestAPI(t)
	api.register(t)
	token := api.lastToken(t)

	rec := api.do(t, http.MethodGet, "/api/v1/users/verify/"+token, "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"success":true,"message":"User verified"}`, rec.Body.String())

	rec = api.do(t, http.MethodGet, "/api/v1/users/verify/"+token, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.JSONEq(t, `{"success":false,"message":"Invalid token"}`, rec.Body.String())
}

func TestLogin(t *testing.T) {
	api := newTestAPI(t)
	api.register(t)

	rec := api.do(t, http.MethodPost, "/api/v1/users/login",
		`{"email":"alice@x.com","password":"secret123"}`)

	require.Equal(t, http.StatusOK, rec.Code)
	var body handlers.Response
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.True(t, body.Success)
	assert.Equal(t, "Login successful", body.Message)
	require.NotNil(t, body.User)
	assert.Equal(t, "alice@x.com", body.User.Email)
	assert.Equal(t, models.RoleUser, body.User.Role)
	assert.NotContains(t, rec.Body.String(), "password")

	cookie := sessionCookie(t, rec)
	assert.Equal(t, "/", cookie.Path)
	assert.Equal(t, 86400, cookie.MaxAge)
	claims, err := api.sessions.Parse(cookie.Value)
	require.NoError(t, err)
	assert.Equal(t, body.User.ID, claims.UserID)
}

func TestLogin_InvalidCredentials(t *testing.T) {
	api := newTestAPI(t)
	api.register(t)

	wrongPassword := api.do(t, http.MethodPost, "/api/v1/users/login",
		`{"email":"alice@x.com","password":"wrong-password"}`)
	unknownEmail := api.do(t, http.MethodPost, "/api/v1/users/login",
		`{"email":"nobody@x.com","password":"secret123"}`)

	assert.Equal(t, http.StatusBadRequest, wrongPassword.Code)
	assert.Equal(t, wrongPassword.Code, unknownEmail.Code)
	assert.Equal(t, wrongPassword.Body.String(), unknownEmail.Body.String())
	assert.Empty(t, wrongPassword.Result().Cookies())
}

func TestLogin_MissingCredentials(t *testing.T) {
	api := newTestAPI(t)

	rec := api.do(t, http.MethodPost, "/api/v1/users/login", `{"email":"alice@x.com"}`)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.JSONEq(t, `{"success":false,"message":"Email and password are required"}`, rec.Body.String())
}

func TestMe(t *testing.T) {
	api := newTestAPI(t)
	api.register(t)
	login := api.do(t, http.MethodPost, "/api/v1/users/login",
		`{"email":"alice@x.com","password":"secret123"}`)
	require.Equal(t, http.StatusOK, login.Code)

	rec := api.do(t, http.MethodGet, "/api/v1/users/me", "", withCookie(sessionCookie(t, login)))

	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Success bool        `json:"success"`
		User    models.User `json:"user"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.True(t, body.Success)
	assert.Equal(t, "Alice", body.User.Name)
	assert.False(t, body.User.IsVerified)
	assert.NotContains(t, rec.Body.String(), "password")
	assert.NotContains(t, rec.Body.String(), "token")
}

func TestMe_Unauthenticated(t *testing.T) {
	api := newTestAPI(t)

	rec := api.do(t, http.MethodGet, "/api/v1/users/me", "")

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestMe_UserGone(t *testing.T) {
	api := newTestAPI(t)
	token, _, err := api.sessions.Issue("deleted-user", models.RoleUser)
	require.NoError(t, err)

	rec := api.do(t, http.MethodGet, "/api/v1/users/me", "", withCookie(api.sessions.Cookie(token)))

	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.JSONEq(t, `{"success":false,"message":"User not found"}`, rec.Body.String())
}

func TestLogout(t *testing.T) {
	api := newTestAPI(t)

	for _, opts := range [][]func(*http.Request){
		nil,
		{withCookie(&http.Cookie{Name: "token", Value: "garbage"})},
	} {
		rec := api.do(t, http.MethodGet, "/api/v1/users/logout", "", opts...)

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.JSONEq(t, `{"success":true,"message":"Logged out successfully"}`, rec.Body.String())
		cookie := sessionCookie(t, rec)
		assert.Empty(t, cookie.Value)
		assert.Negative(t, cookie.MaxAge)
	}
}

func TestAccountLifecycle(t *testing.T) {
	api := newTestAPI(t)
	api.register(t)

	rec := api.do(t, http.MethodGet, "/api/v1/users/verify/"+api.lastToken(t), "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = api.do(t, http.MethodPost, "/api/v1/users/login",
		`{"email":"alice@x.com","password":"wrong-password"}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.JSONEq(t, `{"success":false,"message":"Invalid email or password"}`, rec.Body.String())

	login := api.do(t, http.MethodPost, "/api/v1/users/login",
		`{"email":"alice@x.com","password":"secret123"}`)
	require.Equal(t, http.StatusOK, login.Code, login.Body.String())
	cookie := sessionCookie(t, login)

	rec = api.do(t, http.MethodGet, "/api/v1/users/me", "", withCookie(cookie))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var me struct {
		Success bool           `json:"success"`
		User    map[string]any `json:"user"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &me))
	assert.True(t, me.Success)
	assert.Equal(t, "alice@x.com", me.User["email"])
	assert.Equal(t, true, me.User["isVerified"])
	assert.NotContains(t, rec.Body.String(), "password")

	rec = api.do(t, http.MethodGet, "/api/v1/users/logout", "", withCookie(cookie))
	require.Equal(t, http.StatusOK, rec.Code)
	cleared := sessionCookie(t, rec)
	assert.Empty(t, cleared.Value)

	rec = api.do(t, http.MethodGet, "/api/v1/users/me", "", withCookie(cleared))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Contains(t, rec.Body.String(), `"success":false`)
}

func TestForgotAndResetPassword(t *testing.T) {
	api := newTestAPI(t)
	api.register(t)

	rec := api.do(t, http.MethodPost, "/api/v1/users/forgot-password", `{"email":"alice@x.com"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"success":true,"message":"Reset token sent to email"}`, rec.Body.String())
	token := api.lastToken(t)

	rec = api.do(t, http.MethodPost, "/api/v1/users/reset-password/"+token, `{"password":"brand-new-pass"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"success":true,"message":"Password reset successful"}`, rec.Body.String())

	rec = api.do(t, http.MethodPost, "/api/v1/users/reset-password/"+token, `{"password":"another-pass-1"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.JSONEq(t, `{"success":false,"message":"Invalid token"}`, rec.Body.String())

	rec = api.do(t, http.MethodPost, "/api/v1/users/login",
		`{"email":"alice@x.com","password":"brand-new-pass"}`)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestForgotPassword_Errors(t *testing.T) {
	api := newTestAPI(t)

	rec := api.do(t, http.MethodPost, "/api/v1/users/forgot-password", `{"email":"nobody@x.com"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.JSONEq(t, `{"success":false,"message":"Invalid email"}`, rec.Body.String())

	rec = api.do(t, http.MethodPost, "/api/v1/users/forgot-password", `{}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.JSONEq(t, `{"success":false,"message":"Email is required"}`, rec.Body.String())
}

func TestResendVerification(t *testing.T) {
	api := newTestAPI(t)
	api.register(t)

	rec := api.do(t, http.MethodPost, "/api/v1/users/resend-verification", `{"email":"alice@x.com"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"success":true,"message":"Verification email sent"}`, rec.Body.String())

	rec = api.do(t, http.MethodGet, "/api/v1/users/verify/"+api.lastToken(t), "")
	require.Equal(t, http.StatusOK, rec.Code)

	rec = api.do(t, http.MethodPost, "/api/v1/users/resend-verification", `{"email":"alice@x.com"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.JSONEq(t, `{"success":false,"message":"User already verified"}`, rec.Body.String())
}

func TestLocalizedResponses(t *testing.T) {
	api := newTestAPI(t)

	rec := api.do(t, http.MethodPost, "/api/v1/users/register", `{}`, withLanguage("de"))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.NotContains(t, rec.Body.String(), "All fields are required")

	api.register(t)
	api.do(t, http.MethodPost, "/api/v1/users/forgot-password", `{"email":"alice@x.com"}`, withLanguage("de"))
	assert.NotEqual(t, "Reset your password", api.mail.Last(t).Subject)
}
