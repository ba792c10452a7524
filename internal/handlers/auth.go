// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

package handlers

import (
	"net/http"

	"codeberg.org/oliverandrich/account-service/internal/auth"
	authsvc "codeberg.org/oliverandrich/account-service/internal/services/auth"
	"codeberg.org/oliverandrich/account-service/internal/services/session"
	"github.com/labstack/echo/v4"
)

// AuthHandlers contains the account endpoints.
type AuthHandlers struct {
	service  *authsvc.Service
	sessions *session.Manager
}

// NewAuth creates a new AuthHandlers instance.
func NewAuth(service *authsvc.Service, sessions *session.Manager) *AuthHandlers {
	return &AuthHandlers{
		service:  service,
		sessions: sessions,
	}
}

// RegisterRequest is the request body for registration.
type RegisterRequest struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

// Register creates an account and sends the verification email.
func (h *AuthHandlers) Register(c echo.Context) error {
	var req RegisterRequest
	if err := c.Bind(&req); err != nil {
		return respond(c, http.StatusBadRequest, false, "msg_invalid_request")
	}

	_, err := h.service.Register(c.Request().Context(), authsvc.RegisterParams{
		Name:     req.Name,
		Email:    req.Email,
		Password: req.Password,
	})
	if err != nil {
		return respondError(c, err, "msg_user_not_registered", h.service.Policy())
	}

	return respond(c, http.StatusOK, true, "msg_user_registered")
}

// Verify redeems the token from a verification link.
func (h *AuthHandlers) Verify(c echo.Context) error {
	if _, err := h.service.Verify(c.Request().Context(), c.Param("token")); err != nil {
		return respondError(c, err, "msg_internal_error", h.service.Policy())
	}
	return respond(c, http.StatusOK, true, "msg_user_verified")
}

// LoginRequest is the request body for login.
type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// Login checks the credentials and sets the session cookie. The token is
// also usable as a bearer token.
func (h *AuthHandlers) Login(c echo.Context) error {
	var req LoginRequest
	if err := c.Bind(&req); err != nil {
		return respond(c, http.StatusBadRequest, false, "msg_invalid_request")
	}

	result, err := h.service.Login(c.Request().Context(), req.Email, req.Password)
	if err != nil {
		return respondError(c, err, "msg_login_failed", h.service.Policy())
	}

	c.SetCookie(h.sessions.Cookie(result.Token))

	public := result.User.Public()
	return c.JSON(http.StatusOK, Response{
		Success: true,
		Message: tr(c, "msg_login_successful"),
		User:    &public,
	})
}

// Me returns the profile of the session user.
func (h *AuthHandlers) Me(c echo.Context) error {
	claims := auth.GetIdentity(c.Request().Context())
	if claims == nil {
		return respond(c, http.StatusUnauthorized, false, "msg_auth_required")
	}

	user, err := h.service.CurrentUser(c.Request().Context(), claims.UserID)
	if err != nil {
		return respondError(c, err, "msg_profile_error", h.service.Policy())
	}

	return c.JSON(http.StatusOK, ProfileResponse{
		Success: true,
		User:    user,
	})
}

// Logout clears the session cookie. It succeeds with or without a session.
func (h *AuthHandlers) Logout(c echo.Context) error {
	var userID string
	if token, err := h.sessions.TokenFromRequest(c.Request()); err == nil {
		if claims, err := h.sessions.Parse(token); err == nil {
			userID = claims.UserID
		}
	}

	h.service.Logout(c.Request().Context(), userID)
	c.SetCookie(h.sessions.ClearCookie())

	return respond(c, http.StatusOK, true, "msg_logged_out")
}

// EmailRequest is the request body for endpoints that take only an email.
type EmailRequest struct {
	Email string `json:"email"`
}

// ForgotPassword sends a password reset link.
func (h *AuthHandlers) ForgotPassword(c echo.Context) error {
	var req EmailRequest
	if err := c.Bind(&req); err != nil {
		return respond(c, http.StatusBadRequest, false, "msg_invalid_request")
	}

	if err := h.service.ForgotPassword(c.Request().Context(), req.Email); err != nil {
		return respondError(c, err, "msg_internal_error", h.service.Policy())
	}

	return respond(c, http.StatusOK, true, "msg_reset_sent")
}

// ResetPasswordRequest is the request body for a password reset.
type ResetPasswordRequest struct {
	Password string `json:"password"`
}

// ResetPassword redeems the token from a reset link.
func (h *AuthHandlers) ResetPassword(c echo.Context) error {
	var req ResetPasswordRequest
	if err := c.Bind(&req); err != nil {
		return respond(c, http.StatusBadRequest, false, "msg_invalid_request")
	}

	if err := h.service.ResetPassword(c.Request().Context(), c.Param("token"), req.Password); err != nil {
		return respondError(c, err, "msg_internal_error", h.service.Policy())
	}

	return respond(c, http.StatusOK, true, "msg_reset_successful")
}

// ResendVerification sends a fresh verification link.
func (h *AuthHandlers) ResendVerification(c echo.Context) error {
	var req EmailRequest
	if err := c.Bind(&req); err != nil {
		return respond(c, http.StatusBadRequest, false, "msg_invalid_request")
	}

	if err := h.service.ResendVerification(c.Request().Context(), req.Email); err != nil {
		return respondError(c, err, "msg_internal_error", h.service.Policy())
	}

	return respond(c, http.StatusOK, true, "msg_verification_sent")
}
