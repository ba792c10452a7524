// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

// Package middleware provides echo middleware for the account API.
package middleware

import (
	"errors"
	"log/slog"
	"net/http"

	"codeberg.org/oliverandrich/account-service/internal/auth"
	"codeberg.org/oliverandrich/account-service/internal/i18n"
	"codeberg.org/oliverandrich/account-service/internal/services/session"
	"github.com/labstack/echo/v4"
)

// RequireSession rejects requests without a valid session token. On
// success the verified claims are stored in the request context. The user
// record is not loaded.
func RequireSession(sessions *session.Manager) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			r := c.Request()

			token, err := sessions.TokenFromRequest(r)
			if err != nil {
				return unauthorized(c, "msg_auth_required")
			}

			claims, err := sessions.Parse(token)
			if err != nil {
				if !errors.Is(err, session.ErrInvalidSession) {
					slog.Error("session_parse_failed", "error", err)
				}
				return unauthorized(c, "msg_session_invalid")
			}

			c.SetRequest(r.WithContext(auth.WithIdentity(r.Context(), claims)))
			return next(c)
		}
	}
}

func unauthorized(c echo.Context, messageID string) error {
	return c.JSON(http.StatusUnauthorized, map[string]any{
		"success": false,
		"message": i18n.T(c.Request().Context(), messageID),
	})
}
