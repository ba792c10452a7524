// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

package handlers

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"codeberg.org/oliverandrich/account-service/internal/i18n"
	authsvc "codeberg.org/oliverandrich/account-service/internal/services/auth"
	"codeberg.org/oliverandrich/account-service/internal/services/password"
	"github.com/labstack/echo/v4"
)

// errorMessages maps workflow errors to translation IDs.
var errorMessages = []struct {
	err error
	id  string
}{
	{authsvc.ErrMissingFields, "msg_all_fields_required"},
	{authsvc.ErrInvalidEmail, "msg_invalid_email_format"},
	{authsvc.ErrEmailAlreadyRegistered, "msg_user_exists"},
	{authsvc.ErrMissingToken, "msg_invalid_token"},
	{authsvc.ErrInvalidOrExpiredToken, "msg_invalid_token"},
	{authsvc.ErrMissingCredentials, "msg_credentials_required"},
	{authsvc.ErrInvalidCredentials, "msg_invalid_credentials"},
	{authsvc.ErrUserNotFound, "msg_user_not_found"},
	{authsvc.ErrMissingEmail, "msg_email_required"},
	{authsvc.ErrUnknownEmail, "msg_unknown_email"},
	{authsvc.ErrAlreadyVerified, "msg_already_verified"},
	{authsvc.ErrMailDelivery, "msg_mail_failed"},
}

// statusFor maps an error kind to an HTTP status. Invalid tokens and bad
// credentials are client errors (400), not 401.
func statusFor(kind authsvc.Kind) int {
	switch kind {
	case authsvc.KindValidation, authsvc.KindConflict, authsvc.KindAuth:
		return http.StatusBadRequest
	case authsvc.KindNotFound:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

// respondError writes err as a localized JSON failure. Internal errors are
// logged and answered with fallbackID; their text never reaches the client.
func respondError(c echo.Context, err error, fallbackID string, policy *password.Policy) error {
	ctx := c.Request().Context()
	kind := authsvc.KindOf(err)
	status := statusFor(kind)

	var verr *password.ValidationError
	if errors.As(err, &verr) {
		messages := make([]string, len(verr.Violations))
		for i, v := range verr.Violations {
			messages[i] = i18n.TData(ctx, "password_"+v.Code, map[string]any{
				"MinLength": policy.MinLength,
				"MaxBytes":  password.MaxBytes,
			})
		}
		return c.JSON(status, Response{
			Success: false,
			Message: strings.Join(messages, " "),
			Errors:  messages,
		})
	}

	if kind == authsvc.KindInternal || kind == authsvc.KindDependency {
		slog.Error("request_failed",
			"method", c.Request().Method,
			"path", c.Path(),
			"error", err,
		)
	}

	messageID := fallbackID
	for _, m := range errorMessages {
		if errors.Is(err, m.err) {
			messageID = m.id
			break
		}
	}
	return respond(c, status, false, messageID)
}
