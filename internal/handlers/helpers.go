// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

package handlers

import (
	"codeberg.org/oliverandrich/account-service/internal/i18n"
	"codeberg.org/oliverandrich/account-service/internal/models"
	"github.com/labstack/echo/v4"
)

// Response is the body of every account endpoint.
type Response struct {
	Success bool           `json:"success"`
	Message string         `json:"message,omitempty"`
	Errors  []string       `json:"errors,omitempty"`
	User    *models.Public `json:"user,omitempty"`
}

// ProfileResponse is the body of the profile endpoint.
type ProfileResponse struct {
	Success bool         `json:"success"`
	User    *models.User `json:"user"`
}

func tr(c echo.Context, messageID string) string {
	return i18n.T(c.Request().Context(), messageID)
}

// respond writes a localized message with the given status code.
func respond(c echo.Context, status int, success bool, messageID string) error {
	return c.JSON(status, Response{
		Success: success,
		Message: tr(c, messageID),
	})
}
