// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

// Package handlers implements the JSON HTTP endpoints of the account API.
package handlers

import (
	"log/slog"
	"net/http"

	"codeberg.org/oliverandrich/account-service/internal/repository"
	"github.com/labstack/echo/v4"
)

// Handlers contains the operational HTTP handlers.
type Handlers struct {
	repo *repository.Repository
}

// New creates a new Handlers instance.
func New(repo *repository.Repository) *Handlers {
	return &Handlers{repo: repo}
}

// Health reports whether the service can reach its database.
func (h *Handlers) Health(c echo.Context) error {
	if err := h.repo.Ping(c.Request().Context()); err != nil {
		slog.Error("health_check_failed", "error", err)
		return c.JSON(http.StatusServiceUnavailable, map[string]string{
			"status": "unavailable",
		})
	}
	return c.JSON(http.StatusOK, map[string]string{
		"status": "ok",
	})
}
