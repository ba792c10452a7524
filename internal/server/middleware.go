// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

package server

import (
	"fmt"
	"log/slog"
	"net/http"

	"codeberg.org/oliverandrich/account-service/internal/config"
	"codeberg.org/oliverandrich/account-service/internal/metrics"
	"codeberg.org/oliverandrich/account-service/internal/middleware"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
)

func setupMiddleware(e *echo.Echo, cfg *config.Config, m *metrics.Metrics) {
	e.Pre(echomw.RemoveTrailingSlash())

	e.Use(echomw.Recover())
	e.Use(echomw.RequestID())
	e.Use(middleware.RequestLogger(slog.Default()))
	e.Use(m.Middleware())
	e.Use(echomw.Secure())
	e.Use(echomw.Gzip())
	e.Use(echomw.BodyLimit(bodyLimit(cfg.Server.MaxBodySize)))
	e.Use(corsMiddleware(cfg))
	e.Use(middleware.Locale())
}

// corsMiddleware lets the configured browser origins call the API with
// credentials. The session cookie is readable from their responses.
func corsMiddleware(cfg *config.Config) echo.MiddlewareFunc {
	return echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins:     cfg.Server.CORSOrigins,
		AllowCredentials: true,
		AllowMethods: []string{
			http.MethodGet,
			http.MethodPost,
			http.MethodPut,
			http.MethodDelete,
			http.MethodOptions,
		},
		AllowHeaders: []string{
			echo.HeaderContentType,
			echo.HeaderAuthorization,
			echo.HeaderAccept,
		},
		ExposeHeaders: []string{"Set-Cookie"},
	})
}

func bodyLimit(mb int) string {
	if mb <= 0 {
		mb = 1
	}
	return fmt.Sprintf("%dM", mb)
}
