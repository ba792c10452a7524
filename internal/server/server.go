// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"codeberg.org/oliverandrich/account-service/internal/config"
	"codeberg.org/oliverandrich/account-service/internal/database"
	"codeberg.org/oliverandrich/account-service/internal/handlers"
	"codeberg.org/oliverandrich/account-service/internal/i18n"
	"codeberg.org/oliverandrich/account-service/internal/metrics"
	"codeberg.org/oliverandrich/account-service/internal/middleware"
	"codeberg.org/oliverandrich/account-service/internal/repository"
	authsvc "codeberg.org/oliverandrich/account-service/internal/services/auth"
	"codeberg.org/oliverandrich/account-service/internal/services/email"
	"codeberg.org/oliverandrich/account-service/internal/services/password"
	"codeberg.org/oliverandrich/account-service/internal/services/session"
	"github.com/labstack/echo/v4"
	"github.com/urfave/cli/v3"
	"github.com/vinovest/sqlx"
)

// App holds the services shared by all requests.
type App struct {
	Echo     *echo.Echo
	Repo     *repository.Repository
	Auth     *authsvc.Service
	Sessions *session.Manager
	Metrics  *metrics.Metrics

	cfg *config.Config
}

// Run starts the server with the given CLI command.
func Run(ctx context.Context, cmd *cli.Command) error {
	cfg := config.NewFromCLI(cmd)
	setupLogger(cfg.Log.Level, cfg.Log.Format)

	slog.Info("starting server",
		"host", cfg.Server.Host,
		"port", cfg.Server.Port,
		"base_url", cfg.Server.BaseURL,
	)

	// Database
	db, err := database.Open(cfg.Database.DSN)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer func() {
		if closeErr := db.Close(); closeErr != nil {
			slog.Error("failed to close database", "error", closeErr)
		}
	}()

	app, err := New(cfg, db)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	go app.sweepResetTokens(ctx, cfg.Auth.ResetSweepInterval)

	return app.start(ctx)
}

// New wires all services on top of an open, migrated database.
func New(cfg *config.Config, db *sqlx.DB) (*App, error) {
	if err := i18n.Init(); err != nil {
		return nil, fmt.Errorf("failed to init i18n: %w", err)
	}

	var m *metrics.Metrics
	if cfg.Metrics.Enabled {
		m = metrics.New()
	}

	hasher := password.NewHasher(cfg.Auth.BcryptCost, cfg.Auth.HashWorkers,
		password.WithObserver(m.ObserveHash))
	repo := repository.New(db, hasher)

	sessions, err := session.NewManager(&cfg.Session)
	if err != nil {
		return nil, fmt.Errorf("failed to create session manager: %w", err)
	}

	sender, err := newSender(&cfg.SMTP)
	if err != nil {
		return nil, err
	}
	mailer, err := email.NewService(sender, cfg.Server.BaseURL, cfg.SMTP.Timeout, m.ObserveMail)
	if err != nil {
		return nil, fmt.Errorf("failed to create email service: %w", err)
	}

	app := &App{
		Echo:     echo.New(),
		Repo:     repo,
		Sessions: sessions,
		Metrics:  m,
		cfg:      cfg,
	}
	app.Auth = authsvc.NewService(repo, hasher, sessions, mailer, &cfg.Auth,
		authsvc.WithRecorder(m))

	app.Echo.HideBanner = true
	app.Echo.HidePort = true
	setupMiddleware(app.Echo, cfg, m)
	app.routes()

	return app, nil
}

// newSender picks SMTP delivery when a relay is configured and logs emails
// otherwise.
func newSender(cfg *config.SMTPConfig) (email.Sender, error) {
	if !cfg.Enabled() {
		slog.Warn("smtp_disabled", "hint", "emails are written to the log")
		return &email.LogSender{Logger: slog.Default()}, nil
	}
	sender, err := email.NewSMTPSender(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create smtp sender: %w", err)
	}
	return sender, nil
}

func (a *App) routes() {
	e := a.Echo
	h := handlers.New(a.Repo)
	ah := handlers.NewAuth(a.Auth, a.Sessions)

	e.GET("/health", h.Health)
	if a.Metrics != nil {
		e.GET("/metrics", echo.WrapHandler(a.Metrics.Handler()))
	}

	g := e.Group("/api/v1/users")
	g.POST("/register", ah.Register)
	g.GET("/verify/:token", ah.Verify)
	g.POST("/login", ah.Login)
	g.GET("/me", ah.Me, middleware.RequireSession(a.Sessions))
	g.GET("/logout", ah.Logout)
	g.POST("/forgot-password", ah.ForgotPassword)
	g.POST("/reset-password/:token", ah.ResetPassword)
	g.POST("/resend-verification", ah.ResendVerification)
}

// sweepResetTokens clears expired reset tokens until ctx is done.
func (a *App) sweepResetTokens(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := a.Auth.PurgeExpiredResetTokens(ctx)
			if err != nil {
				slog.Error("reset_sweep_failed", "error", err)
				continue
			}
			if n > 0 {
				slog.Info("reset_sweep", "cleared", n)
			}
		}
	}
}

func (a *App) start(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", a.cfg.Server.Host, a.cfg.Server.Port)
	errChan := make(chan error, 1)

	go func() {
		slog.Info("Server running", "url", a.cfg.Server.BaseURL)
		if err := a.Echo.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	select {
	case <-ctx.Done():
		slog.Info("shutting down server")
	case err := <-errChan:
		slog.Error("server error", "error", err)
		return err
	}

	// Graceful shutdown
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := a.Echo.Shutdown(shutdownCtx); err != nil {
		slog.Error("failed to shutdown server", "error", err)
	}

	slog.Info("server stopped")
	return nil
}
