// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

package config

import (
	"fmt"
	"runtime"
	"strings"
	"time"

	altsrc "github.com/urfave/cli-altsrc/v3"
	"github.com/urfave/cli-altsrc/v3/toml"
	"github.com/urfave/cli/v3"
	"golang.org/x/crypto/bcrypt"
)

var configFile = altsrc.StringSourcer("config.toml")

type Config struct { //nolint:govet // fieldalignment not critical for config structs
	Server   ServerConfig
	Log      LogConfig
	Database DatabaseConfig
	Session  SessionConfig
	SMTP     SMTPConfig
	Auth     AuthConfig
	Metrics  MetricsConfig
}

type ServerConfig struct { //nolint:govet // fieldalignment not critical for config structs
	Host        string
	Port        int
	BaseURL     string
	MaxBodySize int // in MB
	CORSOrigins []string
}

type LogConfig struct {
	Level  string // debug, info, warn, error
	Format string // text, json
}

type DatabaseConfig struct {
	DSN string // sqlite path or postgres:// URL
}

type SessionConfig struct { //nolint:govet // fieldalignment not critical
	Secret         string // HMAC key for session tokens
	CookieName     string
	MaxAge         int // seconds
	CookieSecure   bool
	CookieHTTPOnly bool
}

// Lifetime returns the session lifetime as a duration.
func (c SessionConfig) Lifetime() time.Duration {
	return time.Duration(c.MaxAge) * time.Second
}

type SMTPConfig struct { //nolint:govet // fieldalignment not critical
	Host     string
	Port     int
	Username string
	Password string
	From     string
	FromName string
	TLS      bool
	Timeout  time.Duration
}

// Enabled reports whether an SMTP relay is configured.
func (c SMTPConfig) Enabled() bool {
	return c.Host != ""
}

type AuthConfig struct { //nolint:govet // fieldalignment not critical
	BcryptCost          int
	HashWorkers         int
	ResetTTL            time.Duration
	PasswordPolicy      bool
	MinPasswordLength   int
	ConcealUnknownEmail bool
	ResetSweepInterval  time.Duration
}

type MetricsConfig struct {
	Enabled bool
}

func NewFromCLI(cmd *cli.Command) *Config {
	cfg := &Config{
		Server: ServerConfig{
			Host:        cmd.String("host"),
			Port:        int(cmd.Int("port")),
			BaseURL:     cmd.String("base-url"),
			MaxBodySize: int(cmd.Int("max-body-size")),
			CORSOrigins: cmd.StringSlice("cors-origins"),
		},
		Log: LogConfig{
			Level:  cmd.String("log-level"),
			Format: cmd.String("log-format"),
		},
		Database: DatabaseConfig{
			DSN: cmd.String("database-dsn"),
		},
		Session: SessionConfig{
			Secret:         cmd.String("session-secret"),
			CookieName:     cmd.String("session-cookie-name"),
			MaxAge:         int(cmd.Int("session-max-age")),
			CookieSecure:   cmd.Bool("session-cookie-secure"),
			CookieHTTPOnly: cmd.Bool("session-cookie-http-only"),
		},
		SMTP: SMTPConfig{
			Host:     cmd.String("smtp-host"),
			Port:     int(cmd.Int("smtp-port")),
			Username: cmd.String("smtp-username"),
			Password: cmd.String("smtp-password"),
			From:     cmd.String("smtp-from"),
			FromName: cmd.String("smtp-from-name"),
			TLS:      cmd.Bool("smtp-tls"),
			Timeout:  cmd.Duration("smtp-timeout"),
		},
		Auth: AuthConfig{
			BcryptCost:          int(cmd.Int("bcrypt-cost")),
			HashWorkers:         int(cmd.Int("hash-workers")),
			ResetTTL:            cmd.Duration("reset-ttl"),
			PasswordPolicy:      cmd.Bool("password-policy"),
			MinPasswordLength:   int(cmd.Int("min-password-length")),
			ConcealUnknownEmail: cmd.Bool("conceal-unknown-email"),
			ResetSweepInterval:  cmd.Duration("reset-sweep-interval"),
		},
		Metrics: MetricsConfig{
			Enabled: cmd.Bool("metrics"),
		},
	}

	if cfg.Server.BaseURL == "" {
		cfg.Server.BaseURL = buildBaseURL(cfg)
	}

	applyAuthDefaults(cfg)

	return cfg
}

// applyAuthDefaults clamps auth settings that would otherwise be unusable.
func applyAuthDefaults(cfg *Config) {
	if cfg.Auth.BcryptCost < bcrypt.MinCost || cfg.Auth.BcryptCost > bcrypt.MaxCost {
		cfg.Auth.BcryptCost = bcrypt.DefaultCost
	}
	if cfg.Auth.HashWorkers <= 0 {
		cfg.Auth.HashWorkers = runtime.NumCPU()
	}
	if cfg.Auth.ResetTTL <= 0 {
		cfg.Auth.ResetTTL = 10 * time.Minute
	}
	if cfg.SMTP.Timeout <= 0 {
		cfg.SMTP.Timeout = 10 * time.Second
	}
	if cfg.Session.MaxAge <= 0 {
		cfg.Session.MaxAge = 86400
	}
}

func buildBaseURL(cfg *Config) string {
	host := cfg.Server.Host
	if host == "" || host == "0.0.0.0" || host == "::" {
		host = "localhost"
	}

	// Hide default port in URL
	if cfg.Server.Port == 80 {
		return fmt.Sprintf("http://%s", host)
	}
	return fmt.Sprintf("http://%s:%d", host, cfg.Server.Port)
}

// IsLocalhost checks if the host is a localhost address.
func IsLocalhost(host string) bool {
	switch host {
	case "", "localhost", "127.0.0.1", "::1":
		return true
	}
	// Check for *.localhost subdomains (e.g., app.localhost)
	return strings.HasSuffix(host, ".localhost")
}

func Flags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:    "host",
			Value:   "localhost",
			Usage:   "Host to bind to",
			Sources: cli.NewValueSourceChain(cli.EnvVar("HOST"), toml.TOML("server.host", configFile)),
		},
		&cli.IntFlag{
			Name:    "port",
			Value:   3000,
			Usage:   "Port to listen on",
			Sources: cli.NewValueSourceChain(cli.EnvVar("PORT"), toml.TOML("server.port", configFile)),
		},
		&cli.StringFlag{
			Name:    "base-url",
			Usage:   "Base URL used when building links in emails",
			Sources: cli.NewValueSourceChain(cli.EnvVar("BASE_URL"), toml.TOML("server.base_url", configFile)),
		},
		&cli.IntFlag{
			Name:    "max-body-size",
			Value:   1,
			Usage:   "Maximum request body size in MB",
			Sources: cli.NewValueSourceChain(cli.EnvVar("MAX_BODY_SIZE"), toml.TOML("server.max_body_size", configFile)),
		},
		&cli.StringSliceFlag{
			Name:    "cors-origins",
			Value:   []string{"http://localhost:5173"},
			Usage:   "Origins allowed to make credentialed cross-origin requests",
			Sources: cli.NewValueSourceChain(cli.EnvVar("CORS_ORIGINS"), toml.TOML("server.cors_origins", configFile)),
		},
		&cli.StringFlag{
			Name:    "log-level",
			Value:   "info",
			Usage:   "Log level (debug, info, warn, error)",
			Sources: cli.NewValueSourceChain(cli.EnvVar("LOG_LEVEL"), toml.TOML("log.level", configFile)),
		},
		&cli.StringFlag{
			Name:    "log-format",
			Value:   "text",
			Usage:   "Log format (text, json)",
			Sources: cli.NewValueSourceChain(cli.EnvVar("LOG_FORMAT"), toml.TOML("log.format", configFile)),
		},
		&cli.StringFlag{
			Name:    "database-dsn",
			Value:   "./data/app.db",
			Usage:   "Database DSN (SQLite path or postgres:// URL)",
			Sources: cli.NewValueSourceChain(cli.EnvVar("DATABASE_DSN"), toml.TOML("database.dsn", configFile)),
		},
		// Session flags
		&cli.StringFlag{
			Name:    "session-secret",
			Usage:   "Secret for signing session tokens (random per process if empty)",
			Sources: cli.NewValueSourceChain(cli.EnvVar("SESSION_SECRET"), cli.EnvVar("JWT_SECRET"), toml.TOML("session.secret", configFile)),
		},
		&cli.StringFlag{
			Name:    "session-cookie-name",
			Value:   "token",
			Usage:   "Session cookie name",
			Sources: cli.NewValueSourceChain(cli.EnvVar("SESSION_COOKIE_NAME"), toml.TOML("session.cookie_name", configFile)),
		},
		&cli.IntFlag{
			Name:    "session-max-age",
			Value:   86400, // 24 hours in seconds
			Usage:   "Session lifetime in seconds",
			Sources: cli.NewValueSourceChain(cli.EnvVar("SESSION_MAX_AGE"), toml.TOML("session.max_age", configFile)),
		},
		&cli.BoolFlag{
			Name:    "session-cookie-secure",
			Usage:   "Mark the session cookie as HTTPS only",
			Sources: cli.NewValueSourceChain(cli.EnvVar("SESSION_COOKIE_SECURE"), toml.TOML("session.cookie_secure", configFile)),
		},
		&cli.BoolFlag{
			Name:    "session-cookie-http-only",
			Usage:   "Hide the session cookie from client-side scripts",
			Sources: cli.NewValueSourceChain(cli.EnvVar("SESSION_COOKIE_HTTP_ONLY"), toml.TOML("session.cookie_http_only", configFile)),
		},
		// SMTP flags
		&cli.StringFlag{
			Name:    "smtp-host",
			Usage:   "SMTP host (emails are logged instead of sent when empty)",
			Sources: cli.NewValueSourceChain(cli.EnvVar("SMTP_HOST"), cli.EnvVar("MAILTRAP_HOST"), toml.TOML("smtp.host", configFile)),
		},
		&cli.IntFlag{
			Name:    "smtp-port",
			Value:   587,
			Usage:   "SMTP port",
			Sources: cli.NewValueSourceChain(cli.EnvVar("SMTP_PORT"), toml.TOML("smtp.port", configFile)),
		},
		&cli.StringFlag{
			Name:    "smtp-username",
			Usage:   "SMTP username",
			Sources: cli.NewValueSourceChain(cli.EnvVar("SMTP_USERNAME"), cli.EnvVar("MAILTRAP_USERNAME"), toml.TOML("smtp.username", configFile)),
		},
		&cli.StringFlag{
			Name:    "smtp-password",
			Usage:   "SMTP password",
			Sources: cli.NewValueSourceChain(cli.EnvVar("SMTP_PASSWORD"), cli.EnvVar("MAILTRAP_PASSWORD"), toml.TOML("smtp.password", configFile)),
		},
		&cli.StringFlag{
			Name:    "smtp-from",
			Value:   "noreply@localhost",
			Usage:   "Sender address",
			Sources: cli.NewValueSourceChain(cli.EnvVar("SMTP_FROM"), cli.EnvVar("MAILTRAP_SENDER_EMAIL"), toml.TOML("smtp.from", configFile)),
		},
		&cli.StringFlag{
			Name:    "smtp-from-name",
			Usage:   "Sender display name",
			Sources: cli.NewValueSourceChain(cli.EnvVar("SMTP_FROM_NAME"), toml.TOML("smtp.from_name", configFile)),
		},
		&cli.BoolFlag{
			Name:    "smtp-tls",
			Value:   true,
			Usage:   "Require TLS for SMTP (implicit TLS on port 465, STARTTLS otherwise)",
			Sources: cli.NewValueSourceChain(cli.EnvVar("SMTP_TLS"), toml.TOML("smtp.tls", configFile)),
		},
		&cli.DurationFlag{
			Name:    "smtp-timeout",
			Value:   10 * time.Second,
			Usage:   "Upper bound for delivering one email",
			Sources: cli.NewValueSourceChain(cli.EnvVar("SMTP_TIMEOUT"), toml.TOML("smtp.timeout", configFile)),
		},
		// Auth flags
		&cli.IntFlag{
			Name:    "bcrypt-cost",
			Value:   bcrypt.DefaultCost,
			Usage:   "bcrypt work factor",
			Sources: cli.NewValueSourceChain(cli.EnvVar("BCRYPT_COST"), toml.TOML("auth.bcrypt_cost", configFile)),
		},
		&cli.IntFlag{
			Name:    "hash-workers",
			Usage:   "Maximum concurrent password hash operations (defaults to CPU count)",
			Sources: cli.NewValueSourceChain(cli.EnvVar("HASH_WORKERS"), toml.TOML("auth.hash_workers", configFile)),
		},
		&cli.DurationFlag{
			Name:    "reset-ttl",
			Value:   10 * time.Minute,
			Usage:   "Lifetime of password reset tokens",
			Sources: cli.NewValueSourceChain(cli.EnvVar("RESET_TTL"), toml.TOML("auth.reset_ttl", configFile)),
		},
		&cli.BoolFlag{
			Name:    "password-policy",
			Usage:   "Enforce password strength rules on register and reset",
			Sources: cli.NewValueSourceChain(cli.EnvVar("PASSWORD_POLICY"), toml.TOML("auth.password_policy", configFile)),
		},
		&cli.IntFlag{
			Name:    "min-password-length",
			Value:   8,
			Usage:   "Minimum password length when --password-policy is set",
			Sources: cli.NewValueSourceChain(cli.EnvVar("MIN_PASSWORD_LENGTH"), toml.TOML("auth.min_password_length", configFile)),
		},
		&cli.BoolFlag{
			Name:    "conceal-unknown-email",
			Usage:   "Answer forgot-password for unknown emails with the generic success message",
			Sources: cli.NewValueSourceChain(cli.EnvVar("CONCEAL_UNKNOWN_EMAIL"), toml.TOML("auth.conceal_unknown_email", configFile)),
		},
		&cli.DurationFlag{
			Name:    "reset-sweep-interval",
			Value:   time.Hour,
			Usage:   "How often expired reset tokens are purged (0 disables)",
			Sources: cli.NewValueSourceChain(cli.EnvVar("RESET_SWEEP_INTERVAL"), toml.TOML("auth.reset_sweep_interval", configFile)),
		},
		// Metrics
		&cli.BoolFlag{
			Name:    "metrics",
			Value:   true,
			Usage:   "Expose prometheus metrics on /metrics",
			Sources: cli.NewValueSourceChain(cli.EnvVar("METRICS_ENABLED"), toml.TOML("metrics.enabled", configFile)),
		},
	}
}
