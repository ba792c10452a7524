// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"codeberg.org/oliverandrich/account-service/internal/config"
	"codeberg.org/oliverandrich/account-service/internal/database"
	"codeberg.org/oliverandrich/account-service/internal/models"
	"codeberg.org/oliverandrich/account-service/internal/repository"
	"codeberg.org/oliverandrich/account-service/internal/services/password"
	"github.com/urfave/cli/v3"
	"github.com/vinovest/sqlx"
)

var errEmailRequired = errors.New("an email address is required")

func migrateCommand() *cli.Command {
	return &cli.Command{
		Name:  "migrate",
		Usage: "Manage the database schema",
		Commands: []*cli.Command{
			{
				Name:   "up",
				Usage:  "Apply all pending migrations",
				Action: withSchema(database.RunMigrations),
			},
			{
				Name:   "down",
				Usage:  "Roll back the last migration",
				Action: withSchema(database.MigrateDown),
			},
			{
				Name:   "reset",
				Usage:  "Roll back all migrations",
				Action: withSchema(database.MigrateReset),
			},
			{
				Name:  "status",
				Usage: "Print the applied schema version",
				Action: func(_ context.Context, cmd *cli.Command) error {
					return withConnection(cmd, func(db *sqlx.DB) error {
						version, err := database.MigrationVersion(db.DB, database.DriverDialect(db.DriverName()))
						if err != nil {
							return err
						}
						_, err = fmt.Fprintf(cmd.Root().Writer, "schema version: %d\n", version)
						return err
					})
				},
			},
		},
	}
}

// withSchema runs a migration step against an unmigrated connection.
func withSchema(step func(db *sql.DB, dialect database.Dialect) error) cli.ActionFunc {
	return func(_ context.Context, cmd *cli.Command) error {
		return withConnection(cmd, func(db *sqlx.DB) error {
			return step(db.DB, database.DriverDialect(db.DriverName()))
		})
	}
}

func withConnection(cmd *cli.Command, fn func(db *sqlx.DB) error) error {
	cfg := config.NewFromCLI(cmd)
	db, err := database.Connect(cfg.Database.DSN)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer func() {
		_ = db.Close()
	}()
	return fn(db)
}

func userCommand() *cli.Command {
	return &cli.Command{
		Name:  "user",
		Usage: "Manage user accounts",
		Commands: []*cli.Command{
			{
				Name:      "promote",
				Usage:     "Give a user the admin role",
				ArgsUsage: "<email>",
				Action:    setRole(models.RoleAdmin),
			},
			{
				Name:      "demote",
				Usage:     "Give a user the regular user role",
				ArgsUsage: "<email>",
				Action:    setRole(models.RoleUser),
			},
		},
	}
}

func setRole(role models.Role) cli.ActionFunc {
	return func(ctx context.Context, cmd *cli.Command) error {
		email := models.NormalizeEmail(cmd.Args().First())
		if email == "" {
			return errEmailRequired
		}

		cfg := config.NewFromCLI(cmd)
		db, err := database.Open(cfg.Database.DSN)
		if err != nil {
			return fmt.Errorf("failed to open database: %w", err)
		}
		defer func() {
			_ = db.Close()
		}()

		hasher := password.NewHasher(cfg.Auth.BcryptCost, cfg.Auth.HashWorkers)
		repo := repository.New(db, hasher)
		if err := repo.SetUserRole(ctx, email, role); err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return fmt.Errorf("no user with email %s", email)
			}
			return fmt.Errorf("failed to update role: %w", err)
		}

		_, err = fmt.Fprintf(cmd.Root().Writer, "%s is now %s\n", email, role)
		return err
	}
}
