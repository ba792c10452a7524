// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

package database

import (
	"database/sql"
	"embed"
	"sync"

	"github.com/pressly/goose/v3"
)

//go:embed migrations/sqlite/*.sql migrations/postgres/*.sql
var embedMigrations embed.FS

// goose keeps its dialect and filesystem in package globals.
var gooseMu sync.Mutex

func withGoose(db *sql.DB, dialect Dialect, fn func(db *sql.DB, dir string) error) error {
	gooseMu.Lock()
	defer gooseMu.Unlock()

	goose.SetBaseFS(embedMigrations)
	goose.SetLogger(goose.NopLogger())

	gooseDialect := "sqlite3"
	if dialect == DialectPostgres {
		gooseDialect = "postgres"
	}
	if err := goose.SetDialect(gooseDialect); err != nil {
		return err
	}

	return fn(db, "migrations/"+string(dialect))
}

// RunMigrations runs all pending goose migrations.
func RunMigrations(db *sql.DB, dialect Dialect) error {
	return withGoose(db, dialect, func(db *sql.DB, dir string) error {
		return goose.Up(db, dir)
	})
}

// MigrateDown rolls back the last migration.
func MigrateDown(db *sql.DB, dialect Dialect) error {
	return withGoose(db, dialect, func(db *sql.DB, dir string) error {
		return goose.Down(db, dir)
	})
}

// MigrateReset rolls back all migrations.
func MigrateReset(db *sql.DB, dialect Dialect) error {
	return withGoose(db, dialect, func(db *sql.DB, dir string) error {
		return goose.Reset(db, dir)
	})
}

// MigrationVersion returns the currently applied schema version.
func MigrationVersion(db *sql.DB, dialect Dialect) (int64, error) {
	var version int64
	err := withGoose(db, dialect, func(db *sql.DB, _ string) error {
		v, err := goose.GetDBVersion(db)
		version = v
		return err
	})
	return version, err
}
