package store

import (
	"context"
	"database/sql"
	"fmt"
	"io/fs"

	"github.com/hyperengineering/habitsync/migrations"
	"github.com/pressly/goose/v3"
)

// RunMigrations applies all pending local store migrations using goose.
// It uses the embedded SQL files from the migrations package.
func RunMigrations(db *sql.DB) error {
	return MigrateFS(db, migrations.LocalFS, "local")
}

// MigrateFS applies the goose migrations under dir of fsys. A goose Provider
// keeps the dialect and filesystem off goose's package globals, so the local
// and server schemas can migrate in the same process.
func MigrateFS(db *sql.DB, fsys fs.FS, dir string) error {
	sub, err := fs.Sub(fsys, dir)
	if err != nil {
		return fmt.Errorf("open migrations dir %s: %w", dir, err)
	}

	provider, err := goose.NewProvider(goose.DialectSQLite3, db, sub)
	if err != nil {
		return fmt.Errorf("create migration provider: %w", err)
	}

	if _, err := provider.Up(context.Background()); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}

	return nil
}
