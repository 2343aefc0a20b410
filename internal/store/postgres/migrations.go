// Package postgres provides an optional durable backing for ProfileStore and
// EventStore behind the same interfaces the in-memory stores satisfy
// (spec.md §6: "must expose an append/read interface suitable for swapping
// the in-memory backing with a durable log"). Grounded on the teacher's
// services/indexer/storage.go (raw database/sql + lib/pq) for query shape;
// migrations are run by golang-migrate/migrate/v4, a dependency the teacher
// declares but never imports — we give it the home the teacher didn't,
// rather than hand-rolling the teacher's embed.FS + sort-and-exec loop.
package postgres

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"sort"
	"strings"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "github.com/lib/pq"
)

//go:embed migrations/*.sql
var migrationFiles embed.FS

// ApplyMigrations runs every pending migration against dsn.
func ApplyMigrations(dsn string) error {
	source, err := iofs.New(migrationFiles, "migrations")
	if err != nil {
		return fmt.Errorf("load embedded migrations: %w", err)
	}

	m, err := migrate.NewWithSourceInstance("iofs", source, dsn)
	if err != nil {
		return fmt.Errorf("init migrator: %w", err)
	}
	defer m.Close()

	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return fmt.Errorf("apply migrations: %w", err)
	}
	return nil
}

// sortedMigrationNames returns the embedded migration filenames in the
// lexical order applyRaw applies them in.
func sortedMigrationNames() ([]string, error) {
	entries, err := migrationFiles.ReadDir("migrations")
	if err != nil {
		return nil, fmt.Errorf("list migrations: %w", err)
	}
	var names []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if name := entry.Name(); strings.HasSuffix(name, ".sql") {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names, nil
}

// applyRaw executes every embedded migration file directly against db, in
// lexical order, the way the teacher's own migrations.Apply does it.
// ApplyMigrations (above) instead hands the same files to golang-migrate for
// version tracking and idempotent re-runs; applyRaw exists so the embedded
// SQL content itself has direct, mockable test coverage without standing up
// golang-migrate's internal postgres driver against a live database.
func applyRaw(ctx context.Context, db *sql.DB) error {
	names, err := sortedMigrationNames()
	if err != nil {
		return err
	}
	for _, name := range names {
		sqlBytes, err := migrationFiles.ReadFile("migrations/" + name)
		if err != nil {
			return fmt.Errorf("read migration %s: %w", name, err)
		}
		if _, err := db.ExecContext(ctx, string(sqlBytes)); err != nil {
			return fmt.Errorf("apply migration %s: %w", name, err)
		}
	}
	return nil
}
