package postgres

import (
	"context"
	"errors"
	"sort"
	"strings"
	"testing"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
)

// TestApplyRawExecutesAllMigrations mirrors the teacher's
// migrations.Apply test: every embedded SQL file must be issued, in order,
// against the database. ApplyMigrations itself delegates to golang-migrate,
// which opens its own connection from a DSN and so cannot be driven by
// sqlmock directly — applyRaw gives the same embedded files a mockable path.
func TestApplyRawExecutesAllMigrations(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock new: %v", err)
	}
	defer db.Close()

	names, err := sortedMigrationNames()
	if err != nil {
		t.Fatalf("list migrations: %v", err)
	}
	for range names {
		mock.ExpectExec(".*").WillReturnResult(sqlmock.NewResult(0, 0))
	}

	if err := applyRaw(context.Background(), db); err != nil {
		t.Fatalf("apply migrations: %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestMigrationsAreSorted(t *testing.T) {
	entries, err := migrationFiles.ReadDir("migrations")
	if err != nil {
		t.Fatalf("read dir: %v", err)
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
	sorted := append([]string(nil), names...)
	sort.Strings(sorted)
	if len(sorted) != len(names) {
		t.Fatalf("expected %d migrations, got %d", len(names), len(sorted))
	}
	for i := range names {
		if names[i] != sorted[i] {
			t.Fatalf("migration order mismatch at %d: got %s want %s", i, names[i], sorted[i])
		}
	}
}

func TestApplyRawStopsOnFirstFailure(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock new: %v", err)
	}
	defer db.Close()

	names, err := sortedMigrationNames()
	if err != nil {
		t.Fatalf("list migrations: %v", err)
	}
	if len(names) == 0 {
		t.Fatal("expected at least one embedded migration")
	}

	mock.ExpectExec(".*").WillReturnError(errors.New("syntax error"))

	if err := applyRaw(context.Background(), db); err == nil {
		t.Fatal("expected applyRaw to surface the driver error")
	}
}
