package store

import (
	"embed"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	migratedb "github.com/golang-migrate/migrate/v4/database"
	migratepgx "github.com/golang-migrate/migrate/v4/database/pgx/v5"
	migratesqlite "github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

//go:embed migrations/sqlite/*.sql migrations/postgres/*.sql
var migrationsFS embed.FS

const migrateTable = "schema_migrations"

// Migrate applies pending schema migrations for the opened database.
func Migrate(db *DB) error {
	if db == nil || db.DB == nil {
		return fmt.Errorf("store: migrate: nil db")
	}

	var (
		fsPath   string
		dbDriver migratedb.Driver
		err      error
	)
	switch db.Driver {
	case DriverSQLite:
		fsPath = "migrations/sqlite"
		dbDriver, err = migratesqlite.WithInstance(db.DB, &migratesqlite.Config{
			MigrationsTable: migrateTable,
		})
	case DriverPostgres:
		fsPath = "migrations/postgres"
		dbDriver, err = migratepgx.WithInstance(db.DB, &migratepgx.Config{
			MigrationsTable: migrateTable,
		})
	default:
		return fmt.Errorf("store: migrate: unknown driver %q", db.Driver)
	}
	if err != nil {
		return fmt.Errorf("store: migrate %s: init db driver: %w", db.Driver, err)
	}

	sourceDriver, err := iofs.New(migrationsFS, fsPath)
	if err != nil {
		return fmt.Errorf("store: migrate %s: init source: %w", db.Driver, err)
	}

	m, err := migrate.NewWithInstance("iofs", sourceDriver, db.Driver, dbDriver)
	if err != nil {
		return fmt.Errorf("store: migrate %s: init migrator: %w", db.Driver, err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("store: migrate %s: up: %w", db.Driver, err)
	}
	return nil
}
