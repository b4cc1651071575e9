// Package store implements the measurement datastore: connection setup for
// SQLite and PostgreSQL, embedded schema migrations, the retrying appender
// used by the collector, and the read queries used by the API.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // postgres driver
	_ "modernc.org/sqlite"             // pure-Go SQLite driver

	"github.com/gnmradar/gnm/internal/config"
)

// Driver names accepted in db.driver.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// sqliteTimeLayout is a fixed-width UTC layout so string comparison orders
// timestamps correctly.
const sqliteTimeLayout = "2006-01-02 15:04:05.000"

// DB wraps the sql pool with the driver name, needed for placeholder and
// timestamp dialect differences.
type DB struct {
	*sql.DB
	Driver string
}

// Open connects to the configured datastore and applies pool sizing. The
// connection is verified with a short ping.
func Open(ctx context.Context, cfg config.DBConfig) (*DB, error) {
	var (
		db  *sql.DB
		err error
	)
	switch cfg.Driver {
	case DriverSQLite:
		db, err = openSQLite(cfg.Path)
	case DriverPostgres:
		db, err = openPostgres(cfg)
	default:
		return nil, fmt.Errorf("store: unknown driver %q", cfg.Driver)
	}
	if err != nil {
		return nil, err
	}

	if cfg.Driver == DriverPostgres {
		db.SetMaxOpenConns(cfg.PoolMaxConnections)
		db.SetMaxIdleConns(cfg.PoolMaxCached)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: ping %s: %w", cfg.Driver, err)
	}

	return &DB{DB: db, Driver: cfg.Driver}, nil
}

func openSQLite(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("store: open sqlite %s: %w", path, err)
	}

	// Single-writer: only one connection needed.
	db.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
		"PRAGMA busy_timeout=5000",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("store: exec %q on %s: %w", p, path, err)
		}
	}
	return db, nil
}

func openPostgres(cfg config.DBConfig) (*sql.DB, error) {
	dsn := fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s",
		cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.Database)
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("store: open postgres %s:%d/%s: %w", cfg.Host, cfg.Port, cfg.Database, err)
	}
	return db, nil
}

// Rebind rewrites ? placeholders to $1..$n for postgres. Queries are written
// once with ? and rebound per driver.
func (d *DB) Rebind(query string) string {
	if d.Driver != DriverPostgres {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			n++
			fmt.Fprintf(&b, "$%d", n)
			continue
		}
		b.WriteByte(query[i])
	}
	return b.String()
}

// BindTime converts a timestamp to the driver's preferred representation:
// a sortable UTC string for sqlite, time.Time for postgres.
func (d *DB) BindTime(t time.Time) any {
	if d.Driver == DriverSQLite {
		return t.UTC().Format(sqliteTimeLayout)
	}
	return t.UTC()
}

// ScanTime parses a timestamp scanned from the driver.
func (d *DB) ScanTime(v any) (time.Time, error) {
	switch t := v.(type) {
	case time.Time:
		return t.UTC(), nil
	case string:
		parsed, err := time.Parse(sqliteTimeLayout, t)
		if err != nil {
			return time.Time{}, fmt.Errorf("store: parse timestamp %q: %w", t, err)
		}
		return parsed.UTC(), nil
	case []byte:
		return d.ScanTime(string(t))
	default:
		return time.Time{}, fmt.Errorf("store: unexpected timestamp type %T", v)
	}
}
