package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	_ "github.com/jackc/pgx/v5/stdlib" // registers "pgx"
	_ "github.com/mattn/go-sqlite3"    // registers "sqlite3"
	_ "modernc.org/sqlite"             // registers "sqlite"

	"github.com/roach88/sqlbulk/internal/dialect"
)

// Driver names accepted by Open.
const (
	DriverSQLite3 = "sqlite3" // mattn/go-sqlite3 (cgo)
	DriverSQLite  = "sqlite"  // modernc.org/sqlite (pure Go)
	DriverPgx     = "pgx"     // jackc/pgx stdlib
)

// Store is an opened database handle paired with the dialect that speaks to it.
type Store struct {
	db      *sql.DB
	driver  string
	dialect dialect.Dialect
}

// Open connects to a database through one of the registered drivers.
//
// SQLite databases are configured with:
//   - WAL mode for concurrent reads during writes
//   - NORMAL synchronous mode (balance durability/performance)
//   - 5-second busy timeout for lock contention
//   - Foreign key enforcement
//   - a single pooled connection, so temporary tables and in-memory
//     databases stay on one connection
func Open(ctx context.Context, driver, dsn string) (*Store, error) {
	d, err := dialect.ByName(driver)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", driver, err)
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if isSQLite(driver) {
		// SQLite only supports one writer at a time, so limit connections
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)

		if err := applyPragmas(ctx, db); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to apply pragmas: %w", err)
		}
	}

	return &Store{db: db, driver: driver, dialect: d}, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// DB returns the underlying connection pool.
func (s *Store) DB() *sql.DB {
	return s.db
}

// Driver returns the database/sql driver name the store was opened with.
func (s *Store) Driver() string {
	return s.driver
}

// Dialect returns the dialect matching the driver.
func (s *Store) Dialect() dialect.Dialect {
	return s.dialect
}

// Exec runs each statement in order, stopping at the first failure.
// Used to apply fixture DDL.
func (s *Store) Exec(ctx context.Context, statements ...string) error {
	for _, stmt := range statements {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("exec %q: %w", firstLine(stmt), err)
		}
	}
	return nil
}

func isSQLite(driver string) bool {
	return driver == DriverSQLite3 || driver == DriverSQLite
}

// applyPragmas sets required SQLite configuration.
func applyPragmas(ctx context.Context, db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys = ON",
	}

	for _, pragma := range pragmas {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			return fmt.Errorf("failed to execute %q: %w", pragma, err)
		}
	}

	return nil
}

// verifyPragma checks that a pragma is set to the expected value.
// Used for testing.
func (s *Store) verifyPragma(name, expected string) error {
	var value string
	query := fmt.Sprintf("PRAGMA %s", name)
	if err := s.db.QueryRow(query).Scan(&value); err != nil {
		return fmt.Errorf("failed to query %s: %w", name, err)
	}
	if value != expected {
		return fmt.Errorf("%s = %q, expected %q", name, value, expected)
	}
	return nil
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
