// Package store opens the databases the bulk engine runs against.
//
// Three database/sql drivers are registered:
//   - "sqlite3": github.com/mattn/go-sqlite3 (cgo)
//   - "sqlite": modernc.org/sqlite (pure Go)
//   - "pgx": github.com/jackc/pgx/v5/stdlib
//
// Open pairs the handle with the matching dialect.
//
// # SQLite Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//   - foreign_keys=ON: Enforce referential integrity
//   - MaxOpenConns=1: temporary staging tables are connection scoped
//
// PostgreSQL pools are left at database/sql defaults; the bulk repository
// pins one connection per call.
package store
