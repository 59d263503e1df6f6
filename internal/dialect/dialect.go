// Package dialect adapts the bulk engine to a specific relational store.
//
// A Dialect owns everything store-specific: identifier quoting, bind
// markers, paging, the staging column type map, the bulk-transfer
// primitive and the classification of store errors into transient write
// conflicts versus fatal failures.
package dialect

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/roach88/sqlbulk/internal/querysql"
	"github.com/roach88/sqlbulk/internal/shape"
)

// Class is the retry classification of a store error.
type Class int

const (
	// Fatal errors abort the operation immediately.
	Fatal Class = iota
	// Transient errors are deadlocks or serialization failures worth retrying.
	Transient
)

func (c Class) String() string {
	if c == Transient {
		return "transient"
	}
	return "fatal"
}

// Dialect is the store-adapter boundary.
type Dialect interface {
	querysql.Syntax

	// Name identifies the dialect in logs and plans.
	Name() string

	// ColumnType returns the staging column declaration for a kind,
	// including its NULL / NOT NULL suffix.
	ColumnType(k shape.Kind, nullable bool) (string, error)

	// CopyFrom streams rows into table without per-row statements.
	CopyFrom(ctx context.Context, conn *sql.Conn, table string, columns []string, rows [][]any) (int64, error)

	// Classify maps a store error onto the retry taxonomy.
	Classify(err error) Class
}

// ByName returns the dialect for a driver or dialect name.
func ByName(name string) (Dialect, error) {
	switch strings.ToLower(name) {
	case "sqlite", "sqlite3":
		return SQLite(), nil
	case "postgres", "postgresql", "pgx":
		return Postgres(), nil
	default:
		return nil, fmt.Errorf("unknown dialect %q", name)
	}
}

// quoteDouble is the standard SQL identifier quoting shared by both stores.
func quoteDouble(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}
