package dialect

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	mattn "github.com/mattn/go-sqlite3"
	modernc "modernc.org/sqlite"
	sqlitelib "modernc.org/sqlite/lib"

	"github.com/roach88/sqlbulk/internal/querysql"
	"github.com/roach88/sqlbulk/internal/shape"
)

// SQLite bind-variable ceiling since 3.32.
const sqliteMaxVariables = 32766

// sqliteRowsPerInsert caps the rows in one multi-row INSERT.
const sqliteRowsPerInsert = 500

// SQLiteDialect targets SQLite through either mattn/go-sqlite3 or modernc.org/sqlite.
//
// SQLite has no server-side COPY, so CopyFrom runs one transaction of
// prepared multi-row INSERT statements.
type SQLiteDialect struct {
	compiler *querysql.Compiler
}

// SQLite returns the SQLite dialect.
func SQLite() *SQLiteDialect {
	d := &SQLiteDialect{}
	d.compiler = querysql.NewCompiler(d)
	return d
}

func (d *SQLiteDialect) Name() string { return "sqlite" }

func (d *SQLiteDialect) QuoteIdent(name string) string { return quoteDouble(name) }

func (d *SQLiteDialect) Placeholder(int) string { return "?" }

func (d *SQLiteDialect) LimitOffset(take, skip int) string {
	switch {
	case take > 0 && skip > 0:
		return fmt.Sprintf(" LIMIT %d OFFSET %d", take, skip)
	case take > 0:
		return fmt.Sprintf(" LIMIT %d", take)
	case skip > 0:
		// SQLite requires a LIMIT before OFFSET; -1 means unbounded.
		return fmt.Sprintf(" LIMIT -1 OFFSET %d", skip)
	}
	return ""
}

func (d *SQLiteDialect) ClearTable(quoted string) string {
	return "DELETE FROM " + quoted
}

func (d *SQLiteDialect) ColumnType(k shape.Kind, nullable bool) (string, error) {
	var typ string
	switch k {
	case shape.KindBool:
		typ = "BOOLEAN"
	case shape.KindInt8, shape.KindInt16, shape.KindInt32, shape.KindInt64:
		typ = "INTEGER"
	case shape.KindFloat32, shape.KindFloat64:
		typ = "REAL"
	case shape.KindText:
		return "TEXT NULL", nil
	case shape.KindTime:
		typ = "TIMESTAMP"
	case shape.KindUUID:
		typ = "TEXT"
	case shape.KindBytes:
		typ = "BLOB"
	default:
		return "", fmt.Errorf("sqlite: no column type for kind %s", k)
	}
	return withNullability(typ, nullable), nil
}

func (d *SQLiteDialect) CopyFrom(ctx context.Context, conn *sql.Conn, table string, columns []string, rows [][]any) (int64, error) {
	if len(rows) == 0 {
		return 0, nil
	}
	if len(columns) == 0 {
		return 0, fmt.Errorf("sqlite copy into %s: no columns", table)
	}
	perStmt := min(sqliteRowsPerInsert, sqliteMaxVariables/len(columns))

	tx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("sqlite copy into %s: begin: %w", table, err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	// Statements prepared on tx are closed by Commit or Rollback.
	var full *sql.Stmt
	var written int64
	for start := 0; start < len(rows); start += perStmt {
		chunk := rows[start:min(start+perStmt, len(rows))]

		stmt := full
		if stmt == nil || len(chunk) != perStmt {
			query, err := d.compiler.Insert(table, columns, len(chunk))
			if err != nil {
				return 0, err
			}
			if stmt, err = tx.PrepareContext(ctx, query); err != nil {
				return 0, fmt.Errorf("sqlite copy into %s: prepare: %w", table, err)
			}
			if len(chunk) == perStmt {
				full = stmt
			}
		}

		args := make([]any, 0, len(chunk)*len(columns))
		for _, row := range chunk {
			if len(row) != len(columns) {
				return 0, fmt.Errorf("sqlite copy into %s: row has %d values, want %d", table, len(row), len(columns))
			}
			args = append(args, row...)
		}
		if _, err := stmt.ExecContext(ctx, args...); err != nil {
			return 0, fmt.Errorf("sqlite copy into %s: %w", table, err)
		}
		written += int64(len(chunk))
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("sqlite copy into %s: commit: %w", table, err)
	}
	committed = true
	return written, nil
}

// Classify treats SQLITE_BUSY and SQLITE_LOCKED from either driver as transient.
func (d *SQLiteDialect) Classify(err error) Class {
	if err == nil {
		return Fatal
	}
	var me mattn.Error
	if errors.As(err, &me) {
		if me.Code == mattn.ErrBusy || me.Code == mattn.ErrLocked {
			return Transient
		}
		return Fatal
	}
	var ce *modernc.Error
	if errors.As(err, &ce) {
		// Code may be an extended result code; the primary code is the low byte.
		switch ce.Code() & 0xff {
		case sqlitelib.SQLITE_BUSY, sqlitelib.SQLITE_LOCKED:
			return Transient
		}
	}
	return Fatal
}

func withNullability(typ string, nullable bool) string {
	if nullable {
		return typ + " NULL"
	}
	return typ + " NOT NULL"
}
