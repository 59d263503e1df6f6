// Package staging manages the temporary tables that carry match objects into
// the store.
//
// A staging table lives on one connection for the duration of one bulk
// operation: created before the first batch, cleared after every batch and
// dropped on every exit path. Its columns are exactly the match fields the
// operation correlates on, typed by the dialect.
package staging

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/roach88/sqlbulk/internal/dialect"
	"github.com/roach88/sqlbulk/internal/querysql"
	"github.com/roach88/sqlbulk/internal/shape"
)

// Kind names the operation a staging table serves.
type Kind string

const (
	KindSelect Kind = "select"
	KindUpdate Kind = "update"
	KindDelete Kind = "delete"
)

// Name returns the staging table name for an operation kind and suffix.
func Name(kind Kind, suffix string) string {
	return "bulk_" + string(kind) + "_" + suffix
}

// Table is a live staging table bound to one connection.
type Table struct {
	name     string
	columns  []string
	conn     *sql.Conn
	dialect  dialect.Dialect
	compiler *querysql.Compiler
}

// Create issues CREATE TEMPORARY TABLE for the fields of s on conn.
func Create(ctx context.Context, conn *sql.Conn, d dialect.Dialect, s *shape.Shape, kind Kind, namer Namer) (*Table, error) {
	if len(s.Fields) == 0 {
		return nil, fmt.Errorf("staging %s table: no columns", kind)
	}

	name := Name(kind, namer.Suffix())
	defs := make([]querysql.ColumnDef, len(s.Fields))
	for i, f := range s.Fields {
		typ, err := d.ColumnType(f.Kind, f.Nullable)
		if err != nil {
			return nil, fmt.Errorf("staging table %s: column %s: %w", name, f.Name, err)
		}
		defs[i] = querysql.ColumnDef{Name: f.Name, Type: typ}
	}

	compiler := querysql.NewCompiler(d)
	ddl, err := compiler.CreateTemporary(name, defs)
	if err != nil {
		return nil, err
	}
	if _, err := conn.ExecContext(ctx, ddl); err != nil {
		return nil, fmt.Errorf("create staging table %s: %w", name, err)
	}

	return &Table{
		name:     name,
		columns:  s.Names(),
		conn:     conn,
		dialect:  d,
		compiler: compiler,
	}, nil
}

// Name returns the unquoted table name.
func (t *Table) Name() string { return t.name }

// Columns returns the staging column names in creation order.
func (t *Table) Columns() []string { return t.columns }

// WriteBatch bulk-transfers rows, each ordered like Columns.
func (t *Table) WriteBatch(ctx context.Context, rows [][]any) (int64, error) {
	n, err := t.dialect.CopyFrom(ctx, t.conn, t.name, t.columns, rows)
	if err != nil {
		return 0, fmt.Errorf("write staging table %s: %w", t.name, err)
	}
	return n, nil
}

// Clear removes every row so the table can take the next batch.
func (t *Table) Clear(ctx context.Context) error {
	if _, err := t.conn.ExecContext(ctx, t.compiler.ClearTable(t.name)); err != nil {
		return fmt.Errorf("clear staging table %s: %w", t.name, err)
	}
	return nil
}

// Drop removes the table. It ignores cancellation of ctx so cleanup still
// runs after a caller timeout, and is safe to call more than once.
func (t *Table) Drop(ctx context.Context) error {
	ctx = context.WithoutCancel(ctx)
	if _, err := t.conn.ExecContext(ctx, t.compiler.DropTable(t.name)); err != nil {
		return fmt.Errorf("drop staging table %s: %w", t.name, err)
	}
	return nil
}
