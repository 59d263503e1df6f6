package familytree

import (
	"context"
	"fmt"

	"github.com/roach88/sqlbulk/internal/dialect"
	"github.com/roach88/sqlbulk/internal/querysql"
	"github.com/roach88/sqlbulk/internal/schema"
	"github.com/roach88/sqlbulk/internal/shape"
	"github.com/roach88/sqlbulk/internal/store"
)

// CreateStatements renders CREATE TABLE statements for every entity,
// derived from the entity mappings.
//
// Foreign keys are not declared: batches are committed independently, so a
// restricting constraint would reject a batch whose parents land in a later one.
func CreateStatements(d dialect.Dialect, m *schema.Mapper) ([]string, error) {
	c := querysql.NewCompiler(d)
	var stmts []string
	for _, t := range Entities() {
		mapping, err := m.Resolve(t)
		if err != nil {
			return nil, err
		}
		stmt, err := createTable(c, d, mapping)
		if err != nil {
			return nil, err
		}
		stmts = append(stmts, stmt)
	}
	return stmts, nil
}

// Install creates the data set's tables in s.
func Install(ctx context.Context, s *store.Store, m *schema.Mapper) error {
	stmts, err := CreateStatements(s.Dialect(), m)
	if err != nil {
		return err
	}
	return s.Exec(ctx, stmts...)
}

func createTable(c *querysql.Compiler, d dialect.Dialect, m *schema.Mapping) (string, error) {
	keys := m.ResolvePrimaryKeyProperties()
	identity := len(keys) == 1

	cols := make([]querysql.ColumnDef, 0, len(m.Properties))
	var keyCols []string
	for _, p := range m.Properties {
		if p.PrimaryKey && p.Generated && identity && p.Kind == shape.KindInt64 {
			cols = append(cols, querysql.ColumnDef{Name: p.Column, Type: identityColumn(d)})
			continue
		}
		typ, err := d.ColumnType(p.Kind, p.Nullable && !p.PrimaryKey)
		if err != nil {
			return "", fmt.Errorf("table %s: column %s: %w", m.Table, p.Column, err)
		}
		cols = append(cols, querysql.ColumnDef{Name: p.Column, Type: typ})
		if p.PrimaryKey {
			keyCols = append(keyCols, p.Column)
		}
	}
	return c.CreateTable(m.Table, cols, keyCols)
}

func identityColumn(d dialect.Dialect) string {
	if d.Name() == "postgres" {
		return "bigint GENERATED BY DEFAULT AS IDENTITY PRIMARY KEY"
	}
	return "INTEGER PRIMARY KEY"
}
