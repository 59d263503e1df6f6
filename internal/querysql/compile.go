package querysql

import (
	"fmt"
	"strings"

	"github.com/roach88/sqlbulk/internal/queryir"
	"github.com/roach88/sqlbulk/internal/shape"
)

// Syntax is the dialect surface the compiler needs.
type Syntax interface {
	// QuoteIdent escapes a table or column identifier.
	QuoteIdent(name string) string
	// Placeholder returns the bind marker for the n-th parameter (1-based).
	Placeholder(n int) string
	// LimitOffset renders the paging clause, or "" when neither is set.
	LimitOffset(take, skip int) string
	// ClearTable renders the statement that removes all rows of an already quoted table.
	ClearTable(quoted string) string
}

// Aliases used in every generated statement.
const (
	destAlias    = "d"
	stagingAlias = "s"
)

// Compiler renders bulk statements as parameterized SQL.
//
// CRITICAL: identifiers come only from entity mappings and match shapes and are
// always quoted; values are always bound parameters, never interpolated.
type Compiler struct {
	syntax Syntax
}

// NewCompiler creates a compiler for a dialect.
func NewCompiler(s Syntax) *Compiler {
	return &Compiler{syntax: s}
}

// ColumnDef is one staging column with its dialect-specific type declaration.
type ColumnDef struct {
	Name string
	Type string // e.g. "uuid NOT NULL"
}

// On links a destination column to a staging column.
type On struct {
	Dest    string
	Staging string
}

// Order is one ORDER BY term over a destination column.
type Order struct {
	Column string
	Desc   bool
}

// Select describes a destination read, optionally joined to a staging table.
// Duplicate staging rows fan out: each joined pair yields one result row.
//
// Semantics:
//
//	SELECT d.<columns> FROM <table> AS d
//	JOIN <staging> AS s ON <on>   -- when Staging is set
//	WHERE <where>                 -- when Where is set
//	ORDER BY <order> <paging>
type Select struct {
	Table   string
	Columns []string
	Staging string
	On      []On
	Where   queryir.Predicate
	Resolve func(property string) (column string, ok bool)
	OrderBy []Order
	Skip    int
	Take    int
}

// Update describes a staging-joined update.
type Update struct {
	Table   string
	Staging string
	On      []On // key columns
	Set     []On // assigned columns
}

// Delete describes a staging-joined delete.
type Delete struct {
	Table   string
	Staging string
	On      []On
}

// CreateTemporary renders the staging table DDL.
func (c *Compiler) CreateTemporary(table string, cols []ColumnDef) (string, error) {
	if len(cols) == 0 {
		return "", fmt.Errorf("staging table %s: no columns", table)
	}
	defs := make([]string, len(cols))
	for i, col := range cols {
		defs[i] = c.syntax.QuoteIdent(col.Name) + " " + col.Type
	}
	return fmt.Sprintf("CREATE TEMPORARY TABLE %s (%s)", c.syntax.QuoteIdent(table), strings.Join(defs, ", ")), nil
}

// CreateTable renders a permanent table. key lists the primary-key columns;
// it may be empty when a column declares its own key.
func (c *Compiler) CreateTable(table string, cols []ColumnDef, key []string) (string, error) {
	if len(cols) == 0 {
		return "", fmt.Errorf("table %s: no columns", table)
	}
	defs := make([]string, 0, len(cols)+1)
	for _, col := range cols {
		defs = append(defs, c.syntax.QuoteIdent(col.Name)+" "+col.Type)
	}
	if len(key) > 0 {
		defs = append(defs, "PRIMARY KEY ("+c.quoteList(key, "")+")")
	}
	return fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (%s)", c.syntax.QuoteIdent(table), strings.Join(defs, ", ")), nil
}

// DropTable renders an idempotent drop.
func (c *Compiler) DropTable(table string) string {
	return "DROP TABLE IF EXISTS " + c.syntax.QuoteIdent(table)
}

// ClearTable renders the row removal used between batches and retry attempts.
func (c *Compiler) ClearTable(table string) string {
	return c.syntax.ClearTable(c.syntax.QuoteIdent(table))
}

// Insert renders a multi-row INSERT with rows groups of placeholders.
func (c *Compiler) Insert(table string, columns []string, rows int) (string, error) {
	if len(columns) == 0 || rows <= 0 {
		return "", fmt.Errorf("insert into %s: need columns and at least one row", table)
	}
	var b strings.Builder
	b.WriteString("INSERT INTO ")
	b.WriteString(c.syntax.QuoteIdent(table))
	b.WriteString(" (")
	b.WriteString(c.quoteList(columns, ""))
	b.WriteString(") VALUES ")
	n := 1
	for r := 0; r < rows; r++ {
		if r > 0 {
			b.WriteString(", ")
		}
		b.WriteByte('(')
		for col := range columns {
			if col > 0 {
				b.WriteString(", ")
			}
			b.WriteString(c.syntax.Placeholder(n))
			n++
		}
		b.WriteByte(')')
	}
	return b.String(), nil
}

// Select compiles a destination read. Returns (sql, params, error).
func (c *Compiler) Select(q Select) (string, []any, error) {
	if len(q.Columns) == 0 {
		return "", nil, fmt.Errorf("select from %s: no columns", q.Table)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "SELECT %s FROM %s AS %s", c.quoteList(q.Columns, destAlias), c.syntax.QuoteIdent(q.Table), destAlias)

	var params []any
	if q.Staging != "" {
		if len(q.On) == 0 {
			return "", nil, fmt.Errorf("select from %s: no correlation columns", q.Table)
		}
		fmt.Fprintf(&b, " JOIN %s AS %s ON %s", c.syntax.QuoteIdent(q.Staging), stagingAlias, c.joinPredicate(q.On))
	}
	if q.Where != nil {
		if q.Resolve == nil {
			return "", nil, fmt.Errorf("select from %s: filter predicate without a property resolver", q.Table)
		}
		where, err := c.compilePredicate(q.Where, q.Resolve, &params)
		if err != nil {
			return "", nil, fmt.Errorf("compile filter: %w", err)
		}
		b.WriteString(" WHERE ")
		b.WriteString(where)
	}

	if len(q.OrderBy) > 0 {
		terms := make([]string, len(q.OrderBy))
		for i, o := range q.OrderBy {
			dir := "ASC"
			if o.Desc {
				dir = "DESC"
			}
			terms[i] = c.qualified(destAlias, o.Column) + " " + dir
		}
		b.WriteString(" ORDER BY ")
		b.WriteString(strings.Join(terms, ", "))
	}
	b.WriteString(c.syntax.LimitOffset(q.Take, q.Skip))

	return b.String(), params, nil
}

// Update compiles a staging-joined update.
//
//	UPDATE <table> AS d SET <col> = s.<stg>, ... FROM <staging> AS s WHERE d.<key> = s.<key> AND ...
func (c *Compiler) Update(q Update) (string, error) {
	if len(q.On) == 0 {
		return "", fmt.Errorf("update %s: no key columns", q.Table)
	}
	if len(q.Set) == 0 {
		return "", fmt.Errorf("update %s: no assigned columns", q.Table)
	}
	sets := make([]string, len(q.Set))
	for i, s := range q.Set {
		// SET targets are unqualified: neither SQLite nor PostgreSQL accepts an alias there.
		sets[i] = c.syntax.QuoteIdent(s.Dest) + " = " + c.qualified(stagingAlias, s.Staging)
	}
	return fmt.Sprintf("UPDATE %s AS %s SET %s FROM %s AS %s WHERE %s",
		c.syntax.QuoteIdent(q.Table), destAlias,
		strings.Join(sets, ", "),
		c.syntax.QuoteIdent(q.Staging), stagingAlias,
		c.joinPredicate(q.On),
	), nil
}

// Delete compiles a staging-joined delete.
//
//	DELETE FROM <table> AS d WHERE EXISTS (SELECT 1 FROM <staging> AS s WHERE <on>)
func (c *Compiler) Delete(q Delete) (string, error) {
	exists, err := c.exists(q.Staging, q.On)
	if err != nil {
		return "", fmt.Errorf("delete from %s: %w", q.Table, err)
	}
	return fmt.Sprintf("DELETE FROM %s AS %s WHERE %s", c.syntax.QuoteIdent(q.Table), destAlias, exists), nil
}

func (c *Compiler) exists(staging string, on []On) (string, error) {
	if len(on) == 0 {
		return "", fmt.Errorf("no correlation columns")
	}
	return fmt.Sprintf("EXISTS (SELECT 1 FROM %s AS %s WHERE %s)",
		c.syntax.QuoteIdent(staging), stagingAlias, c.joinPredicate(on)), nil
}

// joinPredicate renders d.<dest> = s.<staging> terms joined with AND.
func (c *Compiler) joinPredicate(on []On) string {
	terms := make([]string, len(on))
	for i, o := range on {
		terms[i] = c.qualified(destAlias, o.Dest) + " = " + c.qualified(stagingAlias, o.Staging)
	}
	return strings.Join(terms, " AND ")
}

func (c *Compiler) qualified(alias, column string) string {
	return alias + "." + c.syntax.QuoteIdent(column)
}

func (c *Compiler) quoteList(columns []string, alias string) string {
	parts := make([]string, len(columns))
	for i, col := range columns {
		if alias == "" {
			parts[i] = c.syntax.QuoteIdent(col)
		} else {
			parts[i] = c.qualified(alias, col)
		}
	}
	return strings.Join(parts, ", ")
}

// compilePredicate compiles a queryir.Predicate to a WHERE fragment over the
// destination alias, appending bound values to params.
// CRITICAL: Values NEVER interpolated - always placeholders.
func (c *Compiler) compilePredicate(p queryir.Predicate, resolve func(string) (string, bool), params *[]any) (string, error) {
	switch pred := p.(type) {
	case queryir.Compare:
		return c.compileCompare(pred, resolve, params)
	case *queryir.Compare:
		return c.compileCompare(*pred, resolve, params)
	case queryir.In:
		return c.compileIn(pred, resolve, params)
	case *queryir.In:
		return c.compileIn(*pred, resolve, params)
	case queryir.Null:
		return c.compileNull(pred, resolve)
	case *queryir.Null:
		return c.compileNull(*pred, resolve)
	case queryir.And:
		return c.compileJunction(pred.Predicates, " AND ", "1 = 1", resolve, params)
	case *queryir.And:
		return c.compileJunction(pred.Predicates, " AND ", "1 = 1", resolve, params)
	case queryir.Or:
		return c.compileJunction(pred.Predicates, " OR ", "1 = 0", resolve, params)
	case *queryir.Or:
		return c.compileJunction(pred.Predicates, " OR ", "1 = 0", resolve, params)
	case queryir.Not:
		return c.compileNot(pred, resolve, params)
	case *queryir.Not:
		return c.compileNot(*pred, resolve, params)
	default:
		return "", fmt.Errorf("unsupported predicate type: %T", p)
	}
}

func (c *Compiler) column(property string, resolve func(string) (string, bool)) (string, error) {
	col, ok := resolve(property)
	if !ok {
		return "", fmt.Errorf("unknown property %q", property)
	}
	return c.qualified(destAlias, col), nil
}

func (c *Compiler) bind(v any, params *[]any) string {
	*params = append(*params, shape.UTC(v))
	return c.syntax.Placeholder(len(*params))
}

func (c *Compiler) compileCompare(cmp queryir.Compare, resolve func(string) (string, bool), params *[]any) (string, error) {
	col, err := c.column(cmp.Property, resolve)
	if err != nil {
		return "", err
	}
	if !cmp.Op.Valid() {
		return "", fmt.Errorf("unsupported operator %q", cmp.Op)
	}
	return fmt.Sprintf("%s %s %s", col, cmp.Op, c.bind(cmp.Value, params)), nil
}

func (c *Compiler) compileIn(in queryir.In, resolve func(string) (string, bool), params *[]any) (string, error) {
	col, err := c.column(in.Property, resolve)
	if err != nil {
		return "", err
	}
	if len(in.Values) == 0 {
		return "1 = 0", nil
	}
	marks := make([]string, len(in.Values))
	for i, v := range in.Values {
		marks[i] = c.bind(v, params)
	}
	return fmt.Sprintf("%s IN (%s)", col, strings.Join(marks, ", ")), nil
}

func (c *Compiler) compileNull(n queryir.Null, resolve func(string) (string, bool)) (string, error) {
	col, err := c.column(n.Property, resolve)
	if err != nil {
		return "", err
	}
	if n.Negate {
		return col + " IS NOT NULL", nil
	}
	return col + " IS NULL", nil
}

func (c *Compiler) compileJunction(preds []queryir.Predicate, sep, empty string, resolve func(string) (string, bool), params *[]any) (string, error) {
	if len(preds) == 0 {
		return empty, nil
	}
	parts := make([]string, 0, len(preds))
	for _, sub := range preds {
		sql, err := c.compilePredicate(sub, resolve, params)
		if err != nil {
			return "", err
		}
		parts = append(parts, sql)
	}
	if len(parts) == 1 {
		return parts[0], nil
	}
	return "(" + strings.Join(parts, sep) + ")", nil
}

func (c *Compiler) compileNot(n queryir.Not, resolve func(string) (string, bool), params *[]any) (string, error) {
	if n.Predicate == nil {
		return "", fmt.Errorf("NOT without operand")
	}
	sql, err := c.compilePredicate(n.Predicate, resolve, params)
	if err != nil {
		return "", err
	}
	return "NOT (" + sql + ")", nil
}
