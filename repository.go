package sqlbulk

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"reflect"
	"sync"

	"github.com/roach88/sqlbulk/internal/dialect"
	"github.com/roach88/sqlbulk/internal/querysql"
	"github.com/roach88/sqlbulk/internal/retry"
	"github.com/roach88/sqlbulk/internal/schema"
	"github.com/roach88/sqlbulk/internal/shape"
	"github.com/roach88/sqlbulk/internal/staging"
)

// Repository runs bulk operations against one database.
//
// Calls on a Repository are serialized. Each call pins one connection for
// its whole duration: the caller-owned connection given with WithConn, or
// one taken from the pool and returned when the call ends.
type Repository struct {
	mu sync.Mutex

	db      *sql.DB
	conn    *sql.Conn
	dialect dialect.Dialect

	compiler *querysql.Compiler
	mapper   *schema.Mapper
	retry    *retry.Controller
	namer    staging.Namer
	clock    Clock
	log      *slog.Logger
	opts     Options
}

// New creates a repository. db may be nil when WithConn supplies the connection.
func New(db *sql.DB, d dialect.Dialect, opts ...Option) (*Repository, error) {
	if d == nil {
		return nil, errors.New("sqlbulk: nil dialect")
	}
	r := &Repository{
		db:      db,
		dialect: d,
		opts:    DefaultOptions(),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.db == nil && r.conn == nil {
		return nil, errors.New("sqlbulk: need a *sql.DB or WithConn")
	}
	if err := r.opts.Validate(); err != nil {
		return nil, fmt.Errorf("sqlbulk: invalid options: %w", err)
	}

	if r.log == nil {
		r.log = slog.Default().With("component", "sqlbulk")
	}
	if r.mapper == nil {
		r.mapper = schema.NewMapper()
	}
	if r.namer == nil {
		r.namer = staging.UUIDv7Namer{}
	}
	if r.clock == nil {
		r.clock = systemClock{}
	}
	r.compiler = querysql.NewCompiler(d)
	r.retry = retry.New(r.opts.MaxAttempts, r.opts.RetryDelay, d, r.log)
	return r, nil
}

// Mapper returns the entity mapper, for registering tables and loading models.
func (r *Repository) Mapper() *schema.Mapper { return r.mapper }

// Dialect returns the store dialect.
func (r *Repository) Dialect() dialect.Dialect { return r.dialect }

// Options returns the effective tunables.
func (r *Repository) Options() Options { return r.opts }

// acquire pins the connection for one call. release is a no-op for a
// caller-owned connection.
func (r *Repository) acquire(ctx context.Context) (conn *sql.Conn, release func() error, err error) {
	if r.conn != nil {
		return r.conn, func() error { return nil }, nil
	}
	conn, err = r.db.Conn(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("acquire connection: %w", err)
	}
	return conn, conn.Close, nil
}

// withConn pins a connection for fn and releases it on every exit path.
func (r *Repository) withConn(ctx context.Context, op string, m *schema.Mapping, fn func(conn *sql.Conn) error) (err error) {
	conn, release, err := r.acquire(ctx)
	if err != nil {
		return r.finish(op, m.Entity(), err)
	}
	defer func() {
		err = r.finish(op, m.Entity(), err, release())
	}()
	return fn(conn)
}

// withStaging pins a connection, creates the staging table, runs fn and
// always drops the table and releases the connection afterwards, even when
// fn panics.
func (r *Repository) withStaging(ctx context.Context, p *prepared, matches int, fn func(ctx context.Context, conn *sql.Conn, table *staging.Table) error) (err error) {
	op, entity := string(p.op), p.entity.Entity()
	conn, release, err := r.acquire(ctx)
	if err != nil {
		return r.finish(op, entity, err)
	}

	var table *staging.Table
	defer func() {
		var dropErr error
		if table != nil {
			dropErr = table.Drop(ctx)
		}
		err = r.finish(op, entity, err, dropErr, release())
	}()

	table, err = staging.Create(ctx, conn, r.dialect, p.match, p.kind(), r.namer)
	if err != nil {
		return err
	}

	r.log.Debug("staging table created",
		"op", op,
		"entity", entity,
		"table", table.Name(),
		"columns", table.Columns(),
		"matches", matches,
	)

	return fn(ctx, conn, table)
}

// checkMatches rejects nil match objects before anything touches the store.
func checkMatches[M any](op string, m *schema.Mapping, matches []M) error {
	if i := shape.NilItem(matches); i >= 0 {
		return &Error{Code: CodeCorrelation, Op: op, Entity: m.Entity(), Err: fmt.Errorf("match object %d is nil", i)}
	}
	return nil
}

// resolve maps the entity type, failing as a schema resolution error.
func (r *Repository) resolve(op string, t reflect.Type) (*schema.Mapping, error) {
	if t == nil || t.Kind() != reflect.Struct {
		return nil, &Error{
			Code:   CodeSchemaResolution,
			Op:     op,
			Entity: typeName(t),
			Err:    &schema.ResolutionError{Entity: typeName(t), Message: "entity type must be a struct"},
		}
	}
	m, err := r.mapper.Resolve(t)
	if err != nil {
		return nil, &Error{Code: CodeSchemaResolution, Op: op, Entity: typeName(t), Err: err}
	}
	return m, nil
}

// matchShape reflects the match type, failing as a correlation error.
func (r *Repository) matchShape(op string, m *schema.Mapping, t reflect.Type) (*shape.Shape, error) {
	s, err := shape.Of(t)
	if err != nil {
		return nil, &Error{Code: CodeCorrelation, Op: op, Entity: m.Entity(), Err: fmt.Errorf("match object: %w", err)}
	}
	return s, nil
}

func typeName(t reflect.Type) string {
	if t == nil {
		return "<nil>"
	}
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	if t.Name() != "" {
		return t.Name()
	}
	return t.String()
}

// columnResolver resolves filter property names against a mapping.
func columnResolver(m *schema.Mapping) func(string) (string, bool) {
	return func(name string) (string, bool) {
		p, ok := m.Lookup(name)
		return p.Column, ok
	}
}

// query runs sel on conn and scans every row into a new slice of m.Type.
func (r *Repository) query(ctx context.Context, conn *sql.Conn, m *schema.Mapping, sel querysql.Select) (reflect.Value, error) {
	sel.Table = m.Table
	sel.Columns = schema.Columns(m.Properties)
	if sel.Resolve == nil {
		sel.Resolve = columnResolver(m)
	}
	stmt, params, err := r.compiler.Select(sel)
	if err != nil {
		return reflect.Value{}, err
	}

	rows, err := conn.QueryContext(ctx, stmt, params...)
	if err != nil {
		return reflect.Value{}, fmt.Errorf("select from %s: %w", m.Table, err)
	}
	defer rows.Close()

	out := reflect.MakeSlice(reflect.SliceOf(m.Type), 0, 0)
	dest := make([]any, len(m.Properties))
	for rows.Next() {
		item := reflect.New(m.Type).Elem()
		for i, p := range m.Properties {
			dest[i] = item.FieldByIndex(p.Index).Addr().Interface()
		}
		if err := rows.Scan(dest...); err != nil {
			return reflect.Value{}, fmt.Errorf("scan %s: %w", m.Entity(), err)
		}
		out = reflect.Append(out, item)
	}
	if err := rows.Err(); err != nil {
		return reflect.Value{}, fmt.Errorf("select from %s: %w", m.Table, err)
	}
	return out, nil
}

// orderTerms resolves filter ordering to destination columns.
func orderTerms(m *schema.Mapping, orders []Order) []querysql.Order {
	out := make([]querysql.Order, 0, len(orders))
	for _, o := range orders {
		p, _ := m.Lookup(o.Property)
		out = append(out, querysql.Order{Column: p.Column, Desc: o.Desc})
	}
	return out
}

// keyOrder orders by the primary key, ascending.
func keyOrder(m *schema.Mapping) []querysql.Order {
	var out []querysql.Order
	for _, name := range m.ResolvePrimaryKeyProperties() {
		p, _ := m.Property(name)
		out = append(out, querysql.Order{Column: p.Column})
	}
	return out
}
