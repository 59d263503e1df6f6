package sqlbulk

import (
	"context"
	"database/sql"
	"fmt"
	"reflect"
	"time"

	"github.com/roach88/sqlbulk/internal/batch"
	"github.com/roach88/sqlbulk/internal/queryir"
	"github.com/roach88/sqlbulk/internal/querysql"
	"github.com/roach88/sqlbulk/internal/schema"
)

// BulkCreate inserts entities in batches through the dialect's bulk-transfer
// path. Generated properties are left to the store. An empty slice never
// touches the store.
//
// Batches are committed independently; a failure leaves earlier batches in place.
func BulkCreate[E any](ctx context.Context, r *Repository, entities []E) error {
	const op = "create"
	if len(entities) == 0 {
		return nil
	}
	m, err := r.resolve(op, reflect.TypeFor[E]())
	if err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	return r.withConn(ctx, op, m, func(conn *sql.Conn) error {
		return create(ctx, r, conn, m, entities)
	})
}

// BulkCreateAndReturn creates entities and reads them back, so that keys and
// defaults assigned by the store are visible.
//
// Every entity is stamped with one creation time floored to the second in
// UTC: the first entity's existing creation time when set, otherwise the
// repository clock. Rows are read back by equality on that time, ordered by
// primary key. The stamp is written to the caller's entities in place.
//
// Rows created by another writer within the same second and table are
// returned as well; callers needing exact correlation should assign keys
// client-side and use BulkSelect.
func BulkCreateAndReturn[E any](ctx context.Context, r *Repository, entities []E) ([]E, error) {
	const op = "create-and-return"
	if len(entities) == 0 {
		return []E{}, nil
	}
	m, err := r.resolve(op, reflect.TypeFor[E]())
	if err != nil {
		return nil, err
	}
	created, ok := m.CreatedProperty()
	if !ok {
		return nil, &Error{
			Code:   CodeSchemaResolution,
			Op:     op,
			Entity: m.Entity(),
			Err:    &schema.ResolutionError{Entity: m.Entity(), Message: "no created property to correlate by"},
		}
	}

	stamp, err := r.stamp(entities, created)
	if err != nil {
		return nil, r.finish(op, m.Entity(), err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	var out []E
	err = r.withConn(ctx, op, m, func(conn *sql.Conn) error {
		if err := create(ctx, r, conn, m, entities); err != nil {
			return err
		}
		rows, err := r.query(ctx, conn, m, querysql.Select{
			Where:   queryir.Compare{Property: created.Name, Op: queryir.OpEq, Value: stamp},
			OrderBy: keyOrder(m),
		})
		if err != nil {
			return err
		}
		out = rows.Interface().([]E)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// create writes entities batch by batch on conn. The caller holds r.mu.
func create[E any](ctx context.Context, r *Repository, conn *sql.Conn, m *schema.Mapping, entities []E) error {
	props := m.Insertable()
	columns := schema.Columns(props)

	batches := batch.Split(entities, r.opts.BatchSize)
	for n, b := range batches {
		rows := make([][]any, len(b))
		for i := range b {
			rows[i] = schema.Values(reflect.ValueOf(&b[i]).Elem(), props)
		}

		var written int64
		err := r.retry.Run(ctx, "create", nil, func(ctx context.Context) error {
			var err error
			written, err = r.dialect.CopyFrom(ctx, conn, m.Table, columns, rows)
			return err
		})
		if err != nil {
			return fmt.Errorf("batch %d of %d: %w", n+1, len(batches), err)
		}
		r.log.Debug("batch created",
			"entity", m.Entity(),
			"batch", n+1,
			"batches", len(batches),
			"rows", written,
		)
	}
	return nil
}

// stamp floors the creation time and writes it to every entity.
func (r *Repository) stamp(entities any, created schema.Property) (time.Time, error) {
	items := reflect.ValueOf(entities)

	raw, ok := timeOf(items.Index(0).FieldByIndex(created.Index))
	if !ok || raw.IsZero() {
		raw = r.clock.Now()
	}
	stamp := raw.UTC().Truncate(time.Second)

	for i := 0; i < items.Len(); i++ {
		if err := setTime(items.Index(i).FieldByIndex(created.Index), stamp); err != nil {
			return time.Time{}, fmt.Errorf("stamp %s: %w", created.Name, err)
		}
	}
	return stamp, nil
}

var (
	timeType     = reflect.TypeOf(time.Time{})
	nullTimeType = reflect.TypeOf(sql.NullTime{})
)

func timeOf(fv reflect.Value) (time.Time, bool) {
	switch {
	case fv.Type() == timeType:
		return fv.Interface().(time.Time), true
	case fv.Type() == nullTimeType:
		nt := fv.Interface().(sql.NullTime)
		return nt.Time, nt.Valid
	case fv.Kind() == reflect.Pointer && fv.Type().Elem() == timeType:
		if fv.IsNil() {
			return time.Time{}, false
		}
		return fv.Elem().Interface().(time.Time), true
	}
	return time.Time{}, false
}

func setTime(fv reflect.Value, t time.Time) error {
	switch {
	case fv.Type() == timeType:
		fv.Set(reflect.ValueOf(t))
	case fv.Type() == nullTimeType:
		fv.Set(reflect.ValueOf(sql.NullTime{Time: t, Valid: true}))
	case fv.Kind() == reflect.Pointer && fv.Type().Elem() == timeType:
		fv.Set(reflect.ValueOf(&t))
	default:
		return fmt.Errorf("unsupported creation time type %s", fv.Type())
	}
	return nil
}
