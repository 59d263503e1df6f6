package sqlbulk

import (
	"context"
	"database/sql"
	"fmt"
	"reflect"

	"github.com/roach88/sqlbulk/internal/batch"
	"github.com/roach88/sqlbulk/internal/shape"
	"github.com/roach88/sqlbulk/internal/staging"
)

// BulkUpdate assigns match values to the entities of type E with the same
// primary key. M must carry every primary-key property and at least one
// other property; key columns are never assigned.
func BulkUpdate[E, M any](ctx context.Context, r *Repository, matches []M) error {
	return modify[E](ctx, r, OpUpdate, matches)
}

// BulkDelete removes the entities of type E that match any of the match
// objects. Every match field that names an entity property joins, so
// non-key attributes narrow the rows removed.
func BulkDelete[E, M any](ctx context.Context, r *Repository, matches []M) error {
	return modify[E](ctx, r, OpDelete, matches)
}

func modify[E, M any](ctx context.Context, r *Repository, op Op, matches []M) error {
	if len(matches) == 0 {
		return nil
	}
	p, err := r.prepare(op, reflect.TypeFor[E](), reflect.TypeFor[M](), nil)
	if err != nil {
		return err
	}
	if err := checkMatches(string(op), p.entity, matches); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	return r.withStaging(ctx, p, len(matches), func(ctx context.Context, conn *sql.Conn, table *staging.Table) error {
		stmt, err := r.statement(p, table.Name(), nil)
		if err != nil {
			return err
		}
		return runStaged(ctx, r, conn, table, p, matches, stmt.SQL)
	})
}

// runStaged pushes each batch through the staging table and runs stmt
// against it, retrying transient conflicts.
func runStaged[M any](ctx context.Context, r *Repository, conn *sql.Conn, table *staging.Table, p *prepared, matches []M, stmt string) error {
	op := string(p.op)
	batches := batch.Split(matches, r.opts.BatchSize)
	for n, b := range batches {
		rows := shape.Rows(p.match, b)

		var affected int64
		err := r.retry.Run(ctx, op, table.Clear, func(ctx context.Context) error {
			if _, err := table.WriteBatch(ctx, rows); err != nil {
				return err
			}
			res, err := conn.ExecContext(ctx, stmt)
			if err != nil {
				return fmt.Errorf("%s %s from %s: %w", op, p.entity.Table, table.Name(), err)
			}
			affected, _ = res.RowsAffected()
			return nil
		})
		if err != nil {
			return fmt.Errorf("batch %d of %d: %w", n+1, len(batches), err)
		}
		if err := table.Clear(ctx); err != nil {
			return err
		}
		r.log.Debug("batch applied",
			"op", op,
			"entity", p.entity.Entity(),
			"batch", n+1,
			"batches", len(batches),
			"matches", len(b),
			"rows", affected,
		)
	}
	return nil
}
