package sqlbulk

import (
	"context"
	"database/sql"
	"fmt"
	"reflect"

	"github.com/roach88/sqlbulk/internal/batch"
	"github.com/roach88/sqlbulk/internal/correlate"
	"github.com/roach88/sqlbulk/internal/querysql"
	"github.com/roach88/sqlbulk/internal/shape"
	"github.com/roach88/sqlbulk/internal/staging"
)

// BulkSelect returns the entities of type E that match any of the match
// objects. Every match field that names an entity property (or its column)
// joins; other fields are ignored. The filter, if any, is applied per batch,
// so OrderBy, Skip and Take order and page within each batch.
//
// Results are not de-duplicated: an entity joined by several match objects is
// returned once per match, whether or not they share a batch.
func BulkSelect[E, M any](ctx context.Context, r *Repository, matches []M, filter *Filter) ([]E, error) {
	if len(matches) == 0 {
		return []E{}, nil
	}
	p, err := r.prepare(OpSelect, reflect.TypeFor[E](), reflect.TypeFor[M](), filter)
	if err != nil {
		return nil, err
	}
	if err := checkMatches(string(OpSelect), p.entity, matches); err != nil {
		return nil, err
	}
	m := p.entity

	var include []string
	if filter != nil {
		include = filter.Include
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]E, 0, len(matches))
	err = r.withStaging(ctx, p, len(matches), func(ctx context.Context, conn *sql.Conn, table *staging.Table) error {
		sel := r.selectFor(p, table.Name(), filter)

		batches := batch.Split(matches, r.opts.BatchSize)
		for n, b := range batches {
			rows := shape.Rows(p.match, b)

			var found reflect.Value
			err := r.retry.Run(ctx, string(OpSelect), table.Clear, func(ctx context.Context) error {
				if _, err := table.WriteBatch(ctx, rows); err != nil {
					return err
				}
				var err error
				if found, err = r.query(ctx, conn, m, sel); err != nil {
					return err
				}
				return r.include(ctx, conn, m, found, include)
			})
			if err != nil {
				return fmt.Errorf("batch %d of %d: %w", n+1, len(batches), err)
			}
			if err := table.Clear(ctx); err != nil {
				return err
			}

			out = append(out, found.Interface().([]E)...)
			r.log.Debug("batch selected",
				"entity", m.Entity(),
				"batch", n+1,
				"batches", len(batches),
				"matches", len(b),
				"rows", found.Len(),
			)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func onTerms(pairs []correlate.Pair) []querysql.On {
	on := make([]querysql.On, len(pairs))
	for i, p := range pairs {
		on[i] = querysql.On{Dest: p.Column, Staging: p.Staging}
	}
	return on
}
