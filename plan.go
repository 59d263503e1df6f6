package sqlbulk

import (
	"fmt"
	"reflect"

	"github.com/roach88/sqlbulk/internal/batch"
	"github.com/roach88/sqlbulk/internal/correlate"
	"github.com/roach88/sqlbulk/internal/querysql"
	"github.com/roach88/sqlbulk/internal/schema"
	"github.com/roach88/sqlbulk/internal/shape"
	"github.com/roach88/sqlbulk/internal/staging"
)

// Op names a bulk operation.
type Op string

const (
	OpCreate Op = "create"
	OpSelect Op = "select"
	OpUpdate Op = "update"
	OpDelete Op = "delete"
)

// prepared is an operation resolved against its entity and match types.
type prepared struct {
	op     Op
	entity *schema.Mapping
	match  *shape.Shape // staged fields only
	corr   *correlate.Correlation
}

// prepare resolves the entity, reflects the match type, correlates the two
// and validates the filter. It never touches the store.
func (r *Repository) prepare(op Op, entity, match reflect.Type, filter *Filter) (*prepared, error) {
	m, err := r.resolve(string(op), entity)
	if err != nil {
		return nil, err
	}
	s, err := r.matchShape(string(op), m, match)
	if err != nil {
		return nil, err
	}

	var corr *correlate.Correlation
	if op == OpUpdate {
		corr, err = correlate.ForUpdate(m, s)
	} else {
		corr, err = correlate.ForMatch(m, s)
	}
	if err != nil {
		return nil, r.finish(string(op), m.Entity(), err)
	}
	if op == OpSelect {
		if err := filter.validate(r, m); err != nil {
			return nil, r.finish(string(op), m.Entity(), err)
		}
	}
	staged, err := s.Project(corr.StagingColumns())
	if err != nil {
		return nil, r.finish(string(op), m.Entity(), err)
	}

	ignored := len(s.Fields) - len(staged.Fields)
	if ignored > 0 {
		r.log.Debug("match fields without an entity property are ignored",
			"op", op,
			"entity", m.Entity(),
			"ignored", ignored,
		)
	}
	return &prepared{op: op, entity: m, match: staged, corr: corr}, nil
}

func (p *prepared) kind() staging.Kind {
	switch p.op {
	case OpUpdate:
		return staging.KindUpdate
	case OpDelete:
		return staging.KindDelete
	default:
		return staging.KindSelect
	}
}

// Step is one statement of a plan.
type Step struct {
	Purpose string `json:"purpose" yaml:"purpose"`
	SQL     string `json:"sql" yaml:"sql"`
	Params  []any  `json:"params,omitempty" yaml:"params,omitempty"`
}

// Plan is the statement sequence an operation would run.
type Plan struct {
	Op      Op       `json:"op" yaml:"op"`
	Entity  string   `json:"entity" yaml:"entity"`
	Table   string   `json:"table" yaml:"table"`
	Dialect string   `json:"dialect" yaml:"dialect"`
	Staging string   `json:"staging,omitempty" yaml:"staging,omitempty"`
	Columns []string `json:"columns" yaml:"columns"`
	Batches int      `json:"batches" yaml:"batches"`
	Steps   []Step   `json:"steps" yaml:"steps"`
}

// Plan renders the statements an operation over count items would run,
// without touching the store. match is ignored for OpCreate. The staging
// table name draws a suffix from the repository's namer.
//
// The transfer step shows the row layout as a single-row INSERT; PostgreSQL
// streams the same columns with COPY.
func (r *Repository) Plan(op Op, entity, match reflect.Type, filter *Filter, count int) (*Plan, error) {
	batches := 0
	if count > 0 {
		batches = batch.Count(count, r.opts.BatchSize)
	}

	if op == OpCreate {
		m, err := r.resolve(string(op), entity)
		if err != nil {
			return nil, err
		}
		cols := schema.Columns(m.Insertable())
		insert, err := r.compiler.Insert(m.Table, cols, 1)
		if err != nil {
			return nil, err
		}
		return &Plan{
			Op: op, Entity: m.Entity(), Table: m.Table, Dialect: r.dialect.Name(),
			Columns: cols, Batches: batches,
			Steps: []Step{{Purpose: "transfer", SQL: insert}},
		}, nil
	}

	p, err := r.prepare(op, entity, match, filter)
	if err != nil {
		return nil, err
	}
	m := p.entity
	table := staging.Name(p.kind(), r.namer.Suffix())

	defs := make([]querysql.ColumnDef, len(p.match.Fields))
	for i, f := range p.match.Fields {
		typ, err := r.dialect.ColumnType(f.Kind, f.Nullable)
		if err != nil {
			return nil, fmt.Errorf("plan %s: column %s: %w", op, f.Name, err)
		}
		defs[i] = querysql.ColumnDef{Name: f.Name, Type: typ}
	}
	ddl, err := r.compiler.CreateTemporary(table, defs)
	if err != nil {
		return nil, err
	}
	insert, err := r.compiler.Insert(table, p.match.Names(), 1)
	if err != nil {
		return nil, err
	}

	main, err := r.statement(p, table, filter)
	if err != nil {
		return nil, err
	}

	return &Plan{
		Op: op, Entity: m.Entity(), Table: m.Table, Dialect: r.dialect.Name(),
		Staging: table, Columns: p.match.Names(), Batches: batches,
		Steps: []Step{
			{Purpose: "create staging", SQL: ddl},
			{Purpose: "transfer", SQL: insert},
			main,
			{Purpose: "clear staging", SQL: r.compiler.ClearTable(table)},
			{Purpose: "drop staging", SQL: r.compiler.DropTable(table)},
		},
	}, nil
}

// statement compiles the per-batch statement of a staged operation.
func (r *Repository) statement(p *prepared, table string, filter *Filter) (Step, error) {
	m := p.entity
	switch p.op {
	case OpUpdate:
		sql, err := r.compiler.Update(querysql.Update{
			Table: m.Table, Staging: table, On: onTerms(p.corr.Join), Set: onTerms(p.corr.Assign),
		})
		return Step{Purpose: "update", SQL: sql}, err
	case OpDelete:
		sql, err := r.compiler.Delete(querysql.Delete{Table: m.Table, Staging: table, On: onTerms(p.corr.Join)})
		return Step{Purpose: "delete", SQL: sql}, err
	}

	sel := r.selectFor(p, table, filter)
	sel.Table = m.Table
	sel.Columns = schema.Columns(m.Properties)
	sql, params, err := r.compiler.Select(sel)
	return Step{Purpose: "select", SQL: sql, Params: params}, err
}

// selectFor builds the staged select of a prepared operation.
func (r *Repository) selectFor(p *prepared, table string, filter *Filter) querysql.Select {
	sel := querysql.Select{
		Staging: table,
		On:      onTerms(p.corr.Join),
		Resolve: columnResolver(p.entity),
	}
	if filter != nil {
		sel.Where = filter.Where
		sel.OrderBy = orderTerms(p.entity, filter.OrderBy)
		sel.Skip = filter.Skip
		sel.Take = filter.Take
	}
	return sel
}
