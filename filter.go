package sqlbulk

import (
	"fmt"
	"strings"

	"github.com/roach88/sqlbulk/internal/queryir"
	"github.com/roach88/sqlbulk/internal/schema"
)

// Predicate is a filter condition over entity properties.
type Predicate = queryir.Predicate

// Filter refines a bulk select. It is applied to every batch in the order
// Where, Include, OrderBy, Skip, Take.
type Filter struct {
	// Where restricts the rows matched by the staging join.
	Where Predicate

	// Include lists relation fields to load, dotted for nesting
	// ("Siblings.PrimarySibling").
	Include []string

	// OrderBy sorts each batch's result.
	OrderBy []Order

	// Skip drops leading rows of each batch's result.
	Skip int

	// Take caps each batch's result; 0 means unbounded.
	Take int
}

// Order is one sort key.
type Order struct {
	Property string
	Desc     bool
}

// Asc orders by property ascending.
func Asc(property string) Order { return Order{Property: property} }

// Desc orders by property descending.
func Desc(property string) Order { return Order{Property: property, Desc: true} }

// Eq matches property = value.
func Eq(property string, value any) Predicate {
	return queryir.Compare{Property: property, Op: queryir.OpEq, Value: value}
}

// Ne matches property <> value.
func Ne(property string, value any) Predicate {
	return queryir.Compare{Property: property, Op: queryir.OpNe, Value: value}
}

// Lt matches property < value.
func Lt(property string, value any) Predicate {
	return queryir.Compare{Property: property, Op: queryir.OpLt, Value: value}
}

// Le matches property <= value.
func Le(property string, value any) Predicate {
	return queryir.Compare{Property: property, Op: queryir.OpLe, Value: value}
}

// Gt matches property > value.
func Gt(property string, value any) Predicate {
	return queryir.Compare{Property: property, Op: queryir.OpGt, Value: value}
}

// Ge matches property >= value.
func Ge(property string, value any) Predicate {
	return queryir.Compare{Property: property, Op: queryir.OpGe, Value: value}
}

// In matches property IN (values...).
func In(property string, values ...any) Predicate {
	return queryir.In{Property: property, Values: values}
}

// IsNull matches property IS NULL.
func IsNull(property string) Predicate {
	return queryir.Null{Property: property}
}

// NotNull matches property IS NOT NULL.
func NotNull(property string) Predicate {
	return queryir.Null{Property: property, Negate: true}
}

// And matches when every predicate matches.
func And(preds ...Predicate) Predicate {
	return queryir.And{Predicates: preds}
}

// Or matches when any predicate matches.
func Or(preds ...Predicate) Predicate {
	return queryir.Or{Predicates: preds}
}

// Not negates p.
func Not(p Predicate) Predicate {
	return queryir.Not{Predicate: p}
}

// validate resolves every property and relation path the filter names.
func (f *Filter) validate(r *Repository, m *schema.Mapping) error {
	if f == nil {
		return nil
	}
	known := func(name string) bool {
		_, ok := m.Lookup(name)
		return ok
	}
	if err := queryir.Validate(f.Where, known); err != nil {
		return &schema.ResolutionError{Entity: m.Entity(), Message: err.Error()}
	}
	for _, o := range f.OrderBy {
		if !known(o.Property) {
			return &schema.ResolutionError{Entity: m.Entity(), Message: fmt.Sprintf("order by unknown property %q", o.Property)}
		}
	}
	if f.Skip < 0 || f.Take < 0 {
		return fmt.Errorf("filter: skip and take must not be negative")
	}
	for _, path := range f.Include {
		if err := r.validateInclude(m, strings.Split(path, ".")); err != nil {
			return err
		}
	}
	return nil
}

func (r *Repository) validateInclude(m *schema.Mapping, path []string) error {
	rel, ok := m.Relation(path[0])
	if !ok {
		return &schema.ResolutionError{Entity: m.Entity(), Message: fmt.Sprintf("include of unknown relation %q", path[0])}
	}
	target, err := r.mapper.Resolve(rel.Target)
	if err != nil {
		return err
	}
	if len(path) == 1 {
		return nil
	}
	return r.validateInclude(target, path[1:])
}
