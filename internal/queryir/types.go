package queryir

// Predicate represents a filter condition over entity properties.
//
// This is a sealed interface - only types in this package implement it.
// The marker method pattern prevents external implementations and enables
// exhaustive type switches in the SQL compiler.
//
// Predicate types:
//   - Compare: property <op> value
//   - In: property IN (values...)
//   - Null: property IS [NOT] NULL
//   - And / Or: conjunction / disjunction
//   - Not: negation
//
// Properties are logical property names (or physical column names); the
// compiler resolves them through the entity mapping. Values are always bound
// as parameters.
type Predicate interface {
	predicateNode() // Marker method - seals interface to this package
}

// Op is a comparison operator.
type Op string

const (
	OpEq Op = "="
	OpNe Op = "<>"
	OpLt Op = "<"
	OpLe Op = "<="
	OpGt Op = ">"
	OpGe Op = ">="
)

// Valid reports whether op is one of the supported operators.
func (op Op) Valid() bool {
	switch op {
	case OpEq, OpNe, OpLt, OpLe, OpGt, OpGe:
		return true
	}
	return false
}

// Compare represents a property-versus-literal comparison.
//
// Semantics:
//
//	<property> <op> <value>
//
// Example:
//
//	Compare{Property: "Gender", Op: OpEq, Value: "Jackdaw"}
//
// Translates to SQL:
//
//	d."Gender" = ?
//
// Value must not be nil; NULL tests use Null.
type Compare struct {
	Property string
	Op       Op
	Value    any
}

func (Compare) predicateNode() {}

// In represents set membership.
//
// Semantics:
//
//	<property> IN (<values>...)
//
// Values must be non-empty.
type In struct {
	Property string
	Values   []any
}

func (In) predicateNode() {}

// Null represents a NULL test.
//
// Semantics:
//
//	<property> IS NULL        (Negate false)
//	<property> IS NOT NULL    (Negate true)
type Null struct {
	Property string
	Negate   bool
}

func (Null) predicateNode() {}

// And represents a conjunction of predicates (all must be true).
// Empty Predicates means "always true".
type And struct {
	Predicates []Predicate
}

func (And) predicateNode() {}

// Or represents a disjunction of predicates (any must be true).
// Empty Predicates means "always false".
type Or struct {
	Predicates []Predicate
}

func (Or) predicateNode() {}

// Not negates a predicate.
type Not struct {
	Predicate Predicate
}

func (Not) predicateNode() {}

// Properties returns every property referenced by p, in traversal order.
func Properties(p Predicate) []string {
	var out []string
	walk(p, func(name string) { out = append(out, name) })
	return out
}

func walk(p Predicate, visit func(string)) {
	switch pred := p.(type) {
	case Compare:
		visit(pred.Property)
	case *Compare:
		visit(pred.Property)
	case In:
		visit(pred.Property)
	case *In:
		visit(pred.Property)
	case Null:
		visit(pred.Property)
	case *Null:
		visit(pred.Property)
	case And:
		for _, sub := range pred.Predicates {
			walk(sub, visit)
		}
	case *And:
		for _, sub := range pred.Predicates {
			walk(sub, visit)
		}
	case Or:
		for _, sub := range pred.Predicates {
			walk(sub, visit)
		}
	case *Or:
		for _, sub := range pred.Predicates {
			walk(sub, visit)
		}
	case Not:
		walk(pred.Predicate, visit)
	case *Not:
		walk(pred.Predicate, visit)
	}
}
