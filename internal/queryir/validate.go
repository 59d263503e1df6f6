package queryir

import (
	"fmt"
	"strings"
)

// ValidationError lists every problem found in a predicate tree.
type ValidationError struct {
	Problems []string
}

func (e *ValidationError) Error() string {
	return "invalid filter predicate: " + strings.Join(e.Problems, "; ")
}

// Validate checks a predicate tree before compilation.
//
// Rules:
//  1. Every referenced property must be known (known reports whether a name
//     resolves against the entity).
//  2. Compare needs a supported operator and a non-nil value.
//  3. In needs at least one value.
//  4. Not needs an operand; nil predicates are not allowed inside And/Or.
//
// A nil predicate is valid and means "no filter".
//
// Validate is a pure function with no side effects.
func Validate(p Predicate, known func(string) bool) error {
	v := &validator{known: known}
	v.validate(p, true)
	if len(v.problems) == 0 {
		return nil
	}
	return &ValidationError{Problems: v.problems}
}

// validator accumulates problems during traversal.
type validator struct {
	known    func(string) bool
	problems []string
}

func (v *validator) addProblem(format string, args ...any) {
	v.problems = append(v.problems, fmt.Sprintf(format, args...))
}

func (v *validator) property(name string) {
	if name == "" {
		v.addProblem("empty property name")
		return
	}
	if v.known != nil && !v.known(name) {
		v.addProblem("unknown property %q", name)
	}
}

func (v *validator) validate(p Predicate, root bool) {
	if p == nil {
		if !root {
			v.addProblem("nil predicate")
		}
		return
	}

	switch pred := p.(type) {
	case Compare:
		v.validateCompare(pred)
	case *Compare:
		v.validateCompare(*pred)
	case In:
		v.validateIn(pred)
	case *In:
		v.validateIn(*pred)
	case Null:
		v.property(pred.Property)
	case *Null:
		v.property(pred.Property)
	case And:
		v.validateAll(pred.Predicates)
	case *And:
		v.validateAll(pred.Predicates)
	case Or:
		v.validateAll(pred.Predicates)
	case *Or:
		v.validateAll(pred.Predicates)
	case Not:
		v.validate(pred.Predicate, false)
	case *Not:
		v.validate(pred.Predicate, false)
	default:
		v.addProblem("unsupported predicate type %T", p)
	}
}

func (v *validator) validateCompare(c Compare) {
	v.property(c.Property)
	if !c.Op.Valid() {
		v.addProblem("property %q: unsupported operator %q", c.Property, c.Op)
	}
	if c.Value == nil {
		v.addProblem("property %q compared to nil; use Null", c.Property)
	}
}

func (v *validator) validateIn(in In) {
	v.property(in.Property)
	if len(in.Values) == 0 {
		v.addProblem("property %q: IN with no values", in.Property)
	}
}

func (v *validator) validateAll(preds []Predicate) {
	for _, sub := range preds {
		v.validate(sub, false)
	}
}
