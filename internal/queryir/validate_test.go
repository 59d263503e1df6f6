package queryir

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func knownSet(names ...string) func(string) bool {
	set := make(map[string]bool, len(names))
	for _, n := range names {
		set[n] = true
	}
	return func(name string) bool { return set[name] }
}

func TestValidate_Valid(t *testing.T) {
	known := knownSet("Gender", "IsAlive", "FatherID")

	testCases := []struct {
		name string
		pred Predicate
	}{
		{"nil", nil},
		{"compare", Compare{Property: "Gender", Op: OpEq, Value: "Jackdaw"}},
		{"pointer compare", &Compare{Property: "Gender", Op: OpNe, Value: "Potato"}},
		{"in", In{Property: "Gender", Values: []any{"A", "B"}}},
		{"null", Null{Property: "FatherID"}},
		{"nested", And{Predicates: []Predicate{
			Or{Predicates: []Predicate{
				Compare{Property: "IsAlive", Op: OpEq, Value: true},
				Not{Predicate: Null{Property: "FatherID", Negate: true}},
			}},
			&In{Property: "Gender", Values: []any{"Tomato"}},
		}}},
		{"empty and", And{}},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert.NoError(t, Validate(tc.pred, known))
		})
	}
}

func TestValidate_CollectsAllProblems(t *testing.T) {
	pred := And{Predicates: []Predicate{
		Compare{Property: "Colour", Op: OpEq, Value: "red"},
		Compare{Property: "Gender", Op: "LIKE", Value: "x%"},
		Compare{Property: "Gender", Op: OpEq},
		In{Property: "Gender"},
		Not{},
		nil,
	}}

	err := Validate(pred, knownSet("Gender"))
	var ve *ValidationError
	require.True(t, errors.As(err, &ve))
	assert.Equal(t, []string{
		`unknown property "Colour"`,
		`property "Gender": unsupported operator "LIKE"`,
		`property "Gender" compared to nil; use Null`,
		`property "Gender": IN with no values`,
		"nil predicate",
		"nil predicate",
	}, ve.Problems)
	assert.Contains(t, err.Error(), "invalid filter predicate")
}

func TestValidate_NilKnownAcceptsAnyName(t *testing.T) {
	assert.NoError(t, Validate(Compare{Property: "Anything", Op: OpGt, Value: 1}, nil))
	assert.Error(t, Validate(Null{}, nil))
}

func TestProperties(t *testing.T) {
	pred := And{Predicates: []Predicate{
		Compare{Property: "A", Op: OpEq, Value: 1},
		&Or{Predicates: []Predicate{In{Property: "B", Values: []any{1}}, Not{Predicate: &Null{Property: "C"}}}},
	}}
	assert.Equal(t, []string{"A", "B", "C"}, Properties(pred))
	assert.Empty(t, Properties(nil))
}

func TestOpValid(t *testing.T) {
	for _, op := range []Op{OpEq, OpNe, OpLt, OpLe, OpGt, OpGe} {
		assert.True(t, op.Valid(), op)
	}
	assert.False(t, Op("~").Valid())
}
