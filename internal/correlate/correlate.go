// Package correlate matches match-object fields to entity columns.
//
// Select and delete join on every field the match object shares with the
// entity. Update joins on the primary key only and assigns the remaining
// shared fields; key columns are never assigned.
package correlate

import (
	"fmt"
	"strings"

	"github.com/roach88/sqlbulk/internal/schema"
	"github.com/roach88/sqlbulk/internal/shape"
)

// Pair links one destination column to one staging column.
type Pair struct {
	Property string // entity property name
	Column   string // destination column
	Staging  string // staging column (match field name)
}

// Correlation is the resolved join (and, for updates, assignment) of one operation.
type Correlation struct {
	Join   []Pair
	Assign []Pair
}

// Error reports a match object that cannot be correlated with its entity.
type Error struct {
	Entity  string
	Match   string
	Message string
}

func (e *Error) Error() string {
	return fmt.Sprintf("correlate %s with %s: %s", e.Match, e.Entity, e.Message)
}

// ForMatch correlates a match object for select and delete: every match field
// that resolves to an entity property joins, in match-object order.
func ForMatch(m *schema.Mapping, s *shape.Shape) (*Correlation, error) {
	pairs := intersect(m, s)
	if len(pairs) == 0 {
		return nil, newError(m, s, "no match field corresponds to an entity property")
	}
	return &Correlation{Join: pairs}, nil
}

// ForUpdate correlates a match object for update. Every primary-key property
// must be present; the join uses only those, and the remaining shared fields
// become the assignment.
func ForUpdate(m *schema.Mapping, s *shape.Shape) (*Correlation, error) {
	pairs := intersect(m, s)
	if len(pairs) == 0 {
		return nil, newError(m, s, "no match field corresponds to an entity property")
	}

	byProperty := make(map[string]Pair, len(pairs))
	for _, p := range pairs {
		byProperty[p.Property] = p
	}

	c := &Correlation{}
	var missing []string
	for _, key := range m.ResolvePrimaryKeyProperties() {
		p, ok := byProperty[key]
		if !ok {
			missing = append(missing, key)
			continue
		}
		c.Join = append(c.Join, p)
	}
	if len(missing) > 0 {
		return nil, newError(m, s, "update match is missing primary key "+strings.Join(missing, ", "))
	}

	for _, p := range pairs {
		if prop, _ := m.Property(p.Property); prop.PrimaryKey {
			continue
		}
		c.Assign = append(c.Assign, p)
	}
	if len(c.Assign) == 0 {
		return nil, newError(m, s, "update match has no non-key field to assign")
	}
	return c, nil
}

// StagingColumns returns the match fields the correlation reads, in first-use order.
func (c *Correlation) StagingColumns() []string {
	var cols []string
	seen := make(map[string]bool)
	for _, group := range [][]Pair{c.Join, c.Assign} {
		for _, p := range group {
			if !seen[p.Staging] {
				seen[p.Staging] = true
				cols = append(cols, p.Staging)
			}
		}
	}
	return cols
}

// intersect resolves each match field to a property, keeping the first field
// that names a given property.
func intersect(m *schema.Mapping, s *shape.Shape) []Pair {
	var pairs []Pair
	seen := make(map[string]bool)
	for _, f := range s.Fields {
		prop, ok := m.Lookup(f.Name)
		if !ok || seen[prop.Name] {
			continue
		}
		seen[prop.Name] = true
		pairs = append(pairs, Pair{Property: prop.Name, Column: prop.Column, Staging: f.Name})
	}
	return pairs
}

func newError(m *schema.Mapping, s *shape.Shape, msg string) *Error {
	match := s.Type.Name()
	if match == "" {
		match = s.Type.String()
	}
	return &Error{Entity: m.Entity(), Match: match, Message: msg}
}
