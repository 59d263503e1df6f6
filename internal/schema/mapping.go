// Package schema resolves Go entity types to their physical table layout.
//
// Mappings come from `bulk` struct tags and may be overridden by a CUE
// entity model (see LoadModel). Resolution is memoized per type for the
// lifetime of a Mapper.
//
// Entity tags:
//
//	type FamilyHome struct {
//	    ID      uuid.UUID `bulk:"HomeId,pk"`
//	    Name    string    `bulk:"Home_Name"`
//	    Created time.Time `bulk:",created"`
//	    Serial  int64     `bulk:",generated"`
//	    Scratch string    `bulk:"-"`
//	    Father  *Person   `bulk:"ref=FatherID"`   // belongs-to relation
//	    Links   []Link    `bulk:"fk=HomeID"`      // has-many relation
//	}
package schema

import (
	"fmt"
	"reflect"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"

	"github.com/roach88/sqlbulk/internal/shape"
)

// Property is one persisted field of an entity.
type Property struct {
	Name       string // Go field name (logical property name)
	Column     string // physical column name
	Index      []int
	Kind       shape.Kind
	Nullable   bool
	PrimaryKey bool
	Generated  bool // assigned by the store, never inserted
	Created    bool // creation timestamp used by create-and-return
}

// RelationKind distinguishes the two supported relation directions.
type RelationKind int

const (
	// BelongsTo is a pointer field loaded by matching a local foreign key to the target's key.
	BelongsTo RelationKind = iota + 1
	// HasMany is a slice field loaded by matching the local key to a foreign key on the target.
	HasMany
)

// Relation is a navigable field that can be eager-loaded.
type Relation struct {
	Name   string
	Kind   RelationKind
	Target reflect.Type
	Index  []int
	Local  string // property on the owning entity
	Remote string // property on the target entity
}

// Mapping is the resolved layout of one entity type.
type Mapping struct {
	Type       reflect.Type
	Table      string
	Properties []Property
	Relations  []Relation

	byName   map[string]int
	byColumn map[string]int
	byFolded map[string]int
}

// Entity returns the Go type name used in diagnostics.
func (m *Mapping) Entity() string {
	return m.Type.Name()
}

// ResolveTableName returns the physical table name.
func (m *Mapping) ResolveTableName() string {
	return m.Table
}

// ResolvePropertyColumns returns physical column → logical property.
func (m *Mapping) ResolvePropertyColumns() map[string]string {
	out := make(map[string]string, len(m.Properties))
	for _, p := range m.Properties {
		out[p.Column] = p.Name
	}
	return out
}

// ResolvePrimaryKeyProperties returns the key properties in key order.
func (m *Mapping) ResolvePrimaryKeyProperties() []string {
	var keys []string
	for _, p := range m.Properties {
		if p.PrimaryKey {
			keys = append(keys, p.Name)
		}
	}
	return keys
}

// Property returns the property with the exact logical name.
func (m *Mapping) Property(name string) (Property, bool) {
	i, ok := m.byName[name]
	if !ok {
		return Property{}, false
	}
	return m.Properties[i], true
}

// Lookup resolves a name that may be either a property name or a physical
// column name. Exact matches win; otherwise names are compared case-folded
// after NFC normalization.
func (m *Mapping) Lookup(name string) (Property, bool) {
	if i, ok := m.byName[name]; ok {
		return m.Properties[i], true
	}
	if i, ok := m.byColumn[name]; ok {
		return m.Properties[i], true
	}
	if i, ok := m.byFolded[Fold(name)]; ok {
		return m.Properties[i], true
	}
	return Property{}, false
}

// Relation returns the relation with the given field name.
func (m *Mapping) Relation(name string) (Relation, bool) {
	for _, r := range m.Relations {
		if r.Name == name {
			return r, true
		}
	}
	return Relation{}, false
}

// Insertable returns the properties written by a create, in declaration order.
func (m *Mapping) Insertable() []Property {
	out := make([]Property, 0, len(m.Properties))
	for _, p := range m.Properties {
		if !p.Generated {
			out = append(out, p)
		}
	}
	return out
}

// CreatedProperty returns the creation-timestamp property.
func (m *Mapping) CreatedProperty() (Property, bool) {
	for _, p := range m.Properties {
		if p.Created {
			return p, true
		}
	}
	return Property{}, false
}

// Columns returns the physical column names of props.
func Columns(props []Property) []string {
	cols := make([]string, len(props))
	for i, p := range props {
		cols[i] = p.Column
	}
	return cols
}

// Values extracts the given properties from an entity value.
func Values(v reflect.Value, props []Property) []any {
	row := make([]any, len(props))
	for i, p := range props {
		row[i] = shape.Value(v.FieldByIndex(p.Index))
	}
	return row
}

// Fold is the identifier-matching rule used for loose name comparison.
func Fold(name string) string {
	return cases.Fold().String(norm.NFC.String(name))
}

func (m *Mapping) index() {
	m.byName = make(map[string]int, len(m.Properties))
	m.byColumn = make(map[string]int, len(m.Properties))
	m.byFolded = make(map[string]int, 2*len(m.Properties))
	for i, p := range m.Properties {
		m.byName[p.Name] = i
		m.byColumn[p.Column] = i
	}
	// Folded keys only fill gaps; the first property to claim a folded name keeps it.
	for i, p := range m.Properties {
		for _, key := range []string{Fold(p.Name), Fold(p.Column)} {
			if _, taken := m.byFolded[key]; !taken {
				m.byFolded[key] = i
			}
		}
	}
}

type fieldTag struct {
	column    string
	skip      bool
	pk        bool
	generated bool
	created   bool
	ref       string
	fk        string
}

func parseFieldTag(sf reflect.StructField) fieldTag {
	tag, ok := sf.Tag.Lookup("bulk")
	if !ok {
		return fieldTag{column: sf.Name}
	}
	parts := strings.Split(tag, ",")
	ft := fieldTag{column: parts[0]}
	for _, opt := range parts[1:] {
		key, value, _ := strings.Cut(strings.TrimSpace(opt), "=")
		switch key {
		case "pk":
			ft.pk = true
		case "generated":
			ft.generated = true
		case "created":
			ft.created = true
		case "ref":
			ft.ref = value
		case "fk":
			ft.fk = value
		}
	}
	if strings.HasPrefix(ft.column, "ref=") || strings.HasPrefix(ft.column, "fk=") {
		key, value, _ := strings.Cut(ft.column, "=")
		if key == "ref" {
			ft.ref = value
		} else {
			ft.fk = value
		}
		ft.column = ""
	}
	if ft.column == "-" && ft.ref == "" && ft.fk == "" {
		ft.skip = true
	}
	if ft.column == "" || ft.column == "-" {
		ft.column = sf.Name
	}
	return ft
}

// build derives a mapping from struct tags. The table name is filled in by the Mapper.
func build(t reflect.Type) (*Mapping, error) {
	if t.Kind() != reflect.Struct {
		return nil, &ResolutionError{Entity: t.String(), Message: "entity type must be a struct"}
	}

	m := &Mapping{Type: t}
	for _, sf := range reflect.VisibleFields(t) {
		if sf.Anonymous || !sf.IsExported() {
			continue
		}
		ft := parseFieldTag(sf)
		if ft.skip {
			continue
		}
		if ft.ref != "" || ft.fk != "" {
			rel, err := buildRelation(t, sf, ft)
			if err != nil {
				return nil, err
			}
			m.Relations = append(m.Relations, rel)
			continue
		}
		kind, nullable, err := shape.KindOf(sf.Type)
		if err != nil {
			return nil, &ResolutionError{
				Entity:  t.Name(),
				Message: fmt.Sprintf("field %s: %v", sf.Name, err),
			}
		}
		m.Properties = append(m.Properties, Property{
			Name:       sf.Name,
			Column:     ft.column,
			Index:      sf.Index,
			Kind:       kind,
			Nullable:   nullable,
			PrimaryKey: ft.pk,
			Generated:  ft.generated,
			Created:    ft.created,
		})
	}
	if len(m.Properties) == 0 {
		return nil, &ResolutionError{Entity: t.Name(), Message: "no persisted fields"}
	}
	return m, nil
}

func buildRelation(owner reflect.Type, sf reflect.StructField, ft fieldTag) (Relation, error) {
	rel := Relation{Name: sf.Name, Index: sf.Index}
	switch {
	case ft.ref != "" && sf.Type.Kind() == reflect.Pointer && sf.Type.Elem().Kind() == reflect.Struct:
		rel.Kind = BelongsTo
		rel.Target = sf.Type.Elem()
		rel.Local = ft.ref
	case ft.fk != "" && sf.Type.Kind() == reflect.Slice && sf.Type.Elem().Kind() == reflect.Struct:
		rel.Kind = HasMany
		rel.Target = sf.Type.Elem()
		rel.Remote = ft.fk
	default:
		return Relation{}, &ResolutionError{
			Entity:  owner.Name(),
			Message: fmt.Sprintf("relation %s: ref= needs a pointer to struct, fk= needs a slice of struct", sf.Name),
		}
	}
	return rel, nil
}

// finish validates the mapping and fills relation keys that depend on other mappings.
func (m *Mapping) finish() error {
	m.index()

	seen := make(map[string]string, len(m.Properties))
	for _, p := range m.Properties {
		if prev, dup := seen[p.Column]; dup {
			return &ResolutionError{
				Entity:  m.Entity(),
				Message: fmt.Sprintf("properties %s and %s both map to column %q", prev, p.Name, p.Column),
			}
		}
		seen[p.Column] = p.Name
	}

	if len(m.ResolvePrimaryKeyProperties()) == 0 {
		return &ResolutionError{Entity: m.Entity(), Message: "no primary key property"}
	}
	if created, ok := m.CreatedProperty(); ok && created.Kind != shape.KindTime {
		return &ResolutionError{
			Entity:  m.Entity(),
			Message: fmt.Sprintf("created property %s must be a time", created.Name),
		}
	}
	for i, rel := range m.Relations {
		if rel.Kind == BelongsTo {
			if _, ok := m.Property(rel.Local); !ok {
				return &ResolutionError{
					Entity:  m.Entity(),
					Message: fmt.Sprintf("relation %s: unknown local property %q", rel.Name, rel.Local),
				}
			}
			continue
		}
		keys := m.ResolvePrimaryKeyProperties()
		if len(keys) != 1 {
			return &ResolutionError{
				Entity:  m.Entity(),
				Message: fmt.Sprintf("relation %s: has-many needs a single-column key", rel.Name),
			}
		}
		m.Relations[i].Local = keys[0]
	}
	return nil
}
