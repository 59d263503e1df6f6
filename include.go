package sqlbulk

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"fmt"
	"reflect"
	"strings"

	"github.com/roach88/sqlbulk/internal/batch"
	"github.com/roach88/sqlbulk/internal/queryir"
	"github.com/roach88/sqlbulk/internal/querysql"
	"github.com/roach88/sqlbulk/internal/schema"
	"github.com/roach88/sqlbulk/internal/shape"
)

// include loads relation paths into every element of items, a slice of m.Type.
// Targets are fetched with chunked IN lists and nested paths recurse on the
// loaded targets before they are attached.
func (r *Repository) include(ctx context.Context, conn *sql.Conn, m *schema.Mapping, items reflect.Value, paths []string) error {
	if len(paths) == 0 || items.Len() == 0 {
		return nil
	}
	nested, order := groupPaths(paths)
	for _, name := range order {
		rel, ok := m.Relation(name)
		if !ok {
			return &schema.ResolutionError{Entity: m.Entity(), Message: fmt.Sprintf("include of unknown relation %q", name)}
		}
		target, err := r.mapper.Resolve(rel.Target)
		if err != nil {
			return err
		}
		switch rel.Kind {
		case schema.BelongsTo:
			err = r.loadBelongsTo(ctx, conn, m, target, rel, items, nested[name])
		case schema.HasMany:
			err = r.loadHasMany(ctx, conn, m, target, rel, items, nested[name])
		}
		if err != nil {
			return fmt.Errorf("include %s.%s: %w", m.Entity(), name, err)
		}
	}
	return nil
}

func (r *Repository) loadBelongsTo(ctx context.Context, conn *sql.Conn, m, target *schema.Mapping, rel schema.Relation, items reflect.Value, nested []string) error {
	local, _ := m.Property(rel.Local)
	keys := target.ResolvePrimaryKeyProperties()
	if len(keys) != 1 {
		return &schema.ResolutionError{Entity: target.Entity(), Message: "belongs-to target needs a single-column key"}
	}
	remote, _ := target.Property(keys[0])

	loaded, err := r.loadByKeys(ctx, conn, target, remote, distinctKeys(items, local))
	if err != nil {
		return err
	}
	if err := r.include(ctx, conn, target, loaded, nested); err != nil {
		return err
	}

	byKey := make(map[any]int, loaded.Len())
	for j := 0; j < loaded.Len(); j++ {
		if k, ok := keyOf(loaded.Index(j).FieldByIndex(remote.Index)); ok {
			byKey[k] = j
		}
	}
	for i := 0; i < items.Len(); i++ {
		item := items.Index(i)
		k, ok := keyOf(item.FieldByIndex(local.Index))
		if !ok {
			continue
		}
		if j, found := byKey[k]; found {
			item.FieldByIndex(rel.Index).Set(loaded.Index(j).Addr())
		}
	}
	return nil
}

func (r *Repository) loadHasMany(ctx context.Context, conn *sql.Conn, m, target *schema.Mapping, rel schema.Relation, items reflect.Value, nested []string) error {
	local, _ := m.Property(rel.Local)
	remote, ok := target.Lookup(rel.Remote)
	if !ok {
		return &schema.ResolutionError{Entity: target.Entity(), Message: fmt.Sprintf("unknown foreign key property %q", rel.Remote)}
	}

	loaded, err := r.loadByKeys(ctx, conn, target, remote, distinctKeys(items, local))
	if err != nil {
		return err
	}
	if err := r.include(ctx, conn, target, loaded, nested); err != nil {
		return err
	}

	byKey := make(map[any][]int)
	for j := 0; j < loaded.Len(); j++ {
		if k, ok := keyOf(loaded.Index(j).FieldByIndex(remote.Index)); ok {
			byKey[k] = append(byKey[k], j)
		}
	}
	for i := 0; i < items.Len(); i++ {
		item := items.Index(i)
		field := item.FieldByIndex(rel.Index)
		k, _ := keyOf(item.FieldByIndex(local.Index))
		children := reflect.MakeSlice(field.Type(), 0, len(byKey[k]))
		for _, j := range byKey[k] {
			children = reflect.Append(children, loaded.Index(j))
		}
		field.Set(children)
	}
	return nil
}

// loadByKeys selects the rows of m whose key property is one of values.
func (r *Repository) loadByKeys(ctx context.Context, conn *sql.Conn, m *schema.Mapping, key schema.Property, values []any) (reflect.Value, error) {
	out := reflect.MakeSlice(reflect.SliceOf(m.Type), 0, len(values))
	for _, chunk := range batch.Split(values, r.opts.IncludeChunk) {
		part, err := r.query(ctx, conn, m, querysql.Select{
			Where:   queryir.In{Property: key.Name, Values: chunk},
			OrderBy: keyOrder(m),
		})
		if err != nil {
			return reflect.Value{}, err
		}
		out = reflect.AppendSlice(out, part)
	}
	return out, nil
}

// distinctKeys collects the non-null values of a property, first occurrence first.
func distinctKeys(items reflect.Value, p schema.Property) []any {
	seen := make(map[any]bool)
	var keys []any
	for i := 0; i < items.Len(); i++ {
		k, ok := keyOf(items.Index(i).FieldByIndex(p.Index))
		if ok && !seen[k] {
			seen[k] = true
			keys = append(keys, k)
		}
	}
	return keys
}

// keyOf normalizes a key field to a comparable driver value so keys read
// from different Go types (int32 and int64, uuid.UUID and uuid.NullUUID)
// compare equal. Nulls report false.
func keyOf(fv reflect.Value) (any, bool) {
	v := shape.Value(fv)
	if v == nil {
		return nil, false
	}
	dv, err := driver.DefaultParameterConverter.ConvertValue(v)
	if err != nil || dv == nil {
		return nil, false
	}
	if b, ok := dv.([]byte); ok {
		return string(b), true
	}
	return dv, true
}

// groupPaths splits dotted include paths by their first segment.
func groupPaths(paths []string) (map[string][]string, []string) {
	nested := make(map[string][]string)
	var order []string
	for _, path := range paths {
		head, rest, _ := strings.Cut(path, ".")
		if _, ok := nested[head]; !ok {
			order = append(order, head)
			nested[head] = nil
		}
		if rest != "" {
			nested[head] = append(nested[head], rest)
		}
	}
	return nested, order
}
