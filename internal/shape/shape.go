// Package shape derives typed column descriptors from Go struct types.
//
// A Shape is the structured descriptor of a match object: an ordered list of
// fields, each with a column name, a semantic Kind and a nullability flag. It
// is built once per struct type and then used to extract row values from any
// number of instances.
//
// Match-object tags:
//
//	type byGender struct {
//	    Gender string
//	    Home   string `bulk:"Home_Name"` // explicit staging column name
//	    Notes  string `bulk:"-"`         // not staged
//	}
package shape

import (
	"database/sql"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Kind is the semantic type of a field, independent of any SQL dialect.
type Kind int

const (
	KindInvalid Kind = iota
	KindBool
	KindInt8
	KindInt16
	KindInt32
	KindInt64
	KindFloat32
	KindFloat64
	KindText
	KindTime
	KindUUID
	KindBytes
)

var kindNames = map[Kind]string{
	KindBool:    "bool",
	KindInt8:    "int8",
	KindInt16:   "int16",
	KindInt32:   "int32",
	KindInt64:   "int64",
	KindFloat32: "float32",
	KindFloat64: "float64",
	KindText:    "text",
	KindTime:    "time",
	KindUUID:    "uuid",
	KindBytes:   "bytes",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// Field describes one column-bearing struct field.
type Field struct {
	Name     string // column name (tag override or Go field name)
	GoName   string // Go field name
	Index    []int  // reflect field index path
	Kind     Kind
	Nullable bool
}

// Shape is the ordered field list of a struct type.
type Shape struct {
	Type   reflect.Type
	Fields []Field
}

var (
	timeType      = reflect.TypeOf(time.Time{})
	uuidType      = reflect.TypeOf(uuid.UUID{})
	bytesType     = reflect.TypeOf([]byte(nil))
	nullableKinds = map[reflect.Type]Kind{
		reflect.TypeOf(sql.NullString{}):  KindText,
		reflect.TypeOf(sql.NullBool{}):    KindBool,
		reflect.TypeOf(sql.NullByte{}):    KindInt8,
		reflect.TypeOf(sql.NullInt16{}):   KindInt16,
		reflect.TypeOf(sql.NullInt32{}):   KindInt32,
		reflect.TypeOf(sql.NullInt64{}):   KindInt64,
		reflect.TypeOf(sql.NullFloat64{}): KindFloat64,
		reflect.TypeOf(sql.NullTime{}):    KindTime,
		reflect.TypeOf(uuid.NullUUID{}):   KindUUID,
	}
)

// KindOf maps a Go type to its semantic kind and nullability.
// Pointers, sql.Null* wrappers and uuid.NullUUID are nullable.
// Named types resolve through their underlying kind, so enum-style
// integer types map to integer columns.
func KindOf(t reflect.Type) (Kind, bool, error) {
	if k, ok := nullableKinds[t]; ok {
		return k, true, nil
	}
	if t.Kind() == reflect.Pointer {
		k, _, err := KindOf(t.Elem())
		return k, true, err
	}

	switch {
	case t == timeType:
		return KindTime, false, nil
	case t == uuidType:
		return KindUUID, false, nil
	case t == bytesType || (t.Kind() == reflect.Slice && t.Elem().Kind() == reflect.Uint8):
		return KindBytes, true, nil
	}

	switch t.Kind() {
	case reflect.Bool:
		return KindBool, false, nil
	case reflect.Int8, reflect.Uint8:
		return KindInt8, false, nil
	case reflect.Int16:
		return KindInt16, false, nil
	case reflect.Int32, reflect.Uint16:
		return KindInt32, false, nil
	case reflect.Int, reflect.Int64, reflect.Uint32, reflect.Uint, reflect.Uint64:
		return KindInt64, false, nil
	case reflect.Float32:
		return KindFloat32, false, nil
	case reflect.Float64:
		return KindFloat64, false, nil
	case reflect.String:
		return KindText, false, nil
	}
	return KindInvalid, false, fmt.Errorf("unsupported field type %s", t)
}

// Of builds the shape of a struct type (or pointer to struct).
func Of(t reflect.Type) (*Shape, error) {
	if t == nil {
		return nil, fmt.Errorf("shape of nil type")
	}
	if t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	if t.Kind() != reflect.Struct {
		return nil, fmt.Errorf("shape of %s: not a struct", t)
	}

	s := &Shape{Type: t}
	seen := make(map[string]string)
	for _, sf := range reflect.VisibleFields(t) {
		if sf.Anonymous || !sf.IsExported() {
			continue
		}
		name, skip := parseTag(sf)
		if skip {
			continue
		}
		kind, nullable, err := KindOf(sf.Type)
		if err != nil {
			return nil, fmt.Errorf("shape of %s: field %s: %w", t, sf.Name, err)
		}
		if prev, dup := seen[name]; dup {
			return nil, fmt.Errorf("shape of %s: fields %s and %s both map to %q", t, prev, sf.Name, name)
		}
		seen[name] = sf.Name
		s.Fields = append(s.Fields, Field{
			Name:     name,
			GoName:   sf.Name,
			Index:    sf.Index,
			Kind:     kind,
			Nullable: nullable,
		})
	}
	if len(s.Fields) == 0 {
		return nil, fmt.Errorf("shape of %s: no exported fields", t)
	}
	return s, nil
}

// For builds the shape of T.
func For[T any]() (*Shape, error) {
	return Of(reflect.TypeFor[T]())
}

func parseTag(sf reflect.StructField) (name string, skip bool) {
	tag, ok := sf.Tag.Lookup("bulk")
	if !ok {
		return sf.Name, false
	}
	name, _, _ = strings.Cut(tag, ",")
	if name == "-" {
		return "", true
	}
	if name == "" {
		name = sf.Name
	}
	return name, false
}

// Names returns the column names in field order.
func (s *Shape) Names() []string {
	names := make([]string, len(s.Fields))
	for i, f := range s.Fields {
		names[i] = f.Name
	}
	return names
}

// Field returns the field with the given column name.
func (s *Shape) Field(name string) (Field, bool) {
	for _, f := range s.Fields {
		if f.Name == name {
			return f, true
		}
	}
	return Field{}, false
}

// Project returns a shape restricted to the named columns, in the given order.
func (s *Shape) Project(names []string) (*Shape, error) {
	out := &Shape{Type: s.Type, Fields: make([]Field, 0, len(names))}
	for _, name := range names {
		f, ok := s.Field(name)
		if !ok {
			return nil, fmt.Errorf("shape of %s: no field %q", s.Type, name)
		}
		out.Fields = append(out.Fields, f)
	}
	return out, nil
}

// Values extracts one row from v in field order.
func (s *Shape) Values(v reflect.Value) []any {
	row := make([]any, len(s.Fields))
	for i, f := range s.Fields {
		row[i] = Value(v.FieldByIndex(f.Index))
	}
	return row
}

// NilItem returns the index of the first nil pointer in items, or -1.
func NilItem[T any](items []T) int {
	for i := range items {
		v := reflect.ValueOf(&items[i]).Elem()
		if v.Kind() == reflect.Pointer && v.IsNil() {
			return i
		}
	}
	return -1
}

// Rows extracts one row per item. Items must not be nil pointers.
func Rows[T any](s *Shape, items []T) [][]any {
	rows := make([][]any, len(items))
	for i := range items {
		v := reflect.ValueOf(&items[i]).Elem()
		if v.Kind() == reflect.Pointer {
			v = v.Elem()
		}
		rows[i] = s.Values(v)
	}
	return rows
}

// Value converts a field value into a driver argument. Nil pointers become
// untyped nil; other pointers are dereferenced. Times are converted to UTC.
func Value(fv reflect.Value) any {
	if fv.Kind() == reflect.Pointer {
		if fv.IsNil() {
			return nil
		}
		fv = fv.Elem()
	}
	return UTC(fv.Interface())
}

// UTC converts time values to UTC and returns anything else unchanged.
// SQLite keeps times as text carrying their offset, so one instant bound
// from two zones would not compare equal.
func UTC(v any) any {
	switch t := v.(type) {
	case time.Time:
		return t.UTC()
	case sql.NullTime:
		if t.Valid {
			t.Time = t.Time.UTC()
		}
		return t
	}
	return v
}
