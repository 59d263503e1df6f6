package schema

import (
	"fmt"
	"reflect"
	"slices"
	"strings"
	"sync"

	"cuelang.org/go/cue/token"
)

// ResolutionError reports an entity type that cannot be mapped to a table.
type ResolutionError struct {
	Entity  string
	Message string
	Pos     token.Pos // model position, if the problem came from a CUE model
}

func (e *ResolutionError) Error() string {
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: entity %s: %s", e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(), e.Entity, e.Message)
	}
	return fmt.Sprintf("entity %s: %s", e.Entity, e.Message)
}

// TableNamer lets an entity type name its own table.
type TableNamer interface {
	TableName() string
}

// Mapper resolves and memoizes entity mappings.
// Safe for concurrent use.
type Mapper struct {
	mu     sync.RWMutex
	tables map[reflect.Type]string
	models map[string]ModelEntity
	cache  map[reflect.Type]*Mapping
}

// NewMapper creates an empty mapper.
func NewMapper() *Mapper {
	return &Mapper{
		tables: make(map[reflect.Type]string),
		models: make(map[string]ModelEntity),
		cache:  make(map[reflect.Type]*Mapping),
	}
}

// Register maps an entity type to a table name.
func (m *Mapper) Register(t reflect.Type, table string) {
	t = indirect(t)
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tables[t] = table
	delete(m.cache, t)
}

// Register maps E to a table name.
func Register[E any](m *Mapper, table string) {
	m.Register(reflect.TypeFor[E](), table)
}

// Resolve returns the mapping for E.
func Resolve[E any](m *Mapper) (*Mapping, error) {
	return m.Resolve(reflect.TypeFor[E]())
}

// Resolve returns the memoized mapping for t, building it on first use.
func (m *Mapper) Resolve(t reflect.Type) (*Mapping, error) {
	if t == nil {
		return nil, &ResolutionError{Entity: "<nil>", Message: "no entity type"}
	}
	t = indirect(t)

	m.mu.RLock()
	cached, ok := m.cache[t]
	m.mu.RUnlock()
	if ok {
		return cached, nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if cached, ok := m.cache[t]; ok {
		return cached, nil
	}

	mapping, err := build(t)
	if err != nil {
		return nil, err
	}
	model, hasModel := m.models[t.Name()]
	if hasModel {
		if err := model.apply(mapping); err != nil {
			return nil, err
		}
	}

	mapping.Table = m.tables[t]
	if mapping.Table == "" && hasModel {
		mapping.Table = model.Table
	}
	if mapping.Table == "" {
		if namer, ok := reflect.New(t).Interface().(TableNamer); ok {
			mapping.Table = namer.TableName()
		}
	}
	if mapping.Table == "" {
		return nil, &ResolutionError{Entity: t.Name(), Message: "type is not mapped to a table"}
	}

	if err := mapping.finish(); err != nil {
		return nil, err
	}
	m.cache[t] = mapping
	return mapping, nil
}

// Types returns the registered entity types, sorted by name.
func (m *Mapper) Types() []reflect.Type {
	m.mu.RLock()
	defer m.mu.RUnlock()
	types := make([]reflect.Type, 0, len(m.tables))
	for t := range m.tables {
		types = append(types, t)
	}
	slices.SortFunc(types, func(a, b reflect.Type) int {
		return strings.Compare(a.Name(), b.Name())
	})
	return types
}

func indirect(t reflect.Type) reflect.Type {
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	return t
}
