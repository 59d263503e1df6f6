package schema

import (
	"fmt"
	"os"
	"path/filepath"
	"slices"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/cue/errors"
	"cuelang.org/go/cue/load"
	"cuelang.org/go/cue/token"
)

// ModelEntity is the CUE overlay for one entity type, keyed by Go type name.
//
//	entity: FamilyHome: {
//	    table: "FamilyHomes"
//	    key: ["ID"]
//	    columns: {ID: "HomeId", Name: "Home_Name"}
//	    generated: []
//	    created: "CreatedDate"
//	}
type ModelEntity struct {
	Name      string
	Table     string
	Key       []string
	Columns   map[string]string
	Generated []string
	Created   string
	Pos       token.Pos
}

// ModelError reports a malformed entity model.
type ModelError struct {
	Field   string
	Message string
	Pos     token.Pos
}

func (e *ModelError) Error() string {
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: %s: %s", e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(), e.Field, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// LoadModel reads a CUE entity model from a file or directory and overlays it
// on tag-derived mappings. Previously resolved mappings are discarded.
func (m *Mapper) LoadModel(path string) ([]ModelEntity, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, &ModelError{Field: "model", Message: fmt.Sprintf("model not found: %v", err)}
	}

	cfg := &load.Config{Dir: path}
	args := []string{"."}
	if !info.IsDir() {
		cfg.Dir = filepath.Dir(path)
		args = []string{filepath.Base(path)}
	}

	instances := load.Instances(args, cfg)
	if len(instances) == 0 {
		return nil, &ModelError{Field: "model", Message: "no CUE instances loaded"}
	}
	if inst := instances[0]; inst.Err != nil {
		return nil, &ModelError{Field: "model", Message: fmt.Sprintf("loading CUE files: %v", inst.Err)}
	}

	value := cuecontext.New().BuildInstance(instances[0])
	return m.loadValue(value)
}

// LoadModelSource compiles a CUE entity model from memory.
func (m *Mapper) LoadModelSource(filename string, src []byte) ([]ModelEntity, error) {
	value := cuecontext.New().CompileBytes(src, cue.Filename(filename))
	return m.loadValue(value)
}

func (m *Mapper) loadValue(value cue.Value) ([]ModelEntity, error) {
	if err := value.Err(); err != nil {
		return nil, formatCUEError(err)
	}

	entitiesVal := value.LookupPath(cue.ParsePath("entity"))
	if !entitiesVal.Exists() {
		return nil, &ModelError{Field: "entity", Message: "no entity definitions", Pos: value.Pos()}
	}
	iter, err := entitiesVal.Fields()
	if err != nil {
		return nil, formatCUEError(err)
	}

	var entities []ModelEntity
	for iter.Next() {
		entity, err := compileEntity(iter.Label(), iter.Value())
		if err != nil {
			return nil, err
		}
		entities = append(entities, *entity)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range entities {
		m.models[e.Name] = e
	}
	clear(m.cache)
	return entities, nil
}

func compileEntity(name string, v cue.Value) (*ModelEntity, error) {
	e := &ModelEntity{Name: name, Pos: v.Pos(), Columns: map[string]string{}}

	var err error
	if e.Table, err = optionalString(v, "table"); err != nil {
		return nil, err
	}
	if e.Created, err = optionalString(v, "created"); err != nil {
		return nil, err
	}
	if e.Key, err = optionalList(v, "key"); err != nil {
		return nil, err
	}
	if e.Generated, err = optionalList(v, "generated"); err != nil {
		return nil, err
	}

	colsVal := v.LookupPath(cue.ParsePath("columns"))
	if colsVal.Exists() {
		iter, err := colsVal.Fields()
		if err != nil {
			return nil, formatCUEError(err)
		}
		for iter.Next() {
			col, err := iter.Value().String()
			if err != nil {
				return nil, &ModelError{
					Field:   "columns." + iter.Label(),
					Message: "column name must be a string",
					Pos:     iter.Value().Pos(),
				}
			}
			e.Columns[iter.Label()] = col
		}
	}
	return e, nil
}

func optionalString(v cue.Value, field string) (string, error) {
	fv := v.LookupPath(cue.ParsePath(field))
	if !fv.Exists() {
		return "", nil
	}
	s, err := fv.String()
	if err != nil {
		return "", &ModelError{Field: field, Message: "must be a string", Pos: fv.Pos()}
	}
	return s, nil
}

func optionalList(v cue.Value, field string) ([]string, error) {
	fv := v.LookupPath(cue.ParsePath(field))
	if !fv.Exists() {
		return nil, nil
	}
	iter, err := fv.List()
	if err != nil {
		return nil, &ModelError{Field: field, Message: "must be a list of property names", Pos: fv.Pos()}
	}
	var out []string
	for iter.Next() {
		s, err := iter.Value().String()
		if err != nil {
			return nil, &ModelError{Field: field, Message: "must be a list of property names", Pos: iter.Value().Pos()}
		}
		out = append(out, s)
	}
	return out, nil
}

// apply overlays the model on a tag-derived mapping.
func (e ModelEntity) apply(m *Mapping) error {
	find := func(name string) (int, error) {
		for i, p := range m.Properties {
			if p.Name == name {
				return i, nil
			}
		}
		return -1, &ResolutionError{
			Entity:  e.Name,
			Message: fmt.Sprintf("model names unknown property %q", name),
			Pos:     e.Pos,
		}
	}

	for prop, col := range e.Columns {
		i, err := find(prop)
		if err != nil {
			return err
		}
		m.Properties[i].Column = col
	}
	if len(e.Key) > 0 {
		for i := range m.Properties {
			m.Properties[i].PrimaryKey = false
		}
		// Key order follows the model, so reorder keyed properties to match.
		var keys []string
		for _, name := range e.Key {
			if _, err := find(name); err != nil {
				return err
			}
			if !slices.Contains(keys, name) {
				keys = append(keys, name)
			}
		}
		m.Properties = reorderKeys(m.Properties, keys)
	}
	for _, name := range e.Generated {
		i, err := find(name)
		if err != nil {
			return err
		}
		m.Properties[i].Generated = true
	}
	if e.Created != "" {
		i, err := find(e.Created)
		if err != nil {
			return err
		}
		for j := range m.Properties {
			m.Properties[j].Created = false
		}
		m.Properties[i].Created = true
	}
	return nil
}

// reorderKeys marks keys as primary and moves them, in key order, to the
// positions the keyed properties already occupied.
func reorderKeys(props []Property, keys []string) []Property {
	isKey := make(map[string]bool, len(keys))
	for _, k := range keys {
		isKey[k] = true
	}
	byName := make(map[string]Property, len(props))
	var slots []int
	for i, p := range props {
		byName[p.Name] = p
		if isKey[p.Name] {
			slots = append(slots, i)
		}
	}
	out := slices.Clone(props)
	for n, slot := range slots {
		p := byName[keys[n]]
		p.PrimaryKey = true
		out[slot] = p
	}
	return out
}

// formatCUEError converts the first CUE error to a ModelError with position info.
func formatCUEError(err error) error {
	errs := errors.Errors(err)
	if len(errs) == 0 {
		return &ModelError{Field: "model", Message: err.Error()}
	}
	first := errs[0]
	var pos token.Pos
	if positions := errors.Positions(first); len(positions) > 0 {
		pos = positions[0]
	}
	return &ModelError{Field: "cue", Message: first.Error(), Pos: pos}
}
