package importer

import (
	"errors"
	"fmt"
	"sort"
)

// ErrUnknownEntity is returned when no entity is registered under a name.
var ErrUnknownEntity = errors.New("unknown import entity")

// Registry holds the importable entities, keyed by name.
type Registry struct {
	entities map[string]Entity
}

// NewRegistry validates and registers entities.
func NewRegistry(entities ...Entity) (*Registry, error) {
	r := &Registry{entities: make(map[string]Entity, len(entities))}
	for _, e := range entities {
		if err := validateEntity(e); err != nil {
			return nil, err
		}
		if _, dup := r.entities[e.Name]; dup {
			return nil, fmt.Errorf("entity %q registered twice", e.Name)
		}
		r.entities[e.Name] = e
	}
	return r, nil
}

func validateEntity(e Entity) error {
	if e.Name == "" {
		return errors.New("entity name is required")
	}
	if e.Collection == "" {
		return fmt.Errorf("entity %q: collection is required", e.Name)
	}
	if len(e.Schema) == 0 {
		return fmt.Errorf("entity %q: schema is empty", e.Name)
	}
	seen := make(map[string]bool, len(e.Schema))
	for _, f := range e.Schema {
		if f.Name == "" {
			return fmt.Errorf("entity %q: unnamed field", e.Name)
		}
		if seen[f.Name] {
			return fmt.Errorf("entity %q: field %q declared twice", e.Name, f.Name)
		}
		seen[f.Name] = true
	}
	if e.Key == nil {
		return fmt.Errorf("entity %q: natural key is required", e.Name)
	}
	if lk := e.Lookup; lk != nil {
		if lk.Collection == "" || lk.MatchField == "" || lk.LinkField == "" {
			return fmt.Errorf("entity %q: incomplete lookup", e.Name)
		}
		if !seen[lk.SourceField] {
			return fmt.Errorf("entity %q: lookup source %q is not a schema field", e.Name, lk.SourceField)
		}
		if lk.OnMissing != SkipRow && lk.OnMissing != BlankLink {
			return fmt.Errorf("entity %q: lookup has no missing-record policy", e.Name)
		}
	}
	return nil
}

// Get returns the entity registered as name.
func (r *Registry) Get(name string) (Entity, error) {
	e, ok := r.entities[name]
	if !ok {
		return Entity{}, fmt.Errorf("%w: %q", ErrUnknownEntity, name)
	}
	return e, nil
}

// All returns every entity sorted by name.
func (r *Registry) All() []Entity {
	out := make([]Entity, 0, len(r.entities))
	for _, e := range r.entities {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
