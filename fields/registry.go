package fields

import (
	"fmt"
	"sort"
	"strings"
)

// Registry is the immutable set of field specs known to the adapter.
type Registry struct {
	specs   map[Identifier]*Spec
	all     []Identifier
	queried []Identifier
}

// NewRegistry validates specs and builds a registry from them.
func NewRegistry(specs ...Spec) (*Registry, error) {
	r := &Registry{
		specs: make(map[Identifier]*Spec, len(specs)),
	}
	paths := make(map[string]Identifier, len(specs))

	for i := range specs {
		spec := specs[i]
		if err := spec.validate(); err != nil {
			return nil, err
		}
		if _, exists := r.specs[spec.ID]; exists {
			return nil, fmt.Errorf("duplicate field %s", spec.ID)
		}
		// "a.b" and "a/b" are the same request path
		path := strings.ReplaceAll(string(spec.ID), ".", "/")
		if other, exists := paths[path]; exists {
			return nil, fmt.Errorf("field %s has the same path as %s", spec.ID, other)
		}
		paths[path] = spec.ID
		r.specs[spec.ID] = &spec
		r.all = append(r.all, spec.ID)
		if !spec.Derived() {
			r.queried = append(r.queried, spec.ID)
		}
	}

	sortIdentifiers(r.all)
	sortIdentifiers(r.queried)
	return r, nil
}

// Resolve returns the spec for id.
func (r *Registry) Resolve(id Identifier) (*Spec, error) {
	spec, ok := r.specs[id]
	if !ok {
		return nil, &UnknownFieldError{ID: id}
	}
	return spec, nil
}

// All returns every identifier in lexicographic order.
func (r *Registry) All() []Identifier {
	out := make([]Identifier, len(r.all))
	copy(out, r.all)
	return out
}

// Queried returns the identifiers read from the telemetry tool, in the order
// they are requested from it.
func (r *Registry) Queried() []Identifier {
	out := make([]Identifier, len(r.queried))
	copy(out, r.queried)
	return out
}

// Len returns the number of registered fields.
func (r *Registry) Len() int {
	return len(r.all)
}

func sortIdentifiers(ids []Identifier) {
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
}
