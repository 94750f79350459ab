package schema

import (
	"errors"
	"fmt"
	"sort"
)

// ErrUnknownKind is returned when a lookup names a kind the registry does not hold.
var ErrUnknownKind = errors.New("unknown record kind")

// Registry holds the full set of record kinds known to the process. It is
// populated once at startup from the generated wire contract and is immutable
// afterwards: schema evolution produces a new registry and an explicit
// cut-over, never in-place mutation visible to in-flight operations.
type Registry struct {
	kinds map[string]*RecordKind
	order []string
	sum   uint64
}

// NewRegistry builds a registry from the given kinds. Every kind is validated
// and kind names must be unique. The iteration order of All is by name, so
// migration planning is reproducible regardless of registration order.
func NewRegistry(kinds ...*RecordKind) (*Registry, error) {
	r := &Registry{kinds: make(map[string]*RecordKind, len(kinds))}
	for _, k := range kinds {
		if err := k.Validate(); err != nil {
			return nil, fmt.Errorf("invalid record kind: %w", err)
		}
		if _, dup := r.kinds[k.Name]; dup {
			return nil, fmt.Errorf("duplicate record kind %q", k.Name)
		}
		r.kinds[k.Name] = k
		r.order = append(r.order, k.Name)
	}
	sort.Strings(r.order)
	r.sum = registryFingerprint(r)
	return r, nil
}

// Get returns the kind with the given name, or ErrUnknownKind.
func (r *Registry) Get(name string) (*RecordKind, error) {
	k, ok := r.kinds[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, name)
	}
	return k, nil
}

// All returns every registered kind, ordered by name.
func (r *Registry) All() []*RecordKind {
	out := make([]*RecordKind, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.kinds[name])
	}
	return out
}

// Kinds returns the registered kind names, ordered.
func (r *Registry) Kinds() []string {
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}

// Len returns the number of registered kinds.
func (r *Registry) Len() int {
	return len(r.kinds)
}

// Fingerprint returns a stable hash over the whole registry layout. Two
// registries with the same kinds, fields, and field semantics share a
// fingerprint; any semantic change produces a different one.
func (r *Registry) Fingerprint() uint64 {
	return r.sum
}
