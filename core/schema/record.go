package schema

import "maps"

// Record is a concrete instance of a RecordKind: a mapping from field name to
// typed value. Records are transient; they live only for the operation that
// produced them and are always validated by the codec before persistence.
type Record struct {
	Kind   *RecordKind
	Values map[string]any
	// Version is the optimistic-concurrency version of the stored row. It is
	// populated on read and must be passed back unchanged on update.
	Version int64
}

// NewRecord creates a record of the given kind from a field-name -> value map.
// The values are not validated here; the codec does that at the persistence
// boundary.
func NewRecord(kind *RecordKind, values map[string]any) *Record {
	if values == nil {
		values = make(map[string]any)
	}
	return &Record{Kind: kind, Values: values}
}

// Get returns the value of a named field.
func (r *Record) Get(field string) (any, bool) {
	v, ok := r.Values[field]
	return v, ok
}

// Set assigns the value of a named field.
func (r *Record) Set(field string, value any) {
	r.Values[field] = value
}

// Clone returns a shallow copy of the record with its own value map.
func (r *Record) Clone() *Record {
	return &Record{Kind: r.Kind, Values: maps.Clone(r.Values), Version: r.Version}
}
