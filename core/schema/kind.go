// Package schema defines the in-memory schema model: record kinds, their typed
// fields, and the immutable registry that holds them. Everything in this package
// is pure data and lookup; no I/O happens here.
package schema

import (
	"fmt"
	"slices"
)

// SemanticType is the storage-independent type of a field. It is deliberately a
// closed set: the migration resolver and the codec both reason about values in
// terms of these types, never in terms of driver- or dialect-specific ones.
type SemanticType string

const (
	TypeInteger    SemanticType = "integer"    // 64-bit signed integers
	TypeFloat      SemanticType = "float"      // 64-bit floating point
	TypeText       SemanticType = "text"       // Unicode text
	TypeBoolean    SemanticType = "boolean"    // True/false values
	TypeBinary     SemanticType = "binary"     // Opaque byte strings
	TypeTimestamp  SemanticType = "timestamp"  // Points in time
	TypeEnumerated SemanticType = "enumerated" // One of a closed set of string values
)

// Presence describes how a field behaves when a value is absent.
type Presence string

const (
	// PresenceRequired fields must carry a value on every record.
	PresenceRequired Presence = "required"
	// PresenceDefault fields may be absent; the declared default fills in.
	PresenceDefault Presence = "optional-default"
	// PresenceNullable fields may be absent and stay null.
	PresenceNullable Presence = "optional-nullable"
)

// FieldSpec describes one named, typed attribute of a RecordKind.
//
// Once a kind is published a field's semantic type is immutable; a type change
// requires a new field name plus a migration step. The resolver enforces this
// by refusing in-place retypes that are not registered widenings.
type FieldSpec struct {
	Name     string       `json:"name"`
	Type     SemanticType `json:"type"`
	Presence Presence     `json:"presence"`
	// Default is the declared default value for PresenceDefault fields. Its Go
	// type must match the semantic type (int64, float64, string, bool, []byte,
	// time.Time).
	Default any `json:"default,omitempty"`
	// Values is the closed value set for enumerated fields.
	Values []string `json:"values,omitempty"`
	// Ordinal is the stable column position of the field within its kind.
	Ordinal int `json:"ordinal"`
	// Indexed requests a secondary index on the backing column.
	Indexed bool `json:"indexed,omitempty"`
	// Unique requests a uniqueness constraint on the backing column.
	Unique bool `json:"unique,omitempty"`
}

// IndexSpec describes a named secondary index over one or more fields.
type IndexSpec struct {
	Name   string   `json:"name"`
	Fields []string `json:"fields"`
	Unique bool     `json:"unique,omitempty"`
}

// RecordKind is a named logical entity backed by exactly one relational table.
// Field names are unique within a kind and the field list is ordered by
// ordinal; Version is monotonically non-decreasing over the registry lifetime.
type RecordKind struct {
	Name    string `json:"name"`
	Version int    `json:"version"`
	// Key names the field used as primary key. When empty the storage layer
	// owns the key and generates synthetic identifiers.
	Key     string      `json:"key,omitempty"`
	Fields  []FieldSpec `json:"fields"`
	Indexes []IndexSpec `json:"indexes,omitempty"`
}

// Field returns the spec for a named field, if it exists.
func (k *RecordKind) Field(name string) (*FieldSpec, bool) {
	for i := range k.Fields {
		if k.Fields[i].Name == name {
			return &k.Fields[i], true
		}
	}
	return nil, false
}

// FieldNames returns the field names in ordinal order.
func (k *RecordKind) FieldNames() []string {
	names := make([]string, len(k.Fields))
	for i, f := range k.Fields {
		names[i] = f.Name
	}
	return names
}

// Validate checks the structural invariants of the kind: a non-empty name,
// unique field names, known semantic types, closed non-empty value sets on
// enumerated fields, defaults only where the presence rule allows them, and a
// key that refers to an existing field.
func (k *RecordKind) Validate() error {
	if k.Name == "" {
		return fmt.Errorf("record kind has no name")
	}
	if k.Version < 0 {
		return fmt.Errorf("kind %q: negative version %d", k.Name, k.Version)
	}
	seen := make(map[string]struct{}, len(k.Fields))
	for _, f := range k.Fields {
		if f.Name == "" {
			return fmt.Errorf("kind %q: field with empty name", k.Name)
		}
		if _, dup := seen[f.Name]; dup {
			return fmt.Errorf("kind %q: duplicate field %q", k.Name, f.Name)
		}
		seen[f.Name] = struct{}{}

		switch f.Type {
		case TypeInteger, TypeFloat, TypeText, TypeBoolean, TypeBinary, TypeTimestamp:
		case TypeEnumerated:
			if len(f.Values) == 0 {
				return fmt.Errorf("kind %q: enumerated field %q has an empty value set", k.Name, f.Name)
			}
		default:
			return fmt.Errorf("kind %q: field %q has unknown type %q", k.Name, f.Name, f.Type)
		}

		switch f.Presence {
		case PresenceRequired, PresenceNullable:
			if f.Default != nil {
				return fmt.Errorf("kind %q: field %q declares a default but its presence rule is %s", k.Name, f.Name, f.Presence)
			}
		case PresenceDefault:
			if f.Default == nil {
				return fmt.Errorf("kind %q: field %q is optional-with-default but declares no default", k.Name, f.Name)
			}
		default:
			return fmt.Errorf("kind %q: field %q has unknown presence rule %q", k.Name, f.Name, f.Presence)
		}

		if f.Type == TypeEnumerated && f.Default != nil {
			def, ok := f.Default.(string)
			if !ok || !slices.Contains(f.Values, def) {
				return fmt.Errorf("kind %q: default for enumerated field %q is outside its value set", k.Name, f.Name)
			}
		}
	}

	if k.Key != "" {
		if _, ok := seen[k.Key]; !ok {
			return fmt.Errorf("kind %q: key field %q does not exist", k.Name, k.Key)
		}
	}
	for _, idx := range k.Indexes {
		for _, fn := range idx.Fields {
			if _, ok := seen[fn]; !ok {
				return fmt.Errorf("kind %q: index %q references unknown field %q", k.Name, idx.Name, fn)
			}
		}
	}
	return nil
}
