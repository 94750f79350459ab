// Package codec implements the strict, bidirectional translation between
// records and relational rows. Both live traffic and bootstrap data pass
// through the same codec; there is no weaker second path for legacy input.
package codec

import (
	"errors"
	"fmt"

	"github.com/anvil-works/protostore/core/schema"
	"go.uber.org/zap"
)

// Row is a relational row as a mapping of column name to typed value. Column
// names are identical to field names; storage-only columns (the version
// column) are handled by the storage layer, not here.
type Row map[string]any

var (
	// ErrRequiredFieldMissing is returned when a required field has no value
	// and no default to fall back on.
	ErrRequiredFieldMissing = errors.New("required field missing")
	// ErrTypeMismatch is returned when a value cannot be represented in a
	// field's semantic type without loss. Coercion is strict: widening is
	// fine, narrowing never happens implicitly.
	ErrTypeMismatch = errors.New("value does not match field type")
	// ErrUnknownEnumValue is returned when an enumerated field carries a value
	// outside its closed set.
	ErrUnknownEnumValue = errors.New("value outside enumerated set")
)

// Codec translates between schema.Record instances and rows. It is stateless
// apart from its logger and safe for concurrent use.
type Codec struct {
	logger *zap.Logger
}

// New creates a codec. A nil logger falls back to a no-op logger.
func New(logger *zap.Logger) *Codec {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Codec{logger: logger}
}

// Encode validates a record against its kind and produces the row to persist.
// Missing optional-with-default fields are filled from their declared default,
// missing nullable fields encode as NULL, and missing required fields fail
// with ErrRequiredFieldMissing. Values are coerced strictly via Coerce.
func (c *Codec) Encode(r *schema.Record) (Row, error) {
	if r == nil || r.Kind == nil {
		return nil, fmt.Errorf("cannot encode a record without a kind")
	}

	row := make(Row, len(r.Kind.Fields))
	for i := range r.Kind.Fields {
		f := &r.Kind.Fields[i]
		value, ok := r.Values[f.Name]
		if !ok || value == nil {
			filled, err := absentValue(f)
			if err != nil {
				return nil, err
			}
			row[f.Name] = filled
			continue
		}

		coerced, err := coerceField(f, value)
		if err != nil {
			return nil, err
		}
		row[f.Name] = coerced
	}

	for name := range r.Values {
		if _, ok := r.Kind.Field(name); !ok {
			return nil, fmt.Errorf("kind %q has no field %q: %w", r.Kind.Name, name, ErrTypeMismatch)
		}
	}
	return row, nil
}

// Decode turns a row read from storage back into a record of the given kind.
// Every field of the kind is present in the result: absent optional-with-default
// columns are filled from the declared default, absent nullable columns decode
// to nil, and absent required columns fail with ErrRequiredFieldMissing.
// Columns the kind does not know are ignored; the storage layer decides what
// to do about legacy columns, not the codec.
func (c *Codec) Decode(row Row, kind *schema.RecordKind) (*schema.Record, error) {
	if kind == nil {
		return nil, fmt.Errorf("cannot decode a row without a kind")
	}

	values := make(map[string]any, len(kind.Fields))
	for i := range kind.Fields {
		f := &kind.Fields[i]
		raw, ok := row[f.Name]
		if !ok || raw == nil {
			filled, err := absentValue(f)
			if err != nil {
				return nil, err
			}
			values[f.Name] = filled
			continue
		}

		decoded, err := normalize(f, raw)
		if err != nil {
			return nil, err
		}
		values[f.Name] = decoded
	}
	return schema.NewRecord(kind, values), nil
}

// absentValue resolves the value of a field with no input, per its presence rule.
func absentValue(f *schema.FieldSpec) (any, error) {
	switch f.Presence {
	case schema.PresenceDefault:
		return f.Default, nil
	case schema.PresenceNullable:
		return nil, nil
	default:
		return nil, fmt.Errorf("field %q: %w", f.Name, ErrRequiredFieldMissing)
	}
}

func coerceField(f *schema.FieldSpec, value any) (any, error) {
	coerced, err := Coerce(f.Type, value)
	if err != nil {
		return nil, fmt.Errorf("field %q: %w", f.Name, err)
	}
	if f.Type == schema.TypeEnumerated {
		if err := checkEnum(f, coerced.(string)); err != nil {
			return nil, err
		}
	}
	return coerced, nil
}

func checkEnum(f *schema.FieldSpec, v string) error {
	for _, allowed := range f.Values {
		if v == allowed {
			return nil
		}
	}
	return fmt.Errorf("field %q: %q: %w", f.Name, v, ErrUnknownEnumValue)
}
