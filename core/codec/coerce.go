package codec

import (
	"fmt"
	"math"
	"strconv"
	"time"

	"github.com/anvil-works/protostore/core/schema"
)

// Coerce converts a value into the canonical Go representation of a semantic
// type: int64, float64, string, bool, []byte, or time.Time. Conversion is
// conservative: widening (int into a float field) is accepted, narrowing
// (a fractional float into an integer field) is rejected with ErrTypeMismatch.
func Coerce(t schema.SemanticType, value any) (any, error) {
	switch t {
	case schema.TypeInteger:
		return coerceInteger(value)
	case schema.TypeFloat:
		return coerceFloat(value)
	case schema.TypeText, schema.TypeEnumerated:
		return coerceText(value)
	case schema.TypeBoolean:
		return coerceBoolean(value)
	case schema.TypeBinary:
		return coerceBinary(value)
	case schema.TypeTimestamp:
		return coerceTimestamp(value)
	default:
		return nil, fmt.Errorf("unknown semantic type %q: %w", t, ErrTypeMismatch)
	}
}

func coerceInteger(value any) (any, error) {
	switch v := value.(type) {
	case int64:
		return v, nil
	case int:
		return int64(v), nil
	case int8:
		return int64(v), nil
	case int16:
		return int64(v), nil
	case int32:
		return int64(v), nil
	case uint8:
		return int64(v), nil
	case uint16:
		return int64(v), nil
	case uint32:
		return int64(v), nil
	case uint64:
		if v > math.MaxInt64 {
			return nil, fmt.Errorf("uint64 %d overflows integer: %w", v, ErrTypeMismatch)
		}
		return int64(v), nil
	case float64:
		// Drivers hand integers back as floats; accept only whole values.
		if v != math.Trunc(v) || math.IsInf(v, 0) || math.IsNaN(v) {
			return nil, fmt.Errorf("float %v is not a whole number: %w", v, ErrTypeMismatch)
		}
		return int64(v), nil
	case []byte:
		return parseInteger(string(v))
	case string:
		return parseInteger(v)
	default:
		return nil, fmt.Errorf("cannot represent %T as integer: %w", value, ErrTypeMismatch)
	}
}

func parseInteger(s string) (any, error) {
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("%q is not an integer: %w", s, ErrTypeMismatch)
	}
	return n, nil
}

func coerceFloat(value any) (any, error) {
	switch v := value.(type) {
	case float64:
		return v, nil
	case float32:
		return float64(v), nil
	case int:
		return float64(v), nil
	case int32:
		return float64(v), nil
	case int64:
		return float64(v), nil
	case []byte:
		return parseFloat(string(v))
	case string:
		return parseFloat(v)
	default:
		return nil, fmt.Errorf("cannot represent %T as float: %w", value, ErrTypeMismatch)
	}
}

func parseFloat(s string) (any, error) {
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return nil, fmt.Errorf("%q is not a float: %w", s, ErrTypeMismatch)
	}
	return f, nil
}

func coerceText(value any) (any, error) {
	switch v := value.(type) {
	case string:
		return v, nil
	case []byte:
		return string(v), nil
	default:
		return nil, fmt.Errorf("cannot represent %T as text: %w", value, ErrTypeMismatch)
	}
}

func coerceBoolean(value any) (any, error) {
	switch v := value.(type) {
	case bool:
		return v, nil
	case int64:
		// SQLite and MariaDB both store booleans as small integers.
		switch v {
		case 0:
			return false, nil
		case 1:
			return true, nil
		}
		return nil, fmt.Errorf("integer %d is not a boolean: %w", v, ErrTypeMismatch)
	case string:
		switch v {
		case "true", "1":
			return true, nil
		case "false", "0":
			return false, nil
		}
		return nil, fmt.Errorf("%q is not a boolean: %w", v, ErrTypeMismatch)
	case []byte:
		return coerceBoolean(string(v))
	default:
		return nil, fmt.Errorf("cannot represent %T as boolean: %w", value, ErrTypeMismatch)
	}
}

func coerceBinary(value any) (any, error) {
	switch v := value.(type) {
	case []byte:
		out := make([]byte, len(v))
		copy(out, v)
		return out, nil
	case string:
		return []byte(v), nil
	default:
		return nil, fmt.Errorf("cannot represent %T as binary: %w", value, ErrTypeMismatch)
	}
}

// timestampLayouts are the textual forms accepted when a driver returns a
// timestamp column as text. Legacy MariaDB dumps use the second layout.
var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05",
	"2006-01-02",
}

func coerceTimestamp(value any) (any, error) {
	switch v := value.(type) {
	case time.Time:
		return v.UTC(), nil
	case string:
		for _, layout := range timestampLayouts {
			if ts, err := time.Parse(layout, v); err == nil {
				return ts.UTC(), nil
			}
		}
		return nil, fmt.Errorf("%q is not a timestamp: %w", v, ErrTypeMismatch)
	case []byte:
		return coerceTimestamp(string(v))
	case int64:
		return time.Unix(v, 0).UTC(), nil
	default:
		return nil, fmt.Errorf("cannot represent %T as timestamp: %w", value, ErrTypeMismatch)
	}
}

// normalize converts a raw driver value into the canonical representation for
// a field, then applies the enumerated-set check where relevant.
func normalize(f *schema.FieldSpec, raw any) (any, error) {
	coerced, err := Coerce(f.Type, raw)
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
