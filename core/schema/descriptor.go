package schema

import (
	"fmt"

	"google.golang.org/protobuf/reflect/protoreflect"
)

// timestampFullName is the well-known wrapper mapped onto TypeTimestamp.
const timestampFullName = "google.protobuf.Timestamp"

// KindFromDescriptor derives a RecordKind from a compiled protobuf message
// descriptor. The descriptor is the canonical field source: names, types, and
// defaults all come from the wire contract, so the registry can never drift
// from the generated bindings.
//
// Only flat messages translate: repeated, map, and nested message fields
// (other than google.protobuf.Timestamp) have no relational counterpart and
// are rejected. Fields with explicit presence (proto3 optional) become
// nullable; all other scalar fields become optional-with-default carrying the
// proto default. A scalar field named "id" becomes the primary key.
func KindFromDescriptor(md protoreflect.MessageDescriptor) (*RecordKind, error) {
	kind := &RecordKind{Name: string(md.Name()), Version: 1}

	fields := md.Fields()
	for i := 0; i < fields.Len(); i++ {
		fd := fields.Get(i)
		spec, err := fieldFromDescriptor(fd)
		if err != nil {
			return nil, fmt.Errorf("message %s: %w", md.FullName(), err)
		}
		spec.Ordinal = i
		kind.Fields = append(kind.Fields, spec)
	}

	if key, ok := kind.Field("id"); ok && (key.Type == TypeText || key.Type == TypeInteger) {
		kind.Key = "id"
		key.Presence = PresenceRequired
		key.Default = nil
	}

	if err := kind.Validate(); err != nil {
		return nil, err
	}
	return kind, nil
}

// RegistryFromDescriptors builds a registry from a set of message descriptors.
func RegistryFromDescriptors(mds ...protoreflect.MessageDescriptor) (*Registry, error) {
	kinds := make([]*RecordKind, 0, len(mds))
	for _, md := range mds {
		k, err := KindFromDescriptor(md)
		if err != nil {
			return nil, err
		}
		kinds = append(kinds, k)
	}
	return NewRegistry(kinds...)
}

func fieldFromDescriptor(fd protoreflect.FieldDescriptor) (FieldSpec, error) {
	if fd.IsList() || fd.IsMap() {
		return FieldSpec{}, fmt.Errorf("field %s: repeated and map fields have no relational mapping", fd.Name())
	}

	spec := FieldSpec{Name: string(fd.Name())}

	switch fd.Kind() {
	case protoreflect.BoolKind:
		spec.Type = TypeBoolean
	case protoreflect.Int32Kind, protoreflect.Sint32Kind, protoreflect.Sfixed32Kind,
		protoreflect.Int64Kind, protoreflect.Sint64Kind, protoreflect.Sfixed64Kind,
		protoreflect.Uint32Kind, protoreflect.Fixed32Kind:
		spec.Type = TypeInteger
	case protoreflect.FloatKind, protoreflect.DoubleKind:
		spec.Type = TypeFloat
	case protoreflect.StringKind:
		spec.Type = TypeText
	case protoreflect.BytesKind:
		spec.Type = TypeBinary
	case protoreflect.EnumKind:
		spec.Type = TypeEnumerated
		values := fd.Enum().Values()
		for i := 0; i < values.Len(); i++ {
			spec.Values = append(spec.Values, string(values.Get(i).Name()))
		}
	case protoreflect.MessageKind:
		if fd.Message().FullName() != timestampFullName {
			return FieldSpec{}, fmt.Errorf("field %s: message type %s has no relational mapping", fd.Name(), fd.Message().FullName())
		}
		spec.Type = TypeTimestamp
	default:
		return FieldSpec{}, fmt.Errorf("field %s: unsupported kind %s", fd.Name(), fd.Kind())
	}

	if fd.HasPresence() {
		spec.Presence = PresenceNullable
		return spec, nil
	}

	spec.Presence = PresenceDefault
	spec.Default = defaultFromDescriptor(fd, spec.Type)
	return spec, nil
}

func defaultFromDescriptor(fd protoreflect.FieldDescriptor, t SemanticType) any {
	v := fd.Default()
	switch t {
	case TypeBoolean:
		return v.Bool()
	case TypeInteger:
		switch fd.Kind() {
		case protoreflect.Uint32Kind, protoreflect.Fixed32Kind:
			return int64(v.Uint())
		default:
			return v.Int()
		}
	case TypeFloat:
		return v.Float()
	case TypeText:
		return v.String()
	case TypeBinary:
		return v.Bytes()
	case TypeEnumerated:
		return string(fd.Enum().Values().ByNumber(v.Enum()).Name())
	default:
		return nil
	}
}
