// Package migrate reconciles the registry's derived relational schema with the
// schema actually present in a connected database. It computes ordered
// migration plans and applies them transactionally, one record kind at a time.
package migrate

import (
	"encoding/binary"
	"fmt"
	"time"

	"github.com/anvil-works/protostore/core/schema"
	"github.com/cespare/xxhash/v2"
)

const (
	// VersionColumn is the storage-owned optimistic-concurrency counter. It is
	// part of every derived table and backfilled onto legacy tables with a
	// default of 1.
	VersionColumn = "_version"
	// KeyColumn is the synthetic primary key used when a kind declares no key
	// field of its own.
	KeyColumn = "id"
)

// ColumnSchema is the relational counterpart of a FieldSpec, plus the two
// storage-only columns the gateway owns.
type ColumnSchema struct {
	Name     string
	Type     schema.SemanticType
	Nullable bool
	Default  any
	// Values carries the closed set for enumerated columns so dialects can
	// emit CHECK constraints or native enum types.
	Values     []string
	PrimaryKey bool
}

// TableSchema describes one relational table: its columns in ordinal order,
// primary key, and secondary indexes. Derived deterministically from a
// RecordKind and never hand-authored, which is what keeps the two contracts
// from drifting.
type TableSchema struct {
	Name       string
	Columns    []ColumnSchema
	PrimaryKey []string
	Indexes    []schema.IndexSpec
}

// LiveSchema is the set of tables introspected from a connected database,
// keyed by table name.
type LiveSchema map[string]*TableSchema

// Column returns the named column, if present.
func (t *TableSchema) Column(name string) (*ColumnSchema, bool) {
	for i := range t.Columns {
		if t.Columns[i].Name == name {
			return &t.Columns[i], true
		}
	}
	return nil, false
}

// Derive maps a RecordKind onto its TableSchema. The table carries one column
// per field in ordinal order, a primary key (the declared key field, or a
// synthetic text id column), and the version column.
func Derive(kind *schema.RecordKind) *TableSchema {
	t := &TableSchema{Name: kind.Name}

	if kind.Key == "" {
		t.Columns = append(t.Columns, ColumnSchema{
			Name:       KeyColumn,
			Type:       schema.TypeText,
			PrimaryKey: true,
		})
		t.PrimaryKey = []string{KeyColumn}
	}

	for _, f := range kind.Fields {
		col := ColumnSchema{
			Name:     f.Name,
			Type:     f.Type,
			Nullable: f.Presence == schema.PresenceNullable,
			Default:  f.Default,
			Values:   f.Values,
		}
		if kind.Key == f.Name {
			col.PrimaryKey = true
			col.Nullable = false
			t.PrimaryKey = []string{f.Name}
		}
		t.Columns = append(t.Columns, col)

		if f.Indexed || f.Unique {
			t.Indexes = append(t.Indexes, schema.IndexSpec{
				Name:   fmt.Sprintf("idx_%s_%s", kind.Name, f.Name),
				Fields: []string{f.Name},
				Unique: f.Unique,
			})
		}
	}

	t.Columns = append(t.Columns, ColumnSchema{
		Name:    VersionColumn,
		Type:    schema.TypeInteger,
		Default: int64(1),
	})

	t.Indexes = append(t.Indexes, kind.Indexes...)
	return t
}

// Fingerprint returns a stable hash over the table layout, used by the
// resolver to short-circuit tables that already match their derived schema.
func (t *TableSchema) Fingerprint() uint64 {
	d := xxhash.New()
	hashString(d, t.Name)
	for _, c := range t.Columns {
		hashString(d, c.Name)
		hashString(d, string(c.Type))
		hashString(d, fmt.Sprintf("%t|%t|%s", c.Nullable, c.PrimaryKey, canonicalDefault(c.Default)))
		for _, v := range c.Values {
			hashString(d, v)
		}
	}
	for _, pk := range t.PrimaryKey {
		hashString(d, pk)
	}
	return d.Sum64()
}

func canonicalDefault(v any) string {
	switch t := v.(type) {
	case nil:
		return "~"
	case []byte:
		return fmt.Sprintf("b:%x", t)
	case time.Time:
		return "t:" + t.UTC().Format(time.RFC3339Nano)
	default:
		return fmt.Sprintf("%T:%v", t, t)
	}
}

func hashString(d *xxhash.Digest, s string) {
	var n [8]byte
	binary.LittleEndian.PutUint64(n[:], uint64(len(s)))
	d.Write(n[:])
	d.WriteString(s)
}
