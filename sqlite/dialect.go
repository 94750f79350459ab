// Package sqlite implements the storage and migration dialect for SQLite. It
// generates the DDL for derived table schemas, renders migration steps, and
// introspects the live schema through SQLite's pragma interface.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/anvil-works/protostore/core/migrate"
	"github.com/anvil-works/protostore/core/schema"
	"github.com/anvil-works/protostore/core/storage"

	_ "github.com/mattn/go-sqlite3"
)

// Dialect is the SQLite implementation of the storage and migration dialects.
type Dialect struct{}

var _ storage.Dialect = (*Dialect)(nil)
var _ migrate.Dialect = (*Dialect)(nil)

// New returns the SQLite dialect.
func New() *Dialect { return &Dialect{} }

// QuoteIdentifier safely quotes a table or column name.
func (d *Dialect) QuoteIdentifier(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

// Placeholder returns the parameter placeholder; SQLite uses positional "?".
func (d *Dialect) Placeholder(int) string { return "?" }

// ColumnType maps a semantic type to its SQLite column type. Timestamp
// columns use the TIMESTAMP declared type so the driver hands back time.Time;
// enumerated columns are TEXT with a CHECK constraint added in the column
// definition.
func (d *Dialect) ColumnType(col migrate.ColumnSchema) string {
	switch col.Type {
	case schema.TypeInteger:
		return "INTEGER"
	case schema.TypeFloat:
		return "REAL"
	case schema.TypeText, schema.TypeEnumerated:
		return "TEXT"
	case schema.TypeBoolean:
		return "BOOLEAN"
	case schema.TypeTimestamp:
		return "TIMESTAMP"
	default:
		return "BLOB"
	}
}

// CreateTableSQL renders the DDL that creates a table and its secondary
// indexes from a derived schema.
func (d *Dialect) CreateTableSQL(t *migrate.TableSchema) ([]string, error) {
	var sb strings.Builder
	sb.WriteString("CREATE TABLE IF NOT EXISTS ")
	sb.WriteString(d.QuoteIdentifier(t.Name))
	sb.WriteString(" (\n")

	var columns []string
	for _, col := range t.Columns {
		def, err := d.columnDefinition(col)
		if err != nil {
			return nil, fmt.Errorf("table %s: %w", t.Name, err)
		}
		columns = append(columns, "    "+def)
	}
	sb.WriteString(strings.Join(columns, ",\n"))

	if len(t.PrimaryKey) > 0 {
		quoted := make([]string, len(t.PrimaryKey))
		for i, pk := range t.PrimaryKey {
			quoted[i] = d.QuoteIdentifier(pk)
		}
		sb.WriteString(",\n    PRIMARY KEY (" + strings.Join(quoted, ", ") + ")")
	}
	sb.WriteString("\n);")

	statements := []string{sb.String()}
	for _, idx := range t.Indexes {
		statements = append(statements, d.createIndexSQL(t.Name, idx.Name, idx.Fields, idx.Unique))
	}
	return statements, nil
}

// StepSQL renders the DDL for one migration step. Widening is a no-op on
// SQLite: column affinity already admits the widened representation.
func (d *Dialect) StepSQL(step migrate.Step) ([]string, error) {
	table := d.QuoteIdentifier(step.Table)
	switch step.Kind {
	case migrate.StepAddColumn:
		def, err := d.columnDefinition(*step.Column)
		if err != nil {
			return nil, err
		}
		return []string{fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s;", table, def)}, nil
	case migrate.StepDropColumn:
		return []string{fmt.Sprintf("ALTER TABLE %s DROP COLUMN %s;", table, d.QuoteIdentifier(step.Column.Name))}, nil
	case migrate.StepWidenColumn:
		return nil, nil
	case migrate.StepAddIndex, migrate.StepAlterConstraint:
		return []string{d.createIndexSQL(step.Table, step.Index.Name, step.Index.Fields, step.Index.Unique)}, nil
	default:
		return nil, fmt.Errorf("unsupported migration step %q", step.Kind)
	}
}

func (d *Dialect) columnDefinition(col migrate.ColumnSchema) (string, error) {
	parts := []string{d.QuoteIdentifier(col.Name), d.ColumnType(col)}

	if !col.Nullable && !col.PrimaryKey {
		parts = append(parts, "NOT NULL")
	}
	if col.Default != nil {
		def, err := formatDefault(col.Default)
		if err != nil {
			return "", fmt.Errorf("column %s: %w", col.Name, err)
		}
		parts = append(parts, "DEFAULT "+def)
	}
	if col.Type == schema.TypeEnumerated && len(col.Values) > 0 {
		quoted := make([]string, len(col.Values))
		for i, v := range col.Values {
			quoted[i] = "'" + strings.ReplaceAll(v, "'", "''") + "'"
		}
		parts = append(parts, fmt.Sprintf("CHECK(%s IN (%s))", d.QuoteIdentifier(col.Name), strings.Join(quoted, ", ")))
	}
	return strings.Join(parts, " "), nil
}

func formatDefault(value any) (string, error) {
	switch v := value.(type) {
	case string:
		return "'" + strings.ReplaceAll(v, "'", "''") + "'", nil
	case bool:
		if v {
			return "1", nil
		}
		return "0", nil
	case int64, int, float64:
		return fmt.Sprintf("%v", v), nil
	case []byte:
		return fmt.Sprintf("x'%x'", v), nil
	default:
		return "", fmt.Errorf("unsupported default value type %T", value)
	}
}

func (d *Dialect) createIndexSQL(table, name string, fields []string, unique bool) string {
	var sb strings.Builder
	sb.WriteString("CREATE ")
	if unique {
		sb.WriteString("UNIQUE ")
	}
	sb.WriteString("INDEX IF NOT EXISTS ")
	if name == "" {
		name = fmt.Sprintf("idx_%s_%s", table, strings.Join(fields, "_"))
	}
	sb.WriteString(d.QuoteIdentifier(name))
	sb.WriteString(" ON ")
	sb.WriteString(d.QuoteIdentifier(table))

	quoted := make([]string, len(fields))
	for i, f := range fields {
		quoted[i] = d.QuoteIdentifier(f)
	}
	sb.WriteString(" (" + strings.Join(quoted, ", ") + ");")
	return sb.String()
}

// Introspect reads the live schema of every user table through sqlite_master
// and the table_info/index_list pragmas.
func (d *Dialect) Introspect(ctx context.Context, db *sql.DB) (migrate.LiveSchema, error) {
	rows, err := db.QueryContext(ctx,
		"SELECT name FROM sqlite_master WHERE type='table' AND name NOT LIKE 'sqlite_%' ORDER BY name;")
	if err != nil {
		return nil, fmt.Errorf("failed to list tables: %w", err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		names = append(names, name)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	live := make(migrate.LiveSchema, len(names))
	for _, name := range names {
		table, err := d.introspectTable(ctx, db, name)
		if err != nil {
			return nil, err
		}
		live[name] = table
	}
	return live, nil
}

func (d *Dialect) introspectTable(ctx context.Context, db *sql.DB, name string) (*migrate.TableSchema, error) {
	table := &migrate.TableSchema{Name: name}

	rows, err := db.QueryContext(ctx, fmt.Sprintf("PRAGMA table_info(%s);", d.QuoteIdentifier(name)))
	if err != nil {
		return nil, fmt.Errorf("failed to introspect table %s: %w", name, err)
	}
	defer rows.Close()

	type pkCol struct {
		name string
		rank int
	}
	var pks []pkCol
	for rows.Next() {
		var cid, notNull, pk int
		var colName, declType string
		var dflt sql.NullString
		if err := rows.Scan(&cid, &colName, &declType, &notNull, &dflt, &pk); err != nil {
			return nil, err
		}
		col := migrate.ColumnSchema{
			Name:       colName,
			Type:       semanticType(declType),
			Nullable:   notNull == 0 && pk == 0,
			PrimaryKey: pk > 0,
		}
		if dflt.Valid {
			col.Default = parseDefault(dflt.String, col.Type)
		}
		table.Columns = append(table.Columns, col)
		if pk > 0 {
			pks = append(pks, pkCol{name: colName, rank: pk})
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for rank := 1; rank <= len(pks); rank++ {
		for _, pk := range pks {
			if pk.rank == rank {
				table.PrimaryKey = append(table.PrimaryKey, pk.name)
			}
		}
	}

	indexes, err := d.introspectIndexes(ctx, db, name)
	if err != nil {
		return nil, err
	}
	table.Indexes = indexes
	return table, nil
}

func (d *Dialect) introspectIndexes(ctx context.Context, db *sql.DB, table string) ([]schema.IndexSpec, error) {
	rows, err := db.QueryContext(ctx, fmt.Sprintf("PRAGMA index_list(%s);", d.QuoteIdentifier(table)))
	if err != nil {
		return nil, fmt.Errorf("failed to list indexes of %s: %w", table, err)
	}
	defer rows.Close()

	type indexEntry struct {
		name   string
		unique bool
	}
	var entries []indexEntry
	for rows.Next() {
		var seq, unique, partial int
		var name, origin string
		if err := rows.Scan(&seq, &name, &unique, &origin, &partial); err != nil {
			return nil, err
		}
		if origin == "pk" {
			continue
		}
		entries = append(entries, indexEntry{name: name, unique: unique == 1})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	var specs []schema.IndexSpec
	for _, entry := range entries {
		cols, err := d.indexColumns(ctx, db, entry.name)
		if err != nil {
			return nil, err
		}
		specs = append(specs, schema.IndexSpec{Name: entry.name, Fields: cols, Unique: entry.unique})
	}
	return specs, nil
}

func (d *Dialect) indexColumns(ctx context.Context, db *sql.DB, index string) ([]string, error) {
	rows, err := db.QueryContext(ctx, fmt.Sprintf("PRAGMA index_info(%s);", d.QuoteIdentifier(index)))
	if err != nil {
		return nil, fmt.Errorf("failed to introspect index %s: %w", index, err)
	}
	defer rows.Close()

	var cols []string
	for rows.Next() {
		var seqno, cid int
		var name sql.NullString
		if err := rows.Scan(&seqno, &cid, &name); err != nil {
			return nil, err
		}
		if name.Valid {
			cols = append(cols, name.String)
		}
	}
	return cols, rows.Err()
}

// semanticType maps a declared SQLite column type back to the semantic type it
// carries. The mapping follows SQLite's own affinity rules, with the declared
// types this dialect emits recognized exactly.
func semanticType(declType string) schema.SemanticType {
	t := strings.ToUpper(declType)
	switch {
	case strings.Contains(t, "BOOL"):
		return schema.TypeBoolean
	case strings.Contains(t, "TIMESTAMP"), strings.Contains(t, "DATETIME"), strings.Contains(t, "DATE"):
		return schema.TypeTimestamp
	case strings.Contains(t, "INT"):
		return schema.TypeInteger
	case strings.Contains(t, "CHAR"), strings.Contains(t, "CLOB"), strings.Contains(t, "TEXT"):
		return schema.TypeText
	case strings.Contains(t, "REAL"), strings.Contains(t, "FLOA"), strings.Contains(t, "DOUB"),
		strings.Contains(t, "DECIMAL"), strings.Contains(t, "NUMERIC"):
		return schema.TypeFloat
	default:
		return schema.TypeBinary
	}
}

func parseDefault(raw string, t schema.SemanticType) any {
	raw = strings.TrimSpace(raw)
	if strings.EqualFold(raw, "NULL") {
		return nil
	}
	if strings.HasPrefix(raw, "'") && strings.HasSuffix(raw, "'") && len(raw) >= 2 {
		return strings.ReplaceAll(raw[1:len(raw)-1], "''", "'")
	}
	switch t {
	case schema.TypeBoolean:
		return raw == "1"
	case schema.TypeFloat:
		var f float64
		fmt.Sscanf(raw, "%g", &f)
		return f
	default:
		var n int64
		if _, err := fmt.Sscanf(raw, "%d", &n); err == nil {
			return n
		}
		return raw
	}
}
