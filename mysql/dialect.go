// Package mysql implements the storage and migration dialect for MariaDB and
// MySQL. It generates the DDL for derived table schemas, renders migration
// steps, and introspects the live schema through information_schema.
package mysql

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/anvil-works/protostore/core/migrate"
	"github.com/anvil-works/protostore/core/schema"
	"github.com/anvil-works/protostore/core/storage"

	_ "github.com/go-sql-driver/mysql"
)

// keyTextLength bounds text primary-key and indexed columns; MariaDB cannot
// index an unbounded TEXT column.
const keyTextLength = 191

// Dialect is the MariaDB/MySQL implementation of the storage and migration
// dialects.
type Dialect struct{}

var _ storage.Dialect = (*Dialect)(nil)
var _ migrate.Dialect = (*Dialect)(nil)

// New returns the MariaDB/MySQL dialect.
func New() *Dialect { return &Dialect{} }

// QuoteIdentifier safely quotes a table or column name.
func (d *Dialect) QuoteIdentifier(name string) string {
	return "`" + strings.ReplaceAll(name, "`", "``") + "`"
}

// Placeholder returns the parameter placeholder; the mysql driver uses
// positional "?".
func (d *Dialect) Placeholder(int) string { return "?" }

// ColumnType maps a semantic type to its MariaDB column type. Enumerated
// columns use the native ENUM type; text columns that participate in the
// primary key become bounded VARCHAR so they are indexable.
func (d *Dialect) ColumnType(col migrate.ColumnSchema) string {
	switch col.Type {
	case schema.TypeInteger:
		return "BIGINT"
	case schema.TypeFloat:
		return "DOUBLE"
	case schema.TypeText:
		if col.PrimaryKey {
			return fmt.Sprintf("VARCHAR(%d)", keyTextLength)
		}
		return "TEXT"
	case schema.TypeEnumerated:
		quoted := make([]string, len(col.Values))
		for i, v := range col.Values {
			quoted[i] = "'" + strings.ReplaceAll(v, "'", "''") + "'"
		}
		return "ENUM(" + strings.Join(quoted, ", ") + ")"
	case schema.TypeBoolean:
		return "TINYINT(1)"
	case schema.TypeTimestamp:
		return "DATETIME(6)"
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
		statements = append(statements, d.createIndexSQL(t.Name, t, idx.Name, idx.Fields, idx.Unique))
	}
	return statements, nil
}

// StepSQL renders the DDL for one migration step.
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
		def, err := d.columnDefinition(*step.Column)
		if err != nil {
			return nil, err
		}
		return []string{fmt.Sprintf("ALTER TABLE %s MODIFY COLUMN %s;", table, def)}, nil
	case migrate.StepAddIndex, migrate.StepAlterConstraint:
		return []string{d.createIndexSQL(step.Table, nil, step.Index.Name, step.Index.Fields, step.Index.Unique)}, nil
	default:
		return nil, fmt.Errorf("unsupported migration step %q", step.Kind)
	}
}

func (d *Dialect) columnDefinition(col migrate.ColumnSchema) (string, error) {
	parts := []string{d.QuoteIdentifier(col.Name), d.ColumnType(col)}
	if !col.Nullable {
		parts = append(parts, "NOT NULL")
	}
	if col.Default != nil {
		def, err := formatDefault(col.Default)
		if err != nil {
			return "", fmt.Errorf("column %s: %w", col.Name, err)
		}
		parts = append(parts, "DEFAULT "+def)
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

func (d *Dialect) createIndexSQL(tableName string, t *migrate.TableSchema, name string, fields []string, unique bool) string {
	var sb strings.Builder
	sb.WriteString("CREATE ")
	if unique {
		sb.WriteString("UNIQUE ")
	}
	sb.WriteString("INDEX ")
	if name == "" {
		name = fmt.Sprintf("idx_%s_%s", tableName, strings.Join(fields, "_"))
	}
	sb.WriteString(d.QuoteIdentifier(name))
	sb.WriteString(" ON ")
	sb.WriteString(d.QuoteIdentifier(tableName))

	quoted := make([]string, len(fields))
	for i, f := range fields {
		quoted[i] = d.QuoteIdentifier(f)
		// Unbounded TEXT columns need a prefix length to be indexable.
		if t != nil {
			if col, ok := t.Column(f); ok && col.Type == schema.TypeText && !col.PrimaryKey {
				quoted[i] = fmt.Sprintf("%s(%d)", quoted[i], keyTextLength)
			}
		}
	}
	sb.WriteString(" (" + strings.Join(quoted, ", ") + ");")
	return sb.String()
}

// Introspect reads the live schema of every table in the current database
// through information_schema.
func (d *Dialect) Introspect(ctx context.Context, db *sql.DB) (migrate.LiveSchema, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT TABLE_NAME, COLUMN_NAME, DATA_TYPE, COLUMN_TYPE, IS_NULLABLE, COLUMN_DEFAULT, COLUMN_KEY
		FROM information_schema.COLUMNS
		WHERE TABLE_SCHEMA = DATABASE()
		ORDER BY TABLE_NAME, ORDINAL_POSITION;`)
	if err != nil {
		return nil, fmt.Errorf("failed to introspect columns: %w", err)
	}
	defer rows.Close()

	live := make(migrate.LiveSchema)
	for rows.Next() {
		var tableName, colName, dataType, columnType, isNullable, columnKey string
		var columnDefault sql.NullString
		if err := rows.Scan(&tableName, &colName, &dataType, &columnType, &isNullable, &columnDefault, &columnKey); err != nil {
			return nil, err
		}

		table, ok := live[tableName]
		if !ok {
			table = &migrate.TableSchema{Name: tableName}
			live[tableName] = table
		}

		col := migrate.ColumnSchema{
			Name:       colName,
			Type:       semanticType(dataType, columnType),
			Nullable:   isNullable == "YES",
			PrimaryKey: columnKey == "PRI",
		}
		if col.Type == schema.TypeEnumerated {
			col.Values = enumValues(columnType)
		}
		if columnDefault.Valid {
			col.Default = columnDefault.String
		}
		table.Columns = append(table.Columns, col)
		if col.PrimaryKey {
			table.PrimaryKey = append(table.PrimaryKey, colName)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if err := d.introspectIndexes(ctx, db, live); err != nil {
		return nil, err
	}
	return live, nil
}

func (d *Dialect) introspectIndexes(ctx context.Context, db *sql.DB, live migrate.LiveSchema) error {
	rows, err := db.QueryContext(ctx, `
		SELECT TABLE_NAME, INDEX_NAME, NON_UNIQUE, COLUMN_NAME
		FROM information_schema.STATISTICS
		WHERE TABLE_SCHEMA = DATABASE() AND INDEX_NAME <> 'PRIMARY'
		ORDER BY TABLE_NAME, INDEX_NAME, SEQ_IN_INDEX;`)
	if err != nil {
		return fmt.Errorf("failed to introspect indexes: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var tableName, indexName, colName string
		var nonUnique int
		if err := rows.Scan(&tableName, &indexName, &nonUnique, &colName); err != nil {
			return err
		}
		table, ok := live[tableName]
		if !ok {
			continue
		}

		found := false
		for i := range table.Indexes {
			if table.Indexes[i].Name == indexName {
				table.Indexes[i].Fields = append(table.Indexes[i].Fields, colName)
				found = true
				break
			}
		}
		if !found {
			table.Indexes = append(table.Indexes, schema.IndexSpec{
				Name:   indexName,
				Fields: []string{colName},
				Unique: nonUnique == 0,
			})
		}
	}
	return rows.Err()
}

func semanticType(dataType, columnType string) schema.SemanticType {
	switch strings.ToLower(dataType) {
	case "tinyint":
		if strings.HasPrefix(strings.ToLower(columnType), "tinyint(1)") {
			return schema.TypeBoolean
		}
		return schema.TypeInteger
	case "bigint", "int", "mediumint", "smallint":
		return schema.TypeInteger
	case "double", "float", "decimal":
		return schema.TypeFloat
	case "varchar", "char", "text", "tinytext", "mediumtext", "longtext":
		return schema.TypeText
	case "enum":
		return schema.TypeEnumerated
	case "datetime", "timestamp", "date":
		return schema.TypeTimestamp
	default:
		return schema.TypeBinary
	}
}

// enumValues parses the value set out of a COLUMN_TYPE like "enum('a','b')".
func enumValues(columnType string) []string {
	open := strings.Index(columnType, "(")
	closeIdx := strings.LastIndex(columnType, ")")
	if open < 0 || closeIdx < open {
		return nil
	}
	var values []string
	for _, part := range strings.Split(columnType[open+1:closeIdx], ",") {
		part = strings.TrimSpace(part)
		part = strings.Trim(part, "'")
		values = append(values, strings.ReplaceAll(part, "''", "'"))
	}
	return values
}
