package mysql

import (
	"testing"

	"github.com/anvil-works/protostore/core/migrate"
	"github.com/anvil-works/protostore/core/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDialect_ColumnType(t *testing.T) {
	d := New()
	assert.Equal(t, "BIGINT", d.ColumnType(migrate.ColumnSchema{Type: schema.TypeInteger}))
	assert.Equal(t, "DOUBLE", d.ColumnType(migrate.ColumnSchema{Type: schema.TypeFloat}))
	assert.Equal(t, "TEXT", d.ColumnType(migrate.ColumnSchema{Type: schema.TypeText}))
	assert.Equal(t, "VARCHAR(191)", d.ColumnType(migrate.ColumnSchema{Type: schema.TypeText, PrimaryKey: true}),
		"text primary keys must be bounded to stay indexable")
	assert.Equal(t, "ENUM('ok', 'degraded')", d.ColumnType(migrate.ColumnSchema{Type: schema.TypeEnumerated, Values: []string{"ok", "degraded"}}))
	assert.Equal(t, "TINYINT(1)", d.ColumnType(migrate.ColumnSchema{Type: schema.TypeBoolean}))
	assert.Equal(t, "DATETIME(6)", d.ColumnType(migrate.ColumnSchema{Type: schema.TypeTimestamp}))
	assert.Equal(t, "BLOB", d.ColumnType(migrate.ColumnSchema{Type: schema.TypeBinary}))
}

func TestDialect_CreateTableSQL(t *testing.T) {
	d := New()
	kind := &schema.RecordKind{
		Name: "sensors", Version: 1, Key: "id",
		Fields: []schema.FieldSpec{
			{Name: "id", Type: schema.TypeText, Presence: schema.PresenceRequired, Ordinal: 0},
			{Name: "label", Type: schema.TypeText, Presence: schema.PresenceRequired, Ordinal: 1, Indexed: true},
			{Name: "status", Type: schema.TypeEnumerated, Presence: schema.PresenceDefault, Default: "ok", Values: []string{"ok", "degraded"}, Ordinal: 2},
		},
	}

	stmts, err := d.CreateTableSQL(migrate.Derive(kind))
	require.NoError(t, err)
	require.Len(t, stmts, 2)

	ddl := stmts[0]
	assert.Contains(t, ddl, "CREATE TABLE IF NOT EXISTS `sensors`")
	assert.Contains(t, ddl, "`id` VARCHAR(191) NOT NULL")
	assert.Contains(t, ddl, "`label` TEXT NOT NULL")
	assert.Contains(t, ddl, "`status` ENUM('ok', 'degraded') NOT NULL DEFAULT 'ok'")
	assert.Contains(t, ddl, "`_version` BIGINT NOT NULL DEFAULT 1")
	assert.Contains(t, ddl, "PRIMARY KEY (`id`)")

	// Unbounded TEXT index columns get a prefix length.
	assert.Equal(t, "CREATE INDEX `idx_sensors_label` ON `sensors` (`label`(191));", stmts[1])
}

func TestDialect_StepSQL(t *testing.T) {
	d := New()

	t.Run("add column", func(t *testing.T) {
		stmts, err := d.StepSQL(migrate.Step{
			Kind:  migrate.StepAddColumn,
			Table: "sensors",
			Column: &migrate.ColumnSchema{
				Name: "reading", Type: schema.TypeFloat, Default: 0.0,
			},
		})
		require.NoError(t, err)
		require.Len(t, stmts, 1)
		assert.Equal(t, "ALTER TABLE `sensors` ADD COLUMN `reading` DOUBLE NOT NULL DEFAULT 0;", stmts[0])
	})

	t.Run("widening uses MODIFY COLUMN", func(t *testing.T) {
		stmts, err := d.StepSQL(migrate.Step{
			Kind:  migrate.StepWidenColumn,
			Table: "sensors",
			Column: &migrate.ColumnSchema{
				Name: "reading", Type: schema.TypeFloat, Default: 0.0,
			},
		})
		require.NoError(t, err)
		require.Len(t, stmts, 1)
		assert.Equal(t, "ALTER TABLE `sensors` MODIFY COLUMN `reading` DOUBLE NOT NULL DEFAULT 0;", stmts[0])
	})

	t.Run("drop column", func(t *testing.T) {
		stmts, err := d.StepSQL(migrate.Step{
			Kind:   migrate.StepDropColumn,
			Table:  "sensors",
			Column: &migrate.ColumnSchema{Name: "legacy_flags"},
		})
		require.NoError(t, err)
		require.Len(t, stmts, 1)
		assert.Equal(t, "ALTER TABLE `sensors` DROP COLUMN `legacy_flags`;", stmts[0])
	})

	t.Run("unique constraint", func(t *testing.T) {
		stmts, err := d.StepSQL(migrate.Step{
			Kind:  migrate.StepAlterConstraint,
			Table: "sensors",
			Index: &migrate.IndexChange{Name: "idx_sensors_serial", Fields: []string{"serial"}, Unique: true},
		})
		require.NoError(t, err)
		require.Len(t, stmts, 1)
		assert.Equal(t, "CREATE UNIQUE INDEX `idx_sensors_serial` ON `sensors` (`serial`);", stmts[0])
	})
}

func TestSemanticType(t *testing.T) {
	tests := []struct {
		dataType   string
		columnType string
		want       schema.SemanticType
	}{
		{"bigint", "bigint(20)", schema.TypeInteger},
		{"tinyint", "tinyint(1)", schema.TypeBoolean},
		{"tinyint", "tinyint(4)", schema.TypeInteger},
		{"double", "double", schema.TypeFloat},
		{"decimal", "decimal(10,2)", schema.TypeFloat},
		{"varchar", "varchar(191)", schema.TypeText},
		{"text", "text", schema.TypeText},
		{"enum", "enum('ok','degraded')", schema.TypeEnumerated},
		{"datetime", "datetime(6)", schema.TypeTimestamp},
		{"blob", "blob", schema.TypeBinary},
	}
	for _, tt := range tests {
		t.Run(tt.columnType, func(t *testing.T) {
			assert.Equal(t, tt.want, semanticType(tt.dataType, tt.columnType))
		})
	}
}

func TestEnumValues(t *testing.T) {
	assert.Equal(t, []string{"ok", "degraded"}, enumValues("enum('ok','degraded')"))
	assert.Equal(t, []string{"it's"}, enumValues("enum('it''s')"))
	assert.Nil(t, enumValues("text"))
}
