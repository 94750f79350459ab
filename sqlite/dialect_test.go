package sqlite_test

import (
	"context"
	"database/sql"
	"testing"

	"github.com/anvil-works/protostore/core/migrate"
	"github.com/anvil-works/protostore/core/schema"
	"github.com/anvil-works/protostore/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sensorKind() *schema.RecordKind {
	return &schema.RecordKind{
		Name:    "sensors",
		Version: 1,
		Key:     "id",
		Fields: []schema.FieldSpec{
			{Name: "id", Type: schema.TypeText, Presence: schema.PresenceRequired, Ordinal: 0},
			{Name: "label", Type: schema.TypeText, Presence: schema.PresenceRequired, Ordinal: 1, Indexed: true},
			{Name: "reading", Type: schema.TypeFloat, Presence: schema.PresenceDefault, Default: 0.0, Ordinal: 2},
			{Name: "active", Type: schema.TypeBoolean, Presence: schema.PresenceDefault, Default: true, Ordinal: 3},
			{Name: "status", Type: schema.TypeEnumerated, Presence: schema.PresenceDefault, Default: "ok", Values: []string{"ok", "degraded"}, Ordinal: 4},
		},
	}
}

func openDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	// An in-memory database exists per connection; keep the pool at one.
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestDialect_ColumnType(t *testing.T) {
	d := sqlite.New()
	assert.Equal(t, "INTEGER", d.ColumnType(migrate.ColumnSchema{Type: schema.TypeInteger}))
	assert.Equal(t, "REAL", d.ColumnType(migrate.ColumnSchema{Type: schema.TypeFloat}))
	assert.Equal(t, "TEXT", d.ColumnType(migrate.ColumnSchema{Type: schema.TypeText}))
	assert.Equal(t, "TEXT", d.ColumnType(migrate.ColumnSchema{Type: schema.TypeEnumerated}))
	assert.Equal(t, "BOOLEAN", d.ColumnType(migrate.ColumnSchema{Type: schema.TypeBoolean}))
	assert.Equal(t, "TIMESTAMP", d.ColumnType(migrate.ColumnSchema{Type: schema.TypeTimestamp}))
	assert.Equal(t, "BLOB", d.ColumnType(migrate.ColumnSchema{Type: schema.TypeBinary}))
}

func TestDialect_CreateTableSQL(t *testing.T) {
	d := sqlite.New()
	stmts, err := d.CreateTableSQL(migrate.Derive(sensorKind()))
	require.NoError(t, err)
	require.Len(t, stmts, 2)

	ddl := stmts[0]
	assert.Contains(t, ddl, `CREATE TABLE IF NOT EXISTS "sensors"`)
	assert.Contains(t, ddl, `"label" TEXT NOT NULL`)
	assert.Contains(t, ddl, `"reading" REAL NOT NULL DEFAULT 0`)
	assert.Contains(t, ddl, `"active" BOOLEAN NOT NULL DEFAULT 1`)
	assert.Contains(t, ddl, `CHECK("status" IN ('ok', 'degraded'))`)
	assert.Contains(t, ddl, `"_version" INTEGER NOT NULL DEFAULT 1`)
	assert.Contains(t, ddl, `PRIMARY KEY ("id")`)

	assert.Contains(t, stmts[1], `CREATE INDEX IF NOT EXISTS "idx_sensors_label"`)
}

func TestDialect_StepSQL(t *testing.T) {
	d := sqlite.New()

	t.Run("add column", func(t *testing.T) {
		stmts, err := d.StepSQL(migrate.Step{
			Kind:  migrate.StepAddColumn,
			Table: "sensors",
			Column: &migrate.ColumnSchema{
				Name: "active", Type: schema.TypeBoolean, Default: true,
			},
		})
		require.NoError(t, err)
		require.Len(t, stmts, 1)
		assert.Equal(t, `ALTER TABLE "sensors" ADD COLUMN "active" BOOLEAN NOT NULL DEFAULT 1;`, stmts[0])
	})

	t.Run("drop column", func(t *testing.T) {
		stmts, err := d.StepSQL(migrate.Step{
			Kind:   migrate.StepDropColumn,
			Table:  "sensors",
			Column: &migrate.ColumnSchema{Name: "legacy_flags"},
		})
		require.NoError(t, err)
		require.Len(t, stmts, 1)
		assert.Equal(t, `ALTER TABLE "sensors" DROP COLUMN "legacy_flags";`, stmts[0])
	})

	t.Run("widening is a no-op under column affinity", func(t *testing.T) {
		stmts, err := d.StepSQL(migrate.Step{
			Kind:   migrate.StepWidenColumn,
			Table:  "sensors",
			Column: &migrate.ColumnSchema{Name: "reading", Type: schema.TypeFloat},
		})
		require.NoError(t, err)
		assert.Empty(t, stmts)
	})

	t.Run("add index", func(t *testing.T) {
		stmts, err := d.StepSQL(migrate.Step{
			Kind:  migrate.StepAddIndex,
			Table: "sensors",
			Index: &migrate.IndexChange{Name: "idx_sensors_label", Fields: []string{"label"}},
		})
		require.NoError(t, err)
		require.Len(t, stmts, 1)
		assert.Equal(t, `CREATE INDEX IF NOT EXISTS "idx_sensors_label" ON "sensors" ("label");`, stmts[0])
	})

	t.Run("unique constraint", func(t *testing.T) {
		stmts, err := d.StepSQL(migrate.Step{
			Kind:  migrate.StepAlterConstraint,
			Table: "sensors",
			Index: &migrate.IndexChange{Name: "idx_sensors_serial", Fields: []string{"serial"}, Unique: true},
		})
		require.NoError(t, err)
		require.Len(t, stmts, 1)
		assert.Contains(t, stmts[0], "CREATE UNIQUE INDEX")
	})
}

// A table created from the derived schema must introspect back into a layout
// the resolver considers fully reconciled, otherwise every restart would
// re-plan work that is already done.
func TestDialect_CreateIntrospectRoundTrip(t *testing.T) {
	ctx := context.Background()
	db := openDB(t)
	d := sqlite.New()

	reg, err := schema.NewRegistry(sensorKind())
	require.NoError(t, err)

	applier := migrate.NewApplier(db, d, nil)
	resolver := migrate.NewResolver(migrate.DefaultPolicy(), nil)

	plan, err := resolver.Plan(reg, migrate.LiveSchema{})
	require.NoError(t, err)
	steps, err := applier.Apply(ctx, plan)
	require.NoError(t, err)
	assert.Equal(t, 1, steps)

	live, err := d.Introspect(ctx, db)
	require.NoError(t, err)
	require.Contains(t, live, "sensors")
	assert.Equal(t, []string{"id"}, live["sensors"].PrimaryKey)

	replan, err := resolver.Plan(reg, live)
	require.NoError(t, err)
	assert.True(t, replan.Empty(), "replanning an already-migrated database must be empty")
}

// Adding an optional-with-default field to a populated table must backfill the
// default onto every pre-existing row.
func TestDialect_AdditiveMigrationBackfillsDefault(t *testing.T) {
	ctx := context.Background()
	db := openDB(t)
	d := sqlite.New()

	v1 := sensorKind()
	v1.Fields = v1.Fields[:2] // id, label only
	regV1, err := schema.NewRegistry(v1)
	require.NoError(t, err)

	applier := migrate.NewApplier(db, d, nil)
	resolver := migrate.NewResolver(migrate.DefaultPolicy(), nil)

	plan, err := resolver.Plan(regV1, migrate.LiveSchema{})
	require.NoError(t, err)
	_, err = applier.Apply(ctx, plan)
	require.NoError(t, err)

	_, err = db.ExecContext(ctx, `INSERT INTO "sensors" ("id", "label", "_version") VALUES ('s-1', 'north', 1), ('s-2', 'south', 1);`)
	require.NoError(t, err)

	v2 := sensorKind()
	regV2, err := schema.NewRegistry(v2)
	require.NoError(t, err)

	live, err := d.Introspect(ctx, db)
	require.NoError(t, err)
	plan, err = resolver.Plan(regV2, live)
	require.NoError(t, err)
	require.False(t, plan.Empty())
	_, err = applier.Apply(ctx, plan)
	require.NoError(t, err)

	rows, err := db.QueryContext(ctx, `SELECT "reading", "active", "status" FROM "sensors" ORDER BY "id";`)
	require.NoError(t, err)
	defer rows.Close()

	count := 0
	for rows.Next() {
		var reading float64
		// The driver maps declared BOOLEAN columns to bool.
		var active bool
		var status string
		require.NoError(t, rows.Scan(&reading, &active, &status))
		assert.Equal(t, 0.0, reading)
		assert.True(t, active)
		assert.Equal(t, "ok", status)
		count++
	}
	require.NoError(t, rows.Err())
	assert.Equal(t, 2, count)
}

func TestDialect_IntrospectTypes(t *testing.T) {
	ctx := context.Background()
	db := openDB(t)
	d := sqlite.New()

	_, err := db.ExecContext(ctx, `
		CREATE TABLE readings (
			id TEXT PRIMARY KEY,
			taken_at TIMESTAMP,
			count INTEGER NOT NULL DEFAULT 0,
			ratio REAL,
			flag BOOLEAN,
			payload BLOB
		);`)
	require.NoError(t, err)

	live, err := d.Introspect(ctx, db)
	require.NoError(t, err)
	table := live["readings"]
	require.NotNil(t, table)

	wantTypes := map[string]schema.SemanticType{
		"id":       schema.TypeText,
		"taken_at": schema.TypeTimestamp,
		"count":    schema.TypeInteger,
		"ratio":    schema.TypeFloat,
		"flag":     schema.TypeBoolean,
		"payload":  schema.TypeBinary,
	}
	for name, want := range wantTypes {
		col, ok := table.Column(name)
		require.True(t, ok, "column %s", name)
		assert.Equal(t, want, col.Type, "column %s", name)
	}

	count, _ := table.Column("count")
	assert.Equal(t, int64(0), count.Default)
	assert.False(t, count.Nullable)
	ratio, _ := table.Column("ratio")
	assert.True(t, ratio.Nullable)
}
