package bootstrap

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sensorDump = `
-- MariaDB dump 10.19
/*!40101 SET NAMES utf8mb4 */;
SET FOREIGN_KEY_CHECKS=0;

CREATE TABLE sensors (
  id varchar(191) NOT NULL,
  label text NOT NULL,
  reading double DEFAULT 0,
  PRIMARY KEY (id),
  KEY idx_sensors_label (label(191))
);

INSERT INTO sensors VALUES ('s-1','north wall',20.5),('s-2','south wall',18);
INSERT INTO sensors (id,label,reading) VALUES ('s-3','roof, east',NULL);

CREATE TABLE rooms (
  id varchar(191) NOT NULL,
  name text NOT NULL,
  occupied tinyint(1) DEFAULT 0,
  PRIMARY KEY (id)
);

INSERT INTO rooms VALUES ('r-1','it''s the attic',TRUE);
`

func TestParseSnapshot(t *testing.T) {
	snap, err := ParseSnapshot(strings.NewReader(sensorDump))
	require.NoError(t, err)
	require.Len(t, snap.Tables, 2)
	assert.Equal(t, 4, snap.RowCount())

	t.Run("create statements yield column order", func(t *testing.T) {
		sensors, ok := snap.Table("sensors")
		require.True(t, ok)
		assert.Equal(t, []string{"id", "label", "reading"}, sensors.Columns)
		assert.Contains(t, sensors.CreateSQL, "CREATE TABLE")
	})

	t.Run("multi-tuple inserts are flattened", func(t *testing.T) {
		sensors, _ := snap.Table("sensors")
		require.Len(t, sensors.Rows, 3)
		assert.Equal(t, []any{"s-1", "north wall", 20.5}, sensors.Rows[0])
		assert.Equal(t, []any{"s-2", "south wall", int64(18)}, sensors.Rows[1])
	})

	t.Run("literals keep their types", func(t *testing.T) {
		sensors, _ := snap.Table("sensors")
		row := sensors.Rows[2]
		assert.Equal(t, "s-3", row[0])
		assert.Equal(t, "roof, east", row[1], "commas inside strings must not split the tuple")
		assert.Nil(t, row[2], "NULL parses to nil")

		rooms, _ := snap.Table("rooms")
		require.Len(t, rooms.Rows, 1)
		assert.Equal(t, "it's the attic", rooms.Rows[0][1], "doubled quotes unescape")
		assert.Equal(t, true, rooms.Rows[0][2])
	})

	t.Run("session statements and comments are ignored", func(t *testing.T) {
		_, ok := snap.Table("FOREIGN_KEY_CHECKS")
		assert.False(t, ok)
	})
}

func TestParseSnapshot_QuotedIdentifiers(t *testing.T) {
	dump := "CREATE TABLE `sensors` (`id` varchar(191), PRIMARY KEY (`id`));\n" +
		"INSERT INTO `sensors` (`id`) VALUES ('s-1');"
	snap, err := ParseSnapshot(strings.NewReader(dump))
	require.NoError(t, err)

	sensors, ok := snap.Table("sensors")
	require.True(t, ok)
	assert.Equal(t, []string{"id"}, sensors.Columns)
	require.Len(t, sensors.Rows, 1)
}

func TestParseSnapshot_InsertColumnListOrder(t *testing.T) {
	dump := `
CREATE TABLE tags (
  id varchar(191) NOT NULL,
  first text,
  second text,
  PRIMARY KEY (id)
);
INSERT INTO tags (id, second, first) VALUES ('t-1','second value','first value');
INSERT INTO tags (id) VALUES ('t-2');
`
	snap, err := ParseSnapshot(strings.NewReader(dump))
	require.NoError(t, err)

	tags, ok := snap.Table("tags")
	require.True(t, ok)
	assert.Equal(t, []string{"id", "first", "second"}, tags.Columns)
	require.Len(t, tags.Rows, 2)

	t.Run("values follow the named columns, not their position", func(t *testing.T) {
		assert.Equal(t, []any{"t-1", "first value", "second value"}, tags.Rows[0])
	})

	t.Run("columns the insert leaves out stay nil", func(t *testing.T) {
		assert.Equal(t, []any{"t-2", nil, nil}, tags.Rows[1])
	})
}

func TestParseSnapshot_KeywordColumnNames(t *testing.T) {
	dump := `
CREATE TABLE settings (
  key text NOT NULL,
  value text,
  check_at timestamp NULL,
  PRIMARY KEY (key),
  KEY idx_settings_key (key(191)),
  CHECK (value <> '')
);
INSERT INTO settings (key, value) VALUES ('retention', '30d');
`
	snap, err := ParseSnapshot(strings.NewReader(dump))
	require.NoError(t, err)

	settings, ok := snap.Table("settings")
	require.True(t, ok)
	assert.Equal(t, []string{"key", "value", "check_at"}, settings.Columns,
		"a bare column named after a constraint keyword is still a column")
	require.Len(t, settings.Rows, 1)
	assert.Equal(t, []any{"retention", "30d", nil}, settings.Rows[0])
}

func TestParseSnapshot_InsertWithoutCreate(t *testing.T) {
	snap, err := ParseSnapshot(strings.NewReader(
		"INSERT INTO orphans (id, note) VALUES (1, 'kept for reporting');"))
	require.NoError(t, err)

	// The table survives without a CREATE statement so the loader can report
	// its data against the registry instead of silently dropping it.
	orphans, ok := snap.Table("orphans")
	require.True(t, ok)
	assert.Equal(t, []string{"id", "note"}, orphans.Columns)
	require.Len(t, orphans.Rows, 1)
	assert.Equal(t, []any{int64(1), "kept for reporting"}, orphans.Rows[0])
}

func TestParseSnapshot_Malformed(t *testing.T) {
	tests := []struct {
		name string
		in   string
	}{
		{name: "insert without values", in: "INSERT INTO t SET x = 1;"},
		{name: "arity mismatch", in: "CREATE TABLE t (a INT, b INT); INSERT INTO t (a, b) VALUES (1);"},
		{name: "unbalanced tuple", in: "CREATE TABLE t (a INT); INSERT INTO t (a) VALUES (1;"},
		{name: "unsupported literal", in: "CREATE TABLE t (a INT); INSERT INTO t (a) VALUES (NOW());"},
		{name: "insert names an undeclared column", in: "CREATE TABLE t (a INT); INSERT INTO t (a, ghost) VALUES (1, 2);"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseSnapshot(strings.NewReader(tt.in))
			assert.Error(t, err)
		})
	}
}

func TestSnapshot_RowCount(t *testing.T) {
	snap := &Snapshot{Tables: []*SnapshotTable{
		{Name: "a", Rows: [][]any{{1}, {2}}},
		{Name: "b", Rows: [][]any{{3}}},
	}}
	assert.Equal(t, 3, snap.RowCount())
}
