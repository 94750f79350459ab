package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/anvil-works/protostore/core/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "protostore.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadConfig(t *testing.T) {
	t.Run("full config", func(t *testing.T) {
		cfg, err := LoadConfig(writeConfig(t, `
driver: sqlite3
dsn: ":memory:"
descriptor_set: schema.pb
snapshot: legacy.sql
policy:
  allow_destructive: true
  widenings:
    - from: integer
      to: float
verbose: true
`))
		require.NoError(t, err)
		assert.Equal(t, "sqlite3", cfg.Driver)
		assert.Equal(t, ":memory:", cfg.DSN)
		assert.Equal(t, "schema.pb", cfg.DescriptorSet)
		assert.Equal(t, "legacy.sql", cfg.Snapshot)
		assert.True(t, cfg.Verbose)
		assert.True(t, cfg.Policy.AllowDestructive)
		assert.True(t, cfg.Policy.AllowsWidening(schema.TypeInteger, schema.TypeFloat))
	})

	t.Run("policy defaults to the stock policy", func(t *testing.T) {
		cfg, err := LoadConfig(writeConfig(t, `
driver: mysql
dsn: "root@tcp(127.0.0.1:3306)/metrics"
descriptor_set: schema.pb
`))
		require.NoError(t, err)
		assert.False(t, cfg.Policy.AllowDestructive)
		assert.True(t, cfg.Policy.AllowsWidening(schema.TypeInteger, schema.TypeText))
	})

	t.Run("validation failures", func(t *testing.T) {
		tests := []struct {
			name    string
			content string
			wantErr string
		}{
			{
				name:    "missing driver",
				content: "dsn: x\ndescriptor_set: y\n",
				wantErr: "driver is required",
			},
			{
				name:    "unsupported driver",
				content: "driver: postgres\ndsn: x\ndescriptor_set: y\n",
				wantErr: "unsupported driver",
			},
			{
				name:    "missing dsn",
				content: "driver: sqlite3\ndescriptor_set: y\n",
				wantErr: "dsn is required",
			},
			{
				name:    "missing descriptor set",
				content: "driver: sqlite3\ndsn: x\n",
				wantErr: "descriptor_set is required",
			},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				_, err := LoadConfig(writeConfig(t, tt.content))
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
			})
		}
	})

	t.Run("missing file", func(t *testing.T) {
		_, err := LoadConfig(filepath.Join(t.TempDir(), "absent.yaml"))
		assert.Error(t, err)
	})
}
