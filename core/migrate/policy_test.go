package migrate

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/anvil-works/protostore/core/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultPolicy(t *testing.T) {
	p := DefaultPolicy()
	assert.False(t, p.AllowDestructive)
	assert.True(t, p.AllowsWidening(schema.TypeInteger, schema.TypeFloat))
	assert.True(t, p.AllowsWidening(schema.TypeInteger, schema.TypeText))
	assert.False(t, p.AllowsWidening(schema.TypeFloat, schema.TypeInteger))
	assert.False(t, p.AllowsWidening(schema.TypeText, schema.TypeInteger))
}

func TestPolicy_ZeroValueIsConservative(t *testing.T) {
	var p Policy
	assert.False(t, p.AllowDestructive)
	assert.False(t, p.AllowsWidening(schema.TypeInteger, schema.TypeFloat))
}

func TestLoadPolicy(t *testing.T) {
	t.Run("parses a policy file", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "policy.yaml")
		content := `
allow_destructive: true
widenings:
  - from: integer
    to: float
  - from: float
    to: text
`
		require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

		p, err := LoadPolicy(path)
		require.NoError(t, err)
		assert.True(t, p.AllowDestructive)
		assert.True(t, p.AllowsWidening(schema.TypeInteger, schema.TypeFloat))
		assert.True(t, p.AllowsWidening(schema.TypeFloat, schema.TypeText))
		assert.False(t, p.AllowsWidening(schema.TypeInteger, schema.TypeText))
	})

	t.Run("missing file fails", func(t *testing.T) {
		_, err := LoadPolicy(filepath.Join(t.TempDir(), "absent.yaml"))
		assert.Error(t, err)
	})

	t.Run("malformed yaml fails", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "policy.yaml")
		require.NoError(t, os.WriteFile(path, []byte("widenings: {nope"), 0o644))
		_, err := LoadPolicy(path)
		assert.Error(t, err)
	})
}
