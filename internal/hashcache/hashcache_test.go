package hashcache

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCache_SetGetDelete(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cache.db")
	c, err := Open(path)
	require.NoError(t, err)
	defer c.Close()

	_, ok := c.Get("a.ml")
	assert.False(t, ok)

	require.NoError(t, c.Set("a.ml", Entry{MTime: 100, Size: 5, Hash: "deadbeef"}))
	got, ok := c.Get("a.ml")
	require.True(t, ok)
	assert.Equal(t, Entry{MTime: 100, Size: 5, Hash: "deadbeef"}, got)

	require.NoError(t, c.Delete("a.ml"))
	_, ok = c.Get("a.ml")
	assert.False(t, ok)
}

func TestCache_Fresh(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cache.db")
	c, err := Open(path)
	require.NoError(t, err)
	defer c.Close()

	require.NoError(t, c.Set("a.ml", Entry{MTime: 100, Size: 5, Hash: "deadbeef"}))

	hash, ok := c.Fresh("a.ml", 100, 5)
	require.True(t, ok)
	assert.Equal(t, "deadbeef", hash)

	_, ok = c.Fresh("a.ml", 101, 5)
	assert.False(t, ok, "changed mtime should miss")

	_, ok = c.Fresh("a.ml", 100, 6)
	assert.False(t, ok, "changed size should miss")

	_, ok = c.Fresh("missing.ml", 100, 5)
	assert.False(t, ok)
}

func TestCache_PersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cache.db")

	c1, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, c1.Set("a.ml", Entry{MTime: 1, Size: 2, Hash: "h"}))
	require.NoError(t, c1.Close())

	c2, err := Open(path)
	require.NoError(t, err)
	defer c2.Close()

	got, ok := c2.Get("a.ml")
	require.True(t, ok)
	assert.Equal(t, "h", got.Hash)
}
