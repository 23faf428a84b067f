package store

import (
	"testing"

	"github.com/camlsync/camlsync/internal/diffengine"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStore_InitWritesDefaultConfigAndIdentityDiff(t *testing.T) {
	s := New(t.TempDir())

	cfg, err := s.Init("secret", "http://127.0.0.1:8080", DefaultPort)
	require.NoError(t, err)
	assert.NotEmpty(t, cfg.ServerID)
	assert.Equal(t, int64(0), cfg.Version)
	assert.Equal(t, DefaultPort, cfg.Port)

	got, err := s.LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, cfg.ServerID, got.ServerID)

	vd, err := s.ReadDiff(0)
	require.NoError(t, err)
	assert.True(t, vd.IsIdentity())
}

func TestStore_VerifyToken(t *testing.T) {
	s := New(t.TempDir())
	_, err := s.Init("secret", "http://x", DefaultPort)
	require.NoError(t, err)

	assert.NoError(t, s.VerifyToken("secret"))
	assert.Error(t, s.VerifyToken("wrong"))
}

func TestStore_Append_AdvancesVersionAndPersistsDiff(t *testing.T) {
	s := New(t.TempDir())
	_, err := s.Init("secret", "http://x", DefaultPort)
	require.NoError(t, err)

	vd := diffengine.VersionDiff{
		EditedFiles: []diffengine.FileDiff{
			{FileName: "./a.ml", ContentDiff: diffengine.CalcDiff(nil, []string{"x"})},
		},
	}

	next, err := s.Append(vd)
	require.NoError(t, err)
	assert.Equal(t, int64(1), next)

	cur, err := s.CurrentVersion()
	require.NoError(t, err)
	assert.Equal(t, int64(1), cur)

	stored, err := s.ReadDiff(1)
	require.NoError(t, err)
	assert.Equal(t, int64(0), stored.PrevVersion)
	assert.Equal(t, int64(1), stored.CurVersion)
	require.Len(t, stored.EditedFiles, 1)
	assert.Equal(t, "./a.ml", stored.EditedFiles[0].FileName)
}

func TestStore_Append_Sequential(t *testing.T) {
	s := New(t.TempDir())
	_, err := s.Init("secret", "http://x", DefaultPort)
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		n, err := s.Append(diffengine.VersionDiff{})
		require.NoError(t, err)
		assert.Equal(t, int64(i+1), n)
	}
}

func TestStore_History(t *testing.T) {
	s := New(t.TempDir())
	_, err := s.Init("secret", "http://x", DefaultPort)
	require.NoError(t, err)
	_, err = s.Append(diffengine.VersionDiff{})
	require.NoError(t, err)

	hist, err := s.History()
	require.NoError(t, err)
	require.Len(t, hist, 2)
	assert.Equal(t, int64(0), hist[0].Version)
	assert.Equal(t, int64(1), hist[1].Version)
}

func TestStore_ReadDiff_MissingVersionFails(t *testing.T) {
	s := New(t.TempDir())
	_, err := s.Init("secret", "http://x", DefaultPort)
	require.NoError(t, err)

	_, err = s.ReadDiff(99)
	assert.Error(t, err)
}
