package reconcile

import (
	"context"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/camlsync/camlsync/internal/diffengine"
	"github.com/camlsync/camlsync/internal/vaultfs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newReconciler(t *testing.T) (*Reconciler, *vaultfs.Tree, *vaultfs.Tree) {
	t.Helper()
	root := t.TempDir()
	working := vaultfs.New(root)
	hidden := vaultfs.New(filepath.Join(root, ".caml_sync"))
	require.NoError(t, hidden.MkdirAll("."))
	logger := slog.New(slog.DiscardHandler)
	return New(working, hidden, logger), working, hidden
}

func TestReconciler_PreSyncGuard_BlocksOnQuarantineArtifact(t *testing.T) {
	r, working, _ := newReconciler(t)
	require.NoError(t, working.WriteFile("notes_local.md", []byte("x")))

	err := r.PreSyncGuard()
	assert.Error(t, err)
}

func TestReconciler_PreSyncGuard_PassesWhenClean(t *testing.T) {
	r, working, _ := newReconciler(t)
	require.NoError(t, working.WriteFile("notes.md", []byte("x")))

	assert.NoError(t, r.PreSyncGuard())
}

func TestReconciler_CompareWorkingBackup_ModifiedFile(t *testing.T) {
	r, working, hidden := newReconciler(t)
	require.NoError(t, hidden.WriteFile("a.ml", []byte("one\ntwo\n")))
	require.NoError(t, working.WriteFile("a.ml", []byte("one\nTWO\n")))

	diffs, err := r.CompareWorkingBackup(context.Background())
	require.NoError(t, err)
	require.Len(t, diffs, 1)
	assert.Equal(t, "./a.ml", diffs[0].FileName)
	assert.False(t, diffs[0].IsDeleted)
	assert.False(t, diffs[0].ContentDiff.IsEmpty())
}

func TestReconciler_CompareWorkingBackup_DeletedFile(t *testing.T) {
	r, _, hidden := newReconciler(t)
	require.NoError(t, hidden.WriteFile("gone.md", []byte("bye")))

	diffs, err := r.CompareWorkingBackup(context.Background())
	require.NoError(t, err)
	require.Len(t, diffs, 1)
	assert.Equal(t, "./gone.md", diffs[0].FileName)
	assert.True(t, diffs[0].IsDeleted)
}

func TestReconciler_CompareWorkingBackup_NewFile(t *testing.T) {
	r, working, _ := newReconciler(t)
	require.NoError(t, working.WriteFile("new.md", []byte("hi\n")))

	diffs, err := r.CompareWorkingBackup(context.Background())
	require.NoError(t, err)
	require.Len(t, diffs, 1)
	assert.Equal(t, "./new.md", diffs[0].FileName)
	assert.False(t, diffs[0].IsDeleted)
}

func TestReconciler_CompareWorkingBackup_UnchangedFileOmitted(t *testing.T) {
	r, working, hidden := newReconciler(t)
	require.NoError(t, hidden.WriteFile("same.md", []byte("x\n")))
	require.NoError(t, working.WriteFile("same.md", []byte("x\n")))

	diffs, err := r.CompareWorkingBackup(context.Background())
	require.NoError(t, err)
	assert.Empty(t, diffs)
}

func TestBothModified(t *testing.T) {
	local := []diffengine.FileDiff{
		{FileName: "./a.md"},
		{FileName: "./b.md"},
	}
	serverDiff := diffengine.VersionDiff{EditedFiles: []diffengine.FileDiff{
		{FileName: "./b.md"},
		{FileName: "./c.md"},
	}}

	conflicts := BothModified(local, serverDiff)
	assert.Equal(t, map[string]bool{"./b.md": true}, conflicts)
}

func TestReconciler_QuarantineConflicts_RenamesAndRestores(t *testing.T) {
	r, working, hidden := newReconciler(t)
	require.NoError(t, hidden.WriteFile("a.md", []byte("base\n")))
	require.NoError(t, working.WriteFile("a.md", []byte("local edit\n")))

	local := []diffengine.FileDiff{{FileName: "./a.md", IsDeleted: false}}
	conflicts := map[string]bool{"./a.md": true}

	require.NoError(t, r.QuarantineConflicts(local, conflicts))

	assert.True(t, working.Exists("a_local.md"))
	content, err := working.ReadFile("a_local.md")
	require.NoError(t, err)
	assert.Equal(t, "local edit\n", string(content))

	restored, err := working.ReadFile("a.md")
	require.NoError(t, err)
	assert.Equal(t, "base\n", string(restored))
}

func TestReconciler_QuarantineConflicts_LocalDeleteServerWins(t *testing.T) {
	r, working, _ := newReconciler(t)
	require.NoError(t, working.WriteFile("a.md", []byte("still here\n")))

	local := []diffengine.FileDiff{{FileName: "./a.md", IsDeleted: true}}
	conflicts := map[string]bool{"./a.md": true}

	require.NoError(t, r.QuarantineConflicts(local, conflicts))
	assert.False(t, working.Exists("a.md"))
}

func TestReconciler_ApplyAndRefresh(t *testing.T) {
	r, working, hidden := newReconciler(t)
	require.NoError(t, working.WriteFile("keep.md", []byte("keep\n")))
	require.NoError(t, working.WriteFile("del.md", []byte("bye\n")))
	require.NoError(t, hidden.WriteFile("stale.md", []byte("stale\n")))

	serverDiff := diffengine.VersionDiff{
		EditedFiles: []diffengine.FileDiff{
			{FileName: "./del.md", IsDeleted: true},
			{FileName: "./new.md", IsDeleted: false, ContentDiff: diffengine.CalcDiff(nil, []string{"created"})},
		},
	}

	require.NoError(t, r.ApplyAndRefresh(serverDiff))

	assert.False(t, working.Exists("del.md"))
	got, err := working.ReadFile("new.md")
	require.NoError(t, err)
	assert.Equal(t, "created\n", string(got))

	assert.False(t, hidden.Exists("stale.md"), "clear_snapshot should have removed prior mirror contents")
	assert.True(t, hidden.Exists("keep.md"), "backup_working_tree should re-mirror surviving files")
	assert.True(t, hidden.Exists("new.md"))
}

func TestOutgoingDiff_ExcludesConflicts(t *testing.T) {
	local := []diffengine.FileDiff{
		{FileName: "./a.md"},
		{FileName: "./b.md"},
	}
	conflicts := map[string]bool{"./b.md": true}

	out := OutgoingDiff(local, conflicts, 5)
	require.Len(t, out.EditedFiles, 1)
	assert.Equal(t, "./a.md", out.EditedFiles[0].FileName)
	assert.Equal(t, int64(5), out.PrevVersion)
	assert.Equal(t, int64(5), out.CurVersion)
}

func TestReconciler_Run_EndToEnd(t *testing.T) {
	r, working, hidden := newReconciler(t)
	require.NoError(t, working.WriteFile("mine.md", []byte("my edit\n")))
	require.NoError(t, hidden.WriteFile("mine.md", []byte("base\n")))
	// snapshot() must equal what BackupWorkingTree would have produced,
	// but here we seed it directly to simulate a prior sync state.

	serverDiff := diffengine.VersionDiff{
		PrevVersion: 3,
		CurVersion:  4,
		EditedFiles: []diffengine.FileDiff{
			{FileName: "./other.md", IsDeleted: false, ContentDiff: diffengine.CalcDiff(nil, []string{"server content"})},
		},
	}

	outgoing, conflicts, err := r.Run(context.Background(), serverDiff, 3)
	require.NoError(t, err)
	assert.Empty(t, conflicts)
	require.Len(t, outgoing.EditedFiles, 1)
	assert.Equal(t, "./mine.md", outgoing.EditedFiles[0].FileName)

	otherContent, err := working.ReadFile("other.md")
	require.NoError(t, err)
	assert.Equal(t, "server content\n", string(otherContent))
}
