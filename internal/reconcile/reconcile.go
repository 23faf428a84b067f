// Package reconcile implements the three-way reconciliation between a
// working tree, its hidden snapshot, and a server-provided diff. It is
// the central algorithm of the sync client, structured the way the
// teacher's obsidian.Reconciler is structured -- named phases, one
// slog line per file-level decision -- but replacing the teacher's
// per-file merge decision table with the flat "both-modified is
// always a conflict" rule this system uses instead.
package reconcile

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"regexp"
	"slices"
	"sort"
	"strings"

	"github.com/camlsync/camlsync/internal/diffengine"
	"github.com/camlsync/camlsync/internal/hashcache"
	"github.com/camlsync/camlsync/internal/scanner"
	"github.com/camlsync/camlsync/internal/snapshot"
	"github.com/camlsync/camlsync/internal/vaultfs"
	"golang.org/x/sync/errgroup"
)

// localSuffixPattern matches quarantine artifacts like "notes_local.md".
var localSuffixPattern = regexp.MustCompile(`_local\.[A-Za-z0-9]+$`)

// Reconciler ties together the working tree, its hidden snapshot, and
// the file I/O needed to quarantine conflicts and apply server diffs.
type Reconciler struct {
	working *vaultfs.Tree
	hidden  *vaultfs.Tree
	snap    *snapshot.Store
	logger  *slog.Logger
}

// New builds a Reconciler over the given working and hidden trees.
func New(working, hidden *vaultfs.Tree, logger *slog.Logger) *Reconciler {
	return &Reconciler{
		working: working,
		hidden:  hidden,
		snap:    snapshot.New(working, hidden),
		logger:  logger,
	}
}

// NewWithCache builds a Reconciler the same way as New, but backs its
// snapshot store with a hash cache so re-backing-up unchanged files
// (the common case on every sync) skips redundant reads and writes.
func NewWithCache(working, hidden *vaultfs.Tree, cache *hashcache.Cache, logger *slog.Logger) *Reconciler {
	return &Reconciler{
		working: working,
		hidden:  hidden,
		snap:    snapshot.NewWithCache(working, hidden, cache),
		logger:  logger,
	}
}

// PreSyncGuard implements section 4.4.6: sync must not proceed while
// any *_local.<ext> quarantine artifact remains in the working tree.
func (r *Reconciler) PreSyncGuard() error {
	paths, err := scanner.Scan(r.working.Dir())
	if err != nil {
		return fmt.Errorf("pre-sync guard: %w", err)
	}
	for p := range paths {
		if localSuffixPattern.MatchString(p) {
			return fmt.Errorf("unresolved conflict artifact %q: resolve or discard before syncing", p)
		}
	}
	return nil
}

// CompareWorkingBackup implements section 4.4.1: derive the local diff
// by comparing the working tree against the snapshot tree.
func (r *Reconciler) CompareWorkingBackup(ctx context.Context) ([]diffengine.FileDiff, error) {
	var working, snap map[string]bool

	g, _ := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		working, err = scanner.Scan(r.working.Dir())
		return err
	})
	g.Go(func() error {
		var err error
		snap, err = r.snap.SnapshotPaths()
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("scanning trees: %w", err)
	}

	var out []diffengine.FileDiff

	for f := range working {
		if !snap[f] {
			continue
		}
		base, err := r.hidden.ReadFile(f)
		if err != nil {
			return nil, fmt.Errorf("reading snapshot copy of %s: %w", f, err)
		}
		cur, err := r.working.ReadFile(f)
		if err != nil {
			return nil, fmt.Errorf("reading working copy of %s: %w", f, err)
		}
		baseLines, curLines := splitLines(base), splitLines(cur)
		if !slices.Equal(baseLines, curLines) {
			d := diffengine.CalcDiff(baseLines, curLines)
			out = append(out, diffengine.FileDiff{FileName: f, IsDeleted: false, ContentDiff: d})
		}
	}

	for f := range snap {
		if working[f] {
			continue
		}
		out = append(out, diffengine.FileDiff{FileName: f, IsDeleted: true, ContentDiff: diffengine.Empty})
	}

	for f := range working {
		if snap[f] {
			continue
		}
		cur, err := r.working.ReadFile(f)
		if err != nil {
			return nil, fmt.Errorf("reading new working file %s: %w", f, err)
		}
		d := diffengine.CalcDiff(nil, splitLines(cur))
		out = append(out, diffengine.FileDiff{FileName: f, IsDeleted: false, ContentDiff: d})
	}

	sort.Slice(out, func(i, j int) bool { return out[i].FileName < out[j].FileName })
	return out, nil
}

// BothModified implements section 4.4.2: a file is both-modified when
// it appears in both the local diff and the server diff.
func BothModified(local []diffengine.FileDiff, serverDiff diffengine.VersionDiff) map[string]bool {
	serverNames := make(map[string]bool, len(serverDiff.EditedFiles))
	for _, fd := range serverDiff.EditedFiles {
		serverNames[fd.FileName] = true
	}

	conflicts := make(map[string]bool)
	for _, fd := range local {
		if serverNames[fd.FileName] {
			conflicts[fd.FileName] = true
		}
	}
	return conflicts
}

// QuarantineConflicts implements section 4.4.3. For each both-modified
// file: if the local side deleted it, the server's version wins
// outright; otherwise the local edits are preserved under a
// "_local"-suffixed name and the snapshot content is restored at the
// original path so the merge in ApplyAndRefresh starts from a known
// base.
func (r *Reconciler) QuarantineConflicts(local []diffengine.FileDiff, conflicts map[string]bool) error {
	localByName := make(map[string]diffengine.FileDiff, len(local))
	for _, fd := range local {
		localByName[fd.FileName] = fd
	}

	for f := range conflicts {
		fd := localByName[f]
		if fd.IsDeleted {
			r.logger.Info("reconcile: conflict, local deleted, server wins", slog.String("path", f))
			if err := r.working.DeleteFile(f); err != nil {
				return fmt.Errorf("deleting locally-deleted conflict file %s: %w", f, err)
			}
			continue
		}

		quarantined := quarantineName(f)
		r.logger.Info("reconcile: conflict, quarantining local edits",
			slog.String("path", f), slog.String("quarantined_as", quarantined))

		if err := r.working.Rename(f, quarantined); err != nil {
			return fmt.Errorf("quarantining %s: %w", f, err)
		}

		snapContent, err := r.hidden.ReadFile(f)
		if err != nil {
			return fmt.Errorf("reading snapshot copy of %s for restore: %w", f, err)
		}
		if err := r.working.WriteFile(f, snapContent); err != nil {
			return fmt.Errorf("restoring snapshot copy of %s: %w", f, err)
		}
	}
	return nil
}

// ApplyAndRefresh implements section 4.4.4: clear the snapshot, apply
// every file_diff in the server diff to the working tree, then
// re-mirror the merged working tree into the snapshot.
func (r *Reconciler) ApplyAndRefresh(serverDiff diffengine.VersionDiff) error {
	if err := r.snap.ClearSnapshot(); err != nil {
		return fmt.Errorf("clearing snapshot: %w", err)
	}

	for _, fd := range serverDiff.EditedFiles {
		if fd.IsDeleted {
			r.logger.Debug("reconcile: applying server delete", slog.String("path", fd.FileName))
			if err := r.working.DeleteFile(fd.FileName); err != nil {
				return fmt.Errorf("applying server delete to %s: %w", fd.FileName, err)
			}
			continue
		}

		existing, err := r.working.ReadFile(fd.FileName)
		if err != nil {
			existing = nil
		}

		merged, err := diffengine.ApplyDiff(splitLines(existing), fd.ContentDiff)
		if err != nil {
			return fmt.Errorf("applying server diff to %s: %w", fd.FileName, err)
		}

		r.logger.Debug("reconcile: applying server edit", slog.String("path", fd.FileName))
		if err := r.working.DeleteFile(fd.FileName); err != nil {
			return fmt.Errorf("clearing %s before rewrite: %w", fd.FileName, err)
		}
		if err := r.working.WriteFile(fd.FileName, []byte(joinLines(merged))); err != nil {
			return fmt.Errorf("writing merged content for %s: %w", fd.FileName, err)
		}
	}

	if err := r.snap.BackupWorkingTree(); err != nil {
		return fmt.Errorf("re-backing-up merged working tree: %w", err)
	}
	return nil
}

// OutgoingDiff implements section 4.4.5: every local file_diff whose
// name is not in the both-modified conflict set becomes part of the
// outgoing version diff.
func OutgoingDiff(local []diffengine.FileDiff, conflicts map[string]bool, version int64) diffengine.VersionDiff {
	out := diffengine.VersionDiff{PrevVersion: version, CurVersion: version}
	for _, fd := range local {
		if !conflicts[fd.FileName] {
			out.EditedFiles = append(out.EditedFiles, fd)
		}
	}
	return out
}

// Run executes the full reconciliation sequence described in section
// 4.4: guard, derive the local diff, quarantine both-modified files,
// apply the server diff, and return the outgoing diff to post back.
func (r *Reconciler) Run(ctx context.Context, serverDiff diffengine.VersionDiff, version int64) (diffengine.VersionDiff, []string, error) {
	if err := r.PreSyncGuard(); err != nil {
		return diffengine.VersionDiff{}, nil, err
	}

	local, err := r.CompareWorkingBackup(ctx)
	if err != nil {
		return diffengine.VersionDiff{}, nil, fmt.Errorf("deriving local diff: %w", err)
	}

	conflicts := BothModified(local, serverDiff)
	if err := r.QuarantineConflicts(local, conflicts); err != nil {
		return diffengine.VersionDiff{}, nil, fmt.Errorf("quarantining conflicts: %w", err)
	}

	if err := r.ApplyAndRefresh(serverDiff); err != nil {
		return diffengine.VersionDiff{}, nil, fmt.Errorf("applying server diff: %w", err)
	}

	outgoing := OutgoingDiff(local, conflicts, version)

	names := make([]string, 0, len(conflicts))
	for f := range conflicts {
		names = append(names, f)
	}
	sort.Strings(names)

	r.logger.Info("reconcile: run complete",
		slog.Int("outgoing_files", len(outgoing.EditedFiles)),
		slog.Int("conflicts", len(names)))

	return outgoing, names, nil
}

// quarantineName renders "<stem>_local<ext>" for a "./"-prefixed path.
func quarantineName(relPath string) string {
	ext := filepath.Ext(relPath)
	stem := strings.TrimSuffix(relPath, ext)
	return stem + "_local" + ext
}

func splitLines(content []byte) []string {
	if len(content) == 0 {
		return nil
	}
	s := strings.TrimSuffix(string(content), "\n")
	if s == "" {
		return []string{""}
	}
	return strings.Split(s, "\n")
}

func joinLines(lines []string) string {
	if len(lines) == 0 {
		return ""
	}
	return strings.Join(lines, "\n") + "\n"
}
