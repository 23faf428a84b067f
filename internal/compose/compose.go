// Package compose implements the server-side version composer:
// replaying persisted per-version diffs to derive a single combined
// diff spanning an arbitrary version range, built directly on
// internal/diffengine's ApplyDiff/CalcDiff (see section 4.7).
package compose

import (
	"fmt"
	"slices"

	"github.com/camlsync/camlsync/internal/diffengine"
)

// DiffReader reads a single persisted version_<n>.diff. Satisfied by
// *store.Store.
type DiffReader interface {
	ReadDiff(n int64) (diffengine.VersionDiff, error)
}

// tree is an in-memory file-name -> line-content snapshot used while
// replaying diffs.
type tree map[string][]string

// replayFrom replays diffs numbered lo..hi (inclusive) against base,
// returning the resulting state. base is not mutated.
func replayFrom(r DiffReader, base tree, lo, hi int64) (tree, error) {
	state := make(tree, len(base))
	for k, v := range base {
		state[k] = v
	}

	for n := lo; n <= hi; n++ {
		vd, err := r.ReadDiff(n)
		if err != nil {
			return nil, fmt.Errorf("reading version %d: %w", n, err)
		}
		for _, fd := range vd.EditedFiles {
			if fd.IsDeleted {
				delete(state, fd.FileName)
				continue
			}
			merged, err := diffengine.ApplyDiff(state[fd.FileName], fd.ContentDiff)
			if err != nil {
				return nil, fmt.Errorf("applying version %d file %s: %w", n, fd.FileName, err)
			}
			state[fd.FileName] = merged
		}
	}
	return state, nil
}

// Compose builds the version diff that carries a client at version
// `from` up to version `to`, per section 4.7: replay 1..from against
// the empty tree to get the pre-state, continue replaying from+1..to
// to get the post-state, then diff the two states file by file.
func Compose(r DiffReader, from, to int64) (diffengine.VersionDiff, error) {
	if from < 0 || to < from {
		return diffengine.VersionDiff{}, fmt.Errorf("invalid range [%d,%d]", from, to)
	}

	pre, err := replayFrom(r, tree{}, 1, from)
	if err != nil {
		return diffengine.VersionDiff{}, fmt.Errorf("building pre-state: %w", err)
	}

	post, err := replayFrom(r, pre, from+1, to)
	if err != nil {
		return diffengine.VersionDiff{}, fmt.Errorf("building post-state: %w", err)
	}

	result := diffengine.VersionDiff{PrevVersion: from, CurVersion: to}

	seen := make(map[string]bool, len(pre)+len(post))
	for name := range pre {
		seen[name] = true
	}
	for name := range post {
		seen[name] = true
	}

	for name := range seen {
		preLines, inPre := pre[name]
		postLines, inPost := post[name]

		switch {
		case inPre && !inPost:
			result.EditedFiles = append(result.EditedFiles, diffengine.FileDiff{
				FileName: name, IsDeleted: true, ContentDiff: diffengine.Empty,
			})
		case !inPre && inPost:
			result.EditedFiles = append(result.EditedFiles, diffengine.FileDiff{
				FileName: name, IsDeleted: false, ContentDiff: diffengine.CalcDiff(nil, postLines),
			})
		case inPre && inPost:
			if !slices.Equal(preLines, postLines) {
				result.EditedFiles = append(result.EditedFiles, diffengine.FileDiff{
					FileName: name, IsDeleted: false, ContentDiff: diffengine.CalcDiff(preLines, postLines),
				})
			}
		}
	}

	return result, nil
}
