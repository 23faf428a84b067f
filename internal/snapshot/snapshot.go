// Package snapshot maintains the hidden mirror tree that records the
// last-synced state of the working tree, following the same
// copy-and-overwrite approach as the teacher's local mirror handling
// in obsidian/scanner.go, but rooted at the sync client's hidden
// directory instead of an Obsidian vault's plugin storage.
package snapshot

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/camlsync/camlsync/internal/hashcache"
	"github.com/camlsync/camlsync/internal/scanner"
	"github.com/camlsync/camlsync/internal/vaultfs"
)

// Store manages the hidden snapshot tree paired with a working tree.
type Store struct {
	working *vaultfs.Tree
	hidden  *vaultfs.Tree
	cache   *hashcache.Cache
}

// New builds a Store given the working tree root and the hidden
// snapshot directory (typically <root>/.caml_sync).
func New(working, hidden *vaultfs.Tree) *Store {
	return &Store{working: working, hidden: hidden}
}

// NewWithCache builds a Store the same way as New, but memoizes each
// backed-up file's (mtime, size) -> hash so BackupWorkingTree can skip
// re-reading and re-writing files that have not changed since the
// last backup, the same trade the teacher's local scanner memoization
// makes in obsidian/scanner.go.
func NewWithCache(working, hidden *vaultfs.Tree, cache *hashcache.Cache) *Store {
	return &Store{working: working, hidden: hidden, cache: cache}
}

// BackupWorkingTree copies every non-denylisted working-tree file into
// the hidden tree at the same relative path, overwriting whatever was
// there and creating intermediate directories as needed. Files whose
// (mtime, size) match the last recorded backup are skipped, provided
// the hidden tree already holds a copy at that path.
func (s *Store) BackupWorkingTree() error {
	paths, err := scanner.Scan(s.working.Dir())
	if err != nil {
		return fmt.Errorf("scanning working tree: %w", err)
	}

	for p := range paths {
		if s.unchangedSinceLastBackup(p) {
			continue
		}

		data, err := s.working.ReadFile(p)
		if err != nil {
			return fmt.Errorf("reading working file %s: %w", p, err)
		}
		if err := s.hidden.WriteFile(p, data); err != nil {
			return fmt.Errorf("writing snapshot file %s: %w", p, err)
		}
		if err := s.recordBackup(p, data); err != nil {
			return fmt.Errorf("recording hash cache entry for %s: %w", p, err)
		}
	}
	return nil
}

func (s *Store) unchangedSinceLastBackup(relPath string) bool {
	if s.cache == nil || !s.hidden.Exists(relPath) {
		return false
	}
	info, err := s.working.Stat(relPath)
	if err != nil {
		return false
	}
	_, fresh := s.cache.Fresh(relPath, info.ModTime().UnixNano(), info.Size())
	return fresh
}

func (s *Store) recordBackup(relPath string, data []byte) error {
	if s.cache == nil {
		return nil
	}
	info, err := s.working.Stat(relPath)
	if err != nil {
		return nil
	}
	sum := sha256.Sum256(data)
	return s.cache.Set(relPath, hashcache.Entry{
		MTime: info.ModTime().UnixNano(),
		Size:  info.Size(),
		Hash:  hex.EncodeToString(sum[:]),
	})
}

// ClearSnapshot recursively removes the hidden tree and recreates it
// empty.
func (s *Store) ClearSnapshot() error {
	if err := s.hidden.RemoveAll("."); err != nil {
		return fmt.Errorf("clearing snapshot: %w", err)
	}
	if err := s.hidden.MkdirAll("."); err != nil {
		return fmt.Errorf("recreating snapshot directory: %w", err)
	}
	return nil
}

// SnapshotPaths returns the set of paths currently mirrored in the
// hidden tree, in the same "./"-prefixed shape as working-tree paths.
func (s *Store) SnapshotPaths() (map[string]bool, error) {
	paths, err := scanner.Scan(s.hidden.Dir())
	if err != nil {
		return nil, fmt.Errorf("scanning snapshot tree: %w", err)
	}
	return paths, nil
}
