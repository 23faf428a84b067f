// Package scanner enumerates a project tree, filtered by an extension
// allowlist and a set of denylisted path prefixes, following the same
// filepath.WalkDir shape as the teacher's obsidian.ScanLocal.
package scanner

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	camlerrors "github.com/camlsync/camlsync/internal/errors"
	"github.com/camlsync/camlsync/internal/vaultfs"
)

// Allowlist is the final set of synced file extensions (spec section 4.2).
var Allowlist = map[string]bool{
	".ml": true, ".mli": true, ".txt": true, ".sh": true,
	".java": true, ".c": true, ".h": true, ".md": true,
	".cpp": true, ".py": true, ".jl": true, ".m": true,
	".csv": true, ".json": true,
}

const (
	// HiddenDirName is the client's snapshot mirror directory.
	HiddenDirName = ".caml_sync"
	// ConfigFileName is the client's persisted configuration file.
	ConfigFileName = ".config"
	// HistoryPrefix names the directories materialized by `history <N>`.
	HistoryPrefix = "camlsync_history_version_"
)

// Denylisted reports whether a "./"-prefixed relative path (or its
// bare form) falls under a denylisted prefix: the hidden directory,
// the config file, or a history folder.
func Denylisted(relPath string) bool {
	rel := strings.TrimPrefix(relPath, "./")
	if rel == HiddenDirName || strings.HasPrefix(rel, HiddenDirName+"/") {
		return true
	}
	if rel == ConfigFileName {
		return true
	}
	if strings.HasPrefix(rel, HistoryPrefix) {
		return true
	}
	return false
}

// Scan walks root recursively and returns the set of paths (each
// prefixed with "./") whose extension is in Allowlist and whose path
// is not denylisted. Symlinks are skipped. Scan fails with
// ErrNotInitialized when root does not exist -- the case that matters
// in practice is scanning the hidden directory before it has been
// created by `init`.
func Scan(root string) (map[string]bool, error) {
	info, err := os.Stat(root)
	if err != nil || !info.IsDir() {
		return nil, fmt.Errorf("scanning %s: %w", root, camlerrors.ErrNotInitialized)
	}

	result := make(map[string]bool)
	err = filepath.WalkDir(root, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if path == root {
			return nil
		}

		rel, relErr := filepath.Rel(root, path)
		if relErr != nil {
			return relErr
		}
		rel = vaultfs.NormalizePath(filepath.ToSlash(rel))

		if d.IsDir() {
			if Denylisted(rel) {
				return filepath.SkipDir
			}
			return nil
		}

		if d.Type()&os.ModeSymlink != 0 {
			return nil
		}
		if Denylisted(rel) {
			return nil
		}

		ext := strings.ToLower(filepath.Ext(rel))
		if !Allowlist[ext] {
			return nil
		}

		result["./"+rel] = true
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walking %s: %w", root, err)
	}

	return result, nil
}
