// Package store implements the server-side version store: the
// config.json + version_<N>.diff persistence layout, with atomic,
// fsync-ordered writes so a crash mid-append never leaves config.json
// pointing at a version whose diff file does not exist. It follows the
// teacher's os.MkdirAll-then-os.WriteFile shape for individual file
// writes (see vaultfs.Tree, itself grounded on obsidian.Vault), with a
// temp-file-then-rename step layered on top for the append path, which
// this system's durability invariant (section 5, "no partial write may
// be observable") requires and the teacher's plain WriteFile does not.
package store

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	camlerrors "github.com/camlsync/camlsync/internal/errors"
	"github.com/camlsync/camlsync/internal/diffengine"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

const (
	configFileName = "config.json"
	diffFilePrefix = "version_"
	diffFileSuffix = ".diff"

	// DefaultPort is the port `init` writes when none is supplied.
	DefaultPort = 8080
)

// Config is the server's persisted configuration record.
type Config struct {
	ServerID string `json:"server_id"`
	URL      string `json:"url"`
	Token    string `json:"token"` // bcrypt hash, never the raw token
	Port     int    `json:"port"`
	Version  int64  `json:"version"`
}

// HistoryEntry describes one persisted version for `GET /history`.
type HistoryEntry struct {
	Version   int64   `json:"version"`
	Timestamp float64 `json:"timestamp"`
}

// Store manages the on-disk version store rooted at dir.
type Store struct {
	dir string
	mu  sync.Mutex
}

// New builds a Store rooted at dir. dir must already exist.
func New(dir string) *Store {
	return &Store{dir: dir}
}

// Init writes the default config (the given port and token, version
// 0) and emits version_0.diff as the identity diff. url is recorded
// for operator visibility; it is not otherwise interpreted server-side.
func (s *Store) Init(token, url string, port int) (Config, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	hash, err := bcrypt.GenerateFromPassword([]byte(token), bcrypt.DefaultCost)
	if err != nil {
		return Config{}, fmt.Errorf("hashing token: %w", err)
	}

	cfg := Config{
		ServerID: uuid.NewString(),
		URL:      url,
		Token:    string(hash),
		Port:     port,
		Version:  0,
	}

	identity := diffengine.VersionDiff{PrevVersion: 0, CurVersion: 0}
	if err := s.writeDiffFile(0, identity); err != nil {
		return Config{}, fmt.Errorf("writing identity diff: %w", err)
	}
	if err := s.writeConfigAtomic(cfg); err != nil {
		return Config{}, fmt.Errorf("writing config: %w", err)
	}

	return cfg, nil
}

// LoadConfig reads the current configuration.
func (s *Store) LoadConfig() (Config, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loadConfigLocked()
}

func (s *Store) loadConfigLocked() (Config, error) {
	data, err := os.ReadFile(filepath.Join(s.dir, configFileName))
	if err != nil {
		return Config{}, fmt.Errorf("reading config: %w", camlerrors.ErrNotInitialized)
	}
	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parsing config: %w", err)
	}
	return cfg, nil
}

// VerifyToken checks token against the persisted hash.
func (s *Store) VerifyToken(token string) error {
	cfg, err := s.LoadConfig()
	if err != nil {
		return err
	}
	if bcrypt.CompareHashAndPassword([]byte(cfg.Token), []byte(token)) != nil {
		return camlerrors.ErrUnauthorized
	}
	return nil
}

// CurrentVersion returns config.version.
func (s *Store) CurrentVersion() (int64, error) {
	cfg, err := s.LoadConfig()
	if err != nil {
		return 0, err
	}
	return cfg.Version, nil
}

// ReadDiff reads version_<n>.diff. Readers must treat any file whose
// number exceeds config.version as nonexistent, so callers should
// check CurrentVersion first when serving external requests.
func (s *Store) ReadDiff(n int64) (diffengine.VersionDiff, error) {
	data, err := os.ReadFile(s.diffPath(n))
	if err != nil {
		return diffengine.VersionDiff{}, fmt.Errorf("reading version %d: %w", n, camlerrors.ErrFileNotFound)
	}
	return diffengine.UnmarshalVersionDiff(data)
}

// Append persists vd as the next version: it is rewritten with
// prev_version = N and cur_version = N+1, written to version_<N+1>.diff
// before config.version is advanced, so a reader can never observe a
// config pointing past a diff file that does not yet exist.
func (s *Store) Append(vd diffengine.VersionDiff) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cfg, err := s.loadConfigLocked()
	if err != nil {
		return 0, err
	}

	next := cfg.Version + 1
	vd.PrevVersion = cfg.Version
	vd.CurVersion = next

	if err := s.writeDiffFile(next, vd); err != nil {
		return 0, fmt.Errorf("writing version %d: %w", next, err)
	}

	cfg.Version = next
	if err := s.writeConfigAtomic(cfg); err != nil {
		_ = os.Remove(s.diffPath(next))
		return 0, fmt.Errorf("advancing version: %w", err)
	}

	return next, nil
}

// History lists every version up to and including config.version, with
// each entry's timestamp taken from its diff file's modification time.
func (s *Store) History() ([]HistoryEntry, error) {
	cfg, err := s.LoadConfig()
	if err != nil {
		return nil, err
	}

	entries := make([]HistoryEntry, 0, cfg.Version+1)
	for n := int64(0); n <= cfg.Version; n++ {
		info, err := os.Stat(s.diffPath(n))
		if err != nil {
			return nil, fmt.Errorf("stat version %d: %w", n, err)
		}
		entries = append(entries, HistoryEntry{
			Version:   n,
			Timestamp: float64(info.ModTime().UnixNano()) / float64(time.Second),
		})
	}
	return entries, nil
}

func (s *Store) diffPath(n int64) string {
	return filepath.Join(s.dir, fmt.Sprintf("%s%d%s", diffFilePrefix, n, diffFileSuffix))
}

// writeDiffFile writes a diff file via a temp-name-then-rename so a
// crash mid-write never leaves a truncated version_<n>.diff visible.
func (s *Store) writeDiffFile(n int64, vd diffengine.VersionDiff) error {
	data, err := diffengine.MarshalVersionDiff(vd)
	if err != nil {
		return err
	}
	return writeFileAtomic(s.diffPath(n), data)
}

func (s *Store) writeConfigAtomic(cfg Config) error {
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}
	return writeFileAtomic(filepath.Join(s.dir, configFileName), data)
}

// writeFileAtomic writes data to a randomly-named temp file in the
// same directory as path, fsyncs it, then renames it into place and
// fsyncs the containing directory so the rename itself is durable.
func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	tmp := filepath.Join(dir, "."+filepath.Base(path)+"."+randomSuffix()+".tmp")

	f, err := os.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("writing temp file: %w", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("syncing temp file: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("closing temp file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("renaming into place: %w", err)
	}

	if dirF, err := os.Open(dir); err == nil {
		_ = dirF.Sync()
		_ = dirF.Close()
	}
	return nil
}

func randomSuffix() string {
	var b [8]byte
	_, _ = rand.Read(b[:])
	return hex.EncodeToString(b[:])
}
