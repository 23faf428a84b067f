// Package cliclient implements the sync client's command surface
// (section 6.2), the way the teacher's cmd/vault-sync/main.go keeps
// its command logic in testable functions taking a logger and
// returning an error, rather than calling os.Exit directly.
package cliclient

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/camlsync/camlsync/internal/config"
	"github.com/camlsync/camlsync/internal/diffengine"
	camlerrors "github.com/camlsync/camlsync/internal/errors"
	"github.com/camlsync/camlsync/internal/hashcache"
	"github.com/camlsync/camlsync/internal/protocol"
	"github.com/camlsync/camlsync/internal/reconcile"
	"github.com/camlsync/camlsync/internal/scanner"
	"github.com/camlsync/camlsync/internal/snapshot"
	"github.com/camlsync/camlsync/internal/vaultfs"
	"github.com/sergi/go-diff/diffmatchpatch"
)

const (
	configFileName = ".config"
	defaultURL     = "127.0.0.1:8080"
	defaultToken   = "default"
)

var localSuffixPattern = regexp.MustCompile(`_local\.[A-Za-z0-9]+$`)

// App runs client CLI commands against a working tree rooted at Root.
type App struct {
	Root       string
	Logger     *slog.Logger
	HTTPClient *http.Client // nil uses the default transport
	Out        io.Writer
}

// New builds an App rooted at root, writing command output to stdout.
func New(root string, logger *slog.Logger) *App {
	return &App{Root: root, Logger: logger, Out: os.Stdout}
}

func (a *App) configPath() string { return filepath.Join(a.Root, configFileName) }
func (a *App) hiddenDir() string  { return filepath.Join(a.Root, scanner.HiddenDirName) }
func (a *App) hashCachePath() string {
	return filepath.Join(a.hiddenDir(), "hashcache.db")
}

func (a *App) trees() (*vaultfs.Tree, *vaultfs.Tree) {
	return vaultfs.New(a.Root), vaultfs.New(a.hiddenDir())
}

// Run dispatches a parsed argv (excluding argv[0]) to the matching
// command.
func (a *App) Run(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return a.Sync(ctx)
	}

	switch args[0] {
	case "init":
		return a.Init(ctx, args[1:])
	case "clean":
		return a.Clean()
	case "checkout":
		return a.Checkout()
	case "status":
		return a.Status(ctx)
	case "history":
		return a.History(ctx, args[1:])
	case "conflict":
		return a.Conflict(args[1:])
	case "help":
		a.Help()
		return nil
	default:
		return fmt.Errorf("%w: unknown command %q", camlerrors.ErrInvalidArgument, args[0])
	}
}

// Help prints usage (section 6.2).
func (a *App) Help() {
	fmt.Fprintln(a.Out, `camlsync commands:
  (none)              sync against server
  init [<url> <token>] create .config, create hidden dir, perform first sync
  clean               remove .config, hidden dir, *_local files, history folders
  checkout            overwrite working tree with snapshot tree
  status              print current version and per-file modified/deleted list
  history list        print server history log
  history <N>         download version N as a standalone tree
  history clean       remove all history folders
  conflict            list files currently quarantined with _local
  conflict clean      delete all _local files
  help                print usage`)
}

// Init creates .config and the hidden directory, then performs the
// first sync. args is either empty (defaults apply) or [url, token].
func (a *App) Init(ctx context.Context, args []string) error {
	url, token := defaultURL, defaultToken
	if len(args) == 2 {
		url, token = args[0], args[1]
	} else if len(args) != 0 {
		return fmt.Errorf("%w: init takes zero or two arguments (url, token)", camlerrors.ErrInvalidArgument)
	}
	if !strings.Contains(url, "://") {
		url = "http://" + url
	}

	cfg := config.NewClientConfig(url, token)
	if err := cfg.Save(a.configPath()); err != nil {
		return fmt.Errorf("writing client config: %w", err)
	}

	_, hidden := a.trees()
	if err := hidden.MkdirAll("."); err != nil {
		return fmt.Errorf("creating hidden directory: %w", err)
	}

	a.Logger.Info("initialized", slog.String("url", url), slog.String("client_id", cfg.ClientID))
	return a.Sync(ctx)
}

// Sync performs one full reconciliation sequence against the server
// (the default command).
func (a *App) Sync(ctx context.Context) error {
	cfg, err := config.LoadClientConfig(a.configPath())
	if err != nil {
		return err
	}

	client := protocol.NewClient(cfg.URL, cfg.Token, a.HTTPClient)
	working, hidden := a.trees()

	cache, err := hashcache.Open(a.hashCachePath())
	if err != nil {
		return fmt.Errorf("opening hash cache: %w", err)
	}
	defer cache.Close()
	r := reconcile.NewWithCache(working, hidden, cache, a.Logger)

	latest, err := client.GetLatestVersion(ctx)
	if err != nil {
		return fmt.Errorf("checking server version: %w", err)
	}

	serverDiff := diffengine.VersionDiff{PrevVersion: cfg.Version, CurVersion: cfg.Version}
	if latest > cfg.Version {
		serverDiff, err = client.GetUpdateDiff(ctx, cfg.Version)
		if err != nil {
			return fmt.Errorf("fetching update diff: %w", err)
		}
	}

	outgoing, conflicts, err := r.Run(ctx, serverDiff, serverDiff.CurVersion)
	if err != nil {
		return fmt.Errorf("reconciling: %w", err)
	}

	newVersion := serverDiff.CurVersion
	if len(outgoing.EditedFiles) > 0 {
		newVersion, err = client.PostLocalDiff(ctx, outgoing)
		if err != nil {
			return fmt.Errorf("pushing local changes: %w", err)
		}
	}

	cfg.Version = newVersion
	if err := cfg.Save(a.configPath()); err != nil {
		return fmt.Errorf("saving client config: %w", err)
	}

	if len(conflicts) > 0 {
		fmt.Fprintf(a.Out, "sync complete at version %d, %d conflict(s) quarantined:\n", newVersion, len(conflicts))
		for _, c := range conflicts {
			fmt.Fprintf(a.Out, "  %s\n", c)
		}
	} else {
		fmt.Fprintf(a.Out, "sync complete at version %d\n", newVersion)
	}
	return nil
}

// Clean removes .config, the hidden directory, all *_local.<ext>
// files, and all history folders.
func (a *App) Clean() error {
	if err := os.Remove(a.configPath()); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("removing config: %w", err)
	}
	if err := os.RemoveAll(a.hiddenDir()); err != nil {
		return fmt.Errorf("removing hidden directory: %w", err)
	}
	if err := a.removeLocalArtifacts(); err != nil {
		return err
	}
	return a.cleanHistoryFolders()
}

func (a *App) removeLocalArtifacts() error {
	paths, err := scanner.Scan(a.Root)
	if err != nil {
		return fmt.Errorf("scanning working tree: %w", err)
	}
	for p := range paths {
		if localSuffixPattern.MatchString(p) {
			if err := os.Remove(filepath.Join(a.Root, strings.TrimPrefix(p, "./"))); err != nil && !os.IsNotExist(err) {
				return fmt.Errorf("removing %s: %w", p, err)
			}
		}
	}
	return nil
}

func (a *App) cleanHistoryFolders() error {
	entries, err := os.ReadDir(a.Root)
	if err != nil {
		return fmt.Errorf("listing root: %w", err)
	}
	for _, e := range entries {
		if e.IsDir() && strings.HasPrefix(e.Name(), scanner.HistoryPrefix) {
			if err := os.RemoveAll(filepath.Join(a.Root, e.Name())); err != nil {
				return fmt.Errorf("removing history folder %s: %w", e.Name(), err)
			}
		}
	}
	return nil
}

// Checkout overwrites the working tree with the snapshot tree,
// discarding local changes.
func (a *App) Checkout() error {
	working, hidden := a.trees()
	snap := snapshot.New(working, hidden)

	snapPaths, err := snap.SnapshotPaths()
	if err != nil {
		return fmt.Errorf("scanning snapshot: %w", err)
	}
	workingPaths, err := scanner.Scan(working.Dir())
	if err != nil {
		return fmt.Errorf("scanning working tree: %w", err)
	}

	for p := range workingPaths {
		if !snapPaths[p] {
			if err := working.DeleteFile(p); err != nil {
				return fmt.Errorf("removing %s: %w", p, err)
			}
		}
	}
	for p := range snapPaths {
		content, err := hidden.ReadFile(p)
		if err != nil {
			return fmt.Errorf("reading snapshot copy of %s: %w", p, err)
		}
		if err := working.WriteFile(p, content); err != nil {
			return fmt.Errorf("restoring %s: %w", p, err)
		}
	}
	return nil
}

// Status prints the current version and per-file modified/deleted
// summary of the pending local diff.
func (a *App) Status(ctx context.Context) error {
	cfg, err := config.LoadClientConfig(a.configPath())
	if err != nil {
		return err
	}

	working, hidden := a.trees()
	r := reconcile.New(working, hidden, a.Logger)
	local, err := r.CompareWorkingBackup(ctx)
	if err != nil {
		return fmt.Errorf("comparing trees: %w", err)
	}

	fmt.Fprintf(a.Out, "version %d\n", cfg.Version)
	for _, fd := range local {
		if fd.IsDeleted {
			fmt.Fprintf(a.Out, "  deleted  %s\n", fd.FileName)
			continue
		}
		base, _ := hidden.ReadFile(fd.FileName)
		cur, _ := working.ReadFile(fd.FileName)
		added, removed := lineChangeCounts(splitLines(base), splitLines(cur))
		fmt.Fprintf(a.Out, "  modified %s (+%d/-%d)\n", fd.FileName, added, removed)
	}
	return nil
}

// History dispatches `history list|<N>|clean`.
func (a *App) History(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("%w: history requires exactly one argument", camlerrors.ErrInvalidArgument)
	}

	switch args[0] {
	case "list":
		return a.historyList(ctx)
	case "clean":
		return a.cleanHistoryFolders()
	default:
		n, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			return fmt.Errorf("%w: history argument must be \"list\", \"clean\", or an integer version", camlerrors.ErrInvalidArgument)
		}
		return a.historyMaterialize(ctx, n)
	}
}

func (a *App) historyList(ctx context.Context) error {
	cfg, err := config.LoadClientConfig(a.configPath())
	if err != nil {
		return err
	}
	client := protocol.NewClient(cfg.URL, cfg.Token, a.HTTPClient)

	log, err := client.GetHistory(ctx)
	if err != nil {
		return fmt.Errorf("fetching history: %w", err)
	}
	for _, entry := range log {
		fmt.Fprintf(a.Out, "  version %d  %.0f\n", entry.Version, entry.Timestamp)
	}
	return nil
}

func (a *App) historyMaterialize(ctx context.Context, n int64) error {
	cfg, err := config.LoadClientConfig(a.configPath())
	if err != nil {
		return err
	}
	client := protocol.NewClient(cfg.URL, cfg.Token, a.HTTPClient)

	vd, err := client.GetDiffRange(ctx, 0, n)
	if err != nil {
		return fmt.Errorf("fetching version %d: %w", n, err)
	}

	dest := vaultfs.New(filepath.Join(a.Root, fmt.Sprintf("%s%d", scanner.HistoryPrefix, n)))
	if err := dest.MkdirAll("."); err != nil {
		return fmt.Errorf("creating history folder: %w", err)
	}
	for _, fd := range vd.EditedFiles {
		if fd.IsDeleted {
			continue
		}
		content, err := diffengine.ApplyDiff(nil, fd.ContentDiff)
		if err != nil {
			return fmt.Errorf("materializing %s: %w", fd.FileName, err)
		}
		if err := dest.WriteFile(fd.FileName, []byte(joinLines(content))); err != nil {
			return fmt.Errorf("writing %s: %w", fd.FileName, err)
		}
	}
	fmt.Fprintf(a.Out, "materialized version %d at ./%s%d/\n", n, scanner.HistoryPrefix, n)
	return nil
}

// Conflict dispatches `conflict` (list) and `conflict clean`.
func (a *App) Conflict(args []string) error {
	if len(args) == 1 && args[0] == "clean" {
		return a.removeLocalArtifacts()
	}
	if len(args) != 0 {
		return fmt.Errorf("%w: conflict takes no arguments or \"clean\"", camlerrors.ErrInvalidArgument)
	}

	paths, err := scanner.Scan(a.Root)
	if err != nil {
		return fmt.Errorf("scanning working tree: %w", err)
	}
	var quarantined []string
	for p := range paths {
		if localSuffixPattern.MatchString(p) {
			quarantined = append(quarantined, p)
		}
	}
	sort.Strings(quarantined)
	for _, p := range quarantined {
		fmt.Fprintln(a.Out, p)
	}
	return nil
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

// lineChangeCounts reports added/removed line counts for a friendlier
// `status` summary. Display only -- never touches the wire diff.
func lineChangeCounts(oldLines, newLines []string) (added, removed int) {
	dmp := diffmatchpatch.New()
	oldText := joinLines(oldLines)
	newText := joinLines(newLines)

	a1, b1, lines := dmp.DiffLinesToChars(oldText, newText)
	diffs := dmp.DiffMain(a1, b1, false)
	diffs = dmp.DiffCharsToLines(diffs, lines)

	for _, d := range diffs {
		n := strings.Count(d.Text, "\n")
		if d.Text != "" && !strings.HasSuffix(d.Text, "\n") {
			n++
		}
		switch d.Type {
		case diffmatchpatch.DiffInsert:
			added += n
		case diffmatchpatch.DiffDelete:
			removed += n
		}
	}
	return added, removed
}
