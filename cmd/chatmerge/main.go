package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/wesm/chatmerge/internal/chatlog"
	"github.com/wesm/chatmerge/internal/config"
	"github.com/wesm/chatmerge/internal/db"
	"github.com/wesm/chatmerge/internal/sync"
)

var (
	version   = "dev"
	commit    = "unknown"
	buildDate = ""
)

const (
	periodicSyncInterval = 15 * time.Minute
	watcherDebounce      = 500 * time.Millisecond
)

const (
	dryRunBanner         = "=== DRY RUN MODE - No changes will be made ==="
	dryRunCompleteBanner = "=== DRY RUN COMPLETE - No actual changes were made ==="
)

func main() {
	if len(os.Args) > 1 {
		switch os.Args[1] {
		case "sync":
			runSync(os.Args[2:])
			return
		case "watch":
			runWatch(os.Args[2:])
			return
		case "status":
			runStatus(os.Args[2:])
			return
		case "version", "--version":
			fmt.Printf("chatmerge %s (commit %s, built %s)\n",
				version, commit, buildDate)
			return
		case "help", "--help", "-h":
			printUsage()
			return
		}
	}

	runSync(os.Args[1:])
}

func printUsage() {
	fmt.Printf(`chatmerge %s - merge Second Life chat logs across machines

Merges the chat logs of every configured viewer directory into one
time-ordered, de-duplicated history and writes it back to each
writable directory.

Usage:
  chatmerge [flags] [filters...]        Merge once (default command)
  chatmerge sync [flags] [filters...]   Merge once (explicit)
  chatmerge watch [flags] [filters...]  Merge, then re-merge on change
  chatmerge status [flags] [paths...]   Show recorded merge state
  chatmerge version                     Show version information
  chatmerge help                        Show this help

Merge flags:
  -v, -verbose        Show all operations
  -n, -dry-run        Show what would be done without making changes
  -f, -force          Process files even if all copies have equal size
  -workers int        Files merged in parallel (0 = automatic)

Filters keep only files whose relative path contains one of the
given substrings, case-insensitively:
  chatmerge "Jane Doe"          Only Jane Doe's chat logs
  chatmerge -n "Group"          Preview changes to group chats

Status flags:
  -verify             Compare recorded hashes with files on disk
  -clear-failures     Forget recorded failures

Environment variables:
  CHATMERGE_DATA_DIR  Data directory (config.json, state.db)
  CHATMERGE_FILTERS   Default filters, shell-quoted

Directories are configured in ~/.chatmerge/config.json:
  {"directories": [{"path": "~/Dropbox/SL-Chat/", "mode": "rw"}]}
Use "r" for read-only, "w" for write-only, "rw" for read-write.
`, version)
}

func mustLoadConfig(name string, args []string) config.Config {
	fs := flag.NewFlagSet(name, flag.ExitOnError)
	fs.Usage = func() {
		fmt.Fprintf(fs.Output(),
			"Usage: chatmerge %s [flags] [filters...]\n\nFlags:\n",
			name)
		fs.PrintDefaults()
	}
	config.RegisterSyncFlags(fs)
	if err := config.ParseFlags(fs, args); err != nil {
		log.Fatalf("parsing flags: %v", err)
	}

	cfg, err := config.Load(fs)
	if err != nil {
		log.Fatalf("loading config: %v", err)
	}
	return cfg
}

// Runner performs merge runs, writing progress to Out and errors
// to Err.
type Runner struct {
	Out io.Writer
	Err io.Writer
}

// setup validates cfg and builds an engine over the directories
// present on this machine. The returned close func releases the
// state database.
func (r *Runner) setup(
	cfg config.Config, logger *sync.Logger,
) (*sync.Engine, func(), error) {
	if err := cfg.Validate(); err != nil {
		return nil, nil, err
	}
	roots, err := sync.ResolveRoots(cfg.Directories, logger)
	if err != nil {
		return nil, nil, err
	}
	if err := sync.CheckRoots(roots); err != nil {
		return nil, nil, err
	}

	var store sync.Store
	closeStore := func() {}
	if !cfg.DryRun {
		if database := openStateDB(cfg); database != nil {
			store = database
			closeStore = func() { database.Close() }
		}
	}

	engine := sync.NewEngine(roots, store, sync.Options{
		DryRun:  cfg.DryRun,
		Force:   cfg.Force,
		Workers: cfg.Workers,
		Discover: sync.DiscoverOptions{
			ExcludedFiles: cfg.ExcludedFiles,
			ExcludedDirs:  cfg.ExcludedDirs,
			Filters:       cfg.Filters,
		},
	}, logger)
	return engine, closeStore, nil
}

// Sync runs one full merge.
func (r *Runner) Sync(ctx context.Context, cfg config.Config) error {
	if cfg.DryRun {
		fmt.Fprintln(r.Out, dryRunBanner)
	}
	logger := sync.NewLogger(r.Out, cfg.Verbose)
	engine, closeStore, err := r.setup(cfg, logger)
	if err != nil {
		return err
	}
	defer closeStore()

	if _, err := engine.SyncAll(ctx, printSyncProgress(logger)); err != nil {
		return err
	}
	if cfg.DryRun {
		fmt.Fprintln(r.Out, dryRunCompleteBanner)
	} else {
		fmt.Fprintln(r.Out, "Sync complete!")
	}
	return nil
}

// openStateDB opens the merge state database. State is advisory, so
// failures are logged and the run continues without it.
func openStateDB(cfg config.Config) *db.DB {
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		log.Printf("warning: creating data dir: %v", err)
		return nil
	}
	database, err := db.Open(cfg.StatePath)
	if err != nil {
		log.Printf("warning: opening state database: %v", err)
		return nil
	}
	return database
}

func printSyncProgress(logger *sync.Logger) sync.ProgressFunc {
	current := ""
	return func(p sync.Progress) {
		if p.Phase != sync.PhaseSyncing {
			return
		}
		if p.CurrentGroup == "" {
			logger.Infof(
				"Processing %d files across %d user directories...",
				p.FilesTotal, p.GroupsTotal,
			)
			return
		}
		if p.CurrentGroup != current {
			current = p.CurrentGroup
			logger.Infof("  %s: %d file(s)",
				p.CurrentGroup, p.GroupFiles)
		}
	}
}

// reportError prints err the way a failed run ends. Malformed
// timestamps get a second line since the run stopped before
// touching later files.
func reportError(w io.Writer, err error) {
	fmt.Fprintf(w, "ERROR: %v\n", err)
	if errors.Is(err, chatlog.ErrMalformedTimestamp) {
		fmt.Fprintln(w,
			"ERROR: Stopping processing to avoid data corruption.")
	}
}

func runSync(args []string) {
	cfg := mustLoadConfig("sync", args)

	ctx, stop := signal.NotifyContext(
		context.Background(), os.Interrupt, syscall.SIGTERM,
	)
	defer stop()

	r := &Runner{Out: os.Stdout, Err: os.Stderr}
	if err := r.Sync(ctx, cfg); err != nil {
		reportError(r.Err, err)
		stop()
		os.Exit(1)
	}
}

func runWatch(args []string) {
	cfg := mustLoadConfig("watch", args)

	ctx, stop := signal.NotifyContext(
		context.Background(), os.Interrupt, syscall.SIGTERM,
	)
	defer stop()

	r := &Runner{Out: os.Stdout, Err: os.Stderr}
	if err := r.Watch(ctx, cfg); err != nil {
		reportError(r.Err, err)
		stop()
		os.Exit(1)
	}
}

// Watch runs a full merge, then re-merges changed files until ctx
// is cancelled. Merge errors after the initial run are reported
// and recorded but do not stop watching.
func (r *Runner) Watch(ctx context.Context, cfg config.Config) error {
	if cfg.DryRun {
		fmt.Fprintln(r.Out, dryRunBanner)
	}
	logger := sync.NewLogger(r.Out, cfg.Verbose)
	engine, closeStore, err := r.setup(cfg, logger)
	if err != nil {
		return err
	}
	defer closeStore()

	logger.Infof("Running initial sync...")
	if _, err := engine.SyncAll(ctx, printSyncProgress(logger)); err != nil {
		return err
	}

	stopWatcher := r.startFileWatcher(ctx, engine)
	defer stopWatcher()

	go r.startPeriodicSync(ctx, engine)

	logger.Infof("Watching for changes (Ctrl+C to stop)...")
	<-ctx.Done()
	logger.Infof("Stopped.")
	return nil
}

func (r *Runner) startFileWatcher(
	ctx context.Context, engine *sync.Engine,
) func() {
	onChange := func(paths []string) {
		if _, err := engine.SyncPaths(ctx, paths); err != nil &&
			ctx.Err() == nil {
			reportError(r.Err, err)
		}
	}
	watcher, err := sync.NewWatcher(watcherDebounce, onChange)
	if err != nil {
		log.Printf("warning: file watcher unavailable: %v", err)
		return func() {}
	}
	watcher.SetSkipDir(engine.SkipDir)

	for _, root := range engine.Roots() {
		if !root.Mode.Readable() {
			continue
		}
		watched, unwatched, err := watcher.WatchRecursive(root.Path)
		if err != nil {
			log.Printf("warning: watching %s: %v", root.Path, err)
			continue
		}
		if unwatched > 0 {
			log.Printf("warning: %s: %d of %d directories not watched",
				root.Path, unwatched, watched+unwatched)
		}
	}
	watcher.Start()
	return watcher.Stop
}

func (r *Runner) startPeriodicSync(
	ctx context.Context, engine *sync.Engine,
) {
	ticker := time.NewTicker(periodicSyncInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			log.Println("Running scheduled sync...")
			if _, err := engine.SyncAll(ctx, nil); err != nil &&
				ctx.Err() == nil {
				reportError(r.Err, err)
			}
		}
	}
}
