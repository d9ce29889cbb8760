package sync

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log"
	"os"
	"path/filepath"
	"runtime"
	"slices"
	"strings"
	gosync "sync"
	"time"

	"github.com/wesm/chatmerge/internal/chatlog"
	"github.com/wesm/chatmerge/internal/db"
)

const maxWorkers = 8

var (
	ErrNoRoots         = errors.New("no configured directories found on this system")
	ErrNoReadableRoots = errors.New("no readable directories (r or rw) found")
	ErrNoWritableRoots = errors.New("no writable directories (w or rw) found")
)

// CheckRoots verifies that at least one root can be read from and
// one written to.
func CheckRoots(roots []Root) error {
	if len(roots) == 0 {
		return ErrNoRoots
	}
	if !slices.ContainsFunc(roots, func(r Root) bool {
		return r.Mode.Readable()
	}) {
		return ErrNoReadableRoots
	}
	if !slices.ContainsFunc(roots, func(r Root) bool {
		return r.Mode.Writable()
	}) {
		return ErrNoWritableRoots
	}
	return nil
}

// Store persists per-file merge outcomes. *db.DB satisfies it.
type Store interface {
	RecordMerge(db.MergeRecord) error
	RecordFailure(db.Failure) error
}

// Options controls a merge run.
type Options struct {
	DryRun   bool
	Force    bool // merge even when every copy has the same size
	Workers  int  // 0 picks a value from the CPU count
	Discover DiscoverOptions
}

// Engine merges logical files across roots and writes the result
// back to every writable root.
type Engine struct {
	roots  []Root
	store  Store
	opts   Options
	log    *Logger
	syncMu gosync.Mutex // serializes runs
	now    func() time.Time
}

// NewEngine creates a sync engine. store may be nil, in which case
// no merge state is recorded.
func NewEngine(
	roots []Root, store Store, opts Options, logger *Logger,
) *Engine {
	if logger == nil {
		logger = NewLogger(nil, false)
	}
	return &Engine{
		roots: roots,
		store: store,
		opts:  opts,
		log:   logger,
		now:   time.Now,
	}
}

// Roots returns the directories the engine operates on.
func (e *Engine) Roots() []Root {
	return e.roots
}

// SyncAll discovers every chat log in the readable roots and
// merges them one user directory at a time. The first file that
// fails to merge stops the run: nothing is written for it or for
// any file after it, and the error is returned.
func (e *Engine) SyncAll(
	ctx context.Context, onProgress ProgressFunc,
) (SyncStats, error) {
	e.syncMu.Lock()
	defer e.syncMu.Unlock()

	report := func(p Progress) {
		if onProgress != nil {
			onProgress(p)
		}
	}

	report(Progress{Phase: PhaseDiscovering})
	files := Discover(e.roots, e.opts.Discover, e.log)
	e.log.Infof("Discovered %d unique chat log files", len(files))

	stats := SyncStats{Total: len(files)}
	if len(files) == 0 {
		e.log.Infof("No chat log files found to process")
		report(Progress{Phase: PhaseDone})
		return stats, nil
	}

	order, groups := groupByUser(files)
	progress := Progress{
		Phase:       PhaseSyncing,
		FilesTotal:  len(files),
		GroupsTotal: len(order),
	}
	report(progress)

	for _, user := range order {
		group := groups[user]
		progress.CurrentGroup = user
		progress.GroupFiles = len(group)
		report(progress)

		err := e.mergeFiles(ctx, group, &stats,
			func(FileResult) {
				progress.FilesDone++
				report(progress)
			})
		if err != nil {
			return stats, err
		}
		progress.GroupsDone++
	}

	progress.Phase = PhaseDone
	report(progress)
	return stats, nil
}

// SyncPaths merges only the logical files behind the given changed
// paths. Paths outside the roots, non-.txt files, excluded files,
// and files not matching the filters are ignored.
func (e *Engine) SyncPaths(
	ctx context.Context, paths []string,
) (SyncStats, error) {
	rels := e.classifyPaths(paths)
	if len(rels) == 0 {
		return SyncStats{}, nil
	}

	e.syncMu.Lock()
	defer e.syncMu.Unlock()

	stats := SyncStats{Total: len(rels)}
	err := e.mergeFiles(ctx, rels, &stats, nil)
	if stats.Updated > 0 {
		log.Printf("sync: %d file(s) updated", stats.Updated)
	}
	return stats, err
}

// classifyPaths maps changed file system paths to relative chat
// log paths.
func (e *Engine) classifyPaths(paths []string) []string {
	seen := make(map[string]struct{})
	for _, p := range paths {
		for _, root := range e.roots {
			rel, ok := isUnder(root.Path, p)
			if !ok {
				continue
			}
			rel = filepath.ToSlash(rel)
			if !strings.HasSuffix(rel, ".txt") ||
				e.opts.Discover.Excluded(rel) ||
				!e.opts.Discover.Matches(rel) {
				break
			}
			seen[rel] = struct{}{}
			break
		}
	}
	rels := make([]string, 0, len(seen))
	for rel := range seen {
		rels = append(rels, rel)
	}
	slices.Sort(rels)
	return rels
}

// SkipDir reports whether dir lies in an excluded directory of one
// of the roots. Watchers use it to avoid viewer system folders.
func (e *Engine) SkipDir(dir string) bool {
	for _, root := range e.roots {
		if rel, ok := isUnder(root.Path, dir); ok {
			rel = strings.ToLower(filepath.ToSlash(rel)) + "/"
			return e.opts.Discover.inExcludedDir(rel)
		}
	}
	return false
}

// MergeFile merges a single logical file and writes the result.
func (e *Engine) MergeFile(rel string) (FileResult, error) {
	e.syncMu.Lock()
	defer e.syncMu.Unlock()
	p := e.prepare(rel)
	if p.err != nil {
		e.recordFailure(rel, p.err)
		return FileResult{RelPath: rel}, p.err
	}
	return e.commit(p)
}

type prepared struct {
	rel    string
	skip   bool
	merged string
	err    error
}

type indexedResult struct {
	idx int
	prepared
}

func (e *Engine) workerCount(files int) int {
	n := e.opts.Workers
	if n <= 0 {
		n = min(max(runtime.NumCPU(), 2), maxWorkers)
	}
	return max(min(n, files), 1)
}

// startWorkers fans reading and merging out across a worker pool.
// Once ctx is cancelled the remaining jobs report ctx.Err()
// without touching the file system.
func (e *Engine) startWorkers(
	ctx context.Context, files []string,
) <-chan indexedResult {
	jobs := make(chan int, len(files))
	results := make(chan indexedResult, len(files))

	for range e.workerCount(len(files)) {
		go func() {
			for i := range jobs {
				if err := ctx.Err(); err != nil {
					results <- indexedResult{i, prepared{
						rel: files[i], err: err,
					}}
					continue
				}
				results <- indexedResult{i, e.prepare(files[i])}
			}
		}()
	}

	for i := range files {
		jobs <- i
	}
	close(jobs)
	return results
}

// mergeFiles merges files concurrently but writes them strictly in
// input order, so a failure leaves exactly the files before it
// written.
func (e *Engine) mergeFiles(
	ctx context.Context, files []string,
	stats *SyncStats, onFile func(FileResult),
) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	results := e.startWorkers(ctx, files)
	ready := make(map[int]prepared, len(files))
	next := 0
	var firstErr error

	for range len(files) {
		r := <-results
		ready[r.idx] = r.prepared

		for firstErr == nil {
			p, ok := ready[next]
			if !ok {
				break
			}
			delete(ready, next)
			next++

			err := p.err
			var res FileResult
			if err == nil {
				res, err = e.commit(p)
			}
			if err != nil {
				firstErr = err
				cancel()
				if !errors.Is(err, context.Canceled) {
					stats.RecordFailed()
					e.recordFailure(p.rel, err)
				}
				break
			}
			stats.RecordResult(res)
			if onFile != nil {
				onFile(res)
			}
		}
	}
	return firstErr
}

// prepare reads every readable copy of rel and merges them. It
// writes nothing.
func (e *Engine) prepare(rel string) prepared {
	e.log.Debugf("Processing: %s", rel)

	if !e.opts.Force {
		if size, ok := e.identicalSize(rel); ok {
			e.log.Debugf(
				"  All versions have identical size (%d bytes), skipping merge",
				size,
			)
			return prepared{rel: rel, skip: true}
		}
	}

	var blobs []string
	for _, root := range e.roots {
		if !root.Mode.Readable() {
			continue
		}
		path := filepath.Join(root.Path, filepath.FromSlash(rel))
		data, err := os.ReadFile(path)
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			return prepared{
				rel: rel, err: fmt.Errorf("reading %s: %w", path, err),
			}
		}
		text, latin1 := decodeText(data)
		if latin1 {
			e.log.Debugf("  Not valid UTF-8, read as Latin-1: %s", path)
		}
		e.log.Debugf("  Read from %s: %d bytes", root.Path, len(data))
		blobs = append(blobs, text)
	}
	if len(blobs) == 0 {
		e.log.Debugf("  File not found in any readable directory")
		return prepared{rel: rel, skip: true}
	}

	merged, err := chatlog.MergeBlobs(blobs, rel)
	if err != nil {
		return prepared{rel: rel, err: err}
	}
	return prepared{rel: rel, merged: merged}
}

// identicalSize reports whether every root, readable or not, holds
// a copy of rel and all copies have the same size.
func (e *Engine) identicalSize(rel string) (int64, bool) {
	var size int64
	for i, root := range e.roots {
		info, err := os.Stat(
			filepath.Join(root.Path, filepath.FromSlash(rel)),
		)
		if err != nil {
			return 0, false
		}
		if i > 0 && info.Size() != size {
			return 0, false
		}
		size = info.Size()
	}
	return size, len(e.roots) > 0
}

// commit writes a prepared merge to every writable root.
func (e *Engine) commit(p prepared) (FileResult, error) {
	res := FileResult{RelPath: p.rel}
	if p.skip {
		res.Skipped = true
		return res, nil
	}
	res.Entries = chatlog.CountEntries(p.merged)

	for _, root := range e.roots {
		if !root.Mode.Writable() {
			continue
		}
		action, err := e.writeCopy(root, p.rel, p.merged)
		if err != nil {
			return res, err
		}
		res.Writes = append(res.Writes, WriteResult{
			Root: root.Path, Action: action,
		})
	}

	if !e.opts.DryRun && e.store != nil {
		if err := e.store.RecordMerge(db.MergeRecord{
			RelPath:  p.rel,
			FileHash: hashString(p.merged),
			FileSize: int64(len(p.merged)),
			Entries:  res.Entries,
			MergedAt: e.now(),
		}); err != nil {
			log.Printf("recording merge state: %v", err)
		}
	}
	return res, nil
}

// writeCopy brings one destination copy up to date with merged.
func (e *Engine) writeCopy(
	root Root, rel, merged string,
) (Action, error) {
	dst := filepath.Join(root.Path, filepath.FromSlash(rel))

	parent := filepath.Dir(dst)
	if _, err := os.Stat(parent); errors.Is(err, fs.ErrNotExist) {
		if e.opts.DryRun {
			e.log.Infof("Would create directory: %s", parent)
		} else {
			if err := os.MkdirAll(parent, 0o755); err != nil {
				return "", fmt.Errorf("creating %s: %w", parent, err)
			}
			e.log.Debugf("Created directory: %s", parent)
		}
	}

	action := ActionAdded
	existing, err := os.ReadFile(dst)
	switch {
	case err == nil:
		if string(existing) == merged {
			e.log.Debugf("  Skipping %s (content unchanged)", root.Name())
			return ActionUnchanged, nil
		}
		action = ActionUpdated
	case !errors.Is(err, fs.ErrNotExist):
		return "", fmt.Errorf("reading %s: %w", dst, err)
	}

	verb, dryVerb := "Adding", "add"
	if action == ActionUpdated {
		verb, dryVerb = "Updating", "update"
	}
	if e.opts.DryRun {
		e.log.Infof("Would %s: %s in %s", dryVerb, rel, root.Name())
		return action, nil
	}
	if err := os.WriteFile(dst, []byte(merged), 0o644); err != nil {
		return "", fmt.Errorf("writing %s: %w", dst, err)
	}
	e.log.Infof("%s %s...", verb, rel)
	return action, nil
}

func (e *Engine) recordFailure(rel string, err error) {
	if e.opts.DryRun || e.store == nil {
		return
	}
	if recErr := e.store.RecordFailure(db.Failure{
		RelPath:  rel,
		Message:  err.Error(),
		FailedAt: e.now(),
	}); recErr != nil {
		log.Printf("recording failure state: %v", recErr)
	}
}
