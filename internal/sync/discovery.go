package sync

import (
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"slices"
	"strings"

	"github.com/wesm/chatmerge/internal/config"
)

// Root is a configured directory that exists on this machine.
type Root struct {
	Path string
	Mode config.Mode
}

// Name is the short label used in progress output.
func (r Root) Name() string {
	return filepath.Base(r.Path)
}

// ResolveRoots expands the configured directories and keeps those
// that exist and contain a logs subdirectory.
func ResolveRoots(
	dirs []config.DirConfig, log *Logger,
) ([]Root, error) {
	var roots []Root
	for _, d := range dirs {
		p, err := config.ExpandPath(d.Path)
		if err != nil {
			return nil, err
		}
		if _, err := os.Stat(p); err != nil {
			log.Debugf("Directory does not exist: %s", p)
			continue
		}
		info, err := os.Stat(filepath.Join(p, "logs"))
		if err != nil || !info.IsDir() {
			log.Debugf("Directory missing logs subdirectory: %s", p)
			continue
		}
		log.Debugf("Using directory: %s (mode: %s)", p, d.Mode)
		roots = append(roots, Root{Path: p, Mode: d.Mode})
	}
	return roots, nil
}

// DiscoverOptions selects which chat log files take part in a run.
// All matching is case-insensitive on slash-separated relative
// paths.
type DiscoverOptions struct {
	ExcludedFiles []string // matched against the final path element
	ExcludedDirs  []string // matched as relative path prefixes
	Filters       []string // keep paths containing any of these
}

// Excluded reports whether rel is a system file, a sync-conflict
// copy, or lives under an excluded directory.
func (o DiscoverOptions) Excluded(rel string) bool {
	lower := strings.ToLower(rel)
	if o.inExcludedDir(lower) {
		return true
	}
	if strings.Contains(lower, "conflicted copy") {
		return true
	}
	base := path.Base(lower)
	for _, name := range o.ExcludedFiles {
		if base == strings.ToLower(name) {
			return true
		}
	}
	return false
}

func (o DiscoverOptions) inExcludedDir(lowerRel string) bool {
	for _, dir := range o.ExcludedDirs {
		if strings.HasPrefix(lowerRel, strings.ToLower(dir)) {
			return true
		}
	}
	return false
}

// Matches reports whether rel passes the user filters. No filters
// matches everything.
func (o DiscoverOptions) Matches(rel string) bool {
	if len(o.Filters) == 0 {
		return true
	}
	lower := strings.ToLower(rel)
	for _, f := range o.Filters {
		if strings.Contains(lower, strings.ToLower(f)) {
			return true
		}
	}
	return false
}

// Discover walks every readable root for .txt files and returns
// the sorted, de-duplicated relative paths that pass opts.
func Discover(
	roots []Root, opts DiscoverOptions, log *Logger,
) []string {
	seen := make(map[string]struct{})
	for _, root := range roots {
		if !root.Mode.Readable() {
			continue
		}
		log.Debugf("Scanning directory: %s", root.Path)
		_ = filepath.WalkDir(root.Path,
			func(p string, d fs.DirEntry, err error) error {
				if err != nil {
					return nil // skip inaccessible entries
				}
				rel, ok := isUnder(root.Path, p)
				if !ok {
					return nil
				}
				rel = filepath.ToSlash(rel)
				if d.IsDir() {
					if opts.inExcludedDir(strings.ToLower(rel) + "/") {
						return fs.SkipDir
					}
					return nil
				}
				if !strings.HasSuffix(rel, ".txt") {
					return nil
				}
				if opts.Excluded(rel) {
					log.Debugf("Excluding: %s", rel)
					return nil
				}
				if !opts.Matches(rel) {
					return nil
				}
				if _, dup := seen[rel]; !dup {
					seen[rel] = struct{}{}
					log.Debugf("Found: %s", rel)
				}
				return nil
			})
	}

	files := make([]string, 0, len(seen))
	for rel := range seen {
		files = append(files, rel)
	}
	slices.Sort(files)
	return files
}

// groupByUser splits sorted relative paths by their first path
// element, the account directory in viewer log trees.
func groupByUser(files []string) ([]string, map[string][]string) {
	groups := make(map[string][]string)
	var order []string
	for _, rel := range files {
		user, _, _ := strings.Cut(rel, "/")
		if _, ok := groups[user]; !ok {
			order = append(order, user)
		}
		groups[user] = append(groups[user], rel)
	}
	slices.Sort(order)
	return order, groups
}

// isUnder checks whether path is strictly inside dir after
// cleaning both paths. Returns the relative path on success.
func isUnder(dir, path string) (string, bool) {
	dir = filepath.Clean(dir)
	path = filepath.Clean(path)
	rel, err := filepath.Rel(dir, path)
	if err != nil {
		return "", false
	}
	sep := string(filepath.Separator)
	if rel == "." || rel == ".." ||
		strings.HasPrefix(rel, ".."+sep) {
		return "", false
	}
	return rel, true
}
