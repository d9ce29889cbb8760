package sync

import (
	"os"
	"path/filepath"
	gosync "sync"
	"testing"

	"github.com/wesm/chatmerge/internal/config"
	"github.com/wesm/chatmerge/internal/db"
)

// newRoot creates a viewer directory named name under base with
// the logs subdirectory ResolveRoots requires.
func newRoot(
	t *testing.T, base, name string, mode config.Mode,
) Root {
	t.Helper()
	dir := filepath.Join(base, name)
	if err := os.MkdirAll(filepath.Join(dir, "logs"), 0o755); err != nil {
		t.Fatalf("MkdirAll: %v", err)
	}
	return Root{Path: dir, Mode: mode}
}

func writeLog(t *testing.T, root Root, rel, content string) {
	t.Helper()
	path := filepath.Join(root.Path, filepath.FromSlash(rel))
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("MkdirAll: %v", err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
}

func readLog(t *testing.T, root Root, rel string) string {
	t.Helper()
	data, err := os.ReadFile(
		filepath.Join(root.Path, filepath.FromSlash(rel)),
	)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	return string(data)
}

func logExists(root Root, rel string) bool {
	_, err := os.Stat(filepath.Join(root.Path, filepath.FromSlash(rel)))
	return err == nil
}

func defaultDiscover() DiscoverOptions {
	return DiscoverOptions{
		ExcludedFiles: config.DefaultExcludedFiles,
		ExcludedDirs:  config.DefaultExcludedDirs,
	}
}

// memStore is an in-memory Store.
type memStore struct {
	mu       gosync.Mutex
	merges   map[string]db.MergeRecord
	failures map[string]db.Failure
}

func newMemStore() *memStore {
	return &memStore{
		merges:   make(map[string]db.MergeRecord),
		failures: make(map[string]db.Failure),
	}
}

func (s *memStore) RecordMerge(r db.MergeRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.merges[r.RelPath] = r
	delete(s.failures, r.RelPath)
	return nil
}

func (s *memStore) RecordFailure(f db.Failure) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures[f.RelPath] = f
	return nil
}
