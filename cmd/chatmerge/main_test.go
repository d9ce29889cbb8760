package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wesm/chatmerge/internal/chatlog"
	"github.com/wesm/chatmerge/internal/config"
	"github.com/wesm/chatmerge/internal/db"
	"github.com/wesm/chatmerge/internal/sync"
)

func TestMustLoadConfig(t *testing.T) {
	tests := []struct {
		name        string
		args        []string
		wantVerbose bool
		wantDryRun  bool
		wantForce   bool
		wantFilters []string
	}{
		{
			name: "DefaultArgs",
			args: []string{},
		},
		{
			name:        "ShortFlags",
			args:        []string{"-v", "-n", "-f", "Jane Doe"},
			wantVerbose: true,
			wantDryRun:  true,
			wantForce:   true,
			wantFilters: []string{"Jane Doe"},
		},
		{
			name:        "LongFlags",
			args:        []string{"-dry-run", "-verbose", "Group", "bob"},
			wantVerbose: true,
			wantDryRun:  true,
			wantFilters: []string{"Group", "bob"},
		},
		{
			name:        "FlagsAfterFilters",
			args:        []string{"Jane Doe", "--dry-run", "-v"},
			wantVerbose: true,
			wantDryRun:  true,
			wantFilters: []string{"Jane Doe"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("CHATMERGE_DATA_DIR", t.TempDir())
			t.Setenv("CHATMERGE_FILTERS", "")
			cfg := mustLoadConfig("sync", tt.args)

			assert.Equal(t, tt.wantVerbose, cfg.Verbose)
			assert.Equal(t, tt.wantDryRun, cfg.DryRun)
			assert.Equal(t, tt.wantForce, cfg.Force)
			assert.Equal(t, tt.wantFilters, cfg.Filters)
			assert.NotEmpty(t, cfg.Directories)
			assert.Equal(t,
				filepath.Join(cfg.DataDir, "state.db"), cfg.StatePath)
		})
	}
}

// testConfig builds a config over two read-write viewer directories
// under a temp dir.
func testConfig(t *testing.T) (config.Config, string, string) {
	t.Helper()
	base := t.TempDir()
	a := filepath.Join(base, "firestorm")
	b := filepath.Join(base, "shared")
	for _, d := range []string{a, b} {
		require.NoError(t, os.MkdirAll(filepath.Join(d, "logs"), 0o755))
	}
	dataDir := filepath.Join(base, "data")
	return config.Config{
		Directories: []config.DirConfig{
			{Path: a, Mode: config.ModeReadWrite},
			{Path: b, Mode: config.ModeReadWrite},
		},
		ExcludedFiles: config.DefaultExcludedFiles,
		ExcludedDirs:  config.DefaultExcludedDirs,
		DataDir:       dataDir,
		StatePath:     filepath.Join(dataDir, "state.db"),
	}, a, b
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestRunnerSync(t *testing.T) {
	cfg, a, b := testConfig(t)
	writeFile(t, filepath.Join(a, "alice", "bob.txt"),
		"[2024/01/01 1:00 PM] Alice: hi\n")
	writeFile(t, filepath.Join(b, "alice", "bob.txt"),
		"[2024/01/01 09:00] Bob: morning\n")

	var out, errOut bytes.Buffer
	r := &Runner{Out: &out, Err: &errOut}
	require.NoError(t, r.Sync(context.Background(), cfg))

	want := "[2024/01/01 09:00] Bob: morning\n" +
		"[2024/01/01 13:00] Alice: hi\n"
	for _, dir := range []string{a, b} {
		got, err := os.ReadFile(filepath.Join(dir, "alice", "bob.txt"))
		require.NoError(t, err)
		assert.Equal(t, want, string(got))
	}

	assert.Equal(t,
		"Discovered 1 unique chat log files\n"+
			"Processing 1 files across 1 user directories...\n"+
			"  alice: 1 file(s)\n"+
			"Updating alice/bob.txt...\n"+
			"Updating alice/bob.txt...\n"+
			"Sync complete!\n",
		out.String())
	assert.Empty(t, errOut.String())

	database, err := db.Open(cfg.StatePath)
	require.NoError(t, err)
	defer database.Close()
	rec, ok, err := database.GetMerge("alice/bob.txt")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 2, rec.Entries)
}

func TestRunnerSyncDryRun(t *testing.T) {
	cfg, a, _ := testConfig(t)
	cfg.DryRun = true
	writeFile(t, filepath.Join(a, "alice", "bob.txt"),
		"[2024/01/01 10:00] Alice: hi\n")

	var out bytes.Buffer
	r := &Runner{Out: &out, Err: &out}
	require.NoError(t, r.Sync(context.Background(), cfg))

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	assert.Equal(t, dryRunBanner, lines[0])
	assert.Equal(t, dryRunCompleteBanner, lines[len(lines)-1])
	assert.Contains(t, out.String(), "Would add: alice/bob.txt in shared")

	_, err := os.Stat(cfg.StatePath)
	assert.True(t, os.IsNotExist(err), "dry run must not create state")
}

func TestRunnerSyncMalformed(t *testing.T) {
	cfg, a, b := testConfig(t)
	writeFile(t, filepath.Join(a, "alice", "bob.txt"),
		"[2024/1/1 10:00] Alice: hi\n")

	var out bytes.Buffer
	r := &Runner{Out: &out, Err: &out}
	err := r.Sync(context.Background(), cfg)
	require.ErrorIs(t, err, chatlog.ErrMalformedTimestamp)
	assert.NotContains(t, out.String(), "Sync complete!")

	_, statErr := os.Stat(filepath.Join(b, "alice", "bob.txt"))
	assert.True(t, os.IsNotExist(statErr))

	var errOut bytes.Buffer
	reportError(&errOut, err)
	assert.Equal(t,
		"ERROR: malformed timestamp in alice/bob.txt:\n"+
			"  line: [2024/1/1 10:00] Alice: hi\n"+
			"  expected format: "+chatlog.ExpectedFormat+"\n"+
			"ERROR: Stopping processing to avoid data corruption.\n",
		errOut.String())
}

func TestRunnerSyncDirectoryChecks(t *testing.T) {
	base := t.TempDir()
	present := filepath.Join(base, "present")
	require.NoError(t, os.MkdirAll(filepath.Join(present, "logs"), 0o755))

	tests := []struct {
		name string
		dirs []config.DirConfig
		want error
	}{
		{
			name: "none exist",
			dirs: []config.DirConfig{
				{Path: filepath.Join(base, "missing"), Mode: config.ModeReadWrite},
			},
			want: sync.ErrNoRoots,
		},
		{
			name: "only writable",
			dirs: []config.DirConfig{
				{Path: present, Mode: config.ModeWrite},
			},
			want: sync.ErrNoReadableRoots,
		},
		{
			name: "only readable",
			dirs: []config.DirConfig{
				{Path: present, Mode: config.ModeRead},
			},
			want: sync.ErrNoWritableRoots,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := config.Config{
				Directories: tt.dirs,
				DataDir:     filepath.Join(base, "data"),
				StatePath:   filepath.Join(base, "data", "state.db"),
			}
			var out bytes.Buffer
			r := &Runner{Out: &out, Err: &out}
			err := r.Sync(context.Background(), cfg)
			require.ErrorIs(t, err, tt.want)

			var errOut bytes.Buffer
			reportError(&errOut, err)
			assert.Equal(t, "ERROR: "+tt.want.Error()+"\n", errOut.String())
		})
	}
}

func TestRunnerSyncInvalidConfig(t *testing.T) {
	cfg, _, _ := testConfig(t)
	cfg.Directories[1].Mode = "x"
	r := &Runner{Out: &bytes.Buffer{}, Err: &bytes.Buffer{}}
	err := r.Sync(context.Background(), cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid mode 'x'")
}

func TestPrintSyncProgress(t *testing.T) {
	var out bytes.Buffer
	fn := printSyncProgress(sync.NewLogger(&out, false))

	fn(sync.Progress{Phase: sync.PhaseDiscovering})
	fn(sync.Progress{Phase: sync.PhaseSyncing, FilesTotal: 3, GroupsTotal: 2})
	fn(sync.Progress{Phase: sync.PhaseSyncing, CurrentGroup: "alice", GroupFiles: 2})
	fn(sync.Progress{Phase: sync.PhaseSyncing, CurrentGroup: "alice", GroupFiles: 2, FilesDone: 1})
	fn(sync.Progress{Phase: sync.PhaseSyncing, CurrentGroup: "bob", GroupFiles: 1})
	fn(sync.Progress{Phase: sync.PhaseDone, CurrentGroup: "bob"})

	assert.Equal(t,
		"Processing 3 files across 2 user directories...\n"+
			"  alice: 2 file(s)\n"+
			"  bob: 1 file(s)\n",
		out.String())
}
