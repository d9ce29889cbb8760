package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"

	"github.com/wesm/chatmerge/internal/config"
	"github.com/wesm/chatmerge/internal/db"
	"github.com/wesm/chatmerge/internal/sync"
)

// StatusConfig holds parsed CLI options for the status command.
type StatusConfig struct {
	Verify        bool
	ClearFailures bool
	Paths         []string // relative chat log paths; empty lists all
}

func parseStatusFlags(args []string) (StatusConfig, error) {
	fs := flag.NewFlagSet("status", flag.ContinueOnError)
	verify := fs.Bool(
		"verify", false,
		"Compare recorded hashes with the files on disk",
	)
	clearFailures := fs.Bool(
		"clear-failures", false,
		"Forget recorded failures",
	)
	if err := config.ParseFlags(fs, args); err != nil {
		return StatusConfig{}, err
	}
	cfg := StatusConfig{
		Verify:        *verify,
		ClearFailures: *clearFailures,
	}
	for _, p := range fs.Args() {
		cfg.Paths = append(cfg.Paths, filepath.ToSlash(p))
	}
	if cfg.ClearFailures && len(cfg.Paths) > 0 {
		return StatusConfig{}, fmt.Errorf(
			"-clear-failures cannot be combined with paths",
		)
	}
	return cfg, nil
}

// Reporter prints recorded merge state. Roots are only needed for
// verification.
type Reporter struct {
	DB    *db.DB
	Roots []sync.Root
	Out   io.Writer
}

// Report lists merged files and failures.
func (r *Reporter) Report(cfg StatusConfig) error {
	if len(cfg.Paths) > 0 {
		return r.reportPaths(cfg)
	}
	merges, err := r.DB.ListMerges()
	if err != nil {
		return fmt.Errorf("listing merges: %w", err)
	}
	failures, err := r.DB.ListFailures()
	if err != nil {
		return fmt.Errorf("listing failures: %w", err)
	}

	if len(merges) == 0 && len(failures) == 0 {
		fmt.Fprintln(r.Out, "No merges recorded yet.")
		return nil
	}

	var totalSize int64
	for _, m := range merges {
		totalSize += m.FileSize
	}
	fmt.Fprintf(r.Out, "Merged files: %d (%s)\n",
		len(merges), formatBytes(totalSize))
	for _, m := range merges {
		r.writeMerge(m, cfg.Verify)
	}

	if len(failures) > 0 {
		fmt.Fprintf(r.Out, "\nFailures: %d\n", len(failures))
		for _, f := range failures {
			fmt.Fprintf(r.Out, "  %s (%s)\n    %s\n",
				f.RelPath,
				f.FailedAt.Local().Format("2006-01-02 15:04:05"),
				indent(f.Message))
		}
	}

	if cfg.ClearFailures && len(failures) > 0 {
		for _, f := range failures {
			if err := r.DB.ClearFailure(f.RelPath); err != nil {
				return fmt.Errorf("clearing failure: %w", err)
			}
		}
		fmt.Fprintf(r.Out, "\nCleared %d failure(s).\n", len(failures))
	}
	return nil
}

// reportPaths shows the recorded state of the requested files only.
func (r *Reporter) reportPaths(cfg StatusConfig) error {
	for _, rel := range cfg.Paths {
		m, ok, err := r.DB.GetMerge(rel)
		if err != nil {
			return fmt.Errorf("looking up %s: %w", rel, err)
		}
		if !ok {
			fmt.Fprintf(r.Out, "  %-40s not merged yet\n", rel)
			continue
		}
		r.writeMerge(m, cfg.Verify)
	}
	return nil
}

func (r *Reporter) writeMerge(m db.MergeRecord, verify bool) {
	line := fmt.Sprintf("  %-40s %6d entries  %9s  %s",
		m.RelPath, m.Entries, formatBytes(m.FileSize),
		m.MergedAt.Local().Format("2006-01-02 15:04:05"))
	if verify {
		line += "  " + r.verify(m)
	}
	fmt.Fprintln(r.Out, line)
}

// verify reports whether every writable copy still matches the
// recorded merge output.
func (r *Reporter) verify(m db.MergeRecord) string {
	changed := 0
	missing := 0
	for _, root := range r.Roots {
		if !root.Mode.Writable() {
			continue
		}
		hash, err := sync.ComputeFileHash(
			filepath.Join(root.Path, filepath.FromSlash(m.RelPath)),
		)
		switch {
		case errors.Is(err, os.ErrNotExist):
			missing++
		case err != nil:
			log.Printf("warning: hashing %s: %v", m.RelPath, err)
			changed++
		case hash != m.FileHash:
			changed++
		}
	}
	switch {
	case changed > 0:
		return fmt.Sprintf("changed in %d dir(s)", changed)
	case missing > 0:
		return fmt.Sprintf("missing in %d dir(s)", missing)
	default:
		return "ok"
	}
}

func indent(msg string) string {
	return strings.ReplaceAll(msg, "\n", "\n    ")
}

func formatBytes(b int64) string {
	switch {
	case b >= 1<<30:
		return fmt.Sprintf("%.1f GB", float64(b)/(1<<30))
	case b >= 1<<20:
		return fmt.Sprintf("%.1f MB", float64(b)/(1<<20))
	case b >= 1<<10:
		return fmt.Sprintf("%.1f KB", float64(b)/(1<<10))
	default:
		return fmt.Sprintf("%d B", b)
	}
}

func runStatus(args []string) {
	cfg, err := parseStatusFlags(args)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			os.Exit(0)
		}
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}

	appCfg, err := config.LoadMinimal()
	if err != nil {
		log.Fatalf("loading config: %v", err)
	}

	if _, err := os.Stat(appCfg.StatePath); os.IsNotExist(err) {
		fmt.Println("No merges recorded yet.")
		return
	}
	database, err := db.Open(appCfg.StatePath)
	if err != nil {
		log.Fatalf("opening state database: %v", err)
	}
	defer database.Close()

	var roots []sync.Root
	if cfg.Verify {
		roots, err = sync.ResolveRoots(
			appCfg.Directories, sync.NewLogger(nil, false),
		)
		if err != nil {
			log.Fatalf("resolving directories: %v", err)
		}
	}

	reporter := &Reporter{DB: database, Roots: roots, Out: os.Stdout}
	if err := reporter.Report(cfg); err != nil {
		log.Fatalf("status: %v", err)
	}
}
