package config

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/google/shlex"
	"github.com/tidwall/gjson"
)

const (
	configFileName = "config.json"
	stateFileName  = "state.db"
)

// Mode controls whether a directory is read from, written to, or
// both during a merge.
type Mode string

const (
	ModeRead      Mode = "r"
	ModeWrite     Mode = "w"
	ModeReadWrite Mode = "rw"
)

// Valid reports whether m is one of r, w, rw.
func (m Mode) Valid() bool {
	switch m {
	case ModeRead, ModeWrite, ModeReadWrite:
		return true
	}
	return false
}

// Readable reports whether copies in this directory feed the merge.
func (m Mode) Readable() bool {
	return m == ModeRead || m == ModeReadWrite
}

// Writable reports whether merged output is written back here.
func (m Mode) Writable() bool {
	return m == ModeWrite || m == ModeReadWrite
}

// DirConfig is one configured chat-log directory tree.
type DirConfig struct {
	Path string `json:"path"`
	Mode Mode   `json:"mode"`
}

// Config holds all application configuration.
type Config struct {
	Directories   []DirConfig `json:"directories"`
	ExcludedFiles []string    `json:"excluded_files"`
	ExcludedDirs  []string    `json:"excluded_dirs"`
	Workers       int         `json:"workers,omitempty"`

	DataDir   string   `json:"-"`
	StatePath string   `json:"-"`
	Filters   []string `json:"-"`
	Verbose   bool     `json:"-"`
	DryRun    bool     `json:"-"`
	Force     bool     `json:"-"`
}

// DefaultDirectories lists the viewer install locations on Windows
// and macOS plus a shared sync folder.
var DefaultDirectories = []DirConfig{
	{Path: "~/AppData/Roaming/Firestorm_x64/", Mode: ModeReadWrite},
	{Path: "~/AppData/Roaming/Kokua/", Mode: ModeReadWrite},
	{Path: "~/AppData/Roaming/SecondLife/", Mode: ModeReadWrite},
	{Path: "~/Library/Application Support/Firestorm/", Mode: ModeReadWrite},
	{Path: "~/Library/Application Support/Kokua/", Mode: ModeReadWrite},
	{Path: "~/Library/Application Support/SecondLife/", Mode: ModeReadWrite},
	{Path: "~/Mega/Apps/SL-Logs-and-Settings/SL-Chat/", Mode: ModeReadWrite},
}

// DefaultExcludedFiles are viewer bookkeeping files that share the
// .txt extension with chat logs. Matched case-insensitively against
// the final path element.
var DefaultExcludedFiles = []string{
	"avatar_icons_cache.txt",
	"cef_log.txt",
	"plugin_cookies.txt",
	"render_mute_settings.txt",
	"search_history.txt",
	"teleport_history.txt",
	"typed_locations.txt",
}

// DefaultExcludedDirs are matched case-insensitively as prefixes of
// the relative path.
var DefaultExcludedDirs = []string{
	"logs/",
	"user_settings/",
}

// Default returns a Config with default values.
func Default() (Config, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return Config{}, fmt.Errorf(
			"determining home directory: %w", err,
		)
	}
	dataDir := filepath.Join(home, ".chatmerge")
	return Config{
		Directories:   append([]DirConfig(nil), DefaultDirectories...),
		ExcludedFiles: append([]string(nil), DefaultExcludedFiles...),
		ExcludedDirs:  append([]string(nil), DefaultExcludedDirs...),
		DataDir:       dataDir,
		StatePath:     filepath.Join(dataDir, stateFileName),
	}, nil
}

// Load builds a Config by layering: defaults < env < config file <
// flags. Env comes first since CHATMERGE_DATA_DIR locates the file.
// The provided FlagSet must already be parsed by the caller, usually
// with ParseFlags. Only flags that were explicitly set override the
// lower layers; positional arguments replace any filters from the
// environment.
func Load(fs *flag.FlagSet) (Config, error) {
	cfg, err := LoadMinimal()
	if err != nil {
		return cfg, err
	}
	applyFlags(&cfg, fs)
	return cfg, nil
}

// LoadMinimal builds a Config from defaults, env, and config file,
// without parsing CLI flags.
func LoadMinimal() (Config, error) {
	cfg, err := Default()
	if err != nil {
		return cfg, err
	}
	if err := cfg.loadEnv(); err != nil {
		return cfg, err
	}
	if err := cfg.loadFile(); err != nil {
		return cfg, fmt.Errorf("loading config file: %w", err)
	}
	cfg.StatePath = filepath.Join(cfg.DataDir, stateFileName)
	return cfg, nil
}

// ConfigPath returns the location of config.json.
func (c *Config) ConfigPath() string {
	return filepath.Join(c.DataDir, configFileName)
}

func (c *Config) loadEnv() error {
	if v := os.Getenv("CHATMERGE_DATA_DIR"); v != "" {
		c.DataDir = v
	}
	if v := os.Getenv("CHATMERGE_FILTERS"); v != "" {
		filters, err := shlex.Split(v)
		if err != nil {
			return fmt.Errorf("parsing CHATMERGE_FILTERS: %w", err)
		}
		c.Filters = filters
	}
	return nil
}

// loadFile applies config.json. Directory entries are inspected
// key by key so that a missing "mode" or "path" is reported instead
// of being read as an empty value.
func (c *Config) loadFile() error {
	data, err := os.ReadFile(c.ConfigPath())
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}
	if !gjson.ValidBytes(data) {
		return fmt.Errorf("parsing config: invalid JSON")
	}
	root := gjson.ParseBytes(data)

	if dirs := root.Get("directories"); dirs.Exists() {
		if !dirs.IsArray() {
			return fmt.Errorf("directories must be an array")
		}
		parsed := make([]DirConfig, 0, len(dirs.Array()))
		for idx, entry := range dirs.Array() {
			mode := entry.Get("mode")
			if !mode.Exists() {
				return fmt.Errorf(
					"directory entry %d is missing 'mode' field", idx,
				)
			}
			path := entry.Get("path")
			if !path.Exists() {
				return fmt.Errorf(
					"directory entry %d is missing 'path' field", idx,
				)
			}
			parsed = append(parsed, DirConfig{
				Path: path.String(),
				Mode: Mode(mode.String()),
			})
		}
		c.Directories = parsed
	}
	if v := root.Get("excluded_files"); v.Exists() {
		c.ExcludedFiles = stringArray(v)
	}
	if v := root.Get("excluded_dirs"); v.Exists() {
		c.ExcludedDirs = stringArray(v)
	}
	if v := root.Get("workers"); v.Exists() {
		if v.Type != gjson.Number {
			return fmt.Errorf("workers must be a number")
		}
		c.Workers = int(v.Int())
	}
	return nil
}

func stringArray(r gjson.Result) []string {
	out := []string{}
	for _, v := range r.Array() {
		out = append(out, v.String())
	}
	return out
}

// Validate checks the directory configuration.
func (c *Config) Validate() error {
	if len(c.Directories) == 0 {
		return fmt.Errorf("no directories configured")
	}
	for idx, d := range c.Directories {
		if d.Mode == "" {
			return fmt.Errorf(
				"directory entry %d is missing 'mode' field", idx,
			)
		}
		if !d.Mode.Valid() {
			return fmt.Errorf(
				"directory entry %d has invalid mode '%s'"+
					" (must be 'r', 'w', or 'rw')",
				idx, d.Mode,
			)
		}
		if d.Path == "" {
			return fmt.Errorf(
				"directory entry %d is missing 'path' field", idx,
			)
		}
	}
	if c.Workers < 0 {
		return fmt.Errorf("workers must be >= 0")
	}
	return nil
}

// ExpandPath expands a leading ~ to the home directory and converts
// forward slashes to the platform separator.
func ExpandPath(path string) (string, error) {
	if path == "~" || strings.HasPrefix(path, "~/") ||
		strings.HasPrefix(path, `~\`) {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf(
				"determining home directory: %w", err,
			)
		}
		path = filepath.Join(home, path[1:])
	}
	return filepath.Clean(filepath.FromSlash(path)), nil
}

// RegisterSyncFlags registers merge flags on fs. Short and long
// spellings share a destination. The caller must call fs.Parse
// before passing fs to Load.
func RegisterSyncFlags(fs *flag.FlagSet) {
	for _, name := range []string{"verbose", "v"} {
		fs.Bool(name, false,
			"Enable verbose output showing all operations")
	}
	for _, name := range []string{"dry-run", "n"} {
		fs.Bool(name, false,
			"Show what would be done without making changes")
	}
	for _, name := range []string{"force", "f"} {
		fs.Bool(name, false,
			"Process all files, even if they appear identical by size")
	}
	fs.Int("workers", 0,
		"Number of files merged in parallel (0 = automatic)")
}

// ParseFlags parses args into fs, accepting flags before, between,
// and after positional filters. Arguments after a literal "--" are
// always positional. Afterwards fs.Args() holds the filters in
// order.
func ParseFlags(fs *flag.FlagSet, args []string) error {
	var positional []string
	for {
		if err := fs.Parse(args); err != nil {
			return err
		}
		rest := fs.Args()
		if len(rest) == 0 {
			break
		}
		if n := len(args) - len(rest); n > 0 && args[n-1] == "--" {
			positional = append(positional, rest...)
			break
		}
		positional = append(positional, rest[0])
		args = rest[1:]
	}
	// Re-parse only the collected filters so fs.Args() reports them;
	// flags set above stay set.
	return fs.Parse(append([]string{"--"}, positional...))
}

// applyFlags copies explicitly-set flags from fs into cfg.
func applyFlags(cfg *Config, fs *flag.FlagSet) {
	if fs == nil {
		return
	}
	fs.Visit(func(f *flag.Flag) {
		on := f.Value.String() == "true"
		switch f.Name {
		case "verbose", "v":
			cfg.Verbose = on
		case "dry-run", "n":
			cfg.DryRun = on
		case "force", "f":
			cfg.Force = on
		case "workers":
			// flag already validated the int; ignore parse error
			cfg.Workers, _ = strconv.Atoi(f.Value.String())
		}
	})
	if fs.NArg() > 0 {
		cfg.Filters = fs.Args()
	}
}
