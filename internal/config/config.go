package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	cerrors "github.com/Aman-CERP/cgrep/internal/errors"
)

const (
	// ProjectConfigFile is the per-repository config file name.
	ProjectConfigFile = ".cgrep.yaml"
	// StateDirName is the project-local directory holding index state.
	StateDirName = ".cgrep"
	// envFileName is an optional dotenv file inside the state directory.
	envFileName = "env"
)

// Config is the complete cgrep configuration.
type Config struct {
	Version    int                      `yaml:"version" json:"version"`
	Search     SearchConfig             `yaml:"search" json:"search"`
	Embeddings EmbeddingsConfig         `yaml:"embeddings" json:"embeddings"`
	Index      IndexConfig              `yaml:"index" json:"index"`
	Cache      CacheConfig              `yaml:"cache" json:"cache"`
	Watch      WatchConfig              `yaml:"watch" json:"watch"`
	Logging    LoggingConfig            `yaml:"logging" json:"logging"`
	Profiles   map[string]ProfileConfig `yaml:"profiles" json:"profiles"`
}

// SearchConfig configures query execution and hybrid fusion.
type SearchConfig struct {
	// Mode is the default search mode: keyword, semantic or hybrid.
	Mode string `yaml:"mode" json:"mode"`

	// WeightText and WeightVector weight the min-max normalized BM25 and
	// cosine scores in hybrid fusion. Zero values in a config file are
	// treated as unset; use CGREP_WEIGHT_TEXT=0 to disable a signal.
	WeightText   float64 `yaml:"weight_text" json:"weight_text"`
	WeightVector float64 `yaml:"weight_vector" json:"weight_vector"`

	// CandidateK is the per-signal top-K feeding the hybrid pool.
	// Zero derives it from MaxResults.
	CandidateK int `yaml:"candidate_k" json:"candidate_k"`
	MaxResults int `yaml:"max_results" json:"max_results"`
}

// EmbeddingsConfig configures the embedding provider and generation policy.
type EmbeddingsConfig struct {
	// Generate is auto, precompute or off.
	Generate string `yaml:"generate" json:"generate"`
	// Provider is local, command or zero.
	Provider   string        `yaml:"provider" json:"provider"`
	Model      string        `yaml:"model" json:"model"`
	Command    string        `yaml:"command" json:"command"`
	Dimensions int           `yaml:"dimensions" json:"dimensions"`
	BatchSize  int           `yaml:"batch_size" json:"batch_size"`
	MaxChars   int           `yaml:"max_chars" json:"max_chars"`
	CacheSize  int           `yaml:"cache_size" json:"cache_size"`
	Timeout    time.Duration `yaml:"timeout" json:"timeout"`
}

// IndexConfig configures the walker and the index pipeline.
type IndexConfig struct {
	ExcludePaths      []string `yaml:"exclude_paths" json:"exclude_paths"`
	MaxFileBytes      int64    `yaml:"max_file_bytes" json:"max_file_bytes"`
	ChunkBytes        int      `yaml:"chunk_bytes" json:"chunk_bytes"`
	Workers           int      `yaml:"workers" json:"workers"`
	IncludeGitignored bool     `yaml:"include_gitignored" json:"include_gitignored"`
	IncludeHidden     bool     `yaml:"include_hidden" json:"include_hidden"`
}

// CacheConfig configures the agent session cache.
type CacheConfig struct {
	Disabled bool          `yaml:"disabled" json:"disabled"`
	TTL      time.Duration `yaml:"ttl" json:"ttl"`
	Size     int           `yaml:"size" json:"size"`
	// Persist writes entries under .cgrep/cache/search so separate CLI
	// invocations share them.
	Persist bool `yaml:"persist" json:"persist"`
}

// WatchConfig configures the watch scheduler.
type WatchConfig struct {
	Debounce    time.Duration `yaml:"debounce" json:"debounce"`
	MinInterval time.Duration `yaml:"min_interval" json:"min_interval"`
}

// LoggingConfig configures log output.
type LoggingConfig struct {
	Level string `yaml:"level" json:"level"`
}

// ProfileConfig is a named bundle of output defaults (human, agent, fast).
type ProfileConfig struct {
	Format       string `yaml:"format" json:"format"`
	Mode         string `yaml:"mode" json:"mode"`
	MaxResults   int    `yaml:"max_results" json:"max_results"`
	ContextLines int    `yaml:"context_lines" json:"context_lines"`
	Compact      bool   `yaml:"compact" json:"compact"`
}

// defaultExcludePatterns are always excluded in addition to user patterns.
var defaultExcludePatterns = []string{
	"**/*.min.js",
	"**/*.min.css",
	"**/package-lock.json",
	"**/yarn.lock",
	"**/pnpm-lock.yaml",
	"**/Cargo.lock",
	"**/go.sum",
}

// NewConfig returns a configuration populated with defaults.
func NewConfig() *Config {
	return &Config{
		Version: 1,
		Search: SearchConfig{
			Mode:         "keyword",
			WeightText:   0.5,
			WeightVector: 0.5,
			MaxResults:   20,
		},
		Embeddings: EmbeddingsConfig{
			Generate:   "off",
			Provider:   "local",
			Model:      "hash-minilm",
			Dimensions: 384,
			BatchSize:  64,
			MaxChars:   2000,
			CacheSize:  4096,
			Timeout:    60 * time.Second,
		},
		Index: IndexConfig{
			ExcludePaths: append([]string(nil), defaultExcludePatterns...),
			MaxFileBytes: 1 << 20,
			ChunkBytes:   16 << 10,
			Workers:      runtime.NumCPU(),
		},
		Cache: CacheConfig{
			TTL:     10 * time.Minute,
			Size:    256,
			Persist: true,
		},
		Watch: WatchConfig{
			Debounce:    2 * time.Second,
			MinInterval: 5 * time.Second,
		},
		Logging: LoggingConfig{Level: "info"},
		Profiles: map[string]ProfileConfig{
			"human": {Format: "text", Mode: "keyword", MaxResults: 20, ContextLines: 2},
			"agent": {Format: "json", Mode: "hybrid", MaxResults: 10, ContextLines: 0, Compact: true},
			"fast":  {Format: "text", Mode: "keyword", MaxResults: 10, ContextLines: 0},
		},
	}
}

// EffectiveCandidateK returns CandidateK, or MaxResults*20 clamped to [50,500].
func (s SearchConfig) EffectiveCandidateK() int {
	if s.CandidateK > 0 {
		return s.CandidateK
	}
	k := s.MaxResults * 20
	if k < 50 {
		k = 50
	}
	if k > 500 {
		k = 500
	}
	return k
}

// Profile returns the named profile, or the human profile for unknown names.
func (c *Config) Profile(name string) ProfileConfig {
	if p, ok := c.Profiles[name]; ok {
		return p
	}
	return c.Profiles["human"]
}

// StateDir returns the project-local state directory for root.
func StateDir(root string) string {
	return filepath.Join(root, StateDirName)
}

// GetUserConfigPath returns the user config path, honouring XDG_CONFIG_HOME.
func GetUserConfigPath() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "cgrep", "config.yaml")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), ".config", "cgrep", "config.yaml")
	}
	return filepath.Join(home, ".config", "cgrep", "config.yaml")
}

// Load builds the configuration for the project rooted at dir.
//
// Precedence, lowest to highest:
//  1. defaults
//  2. user config (~/.config/cgrep/config.yaml)
//  3. project config (.cgrep.yaml)
//  4. dotenv file .cgrep/env
//  5. process environment (CGREP_*)
func Load(dir string) (*Config, error) {
	cfg := NewConfig()

	if user, err := readYAML(GetUserConfigPath()); err != nil {
		return nil, cerrors.ConfigError("failed to load user config", err)
	} else if user != nil {
		cfg.mergeWith(user)
	}

	if project, err := readYAML(filepath.Join(dir, ProjectConfigFile)); err != nil {
		return nil, cerrors.ConfigError("failed to load project config", err)
	} else if project != nil {
		cfg.mergeWith(project)
	}

	fileEnv, err := readEnvFile(filepath.Join(StateDir(dir), envFileName))
	if err != nil {
		return nil, cerrors.ConfigError("failed to read .cgrep/env", err)
	}
	cfg.applyEnvOverrides(func(key string) (string, bool) {
		if v, ok := os.LookupEnv(key); ok {
			return v, true
		}
		v, ok := fileEnv[key]
		return v, ok
	})

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// readYAML returns nil, nil when the file does not exist.
func readYAML(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	return &cfg, nil
}

// readEnvFile parses a dotenv file without touching the process environment.
func readEnvFile(path string) (map[string]string, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return map[string]string{}, nil
	}
	return godotenv.Read(path)
}

// mergeWith overlays non-zero values from other.
func (c *Config) mergeWith(other *Config) {
	if other.Version != 0 {
		c.Version = other.Version
	}

	if other.Search.Mode != "" {
		c.Search.Mode = other.Search.Mode
	}
	if other.Search.WeightText != 0 {
		c.Search.WeightText = other.Search.WeightText
	}
	if other.Search.WeightVector != 0 {
		c.Search.WeightVector = other.Search.WeightVector
	}
	if other.Search.CandidateK != 0 {
		c.Search.CandidateK = other.Search.CandidateK
	}
	if other.Search.MaxResults != 0 {
		c.Search.MaxResults = other.Search.MaxResults
	}

	e := other.Embeddings
	if e.Generate != "" {
		c.Embeddings.Generate = e.Generate
	}
	if e.Provider != "" {
		c.Embeddings.Provider = e.Provider
	}
	if e.Model != "" {
		c.Embeddings.Model = e.Model
	}
	if e.Command != "" {
		c.Embeddings.Command = e.Command
	}
	if e.Dimensions != 0 {
		c.Embeddings.Dimensions = e.Dimensions
	}
	if e.BatchSize != 0 {
		c.Embeddings.BatchSize = e.BatchSize
	}
	if e.MaxChars != 0 {
		c.Embeddings.MaxChars = e.MaxChars
	}
	if e.CacheSize != 0 {
		c.Embeddings.CacheSize = e.CacheSize
	}
	if e.Timeout != 0 {
		c.Embeddings.Timeout = e.Timeout
	}

	// Exclusions merge with defaults rather than replace them
	c.Index.ExcludePaths = append(c.Index.ExcludePaths, other.Index.ExcludePaths...)
	if other.Index.MaxFileBytes != 0 {
		c.Index.MaxFileBytes = other.Index.MaxFileBytes
	}
	if other.Index.ChunkBytes != 0 {
		c.Index.ChunkBytes = other.Index.ChunkBytes
	}
	if other.Index.Workers != 0 {
		c.Index.Workers = other.Index.Workers
	}
	if other.Index.IncludeGitignored {
		c.Index.IncludeGitignored = true
	}
	if other.Index.IncludeHidden {
		c.Index.IncludeHidden = true
	}

	if other.Cache.Disabled {
		c.Cache.Disabled = true
	}
	if other.Cache.TTL != 0 {
		c.Cache.TTL = other.Cache.TTL
	}
	if other.Cache.Size != 0 {
		c.Cache.Size = other.Cache.Size
	}

	if other.Watch.Debounce != 0 {
		c.Watch.Debounce = other.Watch.Debounce
	}
	if other.Watch.MinInterval != 0 {
		c.Watch.MinInterval = other.Watch.MinInterval
	}

	if other.Logging.Level != "" {
		c.Logging.Level = other.Logging.Level
	}

	for name, p := range other.Profiles {
		if c.Profiles == nil {
			c.Profiles = make(map[string]ProfileConfig)
		}
		c.Profiles[name] = p
	}
}

// applyEnvOverrides applies CGREP_* variables. Malformed numbers are ignored
// so a typo in the environment never blocks a search.
func (c *Config) applyEnvOverrides(lookup func(string) (string, bool)) {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}
	float := func(key string, dst *float64) {
		if v, ok := lookup(key); ok {
			if f, err := strconv.ParseFloat(strings.TrimSpace(v), 64); err == nil {
				*dst = f
			}
		}
	}
	integer := func(key string, dst *int) {
		if v, ok := lookup(key); ok {
			if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
				*dst = n
			}
		}
	}
	duration := func(key string, dst *time.Duration) {
		if v, ok := lookup(key); ok {
			if d, err := time.ParseDuration(strings.TrimSpace(v)); err == nil {
				*dst = d
			}
		}
	}

	str("CGREP_SEARCH_MODE", &c.Search.Mode)
	float("CGREP_WEIGHT_TEXT", &c.Search.WeightText)
	float("CGREP_WEIGHT_VECTOR", &c.Search.WeightVector)
	integer("CGREP_MAX_RESULTS", &c.Search.MaxResults)

	str("CGREP_EMBEDDINGS", &c.Embeddings.Generate)
	str("CGREP_EMBEDDINGS_PROVIDER", &c.Embeddings.Provider)
	str("CGREP_EMBEDDINGS_MODEL", &c.Embeddings.Model)
	str("CGREP_EMBEDDINGS_COMMAND", &c.Embeddings.Command)
	integer("CGREP_EMBEDDINGS_DIMENSIONS", &c.Embeddings.Dimensions)
	integer("CGREP_EMBEDDINGS_BATCH_SIZE", &c.Embeddings.BatchSize)
	integer("CGREP_EMBEDDINGS_MAX_CHARS", &c.Embeddings.MaxChars)

	integer("CGREP_WORKERS", &c.Index.Workers)
	if v, ok := lookup("CGREP_MAX_FILE_BYTES"); ok {
		if n, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64); err == nil {
			c.Index.MaxFileBytes = n
		}
	}

	duration("CGREP_CACHE_TTL", &c.Cache.TTL)
	if v, ok := lookup("CGREP_CACHE_DISABLED"); ok {
		c.Cache.Disabled = v == "1" || strings.EqualFold(v, "true")
	}

	duration("CGREP_WATCH_DEBOUNCE", &c.Watch.Debounce)
	duration("CGREP_WATCH_MIN_INTERVAL", &c.Watch.MinInterval)

	str("CGREP_LOG_LEVEL", &c.Logging.Level)
}

// Validate checks the final configuration.
func (c *Config) Validate() error {
	invalid := func(format string, args ...any) error {
		return cerrors.ConfigError(fmt.Sprintf(format, args...), nil)
	}

	switch strings.ToLower(c.Search.Mode) {
	case "keyword", "semantic", "hybrid":
	default:
		return invalid("search.mode must be keyword, semantic or hybrid, got %q", c.Search.Mode)
	}
	if c.Search.WeightText < 0 || c.Search.WeightText > 1 {
		return invalid("search.weight_text must be between 0 and 1, got %g", c.Search.WeightText)
	}
	if c.Search.WeightVector < 0 || c.Search.WeightVector > 1 {
		return invalid("search.weight_vector must be between 0 and 1, got %g", c.Search.WeightVector)
	}
	if c.Search.WeightText+c.Search.WeightVector == 0 {
		return invalid("search weights must not both be zero")
	}
	if c.Search.MaxResults < 0 || c.Search.CandidateK < 0 {
		return invalid("search.max_results and search.candidate_k must be non-negative")
	}

	switch strings.ToLower(c.Embeddings.Generate) {
	case "auto", "precompute", "off":
	default:
		return invalid("embeddings.generate must be auto, precompute or off, got %q", c.Embeddings.Generate)
	}
	switch strings.ToLower(c.Embeddings.Provider) {
	case "local", "zero":
	case "command":
		if strings.TrimSpace(c.Embeddings.Command) == "" {
			return invalid("embeddings.command is required when embeddings.provider is command")
		}
	default:
		return invalid("embeddings.provider must be local, command or zero, got %q", c.Embeddings.Provider)
	}
	if c.Embeddings.Dimensions <= 0 {
		return invalid("embeddings.dimensions must be positive, got %d", c.Embeddings.Dimensions)
	}
	if c.Embeddings.BatchSize <= 0 {
		return invalid("embeddings.batch_size must be positive, got %d", c.Embeddings.BatchSize)
	}

	if c.Index.MaxFileBytes <= 0 {
		return invalid("index.max_file_bytes must be positive, got %d", c.Index.MaxFileBytes)
	}
	if c.Index.ChunkBytes < 1024 {
		return invalid("index.chunk_bytes must be at least 1024, got %d", c.Index.ChunkBytes)
	}
	if c.Index.Workers < 0 {
		return invalid("index.workers must be non-negative, got %d", c.Index.Workers)
	}

	if c.Cache.TTL < 0 {
		return invalid("cache.ttl must be non-negative, got %s", c.Cache.TTL)
	}
	if c.Watch.Debounce < 0 || c.Watch.MinInterval < 0 {
		return invalid("watch durations must be non-negative")
	}

	switch strings.ToLower(c.Logging.Level) {
	case "debug", "info", "warn", "error":
	default:
		return invalid("logging.level must be debug, info, warn or error, got %q", c.Logging.Level)
	}

	return nil
}

// FindProjectRoot walks up from startDir looking for a .cgrep directory,
// a project config or a .git directory. It returns startDir when none is found.
func FindProjectRoot(startDir string) (string, error) {
	abs, err := filepath.Abs(startDir)
	if err != nil {
		return "", fmt.Errorf("failed to resolve %s: %w", startDir, err)
	}

	for dir := abs; ; {
		for _, marker := range []string{StateDirName, ProjectConfigFile, ".git"} {
			if _, err := os.Stat(filepath.Join(dir, marker)); err == nil {
				return dir, nil
			}
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return abs, nil
		}
		dir = parent
	}
}
