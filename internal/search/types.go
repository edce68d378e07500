// Package search answers keyword, semantic and hybrid queries over the
// index store, falling back to a filesystem scan for keyword queries when no
// index exists.
package search

import (
	"fmt"
	"strings"
	"time"

	"github.com/Aman-CERP/cgrep/internal/config"
	cerrors "github.com/Aman-CERP/cgrep/internal/errors"
	"github.com/Aman-CERP/cgrep/internal/store"
)

// Mode selects the retrieval strategy.
type Mode string

const (
	ModeKeyword  Mode = "keyword"
	ModeSemantic Mode = "semantic"
	ModeHybrid   Mode = "hybrid"
)

// ParseMode validates a mode name. The empty string means keyword.
func ParseMode(s string) (Mode, error) {
	switch m := Mode(strings.ToLower(strings.TrimSpace(s))); m {
	case ModeKeyword, ModeSemantic, ModeHybrid:
		return m, nil
	case "":
		return ModeKeyword, nil
	}
	return "", cerrors.New(cerrors.ErrCodeInvalidMode, fmt.Sprintf("invalid search mode %q", s), nil).
		WithSuggestion("Use one of: keyword, semantic, hybrid")
}

// FallbackScan marks responses served by a filesystem scan.
const FallbackScan = "scan"

// Filters restrict the candidate set before any scoring.
type Filters struct {
	Language  string   `json:"language,omitempty"`
	PathScope []string `json:"path_scope,omitempty"`
	Globs     []string `json:"globs,omitempty"`
	Excludes  []string `json:"excludes,omitempty"`
	// Files, when non-nil, admits only these exact paths. An empty non-nil
	// set admits nothing.
	Files []string `json:"files,omitempty"`
}

// Request is one search call.
type Request struct {
	Query   string
	Mode    Mode
	Filters Filters
	Limit   int
	NoCache bool

	// NoIndex scans the filesystem even when an index exists.
	NoIndex bool
	// Regex treats Query as a regular expression and implies NoIndex.
	Regex bool
	// CaseSensitive makes scan matching respect case.
	CaseSensitive bool
	// Fuzzy lets index search match terms within a small edit distance.
	Fuzzy bool

	Budget Budget
}

// Budget bounds how much snippet text a response carries. Zero fields are
// unlimited.
type Budget struct {
	MaxSnippetChars int
	MaxTotalChars   int
}

// Result is one ranked hit. Document-level results cover a document's line
// range; semantic results cover a symbol's span.
type Result struct {
	ID          string  `json:"id"`
	Path        string  `json:"path"`
	Snippet     string  `json:"snippet"`
	StartLine   int     `json:"start_line"`
	EndLine     int     `json:"end_line"`
	MatchLine   int     `json:"match_line,omitempty"`
	Score       float64 `json:"score"`
	TextScore   float64 `json:"text_score"`
	VectorScore float64 `json:"vector_score"`
	TextNorm    float64 `json:"text_norm"`
	VectorNorm  float64 `json:"vector_norm"`
	SymbolID    string  `json:"symbol_id,omitempty"`
	Symbol      string  `json:"symbol,omitempty"`
	Kind        string  `json:"kind,omitempty"`
	Language    string  `json:"language,omitempty"`
}

// Response is the outcome of Search.
type Response struct {
	Query          string   `json:"query"`
	Mode           Mode     `json:"mode"`
	Results        []Result `json:"results"`
	Degraded       bool     `json:"degraded"`
	DegradedReason string   `json:"degraded_reason,omitempty"`
	Fallback       string   `json:"fallback,omitempty"`
	Generation     int64    `json:"generation"`
	CacheHit       bool     `json:"cache_hit"`
	DurationMS     int64    `json:"duration_ms"`
	Truncated      bool     `json:"truncated"`
	MaxTotalChars  int      `json:"max_total_chars,omitempty"`
	Warnings       []string `json:"warnings,omitempty"`
}

// Weights are the fusion weights of the two signals.
type Weights struct {
	Text   float64
	Vector float64
}

// DefaultWeights weighs both signals equally.
func DefaultWeights() Weights { return Weights{Text: 0.5, Vector: 0.5} }

// Config tunes an Engine.
type Config struct {
	DefaultMode  Mode
	Weights      Weights
	CandidateK   int
	DefaultLimit int
	MaxLimit     int
	ChunkBytes   int
	SnippetLines int
	CacheTTL     time.Duration
}

// DefaultConfig returns the engine defaults.
func DefaultConfig() Config {
	return Config{
		DefaultMode:  ModeKeyword,
		Weights:      DefaultWeights(),
		CandidateK:   200,
		DefaultLimit: 20,
		MaxLimit:     500,
		ChunkBytes:   store.DefaultChunkBytes,
		SnippetLines: 4,
		CacheTTL:     10 * time.Minute,
	}
}

// ConfigFrom maps the loaded configuration onto engine settings.
func ConfigFrom(cfg *config.Config) Config {
	c := DefaultConfig()
	if m, err := ParseMode(cfg.Search.Mode); err == nil {
		c.DefaultMode = m
	}
	c.Weights = Weights{Text: cfg.Search.WeightText, Vector: cfg.Search.WeightVector}
	c.CandidateK = cfg.Search.EffectiveCandidateK()
	if cfg.Search.MaxResults > 0 {
		c.DefaultLimit = cfg.Search.MaxResults
	}
	if cfg.Index.ChunkBytes > 0 {
		c.ChunkBytes = cfg.Index.ChunkBytes
	}
	if cfg.Cache.TTL > 0 {
		c.CacheTTL = cfg.Cache.TTL
	}
	return c
}
