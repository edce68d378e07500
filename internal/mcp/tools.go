package mcp

import (
	"github.com/Aman-CERP/cgrep/internal/search"
)

// SearchInput defines the input schema for the search tool.
type SearchInput struct {
	Query    string   `json:"query" jsonschema:"the search query to execute"`
	Mode     string   `json:"mode,omitempty" jsonschema:"keyword, semantic or hybrid; defaults to the configured mode"`
	Limit    int      `json:"limit,omitempty" jsonschema:"maximum number of results, default 10"`
	Language string   `json:"language,omitempty" jsonschema:"filter by programming language, e.g. go, rust, python"`
	Scope    []string `json:"scope,omitempty" jsonschema:"filter by path prefixes (OR logic)"`
	Globs    []string `json:"globs,omitempty" jsonschema:"only files matching one of these doublestar globs"`
	Exclude  []string `json:"exclude,omitempty" jsonschema:"skip files matching any of these doublestar globs"`

	Regex         bool `json:"regex,omitempty" jsonschema:"treat the query as a regular expression; scans the tree"`
	CaseSensitive bool `json:"case_sensitive,omitempty" jsonschema:"match case when scanning"`
	Fuzzy         bool `json:"fuzzy,omitempty" jsonschema:"tolerate small typos in index search"`
	MaxChars      int  `json:"max_chars_per_snippet,omitempty" jsonschema:"clip each snippet to this many characters"`
	MaxTotalChars int  `json:"max_total_chars,omitempty" jsonschema:"stop adding snippet text past this many characters"`
}

// ExpandInput defines the input schema for the expand tool.
type ExpandInput struct {
	IDs     []string `json:"ids" jsonschema:"result IDs returned by a previous search"`
	Context int      `json:"context,omitempty" jsonschema:"lines of surrounding context, default 3"`
}

// ExpandOutput defines the output schema for the expand tool.
type ExpandOutput struct {
	Results []search.Expanded `json:"results"`
}

// SymbolInput defines the input schema for the definition, callers and
// references tools.
type SymbolInput struct {
	Name     string   `json:"name" jsonschema:"the symbol name to look up"`
	Kind     string   `json:"kind,omitempty" jsonschema:"definition kind filter: function, method, struct, class, ..."`
	Language string   `json:"language,omitempty" jsonschema:"filter by programming language"`
	Scope    []string `json:"scope,omitempty" jsonschema:"filter by path prefixes (OR logic)"`
	Globs    []string `json:"globs,omitempty" jsonschema:"only files matching one of these doublestar globs"`
	Exclude  []string `json:"exclude,omitempty" jsonschema:"skip files matching any of these doublestar globs"`
	Limit    int      `json:"limit,omitempty" jsonschema:"maximum number of results"`
}

// DependentsInput defines the input schema for the dependents tool.
type DependentsInput struct {
	Path     string   `json:"path" jsonschema:"the file whose importers to find, relative to the project root"`
	Language string   `json:"language,omitempty" jsonschema:"only importers in this language"`
	Scope    []string `json:"scope,omitempty" jsonschema:"filter by path prefixes (OR logic)"`
	Limit    int      `json:"limit,omitempty" jsonschema:"maximum number of results"`
}

// IndexStatusInput defines the input schema for the index_status tool (no parameters).
type IndexStatusInput struct{}

// IndexStatusOutput defines the output schema for the index_status tool.
type IndexStatusOutput struct {
	Project      ProjectInfo   `json:"project"`
	Indexed      bool          `json:"indexed"`
	Stats        *IndexStats   `json:"stats,omitempty"`
	Embeddings   EmbeddingInfo `json:"embeddings"`
	CacheEntries int           `json:"cache_entries"`
}

// IndexStats contains statistics about the index.
type IndexStats struct {
	Generation  int64          `json:"generation"`
	Files       int            `json:"files"`
	Documents   int            `json:"documents"`
	Symbols     int            `json:"symbols"`
	Edges       int            `json:"edges"`
	Embeddings  int            `json:"embeddings"`
	Languages   map[string]int `json:"languages"`
	SizeBytes   int64          `json:"size_bytes"`
	LastIndexed string         `json:"last_indexed,omitempty"`
}

// ProjectInfo contains information about the indexed project.
type ProjectInfo struct {
	Name     string `json:"name"`
	RootPath string `json:"root_path"`
	Type     string `json:"type"`
}

// EmbeddingInfo tells agents whether semantic and hybrid search will run
// or degrade to keyword results.
type EmbeddingInfo struct {
	Provider   string  `json:"provider"`
	Model      string  `json:"model"`
	Dimensions int     `json:"dimensions"`
	Available  bool    `json:"available"`
	Coverage   float64 `json:"coverage"`
}
