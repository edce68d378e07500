// Package store persists the code index in a single SQLite database:
// tracked files, text documents with an FTS5 BM25 index, symbols, edges and
// embeddings. Every mutation goes through Apply as one transaction and bumps
// the index generation, so readers only ever see whole batches.
package store

import (
	"fmt"
	"strings"
	"time"

	"github.com/Aman-CERP/cgrep/internal/symbols"
)

// SchemaVersion is bumped whenever the table layout changes. An index with
// any other version is discarded and rebuilt.
const SchemaVersion = 4

// File names under the state directory.
const (
	DBFileName   = "index.db"
	LockFileName = "index.lock"
)

// Meta keys.
const (
	metaSchemaVersion = "schema_version"
	metaGeneration    = "generation"
	metaRunID         = "run_id"
	metaUpdatedAt     = "updated_at"
)

// File is a tracked file row.
type File struct {
	Path        string
	Fingerprint string
	Size        int64
	Language    string
	IndexedAt   time.Time
	Truncated   bool
}

// Document is a fixed byte window of a file, the unit of text search.
// Content holds the window's raw bytes, so the contents of a file's
// documents concatenate back to the file.
type Document struct {
	ID        string
	Path      string
	Ordinal   int
	StartByte int
	EndByte   int
	StartLine int
	EndLine   int
	Content   string

	// indexText is the tokenized form: the window shifted to whole words.
	indexText string
	split     bool
}

// IndexText returns the text that is tokenized for this document. A word
// cut by the window's end is completed from the next window, and a word
// cut by its start is left to the previous one, so every token of the
// file lands in exactly one document.
func (d Document) IndexText() string {
	if d.split {
		return d.indexText
	}
	return strings.ToValidUTF8(d.Content, "\uFFFD")
}

// DocumentID formats the ID of the ordinal-th window of path.
func DocumentID(path string, ordinal int) string {
	return fmt.Sprintf("%s#%d", path, ordinal)
}

// FileUpdate replaces everything stored for one file.
type FileUpdate struct {
	File      File
	Documents []Document
	Symbols   []symbols.Symbol
	Edges     []symbols.Edge
}

// Batch is one atomic index mutation.
type Batch struct {
	Files    []FileUpdate
	Removals []string
	// Force rewrites files even when their fingerprint is unchanged.
	Force bool
	// RunID tags the generation this batch produces.
	RunID string
}

// Empty reports whether the batch carries no work.
func (b Batch) Empty() bool {
	return len(b.Files) == 0 && len(b.Removals) == 0
}

// TextQuery narrows a full-text search. A nil Paths or DocIDs means no
// restriction; a non-nil empty slice matches nothing.
type TextQuery struct {
	Limit  int
	Paths  []string
	DocIDs []string
	// Fuzzy also matches indexed terms within a small edit distance of
	// each query token.
	Fuzzy bool
}

// TextHit is one BM25-scored document. Score is positive, higher is better.
type TextHit struct {
	DocID     string
	Path      string
	Ordinal   int
	StartLine int
	EndLine   int
	Score     float64
}

// SymbolQuery filters Symbols. Empty fields match everything.
type SymbolQuery struct {
	Name string
	// Exact requires Name to match exactly; otherwise Name is a
	// case-insensitive substring.
	Exact    bool
	Kind     symbols.Kind
	Language string
	Paths    []string
	Limit    int
}

// Embedding is a stored vector for one symbol under one provider/model.
type Embedding struct {
	SymbolID    string
	Provider    string
	Model       string
	Dims        int
	Vector      []float32
	Fingerprint string
	CreatedAt   time.Time
}

// Stats summarizes the index.
type Stats struct {
	SchemaVersion int            `json:"schema_version"`
	Generation    int64          `json:"generation"`
	RunID         string         `json:"run_id,omitempty"`
	UpdatedAt     time.Time      `json:"updated_at"`
	Files         int            `json:"files"`
	Documents     int            `json:"documents"`
	Symbols       int            `json:"symbols"`
	Edges         int            `json:"edges"`
	Embeddings    int            `json:"embeddings"`
	Languages     map[string]int `json:"languages"`
	Driver        string         `json:"driver"`
	SizeBytes     int64          `json:"size_bytes"`
}

// FieldWeights weight the BM25 columns. Path and name hits count for more
// than body text by default.
type FieldWeights struct {
	Path    float64
	Names   float64
	Content float64
}

// DefaultFieldWeights returns the default column weights.
func DefaultFieldWeights() FieldWeights {
	return FieldWeights{Path: 2.0, Names: 3.0, Content: 1.0}
}

// Options configure Open.
type Options struct {
	Weights FieldWeights
	// ReadConns bounds the reader pool.
	ReadConns int
}

// DefaultOptions returns the default store options.
func DefaultOptions() Options {
	return Options{Weights: DefaultFieldWeights(), ReadConns: 4}
}
