package symbols

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"strconv"
)

// Kind is the classification of a symbol.
type Kind string

const (
	KindFunction  Kind = "function"
	KindMethod    Kind = "method"
	KindClass     Kind = "class"
	KindStruct    Kind = "struct"
	KindEnum      Kind = "enum"
	KindTrait     Kind = "trait"
	KindInterface Kind = "interface"
	KindType      Kind = "type"
	KindConstant  Kind = "constant"
	KindVariable  Kind = "variable"
	KindModule    Kind = "module"
)

// EdgeKind is the relation an edge records.
type EdgeKind string

const (
	EdgeCalls      EdgeKind = "calls"
	EdgeReferences EdgeKind = "references"
	EdgeImports    EdgeKind = "imports"
)

// Symbol is a named definition located in a file.
type Symbol struct {
	ID        string // SymbolID(path, kind, name, startLine)
	ParentID  string // innermost enclosing symbol, "" at file level
	Name      string
	Kind      Kind
	Path      string
	Language  string
	StartByte int
	EndByte   int
	StartLine int // 1-indexed
	EndLine   int // inclusive
	// Preview is a bounded prefix of the symbol's source.
	Preview string
	// Fingerprint is the sha256 of the span bytes. It changes when the body
	// changes even though ID does not.
	Fingerprint string
}

// Edge is a call, reference or import site.
type Edge struct {
	SourceID   string // enclosing symbol, "" at file level
	TargetName string // called or referenced name, or import specifier
	TargetID   string // resolved same-file definition, "" when unresolved
	Kind       EdgeKind
	Path       string
	Line       int // 1-indexed
	Column     int // 1-indexed
}

// FileSymbols is the extraction result for one file, in textual order.
type FileSymbols struct {
	Path     string
	Language string
	Symbols  []Symbol
	Edges    []Edge
}

// Extractor produces symbols and edges for one language.
type Extractor interface {
	Language() string
	// Extract parses content. Malformed source fails soft: a partial result
	// is returned together with a ParseError.
	Extract(ctx context.Context, path string, content []byte) (*FileSymbols, error)
}

// SymbolID derives a stable identifier from structural facts only, so edits
// elsewhere in the file or inside the body do not change it.
func SymbolID(path string, kind Kind, name string, startLine int) string {
	h := sha256.New()
	h.Write([]byte(path))
	h.Write([]byte{0})
	h.Write([]byte(kind))
	h.Write([]byte{0})
	h.Write([]byte(name))
	h.Write([]byte{0})
	h.Write([]byte(strconv.Itoa(startLine)))
	return hex.EncodeToString(h.Sum(nil))[:16]
}
