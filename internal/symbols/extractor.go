package symbols

import (
	"context"
	"fmt"
	"strings"
	"sync"

	cerrors "github.com/Aman-CERP/cgrep/internal/errors"
	"github.com/Aman-CERP/cgrep/internal/scanner"
)

// maxPreviewBytes bounds Symbol.Preview.
const maxPreviewBytes = 1024

// Registry dispatches extraction by language tag.
type Registry struct {
	mu         sync.RWMutex
	extractors map[string]Extractor
}

// NewRegistry returns a registry with every built-in tree-sitter language.
func NewRegistry() *Registry {
	r := &Registry{extractors: make(map[string]Extractor)}
	for _, spec := range builtinSpecs() {
		r.Register(&treeSitterExtractor{spec: spec})
	}
	return r
}

var (
	defaultRegistry     *Registry
	defaultRegistryOnce sync.Once
)

// DefaultRegistry returns the shared registry.
func DefaultRegistry() *Registry {
	defaultRegistryOnce.Do(func() { defaultRegistry = NewRegistry() })
	return defaultRegistry
}

// Register adds or replaces the extractor for its language.
func (r *Registry) Register(e Extractor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.extractors[e.Language()] = e
}

// For returns the extractor for language, or the unsupported variant.
func (r *Registry) For(language string) Extractor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if e, ok := r.extractors[language]; ok {
		return e
	}
	return unsupported{language: language}
}

// Supported reports whether language has a real extractor.
func (r *Registry) Supported(language string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.extractors[language]
	return ok
}

// unsupported yields nothing; the file is still indexed as text.
type unsupported struct{ language string }

func (u unsupported) Language() string { return u.language }

func (u unsupported) Extract(_ context.Context, path string, _ []byte) (*FileSymbols, error) {
	return &FileSymbols{Path: path, Language: u.language}, nil
}

type treeSitterExtractor struct {
	spec *languageSpec
}

func (e *treeSitterExtractor) Language() string { return e.spec.name }

func (e *treeSitterExtractor) Extract(ctx context.Context, path string, content []byte) (*FileSymbols, error) {
	tree, err := parse(ctx, e.spec.language, e.spec.name, content)
	if err != nil {
		return nil, cerrors.ParseError(path, e.spec.name, err)
	}

	w := &walker{
		spec:     e.spec,
		path:     path,
		src:      content,
		consumed: make(map[uint32]bool),
		ids:      make(map[string]bool),
	}
	w.visit(tree.Root, nil, frame{})

	out := &FileSymbols{
		Path:     path,
		Language: e.spec.name,
		Symbols:  w.symbols,
		Edges:    w.edges,
	}
	resolve(out)

	if tree.Root.HasError {
		return out, cerrors.ParseError(path, e.spec.name,
			fmt.Errorf("syntax errors in source, %d symbols recovered", len(out.Symbols)))
	}
	return out, nil
}

// frame is the innermost enclosing scope during the walk.
type frame struct {
	symbolID  string
	container string
}

type walker struct {
	spec *languageSpec
	path string
	src  []byte

	symbols []Symbol
	edges   []Edge
	// consumed holds start bytes of identifier nodes already accounted for
	// as definition names or callees.
	consumed map[uint32]bool
	ids      map[string]bool
}

func (w *walker) visit(n, parent *Node, scope frame) {
	inner := scope

	if rule, ok := w.spec.defs[n.Type]; ok {
		if id := w.define(n, parent, scope, rule); id != "" {
			inner = frame{symbolID: id, container: n.Type}
		}
	} else if w.spec.scopes[n.Type] {
		inner = frame{symbolID: scope.symbolID, container: n.Type}
	}

	if fn, ok := w.spec.imports[n.Type]; ok {
		specs := fn(n, w.src)
		for _, spec := range specs {
			if spec == "" {
				continue
			}
			w.edges = append(w.edges, Edge{
				SourceID:   scope.symbolID,
				TargetName: spec,
				Kind:       EdgeImports,
				Path:       w.path,
				Line:       int(n.StartPoint.Row) + 1,
				Column:     int(n.StartPoint.Column) + 1,
			})
		}
		// Import paths are not references; exports without a source are
		// ordinary declarations and are walked.
		if _, isDef := w.spec.defs[n.Type]; !isDef && len(specs) > 0 {
			return
		}
	}

	if field, ok := w.spec.calls[n.Type]; ok {
		if name := calleeName(n.ChildByField(field)); name != nil {
			w.consumed[name.StartByte] = true
			w.edges = append(w.edges, Edge{
				SourceID:   scope.symbolID,
				TargetName: name.Content(w.src),
				Kind:       EdgeCalls,
				Path:       w.path,
				Line:       int(name.StartPoint.Row) + 1,
				Column:     int(name.StartPoint.Column) + 1,
			})
		}
	}

	if w.spec.refs[n.Type] && !w.consumed[n.StartByte] {
		if name := n.Content(w.src); len(name) > 1 && !ignoredRefs[name] {
			w.edges = append(w.edges, Edge{
				SourceID:   scope.symbolID,
				TargetName: name,
				Kind:       EdgeReferences,
				Path:       w.path,
				Line:       int(n.StartPoint.Row) + 1,
				Column:     int(n.StartPoint.Column) + 1,
			})
		}
	}

	for _, c := range n.Children {
		w.visit(c, n, inner)
	}
}

// define records the symbols a definition node introduces and returns the
// ID of the first one, which becomes the scope for the node's children.
func (w *walker) define(n, parent *Node, scope frame, rule defRule) string {
	kind := rule.kind
	if rule.classify != nil {
		k, ok := rule.classify(defContext{node: n, parent: parent, container: scope.container, source: w.src})
		if !ok {
			return ""
		}
		kind = k
	}

	var first string
	for _, nameNode := range rule.names(n) {
		name := nameNode.Content(w.src)
		if name == "" {
			continue
		}
		w.consumed[nameNode.StartByte] = true

		startLine := int(n.StartPoint.Row) + 1
		id := SymbolID(w.path, kind, name, startLine)
		if w.ids[id] {
			continue
		}
		w.ids[id] = true

		span := w.src[n.StartByte:n.EndByte]
		w.symbols = append(w.symbols, Symbol{
			ID:          id,
			ParentID:    scope.symbolID,
			Name:        name,
			Kind:        kind,
			Path:        w.path,
			Language:    w.spec.name,
			StartByte:   int(n.StartByte),
			EndByte:     int(n.EndByte),
			StartLine:   startLine,
			EndLine:     int(n.EndPoint.Row) + 1,
			Preview:     preview(span),
			Fingerprint: scanner.Fingerprint(span),
		})
		if first == "" {
			first = id
		}
	}
	return first
}

// preview cuts span to maxPreviewBytes, backing off to a line boundary.
func preview(span []byte) string {
	if len(span) <= maxPreviewBytes {
		return string(span)
	}
	cut := span[:maxPreviewBytes]
	for i := len(cut) - 1; i > maxPreviewBytes/2; i-- {
		if cut[i] == '\n' {
			return string(cut[:i])
		}
	}
	return strings.ToValidUTF8(string(cut), "")
}
