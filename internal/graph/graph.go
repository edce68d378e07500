// Package graph answers symbol-graph queries: where a name is defined, who
// calls or references it, and which files import a given file.
//
// Queries read the index store when one exists and otherwise run a full
// extraction pass over the scoped files.
package graph

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path"
	"sort"
	"strings"
	"time"

	"github.com/bmatcuk/doublestar/v4"

	cerrors "github.com/Aman-CERP/cgrep/internal/errors"
	"github.com/Aman-CERP/cgrep/internal/scanner"
	"github.com/Aman-CERP/cgrep/internal/store"
	"github.com/Aman-CERP/cgrep/internal/symbols"
)

// ErrNilDependency is returned when a required dependency is nil.
var ErrNilDependency = errors.New("required dependency is nil")

// Location is one graph query hit.
type Location struct {
	// Kind is the symbol kind for definitions and the edge kind for sites.
	Kind     string `json:"kind"`
	Name     string `json:"name"`
	Path     string `json:"path"`
	Line     int    `json:"line"`
	Column   int    `json:"column"`
	EndLine  int    `json:"end_line,omitempty"`
	Language string `json:"language,omitempty"`
	// Caller is the enclosing symbol of a call or reference site.
	Caller string `json:"caller,omitempty"`
	Code   string `json:"code,omitempty"`
}

// Filters restrict which files a query considers.
type Filters struct {
	Language  string
	PathScope []string
	Globs     []string
	Excludes  []string
	// Files, when non-nil, admits only these exact paths.
	Files []string
	Kind  symbols.Kind
	Limit int
}

// Answer is a query result with the source it was computed from.
type Answer struct {
	Locations []Location `json:"results"`
	// Fallback is "extract" when no index was available.
	Fallback   string `json:"fallback,omitempty"`
	Generation int64  `json:"generation"`
}

// FallbackExtract marks answers computed by an extraction pass.
const FallbackExtract = "extract"

// Dependencies of a Graph. Store is optional.
type Dependencies struct {
	Store    *store.Store
	Scanner  *scanner.Scanner
	Registry *symbols.Registry
	// Workers bounds the extraction pass; 0 means 4.
	Workers int
}

// Graph answers graph queries.
type Graph struct {
	deps Dependencies
}

// New validates dependencies.
func New(deps Dependencies) (*Graph, error) {
	if deps.Scanner == nil {
		return nil, fmt.Errorf("%w: scanner", ErrNilDependency)
	}
	if deps.Registry == nil {
		deps.Registry = symbols.DefaultRegistry()
	}
	if deps.Workers <= 0 {
		deps.Workers = 4
	}
	return &Graph{deps: deps}, nil
}

// source returns the query backend: a snapshot of the store, or a fresh
// extraction over the files accepted by f. release must be called once the
// query is done.
func (g *Graph) source(ctx context.Context, f fileFilter) (source, *Answer, func(), error) {
	if g.deps.Store != nil {
		snap, err := g.deps.Store.Snapshot(ctx)
		if err != nil {
			return nil, nil, nil, err
		}
		release := func() { _ = snap.Close() }
		return &storeSource{snap: snap}, &Answer{Generation: snap.Gen()}, release, nil
	}
	start := time.Now()
	mem, err := extractAll(ctx, g.deps.Scanner, g.deps.Registry, g.deps.Workers, f)
	if err != nil {
		return nil, nil, nil, err
	}
	slog.Debug("graph_extraction_pass",
		slog.Int("files", mem.files),
		slog.Int("symbols", len(mem.symbols)),
		slog.Int64("duration_ms", time.Since(start).Milliseconds()))
	return mem, &Answer{Fallback: FallbackExtract}, func() {}, nil
}

// Definition returns the definitions of name, best first. Exact matches
// beat case-insensitive ones, which beat prefix matches, which beat
// substring matches; only the best tier is returned. Within a tier the
// deepest matching scope wins, then definition kinds over variables, then
// path and line order.
func (g *Graph) Definition(ctx context.Context, name string, f Filters) (*Answer, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, cerrors.ValidationError("symbol name is empty", nil)
	}
	ff, err := compileFilter(f)
	if err != nil {
		return nil, err
	}
	src, ans, release, err := g.source(ctx, ff)
	if err != nil {
		return nil, err
	}
	defer release()
	syms, err := src.symbolsLike(ctx, name)
	if err != nil {
		return nil, err
	}

	type ranked struct {
		sym   symbols.Symbol
		tier  int
		depth int
	}
	var cands []ranked
	best := tierNone
	for _, s := range syms {
		if !ff.match(s.Path, s.Language) || (f.Kind != "" && s.Kind != f.Kind) {
			continue
		}
		t := matchTier(s.Name, name)
		if t == tierNone {
			continue
		}
		best = min(best, t)
		cands = append(cands, ranked{sym: s, tier: t, depth: ff.scopeDepth(s.Path)})
	}
	sort.SliceStable(cands, func(i, j int) bool {
		a, b := cands[i], cands[j]
		if a.tier != b.tier {
			return a.tier < b.tier
		}
		if a.depth != b.depth {
			return a.depth > b.depth
		}
		if pa, pb := kindPriority(a.sym.Kind), kindPriority(b.sym.Kind); pa != pb {
			return pa < pb
		}
		if a.sym.Path != b.sym.Path {
			return a.sym.Path < b.sym.Path
		}
		return a.sym.StartLine < b.sym.StartLine
	})

	lines := newLineReader(g.deps.Scanner)
	ans.Locations = []Location{}
	for _, c := range cands {
		if c.tier != best {
			break
		}
		s := c.sym
		ans.Locations = append(ans.Locations, Location{
			Kind:     string(s.Kind),
			Name:     s.Name,
			Path:     s.Path,
			Line:     s.StartLine,
			Column:   lines.column(s.Path, s.StartLine, s.Name),
			EndLine:  s.EndLine,
			Language: s.Language,
			Code:     lines.line(s.Path, s.StartLine),
		})
		if f.Limit > 0 && len(ans.Locations) >= f.Limit {
			break
		}
	}
	return ans, nil
}

// Callers returns every call site of name.
func (g *Graph) Callers(ctx context.Context, name string, f Filters) (*Answer, error) {
	return g.sites(ctx, name, f, symbols.EdgeCalls)
}

// References returns every call and reference site of name.
func (g *Graph) References(ctx context.Context, name string, f Filters) (*Answer, error) {
	return g.sites(ctx, name, f, symbols.EdgeCalls, symbols.EdgeReferences)
}

func (g *Graph) sites(ctx context.Context, name string, f Filters, kinds ...symbols.EdgeKind) (*Answer, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, cerrors.ValidationError("symbol name is empty", nil)
	}
	ff, err := compileFilter(f)
	if err != nil {
		return nil, err
	}
	src, ans, release, err := g.source(ctx, ff)
	if err != nil {
		return nil, err
	}
	defer release()
	edges, err := src.edgesTo(ctx, name, kinds...)
	if err != nil {
		return nil, err
	}
	sortEdges(edges)

	lines := newLineReader(g.deps.Scanner)
	callers := make(map[string]string)
	ans.Locations = []Location{}
	for _, e := range edges {
		lang := scanner.DetectLanguage(e.Path)
		if !ff.match(e.Path, lang) {
			continue
		}
		loc := Location{
			Kind:     string(e.Kind),
			Name:     e.TargetName,
			Path:     e.Path,
			Line:     e.Line,
			Column:   e.Column,
			Language: lang,
			Code:     lines.line(e.Path, e.Line),
		}
		if e.SourceID != "" {
			caller, ok := callers[e.SourceID]
			if !ok {
				if s, err := src.symbol(ctx, e.SourceID); err == nil && s != nil {
					caller = s.Name
				}
				callers[e.SourceID] = caller
			}
			loc.Caller = caller
		}
		ans.Locations = append(ans.Locations, loc)
		if f.Limit > 0 && len(ans.Locations) >= f.Limit {
			break
		}
	}
	return ans, nil
}

// Dependents returns the files whose import edges resolve to target, one
// location per import site.
func (g *Graph) Dependents(ctx context.Context, target string, f Filters) (*Answer, error) {
	target = strings.TrimPrefix(path.Clean(strings.ReplaceAll(strings.TrimSpace(target), "\\", "/")), "./")
	if target == "" || target == "." {
		return nil, cerrors.ValidationError("target path is empty", nil)
	}
	ff, err := compileFilter(f)
	if err != nil {
		return nil, err
	}
	src, ans, release, err := g.source(ctx, ff)
	if err != nil {
		return nil, err
	}
	defer release()
	edges, err := src.imports(ctx)
	if err != nil {
		return nil, err
	}
	sortEdges(edges)

	keys := moduleKeys(target)
	lines := newLineReader(g.deps.Scanner)
	ans.Locations = []Location{}
	for _, e := range edges {
		if e.Path == target {
			continue
		}
		lang := scanner.DetectLanguage(e.Path)
		if !ff.match(e.Path, lang) || !importResolves(e.Path, lang, e.TargetName, keys) {
			continue
		}
		ans.Locations = append(ans.Locations, Location{
			Kind:     string(e.Kind),
			Name:     e.TargetName,
			Path:     e.Path,
			Line:     e.Line,
			Column:   e.Column,
			Language: lang,
			Code:     lines.line(e.Path, e.Line),
		})
		if f.Limit > 0 && len(ans.Locations) >= f.Limit {
			break
		}
	}
	return ans, nil
}

func sortEdges(edges []symbols.Edge) {
	sort.SliceStable(edges, func(i, j int) bool {
		a, b := edges[i], edges[j]
		if a.Path != b.Path {
			return a.Path < b.Path
		}
		if a.Line != b.Line {
			return a.Line < b.Line
		}
		return a.Column < b.Column
	})
}

const (
	tierExact = iota
	tierFold
	tierPrefix
	tierSubstring
	tierNone
)

func matchTier(candidate, name string) int {
	switch {
	case candidate == name:
		return tierExact
	case strings.EqualFold(candidate, name):
		return tierFold
	}
	lc, ln := strings.ToLower(candidate), strings.ToLower(name)
	switch {
	case strings.HasPrefix(lc, ln):
		return tierPrefix
	case strings.Contains(lc, ln):
		return tierSubstring
	}
	return tierNone
}

// kindPriority ranks declarations that define behavior or types ahead of
// plain bindings.
func kindPriority(k symbols.Kind) int {
	switch k {
	case symbols.KindFunction, symbols.KindMethod, symbols.KindClass, symbols.KindStruct,
		symbols.KindInterface, symbols.KindTrait, symbols.KindEnum, symbols.KindType:
		return 0
	case symbols.KindConstant, symbols.KindModule:
		return 1
	}
	return 2
}

// fileFilter is the compiled form of Filters.
type fileFilter struct {
	language string
	scope    []string
	globs    []string
	excludes []string
	files    map[string]bool
}

func compileFilter(f Filters) (fileFilter, error) {
	ff := fileFilter{language: strings.ToLower(strings.TrimSpace(f.Language))}
	for _, s := range f.PathScope {
		s = strings.TrimPrefix(path.Clean(strings.ReplaceAll(strings.TrimSpace(s), "\\", "/")), "./")
		if s != "" && s != "." {
			ff.scope = append(ff.scope, s)
		}
	}
	var err error
	if ff.globs, err = validPatterns(f.Globs); err != nil {
		return ff, err
	}
	if ff.excludes, err = validPatterns(f.Excludes); err != nil {
		return ff, err
	}
	if f.Files != nil {
		ff.files = make(map[string]bool, len(f.Files))
		for _, p := range f.Files {
			ff.files[strings.TrimPrefix(path.Clean(strings.ReplaceAll(p, "\\", "/")), "./")] = true
		}
	}
	return ff, nil
}

func validPatterns(in []string) ([]string, error) {
	var out []string
	for _, p := range in {
		if p = strings.TrimSpace(p); p == "" {
			continue
		}
		if !doublestar.ValidatePattern(p) {
			return nil, cerrors.New(cerrors.ErrCodeInvalidPattern, fmt.Sprintf("invalid glob pattern %q", p), nil)
		}
		out = append(out, p)
	}
	return out, nil
}

func (f fileFilter) match(rel, language string) bool {
	if f.language != "" && !strings.EqualFold(f.language, language) {
		return false
	}
	if f.files != nil && !f.files[rel] {
		return false
	}
	if len(f.scope) > 0 && f.scopeDepth(rel) == 0 {
		return false
	}
	for _, x := range f.excludes {
		if ok, _ := doublestar.Match(x, rel); ok {
			return false
		}
	}
	if len(f.globs) == 0 {
		return true
	}
	for _, g := range f.globs {
		if ok, _ := doublestar.Match(g, rel); ok {
			return true
		}
	}
	return false
}

// scopeDepth is the segment count of the deepest scope containing rel, 0
// when none does.
func (f fileFilter) scopeDepth(rel string) int {
	depth := 0
	for _, s := range f.scope {
		if rel == s || strings.HasPrefix(rel, s+"/") {
			depth = max(depth, strings.Count(s, "/")+1)
		}
	}
	return depth
}
