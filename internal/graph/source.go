package graph

import (
	"context"
	"log/slog"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/Aman-CERP/cgrep/internal/scanner"
	"github.com/Aman-CERP/cgrep/internal/store"
	"github.com/Aman-CERP/cgrep/internal/symbols"
)

// source is the symbol and edge backend of a query.
type source interface {
	// symbolsLike returns symbols whose name contains name, ignoring case.
	symbolsLike(ctx context.Context, name string) ([]symbols.Symbol, error)
	edgesTo(ctx context.Context, name string, kinds ...symbols.EdgeKind) ([]symbols.Edge, error)
	imports(ctx context.Context) ([]symbols.Edge, error)
	symbol(ctx context.Context, id string) (*symbols.Symbol, error)
}

// storeSource reads one index snapshot, so a query's symbols and edges
// come from the same generation.
type storeSource struct {
	snap *store.Snapshot
}

func (s *storeSource) symbolsLike(ctx context.Context, name string) ([]symbols.Symbol, error) {
	return s.snap.Symbols(ctx, store.SymbolQuery{Name: name})
}

func (s *storeSource) edgesTo(ctx context.Context, name string, kinds ...symbols.EdgeKind) ([]symbols.Edge, error) {
	return s.snap.EdgesByTarget(ctx, name, kinds...)
}

func (s *storeSource) imports(ctx context.Context) ([]symbols.Edge, error) {
	return s.snap.ImportEdges(ctx)
}

func (s *storeSource) symbol(ctx context.Context, id string) (*symbols.Symbol, error) {
	return s.snap.Symbol(ctx, id)
}

// memSource holds the output of one extraction pass.
type memSource struct {
	files   int
	symbols []symbols.Symbol
	byID    map[string]*symbols.Symbol
	edges   []symbols.Edge
}

// extractAll parses every scanned file accepted by f on a bounded pool.
// Files that fail to parse contribute their partial symbols.
func extractAll(ctx context.Context, sc *scanner.Scanner, reg *symbols.Registry, workers int, f fileFilter) (*memSource, error) {
	src := &memSource{byID: make(map[string]*symbols.Symbol)}
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for res := range sc.Scan(gctx) {
		if res.Error != nil {
			slog.Debug("graph_scan_skipped", slog.String("error", res.Error.Error()))
			continue
		}
		fi := res.File
		if fi.IsBinary || !f.match(fi.Path, fi.Language) {
			continue
		}
		g.Go(func() error {
			content, _, err := sc.ReadFile(fi)
			if err != nil {
				slog.Debug("graph_read_failed", slog.String("path", fi.Path), slog.String("error", err.Error()))
				return nil
			}
			fs, err := reg.For(fi.Language).Extract(gctx, fi.Path, content)
			if err != nil && gctx.Err() != nil {
				return gctx.Err()
			}
			mu.Lock()
			defer mu.Unlock()
			src.files++
			if fs != nil {
				src.symbols = append(src.symbols, fs.Symbols...)
				src.edges = append(src.edges, fs.Edges...)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	for i := range src.symbols {
		src.byID[src.symbols[i].ID] = &src.symbols[i]
	}
	return src, nil
}

func (m *memSource) symbolsLike(_ context.Context, name string) ([]symbols.Symbol, error) {
	needle := strings.ToLower(name)
	var out []symbols.Symbol
	for _, s := range m.symbols {
		if strings.Contains(strings.ToLower(s.Name), needle) {
			out = append(out, s)
		}
	}
	return out, nil
}

func (m *memSource) edgesTo(_ context.Context, name string, kinds ...symbols.EdgeKind) ([]symbols.Edge, error) {
	var out []symbols.Edge
	for _, e := range m.edges {
		if e.TargetName == name && (len(kinds) == 0 || hasKind(kinds, e.Kind)) {
			out = append(out, e)
		}
	}
	return out, nil
}

func (m *memSource) imports(_ context.Context) ([]symbols.Edge, error) {
	var out []symbols.Edge
	for _, e := range m.edges {
		if e.Kind == symbols.EdgeImports {
			out = append(out, e)
		}
	}
	return out, nil
}

func (m *memSource) symbol(_ context.Context, id string) (*symbols.Symbol, error) {
	return m.byID[id], nil
}

func hasKind(kinds []symbols.EdgeKind, k symbols.EdgeKind) bool {
	for _, x := range kinds {
		if x == k {
			return true
		}
	}
	return false
}

// lineReader serves source lines for result payloads, reading each file at
// most once per query.
type lineReader struct {
	sc    *scanner.Scanner
	files map[string][]string
}

func newLineReader(sc *scanner.Scanner) *lineReader {
	return &lineReader{sc: sc, files: make(map[string][]string)}
}

func (r *lineReader) lines(rel string) []string {
	if ls, ok := r.files[rel]; ok {
		return ls
	}
	var ls []string
	if fi, err := r.sc.Describe(rel); err == nil && fi != nil && !fi.IsBinary {
		if content, _, err := r.sc.ReadFile(fi); err == nil {
			ls = strings.Split(string(content), "\n")
		}
	}
	r.files[rel] = ls
	return ls
}

// line returns the trimmed text of a 1-indexed line, or "".
func (r *lineReader) line(rel string, n int) string {
	ls := r.lines(rel)
	if n < 1 || n > len(ls) {
		return ""
	}
	return strings.TrimSpace(ls[n-1])
}

// column returns the 1-indexed column of name on line n, or 1.
func (r *lineReader) column(rel string, n int, name string) int {
	ls := r.lines(rel)
	if n < 1 || n > len(ls) {
		return 1
	}
	if i := strings.Index(ls[n-1], name); i >= 0 {
		return i + 1
	}
	return 1
}
