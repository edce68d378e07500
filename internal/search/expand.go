package search

import (
	"context"
	"log/slog"
	"strings"

	"github.com/Aman-CERP/cgrep/internal/store"
)

// Expanded is a result location resolved from its ID, with surrounding lines.
type Expanded struct {
	ID           string `json:"id"`
	Found        bool   `json:"found"`
	Mode         Mode   `json:"mode,omitempty"`
	Path         string `json:"path,omitempty"`
	StartLine    int    `json:"start_line,omitempty"`
	EndLine      int    `json:"end_line,omitempty"`
	Symbol       string `json:"symbol,omitempty"`
	Kind         string `json:"kind,omitempty"`
	Snippet      string `json:"snippet,omitempty"`
	Context      string `json:"context,omitempty"`
	ContextStart int    `json:"context_start,omitempty"`
	ContextEnd   int    `json:"context_end,omitempty"`
	Error        string `json:"error,omitempty"`
}

// documentModes are the modes whose results are document-level.
var documentModes = []Mode{ModeKeyword, ModeHybrid}

// Expand resolves result IDs back to their locations without re-running a
// query, reading the current file content around each. IDs that no longer
// resolve come back with Found unset.
func (e *Engine) Expand(ctx context.Context, ids []string, contextLines int) ([]Expanded, error) {
	contextLines = max(contextLines, 0)
	want := make(map[string]*Expanded, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id != "" {
			want[id] = &Expanded{ID: id}
		}
	}
	if len(want) == 0 {
		return []Expanded{}, nil
	}

	if e.store != nil {
		if err := e.resolveIndexed(ctx, want); err != nil {
			return nil, err
		}
	}
	// IDs from scan-mode results may name windows the index no longer holds.
	if pending(want) > 0 {
		if err := e.resolveScanned(ctx, want); err != nil {
			return nil, err
		}
	}

	out := make([]Expanded, 0, len(ids))
	for _, id := range ids {
		x, ok := want[strings.TrimSpace(id)]
		if !ok {
			continue
		}
		if x.Found {
			e.fillContext(x, contextLines)
		}
		out = append(out, *x)
	}
	return out, nil
}

func pending(want map[string]*Expanded) int {
	n := 0
	for _, x := range want {
		if !x.Found {
			n++
		}
	}
	return n
}

func matchDocuments(want map[string]*Expanded, docs []store.Document) {
	for _, d := range docs {
		for _, m := range documentModes {
			x, ok := want[ResultID(d.Path, "", d.StartLine, d.EndLine, m)]
			if !ok || x.Found {
				continue
			}
			x.Found, x.Mode, x.Path, x.StartLine, x.EndLine = true, m, d.Path, d.StartLine, d.EndLine
		}
	}
}

func (e *Engine) resolveIndexed(ctx context.Context, want map[string]*Expanded) error {
	snap, err := e.store.Snapshot(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = snap.Close() }()

	files, err := snap.Files(ctx)
	if err != nil {
		return err
	}
	for _, f := range files {
		if pending(want) == 0 {
			return nil
		}
		docs, err := snap.DocumentsForPath(ctx, f.Path)
		if err != nil {
			return err
		}
		matchDocuments(want, docs)

		syms, err := snap.Symbols(ctx, store.SymbolQuery{Paths: []string{f.Path}})
		if err != nil {
			return err
		}
		for _, s := range syms {
			x, ok := want[ResultID(s.Path, s.ID, s.StartLine, s.EndLine, ModeSemantic)]
			if !ok || x.Found {
				continue
			}
			x.Found, x.Mode, x.Path, x.StartLine, x.EndLine = true, ModeSemantic, s.Path, s.StartLine, s.EndLine
			x.Symbol, x.Kind = s.Name, string(s.Kind)
		}
	}
	return nil
}

func (e *Engine) resolveScanned(ctx context.Context, want map[string]*Expanded) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	for res := range e.scanner.Scan(ctx) {
		if res.Error != nil || res.File.IsBinary {
			continue
		}
		content, _, err := e.scanner.ReadFile(res.File)
		if err != nil {
			continue
		}
		matchDocuments(want, store.SplitDocuments(res.File.Path, content, e.cfg.ChunkBytes))
		if pending(want) == 0 {
			return nil
		}
	}
	return ctx.Err()
}

// fillContext reads the location's lines and the context window around them
// from the current file content.
func (e *Engine) fillContext(x *Expanded, contextLines int) {
	fi, err := e.scanner.Describe(x.Path)
	if err != nil || fi == nil {
		x.Error = "file no longer readable"
		if err != nil {
			slog.Debug("expand_read_failed", slog.String("path", x.Path), slog.String("error", err.Error()))
		}
		return
	}
	content, _, err := e.scanner.ReadFile(fi)
	if err != nil {
		x.Error = err.Error()
		return
	}
	lines := strings.Split(string(content), "\n")
	if n := len(lines); n > 0 && lines[n-1] == "" {
		lines = lines[:n-1]
	}
	if x.StartLine > len(lines) {
		x.Error = "location is past the end of the file"
		return
	}
	end := min(x.EndLine, len(lines))
	x.Snippet = joinLines(lines[x.StartLine-1 : end])
	x.ContextStart = max(1, x.StartLine-contextLines)
	x.ContextEnd = min(len(lines), end+contextLines)
	x.Context = joinLines(lines[x.ContextStart-1 : x.ContextEnd])
}

func joinLines(lines []string) string {
	out := make([]string, len(lines))
	for i, l := range lines {
		out[i] = strings.TrimRight(l, "\r")
	}
	return strings.Join(out, "\n")
}
