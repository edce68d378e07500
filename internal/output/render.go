package output

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/Aman-CERP/cgrep/internal/graph"
	"github.com/Aman-CERP/cgrep/internal/search"
	"github.com/Aman-CERP/cgrep/internal/store"
	"github.com/Aman-CERP/cgrep/internal/symbols"
)

// Meta describes how a result set was produced.
type Meta struct {
	Command        string `json:"command"`
	Query          string `json:"query,omitempty"`
	Mode           string `json:"mode,omitempty"`
	Degraded       bool   `json:"degraded"`
	DegradedReason string `json:"degraded_reason,omitempty"`
	Fallback       string `json:"fallback,omitempty"`
	CacheHit       bool   `json:"cache_hit"`
	Generation     int64  `json:"generation"`
	Count          int    `json:"count"`
	DurationMS     int64  `json:"duration_ms,omitempty"`
	// Truncated is set when an output budget clipped or dropped results.
	Truncated     bool     `json:"truncated"`
	MaxTotalChars int      `json:"max_total_chars,omitempty"`
	Warnings      []string `json:"warnings,omitempty"`
}

// envelope is the JSON document for every result-producing command.
type envelope struct {
	Meta    Meta `json:"meta"`
	Results any  `json:"results"`
}

// searchItem flattens a result and marks whether it came from a degraded run.
type searchItem struct {
	search.Result
	Degraded bool `json:"degraded"`
}

func (w *Writer) writeJSON(v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode output: %w", err)
	}
	_, err = fmt.Fprintln(w.out, string(data))
	return err
}

// SearchMeta builds the meta block of a search response.
func SearchMeta(resp *search.Response) Meta {
	return Meta{
		Command:        "search",
		Query:          resp.Query,
		Mode:           string(resp.Mode),
		Degraded:       resp.Degraded,
		DegradedReason: resp.DegradedReason,
		Fallback:       resp.Fallback,
		CacheHit:       resp.CacheHit,
		Generation:     resp.Generation,
		Count:          len(resp.Results),
		DurationMS:     resp.DurationMS,
		Truncated:      resp.Truncated,
		MaxTotalChars:  resp.MaxTotalChars,
		Warnings:       resp.Warnings,
	}
}

// Search renders a search response.
func (w *Writer) Search(resp *search.Response) error {
	meta := SearchMeta(resp)
	if w.format == FormatJSON {
		items := make([]searchItem, len(resp.Results))
		for i, r := range resp.Results {
			items[i] = searchItem{Result: r, Degraded: resp.Degraded}
		}
		return w.writeJSON(envelope{Meta: meta, Results: items})
	}

	if resp.Degraded {
		w.Warningf("vector search unavailable (%s), showing keyword results", resp.DegradedReason)
	}
	for _, msg := range resp.Warnings {
		w.Warning(msg)
	}
	if resp.Fallback != "" {
		w.Status("", w.styles.dim.Render("scanned the tree directly, index not used"))
	}
	if len(resp.Results) == 0 {
		w.Status("", fmt.Sprintf("No results for %q", resp.Query))
		return nil
	}
	for _, r := range resp.Results {
		loc := fmt.Sprintf("%s:%s",
			w.styles.path.Render(r.Path),
			w.styles.line.Render(fmt.Sprintf("%d-%d", r.StartLine, r.EndLine)))
		header := loc
		if r.Symbol != "" {
			header += " " + w.styles.kind.Render(fmt.Sprintf("%s %s", r.Kind, r.Symbol))
		}
		header += " " + w.styles.score.Render(fmt.Sprintf("[%.3f] %s", r.Score, r.ID))
		_, _ = fmt.Fprintln(w.out, header)
		if !w.compact && r.Snippet != "" {
			w.snippet(r.Snippet, r.StartLine)
		}
	}
	w.footer(meta)
	return nil
}

// snippet prints numbered lines starting at first.
func (w *Writer) snippet(text string, first int) {
	for i, line := range strings.Split(text, "\n") {
		num := w.styles.dim.Render(fmt.Sprintf("%6d", first+i))
		_, _ = fmt.Fprintf(w.out, "%s  %s\n", num, line)
	}
	_, _ = fmt.Fprintln(w.out)
}

func (w *Writer) footer(m Meta) {
	parts := []string{fmt.Sprintf("%d results", m.Count)}
	if m.Mode != "" {
		parts = append(parts, "mode "+m.Mode)
	}
	if m.Generation > 0 {
		parts = append(parts, fmt.Sprintf("generation %d", m.Generation))
	}
	if m.CacheHit {
		parts = append(parts, "cached")
	}
	if m.Truncated {
		parts = append(parts, "truncated")
	}
	if m.DurationMS > 0 {
		parts = append(parts, (time.Duration(m.DurationMS) * time.Millisecond).String())
	}
	_, _ = fmt.Fprintln(w.out, w.styles.dim.Render(strings.Join(parts, " · ")))
}

// Locations renders a graph answer for the given command name.
func (w *Writer) Locations(command, target string, ans *graph.Answer) error {
	meta := Meta{
		Command:    command,
		Query:      target,
		Fallback:   ans.Fallback,
		Generation: ans.Generation,
		Count:      len(ans.Locations),
	}
	if w.format == FormatJSON {
		return w.writeJSON(envelope{Meta: meta, Results: ans.Locations})
	}

	if len(ans.Locations) == 0 {
		w.Status("", fmt.Sprintf("No %s found for %q", command, target))
		return nil
	}
	for _, l := range ans.Locations {
		line := fmt.Sprintf("%s:%s",
			w.styles.path.Render(l.Path),
			w.styles.line.Render(fmt.Sprintf("%d:%d", l.Line, l.Column)))
		label := l.Kind + " " + l.Name
		if l.Caller != "" {
			label += " in " + l.Caller
		}
		line += " " + w.styles.kind.Render(label)
		_, _ = fmt.Fprintln(w.out, line)
		if !w.compact && l.Code != "" {
			_, _ = fmt.Fprintf(w.out, "    %s\n", l.Code)
		}
	}
	w.footer(meta)
	return nil
}

// Expanded renders resolved result IDs.
func (w *Writer) Expanded(items []search.Expanded) error {
	if w.format == FormatJSON {
		return w.writeJSON(envelope{Meta: Meta{Command: "expand", Count: len(items)}, Results: items})
	}
	for _, x := range items {
		if !x.Found {
			msg := "not found"
			if x.Error != "" {
				msg = x.Error
			}
			w.Warningf("%s: %s", x.ID, msg)
			continue
		}
		header := fmt.Sprintf("%s:%s %s",
			w.styles.path.Render(x.Path),
			w.styles.line.Render(fmt.Sprintf("%d-%d", x.StartLine, x.EndLine)),
			w.styles.score.Render(x.ID))
		if x.Symbol != "" {
			header += " " + w.styles.kind.Render(x.Kind+" "+x.Symbol)
		}
		_, _ = fmt.Fprintln(w.out, header)
		switch {
		case x.Context != "":
			w.snippet(x.Context, x.ContextStart)
		case x.Snippet != "":
			w.snippet(x.Snippet, x.StartLine)
		}
	}
	return nil
}

// symbolItem is the JSON shape of a listed symbol.
type symbolItem struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Kind      string `json:"kind"`
	Path      string `json:"path"`
	Language  string `json:"language"`
	StartLine int    `json:"start_line"`
	EndLine   int    `json:"end_line"`
	Preview   string `json:"preview,omitempty"`
}

// Symbols renders a symbol listing.
func (w *Writer) Symbols(syms []symbols.Symbol, generation int64) error {
	if w.format == FormatJSON {
		items := make([]symbolItem, len(syms))
		for i, s := range syms {
			items[i] = symbolItem{
				ID: s.ID, Name: s.Name, Kind: string(s.Kind), Path: s.Path, Language: s.Language,
				StartLine: s.StartLine, EndLine: s.EndLine,
			}
			if !w.compact {
				items[i].Preview = s.Preview
			}
		}
		return w.writeJSON(envelope{Meta: Meta{Command: "symbols", Generation: generation, Count: len(items)}, Results: items})
	}

	if len(syms) == 0 {
		w.Status("", "No symbols found")
		return nil
	}
	for _, s := range syms {
		_, _ = fmt.Fprintf(w.out, "%s:%s %s %s\n",
			w.styles.path.Render(s.Path),
			w.styles.line.Render(fmt.Sprintf("%d", s.StartLine)),
			w.styles.kind.Render(fmt.Sprintf("%-9s", s.Kind)),
			s.Name)
	}
	return nil
}

// StatusReport summarizes the index for the status command.
type StatusReport struct {
	Root     string       `json:"root"`
	Indexed  bool         `json:"indexed"`
	Stats    *store.Stats `json:"stats,omitempty"`
	Provider string       `json:"provider,omitempty"`
	Model    string       `json:"model,omitempty"`
	// Coverage is the share of symbols with a current embedding.
	Coverage     float64 `json:"embedding_coverage"`
	CacheEntries int     `json:"cache_entries"`
}

// IndexStatus renders a status report.
func (w *Writer) IndexStatus(r StatusReport) error {
	if w.format == FormatJSON {
		var gen int64
		if r.Stats != nil {
			gen = r.Stats.Generation
		}
		return w.writeJSON(struct {
			Meta Meta `json:"meta"`
			StatusReport
		}{Meta: Meta{Command: "status", Generation: gen}, StatusReport: r})
	}

	w.Status("", w.styles.path.Render(r.Root))
	if !r.Indexed || r.Stats == nil {
		w.Warning("No index. Run 'cgrep index' to build one.")
		return nil
	}
	s := r.Stats
	rows := [][2]string{
		{"Generation", fmt.Sprintf("%d", s.Generation)},
		{"Files", fmt.Sprintf("%d", s.Files)},
		{"Documents", fmt.Sprintf("%d", s.Documents)},
		{"Symbols", fmt.Sprintf("%d", s.Symbols)},
		{"Edges", fmt.Sprintf("%d", s.Edges)},
		{"Embeddings", fmt.Sprintf("%d (%.0f%% coverage)", s.Embeddings, r.Coverage*100)},
		{"Cache entries", fmt.Sprintf("%d", r.CacheEntries)},
		{"Driver", s.Driver},
		{"Size", formatBytes(s.SizeBytes)},
	}
	if r.Provider != "" {
		rows = append(rows, [2]string{"Embedder", r.Provider + "/" + r.Model})
	}
	if !s.UpdatedAt.IsZero() {
		rows = append(rows, [2]string{"Updated", s.UpdatedAt.Format(time.RFC3339)})
	}
	if len(s.Languages) > 0 {
		langs := make([]string, 0, len(s.Languages))
		for l, n := range s.Languages {
			if l == "" {
				l = "other"
			}
			langs = append(langs, fmt.Sprintf("%s %d", l, n))
		}
		sort.Strings(langs)
		rows = append(rows, [2]string{"Languages", strings.Join(langs, ", ")})
	}
	for _, row := range rows {
		_, _ = fmt.Fprintf(w.out, "  %s %s\n", w.styles.score.Render(fmt.Sprintf("%-14s", row[0])), row[1])
	}
	return nil
}

func formatBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}

// IndexSummary reports one indexing run.
type IndexSummary struct {
	RunID      string `json:"run_id"`
	Generation int64  `json:"generation"`
	Scanned    int    `json:"scanned"`
	Changed    int    `json:"changed"`
	Unchanged  int    `json:"unchanged"`
	Removed    int    `json:"removed"`
	Symbols    int    `json:"symbols"`
	Embedded   int    `json:"embedded"`
	Errors     int    `json:"errors"`
	Warnings   int    `json:"warnings"`
	DurationMS int64  `json:"duration_ms"`
}

// Indexed renders an index run summary as one line or one JSON document.
func (w *Writer) Indexed(s IndexSummary) error {
	if w.format == FormatJSON {
		return w.writeJSON(envelope{
			Meta:    Meta{Command: "index", Generation: s.Generation, Count: s.Changed, DurationMS: s.DurationMS},
			Results: s,
		})
	}
	msg := fmt.Sprintf("generation %d: %d changed, %d removed, %d unchanged (%s)",
		s.Generation, s.Changed, s.Removed, s.Unchanged,
		(time.Duration(s.DurationMS) * time.Millisecond).String())
	if s.Errors > 0 {
		w.Warningf("%s, %d errors", msg, s.Errors)
		return nil
	}
	w.Success(msg)
	return nil
}

// CacheCleared reports a cache clear. enabled is false when the session
// cache is turned off in configuration.
func (w *Writer) CacheCleared(entries int, enabled bool) error {
	if w.format == FormatJSON {
		return w.writeJSON(envelope{
			Meta: Meta{Command: "cache clear", Count: entries},
			Results: struct {
				Enabled bool `json:"enabled"`
				Cleared int  `json:"cleared"`
			}{enabled, entries},
		})
	}
	if !enabled {
		w.Status("", "Session cache is disabled")
		return nil
	}
	noun := "results"
	if entries == 1 {
		noun = "result"
	}
	w.Successf("Cleared %d cached %s", entries, noun)
	return nil
}
