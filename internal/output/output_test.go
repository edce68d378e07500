package output

import (
	"bytes"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	cerrors "github.com/Aman-CERP/cgrep/internal/errors"
	"github.com/Aman-CERP/cgrep/internal/graph"
	"github.com/Aman-CERP/cgrep/internal/search"
	"github.com/Aman-CERP/cgrep/internal/store"
	"github.com/Aman-CERP/cgrep/internal/symbols"
)

func sampleResponse() *search.Response {
	return &search.Response{
		Query:          "parse config",
		Mode:           search.ModeKeyword,
		Degraded:       true,
		DegradedReason: "no embeddings",
		Generation:     7,
		CacheHit:       true,
		Results: []search.Result{{
			ID: "abc123", Path: "config.go", Snippet: "func ParseConfig() {\n}", StartLine: 10, EndLine: 11,
			Score: 0.9, TextScore: 3.2, TextNorm: 1,
		}},
	}
}

func TestWriter_StatusLines(t *testing.T) {
	tests := []struct {
		name  string
		write func(w *Writer)
		want  []string
	}{
		{"status", func(w *Writer) { w.Status("🔍", "Checking index...") }, []string{"🔍", "Checking index..."}},
		{"success", func(w *Writer) { w.Successf("Indexed %d files", 3) }, []string{"✅", "Indexed 3 files"}},
		{"warning", func(w *Writer) { w.Warning("Embedder not available") }, []string{"⚠️", "Embedder not available"}},
		{"error", func(w *Writer) { w.Errorf("failed: %s", "boom") }, []string{"❌", "failed: boom"}},
		{"code", func(w *Writer) { w.Code("a\nb") }, []string{"  a\n  b\n"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf := &bytes.Buffer{}
			tt.write(New(buf))
			for _, want := range tt.want {
				assert.Contains(t, buf.String(), want)
			}
		})
	}
}

func TestParseFormat(t *testing.T) {
	f, err := ParseFormat("")
	require.NoError(t, err)
	assert.Equal(t, FormatText, f)

	f, err = ParseFormat(" JSON ")
	require.NoError(t, err)
	assert.Equal(t, FormatJSON, f)

	_, err = ParseFormat("yaml")
	assert.Equal(t, cerrors.ErrCodeInvalidInput, cerrors.GetCode(err))
}

func TestSearch_JSONCarriesMeta(t *testing.T) {
	// Given: a degraded, cached response
	buf := &bytes.Buffer{}
	w := NewWithOptions(buf, Options{Format: FormatJSON})

	// When: rendering as JSON
	require.NoError(t, w.Search(sampleResponse()))

	// Then: meta and per-result fields are present
	var doc struct {
		Meta    Meta             `json:"meta"`
		Results []map[string]any `json:"results"`
	}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &doc))
	assert.Equal(t, "keyword", doc.Meta.Mode)
	assert.True(t, doc.Meta.Degraded)
	assert.True(t, doc.Meta.CacheHit)
	assert.Equal(t, int64(7), doc.Meta.Generation)
	assert.Equal(t, 1, doc.Meta.Count)
	require.Len(t, doc.Results, 1)
	for _, key := range []string{"id", "path", "score", "text_score", "vector_score", "snippet", "start_line", "end_line", "degraded"} {
		assert.Contains(t, doc.Results[0], key)
	}
	assert.Equal(t, true, doc.Results[0]["degraded"])
}

func TestSearch_Text(t *testing.T) {
	buf := &bytes.Buffer{}
	w := New(buf)

	require.NoError(t, w.Search(sampleResponse()))

	out := buf.String()
	assert.Contains(t, out, "config.go:10-11")
	assert.Contains(t, out, "func ParseConfig()")
	assert.Contains(t, out, "no embeddings")
	assert.Contains(t, out, "generation 7")
	assert.NotContains(t, out, "\x1b[", "plain writer must not emit escapes")

	buf.Reset()
	compact := NewWithOptions(buf, Options{Format: FormatText, Compact: true})
	require.NoError(t, compact.Search(sampleResponse()))
	assert.NotContains(t, buf.String(), "func ParseConfig()")

	buf.Reset()
	require.NoError(t, w.Search(&search.Response{Query: "nothing"}))
	assert.Contains(t, buf.String(), `No results for "nothing"`)
}

func TestLocations(t *testing.T) {
	ans := &graph.Answer{
		Generation: 3,
		Locations: []graph.Location{{
			Kind: "calls", Name: "foo", Path: "b.rs", Line: 5, Column: 13, Caller: "main", Code: "let x = foo();",
		}},
	}

	buf := &bytes.Buffer{}
	require.NoError(t, New(buf).Locations("callers", "foo", ans))
	assert.Contains(t, buf.String(), "b.rs:5:13")
	assert.Contains(t, buf.String(), "calls foo in main")
	assert.Contains(t, buf.String(), "let x = foo();")

	buf.Reset()
	require.NoError(t, NewWithOptions(buf, Options{Format: FormatJSON}).Locations("callers", "foo", ans))
	var doc struct {
		Meta    Meta             `json:"meta"`
		Results []graph.Location `json:"results"`
	}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &doc))
	assert.Equal(t, "callers", doc.Meta.Command)
	assert.Equal(t, ans.Locations, doc.Results)
}

func TestExpandedAndSymbols(t *testing.T) {
	buf := &bytes.Buffer{}
	w := New(buf)

	require.NoError(t, w.Expanded([]search.Expanded{
		{ID: "x1", Found: true, Path: "a.go", StartLine: 3, EndLine: 4, Context: "one\ntwo", ContextStart: 2},
		{ID: "gone"},
	}))
	assert.Contains(t, buf.String(), "a.go:3-4")
	assert.Contains(t, buf.String(), "     2  one")
	assert.Contains(t, buf.String(), "gone: not found")

	buf.Reset()
	require.NoError(t, w.Symbols([]symbols.Symbol{{Name: "Open", Kind: symbols.KindFunction, Path: "store.go", StartLine: 12}}, 1))
	assert.Contains(t, buf.String(), "store.go:12")
	assert.Contains(t, buf.String(), "Open")
}

func TestIndexStatus(t *testing.T) {
	buf := &bytes.Buffer{}
	require.NoError(t, New(buf).IndexStatus(StatusReport{Root: "/repo"}))
	assert.Contains(t, buf.String(), "No index")

	buf.Reset()
	report := StatusReport{
		Root:    "/repo",
		Indexed: true,
		Stats: &store.Stats{
			Generation: 4, Files: 2, Symbols: 10, Embeddings: 5, SizeBytes: 2048,
			Languages: map[string]int{"go": 1, "rust": 1},
		},
		Coverage: 0.5,
	}
	require.NoError(t, New(buf).IndexStatus(report))
	assert.Contains(t, buf.String(), "50% coverage")
	assert.Contains(t, buf.String(), "2.0 KiB")
	assert.Contains(t, buf.String(), "go 1, rust 1")

	buf.Reset()
	require.NoError(t, NewWithOptions(buf, Options{Format: FormatJSON}).IndexStatus(report))
	var doc map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &doc))
	assert.Equal(t, true, doc["indexed"])
	assert.Contains(t, doc, "meta")
}

func TestFailure(t *testing.T) {
	err := cerrors.IndexRequiredError("semantic")

	buf := &bytes.Buffer{}
	New(buf).Failure(err)
	assert.Contains(t, buf.String(), cerrors.ErrCodeIndexRequired)

	buf.Reset()
	NewWithOptions(buf, Options{Format: FormatJSON}).Failure(err)
	var doc map[string]map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &doc))
	assert.Equal(t, cerrors.ErrCodeIndexRequired, doc["error"]["code"])

	buf.Reset()
	New(buf).Failure(errors.New("plain"))
	assert.Contains(t, buf.String(), "plain")
}

func TestFormatBytes(t *testing.T) {
	assert.Equal(t, "512 B", formatBytes(512))
	assert.Equal(t, "1.5 MiB", formatBytes(3<<19))
}

func TestIndexed(t *testing.T) {
	s := IndexSummary{RunID: "run-1", Generation: 3, Scanned: 5, Changed: 2, Unchanged: 3, DurationMS: 1500}

	buf := &bytes.Buffer{}
	require.NoError(t, New(buf).Indexed(s))
	assert.Contains(t, buf.String(), "generation 3: 2 changed, 0 removed, 3 unchanged (1.5s)")

	// Given: a run with file errors
	s.Errors = 1
	buf.Reset()
	require.NoError(t, New(buf).Indexed(s))

	// Then: the summary is a warning
	assert.Contains(t, buf.String(), "⚠️")
	assert.Contains(t, buf.String(), "1 errors")

	buf.Reset()
	require.NoError(t, NewWithOptions(buf, Options{Format: FormatJSON}).Indexed(s))
	var doc struct {
		Meta    Meta         `json:"meta"`
		Results IndexSummary `json:"results"`
	}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &doc))
	assert.Equal(t, "index", doc.Meta.Command)
	assert.Equal(t, int64(3), doc.Meta.Generation)
	assert.Equal(t, 2, doc.Meta.Count)
	assert.Equal(t, "run-1", doc.Results.RunID)
}

func TestWriter_JSONStatusLinesLeaveStdout(t *testing.T) {
	// Given: a JSON writer with a separate status stream
	out, status := &bytes.Buffer{}, &bytes.Buffer{}
	w := NewWithOptions(out, Options{Format: FormatJSON, Status: status})

	// When: warnings are printed around a result document
	w.Warning("Previous index discarded")
	require.NoError(t, w.Search(sampleResponse()))
	w.Successf("done")

	// Then: stdout holds exactly one JSON document
	var doc map[string]any
	require.NoError(t, json.Unmarshal(out.Bytes(), &doc), out.String())
	assert.Contains(t, status.String(), "Previous index discarded")
	assert.Contains(t, status.String(), "done")

	// And: without a status stream the lines are dropped
	out.Reset()
	w = NewWithOptions(out, Options{Format: FormatJSON})
	w.Warning("dropped")
	assert.Empty(t, out.String())
}

func TestCacheCleared(t *testing.T) {
	buf := &bytes.Buffer{}
	require.NoError(t, New(buf).CacheCleared(1, true))
	assert.Contains(t, buf.String(), "Cleared 1 cached result")

	buf.Reset()
	require.NoError(t, NewWithOptions(buf, Options{Format: FormatJSON}).CacheCleared(3, true))
	var doc struct {
		Meta    Meta           `json:"meta"`
		Results map[string]any `json:"results"`
	}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &doc), buf.String())
	assert.Equal(t, "cache clear", doc.Meta.Command)
	assert.EqualValues(t, 3, doc.Results["cleared"])
	assert.Equal(t, true, doc.Results["enabled"])
}
