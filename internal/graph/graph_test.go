package graph

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aman-CERP/cgrep/internal/config"
	cerrors "github.com/Aman-CERP/cgrep/internal/errors"
	"github.com/Aman-CERP/cgrep/internal/index"
	"github.com/Aman-CERP/cgrep/internal/scanner"
	"github.com/Aman-CERP/cgrep/internal/store"
	"github.com/Aman-CERP/cgrep/internal/symbols"
)

const aRS = "fn foo() -> i32 {\n    42\n}\n"
const bRS = "mod a;\nuse crate::a::foo;\n\nfn main() {\n    let x = foo();\n    println!(\"{}\", x);\n}\n"

func writeFile(t *testing.T, root, rel, content string) {
	t.Helper()
	path := filepath.Join(root, filepath.FromSlash(rel))
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func newGraph(t *testing.T, files map[string]string, indexed bool) *Graph {
	t.Helper()
	root := t.TempDir()
	for rel, content := range files {
		writeFile(t, root, rel, content)
	}
	cfg := config.NewConfig()
	cfg.Index.Workers = 2

	var st *store.Store
	if indexed {
		var err error
		st, err = store.Open(config.StateDir(root), store.DefaultOptions())
		require.NoError(t, err)
		t.Cleanup(func() { _ = st.Close() })
		r, err := index.NewFromConfig(root, cfg, st, nil, nil)
		require.NoError(t, err)
		_, err = r.Run(context.Background(), index.Options{})
		require.NoError(t, err)
	}

	sc, err := scanner.New(root, index.ScannerOptions(cfg))
	require.NoError(t, err)
	g, err := New(Dependencies{Store: st, Scanner: sc, Workers: 2})
	require.NoError(t, err)
	return g
}

// bothSources runs fn against an indexed tree and against the extraction
// fallback; the answers must agree.
func bothSources(t *testing.T, files map[string]string, fn func(t *testing.T, g *Graph, indexed bool)) {
	t.Run("indexed", func(t *testing.T) { fn(t, newGraph(t, files, true), true) })
	t.Run("extract", func(t *testing.T) { fn(t, newGraph(t, files, false), false) })
}

func locPaths(locs []Location) []string {
	out := make([]string, len(locs))
	for i, l := range locs {
		out[i] = l.Path
	}
	return out
}

func TestDefinitionAndCallers_AcrossFiles(t *testing.T) {
	bothSources(t, map[string]string{"a.rs": aRS, "b.rs": bRS}, func(t *testing.T, g *Graph, indexed bool) {
		ctx := context.Background()

		def, err := g.Definition(ctx, "foo", Filters{})
		require.NoError(t, err)
		require.Len(t, def.Locations, 1)
		got := def.Locations[0]
		assert.Equal(t, "a.rs", got.Path)
		assert.Equal(t, string(symbols.KindFunction), got.Kind)
		assert.Equal(t, 1, got.Line)
		assert.Equal(t, 3, got.EndLine)
		assert.Equal(t, 4, got.Column)
		if indexed {
			assert.Empty(t, def.Fallback)
			assert.Positive(t, def.Generation)
		} else {
			assert.Equal(t, FallbackExtract, def.Fallback)
		}

		callers, err := g.Callers(ctx, "foo", Filters{})
		require.NoError(t, err)
		require.Len(t, callers.Locations, 1)
		site := callers.Locations[0]
		assert.Equal(t, "b.rs", site.Path)
		assert.Equal(t, 5, site.Line)
		assert.Equal(t, 13, site.Column)
		assert.Equal(t, "main", site.Caller)
		assert.Equal(t, "let x = foo();", site.Code)
		assert.Equal(t, string(symbols.EdgeCalls), site.Kind)
	})
}

func TestReferences_IncludeCalls(t *testing.T) {
	files := map[string]string{
		"types.go": "package p\n\ntype Config struct{}\n\nfunc NewConfig() *Config { return &Config{} }\n",
		"use.go":   "package p\n\nfunc use() {\n\tvar c *Config = NewConfig()\n\t_ = c\n}\n",
	}
	bothSources(t, files, func(t *testing.T, g *Graph, _ bool) {
		ctx := context.Background()

		refs, err := g.References(ctx, "Config", Filters{})
		require.NoError(t, err)
		require.NotEmpty(t, refs.Locations)
		for _, l := range refs.Locations {
			assert.Equal(t, "Config", l.Name)
		}
		assert.Contains(t, locPaths(refs.Locations), "use.go")

		refs, err = g.References(ctx, "NewConfig", Filters{})
		require.NoError(t, err)
		require.Len(t, refs.Locations, 1)
		assert.Equal(t, string(symbols.EdgeCalls), refs.Locations[0].Kind)

		limited, err := g.References(ctx, "Config", Filters{Limit: 1})
		require.NoError(t, err)
		assert.Len(t, limited.Locations, 1)
	})
}

func TestDefinition_Ranking(t *testing.T) {
	files := map[string]string{
		"pkg/a.go":      "package pkg\n\nfunc Parse() {}\n\nfunc parseConfig() {}\n\nfunc reparse() {}\n\nfunc Run() {}\n",
		"pkg/deep/b.go": "package deep\n\nfunc Run() {}\n\nvar Runner = 1\n",
		"cmd/main.go":   "package main\n\nfunc Run() {}\n",
	}
	bothSources(t, files, func(t *testing.T, g *Graph, _ bool) {
		ctx := context.Background()

		tests := []struct {
			name  string
			query string
			f     Filters
			want  []string
		}{
			{"case-insensitive beats prefix", "parse", Filters{}, []string{"Parse"}},
			{"prefix", "parseconf", Filters{}, []string{"parseConfig"}},
			{"substring", "eparse", Filters{}, []string{"reparse"}},
			{"exact ties go to path order", "Run", Filters{}, []string{"Run", "Run", "Run"}},
			{"kind filter", "Runner", Filters{Kind: symbols.KindVariable}, []string{"Runner"}},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				ans, err := g.Definition(ctx, tt.query, tt.f)
				require.NoError(t, err)
				var names []string
				for _, l := range ans.Locations {
					names = append(names, l.Name)
				}
				assert.Equal(t, tt.want, names)
			})
		}

		ans, err := g.Definition(ctx, "Run", Filters{})
		require.NoError(t, err)
		assert.Equal(t, []string{"cmd/main.go", "pkg/a.go", "pkg/deep/b.go"}, locPaths(ans.Locations))

		// Given: overlapping scopes, the deepest one is the most specific match
		ans, err = g.Definition(ctx, "Run", Filters{PathScope: []string{"pkg", "pkg/deep"}})
		require.NoError(t, err)
		assert.Equal(t, []string{"pkg/deep/b.go", "pkg/a.go"}, locPaths(ans.Locations))

		ans, err = g.Definition(ctx, "Run", Filters{Globs: []string{"cmd/**"}})
		require.NoError(t, err)
		assert.Equal(t, []string{"cmd/main.go"}, locPaths(ans.Locations))

		ans, err = g.Definition(ctx, "nothing_like_this", Filters{})
		require.NoError(t, err)
		assert.Empty(t, ans.Locations)
	})
}

func TestDependents(t *testing.T) {
	files := map[string]string{
		"a.rs":                    aRS,
		"b.rs":                    bRS,
		"pkg/util.py":             "def helper():\n    return 1\n",
		"pkg/main.py":             "from .util import helper\n",
		"app.py":                  "import pkg.util\n",
		"src/lib/helper.ts":       "export function help() {}\n",
		"src/app.ts":              "import { help } from \"./lib/helper\";\n",
		"internal/store/store.go": "package store\n\nfunc Open() {}\n",
		"cmd/main.go":             "package main\n\nimport \"example.com/m/internal/store\"\n\nfunc main() { store.Open() }\n",
	}
	bothSources(t, files, func(t *testing.T, g *Graph, _ bool) {
		ctx := context.Background()
		tests := []struct {
			target string
			want   []string
		}{
			{"a.rs", []string{"b.rs", "b.rs"}},
			{"pkg/util.py", []string{"app.py", "pkg/main.py"}},
			{"src/lib/helper.ts", []string{"src/app.ts"}},
			{"internal/store/store.go", []string{"cmd/main.go"}},
			{"./b.rs", []string{}},
		}
		for _, tt := range tests {
			t.Run(tt.target, func(t *testing.T) {
				ans, err := g.Dependents(ctx, tt.target, Filters{})
				require.NoError(t, err)
				assert.Equal(t, tt.want, locPaths(ans.Locations))
				for _, l := range ans.Locations {
					assert.Equal(t, string(symbols.EdgeImports), l.Kind)
					assert.NotEmpty(t, l.Code)
				}
			})
		}
	})
}

func TestQueries_RejectBadInput(t *testing.T) {
	g := newGraph(t, map[string]string{"a.rs": aRS}, false)
	ctx := context.Background()

	_, err := g.Definition(ctx, " ", Filters{})
	assert.Equal(t, cerrors.ErrCodeInvalidInput, cerrors.GetCode(err))

	_, err = g.Callers(ctx, "foo", Filters{Globs: []string{"[oops"}})
	assert.Equal(t, cerrors.ErrCodeInvalidPattern, cerrors.GetCode(err))

	_, err = g.Dependents(ctx, ".", Filters{})
	assert.Error(t, err)

	_, err = New(Dependencies{})
	assert.ErrorIs(t, err, ErrNilDependency)
}

func TestImportCandidates(t *testing.T) {
	tests := []struct {
		importer, lang, spec string
		keys                 []string
		want                 bool
	}{
		{"src/main.rs", "rust", "b", moduleKeys("src/b.rs"), true},
		{"src/main.rs", "rust", "crate::net::{Client, Server}", moduleKeys("src/net/mod.rs"), true},
		{"src/main.rs", "rust", "std::io", moduleKeys("src/net.rs"), false},
		{"pkg/sub/x.py", "python", "..util", moduleKeys("pkg/util.py"), true},
		{"a.py", "python", "pkg", moduleKeys("pkg/__init__.py"), true},
		{"web/app.js", "javascript", "../shared/fmt.js", moduleKeys("shared/fmt.js"), true},
		{"web/app.js", "javascript", "./shared/fmt", moduleKeys("shared/fmt.js"), false},
		{"web/app.tsx", "tsx", "@/components/button", moduleKeys("components/button/index.tsx"), true},
		{"main.go", "go", "example.com/m/util", moduleKeys("util/strings.go"), true},
		{"main.go", "go", "example.com/m/util", moduleKeys("other/util.go"), false},
	}
	for _, tt := range tests {
		t.Run(tt.lang+":"+tt.spec, func(t *testing.T) {
			assert.Equal(t, tt.want, importResolves(tt.importer, tt.lang, tt.spec, tt.keys))
		})
	}
}

func TestQueries_ExcludesAndFileSet(t *testing.T) {
	files := map[string]string{
		"a.rs":          aRS,
		"b.rs":          bRS,
		"vendor/foo.rs": "fn foo() {}\nfn bar() { foo(); }\n",
	}
	bothSources(t, files, func(t *testing.T, g *Graph, _ bool) {
		ctx := context.Background()

		// Given: foo is defined and called both in and out of vendor/
		all, err := g.Definition(ctx, "foo", Filters{})
		require.NoError(t, err)
		assert.ElementsMatch(t, []string{"a.rs", "vendor/foo.rs"}, locPaths(all.Locations))

		// When: vendor/ is excluded
		def, err := g.Definition(ctx, "foo", Filters{Excludes: []string{"vendor/**"}})
		require.NoError(t, err)
		callers, err := g.Callers(ctx, "foo", Filters{Excludes: []string{"vendor/**"}})
		require.NoError(t, err)

		// Then: no location comes from it
		assert.Equal(t, []string{"a.rs"}, locPaths(def.Locations))
		assert.Equal(t, []string{"b.rs"}, locPaths(callers.Locations))

		// And: a file set keeps only the listed files
		only, err := g.Callers(ctx, "foo", Filters{Files: []string{"vendor/foo.rs"}})
		require.NoError(t, err)
		assert.Equal(t, []string{"vendor/foo.rs"}, locPaths(only.Locations))
		none, err := g.References(ctx, "foo", Filters{Files: []string{}})
		require.NoError(t, err)
		assert.Empty(t, none.Locations)

		_, err = g.Definition(ctx, "foo", Filters{Excludes: []string{"[bad"}})
		assert.Equal(t, cerrors.ErrCodeInvalidPattern, cerrors.GetCode(err))
	})
}
