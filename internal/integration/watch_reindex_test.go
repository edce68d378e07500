package integration

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aman-CERP/cgrep/internal/config"
	"github.com/Aman-CERP/cgrep/internal/graph"
	"github.com/Aman-CERP/cgrep/internal/index"
	"github.com/Aman-CERP/cgrep/internal/scanner"
	"github.com/Aman-CERP/cgrep/internal/search"
	"github.com/Aman-CERP/cgrep/internal/store"
	"github.com/Aman-CERP/cgrep/internal/watcher"
)

// These tests drive index, watcher, search and graph together the way
// `cgrep watch` and `cgrep serve --watch` do.

const aRS = "fn foo() -> i32 {\n    42\n}\n"
const bRS = "mod a;\nuse crate::a::foo;\n\nfn main() {\n    let x = foo();\n    println!(\"{}\", x);\n}\n"

type stack struct {
	root   string
	store  *store.Store
	runner *index.Runner
	engine *search.Engine
	graph  *graph.Graph
	sc     *scanner.Scanner
}

func newStack(t *testing.T) *stack {
	t.Helper()
	root := t.TempDir()
	for rel, content := range map[string]string{"a.rs": aRS, "b.rs": bRS} {
		require.NoError(t, os.WriteFile(filepath.Join(root, rel), []byte(content), 0o644))
	}
	cfg := config.NewConfig()
	cfg.Index.Workers = 2

	st, err := store.Open(config.StateDir(root), store.DefaultOptions())
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	runner, err := index.NewFromConfig(root, cfg, st, nil, nil)
	require.NoError(t, err)
	sc, err := scanner.New(root, index.ScannerOptions(cfg))
	require.NoError(t, err)
	engine, err := search.NewEngine(search.Dependencies{Store: st, Scanner: sc}, search.ConfigFrom(cfg))
	require.NoError(t, err)
	g, err := graph.New(graph.Dependencies{Store: st, Scanner: sc, Workers: 2})
	require.NoError(t, err)

	return &stack{root: root, store: st, runner: runner, engine: engine, graph: g, sc: sc}
}

func TestWatch_ReindexesChangedFiles(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	// Given: an indexed project under a polling watcher
	s := newStack(t)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()
	_, err := s.runner.Run(ctx, index.Options{})
	require.NoError(t, err)

	w, err := watcher.New(s.sc, watcher.Options{
		Debounce:     50 * time.Millisecond,
		MinInterval:  50 * time.Millisecond,
		PollInterval: 20 * time.Millisecond,
	})
	require.NoError(t, err)

	var (
		mu      sync.Mutex
		batches []watcher.Batch
	)
	done := make(chan error, 1)
	go func() {
		done <- w.Run(ctx, func(ctx context.Context, b watcher.Batch) error {
			mu.Lock()
			batches = append(batches, b)
			mu.Unlock()
			_, err := s.runner.Run(ctx, index.Options{Paths: b.Paths()})
			return err
		})
	}()

	// When: a file is added
	require.NoError(t, os.WriteFile(filepath.Join(s.root, "c.rs"), []byte("fn bar() {}\n"), 0o644))

	// Then: keyword search over the index finds it
	require.Eventually(t, func() bool {
		resp, err := s.engine.Search(ctx, search.Request{Query: "bar", Mode: search.ModeKeyword, NoCache: true})
		if err != nil || len(resp.Results) == 0 {
			return false
		}
		return resp.Results[0].Path == "c.rs" && resp.Fallback == ""
	}, 10*time.Second, 50*time.Millisecond)

	// When: the definition's file is removed
	require.NoError(t, os.Remove(filepath.Join(s.root, "a.rs")))

	// Then: the definition disappears from the index
	require.Eventually(t, func() bool {
		ans, err := s.graph.Definition(ctx, "foo", graph.Filters{})
		return err == nil && len(ans.Locations) == 0
	}, 10*time.Second, 50*time.Millisecond)

	cancel()
	require.NoError(t, <-done)

	mu.Lock()
	defer mu.Unlock()
	require.NotEmpty(t, batches)
	for _, b := range batches {
		assert.False(t, b.Full, "plain edits never trigger a full reindex")
	}
}

func TestWatch_GitignoreChangeTriggersFullReindex(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	// Given: an indexed project
	s := newStack(t)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()
	_, err := s.runner.Run(ctx, index.Options{})
	require.NoError(t, err)

	w, err := watcher.New(s.sc, watcher.Options{
		Debounce:     50 * time.Millisecond,
		MinInterval:  50 * time.Millisecond,
		PollInterval: 20 * time.Millisecond,
	})
	require.NoError(t, err)

	full := make(chan struct{}, 1)
	done := make(chan error, 1)
	go func() {
		done <- w.Run(ctx, func(ctx context.Context, b watcher.Batch) error {
			_, err := s.runner.Run(ctx, index.Options{Paths: b.Paths()})
			if b.Full {
				select {
				case full <- struct{}{}:
				default:
				}
			}
			return err
		})
	}()

	// When: .gitignore starts ignoring b.rs
	require.NoError(t, os.WriteFile(filepath.Join(s.root, ".gitignore"), []byte("b.rs\n"), 0o644))

	// Then: a full batch runs
	select {
	case <-full:
	case <-ctx.Done():
		t.Fatal("timed out waiting for a full reindex")
	}

	cancel()
	require.NoError(t, <-done)
}
