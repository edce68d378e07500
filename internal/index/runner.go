// Package index runs the indexing pipeline: walk the tree, extract symbols
// and documents on a bounded worker pool, commit everything as one store
// batch, then bring embeddings up to date.
package index

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/Aman-CERP/cgrep/internal/embed"
	cerrors "github.com/Aman-CERP/cgrep/internal/errors"
	"github.com/Aman-CERP/cgrep/internal/scanner"
	"github.com/Aman-CERP/cgrep/internal/store"
	"github.com/Aman-CERP/cgrep/internal/symbols"
	"github.com/Aman-CERP/cgrep/internal/ui"
)

// RunnerConfig tunes a Runner.
type RunnerConfig struct {
	Workers    int
	ChunkBytes int
	EmbedMode  embed.Mode
	EmbedBatch int
}

// Dependencies are the collaborators a Runner needs. Provider may be nil
// when embeddings are off; Renderer defaults to ui.Discard.
type Dependencies struct {
	Store    *store.Store
	Scanner  *scanner.Scanner
	Registry *symbols.Registry
	Provider embed.Provider
	Renderer ui.Renderer
}

// Options select what a single run covers.
type Options struct {
	// Force re-processes files whose fingerprint is unchanged and
	// regenerates embeddings from scratch.
	Force bool
	// Paths limits the run to these slash-separated relative paths. A path
	// naming a directory covers everything under it. Empty means the whole
	// tree.
	Paths []string
}

// Result reports what a run did.
type Result struct {
	RunID      string
	Generation int64
	Scanned    int
	Changed    int
	Unchanged  int
	Removed    int
	Documents  int
	Symbols    int
	Edges      int
	Errors     int
	Warnings   int
	Embeddings *embed.GenerateStats
	Duration   time.Duration
	Stages     ui.StageTimings
}

// Runner executes indexing runs against one store.
type Runner struct {
	deps Dependencies
	cfg  RunnerConfig
}

// NewRunner validates deps and returns a Runner.
func NewRunner(deps Dependencies, cfg RunnerConfig) (*Runner, error) {
	if deps.Store == nil {
		return nil, fmt.Errorf("store is required")
	}
	if deps.Scanner == nil {
		return nil, fmt.Errorf("scanner is required")
	}
	if deps.Registry == nil {
		deps.Registry = symbols.DefaultRegistry()
	}
	if deps.Renderer == nil {
		deps.Renderer = ui.Discard{}
	}
	if cfg.Workers <= 0 {
		cfg.Workers = runtime.GOMAXPROCS(0)
	}
	if cfg.ChunkBytes <= 0 {
		cfg.ChunkBytes = store.DefaultChunkBytes
	}
	if cfg.EmbedMode == "" {
		cfg.EmbedMode = embed.ModeOff
	}
	if cfg.EmbedMode != embed.ModeOff && deps.Provider == nil {
		return nil, fmt.Errorf("embedding mode %q requires a provider", cfg.EmbedMode)
	}
	return &Runner{deps: deps, cfg: cfg}, nil
}

// Store returns the runner's store.
func (r *Runner) Store() *store.Store { return r.deps.Store }

// Scanner returns the runner's scanner.
func (r *Runner) Scanner() *scanner.Scanner { return r.deps.Scanner }

// processed is the worker output for one file. Workers only write their
// own slot.
type processed struct {
	update    *store.FileUpdate
	unchanged bool
	err       error
	warning   error
}

// Run executes one indexing run while holding the cross-process writer lock.
func (r *Runner) Run(ctx context.Context, opts Options) (*Result, error) {
	start := time.Now()
	renderer := r.deps.Renderer
	result := &Result{RunID: uuid.NewString()}

	lock := store.NewWriterLock(r.deps.Store.Dir())
	if err := lock.Lock(ctx); err != nil {
		return nil, err
	}
	defer func() { _ = lock.Unlock() }()

	slog.Info("index_started",
		slog.String("run_id", result.RunID),
		slog.String("root", r.deps.Scanner.Root()),
		slog.Int("scoped_paths", len(opts.Paths)),
		slog.Bool("force", opts.Force))

	stored, err := r.deps.Store.Files(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list indexed files: %w", err)
	}
	known := make(map[string]string, len(stored))
	for _, f := range stored {
		known[f.Path] = f.Fingerprint
	}

	// Stage 1: collect candidates and removals.
	stageStart := time.Now()
	renderer.UpdateProgress(ui.ProgressEvent{Stage: ui.StageScanning, Message: "Discovering files"})
	files, removals, err := r.collect(ctx, opts.Paths, known, result)
	if err != nil {
		return nil, err
	}
	result.Scanned = len(files)
	result.Stages.Scan = time.Since(stageStart)

	// Stage 2: read, hash and extract on the worker pool.
	stageStart = time.Now()
	out, err := r.extract(ctx, files, known, opts.Force)
	if err != nil {
		return nil, err
	}
	result.Stages.Extract = time.Since(stageStart)

	batch := store.Batch{Removals: removals, Force: opts.Force, RunID: result.RunID}
	for i, p := range out {
		switch {
		case p.err != nil:
			result.Errors++
			renderer.AddError(ui.ErrorEvent{File: files[i].Path, Err: p.err})
			// An unreadable file keeps no stale rows behind.
			if _, ok := known[files[i].Path]; ok {
				batch.Removals = append(batch.Removals, files[i].Path)
			}
			continue
		case p.unchanged:
			result.Unchanged++
			continue
		}
		if p.warning != nil {
			result.Warnings++
			renderer.AddError(ui.ErrorEvent{File: files[i].Path, Err: p.warning, IsWarn: true})
		}
		batch.Files = append(batch.Files, *p.update)
		result.Documents += len(p.update.Documents)
		result.Symbols += len(p.update.Symbols)
		result.Edges += len(p.update.Edges)
	}
	result.Changed = len(batch.Files)
	result.Removed = len(batch.Removals)

	// Stage 3: single-writer commit.
	stageStart = time.Now()
	renderer.UpdateProgress(ui.ProgressEvent{
		Stage:   ui.StageWriting,
		Message: fmt.Sprintf("Writing %d files, removing %d", len(batch.Files), len(batch.Removals)),
	})
	gen, err := r.deps.Store.Apply(ctx, batch)
	if err != nil {
		return nil, err
	}
	result.Generation = gen
	result.Stages.Write = time.Since(stageStart)

	// Stage 4: embeddings.
	stageStart = time.Now()
	if r.cfg.EmbedMode != embed.ModeOff {
		p := r.deps.Provider
		stats, err := embed.Generate(ctx, r.deps.Store, p, embed.Options{
			Mode:      r.cfg.EmbedMode,
			Force:     opts.Force,
			BatchSize: r.cfg.EmbedBatch,
			Progress: func(done, total int) {
				renderer.UpdateProgress(ui.ProgressEvent{Stage: ui.StageEmbedding, Current: done, Total: total})
			},
		})
		result.Embeddings = stats
		if err != nil {
			return result, err
		}
		if gen, err := r.deps.Store.Generation(ctx); err == nil {
			result.Generation = gen
		}
	}
	result.Stages.Embed = time.Since(stageStart)
	result.Duration = time.Since(start)

	r.complete(result)
	return result, nil
}

// collect resolves the candidate files for a run and the stored paths that
// must be removed.
func (r *Runner) collect(ctx context.Context, scoped []string, known map[string]string, result *Result) ([]*scanner.FileInfo, []string, error) {
	sc := r.deps.Scanner
	// seen holds the indexable (non-binary) files of this run.
	seen := make(map[string]bool)
	var files []*scanner.FileInfo
	var removals []string

	addScan := func(keep func(rel string) bool) error {
		for res := range sc.Scan(ctx) {
			if res.Error != nil {
				result.Warnings++
				r.deps.Renderer.AddError(ui.ErrorEvent{Err: res.Error, IsWarn: true})
				continue
			}
			if res.File.IsBinary || !keep(res.File.Path) || seen[res.File.Path] {
				continue
			}
			seen[res.File.Path] = true
			files = append(files, res.File)
		}
		return ctx.Err()
	}

	if len(scoped) == 0 {
		if err := addScan(func(string) bool { return true }); err != nil {
			return nil, nil, err
		}
		for path := range known {
			if !seen[path] {
				removals = append(removals, path)
			}
		}
		sort.Strings(removals)
		return files, removals, nil
	}

	var dirs []string
	for _, p := range normalizePaths(scoped) {
		fi, err := sc.Describe(p)
		switch {
		case err != nil && !errors.Is(err, fs.ErrNotExist):
			result.Warnings++
			r.deps.Renderer.AddError(ui.ErrorEvent{File: p, Err: err, IsWarn: true})
			continue
		case fi != nil:
			if !fi.IsBinary && !seen[p] {
				seen[p] = true
				files = append(files, fi)
			}
			continue
		}
		if err == nil && isDir(filepath.Join(sc.Root(), filepath.FromSlash(p))) {
			dirs = append(dirs, p)
		}
	}
	if len(dirs) > 0 {
		if err := addScan(func(rel string) bool { return underAny(rel, dirs) }); err != nil {
			return nil, nil, err
		}
	}

	// Stored paths covered by the scope that no longer resolve to an
	// indexable file are removed.
	scope := normalizePaths(scoped)
	for path := range known {
		if underAny(path, scope) && !seen[path] {
			removals = append(removals, path)
		}
	}
	sort.Strings(removals)
	return files, removals, nil
}

// extract runs the per-file work on a bounded errgroup. Only context
// cancellation aborts the pool; per-file failures land in the result slot.
func (r *Runner) extract(ctx context.Context, files []*scanner.FileInfo, known map[string]string, force bool) ([]processed, error) {
	out := make([]processed, len(files))
	var done atomic.Int64
	total := len(files)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.cfg.Workers)
	for i, fi := range files {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			out[i] = r.processFile(gctx, fi, known[fi.Path], force)
			n := done.Add(1)
			r.deps.Renderer.UpdateProgress(ui.ProgressEvent{
				Stage:       ui.StageExtracting,
				Current:     int(n),
				Total:       total,
				CurrentFile: fi.Path,
			})
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

func (r *Runner) processFile(ctx context.Context, fi *scanner.FileInfo, storedFingerprint string, force bool) processed {
	content, truncated, err := r.deps.Scanner.ReadFile(fi)
	if err != nil {
		slog.Warn("file_unreadable", slog.String("path", fi.Path), slog.String("error", err.Error()))
		return processed{err: err}
	}

	fingerprint := scanner.Fingerprint(content)
	if !force && fingerprint == storedFingerprint {
		return processed{unchanged: true}
	}

	update := &store.FileUpdate{
		File: store.File{
			Path:        fi.Path,
			Fingerprint: fingerprint,
			Size:        fi.Size,
			Language:    fi.Language,
			IndexedAt:   time.Now().UTC(),
			Truncated:   truncated,
		},
		Documents: store.SplitDocuments(fi.Path, content, r.cfg.ChunkBytes),
	}

	var warning error
	extracted, err := r.deps.Registry.For(fi.Language).Extract(ctx, fi.Path, content)
	if err != nil {
		if ctx.Err() != nil {
			return processed{err: ctx.Err()}
		}
		warning = err
		slog.Warn("symbol_extraction_degraded",
			slog.String("path", fi.Path),
			slog.String("language", fi.Language),
			slog.Bool("partial", extracted != nil),
			slog.String("error", err.Error()))
	}
	if extracted != nil {
		update.Symbols = extracted.Symbols
		update.Edges = extracted.Edges
	}
	if truncated {
		slog.Debug("file_truncated", slog.String("path", fi.Path), slog.Int64("size", fi.Size))
	}
	return processed{update: update, warning: warning}
}

func (r *Runner) complete(result *Result) {
	stats := ui.CompletionStats{
		Files:      result.Changed,
		Unchanged:  result.Unchanged,
		Removed:    result.Removed,
		Documents:  result.Documents,
		Symbols:    result.Symbols,
		Generation: result.Generation,
		Duration:   result.Duration,
		Errors:     result.Errors,
		Warnings:   result.Warnings,
		Stages:     result.Stages,
		Embedder:   ui.EmbedderInfo{Mode: string(r.cfg.EmbedMode)},
	}
	if p := r.deps.Provider; p != nil {
		stats.Embedder.Provider = p.ID()
		stats.Embedder.Model = p.Model()
		stats.Embedder.Dimensions = p.Dimensions()
	}
	if result.Embeddings != nil {
		stats.Embedded = result.Embeddings.Embedded
	}
	r.deps.Renderer.Complete(stats)

	slog.Info("index_complete",
		slog.String("run_id", result.RunID),
		slog.Int64("generation", result.Generation),
		slog.Int("scanned", result.Scanned),
		slog.Int("changed", result.Changed),
		slog.Int("unchanged", result.Unchanged),
		slog.Int("removed", result.Removed),
		slog.Int("symbols", result.Symbols),
		slog.Int("errors", result.Errors),
		slog.Int("warnings", result.Warnings),
		slog.Int64("scan_ms", result.Stages.Scan.Milliseconds()),
		slog.Int64("extract_ms", result.Stages.Extract.Milliseconds()),
		slog.Int64("write_ms", result.Stages.Write.Milliseconds()),
		slog.Int64("embed_ms", result.Stages.Embed.Milliseconds()),
		slog.Int64("total_ms", result.Duration.Milliseconds()))
}

func normalizePaths(paths []string) []string {
	out := make([]string, 0, len(paths))
	for _, p := range paths {
		p = filepath.ToSlash(filepath.Clean(p))
		p = strings.TrimPrefix(p, "./")
		if p == "" || p == "." {
			continue
		}
		out = append(out, p)
	}
	return out
}

func underAny(path string, prefixes []string) bool {
	for _, p := range prefixes {
		if path == p || strings.HasPrefix(path, p+"/") {
			return true
		}
	}
	return false
}

func isDir(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}

// IsLocked reports whether err is the writer-lock contention error.
func IsLocked(err error) bool {
	return cerrors.GetCode(err) == cerrors.ErrCodeIndexLocked
}
