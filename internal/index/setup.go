package index

import (
	"github.com/Aman-CERP/cgrep/internal/config"
	"github.com/Aman-CERP/cgrep/internal/embed"
	"github.com/Aman-CERP/cgrep/internal/scanner"
	"github.com/Aman-CERP/cgrep/internal/store"
	"github.com/Aman-CERP/cgrep/internal/symbols"
	"github.com/Aman-CERP/cgrep/internal/ui"
)

// ScannerOptions maps the index config section onto walker options.
func ScannerOptions(cfg *config.Config) scanner.Options {
	opts := scanner.DefaultOptions()
	opts.ExcludeGlobs = append([]string(nil), cfg.Index.ExcludePaths...)
	if cfg.Index.MaxFileBytes > 0 {
		opts.MaxFileBytes = cfg.Index.MaxFileBytes
	}
	opts.RespectGitignore = !cfg.Index.IncludeGitignored
	opts.IncludeHidden = cfg.Index.IncludeHidden
	return opts
}

// NewFromConfig builds a Runner for root from the loaded configuration.
// provider may be nil when cfg.Embeddings.Generate is off.
func NewFromConfig(root string, cfg *config.Config, st *store.Store, provider embed.Provider, renderer ui.Renderer) (*Runner, error) {
	mode, err := embed.ParseMode(cfg.Embeddings.Generate)
	if err != nil {
		return nil, err
	}
	sc, err := scanner.New(root, ScannerOptions(cfg))
	if err != nil {
		return nil, err
	}
	return NewRunner(Dependencies{
		Store:    st,
		Scanner:  sc,
		Registry: symbols.DefaultRegistry(),
		Provider: provider,
		Renderer: renderer,
	}, RunnerConfig{
		Workers:    cfg.Index.Workers,
		ChunkBytes: cfg.Index.ChunkBytes,
		EmbedMode:  mode,
		EmbedBatch: cfg.Embeddings.BatchSize,
	})
}
