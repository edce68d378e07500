package cmd

import (
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/cgrep/internal/embed"
	"github.com/Aman-CERP/cgrep/internal/index"
	"github.com/Aman-CERP/cgrep/internal/output"
	"github.com/Aman-CERP/cgrep/internal/ui"
)

func newIndexCmd(g *globalOptions) *cobra.Command {
	var (
		force  bool
		noTUI  bool
		embeds string
	)

	cmd := &cobra.Command{
		Use:   "index [path...]",
		Short: "Index the project for searching",
		Long: `Scan the project, extract symbols and edges, and write them to the
local index under .cgrep/. Unchanged files are skipped by fingerprint, so
re-running is cheap.

Paths limit the run to files under them; deleted files under those paths
are removed from the index.

Use --force to re-process every file and regenerate embeddings.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			// Ctrl+C cancels the run; the batch in flight is rolled back.
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			p, err := g.openProject(cmd)
			if err != nil {
				return err
			}
			defer p.close()
			if cmd.Flags().Changed("embeddings") {
				p.cfg.Embeddings.Generate = embeds
			}

			if err := p.openStore(); err != nil {
				return err
			}

			var renderer ui.Renderer = ui.Discard{}
			if p.out.Format() == output.FormatText {
				renderer = ui.NewRenderer(ui.NewConfig(cmd.OutOrStdout(),
					ui.WithForcePlain(noTUI),
					ui.WithNoColor(g.noColor || ui.DetectNoColor()),
					ui.WithProjectDir(p.root)))
			}

			runner, err := p.runner(renderer)
			if err != nil {
				return err
			}

			if err := renderer.Start(ctx); err != nil {
				slog.Warn("renderer_start_failed", slog.String("error", err.Error()))
			}
			res, err := runner.Run(ctx, index.Options{Force: force, Paths: args})
			_ = renderer.Stop()
			if err != nil {
				if index.IsLocked(err) {
					slog.Warn("index_locked", slog.String("root", p.root))
				}
				return err
			}
			if p.out.Format() == output.FormatJSON {
				return p.out.Indexed(summarize(res))
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "Re-process every file and regenerate embeddings")
	cmd.Flags().BoolVar(&noTUI, "no-tui", false, "Disable the progress panel, use plain text output")
	cmd.Flags().StringVar(&embeds, "embeddings", "", "Embedding generation: auto, precompute, off (default from config)")
	return cmd
}

// runner builds an index runner, creating the embedding provider when
// embeddings are on. The store must be open.
func (p *project) runner(renderer ui.Renderer) (*index.Runner, error) {
	mode, err := embed.ParseMode(p.cfg.Embeddings.Generate)
	if err != nil {
		return nil, err
	}
	if mode != embed.ModeOff && p.provider == nil {
		prov, err := embed.NewProvider(p.cfg.Embeddings)
		if err != nil {
			return nil, err
		}
		p.provider = prov
	}
	return index.NewFromConfig(p.root, p.cfg, p.store, p.provider, renderer)
}

func summarize(res *index.Result) output.IndexSummary {
	s := output.IndexSummary{
		RunID:      res.RunID,
		Generation: res.Generation,
		Scanned:    res.Scanned,
		Changed:    res.Changed,
		Unchanged:  res.Unchanged,
		Removed:    res.Removed,
		Symbols:    res.Symbols,
		Errors:     res.Errors,
		Warnings:   res.Warnings,
		DurationMS: res.Duration.Milliseconds(),
	}
	if res.Embeddings != nil {
		s.Embedded = res.Embeddings.Embedded
	}
	return s
}
