package cmd

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/Aman-CERP/cgrep/internal/index"
	"github.com/Aman-CERP/cgrep/internal/mcp"
	"github.com/Aman-CERP/cgrep/internal/search"
	"github.com/Aman-CERP/cgrep/internal/ui"
	"github.com/Aman-CERP/cgrep/internal/watcher"
)

func newServeCmd(g *globalOptions) *cobra.Command {
	var watch bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the MCP server on stdio",
		Long: `Run a Model Context Protocol server on stdin/stdout for AI coding agents.

Tools: search, expand, definition, callers, references, dependents and
index_status. Project files are readable as cgrep://file/<path> resources.

Stdout carries protocol messages only; logs go to ~/.cgrep/logs/cgrep.log.
With --watch the index is built if missing and kept current while serving.`,
		Args:        cobra.NoArgs,
		Annotations: map[string]string{annotationStdio: "true"},
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			p, err := g.openProject(cmd)
			if err != nil {
				return err
			}
			defer p.close()
			if watch {
				err = p.openStore()
			} else {
				err = p.openIndex(ctx)
			}
			if err != nil {
				return err
			}
			p.openProvider()

			c := search.NewCache(p.cfg, p.stateDir)
			engine, err := search.NewEngine(
				search.Dependencies{Store: p.store, Provider: p.provider, Scanner: p.scanner, Cache: c},
				search.ConfigFrom(p.cfg))
			if err != nil {
				return err
			}
			gr, err := p.graph()
			if err != nil {
				return err
			}
			srv, err := mcp.NewServer(mcp.Dependencies{
				Engine:   engine,
				Graph:    gr,
				Scanner:  p.scanner,
				Store:    p.store,
				Provider: p.provider,
				Cache:    c,
				Config:   p.cfg,
			})
			if err != nil {
				return err
			}

			eg, ctx := errgroup.WithContext(ctx)
			if watch {
				eg.Go(func() error { return p.watchInBackground(ctx) })
			}
			eg.Go(func() error {
				defer stop()
				return srv.Serve(ctx)
			})
			return eg.Wait()
		},
	}

	cmd.Flags().BoolVar(&watch, "watch", false, "Index and watch the project while serving")
	return cmd
}

// watchInBackground indexes the project and reindexes on change until ctx
// ends. Failures are logged; they never stop the server.
func (p *project) watchInBackground(ctx context.Context) error {
	runner, err := p.runner(ui.Discard{})
	if err != nil {
		slog.Error("serve_watch_disabled", slog.String("error", err.Error()))
		return nil
	}
	if _, err := runner.Run(ctx, index.Options{}); err != nil {
		slog.Warn("serve_initial_index_failed", slog.String("error", err.Error()))
	}
	w, err := watcher.New(p.scanner, watcher.OptionsFromConfig(p.cfg))
	if err != nil {
		slog.Error("serve_watch_disabled", slog.String("error", err.Error()))
		return nil
	}
	return w.Run(ctx, func(ctx context.Context, b watcher.Batch) error {
		_, err := runner.Run(ctx, index.Options{Paths: b.Paths()})
		return err
	})
}
