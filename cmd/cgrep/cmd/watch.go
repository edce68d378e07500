package cmd

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/cgrep/internal/config"
	"github.com/Aman-CERP/cgrep/internal/index"
	"github.com/Aman-CERP/cgrep/internal/ui"
	"github.com/Aman-CERP/cgrep/internal/watcher"
)

func newWatchCmd(g *globalOptions) *cobra.Command {
	var poll bool

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Keep the index up to date as files change",
		Long: `Index the project, then watch it and reindex changed files.

Changes are debounced (watch.debounce, default 2s) and reindex runs are
spaced by at least watch.min_interval (default 5s). Editing .gitignore or
.cgrep.yaml triggers a full reindex. Stop with Ctrl+C; a reindex in
progress finishes first.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			p, err := g.openProject(cmd)
			if err != nil {
				return err
			}
			defer p.close()
			if err := p.openStore(); err != nil {
				return err
			}

			runner, err := p.runner(ui.Discard{})
			if err != nil {
				return err
			}
			res, err := runner.Run(ctx, index.Options{})
			if err != nil {
				return err
			}
			if err := p.out.Indexed(summarize(res)); err != nil {
				return err
			}

			opts := watcher.OptionsFromConfig(p.cfg)
			if poll {
				opts.PollInterval = watcher.DefaultPollInterval
			}
			w, err := watcher.New(p.scanner, opts)
			if err != nil {
				return err
			}
			source := "fsnotify"
			if w.Polling() {
				source = "polling"
			}
			p.out.Statusf("👀", "Watching %s (%s)", p.root, source)

			err = w.Run(ctx, func(ctx context.Context, b watcher.Batch) error {
				if b.Full {
					runner = p.reloadRunner(runner)
				}
				res, err := runner.Run(ctx, index.Options{Paths: b.Paths()})
				if err != nil {
					p.out.Warningf("Reindex failed: %v", err)
					return err
				}
				return p.out.Indexed(summarize(res))
			})
			p.out.Status("", "Stopped watching")
			return err
		},
	}

	cmd.Flags().BoolVar(&poll, "poll", false, "Poll for changes instead of using filesystem notifications")
	return cmd
}

// reloadRunner rebuilds the runner from a freshly loaded configuration, or
// keeps the current one when the configuration no longer loads.
func (p *project) reloadRunner(current *index.Runner) *index.Runner {
	cfg, err := config.Load(p.root)
	if err != nil {
		slog.Warn("watch_config_reload_failed", slog.String("error", err.Error()))
		return current
	}
	p.cfg = cfg
	next, err := p.runner(ui.Discard{})
	if err != nil {
		slog.Warn("watch_config_reload_failed", slog.String("error", err.Error()))
		return current
	}
	slog.Info("watch_config_reloaded")
	return next
}
