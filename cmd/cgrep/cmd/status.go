package cmd

import (
	"github.com/spf13/cobra"

	"github.com/Aman-CERP/cgrep/internal/output"
	"github.com/Aman-CERP/cgrep/internal/search"
)

func newStatusCmd(g *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show index health and status",
		Long: `Display information about the current index:
  - generation and when it was last written
  - file, document, symbol and edge counts per language
  - embedding provider and coverage
  - session cache entries`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			p, err := g.openProject(cmd)
			if err != nil {
				return err
			}
			defer p.close()
			if err := p.openIndex(cmd.Context()); err != nil {
				return err
			}

			report := output.StatusReport{
				Root:     p.root,
				Provider: p.cfg.Embeddings.Provider,
				Model:    p.cfg.Embeddings.Model,
			}
			if c := search.NewCache(p.cfg, p.stateDir); c != nil {
				report.CacheEntries = c.Entries()
			}
			if p.store != nil {
				stats, err := p.store.Stats(cmd.Context())
				if err != nil {
					return err
				}
				report.Indexed = true
				report.Stats = stats
				if stats.Symbols > 0 {
					report.Coverage = float64(stats.Embeddings) / float64(stats.Symbols)
				}
			}
			return p.out.IndexStatus(report)
		},
	}
}
