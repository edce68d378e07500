package cmd

import (
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/cgrep/internal/search"
)

func newCacheCmd(g *globalOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Manage the session cache",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "clear",
		Short: "Remove all cached search results",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			p, err := g.openProject(cmd)
			if err != nil {
				return err
			}
			defer p.close()

			c := search.NewCache(p.cfg, p.stateDir)
			if c == nil {
				return p.out.CacheCleared(0, false)
			}
			n := c.Entries()
			if err := c.Clear(); err != nil {
				return err
			}
			slog.Info("session_cache_cleared", slog.Int("entries", n))
			return p.out.CacheCleared(n, true)
		},
	})
	return cmd
}
