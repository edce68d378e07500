package cmd

import (
	"context"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/cgrep/internal/graph"
	"github.com/Aman-CERP/cgrep/internal/symbols"
)

// graphQuery describes one structural query command.
type graphQuery struct {
	use   string
	short string
	long  string
	// kindFlag adds --kind to restrict matched definitions.
	kindFlag bool
	run      func(ctx context.Context, g *graph.Graph, target string, f graph.Filters) (*graph.Answer, error)
}

var graphQueries = []graphQuery{
	{
		use:   "definition <name>",
		short: "Find where a symbol is defined",
		long: `Find the definitions of a symbol. Exact matches win over qualified and
case-insensitive matches; within a tier, definitions nearer the scope come
first.`,
		kindFlag: true,
		run: func(ctx context.Context, g *graph.Graph, target string, f graph.Filters) (*graph.Answer, error) {
			return g.Definition(ctx, target, f)
		},
	},
	{
		use:   "callers <name>",
		short: "Find call sites of a symbol",
		run: func(ctx context.Context, g *graph.Graph, target string, f graph.Filters) (*graph.Answer, error) {
			return g.Callers(ctx, target, f)
		},
	},
	{
		use:   "references <name>",
		short: "Find calls and other references to a symbol",
		run: func(ctx context.Context, g *graph.Graph, target string, f graph.Filters) (*graph.Answer, error) {
			return g.References(ctx, target, f)
		},
	},
	{
		use:   "dependents <path>",
		short: "Find files that import a file",
		long: `Find the import sites that resolve to a file, using each language's
module conventions.`,
		run: func(ctx context.Context, g *graph.Graph, target string, f graph.Filters) (*graph.Answer, error) {
			return g.Dependents(ctx, target, f)
		},
	},
}

func newGraphCmd(g *globalOptions, q graphQuery) *cobra.Command {
	var (
		filters filterFlags
		kind    string
		limit   int
	)

	long := q.long
	if long == "" {
		long = q.short + "."
	}
	long += `

Without an index the tree is parsed on the fly.`

	cmd := &cobra.Command{
		Use:   q.use,
		Short: q.short,
		Long:  long,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := g.openProject(cmd)
			if err != nil {
				return err
			}
			defer p.close()
			if err := p.openIndex(cmd.Context()); err != nil {
				return err
			}
			if err := filters.resolve(cmd.Context(), p.root); err != nil {
				return err
			}
			gr, err := p.graph()
			if err != nil {
				return err
			}

			f := filters.graph(p.maxResults(cmd.Flags(), limit, 0))
			f.Kind = symbols.Kind(kind)

			ans, err := q.run(cmd.Context(), gr, args[0], f)
			if err != nil {
				return err
			}
			slog.Info("graph_query_complete",
				slog.String("command", cmd.Name()),
				slog.String("target", args[0]),
				slog.Int("results", len(ans.Locations)),
				slog.String("fallback", ans.Fallback))
			return p.out.Locations(cmd.Name(), args[0], ans)
		},
	}

	filters.bind(cmd.Flags())
	cmd.Flags().IntVarP(&limit, "limit", "n", 0, "Maximum number of results (0 for all)")
	if q.kindFlag {
		cmd.Flags().StringVarP(&kind, "kind", "k", "", "Restrict to a symbol kind (function, method, struct, ...)")
	}
	return cmd
}
