package cmd

import (
	"log/slog"
	"strings"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/cgrep/internal/search"
)

// defaultContextLines is the expand window without a profile or flag.
const defaultContextLines = 3

// searchOptions holds CLI flags for search.
type searchOptions struct {
	mode          string
	limit         int
	noCache       bool
	noIndex       bool
	regex         bool
	caseSensitive bool
	fuzzy         bool
	maxSnippet    int
	maxTotal      int
	filters       filterFlags
}

func newSearchCmd(g *globalOptions) *cobra.Command {
	var opts searchOptions

	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Search the codebase",
		Long: `Search the codebase by keyword, meaning, or both.

Modes:
  keyword   BM25 over indexed documents (scans the tree when no index exists)
  semantic  nearest symbols by embedding (requires an index)
  hybrid    weighted fusion of both signals

When embeddings are unavailable, semantic and hybrid queries degrade to
keyword results and say so. --regex and --no-index scan the tree even when
an index exists.

Examples:
  cgrep search "parse config"
  cgrep search handleRequest --mode hybrid --limit 5
  cgrep search "retry" --scope internal/ --glob "**/*.go" --format json
  cgrep search 'fn\s+parse_\w+' --regex --case-sensitive
  cgrep search "timeout" --changed main --max-total-chars 2000`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSearch(cmd, g, strings.Join(args, " "), opts)
		},
	}

	cmd.Flags().StringVarP(&opts.mode, "mode", "m", "", "Search mode: keyword, semantic, hybrid (default from config)")
	cmd.Flags().IntVarP(&opts.limit, "limit", "n", 0, "Maximum number of results (default from config)")
	cmd.Flags().BoolVar(&opts.noCache, "no-cache", false, "Bypass the session cache")
	cmd.Flags().BoolVar(&opts.noIndex, "no-index", false, "Scan the tree even when an index exists")
	cmd.Flags().BoolVar(&opts.regex, "regex", false, "Treat the query as a regular expression (scans the tree)")
	cmd.Flags().BoolVar(&opts.caseSensitive, "case-sensitive", false, "Match case when scanning")
	cmd.Flags().BoolVar(&opts.fuzzy, "fuzzy", false, "Tolerate small typos (index search only)")
	cmd.Flags().IntVar(&opts.maxSnippet, "max-chars-per-snippet", 0, "Clip each snippet to this many characters")
	cmd.Flags().IntVar(&opts.maxTotal, "max-total-chars", 0, "Stop adding snippet text past this many characters")
	opts.filters.bind(cmd.Flags())

	return cmd
}

func runSearch(cmd *cobra.Command, g *globalOptions, query string, opts searchOptions) error {
	p, err := g.openProject(cmd)
	if err != nil {
		return err
	}
	defer p.close()
	if err := p.openIndex(cmd.Context()); err != nil {
		return err
	}
	if err := opts.filters.resolve(cmd.Context(), p.root); err != nil {
		return err
	}
	p.openProvider()

	engine, err := p.engine(opts.noCache)
	if err != nil {
		return err
	}

	modeName := opts.mode
	if modeName == "" && p.hasProfile {
		modeName = p.profile.Mode
	}
	mode := engine.Config().DefaultMode
	if modeName != "" {
		if mode, err = search.ParseMode(modeName); err != nil {
			return err
		}
	}

	slog.Info("search_started",
		slog.String("query", query),
		slog.String("mode", string(mode)),
		slog.Bool("indexed", p.store != nil))

	resp, err := engine.Search(cmd.Context(), search.Request{
		Query:   query,
		Mode:    mode,
		Filters: opts.filters.search(),
		Limit:   p.maxResults(cmd.Flags(), opts.limit, 0),
		NoCache: opts.noCache,

		NoIndex:       opts.noIndex,
		Regex:         opts.regex,
		CaseSensitive: opts.caseSensitive,
		Fuzzy:         opts.fuzzy,
		Budget:        search.Budget{MaxSnippetChars: opts.maxSnippet, MaxTotalChars: opts.maxTotal},
	})
	if err != nil {
		slog.Error("search_failed", slog.String("error", err.Error()))
		return err
	}
	return p.out.Search(resp)
}

func newExpandCmd(g *globalOptions) *cobra.Command {
	var contextLines int

	cmd := &cobra.Command{
		Use:   "expand <id>...",
		Short: "Show result IDs with surrounding lines",
		Long: `Resolve result IDs from a previous search back to their current
location and print the surrounding lines, without re-running the query.

IDs that no longer resolve are reported as not found.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := g.openProject(cmd)
			if err != nil {
				return err
			}
			defer p.close()
			if err := p.openIndex(cmd.Context()); err != nil {
				return err
			}
			engine, err := p.engine(true)
			if err != nil {
				return err
			}

			n := contextLines
			if !cmd.Flags().Changed("context") && p.hasProfile {
				n = p.profile.ContextLines
			}
			items, err := engine.Expand(cmd.Context(), args, n)
			if err != nil {
				return err
			}
			return p.out.Expanded(items)
		},
	}

	cmd.Flags().IntVarP(&contextLines, "context", "C", defaultContextLines, "Lines of context around each result")
	return cmd
}
