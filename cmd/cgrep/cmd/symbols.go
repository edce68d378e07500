package cmd

import (
	"context"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/spf13/cobra"

	cerrors "github.com/Aman-CERP/cgrep/internal/errors"
	"github.com/Aman-CERP/cgrep/internal/store"
	"github.com/Aman-CERP/cgrep/internal/symbols"
)

func newSymbolsCmd(g *globalOptions) *cobra.Command {
	var (
		filters filterFlags
		kind    string
		exact   bool
		limit   int
	)

	cmd := &cobra.Command{
		Use:   "symbols [name]",
		Short: "List indexed symbols",
		Long: `List indexed symbols, optionally filtered by a name substring, kind,
language and path.

Examples:
  cgrep symbols
  cgrep symbols Config --kind struct
  cgrep symbols --language rust --scope src/
  cgrep symbols --changed --exclude "**/*_test.go"`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := g.openProject(cmd)
			if err != nil {
				return err
			}
			defer p.close()
			if err := p.openIndex(cmd.Context()); err != nil {
				return err
			}
			if p.store == nil {
				return cerrors.IndexRequiredError("symbols").
					WithSuggestion("Run 'cgrep index' first, or use 'cgrep definition' which works without an index")
			}
			if kind != "" && !validKind(symbols.Kind(kind)) {
				return cerrors.ValidationError("unknown symbol kind "+kind, nil).
					WithSuggestion("Use one of: " + strings.Join(kindNames(), ", "))
			}

			q := store.SymbolQuery{
				Kind:     symbols.Kind(kind),
				Language: filters.language,
				Exact:    exact,
				Limit:    p.maxResults(cmd.Flags(), limit, 0),
			}
			if len(args) == 1 {
				q.Name = args[0]
			}
			if err := filters.resolve(cmd.Context(), p.root); err != nil {
				return err
			}

			snap, err := p.store.Snapshot(cmd.Context())
			if err != nil {
				return err
			}
			defer func() { _ = snap.Close() }()
			if len(filters.scopes) > 0 || len(filters.globs) > 0 || len(filters.excludes) > 0 || filters.files != nil {
				if q.Paths, err = matchingPaths(cmd.Context(), snap, filters); err != nil {
					return err
				}
			}

			syms, err := snap.Symbols(cmd.Context(), q)
			if err != nil {
				return err
			}
			return p.out.Symbols(syms, snap.Gen())
		},
	}

	filters.bind(cmd.Flags())
	cmd.Flags().StringVarP(&kind, "kind", "k", "", "Filter by symbol kind")
	cmd.Flags().BoolVar(&exact, "exact", false, "Match the name exactly")
	cmd.Flags().IntVarP(&limit, "limit", "n", 0, "Maximum number of symbols (0 for all)")
	return cmd
}

var allKinds = []symbols.Kind{
	symbols.KindFunction, symbols.KindMethod, symbols.KindClass, symbols.KindStruct,
	symbols.KindEnum, symbols.KindTrait, symbols.KindInterface, symbols.KindType,
	symbols.KindConstant, symbols.KindVariable, symbols.KindModule,
}

func validKind(k symbols.Kind) bool {
	for _, known := range allKinds {
		if k == known {
			return true
		}
	}
	return false
}

func kindNames() []string {
	names := make([]string, len(allKinds))
	for i, k := range allKinds {
		names[i] = string(k)
	}
	return names
}

// matchingPaths returns the indexed files under any scope, matching any
// glob, matching no exclude and in the changed set when there is one. A
// non-nil empty slice means nothing matched.
func matchingPaths(ctx context.Context, snap *store.Snapshot, f filterFlags) ([]string, error) {
	for _, pattern := range append(append([]string(nil), f.globs...), f.excludes...) {
		if !doublestar.ValidatePattern(pattern) {
			return nil, cerrors.New(cerrors.ErrCodeInvalidPattern, "invalid glob "+pattern, nil)
		}
	}
	var changed map[string]bool
	if f.files != nil {
		changed = make(map[string]bool, len(f.files))
		for _, p := range f.files {
			changed[p] = true
		}
	}
	files, err := snap.Files(ctx)
	if err != nil {
		return nil, err
	}
	paths := []string{}
	for _, file := range files {
		if changed != nil && !changed[file.Path] {
			continue
		}
		if inScope(file.Path, f.scopes) && matchesAny(file.Path, f.globs) &&
			(len(f.excludes) == 0 || !matchesAny(file.Path, f.excludes)) {
			paths = append(paths, file.Path)
		}
	}
	return paths, nil
}

func inScope(path string, scopes []string) bool {
	if len(scopes) == 0 {
		return true
	}
	for _, s := range scopes {
		s = strings.TrimSuffix(strings.TrimPrefix(s, "./"), "/")
		if s == "" || path == s || strings.HasPrefix(path, s+"/") {
			return true
		}
	}
	return false
}

func matchesAny(path string, globs []string) bool {
	if len(globs) == 0 {
		return true
	}
	for _, pattern := range globs {
		if ok, _ := doublestar.Match(pattern, path); ok {
			return true
		}
	}
	return false
}
