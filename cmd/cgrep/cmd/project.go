package cmd

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/Aman-CERP/cgrep/internal/config"
	"github.com/Aman-CERP/cgrep/internal/embed"
	cerrors "github.com/Aman-CERP/cgrep/internal/errors"
	"github.com/Aman-CERP/cgrep/internal/graph"
	"github.com/Aman-CERP/cgrep/internal/index"
	"github.com/Aman-CERP/cgrep/internal/output"
	"github.com/Aman-CERP/cgrep/internal/scanner"
	"github.com/Aman-CERP/cgrep/internal/search"
	"github.com/Aman-CERP/cgrep/internal/store"
	"github.com/Aman-CERP/cgrep/internal/vcs"
)

// project is the resolved context of one command invocation.
type project struct {
	root     string
	stateDir string
	cfg      *config.Config
	// profile holds output defaults; set reports whether --profile was given.
	profile    config.ProfileConfig
	hasProfile bool
	out        *output.Writer
	scanner    *scanner.Scanner
	store      *store.Store
	provider   embed.Provider
}

// openProject resolves the root, loads configuration and builds the output
// writer. It does not open the index.
func (g *globalOptions) openProject(cmd *cobra.Command) (*project, error) {
	root, err := g.resolveRoot()
	if err != nil {
		return nil, err
	}
	cfg, err := config.Load(root)
	if err != nil {
		return nil, err
	}

	p := &project{root: root, stateDir: config.StateDir(root), cfg: cfg}
	if g.profile != "" {
		prof, ok := cfg.Profiles[g.profile]
		if !ok {
			return nil, cerrors.ValidationError(fmt.Sprintf("unknown profile %q", g.profile), nil).
				WithSuggestion("Use one of: human, agent, fast")
		}
		p.profile, p.hasProfile = prof, true
	}

	formatName := g.format
	if p.hasProfile && !cmd.Flags().Changed("format") && p.profile.Format != "" {
		formatName = p.profile.Format
	}
	format, err := output.ParseFormat(formatName)
	if err != nil {
		return nil, err
	}
	g.resolved = format

	out := cmd.OutOrStdout()
	if ownsStdio(cmd) {
		out = io.Discard
	}
	p.out = output.NewWithOptions(out, output.Options{
		Format:  format,
		Color:   !g.noColor && output.DetectColor(out),
		Compact: p.profile.Compact,
		Status:  cmd.ErrOrStderr(),
	})

	p.scanner, err = scanner.New(root, index.ScannerOptions(cfg))
	if err != nil {
		return nil, err
	}
	return p, nil
}

func (g *globalOptions) resolveRoot() (string, error) {
	if g.root != "" {
		abs, err := filepath.Abs(g.root)
		if err != nil {
			return "", cerrors.IOError(g.root, err)
		}
		return abs, nil
	}
	return config.FindProjectRoot(".")
}

// openIndex opens the store when a usable index exists. Queries run against
// a nil store fall back to scanning the tree. An index that had to be
// discarded, or that never completed a first run, holds no data and counts
// as absent.
func (p *project) openIndex(ctx context.Context) error {
	if !store.Exists(p.stateDir) {
		slog.Debug("index_not_found", slog.String("root", p.root))
		return nil
	}
	if err := p.openStore(); err != nil {
		return err
	}

	gen, err := p.store.Generation(ctx)
	if err != nil {
		return err
	}
	if p.store.Rebuilt() == "" && gen > 0 {
		return nil
	}
	slog.Info("index_unusable", slog.String("rebuilt", p.store.Rebuilt()), slog.Int64("generation", gen))
	_ = p.store.Close()
	p.store = nil
	return nil
}

// openStore opens or creates the index.
func (p *project) openStore() error {
	st, err := store.Open(p.stateDir, store.DefaultOptions())
	if err != nil {
		return err
	}
	if reason := st.Rebuilt(); reason != "" {
		slog.Warn("index_rebuilt", slog.String("reason", reason))
		p.out.Warningf("Previous index discarded (%s); run 'cgrep index' to rebuild", reason)
	}
	p.store = st
	return nil
}

// openProvider builds the configured embedding provider. Query commands
// degrade without one, so a failure is logged rather than returned.
func (p *project) openProvider() {
	prov, err := embed.NewProvider(p.cfg.Embeddings)
	if err != nil {
		slog.Warn("embedding_provider_unavailable", slog.String("error", err.Error()))
		return
	}
	p.provider = prov
}

func (p *project) close() {
	if p.provider != nil {
		_ = p.provider.Close()
	}
	if p.store != nil {
		_ = p.store.Close()
	}
}

// engine builds a search engine over whatever the project has opened.
func (p *project) engine(noCache bool) (*search.Engine, error) {
	deps := search.Dependencies{Store: p.store, Provider: p.provider, Scanner: p.scanner}
	if !noCache {
		deps.Cache = search.NewCache(p.cfg, p.stateDir)
	}
	return search.NewEngine(deps, search.ConfigFrom(p.cfg))
}

func (p *project) graph() (*graph.Graph, error) {
	return graph.New(graph.Dependencies{Store: p.store, Scanner: p.scanner, Workers: p.cfg.Index.Workers})
}

// maxResults returns the flag value when set, then the profile's, then def.
func (p *project) maxResults(flags *pflag.FlagSet, flagValue, def int) int {
	if flags.Changed("limit") {
		return flagValue
	}
	if p.hasProfile && p.profile.MaxResults > 0 {
		return p.profile.MaxResults
	}
	return def
}

// filterFlags are the path and language filters shared by query commands.
type filterFlags struct {
	language string
	scopes   []string
	globs    []string
	excludes []string
	// changed is the git revision of --changed, "" when not given.
	changed string
	// files is the changed-file set resolved by resolve; nil means no
	// restriction.
	files []string
}

func (f *filterFlags) bind(flags *pflag.FlagSet) {
	flags.StringVarP(&f.language, "language", "l", "", "Filter by language (e.g., go, rust)")
	flags.StringSliceVarP(&f.scopes, "scope", "s", nil, "Filter by path prefix (repeatable)")
	flags.StringSliceVarP(&f.globs, "glob", "g", nil, "Filter by glob pattern (repeatable)")
	flags.StringSliceVar(&f.excludes, "exclude", nil, "Exclude paths matching a glob (repeatable)")
	flags.StringVar(&f.changed, "changed", "", "Only files changed since a git revision (default HEAD when given bare)")
	flags.Lookup("changed").NoOptDefVal = vcs.DefaultRevision
}

// resolve turns --changed into the set of files git reports as changed.
func (f *filterFlags) resolve(ctx context.Context, root string) error {
	if f.changed == "" {
		return nil
	}
	files, err := vcs.ChangedFiles(ctx, root, f.changed)
	if err != nil {
		return err
	}
	slog.Debug("changed_files_resolved", slog.String("revision", f.changed), slog.Int("files", len(files)))
	f.files = files
	return nil
}

func (f *filterFlags) search() search.Filters {
	return search.Filters{Language: f.language, PathScope: f.scopes, Globs: f.globs, Excludes: f.excludes, Files: f.files}
}

func (f *filterFlags) graph(limit int) graph.Filters {
	return graph.Filters{
		Language:  f.language,
		PathScope: f.scopes,
		Globs:     f.globs,
		Excludes:  f.excludes,
		Files:     f.files,
		Limit:     limit,
	}
}
