// Package cmd provides the CLI commands for cgrep.
package cmd

import (
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/cgrep/internal/logging"
	"github.com/Aman-CERP/cgrep/internal/output"
	"github.com/Aman-CERP/cgrep/internal/profiling"
	"github.com/Aman-CERP/cgrep/pkg/version"
)

// globalOptions are the persistent flags shared by every command.
type globalOptions struct {
	root    string
	debug   bool
	format  string
	profile string
	noColor bool
	prof    profiling.Options

	loggingCleanup func()
	session        *profiling.Session
	// resolved is the output format after profile defaults are applied.
	resolved output.Format
}

// NewRootCmd creates the root command for the cgrep CLI.
func NewRootCmd() *cobra.Command {
	cmd, _ := newRoot()
	return cmd
}

func newRoot() (*cobra.Command, *globalOptions) {
	g := &globalOptions{}

	cmd := &cobra.Command{
		Use:   "cgrep",
		Short: "Local code intelligence: keyword, semantic and structural search",
		Long: `cgrep indexes a source tree into a local SQLite database and answers
keyword, semantic and hybrid searches plus symbol graph queries over it.

Keyword search and graph queries also work without an index by scanning
the tree directly.`,
		Version:       version.Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.SetVersionTemplate("cgrep version {{.Version}}\n")

	pf := cmd.PersistentFlags()
	pf.StringVar(&g.root, "root", "", "Project root (default: detected from the working directory)")
	pf.BoolVar(&g.debug, "debug", false, "Enable debug logging to ~/.cgrep/logs/")
	pf.StringVar(&g.format, "format", "text", "Output format: text, json")
	pf.StringVar(&g.profile, "profile", "", "Output profile: human, agent, fast")
	pf.BoolVar(&g.noColor, "no-color", false, "Disable colored output")
	pf.StringVar(&g.prof.CPU, "cpu-profile", "", "Write a CPU profile to file")
	pf.StringVar(&g.prof.Heap, "mem-profile", "", "Write a heap profile to file")
	pf.StringVar(&g.prof.Trace, "trace", "", "Write an execution trace to file")
	for _, name := range []string{"cpu-profile", "mem-profile", "trace"} {
		_ = pf.MarkHidden(name)
	}

	cmd.PersistentPreRunE = g.start
	cmd.PersistentPostRunE = g.stop

	cmd.AddCommand(newIndexCmd(g))
	cmd.AddCommand(newSearchCmd(g))
	cmd.AddCommand(newExpandCmd(g))
	for _, q := range graphQueries {
		cmd.AddCommand(newGraphCmd(g, q))
	}
	cmd.AddCommand(newSymbolsCmd(g))
	cmd.AddCommand(newWatchCmd(g))
	cmd.AddCommand(newStatusCmd(g))
	cmd.AddCommand(newCacheCmd(g))
	cmd.AddCommand(newServeCmd(g))
	cmd.AddCommand(newInitCmd(g))
	cmd.AddCommand(newVersionCmd())

	return cmd, g
}

// start configures logging and profiling before any command runs.
func (g *globalOptions) start(cmd *cobra.Command, _ []string) error {
	logCfg := logging.DefaultConfig()
	if ownsStdio(cmd) {
		logCfg = logging.ServeConfig()
	}
	if lvl := os.Getenv("CGREP_LOG_LEVEL"); lvl != "" {
		logCfg.Level = lvl
	}
	if g.debug {
		logCfg.Level = "debug"
	}
	logger, cleanup, err := logging.Setup(logCfg)
	if err != nil {
		// Logging is best effort; a read-only home must not break queries.
		logger, cleanup = slog.New(slog.NewTextHandler(io.Discard, nil)), func() {}
	}
	g.loggingCleanup = cleanup
	slog.SetDefault(logger)
	slog.Debug("command_started",
		slog.String("command", cmd.CommandPath()),
		slog.String("version", version.Version))

	if g.prof.Enabled() {
		s, err := profiling.Start(g.prof)
		if err != nil {
			return err
		}
		g.session = s
	}
	return nil
}

// stop flushes profiles and logs.
func (g *globalOptions) stop(_ *cobra.Command, _ []string) error {
	err := g.session.Stop()
	g.session = nil
	if g.loggingCleanup != nil {
		g.loggingCleanup()
		g.loggingCleanup = nil
	}
	return err
}

// annotationStdio marks commands that speak a protocol on stdio. They log
// to file only and print nothing else.
const annotationStdio = "cgrep/stdio"

func ownsStdio(cmd *cobra.Command) bool {
	return cmd.Annotations[annotationStdio] == "true"
}

// Execute runs the root command and returns the process exit code.
func Execute() int {
	root, g := newRoot()
	return g.run(root, os.Args[1:], os.Stdout, os.Stderr)
}

// run executes root with args. Failures are rendered to stderr in the
// requested format.
func (g *globalOptions) run(root *cobra.Command, args []string, stdout, stderr io.Writer) int {
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)

	if err := root.Execute(); err != nil {
		format := g.resolved
		if format == "" {
			format = output.FormatText
			if f, ferr := output.ParseFormat(g.format); ferr == nil {
				format = f
			}
		}
		output.NewWithOptions(stderr, output.Options{Format: format}).Failure(err)
		return 1
	}
	return 0
}
