package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/cgrep/configs"
	"github.com/Aman-CERP/cgrep/internal/config"
	cerrors "github.com/Aman-CERP/cgrep/internal/errors"
	"github.com/Aman-CERP/cgrep/internal/output"
)

// MCPServerConfig is one server entry in .mcp.json.
type MCPServerConfig struct {
	Type    string   `json:"type,omitempty"`
	Command string   `json:"command"`
	Args    []string `json:"args,omitempty"`
}

// MCPConfig is the root .mcp.json structure. Unknown servers are kept.
type MCPConfig struct {
	MCPServers map[string]json.RawMessage `json:"mcpServers"`
}

func newInitCmd(g *globalOptions) *cobra.Command {
	var (
		force   bool
		withMCP bool
	)

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a project configuration template",
		Long: `Write .cgrep.yaml, a commented template of every setting, to the
project root. An existing file is preserved unless --force is given.

With --mcp, also register 'cgrep serve --watch' in the project's .mcp.json
so MCP clients start the server automatically.`,
		Example: `  cgrep init
  cgrep init --mcp
  cgrep init --force`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			root, err := g.resolveRoot()
			if err != nil {
				return err
			}
			// The existing configuration is not loaded; init must be able
			// to replace a file that no longer parses.
			out := output.NewWithOptions(cmd.OutOrStdout(), output.Options{
				Color: !g.noColor && output.DetectColor(cmd.OutOrStdout()),
			})

			path := filepath.Join(root, config.ProjectConfigFile)
			if _, err := os.Stat(path); err == nil && !force {
				out.Status("ℹ️ ", "Existing "+config.ProjectConfigFile+" preserved (use --force to overwrite)")
			} else {
				if err := os.WriteFile(path, []byte(configs.ProjectConfigTemplate), 0o644); err != nil {
					return cerrors.IOError(path, err)
				}
				out.Statusf("📝", "Created %s", config.ProjectConfigFile)
			}

			if withMCP {
				if err := registerMCPServer(filepath.Join(root, ".mcp.json")); err != nil {
					return err
				}
				out.Statusf("🔌", "Registered cgrep in .mcp.json")
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "Overwrite an existing "+config.ProjectConfigFile)
	cmd.Flags().BoolVar(&withMCP, "mcp", false, "Register the MCP server in .mcp.json")
	return cmd
}

// registerMCPServer adds or replaces the cgrep entry in an .mcp.json file,
// keeping every other server.
func registerMCPServer(path string) error {
	cfg := MCPConfig{}
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := json.Unmarshal(data, &cfg); err != nil {
			return cerrors.ValidationError(fmt.Sprintf("invalid JSON in %s", path), err).
				WithSuggestion("Fix or remove the file and run 'cgrep init --mcp' again")
		}
	case !os.IsNotExist(err):
		return cerrors.IOError(path, err)
	}
	if cfg.MCPServers == nil {
		cfg.MCPServers = map[string]json.RawMessage{}
	}

	entry, err := json.Marshal(MCPServerConfig{Type: "stdio", Command: "cgrep", Args: []string{"serve", "--watch"}})
	if err != nil {
		return err
	}
	cfg.MCPServers["cgrep"] = entry

	out, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, append(out, '\n'), 0o644); err != nil {
		return cerrors.IOError(path, err)
	}
	return nil
}
