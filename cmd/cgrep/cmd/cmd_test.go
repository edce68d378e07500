package cmd

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aman-CERP/cgrep/pkg/version"
)

const aRS = "fn foo() -> i32 {\n    42\n}\n"
const bRS = "mod a;\nuse crate::a::foo;\n\nfn main() {\n    let x = foo();\n    println!(\"{}\", x);\n}\n"

// newProject writes the two-file Rust fixture and isolates user state.
func newProject(t *testing.T) string {
	t.Helper()
	home := t.TempDir()
	t.Setenv("HOME", home)
	t.Setenv("XDG_CONFIG_HOME", filepath.Join(home, ".config"))

	root := t.TempDir()
	for rel, content := range map[string]string{"a.rs": aRS, "b.rs": bRS} {
		require.NoError(t, os.WriteFile(filepath.Join(root, rel), []byte(content), 0o644))
	}
	return root
}

type result struct {
	stdout string
	stderr string
	code   int
}

func execute(t *testing.T, root string, args ...string) result {
	t.Helper()
	cmd, g := newRoot()
	var stdout, stderr bytes.Buffer
	if root != "" {
		args = append(args, "--root", root)
	}
	code := g.run(cmd, args, &stdout, &stderr)
	return result{stdout: stdout.String(), stderr: stderr.String(), code: code}
}

// document is the JSON envelope of result-producing commands.
type document struct {
	Meta    map[string]any    `json:"meta"`
	Results []json.RawMessage `json:"results"`
}

func decode(t *testing.T, s string) document {
	t.Helper()
	var doc document
	require.NoError(t, json.Unmarshal([]byte(s), &doc), s)
	return doc
}

func TestVersionCmd(t *testing.T) {
	t.Setenv("HOME", t.TempDir())

	// Given: the version command
	res := execute(t, "", "version")

	// Then: it prints the program, version and commit
	require.Equal(t, 0, res.code, res.stderr)
	assert.Contains(t, res.stdout, "cgrep "+version.Version)
	assert.Contains(t, res.stdout, "commit")

	res = execute(t, "", "version", "--short")
	assert.Equal(t, version.Version, strings.TrimSpace(res.stdout))

	res = execute(t, "", "version", "--format", "json")
	var info map[string]string
	require.NoError(t, json.Unmarshal([]byte(res.stdout), &info))
	assert.Equal(t, version.Version, info["version"])
	assert.Contains(t, info, "go_version")
}

func TestRootCmd_RegistersCommands(t *testing.T) {
	root := NewRootCmd()
	for _, name := range []string{
		"index", "search", "expand", "definition", "callers", "references", "dependents",
		"symbols", "watch", "status", "cache", "serve", "version",
	} {
		found, _, err := root.Find([]string{name})
		require.NoError(t, err, name)
		assert.Equal(t, name, found.Name())
	}
	clear, _, err := root.Find([]string{"cache", "clear"})
	require.NoError(t, err)
	assert.Equal(t, "clear", clear.Name())
}

func TestSearch_WithoutIndexScansTree(t *testing.T) {
	// Given: a project that was never indexed
	root := newProject(t)

	// When: searching by keyword
	res := execute(t, root, "search", "foo", "--format", "json")

	// Then: results come from a scan and no index is created
	require.Equal(t, 0, res.code, res.stderr)
	doc := decode(t, res.stdout)
	assert.Equal(t, "scan", doc.Meta["fallback"])
	assert.NotEmpty(t, doc.Results)
	assert.NoFileExists(t, filepath.Join(root, ".cgrep", "index.db"))
}

func TestSearch_SemanticWithoutIndexFails(t *testing.T) {
	root := newProject(t)

	// When: a semantic search runs with no index
	res := execute(t, root, "search", "foo", "--mode", "semantic")

	// Then: it fails with the index-required code and a hint
	assert.Equal(t, 1, res.code)
	assert.Contains(t, res.stderr, "ERR_104_INDEX_REQUIRED")
	assert.Contains(t, res.stderr, "cgrep index")

	// And: JSON callers get a structured error document
	res = execute(t, root, "search", "foo", "--mode", "semantic", "--format", "json")
	assert.Equal(t, 1, res.code)
	var doc map[string]map[string]any
	require.NoError(t, json.Unmarshal([]byte(res.stderr), &doc), res.stderr)
	assert.Equal(t, "ERR_104_INDEX_REQUIRED", doc["error"]["code"])
}

func TestIndexThenQuery(t *testing.T) {
	root := newProject(t)

	// Given: an indexed project
	res := execute(t, root, "index", "--format", "json")
	require.Equal(t, 0, res.code, res.stderr)
	var summary struct {
		Meta    map[string]any `json:"meta"`
		Results map[string]any `json:"results"`
	}
	require.NoError(t, json.Unmarshal([]byte(res.stdout), &summary), res.stdout)
	assert.EqualValues(t, 1, summary.Results["generation"])
	assert.EqualValues(t, 2, summary.Results["changed"])

	// When: indexing again without changes
	res = execute(t, root, "index", "--format", "json")
	require.Equal(t, 0, res.code, res.stderr)
	require.NoError(t, json.Unmarshal([]byte(res.stdout), &summary))

	// Then: nothing is reprocessed
	assert.EqualValues(t, 0, summary.Results["changed"])
	assert.EqualValues(t, 2, summary.Results["unchanged"])

	t.Run("search uses the index", func(t *testing.T) {
		res := execute(t, root, "search", "foo", "--format", "json")
		require.Equal(t, 0, res.code, res.stderr)
		doc := decode(t, res.stdout)
		assert.Nil(t, doc.Meta["fallback"])
		assert.Positive(t, doc.Meta["generation"])
		require.NotEmpty(t, doc.Results)

		var first struct {
			ID string `json:"id"`
		}
		require.NoError(t, json.Unmarshal(doc.Results[0], &first))

		res = execute(t, root, "expand", first.ID, "missing-id", "--format", "json")
		require.Equal(t, 0, res.code, res.stderr)
		expanded := decode(t, res.stdout)
		require.Len(t, expanded.Results, 2)
		assert.Contains(t, string(expanded.Results[0]), `"found":true`)
		assert.Contains(t, string(expanded.Results[1]), `"found":false`)
	})

	t.Run("graph queries", func(t *testing.T) {
		res := execute(t, root, "callers", "foo")
		require.Equal(t, 0, res.code, res.stderr)
		assert.Contains(t, res.stdout, "b.rs:5:13")

		res = execute(t, root, "definition", "foo", "--format", "json")
		require.Equal(t, 0, res.code, res.stderr)
		doc := decode(t, res.stdout)
		require.Len(t, doc.Results, 1)
		assert.Contains(t, string(doc.Results[0]), `"path":"a.rs"`)
	})

	t.Run("symbols", func(t *testing.T) {
		res := execute(t, root, "symbols", "--kind", "function", "--format", "json")
		require.Equal(t, 0, res.code, res.stderr)
		doc := decode(t, res.stdout)
		assert.Len(t, doc.Results, 2)

		res = execute(t, root, "symbols", "--scope", "a.rs", "--format", "json")
		require.Equal(t, 0, res.code, res.stderr)
		doc = decode(t, res.stdout)
		require.Len(t, doc.Results, 1)
		assert.Contains(t, string(doc.Results[0]), `"name":"foo"`)

		res = execute(t, root, "symbols", "--kind", "widget")
		assert.Equal(t, 1, res.code)
		assert.Contains(t, res.stderr, "unknown symbol kind")
	})

	t.Run("status", func(t *testing.T) {
		res := execute(t, root, "status", "--format", "json")
		require.Equal(t, 0, res.code, res.stderr)
		var status map[string]any
		require.NoError(t, json.Unmarshal([]byte(res.stdout), &status))
		assert.Equal(t, true, status["indexed"])
		stats := status["stats"].(map[string]any)
		assert.EqualValues(t, 2, stats["files"])
	})
}

func TestGraphQuery_WithoutIndex(t *testing.T) {
	root := newProject(t)

	res := execute(t, root, "callers", "foo", "--format", "json")

	require.Equal(t, 0, res.code, res.stderr)
	doc := decode(t, res.stdout)
	assert.Equal(t, "extract", doc.Meta["fallback"])
	require.Len(t, doc.Results, 1)
	assert.Contains(t, string(doc.Results[0]), `"line":5`)
}

func TestSymbols_RequiresIndex(t *testing.T) {
	root := newProject(t)

	res := execute(t, root, "symbols")

	assert.Equal(t, 1, res.code)
	assert.Contains(t, res.stderr, "ERR_104_INDEX_REQUIRED")
}

func TestStatus_WithoutIndex(t *testing.T) {
	root := newProject(t)

	res := execute(t, root, "status")

	require.Equal(t, 0, res.code, res.stderr)
	assert.Contains(t, res.stdout, "No index")
}

func TestCacheClear(t *testing.T) {
	root := newProject(t)
	require.Equal(t, 0, execute(t, root, "index").code)
	require.Equal(t, 0, execute(t, root, "search", "foo").code)

	// When: clearing the cache
	res := execute(t, root, "cache", "clear")

	// Then: the persisted entry is removed
	require.Equal(t, 0, res.code, res.stderr)
	assert.Contains(t, res.stdout, "Cleared 1 cached result")
	entries, _ := os.ReadDir(filepath.Join(root, ".cgrep", "cache", "search"))
	for _, e := range entries {
		assert.False(t, strings.HasSuffix(e.Name(), ".json"), e.Name())
	}
}

func TestProfiles(t *testing.T) {
	root := newProject(t)

	// Given: the agent profile, which defaults to JSON
	res := execute(t, root, "search", "foo", "--profile", "agent", "--mode", "keyword")

	// Then: output is JSON without an explicit --format
	require.Equal(t, 0, res.code, res.stderr)
	decode(t, res.stdout)

	// And: an explicit --format wins over the profile
	res = execute(t, root, "search", "foo", "--profile", "agent", "--mode", "keyword", "--format", "text")
	require.Equal(t, 0, res.code, res.stderr)
	assert.Contains(t, res.stdout, "a.rs:")

	// And: unknown profiles are rejected
	res = execute(t, root, "search", "foo", "--profile", "robot")
	assert.Equal(t, 1, res.code)
	assert.Contains(t, res.stderr, "unknown profile")
}

func TestBadFormat(t *testing.T) {
	root := newProject(t)

	res := execute(t, root, "search", "foo", "--format", "yaml")

	assert.Equal(t, 1, res.code)
	assert.Contains(t, res.stderr, "unknown output format")
}

func TestInit(t *testing.T) {
	root := newProject(t)
	require.NoError(t, os.WriteFile(filepath.Join(root, ".mcp.json"),
		[]byte(`{"mcpServers":{"other":{"command":"other-server"}}}`), 0o644))

	// When: initializing with MCP registration
	res := execute(t, root, "init", "--mcp")
	require.Equal(t, 0, res.code, res.stderr)

	// Then: the template is written and loads as a valid configuration
	assert.FileExists(t, filepath.Join(root, ".cgrep.yaml"))
	assert.Equal(t, 0, execute(t, root, "status").code)

	// And: the cgrep server is registered next to existing servers
	data, err := os.ReadFile(filepath.Join(root, ".mcp.json"))
	require.NoError(t, err)
	var mcpCfg struct {
		MCPServers map[string]MCPServerConfig `json:"mcpServers"`
	}
	require.NoError(t, json.Unmarshal(data, &mcpCfg))
	assert.Equal(t, "other-server", mcpCfg.MCPServers["other"].Command)
	assert.Equal(t, []string{"serve", "--watch"}, mcpCfg.MCPServers["cgrep"].Args)

	// And: a second run preserves the edited config
	require.NoError(t, os.WriteFile(filepath.Join(root, ".cgrep.yaml"), []byte("search:\n  max_results: 5\n"), 0o644))
	res = execute(t, root, "init")
	require.Equal(t, 0, res.code, res.stderr)
	assert.Contains(t, res.stdout, "preserved")
	data, err = os.ReadFile(filepath.Join(root, ".cgrep.yaml"))
	require.NoError(t, err)
	assert.Contains(t, string(data), "max_results: 5")
}
