package cmd

import (
	"database/sql"
	"encoding/json"
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aman-CERP/cgrep/internal/store"
)

func resultPaths(t *testing.T, doc document) []string {
	t.Helper()
	var paths []string
	for _, raw := range doc.Results {
		var r struct {
			Path string `json:"path"`
		}
		require.NoError(t, json.Unmarshal(raw, &r))
		paths = append(paths, r.Path)
	}
	return paths
}

func TestQuery_UnusableIndexCountsAsAbsent(t *testing.T) {
	root := newProject(t)
	require.Equal(t, 0, execute(t, root, "index").code)

	// Given: an index written by an incompatible schema
	db, err := sql.Open(store.DriverName, filepath.Join(root, ".cgrep", store.DBFileName))
	require.NoError(t, err)
	_, err = db.Exec(`UPDATE meta SET value = '0' WHERE key = 'schema_version'`)
	require.NoError(t, err)
	require.NoError(t, db.Close())

	// When: searching in JSON
	res := execute(t, root, "search", "foo", "--format", "json")

	// Then: the discarded index is not queried and the tree is scanned
	require.Equal(t, 0, res.code, res.stderr)
	doc := decode(t, res.stdout)
	assert.Equal(t, "scan", doc.Meta["fallback"])
	assert.NotEmpty(t, doc.Results)

	// And: the rebuild warning went to stderr, leaving stdout one document
	assert.Contains(t, res.stderr, "Previous index discarded")
	assert.NotContains(t, res.stdout, "Previous index discarded")

	// When: a graph query runs against the now empty index
	res = execute(t, root, "definition", "foo", "--format", "json")

	// Then: it extracts from source instead of reporting nothing
	require.Equal(t, 0, res.code, res.stderr)
	doc = decode(t, res.stdout)
	assert.Equal(t, "extract", doc.Meta["fallback"])
	require.Len(t, doc.Results, 1)
	assert.Contains(t, string(doc.Results[0]), `"path":"a.rs"`)

	// And: symbols, which needs an index, says so
	res = execute(t, root, "symbols")
	assert.Equal(t, 1, res.code)
	assert.Contains(t, res.stderr, "ERR_104_INDEX_REQUIRED")
}

func TestCacheClear_JSON(t *testing.T) {
	root := newProject(t)
	require.Equal(t, 0, execute(t, root, "index").code)
	require.Equal(t, 0, execute(t, root, "search", "foo").code)

	res := execute(t, root, "cache", "clear", "--format", "json")

	require.Equal(t, 0, res.code, res.stderr)
	var doc struct {
		Meta    map[string]any `json:"meta"`
		Results map[string]any `json:"results"`
	}
	require.NoError(t, json.Unmarshal([]byte(res.stdout), &doc), res.stdout)
	assert.Equal(t, "cache clear", doc.Meta["command"])
	assert.EqualValues(t, 1, doc.Results["cleared"])
}

func TestSearch_ScanFlags(t *testing.T) {
	root := newProject(t)
	require.Equal(t, 0, execute(t, root, "index").code)

	t.Run("regex scans even with an index", func(t *testing.T) {
		res := execute(t, root, "search", `fn\s+foo`, "--regex", "--format", "json")
		require.Equal(t, 0, res.code, res.stderr)
		doc := decode(t, res.stdout)
		assert.Equal(t, "scan", doc.Meta["fallback"])
		assert.Equal(t, []string{"a.rs"}, resultPaths(t, doc))
	})

	t.Run("invalid regex", func(t *testing.T) {
		res := execute(t, root, "search", "fn(", "--regex")
		assert.Equal(t, 1, res.code)
		assert.Contains(t, res.stderr, "ERR_")
	})

	t.Run("case sensitive", func(t *testing.T) {
		res := execute(t, root, "search", "FOO", "--no-index", "--case-sensitive", "--format", "json")
		require.Equal(t, 0, res.code, res.stderr)
		assert.Empty(t, decode(t, res.stdout).Results)
	})

	t.Run("fuzzy is ignored when scanning", func(t *testing.T) {
		res := execute(t, root, "search", "foo", "--no-index", "--fuzzy", "--format", "json")
		require.Equal(t, 0, res.code, res.stderr)
		doc := decode(t, res.stdout)
		assert.NotEmpty(t, doc.Results)
		assert.Contains(t, doc.Meta["warnings"], "fuzzy matching is only supported with index search; ignored")
	})

	t.Run("output budget", func(t *testing.T) {
		res := execute(t, root, "search", "foo", "--max-total-chars", "5", "--format", "json")
		require.Equal(t, 0, res.code, res.stderr)
		doc := decode(t, res.stdout)
		assert.Equal(t, true, doc.Meta["truncated"])
		assert.EqualValues(t, 5, doc.Meta["max_total_chars"])
	})
}

func gitCommitAll(t *testing.T, dir string) {
	t.Helper()
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not installed")
	}
	for _, args := range [][]string{
		{"init", "-q"},
		{"add", "."},
		{"commit", "-q", "-m", "init"},
	} {
		cmd := exec.Command("git", args...)
		cmd.Dir = dir
		cmd.Env = append(os.Environ(),
			"GIT_AUTHOR_NAME=test", "GIT_AUTHOR_EMAIL=test@example.com",
			"GIT_COMMITTER_NAME=test", "GIT_COMMITTER_EMAIL=test@example.com",
			"GIT_CONFIG_NOSYSTEM=1")
		out, err := cmd.CombinedOutput()
		require.NoError(t, err, string(out))
	}
}

func TestQuery_ChangedAndExclude(t *testing.T) {
	// Given: a committed project where only a.rs changed since HEAD
	root := newProject(t)
	gitCommitAll(t, root)
	require.NoError(t, os.WriteFile(filepath.Join(root, "a.rs"), []byte(aRS+"\nfn bar() {}\n"), 0o644))
	require.Equal(t, 0, execute(t, root, "index").code)

	t.Run("search", func(t *testing.T) {
		res := execute(t, root, "search", "foo", "--changed", "--format", "json")
		require.Equal(t, 0, res.code, res.stderr)
		paths := resultPaths(t, decode(t, res.stdout))
		require.NotEmpty(t, paths)
		for _, p := range paths {
			assert.Equal(t, "a.rs", p)
		}
	})

	t.Run("symbols", func(t *testing.T) {
		res := execute(t, root, "symbols", "--kind", "function", "--changed", "--format", "json")
		require.Equal(t, 0, res.code, res.stderr)
		doc := decode(t, res.stdout)
		assert.Len(t, doc.Results, 2)
		assert.Equal(t, []string{"a.rs", "a.rs"}, resultPaths(t, doc))

		res = execute(t, root, "symbols", "--kind", "function", "--exclude", "a.rs", "--format", "json")
		require.Equal(t, 0, res.code, res.stderr)
		assert.Equal(t, []string{"b.rs"}, resultPaths(t, decode(t, res.stdout)))
	})

	t.Run("references", func(t *testing.T) {
		// The only call to foo is in the unchanged b.rs.
		res := execute(t, root, "callers", "foo", "--changed", "--format", "json")
		require.Equal(t, 0, res.code, res.stderr)
		assert.Empty(t, decode(t, res.stdout).Results)

		res = execute(t, root, "callers", "foo", "--exclude", "b.rs", "--format", "json")
		require.Equal(t, 0, res.code, res.stderr)
		assert.Empty(t, decode(t, res.stdout).Results)

		res = execute(t, root, "callers", "foo", "--format", "json")
		require.Equal(t, 0, res.code, res.stderr)
		assert.Len(t, decode(t, res.stdout).Results, 1)
	})
}

func TestQuery_ChangedOutsideGit(t *testing.T) {
	root := newProject(t)

	res := execute(t, root, "search", "foo", "--changed")

	assert.Equal(t, 1, res.code)
	assert.Contains(t, res.stderr, "ERR_105_GIT_REQUIRED")
	assert.Contains(t, res.stderr, "--changed requires a git repository")
}
