package mcp

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aman-CERP/cgrep/internal/config"
	"github.com/Aman-CERP/cgrep/internal/graph"
	"github.com/Aman-CERP/cgrep/internal/index"
	"github.com/Aman-CERP/cgrep/internal/scanner"
	"github.com/Aman-CERP/cgrep/internal/search"
	"github.com/Aman-CERP/cgrep/internal/store"
)

const aRS = "fn foo() -> i32 {\n    42\n}\n"
const bRS = "mod a;\nuse crate::a::foo;\n\nfn main() {\n    let x = foo();\n    println!(\"{}\", x);\n}\n"

func newTestServer(t *testing.T, indexed bool) *Server {
	t.Helper()
	root := t.TempDir()
	for rel, content := range map[string]string{"a.rs": aRS, "b.rs": bRS, "Cargo.toml": "[package]\nname = \"demo\"\n"} {
		require.NoError(t, os.WriteFile(filepath.Join(root, rel), []byte(content), 0o644))
	}
	cfg := config.NewConfig()
	cfg.Index.Workers = 2

	var st *store.Store
	if indexed {
		var err error
		st, err = store.Open(config.StateDir(root), store.DefaultOptions())
		require.NoError(t, err)
		t.Cleanup(func() { _ = st.Close() })
		r, err := index.NewFromConfig(root, cfg, st, nil, nil)
		require.NoError(t, err)
		_, err = r.Run(context.Background(), index.Options{})
		require.NoError(t, err)
	}

	sc, err := scanner.New(root, index.ScannerOptions(cfg))
	require.NoError(t, err)
	engine, err := search.NewEngine(search.Dependencies{Store: st, Scanner: sc}, search.ConfigFrom(cfg))
	require.NoError(t, err)
	g, err := graph.New(graph.Dependencies{Store: st, Scanner: sc, Workers: 2})
	require.NoError(t, err)

	srv, err := NewServer(Dependencies{Engine: engine, Graph: g, Scanner: sc, Store: st, Config: cfg})
	require.NoError(t, err)
	return srv
}

func TestNewServer_RequiresDependencies(t *testing.T) {
	_, err := NewServer(Dependencies{})
	assert.Error(t, err)
}

func TestCallTool_SearchThenExpand(t *testing.T) {
	srv := newTestServer(t, true)
	ctx := context.Background()

	// Given: a keyword search over the index
	out, err := srv.CallTool(ctx, "search", map[string]any{"query": "foo", "mode": "keyword"})
	require.NoError(t, err)
	resp := out.(*search.Response)
	require.NotEmpty(t, resp.Results)
	assert.Positive(t, resp.Generation)

	// When: expanding the first result ID
	out, err = srv.CallTool(ctx, "expand", map[string]any{"ids": []string{resp.Results[0].ID, "missing"}, "context": 1})
	require.NoError(t, err)
	expanded := out.(*ExpandOutput).Results

	// Then: the known ID resolves and the unknown one is reported
	require.Len(t, expanded, 2)
	assert.True(t, expanded[0].Found)
	assert.Equal(t, resp.Results[0].Path, expanded[0].Path)
	assert.False(t, expanded[1].Found)
}

func TestCallTool_GraphQueries(t *testing.T) {
	for _, indexed := range []bool{true, false} {
		srv := newTestServer(t, indexed)
		ctx := context.Background()

		out, err := srv.CallTool(ctx, "definition", map[string]any{"name": "foo"})
		require.NoError(t, err)
		def := out.(*graph.Answer)
		require.Len(t, def.Locations, 1)
		assert.Equal(t, "a.rs", def.Locations[0].Path)

		out, err = srv.CallTool(ctx, "callers", map[string]any{"name": "foo"})
		require.NoError(t, err)
		callers := out.(*graph.Answer)
		require.Len(t, callers.Locations, 1)
		assert.Equal(t, "b.rs", callers.Locations[0].Path)
		assert.Equal(t, 5, callers.Locations[0].Line)

		out, err = srv.CallTool(ctx, "dependents", map[string]any{"path": "a.rs"})
		require.NoError(t, err)
		assert.NotEmpty(t, out.(*graph.Answer).Locations)

		out, err = srv.CallTool(ctx, "references", map[string]any{"name": "nothing_here"})
		require.NoError(t, err)
		assert.NotNil(t, out.(*graph.Answer).Locations)
	}
}

func TestCallTool_Errors(t *testing.T) {
	srv := newTestServer(t, false)
	ctx := context.Background()

	tests := []struct {
		name string
		tool string
		args map[string]any
		code int
	}{
		{"empty query", "search", map[string]any{"query": "  "}, ErrCodeInvalidParams},
		{"bad mode", "search", map[string]any{"query": "foo", "mode": "fuzzy"}, ErrCodeInvalidParams},
		{"semantic without index", "search", map[string]any{"query": "foo", "mode": "semantic"}, ErrCodeIndexNotFound},
		{"no ids", "expand", map[string]any{}, ErrCodeInvalidParams},
		{"no name", "definition", nil, ErrCodeInvalidParams},
		{"no path", "dependents", map[string]any{"path": ""}, ErrCodeInvalidParams},
		{"wrong type", "search", map[string]any{"query": 42}, ErrCodeInvalidParams},
		{"unknown tool", "grep", nil, ErrCodeMethodNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := srv.CallTool(ctx, tt.tool, tt.args)
			require.Error(t, err)
			var me *MCPError
			require.ErrorAs(t, err, &me)
			assert.Equal(t, tt.code, me.Code)
		})
	}
}

func TestCallTool_IndexStatus(t *testing.T) {
	ctx := context.Background()

	out, err := newTestServer(t, false).CallTool(ctx, "index_status", nil)
	require.NoError(t, err)
	status := out.(*IndexStatusOutput)
	assert.False(t, status.Indexed)
	assert.Nil(t, status.Stats)
	assert.Equal(t, "demo", status.Project.Name)
	assert.Equal(t, "rust", status.Project.Type)

	out, err = newTestServer(t, true).CallTool(ctx, "index_status", nil)
	require.NoError(t, err)
	status = out.(*IndexStatusOutput)
	assert.True(t, status.Indexed)
	require.NotNil(t, status.Stats)
	assert.Equal(t, 2, status.Stats.Languages["rust"])
	assert.False(t, status.Embeddings.Available)
}

func TestReadFileResource(t *testing.T) {
	srv := newTestServer(t, false)
	ctx := context.Background()

	res, err := srv.readFile(ctx, fileURIPrefix+"a.rs")
	require.NoError(t, err)
	require.Len(t, res.Contents, 1)
	assert.Equal(t, aRS, res.Contents[0].Text)
	assert.Equal(t, "text/x-rust", res.Contents[0].MIMEType)

	for _, uri := range []string{fileURIPrefix + "../etc/passwd", fileURIPrefix + "/etc/passwd", "file:///a.rs"} {
		_, err := srv.readFile(ctx, uri)
		assert.Error(t, err, uri)
	}
	_, err = srv.readFile(ctx, fileURIPrefix+"nope.rs")
	var me *MCPError
	require.ErrorAs(t, err, &me)
	assert.Equal(t, ErrCodeFileNotFound, me.Code)
}

func TestServer_OverInMemoryTransport(t *testing.T) {
	srv := newTestServer(t, true)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	serverTransport, clientTransport := mcp.NewInMemoryTransports()
	serverSession, err := srv.MCPServer().Connect(ctx, serverTransport, nil)
	require.NoError(t, err)
	defer func() { _ = serverSession.Close() }()

	client := mcp.NewClient(&mcp.Implementation{Name: "test-client", Version: "v0.0.1"}, nil)
	session, err := client.Connect(ctx, clientTransport, nil)
	require.NoError(t, err)
	defer func() { _ = session.Close() }()

	// When: listing tools
	list, err := session.ListTools(ctx, nil)
	require.NoError(t, err)
	var names []string
	for _, tool := range list.Tools {
		names = append(names, tool.Name)
	}

	// Then: every query tool is exposed
	for _, want := range srv.ListTools() {
		assert.Contains(t, names, want.Name)
	}

	// And: a call returns markdown text content
	res, err := session.CallTool(ctx, &mcp.CallToolParams{Name: "callers", Arguments: map[string]any{"name": "foo"}})
	require.NoError(t, err)
	assert.False(t, res.IsError)
	require.NotEmpty(t, res.Content)
	text, ok := res.Content[0].(*mcp.TextContent)
	require.True(t, ok)
	assert.Contains(t, text.Text, "b.rs:5:13")
}
