package mcp

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/Aman-CERP/cgrep/internal/cache"
	"github.com/Aman-CERP/cgrep/internal/config"
	"github.com/Aman-CERP/cgrep/internal/embed"
	"github.com/Aman-CERP/cgrep/internal/graph"
	"github.com/Aman-CERP/cgrep/internal/scanner"
	"github.com/Aman-CERP/cgrep/internal/search"
	"github.com/Aman-CERP/cgrep/internal/store"
	"github.com/Aman-CERP/cgrep/internal/symbols"
	"github.com/Aman-CERP/cgrep/pkg/version"
)

const (
	defaultLimit   = 10
	maxLimit       = 100
	defaultContext = 3
)

// Dependencies are the services the tools call into. Store, Provider and
// Cache may be nil.
type Dependencies struct {
	Engine   *search.Engine
	Graph    *graph.Graph
	Scanner  *scanner.Scanner
	Store    *store.Store
	Provider embed.Provider
	Cache    *cache.SessionCache[*search.Response]
	Config   *config.Config
}

// Server is the MCP server. It bridges AI clients with the search engine
// and the symbol graph.
type Server struct {
	mcp    *mcp.Server
	deps   Dependencies
	root   string
	logger *slog.Logger
}

// ToolInfo contains information about a registered tool.
type ToolInfo struct {
	Name        string
	Description string
}

var tools = []ToolInfo{
	{
		Name:        "search",
		Description: "Search the codebase by keywords, meaning or both (mode keyword, semantic or hybrid). Returns ranked snippets with stable result IDs. Falls back to keyword results when embeddings are unavailable.",
	},
	{
		Name:        "expand",
		Description: "Resolve result IDs from a previous search to their current location with surrounding lines, without re-running the query.",
	},
	{
		Name:        "definition",
		Description: "Find where a symbol is defined. Exact name matches rank first, then case-insensitive, prefix and substring matches.",
	},
	{
		Name:        "callers",
		Description: "List the call sites of a function or method, with the enclosing caller and the source line.",
	},
	{
		Name:        "references",
		Description: "List every call and reference site of a symbol.",
	},
	{
		Name:        "dependents",
		Description: "List the files that import a given file.",
	},
	{
		Name:        "index_status",
		Description: "Report whether the index exists, its generation and counts, and whether semantic search is available.",
	},
}

// NewServer creates a new MCP server.
func NewServer(deps Dependencies) (*Server, error) {
	if deps.Engine == nil {
		return nil, errors.New("search engine is required")
	}
	if deps.Graph == nil {
		return nil, errors.New("graph is required")
	}
	if deps.Scanner == nil {
		return nil, errors.New("scanner is required")
	}
	if deps.Config == nil {
		deps.Config = config.NewConfig()
	}

	s := &Server{
		deps:   deps,
		root:   deps.Scanner.Root(),
		logger: slog.Default(),
	}
	s.mcp = mcp.NewServer(
		&mcp.Implementation{Name: "cgrep", Version: version.Version},
		nil,
	)
	s.registerTools()
	s.registerResources()
	return s, nil
}

// MCPServer returns the underlying MCP server instance.
func (s *Server) MCPServer() *mcp.Server {
	return s.mcp
}

// ListTools returns all registered tools.
func (s *Server) ListTools() []ToolInfo {
	return append([]ToolInfo(nil), tools...)
}

func describe(name string) string {
	for _, t := range tools {
		if t.Name == name {
			return t.Description
		}
	}
	return ""
}

func (s *Server) registerTools() {
	mcp.AddTool(s.mcp, &mcp.Tool{Name: "search", Description: describe("search")}, s.mcpSearchHandler)
	mcp.AddTool(s.mcp, &mcp.Tool{Name: "expand", Description: describe("expand")}, s.mcpExpandHandler)
	mcp.AddTool(s.mcp, &mcp.Tool{Name: "definition", Description: describe("definition")}, s.symbolHandler("definition"))
	mcp.AddTool(s.mcp, &mcp.Tool{Name: "callers", Description: describe("callers")}, s.symbolHandler("callers"))
	mcp.AddTool(s.mcp, &mcp.Tool{Name: "references", Description: describe("references")}, s.symbolHandler("references"))
	mcp.AddTool(s.mcp, &mcp.Tool{Name: "dependents", Description: describe("dependents")}, s.mcpDependentsHandler)
	mcp.AddTool(s.mcp, &mcp.Tool{Name: "index_status", Description: describe("index_status")}, s.mcpIndexStatusHandler)
	s.logger.Debug("mcp_tools_registered", slog.Int("count", len(tools)))
}

// CallTool invokes a tool by name with JSON-style arguments, bypassing the
// transport.
func (s *Server) CallTool(ctx context.Context, name string, args map[string]any) (any, error) {
	switch name {
	case "search":
		var in SearchInput
		if err := decodeArgs(args, &in); err != nil {
			return nil, err
		}
		return s.search(ctx, in)
	case "expand":
		var in ExpandInput
		if err := decodeArgs(args, &in); err != nil {
			return nil, err
		}
		return s.expand(ctx, in)
	case "definition", "callers", "references":
		var in SymbolInput
		if err := decodeArgs(args, &in); err != nil {
			return nil, err
		}
		return s.symbolQuery(ctx, name, in)
	case "dependents":
		var in DependentsInput
		if err := decodeArgs(args, &in); err != nil {
			return nil, err
		}
		return s.dependents(ctx, in)
	case "index_status":
		return s.indexStatus(ctx)
	default:
		return nil, NewMethodNotFoundError(name)
	}
}

func decodeArgs(args map[string]any, dst any) error {
	if args == nil {
		return nil
	}
	data, err := json.Marshal(args)
	if err != nil {
		return NewInvalidParamsError(err.Error())
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return NewInvalidParamsError(err.Error())
	}
	return nil
}

// run wraps a tool body with request logging and error mapping.
func run[T any](ctx context.Context, s *Server, tool string, fn func(context.Context) (T, error)) (T, error) {
	start := time.Now()
	requestID := generateRequestID()
	s.logger.Info("mcp_tool_started", slog.String("tool", tool), slog.String("request_id", requestID))

	out, err := fn(ctx)
	if err != nil {
		s.logger.Warn("mcp_tool_failed",
			slog.String("tool", tool),
			slog.String("request_id", requestID),
			slog.Duration("duration", time.Since(start)),
			slog.String("error", err.Error()))
		var zero T
		return zero, MapError(err)
	}
	s.logger.Info("mcp_tool_completed",
		slog.String("tool", tool),
		slog.String("request_id", requestID),
		slog.Duration("duration", time.Since(start)))
	return out, nil
}

func clampLimit(limit int) int {
	switch {
	case limit <= 0:
		return defaultLimit
	case limit > maxLimit:
		return maxLimit
	}
	return limit
}

func (s *Server) search(ctx context.Context, in SearchInput) (*search.Response, error) {
	return run(ctx, s, "search", func(ctx context.Context) (*search.Response, error) {
		if strings.TrimSpace(in.Query) == "" {
			return nil, NewInvalidParamsError("query parameter is required")
		}
		mode, err := search.ParseMode(in.Mode)
		if err != nil {
			return nil, err
		}
		if in.Mode == "" {
			mode = s.deps.Engine.Config().DefaultMode
		}
		return s.deps.Engine.Search(ctx, search.Request{
			Query: in.Query,
			Mode:  mode,
			Limit: clampLimit(in.Limit),
			Filters: search.Filters{
				Language:  in.Language,
				PathScope: in.Scope,
				Globs:     in.Globs,
				Excludes:  in.Exclude,
			},
			Regex:         in.Regex,
			CaseSensitive: in.CaseSensitive,
			Fuzzy:         in.Fuzzy,
			Budget:        search.Budget{MaxSnippetChars: in.MaxChars, MaxTotalChars: in.MaxTotalChars},
		})
	})
}

func (s *Server) expand(ctx context.Context, in ExpandInput) (*ExpandOutput, error) {
	return run(ctx, s, "expand", func(ctx context.Context) (*ExpandOutput, error) {
		if len(in.IDs) == 0 {
			return nil, NewInvalidParamsError("ids parameter is required")
		}
		lines := in.Context
		if lines <= 0 {
			lines = defaultContext
		}
		items, err := s.deps.Engine.Expand(ctx, in.IDs, lines)
		if err != nil {
			return nil, err
		}
		return &ExpandOutput{Results: items}, nil
	})
}

func (s *Server) symbolQuery(ctx context.Context, tool string, in SymbolInput) (*graph.Answer, error) {
	return run(ctx, s, tool, func(ctx context.Context) (*graph.Answer, error) {
		if strings.TrimSpace(in.Name) == "" {
			return nil, NewInvalidParamsError("name parameter is required")
		}
		f := graph.Filters{
			Language:  in.Language,
			PathScope: in.Scope,
			Globs:     in.Globs,
			Excludes:  in.Exclude,
			Kind:      symbols.Kind(in.Kind),
			Limit:     clampLimit(in.Limit),
		}
		var (
			ans *graph.Answer
			err error
		)
		switch tool {
		case "definition":
			ans, err = s.deps.Graph.Definition(ctx, in.Name, f)
		case "callers":
			ans, err = s.deps.Graph.Callers(ctx, in.Name, f)
		default:
			ans, err = s.deps.Graph.References(ctx, in.Name, f)
		}
		return normalizeAnswer(ans), err
	})
}

func (s *Server) dependents(ctx context.Context, in DependentsInput) (*graph.Answer, error) {
	return run(ctx, s, "dependents", func(ctx context.Context) (*graph.Answer, error) {
		if strings.TrimSpace(in.Path) == "" {
			return nil, NewInvalidParamsError("path parameter is required")
		}
		ans, err := s.deps.Graph.Dependents(ctx, in.Path, graph.Filters{
			Language:  in.Language,
			PathScope: in.Scope,
			Limit:     clampLimit(in.Limit),
		})
		return normalizeAnswer(ans), err
	})
}

// normalizeAnswer keeps the results array non-null for schema validation.
func normalizeAnswer(ans *graph.Answer) *graph.Answer {
	if ans != nil && ans.Locations == nil {
		ans.Locations = []graph.Location{}
	}
	return ans
}

func (s *Server) indexStatus(ctx context.Context) (*IndexStatusOutput, error) {
	return run(ctx, s, "index_status", func(ctx context.Context) (*IndexStatusOutput, error) {
		out := &IndexStatusOutput{
			Project: *NewProjectDetector(s.root, s.logger).Detect(),
			Embeddings: EmbeddingInfo{
				Provider: s.deps.Config.Embeddings.Provider,
				Model:    s.deps.Config.Embeddings.Model,
			},
		}
		if p := s.deps.Provider; p != nil {
			out.Embeddings.Provider = p.ID()
			out.Embeddings.Model = p.Model()
			out.Embeddings.Dimensions = p.Dimensions()
		}
		if s.deps.Cache != nil {
			out.CacheEntries = s.deps.Cache.Len()
		}
		if s.deps.Store == nil {
			return out, nil
		}

		stats, err := s.deps.Store.Stats(ctx)
		if err != nil {
			return nil, err
		}
		out.Indexed = true
		out.Stats = &IndexStats{
			Generation: stats.Generation,
			Files:      stats.Files,
			Documents:  stats.Documents,
			Symbols:    stats.Symbols,
			Edges:      stats.Edges,
			Embeddings: stats.Embeddings,
			Languages:  stats.Languages,
			SizeBytes:  stats.SizeBytes,
		}
		if !stats.UpdatedAt.IsZero() {
			out.Stats.LastIndexed = stats.UpdatedAt.Format(time.RFC3339)
		}
		if stats.Symbols > 0 {
			out.Embeddings.Coverage = float64(stats.Embeddings) / float64(stats.Symbols)
		}
		out.Embeddings.Available = s.deps.Provider != nil && stats.Embeddings > 0
		return out, nil
	})
}

// MCP SDK handlers. Each returns the structured output plus a markdown
// rendering for clients that only show text content.

func (s *Server) mcpSearchHandler(ctx context.Context, _ *mcp.CallToolRequest, in SearchInput) (*mcp.CallToolResult, *search.Response, error) {
	resp, err := s.search(ctx, in)
	if err != nil {
		return nil, nil, err
	}
	return textResult(FormatSearch(resp)), resp, nil
}

func (s *Server) mcpExpandHandler(ctx context.Context, _ *mcp.CallToolRequest, in ExpandInput) (*mcp.CallToolResult, *ExpandOutput, error) {
	out, err := s.expand(ctx, in)
	if err != nil {
		return nil, nil, err
	}
	return textResult(FormatExpanded(out.Results)), out, nil
}

func (s *Server) symbolHandler(tool string) mcp.ToolHandlerFor[SymbolInput, *graph.Answer] {
	return func(ctx context.Context, _ *mcp.CallToolRequest, in SymbolInput) (*mcp.CallToolResult, *graph.Answer, error) {
		ans, err := s.symbolQuery(ctx, tool, in)
		if err != nil {
			return nil, nil, err
		}
		return textResult(FormatLocations(tool, in.Name, ans)), ans, nil
	}
}

func (s *Server) mcpDependentsHandler(ctx context.Context, _ *mcp.CallToolRequest, in DependentsInput) (*mcp.CallToolResult, *graph.Answer, error) {
	ans, err := s.dependents(ctx, in)
	if err != nil {
		return nil, nil, err
	}
	return textResult(FormatLocations("dependents", in.Path, ans)), ans, nil
}

func (s *Server) mcpIndexStatusHandler(ctx context.Context, _ *mcp.CallToolRequest, _ IndexStatusInput) (*mcp.CallToolResult, *IndexStatusOutput, error) {
	out, err := s.indexStatus(ctx)
	if err != nil {
		return nil, nil, err
	}
	return nil, out, nil
}

func textResult(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{Content: []mcp.Content{&mcp.TextContent{Text: text}}}
}

// Serve runs the server on stdio until ctx is canceled.
func (s *Server) Serve(ctx context.Context) error {
	s.logger.Info("mcp_server_started", slog.String("root", s.root), slog.String("transport", "stdio"))
	err := s.mcp.Run(ctx, &mcp.StdioTransport{})
	if err != nil && !errors.Is(err, context.Canceled) {
		s.logger.Error("mcp_server_failed", slog.String("error", err.Error()))
		return err
	}
	s.logger.Info("mcp_server_stopped")
	return nil
}

// generateRequestID creates a short unique request ID for log correlation.
func generateRequestID() string {
	b := make([]byte, 4)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}
