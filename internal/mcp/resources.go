package mcp

import (
	"context"
	"fmt"
	"path"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// fileURIPrefix prefixes project files exposed as resources.
const fileURIPrefix = "cgrep://file/"

// registerResources exposes project files through a URI template so agents
// can read a file a result points at. Files excluded from indexing are not
// served.
func (s *Server) registerResources() {
	s.mcp.AddResourceTemplate(&mcp.ResourceTemplate{
		Name:        "file",
		URITemplate: fileURIPrefix + "{+path}",
		Description: "A project file, relative to the project root",
		MIMEType:    "text/plain",
	}, func(ctx context.Context, req *mcp.ReadResourceRequest) (*mcp.ReadResourceResult, error) {
		return s.readFile(ctx, req.Params.URI)
	})
}

// readFile serves one project file by resource URI.
func (s *Server) readFile(_ context.Context, uri string) (*mcp.ReadResourceResult, error) {
	rel, ok := strings.CutPrefix(uri, fileURIPrefix)
	if !ok || !isValidPath(rel) {
		return nil, NewInvalidParamsError(fmt.Sprintf("invalid resource URI: %s", uri))
	}

	fi, err := s.deps.Scanner.Describe(rel)
	if err != nil || fi == nil {
		return nil, &MCPError{Code: ErrCodeFileNotFound, Message: fmt.Sprintf("file not found: %s", rel)}
	}
	if fi.IsBinary {
		return nil, NewInvalidParamsError(fmt.Sprintf("binary file: %s", rel))
	}
	content, truncated, err := s.deps.Scanner.ReadFile(fi)
	if err != nil {
		return nil, MapError(err)
	}
	if truncated {
		s.logger.Debug("mcp_resource_truncated", "path", rel, "size", fi.Size)
	}

	return &mcp.ReadResourceResult{
		Contents: []*mcp.ResourceContents{{
			URI:      uri,
			MIMEType: MimeTypeForPath(rel),
			Text:     string(content),
		}},
	}, nil
}

// isValidPath rejects absolute paths and traversal outside the root.
func isValidPath(p string) bool {
	if p == "" || strings.HasPrefix(p, "/") || strings.Contains(p, "\\") {
		return false
	}
	if len(p) >= 2 && p[1] == ':' {
		return false
	}
	cleaned := path.Clean(p)
	if cleaned == "." || cleaned == ".." || strings.HasPrefix(cleaned, "../") {
		return false
	}
	for _, part := range strings.Split(p, "/") {
		if part == ".." {
			return false
		}
	}
	return true
}
