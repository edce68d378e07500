package mcp

import (
	"path"
	"strings"

	"github.com/Aman-CERP/cgrep/internal/scanner"
)

// languageMIME maps scanner languages to MIME types.
var languageMIME = map[string]string{
	"go":         "text/x-go",
	"rust":       "text/x-rust",
	"python":     "text/x-python",
	"javascript": "text/javascript",
	"typescript": "text/typescript",
	"tsx":        "text/typescript",
	"markdown":   "text/markdown",
}

// extMIME covers common non-source files.
var extMIME = map[string]string{
	".json": "application/json",
	".yaml": "text/x-yaml",
	".yml":  "text/x-yaml",
	".toml": "text/x-toml",
	".html": "text/html",
	".css":  "text/css",
	".sh":   "text/x-sh",
	".sql":  "text/x-sql",
}

// MimeTypeForPath returns the MIME type for a file path, or text/plain.
func MimeTypeForPath(p string) string {
	if mime, ok := languageMIME[scanner.DetectLanguage(p)]; ok {
		return mime
	}
	if mime, ok := extMIME[strings.ToLower(path.Ext(p))]; ok {
		return mime
	}
	return "text/plain"
}
