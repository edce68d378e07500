// Package scanner walks a source tree and produces candidate files for
// indexing. It applies exclusion rules before any file is opened, classifies
// binary content from a bounded prefix, caps large files and fingerprints
// their bytes.
package scanner

import (
	"path"
	"strings"
	"time"
)

// FileInfo describes one candidate file.
type FileInfo struct {
	Path     string    // slash-separated, relative to the scan root
	AbsPath  string    // absolute path on disk
	Size     int64     // size on disk, before capping
	ModTime  time.Time // last modification time
	Language string    // go, rust, python, ... or "" when unknown
	IsBinary bool      // binary files are never indexed
}

// ScanResult is one element of the scan stream. Exactly one of File and
// Error is set.
type ScanResult struct {
	File  *FileInfo
	Error error
}

// Options configures a Scanner.
type Options struct {
	// ExcludeGlobs are doublestar patterns matched against slash paths
	// relative to the root (e.g. "vendor/**", "**/*.gen.go").
	ExcludeGlobs []string

	// ExcludePrefixes are literal relative path prefixes.
	ExcludePrefixes []string

	// MaxFileBytes caps how much of a file is read (0 = DefaultMaxFileBytes).
	MaxFileBytes int64

	// RespectGitignore applies .gitignore files found in the tree.
	RespectGitignore bool

	// FollowSymlinks follows symbolic links to files.
	FollowSymlinks bool

	// IncludeHidden includes dot-files and dot-directories.
	IncludeHidden bool
}

// DefaultMaxFileBytes is the default read cap (1 MiB).
const DefaultMaxFileBytes int64 = 1 << 20

// DefaultOptions returns options with gitignore support enabled.
func DefaultOptions() Options {
	return Options{
		MaxFileBytes:     DefaultMaxFileBytes,
		RespectGitignore: true,
	}
}

// languageMap maps file extensions and exact file names to languages.
var languageMap = map[string]string{
	".go": "go",

	".rs": "rust",

	".py":  "python",
	".pyw": "python",
	".pyi": "python",

	".js":  "javascript",
	".jsx": "javascript",
	".mjs": "javascript",
	".cjs": "javascript",
	".ts":  "typescript",
	".mts": "typescript",
	".cts": "typescript",
	".tsx": "tsx",

	".java":  "java",
	".kt":    "kotlin",
	".c":     "c",
	".h":     "c",
	".cpp":   "cpp",
	".cc":    "cpp",
	".hpp":   "cpp",
	".cs":    "csharp",
	".rb":    "ruby",
	".php":   "php",
	".swift": "swift",
	".scala": "scala",
	".lua":   "lua",
	".sh":    "shell",
	".bash":  "shell",
	".zsh":   "shell",
	".sql":   "sql",
	".proto": "protobuf",

	".html": "html",
	".css":  "css",
	".json": "json",
	".yaml": "yaml",
	".yml":  "yaml",
	".toml": "toml",
	".xml":  "xml",
	".md":   "markdown",
	".mdx":  "markdown",
	".rst":  "rst",
	".txt":  "text",

	"Dockerfile":  "dockerfile",
	"Makefile":    "makefile",
	"makefile":    "makefile",
	"GNUmakefile": "makefile",
}

// DetectLanguage returns the language for a path, or "" when unknown.
// Exact file names win over extensions.
func DetectLanguage(p string) string {
	p = strings.ReplaceAll(p, "\\", "/")
	base := path.Base(p)
	if lang, ok := languageMap[base]; ok {
		return lang
	}
	if lang, ok := languageMap[path.Ext(base)]; ok {
		return lang
	}
	return ""
}
