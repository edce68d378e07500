package scanner

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/bmatcuk/doublestar/v4"
	lru "github.com/hashicorp/golang-lru/v2"
	gitignore "github.com/sabhiram/go-gitignore"

	cerrors "github.com/Aman-CERP/cgrep/internal/errors"
)

// gitignoreCacheSize bounds the number of per-directory matchers kept.
const gitignoreCacheSize = 1000

// binarySniffBytes is how much of a file is inspected for binary content.
const binarySniffBytes = 8000

// defaultExcludeDirs are directory names skipped at any depth.
var defaultExcludeDirs = map[string]bool{
	".git":         true,
	".hg":          true,
	".svn":         true,
	".cgrep":       true,
	"node_modules": true,
	"vendor":       true,
	"target":       true,
	"__pycache__":  true,
	".venv":        true,
	"dist":         true,
	"build":        true,
	".idea":        true,
	".vscode":      true,
}

// sensitiveGlobs are never indexed regardless of configuration.
var sensitiveGlobs = []string{
	"**/.env",
	"**/.env.*",
	"**/*.pem",
	"**/*.key",
	"**/*.p12",
	"**/*.pfx",
	"**/.netrc",
	"**/.npmrc",
	"**/.pypirc",
	"**/id_rsa",
	"**/id_dsa",
	"**/id_ecdsa",
	"**/id_ed25519",
}

// Scanner discovers indexable files under a root directory.
type Scanner struct {
	root string
	opts Options

	// ignoreCache maps an absolute directory to its compiled .gitignore.
	// A nil value records that the directory has none.
	ignoreCache *lru.Cache[string, *gitignore.GitIgnore]
	cacheMu     sync.Mutex
}

// New creates a Scanner rooted at root. Invalid exclusion globs are rejected
// up front so a typo never silently disables an exclusion.
func New(root string, opts Options) (*Scanner, error) {
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("failed to get absolute path: %w", err)
	}
	info, err := os.Stat(absRoot)
	if err != nil {
		return nil, cerrors.IOError(absRoot, err)
	}
	if !info.IsDir() {
		return nil, cerrors.ValidationError(fmt.Sprintf("root path is not a directory: %s", absRoot), nil)
	}

	for _, g := range opts.ExcludeGlobs {
		if !doublestar.ValidatePattern(g) {
			return nil, cerrors.New(cerrors.ErrCodeInvalidPattern,
				fmt.Sprintf("invalid exclude pattern %q", g), nil)
		}
	}
	if opts.MaxFileBytes <= 0 {
		opts.MaxFileBytes = DefaultMaxFileBytes
	}

	cache, err := lru.New[string, *gitignore.GitIgnore](gitignoreCacheSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create gitignore cache: %w", err)
	}

	return &Scanner{root: absRoot, opts: opts, ignoreCache: cache}, nil
}

// Root returns the absolute scan root.
func (s *Scanner) Root() string { return s.root }

// MaxFileBytes returns the effective read cap.
func (s *Scanner) MaxFileBytes() int64 { return s.opts.MaxFileBytes }

// Scan walks the tree and streams candidate files. Each call starts a fresh
// walk. Unreadable entries are reported as IoError results and skipped; the
// walk itself never aborts except on context cancellation. Binary files are
// reported with IsBinary set so callers can purge any stale index state.
func (s *Scanner) Scan(ctx context.Context) <-chan ScanResult {
	results := make(chan ScanResult, 64)

	go func() {
		defer close(results)

		emit := func(r ScanResult) bool {
			select {
			case results <- r:
				return true
			case <-ctx.Done():
				return false
			}
		}

		err := filepath.WalkDir(s.root, func(path string, d fs.DirEntry, walkErr error) error {
			if ctx.Err() != nil {
				return ctx.Err()
			}

			if walkErr != nil {
				ioErr := cerrors.IOError(path, walkErr)
				slog.Warn("scan_entry_unreadable", slog.String("path", path), slog.String("error", walkErr.Error()))
				if !emit(ScanResult{Error: ioErr}) {
					return ctx.Err()
				}
				if d != nil && d.IsDir() {
					return filepath.SkipDir
				}
				return nil
			}

			rel, err := s.rel(path)
			if err != nil || rel == "." {
				return nil
			}

			if d.IsDir() {
				if s.Excluded(rel, true) {
					return filepath.SkipDir
				}
				return nil
			}

			if d.Type()&fs.ModeSymlink != 0 {
				if !s.opts.FollowSymlinks {
					return nil
				}
				target, err := os.Stat(path)
				if err != nil || target.IsDir() {
					return nil
				}
			} else if !d.Type().IsRegular() {
				return nil
			}

			if s.Excluded(rel, false) {
				return nil
			}

			fi, err := s.describe(path, rel)
			if err != nil {
				slog.Warn("scan_entry_unreadable", slog.String("path", rel), slog.String("error", err.Error()))
				if !emit(ScanResult{Error: err}) {
					return ctx.Err()
				}
				return nil
			}
			if !emit(ScanResult{File: fi}) {
				return ctx.Err()
			}
			return nil
		})

		if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
			emit(ScanResult{Error: cerrors.IOError(s.root, err)})
		}
	}()

	return results
}

// Describe returns the FileInfo for a single relative path, applying the
// same exclusion rules as Scan. It returns (nil, nil) when the path is
// excluded, and an IoError wrapping fs.ErrNotExist when it is gone.
func (s *Scanner) Describe(rel string) (*FileInfo, error) {
	rel = filepath.ToSlash(filepath.Clean(rel))
	if rel == "." || strings.HasPrefix(rel, "../") {
		return nil, nil
	}

	// Any excluded ancestor directory excludes the file.
	parts := strings.Split(rel, "/")
	for i := 1; i < len(parts); i++ {
		if s.Excluded(strings.Join(parts[:i], "/"), true) {
			return nil, nil
		}
	}
	if s.Excluded(rel, false) {
		return nil, nil
	}

	abs := filepath.Join(s.root, filepath.FromSlash(rel))
	info, err := os.Lstat(abs)
	if err != nil {
		return nil, cerrors.IOError(rel, err)
	}
	if info.IsDir() {
		return nil, nil
	}
	if info.Mode()&fs.ModeSymlink != 0 && !s.opts.FollowSymlinks {
		return nil, nil
	}
	return s.describe(abs, rel)
}

func (s *Scanner) describe(abs, rel string) (*FileInfo, error) {
	info, err := os.Stat(abs)
	if err != nil {
		return nil, cerrors.IOError(rel, err)
	}

	f, err := os.Open(abs)
	if err != nil {
		return nil, cerrors.IOError(rel, err)
	}
	defer func() { _ = f.Close() }()

	prefix := make([]byte, binarySniffBytes)
	n, err := io.ReadFull(f, prefix)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		return nil, cerrors.IOError(rel, err)
	}

	return &FileInfo{
		Path:     rel,
		AbsPath:  abs,
		Size:     info.Size(),
		ModTime:  info.ModTime(),
		Language: DetectLanguage(rel),
		IsBinary: IsBinary(prefix[:n]),
	}, nil
}

// ReadFile reads at most MaxFileBytes of the file. Content beyond the cap is
// ignored and reported through truncated.
func (s *Scanner) ReadFile(fi *FileInfo) (content []byte, truncated bool, err error) {
	f, err := os.Open(fi.AbsPath)
	if err != nil {
		return nil, false, cerrors.IOError(fi.Path, err)
	}
	defer func() { _ = f.Close() }()

	data, err := io.ReadAll(io.LimitReader(f, s.opts.MaxFileBytes+1))
	if err != nil {
		return nil, false, cerrors.IOError(fi.Path, err)
	}
	if int64(len(data)) > s.opts.MaxFileBytes {
		return data[:s.opts.MaxFileBytes], true, nil
	}
	return data, false, nil
}

// Excluded reports whether a slash-separated relative path is excluded.
// It does not consult ancestors; Scan prunes excluded directories instead.
func (s *Scanner) Excluded(rel string, isDir bool) bool {
	rel = filepath.ToSlash(rel)
	base := rel
	if i := strings.LastIndexByte(rel, '/'); i >= 0 {
		base = rel[i+1:]
	}

	if isDir && defaultExcludeDirs[base] {
		return true
	}
	if !s.opts.IncludeHidden && strings.HasPrefix(base, ".") && base != "." {
		return true
	}

	for _, prefix := range s.opts.ExcludePrefixes {
		prefix = strings.TrimSuffix(filepath.ToSlash(prefix), "/")
		if prefix != "" && (rel == prefix || strings.HasPrefix(rel, prefix+"/")) {
			return true
		}
	}

	if !isDir {
		for _, g := range sensitiveGlobs {
			if ok, _ := doublestar.Match(g, rel); ok {
				return true
			}
		}
	}
	for _, g := range s.opts.ExcludeGlobs {
		if matchGlob(g, rel, isDir) {
			return true
		}
	}

	if s.opts.RespectGitignore && s.gitignored(rel, isDir) {
		return true
	}
	return false
}

// matchGlob matches a doublestar pattern. A directory also matches patterns
// of the form "dir/**" so the whole subtree can be pruned.
func matchGlob(pattern, rel string, isDir bool) bool {
	if ok, _ := doublestar.Match(pattern, rel); ok {
		return true
	}
	if isDir && strings.HasSuffix(pattern, "/**") {
		if ok, _ := doublestar.Match(strings.TrimSuffix(pattern, "/**"), rel); ok {
			return true
		}
	}
	return false
}

// gitignored checks the root .gitignore and every nested one on the way
// down to rel, each matched with a path relative to its own directory.
func (s *Scanner) gitignored(rel string, isDir bool) bool {
	dirs := strings.Split(rel, "/")
	dirs = dirs[:len(dirs)-1]

	current := s.root
	for i := 0; i <= len(dirs); i++ {
		if i > 0 {
			current = filepath.Join(current, dirs[i-1])
		}
		matcher := s.matcherFor(current)
		if matcher == nil {
			continue
		}
		sub := strings.Join(strings.Split(rel, "/")[i:], "/")
		if matcher.MatchesPath(sub) || (isDir && matcher.MatchesPath(sub+"/")) {
			return true
		}
	}
	return false
}

func (s *Scanner) matcherFor(dir string) *gitignore.GitIgnore {
	s.cacheMu.Lock()
	defer s.cacheMu.Unlock()

	if m, ok := s.ignoreCache.Get(dir); ok {
		return m
	}

	var matcher *gitignore.GitIgnore
	if m, err := gitignore.CompileIgnoreFile(filepath.Join(dir, ".gitignore")); err == nil {
		matcher = m
	}
	s.ignoreCache.Add(dir, matcher)
	return matcher
}

// InvalidateGitignoreCache drops all compiled matchers. The watcher calls it
// when a .gitignore file changes.
func (s *Scanner) InvalidateGitignoreCache() {
	s.cacheMu.Lock()
	defer s.cacheMu.Unlock()
	s.ignoreCache.Purge()
}

func (s *Scanner) rel(path string) (string, error) {
	rel, err := filepath.Rel(s.root, path)
	if err != nil {
		return "", err
	}
	return filepath.ToSlash(rel), nil
}

// IsBinary reports whether a content prefix looks binary: any NUL byte, or
// more than 30% control bytes other than common whitespace.
func IsBinary(prefix []byte) bool {
	if len(prefix) > binarySniffBytes {
		prefix = prefix[:binarySniffBytes]
	}
	if len(prefix) == 0 {
		return false
	}
	if bytes.IndexByte(prefix, 0) >= 0 {
		return true
	}

	control := 0
	for _, b := range prefix {
		if b < 0x20 && b != '\n' && b != '\r' && b != '\t' && b != '\f' && b != '\b' && b != 0x1b {
			control++
		} else if b == 0x7f {
			control++
		}
	}
	return control*100 > len(prefix)*30
}

// Fingerprint returns the sha256 hex digest of content.
func Fingerprint(content []byte) string {
	sum := sha256.Sum256(content)
	return hex.EncodeToString(sum[:])
}
