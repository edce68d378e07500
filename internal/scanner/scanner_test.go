package scanner

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	cerrors "github.com/Aman-CERP/cgrep/internal/errors"
)

func writeTree(t *testing.T, root string, files map[string]string) {
	t.Helper()
	for rel, content := range files {
		path := filepath.Join(root, filepath.FromSlash(rel))
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	}
}

func scanPaths(t *testing.T, s *Scanner) []string {
	t.Helper()
	var paths []string
	for r := range s.Scan(context.Background()) {
		if r.File != nil && !r.File.IsBinary {
			paths = append(paths, r.File.Path)
		}
	}
	sort.Strings(paths)
	return paths
}

func TestDetectLanguage(t *testing.T) {
	tests := []struct {
		path string
		want string
	}{
		{"main.go", "go"},
		{"src/lib.rs", "rust"},
		{"pkg/app.py", "python"},
		{"web/app.js", "javascript"},
		{"web/app.ts", "typescript"},
		{"web/Component.tsx", "tsx"},
		{"Dockerfile", "dockerfile"},
		{"docs/README.md", "markdown"},
		{"LICENSE", ""},
		{"file.xyz", ""},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			assert.Equal(t, tt.want, DetectLanguage(tt.path))
		})
	}
}

func TestScanner_Scan_DefaultExclusions(t *testing.T) {
	// Given: a tree with source files and default-excluded directories
	root := t.TempDir()
	writeTree(t, root, map[string]string{
		"src/a.rs":                   "fn foo() {}",
		"main.go":                    "package main",
		"node_modules/pkg/index.js":  "module.exports = 1",
		"target/debug/build.rs":      "fn x() {}",
		".git/HEAD":                  "ref: refs/heads/main",
		".cgrep/index.db":            "sqlite",
		".env":                       "SECRET=1",
		"certs/server.pem":           "-----BEGIN-----",
	})

	s, err := New(root, DefaultOptions())
	require.NoError(t, err)

	// When: scanning
	paths := scanPaths(t, s)

	// Then: only the source files remain, with slash-separated paths
	assert.Equal(t, []string{"main.go", "src/a.rs"}, paths)
}

func TestScanner_Scan_ExcludeGlobsAndPrefixes(t *testing.T) {
	root := t.TempDir()
	writeTree(t, root, map[string]string{
		"keep/a.go":           "package keep",
		"gen/b.go":            "package gen",
		"pkg/c.pb.go":         "package pkg",
		"third_party/d/e.go":  "package d",
	})

	s, err := New(root, Options{
		ExcludeGlobs:    []string{"gen/**", "**/*.pb.go"},
		ExcludePrefixes: []string{"third_party"},
	})
	require.NoError(t, err)

	assert.Equal(t, []string{"keep/a.go"}, scanPaths(t, s))
}

func TestScanner_New_RejectsInvalidGlob(t *testing.T) {
	_, err := New(t.TempDir(), Options{ExcludeGlobs: []string{"[unclosed"}})

	require.Error(t, err)
	assert.Equal(t, cerrors.ErrCodeInvalidPattern, cerrors.GetCode(err))
}

func TestScanner_Scan_RespectsNestedGitignore(t *testing.T) {
	// Given: a root .gitignore and a nested one scoped to its directory
	root := t.TempDir()
	writeTree(t, root, map[string]string{
		".gitignore":         "*.log\nout/\n",
		"app.go":             "package app",
		"debug.log":          "noise",
		"out/result.go":      "package out",
		"sub/.gitignore":     "local.go\n",
		"sub/local.go":       "package sub",
		"sub/kept.go":        "package sub",
		"other/local.go":     "package other",
	})

	s, err := New(root, DefaultOptions())
	require.NoError(t, err)

	// When: scanning
	paths := scanPaths(t, s)

	// Then: the nested rule only applies under sub/
	assert.Equal(t, []string{"app.go", "other/local.go", "sub/kept.go"}, paths)
}

func TestScanner_Scan_GitignoreDisabled(t *testing.T) {
	root := t.TempDir()
	writeTree(t, root, map[string]string{
		".gitignore": "ignored.go\n",
		"ignored.go": "package x",
	})

	s, err := New(root, Options{})
	require.NoError(t, err)

	assert.Equal(t, []string{"ignored.go"}, scanPaths(t, s))
}

func TestScanner_Scan_FlagsBinaryFiles(t *testing.T) {
	// Given: a file with a run of NUL bytes next to a text file
	root := t.TempDir()
	writeTree(t, root, map[string]string{"text.go": "package text"})
	blob := append([]byte("ELF"), make([]byte, 64)...)
	require.NoError(t, os.WriteFile(filepath.Join(root, "blob.bin"), blob, 0o644))

	s, err := New(root, DefaultOptions())
	require.NoError(t, err)

	// When: scanning
	var binary, text []string
	for r := range s.Scan(context.Background()) {
		require.NoError(t, r.Error)
		if r.File.IsBinary {
			binary = append(binary, r.File.Path)
		} else {
			text = append(text, r.File.Path)
		}
	}

	// Then: the walker completes and classifies both
	assert.Equal(t, []string{"blob.bin"}, binary)
	assert.Equal(t, []string{"text.go"}, text)
}

func TestScanner_Scan_UnreadableFileDoesNotAbortWalk(t *testing.T) {
	if os.Geteuid() == 0 {
		t.Skip("permissions are not enforced for root")
	}

	root := t.TempDir()
	writeTree(t, root, map[string]string{"a.go": "package a", "b.go": "package b"})
	locked := filepath.Join(root, "b.go")
	require.NoError(t, os.Chmod(locked, 0o000))
	t.Cleanup(func() { _ = os.Chmod(locked, 0o644) })

	s, err := New(root, DefaultOptions())
	require.NoError(t, err)

	var files []string
	var errs []error
	for r := range s.Scan(context.Background()) {
		if r.Error != nil {
			errs = append(errs, r.Error)
			continue
		}
		files = append(files, r.File.Path)
	}

	assert.Equal(t, []string{"a.go"}, files)
	require.Len(t, errs, 1)
	assert.True(t, errors.Is(errs[0], cerrors.ErrIO))
}

func TestScanner_Scan_IsRestartable(t *testing.T) {
	root := t.TempDir()
	writeTree(t, root, map[string]string{"a.go": "package a"})

	s, err := New(root, DefaultOptions())
	require.NoError(t, err)

	first := scanPaths(t, s)
	writeTree(t, root, map[string]string{"b.go": "package b"})
	second := scanPaths(t, s)

	assert.Equal(t, []string{"a.go"}, first)
	assert.Equal(t, []string{"a.go", "b.go"}, second)
}

func TestScanner_Scan_StopsOnCancel(t *testing.T) {
	root := t.TempDir()
	files := make(map[string]string)
	for i := 0; i < 200; i++ {
		files[filepath.Join("d", strings.Repeat("x", i%7+1)+string(rune('a'+i%26))+".go")] = "package d"
	}
	writeTree(t, root, files)

	s, err := New(root, DefaultOptions())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	ch := s.Scan(ctx)
	<-ch
	cancel()

	done := make(chan struct{})
	go func() {
		for range ch {
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("scan did not stop after cancellation")
	}
}

func TestScanner_ReadFile_CapsLargeFiles(t *testing.T) {
	// Given: a file larger than the cap
	root := t.TempDir()
	writeTree(t, root, map[string]string{"big.txt": strings.Repeat("a", 2048)})

	s, err := New(root, Options{MaxFileBytes: 1024})
	require.NoError(t, err)
	fi, err := s.Describe("big.txt")
	require.NoError(t, err)
	require.NotNil(t, fi)

	// When: reading
	content, truncated, err := s.ReadFile(fi)

	// Then: excess bytes are ignored without error
	require.NoError(t, err)
	assert.True(t, truncated)
	assert.Len(t, content, 1024)
	assert.EqualValues(t, 2048, fi.Size)
}

func TestScanner_Describe(t *testing.T) {
	root := t.TempDir()
	writeTree(t, root, map[string]string{
		"src/a.rs":          "fn foo() {}",
		"vendor/lib/b.rs":   "fn bar() {}",
	})

	s, err := New(root, DefaultOptions())
	require.NoError(t, err)

	t.Run("present file", func(t *testing.T) {
		fi, err := s.Describe("src/a.rs")
		require.NoError(t, err)
		require.NotNil(t, fi)
		assert.Equal(t, "rust", fi.Language)
	})

	t.Run("excluded ancestor", func(t *testing.T) {
		fi, err := s.Describe("vendor/lib/b.rs")
		require.NoError(t, err)
		assert.Nil(t, fi)
	})

	t.Run("missing file", func(t *testing.T) {
		_, err := s.Describe("src/gone.rs")
		require.Error(t, err)
		assert.True(t, errors.Is(err, fs.ErrNotExist))
	})
}

func TestIsBinary(t *testing.T) {
	tests := []struct {
		name  string
		input []byte
		want  bool
	}{
		{"empty", nil, false},
		{"plain text", []byte("fn main() {\n\tprintln!(\"hi\");\n}\n"), false},
		{"nul byte", []byte("abc\x00def"), true},
		{"mostly control bytes", []byte("\x01\x02\x03\x04a"), true},
		{"utf8 text", []byte("héllo wörld"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsBinary(tt.input))
		})
	}
}

func TestFingerprint_ChangesWithAnyByte(t *testing.T) {
	a := []byte("fn foo() {}")
	b := []byte("fn fo0() {}")

	assert.Equal(t, Fingerprint(a), Fingerprint([]byte("fn foo() {}")))
	assert.NotEqual(t, Fingerprint(a), Fingerprint(b))
	assert.Len(t, Fingerprint(a), 64)
}
