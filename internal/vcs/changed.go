// Package vcs reads version-control state through the git command line.
package vcs

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"path"
	"path/filepath"
	"sort"
	"strings"

	cerrors "github.com/Aman-CERP/cgrep/internal/errors"
)

// DefaultRevision is what a bare --changed compares against.
const DefaultRevision = "HEAD"

// ChangedFiles returns the files that differ between rev and the working
// tree, as slash-separated paths relative to root. Files outside root are
// dropped. The result is never nil: an empty set means nothing changed.
func ChangedFiles(ctx context.Context, root, rev string) ([]string, error) {
	rev = strings.TrimSpace(rev)
	if rev == "" {
		rev = DefaultRevision
	}
	if strings.HasPrefix(rev, "-") {
		return nil, cerrors.ValidationError(fmt.Sprintf("invalid revision %q", rev), nil)
	}

	top, err := repoRoot(ctx, root)
	if err != nil {
		return nil, err
	}
	prefix, err := scopePrefix(top, root)
	if err != nil {
		return nil, err
	}

	cmd := exec.CommandContext(ctx, "git", "diff", "--name-only", rev, "--")
	cmd.Dir = top
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	output, err := cmd.Output()
	if err != nil {
		return nil, cerrors.New(cerrors.ErrCodeGitRequired,
			fmt.Sprintf("git diff against %s failed: %s", rev, strings.TrimSpace(stderr.String())), err).
			WithDetail("revision", rev)
	}

	files := []string{}
	sc := bufio.NewScanner(bytes.NewReader(output))
	for sc.Scan() {
		p := path.Clean(strings.TrimSpace(sc.Text()))
		if p == "" || p == "." {
			continue
		}
		if prefix != "" {
			if !strings.HasPrefix(p, prefix+"/") {
				continue
			}
			p = strings.TrimPrefix(p, prefix+"/")
		}
		files = append(files, p)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("failed to read git diff output: %w", err)
	}
	sort.Strings(files)
	return files, nil
}

// repoRoot returns the top level of the work tree containing dir.
func repoRoot(ctx context.Context, dir string) (string, error) {
	cmd := exec.CommandContext(ctx, "git", "rev-parse", "--show-toplevel")
	cmd.Dir = dir
	output, err := cmd.Output()
	if err != nil {
		return "", cerrors.New(cerrors.ErrCodeGitRequired, "--changed requires a git repository", err).
			WithDetail("path", dir).
			WithSuggestion("Run inside a git work tree or drop --changed")
	}
	return strings.TrimSpace(string(output)), nil
}

// scopePrefix is root relative to the repository top level, "" when they
// are the same directory.
func scopePrefix(top, root string) (string, error) {
	resolvedTop, err := filepath.EvalSymlinks(top)
	if err != nil {
		return "", cerrors.IOError(top, err)
	}
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return "", cerrors.IOError(root, err)
	}
	resolvedRoot, err := filepath.EvalSymlinks(absRoot)
	if err != nil {
		return "", cerrors.IOError(root, err)
	}
	rel, err := filepath.Rel(resolvedTop, resolvedRoot)
	if err != nil || strings.HasPrefix(rel, "..") {
		return "", cerrors.ValidationError(fmt.Sprintf("%s is outside the repository at %s", root, top), err)
	}
	rel = filepath.ToSlash(rel)
	if rel == "." {
		return "", nil
	}
	return rel, nil
}
