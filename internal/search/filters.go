package search

import (
	"context"
	"fmt"
	"path"
	"strings"

	"github.com/bmatcuk/doublestar/v4"

	cerrors "github.com/Aman-CERP/cgrep/internal/errors"
	"github.com/Aman-CERP/cgrep/internal/store"
)

// pathFilter is the compiled form of Filters.
type pathFilter struct {
	language string
	scope    []string
	globs    []string
	excludes []string
	files    map[string]bool
}

func compileFilters(f Filters) (*pathFilter, error) {
	pf := &pathFilter{language: strings.ToLower(strings.TrimSpace(f.Language))}
	for _, s := range f.PathScope {
		if s = normalizeScope(s); s == "" {
			continue
		}
		if s == "." {
			pf.scope = nil
			break
		}
		pf.scope = append(pf.scope, s)
	}
	var err error
	if pf.globs, err = validPatterns(f.Globs); err != nil {
		return nil, err
	}
	if pf.excludes, err = validPatterns(f.Excludes); err != nil {
		return nil, err
	}
	if f.Files != nil {
		pf.files = make(map[string]bool, len(f.Files))
		for _, p := range f.Files {
			if p = normalizeScope(p); p != "" {
				pf.files[p] = true
			}
		}
	}
	return pf, nil
}

func validPatterns(in []string) ([]string, error) {
	var out []string
	for _, p := range in {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		if !doublestar.ValidatePattern(p) {
			return nil, cerrors.New(cerrors.ErrCodeInvalidPattern, fmt.Sprintf("invalid glob pattern %q", p), nil).
				WithDetail("pattern", p)
		}
		out = append(out, p)
	}
	return out, nil
}

func normalizeScope(s string) string {
	s = strings.TrimSpace(strings.ReplaceAll(s, "\\", "/"))
	if s == "" {
		return ""
	}
	return strings.TrimPrefix(path.Clean(s), "./")
}

// Active reports whether any restriction is set.
func (p *pathFilter) Active() bool {
	return p.language != "" || len(p.scope) > 0 || len(p.globs) > 0 || len(p.excludes) > 0 || p.files != nil
}

// Match reports whether a file passes every restriction. Globs are OR-ed;
// any matching exclude rejects.
func (p *pathFilter) Match(rel, language string) bool {
	if p.language != "" && !strings.EqualFold(p.language, language) {
		return false
	}
	if p.files != nil && !p.files[rel] {
		return false
	}
	if len(p.scope) > 0 {
		in := false
		for _, s := range p.scope {
			if rel == s || strings.HasPrefix(rel, s+"/") {
				in = true
				break
			}
		}
		if !in {
			return false
		}
	}
	if len(p.globs) > 0 {
		in := false
		for _, g := range p.globs {
			if ok, _ := doublestar.Match(g, rel); ok {
				in = true
				break
			}
		}
		if !in {
			return false
		}
	}
	for _, x := range p.excludes {
		if ok, _ := doublestar.Match(x, rel); ok {
			return false
		}
	}
	return true
}

// allowedPaths resolves the filter against the indexed files. It returns nil
// when no filter is active, meaning every path; otherwise a non-nil slice,
// possibly empty.
func allowedPaths(ctx context.Context, snap *store.Snapshot, pf *pathFilter) ([]string, error) {
	if !pf.Active() {
		return nil, nil
	}
	files, err := snap.Files(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list indexed files: %w", err)
	}
	allowed := make([]string, 0, len(files))
	for _, f := range files {
		if pf.Match(f.Path, f.Language) {
			allowed = append(allowed, f.Path)
		}
	}
	return allowed, nil
}

// allowFunc turns an allowed path list into a predicate; nil means all.
func allowFunc(allowed []string) func(string) bool {
	if allowed == nil {
		return nil
	}
	set := make(map[string]struct{}, len(allowed))
	for _, p := range allowed {
		set[p] = struct{}{}
	}
	return func(p string) bool {
		_, ok := set[p]
		return ok
	}
}
