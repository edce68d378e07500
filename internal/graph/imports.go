package graph

import (
	"path"
	"strings"
)

// moduleKeys returns the module paths a file can be imported as: its path
// without extension, plus its directory for package-level files and for Go,
// where imports name directories.
func moduleKeys(target string) []string {
	ext := path.Ext(target)
	stem := strings.TrimSuffix(target, ext)
	dir := path.Dir(target)
	if dir == "." {
		dir = ""
	}

	keys := []string{stem}
	switch path.Base(stem) {
	case "index", "__init__", "mod", "lib":
		if dir != "" {
			keys = append(keys, dir)
		}
	}
	if ext == ".go" && dir != "" {
		keys = append(keys, dir)
	}
	return keys
}

// importCandidate is a module path an import specifier may refer to.
// Relative candidates are already joined with the importer's directory and
// must match exactly; others match on a trailing path suffix.
type importCandidate struct {
	path     string
	relative bool
}

// importResolves reports whether an import specifier written in importer
// refers to a file with the given module keys.
func importResolves(importer, language, spec string, keys []string) bool {
	for _, c := range importCandidates(importer, language, spec) {
		if c.path == "" {
			continue
		}
		for _, k := range keys {
			if c.path == k {
				return true
			}
			if !c.relative && (strings.HasSuffix(k, "/"+c.path) || strings.HasSuffix(c.path, "/"+k)) {
				return true
			}
		}
	}
	return false
}

func importCandidates(importer, language, spec string) []importCandidate {
	spec = strings.TrimSpace(spec)
	dir := path.Dir(importer)

	switch language {
	case "go":
		return []importCandidate{{path: spec}}

	case "rust":
		if i := strings.Index(spec, "::{"); i >= 0 {
			spec = spec[:i]
		}
		spec = strings.TrimSuffix(spec, "::*")
		if i := strings.Index(spec, " as "); i >= 0 {
			spec = spec[:i]
		}
		var segs []string
		for _, s := range strings.Split(spec, "::") {
			switch s = strings.TrimSpace(s); s {
			case "", "crate", "self", "super":
			default:
				segs = append(segs, s)
			}
		}
		if len(segs) == 0 {
			return nil
		}
		out := []importCandidate{{path: path.Join(dir, segs[0]), relative: true}}
		return append(out, prefixes(segs)...)

	case "python":
		if strings.HasPrefix(spec, ".") {
			rest := strings.TrimLeft(spec, ".")
			base := dir
			for range len(spec) - len(rest) - 1 {
				base = path.Dir(base)
			}
			return []importCandidate{{path: path.Join(base, strings.ReplaceAll(rest, ".", "/")), relative: true}}
		}
		return prefixes(strings.Split(spec, "."))

	case "javascript", "typescript", "tsx":
		if strings.HasPrefix(spec, ".") {
			return []importCandidate{{path: stripExt(path.Join(dir, spec)), relative: true}}
		}
		for _, alias := range []string{"@/", "~/"} {
			spec = strings.TrimPrefix(spec, alias)
		}
		return []importCandidate{{path: stripExt(spec)}}
	}

	spec = strings.NewReplacer("::", "/", ".", "/").Replace(spec)
	return []importCandidate{{path: spec}}
}

// prefixes returns the segment prefixes joined as paths, longest first.
func prefixes(segs []string) []importCandidate {
	out := make([]importCandidate, 0, len(segs))
	for i := len(segs); i > 0; i-- {
		out = append(out, importCandidate{path: strings.Join(segs[:i], "/")})
	}
	return out
}

func stripExt(p string) string {
	switch path.Ext(p) {
	case ".js", ".jsx", ".mjs", ".cjs", ".ts", ".tsx":
		return strings.TrimSuffix(p, path.Ext(p))
	}
	return p
}
