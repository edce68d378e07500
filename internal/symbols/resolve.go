package symbols

// resolve links call and reference edges to same-file definitions using
// lexical scope:
//  1. a definition declared directly in the nearest enclosing scope,
//     walking outward to file level
//  2. else the first textual definition with that name in the file
//  3. else the edge stays unresolved
//
// Definitions in other files are matched by name at query time.
func resolve(fs *FileSymbols) {
	if len(fs.Symbols) == 0 {
		return
	}

	byName := make(map[string][]int, len(fs.Symbols))
	parent := make(map[string]string, len(fs.Symbols))
	for i, s := range fs.Symbols {
		byName[s.Name] = append(byName[s.Name], i)
		parent[s.ID] = s.ParentID
	}

	for i := range fs.Edges {
		e := &fs.Edges[i]
		if e.Kind == EdgeImports {
			continue
		}
		candidates := byName[e.TargetName]
		if len(candidates) == 0 {
			continue
		}
		e.TargetID = nearest(fs.Symbols, candidates, parent, e.SourceID)
		if e.TargetID == "" {
			e.TargetID = fs.Symbols[candidates[0]].ID
		}
	}
}

func nearest(syms []Symbol, candidates []int, parent map[string]string, scope string) string {
	seen := make(map[string]bool)
	for {
		for _, c := range candidates {
			if syms[c].ParentID == scope {
				return syms[c].ID
			}
		}
		if scope == "" || seen[scope] {
			return ""
		}
		seen[scope] = true
		scope = parent[scope]
	}
}
