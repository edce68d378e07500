package search

import "unicode/utf8"

// applyBudget clips snippets to b.MaxSnippetChars and then fits the
// response into b.MaxTotalChars of snippet text: the snippet crossing the
// limit is clipped and every later result dropped. Counts are in runes.
func applyBudget(resp *Response, b Budget) {
	if b.MaxSnippetChars > 0 {
		for i := range resp.Results {
			if clipped, cut := clipRunes(resp.Results[i].Snippet, b.MaxSnippetChars); cut {
				resp.Results[i].Snippet = clipped
				resp.Truncated = true
			}
		}
	}
	if b.MaxTotalChars <= 0 {
		return
	}
	resp.MaxTotalChars = b.MaxTotalChars

	remaining := b.MaxTotalChars
	for i := range resp.Results {
		if remaining <= 0 {
			resp.Results = resp.Results[:i]
			resp.Truncated = true
			return
		}
		clipped, cut := clipRunes(resp.Results[i].Snippet, remaining)
		if cut {
			resp.Results[i].Snippet = clipped
			resp.Truncated = true
		}
		remaining -= utf8.RuneCountInString(clipped)
	}
}

// clipRunes shortens s to at most n runes, the last being an ellipsis.
func clipRunes(s string, n int) (string, bool) {
	if utf8.RuneCountInString(s) <= n {
		return s, false
	}
	r := []rune(s)
	if n <= 1 {
		return string(r[:n]), true
	}
	return string(r[:n-1]) + "…", true
}
