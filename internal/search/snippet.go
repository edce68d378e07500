package search

import (
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/Aman-CERP/cgrep/internal/store"
)

const maxSnippetLineRunes = 200

// queryTerms returns the distinct search tokens of a query.
func queryTerms(query string) []string {
	seen := make(map[string]bool)
	var out []string
	for _, t := range store.TokenizeCode(query) {
		if !seen[t] {
			seen[t] = true
			out = append(out, t)
		}
	}
	return out
}

// lineMatcher matches any query term case-insensitively. It returns nil when
// the query has no terms.
func lineMatcher(terms []string) *regexp.Regexp {
	if len(terms) == 0 {
		return nil
	}
	quoted := make([]string, len(terms))
	for i, t := range terms {
		quoted[i] = regexp.QuoteMeta(t)
	}
	return regexp.MustCompile(`(?i)` + strings.Join(quoted, "|"))
}

// literalMatcher matches any of words exactly, case included. It returns
// nil when words is empty.
func literalMatcher(words []string) *regexp.Regexp {
	if len(words) == 0 {
		return nil
	}
	quoted := make([]string, len(words))
	for i, w := range words {
		quoted[i] = regexp.QuoteMeta(w)
	}
	return regexp.MustCompile(strings.Join(quoted, "|"))
}

// firstMatch returns the 0-based index of the first matching line, or -1.
func firstMatch(lines []string, re *regexp.Regexp) int {
	if re == nil {
		return -1
	}
	for i, l := range lines {
		if re.MatchString(l) {
			return i
		}
	}
	return -1
}

// excerpt cuts up to n lines of content around the first line matching re.
// firstLine is the line number of content's first line. matchLine is 0 when
// nothing matched, in which case the excerpt is the leading lines.
func excerpt(content string, firstLine int, re *regexp.Regexp, n int) (snippet string, matchLine int) {
	if n <= 0 {
		n = 4
	}
	lines := strings.Split(content, "\n")
	idx := firstMatch(lines, re)
	from := 0
	if idx >= 0 {
		matchLine = firstLine + idx
		from = max(0, idx-1)
	}
	to := min(len(lines), from+n)

	out := make([]string, 0, to-from)
	for _, l := range lines[from:to] {
		// Windows are raw bytes; a rune cut at either edge renders as U+FFFD.
		out = append(out, clipLine(strings.ToValidUTF8(strings.TrimRight(l, "\r"), "\uFFFD")))
	}
	for len(out) > 0 && strings.TrimSpace(out[len(out)-1]) == "" {
		out = out[:len(out)-1]
	}
	return strings.Join(out, "\n"), matchLine
}

func clipLine(l string) string {
	if utf8.RuneCountInString(l) <= maxSnippetLineRunes {
		return l
	}
	r := []rune(l)
	return string(r[:maxSnippetLineRunes]) + "…"
}
