package store

import (
	"regexp"
	"strings"
	"unicode"
)

// wordRegex matches identifier-like runs, underscores included.
var wordRegex = regexp.MustCompile(`[a-zA-Z0-9_]+`)

// minTokenLen drops single-character noise.
const minTokenLen = 2

// TokenizeCode splits text into lowercase search tokens. Identifiers are
// broken at snake_case and camelCase boundaries; a compound identifier also
// keeps its whole lowercased form so "getUserById" matches exactly as well as
// by its parts.
func TokenizeCode(text string) []string {
	var tokens []string
	for _, word := range wordRegex.FindAllString(text, -1) {
		parts := SplitCodeToken(word)
		for _, p := range parts {
			if len(p) >= minTokenLen {
				tokens = append(tokens, strings.ToLower(p))
			}
		}
		if len(parts) > 1 {
			if whole := strings.ToLower(strings.Trim(word, "_")); len(whole) >= minTokenLen {
				tokens = append(tokens, whole)
			}
		}
	}
	return tokens
}

// SplitCodeToken splits snake_case first, then camelCase within each part.
func SplitCodeToken(token string) []string {
	if !strings.Contains(token, "_") {
		return SplitCamelCase(token)
	}
	var out []string
	for _, part := range strings.Split(token, "_") {
		if part != "" {
			out = append(out, SplitCamelCase(part)...)
		}
	}
	return out
}

// SplitCamelCase splits camelCase and PascalCase identifiers, keeping
// acronyms together:
//   - "getUserById" -> ["get", "User", "By", "Id"]
//   - "parseHTTPRequest" -> ["parse", "HTTP", "Request"]
func SplitCamelCase(s string) []string {
	if s == "" {
		return []string{}
	}

	var out []string
	var cur strings.Builder
	runes := []rune(s)
	for i, r := range runes {
		if i > 0 && unicode.IsUpper(r) {
			prevLower := unicode.IsLower(runes[i-1])
			nextLower := i+1 < len(runes) && unicode.IsLower(runes[i+1])
			if (prevLower || nextLower) && cur.Len() > 0 {
				out = append(out, cur.String())
				cur.Reset()
			}
		}
		cur.WriteRune(r)
	}
	if cur.Len() > 0 {
		out = append(out, cur.String())
	}
	return out
}

// tokenText is the space-joined token stream stored in an FTS column.
func tokenText(text string) string {
	return strings.Join(TokenizeCode(text), " ")
}

// matchExpression builds an FTS5 MATCH expression that ORs the distinct
// query tokens, each quoted so FTS5 operators in user input are inert.
// It returns "" when the query has no searchable tokens.
func matchExpression(query string) string {
	seen := make(map[string]bool)
	var terms []string
	for _, tok := range TokenizeCode(query) {
		if seen[tok] {
			continue
		}
		seen[tok] = true
		terms = append(terms, `"`+strings.ReplaceAll(tok, `"`, `""`)+`"`)
	}
	return strings.Join(terms, " OR ")
}
