package store

import (
	"context"
	"fmt"
	"sort"
	"strings"

	blevesearch "github.com/blevesearch/bleve/v2/search"
)

// maxFuzzyVariants caps how many indexed terms one query token expands to.
const maxFuzzyVariants = 32

// FuzzyDistance is the edit distance a token of this length tolerates:
// 1 for short tokens, 2 otherwise.
func FuzzyDistance(token string) int {
	if len(token) <= 4 {
		return 1
	}
	return 2
}

type fuzzyTerm struct {
	term string
	dist int
}

// fuzzyExpression ORs every query token with the indexed terms close to
// it. Exact tokens are always kept, so a fuzzy query never matches less
// than the plain one.
func (r *reads) fuzzyExpression(ctx context.Context, query string) (string, error) {
	seen := make(map[string]bool)
	var terms []string
	add := func(t string) {
		if !seen[t] {
			seen[t] = true
			terms = append(terms, `"`+strings.ReplaceAll(t, `"`, `""`)+`"`)
		}
	}

	for _, tok := range TokenizeCode(query) {
		add(tok)
		variants, err := r.fuzzyVariants(ctx, tok)
		if err != nil {
			return "", err
		}
		for _, v := range variants {
			add(v)
		}
	}
	return strings.Join(terms, " OR "), nil
}

// fuzzyVariants lists indexed terms within FuzzyDistance of tok, nearest
// first.
func (r *reads) fuzzyVariants(ctx context.Context, tok string) ([]string, error) {
	maxDist := FuzzyDistance(tok)
	rows, err := r.q.QueryContext(ctx,
		`SELECT term FROM documents_vocab WHERE length(term) BETWEEN ? AND ?`,
		len(tok)-maxDist, len(tok)+maxDist)
	if err != nil {
		return nil, fmt.Errorf("vocabulary query failed: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var found []fuzzyTerm
	for rows.Next() {
		var term string
		if err := rows.Scan(&term); err != nil {
			return nil, fmt.Errorf("failed to scan term: %w", err)
		}
		if term == tok {
			continue
		}
		if d, exceeded := blevesearch.LevenshteinDistanceMax(tok, term, maxDist); !exceeded {
			found = append(found, fuzzyTerm{term: term, dist: d})
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	sort.Slice(found, func(i, j int) bool {
		if found[i].dist != found[j].dist {
			return found[i].dist < found[j].dist
		}
		return found[i].term < found[j].term
	})
	if len(found) > maxFuzzyVariants {
		found = found[:maxFuzzyVariants]
	}
	out := make([]string, len(found))
	for i, f := range found {
		out[i] = f.term
	}
	return out, nil
}
