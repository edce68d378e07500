package search

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"sort"
	"strings"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/analysis"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/custom"
	"github.com/blevesearch/bleve/v2/mapping"
	"github.com/blevesearch/bleve/v2/registry"

	cerrors "github.com/Aman-CERP/cgrep/internal/errors"
	"github.com/Aman-CERP/cgrep/internal/store"
)

const (
	// codeTokenizerName is the bleve registry name of the code tokenizer.
	codeTokenizerName = "cgrep_code"
	codeAnalyzerName  = "cgrep_code"

	// maxScanCandidates bounds the in-memory index built per fallback query.
	maxScanCandidates = 20000
)

func init() {
	_ = registry.RegisterTokenizer(codeTokenizerName, newCodeTokenizer)
}

func newCodeTokenizer(_ map[string]interface{}, _ *registry.Cache) (analysis.Tokenizer, error) {
	return &codeTokenizer{}, nil
}

// codeTokenizer applies the index tokenizer inside bleve so fallback scores
// see the same terms as FTS5 does.
type codeTokenizer struct{}

func (t *codeTokenizer) Tokenize(input []byte) analysis.TokenStream {
	tokens := store.TokenizeCode(string(input))
	stream := make(analysis.TokenStream, 0, len(tokens))
	for i, tok := range tokens {
		stream = append(stream, &analysis.Token{
			Term:     []byte(tok),
			Position: i + 1,
			Type:     analysis.AlphaNumeric,
		})
	}
	return stream
}

// scanDocument is the bleve document for one window.
type scanDocument struct {
	Content string `json:"content"`
}

type scanCandidate struct {
	doc       store.Document
	language  string
	matchLine int
}

func newScanMapping() (*mapping.IndexMappingImpl, error) {
	m := bleve.NewIndexMapping()
	if err := m.AddCustomAnalyzer(codeAnalyzerName, map[string]interface{}{
		"type":      custom.Name,
		"tokenizer": codeTokenizerName,
	}); err != nil {
		return nil, fmt.Errorf("failed to add code analyzer: %w", err)
	}
	m.DefaultAnalyzer = codeAnalyzerName
	m.ScoringModel = "bm25"
	return m, nil
}

// scanMatcher decides which lines a scan keeps.
type scanMatcher struct {
	re *regexp.Regexp
	// regex ranks by matching-line count instead of BM25.
	regex bool
}

// newScanMatcher compiles the line matcher of a scan. A regex query is
// used as written; a plain query matches any of its terms. Both ignore
// case unless caseSensitive.
func newScanMatcher(query string, regex, caseSensitive bool) (*scanMatcher, error) {
	if regex {
		pattern := query
		if !caseSensitive {
			pattern = "(?i)" + pattern
		}
		re, err := regexp.Compile(pattern)
		if err != nil {
			return nil, cerrors.New(cerrors.ErrCodeInvalidPattern, fmt.Sprintf("invalid regular expression %q", query), err).
				WithDetail("pattern", query)
		}
		return &scanMatcher{re: re, regex: true}, nil
	}
	if caseSensitive {
		return &scanMatcher{re: literalMatcher(strings.Fields(query))}, nil
	}
	return &scanMatcher{re: lineMatcher(queryTerms(query))}, nil
}

// scanSearch is the keyword path without the index: walk the tree, keep
// windows with a line the matcher accepts, rank those with an in-memory
// BM25 index, or by matching-line count for regular expressions.
func (e *Engine) scanSearch(ctx context.Context, query string, m *scanMatcher, pf *pathFilter, limit int) ([]Result, error) {
	re := m.re
	if re == nil {
		return nil, nil
	}

	counts := make(map[string]int)
	cands, err := e.scanCandidates(ctx, pf, func(doc store.Document) (int, bool) {
		lines := strings.Split(doc.Content, "\n")
		idx := firstMatch(lines, re)
		if idx < 0 {
			return 0, false
		}
		if m.regex {
			n := 0
			for _, l := range lines[idx:] {
				if re.MatchString(l) {
					n++
				}
			}
			counts[doc.ID] = n
		}
		return doc.StartLine + idx, true
	})
	if err != nil {
		return nil, err
	}
	if len(cands) == 0 {
		return nil, nil
	}
	if m.regex {
		results := make([]Result, 0, len(cands))
		for _, c := range cands {
			results = append(results, e.scanResult(c, re, float64(counts[c.doc.ID])))
		}
		sortResults(results)
		if len(results) > limit {
			results = results[:limit]
		}
		return results, nil
	}

	im, err := newScanMapping()
	if err != nil {
		return nil, err
	}
	idx, err := bleve.NewMemOnly(im)
	if err != nil {
		return nil, fmt.Errorf("failed to create scan index: %w", err)
	}
	defer func() { _ = idx.Close() }()

	byID := make(map[string]scanCandidate, len(cands))
	batch := idx.NewBatch()
	for _, c := range cands {
		byID[c.doc.ID] = c
		if err := batch.Index(c.doc.ID, scanDocument{Content: c.doc.Path + "\n" + c.doc.IndexText()}); err != nil {
			return nil, fmt.Errorf("failed to index %s: %w", c.doc.Path, err)
		}
	}
	if err := idx.Batch(batch); err != nil {
		return nil, fmt.Errorf("failed to build scan index: %w", err)
	}

	q := bleve.NewMatchQuery(query)
	q.SetField("content")
	req := bleve.NewSearchRequest(q)
	// Rank everything so ties at the cutoff resolve deterministically below.
	req.Size = len(cands)
	res, err := idx.SearchInContext(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("scan search failed: %w", err)
	}

	results := make([]Result, 0, len(res.Hits))
	for _, hit := range res.Hits {
		c, ok := byID[hit.ID]
		if !ok {
			continue
		}
		results = append(results, e.scanResult(c, re, hit.Score))
	}
	sortResults(results)
	if len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}

func (e *Engine) scanResult(c scanCandidate, re *regexp.Regexp, score float64) Result {
	snippet, _ := excerpt(c.doc.Content, c.doc.StartLine, re, e.cfg.SnippetLines)
	return Result{
		ID:        ResultID(c.doc.Path, "", c.doc.StartLine, c.doc.EndLine, ModeKeyword),
		Path:      c.doc.Path,
		Snippet:   snippet,
		StartLine: c.doc.StartLine,
		EndLine:   c.doc.EndLine,
		MatchLine: c.matchLine,
		Score:     score,
		TextScore: score,
		Language:  c.language,
	}
}

// scanCandidates walks the tree and returns the documents accepted by keep.
func (e *Engine) scanCandidates(ctx context.Context, pf *pathFilter, keep func(store.Document) (int, bool)) ([]scanCandidate, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var cands []scanCandidate
	for res := range e.scanner.Scan(ctx) {
		if res.Error != nil {
			slog.Debug("scan_entry_skipped", slog.String("error", res.Error.Error()))
			continue
		}
		fi := res.File
		if fi.IsBinary || !pf.Match(fi.Path, fi.Language) {
			continue
		}
		content, _, err := e.scanner.ReadFile(fi)
		if err != nil {
			slog.Debug("scan_read_failed", slog.String("path", fi.Path), slog.String("error", err.Error()))
			continue
		}
		for _, doc := range store.SplitDocuments(fi.Path, content, e.cfg.ChunkBytes) {
			line, ok := keep(doc)
			if !ok {
				continue
			}
			cands = append(cands, scanCandidate{doc: doc, language: fi.Language, matchLine: line})
			if len(cands) >= maxScanCandidates {
				slog.Warn("scan_candidates_truncated", slog.Int("limit", maxScanCandidates))
				return cands, nil
			}
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return cands, nil
}

// sortResults orders by score, then path, then start line.
func sortResults(results []Result) {
	sort.SliceStable(results, func(i, j int) bool {
		a, b := results[i], results[j]
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		if a.Path != b.Path {
			return a.Path < b.Path
		}
		return a.StartLine < b.StartLine
	})
}
