package search

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"path/filepath"
	"regexp"
	"slices"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/Aman-CERP/cgrep/internal/cache"
	"github.com/Aman-CERP/cgrep/internal/config"
	"github.com/Aman-CERP/cgrep/internal/embed"
	cerrors "github.com/Aman-CERP/cgrep/internal/errors"
	"github.com/Aman-CERP/cgrep/internal/scanner"
	"github.com/Aman-CERP/cgrep/internal/store"
)

// ErrNilDependency is returned when a required dependency is nil.
var ErrNilDependency = errors.New("required dependency is nil")

// Dependencies are the collaborators of an Engine. Store, Provider and Cache
// are optional: without a store keyword queries scan the filesystem, without
// a provider vector modes degrade, without a cache nothing is memoized.
type Dependencies struct {
	Store    *store.Store
	Provider embed.Provider
	Scanner  *scanner.Scanner
	Cache    *cache.SessionCache[*Response]
}

// Engine answers search and expand requests. It is safe for concurrent use.
type Engine struct {
	store    *store.Store
	provider embed.Provider
	scanner  *scanner.Scanner
	cache    *cache.SessionCache[*Response]
	cfg      Config
}

// NewEngine validates dependencies and fills unset config values.
func NewEngine(deps Dependencies, cfg Config) (*Engine, error) {
	if deps.Scanner == nil {
		return nil, fmt.Errorf("%w: scanner", ErrNilDependency)
	}
	def := DefaultConfig()
	if cfg.DefaultMode == "" {
		cfg.DefaultMode = def.DefaultMode
	}
	if cfg.Weights.Text < 0 || cfg.Weights.Vector < 0 || cfg.Weights.Text+cfg.Weights.Vector == 0 {
		cfg.Weights = def.Weights
	}
	if cfg.CandidateK <= 0 {
		cfg.CandidateK = def.CandidateK
	}
	if cfg.DefaultLimit <= 0 {
		cfg.DefaultLimit = def.DefaultLimit
	}
	if cfg.MaxLimit <= 0 {
		cfg.MaxLimit = def.MaxLimit
	}
	if cfg.ChunkBytes <= 0 {
		cfg.ChunkBytes = def.ChunkBytes
	}
	if cfg.SnippetLines <= 0 {
		cfg.SnippetLines = def.SnippetLines
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = def.CacheTTL
	}
	return &Engine{
		store:    deps.Store,
		provider: deps.Provider,
		scanner:  deps.Scanner,
		cache:    deps.Cache,
		cfg:      cfg,
	}, nil
}

// NewCache builds the session cache for search responses, or nil when the
// cache is disabled.
func NewCache(cfg *config.Config, stateDir string) *cache.SessionCache[*Response] {
	if cfg.Cache.Disabled {
		return nil
	}
	opts := cache.Options{Size: cfg.Cache.Size, TTL: cfg.Cache.TTL}
	if cfg.Cache.Persist && stateDir != "" {
		opts.Dir = filepath.Join(stateDir, "cache", "search")
	}
	return cache.New[*Response](opts)
}

// Config returns the effective configuration.
func (e *Engine) Config() Config { return e.cfg }

// Search runs one query.
func (e *Engine) Search(ctx context.Context, req Request) (*Response, error) {
	start := time.Now()
	query := strings.TrimSpace(req.Query)
	if query == "" {
		return nil, cerrors.New(cerrors.ErrCodeQueryEmpty, "query is empty", nil)
	}
	mode := req.Mode
	if mode == "" {
		mode = e.cfg.DefaultMode
	}
	if _, err := ParseMode(string(mode)); err != nil {
		return nil, err
	}
	limit := req.Limit
	if limit <= 0 {
		limit = e.cfg.DefaultLimit
	}
	limit = min(limit, e.cfg.MaxLimit)
	pf, err := compileFilters(req.Filters)
	if err != nil {
		return nil, err
	}

	var resp *Response
	if e.store == nil || req.NoIndex || req.Regex {
		resp, err = e.searchWithoutIndex(ctx, query, mode, req, pf, limit)
	} else {
		resp, err = e.searchIndexed(ctx, query, mode, req, pf, limit)
	}
	if err != nil {
		return nil, err
	}
	applyBudget(resp, req.Budget)

	resp.DurationMS = time.Since(start).Milliseconds()
	slog.Debug("search_complete",
		slog.String("mode", string(resp.Mode)),
		slog.Int("results", len(resp.Results)),
		slog.Bool("degraded", resp.Degraded),
		slog.Bool("cache_hit", resp.CacheHit),
		slog.String("fallback", resp.Fallback),
		slog.Bool("truncated", resp.Truncated),
		slog.Int64("duration_ms", resp.DurationMS))
	return resp, nil
}

func (e *Engine) searchWithoutIndex(ctx context.Context, query string, mode Mode, req Request, pf *pathFilter, limit int) (*Response, error) {
	if mode == ModeSemantic {
		if e.store == nil {
			return nil, cerrors.IndexRequiredError(string(mode))
		}
		return nil, cerrors.New(cerrors.ErrCodeInvalidMode, "semantic search cannot run as a filesystem scan", nil).
			WithSuggestion("Drop --regex and --no-index, or use --mode keyword")
	}
	m, err := newScanMatcher(query, req.Regex, req.CaseSensitive)
	if err != nil {
		return nil, err
	}
	results, err := e.scanSearch(ctx, query, m, pf, limit)
	if err != nil {
		return nil, err
	}
	resp := &Response{Query: query, Mode: ModeKeyword, Results: nonNil(results), Fallback: FallbackScan}
	if mode == ModeHybrid {
		resp.Degraded = true
		resp.DegradedReason = "no index: vector search unavailable"
		if e.store != nil {
			resp.DegradedReason = "scan mode: vector search unavailable"
		}
	}
	if req.Fuzzy {
		slog.Warn("fuzzy_ignored", slog.String("reason", "scan mode"))
		resp.Warnings = append(resp.Warnings, "fuzzy matching is only supported with index search; ignored")
	}
	return resp, nil
}

func (e *Engine) searchIndexed(ctx context.Context, query string, mode Mode, req Request, pf *pathFilter, limit int) (*Response, error) {
	// Every read of one computation goes through a single snapshot, so the
	// response describes exactly one generation.
	run := func(ctx context.Context) (*Response, error) {
		snap, err := e.store.Snapshot(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to open index snapshot: %w", err)
		}
		defer func() { _ = snap.Close() }()

		resp, err := e.run(ctx, snap, query, mode, pf, limit, req.Fuzzy)
		if err != nil {
			return nil, err
		}
		resp.Generation = snap.Gen()
		return resp, nil
	}
	if e.cache == nil || req.NoCache {
		return run(ctx)
	}

	gen, err := e.store.Generation(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read index generation: %w", err)
	}
	e.cache.SetGeneration(gen)
	cached, hit, err := e.cache.GetOrCompute(ctx, e.cacheKey(query, mode, req.Filters, limit, req.Fuzzy), e.cfg.CacheTTL, run)
	if err != nil {
		return nil, err
	}
	// Cached values are shared; hand out a copy.
	out := *cached
	out.Results = slices.Clone(cached.Results)
	out.Warnings = slices.Clone(cached.Warnings)
	out.CacheHit = hit
	return &out, nil
}

// cacheKey identifies everything that shapes an indexed response.
func (e *Engine) cacheKey(query string, mode Mode, f Filters, limit int, fuzzy bool) string {
	p := cache.KeyParams{
		Kind:     "search",
		Query:    query,
		Mode:     string(mode),
		Language: f.Language,
		Scope:    f.PathScope,
		Globs:    f.Globs,
		Excludes: f.Excludes,
		Files:    f.Files,
		Limit:    limit,
		Fuzzy:    fuzzy,
	}
	if mode != ModeKeyword {
		if e.provider != nil {
			p.Provider, p.Model = e.provider.ID(), e.provider.Model()
		}
		p.WeightText, p.WeightVector = e.cfg.Weights.Text, e.cfg.Weights.Vector
	}
	return cache.Key(p)
}

func (e *Engine) run(ctx context.Context, snap *store.Snapshot, query string, mode Mode, pf *pathFilter, limit int, fuzzy bool) (*Response, error) {
	allowed, err := allowedPaths(ctx, snap, pf)
	if err != nil {
		return nil, err
	}
	tq := textQuery{query: query, allowed: allowed, fuzzy: fuzzy}
	switch mode {
	case ModeSemantic:
		return e.semantic(ctx, snap, tq, limit)
	case ModeHybrid:
		return e.hybrid(ctx, snap, tq, limit)
	default:
		results, err := e.keyword(ctx, snap, tq, limit)
		if err != nil {
			return nil, err
		}
		return &Response{Query: query, Mode: ModeKeyword, Results: results}, nil
	}
}

// textQuery is what every indexed mode shares.
type textQuery struct {
	query   string
	allowed []string
	fuzzy   bool
}

func (tq textQuery) store(limit int) store.TextQuery {
	return store.TextQuery{Limit: limit, Paths: tq.allowed, Fuzzy: tq.fuzzy}
}

// keyword ranks documents by BM25 over the allowed paths.
func (e *Engine) keyword(ctx context.Context, snap *store.Snapshot, tq textQuery, limit int) ([]Result, error) {
	hits, err := snap.SearchText(ctx, tq.query, tq.store(limit))
	if err != nil {
		return nil, err
	}
	re := lineMatcher(queryTerms(tq.query))
	results := make([]Result, 0, len(hits))
	for _, h := range hits {
		r := Result{
			ID:        ResultID(h.Path, "", h.StartLine, h.EndLine, ModeKeyword),
			Path:      h.Path,
			StartLine: h.StartLine,
			EndLine:   h.EndLine,
			Score:     h.Score,
			TextScore: h.Score,
			Language:  scanner.DetectLanguage(h.Path),
		}
		if err := e.fillSnippet(ctx, snap, &r, h.DocID, re); err != nil {
			return nil, err
		}
		results = append(results, r)
	}
	return results, nil
}

func (e *Engine) fillSnippet(ctx context.Context, snap *store.Snapshot, r *Result, docID string, re *regexp.Regexp) error {
	doc, err := snap.Document(ctx, docID)
	if err != nil {
		return err
	}
	if doc == nil {
		return nil
	}
	r.Snippet, r.MatchLine = excerpt(doc.Content, doc.StartLine, re, e.cfg.SnippetLines)
	return nil
}

// degrade answers with BM25 results, marking the response degraded.
func (e *Engine) degrade(ctx context.Context, snap *store.Snapshot, tq textQuery, requested Mode, limit int, reason string) (*Response, error) {
	slog.Warn("search_degraded", slog.String("mode", string(requested)), slog.String("reason", reason))
	results, err := e.keyword(ctx, snap, tq, limit)
	if err != nil {
		return nil, err
	}
	return &Response{
		Query:          tq.query,
		Mode:           ModeKeyword,
		Results:        results,
		Degraded:       true,
		DegradedReason: reason,
	}, nil
}

// vectorSetup loads the vector index and embeds the query. A non-empty
// reason means vector search is unavailable.
func (e *Engine) vectorSetup(ctx context.Context, snap *store.Snapshot, query string) (*store.VectorIndex, []float32, string) {
	if e.provider == nil {
		return nil, nil, "no embedding provider configured"
	}
	vi, err := snap.VectorIndex(ctx, e.provider.ID(), e.provider.Model())
	if err != nil {
		return nil, nil, "embedding store unavailable: " + err.Error()
	}
	if vi.Len() == 0 {
		return nil, nil, fmt.Sprintf("no embeddings for %s/%s", e.provider.ID(), e.provider.Model())
	}
	qvec, err := embed.EmbedOne(ctx, e.provider, query)
	if err != nil {
		return nil, nil, "embedding provider unavailable: " + err.Error()
	}
	if len(qvec) != vi.Dimensions() {
		return nil, nil, fmt.Sprintf("query embedding has %d dimensions, index has %d", len(qvec), vi.Dimensions())
	}
	if zeroVector(qvec) {
		return nil, nil, "query embedding is empty"
	}
	return vi, qvec, ""
}

// semantic ranks symbols by cosine similarity to the query.
func (e *Engine) semantic(ctx context.Context, snap *store.Snapshot, tq textQuery, limit int) (*Response, error) {
	vi, qvec, reason := e.vectorSetup(ctx, snap, tq.query)
	if reason != "" {
		return e.degrade(ctx, snap, tq, ModeSemantic, limit, reason)
	}
	hits := vi.Search(qvec, limit, allowFunc(tq.allowed))
	results := make([]Result, 0, len(hits))
	for _, h := range hits {
		sym, err := snap.Symbol(ctx, h.SymbolID)
		if err != nil {
			return nil, err
		}
		if sym == nil {
			continue
		}
		snippet, _ := excerpt(sym.Preview, sym.StartLine, nil, e.cfg.SnippetLines)
		results = append(results, Result{
			ID:          ResultID(sym.Path, sym.ID, sym.StartLine, sym.EndLine, ModeSemantic),
			Path:        sym.Path,
			Snippet:     snippet,
			StartLine:   sym.StartLine,
			EndLine:     sym.EndLine,
			Score:       h.Score,
			VectorScore: h.Score,
			VectorNorm:  h.Score,
			SymbolID:    sym.ID,
			Symbol:      sym.Name,
			Kind:        string(sym.Kind),
			Language:    sym.Language,
		})
	}
	return &Response{Query: tq.query, Mode: ModeSemantic, Results: results}, nil
}

// hybrid fuses BM25 and vector scores over the union of both top-K pools.
func (e *Engine) hybrid(ctx context.Context, snap *store.Snapshot, tq textQuery, limit int) (*Response, error) {
	vi, qvec, reason := e.vectorSetup(ctx, snap, tq.query)
	if reason != "" {
		return e.degrade(ctx, snap, tq, ModeHybrid, limit, reason)
	}
	k := max(e.cfg.CandidateK, limit)

	var textHits []store.TextHit
	var vecHits []store.VectorHit
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		textHits, err = snap.SearchText(gctx, tq.query, tq.store(k))
		return err
	})
	g.Go(func() error {
		vecHits = vi.Search(qvec, k, allowFunc(tq.allowed))
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	pool := make(map[string]*candidate)
	var order []string
	add := func(docID, path string) *candidate {
		if c, ok := pool[docID]; ok {
			return c
		}
		c := &candidate{docID: docID, path: path}
		pool[docID] = c
		order = append(order, docID)
		return c
	}
	for _, h := range textHits {
		c := add(h.DocID, h.Path)
		c.startLine, c.endLine = h.StartLine, h.EndLine
		c.text, c.hasText = h.Score, true
	}
	var missing []string
	for _, h := range vecHits {
		if _, ok := pool[h.DocID]; !ok {
			add(h.DocID, h.Path)
			missing = append(missing, h.DocID)
		}
	}

	// Pool members found only by vector search still get their BM25 score.
	if len(missing) > 0 {
		extra, err := snap.SearchText(ctx, tq.query, store.TextQuery{Limit: len(missing), DocIDs: missing, Fuzzy: tq.fuzzy})
		if err != nil {
			return nil, err
		}
		for _, h := range extra {
			c := pool[h.DocID]
			c.startLine, c.endLine = h.StartLine, h.EndLine
			c.text, c.hasText = h.Score, true
		}
	}
	for docID, h := range vi.BestPerDocument(qvec, order) {
		c := pool[docID]
		c.vec, c.hasVec, c.best = h.Score, true, h
	}

	cands := make([]*candidate, 0, len(order))
	for _, id := range order {
		c := pool[id]
		if c.startLine == 0 {
			doc, err := snap.Document(ctx, id)
			if err != nil {
				return nil, err
			}
			if doc == nil {
				continue
			}
			c.startLine, c.endLine = doc.StartLine, doc.EndLine
		}
		cands = append(cands, c)
	}

	fuse(cands, e.cfg.Weights)
	sortCandidates(cands)
	if len(cands) > limit {
		cands = cands[:limit]
	}

	re := lineMatcher(queryTerms(tq.query))
	results := make([]Result, 0, len(cands))
	for _, c := range cands {
		r := Result{
			ID:          ResultID(c.path, "", c.startLine, c.endLine, ModeHybrid),
			Path:        c.path,
			StartLine:   c.startLine,
			EndLine:     c.endLine,
			Score:       c.fused,
			TextScore:   c.text,
			VectorScore: c.vec,
			TextNorm:    c.textNorm,
			VectorNorm:  c.vecNorm,
			Language:    scanner.DetectLanguage(c.path),
		}
		if c.hasVec {
			if sym, err := snap.Symbol(ctx, c.best.SymbolID); err == nil && sym != nil {
				r.SymbolID, r.Symbol, r.Kind = sym.ID, sym.Name, string(sym.Kind)
			}
		}
		if err := e.fillSnippet(ctx, snap, &r, c.docID, re); err != nil {
			return nil, err
		}
		results = append(results, r)
	}
	return &Response{Query: tq.query, Mode: ModeHybrid, Results: results}, nil
}

func zeroVector(v []float32) bool {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	return math.Sqrt(sum) == 0
}

func nonNil(r []Result) []Result {
	if r == nil {
		return []Result{}
	}
	return r
}
