package search

import (
	"context"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	cerrors "github.com/Aman-CERP/cgrep/internal/errors"
)

const cRS = "// Helper notes\nfn helper_a() {}\nfn helper_b() {}\nfn helper_c() {}\n"

func TestSearch_RegexScan(t *testing.T) {
	files := map[string]string{"a.rs": aRS, "src/b.rs": bRS, "c.rs": cRS}

	for name, indexed := range map[string]bool{"indexed": true, "unindexed": false} {
		t.Run(name, func(t *testing.T) {
			f := newFixture(t, files, fixtureOpts{indexed: indexed})
			ctx := context.Background()

			// When: a pattern only definitions satisfy is searched
			resp, err := f.engine.Search(ctx, Request{Query: `fn\s+helper`, Regex: true})

			// Then: the scan answers and ranks by matching lines
			require.NoError(t, err)
			assert.Equal(t, FallbackScan, resp.Fallback)
			assert.Equal(t, []string{"c.rs", "a.rs"}, paths(resp.Results))
			assert.Equal(t, 3.0, resp.Results[0].Score)
			assert.Equal(t, 2, resp.Results[0].MatchLine)
		})
	}

	f := newFixture(t, files, fixtureOpts{})
	ctx := context.Background()

	t.Run("case insensitive by default", func(t *testing.T) {
		resp, err := f.engine.Search(ctx, Request{Query: `^// HELPER`, Regex: true})
		require.NoError(t, err)
		assert.Equal(t, []string{"c.rs"}, paths(resp.Results))

		resp, err = f.engine.Search(ctx, Request{Query: `^// HELPER`, Regex: true, CaseSensitive: true})
		require.NoError(t, err)
		assert.Empty(t, resp.Results)
	})

	t.Run("invalid pattern", func(t *testing.T) {
		_, err := f.engine.Search(ctx, Request{Query: `fn (`, Regex: true})
		assert.Equal(t, cerrors.ErrCodeInvalidPattern, cerrors.GetCode(err))
	})
}

func TestSearch_CaseSensitiveLiteral(t *testing.T) {
	f := newFixture(t, map[string]string{"a.rs": aRS, "c.rs": cRS}, fixtureOpts{})
	ctx := context.Background()

	insensitive, err := f.engine.Search(ctx, Request{Query: "Helper"})
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"a.rs", "c.rs"}, paths(insensitive.Results))

	sensitive, err := f.engine.Search(ctx, Request{Query: "Helper", CaseSensitive: true})
	require.NoError(t, err)
	assert.Equal(t, []string{"c.rs"}, paths(sensitive.Results))
	assert.Equal(t, 1, sensitive.Results[0].MatchLine)
}

func TestSearch_NoIndexForcesScan(t *testing.T) {
	f := newFixture(t, map[string]string{"a.rs": aRS, "src/b.rs": bRS}, fixtureOpts{indexed: true})
	ctx := context.Background()

	indexed, err := f.engine.Search(ctx, Request{Query: "helper"})
	require.NoError(t, err)
	assert.Empty(t, indexed.Fallback)

	scanned, err := f.engine.Search(ctx, Request{Query: "helper", NoIndex: true})
	require.NoError(t, err)
	assert.Equal(t, FallbackScan, scanned.Fallback)
	assert.ElementsMatch(t, paths(indexed.Results), paths(scanned.Results))

	hybrid, err := f.engine.Search(ctx, Request{Query: "helper", Mode: ModeHybrid, NoIndex: true})
	require.NoError(t, err)
	assert.True(t, hybrid.Degraded)

	_, err = f.engine.Search(ctx, Request{Query: "helper", Mode: ModeSemantic, NoIndex: true})
	assert.Equal(t, cerrors.ErrCodeInvalidMode, cerrors.GetCode(err))
}

func TestSearch_Fuzzy(t *testing.T) {
	files := map[string]string{"a.rs": aRS, "src/b.rs": bRS}

	t.Run("index search tolerates typos", func(t *testing.T) {
		f := newFixture(t, files, fixtureOpts{indexed: true})
		ctx := context.Background()

		plain, err := f.engine.Search(ctx, Request{Query: "helpr"})
		require.NoError(t, err)
		assert.Empty(t, plain.Results)

		fuzzy, err := f.engine.Search(ctx, Request{Query: "helpr", Fuzzy: true})
		require.NoError(t, err)
		assert.Contains(t, paths(fuzzy.Results), "a.rs")
		assert.Empty(t, fuzzy.Warnings)
	})

	t.Run("scan ignores it with a warning", func(t *testing.T) {
		f := newFixture(t, files, fixtureOpts{})
		resp, err := f.engine.Search(context.Background(), Request{Query: "helper", Fuzzy: true})
		require.NoError(t, err)
		assert.NotEmpty(t, resp.Results)
		require.Len(t, resp.Warnings, 1)
		assert.Contains(t, resp.Warnings[0], "fuzzy")
	})
}

func TestSearch_FileSetRestricts(t *testing.T) {
	files := map[string]string{"a.rs": aRS, "src/b.rs": bRS}

	for name, indexed := range map[string]bool{"indexed": true, "scan": false} {
		t.Run(name, func(t *testing.T) {
			f := newFixture(t, files, fixtureOpts{indexed: indexed})
			ctx := context.Background()

			only, err := f.engine.Search(ctx, Request{Query: "helper", Filters: Filters{Files: []string{"src/b.rs"}}})
			require.NoError(t, err)
			assert.Equal(t, []string{"src/b.rs"}, paths(only.Results))

			none, err := f.engine.Search(ctx, Request{Query: "helper", Filters: Filters{Files: []string{}}})
			require.NoError(t, err)
			assert.Empty(t, none.Results)
		})
	}
}

func TestSearch_Budget(t *testing.T) {
	f := newFixture(t, map[string]string{"a.rs": aRS, "src/b.rs": bRS, "c.rs": cRS}, fixtureOpts{indexed: true})
	ctx := context.Background()

	t.Run("per snippet", func(t *testing.T) {
		resp, err := f.engine.Search(ctx, Request{Query: "helper", Budget: Budget{MaxSnippetChars: 12}})
		require.NoError(t, err)
		require.NotEmpty(t, resp.Results)
		assert.True(t, resp.Truncated)
		for _, r := range resp.Results {
			assert.LessOrEqual(t, utf8.RuneCountInString(r.Snippet), 12)
		}
	})

	t.Run("total", func(t *testing.T) {
		full, err := f.engine.Search(ctx, Request{Query: "helper"})
		require.NoError(t, err)
		require.Len(t, full.Results, 3)

		resp, err := f.engine.Search(ctx, Request{Query: "helper", Budget: Budget{MaxTotalChars: 30}})
		require.NoError(t, err)
		assert.Equal(t, 30, resp.MaxTotalChars)
		assert.True(t, resp.Truncated)
		total := 0
		for _, r := range resp.Results {
			total += utf8.RuneCountInString(r.Snippet)
		}
		assert.LessOrEqual(t, total, 30)
		assert.Less(t, len(resp.Results), len(full.Results))

		// The untruncated response is not affected by an earlier budget.
		again, err := f.engine.Search(ctx, Request{Query: "helper"})
		require.NoError(t, err)
		assert.False(t, again.Truncated)
		assert.Equal(t, full.Results, again.Results)
	})
}

func TestApplyBudget(t *testing.T) {
	resp := &Response{Results: []Result{{Snippet: "0123456789"}, {Snippet: "abcdefghij"}, {Snippet: "tail"}}}

	applyBudget(resp, Budget{MaxTotalChars: 15})

	require.Len(t, resp.Results, 2)
	assert.Equal(t, "0123456789", resp.Results[0].Snippet)
	assert.Equal(t, "abcd…", resp.Results[1].Snippet)
	assert.True(t, resp.Truncated)

	untouched := &Response{Results: []Result{{Snippet: "héllo"}}}
	applyBudget(untouched, Budget{MaxSnippetChars: 5, MaxTotalChars: 5})
	assert.Equal(t, "héllo", untouched.Results[0].Snippet)
	assert.False(t, untouched.Truncated)
	assert.Equal(t, 5, untouched.MaxTotalChars)
}

func TestCacheKey_VectorSpace(t *testing.T) {
	even := &Engine{cfg: Config{Weights: Weights{Text: 0.5, Vector: 0.5}}}
	skewed := &Engine{cfg: Config{Weights: Weights{Text: 0.8, Vector: 0.2}}}

	assert.NotEqual(t,
		even.cacheKey("q", ModeHybrid, Filters{}, 10, false),
		skewed.cacheKey("q", ModeHybrid, Filters{}, 10, false))
	assert.Equal(t,
		even.cacheKey("q", ModeKeyword, Filters{}, 10, false),
		skewed.cacheKey("q", ModeKeyword, Filters{}, 10, false))
	assert.NotEqual(t,
		even.cacheKey("q", ModeKeyword, Filters{}, 10, false),
		even.cacheKey("q", ModeKeyword, Filters{}, 10, true))

	f := newFixture(t, map[string]string{"a.rs": aRS}, fixtureOpts{embeddings: true})
	assert.NotEqual(t,
		even.cacheKey("q", ModeSemantic, Filters{}, 10, false),
		f.engine.cacheKey("q", ModeSemantic, Filters{}, 10, false))
}
