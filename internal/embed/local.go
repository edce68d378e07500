package embed

import (
	"context"
	"errors"
	"hash/fnv"
	"strings"
	"sync"
	"unicode"

	"github.com/Aman-CERP/cgrep/internal/store"
)

// LocalModel is the model name of the built-in hashing embedder.
const LocalModel = "hash-minilm"

// Feature weights for the hashing model.
const (
	tokenWeight = 0.7
	ngramWeight = 0.3
	ngramSize   = 3
)

// codeStopWords carry no meaning across languages.
var codeStopWords = map[string]bool{
	"func": true, "function": true, "fn": true, "def": true, "class": true,
	"return": true, "import": true, "const": true, "var": true, "let": true,
	"pub": true, "self": true, "this": true, "new": true, "nil": true,
	"null": true, "true": true, "false": true, "int": true, "string": true,
}

// LocalProvider is a deterministic in-process embedder. It hashes code
// tokens and character trigrams into a fixed-width vector: no network, no
// model files, same input always gives the same output.
type LocalProvider struct {
	model     string
	dims      int
	batchSize int
	maxChars  int

	mu     sync.RWMutex
	closed bool
}

// NewLocalProvider creates the hashing provider.
func NewLocalProvider(model string, dims, batchSize, maxChars int) *LocalProvider {
	if model == "" {
		model = LocalModel
	}
	if dims <= 0 {
		dims = DefaultDimensions
	}
	return &LocalProvider{
		model:     model,
		dims:      dims,
		batchSize: clampBatch(batchSize),
		maxChars:  maxChars,
	}
}

// Embed hashes each text; input past maxChars runes is ignored.
func (p *LocalProvider) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return nil, errors.New("local provider is closed")
	}

	out := make([][]float32, len(texts))
	for i, text := range texts {
		if i%p.batchSize == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		out[i] = p.vector(truncateChars(text, p.maxChars))
	}
	return out, nil
}

func (p *LocalProvider) vector(text string) []float32 {
	v := make([]float32, p.dims)
	if strings.TrimSpace(text) == "" {
		return v
	}
	for _, tok := range store.TokenizeCode(text) {
		if !codeStopWords[tok] {
			v[bucket(tok, p.dims)] += tokenWeight
		}
	}
	for _, g := range trigrams(text) {
		v[bucket(g, p.dims)] += ngramWeight
	}
	return normalizeVector(v)
}

// trigrams returns sliding character windows over the lowercased
// alphanumeric runes of text.
func trigrams(text string) []string {
	var rs []rune
	for _, r := range strings.ToLower(text) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			rs = append(rs, r)
		}
	}
	if len(rs) < ngramSize {
		return nil
	}
	out := make([]string, 0, len(rs)-ngramSize+1)
	for i := 0; i+ngramSize <= len(rs); i++ {
		out = append(out, string(rs[i:i+ngramSize]))
	}
	return out
}

func bucket(s string, size int) int {
	h := fnv.New64a()
	_, _ = h.Write([]byte(s))
	return int(h.Sum64() % uint64(size))
}

func (p *LocalProvider) ID() string      { return ProviderLocal }
func (p *LocalProvider) Model() string   { return p.model }
func (p *LocalProvider) Dimensions() int { return p.dims }
func (p *LocalProvider) BatchSize() int  { return p.batchSize }

// Close marks the provider unusable.
func (p *LocalProvider) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return nil
}

// ZeroProvider returns fixed-width zero vectors.
type ZeroProvider struct {
	dims int
}

// NewZeroProvider creates a zero-vector provider.
func NewZeroProvider(dims int) *ZeroProvider {
	if dims <= 0 {
		dims = DefaultDimensions
	}
	return &ZeroProvider{dims: dims}
}

func (p *ZeroProvider) Embed(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range out {
		out[i] = make([]float32, p.dims)
	}
	return out, nil
}

func (p *ZeroProvider) ID() string      { return ProviderZero }
func (p *ZeroProvider) Model() string   { return "zero" }
func (p *ZeroProvider) Dimensions() int { return p.dims }
func (p *ZeroProvider) BatchSize() int  { return MaxBatchSize }
func (p *ZeroProvider) Close() error    { return nil }
