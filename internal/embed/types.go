// Package embed turns symbol text into vectors. Providers are pluggable:
// an in-process hashing model, an external command speaking JSON over
// stdio, and a zero-vector provider for tests. Generate keeps the store's
// vectors in step with symbol fingerprints.
package embed

import (
	"context"
	"fmt"
	"math"
	"time"
	"unicode/utf8"
)

// Provider identifiers.
const (
	ProviderLocal   = "local"
	ProviderCommand = "command"
	ProviderZero    = "zero"
)

const (
	// MaxBatchSize bounds a single provider call.
	MaxBatchSize = 256

	// DefaultBatchSize is used when the configured batch size is unset.
	DefaultBatchSize = 64

	// DefaultDimensions is the local model's vector width.
	DefaultDimensions = 384

	// DefaultMaxChars truncates inputs before embedding.
	DefaultMaxChars = 2000

	// DefaultTimeout bounds one command invocation.
	DefaultTimeout = 60 * time.Second

	// DefaultCacheSize is the number of query vectors kept by Cached.
	DefaultCacheSize = 1000
)

// Provider generates vector embeddings for text.
type Provider interface {
	// Embed returns one vector per text, in order.
	Embed(ctx context.Context, texts []string) ([][]float32, error)

	// ID names the backend ("local", "command", "zero").
	ID() string

	// Model identifies the model; vectors are stored per (ID, Model).
	Model() string

	// Dimensions returns the vector width, 0 if not yet known.
	Dimensions() int

	// BatchSize is the preferred number of texts per Embed call.
	BatchSize() int

	// Close releases resources.
	Close() error
}

// EmbedOne embeds a single text and insists on exactly one vector back.
func EmbedOne(ctx context.Context, p Provider, text string) ([]float32, error) {
	vecs, err := p.Embed(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	if len(vecs) != 1 {
		return nil, fmt.Errorf("provider %s returned %d vectors for one input", p.ID(), len(vecs))
	}
	return vecs[0], nil
}

func clampBatch(n int) int {
	switch {
	case n <= 0:
		return DefaultBatchSize
	case n > MaxBatchSize:
		return MaxBatchSize
	}
	return n
}

// truncateChars cuts s to at most maxChars runes. maxChars <= 0 disables it.
func truncateChars(s string, maxChars int) string {
	if maxChars <= 0 || utf8.RuneCountInString(s) <= maxChars {
		return s
	}
	n := 0
	for i := range s {
		if n == maxChars {
			return s[:i]
		}
		n++
	}
	return s
}

// normalizeVector scales v to unit length in place. Zero vectors are left
// as they are.
func normalizeVector(v []float32) []float32 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	if sum == 0 {
		return v
	}
	mag := math.Sqrt(sum)
	for i, x := range v {
		v[i] = float32(float64(x) / mag)
	}
	return v
}
