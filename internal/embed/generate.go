package embed

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	cerrors "github.com/Aman-CERP/cgrep/internal/errors"
	"github.com/Aman-CERP/cgrep/internal/store"
	"github.com/Aman-CERP/cgrep/internal/symbols"
)

// Mode selects the generation policy.
type Mode string

const (
	// ModeAuto embeds what it can; provider failures are logged and skipped.
	ModeAuto Mode = "auto"
	// ModePrecompute stops at the first provider failure and reports it.
	ModePrecompute Mode = "precompute"
	// ModeOff skips generation.
	ModeOff Mode = "off"
)

// ParseMode validates a mode string.
func ParseMode(s string) (Mode, error) {
	switch m := Mode(strings.ToLower(strings.TrimSpace(s))); m {
	case ModeAuto, ModePrecompute, ModeOff:
		return m, nil
	case "":
		return ModeOff, nil
	}
	return "", cerrors.ValidationError(fmt.Sprintf("invalid embedding mode %q", s), nil).
		WithSuggestion("Use one of: auto, precompute, off")
}

// VectorStore is the part of the index Generate writes to.
type VectorStore interface {
	StaleSymbols(ctx context.Context, provider, model string) ([]symbols.Symbol, error)
	PutEmbeddings(ctx context.Context, embs []store.Embedding) error
	ClearEmbeddings(ctx context.Context, provider, model string) (int64, error)
}

// Options configure Generate.
type Options struct {
	Mode      Mode
	Force     bool
	BatchSize int
	// Progress, if set, is called after each batch with done/total symbols.
	Progress func(done, total int)
}

// GenerateStats reports what Generate did.
type GenerateStats struct {
	Mode     Mode
	Provider string
	Model    string
	Cleared  int64
	Stale    int
	Embedded int
	Failed   int
	Batches  int
	Duration time.Duration
}

// Generate embeds every symbol whose vector for the provider's (ID, Model)
// is missing or stale. Each batch commits on its own, so a failure never
// rolls back vectors already written.
func Generate(ctx context.Context, st VectorStore, p Provider, opts Options) (*GenerateStats, error) {
	start := time.Now()
	stats := &GenerateStats{Mode: opts.Mode, Provider: p.ID(), Model: p.Model()}
	if opts.Mode == ModeOff || opts.Mode == "" {
		return stats, nil
	}

	if opts.Force {
		n, err := st.ClearEmbeddings(ctx, p.ID(), p.Model())
		if err != nil {
			return stats, fmt.Errorf("failed to clear embeddings: %w", err)
		}
		stats.Cleared = n
	}

	stale, err := st.StaleSymbols(ctx, p.ID(), p.Model())
	if err != nil {
		return stats, fmt.Errorf("failed to list stale symbols: %w", err)
	}
	stats.Stale = len(stale)

	batchSize := opts.BatchSize
	if batchSize <= 0 {
		batchSize = p.BatchSize()
	}
	batchSize = clampBatch(batchSize)

	for i := 0; i < len(stale); i += batchSize {
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		batch := stale[i:min(i+batchSize, len(stale))]
		stats.Batches++

		texts := make([]string, len(batch))
		for j, sym := range batch {
			texts[j] = SymbolText(sym)
		}

		vecs, err := p.Embed(ctx, texts)
		if err == nil && len(vecs) != len(batch) {
			err = cerrors.ProviderError(p.ID(),
				fmt.Errorf("provider returned %d vectors for %d symbols", len(vecs), len(batch)))
		}
		if err != nil {
			stats.Failed += len(batch)
			if opts.Mode == ModePrecompute {
				stats.Duration = time.Since(start)
				if !cerrors.Is(err, cerrors.ErrProvider) {
					err = cerrors.ProviderError(p.ID(), err)
				}
				return stats, err
			}
			slog.Warn("embedding_batch_failed",
				slog.String("provider", p.ID()),
				slog.String("model", p.Model()),
				slog.Int("symbols", len(batch)),
				slog.String("error", err.Error()))
			continue
		}

		embs := make([]store.Embedding, len(batch))
		for j, sym := range batch {
			embs[j] = store.Embedding{
				SymbolID:    sym.ID,
				Provider:    p.ID(),
				Model:       p.Model(),
				Dims:        len(vecs[j]),
				Vector:      vecs[j],
				Fingerprint: sym.Fingerprint,
			}
		}
		if err := st.PutEmbeddings(ctx, embs); err != nil {
			return stats, err
		}
		stats.Embedded += len(batch)
		if opts.Progress != nil {
			opts.Progress(min(i+batchSize, len(stale)), len(stale))
		}
	}

	stats.Duration = time.Since(start)
	slog.Info("embeddings_generated",
		slog.String("provider", p.ID()),
		slog.String("model", p.Model()),
		slog.String("mode", string(opts.Mode)),
		slog.Int("embedded", stats.Embedded),
		slog.Int("failed", stats.Failed),
		slog.Int64("cleared", stats.Cleared),
		slog.Duration("duration", stats.Duration))
	return stats, nil
}

// SymbolText is the text embedded for a symbol: a kind/name header over
// its preview.
func SymbolText(sym symbols.Symbol) string {
	var b strings.Builder
	b.WriteString(string(sym.Kind))
	b.WriteByte(' ')
	b.WriteString(sym.Name)
	b.WriteString(" (")
	b.WriteString(sym.Path)
	b.WriteString(")\n")
	b.WriteString(sym.Preview)
	return b.String()
}
