package store

import (
	"context"
	"encoding/binary"
	"fmt"
	"math"
	"time"

	cerrors "github.com/Aman-CERP/cgrep/internal/errors"
	"github.com/Aman-CERP/cgrep/internal/symbols"
)

// PutEmbeddings upserts vectors in one transaction. Stored rows carry the
// symbol fingerprint they were computed from.
func (s *Store) PutEmbeddings(ctx context.Context, embs []Embedding) error {
	if len(embs) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.writer.BeginTx(ctx, nil)
	if err != nil {
		return cerrors.New(cerrors.ErrCodeEmbeddingFailed, "failed to begin embedding batch", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT OR REPLACE INTO embeddings (symbol_id, provider, model, dims, vector, fingerprint, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return cerrors.New(cerrors.ErrCodeEmbeddingFailed, "failed to prepare embedding insert", err)
	}
	defer func() { _ = stmt.Close() }()

	now := time.Now()
	for _, e := range embs {
		created := e.CreatedAt
		if created.IsZero() {
			created = now
		}
		dims := e.Dims
		if dims == 0 {
			dims = len(e.Vector)
		}
		if dims != len(e.Vector) {
			return cerrors.New(cerrors.ErrCodeDimensionMismatch,
				fmt.Sprintf("embedding for %s has %d values, declared %d", e.SymbolID, len(e.Vector), dims), nil)
		}
		if _, err := stmt.ExecContext(ctx, e.SymbolID, e.Provider, e.Model, dims,
			encodeVector(e.Vector), e.Fingerprint, created.UnixMilli()); err != nil {
			return cerrors.New(cerrors.ErrCodeEmbeddingFailed, "failed to store embedding", err)
		}
	}

	if _, err := bumpGeneration(ctx, tx, ""); err != nil {
		return cerrors.New(cerrors.ErrCodeEmbeddingFailed, "failed to advance generation", err)
	}
	if err := tx.Commit(); err != nil {
		return cerrors.New(cerrors.ErrCodeEmbeddingFailed, "failed to commit embeddings", err)
	}
	s.invalidateVectors()
	return nil
}

// ClearEmbeddings deletes every vector for provider/model and returns how
// many rows went away.
func (s *Store) ClearEmbeddings(ctx context.Context, provider, model string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.writer.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, `DELETE FROM embeddings WHERE provider = ? AND model = ?`, provider, model)
	if err != nil {
		return 0, fmt.Errorf("failed to clear embeddings: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return 0, nil
	}
	if _, err := bumpGeneration(ctx, tx, ""); err != nil {
		return 0, err
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit embedding clear: %w", err)
	}
	s.invalidateVectors()
	return n, nil
}

// ValidEmbeddings returns vectors whose fingerprint still matches their
// symbol. Stale rows stay on disk until regenerated.
func (r *reads) ValidEmbeddings(ctx context.Context, provider, model string) ([]Embedding, error) {
	rows, err := r.q.QueryContext(ctx,
		`SELECT e.symbol_id, e.provider, e.model, e.dims, e.vector, e.fingerprint, e.created_at
		 FROM embeddings e JOIN symbols s ON s.id = e.symbol_id AND s.fingerprint = e.fingerprint
		 WHERE e.provider = ? AND e.model = ?
		 ORDER BY e.symbol_id`, provider, model)
	if err != nil {
		return nil, fmt.Errorf("embedding query failed: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []Embedding
	for rows.Next() {
		var e Embedding
		var blob []byte
		var created int64
		if err := rows.Scan(&e.SymbolID, &e.Provider, &e.Model, &e.Dims, &blob, &e.Fingerprint, &created); err != nil {
			return nil, fmt.Errorf("failed to scan embedding: %w", err)
		}
		e.Vector = decodeVector(blob)
		e.CreatedAt = time.UnixMilli(created)
		out = append(out, e)
	}
	return out, rows.Err()
}

// StaleSymbols returns symbols with no vector for provider/model, or whose
// vector was computed from a different fingerprint.
func (r *reads) StaleSymbols(ctx context.Context, provider, model string) ([]symbols.Symbol, error) {
	rows, err := r.q.QueryContext(ctx,
		`SELECT s.id, s.parent_id, s.name, s.kind, s.path, s.language, s.start_byte, s.end_byte,
		        s.start_line, s.end_line, s.preview, s.fingerprint
		 FROM symbols s
		 LEFT JOIN embeddings e ON e.symbol_id = s.id AND e.provider = ? AND e.model = ?
		 WHERE e.symbol_id IS NULL OR e.fingerprint != s.fingerprint
		 ORDER BY s.path, s.start_line, s.id`, provider, model)
	if err != nil {
		return nil, fmt.Errorf("stale symbol query failed: %w", err)
	}
	return collectSymbols(rows)
}

// EmbeddingCount counts valid vectors for provider/model.
func (r *reads) EmbeddingCount(ctx context.Context, provider, model string) (int, error) {
	var n int
	err := r.q.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM embeddings e JOIN symbols s ON s.id = e.symbol_id AND s.fingerprint = e.fingerprint
		 WHERE e.provider = ? AND e.model = ?`, provider, model).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("embedding count failed: %w", err)
	}
	return n, nil
}

// encodeVector stores float32 values little-endian.
func encodeVector(v []float32) []byte {
	buf := make([]byte, 4*len(v))
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[4*i:], math.Float32bits(f))
	}
	return buf
}

func decodeVector(b []byte) []float32 {
	v := make([]float32, len(b)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[4*i:]))
	}
	return v
}
