package store

import (
	"context"
	"fmt"
	"math"
	"sort"

	"github.com/coder/hnsw"
)

// HNSWThreshold is the vector count from which VectorIndex switches from an
// exact scan to an HNSW graph.
const HNSWThreshold = 256

// HNSW graph parameters.
const (
	hnswM        = 16
	hnswEfSearch = 64
	hnswMl       = 0.25
)

// VectorHit is one symbol ranked by cosine similarity.
type VectorHit struct {
	SymbolID string
	DocID    string
	Path     string
	Score    float64
}

type vectorEntry struct {
	symbolID string
	docID    string
	path     string
	vec      []float32
}

type vectorKey struct {
	generation int64
	provider   string
	model      string
}

// VectorIndex answers cosine top-K over the valid vectors of one
// provider/model at one generation. It is immutable once built.
type VectorIndex struct {
	entries []vectorEntry
	dims    int
	graph   *hnsw.Graph[int]
}

// VectorIndex returns the index for provider/model at the current
// generation, building it on first use.
func (s *Store) VectorIndex(ctx context.Context, provider, model string) (*VectorIndex, error) {
	snap, err := s.Snapshot(ctx)
	if err != nil {
		return nil, err
	}
	defer func() { _ = snap.Close() }()
	return snap.VectorIndex(ctx, provider, model)
}

// VectorIndex returns the index for provider/model as of the snapshot's
// generation. Indexes are shared between snapshots of the same generation.
func (sn *Snapshot) VectorIndex(ctx context.Context, provider, model string) (*VectorIndex, error) {
	s := sn.store
	key := vectorKey{generation: sn.gen, provider: provider, model: model}

	s.vecMu.Lock()
	if vi, ok := s.vecCache[key]; ok {
		s.vecMu.Unlock()
		return vi, nil
	}
	s.vecMu.Unlock()

	vi, err := buildVectorIndex(ctx, sn.q, provider, model)
	if err != nil {
		return nil, err
	}

	s.vecMu.Lock()
	s.vecCache[key] = vi
	s.vecMu.Unlock()
	return vi, nil
}

func (s *Store) invalidateVectors() {
	s.vecMu.Lock()
	clear(s.vecCache)
	s.vecMu.Unlock()
}

func buildVectorIndex(ctx context.Context, q dbtx, provider, model string) (*VectorIndex, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT e.symbol_id, s.doc_id, s.path, e.vector
		 FROM embeddings e JOIN symbols s ON s.id = e.symbol_id AND s.fingerprint = e.fingerprint
		 WHERE e.provider = ? AND e.model = ?
		 ORDER BY s.path, s.start_line, e.symbol_id`, provider, model)
	if err != nil {
		return nil, fmt.Errorf("vector load failed: %w", err)
	}
	defer func() { _ = rows.Close() }()

	vi := &VectorIndex{}
	for rows.Next() {
		var e vectorEntry
		var blob []byte
		if err := rows.Scan(&e.symbolID, &e.docID, &e.path, &blob); err != nil {
			return nil, fmt.Errorf("failed to scan vector: %w", err)
		}
		e.vec = decodeVector(blob)
		// Zero vectors have no direction and cannot be ranked.
		if !normalizeInPlace(e.vec) {
			continue
		}
		if vi.dims == 0 {
			vi.dims = len(e.vec)
		}
		if len(e.vec) != vi.dims {
			continue
		}
		vi.entries = append(vi.entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if len(vi.entries) >= HNSWThreshold {
		g := hnsw.NewGraph[int]()
		g.Distance = hnsw.CosineDistance
		g.M = hnswM
		g.EfSearch = hnswEfSearch
		g.Ml = hnswMl
		for i, e := range vi.entries {
			g.Add(hnsw.MakeNode(i, e.vec))
		}
		vi.graph = g
	}
	return vi, nil
}

// Len returns the number of searchable vectors.
func (v *VectorIndex) Len() int { return len(v.entries) }

// Dimensions returns the vector width, 0 when empty.
func (v *VectorIndex) Dimensions() int { return v.dims }

// Search returns the k symbols closest to query. When allow is non-nil only
// symbols in allowed paths are scored, exactly; otherwise large indexes are
// searched through the HNSW graph and candidates are rescored exactly.
func (v *VectorIndex) Search(query []float32, k int, allow func(path string) bool) []VectorHit {
	if k <= 0 || len(v.entries) == 0 || len(query) != v.dims {
		return nil
	}
	q := append([]float32(nil), query...)
	if !normalizeInPlace(q) {
		return nil
	}

	var hits []VectorHit
	if v.graph != nil && allow == nil {
		for _, n := range v.graph.Search(q, k) {
			hits = append(hits, v.hit(n.Key, q))
		}
	} else {
		for i, e := range v.entries {
			if allow != nil && !allow(e.path) {
				continue
			}
			hits = append(hits, v.hit(i, q))
		}
	}

	sortHits(hits)
	if len(hits) > k {
		hits = hits[:k]
	}
	return hits
}

// BestPerDocument returns, for each listed document, the best-scoring symbol
// it contains. Documents without valid vectors are absent from the map.
func (v *VectorIndex) BestPerDocument(query []float32, docIDs []string) map[string]VectorHit {
	out := make(map[string]VectorHit)
	if len(v.entries) == 0 || len(query) != v.dims {
		return out
	}
	q := append([]float32(nil), query...)
	if !normalizeInPlace(q) {
		return out
	}
	want := make(map[string]bool, len(docIDs))
	for _, id := range docIDs {
		want[id] = true
	}
	for i, e := range v.entries {
		if !want[e.docID] {
			continue
		}
		h := v.hit(i, q)
		if cur, ok := out[e.docID]; !ok || h.Score > cur.Score ||
			(h.Score == cur.Score && h.SymbolID < cur.SymbolID) {
			out[e.docID] = h
		}
	}
	return out
}

func (v *VectorIndex) hit(i int, q []float32) VectorHit {
	e := v.entries[i]
	return VectorHit{SymbolID: e.symbolID, DocID: e.docID, Path: e.path, Score: dot(q, e.vec)}
}

func sortHits(hits []VectorHit) {
	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		if hits[i].Path != hits[j].Path {
			return hits[i].Path < hits[j].Path
		}
		return hits[i].SymbolID < hits[j].SymbolID
	})
}

func dot(a, b []float32) float64 {
	var sum float64
	for i := range a {
		sum += float64(a[i]) * float64(b[i])
	}
	return sum
}

// normalizeInPlace scales v to unit length. It reports false for a zero
// vector, which is left untouched.
func normalizeInPlace(v []float32) bool {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	if sum == 0 || math.IsNaN(sum) {
		return false
	}
	norm := float32(math.Sqrt(sum))
	for i := range v {
		v[i] /= norm
	}
	return true
}
