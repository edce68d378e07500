package search

import (
	"sort"

	"github.com/Aman-CERP/cgrep/internal/store"
)

// candidate is one document in the hybrid pool.
type candidate struct {
	docID     string
	path      string
	startLine int
	endLine   int

	text    float64
	hasText bool
	vec     float64
	hasVec  bool
	best    store.VectorHit

	textNorm float64
	vecNorm  float64
	fused    float64
}

// minMax maps the present values onto [0,1]. When every present value is
// equal the result is 1 for a positive value and 0 otherwise. Absent values
// map to 0.
func minMax(vals []float64, present []bool) []float64 {
	out := make([]float64, len(vals))
	lo, hi, seen := 0.0, 0.0, false
	for i, v := range vals {
		if !present[i] {
			continue
		}
		if !seen {
			lo, hi, seen = v, v, true
			continue
		}
		lo, hi = min(lo, v), max(hi, v)
	}
	if !seen {
		return out
	}
	for i, v := range vals {
		switch {
		case !present[i]:
		case hi == lo:
			if v > 0 {
				out[i] = 1
			}
		default:
			out[i] = (v - lo) / (hi - lo)
		}
	}
	return out
}

// fuse normalizes both signals across the pool and combines them linearly.
func fuse(cands []*candidate, w Weights) {
	texts := make([]float64, len(cands))
	hasText := make([]bool, len(cands))
	vecs := make([]float64, len(cands))
	hasVec := make([]bool, len(cands))
	for i, c := range cands {
		texts[i], hasText[i] = c.text, c.hasText
		vecs[i], hasVec[i] = c.vec, c.hasVec
	}
	tn := minMax(texts, hasText)
	vn := minMax(vecs, hasVec)
	for i, c := range cands {
		c.textNorm = tn[i]
		c.vecNorm = vn[i]
		c.fused = w.Text*c.textNorm + w.Vector*c.vecNorm
	}
}

// sortCandidates orders by fused score, then raw BM25, then path, then
// start line.
func sortCandidates(cands []*candidate) {
	sort.SliceStable(cands, func(i, j int) bool {
		a, b := cands[i], cands[j]
		if a.fused != b.fused {
			return a.fused > b.fused
		}
		if a.text != b.text {
			return a.text > b.text
		}
		if a.path != b.path {
			return a.path < b.path
		}
		return a.startLine < b.startLine
	})
}
