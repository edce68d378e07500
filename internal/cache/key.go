package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sort"
	"strings"

	"golang.org/x/text/unicode/norm"
)

// KeyParams are the inputs that identify a cached query.
type KeyParams struct {
	Kind     string   `json:"kind"`
	Query    string   `json:"query"`
	Mode     string   `json:"mode"`
	Language string   `json:"language"`
	Scope    []string `json:"scope"`
	Globs    []string `json:"globs"`
	Excludes []string `json:"excludes"`
	// Files restricts to an exact path set when non-nil; an empty
	// non-nil set is a different key from no restriction.
	Files []string `json:"files"`
	Limit int      `json:"limit"`
	Fuzzy bool     `json:"fuzzy"`

	// Provider and Model identify the embedding space, WeightText and
	// WeightVector the fusion; vector-backed results differ across them.
	Provider     string  `json:"provider"`
	Model        string  `json:"model"`
	WeightText   float64 `json:"weight_text"`
	WeightVector float64 `json:"weight_vector"`
}

// NormalizeQuery applies NFC normalization and collapses whitespace runs.
func NormalizeQuery(q string) string {
	return strings.Join(strings.Fields(norm.NFC.String(q)), " ")
}

// Key returns the canonical hash of p. Equivalent parameter sets (query
// spacing, Unicode composition, filter order) produce the same key.
func Key(p KeyParams) string {
	canon := KeyParams{
		Kind:     strings.ToLower(strings.TrimSpace(p.Kind)),
		Query:    NormalizeQuery(p.Query),
		Mode:     strings.ToLower(strings.TrimSpace(p.Mode)),
		Language: strings.ToLower(strings.TrimSpace(p.Language)),
		Scope:    sortedCopy(p.Scope),
		Globs:    sortedCopy(p.Globs),
		Excludes: sortedCopy(p.Excludes),
		Limit:    p.Limit,
		Fuzzy:    p.Fuzzy,

		Provider:     strings.TrimSpace(p.Provider),
		Model:        strings.TrimSpace(p.Model),
		WeightText:   p.WeightText,
		WeightVector: p.WeightVector,
	}
	if p.Files != nil {
		canon.Files = sortedCopy(p.Files)
	}
	// Struct fields marshal in declaration order, so the encoding is canonical.
	data, _ := json.Marshal(canon)
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

func sortedCopy(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	sort.Strings(out)
	return out
}
