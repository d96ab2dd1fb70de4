package embedding

import (
	"context"
	"strings"
	"unicode"
)

// bm25K1 is the term-frequency saturation constant of the BM25 weighting.
const bm25K1 = 1.2

// TermEmbedder produces sparse term-weight vectors using BM25-style
// term-frequency saturation. It runs fully in-process and never fails.
type TermEmbedder struct{}

// NewTermEmbedder creates a sparse embedder.
func NewTermEmbedder() *TermEmbedder {
	return &TermEmbedder{}
}

// EmbedQuery tokenizes the query and weights each distinct term by
// tf/(tf+k1), the saturating term-frequency component of BM25.
func (e *TermEmbedder) EmbedQuery(ctx context.Context, text string) (map[string]float64, error) {
	counts := make(map[string]int)
	for _, tok := range Tokenize(text) {
		counts[tok]++
	}
	weights := make(map[string]float64, len(counts))
	for term, tf := range counts {
		weights[term] = float64(tf) / (float64(tf) + bm25K1)
	}
	return weights, nil
}

// EmbedDocument weights document terms the same way as query terms; the
// asymmetry of dense embeddings has no sparse counterpart here.
func (e *TermEmbedder) EmbedDocument(ctx context.Context, text string) (map[string]float64, error) {
	return e.EmbedQuery(ctx, text)
}

// Tokenize lowercases the text and splits it on any non-alphanumeric rune,
// dropping single-character fragments.
func Tokenize(text string) []string {
	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})
	tokens := fields[:0]
	for _, f := range fields {
		if len(f) > 1 {
			tokens = append(tokens, f)
		}
	}
	return tokens
}
