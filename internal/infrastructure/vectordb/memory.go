// Package vectordb provides the vector index implementations behind the
// search service: a process-local brute-force index and a Qdrant REST
// adapter.
package vectordb

import (
	"context"
	"math"
	"sort"
	"sync"

	"github.com/seekhub/knowledge-mcp-server/internal/domain"
)

// MemoryIndex is a brute-force in-memory hybrid index. Dense similarity is
// cosine (negative similarities clamp to zero so weighted sums stay in
// [0,1]); sparse similarity is cosine over term weights.
type MemoryIndex struct {
	mu   sync.RWMutex
	docs []indexedDoc
}

type indexedDoc struct {
	doc        domain.Document
	dense      []float32
	denseNorm  float64
	sparse     map[string]float64
	sparseNorm float64
}

// NewMemoryIndex creates an empty in-memory index.
func NewMemoryIndex() *MemoryIndex {
	return &MemoryIndex{}
}

// Add indexes one document with its precomputed vectors. Either vector may
// be nil, disabling that channel for the document.
func (m *MemoryIndex) Add(doc domain.Document, dense []float32, sparse map[string]float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.docs = append(m.docs, indexedDoc{
		doc:        doc,
		dense:      dense,
		denseNorm:  denseNorm(dense),
		sparse:     sparse,
		sparseNorm: sparseNorm(sparse),
	})
}

// Len reports the number of indexed documents.
func (m *MemoryIndex) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.docs)
}

// HybridSearch scores every document on both channels and returns the top
// candidates by unweighted combined score. The caller applies its own
// weighting over the per-channel scores.
func (m *MemoryIndex) HybridSearch(ctx context.Context, dense []float32, sparse map[string]float64, limit int) ([]domain.Candidate, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	queryDenseNorm := denseNorm(dense)
	querySparseNorm := sparseNorm(sparse)

	candidates := make([]domain.Candidate, 0, len(m.docs))
	for _, d := range m.docs {
		c := domain.Candidate{
			ID:      d.doc.ID,
			Title:   d.doc.Title,
			Content: d.doc.Content,
		}
		if len(dense) > 0 && len(d.dense) == len(dense) && queryDenseNorm > 0 && d.denseNorm > 0 {
			c.DenseScore = math.Max(0, denseDot(dense, d.dense)/(queryDenseNorm*d.denseNorm))
		}
		if len(sparse) > 0 && d.sparseNorm > 0 && querySparseNorm > 0 {
			c.SparseScore = sparseDot(sparse, d.sparse) / (querySparseNorm * d.sparseNorm)
		}
		candidates = append(candidates, c)
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].DenseScore+candidates[i].SparseScore >
			candidates[j].DenseScore+candidates[j].SparseScore
	})
	if limit > 0 && len(candidates) > limit {
		candidates = candidates[:limit]
	}
	return candidates, nil
}

func denseDot(a, b []float32) float64 {
	var sum float64
	for i := range a {
		sum += float64(a[i]) * float64(b[i])
	}
	return sum
}

func denseNorm(v []float32) float64 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	return math.Sqrt(sum)
}

func sparseDot(a, b map[string]float64) float64 {
	// Iterate the smaller map.
	if len(b) < len(a) {
		a, b = b, a
	}
	var sum float64
	for term, w := range a {
		if dw, ok := b[term]; ok {
			sum += w * dw
		}
	}
	return sum
}

func sparseNorm(v map[string]float64) float64 {
	var sum float64
	for _, w := range v {
		sum += w * w
	}
	return math.Sqrt(sum)
}
