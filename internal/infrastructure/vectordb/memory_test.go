package vectordb

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/seekhub/knowledge-mcp-server/internal/domain"
)

func TestMemoryIndexDenseRanking(t *testing.T) {
	index := NewMemoryIndex()
	index.Add(domain.Document{ID: "exact"}, []float32{1, 0}, nil)
	index.Add(domain.Document{ID: "orthogonal"}, []float32{0, 1}, nil)
	index.Add(domain.Document{ID: "close"}, []float32{1, 1}, nil)

	candidates, err := index.HybridSearch(context.Background(), []float32{1, 0}, nil, 0)
	require.NoError(t, err)
	require.Len(t, candidates, 3)

	assert.Equal(t, "exact", candidates[0].ID)
	assert.InDelta(t, 1.0, candidates[0].DenseScore, 1e-9)
	assert.Equal(t, "close", candidates[1].ID)
	assert.Equal(t, "orthogonal", candidates[2].ID)
	assert.Zero(t, candidates[2].DenseScore)
}

func TestMemoryIndexNegativeSimilarityClamped(t *testing.T) {
	index := NewMemoryIndex()
	index.Add(domain.Document{ID: "opposite"}, []float32{-1, 0}, nil)

	candidates, err := index.HybridSearch(context.Background(), []float32{1, 0}, nil, 0)
	require.NoError(t, err)
	require.Len(t, candidates, 1)
	assert.Zero(t, candidates[0].DenseScore)
}

func TestMemoryIndexSparseRanking(t *testing.T) {
	index := NewMemoryIndex()
	index.Add(domain.Document{ID: "match"}, nil, map[string]float64{"raft": 1, "leader": 1})
	index.Add(domain.Document{ID: "miss"}, nil, map[string]float64{"cooking": 1})

	candidates, err := index.HybridSearch(context.Background(), nil, map[string]float64{"raft": 1}, 0)
	require.NoError(t, err)
	require.Len(t, candidates, 2)
	assert.Equal(t, "match", candidates[0].ID)
	assert.Positive(t, candidates[0].SparseScore)
	assert.Zero(t, candidates[1].SparseScore)
}

func TestMemoryIndexLimit(t *testing.T) {
	index := NewMemoryIndex()
	for i := 0; i < 10; i++ {
		index.Add(domain.Document{ID: string(rune('a' + i))}, []float32{1}, nil)
	}

	candidates, err := index.HybridSearch(context.Background(), []float32{1}, nil, 3)
	require.NoError(t, err)
	assert.Len(t, candidates, 3)
}

func TestMemoryIndexDimensionMismatchSkipsDenseChannel(t *testing.T) {
	index := NewMemoryIndex()
	index.Add(domain.Document{ID: "short"}, []float32{1, 0}, nil)

	candidates, err := index.HybridSearch(context.Background(), []float32{1, 0, 0}, nil, 0)
	require.NoError(t, err)
	require.Len(t, candidates, 1)
	assert.Zero(t, candidates[0].DenseScore)
}

func TestMemoryIndexCancelledContext(t *testing.T) {
	index := NewMemoryIndex()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := index.HybridSearch(ctx, []float32{1}, nil, 0)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestLoadDocuments(t *testing.T) {
	path := filepath.Join(t.TempDir(), "corpus.json")
	require.NoError(t, os.WriteFile(path, []byte(`[
		{"id":"d1","title":"Raft","content":"leader election"},
		{"id":"d2","title":"Paxos","content":"consensus"}
	]`), 0o600))

	docs, err := LoadDocuments(path)
	require.NoError(t, err)
	require.Len(t, docs, 2)
	assert.Equal(t, "d1", docs[0].ID)
	assert.Equal(t, "consensus", docs[1].Content)

	_, err = LoadDocuments(filepath.Join(t.TempDir(), "missing.json"))
	assert.Error(t, err)
}
