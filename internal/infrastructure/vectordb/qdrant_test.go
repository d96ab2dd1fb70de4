package vectordb

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQdrantHybridSearchMergesChannels(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/collections/kb/points/search", r.URL.Path)

		var req struct {
			Vector json.RawMessage `json:"vector"`
			Limit  int             `json:"limit"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, 8, req.Limit)

		var named struct {
			Name string `json:"name"`
		}
		require.NoError(t, json.Unmarshal(req.Vector, &named))

		switch named.Name {
		case "dense":
			_, _ = w.Write([]byte(`{"result":[
				{"id":"doc-1","score":0.9,"payload":{"title":"Raft","content":"leader election"}},
				{"id":42,"score":0.5,"payload":{"title":"Paxos"}}
			]}`))
		case "sparse":
			_, _ = w.Write([]byte(`{"result":[
				{"id":"doc-1","score":0.4,"payload":{"title":"Raft"}},
				{"id":"doc-3","score":0.2,"payload":{"title":"Gossip","content":"membership"}}
			]}`))
		default:
			t.Errorf("unexpected vector name %q", named.Name)
		}
	}))
	defer ts.Close()

	index := NewQdrantIndex(ts.URL, "kb")
	candidates, err := index.HybridSearch(context.Background(),
		[]float32{1, 0}, map[string]float64{"raft": 0.5}, 8)
	require.NoError(t, err)
	require.Len(t, candidates, 3)

	assert.Equal(t, "doc-1", candidates[0].ID)
	assert.Equal(t, 0.9, candidates[0].DenseScore)
	assert.Equal(t, 0.4, candidates[0].SparseScore)
	assert.Equal(t, "leader election", candidates[0].Content)

	assert.Equal(t, "42", candidates[1].ID)
	assert.Equal(t, 0.5, candidates[1].DenseScore)
	assert.Zero(t, candidates[1].SparseScore)

	assert.Equal(t, "doc-3", candidates[2].ID)
	assert.Zero(t, candidates[2].DenseScore)
	assert.Equal(t, 0.2, candidates[2].SparseScore)
}

func TestQdrantSearchErrorSurfaces(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"status":{"error":"collection not found"}}`, http.StatusNotFound)
	}))
	defer ts.Close()

	index := NewQdrantIndex(ts.URL, "missing")
	_, err := index.HybridSearch(context.Background(), []float32{1}, nil, 5)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "404")
}

func TestToSparseVector(t *testing.T) {
	sv := toSparseVector(map[string]float64{"raft": 0.5, "leader": 0.25})
	require.Len(t, sv.Indices, 2)
	require.Len(t, sv.Values, 2)
	assert.NotEqual(t, sv.Indices[0], sv.Indices[1])

	// The term mapping is stable across calls.
	assert.Equal(t, termIndex("raft"), termIndex("raft"))
}
