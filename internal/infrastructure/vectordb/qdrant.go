package vectordb

import (
	"bytes"
	"context"
	"encoding/json"
	"hash/fnv"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/seekhub/knowledge-mcp-server/internal/domain"
)

// Vector names inside the Qdrant collection. The collection is expected to
// carry a named dense vector and a named sparse vector per point, with
// title/content in the payload.
const (
	denseVectorName  = "dense"
	sparseVectorName = "sparse"
)

// QdrantIndex searches a Qdrant collection over its REST API. Hybrid search
// issues one query per channel and merges candidates by point ID.
type QdrantIndex struct {
	baseURL    string
	collection string
	client     *http.Client
}

// NewQdrantIndex creates an adapter for the given Qdrant instance and
// collection.
func NewQdrantIndex(baseURL, collection string) *QdrantIndex {
	return &QdrantIndex{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		collection: collection,
		client:     &http.Client{Timeout: 15 * time.Second},
	}
}

type qdrantSearchRequest struct {
	Vector      interface{} `json:"vector"`
	Limit       int         `json:"limit"`
	WithPayload bool        `json:"with_payload"`
}

type qdrantNamedVector struct {
	Name   string    `json:"name"`
	Vector []float32 `json:"vector"`
}

type qdrantNamedSparseVector struct {
	Name   string       `json:"name"`
	Vector sparseVector `json:"vector"`
}

type sparseVector struct {
	Indices []uint32  `json:"indices"`
	Values  []float64 `json:"values"`
}

type qdrantSearchResponse struct {
	Result []struct {
		ID      interface{}            `json:"id"`
		Score   float64                `json:"score"`
		Payload map[string]interface{} `json:"payload"`
	} `json:"result"`
	Status interface{} `json:"status"`
}

// HybridSearch queries the dense and sparse named vectors and merges the two
// result sets by point ID, keeping the raw score of each channel.
func (q *QdrantIndex) HybridSearch(ctx context.Context, dense []float32, sparse map[string]float64, limit int) ([]domain.Candidate, error) {
	merged := make(map[string]*domain.Candidate)
	var order []string

	if len(dense) > 0 {
		hits, err := q.search(ctx, qdrantNamedVector{Name: denseVectorName, Vector: dense}, limit)
		if err != nil {
			return nil, errors.Wrap(err, "dense search")
		}
		for _, h := range hits {
			merged[h.ID] = &domain.Candidate{ID: h.ID, Title: h.Title, Content: h.Content, DenseScore: h.Score}
			order = append(order, h.ID)
		}
	}

	if len(sparse) > 0 {
		hits, err := q.search(ctx, qdrantNamedSparseVector{Name: sparseVectorName, Vector: toSparseVector(sparse)}, limit)
		if err != nil {
			return nil, errors.Wrap(err, "sparse search")
		}
		for _, h := range hits {
			if c, ok := merged[h.ID]; ok {
				c.SparseScore = h.Score
				continue
			}
			merged[h.ID] = &domain.Candidate{ID: h.ID, Title: h.Title, Content: h.Content, SparseScore: h.Score}
			order = append(order, h.ID)
		}
	}

	candidates := make([]domain.Candidate, 0, len(order))
	for _, id := range order {
		candidates = append(candidates, *merged[id])
	}
	return candidates, nil
}

type qdrantHit struct {
	ID      string
	Title   string
	Content string
	Score   float64
}

func (q *QdrantIndex) search(ctx context.Context, vector interface{}, limit int) ([]qdrantHit, error) {
	body, err := json.Marshal(qdrantSearchRequest{
		Vector:      vector,
		Limit:       limit,
		WithPayload: true,
	})
	if err != nil {
		return nil, errors.Wrap(err, "marshalling search request")
	}

	url := q.baseURL + "/collections/" + q.collection + "/points/search"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, errors.Wrap(err, "creating search request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := q.client.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "search request failed")
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.Wrap(err, "reading search response")
	}
	if resp.StatusCode != http.StatusOK {
		return nil, errors.Errorf("qdrant returned %d: %s", resp.StatusCode, respBody)
	}

	var decoded qdrantSearchResponse
	if err := json.Unmarshal(respBody, &decoded); err != nil {
		return nil, errors.Wrap(err, "decoding search response")
	}

	hits := make([]qdrantHit, 0, len(decoded.Result))
	for _, r := range decoded.Result {
		hit := qdrantHit{Score: r.Score}
		switch id := r.ID.(type) {
		case string:
			hit.ID = id
		case float64:
			hit.ID = formatPointID(id)
		default:
			continue
		}
		if v, ok := r.Payload["title"].(string); ok {
			hit.Title = v
		}
		if v, ok := r.Payload["content"].(string); ok {
			hit.Content = v
		}
		hits = append(hits, hit)
	}
	return hits, nil
}

// toSparseVector maps term weights onto Qdrant's indices/values form using a
// stable hash of each term as the index.
func toSparseVector(weights map[string]float64) sparseVector {
	sv := sparseVector{
		Indices: make([]uint32, 0, len(weights)),
		Values:  make([]float64, 0, len(weights)),
	}
	for term, w := range weights {
		sv.Indices = append(sv.Indices, termIndex(term))
		sv.Values = append(sv.Values, w)
	}
	return sv
}

// termIndex is the FNV-1a 32-bit hash of the term, matching how documents
// are expected to have been indexed.
func termIndex(term string) uint32 {
	h := fnv.New32a()
	_, _ = h.Write([]byte(term))
	return h.Sum32()
}

func formatPointID(id float64) string {
	return strconv.FormatFloat(id, 'f', -1, 64)
}
