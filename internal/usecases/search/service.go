// Package search implements the hybrid domain-knowledge search service and
// exposes it as the query_domain_knowledge tool.
package search

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"sort"

	"github.com/invopop/jsonschema"

	"github.com/seekhub/knowledge-mcp-server/internal/domain"
	"github.com/seekhub/knowledge-mcp-server/internal/infrastructure/logging"
)

// ToolName is the name the search service registers under in the catalog.
const ToolName = "query_domain_knowledge"

const defaultLimit = 10

// weightSumTolerance bounds how far the two hybrid weights may drift from
// summing to exactly 1.0.
const weightSumTolerance = 0.01

// Arguments is the input contract of the query_domain_knowledge tool. The
// JSON schema served by tools/list is reflected from this struct.
type Arguments struct {
	Query          string   `json:"query" jsonschema:"title=Query,description=Natural-language question to search the domain knowledge base for"`
	Limit          *int     `json:"limit,omitempty" jsonschema:"title=Limit,description=Maximum number of results to return"`
	ScoreThreshold *float64 `json:"scoreThreshold,omitempty" jsonschema:"title=Score threshold,description=Minimum combined score a result must reach (0 to 1)"`
	DenseWeight    *float64 `json:"denseWeight,omitempty" jsonschema:"title=Dense weight,description=Weight of the semantic similarity score"`
	SparseWeight   *float64 `json:"sparseWeight,omitempty" jsonschema:"title=Sparse weight,description=Weight of the keyword similarity score"`
}

// Options configures the search service.
type Options struct {
	// MaxResults caps the limit argument.
	MaxResults int
	// DenseWeight and SparseWeight are the default hybrid weights applied
	// when the caller supplies none.
	DenseWeight  float64
	SparseWeight float64
}

// Service ranks knowledge-base documents by a weighted sum of dense
// (semantic) and sparse (keyword) similarity.
type Service struct {
	dense    domain.DenseEmbedder
	sparse   domain.SparseEmbedder
	searcher domain.VectorSearcher
	opts     Options
	logger   *logging.Logger
}

// NewService creates a search service over the given embedders and index.
func NewService(dense domain.DenseEmbedder, sparse domain.SparseEmbedder, searcher domain.VectorSearcher, opts Options, logger *logging.Logger) *Service {
	if opts.MaxResults <= 0 {
		opts.MaxResults = 20
	}
	if opts.DenseWeight == 0 && opts.SparseWeight == 0 {
		opts.DenseWeight, opts.SparseWeight = 0.7, 0.3
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Service{
		dense:    dense,
		sparse:   sparse,
		searcher: searcher,
		opts:     opts,
		logger:   logger,
	}
}

// Tool returns the catalog descriptor of the search tool.
func (s *Service) Tool() *domain.Tool {
	reflector := jsonschema.Reflector{
		DoNotReference: true,
		Anonymous:      true,
	}
	schema := reflector.Reflect(&Arguments{})
	return &domain.Tool{
		Name:        ToolName,
		Description: "Search the domain knowledge base using hybrid semantic and keyword retrieval.",
		InputSchema: schema,
	}
}

// Handle executes one search call. Validation and downstream failures are
// reported with Success=false; the catalog contract forbids returning a Go
// error across this boundary.
func (s *Service) Handle(ctx context.Context, rawArgs map[string]interface{}) *domain.ToolOutcome {
	args, err := decodeArguments(rawArgs)
	if err != nil {
		return failure(err.Error())
	}

	limit := defaultLimit
	if limit > s.opts.MaxResults {
		limit = s.opts.MaxResults
	}
	if args.Limit != nil {
		limit = *args.Limit
		if limit < 1 || limit > s.opts.MaxResults {
			return failure(fmt.Sprintf("limit must be between 1 and %d", s.opts.MaxResults))
		}
	}

	threshold := 0.0
	if args.ScoreThreshold != nil {
		threshold = *args.ScoreThreshold
		if threshold < 0 || threshold > 1 {
			return failure("scoreThreshold must be between 0 and 1")
		}
	}

	denseWeight, sparseWeight, err := s.resolveWeights(args)
	if err != nil {
		return failure(err.Error())
	}

	denseVec, err := s.dense.EmbedQuery(ctx, args.Query)
	if err != nil {
		s.logger.Error("dense embedding failed", logging.Fields{"error": err.Error()})
		return failure("embedding query: " + err.Error())
	}
	sparseVec, err := s.sparse.EmbedQuery(ctx, args.Query)
	if err != nil {
		s.logger.Error("sparse embedding failed", logging.Fields{"error": err.Error()})
		return failure("embedding query: " + err.Error())
	}

	// Over-fetch so threshold filtering still leaves enough candidates.
	candidates, err := s.searcher.HybridSearch(ctx, denseVec, sparseVec, limit*4)
	if err != nil {
		s.logger.Error("vector search failed", logging.Fields{"error": err.Error()})
		return failure("searching index: " + err.Error())
	}

	results := make([]domain.SearchResult, 0, len(candidates))
	for _, c := range candidates {
		score := c.DenseScore*denseWeight + c.SparseScore*sparseWeight
		if score < threshold {
			continue
		}
		results = append(results, domain.SearchResult{
			ID:      c.ID,
			Title:   c.Title,
			Content: c.Content,
			Score:   score,
		})
	}
	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Score > results[j].Score
	})
	if len(results) > limit {
		results = results[:limit]
	}

	s.logger.Debug("search complete", logging.Fields{
		"query":   args.Query,
		"results": len(results),
	})
	return &domain.ToolOutcome{Success: true, Results: results}
}

// resolveWeights applies the weight validation rules: when only one weight is
// supplied the other is derived as its complement; when both are supplied
// each must lie in [0,1] and their sum must be within the tolerance of 1.0.
func (s *Service) resolveWeights(args *Arguments) (float64, float64, error) {
	dense, sparse := s.opts.DenseWeight, s.opts.SparseWeight
	switch {
	case args.DenseWeight != nil && args.SparseWeight != nil:
		dense, sparse = *args.DenseWeight, *args.SparseWeight
	case args.DenseWeight != nil:
		dense = *args.DenseWeight
		sparse = 1 - dense
	case args.SparseWeight != nil:
		sparse = *args.SparseWeight
		dense = 1 - sparse
	default:
		return dense, sparse, nil
	}
	if dense < 0 || dense > 1 || sparse < 0 || sparse > 1 {
		return 0, 0, fmt.Errorf("hybrid weights must be between 0 and 1")
	}
	if math.Abs(dense+sparse-1) > weightSumTolerance {
		return 0, 0, fmt.Errorf("hybrid weights must sum to 1.0")
	}
	return dense, sparse, nil
}

func decodeArguments(rawArgs map[string]interface{}) (*Arguments, error) {
	raw, err := json.Marshal(rawArgs)
	if err != nil {
		return nil, fmt.Errorf("invalid arguments")
	}
	var args Arguments
	if err := json.Unmarshal(raw, &args); err != nil {
		return nil, fmt.Errorf("invalid arguments: %v", err)
	}
	if args.Query == "" {
		return nil, fmt.Errorf("query is required")
	}
	return &args, nil
}

func failure(msg string) *domain.ToolOutcome {
	return &domain.ToolOutcome{Success: false, Error: msg}
}
