package domain

import "context"

// ToolCatalog defines the interface the dispatcher consumes to list and
// invoke tools. Invoke returns an error only when the named tool does not
// exist; every other failure is reported inside the ToolOutcome.
type ToolCatalog interface {
	// ListTools returns the current tool descriptors.
	ListTools(ctx context.Context) []*Tool

	// Invoke runs the named tool with the given arguments.
	Invoke(ctx context.Context, name string, args map[string]interface{}) (*ToolOutcome, error)
}

// DenseEmbedder generates a dense vector embedding for a piece of text.
type DenseEmbedder interface {
	// EmbedQuery embeds a search query.
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
}

// SparseEmbedder generates a sparse term-weight vector for a piece of text.
type SparseEmbedder interface {
	// EmbedQuery produces term weights for a search query.
	EmbedQuery(ctx context.Context, text string) (map[string]float64, error)
}

// VectorSearcher searches an index with both a dense and a sparse query
// vector and returns candidates scored per channel.
type VectorSearcher interface {
	// HybridSearch returns up to limit candidates with raw dense and sparse
	// similarity scores. Either vector may be empty, in which case that
	// channel contributes a zero score.
	HybridSearch(ctx context.Context, dense []float32, sparse map[string]float64, limit int) ([]Candidate, error)
}
