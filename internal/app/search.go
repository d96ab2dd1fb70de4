// Package app wires configuration into the concrete infrastructure the
// commands share.
package app

import (
	"context"

	"github.com/pkg/errors"

	"github.com/seekhub/knowledge-mcp-server/internal/config"
	"github.com/seekhub/knowledge-mcp-server/internal/domain"
	"github.com/seekhub/knowledge-mcp-server/internal/infrastructure/embedding"
	"github.com/seekhub/knowledge-mcp-server/internal/infrastructure/logging"
	"github.com/seekhub/knowledge-mcp-server/internal/infrastructure/vectordb"
	"github.com/seekhub/knowledge-mcp-server/internal/usecases/search"
)

// NewSearchService builds the hybrid search service from configuration.
// When a Qdrant URL is configured the service searches that collection;
// otherwise it indexes the corpus file into an in-memory index at startup.
func NewSearchService(ctx context.Context, cfg config.Config, logger *logging.Logger) (*search.Service, error) {
	dense := embedding.NewOllamaClient(
		embedding.WithBaseURL(cfg.EmbedURL),
		embedding.WithModel(cfg.EmbedModel),
	)
	sparse := embedding.NewTermEmbedder()

	var searcher domain.VectorSearcher
	if cfg.QdrantURL != "" {
		searcher = vectordb.NewQdrantIndex(cfg.QdrantURL, cfg.QdrantCollection)
		logger.Info("using qdrant index", logging.Fields{
			"url":        cfg.QdrantURL,
			"collection": cfg.QdrantCollection,
		})
	} else {
		index := vectordb.NewMemoryIndex()
		if cfg.CorpusPath != "" {
			if err := indexCorpus(ctx, index, dense, sparse, cfg.CorpusPath); err != nil {
				return nil, err
			}
		}
		logger.Info("using in-memory index", logging.Fields{"documents": index.Len()})
		searcher = index
	}

	return search.NewService(dense, sparse, searcher, search.Options{
		MaxResults:   cfg.MaxResults,
		DenseWeight:  cfg.DenseWeight,
		SparseWeight: cfg.SparseWeight,
	}, logger), nil
}

func indexCorpus(ctx context.Context, index *vectordb.MemoryIndex, dense *embedding.OllamaClient, sparse *embedding.TermEmbedder, path string) error {
	docs, err := vectordb.LoadDocuments(path)
	if err != nil {
		return errors.Wrap(err, "loading corpus")
	}
	for _, doc := range docs {
		denseVec, err := dense.EmbedDocument(ctx, doc.Content)
		if err != nil {
			return errors.Wrapf(err, "embedding document %q", doc.ID)
		}
		sparseVec, err := sparse.EmbedDocument(ctx, doc.Content)
		if err != nil {
			return errors.Wrapf(err, "tokenizing document %q", doc.ID)
		}
		index.Add(doc, denseVec, sparseVec)
	}
	return nil
}
