package vectordb

import (
	"encoding/json"
	"os"

	"github.com/pkg/errors"

	"github.com/seekhub/knowledge-mcp-server/internal/domain"
)

// LoadDocuments reads a JSON array of documents from disk, used to seed the
// in-memory index at startup.
func LoadDocuments(path string) ([]domain.Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "reading corpus file")
	}
	var docs []domain.Document
	if err := json.Unmarshal(data, &docs); err != nil {
		return nil, errors.Wrap(err, "parsing corpus file")
	}
	return docs, nil
}
