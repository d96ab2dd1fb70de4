// Package embedding provides the dense and sparse query embedders consumed
// by the search service.
package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/pkg/errors"
)

const (
	defaultBaseURL = "http://localhost:11434/api/embed"
	defaultModel   = "nomic-embed-text"
	maxRetries     = 3
	initialDelay   = 500 * time.Millisecond
)

// OllamaClient generates dense embeddings via an Ollama-compatible HTTP
// endpoint. Uses the nomic "search_query: " task prefix for queries.
type OllamaClient struct {
	baseURL string
	model   string
	client  *http.Client
}

// OllamaOption configures an OllamaClient.
type OllamaOption func(*OllamaClient)

// WithBaseURL sets the embedding endpoint URL.
func WithBaseURL(url string) OllamaOption {
	return func(c *OllamaClient) {
		if url != "" {
			c.baseURL = url
		}
	}
}

// WithModel sets the embedding model name.
func WithModel(model string) OllamaOption {
	return func(c *OllamaClient) {
		if model != "" {
			c.model = model
		}
	}
}

// WithHTTPClient overrides the HTTP client, mainly for tests.
func WithHTTPClient(client *http.Client) OllamaOption {
	return func(c *OllamaClient) { c.client = client }
}

// NewOllamaClient creates a dense embedding client.
func NewOllamaClient(opts ...OllamaOption) *OllamaClient {
	c := &OllamaClient{
		baseURL: defaultBaseURL,
		model:   defaultModel,
		client:  &http.Client{Timeout: 30 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type embedRequest struct {
	Model string `json:"model"`
	Input string `json:"input"`
}

type embedResponse struct {
	Embeddings [][]float32 `json:"embeddings"`
}

// EmbedQuery embeds a search query.
func (c *OllamaClient) EmbedQuery(ctx context.Context, query string) ([]float32, error) {
	return c.embed(ctx, "search_query: "+query)
}

// EmbedDocument embeds a text for indexing. Uses the asymmetric
// "search_document: " prefix.
func (c *OllamaClient) EmbedDocument(ctx context.Context, text string) ([]float32, error) {
	return c.embed(ctx, "search_document: "+text)
}

func (c *OllamaClient) embed(ctx context.Context, text string) ([]float32, error) {
	body, err := json.Marshal(embedRequest{Model: c.model, Input: text})
	if err != nil {
		return nil, errors.Wrap(err, "marshalling embed request")
	}

	var lastErr error
	for attempt := 0; attempt < maxRetries; attempt++ {
		if attempt > 0 {
			delay := initialDelay << uint(attempt-1)
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL, bytes.NewReader(body))
		if err != nil {
			return nil, errors.Wrap(err, "creating embed request")
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := c.client.Do(req)
		if err != nil {
			lastErr = errors.Wrap(err, "embedding request failed")
			continue
		}

		respBody, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			lastErr = errors.Wrap(err, "reading embed response")
			continue
		}

		if resp.StatusCode != http.StatusOK {
			lastErr = errors.Errorf("embedding endpoint returned %d: %s", resp.StatusCode, respBody)
			if resp.StatusCode >= 500 {
				continue
			}
			return nil, lastErr
		}

		var decoded embedResponse
		if err := json.Unmarshal(respBody, &decoded); err != nil {
			return nil, errors.Wrap(err, "decoding embed response")
		}
		if len(decoded.Embeddings) == 0 {
			return nil, errors.New("no embeddings returned")
		}
		return decoded.Embeddings[0], nil
	}
	return nil, lastErr
}
