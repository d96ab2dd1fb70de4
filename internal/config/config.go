// Package config loads the immutable server configuration from the
// environment, with documented defaults for every knob.
package config

import (
	"time"

	"github.com/joeshaw/envdecode"
	"github.com/pkg/errors"
)

// Config holds every tunable of the retrieval server. All fields have
// defaults so an empty environment yields a working development setup.
type Config struct {
	// Addr is the listen address of the HTTP server.
	Addr string `env:"KNOW_ADDR,default=:8080"`

	// EndpointPath is the single HTTP path the transport serves.
	EndpointPath string `env:"KNOW_ENDPOINT_PATH,default=/mcp"`

	// SessionTimeout is the idle lifetime of a session.
	SessionTimeout time.Duration `env:"KNOW_SESSION_TIMEOUT,default=30m"`

	// SweepInterval is how often expired sessions are reaped.
	SweepInterval time.Duration `env:"KNOW_SWEEP_INTERVAL,default=60s"`

	// AllowedOrigins is a ';'-separated allow-list for the Origin header.
	// Empty means any origin is allowed (development mode). Entries may be
	// exact, "*", or a prefix ending in "*".
	AllowedOrigins []string `env:"KNOW_ALLOWED_ORIGINS"`

	// LogLevel is one of debug, info, warn, error.
	LogLevel string `env:"KNOW_LOG_LEVEL,default=info"`

	// MaxResults caps the limit argument of search calls.
	MaxResults int `env:"KNOW_MAX_RESULTS,default=20"`

	// EmbedURL is the embedding endpoint for dense vectors.
	EmbedURL string `env:"KNOW_EMBED_URL,default=http://localhost:11434/api/embed"`

	// EmbedModel is the embedding model name.
	EmbedModel string `env:"KNOW_EMBED_MODEL,default=nomic-embed-text"`

	// QdrantURL points at a Qdrant instance. Empty selects the in-memory index.
	QdrantURL string `env:"KNOW_QDRANT_URL"`

	// QdrantCollection is the Qdrant collection searched.
	QdrantCollection string `env:"KNOW_QDRANT_COLLECTION,default=domain_knowledge"`

	// CorpusPath is an optional JSON file of documents loaded into the
	// in-memory index at startup.
	CorpusPath string `env:"KNOW_CORPUS_PATH"`

	// DenseWeight and SparseWeight are the default hybrid ranking weights.
	DenseWeight  float64 `env:"KNOW_DENSE_WEIGHT,default=0.7"`
	SparseWeight float64 `env:"KNOW_SPARSE_WEIGHT,default=0.3"`
}

// Load reads the configuration from the environment.
func Load() (Config, error) {
	var cfg Config
	if err := envdecode.Decode(&cfg); err != nil && err != envdecode.ErrNoTargetFieldsAreSet {
		return Config{}, errors.Wrap(err, "decoding environment")
	}
	return cfg, nil
}
