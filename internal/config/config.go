// Package config loads pipeline and server settings from the environment.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Vector backends.
const (
	BackendPGVector = "pgvector"
	BackendQdrant   = "qdrant"
)

// Config holds every environment-driven setting. CLI flags override the
// per-job scope values (community, limits, batch sizes) at call sites.
type Config struct {
	DatabaseURL      string
	DatabaseMaxConns int

	VectorBackend string
	QdrantHost    string
	QdrantPort    int

	EmbeddingBaseURL     string
	EmbeddingModel       string
	EmbeddingDimension   int
	EmbeddingAPIKey      string
	EmbeddingBatchSize   int
	EmbeddingRPM         int
	EmbeddingRetryWindow time.Duration

	IngestBatchSize  int
	IngestStaleAfter time.Duration
	TopComments      int

	MinSimilarity  float64
	MaxMatches     int
	QueryCacheSize int

	HNSWM              int
	HNSWEfConstruction int

	Port       string
	ServerMode bool
}

// Load reads the configuration from the environment and validates it.
func Load() (*Config, error) {
	cfg := &Config{
		DatabaseURL:      getEnv("DATABASE_URL", "postgres://localhost:5432/threaddemand"),
		DatabaseMaxConns: getEnvInt("DATABASE_MAX_CONNS", 10),

		VectorBackend: strings.ToLower(getEnv("VECTOR_BACKEND", BackendPGVector)),
		QdrantHost:    getEnv("QDRANT_HOST", "localhost"),
		QdrantPort:    getEnvInt("QDRANT_PORT", 6334),

		EmbeddingBaseURL:     getEnv("EMBEDDING_BASE_URL", ""),
		EmbeddingModel:       getEnv("EMBEDDING_MODEL", "text-embedding-3-small"),
		EmbeddingDimension:   getEnvInt("EMBEDDING_DIMENSION", 1536),
		EmbeddingAPIKey:      getEnv("OPENAI_API_KEY", ""),
		EmbeddingBatchSize:   getEnvInt("EMBEDDING_BATCH_SIZE", 100),
		EmbeddingRPM:         getEnvInt("EMBEDDING_REQUESTS_PER_MINUTE", 0),
		EmbeddingRetryWindow: getEnvDuration("EMBEDDING_RETRY_WINDOW", 30*time.Second),

		IngestBatchSize:  getEnvInt("INGEST_BATCH_SIZE", 500),
		IngestStaleAfter: getEnvDuration("INGEST_STALE_AFTER", 6*time.Hour),
		TopComments:      getEnvInt("RECONSTRUCT_TOP_COMMENTS", 0),

		MinSimilarity:  getEnvFloat("RETRIEVAL_MIN_SIMILARITY", 0.3),
		MaxMatches:     getEnvInt("RETRIEVAL_MAX_MATCHES", 10000),
		QueryCacheSize: getEnvInt("QUERY_CACHE_SIZE", 256),

		HNSWM:              getEnvInt("HNSW_M", 16),
		HNSWEfConstruction: getEnvInt("HNSW_EF_CONSTRUCTION", 64),

		Port:       getEnv("PORT", "8080"),
		ServerMode: getEnv("SERVER_MODE", "false") == "true",
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects settings no component can run with.
func (c *Config) Validate() error {
	switch c.VectorBackend {
	case BackendPGVector, BackendQdrant:
	default:
		return fmt.Errorf("VECTOR_BACKEND must be %q or %q, got %q", BackendPGVector, BackendQdrant, c.VectorBackend)
	}
	if c.EmbeddingDimension <= 0 {
		return fmt.Errorf("EMBEDDING_DIMENSION must be positive, got %d", c.EmbeddingDimension)
	}
	if c.MinSimilarity < -1 || c.MinSimilarity > 1 {
		return fmt.Errorf("RETRIEVAL_MIN_SIMILARITY must be within [-1, 1], got %g", c.MinSimilarity)
	}
	if c.IngestStaleAfter <= 0 {
		return fmt.Errorf("INGEST_STALE_AFTER must be positive, got %s", c.IngestStaleAfter)
	}
	if c.IngestBatchSize <= 0 || c.EmbeddingBatchSize <= 0 {
		return fmt.Errorf("batch sizes must be positive")
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return defaultValue
}
