package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("VECTOR_BACKEND", "")
	t.Setenv("EMBEDDING_DIMENSION", "")
	t.Setenv("INGEST_STALE_AFTER", "")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, BackendPGVector, cfg.VectorBackend)
	assert.Equal(t, 1536, cfg.EmbeddingDimension)
	assert.Equal(t, 6*time.Hour, cfg.IngestStaleAfter)
	assert.Equal(t, 500, cfg.IngestBatchSize)
	assert.Equal(t, 16, cfg.HNSWM)
	assert.Equal(t, 64, cfg.HNSWEfConstruction)
	assert.InDelta(t, 0.3, cfg.MinSimilarity, 1e-9)
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("VECTOR_BACKEND", "Qdrant")
	t.Setenv("EMBEDDING_DIMENSION", "768")
	t.Setenv("INGEST_STALE_AFTER", "45m")
	t.Setenv("RETRIEVAL_MIN_SIMILARITY", "0.55")
	t.Setenv("SERVER_MODE", "true")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, BackendQdrant, cfg.VectorBackend)
	assert.Equal(t, 768, cfg.EmbeddingDimension)
	assert.Equal(t, 45*time.Minute, cfg.IngestStaleAfter)
	assert.InDelta(t, 0.55, cfg.MinSimilarity, 1e-9)
	assert.True(t, cfg.ServerMode)
}

func TestLoad_UnparseableFallsBackToDefault(t *testing.T) {
	t.Setenv("QDRANT_PORT", "not-a-port")
	t.Setenv("INGEST_STALE_AFTER", "soon")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 6334, cfg.QdrantPort)
	assert.Equal(t, 6*time.Hour, cfg.IngestStaleAfter)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{name: "valid", mutate: func(*Config) {}},
		{name: "unknown backend", mutate: func(c *Config) { c.VectorBackend = "faiss" }, wantErr: true},
		{name: "zero dimension", mutate: func(c *Config) { c.EmbeddingDimension = 0 }, wantErr: true},
		{name: "similarity above one", mutate: func(c *Config) { c.MinSimilarity = 1.5 }, wantErr: true},
		{name: "non-positive stale window", mutate: func(c *Config) { c.IngestStaleAfter = 0 }, wantErr: true},
		{name: "zero batch", mutate: func(c *Config) { c.EmbeddingBatchSize = 0 }, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &Config{
				VectorBackend:      BackendPGVector,
				EmbeddingDimension: 768,
				MinSimilarity:      0.3,
				IngestStaleAfter:   time.Hour,
				IngestBatchSize:    500,
				EmbeddingBatchSize: 100,
			}
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
