package vectorstore

import (
	"context"
	"fmt"

	"github.com/nybblers/threaddemand/internal/config"
	"github.com/nybblers/threaddemand/internal/storage"
)

var errDimension = storage.ErrDimensionMismatch

// Open returns the backend selected by cfg.VectorBackend. The pgvector
// backend shares db's pool; the Qdrant backend records embedded markers
// through db.
func Open(ctx context.Context, cfg *config.Config, db *storage.DB) (Store, error) {
	switch cfg.VectorBackend {
	case config.BackendPGVector:
		return NewPGStore(db.Pool(), cfg.EmbeddingDimension), nil
	case config.BackendQdrant:
		return NewQdrantStore(ctx, QdrantOptions{
			Host:      cfg.QdrantHost,
			Port:      cfg.QdrantPort,
			Dimension: cfg.EmbeddingDimension,
		}, db)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownBackend, cfg.VectorBackend)
	}
}
