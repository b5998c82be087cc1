// Package main provides the threaddemand CLI: ingestion, scoring, text
// reconstruction, embedding backfill and index maintenance.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/nybblers/threaddemand/internal/config"
	"github.com/nybblers/threaddemand/internal/metrics"
	"github.com/nybblers/threaddemand/internal/storage"
	"github.com/nybblers/threaddemand/internal/vectorstore"
)

var (
	verbose     bool
	metricsAddr string
)

var rootCmd = &cobra.Command{
	Use:   "threaddemand",
	Short: "Forum dump demand pipeline",
	Long: `Batch jobs that load forum dumps into Postgres, score and reconstruct
threads, backfill embeddings and maintain the vector index.

Typical order:
  threaddemand migrate
  threaddemand ingest --dir ./dumps --year 2023
  threaddemand embed-posts
  threaddemand embed-comments
  threaddemand build-index

Environment variables:
  DATABASE_URL        Postgres connection string
  VECTOR_BACKEND      pgvector (default) or qdrant
  QDRANT_HOST         Qdrant hostname (default: localhost)
  QDRANT_PORT         Qdrant gRPC port (default: 6334)
  EMBEDDING_BASE_URL  OpenAI-compatible endpoint (default: hosted OpenAI)
  EMBEDDING_MODEL     Embedding model (default: text-embedding-3-small)
  EMBEDDING_DIMENSION Vector size (default: 1536)
  OPENAI_API_KEY      API key for the hosted provider`,
	SilenceUsage: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		level := slog.LevelInfo
		if verbose {
			level = slog.LevelDebug
		}
		slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "log per-batch detail")
	rootCmd.PersistentFlags().StringVar(&metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address while the job runs")
}

func main() {
	// Load .env file if present (local development), ignore if missing (production)
	_ = godotenv.Load()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer cancel()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

// app holds what every job needs: configuration, the migrated database
// and the metrics sink.
type app struct {
	cfg     *config.Config
	db      *storage.DB
	metrics *metrics.Metrics
	logger  *slog.Logger
}

func setup(ctx context.Context) (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}

	fmt.Println("Connecting to Postgres...")
	db, err := storage.Open(ctx, cfg.DatabaseURL, cfg.DatabaseMaxConns)
	if err != nil {
		return nil, fmt.Errorf("Failed to connect to Postgres: %w", err)
	}
	if err := db.Migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}

	reg := metrics.NewRegistry()
	if metricsAddr != "" {
		srv := &http.Server{Addr: metricsAddr, Handler: metrics.Handler(reg), ReadHeaderTimeout: 5 * time.Second}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				slog.Warn("Metrics server stopped", "error", err)
			}
		}()
	}

	return &app{cfg: cfg, db: db, metrics: metrics.New(reg), logger: slog.Default()}, nil
}

func (a *app) Close() {
	a.db.Close()
}

// vectors opens the configured backend after checking the deployment's
// pinned dimension.
func (a *app) vectors(ctx context.Context) (vectorstore.Store, error) {
	if err := a.db.CheckVectorConfig(ctx, a.cfg.VectorBackend, a.cfg.EmbeddingDimension); err != nil {
		return nil, err
	}
	store, err := vectorstore.Open(ctx, a.cfg, a.db)
	if err != nil {
		return nil, fmt.Errorf("Failed to open %s vector store: %w", a.cfg.VectorBackend, err)
	}
	if err := store.EnsureSchema(ctx); err != nil {
		store.Close()
		return nil, err
	}
	return store, nil
}

func parseNow(s string) (time.Time, error) {
	if s == "" {
		return time.Now().UTC(), nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("--now must be RFC 3339: %w", err)
	}
	return t.UTC(), nil
}
