// Package main provides the MCP server entry point for demand analytics.
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/nybblers/threaddemand/internal/config"
	"github.com/nybblers/threaddemand/internal/embedding"
	mcpserver "github.com/nybblers/threaddemand/internal/mcp"
	"github.com/nybblers/threaddemand/internal/metrics"
	"github.com/nybblers/threaddemand/internal/retrieval"
	"github.com/nybblers/threaddemand/internal/storage"
	"github.com/nybblers/threaddemand/internal/vectorstore"
)

func main() {
	// Load .env file if present (local development), ignore if missing (production)
	if err := godotenv.Load(); err != nil {
		slog.Info("No .env file found, using environment variables")
	}
	// Stdout carries the stdio transport, so logs go to stderr.
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	slog.SetDefault(logger)

	if err := run(logger); err != nil {
		logger.Error("Server stopped", "error", err)
		os.Exit(1)
	}
}

func run(logger *slog.Logger) error {
	// Create context that cancels on SIGTERM/SIGINT
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer cancel()

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	db, err := storage.Open(ctx, cfg.DatabaseURL, cfg.DatabaseMaxConns)
	if err != nil {
		return err
	}
	defer db.Close()
	if err := db.Migrate(ctx); err != nil {
		return err
	}
	if err := db.CheckVectorConfig(ctx, cfg.VectorBackend, cfg.EmbeddingDimension); err != nil {
		return err
	}

	vectors, err := vectorstore.Open(ctx, cfg, db)
	if err != nil {
		return err
	}
	defer vectors.Close()
	if err := vectors.EnsureSchema(ctx); err != nil {
		return err
	}

	client, err := embedding.NewClient(embedding.ClientConfig{APIKey: cfg.EmbeddingAPIKey, BaseURL: cfg.EmbeddingBaseURL})
	if err != nil {
		return err
	}
	embedder := embedding.NewEmbedder(client, embedding.Options{
		Model:             cfg.EmbeddingModel,
		Dimension:         cfg.EmbeddingDimension,
		BatchSize:         cfg.EmbeddingBatchSize,
		RequestsPerMinute: cfg.EmbeddingRPM,
		RetryWindow:       cfg.EmbeddingRetryWindow,
	})

	reg := metrics.NewRegistry()
	m := metrics.New(reg)
	engine, err := retrieval.NewEngine(db, vectors, embedder, retrieval.Options{
		MinSimilarity: &cfg.MinSimilarity,
		MaxMatches:    cfg.MaxMatches,
		CacheSize:     cfg.QueryCacheSize,
	}, m, logger)
	if err != nil {
		return err
	}

	server := mcpserver.NewServer(&mcpserver.Config{Engine: engine, Ingest: db})

	mux := http.NewServeMux()
	mux.HandleFunc("/", mcpserver.NewLandingHandler())
	mux.HandleFunc("/health", mcpserver.NewHealthHandler(db, vectors))
	mux.Handle("/mcp", mcpserver.NewHTTPHandler(server, nil))
	mux.Handle("/metrics", metrics.Handler(reg))

	httpServer := &http.Server{
		Addr:              "0.0.0.0:" + cfg.Port,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		httpServer.Shutdown(shutdownCtx)
	}()

	if cfg.ServerMode {
		// HTTP mode: serve MCP over HTTP for remote clients
		logger.Info("Starting HTTP server", "addr", httpServer.Addr, "backend", cfg.VectorBackend)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}

	// Stdio mode: run MCP over stdin/stdout for local clients, with health
	// and metrics on HTTP in the background.
	go func() {
		logger.Info("Starting health server", "addr", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Warn("Health server error", "error", err)
		}
	}()
	logger.Info("Starting threaddemand MCP server (stdio mode)", "backend", cfg.VectorBackend)
	return server.Run(ctx)
}
