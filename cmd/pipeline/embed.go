package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/nybblers/threaddemand/internal/backfill"
	"github.com/nybblers/threaddemand/internal/embedding"
)

var embedFlags struct {
	community        string
	batchSize        int
	limit            int
	maxFailedBatches int
}

var embedPostsCmd = &cobra.Command{
	Use:   "embed-posts",
	Short: "Backfill post embeddings",
	Long: `Embeds the reconstructed text of every post that has none yet. The run is
resumable: vectors and markers are written per batch, and a failed batch
stays a candidate for the next run.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runEmbed(cmd, backfill.KindPosts)
	},
}

var embedCommentsCmd = &cobra.Command{
	Use:   "embed-comments",
	Short: "Backfill comment embeddings",
	Long:  `Embeds every comment with a non-empty body and no embedding yet.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runEmbed(cmd, backfill.KindComments)
	},
}

func init() {
	for _, c := range []*cobra.Command{embedPostsCmd, embedCommentsCmd} {
		f := c.Flags()
		f.StringVar(&embedFlags.community, "community", "", "limit to one community (default all)")
		f.IntVar(&embedFlags.batchSize, "batch-size", backfill.DefaultBatchSize, "rows per batch")
		f.IntVar(&embedFlags.limit, "limit", 0, "stop after this many rows (default no cap)")
		f.IntVar(&embedFlags.maxFailedBatches, "max-failed-batches", backfill.DefaultMaxFailedBatches, "abort after this many consecutive failed batches")
		rootCmd.AddCommand(c)
	}
}

func runEmbed(cmd *cobra.Command, kind backfill.Kind) error {
	ctx := cmd.Context()
	start := time.Now()
	a, err := setup(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	store, err := a.vectors(ctx)
	if err != nil {
		return err
	}
	defer store.Close()

	client, err := embedding.NewClient(embedding.ClientConfig{
		APIKey:  a.cfg.EmbeddingAPIKey,
		BaseURL: a.cfg.EmbeddingBaseURL,
	})
	if err != nil {
		return fmt.Errorf("Failed to create embedding client: %w", err)
	}
	embedder := embedding.NewEmbedder(client, embedding.Options{
		Model:             a.cfg.EmbeddingModel,
		Dimension:         a.cfg.EmbeddingDimension,
		BatchSize:         a.cfg.EmbeddingBatchSize,
		RequestsPerMinute: a.cfg.EmbeddingRPM,
		RetryWindow:       a.cfg.EmbeddingRetryWindow,
	})

	fmt.Printf("Embedding %s with %s (%d dims)...\n", kind, embedder.Model(), embedder.Dimension())
	worker := backfill.New(a.db, embedder, store, a.metrics, a.logger)
	res, err := worker.Run(ctx, backfill.Options{
		Kind:             kind,
		Community:        embedFlags.community,
		BatchSize:        embedFlags.batchSize,
		Limit:            embedFlags.limit,
		MaxFailedBatches: embedFlags.maxFailedBatches,
	})

	fmt.Println()
	fmt.Printf("  Embedded: %d rows in %d batches\n", res.Embedded, res.Batches)
	if res.FailedBatches > 0 {
		fmt.Printf("  Failed: %d batches (%d rows), retried on the next run\n", res.FailedBatches, res.FailedRows)
	}
	fmt.Printf("  Duration: %s\n", time.Since(start).Round(time.Second))
	return err
}
