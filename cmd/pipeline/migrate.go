package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/nybblers/threaddemand/internal/vectorstore"
)

var (
	migrateReembed bool
	migrateDim     int
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create tables and vector columns",
	Long: `Creates every table and index, pins the vector backend and dimension on
first use and creates the backend's vector columns or collections.

With --reembed the stored vectors are dropped, every embedded marker is
cleared and the new dimension is pinned in one transaction. Run
embed-posts and embed-comments afterwards.`,
	RunE: runMigrate,
}

func init() {
	migrateCmd.Flags().BoolVar(&migrateReembed, "reembed", false, "drop all vectors and markers and switch dimension")
	migrateCmd.Flags().IntVar(&migrateDim, "dim", 0, "new vector dimension with --reembed (default EMBEDDING_DIMENSION)")
	rootCmd.AddCommand(migrateCmd)
}

func runMigrate(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	a, err := setup(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	if !migrateReembed {
		store, err := a.vectors(ctx)
		if err != nil {
			return err
		}
		defer store.Close()
		fmt.Printf("Schema ready (%s, %d dims)\n", a.cfg.VectorBackend, a.cfg.EmbeddingDimension)
		return nil
	}

	if migrateDim > 0 {
		a.cfg.EmbeddingDimension = migrateDim
	}
	fmt.Printf("Resetting embeddings to %d dims...\n", a.cfg.EmbeddingDimension)
	if err := a.db.ResetEmbeddings(ctx, a.cfg.VectorBackend, a.cfg.EmbeddingDimension); err != nil {
		return err
	}
	store, err := vectorstore.Open(ctx, a.cfg, a.db)
	if err != nil {
		return err
	}
	defer store.Close()
	if err := store.Reset(ctx); err != nil {
		return err
	}
	if err := store.EnsureSchema(ctx); err != nil {
		return err
	}
	fmt.Println("Embeddings reset; run embed-posts and embed-comments to backfill.")
	return nil
}
