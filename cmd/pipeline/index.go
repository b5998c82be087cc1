package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/nybblers/threaddemand/internal/vectorstore"
)

var indexFlags struct {
	m              int
	efConstruction int
	rebuild        bool
}

var buildIndexCmd = &cobra.Command{
	Use:   "build-index",
	Short: "Build the HNSW cosine index",
	Long: `Builds the approximate nearest neighbour index over post and comment
vectors. Idempotent; --rebuild drops and recreates it, for example after a
large backfill or to change parameters. Defaults come from HNSW_M and
HNSW_EF_CONSTRUCTION.`,
	RunE: func(cmd *cobra.Command, args []string) error {
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

		params := vectorstore.IndexParams{M: a.cfg.HNSWM, EfConstruction: a.cfg.HNSWEfConstruction, Rebuild: indexFlags.rebuild}
		if cmd.Flags().Changed("m") {
			params.M = indexFlags.m
		}
		if cmd.Flags().Changed("ef-construction") {
			params.EfConstruction = indexFlags.efConstruction
		}

		fmt.Printf("Building %s index (m=%d, ef_construction=%d)...\n", a.cfg.VectorBackend, params.M, params.EfConstruction)
		if err := store.EnsureIndex(ctx, params); err != nil {
			return err
		}
		fmt.Printf("Index ready in %s\n", time.Since(start).Round(time.Second))
		return nil
	},
}

func init() {
	f := buildIndexCmd.Flags()
	f.IntVar(&indexFlags.m, "m", 16, "HNSW links per node")
	f.IntVar(&indexFlags.efConstruction, "ef-construction", 64, "HNSW build-time candidate list size")
	f.BoolVar(&indexFlags.rebuild, "rebuild", false, "drop and recreate the index")
	rootCmd.AddCommand(buildIndexCmd)
}
