package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/nybblers/threaddemand/internal/activity"
	"github.com/nybblers/threaddemand/internal/dump"
	"github.com/nybblers/threaddemand/internal/ingest"
	"github.com/nybblers/threaddemand/internal/reconstruct"
)

var ingestFlags struct {
	posts       string
	comments    string
	dir         string
	community   string
	year        int
	limit       int64
	skipStats   bool
	concurrency int
}

var ingestCmd = &cobra.Command{
	Use:   "ingest",
	Short: "Load submissions and comments dumps",
	Long: `Streams one community's dump pair (--posts/--comments) or every pair found
in --dir into Postgres. Each (file, year) is loaded at most once: completed
keys are skipped and interrupted ones are retried on the next run.

After a pair lands, orphan comments are linked to their posts and the
touched posts are scored and reconstructed unless --skip-stats is set.`,
	RunE: runIngest,
}

func init() {
	f := ingestCmd.Flags()
	f.StringVar(&ingestFlags.posts, "posts", "", "submissions dump (.zst or .jsonl)")
	f.StringVar(&ingestFlags.comments, "comments", "", "comments dump (.zst or .jsonl)")
	f.StringVar(&ingestFlags.dir, "dir", "", "directory of <community>_submissions / <community>_comments dumps")
	f.StringVar(&ingestFlags.community, "community", "", "community name (default derived from the file names)")
	f.IntVar(&ingestFlags.year, "year", 0, "only load records created in this UTC year")
	f.Int64Var(&ingestFlags.limit, "limit", 0, "stop each file after this many rows, leaving it retryable")
	f.BoolVar(&ingestFlags.skipStats, "skip-stats", false, "skip scoring and text reconstruction")
	f.IntVar(&ingestFlags.concurrency, "concurrency", 2, "communities loaded in parallel with --dir")
	ingestCmd.MarkFlagsMutuallyExclusive("dir", "posts")
	ingestCmd.MarkFlagsMutuallyExclusive("dir", "comments")
	rootCmd.AddCommand(ingestCmd)
}

func runIngest(cmd *cobra.Command, args []string) error {
	if ingestFlags.dir == "" && ingestFlags.posts == "" && ingestFlags.comments == "" {
		return errors.New("one of --dir, --posts or --comments is required")
	}

	ctx := cmd.Context()
	start := time.Now()
	a, err := setup(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	scorer := activity.NewScorer(a.db, a.logger)
	recon := reconstruct.New(a.db, a.cfg.TopComments, a.logger)
	loader := ingest.NewLoader(a.db, scorer, recon, a.metrics, a.logger).
		WithBatchSize(a.cfg.IngestBatchSize).
		WithStaleAfter(a.cfg.IngestStaleAfter)
	opts := ingest.Options{Year: ingestFlags.year, Limit: ingestFlags.limit, SkipStats: ingestFlags.skipStats}

	var results []*ingest.PairResult
	if ingestFlags.dir != "" {
		fmt.Printf("Ingesting dumps from %s...\n", ingestFlags.dir)
		results, err = loader.IngestDir(ctx, ingestFlags.dir, opts, ingestFlags.concurrency)
	} else {
		pair := dump.Pair{
			Community:   ingestFlags.community,
			Submissions: ingestFlags.posts,
			Comments:    ingestFlags.comments,
		}
		if pair.Community == "" {
			pair.Community = dump.CommunityFromPath(pair.Submissions)
		}
		if pair.Community == "" {
			pair.Community = dump.CommunityFromPath(pair.Comments)
		}
		if pair.Community == "" {
			return errors.New("cannot derive the community from the file names; pass --community")
		}
		fmt.Printf("Ingesting %s...\n", pair.Community)
		var res *ingest.PairResult
		res, err = loader.IngestPair(ctx, pair, opts)
		if res != nil {
			results = append(results, res)
		}
	}

	fmt.Println()
	for _, r := range results {
		printPair(r)
	}
	fmt.Printf("Total time: %s\n", time.Since(start).Round(time.Second))
	return err
}

func printPair(r *ingest.PairResult) {
	fmt.Printf("%s (%s)\n", r.Community, r.Duration.Round(time.Second))
	for _, f := range []ingest.FileResult{r.Posts, r.Comments} {
		if f.Status == ingest.FileAbsent {
			continue
		}
		fmt.Printf("  %-40s %-16s inserted=%d skipped=%d out_of_year=%d\n",
			f.File, f.Status, f.Inserted, f.Skipped, f.OutOfYear)
	}
	if r.Linked > 0 || r.Scored > 0 || r.Reconstructed > 0 {
		fmt.Printf("  linked=%d scored=%d reconstructed=%d\n", r.Linked, r.Scored, r.Reconstructed)
	}
}
