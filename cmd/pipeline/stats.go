package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/nybblers/threaddemand/internal/activity"
	"github.com/nybblers/threaddemand/internal/reconstruct"
)

var (
	statsCommunity string
	scoreNow       string
	topComments    int
)

var scoreCmd = &cobra.Command{
	Use:   "score",
	Short: "Recompute activity fields",
	Long: `Recomputes last_comment_at, recent_comment_count and activity_ratio for
every post of --community, or for the whole corpus. Use --now to score a
historical dump as of a past instant.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		now, err := parseNow(scoreNow)
		if err != nil {
			return err
		}
		a, err := setup(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		n, err := activity.NewScorer(a.db, a.logger).ScoreCommunity(ctx, statsCommunity, now)
		if err != nil {
			return err
		}
		fmt.Printf("Scored %d posts as of %s\n", n, now.Format("2006-01-02T15:04:05Z07:00"))
		return nil
	},
}

var reconstructCmd = &cobra.Command{
	Use:   "reconstruct",
	Short: "Build the text that gets embedded",
	Long: `Fills reconstructed_text for posts that have none. Posts that already have
text are left alone; a post whose body changed on re-ingest had its text
cleared and is rebuilt here.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := setup(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		n := topComments
		if !cmd.Flags().Changed("top-comments") {
			n = a.cfg.TopComments
		}
		built, err := reconstruct.New(a.db, n, a.logger).ReconstructCommunity(ctx, statsCommunity)
		if err != nil {
			return err
		}
		fmt.Printf("Reconstructed %d posts\n", built)
		return nil
	},
}

func init() {
	for _, c := range []*cobra.Command{scoreCmd, reconstructCmd} {
		c.Flags().StringVar(&statsCommunity, "community", "", "limit to one community (default all)")
		rootCmd.AddCommand(c)
	}
	scoreCmd.Flags().StringVar(&scoreNow, "now", "", "RFC 3339 scoring instant (default current time)")
	reconstructCmd.Flags().IntVar(&topComments, "top-comments", 0, "append this many top comments (default RECONSTRUCT_TOP_COMMENTS)")
}
