package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

var statusLimit int

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "List recent ingest attempts",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := setup(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		logs, err := a.db.RecentIngestLogs(ctx, statusLimit)
		if err != nil {
			return err
		}
		if len(logs) == 0 {
			fmt.Println("No ingest attempts recorded.")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "FILE\tYEAR\tSTATUS\tINSERTED\tSKIPPED\tSTARTED\tERROR")
		for _, l := range logs {
			year := "all"
			if l.Year != 0 {
				year = fmt.Sprint(l.Year)
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%d\t%s\t%s\n",
				l.File, year, l.Status, l.RowsInserted, l.RowsSkipped,
				l.StartedAt.Format("2006-01-02 15:04"), l.Error)
		}
		return w.Flush()
	},
}

func init() {
	statusCmd.Flags().IntVar(&statusLimit, "limit", 20, "number of attempts to list")
	rootCmd.AddCommand(statusCmd)
}
