package main

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
)

func newJobsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "jobs",
		Short: "Show persisted download jobs",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			a, err := openApp(ctx, true)
			if err != nil {
				return err
			}
			defer closeApp(a)

			jobs, err := a.Jobs.List(ctx)
			if err != nil {
				return err
			}
			stats, err := a.Jobs.Stats(ctx)
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "JOB\tSONG\tSTATUS\tUPDATED\tERROR")
			for _, j := range jobs {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", j.ID, j.TrackID, j.Status, j.UpdatedAt.Local().Format(time.DateTime), j.Error)
			}
			if err := w.Flush(); err != nil {
				return err
			}

			fmt.Printf("\n%d total, %d pending, %d running, %d completed, %d failed\n",
				stats.Total, stats.Pending, stats.Running, stats.Completed, stats.Failed)
			return nil
		},
	}
	cmd.AddCommand(newJobsClearCmd())
	return cmd
}

func newJobsClearCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "clear",
		Short: "Delete completed and failed jobs",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			a, err := openApp(ctx, true)
			if err != nil {
				return err
			}
			defer closeApp(a)

			n, err := a.Jobs.ClearFinished(ctx)
			if err != nil {
				return err
			}
			fmt.Printf("cleared %d jobs\n", n)
			return nil
		},
	}
}
