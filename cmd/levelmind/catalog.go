package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

func newCatalogCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "catalog",
		Short: "Fetch the song catalog and show which tracks are downloaded",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			a, err := openApp(ctx, true)
			if err != nil {
				return err
			}
			defer closeApp(a)

			if err := a.Library.Refresh(ctx); err != nil {
				return fmt.Errorf("catalog unavailable: %w", err)
			}

			states, err := a.Library.States(ctx)
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tARTIST\tTITLE\tSTATE")
			for _, s := range states {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", s.Track.ID, s.Track.Artist, s.Track.Title, s.Action)
			}
			return w.Flush()
		},
	}
}
