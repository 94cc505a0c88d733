package main

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
)

func newDownloadsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "downloads",
		Short: "Manage downloaded tracks",
	}
	cmd.AddCommand(newDownloadsListCmd(), newDownloadsRemoveCmd())
	return cmd
}

func newDownloadsListCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List downloaded tracks in download order",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			a, err := openApp(ctx, true)
			if err != nil {
				return err
			}
			defer closeApp(a)

			tracks, err := a.Library.ListDownloaded(ctx)
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tARTIST\tTITLE\tDOWNLOADED\tPATH")
			for _, t := range tracks {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", t.ID, t.Artist, t.Title, t.DownloadedAt.Local().Format(time.DateTime), t.LocalPath)
			}
			return w.Flush()
		},
	}
}

func newDownloadsRemoveCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "rm <song-id>...",
		Aliases: []string{"remove"},
		Short:   "Delete downloaded tracks and their audio files",
		Args:    cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			a, err := openApp(ctx, true)
			if err != nil {
				return err
			}
			defer closeApp(a)

			for _, id := range args {
				if err := a.Library.Remove(ctx, id); err != nil {
					return fmt.Errorf("%s: %w", id, err)
				}
				fmt.Printf("removed %s\n", id)
			}
			return nil
		},
	}
}
