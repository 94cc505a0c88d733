package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/levelmind/levelmind-go/internal/download"
	"github.com/spf13/cobra"
)

func newDownloadCmd() *cobra.Command {
	var (
		sourceURL string
		quiet     bool
	)

	cmd := &cobra.Command{
		Use:   "download <song-id>",
		Short: "Download one track and wait for it to finish",
		Long: "Downloads a track into the media directory. Without --url the stream URL\n" +
			"is taken from the catalog.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			songID := args[0]

			a, err := openApp(ctx, true)
			if err != nil {
				return err
			}
			defer closeApp(a)

			if err := a.Start(ctx); err != nil {
				return err
			}

			if !quiet {
				client := download.NewClient("cli-" + uuid.NewString())
				if a.Notifier.Register(client) {
					defer a.Notifier.Unregister(client)
					go printProgress(client, songID)
				}
			}

			var jobID string
			if sourceURL != "" {
				jobID, err = a.Scheduler.Submit(ctx, download.JobInput{DownloadURL: sourceURL, SongID: songID})
			} else {
				if err := a.Library.Refresh(ctx); err != nil {
					return fmt.Errorf("catalog unavailable: %w", err)
				}
				jobID, err = a.Library.Enqueue(ctx, songID)
			}
			if err != nil {
				return err
			}

			result, err := a.Scheduler.Wait(ctx, jobID)
			if err != nil {
				return err
			}
			if !result.Success {
				return errors.New(result.Error)
			}

			track, err := a.Library.GetDownloaded(ctx, songID)
			if err != nil {
				return err
			}
			fmt.Printf("\ndownloaded %s to %s\n", songID, track.LocalPath)
			return nil
		},
	}

	cmd.Flags().StringVar(&sourceURL, "url", "", "download from this URL instead of the catalog stream URL")
	cmd.Flags().BoolVarP(&quiet, "quiet", "q", false, "do not print progress")
	return cmd
}

// printProgress renders progress events for one track on a single line
func printProgress(client *download.Client, trackID string) {
	for data := range client.SendChan {
		var msg struct {
			Type    string          `json:"type"`
			Payload json.RawMessage `json:"payload"`
		}
		if err := json.Unmarshal(data, &msg); err != nil || msg.Type != download.MessageProgress {
			continue
		}

		var update download.ProgressUpdate
		if err := json.Unmarshal(msg.Payload, &update); err != nil || update.TrackID != trackID {
			continue
		}
		fmt.Fprintf(os.Stderr, "\r%3d%%  %s  eta %s   ", update.Progress, download.FormatSpeed(update.Speed), download.FormatETA(update.ETA))
	}
}
