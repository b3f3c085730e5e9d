package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hyperengineering/teamsync"
	"github.com/spf13/cobra"
)

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Deliver queued changes and refresh from the server",
	Long: `Deliver every queued local change to the document server, oldest
first, then fetch the current user's documents.

Example:
  teamsync sync             # deliver, then refresh
  teamsync sync --push      # deliver only`,
	RunE: runSync,
}

var (
	syncPushOnly bool
	syncTimeout  time.Duration
)

func init() {
	syncCmd.Flags().BoolVar(&syncPushOnly, "push", false, "Deliver queued changes only")
	syncCmd.Flags().DurationVar(&syncTimeout, "timeout", 60*time.Second, "Give up after this long")
	rootCmd.AddCommand(syncCmd)
}

func runSync(cmd *cobra.Command, args []string) error {
	client, remote, err := openClient(cmd)
	if err != nil {
		return err
	}
	defer client.Close()

	if remote == nil {
		return fmt.Errorf("%w: set --remote-url or TEAMSYNC_REMOTE_URL", teamsync.ErrNotConfigured)
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), syncTimeout)
	defer cancel()

	if err := remote.Health(ctx); err != nil {
		client.SetOnline(false)
		return fmt.Errorf("%w: %v", teamsync.ErrOffline, err)
	}

	start := time.Now()
	res, err := client.ForceSync(ctx)
	if err != nil {
		return fmt.Errorf("sync: %w", err)
	}

	if !syncPushOnly && client.Config().UserID != "" {
		if err := client.Refresh(ctx); err != nil && !errors.Is(err, context.Canceled) {
			return fmt.Errorf("refresh: %w", err)
		}
	}
	return outputDrainResult(cmd, res, time.Since(start))
}
