package main

import (
	"context"
	"time"

	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show connectivity, pending changes and local store statistics",
	RunE:  runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	client, remote, err := openClient(cmd)
	if err != nil {
		return err
	}
	defer client.Close()

	ctx := cmd.Context()
	if remote != nil {
		hctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		client.SetOnline(remote.Health(hctx) == nil)
		cancel()
	}

	st, err := client.Status(ctx)
	if err != nil {
		return err
	}
	stats, err := client.Stats(ctx)
	if err != nil {
		return err
	}
	return outputStatus(cmd, st, stats)
}
