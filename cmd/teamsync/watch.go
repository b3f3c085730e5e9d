package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/hyperengineering/teamsync"
	"github.com/hyperengineering/teamsync/internal/remote/httpdoc"
	"github.com/spf13/cobra"
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Stay connected: mirror remote changes and deliver local ones",
	Long: `Keep realtime subscriptions open for the configured user and
organization, probe the server for connectivity, and deliver queued
changes whenever it becomes reachable. Runs until interrupted.`,
	RunE: runWatch,
}

func init() {
	rootCmd.AddCommand(watchCmd)
}

func runWatch(cmd *cobra.Command, args []string) error {
	client, remote, err := openClient(cmd)
	if err != nil {
		return err
	}
	defer client.Close()

	if remote == nil {
		return fmt.Errorf("%w: set --remote-url or TEAMSYNC_REMOTE_URL", teamsync.ErrNotConfigured)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	out := cmd.OutOrStdout()
	client.Monitor().OnChange(func(online bool) {
		if online {
			printSuccess(out, "Connected")
		} else {
			printWarning(out, "Offline: changes are queued locally")
		}
	})

	probe := httpdoc.NewProbe(remote, client.Config().ProbeInterval)
	signals := forwardStates(ctx, client, probe.Run(ctx), out)

	printInfo(out, "Watching %s (Ctrl-C to stop)", client.Config().RemoteURL)
	return client.Run(ctx, signals)
}

// forwardStates relays probe results to the client, opening realtime
// subscriptions the first time the server is reachable.
func forwardStates(ctx context.Context, client *teamsync.Client, states <-chan bool, out io.Writer) <-chan bool {
	signals := make(chan bool)
	go func() {
		defer close(signals)
		subscribed := false
		for online := range states {
			if online && !subscribed {
				if err := client.StartRealtime(ctx); err != nil {
					printWarning(out, "Realtime sync unavailable: %v", err)
				} else {
					subscribed = true
				}
			}
			select {
			case signals <- online:
			case <-ctx.Done():
				return
			}
		}
	}()
	return signals
}
