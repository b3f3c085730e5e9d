package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hyperengineering/teamsync"
	"github.com/hyperengineering/teamsync/internal/remote/httpdoc"
	"github.com/hyperengineering/teamsync/internal/remote/memory"
	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run an in-memory document server",
	Long: `Serve the document API over HTTP and websockets from process memory.

Useful for local development and demos: clients point --remote-url at it.
Documents are lost when the server stops.`,
	Example: `  teamsync serve --addr :8088 --api-key secret`,
	RunE:    runServe,
}

var (
	serveAddr    string
	serveOrigins []string
)

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", "127.0.0.1:8088", "Listen address")
	serveCmd.Flags().StringSliceVar(&serveOrigins, "origin", nil, "Allowed websocket origin patterns")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	level := "info"
	if cfgVerbose {
		level = "debug"
	}
	logger := teamsync.NewLogger(teamsync.LogConfig{Level: level, Format: "text"}, cmd.ErrOrStderr())

	key := cfgAPIKey
	if key == "" {
		key = os.Getenv("TEAMSYNC_API_KEY")
	}
	opts := []httpdoc.HandlerOption{httpdoc.WithHandlerLogger(logger)}
	if key != "" {
		opts = append(opts, httpdoc.WithAPIKey(key))
	}
	if len(serveOrigins) > 0 {
		opts = append(opts, httpdoc.WithOriginPatterns(serveOrigins...))
	}
	handler := httpdoc.NewHandler(memory.New(memory.WithLogger(logger)), opts...)

	ln, err := net.Listen("tcp", serveAddr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", serveAddr, err)
	}

	srv := &http.Server{
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(ln) }()

	printInfo(cmd.OutOrStdout(), "Serving documents on http://%s", ln.Addr())

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
