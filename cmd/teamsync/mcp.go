package main

import (
	"context"

	"github.com/hyperengineering/teamsync/internal/remote/httpdoc"
	teamsyncmcp "github.com/hyperengineering/teamsync/mcp"
	"github.com/spf13/cobra"
)

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Start MCP server for coding agent integration",
	Long: `Start a Model Context Protocol (MCP) server over stdio so coding
agents can manage tasks and daily priorities.

Example MCP client configuration:

  {
    "mcpServers": {
      "teamsync": {
        "command": "teamsync",
        "args": ["mcp"],
        "env": {
          "TEAMSYNC_USER_ID": "alice",
          "TEAMSYNC_REMOTE_URL": "http://localhost:8088"
        }
      }
    }
  }

Environment variables:
  TEAMSYNC_DB_PATH     Path to the local SQLite database
  TEAMSYNC_PROFILE     Profile used when TEAMSYNC_DB_PATH is unset
  TEAMSYNC_USER_ID     User that owns new records
  TEAMSYNC_REMOTE_URL  Document server URL (optional, enables sync)
  TEAMSYNC_API_KEY     Document server API key`,
	RunE: runMCP,
}

func init() {
	rootCmd.AddCommand(mcpCmd)
}

func runMCP(cmd *cobra.Command, args []string) error {
	client, remote, err := openClient(cmd)
	if err != nil {
		return err
	}
	defer client.Close()

	// Connectivity follows the server for the lifetime of the session.
	if remote != nil {
		ctx, cancel := context.WithCancel(cmd.Context())
		defer cancel()
		probe := httpdoc.NewProbe(remote, client.Config().ProbeInterval)
		go func() { _ = client.Run(ctx, probe.Run(ctx)) }()
	}

	server := teamsyncmcp.NewServer(client)
	return server.Run()
}
