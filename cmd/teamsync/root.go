package main

import (
	"fmt"
	"os"

	"github.com/hyperengineering/teamsync"
	"github.com/hyperengineering/teamsync/internal/remote/httpdoc"
	"github.com/spf13/cobra"
)

var (
	cfgFile      string
	cfgProfile   string
	cfgDBPath    string
	cfgRemoteURL string
	cfgAPIKey    string
	cfgUserID    string
	cfgOrgID     string
	cfgVerbose   bool
	outputJSON   bool
)

var rootCmd = &cobra.Command{
	Use:   "teamsync",
	Short: "teamsync - offline-first team task sync",
	Long: `teamsync keeps a team's tasks, daily priorities and weekly goals in a
local SQLite store and synchronizes them with a shared document server.

Every change is written locally first and queued; queued changes are
delivered in order whenever the server is reachable.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&cfgFile, "config", "", "YAML config file (env vars override it)")
	pf.StringVar(&cfgProfile, "profile", "", "Local store profile (default: $TEAMSYNC_PROFILE or \"default\")")
	pf.StringVar(&cfgDBPath, "db-path", "", "Path to the local database (overrides --profile)")
	pf.StringVar(&cfgRemoteURL, "remote-url", "", "Base URL of the document server")
	pf.StringVar(&cfgAPIKey, "api-key", "", "API key for the document server")
	pf.StringVar(&cfgUserID, "user", "", "User id that owns new records")
	pf.StringVar(&cfgOrgID, "org", "", "Organization id")
	pf.BoolVarP(&cfgVerbose, "verbose", "v", false, "Log sync activity to stderr")
	pf.BoolVar(&outputJSON, "json", false, "Output as JSON")
}

// loadConfig reads the config file or environment, then applies flags.
func loadConfig() (teamsync.Config, error) {
	cfg, err := teamsync.LoadConfig(cfgFile)
	if err != nil {
		return teamsync.Config{}, err
	}

	if cfgProfile != "" {
		cfg.Profile = cfgProfile
		if cfgDBPath == "" && os.Getenv("TEAMSYNC_DB_PATH") == "" {
			cfg.LocalPath = ""
		}
	}
	if cfgDBPath != "" {
		cfg.LocalPath = cfgDBPath
	}
	if cfgRemoteURL != "" {
		cfg.RemoteURL = cfgRemoteURL
	}
	if cfgAPIKey != "" {
		cfg.APIKey = cfgAPIKey
	}
	if cfgUserID != "" {
		cfg.UserID = cfgUserID
	}
	if cfgOrgID != "" {
		cfg.OrganizationID = cfgOrgID
	}

	switch {
	case cfgVerbose:
		cfg.Log.Level = "debug"
	case os.Getenv("TEAMSYNC_LOG_LEVEL") == "" && cfgFile == "":
		cfg.Log.Level = "warn"
	}

	cfg = cfg.WithDefaults()
	if err := cfg.Validate(); err != nil {
		return teamsync.Config{}, fmt.Errorf("%w (set --db-path or TEAMSYNC_DB_PATH)", err)
	}
	return cfg, nil
}

// remoteFor returns the HTTP document client for cfg, or nil when no
// server is configured.
func remoteFor(cmd *cobra.Command, cfg teamsync.Config) *httpdoc.Client {
	if cfg.RemoteURL == "" {
		return nil
	}
	return httpdoc.NewClient(cfg.RemoteURL, cfg.APIKey).
		WithLogger(teamsync.NewLogger(cfg.Log, cmd.ErrOrStderr()))
}

// openClient creates a client for the resolved configuration.
func openClient(cmd *cobra.Command) (*teamsync.Client, *httpdoc.Client, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, nil, err
	}
	logger := teamsync.NewLogger(cfg.Log, cmd.ErrOrStderr())

	httpClient := remoteFor(cmd, cfg)
	var remote teamsync.RemoteStore
	if httpClient != nil {
		remote = httpClient
	}

	client, err := teamsync.New(cfg, remote, teamsync.WithLogger(logger))
	if err != nil {
		return nil, nil, fmt.Errorf("initialize client: %w", err)
	}
	return client, httpClient, nil
}
