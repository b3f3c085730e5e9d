package teamsync

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/hyperengineering/teamsync/internal/profile"
	"github.com/ilyakaznacheev/cleanenv"
)

// Config configures a teamsync client.
type Config struct {
	// LocalPath is the path to the local SQLite database.
	// If empty, it is derived from Profile.
	LocalPath string `yaml:"local_path" env:"TEAMSYNC_DB_PATH"`

	// Profile selects an isolated local store.
	// If empty, resolved as explicit > TEAMSYNC_PROFILE env > "default".
	Profile string `yaml:"profile" env:"TEAMSYNC_PROFILE"`

	// RemoteURL is the base URL of the remote document server.
	// If empty, the client operates offline-only.
	RemoteURL string `yaml:"remote_url" env:"TEAMSYNC_REMOTE_URL"`

	// APIKey authenticates with the remote document server.
	APIKey string `yaml:"api_key" env:"TEAMSYNC_API_KEY"`

	// UserID and OrganizationID scope realtime subscriptions and new records.
	UserID         string `yaml:"user_id" env:"TEAMSYNC_USER_ID"`
	OrganizationID string `yaml:"organization_id" env:"TEAMSYNC_ORGANIZATION_ID"`

	// MaxRetries is the failure count at which a queued mutation is discarded.
	// Defaults to 5.
	MaxRetries int `yaml:"max_retries" env:"TEAMSYNC_MAX_RETRIES" env-default:"5"`

	// ConflictPolicy decides whether realtime snapshots may replace records
	// with undelivered local mutations. Defaults to "version".
	ConflictPolicy ConflictPolicy `yaml:"conflict_policy" env:"TEAMSYNC_CONFLICT_POLICY" env-default:"version"`

	// ProbeInterval is how often connectivity to RemoteURL is checked.
	// Defaults to 15 seconds.
	ProbeInterval time.Duration `yaml:"probe_interval" env:"TEAMSYNC_PROBE_INTERVAL" env-default:"15s"`

	// PassTimeout bounds each background drain pass. Defaults to 30 seconds.
	PassTimeout time.Duration `yaml:"pass_timeout" env:"TEAMSYNC_PASS_TIMEOUT" env-default:"30s"`

	// FlushTimeout bounds the final drain on Close. Defaults to 5 seconds.
	FlushTimeout time.Duration `yaml:"flush_timeout" env:"TEAMSYNC_FLUSH_TIMEOUT" env-default:"5s"`

	Log LogConfig `yaml:"log"`
}

// DefaultConfig returns a Config with sensible defaults.
// Profile defaults to "default", and LocalPath is derived from it.
func DefaultConfig() Config {
	return Config{
		Profile:        profile.DefaultID,
		LocalPath:      profile.DBPath(profile.DefaultID),
		MaxRetries:     DefaultMaxRetries,
		ConflictPolicy: ConflictPolicyVersion,
		ProbeInterval:  15 * time.Second,
		PassTimeout:    DefaultPassTimeout,
		FlushTimeout:   5 * time.Second,
		Log:            LogConfig{Level: "info", Format: "text", MaxSizeMB: 10, MaxBackups: 3},
	}
}

// ConfigFromEnv reads configuration from TEAMSYNC_* environment variables.
//
//	TEAMSYNC_DB_PATH          → LocalPath
//	TEAMSYNC_PROFILE          → Profile
//	TEAMSYNC_REMOTE_URL       → RemoteURL
//	TEAMSYNC_API_KEY          → APIKey
//	TEAMSYNC_USER_ID          → UserID
//	TEAMSYNC_ORGANIZATION_ID  → OrganizationID
//	TEAMSYNC_CONFLICT_POLICY  → ConflictPolicy
//	TEAMSYNC_LOG_LEVEL        → Log.Level
func ConfigFromEnv() (Config, error) {
	var cfg Config
	if err := cleanenv.ReadEnv(&cfg); err != nil {
		return Config{}, fmt.Errorf("config: read env: %w", err)
	}
	return cfg, nil
}

// LoadConfig reads a YAML file overlaid with environment variables.
// Priority: env > YAML > defaults. A missing file at an empty path falls
// back to environment variables only.
func LoadConfig(path string) (Config, error) {
	if path == "" {
		return ConfigFromEnv()
	}
	if _, err := os.Stat(path); err != nil {
		return Config{}, fmt.Errorf("config: file %s: %w", path, err)
	}
	var cfg Config
	if err := cleanenv.ReadConfig(path, &cfg); err != nil {
		return Config{}, fmt.Errorf("config: read %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks the configuration for errors.
// Returns *ValidationError for invalid fields.
func (c *Config) Validate() error {
	if c.LocalPath == "" {
		return &ValidationError{Field: "LocalPath", Message: "required: path to SQLite database"}
	}

	if c.Profile != "" {
		if err := profile.Validate(c.Profile); err != nil {
			return &ValidationError{Field: "Profile", Message: err.Error()}
		}
	}

	if c.RemoteURL != "" && !strings.HasPrefix(c.RemoteURL, "http://") && !strings.HasPrefix(c.RemoteURL, "https://") {
		return &ValidationError{Field: "RemoteURL", Message: "must be an http or https URL"}
	}

	if c.MaxRetries < 1 {
		return &ValidationError{Field: "MaxRetries", Message: "must be at least 1"}
	}

	if !c.ConflictPolicy.IsValid() {
		return &ValidationError{Field: "ConflictPolicy", Message: fmt.Sprintf("unknown policy %q", c.ConflictPolicy)}
	}

	if c.ProbeInterval < 0 {
		return &ValidationError{Field: "ProbeInterval", Message: "must be non-negative"}
	}
	if c.PassTimeout < 0 {
		return &ValidationError{Field: "PassTimeout", Message: "must be non-negative"}
	}
	if c.FlushTimeout < 0 {
		return &ValidationError{Field: "FlushTimeout", Message: "must be non-negative"}
	}

	switch strings.ToLower(c.Log.Format) {
	case "", "json", "text":
	default:
		return &ValidationError{Field: "Log.Format", Message: "must be json or text"}
	}

	return nil
}

// IsOffline returns true if no remote document server is configured.
func (c *Config) IsOffline() bool {
	return c.RemoteURL == ""
}

// WithDefaults fills in default values for unset fields.
// Profile resolution: explicit Profile field > TEAMSYNC_PROFILE env > "default".
// LocalPath is derived from the resolved profile if not explicitly set.
func (c Config) WithDefaults() Config {
	defaults := DefaultConfig()

	if c.Profile == "" {
		resolved, err := profile.Resolve("")
		if err == nil {
			c.Profile = resolved
		} else {
			c.Profile = profile.DefaultID
		}
	}

	if c.LocalPath == "" {
		c.LocalPath = profile.DBPath(c.Profile)
	}

	if c.MaxRetries == 0 {
		c.MaxRetries = defaults.MaxRetries
	}
	if c.ConflictPolicy == "" {
		c.ConflictPolicy = defaults.ConflictPolicy
	}
	if c.ProbeInterval == 0 {
		c.ProbeInterval = defaults.ProbeInterval
	}
	if c.PassTimeout == 0 {
		c.PassTimeout = defaults.PassTimeout
	}
	if c.FlushTimeout == 0 {
		c.FlushTimeout = defaults.FlushTimeout
	}
	if c.Log.Level == "" {
		c.Log.Level = defaults.Log.Level
	}
	if c.Log.Format == "" {
		c.Log.Format = defaults.Log.Format
	}

	return c
}
