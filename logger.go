package teamsync

import (
	"io"
	"log/slog"
	"os"
	"strings"

	"gopkg.in/natefinch/lumberjack.v2"
)

// LogConfig configures structured logging.
type LogConfig struct {
	// Level is one of debug, info, warn, error (case-insensitive).
	Level string `yaml:"level" env:"TEAMSYNC_LOG_LEVEL" env-default:"info"`

	// Format is "json" or "text".
	Format string `yaml:"format" env:"TEAMSYNC_LOG_FORMAT" env-default:"text"`

	// File, when set, receives log output with size-based rotation instead
	// of the writer passed to NewLogger.
	File       string `yaml:"file" env:"TEAMSYNC_LOG_FILE"`
	MaxSizeMB  int    `yaml:"max_size_mb" env:"TEAMSYNC_LOG_MAX_SIZE_MB" env-default:"10"`
	MaxBackups int    `yaml:"max_backups" env:"TEAMSYNC_LOG_MAX_BACKUPS" env-default:"3"`
}

// NewLogger creates a *slog.Logger for cfg writing to w (os.Stderr when nil).
//
// Format "json" produces structured JSON output. Format "text" produces
// human-readable output. Level defaults to info.
func NewLogger(cfg LogConfig, w io.Writer) *slog.Logger {
	if w == nil {
		w = os.Stderr
	}
	if cfg.File != "" {
		w = &lumberjack.Logger{
			Filename:   cfg.File,
			MaxSize:    cfg.MaxSizeMB,
			MaxBackups: cfg.MaxBackups,
			Compress:   true,
		}
	}

	opts := &slog.HandlerOptions{Level: parseLevel(cfg.Level)}

	var handler slog.Handler
	if strings.EqualFold(cfg.Format, "json") {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}
	return slog.New(handler)
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
