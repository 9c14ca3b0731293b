// Package cmd holds the one-shot subcommands. They run their own bridge
// without the HTTP API.
package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"github.com/smazurov/pwtexture/internal/bridge"
	"github.com/smazurov/pwtexture/internal/capture"
	"github.com/smazurov/pwtexture/internal/config"
	"github.com/smazurov/pwtexture/internal/logging"
)

// sessionOptions are the settings shared by subcommands. Field names map to
// flag names, so pipewire.remote is --pipewire-remote.
type sessionOptions struct {
	Config string

	PipewireRemote         string        `toml:"pipewire.remote" env:"PIPEWIRE_REMOTE"`
	PipewireMediaRole      string        `toml:"pipewire.media_role" env:"PIPEWIRE_MEDIA_ROLE"`
	PipewireIncludeStreams bool          `toml:"pipewire.include_streams" env:"PIPEWIRE_INCLUDE_STREAMS"`
	PipewireIterateTimeout time.Duration `toml:"pipewire.iterate_timeout" env:"PIPEWIRE_ITERATE_TIMEOUT"`
	CaptureLeakyQueue      bool          `toml:"capture.leaky_queue" env:"CAPTURE_LEAKY_QUEUE"`

	LoggingLevel  string `toml:"logging.level" env:"LOGGING_LEVEL"`
	LoggingFormat string `toml:"logging.format" env:"LOGGING_FORMAT"`
}

func (o *sessionOptions) bind(cmd *cobra.Command) {
	f := cmd.Flags()
	f.StringVarP(&o.Config, "config", "c", "config.toml", "Path to configuration file")
	f.StringVar(&o.PipewireRemote, "pipewire-remote", "", "PipeWire socket name or path (default pipewire-0)")
	f.StringVar(&o.PipewireMediaRole, "pipewire-media-role", "Game", "media.role announced on streams")
	f.BoolVar(&o.PipewireIncludeStreams, "pipewire-include-streams", false, "Also list application video streams")
	f.DurationVar(&o.PipewireIterateTimeout, "pipewire-iterate-timeout", 50*time.Millisecond, "Protocol loop wake-up interval")
	f.BoolVar(&o.CaptureLeakyQueue, "capture-leaky-queue", true, "Drop old samples instead of stalling the pipeline")
	f.StringVar(&o.LoggingLevel, "logging-level", "warn", "Logging level (debug, info, warn, error)")
	f.StringVar(&o.LoggingFormat, "logging-format", "text", "Logging format (text, json)")
}

// load applies the config file and environment under explicitly set flags
// and initializes logging.
func (o *sessionOptions) load(cmd *cobra.Command) *slog.Logger {
	loadErr := config.LoadConfig(o, cmd)
	logging.Initialize(logging.Config{Level: o.LoggingLevel, Format: o.LoggingFormat})
	logger := logging.GetLogger("cli")
	if loadErr != nil {
		logger.Warn("Failed to load config", "error", loadErr)
	}
	return logger
}

func (o *sessionOptions) bridgeConfig() bridge.Config {
	return bridge.Config{
		Capture: capture.Options{
			Remote: o.PipewireRemote,
			Leaky:  o.CaptureLeakyQueue,
		},
		IterateTimeout: o.PipewireIterateTimeout,
		MediaRole:      o.PipewireMediaRole,
		IncludeStreams: o.PipewireIncludeStreams,
	}
}

// startBridge starts a bridge or returns the connection error.
func startBridge(ctx context.Context, cfg bridge.Config) (*bridge.Bridge, error) {
	b := bridge.New(cfg)
	if err := b.Start(ctx); err != nil {
		return nil, fmt.Errorf("connect to PipeWire: %w", err)
	}
	return b, nil
}
