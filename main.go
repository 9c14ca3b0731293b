package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/danielgtaylor/huma/v2/humacli"
	"github.com/smazurov/pwtexture/cmd"
	"github.com/smazurov/pwtexture/internal/api"
	"github.com/smazurov/pwtexture/internal/bridge"
	"github.com/smazurov/pwtexture/internal/capture"
	"github.com/smazurov/pwtexture/internal/config"
	"github.com/smazurov/pwtexture/internal/logging"
	"github.com/smazurov/pwtexture/internal/metrics/exporters"
	"github.com/smazurov/pwtexture/internal/systemd"
	"github.com/smazurov/pwtexture/internal/version"
)

// Options for the CLI - flat structure with toml mapping.
type Options struct {
	Config string `help:"Path to configuration file" short:"c" default:"config.toml"`

	// Server settings
	Port string `help:"Port to listen on" short:"p" default:":8090" toml:"server.port" env:"SERVER_PORT"`

	// PipeWire settings
	PipewireRemote         string `help:"PipeWire socket name or path" default:"" toml:"pipewire.remote" env:"PIPEWIRE_REMOTE"`
	PipewireIterateTimeout string `help:"Protocol loop wake-up interval" default:"50ms" toml:"pipewire.iterate_timeout" env:"PIPEWIRE_ITERATE_TIMEOUT"`
	PipewireMediaRole      string `help:"media.role announced on streams" default:"Game" toml:"pipewire.media_role" env:"PIPEWIRE_MEDIA_ROLE"`
	PipewireIncludeStreams bool   `help:"Also offer application video streams as sources" default:"false" toml:"pipewire.include_streams" env:"PIPEWIRE_INCLUDE_STREAMS"`

	// Relay settings
	RelayQueueDepth   int `help:"Frame channel capacity" default:"64" toml:"relay.queue_depth" env:"RELAY_QUEUE_DEPTH"`
	RelayFrameReserve int `help:"Slots kept free for control events" default:"8" toml:"relay.frame_reserve" env:"RELAY_FRAME_RESERVE"`

	// Host frame loop settings
	HostFPS        int    `help:"Frame loop rate" default:"60" toml:"host.fps" env:"HOST_FPS"`
	HostPollBudget string `help:"Time spent draining events per frame" default:"5ms" toml:"host.poll_budget" env:"HOST_POLL_BUDGET"`

	// Capture settings
	CaptureLeakyQueue bool `help:"Drop old samples instead of stalling the pipeline" default:"true" toml:"capture.leaky_queue" env:"CAPTURE_LEAKY_QUEUE"`
	CaptureMaxBuffers int  `help:"Samples waiting for the session loop per stream" default:"2" toml:"capture.max_buffers" env:"CAPTURE_MAX_BUFFERS"`

	// Metrics settings
	MetricsEnabled bool `help:"Enable Prometheus endpoint" default:"true" toml:"metrics.enabled" env:"METRICS_ENABLED"`
	MetricsEvents  bool `help:"Publish per-source stats over SSE" default:"true" toml:"metrics.events" env:"METRICS_EVENTS"`

	// Auth settings
	AuthUsername string `help:"Basic auth username" default:"admin" toml:"auth.username" env:"AUTH_USERNAME"`
	AuthPassword string `help:"Basic auth password" default:"password" toml:"auth.password" env:"AUTH_PASSWORD"`

	// Logging settings
	LoggingLevel      string `help:"Global logging level (debug, info, warn, error)" default:"info" toml:"logging.level" env:"LOGGING_LEVEL"`
	LoggingFormat     string `help:"Logging format (text, json)" default:"text" toml:"logging.format" env:"LOGGING_FORMAT"`
	LoggingSession    string `help:"Session logging level" default:"info" toml:"logging.session" env:"LOGGING_SESSION"`
	LoggingNegotiator string `help:"Format negotiation logging level" default:"info" toml:"logging.negotiator" env:"LOGGING_NEGOTIATOR"`
	LoggingRegistry   string `help:"Registry logging level" default:"info" toml:"logging.registry" env:"LOGGING_REGISTRY"`
	LoggingCapture    string `help:"Capture logging level" default:"info" toml:"logging.capture" env:"LOGGING_CAPTURE"`
	LoggingPipewire   string `help:"PipeWire protocol logging level" default:"info" toml:"logging.pipewire" env:"LOGGING_PIPEWIRE"`
	LoggingDirectory  string `help:"Texture directory logging level" default:"info" toml:"logging.directory" env:"LOGGING_DIRECTORY"`
	LoggingHost       string `help:"Frame loop logging level" default:"info" toml:"logging.host" env:"LOGGING_HOST"`
	LoggingAPI        string `help:"API logging level" default:"info" toml:"logging.api" env:"LOGGING_API"`
	LoggingHTTP       string `help:"HTTP request logging level" default:"info" toml:"logging.http" env:"LOGGING_HTTP"`
}

func (o *Options) loggingConfig() logging.Config {
	return logging.Config{
		Level:  o.LoggingLevel,
		Format: o.LoggingFormat,
		Modules: map[string]string{
			"session":    o.LoggingSession,
			"negotiator": o.LoggingNegotiator,
			"registry":   o.LoggingRegistry,
			"capture":    o.LoggingCapture,
			"pipewire":   o.LoggingPipewire,
			"directory":  o.LoggingDirectory,
			"host":       o.LoggingHost,
			"api":        o.LoggingAPI,
			"http":       o.LoggingHTTP,
		},
	}
}

func parseDuration(logger *slog.Logger, name, value string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(value)
	if err != nil || d <= 0 {
		logger.Warn("Invalid duration, using default", "option", name, "value", value, "default", fallback)
		return fallback
	}
	return d
}

func main() {
	var cli humacli.CLI
	cli = humacli.New(func(hooks humacli.Hooks, opts *Options) {
		// Load configuration automatically
		loadErr := config.LoadConfig(opts, cli.Root())

		// Initialize logging system
		logging.Initialize(opts.loggingConfig())
		logger := logging.GetLogger("main")
		if loadErr != nil {
			logger.Warn("Failed to load config", "error", loadErr)
		}

		b := bridge.New(bridge.Config{
			Capture: capture.Options{
				Remote:     opts.PipewireRemote,
				MaxBuffers: opts.CaptureMaxBuffers,
				Leaky:      opts.CaptureLeakyQueue,
			},
			IterateTimeout: parseDuration(logger, "pipewire.iterate_timeout", opts.PipewireIterateTimeout, 50*time.Millisecond),
			MediaRole:      opts.PipewireMediaRole,
			IncludeStreams: opts.PipewireIncludeStreams,
			QueueDepth:     opts.RelayQueueDepth,
			FrameReserve:   opts.RelayFrameReserve,
			FPS:            opts.HostFPS,
			PollBudget:     parseDuration(logger, "host.poll_budget", opts.HostPollBudget, 5*time.Millisecond),
			StatsEvents:    opts.MetricsEvents,
			ForwardLogs:    true,
		})

		apiOpts := &api.Options{
			AuthUsername: opts.AuthUsername,
			AuthPassword: opts.AuthPassword,
			Service:      b,
			EventBus:     b.Bus(),
		}
		if opts.MetricsEnabled {
			apiOpts.PrometheusHandler = exporters.HTTPHandler()
		}
		server := api.NewServer(apiOpts)

		notifier := systemd.NewNotifier(logging.GetLogger("systemd"))
		watcher := config.NewConfigWatcher(opts.Config, config.ReadLoggingConfig, logging.GetLogger("config"),
			config.WithErrorHandler[logging.Config](func(err error) {
				logger.Warn("Config reload failed", "error", err)
			}))
		watcher.OnReload(func(cfg logging.Config) {
			notifier.Reloading()
			logging.SetLevels(cfg.Level, cfg.Modules)
			logger.Info("Logging levels reloaded", "level", cfg.Level)
			notifier.Ready("Levels reloaded")
		})

		ctx, cancel := context.WithCancel(context.Background())

		hooks.OnStart(func() {
			logger.Info("Starting pwtexture", "version", version.String())

			if startErr := b.Start(ctx); startErr != nil {
				logger.Error("Failed to start PipeWire session", "error", startErr)
				os.Exit(1)
			}
			logger.Info("Session started", "session_id", b.SessionID())

			if watchErr := watcher.Start(); watchErr != nil {
				logger.Warn("Config hot reload disabled", "path", opts.Config, "error", watchErr)
			}

			notifier.Ready("Serving on " + opts.Port)
			go notifier.RunWatchdog(ctx, b.Running)

			logger.Info("Starting HTTP server", "port", opts.Port)
			if startErr := server.Start(opts.Port); startErr != nil && !errors.Is(startErr, http.ErrServerClosed) {
				logger.Error("Failed to start HTTP server", "error", startErr)
				os.Exit(1)
			}
		})

		hooks.OnStop(func() {
			logger.Info("Shutting down server")
			notifier.Stopping()
			if stopErr := server.Stop(); stopErr != nil {
				logger.Error("Error stopping HTTP server", "error", stopErr)
			}
			if stopErr := watcher.Stop(); stopErr != nil {
				logger.Warn("Error stopping config watcher", "error", stopErr)
			}

			// Streams close after the API stops handing out textures
			b.Stop()
			cancel()
		})
	})

	cli.Root().Use = "pwtexture"
	cli.Root().Version = version.String()

	cli.Root().AddCommand(cmd.CreateSourcesCmd())
	cli.Root().AddCommand(cmd.CreateCaptureCmd())

	// Run the CLI
	cli.Run()
}
