package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/danielgtaylor/huma/v2/humacli"

	"github.com/smazurov/memscaler/cmd"
	"github.com/smazurov/memscaler/internal/api"
	"github.com/smazurov/memscaler/internal/config"
	"github.com/smazurov/memscaler/internal/events"
	"github.com/smazurov/memscaler/internal/hardware"
	"github.com/smazurov/memscaler/internal/logging"
	"github.com/smazurov/memscaler/internal/metrics"
	"github.com/smazurov/memscaler/internal/metrics/collectors"
	"github.com/smazurov/memscaler/internal/scaler"
	"github.com/smazurov/memscaler/internal/systemd"
	"github.com/smazurov/memscaler/internal/version"
)

// Options for the CLI - flat structure with toml mapping.
type Options struct {
	Config string `help:"Path to configuration file" short:"c" default:"config.toml"`

	// Server settings
	Port string `help:"Port to listen on" short:"p" default:":8090" toml:"server.port" env:"SERVER_PORT"`

	// Channel settings
	ChannelsFile string `help:"Channel definitions file" default:"channels.toml" toml:"channels.config_file" env:"CHANNELS_CONFIG_FILE"`

	// Metrics settings
	MetricsEnabled  bool          `help:"Serve Prometheus metrics at /metrics" default:"true" toml:"metrics.enabled" env:"METRICS_ENABLED"`
	MetricsInterval time.Duration `help:"Channel gauge polling interval" default:"5s" toml:"metrics.interval" env:"METRICS_INTERVAL"`

	// Auth settings
	AuthUsername string `help:"Basic auth username" default:"admin" toml:"auth.username" env:"AUTH_USERNAME"`
	AuthPassword string `help:"Basic auth password" default:"password" toml:"auth.password" env:"AUTH_PASSWORD"`

	// Logging settings
	LoggingLevel    string `help:"Global logging level (debug, info, warn, error)" default:"info" toml:"logging.level" env:"LOGGING_LEVEL"`
	LoggingFormat   string `help:"Logging format (text, json)" default:"text" toml:"logging.format" env:"LOGGING_FORMAT"`
	LoggingScaler   string `help:"Scheduler logging level" default:"info" toml:"logging.scaler" env:"LOGGING_SCALER"`
	LoggingHardware string `help:"Simulated engine logging level" default:"info" toml:"logging.hardware" env:"LOGGING_HARDWARE"`
	LoggingConfig   string `help:"Config watcher logging level" default:"info" toml:"logging.config" env:"LOGGING_CONFIG"`
	LoggingAPI      string `help:"API logging level" default:"info" toml:"logging.api" env:"LOGGING_API"`
}

func main() {
	// Create Huma CLI
	cli := humacli.New(func(hooks humacli.Hooks, opts *Options) {
		// Load configuration automatically
		if loadErr := config.LoadConfig(opts, nil); loadErr != nil {
			slog.Warn("Failed to load config", "error", loadErr)
		}

		// Initialize logging system
		logging.Initialize(logging.Config{
			Level:  opts.LoggingLevel,
			Format: opts.LoggingFormat,
			Modules: map[string]string{
				"scaler":   opts.LoggingScaler,
				"hardware": opts.LoggingHardware,
				"config":   opts.LoggingConfig,
				"api":      opts.LoggingAPI,
			},
		})

		logger := logging.GetLogger("main")
		logger.Info(version.Get().Banner())

		// Create event bus for in-process event handling
		eventBus := events.New()
		publisher := events.NewPublisher(eventBus)
		logging.SetLogCallback(publisher.LogCallback())

		channels, err := config.LoadChannels(opts.ChannelsFile)
		if err != nil {
			logger.Error("Failed to load channels", "file", opts.ChannelsFile, "error", err)
			os.Exit(1)
		}

		bank := hardware.NewBank()
		var observer scaler.Observer = publisher
		if opts.MetricsEnabled {
			observer = scaler.MultiObserver{metrics.Recorder{}, publisher}
		}

		manager := scaler.NewManager(&scaler.ManagerOptions{
			ChannelProvider: func(id string) (*scaler.ChannelOptions, error) {
				spec, ok := channels.Lookup(id)
				if !ok {
					return nil, fmt.Errorf("channel %s is not defined in %s", id, opts.ChannelsFile)
				}
				engine := bank.Create(id, spec.EngineOptions(logging.GetLogger("hardware").With("channel", id)))
				return spec.ChannelOptions(engine, publisher.ClientCallbacks(id), observer, logging.GetLogger("scaler")), nil
			},
			ConfigureChannel: bank.Attach,
			OnClose:          bank.Remove,
			OnStateChange:    publisher.StateChangeHook(),
			Logger:           logging.GetLogger("scaler"),
		})

		for _, spec := range channels.Enabled() {
			if _, openErr := manager.Open(spec.ID); openErr != nil {
				logger.Error("Failed to open channel", "channel", spec.ID, "error", openErr)
			}
		}

		apiOpts := &api.Options{
			AuthUsername: opts.AuthUsername,
			AuthPassword: opts.AuthPassword,
			Manager:      manager,
			EventBus:     eventBus,
		}

		var collector *collectors.ChannelCollector
		if opts.MetricsEnabled {
			apiOpts.MetricsHandler = metrics.Handler()
			collector = collectors.NewChannelCollector(manager, opts.MetricsInterval, logging.GetLogger("metrics")).
				WithEngines(bank)
		}

		server := api.NewServer(apiOpts)
		notifier := systemd.NewNotifier(logging.GetLogger("systemd"))

		configLogger := logging.GetLogger("config")
		loggingWatcher := config.NewConfigWatcher(opts.Config,
			func(path string) (logging.Config, error) {
				return config.LoadLoggingConfig(path), nil
			}, configLogger)
		loggingWatcher.OnReload(func(cfg logging.Config) {
			logging.ApplyLevels(cfg)
			configLogger.Info("Logging levels reloaded", "level", cfg.Level)
		})

		channelsWatcher := config.NewConfigWatcher(opts.ChannelsFile, config.LoadChannels, configLogger)
		channelsWatcher.OnReload(func(cfg *config.ChannelsConfig) {
			applyChannelSettings(manager, cfg, configLogger)
		})

		ctx, cancel := context.WithCancel(context.Background())

		hooks.OnStart(func() {
			if collector != nil {
				collector.Start(ctx)
			}
			if watchErr := loggingWatcher.Start(ctx); watchErr != nil {
				logger.Warn("Config hot reload disabled", "file", opts.Config, "error", watchErr)
			}
			if watchErr := channelsWatcher.Start(ctx); watchErr != nil {
				logger.Warn("Channel hot reload disabled", "file", opts.ChannelsFile, "error", watchErr)
			}

			notifier.Ready(ctx, fmt.Sprintf("STATUS=Serving %d channels on %s", len(manager.List()), opts.Port))

			logger.Info("Starting HTTP server", "port", opts.Port)
			if startErr := server.Start(opts.Port); startErr != nil && !errors.Is(startErr, http.ErrServerClosed) {
				logger.Error("Failed to start HTTP server", "error", startErr)
				os.Exit(1)
			}
		})

		hooks.OnStop(func() {
			logger.Info("Shutting down server")
			notifier.Stopping()

			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer shutdownCancel()

			if stopErr := server.Stop(shutdownCtx); stopErr != nil {
				logger.Error("Error stopping HTTP server", "error", stopErr)
			}

			// Channels are closed after the API stops accepting submissions
			if closeErr := manager.CloseAll(shutdownCtx); closeErr != nil {
				logger.Error("Channels did not quiesce", "error", closeErr)
			}
			bank.StopAll()

			if stopErr := channelsWatcher.Stop(); stopErr != nil {
				logger.Warn("Error stopping channels watcher", "error", stopErr)
			}
			if stopErr := loggingWatcher.Stop(); stopErr != nil {
				logger.Warn("Error stopping config watcher", "error", stopErr)
			}
			if collector != nil {
				collector.Stop()
			}
			cancel()
		})
	})

	cli.Root().Use = "memscaler"
	cli.Root().Version = version.String()
	cli.Root().AddCommand(cmd.CreateSimulateCmd())
	cli.Root().AddCommand(cmd.CreateVersionCmd())

	// Run the CLI
	cli.Run()
}

// applyChannelSettings pushes reloaded settings onto open channels. Pool and
// engine settings only take effect when a channel is reopened.
func applyChannelSettings(manager scaler.Manager, cfg *config.ChannelsConfig, logger *slog.Logger) {
	for _, st := range manager.List() {
		spec, ok := cfg.Lookup(st.ID)
		if !ok {
			logger.Warn("Open channel no longer defined", "channel", st.ID)
			continue
		}
		ch, err := manager.Get(st.ID)
		if err != nil {
			continue
		}
		spec.Apply(ch)
		logger.Info("Channel settings reloaded",
			"channel", st.ID,
			"tnr", spec.TemporalFilter,
			"flush_timeout", time.Duration(spec.FlushTimeout))
	}
}
