package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"vera-home/config"
	"vera-home/internal/api"
	"vera-home/internal/application"
	"vera-home/internal/infra/history"
	"vera-home/internal/infra/influx"
	"vera-home/internal/infra/mqtt"
	"vera-home/internal/infra/pushover"
	"vera-home/internal/infra/schema"
	"vera-home/internal/infra/vera"
)

func main() {
	os.Exit(run())
}

// run owns every resource so deferred closes happen before the process exits.
func run() int {
	configPath := flag.String("config", "config.yaml", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("loading config", "error", err)
		return 1
	}

	logger := setupLogger(cfg.Log)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh
		logger.Info("shutting down")
		cancel()
	}()

	ctl, err := vera.New(cfg.Vera.URL, controllerOptions(cfg, logger)...)
	if err != nil {
		logger.Error("creating controller", "error", err)
		return 1
	}

	var notifier application.Notifier
	if cfg.Pushover.Enabled {
		notifier = pushover.NewClient(cfg.Pushover.Token, cfg.Pushover.UserKey)
	} else {
		notifier = &application.NoopNotifier{}
	}

	opts := []application.BridgeOption{
		application.WithValidator(schema.NewValidator()),
		application.WithNotifier(notifier),
	}

	var hist *history.Store
	if cfg.History.Enabled {
		hist, err = history.Open(ctx, cfg.History.Path)
		if err != nil {
			logger.Error("opening history store", "error", err, "path", cfg.History.Path)
			return 1
		}
		defer hist.Close()

		retention := time.Duration(cfg.History.Retention) * 24 * time.Hour
		hist.StartPruning(ctx, retention, func(err error) {
			logger.Warn("pruning history", "error", err)
		})
		opts = append(opts, application.WithSinks(hist), application.WithRecorder(hist))
	}

	if cfg.InfluxDB.Enabled {
		metrics, err := influx.Connect(cfg.InfluxDB, logger)
		if err != nil {
			// metrics are best effort; the bridge keeps running without them
			logger.Warn("influxdb unavailable, metrics disabled", "error", err, "url", cfg.InfluxDB.URL)
		} else {
			defer metrics.Close()
			opts = append(opts, application.WithSinks(metrics))
		}
	}

	var broker *mqtt.Client
	if cfg.MQTT.Enabled {
		broker, err = mqtt.Connect(cfg.MQTT, logger)
		if err != nil {
			logger.Error("connecting to mqtt broker", "error", err, "host", cfg.MQTT.Host)
			return 1
		}
		defer broker.Close()
		opts = append(opts, application.WithSinks(broker))
	}

	bridge := application.NewBridge(ctl, logger, opts...)

	if broker != nil {
		if err := broker.HandleCommands(ctx, bridge.Execute); err != nil {
			logger.Error("subscribing to mqtt commands", "error", err)
			return 1
		}
	}

	if cfg.API.Enabled {
		var reader api.HistoryReader
		if hist != nil {
			reader = hist
		}
		server := api.NewServer(cfg.API.Addr, api.NewRouter(bridge, reader, cfg.API, logger), logger)
		if err := server.Start(); err != nil {
			logger.Error("starting api server", "error", err)
			return 1
		}
		defer server.Stop()
	}

	logger.Info("starting vera bridge",
		"vera_url", cfg.Vera.URL,
		"mqtt", cfg.MQTT.Enabled,
		"influxdb", cfg.InfluxDB.Enabled,
		"history", cfg.History.Enabled,
		"api", cfg.API.Enabled,
	)

	if err := bridge.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("bridge error", "error", err)
		return 1
	}
	return 0
}

func controllerOptions(cfg *config.Config, logger *slog.Logger) []vera.Option {
	return []vera.Option{
		vera.WithLogger(logger),
		vera.WithRequestTimeout(cfg.Vera.RequestTimeout),
		vera.WithSyncInterval(cfg.Vera.SyncInterval),
		vera.WithOptimisticUpdates(cfg.Vera.OptimisticUpdates),
		vera.WithPollTimeout(cfg.Subscription.PollTimeout),
		vera.WithMinDelay(cfg.Subscription.MinDelay),
		vera.WithBackoff(cfg.Subscription.RetryDelay, cfg.Subscription.MaxRetryDelay),
		vera.WithMaxFailures(cfg.Subscription.MaxFailures),
		vera.WithErrorHandler(func(err error) {
			logger.Warn("vera subscription error", "error", err)
		}),
	}
}

func setupLogger(cfg config.LogConfig) *slog.Logger {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	return slog.New(handler)
}
