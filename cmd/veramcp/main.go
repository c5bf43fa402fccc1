package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"vera-home/config"
	"vera-home/internal/application"
	"vera-home/internal/infra/pushover"
	"vera-home/internal/infra/schema"
	"vera-home/internal/infra/vera"
	"vera-home/internal/mcp"
)

var version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "config.yaml", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("loading config", "error", err)
		return 1
	}

	// stdout carries the MCP transport
	logger := setupLogger(cfg.Log)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh
		cancel()
	}()

	ctl, err := vera.New(cfg.Vera.URL,
		vera.WithLogger(logger),
		vera.WithRequestTimeout(cfg.Vera.RequestTimeout),
		vera.WithSyncInterval(cfg.Vera.SyncInterval),
		vera.WithOptimisticUpdates(cfg.Vera.OptimisticUpdates),
		vera.WithPollTimeout(cfg.Subscription.PollTimeout),
		vera.WithMinDelay(cfg.Subscription.MinDelay),
		vera.WithBackoff(cfg.Subscription.RetryDelay, cfg.Subscription.MaxRetryDelay),
		vera.WithMaxFailures(cfg.Subscription.MaxFailures),
	)
	if err != nil {
		logger.Error("creating controller", "error", err)
		return 1
	}

	var notifier application.Notifier = &application.NoopNotifier{}
	if cfg.Pushover.Enabled {
		notifier = pushover.NewClient(cfg.Pushover.Token, cfg.Pushover.UserKey)
	}

	bridge := application.NewBridge(ctl, logger,
		application.WithValidator(schema.NewValidator()),
		application.WithNotifier(notifier),
	)

	go func() {
		if err := bridge.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("bridge stopped", "error", err)
		}
	}()

	logger.Info("starting vera mcp server", "version", version, "vera_url", cfg.Vera.URL)

	if err := mcp.NewServer(bridge, version).ServeStdio(); err != nil {
		logger.Error("mcp server error", "error", err)
		return 1
	}
	return 0
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
		handler = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		handler = slog.NewTextHandler(os.Stderr, opts)
	}

	return slog.New(handler)
}
