package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"

	"github.com/sho7650/media-stage/internal/activity"
	"github.com/sho7650/media-stage/internal/clock"
	"github.com/sho7650/media-stage/internal/config"
	"github.com/sho7650/media-stage/internal/logger"
	"github.com/sho7650/media-stage/internal/mpris"
	"github.com/sho7650/media-stage/internal/playback"
	"github.com/sho7650/media-stage/internal/preload"
	"github.com/sho7650/media-stage/internal/server"
	"github.com/sho7650/media-stage/internal/storage"
)

func main() {
	configPath := flag.String("config", "", "Path to the YAML configuration file (built-in defaults when empty)")
	flag.Parse()

	if err := run(*configPath); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	manager := config.NewConfigManager()
	cfg, err := loadConfig(ctx, manager, configPath)
	if err != nil {
		return err
	}

	if err := logger.Init(logger.Config{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		Output: cfg.Log.Output,
	}); err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	logger.Info("Starting media-stage daemon", "config", configPath)

	store := storage.NewSQLiteStorage(cfg.Database.Path)
	if err := store.Initialize(ctx); err != nil {
		return fmt.Errorf("failed to initialize storage: %w", err)
	}
	defer func() { _ = store.Close() }()

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	clk := clock.New()

	counter := activity.NewCounter(clk, activity.Config{
		ShowDelay:  cfg.Activity.ShowDelayDuration(activity.DefaultShowDelay),
		MinDisplay: cfg.Activity.MinDisplayDuration(activity.DefaultMinDisplay),
	}, activity.WithMetrics(activity.NewMetrics(reg)))
	defer counter.Close()

	// Media prefetch runs in the background and stays out of the busy signal.
	cache := preload.New(preload.NewHTTPFetcher(&http.Client{}, cfg.Preload.SpoolDir), cfg.Catalog(), preload.Options{
		Timeout:  cfg.Preload.TimeoutDuration(preload.DefaultTimeout),
		Clock:    clk,
		Recorder: store,
		Metrics:  preload.NewMetrics(reg),
	})
	defer func() { _ = cache.Close() }()

	controller := playback.NewController(cache)
	defer controller.Close()

	var api http.Handler
	if cfg.Server.APIBaseURL != "" {
		target, err := url.Parse(cfg.Server.APIBaseURL)
		if err != nil {
			return fmt.Errorf("invalid api_base_url: %w", err)
		}
		api = server.NewAPIProxy(target, activity.NewTransport(http.DefaultTransport, counter))
	}

	srv := server.NewServer(cfg.Server.Addr, server.NewRouter(server.Deps{
		Counter:  counter,
		Cache:    cache,
		Gatherer: reg,
		API:      api,
	}))

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return srv.Start(gctx)
	})

	g.Go(func() error {
		preloadConfigured(gctx, cache, cfg.Preload.Keys)
		return nil
	})

	changes := make(chan config.ConfigChangeEvent, 1)
	if configPath == "" {
		logger.Info("No config file given, running with defaults")
	} else if err := manager.WatchForChanges(gctx, configPath, changes); err != nil {
		logger.Warn("Config hot reload disabled", "error", err)
	} else {
		g.Go(func() error {
			applyConfigChanges(gctx, manager, cache, changes)
			return nil
		})
	}

	if cfg.Playback.MPRISDest != "" {
		bindPlayer(controller, cfg, clk)
	}

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}

	logger.Info("media-stage daemon stopped")
	return nil
}

// loadConfig reads path, or validates the built-in defaults when path is
// empty.
func loadConfig(ctx context.Context, manager *config.ConfigManager, path string) (*config.Config, error) {
	if path != "" {
		return manager.LoadFromFile(ctx, path)
	}

	cfg := config.Default()
	if err := manager.ValidateConfig(ctx, cfg); err != nil {
		return nil, fmt.Errorf("default configuration is invalid: %w", err)
	}
	return cfg, nil
}

func preloadConfigured(ctx context.Context, cache *preload.Cache, keys []string) {
	if len(keys) == 0 {
		return
	}

	results, err := cache.PreloadAll(ctx, keys...)
	if err != nil {
		logger.Debug("Startup preload wait abandoned", "error", err)
		return
	}
	for _, res := range results {
		args := []any{"key", res.Key, "outcome", res.Outcome.String()}
		if res.Err != nil {
			args = append(args, "error", res.Err)
		}
		logger.Info("Startup preload finished", args...)
	}
}

func applyConfigChanges(ctx context.Context, manager *config.ConfigManager, cache *preload.Cache, changes <-chan config.ConfigChangeEvent) {
	for {
		select {
		case <-ctx.Done():
			return
		case event := <-changes:
			if event.Type != config.EventConfigUpdated {
				continue
			}
			cfg := manager.GetCurrentConfig()
			cache.UpdateCatalog(cfg.Catalog())
			logger.SetLevel(cfg.Log.Level)
			logger.Info("Configuration applied", "media", len(cfg.Media))
		}
	}
}

func bindPlayer(controller *playback.Controller, cfg *config.Config, clk clock.Clock) {
	player, err := mpris.NewPlayer(cfg.Playback.MPRISDest, mpris.Options{
		PollInterval: cfg.Playback.PollIntervalDuration(mpris.DefaultPollInterval),
		Clock:        clk,
	})
	if err != nil {
		logger.Warn("MPRIS player unavailable", "dest", cfg.Playback.MPRISDest, "error", err)
		return
	}

	if err := controller.Bind(player, cfg.Playback.Key); err != nil {
		logger.Warn("Failed to bind MPRIS player", "dest", cfg.Playback.MPRISDest, "key", cfg.Playback.Key, "error", err)
		return
	}
	logger.Info("MPRIS player bound", "dest", player.Name(), "key", cfg.Playback.Key)
}
