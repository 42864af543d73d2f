package main

import (
	"context"
	"fmt"
	"os"
	"runtime"
	"time"

	"skymosaic/internal/cache"
	"skymosaic/internal/cli"
	"skymosaic/internal/config"
	"skymosaic/internal/fetch"
	"skymosaic/internal/logging"
	"skymosaic/internal/pipeline"
	"skymosaic/internal/storage"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}

	log, err := logging.Setup(cfg)
	if err != nil {
		return fmt.Errorf("logging: %w", err)
	}

	store, err := storage.New(cfg.Paths.DatabasePath)
	if err != nil {
		// The CLI still works without run history.
		log.Warn("run database unavailable", "path", cfg.Paths.DatabasePath, "error", err)
		store = nil
	}
	defer store.Close()

	tileCache, err := cache.Open(cfg.Cache.Dir)
	if err != nil {
		return fmt.Errorf("cache: %w", err)
	}
	if cfg.Cache.MaxAgeHours > 0 {
		if n, err := tileCache.EvictOlderThan(time.Duration(cfg.Cache.MaxAgeHours) * time.Hour); err == nil && n > 0 {
			log.Info("cache pruned on startup", "evicted", n)
		}
	}

	surveys, err := fetch.NewSurveySet(cfg.Surveys)
	if err != nil {
		return fmt.Errorf("surveys: %w", err)
	}
	fetcher := fetch.New(time.Duration(cfg.Fetch.TimeoutSeconds) * time.Second)

	runner := pipeline.NewRunner(log, store, surveys, tileCache, fetcher, cfg.Mosaic)
	pipe := pipeline.New(context.Background(), runtime.NumCPU(), log, store, runner)
	defer pipe.Stop()

	return cli.NewRootCmd(cfg, log, store, pipe, tileCache, surveys, fetcher).Execute()
}
