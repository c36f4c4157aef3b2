package main

import (
	"context"
	"log/slog"
	"os"

	"tutor/config"
	"tutor/loader/service"
	"tutor/store"
)

func main() {
	cfg := config.Load()
	logger := cfg.NewLogger()
	slog.SetDefault(logger)

	ctx := context.Background()
	pool, err := store.NewPostgresStore(ctx, cfg.Database.DSN(), logger)
	if err != nil {
		logger.Error("error to connect to Postgres database", "error", err)
		os.Exit(1)
	}
	defer func() {
		logger.Info("closing database connection pool")
		if err := pool.Close(); err != nil {
			logger.Error("error closing pool", "error", err)
		}
	}()

	if err := pool.Init(ctx); err != nil {
		logger.Error("error to create tables", "error", err)
		os.Exit(1)
	}
	index := store.NewPgVectorIndex(pool.Pool(), cfg.AI.EmbeddingDim)
	if err := index.Init(ctx); err != nil {
		logger.Error("error to create vector index", "error", err)
		os.Exit(1)
	}

	pipeline, err := service.NewPipelineFromConfig(cfg, pool, index, logger)
	if err != nil {
		logger.Error("invalid pipeline settings", "error", err)
		os.Exit(1)
	}
	watcher, err := service.NewWatcherFromConfig(cfg, logger)
	if err != nil {
		logger.Error("error to create loader directories", "error", err)
		os.Exit(1)
	}

	service.New(watcher, pipeline, 2, logger).Run()
}
