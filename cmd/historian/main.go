// cmd/historian drains the battle action log from Redis into postgres.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/jason-s-yu/arena/internal/cache"
	"github.com/jason-s-yu/arena/internal/config"
	"github.com/jason-s-yu/arena/internal/database"
	"github.com/jason-s-yu/arena/internal/historian"
	_ "github.com/joho/godotenv/autoload"
	"github.com/sirupsen/logrus"
)

func main() {
	logger := logrus.New()
	cfg, err := config.Load()
	if err != nil {
		logger.WithError(err).Fatal("failed to load config")
	}
	if level, err := logrus.ParseLevel(cfg.LogLevel); err == nil {
		logger.SetLevel(level)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pool, err := database.Connect(ctx, cfg.Postgres.ConnString())
	if err != nil {
		logger.WithError(err).Fatal("failed to connect to postgres")
	}
	defer pool.Close()
	store := database.NewStore(pool)
	if err := store.Migrate(ctx); err != nil {
		logger.WithError(err).Fatal("failed to migrate")
	}

	rdb, err := cache.Connect(ctx, cfg.Redis.Addr, cfg.Redis.DB)
	if err != nil {
		logger.WithError(err).Fatal("failed to connect to redis")
	}
	defer rdb.Close()

	svc := historian.New(rdb, store, historian.Options{
		Queue:         cfg.Historian.QueueName,
		BatchSize:     cfg.Historian.BatchSize,
		FlushInterval: cfg.Historian.FlushInterval,
		MaxBuffered:   cfg.Historian.MaxBuffered,
	}, logger)

	if err := svc.Run(ctx); err != nil {
		logger.WithError(err).Error("historian failed")
	}
}
