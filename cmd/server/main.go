// cmd/server/main.go
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jason-s-yu/arena/internal/assets"
	"github.com/jason-s-yu/arena/internal/auth"
	"github.com/jason-s-yu/arena/internal/battle"
	"github.com/jason-s-yu/arena/internal/cache"
	"github.com/jason-s-yu/arena/internal/config"
	"github.com/jason-s-yu/arena/internal/database"
	"github.com/jason-s-yu/arena/internal/dispatch"
	"github.com/jason-s-yu/arena/internal/handlers"
	"github.com/jason-s-yu/arena/internal/matchmaking"
	"github.com/jason-s-yu/arena/internal/orchestrator"
	"github.com/jason-s-yu/arena/internal/registry"
	"github.com/jason-s-yu/arena/internal/timer"
	_ "github.com/joho/godotenv/autoload"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

func main() {
	logger := logrus.New()
	if err := run(logger); err != nil {
		logger.WithError(err).Fatal("server exited")
	}
}

func run(logger *logrus.Logger) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	level, err := logrus.ParseLevel(cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("bad LOG_LEVEL: %w", err)
	}
	logger.SetLevel(level)
	if cfg.IsProduction() {
		logger.SetFormatter(&logrus.JSONFormatter{})
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	authority, err := newAuthority(cfg.Auth)
	if err != nil {
		return err
	}

	pool, err := database.Connect(ctx, cfg.Postgres.ConnString())
	if err != nil {
		return err
	}
	defer pool.Close()
	store := database.NewStore(pool)
	if err := store.Migrate(ctx); err != nil {
		return err
	}

	rdb, err := cache.Connect(ctx, cfg.Redis.Addr, cfg.Redis.DB)
	if err != nil {
		return err
	}
	defer rdb.Close()

	reg := registry.New()
	direct := matchmaking.NewDirectPool(reg, logger)
	ranked := matchmaking.NewRankedPool(reg, matchmaking.MMRFinder{MaxGap: cfg.Battle.MaxMMRGap}, logger)
	manager := battle.NewManager(
		store,
		assets.NewDeckService(store),
		assets.NewTitanResolver(store, cfg.Battle.FreeTitanCacheTTL),
		reg,
		ranked,
		logger,
	)
	pipeline := dispatch.New(reg, manager, timer.New(), cache.NewActionLog(rdb, cfg.Historian.QueueName), dispatch.Options{
		TurnDuration:     cfg.Battle.TurnDuration,
		EnforceTurnOrder: cfg.Battle.EnforceTurnOrder,
	}, logger)
	orch := orchestrator.New(direct, ranked, manager, pipeline, orchestrator.Options{
		RankedQueueTimeout: cfg.Battle.RankedQueueTimeout,
	}, logger)

	addr := fmt.Sprintf(":%d", cfg.Port)
	if !cfg.IsProduction() {
		addr = fmt.Sprintf("localhost:%d", cfg.Port)
	}
	srv := &http.Server{
		Addr:              addr,
		Handler:           handlers.NewRouter(orch, authority, cfg.AllowedOrigins, logger),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Infof("Running on %s", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

func newAuthority(cfg config.AuthConfig) (*auth.Authority, error) {
	ttl, err := cfg.TokenTTL()
	if err != nil {
		return nil, err
	}
	if cfg.PrivateKeyPath != "" && cfg.PublicKeyPath != "" {
		return auth.NewAuthorityFromPath(cfg.PrivateKeyPath, cfg.PublicKeyPath, ttl)
	}
	return auth.NewAuthority(ttl)
}
