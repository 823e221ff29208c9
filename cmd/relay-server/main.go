package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	appcfg "github.com/park285/chess-relay/internal/config"
	"github.com/park285/chess-relay/internal/obslog"
	"github.com/park285/chess-relay/internal/server"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

func main() {
	cfg, err := appcfg.LoadServer()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}
	if err := obslog.InitFromEnv("logs/relay-server.log"); err != nil {
		log.Fatalf("log init error: %v", err)
	}
	defer obslog.Sync()
	logger := obslog.L()

	// Game store: Redis when configured, otherwise process memory.
	var store server.Store
	if cfg.RedisURL != "" {
		rs, err := server.NewRedisStore(cfg.RedisURL, cfg.GameTTL)
		if err != nil {
			log.Fatalf("redis store init error: %v", err)
		}
		store = rs
		logger.Info("relay_store", zap.String("kind", "redis"), zap.Duration("ttl", cfg.GameTTL))
	} else {
		store = server.NewMemoryStore()
		logger.Info("relay_store", zap.String("kind", "memory"))
	}
	defer store.Close()

	opts := server.HubOptions{Logger: logger, OriginPatterns: cfg.AllowedOrigins}
	if cfg.DatabaseURL != "" {
		repo, err := server.NewRepository(cfg.DatabaseURL)
		if err != nil {
			log.Fatalf("results repo init error: %v", err)
		}
		defer repo.Close()
		sctx, scancel := context.WithTimeout(context.Background(), 10*time.Second)
		if err := repo.EnsureSchema(sctx); err != nil {
			scancel()
			log.Fatalf("results schema error: %v", err)
		}
		scancel()
		opts.Results = repo
	}

	hub := server.NewHub(store, opts)
	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           server.Handler(hub),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("relay_server_listen", zap.String("addr", cfg.ListenAddr))
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
	if err := g.Wait(); err != nil {
		logger.Error("relay_server_error", zap.Error(err))
	}
}
