package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	config "sjscal/configs"
	"sjscal/pkg/api"
	"sjscal/pkg/bootstrap"
	"sjscal/pkg/coordination/etcd"
	"sjscal/pkg/scheduler"
	"sjscal/pkg/storage/postgres"
	"sjscal/pkg/storage/redis"
)

func main() {
	cfg := config.LoadConfig()
	logger := bootstrap.Logger(cfg, "sjscal-api")
	defer logger.Sync()
	logger.Info("Starting up")

	// Create cancellable context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Setup signal handling
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	tracer, err := bootstrap.Tracing(ctx, cfg, "sjscal-api")
	if err != nil {
		logger.Fatal("Failed to initialize tracing", zap.Error(err))
	}
	defer tracer.Shutdown(context.Background())

	store, err := postgres.NewPostgresStore(cfg.PostgresDSN())
	if err != nil {
		logger.Fatal("Failed to initialize storage", zap.Error(err))
	}
	defer store.Close()
	logger.Info("Postgres connected")

	etcdCoord, err := etcd.NewEtcdCoordinator(cfg.EtcdEndpoints, cfg.LeaderElectionTTL)
	if err != nil {
		logger.Fatal("Failed to connect to etcd", zap.Error(err))
	}
	defer etcdCoord.Close()
	logger.Info("Etcd connected")

	queue, err := redis.NewRedisQueue(cfg.RedisAddr())
	if err != nil {
		logger.Fatal("Failed to initialize redis queue", zap.Error(err))
	}
	defer queue.Close()
	logger.Info("Redis connected")

	blobs, err := bootstrap.Blobs(ctx, cfg)
	if err != nil {
		logger.Fatal("Failed to initialize blob store", zap.Error(err))
	}

	// The engine is only consulted for its action names here; runs execute
	// on runner nodes.
	defs, err := bootstrap.Workflows(cfg, bootstrap.Engine(cfg, blobs, logger, nil))
	if err != nil {
		logger.Fatal("Failed to load workflow", zap.Error(err))
	}

	authCfg, err := bootstrap.Auth(cfg, queue.Client())
	if err != nil {
		logger.Fatal("Failed to configure authentication", zap.Error(err))
	}
	if !authCfg.Enabled() {
		logger.Warn("JWT_SECRET not set, API authentication disabled")
	}

	server := api.NewServer(api.Config{
		Port:         cfg.APIPort,
		Dispatcher:   scheduler.NewDispatcher(defs, store, queue, logger),
		Store:        store,
		Blobs:        blobs,
		Coordinator:  etcdCoord,
		ElectionName: scheduler.ElectionName,
		Auth:         authCfg,
		Logger:       logger,
	})

	go func() {
		if err := server.Start(); err != nil {
			logger.Error("Server error", zap.Error(err))
			cancel()
		}
	}()

	select {
	case sig := <-sigChan:
		logger.Info("Received signal, initiating graceful shutdown", zap.String("signal", sig.String()))
	case <-ctx.Done():
	}

	// Graceful shutdown with timeout
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("Shutdown error", zap.Error(err))
	}
	logger.Info("Shutdown complete")
}
