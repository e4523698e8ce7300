package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	config "sjscal/configs"
	"sjscal/pkg/bootstrap"
	"sjscal/pkg/coordination/etcd"
	"sjscal/pkg/executor"
	"sjscal/pkg/scheduler"
	"sjscal/pkg/storage/postgres"
	"sjscal/pkg/storage/redis"
)

func main() {
	cfg := config.LoadConfig()
	logger := bootstrap.Logger(cfg, "sjscal-runner")
	defer logger.Sync()
	logger.Info("Starting up")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	tracer, err := bootstrap.Tracing(ctx, cfg, "sjscal-runner")
	if err != nil {
		logger.Fatal("Failed to initialize tracing", zap.Error(err))
	}
	defer tracer.Shutdown(context.Background())

	// Postgres holds run history; the runner records every outcome there.
	store, err := postgres.NewPostgresStore(cfg.PostgresDSN())
	if err != nil {
		logger.Fatal("Failed to initialize storage", zap.Error(err))
	}
	defer store.Close()

	etcdCoord, err := etcd.NewEtcdCoordinator(cfg.EtcdEndpoints, cfg.LeaderElectionTTL)
	if err != nil {
		logger.Fatal("Failed to connect to etcd", zap.Error(err))
	}
	defer etcdCoord.Close()

	queue, err := redis.NewRedisQueue(cfg.RedisAddr())
	if err != nil {
		logger.Fatal("Failed to initialize redis queue", zap.Error(err))
	}
	defer queue.Close()

	blobs, err := bootstrap.Blobs(ctx, cfg)
	if err != nil {
		logger.Fatal("Failed to initialize blob store", zap.Error(err))
	}

	engine := bootstrap.Engine(cfg, blobs, logger, nil)
	defs, err := bootstrap.Workflows(cfg, engine)
	if err != nil {
		logger.Fatal("Failed to load workflow", zap.Error(err))
	}

	exec := executor.NewExecutor(executor.Config{
		ID:          bootstrap.NodeID("runner"),
		Concurrency: cfg.RunnerConcurrency,
	}, etcdCoord, queue, store, engine, scheduler.NewDispatcher(defs, store, queue, logger), logger)

	// Start returns once the context is cancelled and in-flight runs finish.
	exec.Start(ctx)
	logger.Info("Shutdown complete")
}
