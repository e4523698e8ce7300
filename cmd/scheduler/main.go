package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	config "sjscal/configs"
	"sjscal/pkg/bootstrap"
	"sjscal/pkg/coordination/etcd"
	"sjscal/pkg/scheduler"
	"sjscal/pkg/storage/postgres"
	"sjscal/pkg/storage/redis"
)

func main() {
	cfg := config.LoadConfig()
	logger := bootstrap.Logger(cfg, "sjscal-scheduler")
	defer logger.Sync()
	logger.Info("Starting up")

	// Create cancellable context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Setup signal handling
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	tracer, err := bootstrap.Tracing(ctx, cfg, "sjscal-scheduler")
	if err != nil {
		logger.Fatal("Failed to initialize tracing", zap.Error(err))
	}
	defer tracer.Shutdown(context.Background())

	store, err := postgres.NewPostgresStore(cfg.PostgresDSN())
	if err != nil {
		logger.Fatal("Failed to initialize storage", zap.Error(err))
	}
	defer store.Close()
	logger.Info("Postgres connected & schema initialized")

	queue, err := redis.NewRedisQueue(cfg.RedisAddr())
	if err != nil {
		logger.Fatal("Failed to initialize redis queue", zap.Error(err))
	}
	defer queue.Close()
	logger.Info("Redis connected")

	etcdCoord, err := etcd.NewEtcdCoordinator(cfg.EtcdEndpoints, cfg.LeaderElectionTTL)
	if err != nil {
		logger.Fatal("Failed to connect to etcd", zap.Error(err))
	}
	defer etcdCoord.Close()
	logger.Info("Connected to etcd")

	blobs, err := bootstrap.Blobs(ctx, cfg)
	if err != nil {
		logger.Fatal("Failed to initialize blob store", zap.Error(err))
	}
	defs, err := bootstrap.Workflows(cfg, bootstrap.Engine(cfg, blobs, logger, nil))
	if err != nil {
		logger.Fatal("Failed to load workflow", zap.Error(err))
	}

	id := bootstrap.NodeID("scheduler")
	core, err := scheduler.NewCore(scheduler.CoreConfig{
		ID:       id,
		Interval: cfg.SchedulerTick(),
	}, scheduler.NewDispatcher(defs, store, queue, logger), store, etcdCoord, logger)
	if err != nil {
		logger.Fatal("Failed to build schedule", zap.Error(err))
	}
	for name, next := range core.NextRuns() {
		logger.Info("Next scheduled run", zap.String("workflow", name), zap.Time("at", next))
	}

	// Campaign blocks until this replica leads. The loop runs meanwhile so
	// followers keep their schedule current and can take over without
	// replaying missed fire times.
	election := etcdCoord.NewElection(scheduler.ElectionName)
	go func() {
		logger.Info("Requesting leadership", zap.String("id", id))
		if err := election.Campaign(ctx, id); err != nil {
			if ctx.Err() == nil {
				logger.Error("Election campaign failed", zap.Error(err))
			}
			return
		}
		logger.Info("Elected leader", zap.String("id", id))
	}()

	done := make(chan struct{})
	go func() {
		defer close(done)
		core.Run(ctx, election)
	}()

	sig := <-sigChan
	logger.Info("Received signal, initiating graceful shutdown", zap.String("signal", sig.String()))

	// Cancel context to stop scheduler loop
	cancel()
	<-done

	// Resign leadership so another scheduler can take over quickly
	resignCtx, resignCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer resignCancel()
	if err := election.Resign(resignCtx); err != nil {
		logger.Warn("Failed to resign leadership", zap.Error(err))
	} else {
		logger.Info("Leadership resigned")
	}

	logger.Info("Shutdown complete")
}
