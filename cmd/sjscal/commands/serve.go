package commands

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"sjscal/pkg/api"
	"sjscal/pkg/bootstrap"
	"sjscal/pkg/coordination/local"
	"sjscal/pkg/executor"
	"sjscal/pkg/scheduler"
	"sjscal/pkg/storage/memory"
)

var servePort *string

func init() {
	servePort = serveCmd.Flags().String("port", "", "The API port; defaults to API_PORT.")
	rootCmd.AddCommand(serveCmd)
}

var serveCmd = &cobra.Command{
	Use:   "serve [--port <port>]",
	Short: "Runs scheduler, runner and API together in one process with in-memory state.",
	Run: func(cmd *cobra.Command, args []string) {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		tracer, err := bootstrap.Tracing(ctx, cfg, "sjscal")
		if err != nil {
			fatal("failed to initialize tracing", err)
		}
		defer tracer.Shutdown(context.Background())

		blobs, err := bootstrap.Blobs(ctx, cfg)
		if err != nil {
			fatal("failed to open blob store", err)
		}
		engine := bootstrap.Engine(cfg, blobs, logger, nil)
		defs, err := bootstrap.Workflows(cfg, engine)
		if err != nil {
			fatal("failed to load workflow", err)
		}

		store := memory.NewRunStore()
		queue := memory.NewQueue(16)
		coord := local.NewCoordinator()
		dispatcher := scheduler.NewDispatcher(defs, store, queue, logger)

		schedulerID := bootstrap.NodeID("scheduler")
		core, err := scheduler.NewCore(scheduler.CoreConfig{
			ID:       schedulerID,
			Interval: cfg.SchedulerTick(),
		}, dispatcher, store, coord, logger)
		if err != nil {
			fatal("failed to build schedule", err)
		}
		election := coord.NewElection(scheduler.ElectionName)
		if err := election.Campaign(ctx, schedulerID); err != nil {
			fatal("failed to take leadership", err)
		}

		exec := executor.NewExecutor(executor.Config{
			ID:          bootstrap.NodeID("runner"),
			Concurrency: cfg.RunnerConcurrency,
		}, coord, queue, store, engine, dispatcher, logger)

		authCfg, err := bootstrap.Auth(cfg, nil)
		if err != nil {
			fatal("failed to configure authentication", err)
		}
		port := *servePort
		if port == "" {
			port = cfg.APIPort
		}
		server := api.NewServer(api.Config{
			Port:         port,
			Dispatcher:   dispatcher,
			Store:        store,
			Blobs:        blobs,
			Coordinator:  coord,
			ElectionName: scheduler.ElectionName,
			Auth:         authCfg,
			Logger:       logger,
		})

		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			core.Run(ctx, election)
		}()
		go func() {
			defer wg.Done()
			exec.Start(ctx)
		}()
		go func() {
			if err := server.Start(); err != nil {
				logger.Error("Server error", zap.Error(err))
				stop()
			}
		}()

		for name, next := range core.NextRuns() {
			logger.Info("Next scheduled run", zap.String("workflow", name), zap.Time("at", next))
		}

		<-ctx.Done()
		logger.Info("Shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("Shutdown error", zap.Error(err))
		}
		wg.Wait()
	},
}
