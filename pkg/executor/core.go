package executor

import (
	"context"
	"errors"
	"fmt"
	"os"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/shirou/gopsutil/v3/mem"
	"go.uber.org/zap"

	"sjscal/pkg/coordination"
	"sjscal/pkg/metrics"
	"sjscal/pkg/models"
	"sjscal/pkg/storage"
	"sjscal/pkg/workflow"
)

// DefaultGroup is the consumer group every runner joins.
const DefaultGroup = "sjscal-runners"

// Catalog resolves workflow names to definitions.
type Catalog interface {
	Workflow(name string) (*workflow.Definition, bool)
}

// Config tunes a runner node.
type Config struct {
	// ID defaults to <hostname>-<random>.
	ID string
	// Concurrency caps simultaneous runs; zero means one per CPU.
	Concurrency       int
	Group             string
	HeartbeatInterval time.Duration
}

// Executor pulls run requests off the queue and executes them.
type Executor struct {
	ID       string
	Hostname string

	// Resources
	TotalCPU int
	TotalMem uint64 // In MB

	cfg         Config
	coordinator coordination.Coordinator
	queue       storage.Queue
	store       storage.RunStore
	engine      *workflow.Engine
	catalog     Catalog
	logger      *zap.Logger
	running     atomic.Int64
}

func NewExecutor(cfg Config, coord coordination.Coordinator, queue storage.Queue, store storage.RunStore, engine *workflow.Engine, catalog Catalog, logger *zap.Logger) *Executor {
	hostname, _ := os.Hostname()
	if cfg.ID == "" {
		cfg.ID = fmt.Sprintf("%s-%s", hostname, uuid.New().String()[:8])
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = runtime.NumCPU()
	}
	if cfg.Group == "" {
		cfg.Group = DefaultGroup
	}
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = 5 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Executor{
		ID:          cfg.ID,
		Hostname:    hostname,
		TotalCPU:    runtime.NumCPU(),
		TotalMem:    detectTotalMemory(logger),
		cfg:         cfg,
		coordinator: coord,
		queue:       queue,
		store:       store,
		engine:      engine,
		catalog:     catalog,
		logger:      logger.With(zap.String("node_id", cfg.ID)),
	}
}

func detectTotalMemory(logger *zap.Logger) uint64 {
	v, err := mem.VirtualMemory()
	if err != nil {
		logger.Warn("Failed to detect memory, assuming 1GB", zap.Error(err))
		return 1024
	}
	return v.Total / 1024 / 1024
}

// Running reports how many runs are executing on this node.
func (e *Executor) Running() int {
	return int(e.running.Load())
}

// Start runs the heartbeat and work loops until ctx is cancelled, then waits
// for in-flight runs to conclude.
func (e *Executor) Start(ctx context.Context) {
	e.logger.Info("Runner starting",
		zap.Int("cpus", e.TotalCPU),
		zap.Uint64("memory_mb", e.TotalMem),
		zap.Int("concurrency", e.cfg.Concurrency),
	)

	if err := e.queue.EnsureGroup(ctx, e.cfg.Group); err != nil {
		e.logger.Warn("Failed to ensure consumer group", zap.Error(err))
	}

	go e.heartbeatLoop(ctx)

	var wg sync.WaitGroup
	sem := make(chan struct{}, e.cfg.Concurrency)
	for {
		select {
		case <-ctx.Done():
			wg.Wait()
			e.logger.Info("Runner stopped")
			return
		case sem <- struct{}{}:
			wg.Add(1)
			go func() {
				defer wg.Done()
				defer func() { <-sem }()
				e.consumeOne(ctx)
			}()
		}
	}
}

func (e *Executor) heartbeatLoop(ctx context.Context) {
	if err := e.RegisterHeartbeat(ctx); err != nil {
		e.logger.Warn("Heartbeat failed", zap.Error(err))
	}
	ticker := time.NewTicker(e.cfg.HeartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := e.RegisterHeartbeat(ctx); err != nil {
				e.logger.Warn("Heartbeat failed", zap.Error(err))
			}
		}
	}
}

func (e *Executor) consumeOne(ctx context.Context) {
	msgID, req, err := e.queue.Pop(ctx, e.cfg.Group, e.ID)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		if msgID != "" {
			// Undecodable; drop it rather than leave it pending forever.
			e.logger.Error("Dropping malformed run request", zap.String("msg_id", msgID), zap.Error(err))
			if err := e.queue.Ack(ctx, e.cfg.Group, msgID); err != nil {
				e.logger.Error("Failed to ack run request", zap.Error(err))
			}
			return
		}
		e.logger.Error("Failed to pop run request", zap.Error(err))
		select {
		case <-ctx.Done():
		case <-time.After(time.Second):
		}
		return
	}
	if req == nil {
		return
	}

	if _, err := e.Process(ctx, msgID, req); err != nil {
		e.logger.Error("Run processing failed", zap.String("run_id", req.RunID.String()), zap.Error(err))
	}
}

// Process executes one queued run to completion, records the result and
// acknowledges the message. Bookkeeping after the run is detached from ctx so
// a cancelled run still lands as completed.
func (e *Executor) Process(ctx context.Context, msgID string, req *models.RunRequest) (*models.Run, error) {
	log := e.logger.With(zap.String("run_id", req.RunID.String()), zap.String("workflow", req.Workflow))
	after := context.WithoutCancel(ctx)
	defer func() {
		if err := e.queue.Ack(after, e.cfg.Group, msgID); err != nil {
			log.Error("Failed to ack run request", zap.Error(err))
		}
	}()

	run, err := e.store.GetRun(ctx, req.RunID)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		run = &models.Run{
			ID:       req.RunID,
			Workflow: req.Workflow,
			Event:    req.Event,
			Actor:    req.Actor,
			Status:   models.RunQueued,
			QueuedAt: req.QueuedAt,
		}
		if err := e.store.CreateRun(ctx, run); err != nil && !errors.Is(err, storage.ErrConflict) {
			return nil, fmt.Errorf("failed to record run: %w", err)
		}
	case err != nil:
		return nil, fmt.Errorf("failed to load run: %w", err)
	}
	if run.Status == models.RunCompleted {
		log.Info("Run already completed, skipping")
		return run, nil
	}

	def, ok := e.catalog.Workflow(req.Workflow)
	if !ok {
		now := time.Now()
		run.Status = models.RunCompleted
		run.Conclusion = models.ConclusionFailure
		run.CompletedAt = &now
		if err := e.store.CompleteRun(after, run); err != nil {
			return run, fmt.Errorf("failed to record result: %w", err)
		}
		return run, fmt.Errorf("workflow %q is not known to this runner", req.Workflow)
	}

	started := time.Now()
	if err := e.store.MarkStarted(ctx, run.ID, e.ID, started); err != nil {
		log.Warn("Failed to mark run started", zap.Error(err))
	}
	nodeID := e.ID
	run.NodeID = &nodeID
	run.Status = models.RunInProgress
	run.StartedAt = &started

	e.running.Add(1)
	metrics.RunsInProgress.Inc()
	log.Info("Run started", zap.String("event", string(run.Event)), zap.String("actor", run.Actor))

	execErr := e.engine.Execute(ctx, def, run)

	metrics.RunsInProgress.Dec()
	e.running.Add(-1)

	if execErr != nil {
		log.Error("Run could not execute", zap.Error(execErr))
	}
	if err := e.store.CompleteRun(after, run); err != nil {
		return run, fmt.Errorf("failed to record result: %w", err)
	}
	return run, nil
}

// RegisterHeartbeat refreshes this node's liveness lease. The lease outlives
// three missed heartbeats.
func (e *Executor) RegisterHeartbeat(ctx context.Context) error {
	ttl := int((3 * e.cfg.HeartbeatInterval).Seconds())
	if ttl < 1 {
		ttl = 1
	}
	status := "idle"
	if n := e.Running(); n > 0 {
		status = fmt.Sprintf("running %d", n)
	}
	if err := e.coordinator.RegisterNode(ctx, e.ID, status, ttl); err != nil {
		return fmt.Errorf("failed to register node: %w", err)
	}
	metrics.HeartbeatsSent.Inc()
	return nil
}
