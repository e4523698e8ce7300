package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"sjscal/pkg/metrics"
	"sjscal/pkg/models"
	"sjscal/pkg/storage"
	"sjscal/pkg/workflow"
)

var (
	ErrUnknownWorkflow = errors.New("unknown workflow")
	ErrNotDispatchable = errors.New("workflow has no manual trigger")
)

// Trigger asks for one run of a workflow.
type Trigger struct {
	Workflow string
	Event    models.TriggerEvent
	Actor    string
	// ScheduledAt is the cron time a scheduled trigger was due; zero for
	// manual dispatches.
	ScheduledAt time.Time
}

// Dispatcher turns triggers into queued runs. The scheduler, the API and the
// CLI all go through it, so scheduled and manual runs are indistinguishable
// apart from their event.
type Dispatcher struct {
	workflows map[string]*workflow.Definition
	store     storage.RunStore
	queue     storage.Queue
	logger    *zap.Logger
	now       func() time.Time
}

func NewDispatcher(defs []*workflow.Definition, store storage.RunStore, queue storage.Queue, logger *zap.Logger) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	workflows := make(map[string]*workflow.Definition, len(defs))
	for _, def := range defs {
		workflows[def.Name] = def
	}
	return &Dispatcher{
		workflows: workflows,
		store:     store,
		queue:     queue,
		logger:    logger,
		now:       time.Now,
	}
}

// Workflow looks up a definition by name.
func (d *Dispatcher) Workflow(name string) (*workflow.Definition, bool) {
	def, ok := d.workflows[name]
	return def, ok
}

// Workflows returns the known definitions sorted by name.
func (d *Dispatcher) Workflows() []*workflow.Definition {
	out := make([]*workflow.Definition, 0, len(d.workflows))
	for _, def := range d.workflows {
		out = append(out, def)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Dispatch records a queued run for t and pushes it to the runners. If the
// push fails the run is completed as a failure so it does not sit queued.
func (d *Dispatcher) Dispatch(ctx context.Context, t Trigger) (*models.Run, error) {
	def, ok := d.workflows[t.Workflow]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownWorkflow, t.Workflow)
	}
	if t.Event == models.EventWorkflowDispatch && !def.HasManualTrigger() {
		return nil, fmt.Errorf("%w: %s", ErrNotDispatchable, t.Workflow)
	}

	now := d.now().UTC()
	run := &models.Run{
		ID:       uuid.New(),
		Workflow: def.Name,
		Event:    t.Event,
		Actor:    t.Actor,
		Status:   models.RunQueued,
		QueuedAt: now,
	}
	if err := d.store.CreateRun(ctx, run); err != nil {
		return nil, fmt.Errorf("failed to record run: %w", err)
	}

	req := &models.RunRequest{
		RunID:    run.ID,
		Workflow: run.Workflow,
		Event:    run.Event,
		Actor:    run.Actor,
		QueuedAt: run.QueuedAt,
	}
	if err := d.queue.Push(ctx, req); err != nil {
		run.Status = models.RunCompleted
		run.Conclusion = models.ConclusionFailure
		run.CompletedAt = &now
		if cerr := d.store.CompleteRun(context.WithoutCancel(ctx), run); cerr != nil {
			d.logger.Error("Failed to fail unqueued run", zap.String("run_id", run.ID.String()), zap.Error(cerr))
		}
		return nil, fmt.Errorf("failed to queue run: %w", err)
	}

	lag := -1.0
	if !t.ScheduledAt.IsZero() {
		lag = now.Sub(t.ScheduledAt).Seconds()
	}
	metrics.RecordDispatch(string(t.Event), lag)

	d.logger.Info("Run queued",
		zap.String("run_id", run.ID.String()),
		zap.String("workflow", run.Workflow),
		zap.String("event", string(run.Event)),
		zap.String("actor", run.Actor),
	)
	return run, nil
}
