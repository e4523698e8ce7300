package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"sjscal/pkg/coordination"
	"sjscal/pkg/metrics"
	"sjscal/pkg/models"
	"sjscal/pkg/storage"
)

// ElectionName is the campaign scheduler replicas run to pick the dispatcher.
const ElectionName = "sjscal-scheduler"

type entry struct {
	workflow string
	spec     string
	schedule cron.Schedule
	next     time.Time
}

// Core fires schedule triggers and reaps orphaned runs. Every replica keeps
// its entries moving forward; only the elected leader dispatches.
type Core struct {
	id          string
	dispatcher  *Dispatcher
	store       storage.RunStore
	coordinator coordination.Coordinator
	logger      *zap.Logger

	entries   []*entry
	interval  time.Duration
	reconcile time.Duration
	now       func() time.Time
}

// CoreConfig holds the scheduler's identity and timings.
type CoreConfig struct {
	ID                string
	Interval          time.Duration
	ReconcileInterval time.Duration
}

func NewCore(cfg CoreConfig, dispatcher *Dispatcher, store storage.RunStore, coord coordination.Coordinator, logger *zap.Logger) (*Core, error) {
	if cfg.Interval <= 0 {
		cfg.Interval = 10 * time.Second
	}
	if cfg.ReconcileInterval <= 0 {
		cfg.ReconcileInterval = 30 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	c := &Core{
		id:          cfg.ID,
		dispatcher:  dispatcher,
		store:       store,
		coordinator: coord,
		logger:      logger,
		interval:    cfg.Interval,
		reconcile:   cfg.ReconcileInterval,
		now:         time.Now,
	}

	start := c.now().UTC()
	for _, def := range dispatcher.Workflows() {
		for _, spec := range def.CronSpecs() {
			schedule, err := ParseSchedule(spec)
			if err != nil {
				return nil, fmt.Errorf("workflow %s: %w", def.Name, err)
			}
			next := schedule.Next(start)
			if next.IsZero() {
				logger.Warn("Skipping schedule that never fires",
					zap.String("workflow", def.Name),
					zap.String("cron", spec),
				)
				continue
			}
			c.entries = append(c.entries, &entry{
				workflow: def.Name,
				spec:     spec,
				schedule: schedule,
				next:     next,
			})
		}
	}
	return c, nil
}

// NextRuns reports when each workflow is next due.
func (c *Core) NextRuns() map[string]time.Time {
	out := make(map[string]time.Time)
	for _, e := range c.entries {
		if cur, ok := out[e.workflow]; !ok || e.next.Before(cur) {
			out[e.workflow] = e.next
		}
	}
	return out
}

// Run starts the main scheduler loop.
// It blocks until the context is cancelled.
func (c *Core) Run(ctx context.Context, election coordination.Election) {
	c.logger.Info("Scheduler loop started",
		zap.String("id", c.id),
		zap.Int("schedules", len(c.entries)),
		zap.Duration("interval", c.interval),
	)

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	reconcileTicker := time.NewTicker(c.reconcile)
	defer reconcileTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			c.logger.Info("Scheduler shutting down")
			return
		case <-ticker.C:
			leading := c.isLeader(ctx, election)
			if err := c.PollAndSchedule(ctx, leading); err != nil {
				c.logger.Error("Schedule poll failed", zap.Error(err))
			}
		case <-reconcileTicker.C:
			if !c.isLeader(ctx, election) {
				continue
			}
			if err := c.Reconcile(ctx); err != nil {
				c.logger.Error("Reconcile failed", zap.Error(err))
			}
		}
	}
}

func (c *Core) isLeader(ctx context.Context, election coordination.Election) bool {
	if election == nil {
		return true
	}
	leader, err := election.Leader(ctx)
	if err != nil {
		if !errors.Is(err, coordination.ErrNoLeader) {
			c.logger.Warn("Leadership check failed", zap.Error(err))
		}
		return false
	}
	return leader == c.id
}

// PollAndSchedule fires every entry that is due. Missed fire times collapse
// into a single run; the entry then moves to its next time after now.
func (c *Core) PollAndSchedule(ctx context.Context, dispatch bool) error {
	metrics.SchedulerPolls.Inc()
	now := c.now().UTC()

	var errs []error
	for _, e := range c.entries {
		if e.next.IsZero() || e.next.After(now) {
			continue
		}
		due := e.next
		e.next = e.schedule.Next(now)

		if !dispatch {
			continue
		}
		run, err := c.dispatcher.Dispatch(ctx, Trigger{
			Workflow:    e.workflow,
			Event:       models.EventSchedule,
			Actor:       "scheduler",
			ScheduledAt: due,
		})
		if err != nil {
			errs = append(errs, fmt.Errorf("dispatch %s (%s): %w", e.workflow, e.spec, err))
			continue
		}
		c.logger.Info("Scheduled run dispatched",
			zap.String("workflow", e.workflow),
			zap.String("run_id", run.ID.String()),
			zap.Time("due", due),
			zap.Time("next", e.next),
		)
	}
	return errors.Join(errs...)
}

// Reconcile fails runs left in_progress by runner nodes that stopped
// heartbeating.
func (c *Core) Reconcile(ctx context.Context) error {
	nodes, err := c.coordinator.GetActiveNodes(ctx)
	if err != nil {
		return fmt.Errorf("failed to get active nodes: %w", err)
	}
	metrics.ActiveNodes.Set(float64(len(nodes)))

	count, err := c.store.MarkOrphansAsFailed(ctx, coordination.NodeIDs(nodes))
	if err != nil {
		return fmt.Errorf("failed to reap orphans: %w", err)
	}
	if count > 0 {
		metrics.OrphansReaped.Add(float64(count))
		c.logger.Warn("Reaped orphaned runs", zap.Int64("count", count), zap.Int("active_nodes", len(nodes)))
	}
	return nil
}
