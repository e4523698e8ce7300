package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for sjscal.
// Using promauto for automatic registration with default registry.
var (
	// --- Run Metrics ---

	// RunsTotal counts completed runs by workflow, trigger event and conclusion.
	RunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "sjscal",
			Subsystem: "runs",
			Name:      "total",
			Help:      "Total number of completed workflow runs",
		},
		[]string{"workflow", "event", "conclusion"},
	)

	// RunDuration tracks wall time of a run from start to conclusion.
	RunDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "sjscal",
			Subsystem: "runs",
			Name:      "duration_seconds",
			Help:      "Duration of workflow runs in seconds",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 13), // 1s to ~1.1h
		},
		[]string{"workflow", "conclusion"},
	)

	// RunsInProgress tracks runs currently executing on this process.
	RunsInProgress = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "sjscal",
			Subsystem: "runs",
			Name:      "in_progress",
			Help:      "Number of runs currently executing on this node",
		},
	)

	// --- Step Metrics ---

	// StepsTotal counts steps by action and outcome.
	StepsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "sjscal",
			Subsystem: "steps",
			Name:      "total",
			Help:      "Total number of workflow steps by outcome",
		},
		[]string{"action", "outcome"},
	)

	// StepDuration tracks step execution time.
	StepDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "sjscal",
			Subsystem: "steps",
			Name:      "duration_seconds",
			Help:      "Duration of workflow steps in seconds",
			Buckets:   prometheus.ExponentialBuckets(0.1, 2, 15), // 0.1s to ~1.8h
		},
		[]string{"action"},
	)

	// --- Artifact & Git Metrics ---

	// ArtifactBytes tracks the size of uploaded artifact archives.
	ArtifactBytes = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "sjscal",
			Subsystem: "artifacts",
			Name:      "size_bytes",
			Help:      "Size of uploaded artifact archives",
			Buckets:   prometheus.ExponentialBuckets(1024, 4, 10), // 1KiB to ~256MiB
		},
		[]string{"name"},
	)

	// PushesTotal counts commit-and-push attempts by classified result.
	PushesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "sjscal",
			Subsystem: "git",
			Name:      "pushes_total",
			Help:      "Commit and push attempts by result",
		},
		[]string{"result"},
	)

	// --- Scheduler Metrics ---

	// SchedulerLag measures delay between scheduled time and actual dispatch.
	SchedulerLag = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "sjscal",
			Subsystem: "scheduler",
			Name:      "lag_seconds",
			Help:      "Delay between scheduled time and actual dispatch",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12), // 10ms to ~40s
		},
	)

	// SchedulerPolls counts scheduler poll cycles.
	SchedulerPolls = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "sjscal",
			Subsystem: "scheduler",
			Name:      "polls_total",
			Help:      "Total number of scheduler poll cycles",
		},
	)

	// RunsDispatched counts queued runs by trigger event.
	RunsDispatched = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "sjscal",
			Subsystem: "scheduler",
			Name:      "runs_dispatched_total",
			Help:      "Total number of runs queued by trigger event",
		},
		[]string{"event"},
	)

	// OrphansReaped counts in_progress runs failed because their node died.
	OrphansReaped = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "sjscal",
			Subsystem: "scheduler",
			Name:      "orphans_reaped_total",
			Help:      "Total number of orphaned runs cleaned up",
		},
	)

	// --- Runner Metrics ---

	// ActiveNodes tracks number of live runner nodes.
	ActiveNodes = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "sjscal",
			Subsystem: "cluster",
			Name:      "active_nodes",
			Help:      "Number of active runner nodes",
		},
	)

	// HeartbeatsSent counts heartbeats sent by runners.
	HeartbeatsSent = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "sjscal",
			Subsystem: "runner",
			Name:      "heartbeats_total",
			Help:      "Total heartbeats sent",
		},
	)

	// CircuitState reports breaker state per dependency (0 closed, 1 open, 2 half-open).
	CircuitState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "sjscal",
			Subsystem: "resilience",
			Name:      "circuit_state",
			Help:      "Circuit breaker state per dependency",
		},
		[]string{"name"},
	)
)

// RecordRun records metrics for a completed run.
func RecordRun(workflow, event, conclusion string, durationSeconds float64) {
	RunsTotal.WithLabelValues(workflow, event, conclusion).Inc()
	RunDuration.WithLabelValues(workflow, conclusion).Observe(durationSeconds)
}

// RecordStep records metrics for a finished or skipped step.
func RecordStep(action, outcome string, durationSeconds float64) {
	StepsTotal.WithLabelValues(action, outcome).Inc()
	if outcome != "skipped" {
		StepDuration.WithLabelValues(action).Observe(durationSeconds)
	}
}

// RecordDispatch records a run being queued.
func RecordDispatch(event string, lagSeconds float64) {
	RunsDispatched.WithLabelValues(event).Inc()
	if lagSeconds >= 0 {
		SchedulerLag.Observe(lagSeconds)
	}
}
