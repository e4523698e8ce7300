package workflow

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"sjscal/pkg/executor/runner"
	"sjscal/pkg/metrics"
	"sjscal/pkg/models"
	tracing "sjscal/pkg/observability"
	"sjscal/pkg/storage"
)

// ErrEnvironment marks a run that could not start because its workspace
// could not be provisioned. No step runs in that case.
var ErrEnvironment = errors.New("execution environment unavailable")

// Action is a built-in step implementation selected with `uses:`.
type Action interface {
	Run(ctx context.Context, sc *StepContext, with map[string]string) error
}

// ActionFunc adapts a function to Action.
type ActionFunc func(ctx context.Context, sc *StepContext, with map[string]string) error

func (f ActionFunc) Run(ctx context.Context, sc *StepContext, with map[string]string) error {
	return f(ctx, sc, with)
}

// ExitError is a step failure caused by a process exiting non-zero.
type ExitError struct {
	Code int
	Err  error
}

func (e *ExitError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("exit status %d: %v", e.Code, e.Err)
	}
	return fmt.Sprintf("exit status %d", e.Code)
}

func (e *ExitError) Unwrap() error {
	return e.Err
}

// EngineConfig wires the engine to its collaborators.
type EngineConfig struct {
	// WorkspaceRoot holds one directory per run, removed when the run ends.
	WorkspaceRoot string
	Runner        runner.JobRunner
	Blobs         storage.BlobStore
	Logger        *zap.Logger
	// BaseEnv is the environment every step starts from; nil means os.Environ().
	BaseEnv []string
	// Stream, when set, receives the run log as it is written.
	Stream io.Writer
	// Repository used by the checkout action when the step names none.
	RepoURL   string
	RepoToken string
}

// Engine executes workflow definitions.
type Engine struct {
	cfg     EngineConfig
	logger  *zap.Logger
	actions map[string]Action
	tracer  trace.Tracer
}

// NewEngine returns an engine with the built-in actions registered.
func NewEngine(cfg EngineConfig) *Engine {
	if cfg.Runner == nil {
		cfg.Runner = runner.NewShellRunner()
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.WorkspaceRoot == "" {
		cfg.WorkspaceRoot = filepath.Join(os.TempDir(), "sjscal")
	}
	e := &Engine{
		cfg:     cfg,
		logger:  cfg.Logger,
		actions: make(map[string]Action),
		tracer:  otel.Tracer("sjscal/workflow"),
	}
	registerBuiltins(e)
	return e
}

// Register adds or replaces an action.
func (e *Engine) Register(name string, a Action) {
	e.actions[strings.ToLower(name)] = a
}

// KnownActions lists registered action names for Definition.Validate.
func (e *Engine) KnownActions() map[string]bool {
	known := make(map[string]bool, len(e.actions))
	for name := range e.actions {
		known[name] = true
	}
	return known
}

// Execute runs def for run. It fills in the step records, artifacts, log
// reference, timings and conclusion of run. The returned error is non-nil
// only when the run could not start at all; step failures are reported
// through the conclusion.
func (e *Engine) Execute(ctx context.Context, def *Definition, run *models.Run) error {
	started := time.Now()
	if run.Workflow == "" {
		run.Workflow = def.Name
	}
	if run.StartedAt == nil {
		run.StartedAt = &started
	}

	log := e.logger.With(
		zap.String("run_id", run.ID.String()),
		zap.String("workflow", def.Name),
		zap.String("event", string(run.Event)),
	)

	ctx, span := e.tracer.Start(ctx, "workflow.run", trace.WithAttributes(
		attribute.String("run.id", run.ID.String()),
		attribute.String("workflow", def.Name),
		attribute.String("event", string(run.Event)),
	))
	defer span.End()
	if id := tracing.TraceID(ctx); id != "" {
		log = log.With(zap.String("trace_id", id))
	}

	runLog := newRunLog(e.cfg.Stream)
	fmt.Fprintf(runLog, "Run %s of %q triggered by %s\n", run.ID, def.Name, run.Event)

	root := filepath.Join(e.cfg.WorkspaceRoot, run.ID.String())
	workspace := filepath.Join(root, "repo")
	toolDir := filepath.Join(root, "_tool")
	if err := provision(workspace, toolDir); err != nil {
		fmt.Fprintf(runLog, "##[error] %v\n", err)
		e.finish(ctx, run, models.ConclusionFailure, runLog, log)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("%w: %v", ErrEnvironment, err)
	}
	defer func() {
		if err := os.RemoveAll(root); err != nil {
			log.Warn("Failed to remove run workspace", zap.String("path", root), zap.Error(err))
		}
	}()

	sc := &StepContext{
		Run:       run,
		Workflow:  def,
		Workspace: workspace,
		ToolDir:   toolDir,
		Log:       runLog,
		Logger:    log,
		Blobs:     e.cfg.Blobs,
		Runner:    e.cfg.Runner,
		engine:    e,
		baseEnv:   e.baseEnv(),
		exported:  make(map[string]string),
	}

	var state JobState
	run.Steps = make(models.StepRecords, 0, len(def.Steps))
	for i, step := range def.Steps {
		state.Cancelled = ctx.Err() != nil
		rec := e.runStep(ctx, sc, i+1, step, state, log)
		if rec.Outcome == models.StepFailure {
			state.Failed = true
		}
		run.Steps = append(run.Steps, rec)
	}
	run.Artifacts = sc.artifacts

	conclusion := models.ConclusionSuccess
	switch {
	case ctx.Err() != nil:
		conclusion = models.ConclusionCancelled
	case state.Failed:
		conclusion = models.ConclusionFailure
	}
	if conclusion != models.ConclusionSuccess {
		span.SetStatus(codes.Error, string(conclusion))
	}

	e.finish(ctx, run, conclusion, runLog, log)
	return nil
}

func provision(dirs ...string) error {
	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create %s: %w", dir, err)
		}
	}
	return nil
}

func (e *Engine) runStep(ctx context.Context, sc *StepContext, n int, step StepSpec, state JobState, log *zap.Logger) models.StepRecord {
	rec := models.StepRecord{
		Number: n,
		Name:   step.DisplayName(),
		Uses:   step.Uses,
		Run:    step.Run,
	}
	action := step.Action()
	stepLog := log.With(zap.Int("step", n), zap.String("step_name", rec.Name))

	cond, err := ParseCondition(step.If)
	if err != nil {
		rec.Condition = step.If
		rec.Outcome = models.StepFailure
		rec.Error = err.Error()
		fmt.Fprintf(sc.Log, "##[error] Step %d: %v\n", n, err)
		metrics.RecordStep(action, string(rec.Outcome), 0)
		return rec
	}
	rec.Condition = cond.String()

	if !cond.Eval(state) {
		rec.Outcome = models.StepSkipped
		fmt.Fprintf(sc.Log, "=== Step %d: %s (skipped, %s)\n", n, rec.Name, rec.Condition)
		stepLog.Info("Step skipped", zap.String("condition", rec.Condition))
		metrics.RecordStep(action, string(rec.Outcome), 0)
		return rec
	}

	stepCtx := ctx
	if state.Cancelled {
		// Only steps whose condition holds after cancellation get here.
		stepCtx = context.WithoutCancel(ctx)
	}
	stepCtx, span := e.tracer.Start(stepCtx, "workflow.step", trace.WithAttributes(
		attribute.Int("step.number", n),
		attribute.String("step.name", rec.Name),
		attribute.String("step.action", action),
	))
	defer span.End()

	start := time.Now()
	rec.StartedAt = &start
	fmt.Fprintf(sc.Log, "=== Step %d: %s\n", n, rec.Name)
	stepLog.Info("Step started", zap.String("action", action))

	sc.step = step
	err = e.dispatch(stepCtx, sc, step)
	rec.Duration = time.Since(start)

	if err != nil {
		rec.Outcome = models.StepFailure
		rec.Error = err.Error()
		rec.ExitCode = 1
		var exitErr *ExitError
		if errors.As(err, &exitErr) {
			rec.ExitCode = exitErr.Code
		}
		span.SetStatus(codes.Error, rec.Error)
		fmt.Fprintf(sc.Log, "##[error] Step %d failed: %v\n", n, err)
		stepLog.Warn("Step failed", zap.Error(err), zap.Int("exit_code", rec.ExitCode), zap.Duration("duration", rec.Duration))
	} else {
		rec.Outcome = models.StepSuccess
		stepLog.Info("Step succeeded", zap.Duration("duration", rec.Duration))
	}
	fmt.Fprintf(sc.Log, "--- Step %d %s in %s\n", n, rec.Outcome, rec.Duration.Round(time.Millisecond))

	metrics.RecordStep(action, string(rec.Outcome), rec.Duration.Seconds())
	return rec
}

func (e *Engine) dispatch(ctx context.Context, sc *StepContext, step StepSpec) error {
	if step.Uses == "" {
		return runScript(ctx, sc, step)
	}
	action, ok := e.actions[ActionName(step.Uses)]
	if !ok {
		return fmt.Errorf("%w %q", ErrUnknownAction, step.Uses)
	}
	return action.Run(ctx, sc, step.With)
}

// finish concludes the run and uploads its combined log. The upload uses a
// context detached from cancellation so cancelled runs keep their log.
func (e *Engine) finish(ctx context.Context, run *models.Run, conclusion models.Conclusion, runLog *runLog, log *zap.Logger) {
	completed := time.Now()
	run.Conclusion = conclusion
	run.CompletedAt = &completed
	run.Status = models.RunCompleted

	fmt.Fprintf(runLog, "Run concluded: %s\n", conclusion)

	if e.cfg.Blobs != nil {
		uploadCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
		defer cancel()
		uri, err := e.cfg.Blobs.Put(uploadCtx, LogKey(run.ID.String()), bytes.NewReader(runLog.Bytes()), "text/plain; charset=utf-8")
		if err != nil {
			log.Error("Failed to upload run log", zap.Error(err))
		} else {
			run.LogURI = uri
		}
	}

	var duration time.Duration
	if run.StartedAt != nil {
		duration = completed.Sub(*run.StartedAt)
	}
	metrics.RecordRun(run.Workflow, string(run.Event), string(conclusion), duration.Seconds())
	log.Info("Run completed", zap.String("conclusion", string(conclusion)), zap.Duration("duration", duration))
}

// LogKey is the blob key of a run's combined log.
func LogKey(runID string) string {
	return "logs/" + runID + ".log"
}

func (e *Engine) baseEnv() []string {
	if e.cfg.BaseEnv != nil {
		return e.cfg.BaseEnv
	}
	return os.Environ()
}

// StepContext is what a step sees: the run, its directories, the combined
// log and the environment accumulated by earlier steps.
type StepContext struct {
	Run       *models.Run
	Workflow  *Definition
	Workspace string
	ToolDir   string
	Log       io.Writer
	Logger    *zap.Logger
	Blobs     storage.BlobStore
	Runner    runner.JobRunner

	engine    *Engine
	step      StepSpec
	baseEnv   []string
	exported  map[string]string
	paths     []string
	artifacts []models.ArtifactRef
}

// ExportEnv sets a variable for every later step.
func (sc *StepContext) ExportEnv(key, value string) {
	sc.exported[key] = value
}

// AddPath prepends dir to PATH for every later step.
func (sc *StepContext) AddPath(dir string) {
	sc.paths = append(sc.paths, dir)
}

// AddArtifact records an uploaded artifact on the run.
func (sc *StepContext) AddArtifact(ref models.ArtifactRef) {
	sc.artifacts = append(sc.artifacts, ref)
}

// Environ builds the environment for the current step: base environment,
// workflow env, step env, exported variables, then PATH additions.
func (sc *StepContext) Environ() []string {
	env := make(map[string]string)
	for _, kv := range sc.baseEnv {
		if k, v, ok := strings.Cut(kv, "="); ok {
			env[k] = v
		}
	}
	if sc.Workflow != nil {
		for k, v := range sc.Workflow.Env {
			env[k] = v
		}
	}
	for k, v := range sc.step.Env {
		env[k] = v
	}
	for k, v := range sc.exported {
		env[k] = v
	}
	env["CI"] = "true"
	env["SJSCAL_RUN_ID"] = sc.Run.ID.String()
	env["SJSCAL_WORKFLOW"] = sc.Run.Workflow
	env["SJSCAL_EVENT"] = string(sc.Run.Event)
	env["SJSCAL_WORKSPACE"] = sc.Workspace

	if len(sc.paths) > 0 {
		parts := make([]string, 0, len(sc.paths)+1)
		for i := len(sc.paths) - 1; i >= 0; i-- {
			parts = append(parts, sc.paths[i])
		}
		if p := env["PATH"]; p != "" {
			parts = append(parts, p)
		}
		env["PATH"] = strings.Join(parts, string(os.PathListSeparator))
	}

	out := make([]string, 0, len(env))
	for k, v := range env {
		out = append(out, k+"="+v)
	}
	sort.Strings(out)
	return out
}

// Exec runs a process in the workspace with the step environment, streaming
// its output into the run log.
func (sc *StepContext) Exec(ctx context.Context, path string, args ...string) runner.Result {
	return sc.ExecIn(ctx, sc.Workspace, path, args...)
}

// ExecIn is Exec with an explicit working directory.
func (sc *StepContext) ExecIn(ctx context.Context, dir, path string, args ...string) runner.Result {
	env := sc.Environ()
	return sc.Runner.Run(ctx, runner.Command{
		Path:   lookPath(path, env),
		Args:   args,
		Dir:    dir,
		Env:    env,
		Output: sc.Log,
	})
}

// lookPath resolves a bare command name against the PATH of env, so tools a
// previous step put on PATH are found. Unresolved names are returned as is.
func lookPath(name string, env []string) string {
	if strings.ContainsRune(name, os.PathSeparator) {
		return name
	}
	var path string
	for _, kv := range env {
		if v, ok := strings.CutPrefix(kv, "PATH="); ok {
			path = v
		}
	}
	for _, dir := range filepath.SplitList(path) {
		if dir == "" {
			continue
		}
		candidate := filepath.Join(dir, name)
		if info, err := os.Stat(candidate); err == nil && !info.IsDir() && info.Mode()&0111 != 0 {
			return candidate
		}
	}
	return name
}

// runLog is the combined, append-only log of a run.
type runLog struct {
	mu     sync.Mutex
	buf    bytes.Buffer
	stream io.Writer
}

func newRunLog(stream io.Writer) *runLog {
	return &runLog{stream: stream}
}

func (l *runLog) Write(p []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.stream != nil {
		_, _ = l.stream.Write(p)
	}
	return l.buf.Write(p)
}

func (l *runLog) Bytes() []byte {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]byte(nil), l.buf.Bytes()...)
}
