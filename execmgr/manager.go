package execmgr

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/aura-automation/aura/engine"
	"github.com/aura-automation/aura/eventbus"
	"github.com/aura-automation/aura/queue"
	"github.com/aura-automation/aura/telemetry"
)

// TaskContext carries one submission's lifecycle state through the hook
// chain (spec §5, execution_manager.py's `task_context` dict).
type TaskContext struct {
	Tasklet   queue.Tasklet
	StartTime time.Time
	EndTime   time.Time
	Result    engine.Result
	Err       error
}

// PlanRunner is the per-plan execution seam the manager calls into, matched
// by *orchestrator.Orchestrator's ExecuteTask method.
type PlanRunner interface {
	ExecuteTask(ctx context.Context, taskNameInPlan string, triggeringEvent *eventbus.Event) (engine.Result, error)
}

// PlanProvider resolves a plan name to its runner (scheduler.py's
// `self.plans` dict).
type PlanProvider interface {
	Plan(planName string) (PlanRunner, bool)
}

// StatusSink receives run-status transitions for ad-hoc/scheduled runs
// (scheduler.py's update_run_status), absent for tasklets with no
// associated run id.
type StatusSink interface {
	UpdateRunStatus(runID string, fields map[string]any)
}

// RunningRegistry tracks in-flight task names so the commander (C12) can
// cancel a specific run (scheduler.py's `running_tasks`/`shared_data_lock`).
type RunningRegistry interface {
	RegisterRunning(taskName string, cancel context.CancelFunc)
	UnregisterRunning(taskName string)
}

// Manager dispatches tasklets against concurrency limits and a shared
// lifecycle hook chain (spec.md's C9).
type Manager struct {
	plans    PlanProvider
	status   StatusSink
	running  RunningRegistry
	hooks    *HookManager
	log      telemetry.Logger

	globalSem chan struct{}

	resourceMu  sync.Mutex
	resourceSem map[string]chan struct{}

	clusterLimiter ClusterResourceLimiter
}

// Option configures a Manager.
type Option func(*Manager)

// WithStatusSink installs the run-status sink.
func WithStatusSink(s StatusSink) Option { return func(m *Manager) { m.status = s } }

// WithRunningRegistry installs the in-flight task registry.
func WithRunningRegistry(r RunningRegistry) Option { return func(m *Manager) { m.running = r } }

// WithLogger installs the manager's logger.
func WithLogger(l telemetry.Logger) Option { return func(m *Manager) { m.log = l } }

// WithClusterResourceLimiter installs a ClusterResourceLimiter (typically a
// *rmap.Map) so a tasklet's resource tags gate concurrency cluster-wide
// instead of per-process: every aurad process sharing the same limiter
// counts against the same per-tag limit. Without this option resource tags
// are enforced locally only, which is the default.
func WithClusterResourceLimiter(l ClusterResourceLimiter) Option {
	return func(m *Manager) { m.clusterLimiter = l }
}

// New constructs a Manager bounded by maxConcurrentTasks simultaneous
// submissions (execution_manager.py's `_global_sem`, default 32).
func New(plans PlanProvider, hooks *HookManager, maxConcurrentTasks int, opts ...Option) *Manager {
	if maxConcurrentTasks <= 0 {
		maxConcurrentTasks = 32
	}
	m := &Manager{
		plans:       plans,
		hooks:       hooks,
		log:         telemetry.NoopLogger{},
		globalSem:   make(chan struct{}, maxConcurrentTasks),
		resourceSem: make(map[string]chan struct{}),
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// Submit runs tasklet to completion, acquiring the global semaphore plus one
// semaphore per declared resource tag, honoring tasklet.TimeoutSeconds, and
// firing the full lifecycle hook chain (spec §5, execution_manager.py's
// submit). isInterruptHandler suppresses run-status bookkeeping and the
// running-task registry, matching the source's own special case for
// interrupt-triggered handlers.
func (m *Manager) Submit(ctx context.Context, t queue.Tasklet, isInterruptHandler bool) error {
	runID, _ := t.Payload["id"].(string)
	displayName := t.TaskName
	if runID != "" {
		displayName = runID
	}

	start := time.Now()
	taskCtx := &TaskContext{Tasklet: t, StartTime: start}

	if runID != "" && !isInterruptHandler && m.status != nil {
		m.status.UpdateRunStatus(runID, map[string]any{"status": "running", "started_at": start})
	}

	release, err := m.acquireAll(ctx, t)
	if err != nil {
		return err
	}
	defer release()

	runCtx := ctx
	var cancel context.CancelFunc
	if t.TimeoutSeconds > 0 {
		runCtx, cancel = context.WithTimeout(ctx, time.Duration(t.TimeoutSeconds*float64(time.Second)))
		defer cancel()
	}

	if !isInterruptHandler && m.running != nil {
		var runningCancel context.CancelFunc
		runCtx, runningCancel = context.WithCancel(runCtx)
		m.running.RegisterRunning(t.TaskName, runningCancel)
		defer m.running.UnregisterRunning(t.TaskName)
	}

	m.log.Info(runCtx, "execmgr: task started", "task", displayName, "mode", t.ExecutionMode)
	m.hooks.Trigger(runCtx, "before_task_run", taskCtx)

	result, err := m.runExecutionChain(runCtx, t)
	taskCtx.EndTime = time.Now()
	taskCtx.Result = result
	taskCtx.Err = err

	switch {
	case errors.Is(err, context.DeadlineExceeded):
		m.log.Error(runCtx, "execmgr: task timed out", "task", displayName, "timeout_s", t.TimeoutSeconds)
		if runID != "" && !isInterruptHandler && m.status != nil {
			m.status.UpdateRunStatus(runID, map[string]any{"status": "idle", "last_run": start, "result": "timeout"})
		}
		m.hooks.Trigger(runCtx, "after_task_failure", taskCtx)
	case errors.Is(err, context.Canceled):
		m.log.Warn(runCtx, "execmgr: task cancelled", "task", displayName)
		if runID != "" && !isInterruptHandler && m.status != nil {
			m.status.UpdateRunStatus(runID, map[string]any{"status": "idle", "last_run": start, "result": "cancelled"})
		}
		m.hooks.Trigger(runCtx, "after_task_failure", taskCtx)
	case err != nil:
		m.log.Error(runCtx, "execmgr: task failed", "task", displayName, "error", err.Error())
		if runID != "" && !isInterruptHandler && m.status != nil {
			m.status.UpdateRunStatus(runID, map[string]any{"status": "idle", "last_run": start, "result": "failure"})
		}
		m.hooks.Trigger(runCtx, "after_task_failure", taskCtx)
	default:
		m.log.Info(runCtx, "execmgr: task succeeded", "task", displayName)
		if runID != "" && !isInterruptHandler && m.status != nil {
			m.status.UpdateRunStatus(runID, map[string]any{"status": "idle", "last_run": start, "result": "success"})
		}
		m.hooks.Trigger(runCtx, "after_task_success", taskCtx)
	}

	m.hooks.Trigger(runCtx, "after_task_run", taskCtx)
	m.log.Info(runCtx, "execmgr: task finished, resources released", "task", displayName)
	return err
}

// runExecutionChain resolves the tasklet's plan/task and calls into its
// Orchestrator (execution_manager.py's _run_execution_chain).
func (m *Manager) runExecutionChain(ctx context.Context, t queue.Tasklet) (engine.Result, error) {
	planName, _ := t.Payload["plan_name"].(string)
	taskNameInPlan, _ := t.Payload["task"].(string)
	if taskNameInPlan == "" {
		taskNameInPlan, _ = t.Payload["task_name"].(string)
	}

	if planName == "" {
		parts := strings.SplitN(t.TaskName, "/", 2)
		if len(parts) != 2 {
			return engine.Result{}, fmt.Errorf("cannot determine plan_name from tasklet.task_name %q", t.TaskName)
		}
		planName, taskNameInPlan = parts[0], parts[1]
	}
	if planName == "" || taskNameInPlan == "" {
		return engine.Result{}, fmt.Errorf("cannot determine plan_name/task_name for tasklet %q", t.TaskName)
	}

	runner, ok := m.plans.Plan(planName)
	if !ok {
		return engine.Result{}, fmt.Errorf("no orchestrator loaded for plan %q", planName)
	}
	return runner.ExecuteTask(ctx, taskNameInPlan, t.TriggeringEvent)
}

// acquireAll blocks until every semaphore tasklet needs is held (global
// first, then one per resource tag, creating any missing per-tag semaphore
// lazily, then a cluster-wide slot per tag when a ClusterResourceLimiter is
// installed) or ctx is done, mirroring execution_manager.py's
// `_get_semaphores_for` plus its `AsyncExitStack` of semaphore
// acquisitions. The returned release func releases everything it acquired,
// in reverse order.
func (m *Manager) acquireAll(ctx context.Context, t queue.Tasklet) (func(), error) {
	keys := make([]string, 0, len(t.ResourceTags))
	limits := make([]int, 0, len(t.ResourceTags))
	sems := []chan struct{}{m.globalSem}
	for _, tag := range t.ResourceTags {
		key, limit := parseResourceTag(tag)
		keys = append(keys, key)
		limits = append(limits, limit)
		sems = append(sems, m.resourceSemaphore(key, limit))
	}

	acquired := 0
	for _, s := range sems {
		select {
		case s <- struct{}{}:
			acquired++
		case <-ctx.Done():
			for i := 0; i < acquired; i++ {
				<-sems[i]
			}
			return nil, ctx.Err()
		}
	}

	clusterAcquired := 0
	if m.clusterLimiter != nil {
		for i, key := range keys {
			if err := clusterAcquire(ctx, m.clusterLimiter, key, limits[i]); err != nil {
				for j := 0; j < clusterAcquired; j++ {
					clusterRelease(m.clusterLimiter, keys[j])
				}
				for i := len(sems) - 1; i >= 0; i-- {
					<-sems[i]
				}
				return nil, err
			}
			clusterAcquired++
		}
	}

	release := func() {
		if m.clusterLimiter != nil {
			for _, key := range keys {
				clusterRelease(m.clusterLimiter, key)
			}
		}
		for i := len(sems) - 1; i >= 0; i-- {
			<-sems[i]
		}
	}
	return release, nil
}

// parseResourceTag splits a "key[:limit]" resource tag, defaulting to a
// limit of 1 (execution_manager.py's `int(parts[1]) if len(parts) > 1 else
// 1`).
func parseResourceTag(tag string) (key string, limit int) {
	key, limit = tag, 1
	if idx := strings.IndexByte(tag, ':'); idx >= 0 {
		key = tag[:idx]
		if n, err := strconv.Atoi(tag[idx+1:]); err == nil && n > 0 {
			limit = n
		}
	}
	return key, limit
}

// resourceSemaphore lazily creates a bounded channel for a resource key.
func (m *Manager) resourceSemaphore(key string, limit int) chan struct{} {
	m.resourceMu.Lock()
	defer m.resourceMu.Unlock()
	sem, ok := m.resourceSem[key]
	if !ok {
		sem = make(chan struct{}, limit)
		m.resourceSem[key] = sem
	}
	return sem
}
