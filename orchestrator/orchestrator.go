package orchestrator

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/aura-automation/aura/action"
	"github.com/aura-automation/aura/engine"
	"github.com/aura-automation/aura/errcat"
	"github.com/aura-automation/aura/eventbus"
	"github.com/aura-automation/aura/runcontext"
	"github.com/aura-automation/aura/telemetry"
	"github.com/aura-automation/aura/value"
)

// Orchestrator is the per-plan coordinator (spec.md's C7): it owns a plan's
// TaskLoader and ContextManager, drives an engine.Engine per task run, and
// resolves go_task within its own plan. One Orchestrator exists per loaded
// plan plugin (spec §3 "Plan"). Grounded on
// original_source/packages/aura_core/orchestrator.py's Orchestrator.
type Orchestrator struct {
	planName string
	planPath string

	taskLoader     *TaskLoader
	contextManager *ContextManager
	actions        *action.Registry
	injector       *action.Injector
	pause          *engine.PauseGate
	debug          engine.DebugCapture
	log            telemetry.Logger
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithPauseGate shares a pause gate across every engine this orchestrator
// drives (the commander, C12, pauses and resumes through it).
func WithPauseGate(g *engine.PauseGate) Option { return func(o *Orchestrator) { o.pause = g } }

// WithDebugCapture installs the failure screenshot hook forwarded to every
// engine run.
func WithDebugCapture(d engine.DebugCapture) Option { return func(o *Orchestrator) { o.debug = d } }

// WithLogger installs the orchestrator's logger.
func WithLogger(l telemetry.Logger) Option { return func(o *Orchestrator) { o.log = l } }

// New constructs an Orchestrator for one plan.
func New(planName, baseDir string, actions *action.Registry, injector *action.Injector, cm *ContextManager, opts ...Option) *Orchestrator {
	planPath := filepath.Join(baseDir, "plans", planName)
	o := &Orchestrator{
		planName:       planName,
		planPath:       planPath,
		taskLoader:     NewTaskLoader(planName, planPath, telemetry.NoopLogger{}),
		contextManager: cm,
		actions:        actions,
		injector:       injector,
		pause:          engine.NewPauseGate(),
		debug:          nil,
		log:            telemetry.NoopLogger{},
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// LoadTask implements engine.TaskLoader against this plan's own task files,
// the seam the engine's run_task action calls into (spec §4.3.2).
func (o *Orchestrator) LoadTask(taskNameInPlan string) (*engine.Task, bool) {
	return o.taskLoader.LoadTask(taskNameInPlan)
}

// ExecuteTask runs task_name_in_plan to completion, following every go_task
// jump the engine returns as long as it targets this same plan (spec §4.3.2,
// Open Question #2 decision: cross-plan go_task is rejected). Grounded on
// orchestrator.py's execute_task loop.
func (o *Orchestrator) ExecuteTask(ctx context.Context, taskNameInPlan string, triggeringEvent *eventbus.Event) (engine.Result, error) {
	current := taskNameInPlan
	var last engine.Result

	for current != "" {
		fullTaskID := o.planName + "/" + current
		task, ok := o.taskLoader.LoadTask(current)
		if !ok {
			return engine.Result{}, fmt.Errorf("task definition not found: %s", fullTaskID)
		}

		rc := o.contextManager.CreateContext(ctx, fullTaskID, triggeringEvent)
		eng := engine.New(rc, o.injector, o.injector.Renderer(),
			engine.WithTaskLoader(o), engine.WithPauseGate(o.pause),
			engine.WithDebugCapture(debugCaptureOrNoop(o.debug)), engine.WithLogger(o.log))

		result := eng.Run(ctx, task, fullTaskID)
		last = result

		if result.Status == engine.StatusGoTask && result.NextTask != "" {
			nextPlan, nextTask, found := strings.Cut(result.NextTask, "/")
			if !found {
				return last, &errcat.ConfigError{Reason: fmt.Sprintf("malformed go_task target %q", result.NextTask)}
			}
			if nextPlan != o.planName {
				o.log.Error(ctx, "go_task does not support cross-plan jumps",
					"from_plan", o.planName, "to_plan", nextPlan)
				return last, &errcat.ConfigError{
					Reason: fmt.Sprintf("cross-plan go_task from plan %q to plan %q is rejected", o.planName, nextPlan)}
			}
			current = nextTask
			triggeringEvent = nil
			continue
		}
		current = ""
	}

	return last, nil
}

// PerformConditionCheck runs a single read-only action for a condition rule
// (spec §4.1 interrupt rules / C11) and coerces its result to a bool. Any
// error, or an action that isn't registered read-only, yields false rather
// than propagating, matching orchestrator.py's perform_condition_check.
func (o *Orchestrator) PerformConditionCheck(ctx context.Context, actionName string, params map[string]any) bool {
	if actionName == "" {
		return false
	}
	def, ok := o.actions.Get(actionName)
	if !ok || !def.ReadOnly {
		o.log.Warn(ctx, "condition check action not found or not read-only", "action", actionName)
		return false
	}

	rc := o.contextManager.CreateContext(ctx, "condition_check/"+actionName, nil)
	eng := engine.New(rc, o.injector, o.injector.Renderer(), engine.WithPauseGate(o.pause), engine.WithLogger(o.log))

	result, err := o.injector.Execute(ctx, rc, eng, actionName, toValueMap(params))
	if err != nil {
		o.log.Error(ctx, "condition check failed", "action", actionName, "error", err.Error())
		return false
	}
	return result.Truthy()
}

// InspectStep runs a single step's action directly, outside the normal
// engine loop, for debugging (orchestrator.py's inspect_step).
func (o *Orchestrator) InspectStep(ctx context.Context, taskNameInPlan string, stepIndex int) (value.Value, error) {
	task, ok := o.taskLoader.LoadTask(taskNameInPlan)
	if !ok {
		return value.Null, fmt.Errorf("task not found: %s", taskNameInPlan)
	}
	if stepIndex < 0 || stepIndex >= len(task.Steps) {
		return value.Null, fmt.Errorf("step index %d out of range", stepIndex)
	}
	step := task.Steps[stepIndex]
	if step.Action == "" {
		return value.Map(map[string]value.Value{
			"status":  value.String("no_action"),
			"message": value.String("this step has no executable action"),
		}), nil
	}

	rc := o.contextManager.CreateContext(ctx, "inspect/"+o.planName+"/"+taskNameInPlan, nil)
	rc.Set("__is_inspect_mode__", value.Bool(true))
	eng := engine.New(rc, o.injector, o.injector.Renderer(), engine.WithPauseGate(o.pause), engine.WithLogger(o.log))

	o.log.Info(ctx, "inspecting step", "step", stepDisplayName(step), "action", step.Action)
	return o.injector.Execute(ctx, rc, eng, step.Action, toValueMap(step.Params))
}

// TaskDefinitions exposes every task this plan declares (orchestrator.py's
// task_definitions property), used by the facade's plan-inspection API.
func (o *Orchestrator) TaskDefinitions() map[string]*engine.Task {
	return o.taskLoader.AllTasks()
}

// PauseGate exposes the pause gate shared by every engine this orchestrator
// drives, so the commander (C12) can pause and resume the plan's currently
// running task around interrupt-handler execution.
func (o *Orchestrator) PauseGate() *engine.PauseGate {
	return o.pause
}

// GetFileContent reads relativePath from within the plan directory, refusing
// any path that escapes it (orchestrator.py's get_file_content path guard).
func (o *Orchestrator) GetFileContent(relativePath string) (string, error) {
	b, err := o.readPlanFile(relativePath)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// GetFileContentBytes is the binary-safe counterpart of GetFileContent.
func (o *Orchestrator) GetFileContentBytes(relativePath string) ([]byte, error) {
	return o.readPlanFile(relativePath)
}

// SaveFileContent writes content to relativePath within the plan directory,
// refusing any path that would escape it.
func (o *Orchestrator) SaveFileContent(relativePath, content string) error {
	full, err := o.resolveInPlan(relativePath)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return err
	}
	return os.WriteFile(full, []byte(content), 0o644)
}

func (o *Orchestrator) readPlanFile(relativePath string) ([]byte, error) {
	full, err := o.resolveInPlan(relativePath)
	if err != nil {
		return nil, err
	}
	info, err := os.Stat(full)
	if err != nil {
		return nil, fmt.Errorf("file not found in plan %q: %s", o.planName, relativePath)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("file not found in plan %q: %s", o.planName, relativePath)
	}
	return os.ReadFile(full)
}

// resolveInPlan joins relativePath onto the plan root and rejects any
// traversal outside of it, matching orchestrator.py's
// `current_plan_path.resolve() not in full_path.parents` guard.
func (o *Orchestrator) resolveInPlan(relativePath string) (string, error) {
	root, err := filepath.Abs(o.planPath)
	if err != nil {
		return "", err
	}
	full, err := filepath.Abs(filepath.Join(root, relativePath))
	if err != nil {
		return "", err
	}
	if full != root && !strings.HasPrefix(full, root+string(filepath.Separator)) {
		return "", fmt.Errorf("access to file outside plan package is forbidden: %s", relativePath)
	}
	return full, nil
}

func debugCaptureOrNoop(d engine.DebugCapture) engine.DebugCapture {
	if d == nil {
		return noopDebug{}
	}
	return d
}

type noopDebug struct{}

func (noopDebug) Capture(context.Context, *runcontext.Context, string) {}

func toValueMap(raw map[string]any) map[string]value.Value {
	out := make(map[string]value.Value, len(raw))
	for k, v := range raw {
		out[k] = value.FromGo(v)
	}
	return out
}

func stepDisplayName(step engine.Step) string {
	if step.Name != "" {
		return step.Name
	}
	return "unnamed step"
}
