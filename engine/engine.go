package engine

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/aura-automation/aura/action"
	"github.com/aura-automation/aura/errcat"
	"github.com/aura-automation/aura/runcontext"
	"github.com/aura-automation/aura/telemetry"
	"github.com/aura-automation/aura/template"
	"github.com/aura-automation/aura/value"
)

// TaskLoader resolves a sub-task by id for the run_task action (spec §4.3.2).
// The orchestrator (C7) implements this against its own plan's task files.
type TaskLoader interface {
	LoadTask(taskID string) (*Task, bool)
}

// DebugCapture is the best-effort failure-screenshot hook (spec §4.3.1
// "request a debug screenshot via the app service"). The built-in no-op
// satisfies callers that don't wire a real capture action.
type DebugCapture interface {
	Capture(ctx context.Context, rc *runcontext.Context, failedStepName string)
}

type noopDebugCapture struct{}

func (noopDebugCapture) Capture(context.Context, *runcontext.Context, string) {}

// Engine interprets one task's step tree against a Context (spec §4.3,
// C6). An Engine is single-use per task run; sub-tasks fork their own
// Engine sharing the same injector, renderer, loader, pause gate, and debug
// hook (spec §4.3.2).
type Engine struct {
	rc       *runcontext.Context
	injector *action.Injector
	renderer *template.Renderer
	loader   TaskLoader
	pause    *PauseGate
	debug    DebugCapture
	log      telemetry.Logger

	stepMap        map[string]int
	nextTaskTarget string
}

// Option configures an Engine.
type Option func(*Engine)

// WithTaskLoader installs the sub-task loader used by the run_task action.
func WithTaskLoader(l TaskLoader) Option { return func(e *Engine) { e.loader = l } }

// WithPauseGate shares an existing pause gate (used when forking a sub-task
// engine so commander-issued pauses reach every nested run).
func WithPauseGate(g *PauseGate) Option { return func(e *Engine) { e.pause = g } }

// WithDebugCapture installs the failure screenshot hook.
func WithDebugCapture(d DebugCapture) Option { return func(e *Engine) { e.debug = d } }

// WithLogger installs the engine's logger.
func WithLogger(l telemetry.Logger) Option { return func(e *Engine) { e.log = l } }

// New constructs an Engine bound to rc.
func New(rc *runcontext.Context, injector *action.Injector, renderer *template.Renderer, opts ...Option) *Engine {
	e := &Engine{
		rc:       rc,
		injector: injector,
		renderer: renderer,
		pause:    NewPauseGate(),
		debug:    noopDebugCapture{},
		log:      telemetry.NoopLogger{},
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

// Run executes task's steps in order, honoring go_step/go_task/next
// control-flow signals raised along the way (spec §4.3 "run").
func (e *Engine) Run(ctx context.Context, task *Task, taskName string) Result {
	if len(task.Steps) == 0 {
		return Result{Status: StatusSuccess}
	}

	e.stepMap = make(map[string]int)
	buildStepMap(task.Steps, e.stepMap, nil)

	idx := 0
	for idx < len(task.Steps) {
		e.nextTaskTarget = ""
		step := task.Steps[idx]

		err := e.executeStepRecursively(ctx, step)
		if err != nil {
			if js, ok := errcat.AsJumpSignal(err); ok {
				if js.Kind == errcat.JumpTask {
					return Result{Status: StatusGoTask, NextTask: js.Target}
				}
				target, found := e.stepMap[js.Target]
				if !found {
					return Result{Status: StatusStopped,
						Err: fmt.Errorf("go_step target %q not found in task %q", js.Target, taskName)}
				}
				idx = target
				continue
			}
			if st, ok := errcat.AsStopTask(err); ok {
				if st.Success {
					return Result{Status: StatusSuccess}
				}
				return Result{Status: StatusStopped}
			}
			e.log.Error(ctx, "engine: task run failed", "task", taskName, "error", err.Error())
			return Result{Status: StatusError, Err: err}
		}

		if e.nextTaskTarget != "" {
			return Result{Status: StatusSuccess, NextTask: e.nextTaskTarget}
		}
		idx++
	}

	return Result{Status: StatusSuccess, NextTask: e.nextTaskTarget}
}

// buildStepMap records every step id's top-level index (spec §4.3
// "_build_step_map"), recursing into then/else/do/cases[].then so go_step
// can target a step nested inside a branch.
func buildStepMap(steps []Step, m map[string]int, parentTop *int) {
	for i, step := range steps {
		topIdx := i
		if parentTop != nil {
			topIdx = *parentTop
		}
		if step.ID != "" {
			m[step.ID] = topIdx
		}
		if len(step.Then) > 0 {
			buildStepMap(step.Then, m, &topIdx)
		}
		if len(step.Else) > 0 {
			buildStepMap(step.Else, m, &topIdx)
		}
		if len(step.Do) > 0 {
			buildStepMap(step.Do, m, &topIdx)
		}
		for _, c := range step.Cases {
			if len(c.Then) > 0 {
				buildStepMap(c.Then, m, &topIdx)
			}
		}
	}
}

func (e *Engine) executeStepRecursively(ctx context.Context, step Step) error {
	if err := e.pause.Wait(ctx); err != nil {
		return err
	}

	if step.When != nil && !e.renderCondition(ctx, step.When) {
		return nil
	}

	if step.GoStep != "" {
		return &errcat.JumpSignal{Kind: errcat.JumpStep, Target: step.GoStep}
	}
	if step.GoTask != nil {
		return &errcat.JumpSignal{Kind: errcat.JumpTask, Target: e.renderString(ctx, step.GoTask)}
	}
	if step.Next != nil {
		e.nextTaskTarget = e.renderString(ctx, step.Next)
	}

	switch {
	case step.If != nil:
		return e.executeIfBlock(ctx, step)
	case step.For != nil:
		return e.executeForBlock(ctx, step)
	case step.While != nil:
		return e.executeWhileBlock(ctx, step)
	case len(step.Cases) > 0:
		return e.executeCasesBlock(ctx, step)
	default:
		succeeded, err := e.executeSingleActionStep(ctx, step)
		if err != nil {
			return err
		}
		if !succeeded && !step.ContinueOnFailure {
			return &errcat.StopTask{Success: false,
				Reason: fmt.Sprintf("step %q failed and continue_on_failure is not set", stepDisplayName(step))}
		}
		return nil
	}
}

func (e *Engine) executeIfBlock(ctx context.Context, step Step) error {
	block := step.Else
	if e.renderCondition(ctx, step.If) {
		block = step.Then
	}
	return e.executeStepsBlock(ctx, block)
}

func (e *Engine) executeForBlock(ctx context.Context, step Step) error {
	if step.For.As == "" {
		return nil
	}
	items := e.renderAny(ctx, step.For.In)
	list, ok := items.AsList()
	if !ok {
		return nil
	}
	defer e.rc.Delete(step.For.As)
	for _, item := range list {
		if err := e.pause.Wait(ctx); err != nil {
			return err
		}
		e.rc.Set(step.For.As, item)
		if err := e.executeStepsBlock(ctx, step.Do); err != nil {
			return err
		}
	}
	return nil
}

func (e *Engine) executeWhileBlock(ctx context.Context, step Step) error {
	maxLoops := 1000
	if step.MaxLoops != nil {
		if n, ok := e.renderAny(ctx, step.MaxLoops).AsNumber(); ok {
			maxLoops = int(n)
		}
	}
	loopCount := 0
	for e.renderCondition(ctx, step.While) {
		if err := e.pause.Wait(ctx); err != nil {
			return err
		}
		if loopCount >= maxLoops {
			break
		}
		loopCount++
		if err := e.executeStepsBlock(ctx, step.Do); err != nil {
			return err
		}
	}
	return nil
}

// executeCasesBlock dispatches the first matching arm of a `cases:` switch,
// a feature the distillation dropped but engine.py's step-map builder
// already anticipates (it scans `cases[].then`).
func (e *Engine) executeCasesBlock(ctx context.Context, step Step) error {
	for _, c := range step.Cases {
		if e.renderCondition(ctx, c.When) {
			return e.executeStepsBlock(ctx, c.Then)
		}
	}
	return nil
}

func (e *Engine) executeStepsBlock(ctx context.Context, steps []Step) error {
	for _, s := range steps {
		if err := e.executeStepRecursively(ctx, s); err != nil {
			return err
		}
	}
	return nil
}

// executeSingleActionStep runs one action call with its retry loop (spec
// §4.3.1). A returned error is never retried (it propagates immediately,
// matching engine.py where only a falsy result triggers another attempt);
// exhausting every attempt without success requests a debug capture and
// reports failure without error.
func (e *Engine) executeSingleActionStep(ctx context.Context, step Step) (bool, error) {
	if step.WaitBefore != nil {
		if n, ok := e.renderAny(ctx, step.WaitBefore).AsNumber(); ok && n > 0 {
			if err := sleepCtx(ctx, time.Duration(n*float64(time.Second))); err != nil {
				return false, err
			}
		}
	}

	maxAttempts := 1
	retryInterval := time.Second
	if step.Retry != nil {
		if step.Retry.Count > 0 {
			maxAttempts = step.Retry.Count
		}
		if step.Retry.Interval > 0 {
			retryInterval = time.Duration(step.Retry.Interval * float64(time.Second))
		}
	}

	for attempt := 0; attempt < maxAttempts; attempt++ {
		if err := e.pause.Wait(ctx); err != nil {
			return false, err
		}
		if attempt > 0 {
			if err := sleepCtx(ctx, retryInterval); err != nil {
				return false, err
			}
		}

		var result value.Value
		var err error
		switch {
		case step.Action != "" && strings.EqualFold(step.Action, "run_task"):
			result, err = e.runSubTask(ctx, step)
		case step.Action != "":
			result, err = e.injector.Execute(ctx, e.rc, e, step.Action, toValueParams(step.Params))
		default:
			result = value.Bool(true)
		}
		if err != nil {
			return false, err
		}

		if stepSucceeded(result) {
			if step.OutputTo != "" {
				e.rc.Set(step.OutputTo, result)
			}
			return true, nil
		}
	}

	if step.OutputTo != "" {
		e.rc.Set(step.OutputTo, value.Bool(false))
	}
	e.debug.Capture(ctx, e.rc, stepDisplayName(step))
	return false, nil
}

// runSubTask delegates to another task within the same plan (spec §4.3.2).
// Cross-plan go_task targets are rejected by the orchestrator's ExecuteTask
// loop, not here (see DESIGN.md Open Question #2).
func (e *Engine) runSubTask(ctx context.Context, step Step) (value.Value, error) {
	if e.loader == nil {
		return value.Bool(false), nil
	}

	rendered := e.renderParamsMap(ctx, step.Params)
	taskIDVal, ok := rendered["task_name"]
	if !ok {
		return value.Bool(false), nil
	}
	subTaskID, _ := taskIDVal.AsString()
	if subTaskID == "" {
		return value.Bool(false), nil
	}

	subTask, ok := e.loader.LoadTask(subTaskID)
	if !ok {
		return value.Bool(false), nil
	}

	subCtx := e.rc.Fork()
	if passParams, ok := rendered["pass_params"]; ok {
		if m, ok := passParams.AsMap(); ok {
			for k, v := range m {
				subCtx.Set(k, v)
			}
		}
	}

	subEngine := New(subCtx, e.injector, e.renderer,
		WithTaskLoader(e.loader), WithPauseGate(e.pause), WithDebugCapture(e.debug), WithLogger(e.log))
	subResult := subEngine.Run(ctx, subTask, subTaskID)

	if subResult.Status == StatusGoTask {
		return value.Null, &errcat.JumpSignal{Kind: errcat.JumpTask, Target: subResult.NextTask}
	}
	if subResult.Status == StatusSuccess && subResult.NextTask != "" {
		e.nextTaskTarget = subResult.NextTask
	}

	out := make(map[string]value.Value, len(subTask.Outputs))
	subData := subCtx.Data()
	for key, expr := range subTask.Outputs {
		out[key] = e.renderer.RenderValue(ctx, value.FromGo(expr), subData)
	}
	return value.Map(out), nil
}

func (e *Engine) renderParamsMap(ctx context.Context, raw map[string]any) map[string]value.Value {
	data := e.rc.Data()
	out := make(map[string]value.Value, len(raw))
	for k, v := range raw {
		out[k] = e.renderer.RenderValue(ctx, value.FromGo(v), data)
	}
	return out
}

func (e *Engine) renderAny(ctx context.Context, v any) value.Value {
	return e.renderer.RenderValue(ctx, value.FromGo(v), e.rc.Data())
}

func (e *Engine) renderCondition(ctx context.Context, v any) bool {
	switch t := v.(type) {
	case bool:
		return t
	case string:
		return e.renderer.RenderCondition(ctx, t, e.rc.Data())
	default:
		return value.FromGo(v).Truthy()
	}
}

func (e *Engine) renderString(ctx context.Context, v any) string {
	rendered := e.renderAny(ctx, v)
	if s, ok := rendered.AsString(); ok {
		return s
	}
	if rendered.IsNull() {
		return ""
	}
	return fmt.Sprint(value.ToGo(rendered))
}

// stepSucceeded mirrors engine.py's falsy-result check: a bare `false`
// result, or a map result carrying `found: false`, counts as failure.
func stepSucceeded(result value.Value) bool {
	if b, ok := result.AsBool(); ok && !b {
		return false
	}
	if m, ok := result.AsMap(); ok {
		if found, ok := m["found"]; ok {
			if b, ok := found.AsBool(); ok && !b {
				return false
			}
		}
	}
	return true
}

func toValueParams(raw map[string]any) map[string]value.Value {
	out := make(map[string]value.Value, len(raw))
	for k, v := range raw {
		out[k] = value.FromGo(v)
	}
	return out
}

func stepDisplayName(step Step) string {
	if step.Name != "" {
		return step.Name
	}
	return "unnamed step"
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
