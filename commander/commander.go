// Package commander implements C12: the single dispatch loop that
// consumes ready interrupt-handler rules and queued tasklets, submitting
// each to the execution manager and applying the post-interrupt recovery
// policy. Grounded on
// original_source/packages/aura_core/scheduler.py's _commander_loop,
// _execute_main_task, _execute_handler_task, and _post_interrupt_handling.
package commander

import (
	"context"
	"sync"
	"time"

	"github.com/aura-automation/aura/engine"
	"github.com/aura-automation/aura/interrupt"
	"github.com/aura-automation/aura/queue"
	"github.com/aura-automation/aura/telemetry"
)

// TaskSource supplies ready tasklets, matched by *queue.Queue.
type TaskSource interface {
	TryGet() (queue.Tasklet, bool)
	Done()
}

// RuleSource supplies fired interrupt rules, matched by *interrupt.Channel.
type RuleSource interface {
	TryReceive() (interrupt.Rule, bool)
}

// Requeuer re-enqueues a tasklet, matched by *queue.Queue.
type Requeuer interface {
	Put(ctx context.Context, t queue.Tasklet, highPriority bool) error
}

// Executor runs a tasklet to completion, matched by *execmgr.Manager.
type Executor interface {
	Submit(ctx context.Context, t queue.Tasklet, isInterruptHandler bool) error
}

// PlanPauser resolves a plan's shared pause gate, matched by a facade that
// looks up the loaded *orchestrator.Orchestrator for planName and returns
// its PauseGate().
type PlanPauser interface {
	PauseGate(planName string) (*engine.PauseGate, bool)
}

// TaskCanceller terminates a specific in-flight run by task name, matched
// by whatever backs execmgr's RunningRegistry (scheduler.py's
// `running_tasks` map of cancellation handles).
type TaskCanceller interface {
	Cancel(taskName string) bool
}

// Service is the commander loop (spec §4.5): every tick it prefers a ready
// interrupt rule over a ready tasklet, never running a main tasklet while
// another is already occupying the single "device" slot.
type Service struct {
	tasks     TaskSource
	rules     RuleSource
	requeue   Requeuer
	exec      Executor
	pausers   PlanPauser
	canceller TaskCanceller
	log       telemetry.Logger

	pollInterval time.Duration
	running      func() bool

	mu              sync.Mutex
	deviceBusy      bool
	currentMainTask *queue.Tasklet
}

// Option configures a Service.
type Option func(*Service)

// WithLogger installs the commander's logger.
func WithLogger(l telemetry.Logger) Option { return func(s *Service) { s.log = l } }

// WithPollInterval overrides the default 500ms idle poll (tests only;
// production behavior matches the source's "time.sleep(0.5)").
func WithPollInterval(d time.Duration) Option { return func(s *Service) { s.pollInterval = d } }

// WithRunningGate installs a predicate checked before every tick, mirroring
// `while self.is_scheduler_running.is_set()`.
func WithRunningGate(fn func() bool) Option { return func(s *Service) { s.running = fn } }

// WithCanceller installs the seam that lets restart_task terminate the
// tasklet it is re-enqueuing.
func WithCanceller(c TaskCanceller) Option { return func(s *Service) { s.canceller = c } }

// New constructs a Service.
func New(tasks TaskSource, rules RuleSource, requeue Requeuer, exec Executor, pausers PlanPauser, opts ...Option) *Service {
	s := &Service{
		tasks:        tasks,
		rules:        rules,
		requeue:      requeue,
		exec:         exec,
		pausers:      pausers,
		log:          telemetry.NoopLogger{},
		pollInterval: 500 * time.Millisecond,
		running:      func() bool { return true },
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Run blocks, driving the loop until ctx is done (scheduler.py's
// _commander_loop, run as the scheduler's single "CommanderThread").
func (s *Service) Run(ctx context.Context) {
	s.log.Info(ctx, "commander: dispatch loop starting")
	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			s.log.Info(ctx, "commander: dispatch loop stopped")
			return
		default:
		}

		if s.running() && s.tick(ctx) {
			continue
		}

		select {
		case <-ctx.Done():
			s.log.Info(ctx, "commander: dispatch loop stopped")
			return
		case <-ticker.C:
		}
	}
}

// tick runs one decision of the loop body, reporting whether it did work
// (in which case the caller should re-check immediately instead of
// sleeping, matching the source's bare "continue" after either branch).
func (s *Service) tick(ctx context.Context) bool {
	if rule, ok := s.rules.TryReceive(); ok {
		s.handleInterrupt(ctx, rule)
		return true
	}

	if s.isDeviceBusy() {
		return false
	}
	t, ok := s.tasks.TryGet()
	if !ok {
		return false
	}
	s.runMainTask(ctx, t)
	return true
}

func (s *Service) isDeviceBusy() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.deviceBusy
}

// runMainTask occupies the device slot and runs t on its own goroutine so
// the loop can keep servicing interrupts while it executes
// (_execute_main_task).
func (s *Service) runMainTask(ctx context.Context, t queue.Tasklet) {
	s.mu.Lock()
	s.deviceBusy = true
	current := t
	s.currentMainTask = &current
	s.mu.Unlock()

	go func() {
		defer s.tasks.Done()
		defer func() {
			s.mu.Lock()
			s.deviceBusy = false
			s.currentMainTask = nil
			s.mu.Unlock()
		}()

		if err := s.exec.Submit(ctx, t, false); err != nil {
			s.log.Error(ctx, "commander: main task failed", "task", t.TaskName, "error", err.Error())
		}
	}()
}

// handleInterrupt pauses any running main task, runs the rule's handler
// task to completion, and applies the rule's post-handler recovery policy
// (_execute_handler_task + _post_interrupt_handling).
func (s *Service) handleInterrupt(ctx context.Context, rule interrupt.Rule) {
	s.log.Warn(ctx, "commander: handling interrupt", "rule", rule.Name)

	s.mu.Lock()
	interrupted := s.currentMainTask
	s.mu.Unlock()

	var interruptedPlan string
	if interrupted != nil {
		interruptedPlan, _ = interrupted.Payload["plan_name"].(string)
		if gate, ok := s.pausers.PauseGate(interruptedPlan); ok {
			s.log.Info(ctx, "commander: pausing main task for interrupt", "task", interrupted.TaskName, "rule", rule.Name)
			gate.Pause()
		}
	}

	handler := queue.Tasklet{
		TaskName: rule.PlanName + "/" + rule.HandlerTask,
		Payload: map[string]any{
			"plan_name": rule.PlanName,
			"task_name": rule.HandlerTask,
			"is_ad_hoc": true,
		},
		ExecutionMode: "sync",
	}
	if err := s.exec.Submit(ctx, handler, true); err != nil {
		s.log.Error(ctx, "commander: interrupt handler failed", "rule", rule.Name, "error", err.Error())
	}

	s.applyOnComplete(ctx, rule, interrupted, interruptedPlan)
}

// applyOnComplete implements the post-interrupt-handling table (spec §4.5
// step 4): resume clears the pause; restart_task cancels the interrupted
// run and re-enqueues it at high priority before clearing the pause;
// abort does neither, leaving the interrupted run paused forever, matching
// the source's _post_interrupt_handling, which has no branch at all for an
// "abort" strategy. The device slot itself is freed by runMainTask's own
// goroutine once the interrupted (or cancelled) run actually returns, not
// here, so a resumed task still occupying the slot isn't mistaken for idle.
func (s *Service) applyOnComplete(ctx context.Context, rule interrupt.Rule, interrupted *queue.Tasklet, interruptedPlan string) {
	strategy := rule.OnComplete
	if strategy == "" {
		strategy = "resume"
	}
	s.log.Info(ctx, "commander: applying post-interrupt strategy", "rule", rule.Name, "strategy", strategy)

	if interrupted == nil {
		return
	}
	gate, hasGate := s.pausers.PauseGate(interruptedPlan)

	switch strategy {
	case "restart_task":
		if s.canceller != nil {
			s.canceller.Cancel(interrupted.TaskName)
		}
		if err := s.requeue.Put(ctx, *interrupted, true); err != nil {
			s.log.Error(ctx, "commander: failed to re-enqueue interrupted task", "task", interrupted.TaskName, "error", err.Error())
		}
		if hasGate {
			gate.Resume()
		}
	case "abort":
		// Deliberately no-op: the interrupted run stays paused and is
		// abandoned, matching the source's unhandled branch.
	default: // "resume"
		if hasGate {
			gate.Resume()
		}
	}
}
