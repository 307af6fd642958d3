package schedule

import (
	"context"
	"time"

	"github.com/aura-automation/aura/engine"
	"github.com/aura-automation/aura/queue"
	"github.com/aura-automation/aura/telemetry"
)

// RunStatusStore tracks each schedule item's current status and last-run
// time and records the "queued" transition (scheduler.py's run_statuses
// dict, guarded there by shared_data_lock).
type RunStatusStore interface {
	RunStatus(itemID string) (status string, lastRun time.Time, ok bool)
	MarkQueued(itemID string, queuedAt time.Time)
}

// TaskDefinitions resolves a full task id ("plan/relpath/key") to its parsed
// definition, used only to read its execution_mode (scheduler.py's
// all_tasks_definitions).
type TaskDefinitions interface {
	TaskDefinition(fullTaskID string) (*engine.Task, bool)
}

// Enqueuer is the subset of *queue.Queue the service needs
// (scheduler.py's self.scheduler.task_queue.put).
type Enqueuer interface {
	Put(ctx context.Context, t queue.Tasklet, highPriority bool) error
}

// ItemSource supplies the current set of schedule items across every loaded
// plan (scheduler.py's self.schedule_items, a flat list spanning all plans).
type ItemSource interface {
	ScheduleItems() []Item
}

// Service is C10's periodic cron evaluator: every tick it walks every
// schedule item and enqueues the ones whose trigger and cooldown are
// satisfied. Grounded on
// original_source/packages/aura_core/scheduling_service.py's
// SchedulingService.
type Service struct {
	items    ItemSource
	statuses RunStatusStore
	tasks    TaskDefinitions
	queue    Enqueuer
	log      telemetry.Logger

	tickInterval time.Duration
	running      func() bool
}

// Option configures a Service.
type Option func(*Service)

// WithLogger installs the service's logger.
func WithLogger(l telemetry.Logger) Option { return func(s *Service) { s.log = l } }

// WithTickInterval overrides the default one-minute tick (tests only; spec
// §4.6 fixes production behavior at one minute).
func WithTickInterval(d time.Duration) Option { return func(s *Service) { s.tickInterval = d } }

// WithRunningGate installs a predicate checked before every tick, mirroring
// the source's `if self.scheduler.is_running.is_set()` guard — the facade
// can pause evaluation without stopping this goroutine.
func WithRunningGate(fn func() bool) Option { return func(s *Service) { s.running = fn } }

// New constructs a Service.
func New(items ItemSource, statuses RunStatusStore, tasks TaskDefinitions, q Enqueuer, opts ...Option) *Service {
	s := &Service{
		items:        items,
		statuses:     statuses,
		tasks:        tasks,
		queue:        q,
		log:          telemetry.NoopLogger{},
		tickInterval: time.Minute,
		running:      func() bool { return true },
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Run blocks, ticking every tickInterval until ctx is done
// (scheduling_service.py's run loop: "while True: ...; await asyncio.sleep(60)").
func (s *Service) Run(ctx context.Context) {
	s.log.Info(ctx, "schedule: service starting")
	ticker := time.NewTicker(s.tickInterval)
	defer ticker.Stop()
	for {
		if s.running() {
			s.checkAndEnqueue(ctx, time.Now())
		}
		select {
		case <-ctx.Done():
			s.log.Info(ctx, "schedule: service stopped")
			return
		case <-ticker.C:
		}
	}
}

// checkAndEnqueue is one pass over every schedule item
// (scheduling_service.py's _check_and_enqueue_tasks).
func (s *Service) checkAndEnqueue(ctx context.Context, now time.Time) {
	for _, item := range s.items.ScheduleItems() {
		if item.ID == "" || !item.Enabled {
			continue
		}

		status, lastRun, hasStatus := s.statuses.RunStatus(item.ID)
		if status == "queued" || status == "running" {
			continue
		}

		ready, err := IsReadyToRun(item, now, lastRun, hasStatus)
		if err != nil {
			s.log.Error(ctx, "schedule: invalid cron expression", "item", item.ID, "schedule", item.Trigger.Schedule, "error", err.Error())
			continue
		}
		if !ready {
			continue
		}

		fullTaskID := item.PlanName + "/" + item.Task
		executionMode := "sync"
		if def, ok := s.tasks.TaskDefinition(fullTaskID); ok {
			if m, _ := def.Meta["execution_mode"].(string); m != "" {
				executionMode = m
			}
		}

		t := queue.Tasklet{
			TaskName:      fullTaskID,
			Payload:       itemPayload(item),
			ExecutionMode: executionMode,
		}
		if err := s.queue.Put(ctx, t, false); err != nil {
			s.log.Error(ctx, "schedule: failed to enqueue tasklet", "item", item.ID, "error", err.Error())
			continue
		}

		s.log.Info(ctx, "schedule: item due, enqueued", "item", item.ID, "name", item.Name, "plan", item.PlanName)
		s.statuses.MarkQueued(item.ID, now)
	}
}

func itemPayload(item Item) map[string]any {
	return map[string]any{
		"id":        item.ID,
		"plan_name": item.PlanName,
		"task":      item.Task,
		"name":      item.Name,
		"enabled":   item.Enabled,
	}
}
