package facade

import (
	"context"
	"strings"
	"time"

	"github.com/aura-automation/aura/engine"
	"github.com/aura-automation/aura/interrupt"
)

// UpdateRunStatus implements execmgr.StatusSink, folding fields into the
// run's status entry. Grounded on scheduler.py's update_run_status, which
// merges a partial fields dict into the existing run-status record rather
// than replacing it.
func (f *Facade) UpdateRunStatus(runID string, fields map[string]any) {
	f.statusMu.Lock()
	e, ok := f.runStatus[runID]
	if !ok {
		e = &runStatusEntry{RunID: runID}
		f.runStatus[runID] = e
	}
	if v, ok := fields["status"].(string); ok {
		e.Status = v
		e.Timeline = append(e.Timeline, timelineEntry{At: time.Now(), Note: "status: " + v})
	}
	if v, ok := fields["started_at"].(time.Time); ok {
		e.StartedAt = v
	}
	if v, ok := fields["last_run"].(time.Time); ok {
		e.EndedAt = v
	}
	if v, ok := fields["result"].(string); ok {
		e.Timeline = append(e.Timeline, timelineEntry{At: time.Now(), Note: "result: " + v})
	}
	snap := toSnapshot(e)
	f.statusMu.Unlock()

	f.persistRunStatus(snap)
}

// RegisterRunning/UnregisterRunning implement execmgr.RunningRegistry,
// letting the commander cancel a specific in-flight run by task name
// (scheduler.py's running_tasks map).
func (f *Facade) RegisterRunning(taskName string, cancel context.CancelFunc) {
	f.runningMu.Lock()
	defer f.runningMu.Unlock()
	f.runningTasks[taskName] = cancel
}

func (f *Facade) UnregisterRunning(taskName string) {
	f.runningMu.Lock()
	defer f.runningMu.Unlock()
	delete(f.runningTasks, taskName)
}

// Cancel implements commander.TaskCanceller, invoking and clearing a
// registered run's cancellation handle.
func (f *Facade) Cancel(taskName string) bool {
	f.runningMu.Lock()
	cancel, ok := f.runningTasks[taskName]
	if ok {
		delete(f.runningTasks, taskName)
	}
	f.runningMu.Unlock()
	if !ok {
		return false
	}
	cancel()
	return true
}

// RunningTaskIDs implements interrupt.Source, listing task-scope rule
// candidates (scheduler.py's running_tasks.keys()).
func (f *Facade) RunningTaskIDs() []string {
	f.runningMu.Lock()
	defer f.runningMu.Unlock()
	out := make([]string, 0, len(f.runningTasks))
	for name := range f.runningTasks {
		out = append(out, name)
	}
	return out
}

// RunStatus implements schedule.RunStatusStore, reporting an item's current
// status and last-run timestamp.
func (f *Facade) RunStatus(itemID string) (string, time.Time, bool) {
	f.statusMu.Lock()
	defer f.statusMu.Unlock()
	e, ok := f.runStatus[itemID]
	if !ok {
		return "", time.Time{}, false
	}
	return e.Status, e.EndedAt, true
}

// MarkQueued implements schedule.RunStatusStore, recording a fresh "queued"
// transition for an item about to be enqueued.
func (f *Facade) MarkQueued(itemID string, queuedAt time.Time) {
	f.statusMu.Lock()
	e, ok := f.runStatus[itemID]
	if !ok {
		e = &runStatusEntry{RunID: itemID}
		f.runStatus[itemID] = e
	}
	e.Status = "queued"
	e.QueuedAt = queuedAt
	e.Timeline = append(e.Timeline, timelineEntry{At: queuedAt, Note: "queued"})
	snap := toSnapshot(e)
	f.statusMu.Unlock()

	f.persistRunStatus(snap)
}

// TaskDefinition implements both schedule.TaskDefinitions and
// interrupt.Source's identical method, resolving "plan/relpath/key" against
// the owning plan's orchestrator.
func (f *Facade) TaskDefinition(fullTaskID string) (*engine.Task, bool) {
	planName, taskNameInPlan, ok := splitFullTaskID(fullTaskID)
	if !ok {
		return nil, false
	}
	f.mu.RLock()
	e, ok := f.plans[planName]
	f.mu.RUnlock()
	if !ok {
		return nil, false
	}
	return e.orch.LoadTask(taskNameInPlan)
}

func splitFullTaskID(fullTaskID string) (plan, taskNameInPlan string, ok bool) {
	parts := strings.SplitN(fullTaskID, "/", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", false
	}
	return parts[0], parts[1], true
}

// InterruptDefinitions implements interrupt.Source, aggregating every
// loaded plan's interrupt rules by their bare name, matching the source's
// flat rule namespace (a task's activates_interrupts list names rules
// without a plan prefix).
func (f *Facade) InterruptDefinitions() map[string]interrupt.Rule {
	f.mu.RLock()
	defer f.mu.RUnlock()
	out := make(map[string]interrupt.Rule)
	for _, e := range f.plans {
		e.mu.Lock()
		for name, r := range e.interrupts {
			out[name] = *r
		}
		e.mu.Unlock()
	}
	return out
}

// EnabledGlobals implements interrupt.Source, aggregating every loaded
// plan's user-toggled global-scope rules over their enabled_by_default
// values (ToggleInterruptEnabled mutates this per plan/rule).
func (f *Facade) EnabledGlobals() map[string]bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	out := make(map[string]bool)
	for _, e := range f.plans {
		e.mu.Lock()
		for name, enabled := range e.enabledGlobal {
			out[name] = enabled
		}
		e.mu.Unlock()
	}
	return out
}

// Plan implements interrupt.PlanResolver, resolving a plan name to its
// condition-check seam (the same Orchestrator execmgr's PlanProvider
// resolves, through a differently-typed accessor).
func (f *Facade) Plan(planName string) (interrupt.PlanChecker, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	e, ok := f.plans[planName]
	if !ok {
		return nil, false
	}
	return e.orch, true
}

// PauseGate implements commander.PlanPauser, resolving a plan's shared
// pause gate, which the commander pauses while an interrupt handler runs;
// the "resume" and "restart_task" policies release it afterwards, "abort"
// leaves it paused.
func (f *Facade) PauseGate(planName string) (*engine.PauseGate, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	e, ok := f.plans[planName]
	if !ok {
		return nil, false
	}
	return e.orch.PauseGate(), true
}
