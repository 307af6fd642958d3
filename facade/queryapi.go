package facade

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/aura-automation/aura/errcat"
	"github.com/aura-automation/aura/eventbus"
	"github.com/aura-automation/aura/queue"
	"github.com/aura-automation/aura/schedule"
	"github.com/aura-automation/aura/value"
)

// Start launches the scheduler, interrupt guardian, and commander loops on
// a cancellable internal context, returning once they are running. Calling
// Start twice without an intervening Stop is a no-op (spec.md §6 "Start").
func (f *Facade) Start(ctx context.Context) error {
	if !f.running.CompareAndSwap(false, true) {
		return nil
	}
	runCtx, cancel := context.WithCancel(ctx)
	f.cancelRun = cancel

	f.wg.Add(3)
	go func() { defer f.wg.Done(); f.scheduleSvc.Run(runCtx) }()
	go func() { defer f.wg.Done(); f.interruptSvc.Run(runCtx) }()
	go func() { defer f.wg.Done(); f.commanderSvc.Run(runCtx) }()

	if f.bridge != nil {
		cancelBridge, err := f.bridge.Start(runCtx)
		if err != nil {
			cancel()
			f.wg.Wait()
			f.running.Store(false)
			return fmt.Errorf("facade: start event bridge: %w", err)
		}
		f.bridgeCancel = cancelBridge
	}

	f.log.Info(ctx, "facade: started")
	return nil
}

// Stop signals every background service to exit and waits for them to
// finish, stops the event bridge if one is running, then clears the event
// bus's subscriptions.
func (f *Facade) Stop(ctx context.Context) error {
	if !f.running.CompareAndSwap(true, false) {
		return nil
	}
	if f.cancelRun != nil {
		f.cancelRun()
	}
	f.wg.Wait()
	if f.bridgeCancel != nil {
		f.bridgeCancel()
	}
	f.bus.Teardown()
	f.log.Info(ctx, "facade: stopped")
	return nil
}

// Status reports whether the facade's background services are running
// (spec.md §6 "Status").
func (f *Facade) Status() string {
	if f.running.Load() {
		return "running"
	}
	return "stopped"
}

// ListPlans returns every loaded plan's name, sorted.
func (f *Facade) ListPlans() []string {
	f.mu.RLock()
	defer f.mu.RUnlock()
	out := make([]string, 0, len(f.plans))
	for name := range f.plans {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// ListTasks returns every task FQID declared by planName, sorted.
func (f *Facade) ListTasks(planName string) ([]string, error) {
	f.mu.RLock()
	e, ok := f.plans[planName]
	f.mu.RUnlock()
	if !ok {
		return nil, errcat.NewConfigError(fmt.Sprintf("unknown plan %q", planName), nil)
	}
	defs := e.orch.TaskDefinitions()
	out := make([]string, 0, len(defs))
	for fqid := range defs {
		out = append(out, fqid)
	}
	sort.Strings(out)
	return out, nil
}

// ListActions returns every registered action's FQID, sorted.
func (f *Facade) ListActions() []string {
	defs := f.actions.All()
	out := make([]string, 0, len(defs))
	for _, d := range defs {
		out = append(out, d.FQID())
	}
	sort.Strings(out)
	return out
}

// ListServices returns every registered service's FQID, sorted.
func (f *Facade) ListServices() []string {
	defs := f.container.Definitions()
	out := make([]string, 0, len(defs))
	for _, d := range defs {
		out = append(out, d.FQID)
	}
	sort.Strings(out)
	return out
}

// RunAdHoc enqueues a one-off run of plan/task with the given params,
// returning a run id callers can poll via GetRunTimeline (spec.md §6
// "RunAdHoc").
func (f *Facade) RunAdHoc(ctx context.Context, planName, taskNameInPlan string, params map[string]any) (string, error) {
	f.mu.RLock()
	_, ok := f.plans[planName]
	f.mu.RUnlock()
	if !ok {
		return "", errcat.NewConfigError(fmt.Sprintf("unknown plan %q", planName), nil)
	}

	runID := newRunID()
	payload := map[string]any{"id": runID, "plan_name": planName, "task": taskNameInPlan}
	for k, v := range params {
		payload[k] = v
	}

	f.statusMu.Lock()
	f.runStatus[runID] = &runStatusEntry{RunID: runID, PlanName: planName, TaskID: taskNameInPlan, Status: "queued", QueuedAt: time.Now()}
	f.statusMu.Unlock()

	t := queue.Tasklet{TaskName: planName + "/" + taskNameInPlan, Payload: payload, IsAdHoc: true}
	if err := f.q.Put(ctx, t, false); err != nil {
		return "", fmt.Errorf("facade: enqueue ad hoc run: %w", err)
	}
	return runID, nil
}

// RunManual forces an immediate out-of-cycle run of one schedule item,
// bypassing its trigger/cooldown check (spec.md §6 "RunManual").
func (f *Facade) RunManual(ctx context.Context, scheduleID string) (string, error) {
	item, planName, ok := f.findScheduleItem(scheduleID)
	if !ok {
		return "", errcat.NewConfigError(fmt.Sprintf("unknown schedule item %q", scheduleID), nil)
	}

	payload := map[string]any{"id": item.ID, "plan_name": planName, "task": item.Task}
	f.statusMu.Lock()
	f.runStatus[item.ID] = &runStatusEntry{RunID: item.ID, PlanName: planName, TaskID: item.Task, Status: "queued", QueuedAt: time.Now()}
	f.statusMu.Unlock()

	t := queue.Tasklet{TaskName: planName + "/" + item.Task, Payload: payload}
	if err := f.q.Put(ctx, t, true); err != nil {
		return "", fmt.Errorf("facade: enqueue manual run: %w", err)
	}
	return item.ID, nil
}

func (f *Facade) findScheduleItem(scheduleID string) (schedule.Item, string, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	for planName, e := range f.plans {
		e.mu.Lock()
		for _, it := range e.scheduleItems {
			if it.ID == scheduleID {
				e.mu.Unlock()
				return it, planName, true
			}
		}
		e.mu.Unlock()
	}
	return schedule.Item{}, "", false
}

// ScheduleStatusEntry is one schedule item's last-known run status, as
// reported by GetScheduleStatus.
type ScheduleStatusEntry struct {
	Item     schedule.Item
	Status   string
	LastRun  time.Time
	QueuedAt time.Time
}

// GetScheduleStatus returns every loaded schedule item paired with its last
// known run status (spec.md §6 "GetScheduleStatus").
func (f *Facade) GetScheduleStatus() []ScheduleStatusEntry {
	f.mu.RLock()
	defer f.mu.RUnlock()

	var out []ScheduleStatusEntry
	for _, e := range f.plans {
		e.mu.Lock()
		items := append([]schedule.Item(nil), e.scheduleItems...)
		e.mu.Unlock()
		for _, it := range items {
			status, lastRun, _ := f.RunStatus(it.ID)
			f.statusMu.Lock()
			var queuedAt time.Time
			if entry, ok := f.runStatus[it.ID]; ok {
				queuedAt = entry.QueuedAt
			}
			f.statusMu.Unlock()
			out = append(out, ScheduleStatusEntry{Item: it, Status: status, LastRun: lastRun, QueuedAt: queuedAt})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Item.ID < out[j].Item.ID })
	return out
}

// ActiveRun is one currently in-flight run, as reported by GetActiveRuns.
type ActiveRun struct {
	RunID    string
	PlanName string
	TaskID   string
	Status   string
}

// GetActiveRuns returns every run currently tracked as queued or running
// (spec.md §6 "GetActiveRuns").
func (f *Facade) GetActiveRuns() []ActiveRun {
	f.statusMu.Lock()
	defer f.statusMu.Unlock()

	var out []ActiveRun
	for _, e := range f.runStatus {
		if e.Status == "queued" || e.Status == "running" {
			out = append(out, ActiveRun{RunID: e.RunID, PlanName: e.PlanName, TaskID: e.TaskID, Status: e.Status})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RunID < out[j].RunID })
	return out
}

// QueueOverview summarizes the main tasklet queue's current occupancy
// (spec.md §6 "GetQueueOverview").
type QueueOverview struct {
	Size  int
	Empty bool
}

// GetQueueOverview reports the main tasklet queue's current size.
func (f *Facade) GetQueueOverview() QueueOverview {
	return QueueOverview{Size: f.q.QSize(), Empty: f.q.Empty()}
}

// RunTimelineEntry is one recorded event in a run's lifecycle.
type RunTimelineEntry struct {
	At   time.Time
	Note string
}

// GetRunTimeline returns the recorded lifecycle transitions for runID, the
// same id RunAdHoc/RunManual returned (spec.md §6 "GetRunTimeline").
func (f *Facade) GetRunTimeline(runID string) ([]RunTimelineEntry, error) {
	f.statusMu.Lock()
	defer f.statusMu.Unlock()
	e, ok := f.runStatus[runID]
	if !ok {
		return nil, errcat.NewConfigError(fmt.Sprintf("unknown run %q", runID), nil)
	}
	out := make([]RunTimelineEntry, len(e.Timeline))
	for i, t := range e.Timeline {
		out[i] = RunTimelineEntry{At: t.At, Note: t.Note}
	}
	return out, nil
}

// AddScheduleItem appends item to planName's schedule and persists it to
// schedule.yaml (spec.md §6 "AddScheduleItem").
func (f *Facade) AddScheduleItem(planName string, item schedule.Item) error {
	return f.mutateSchedule(planName, func(items []schedule.Item) ([]schedule.Item, error) {
		for _, it := range items {
			if it.ID == item.ID {
				return nil, errcat.NewConfigError(fmt.Sprintf("schedule item %q already exists", item.ID), nil)
			}
		}
		return append(items, item), nil
	})
}

// UpdateScheduleItem replaces the schedule item with item.ID's own id
// within planName (spec.md §6 "UpdateScheduleItem").
func (f *Facade) UpdateScheduleItem(planName string, item schedule.Item) error {
	return f.mutateSchedule(planName, func(items []schedule.Item) ([]schedule.Item, error) {
		for i, it := range items {
			if it.ID == item.ID {
				items[i] = item
				return items, nil
			}
		}
		return nil, errcat.NewConfigError(fmt.Sprintf("unknown schedule item %q", item.ID), nil)
	})
}

// DeleteScheduleItem removes itemID from planName's schedule (spec.md §6
// "DeleteScheduleItem").
func (f *Facade) DeleteScheduleItem(planName, itemID string) error {
	return f.mutateSchedule(planName, func(items []schedule.Item) ([]schedule.Item, error) {
		out := items[:0]
		found := false
		for _, it := range items {
			if it.ID == itemID {
				found = true
				continue
			}
			out = append(out, it)
		}
		if !found {
			return nil, errcat.NewConfigError(fmt.Sprintf("unknown schedule item %q", itemID), nil)
		}
		return out, nil
	})
}

func (f *Facade) mutateSchedule(planName string, mutate func([]schedule.Item) ([]schedule.Item, error)) error {
	f.mu.RLock()
	e, ok := f.plans[planName]
	f.mu.RUnlock()
	if !ok {
		return errcat.NewConfigError(fmt.Sprintf("unknown plan %q", planName), nil)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	updated, err := mutate(e.scheduleItems)
	if err != nil {
		return err
	}
	if err := e.scheduleStore.Save(updated); err != nil {
		return fmt.Errorf("facade: save schedule.yaml for %q: %w", planName, err)
	}
	e.scheduleItems = updated
	return nil
}

// ToggleTaskEnabled flips a schedule item's enabled flag (spec.md §6
// "ToggleTaskEnabled").
func (f *Facade) ToggleTaskEnabled(planName, itemID string, enabled bool) error {
	return f.mutateSchedule(planName, func(items []schedule.Item) ([]schedule.Item, error) {
		for i, it := range items {
			if it.ID == itemID {
				items[i].Enabled = enabled
				return items, nil
			}
		}
		return nil, errcat.NewConfigError(fmt.Sprintf("unknown schedule item %q", itemID), nil)
	})
}

// ToggleInterruptEnabled flips a global-scope interrupt rule's
// user-enabled flag, the mutable counterpart to enabled_by_default that
// interrupt.Source.EnabledGlobals reports.
func (f *Facade) ToggleInterruptEnabled(planName, ruleName string, enabled bool) error {
	f.mu.RLock()
	e, ok := f.plans[planName]
	f.mu.RUnlock()
	if !ok {
		return errcat.NewConfigError(fmt.Sprintf("unknown plan %q", planName), nil)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.interrupts[ruleName]; !ok {
		return errcat.NewConfigError(fmt.Sprintf("unknown interrupt rule %q in plan %q", ruleName, planName), nil)
	}
	e.enabledGlobal[ruleName] = enabled
	return nil
}

// PublishEvent publishes a named event with an arbitrary payload onto
// channel, tagged with source (spec.md §6 "PublishEvent").
func (f *Facade) PublishEvent(ctx context.Context, name string, payload map[string]any, source, channel string) {
	vpayload := make(map[string]value.Value, len(payload))
	for k, v := range payload {
		vpayload[k] = value.FromGo(v)
	}
	e := eventbus.NewEvent(name, vpayload, source, channel)
	f.bus.Publish(ctx, e)
	if f.bridge != nil {
		if err := f.bridge.Relay(ctx, e); err != nil {
			f.log.Error(ctx, "facade: relay event to cluster", "event", name, "error", err)
		}
	}
}

// Subscribe registers cb for events on channel matching pattern, returning a
// handle usable with Unsubscribe (spec.md §6 event stream contract).
func (f *Facade) Subscribe(channel, pattern string, async bool, dedupeKey string, cb eventbus.Callback) eventbus.Handle {
	return f.bus.Subscribe(channel, pattern, async, dedupeKey, cb)
}

// Unsubscribe removes a prior Subscribe registration.
func (f *Facade) Unsubscribe(h eventbus.Handle) {
	f.bus.Unsubscribe(h)
}

// Stream exposes the event bus's full fan-out channel, the backing feed for
// an external event-stream transport (spec.md §6 "event stream contract").
func (f *Facade) Stream() <-chan map[string]any {
	return f.bus.Stream()
}
