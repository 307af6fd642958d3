package schedule_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aura-automation/aura/engine"
	"github.com/aura-automation/aura/queue"
	"github.com/aura-automation/aura/schedule"
)

type fakeItemSource struct {
	items []schedule.Item
}

func (f *fakeItemSource) ScheduleItems() []schedule.Item { return f.items }

type statusRecord struct {
	status  string
	lastRun time.Time
}

type fakeStatusStore struct {
	mu       sync.Mutex
	statuses map[string]statusRecord
}

func newFakeStatusStore() *fakeStatusStore {
	return &fakeStatusStore{statuses: make(map[string]statusRecord)}
}

func (f *fakeStatusStore) RunStatus(itemID string) (string, time.Time, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	rec, ok := f.statuses[itemID]
	return rec.status, rec.lastRun, ok
}

func (f *fakeStatusStore) MarkQueued(itemID string, queuedAt time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()
	rec := f.statuses[itemID]
	rec.status = "queued"
	f.statuses[itemID] = rec
}

func (f *fakeStatusStore) set(itemID, status string, lastRun time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.statuses[itemID] = statusRecord{status: status, lastRun: lastRun}
}

type fakeTaskDefs struct {
	defs map[string]*engine.Task
}

func (f *fakeTaskDefs) TaskDefinition(fullTaskID string) (*engine.Task, bool) {
	d, ok := f.defs[fullTaskID]
	return d, ok
}

type fakeEnqueuer struct {
	mu       sync.Mutex
	tasklets []queue.Tasklet
}

func (f *fakeEnqueuer) Put(ctx context.Context, t queue.Tasklet, highPriority bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tasklets = append(f.tasklets, t)
	return nil
}

func (f *fakeEnqueuer) all() []queue.Tasklet {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]queue.Tasklet(nil), f.tasklets...)
}

func TestService_EnqueuesDueEnabledItem(t *testing.T) {
	items := &fakeItemSource{items: []schedule.Item{
		{
			ID: "item-1", PlanName: "demo_plan", Task: "main/hello", Enabled: true,
			Trigger: schedule.Trigger{Type: "time_based", Schedule: "* * * * *"},
		},
	}}
	statuses := newFakeStatusStore()
	tasks := &fakeTaskDefs{defs: map[string]*engine.Task{
		"demo_plan/main/hello": {Meta: map[string]any{"execution_mode": "async"}},
	}}
	enq := &fakeEnqueuer{}

	svc := schedule.New(items, statuses, tasks, enq)
	svc.Run(contextWithTimeout(t, 5*time.Millisecond))

	got := enq.all()
	require.Len(t, got, 1)
	assert.Equal(t, "demo_plan/main/hello", got[0].TaskName)
	assert.Equal(t, "async", got[0].ExecutionMode)

	status, _, ok := statuses.RunStatus("item-1")
	require.True(t, ok)
	assert.Equal(t, "queued", status)
}

func TestService_SkipsDisabledItem(t *testing.T) {
	items := &fakeItemSource{items: []schedule.Item{
		{
			ID: "item-1", PlanName: "demo_plan", Task: "main/hello", Enabled: false,
			Trigger: schedule.Trigger{Type: "time_based", Schedule: "* * * * *"},
		},
	}}
	statuses := newFakeStatusStore()
	tasks := &fakeTaskDefs{defs: map[string]*engine.Task{}}
	enq := &fakeEnqueuer{}

	svc := schedule.New(items, statuses, tasks, enq)
	svc.Run(contextWithTimeout(t, 5*time.Millisecond))

	assert.Empty(t, enq.all())
}

func TestService_SkipsItemAlreadyQueuedOrRunning(t *testing.T) {
	items := &fakeItemSource{items: []schedule.Item{
		{
			ID: "item-1", PlanName: "demo_plan", Task: "main/hello", Enabled: true,
			Trigger: schedule.Trigger{Type: "time_based", Schedule: "* * * * *"},
		},
	}}
	statuses := newFakeStatusStore()
	statuses.set("item-1", "running", time.Time{})
	tasks := &fakeTaskDefs{defs: map[string]*engine.Task{}}
	enq := &fakeEnqueuer{}

	svc := schedule.New(items, statuses, tasks, enq)
	svc.Run(contextWithTimeout(t, 5*time.Millisecond))

	assert.Empty(t, enq.all())
}

func TestService_DefaultsExecutionModeToSyncWhenTaskUndefined(t *testing.T) {
	items := &fakeItemSource{items: []schedule.Item{
		{
			ID: "item-1", PlanName: "demo_plan", Task: "main/hello", Enabled: true,
			Trigger: schedule.Trigger{Type: "time_based", Schedule: "* * * * *"},
		},
	}}
	statuses := newFakeStatusStore()
	tasks := &fakeTaskDefs{defs: map[string]*engine.Task{}}
	enq := &fakeEnqueuer{}

	svc := schedule.New(items, statuses, tasks, enq)
	svc.Run(contextWithTimeout(t, 5*time.Millisecond))

	got := enq.all()
	require.Len(t, got, 1)
	assert.Equal(t, "sync", got[0].ExecutionMode)
}

func TestService_RunningGateSkipsTickWhenPaused(t *testing.T) {
	items := &fakeItemSource{items: []schedule.Item{
		{
			ID: "item-1", PlanName: "demo_plan", Task: "main/hello", Enabled: true,
			Trigger: schedule.Trigger{Type: "time_based", Schedule: "* * * * *"},
		},
	}}
	statuses := newFakeStatusStore()
	tasks := &fakeTaskDefs{defs: map[string]*engine.Task{}}
	enq := &fakeEnqueuer{}

	svc := schedule.New(items, statuses, tasks, enq, schedule.WithRunningGate(func() bool { return false }))
	svc.Run(contextWithTimeout(t, 5*time.Millisecond))

	assert.Empty(t, enq.all())
}

func contextWithTimeout(t *testing.T, d time.Duration) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), d)
	t.Cleanup(cancel)
	return ctx
}
