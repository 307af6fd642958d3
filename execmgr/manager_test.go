package execmgr_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aura-automation/aura/engine"
	"github.com/aura-automation/aura/eventbus"
	"github.com/aura-automation/aura/execmgr"
	"github.com/aura-automation/aura/queue"
)

type fakeRunner struct {
	fn func(ctx context.Context, taskNameInPlan string, triggeringEvent *eventbus.Event) (engine.Result, error)
}

func (r *fakeRunner) ExecuteTask(ctx context.Context, taskNameInPlan string, triggeringEvent *eventbus.Event) (engine.Result, error) {
	return r.fn(ctx, taskNameInPlan, triggeringEvent)
}

type fakePlans struct {
	mu      sync.Mutex
	runners map[string]*fakeRunner
}

func newFakePlans() *fakePlans {
	return &fakePlans{runners: make(map[string]*fakeRunner)}
}

func (p *fakePlans) add(planName string, r *fakeRunner) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.runners[planName] = r
}

func (p *fakePlans) Plan(planName string) (execmgr.PlanRunner, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	r, ok := p.runners[planName]
	return r, ok
}

type fakeStatusSink struct {
	mu      sync.Mutex
	updates []map[string]any
}

func (s *fakeStatusSink) UpdateRunStatus(runID string, fields map[string]any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.updates = append(s.updates, fields)
}

func (s *fakeStatusSink) last() map[string]any {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.updates) == 0 {
		return nil
	}
	return s.updates[len(s.updates)-1]
}

type fakeRunningRegistry struct {
	mu         sync.Mutex
	registered map[string]bool
}

func newFakeRunningRegistry() *fakeRunningRegistry {
	return &fakeRunningRegistry{registered: make(map[string]bool)}
}

func (r *fakeRunningRegistry) RegisterRunning(taskName string, cancel context.CancelFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.registered[taskName] = true
}

func (r *fakeRunningRegistry) UnregisterRunning(taskName string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.registered, taskName)
}

func (r *fakeRunningRegistry) isRegistered(taskName string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.registered[taskName]
}

func TestSubmit_SuccessFiresSuccessHooks(t *testing.T) {
	plans := newFakePlans()
	plans.add("demo_plan", &fakeRunner{fn: func(ctx context.Context, taskNameInPlan string, ev *eventbus.Event) (engine.Result, error) {
		return engine.Result{Status: engine.StatusSuccess}, nil
	}})

	hooks := execmgr.NewHookManager(nil)
	var fired []string
	var mu sync.Mutex
	record := func(name string) execmgr.HookFunc {
		return func(ctx context.Context, tc *execmgr.TaskContext) {
			mu.Lock()
			fired = append(fired, name)
			mu.Unlock()
		}
	}
	hooks.Register("before_task_run", record("before_task_run"))
	hooks.Register("after_task_success", record("after_task_success"))
	hooks.Register("after_task_failure", record("after_task_failure"))
	hooks.Register("after_task_run", record("after_task_run"))

	status := &fakeStatusSink{}
	running := newFakeRunningRegistry()
	mgr := execmgr.New(plans, hooks, 4, execmgr.WithStatusSink(status), execmgr.WithRunningRegistry(running))

	t1 := queue.Tasklet{
		TaskName: "demo_plan/hello",
		Payload:  map[string]any{"id": "run-1", "plan_name": "demo_plan", "task": "hello"},
	}
	err := mgr.Submit(context.Background(), t1, false)
	require.NoError(t, err)

	assert.Equal(t, []string{"before_task_run", "after_task_success", "after_task_run"}, fired)
	assert.Equal(t, "success", status.last()["result"])
	assert.False(t, running.isRegistered("demo_plan/hello"))
}

func TestSubmit_FailureFiresFailureHooks(t *testing.T) {
	plans := newFakePlans()
	plans.add("demo_plan", &fakeRunner{fn: func(ctx context.Context, taskNameInPlan string, ev *eventbus.Event) (engine.Result, error) {
		return engine.Result{Status: engine.StatusError}, assert.AnError
	}})

	hooks := execmgr.NewHookManager(nil)
	var fired []string
	var mu sync.Mutex
	record := func(name string) execmgr.HookFunc {
		return func(ctx context.Context, tc *execmgr.TaskContext) {
			mu.Lock()
			fired = append(fired, name)
			mu.Unlock()
		}
	}
	hooks.Register("after_task_success", record("after_task_success"))
	hooks.Register("after_task_failure", record("after_task_failure"))

	status := &fakeStatusSink{}
	mgr := execmgr.New(plans, hooks, 4, execmgr.WithStatusSink(status))

	t1 := queue.Tasklet{
		TaskName: "demo_plan/hello",
		Payload:  map[string]any{"id": "run-2", "plan_name": "demo_plan", "task": "hello"},
	}
	err := mgr.Submit(context.Background(), t1, false)
	require.Error(t, err)
	assert.Equal(t, []string{"after_task_failure"}, fired)
	assert.Equal(t, "failure", status.last()["result"])
}

func TestSubmit_TimeoutReportsTimeoutResult(t *testing.T) {
	plans := newFakePlans()
	plans.add("demo_plan", &fakeRunner{fn: func(ctx context.Context, taskNameInPlan string, ev *eventbus.Event) (engine.Result, error) {
		select {
		case <-ctx.Done():
			return engine.Result{}, ctx.Err()
		case <-time.After(time.Second):
			return engine.Result{Status: engine.StatusSuccess}, nil
		}
	}})

	hooks := execmgr.NewHookManager(nil)
	status := &fakeStatusSink{}
	mgr := execmgr.New(plans, hooks, 4, execmgr.WithStatusSink(status))

	t1 := queue.Tasklet{
		TaskName:       "demo_plan/slow",
		Payload:        map[string]any{"id": "run-3", "plan_name": "demo_plan", "task": "slow"},
		TimeoutSeconds: 0.01,
	}
	err := mgr.Submit(context.Background(), t1, false)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, "timeout", status.last()["result"])
}

func TestSubmit_CancelledParentReportsCancelledResult(t *testing.T) {
	plans := newFakePlans()
	plans.add("demo_plan", &fakeRunner{fn: func(ctx context.Context, taskNameInPlan string, ev *eventbus.Event) (engine.Result, error) {
		<-ctx.Done()
		return engine.Result{}, ctx.Err()
	}})

	hooks := execmgr.NewHookManager(nil)
	status := &fakeStatusSink{}
	mgr := execmgr.New(plans, hooks, 4, execmgr.WithStatusSink(status))

	ctx, cancel := context.WithCancel(context.Background())
	t1 := queue.Tasklet{
		TaskName: "demo_plan/wait",
		Payload:  map[string]any{"id": "run-4", "plan_name": "demo_plan", "task": "wait"},
	}

	done := make(chan error, 1)
	go func() { done <- mgr.Submit(ctx, t1, false) }()
	time.Sleep(5 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.Error(t, err)
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("Submit did not return after cancellation")
	}
	assert.Equal(t, "cancelled", status.last()["result"])
}

func TestSubmit_InterruptHandlerSkipsStatusAndRegistry(t *testing.T) {
	plans := newFakePlans()
	plans.add("demo_plan", &fakeRunner{fn: func(ctx context.Context, taskNameInPlan string, ev *eventbus.Event) (engine.Result, error) {
		return engine.Result{Status: engine.StatusSuccess}, nil
	}})

	hooks := execmgr.NewHookManager(nil)
	status := &fakeStatusSink{}
	running := newFakeRunningRegistry()
	mgr := execmgr.New(plans, hooks, 4, execmgr.WithStatusSink(status), execmgr.WithRunningRegistry(running))

	t1 := queue.Tasklet{
		TaskName: "demo_plan/interrupt_handler",
		Payload:  map[string]any{"id": "run-5", "plan_name": "demo_plan", "task": "interrupt_handler"},
	}
	err := mgr.Submit(context.Background(), t1, true)
	require.NoError(t, err)
	assert.Nil(t, status.last())
	assert.False(t, running.isRegistered("demo_plan/interrupt_handler"))
}

func TestSubmit_TaskNameFallbackWhenPayloadOmitsPlan(t *testing.T) {
	plans := newFakePlans()
	var gotTask string
	plans.add("demo_plan", &fakeRunner{fn: func(ctx context.Context, taskNameInPlan string, ev *eventbus.Event) (engine.Result, error) {
		gotTask = taskNameInPlan
		return engine.Result{Status: engine.StatusSuccess}, nil
	}})

	hooks := execmgr.NewHookManager(nil)
	mgr := execmgr.New(plans, hooks, 4)

	t1 := queue.Tasklet{TaskName: "demo_plan/main/hello"}
	err := mgr.Submit(context.Background(), t1, false)
	require.NoError(t, err)
	assert.Equal(t, "main/hello", gotTask)
}

func TestSubmit_UnknownPlanReturnsError(t *testing.T) {
	plans := newFakePlans()
	hooks := execmgr.NewHookManager(nil)
	mgr := execmgr.New(plans, hooks, 4)

	t1 := queue.Tasklet{TaskName: "missing_plan/hello"}
	err := mgr.Submit(context.Background(), t1, false)
	assert.Error(t, err)
}

func TestSubmit_GlobalSemaphoreLimitsConcurrency(t *testing.T) {
	plans := newFakePlans()
	var concurrent int32
	var maxSeen int32
	var mu sync.Mutex
	plans.add("demo_plan", &fakeRunner{fn: func(ctx context.Context, taskNameInPlan string, ev *eventbus.Event) (engine.Result, error) {
		mu.Lock()
		concurrent++
		if concurrent > maxSeen {
			maxSeen = concurrent
		}
		mu.Unlock()
		time.Sleep(20 * time.Millisecond)
		mu.Lock()
		concurrent--
		mu.Unlock()
		return engine.Result{Status: engine.StatusSuccess}, nil
	}})

	hooks := execmgr.NewHookManager(nil)
	mgr := execmgr.New(plans, hooks, 1)

	var wg sync.WaitGroup
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_ = mgr.Submit(context.Background(), queue.Tasklet{TaskName: "demo_plan/hello"}, false)
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int32(1), maxSeen)
}

func TestSubmit_ResourceTagLimitsConcurrencyIndependently(t *testing.T) {
	plans := newFakePlans()
	var concurrent int32
	var maxSeen int32
	var mu sync.Mutex
	plans.add("demo_plan", &fakeRunner{fn: func(ctx context.Context, taskNameInPlan string, ev *eventbus.Event) (engine.Result, error) {
		mu.Lock()
		concurrent++
		if concurrent > maxSeen {
			maxSeen = concurrent
		}
		mu.Unlock()
		time.Sleep(20 * time.Millisecond)
		mu.Lock()
		concurrent--
		mu.Unlock()
		return engine.Result{Status: engine.StatusSuccess}, nil
	}})

	hooks := execmgr.NewHookManager(nil)
	mgr := execmgr.New(plans, hooks, 8)

	var wg sync.WaitGroup
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			t1 := queue.Tasklet{TaskName: "demo_plan/hello", ResourceTags: []string{"gpu:2"}}
			_ = mgr.Submit(context.Background(), t1, false)
		}()
	}
	wg.Wait()

	assert.LessOrEqual(t, maxSeen, int32(2))
}
