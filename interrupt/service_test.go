package interrupt_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aura-automation/aura/engine"
	"github.com/aura-automation/aura/interrupt"
)

type fakeSource struct {
	defs    map[string]interrupt.Rule
	globals map[string]bool
	running []string
	tasks   map[string]*engine.Task
}

func (f *fakeSource) InterruptDefinitions() map[string]interrupt.Rule { return f.defs }
func (f *fakeSource) EnabledGlobals() map[string]bool                 { return f.globals }
func (f *fakeSource) RunningTaskIDs() []string                        { return f.running }
func (f *fakeSource) TaskDefinition(fullTaskID string) (*engine.Task, bool) {
	t, ok := f.tasks[fullTaskID]
	return t, ok
}

type fakeChecker struct {
	mu     sync.Mutex
	result bool
	panics bool
	calls  int
}

func (f *fakeChecker) PerformConditionCheck(ctx context.Context, actionName string, params map[string]any) bool {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	if f.panics {
		panic("boom")
	}
	return f.result
}

func (f *fakeChecker) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fakePlanResolver struct {
	mu       sync.Mutex
	checkers map[string]interrupt.PlanChecker
}

func (f *fakePlanResolver) Plan(planName string) (interrupt.PlanChecker, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.checkers[planName]
	return c, ok
}

type fakeSubmitter struct {
	mu    sync.Mutex
	rules []interrupt.Rule
}

func (f *fakeSubmitter) Submit(ctx context.Context, rule interrupt.Rule) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rules = append(f.rules, rule)
	return nil
}

func (f *fakeSubmitter) all() []interrupt.Rule {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]interrupt.Rule(nil), f.rules...)
}

func contextWithTimeout(t *testing.T, d time.Duration) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), d)
	t.Cleanup(cancel)
	return ctx
}

func TestService_SubmitsGlobalRuleWhenConditionTrue(t *testing.T) {
	source := &fakeSource{
		defs: map[string]interrupt.Rule{
			"low_battery": {Name: "low_battery", PlanName: "demo_plan", Scope: "global",
				Condition: interrupt.Condition{Action: "battery_low"}},
		},
		globals: map[string]bool{"low_battery": true},
	}
	plans := &fakePlanResolver{checkers: map[string]interrupt.PlanChecker{
		"demo_plan": &fakeChecker{result: true},
	}}
	out := &fakeSubmitter{}

	svc := interrupt.New(source, plans, out)
	svc.Run(contextWithTimeout(t, 5*time.Millisecond))

	got := out.all()
	require.Len(t, got, 1)
	assert.Equal(t, "low_battery", got[0].Name)
}

func TestService_SkipsDisabledGlobalRule(t *testing.T) {
	source := &fakeSource{
		defs: map[string]interrupt.Rule{
			"low_battery": {Name: "low_battery", PlanName: "demo_plan", Scope: "global",
				Condition: interrupt.Condition{Action: "battery_low"}},
		},
		globals: map[string]bool{"low_battery": false},
	}
	plans := &fakePlanResolver{checkers: map[string]interrupt.PlanChecker{
		"demo_plan": &fakeChecker{result: true},
	}}
	out := &fakeSubmitter{}

	svc := interrupt.New(source, plans, out)
	svc.Run(contextWithTimeout(t, 5*time.Millisecond))

	assert.Empty(t, out.all())
}

func TestService_TaskActivatedRuleFiresWhileTaskRunning(t *testing.T) {
	source := &fakeSource{
		defs: map[string]interrupt.Rule{
			"door_open": {Name: "door_open", PlanName: "demo_plan", Scope: "task",
				Condition: interrupt.Condition{Action: "door_sensor"}},
		},
		globals: map[string]bool{},
		running: []string{"demo_plan/main/patrol"},
		tasks: map[string]*engine.Task{
			"demo_plan/main/patrol": {Meta: map[string]any{"activates_interrupts": []any{"door_open"}}},
		},
	}
	plans := &fakePlanResolver{checkers: map[string]interrupt.PlanChecker{
		"demo_plan": &fakeChecker{result: true},
	}}
	out := &fakeSubmitter{}

	svc := interrupt.New(source, plans, out)
	svc.Run(contextWithTimeout(t, 5*time.Millisecond))

	got := out.all()
	require.Len(t, got, 1)
	assert.Equal(t, "door_open", got[0].Name)
}

func TestService_FalseConditionDoesNotSubmit(t *testing.T) {
	source := &fakeSource{
		defs: map[string]interrupt.Rule{
			"low_battery": {Name: "low_battery", PlanName: "demo_plan", Scope: "global",
				Condition: interrupt.Condition{Action: "battery_low"}},
		},
		globals: map[string]bool{"low_battery": true},
	}
	plans := &fakePlanResolver{checkers: map[string]interrupt.PlanChecker{
		"demo_plan": &fakeChecker{result: false},
	}}
	out := &fakeSubmitter{}

	svc := interrupt.New(source, plans, out)
	svc.Run(contextWithTimeout(t, 5*time.Millisecond))

	assert.Empty(t, out.all())
}

func TestService_PanickingConditionIsTreatedAsFalse(t *testing.T) {
	source := &fakeSource{
		defs: map[string]interrupt.Rule{
			"low_battery": {Name: "low_battery", PlanName: "demo_plan", Scope: "global",
				Condition: interrupt.Condition{Action: "battery_low"}},
		},
		globals: map[string]bool{"low_battery": true},
	}
	plans := &fakePlanResolver{checkers: map[string]interrupt.PlanChecker{
		"demo_plan": &fakeChecker{panics: true},
	}}
	out := &fakeSubmitter{}

	svc := interrupt.New(source, plans, out)
	assert.NotPanics(t, func() {
		svc.Run(contextWithTimeout(t, 5*time.Millisecond))
	})
	assert.Empty(t, out.all())
}

func TestService_CheckIntervalThrottlesRepeatedChecks(t *testing.T) {
	source := &fakeSource{
		defs: map[string]interrupt.Rule{
			"low_battery": {Name: "low_battery", PlanName: "demo_plan", Scope: "global",
				CheckIntervalSec: 1, Condition: interrupt.Condition{Action: "battery_low"}},
		},
		globals: map[string]bool{"low_battery": true},
	}
	checker := &fakeChecker{result: false}
	plans := &fakePlanResolver{checkers: map[string]interrupt.PlanChecker{"demo_plan": checker}}
	out := &fakeSubmitter{}

	svc := interrupt.New(source, plans, out, interrupt.WithTickInterval(2*time.Millisecond))
	svc.Run(contextWithTimeout(t, 20*time.Millisecond))

	// With a 1s check_interval and a 20ms run window, the condition must
	// have been polled at most once despite many ticks.
	assert.Empty(t, out.all())
	assert.Equal(t, 1, checker.callCount())
}

func TestService_RunningGateSkipsTickWhenPaused(t *testing.T) {
	source := &fakeSource{
		defs: map[string]interrupt.Rule{
			"low_battery": {Name: "low_battery", PlanName: "demo_plan", Scope: "global",
				Condition: interrupt.Condition{Action: "battery_low"}},
		},
		globals: map[string]bool{"low_battery": true},
	}
	plans := &fakePlanResolver{checkers: map[string]interrupt.PlanChecker{
		"demo_plan": &fakeChecker{result: true},
	}}
	out := &fakeSubmitter{}

	svc := interrupt.New(source, plans, out, interrupt.WithRunningGate(func() bool { return false }))
	svc.Run(contextWithTimeout(t, 5*time.Millisecond))

	assert.Empty(t, out.all())
}

// fakeCooldownStore stands in for an *rmap.Map, letting the cluster
// cooldown path be exercised without Redis.
type fakeCooldownStore struct {
	mu   sync.Mutex
	data map[string]string
}

func newFakeCooldownStore() *fakeCooldownStore { return &fakeCooldownStore{data: map[string]string{}} }

func (s *fakeCooldownStore) Get(key string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.data[key]
	return v, ok
}

func (s *fakeCooldownStore) Set(_ context.Context, key, value string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	prev := s.data[key]
	s.data[key] = value
	return prev, nil
}

func TestService_ClusterCooldownStoreSuppressesRefireAcrossInstances(t *testing.T) {
	defs := map[string]interrupt.Rule{
		"low_battery": {Name: "low_battery", PlanName: "demo_plan", Scope: "global",
			CooldownSec: 60, Condition: interrupt.Condition{Action: "battery_low"}},
	}
	globals := map[string]bool{"low_battery": true}
	store := newFakeCooldownStore()

	sourceA := &fakeSource{defs: defs, globals: globals}
	checkerA := &fakeChecker{result: true}
	plansA := &fakePlanResolver{checkers: map[string]interrupt.PlanChecker{"demo_plan": checkerA}}
	outA := &fakeSubmitter{}
	svcA := interrupt.New(sourceA, plansA, outA, interrupt.WithCooldownStore(store), interrupt.WithTickInterval(2*time.Millisecond))
	svcA.Run(contextWithTimeout(t, 5*time.Millisecond))
	require.Len(t, outA.all(), 1)

	// A second Service instance, sharing only the cooldown store (as two
	// processes in a cluster would via the same *rmap.Map), must honor the
	// cooldown svcA just set rather than refiring immediately.
	sourceB := &fakeSource{defs: defs, globals: globals}
	checkerB := &fakeChecker{result: true}
	plansB := &fakePlanResolver{checkers: map[string]interrupt.PlanChecker{"demo_plan": checkerB}}
	outB := &fakeSubmitter{}
	svcB := interrupt.New(sourceB, plansB, outB, interrupt.WithCooldownStore(store), interrupt.WithTickInterval(2*time.Millisecond))
	svcB.Run(contextWithTimeout(t, 10*time.Millisecond))

	assert.Empty(t, outB.all())
}
