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

// fakeClusterLimiter stands in for an *rmap.Map, implementing Get/
// SetIfNotExists/TestAndSet with the same compare-and-swap semantics so the
// cluster resource-limiter path can be exercised without Redis.
type fakeClusterLimiter struct {
	mu   sync.Mutex
	data map[string]string
}

func newFakeClusterLimiter() *fakeClusterLimiter {
	return &fakeClusterLimiter{data: map[string]string{}}
}

func (f *fakeClusterLimiter) Get(key string) (string, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	v, ok := f.data[key]
	return v, ok
}

func (f *fakeClusterLimiter) SetIfNotExists(_ context.Context, key, value string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.data[key]; ok {
		return false, nil
	}
	f.data[key] = value
	return true, nil
}

func (f *fakeClusterLimiter) TestAndSet(_ context.Context, key, test, value string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	prev := f.data[key]
	if prev == test {
		f.data[key] = value
	}
	return prev, nil
}

func TestSubmit_ClusterResourceLimiterCapsConcurrencyAcrossManagers(t *testing.T) {
	limiter := newFakeClusterLimiter()
	var concurrent int32
	var maxSeen int32
	var mu sync.Mutex
	runnerFn := func(ctx context.Context, taskNameInPlan string, ev *eventbus.Event) (engine.Result, error) {
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
	}

	// Two independent managers (standing in for two aurad processes) share
	// only the cluster limiter, each otherwise configured with plenty of
	// local headroom (global limit 8), so the cluster limit of 1 is the
	// only thing that can bound observed concurrency.
	plansA := newFakePlans()
	plansA.add("demo_plan", &fakeRunner{fn: runnerFn})
	mgrA := execmgr.New(plansA, execmgr.NewHookManager(nil), 8, execmgr.WithClusterResourceLimiter(limiter))

	plansB := newFakePlans()
	plansB.add("demo_plan", &fakeRunner{fn: runnerFn})
	mgrB := execmgr.New(plansB, execmgr.NewHookManager(nil), 8, execmgr.WithClusterResourceLimiter(limiter))

	var wg sync.WaitGroup
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func(mgr *execmgr.Manager) {
			defer wg.Done()
			_ = mgr.Submit(context.Background(), queue.Tasklet{TaskName: "demo_plan/hello", ResourceTags: []string{"gpu:1"}}, false)
		}(mgrA)
	}
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(mgr *execmgr.Manager) {
			defer wg.Done()
			_ = mgr.Submit(context.Background(), queue.Tasklet{TaskName: "demo_plan/hello", ResourceTags: []string{"gpu:1"}}, false)
		}(mgrB)
	}
	wg.Wait()

	assert.Equal(t, int32(1), maxSeen)
}

func TestSubmit_ClusterResourceLimiterTimeoutReleasesLocalSemaphore(t *testing.T) {
	limiter := newFakeClusterLimiter()
	// Pre-fill the cluster slot so the next acquire must poll until its
	// context expires instead of succeeding immediately.
	_, err := limiter.SetIfNotExists(context.Background(), "execmgr:resourcesem:gpu", "1")
	require.NoError(t, err)

	plans := newFakePlans()
	called := false
	plans.add("demo_plan", &fakeRunner{fn: func(ctx context.Context, taskNameInPlan string, ev *eventbus.Event) (engine.Result, error) {
		called = true
		return engine.Result{Status: engine.StatusSuccess}, nil
	}})
	mgr := execmgr.New(plans, execmgr.NewHookManager(nil), 8, execmgr.WithClusterResourceLimiter(limiter))

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	err = mgr.Submit(ctx, queue.Tasklet{TaskName: "demo_plan/hello", ResourceTags: []string{"gpu:1"}}, false)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.False(t, called)

	// Free the cluster slot and submit again: if the manager's own local
	// per-tag semaphore had leaked from the timed-out attempt above, this
	// would block forever instead of completing.
	prev, err := limiter.TestAndSet(context.Background(), "execmgr:resourcesem:gpu", "1", "0")
	require.NoError(t, err)
	require.Equal(t, "1", prev)

	err = mgr.Submit(context.Background(), queue.Tasklet{TaskName: "demo_plan/hello", ResourceTags: []string{"gpu:1"}}, false)
	require.NoError(t, err)
	assert.True(t, called)
}
