// Package execmgr implements C9: the concurrency controller that dispatches
// queued tasklets against global and per-resource semaphores, a shared I/O
// and CPU worker pool, and a lifecycle hook chain. Grounded on
// original_source/packages/aura_core/execution_manager.py's
// ExecutionManager.
package execmgr

import (
	"context"
	"sync"

	"github.com/aura-automation/aura/telemetry"
)

// HookFunc is one lifecycle hook callback (spec §5 "before_task_run" /
// "after_task_success" / "after_task_failure" / "after_task_run"),
// grounded on api.py's HookManager.register/trigger.
type HookFunc func(ctx context.Context, taskCtx *TaskContext)

// HookManager fans a named hook out to every registered callback
// concurrently, isolating a panicking or erroring callback from the others
// (api.py's HookManager._execute_hook wraps each callback in its own
// try/except so one bad hook never blocks the rest).
type HookManager struct {
	mu    sync.RWMutex
	hooks map[string][]HookFunc
	log   telemetry.Logger
}

// NewHookManager constructs an empty HookManager.
func NewHookManager(log telemetry.Logger) *HookManager {
	if log == nil {
		log = telemetry.NoopLogger{}
	}
	return &HookManager{hooks: make(map[string][]HookFunc), log: log}
}

// Register appends fn to the chain run for hookName.
func (h *HookManager) Register(hookName string, fn HookFunc) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.hooks[hookName] = append(h.hooks[hookName], fn)
}

// Trigger runs every callback registered for hookName concurrently and
// waits for all of them, matching api.py's
// `asyncio.gather(*tasks, return_exceptions=True)`.
func (h *HookManager) Trigger(ctx context.Context, hookName string, taskCtx *TaskContext) {
	h.mu.RLock()
	fns := append([]HookFunc(nil), h.hooks[hookName]...)
	h.mu.RUnlock()
	if len(fns) == 0 {
		return
	}

	var wg sync.WaitGroup
	wg.Add(len(fns))
	for _, fn := range fns {
		fn := fn
		go func() {
			defer wg.Done()
			defer func() {
				if r := recover(); r != nil {
					h.log.Error(ctx, "execmgr: hook callback panicked", "hook", hookName, "panic", r)
				}
			}()
			fn(ctx, taskCtx)
		}()
	}
	wg.Wait()
}

// Clear removes every registered hook (api.py's HookManager.clear, used by
// tests and plan reloads).
func (h *HookManager) Clear() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.hooks = make(map[string][]HookFunc)
}
