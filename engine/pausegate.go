package engine

import (
	"context"
	"sync"
)

// PauseGate is the cooperative pause/resume signal the commander (C12) sets
// to suspend every running engine instance and clears to let them continue
// (spec §4.3 "_check_pause", §4.6). It is shared by a task's engine and every
// sub-task engine it forks, mirroring the asyncio.Event the Python source
// threads through ExecutionEngine.__init__ and _run_sub_task.
//
// This models a level-triggered flag with waiters released in one broadcast,
// since the engine here runs as plain goroutines with no workflow replay to
// preserve.
type PauseGate struct {
	mu     sync.Mutex
	paused bool
	resume chan struct{}
}

// NewPauseGate returns an initially-unpaused gate.
func NewPauseGate() *PauseGate {
	return &PauseGate{resume: make(chan struct{})}
}

// Pause sets the gate; subsequent Wait calls block until Resume.
func (g *PauseGate) Pause() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.paused {
		g.paused = true
		g.resume = make(chan struct{})
	}
}

// Resume clears the gate and releases every goroutine blocked in Wait.
func (g *PauseGate) Resume() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.paused {
		g.paused = false
		close(g.resume)
	}
}

// IsPaused reports the current state.
func (g *PauseGate) IsPaused() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.paused
}

// Wait blocks until the gate is clear (or ctx is done), called at every step
// boundary (spec §4.3 "_check_pause").
func (g *PauseGate) Wait(ctx context.Context) error {
	g.mu.Lock()
	if !g.paused {
		g.mu.Unlock()
		return nil
	}
	ch := g.resume
	g.mu.Unlock()

	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
