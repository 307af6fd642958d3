package planner

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/aura-automation/aura/engine"
	"github.com/aura-automation/aura/eventbus"
	"github.com/aura-automation/aura/telemetry"
	"github.com/aura-automation/aura/value"
)

// TaskRunner executes one task by name within a plan, matched by
// *orchestrator.Orchestrator.ExecuteTask.
type TaskRunner interface {
	ExecuteTask(ctx context.Context, taskNameInPlan string, triggeringEvent *eventbus.Event) (engine.Result, error)
}

// Publisher emits the planner's structured event stream, matched by
// *eventbus.Bus.
type Publisher interface {
	Publish(ctx context.Context, e eventbus.Event)
}

// RetryPolicy bounds a transition's execute/verify attempts (spec §4.8
// step 3: "retry.attempts (default 1)", "retry.delay", "retry.post_delay").
type RetryPolicy struct {
	Attempts  int
	Delay     time.Duration
	PostDelay time.Duration
}

func (r RetryPolicy) attempts() int {
	if r.Attempts <= 0 {
		return 1
	}
	return r.Attempts
}

// Planner is a per-plan instance of C13, bound to one state map and one
// task runner. Grounded on state_planner.py's StatePlanner; not safe to
// share across concurrent Plan calls that would race on the same
// transition — see New's invariant note.
type Planner struct {
	stateMap     *StateMap
	graph        map[string][]edge
	reverseGraph map[string]map[string]struct{}

	runner TaskRunner
	bus    Publisher
	retry  RetryPolicy
	log    telemetry.Logger

	// mu serializes whole Plan invocations: spec §4.8's invariant "no
	// transition may be executed concurrently for the same planner
	// invocation".
	mu sync.Mutex
}

// Option configures a Planner.
type Option func(*Planner)

// WithPublisher installs the event bus the planner reports its structured
// event stream to, on channel "planner".
func WithPublisher(b Publisher) Option { return func(p *Planner) { p.bus = b } }

// WithRetryPolicy overrides the default single-attempt, no-delay policy.
func WithRetryPolicy(r RetryPolicy) Option { return func(p *Planner) { p.retry = r } }

// WithLogger installs the planner's logger.
func WithLogger(l telemetry.Logger) Option { return func(p *Planner) { p.log = l } }

// New constructs a Planner over stateMap, driving tasks through runner.
func New(stateMap *StateMap, runner TaskRunner, opts ...Option) *Planner {
	graph := buildGraph(stateMap)
	p := &Planner{
		stateMap:     stateMap,
		graph:        graph,
		reverseGraph: buildReverseGraph(graph),
		runner:       runner,
		log:          telemetry.NoopLogger{},
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Plan drives the full C13 pipeline toward targetState: locate the current
// state, find the lowest-cost transition path, and execute it edge by
// edge, emitting the planner event stream throughout.
func (p *Planner) Plan(ctx context.Context, targetState string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.publish(ctx, "PLANNER_STARTED", map[string]any{"target_state": targetState})
	p.publish(ctx, "PLANNER_MAP_LOADED", map[string]any{
		"states": len(p.stateMap.States), "transitions": len(p.stateMap.Transitions),
	})

	current, err := p.DetermineCurrentState(ctx, targetState)
	if err != nil {
		p.publish(ctx, "PLANNER_FAILED", map[string]any{"reason": err.Error()})
		return err
	}
	p.publish(ctx, "PLANNER_STATE_LOCATED", map[string]any{"state": current})

	if current == targetState {
		p.publish(ctx, "PLANNER_SUCCEEDED", map[string]any{"state": current})
		return nil
	}

	path, ok := findPath(p.graph, current, targetState)
	if !ok {
		err := fmt.Errorf("planner: no path from %q to %q", current, targetState)
		p.publish(ctx, "PLANNER_FAILED", map[string]any{"reason": err.Error()})
		return err
	}
	pathAny := make([]any, len(path))
	for i, task := range path {
		pathAny[i] = task
	}
	p.publish(ctx, "PLANNER_PATH_FOUND", map[string]any{"path": pathAny, "from": current})

	at := current
	for _, transitionTask := range path {
		to, ok := p.GetExpectedStateAfterTransition(at, transitionTask)
		if !ok {
			err := fmt.Errorf("planner: no transition %q declared from %q", transitionTask, at)
			p.publish(ctx, "PLANNER_FAILED", map[string]any{"reason": err.Error()})
			return err
		}

		p.publish(ctx, "PLANNER_STEP_EXECUTING", map[string]any{"from": at, "to": to, "task": transitionTask})
		if err := p.executeTransition(ctx, to, transitionTask); err != nil {
			p.publish(ctx, "PLANNER_FAILED", map[string]any{"reason": err.Error()})
			return err
		}
		p.publish(ctx, "PLANNER_STEP_COMPLETED", map[string]any{"from": at, "to": to, "task": transitionTask})
		at = to
	}

	p.publish(ctx, "PLANNER_SUCCEEDED", map[string]any{"state": at})
	return nil
}

// executeTransition runs transitionTask, then re-locates the current state
// after retry.post_delay, accepting the attempt only if the located state
// is expectedState, retrying up to retry.attempts times (spec §4.8 step 3).
func (p *Planner) executeTransition(ctx context.Context, expectedState, transitionTask string) error {
	attempts := p.retry.attempts()
	var lastErr error

	for attempt := 0; attempt < attempts; attempt++ {
		if _, err := p.runner.ExecuteTask(ctx, transitionTask, nil); err != nil {
			lastErr = fmt.Errorf("task failed: %w", err)
		} else {
			if p.retry.PostDelay > 0 {
				if err := sleep(ctx, p.retry.PostDelay); err != nil {
					return err
				}
			}
			located, err := p.DetermineCurrentState(ctx, expectedState)
			switch {
			case err != nil:
				lastErr = err
			case located == expectedState:
				return nil
			default:
				lastErr = fmt.Errorf("landed on %q, expected %q", located, expectedState)
			}
		}

		if attempt < attempts-1 && p.retry.Delay > 0 {
			if err := sleep(ctx, p.retry.Delay); err != nil {
				return err
			}
		}
	}
	return fmt.Errorf("planner: transition %q to %q failed after %d attempt(s): %w", transitionTask, expectedState, attempts, lastErr)
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// GetExpectedStateAfterTransition looks up the destination state for a
// (from, transition_task) pair (state_planner.py's
// get_expected_state_after_transition).
func (p *Planner) GetExpectedStateAfterTransition(from, transitionTask string) (string, bool) {
	for _, t := range p.stateMap.Transitions {
		if t.From == from && t.TransitionTask == transitionTask {
			return t.To, true
		}
	}
	return "", false
}

type stateCheck struct {
	stateName string
	taskName  string
	canAsync  bool
	priority  int
	distance  int
}

// DetermineCurrentState locates the current state using the two-phase
// parallel-then-sequential check strategy (spec §4.8 step 1,
// state_planner.py's determine_current_state).
func (p *Planner) DetermineCurrentState(ctx context.Context, targetState string) (string, error) {
	distances := bfsDistances(p.reverseGraph, p.stateMap.States, targetState)

	checks := make([]stateCheck, 0, len(p.stateMap.States))
	for name, def := range p.stateMap.States {
		if def.CheckTask == "" {
			continue
		}
		d, ok := distances[name]
		if !ok {
			d = 1 << 30
		}
		checks = append(checks, stateCheck{
			stateName: name, taskName: def.CheckTask, canAsync: def.CanAsync, priority: def.Priority, distance: d,
		})
	}
	sort.Slice(checks, func(i, j int) bool {
		if checks[i].distance != checks[j].distance {
			return checks[i].distance < checks[j].distance
		}
		if checks[i].priority != checks[j].priority {
			return checks[i].priority < checks[j].priority
		}
		return checks[i].stateName < checks[j].stateName
	})

	var parallel, sequential []stateCheck
	for _, c := range checks {
		if c.canAsync {
			parallel = append(parallel, c)
		} else {
			sequential = append(sequential, c)
		}
	}

	if state, ok := p.runParallelChecks(ctx, parallel); ok {
		return state, nil
	}

	for _, c := range sequential {
		ok, err := p.checkSucceeds(ctx, c.taskName)
		if err != nil {
			p.log.Warn(ctx, "planner: sequential state check errored", "state", c.stateName, "task", c.taskName, "error", err.Error())
			continue
		}
		if ok {
			return c.stateName, nil
		}
	}

	return "", errors.New("planner: cannot determine current state")
}

// runParallelChecks runs every parallel check concurrently, returning the
// first one that succeeds and cancelling the rest, mirroring
// determine_current_state's asyncio.wait(FIRST_COMPLETED) loop.
func (p *Planner) runParallelChecks(ctx context.Context, checks []stateCheck) (string, bool) {
	if len(checks) == 0 {
		return "", false
	}

	childCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	results := make(chan string, len(checks))
	var wg sync.WaitGroup
	for _, c := range checks {
		wg.Add(1)
		go func(c stateCheck) {
			defer wg.Done()
			ok, err := p.checkSucceeds(childCtx, c.taskName)
			if err != nil {
				p.log.Warn(childCtx, "planner: parallel state check errored", "state", c.stateName, "task", c.taskName, "error", err.Error())
				return
			}
			if ok {
				results <- c.stateName
			}
		}(c)
	}
	go func() {
		wg.Wait()
		close(results)
	}()

	for state := range results {
		cancel()
		return state, true
	}
	return "", false
}

// checkSucceeds runs a state's check_task, treating it as successful only
// when the task reports success and a truthy user_data output, matching
// `result.get('status').upper() == 'SUCCESS' and bool(result.get('user_data', False))`.
func (p *Planner) checkSucceeds(ctx context.Context, taskName string) (bool, error) {
	result, err := p.runner.ExecuteTask(ctx, taskName, nil)
	if err != nil {
		return false, err
	}
	if result.Status != engine.StatusSuccess {
		return false, nil
	}
	return truthy(result.Outputs["user_data"]), nil
}

func truthy(v any) bool {
	switch x := v.(type) {
	case nil:
		return false
	case bool:
		return x
	case string:
		return x != ""
	case int:
		return x != 0
	case int64:
		return x != 0
	case float64:
		return x != 0
	case []any:
		return len(x) > 0
	case map[string]any:
		return len(x) > 0
	default:
		return true
	}
}

func (p *Planner) publish(ctx context.Context, name string, fields map[string]any) {
	if p.bus == nil {
		return
	}
	payload := make(map[string]value.Value, len(fields))
	for k, v := range fields {
		payload[k] = value.FromGo(v)
	}
	p.bus.Publish(ctx, eventbus.NewEvent(name, payload, "planner", "planner"))
}
