// Package planner implements C13: locating the current state of a plan by
// running its declared check tasks, planning the lowest-cost transition
// path to a target state via Dijkstra, and executing that path with
// per-edge retries, emitting a structured event stream as it goes.
// Grounded on original_source/packages/aura_core/state_planner.py's
// StateMap/StatePlanner.
package planner

import (
	"fmt"
	"os"
	"sync"

	"gopkg.in/yaml.v3"
)

// StateDef is one entry of states_map.yaml's "states" map (state_planner.py's
// per-state dict: check_task, can_async, priority).
type StateDef struct {
	CheckTask string
	CanAsync  bool
	Priority  int
}

// TransitionDef is one entry of states_map.yaml's "transitions" list.
type TransitionDef struct {
	From           string
	To             string
	Cost           int
	TransitionTask string
}

// StateMap is the parsed contents of a plan's states_map.yaml
// (state_planner.py's StateMap dataclass).
type StateMap struct {
	States      map[string]StateDef
	Transitions []TransitionDef
}

type rawStateDef struct {
	CheckTask string `yaml:"check_task"`
	CanAsync  *bool  `yaml:"can_async"`
	Priority  *int   `yaml:"priority"`
}

type rawTransitionDef struct {
	From           string `yaml:"from"`
	To             string `yaml:"to"`
	Cost           *int   `yaml:"cost"`
	TransitionTask string `yaml:"transition_task"`
}

type rawStateMap struct {
	States      map[string]rawStateDef `yaml:"states"`
	Transitions []rawTransitionDef     `yaml:"transitions"`
}

type cacheKey struct {
	path        string
	defaultCost int
}

// Loader parses and caches states_map.yaml files. A single Loader should be
// shared by every Planner instance in a process (spec §4.8's "state map is
// cached per (path, default_cost) pair").
type Loader struct {
	mu    sync.Mutex
	cache map[cacheKey]*StateMap
}

// NewLoader constructs an empty Loader.
func NewLoader() *Loader {
	return &Loader{cache: make(map[cacheKey]*StateMap)}
}

// Load parses path, resolving every state's can_async/priority defaults
// (true/100, matching `state_data.get('can_async', True)` and
// `state_data.get('priority', 100)`) and every transition's cost default
// (defaultCost, matching `transition.get('cost', 1)` generalized to a
// caller-chosen default), caching the result for identical (path,
// defaultCost) pairs.
func (l *Loader) Load(path string, defaultCost int) (*StateMap, error) {
	if defaultCost <= 0 {
		defaultCost = 1
	}
	key := cacheKey{path: path, defaultCost: defaultCost}

	l.mu.Lock()
	if sm, ok := l.cache[key]; ok {
		l.mu.Unlock()
		return sm, nil
	}
	l.mu.Unlock()

	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("planner: read %s: %w", path, err)
	}
	var parsed rawStateMap
	if err := yaml.Unmarshal(raw, &parsed); err != nil {
		return nil, fmt.Errorf("planner: parse %s: %w", path, err)
	}

	sm := &StateMap{States: make(map[string]StateDef, len(parsed.States))}
	for name, rs := range parsed.States {
		canAsync := true
		if rs.CanAsync != nil {
			canAsync = *rs.CanAsync
		}
		priority := 100
		if rs.Priority != nil {
			priority = *rs.Priority
		}
		sm.States[name] = StateDef{CheckTask: rs.CheckTask, CanAsync: canAsync, Priority: priority}
	}
	for _, rt := range parsed.Transitions {
		cost := defaultCost
		if rt.Cost != nil {
			cost = *rt.Cost
		}
		sm.Transitions = append(sm.Transitions, TransitionDef{
			From: rt.From, To: rt.To, Cost: cost, TransitionTask: rt.TransitionTask,
		})
	}

	l.mu.Lock()
	l.cache[key] = sm
	l.mu.Unlock()
	return sm, nil
}
