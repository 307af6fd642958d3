package action

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/aura-automation/aura/telemetry"
)

// Registry holds every registered action, keyed by lower-cased name (spec
// §3 "ActionRegistry", §4.2 step 1: "case-insensitive lookup").
//
// Unlike the service container, a name collision here is not fatal:
// api.py's ActionRegistry.register logs a warning and lets the newest
// registration win, so plugin load order determines which of two
// same-named actions is callable. That is deliberately preserved.
type Registry struct {
	mu     sync.RWMutex
	byName map[string]*Definition
	log    telemetry.Logger
}

// NewRegistry constructs an empty Registry.
func NewRegistry(log telemetry.Logger) *Registry {
	if log == nil {
		log = telemetry.NoopLogger{}
	}
	return &Registry{byName: make(map[string]*Definition), log: log}
}

// Register adds d, logging a warning (not an error) if it replaces an
// existing action of the same name.
func (r *Registry) Register(d *Definition) {
	key := strings.ToLower(d.Name)
	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.byName[key]; ok {
		r.log.Warn(context.Background(), "action name collision: overriding previous definition",
			"name", d.Name, "new_plugin", d.PluginID, "previous_plugin", existing.PluginID)
	}
	r.byName[key] = d
}

// Get looks up an action by name, case-insensitively.
func (r *Registry) Get(name string) (*Definition, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.byName[strings.ToLower(name)]
	return d, ok
}

// All returns every registered action, sorted by FQID (spec §4.2
// "get_all_action_definitions").
func (r *Registry) All() []*Definition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	defs := make([]*Definition, 0, len(r.byName))
	for _, d := range r.byName {
		defs = append(defs, d)
	}
	sort.Slice(defs, func(i, j int) bool { return defs[i].FQID() < defs[j].FQID() })
	return defs
}

// Len reports the number of registered actions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byName)
}
