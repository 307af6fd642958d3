package action

import (
	"github.com/aura-automation/aura/runcontext"
	"github.com/aura-automation/aura/value"
)

// EngineHandle is an opaque reference to the engine invoking an action,
// bound to a ParamEngine slot (spec §4.2: "engine" reserved parameter name).
// Declared as `any` here to avoid an import cycle with the engine package,
// which itself depends on action to dispatch steps.
type EngineHandle any

// Args is the resolved, ready-to-use call frame an action function receives.
// Built by Injector.prepareArgs following action_injector.py's
// _prepare_action_arguments precedence.
type Args struct {
	rendered           map[string]value.Value
	services           map[string]any
	runContext         *runcontext.Context
	persistentContext  value.Value
	hasPersistentCtx   bool
	engine             EngineHandle
	structured         map[string]value.Value
	hasStructured      bool
}

// Value returns the rendered/context-fallback/default value bound to a
// ParamRendered slot.
func (a Args) Value(name string) (value.Value, bool) {
	v, ok := a.rendered[name]
	return v, ok
}

// Service returns the container instance bound to a ParamService slot.
func (a Args) Service(name string) (any, bool) {
	v, ok := a.services[name]
	return v, ok
}

// Context returns the run context bound to a ParamContext slot.
func (a Args) Context() *runcontext.Context { return a.runContext }

// PersistentContext returns the value bound to a ParamPersistentContext slot.
func (a Args) PersistentContext() (value.Value, bool) {
	return a.persistentContext, a.hasPersistentCtx
}

// Engine returns the handle bound to a ParamEngine slot.
func (a Args) Engine() EngineHandle { return a.engine }

// Structured returns the whole validated record bound to a ParamStructured
// slot.
func (a Args) Structured() (map[string]value.Value, bool) {
	return a.structured, a.hasStructured
}
