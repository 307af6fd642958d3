// Package action implements C5: the ActionDefinition registry and the
// injector that resolves a rendered call into the arguments an action's
// Go function actually receives. Grounded on
// original_source/packages/aura_core/api.py (ActionDefinition, ActionRegistry,
// @register_action / @requires_services) and action_injector.py
// (ActionInjector._prepare_action_arguments's resolution precedence).
//
// Python resolves call arguments by reflecting over the target function's
// signature. Go functions carry no parameter names at runtime, so each
// Definition declares its Params explicitly (spec §9 "Deep reflection for
// DI becomes explicit wiring") instead of the injector inspecting the
// function value.
package action

import (
	"context"

	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/aura-automation/aura/value"
)

// ParamKind discriminates how the injector fills one formal parameter slot,
// mirroring action_injector.py's _prepare_action_arguments precedence chain.
type ParamKind int

const (
	// ParamRendered is filled from the rendered YAML parameters by name,
	// falling back to context.get(name), then the declared Default.
	ParamRendered ParamKind = iota
	// ParamService is filled by resolving ServiceAlias through the service
	// container (spec §4.2 step 3, @requires_services).
	ParamService
	// ParamContext is filled with the run's *runcontext.Context.
	ParamContext
	// ParamPersistentContext is filled with the context's persistent_context
	// value, if bound.
	ParamPersistentContext
	// ParamEngine is filled with the calling engine handle.
	ParamEngine
	// ParamStructured is filled with every rendered parameter validated as a
	// single structured record against Definition.Schema (spec §4.2.3a); when
	// present it consumes all rendered params the way a Pydantic model
	// parameter does in the source, and individual ParamRendered slots other
	// than this one are not also populated from the rendered map.
	ParamStructured
)

// ParamSpec is one formal parameter of an action function.
type ParamSpec struct {
	Name         string
	Kind         ParamKind
	ServiceAlias string // set when Kind == ParamService
	Default      *value.Value
}

// Func is the Go shape every action implements: read resolved Args, return a
// single Value (or an error, surfaced per spec §7).
type Func func(ctx context.Context, args Args) (value.Value, error)

// Definition is one registered action (spec §3 "ActionDefinition").
type Definition struct {
	Name     string
	ReadOnly bool
	Public   bool
	IsAsync  bool
	PluginID string // canonical plugin id that declared this action
	Params   []ParamSpec
	// Schema validates the whole rendered-parameter map as one record when a
	// ParamStructured slot is present (spec §4.2.3a, ActionArgumentInvalid).
	Schema *jsonschema.Schema
	Func   Func
}

// FQID is "plugin_author/plugin_name/action_name" (spec §3).
func (d *Definition) FQID() string { return d.PluginID + "/" + d.Name }
