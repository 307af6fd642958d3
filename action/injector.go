package action

import (
	"context"
	"fmt"

	"github.com/aura-automation/aura/container"
	"github.com/aura-automation/aura/errcat"
	"github.com/aura-automation/aura/runcontext"
	"github.com/aura-automation/aura/telemetry"
	"github.com/aura-automation/aura/template"
	"github.com/aura-automation/aura/value"
	"github.com/aura-automation/aura/workerpool"
)

// Injector resolves and executes a single action call: lowercased-name
// lookup, template rendering of raw YAML parameters, formal-parameter
// resolution, and sync/async dispatch (spec §4.2, grounded on
// action_injector.py's ActionInjector).
type Injector struct {
	registry  *Registry
	container *container.Container
	renderer  *template.Renderer
	syncPool  *workerpool.Pool
	log       telemetry.Logger
}

// Option configures an Injector.
type Option func(*Injector)

// WithSyncPool installs the pool synchronous (non-async) actions dispatch
// onto, mirroring action_injector.py's loop.run_in_executor offload.
func WithSyncPool(p *workerpool.Pool) Option {
	return func(i *Injector) { i.syncPool = p }
}

// WithLogger installs the injector's logger.
func WithLogger(l telemetry.Logger) Option {
	return func(i *Injector) { i.log = l }
}

// New constructs an Injector. registry and c must outlive it.
func New(registry *Registry, c *container.Container, renderer *template.Renderer, opts ...Option) *Injector {
	inj := &Injector{registry: registry, container: c, renderer: renderer, log: telemetry.NoopLogger{}}
	for _, o := range opts {
		o(inj)
	}
	return inj
}

// Renderer returns the template renderer this injector renders parameters
// with, so callers that build a per-call engine.Engine (the orchestrator, C7)
// can share the same one rather than constructing a second CEL environment.
func (inj *Injector) Renderer() *template.Renderer { return inj.renderer }

// Execute is the core entry point (spec §4.2 "execute"): find the action
// definition, render raw YAML params against rc, resolve the call frame, and
// dispatch.
func (inj *Injector) Execute(ctx context.Context, rc *runcontext.Context, engine EngineHandle, name string, rawParams map[string]value.Value) (value.Value, error) {
	def, ok := inj.registry.Get(name)
	if !ok {
		return value.Null, &errcat.ActionNotFoundError{Name: name}
	}

	rendered := inj.renderParams(ctx, rc, rawParams)

	args, err := inj.prepareArgs(def, rc, engine, rendered)
	if err != nil {
		return value.Null, err
	}

	if def.IsAsync {
		return def.Func(ctx, args)
	}
	return inj.dispatchSync(ctx, def, args)
}

func (inj *Injector) renderParams(ctx context.Context, rc *runcontext.Context, raw map[string]value.Value) map[string]value.Value {
	out := make(map[string]value.Value, len(raw))
	data := rc.Data()
	for k, v := range raw {
		out[k] = inj.renderer.RenderValue(ctx, v, data)
	}
	return out
}

type syncResult struct {
	v   value.Value
	err error
}

// dispatchSync offloads a synchronous action function onto the shared pool so
// the calling engine loop never blocks on it directly (spec §5 "CPU-bound and
// legacy synchronous actions are offloaded to worker pools").
func (inj *Injector) dispatchSync(ctx context.Context, def *Definition, args Args) (value.Value, error) {
	if inj.syncPool == nil {
		return def.Func(ctx, args)
	}
	done := make(chan syncResult, 1)
	inj.syncPool.Submit(func() {
		v, err := def.Func(ctx, args)
		done <- syncResult{v, err}
	})
	select {
	case r := <-done:
		return r.v, r.err
	case <-ctx.Done():
		return value.Null, ctx.Err()
	}
}

// prepareArgs resolves every declared ParamSpec into the Args call frame,
// following action_injector.py's _prepare_action_arguments precedence:
// structured record first (consumes the whole rendered map), then service
// deps, then reserved names, then rendered-by-name, then context fallback,
// then default, else MissingActionParameterError.
func (inj *Injector) prepareArgs(def *Definition, rc *runcontext.Context, engine EngineHandle, rendered map[string]value.Value) (Args, error) {
	args := Args{
		rendered: make(map[string]value.Value),
		services: make(map[string]any),
	}

	if pc, ok := rc.Lookup(runcontext.KeyPersistentContext); ok {
		args.persistentContext = pc
		args.hasPersistentCtx = true
	}
	args.runContext = rc
	args.engine = engine

	consumedByStructured := false
	for _, p := range def.Params {
		if p.Kind != ParamStructured {
			continue
		}
		if def.Schema != nil {
			if err := validateStructured(def.Schema, rendered); err != nil {
				return Args{}, &errcat.ActionArgumentInvalidError{Action: def.Name, Field: p.Name, Cause: err}
			}
		}
		structured := make(map[string]value.Value, len(rendered))
		for k, v := range rendered {
			structured[k] = v
		}
		args.structured = structured
		args.hasStructured = true
		consumedByStructured = true
	}

	for _, p := range def.Params {
		switch p.Kind {
		case ParamStructured:
			continue

		case ParamService:
			inst, err := inj.container.Resolve(p.ServiceAlias)
			if err != nil {
				return Args{}, errcat.NewResolveError(p.ServiceAlias,
					fmt.Sprintf("resolving service dependency for action %q param %q", def.Name, p.Name), err)
			}
			args.services[p.Name] = inst

		case ParamContext, ParamEngine, ParamPersistentContext:
			// already bound above; nothing more to do per-slot.

		case ParamRendered:
			if !consumedByStructured {
				if v, ok := rendered[p.Name]; ok {
					args.rendered[p.Name] = v
					continue
				}
			}
			if v, ok := rc.Lookup(p.Name); ok {
				args.rendered[p.Name] = v
				continue
			}
			if p.Default != nil {
				args.rendered[p.Name] = *p.Default
				continue
			}
			return Args{}, &errcat.MissingActionParameterError{Action: def.Name, Parameter: p.Name}
		}
	}

	return args, nil
}
