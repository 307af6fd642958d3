// Package container implements C3, the service DI container: alias-based
// explicit wiring (no reflection over constructor signatures — spec §9
// "Deep reflection for DI becomes explicit wiring"), extends/overrides
// collision rules, and an inheritance proxy for extension services.
// Grounded on original_source/packages/aura_core/service_registry.go's
// Python sibling (service_registry.py) and inheritance_proxy.py.
package container

import (
	"fmt"
	"sort"
	"sync"

	"github.com/aura-automation/aura/errcat"
)

type status int

const (
	statusDefined status = iota
	statusResolving
	statusResolved
	statusFailed
)

// Factory builds a plain (non-extension) service instance, resolving its own
// dependencies by calling back into the Container.
type Factory func(c *Container) (any, error)

// ExtensionFactory builds a child service that extends parent, receiving the
// already-resolved parent instance (service_registry.py's constructor
// convention: "the child's __init__ must accept a parent_service param").
type ExtensionFactory func(c *Container, parent any) (any, error)

// Registration is the metadata recorded for one declared service (spec §3
// "ServiceDefinition").
type Registration struct {
	ShortName string
	FQID      string // "plugin_author/plugin_name/short_name"
	PluginID  string // canonical plugin id that declared this service

	Factory          Factory
	ExtensionFactory ExtensionFactory
	ExtendsFQID      string // set when ExtensionFactory is set
}

type entry struct {
	reg    Registration
	status status
	err    error
}

// Container is the service registry + instance cache (spec §4.9). Safe for
// concurrent use.
type Container struct {
	mu        sync.Mutex
	byFQID    map[string]*entry
	shortName map[string]string // short name -> currently-winning FQID
	instances map[string]any
}

// New constructs an empty Container.
func New() *Container {
	return &Container{
		byFQID:    make(map[string]*entry),
		shortName: make(map[string]string),
		instances: make(map[string]any),
	}
}

// Register declares a service. extends/overrides precedence mirrors
// service_registry.py's `register`:
//   - a brand-new short name always wins outright;
//   - a short name collision where the new registration both extends and
//     overrides the existing one is a fatal config error;
//   - extending makes the new service the proxy-wrapped winner for the short
//     name, remembering the prior FQID as its parent;
//   - overriding without extending simply replaces the winning FQID;
//   - a bare collision with neither declared is a fatal config error asking
//     the plugin author to declare intent.
func (c *Container) Register(reg Registration, extends, overrides bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.byFQID[reg.FQID]; exists {
		return errcat.NewConfigError(fmt.Sprintf("service FQID collision: %q already registered", reg.FQID), nil)
	}

	e := &entry{reg: reg, status: statusDefined}

	existingFQID, collides := c.shortName[reg.ShortName]
	switch {
	case !collides:
		c.shortName[reg.ShortName] = reg.FQID

	case extends && overrides:
		return errcat.NewConfigError(fmt.Sprintf(
			"plugin %q cannot both extend and override the same service %q", reg.PluginID, reg.ShortName), nil)

	case extends:
		e.reg.ExtendsFQID = existingFQID
		c.shortName[reg.ShortName] = reg.FQID

	case overrides:
		c.shortName[reg.ShortName] = reg.FQID

	default:
		return errcat.NewConfigError(fmt.Sprintf(
			"service name collision: plugin %q declares %q, already defined as %q; "+
				"use 'extends' or 'overrides' in plugin.yaml to declare intent",
			reg.PluginID, reg.ShortName, existingFQID), nil)
	}

	c.byFQID[reg.FQID] = e
	return nil
}

// Resolve instantiates (or returns the cached instance of) the service named
// by id, which may be a short name or a fully-qualified "author/name/short"
// id. Cycles are detected via chain and reported as ResolveError (spec §4.9).
func (c *Container) Resolve(id string) (any, error) {
	return c.resolve(id, nil)
}

func (c *Container) resolve(id string, chain []string) (any, error) {
	c.mu.Lock()
	fqid := id
	if !isFQID(id) {
		target, ok := c.shortName[id]
		if !ok {
			c.mu.Unlock()
			return nil, errcat.NewResolveError(id, "no service registered under this short name", nil)
		}
		fqid = target
	}

	if inst, ok := c.instances[fqid]; ok {
		c.mu.Unlock()
		return inst, nil
	}

	e, ok := c.byFQID[fqid]
	if !ok {
		c.mu.Unlock()
		return nil, errcat.NewResolveError(fqid, "no service definition found", nil)
	}

	for _, seen := range chain {
		if seen == fqid {
			c.mu.Unlock()
			return nil, errcat.NewResolveError(fqid, fmt.Sprintf("circular dependency: %v -> %s", chain, fqid), nil)
		}
	}
	switch e.status {
	case statusFailed:
		c.mu.Unlock()
		return nil, errcat.NewResolveError(fqid, "service failed to resolve on a previous attempt", e.err)
	case statusResolving:
		c.mu.Unlock()
		return nil, errcat.NewResolveError(fqid, "service is already resolving (concurrent cycle)", nil)
	}
	e.status = statusResolving
	c.mu.Unlock()

	chain = append(append([]string(nil), chain...), fqid)
	inst, err := c.instantiate(e, chain)

	c.mu.Lock()
	if err != nil {
		e.status = statusFailed
		e.err = err
	} else {
		e.status = statusResolved
		c.instances[fqid] = inst
	}
	c.mu.Unlock()

	return inst, err
}

func (c *Container) instantiate(e *entry, chain []string) (any, error) {
	reg := e.reg
	if reg.ExtensionFactory == nil {
		if reg.Factory == nil {
			return nil, errcat.NewResolveError(reg.FQID, "no factory registered", nil)
		}
		return reg.Factory(c)
	}

	parent, err := c.resolve(reg.ExtendsFQID, chain)
	if err != nil {
		return nil, errcat.NewResolveError(reg.FQID, fmt.Sprintf("resolving parent %q", reg.ExtendsFQID), err)
	}
	child, err := reg.ExtensionFactory(c, parent)
	if err != nil {
		return nil, err
	}
	return NewExtensionProxy(parent, child), nil
}

func isFQID(id string) bool {
	for _, r := range id {
		if r == '/' {
			return true
		}
	}
	return false
}

// Definitions returns all registrations, sorted by FQID (spec §4.9
// "get_all_service_definitions").
func (c *Container) Definitions() []Registration {
	c.mu.Lock()
	defer c.mu.Unlock()
	regs := make([]Registration, 0, len(c.byFQID))
	for _, e := range c.byFQID {
		regs = append(regs, e.reg)
	}
	sort.Slice(regs, func(i, j int) bool { return regs[i].FQID < regs[j].FQID })
	return regs
}

// Clear removes every registration and cached instance (used between plugin
// reload cycles in tests; production startup builds one Container and never
// clears it, matching the source's single-load design).
func (c *Container) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.byFQID = make(map[string]*entry)
	c.shortName = make(map[string]string)
	c.instances = make(map[string]any)
}
