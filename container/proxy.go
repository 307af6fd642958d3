package container

import "reflect"

// ExtensionProxy is the Go rendering of inheritance_proxy.py's InheritanceProxy:
// a child service extending a parent service, where method lookup prefers the
// child and falls back to the parent (spec §9 "Extension wraps {parent,
// child}"). Python's __getattr__ is dynamic per-access; Go has no equivalent,
// so the dispatch table (method name -> receiver) is built once, at proxy
// construction, by reflecting over both services' method sets.
type ExtensionProxy struct {
	parent any
	child  any

	// methods maps a method name to the value (child's or parent's) that
	// implements it, child taking priority, mirroring __getattr__'s
	// "check child first, then parent" order.
	methods map[string]reflect.Value
}

// NewExtensionProxy builds the child-first-then-parent dispatch table.
func NewExtensionProxy(parent, child any) *ExtensionProxy {
	p := &ExtensionProxy{parent: parent, child: child, methods: make(map[string]reflect.Value)}
	p.index(parent)
	p.index(child) // indexed last so child methods overwrite parent's on name collision
	return p
}

func (p *ExtensionProxy) index(v any) {
	if v == nil {
		return
	}
	rv := reflect.ValueOf(v)
	rt := rv.Type()
	for i := 0; i < rt.NumMethod(); i++ {
		m := rt.Method(i)
		p.methods[m.Name] = rv.Method(i)
	}
}

// MethodByName returns the callable implementing name, preferring the child's
// implementation and falling back to the parent's, or false if neither
// service implements it (the Go analogue of InheritanceProxy raising
// AttributeError).
func (p *ExtensionProxy) MethodByName(name string) (reflect.Value, bool) {
	m, ok := p.methods[name]
	return m, ok
}

// Call invokes the named method by reflection, for a caller holding a
// service that turns out to be an extension proxy rather than a concrete
// instance (spec §4.2, §9). The action injector passes the proxy through
// as-is and does not call this itself.
func (p *ExtensionProxy) Call(name string, args ...any) ([]any, bool) {
	m, ok := p.MethodByName(name)
	if !ok {
		return nil, false
	}
	in := make([]reflect.Value, len(args))
	for i, a := range args {
		in[i] = reflect.ValueOf(a)
	}
	out := m.Call(in)
	results := make([]any, len(out))
	for i, o := range out {
		results[i] = o.Interface()
	}
	return results, true
}

// Parent returns the wrapped parent instance, used when a child explicitly
// wants to delegate ("super()" equivalent).
func (p *ExtensionProxy) Parent() any { return p.parent }

// Child returns the wrapped child instance.
func (p *ExtensionProxy) Child() any { return p.child }
