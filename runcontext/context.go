// Package runcontext implements the per-run Context and the file-backed
// PersistentContext (spec.md §3 "Context", "PersistentContext"; C1).
//
// Context is a string-keyed mutable map with keys normalized to lower case
// (spec §3). Rather than a raw map[string]any ("dict of anything"), values
// are the tagged value.Value type (§9): opaque handles (service instances,
// the triggering event, the PersistentContext itself) are stored in a side
// table keyed by handle id and referenced from the Context via
// value.Opaque(handle), so the Context itself stays a plain, serializable
// key-value store.
package runcontext

import (
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/aura-automation/aura/value"
)

// Context is a per-run key-value scope (spec §3). Forkable: Fork returns a
// shallow-copy child used for sub-task invocations (spec §4.3.2).
type Context struct {
	mu      sync.RWMutex
	data    map[string]value.Value
	handles *handleTable
}

// handleTable is the side table backing opaque values (§9). It is shared
// between a Context and all of its forks so that handles created before a
// fork remain resolvable from children, and handles a child mints (e.g. a
// forked PersistentContext reference) are visible to callers holding the
// child.
type handleTable struct {
	mu    sync.RWMutex
	items map[string]any
}

func newHandleTable() *handleTable {
	return &handleTable{items: make(map[string]any)}
}

func (h *handleTable) put(v any) string {
	id := uuid.NewString()
	h.mu.Lock()
	h.items[id] = v
	h.mu.Unlock()
	return id
}

func (h *handleTable) get(id string) (any, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	v, ok := h.items[id]
	return v, ok
}

// Well-known context keys (spec §3, original_source context_manager.py).
const (
	KeyPersistentContext = "persistent_context"
	KeyConfig             = "config"
	KeyPlanName           = "__plan_name__"
	KeyTaskName           = "__task_name__"
	KeyEvent              = "event"
	KeyDebugDir           = "debug_dir"
)

// New constructs an empty Context with a fresh handle table.
func New() *Context {
	return &Context{data: make(map[string]value.Value), handles: newHandleTable()}
}

// Set stores value under key, normalizing the key to lower case.
func (c *Context) Set(key string, v value.Value) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.data[strings.ToLower(key)] = v
}

// SetOpaque stores an arbitrary Go value (a service instance, an Event, a
// *PersistentContext) as an opaque handle and binds key to it.
func (c *Context) SetOpaque(key string, v any) {
	id := c.handles.put(v)
	c.Set(key, value.Opaque(id))
}

// Get retrieves the value under key (lower-cased), or value.Null if absent.
func (c *Context) Get(key string) value.Value {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.data[strings.ToLower(key)]
	if !ok {
		return value.Null
	}
	return v
}

// Lookup is like Get but reports presence, matching §4.2 step 3's
// "fall back to context.get(name)" which must distinguish "absent" from
// "present but null".
func (c *Context) Lookup(key string) (value.Value, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.data[strings.ToLower(key)]
	return v, ok
}

// GetOpaque resolves an opaque value previously stored under key.
func (c *Context) GetOpaque(key string) (any, bool) {
	v, ok := c.Lookup(key)
	if !ok {
		return nil, false
	}
	handle, ok := v.AsHandle()
	if !ok {
		return nil, false
	}
	return c.handles.get(handle)
}

// Delete removes key from the context.
func (c *Context) Delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.data, strings.ToLower(key))
}

// Data returns a snapshot of all key-value pairs, used as the activation map
// for template rendering.
func (c *Context) Data() map[string]value.Value {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[string]value.Value, len(c.data))
	for k, v := range c.data {
		out[k] = v
	}
	return out
}

// Keys returns the sorted set of keys currently bound, used by String().
func (c *Context) Keys() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	keys := make([]string, 0, len(c.data))
	for k := range c.data {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Fork returns a shallow-copy child context used for sub-task calls (spec
// §3 "Forkable", §4.3.2). The child shares the parent's handle table (so
// opaque values remain resolvable) but has its own key-value map, so
// mutations in the child never leak back to the parent.
func (c *Context) Fork() *Context {
	c.mu.RLock()
	defer c.mu.RUnlock()
	child := &Context{data: make(map[string]value.Value, len(c.data)), handles: c.handles}
	for k, v := range c.data {
		child.data[k] = v
	}
	return child
}

// String renders a debug-friendly summary, matching the Python source's
// Context.__str__.
func (c *Context) String() string {
	return "Context(" + strings.Join(c.Keys(), ", ") + ")"
}
