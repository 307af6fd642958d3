package plugin

import (
	"sync"

	"github.com/aura-automation/aura/action"
	"github.com/aura-automation/aura/container"
	"github.com/aura-automation/aura/execmgr"
)

// Provider is the explicit-wiring seam a core-type plugin's Go package
// implements to register its exported actions, services, and hooks (spec
// §4.10/§9: Go has no decorator or source-introspection mechanism, so a
// plugin's exports are a registered Go value, not scanned comments the way
// `api.yaml` is "built" from in the Python source). Each Register method
// both performs the registration and returns the names it registered, so
// LoadOrBuildAPI can compare them against a cached api.yaml.
//
// A core plugin package registers its Provider from an init() function,
// the same blank-import-registration idiom database/sql drivers use —
// there being no dynamic-loading mechanism for compiled Go code analogous
// to the source's importlib-based plugin loading.
type Provider interface {
	RegisterActions(reg *action.Registry) []string
	RegisterServices(c *container.Container) []string
	RegisterHooks(h *execmgr.HookManager) []string
}

var (
	providersMu sync.RWMutex
	providers   = map[string]Provider{}
)

// RegisterProvider associates a core plugin's canonical id ("author/name")
// with its Provider.
func RegisterProvider(canonicalID string, p Provider) {
	providersMu.Lock()
	defer providersMu.Unlock()
	providers[canonicalID] = p
}

// LookupProvider returns the Provider registered for canonicalID, if any.
func LookupProvider(canonicalID string) (Provider, bool) {
	providersMu.RLock()
	defer providersMu.RUnlock()
	p, ok := providers[canonicalID]
	return p, ok
}
