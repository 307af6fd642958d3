package plugin

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/aura-automation/aura/action"
	"github.com/aura-automation/aura/container"
	"github.com/aura-automation/aura/errcat"
	"github.com/aura-automation/aura/execmgr"
)

const apiFileName = "api.yaml"

// API is one core-type plugin's export cache (spec §4.10 "api.yaml
// build-or-load plugin export cache"), grounded on
// packages/aura_core/builder.go's Python sibling (builder.py) "deterministic
// build if missing" contract.
type API struct {
	Actions  []string `yaml:"actions"`
	Services []string `yaml:"services"`
	Hooks    []string `yaml:"hooks"`
}

// LoadOrBuildAPI registers m's Provider (if one was registered for m's
// canonical id) into reg/c/h, then reconciles the plugin's api.yaml against
// what was actually registered: when api.yaml is missing it is built and
// written deterministically from the registration just performed; when
// present, its declared exports must match exactly, so a stale cache is a
// fatal config error rather than silently ignored. A core-type plugin with
// no registered Provider, and any plan-type plugin, is a no-op.
func LoadOrBuildAPI(m *Manifest, reg *action.Registry, c *container.Container, h *execmgr.HookManager) error {
	if m.Type != TypeCore {
		return nil
	}
	provider, ok := LookupProvider(m.Identity.CanonicalID())
	if !ok {
		return nil
	}

	got := API{
		Actions:  sortedCopy(provider.RegisterActions(reg)),
		Services: sortedCopy(provider.RegisterServices(c)),
		Hooks:    sortedCopy(provider.RegisterHooks(h)),
	}

	apiPath := filepath.Join(m.Path, apiFileName)
	raw, err := os.ReadFile(apiPath)
	switch {
	case os.IsNotExist(err):
		out, err := yaml.Marshal(got)
		if err != nil {
			return fmt.Errorf("plugin: marshal %q: %w", apiPath, err)
		}
		if err := os.WriteFile(apiPath, out, 0o644); err != nil {
			return fmt.Errorf("plugin: write %q: %w", apiPath, err)
		}
		return nil
	case err != nil:
		return fmt.Errorf("plugin: read %q: %w", apiPath, err)
	}

	var want API
	if err := yaml.Unmarshal(raw, &want); err != nil {
		return errcat.NewConfigError(fmt.Sprintf("failed to parse %q", apiPath), err)
	}
	want.Actions, want.Services, want.Hooks = sortedCopy(want.Actions), sortedCopy(want.Services), sortedCopy(want.Hooks)
	if !equalStrings(want.Actions, got.Actions) || !equalStrings(want.Services, got.Services) || !equalStrings(want.Hooks, got.Hooks) {
		return errcat.NewConfigError(fmt.Sprintf(
			"plugin %q api.yaml is stale: declares actions=%v services=%v hooks=%v but registered actions=%v services=%v hooks=%v",
			m.Identity.CanonicalID(), want.Actions, want.Services, want.Hooks, got.Actions, got.Services, got.Hooks), nil)
	}
	return nil
}

func sortedCopy(s []string) []string {
	out := append([]string(nil), s...)
	sort.Strings(out)
	return out
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
