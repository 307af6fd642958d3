package facade

import (
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// envPrefix is the fixed prefix every facade-recognized environment variable
// carries (spec.md §6 "Config": "environment variables prefixed AURA_").
const envPrefix = "AURA_"

// Config implements the layered configuration lookup spec.md §6 describes:
// environment (AURA_X_Y -> x.y) over the global config.yaml over each plan's
// own config.yaml. Grounded on
// original_source/packages/aura_core/service_registry.go's Python sibling
// config-layering helper and the teacher's example/cmd/assistant/main.go's
// flag/env-only configuration style (no Viper: spec.md §10 "the teacher
// never reaches for it, so neither do we").
type Config struct {
	global  map[string]any
	env     map[string]any
	perPlan map[string]map[string]any
}

// LoadConfig reads baseDir/config.yaml (global) and every discovered plan's
// own config.yaml, and snapshots the current AURA_* environment.
func LoadConfig(baseDir string, planDirs map[string]string) (*Config, error) {
	global, err := loadYAMLMap(filepath.Join(baseDir, "config.yaml"))
	if err != nil {
		return nil, err
	}

	perPlan := make(map[string]map[string]any, len(planDirs))
	for name, dir := range planDirs {
		m, err := loadYAMLMap(filepath.Join(dir, "config.yaml"))
		if err != nil {
			return nil, err
		}
		perPlan[name] = m
	}

	return &Config{
		global:  global,
		env:     envOverlay(os.Environ()),
		perPlan: perPlan,
	}, nil
}

func loadYAMLMap(path string) (map[string]any, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]any{}, nil
		}
		return nil, err
	}
	var m map[string]any
	if err := yaml.Unmarshal(raw, &m); err != nil {
		return nil, err
	}
	if m == nil {
		m = map[string]any{}
	}
	return m, nil
}

// envOverlay converts every AURA_X_Y=value entry of environ into the nested
// map {"x": {"y": "value"}}, lower-casing the dot path (spec.md §6
// "AURA_X_Y -> x.y").
func envOverlay(environ []string) map[string]any {
	out := make(map[string]any)
	for _, kv := range environ {
		key, value, ok := strings.Cut(kv, "=")
		if !ok || !strings.HasPrefix(key, envPrefix) {
			continue
		}
		rest := strings.TrimPrefix(key, envPrefix)
		if rest == "" {
			continue
		}
		parts := strings.Split(strings.ToLower(rest), "_")
		setNested(out, parts, value)
	}
	return out
}

func setNested(m map[string]any, path []string, value string) {
	if len(path) == 0 {
		return
	}
	if len(path) == 1 {
		m[path[0]] = value
		return
	}
	child, ok := m[path[0]].(map[string]any)
	if !ok {
		child = make(map[string]any)
		m[path[0]] = child
	}
	setNested(child, path[1:], value)
}

// ActivePlanConfig merges planName's own config.yaml under the global
// config.yaml under the environment overlay, in that precedence, satisfying
// orchestrator.ConfigAccessor.
func (c *Config) ActivePlanConfig(planName string) map[string]any {
	merged := deepCopyMap(c.perPlan[planName])
	mergeInto(merged, c.global)
	mergeInto(merged, c.env)
	return merged
}

// Get performs a dot-path lookup over the global config layered under the
// environment overlay (spec.md §6 "Dot-path get('a.b') walks nested maps"),
// satisfying template.ConfigAccessor.
func (c *Config) Get(path string) (any, bool) {
	merged := deepCopyMap(c.global)
	mergeInto(merged, c.env)
	return lookupDotPath(merged, strings.Split(path, "."))
}

func lookupDotPath(m map[string]any, parts []string) (any, bool) {
	if len(parts) == 0 {
		return nil, false
	}
	v, ok := m[parts[0]]
	if !ok {
		return nil, false
	}
	if len(parts) == 1 {
		return v, true
	}
	child, ok := v.(map[string]any)
	if !ok {
		return nil, false
	}
	return lookupDotPath(child, parts[1:])
}

func deepCopyMap(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		if child, ok := v.(map[string]any); ok {
			out[k] = deepCopyMap(child)
			continue
		}
		out[k] = v
	}
	return out
}

// mergeInto overlays every key of src onto dst, recursing into nested maps
// so a deeper env override like AURA_DB_HOST doesn't wipe out sibling keys
// set by config.yaml under "db".
func mergeInto(dst, src map[string]any) {
	for k, v := range src {
		srcChild, srcIsMap := v.(map[string]any)
		dstChild, dstIsMap := dst[k].(map[string]any)
		if srcIsMap && dstIsMap {
			mergeInto(dstChild, srcChild)
			continue
		}
		if srcIsMap {
			dst[k] = deepCopyMap(srcChild)
			continue
		}
		dst[k] = v
	}
}
