// Package plugin implements C2: plugin manifest discovery, topological
// loading, and action/service/hook registration bootstrapping. Grounded on
// original_source/packages/aura_core/plugin_definition.go's Python sibling
// (plugin_definition.py) for the manifest shape and plugin_manager.py for
// discovery/load-order, translated to the Go idiom the teacher's
// runtime/registry package uses: typed structs, explicit constructors, and
// yaml.v3 decoding instead of runtime introspection (spec §9: "Deep
// reflection for DI becomes explicit wiring").
package plugin

import (
	"fmt"

	"github.com/aura-automation/aura/errcat"
)

// Type discriminates plan plugins (own tasks/schedules/interrupts) from core
// plugins (library code: services and actions only), spec §3.
type Type string

const (
	TypePlan Type = "plan"
	TypeCore Type = "core"
)

// Dependency is an `extends` entry: this plugin extends service_alias as
// defined by from_plugin (spec §3 "extends").
type Dependency struct {
	Service    string `yaml:"service"`
	FromPlugin string `yaml:"from"`
}

// Identity uniquely names a plugin; canonical id is "author/name" (spec §3).
type Identity struct {
	Author  string `yaml:"author"`
	Name    string `yaml:"name"`
	Version string `yaml:"version"`
}

// CanonicalID returns "author/name", or "" if identity is incomplete.
func (id Identity) CanonicalID() string {
	if id.Author == "" || id.Name == "" {
		return ""
	}
	return id.Author + "/" + id.Name
}

// Manifest is parsed from a plugin's plugin.yaml (spec §3 "PluginManifest").
type Manifest struct {
	Identity     Identity     `yaml:"identity"`
	Description  string       `yaml:"description"`
	Homepage     string       `yaml:"homepage"`
	Type         Type              `yaml:"type"`
	Dependencies map[string]string `yaml:"dependencies"`
	Extends      []Dependency      `yaml:"extends"`
	Overrides    []string     `yaml:"overrides"`

	// Path is the plugin's root directory on disk; not part of the YAML.
	Path string `yaml:"-"`
}

// Validate checks the structural invariants spec §3/§4.10 require: a
// complete identity and an acyclic-friendly shape (cycle detection itself
// happens across the whole manifest set, see TopoSort).
func (m *Manifest) Validate() error {
	if m.Identity.CanonicalID() == "" {
		return errcat.NewConfigError(fmt.Sprintf("plugin at %q missing identity.author/identity.name", m.Path), nil)
	}
	if m.Type != TypePlan && m.Type != TypeCore {
		return errcat.NewConfigError(fmt.Sprintf("plugin %q has unknown type %q", m.Identity.CanonicalID(), m.Type), nil)
	}
	return nil
}
