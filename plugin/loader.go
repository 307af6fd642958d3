package plugin

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/aura-automation/aura/errcat"
)

// manifestFileName is the fixed filename Discover looks for under plans/ and
// packages/, mirroring plugin_manager.py's `glob('**/plugin.yaml')`.
const manifestFileName = "plugin.yaml"

// Discover walks root/plans and root/packages for plugin.yaml files, parses
// each into a Manifest, and rejects canonical-id collisions fatally (spec
// §4.10 "PluginManager discovers ... collision on canonical id is fatal").
// The returned slice is in discovery order, not load order; call TopoSort on
// the result to get a valid load order.
func Discover(root string) ([]*Manifest, error) {
	var manifests []*Manifest
	seen := make(map[string]*Manifest)

	for _, top := range []struct {
		dir string
		typ Type
	}{
		{"plans", TypePlan},
		{"packages", TypeCore},
	} {
		scanRoot := filepath.Join(root, top.dir)
		info, err := os.Stat(scanRoot)
		if err != nil || !info.IsDir() {
			continue
		}

		err = filepath.WalkDir(scanRoot, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.IsDir() || d.Name() != manifestFileName {
				return nil
			}

			m, err := parseManifest(path, top.typ)
			if err != nil {
				return errcat.NewConfigError(fmt.Sprintf("failed to parse plugin manifest %q", path), err)
			}
			if err := m.Validate(); err != nil {
				return err
			}

			id := m.Identity.CanonicalID()
			if prior, ok := seen[id]; ok {
				return errcat.NewConfigError(fmt.Sprintf(
					"plugin identity collision: %q and %q both declare identity %q",
					m.Path, prior.Path, id), nil)
			}
			seen[id] = m
			manifests = append(manifests, m)
			return nil
		})
		if err != nil {
			return nil, err
		}
	}

	return manifests, nil
}

func parseManifest(path string, typ Type) (*Manifest, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var m Manifest
	if err := yaml.Unmarshal(raw, &m); err != nil {
		return nil, err
	}
	m.Type = typ
	m.Path = filepath.Dir(path)
	return &m, nil
}

// TopoSort orders manifests so every plugin's declared dependencies (and
// extends targets) load before it does, using Kahn's algorithm. A cycle is
// fatal (spec §4.10 "Dependency graph must be acyclic ... cycles fatal"),
// mirroring the source's graphlib.TopologicalSorter / CycleError path.
func TopoSort(manifests []*Manifest) ([]*Manifest, error) {
	byID := make(map[string]*Manifest, len(manifests))
	for _, m := range manifests {
		byID[m.Identity.CanonicalID()] = m
	}

	indegree := make(map[string]int, len(manifests))
	dependents := make(map[string][]string)
	for id := range byID {
		indegree[id] = 0
	}
	for _, m := range manifests {
		id := m.Identity.CanonicalID()
		for dep := range edgesOf(m) {
			if _, ok := byID[dep]; !ok {
				// A dependency on a plugin that was never discovered is a
				// config error, not silently ignored.
				return nil, errcat.NewConfigError(fmt.Sprintf(
					"plugin %q depends on undiscovered plugin %q", id, dep), nil)
			}
			indegree[id]++
			dependents[dep] = append(dependents[dep], id)
		}
	}

	var ready []string
	for id, deg := range indegree {
		if deg == 0 {
			ready = append(ready, id)
		}
	}
	sort.Strings(ready)

	var order []*Manifest
	for len(ready) > 0 {
		id := ready[0]
		ready = ready[1:]
		order = append(order, byID[id])

		next := append([]string(nil), dependents[id]...)
		sort.Strings(next)
		for _, dep := range next {
			indegree[dep]--
			if indegree[dep] == 0 {
				ready = insertSorted(ready, dep)
			}
		}
	}

	if len(order) != len(manifests) {
		return nil, errcat.NewConfigError(fmt.Sprintf(
			"cyclic plugin dependency detected among: %s", strings.Join(cycleRemainder(indegree), ", ")), nil)
	}
	return order, nil
}

// edgesOf returns the set of canonical plugin ids that m must load after:
// its declared dependencies plus the providers it extends.
func edgesOf(m *Manifest) map[string]struct{} {
	edges := make(map[string]struct{}, len(m.Dependencies)+len(m.Extends))
	for dep := range m.Dependencies {
		edges[dep] = struct{}{}
	}
	for _, ext := range m.Extends {
		edges[ext.FromPlugin] = struct{}{}
	}
	return edges
}

func insertSorted(s []string, v string) []string {
	i := sort.SearchStrings(s, v)
	s = append(s, "")
	copy(s[i+1:], s[i:])
	s[i] = v
	return s
}

func cycleRemainder(indegree map[string]int) []string {
	var ids []string
	for id, deg := range indegree {
		if deg > 0 {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}
