package interrupt

import "context"

// CooldownStore persists the cooldown-until deadline for one rule, keyed by
// rule name. Satisfied directly by *rmap.Map from goa.design/pulse/rmap
// (its Get/Set method set matches this interface exactly, per
// SPEC_FULL.md's domain-stack row citing the teacher's
// features/model/middleware/ratelimit.go clusterMap pattern): installing
// one via WithCooldownStore lets every guardian process in a cluster honor
// a single shared cooldown per rule, rather than each enforcing its own
// (spec §4.7's per-rule cooldown, extended to distributed deployments).
// Without this option Service falls back to an in-process map.
type CooldownStore interface {
	Get(key string) (string, bool)
	Set(ctx context.Context, key, value string) (string, error)
}

// cooldownKey namespaces rule names within a shared CooldownStore, which may
// be reused by other subsystems under the same replicated map.
func cooldownKey(ruleName string) string { return "interrupt:cooldown:" + ruleName }
