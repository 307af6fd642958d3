// Package interrupt implements C11: the condition-polling guardian that
// watches active interrupt rules and submits the ones whose condition goes
// true to the commander for handling. Grounded on
// original_source/packages/aura_core/interrupt_service.py (InterruptService).
package interrupt

// Condition is the read-only action check that decides whether a Rule has
// fired (spec.md §3's InterruptRule.condition).
type Condition struct {
	Action string         `yaml:"action"`
	Params map[string]any `yaml:"params,omitempty"`
}

// Rule is one interrupts.yaml entry (spec.md §3's InterruptRule), grounded
// on scheduler.py's _load_interrupt_file and interrupt_service.py's use of
// `rule['plan_name']`/`rule.get('check_interval', 5)`/`rule.get('cooldown', 60)`.
type Rule struct {
	Name             string    `yaml:"name"`
	PlanName         string    `yaml:"-"`
	Scope            string    `yaml:"scope"` // "global" or "task"
	EnabledByDefault bool      `yaml:"enabled_by_default,omitempty"`
	CheckIntervalSec float64   `yaml:"check_interval_sec,omitempty"`
	CooldownSec      float64   `yaml:"cooldown_sec,omitempty"`
	Condition        Condition `yaml:"condition"`
	HandlerTask      string    `yaml:"handler_task"`
	OnComplete       string    `yaml:"on_complete,omitempty"` // resume | restart_task | abort
}

// checkInterval returns the rule's per-check throttle, defaulting to 5
// seconds (interrupt_service.py's `rule.get('check_interval', 5)`).
func (r Rule) checkInterval() float64 {
	if r.CheckIntervalSec > 0 {
		return r.CheckIntervalSec
	}
	return 5
}

// cooldown returns the rule's post-fire cooldown, defaulting to 60 seconds
// (interrupt_service.py's `rule.get('cooldown', 60)`).
func (r Rule) cooldown() float64 {
	if r.CooldownSec > 0 {
		return r.CooldownSec
	}
	return 60
}
