package interrupt

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/aura-automation/aura/engine"
	"github.com/aura-automation/aura/telemetry"
)

// Source supplies the guardian's view of rule definitions, user-enabled
// globals, and which tasks are currently running, all normally owned by the
// facade (C14). Grounded on scheduler.py's
// interrupt_definitions/user_enabled_globals/running_tasks/
// all_tasks_definitions.
type Source interface {
	InterruptDefinitions() map[string]Rule
	EnabledGlobals() map[string]bool
	RunningTaskIDs() []string
	TaskDefinition(fullTaskID string) (*engine.Task, bool)
}

// PlanChecker evaluates one rule's read-only condition action, matched by
// *orchestrator.Orchestrator.PerformConditionCheck.
type PlanChecker interface {
	PerformConditionCheck(ctx context.Context, actionName string, params map[string]any) bool
}

// PlanResolver resolves a plan name to its checker (scheduler.py's
// self.plans dict).
type PlanResolver interface {
	Plan(planName string) (PlanChecker, bool)
}

// Submitter hands a fired rule off to the commander, matched by *Channel.
type Submitter interface {
	Submit(ctx context.Context, rule Rule) error
}

// Service is C11's guardian: every tick it computes the active rule set and
// checks each due rule's condition, submitting the first one that fires.
// Grounded on
// original_source/packages/aura_core/interrupt_service.py's InterruptService.
type Service struct {
	source Source
	plans  PlanResolver
	out    Submitter
	log    telemetry.Logger

	tickInterval time.Duration
	running      func() bool

	mu            sync.Mutex
	lastCheck     map[string]time.Time
	cooldownUntil map[string]time.Time
	cooldownStore CooldownStore
}

// Option configures a Service.
type Option func(*Service)

// WithLogger installs the service's logger.
func WithLogger(l telemetry.Logger) Option { return func(s *Service) { s.log = l } }

// WithTickInterval overrides the default one-second tick (tests only; spec
// §4.7 fixes production behavior at one second).
func WithTickInterval(d time.Duration) Option { return func(s *Service) { s.tickInterval = d } }

// WithRunningGate installs a predicate checked before every tick, mirroring
// `if self.scheduler.is_running.is_set()`.
func WithRunningGate(fn func() bool) Option { return func(s *Service) { s.running = fn } }

// WithCooldownStore installs a CooldownStore (typically a *rmap.Map) so
// rule cooldowns are shared across every guardian process in a cluster
// instead of tracked per-process.
func WithCooldownStore(store CooldownStore) Option {
	return func(s *Service) { s.cooldownStore = store }
}

// New constructs a Service.
func New(source Source, plans PlanResolver, out Submitter, opts ...Option) *Service {
	s := &Service{
		source:        source,
		plans:         plans,
		out:           out,
		log:           telemetry.NoopLogger{},
		tickInterval:  time.Second,
		running:       func() bool { return true },
		lastCheck:     make(map[string]time.Time),
		cooldownUntil: make(map[string]time.Time),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Run blocks, ticking every tickInterval until ctx is done
// (interrupt_service.py's run loop: "while True: ...; await asyncio.sleep(1)").
func (s *Service) Run(ctx context.Context) {
	s.log.Info(ctx, "interrupt: guardian starting")
	ticker := time.NewTicker(s.tickInterval)
	defer ticker.Stop()
	for {
		if s.running() {
			s.checkOnce(ctx, time.Now())
		}
		select {
		case <-ctx.Done():
			s.log.Info(ctx, "interrupt: guardian stopped")
			return
		case <-ticker.C:
		}
	}
}

// checkOnce is one pass over the active rule set, submitting at most one
// fired rule (interrupt_service.py's run loop body, "break # 一次只处理一个中断").
func (s *Service) checkOnce(ctx context.Context, now time.Time) {
	for _, ruleName := range s.activeRuleNames() {
		rule, shouldCheck := s.shouldCheck(ruleName, now)
		if !shouldCheck {
			continue
		}

		checker, ok := s.plans.Plan(rule.PlanName)
		if !ok {
			s.log.Error(ctx, "interrupt: unknown plan for rule", "rule", ruleName, "plan", rule.PlanName)
			continue
		}

		fired := s.safeCheck(ctx, checker, rule)
		if !fired {
			continue
		}

		s.log.Warn(ctx, "interrupt: condition detected, submitting to commander", "rule", ruleName)
		if err := s.out.Submit(ctx, rule); err != nil {
			s.log.Error(ctx, "interrupt: failed to submit rule", "rule", ruleName, "error", err.Error())
			continue
		}

		s.setCooldown(ctx, ruleName, now.Add(time.Duration(rule.cooldown()*float64(time.Second))))
		return
	}
}

// safeCheck isolates a panicking condition action from the guardian loop,
// treating it as a failed (false) check, matching the source's
// "Failures in evaluation are logged and treated as false" contract.
func (s *Service) safeCheck(ctx context.Context, checker PlanChecker, rule Rule) (fired bool) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error(ctx, "interrupt: condition check panicked", "rule", rule.Name, "panic", r)
			fired = false
		}
	}()
	return checker.PerformConditionCheck(ctx, rule.Condition.Action, rule.Condition.Params)
}

// activeRuleNames unions every user-enabled global rule with every rule
// activated by a currently running task, restricted to rules that still
// have a definition, sorted for deterministic iteration order (the source
// iterates a set, which has no defined order at all; sorting is a strictly
// stronger guarantee). Grounded on
// interrupt_service.py's _get_active_interrupts.
func (s *Service) activeRuleNames() []string {
	defs := s.source.InterruptDefinitions()
	active := make(map[string]struct{})
	for name, enabled := range s.source.EnabledGlobals() {
		if enabled {
			active[name] = struct{}{}
		}
	}
	for _, taskID := range s.source.RunningTaskIDs() {
		task, ok := s.source.TaskDefinition(taskID)
		if !ok || task.Meta == nil {
			continue
		}
		raw, ok := task.Meta["activates_interrupts"].([]any)
		if !ok {
			continue
		}
		for _, v := range raw {
			if name, ok := v.(string); ok {
				active[name] = struct{}{}
			}
		}
	}

	names := make([]string, 0, len(active))
	for name := range active {
		if _, ok := defs[name]; ok {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

// inCooldown reports whether ruleName is still within its post-fire
// cooldown window, consulting the shared CooldownStore when one is
// installed and falling back to the in-process map otherwise.
func (s *Service) inCooldown(ruleName string, now time.Time) bool {
	if s.cooldownStore != nil {
		val, ok := s.cooldownStore.Get(cooldownKey(ruleName))
		if !ok {
			return false
		}
		until, err := time.Parse(time.RFC3339Nano, val)
		return err == nil && now.Before(until)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	until, ok := s.cooldownUntil[ruleName]
	return ok && now.Before(until)
}

// setCooldown records ruleName's next-eligible-check deadline, in the
// shared CooldownStore when one is installed and otherwise in-process.
// Store write failures are logged and otherwise ignored: an un-persisted
// cooldown just means the rule may be rechecked slightly early, not a
// correctness violation.
func (s *Service) setCooldown(ctx context.Context, ruleName string, until time.Time) {
	if s.cooldownStore != nil {
		if _, err := s.cooldownStore.Set(ctx, cooldownKey(ruleName), until.Format(time.RFC3339Nano)); err != nil {
			s.log.Error(ctx, "interrupt: set cluster cooldown", "rule", ruleName, "error", err.Error())
		}
		return
	}
	s.mu.Lock()
	s.cooldownUntil[ruleName] = until
	s.mu.Unlock()
}

// shouldCheck reports whether ruleName is past its cooldown and due for a
// check_interval-throttled poll, recording the check time when it is
// (interrupt_service.py's _should_check_interrupt).
func (s *Service) shouldCheck(ruleName string, now time.Time) (Rule, bool) {
	defs := s.source.InterruptDefinitions()
	rule, ok := defs[ruleName]
	if !ok {
		return Rule{}, false
	}

	if s.inCooldown(ruleName, now) {
		return Rule{}, false
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	last, hadLast := s.lastCheck[ruleName]
	var elapsed float64
	if hadLast {
		elapsed = now.Sub(last).Seconds()
	} else {
		elapsed = rule.checkInterval() + 1 // never checked: always due
	}
	if elapsed < rule.checkInterval() {
		return Rule{}, false
	}

	s.lastCheck[ruleName] = now
	return rule, true
}
