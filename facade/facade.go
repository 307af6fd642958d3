// Package facade implements C14: the single entry point embedders and
// cmd/aurad's HTTP surface call into. It owns every registry the runtime
// needs, discovers and loads plugins in dependency order, wires one
// orchestrator per plan plugin, and starts the scheduler/interrupt/commander
// background services. Grounded on
// original_source/packages/aura_core/facade.go's Python sibling
// (aura_facade.py's AuraFacade), translated from the source's single
// asyncio event loop into one goroutine per background service, coordinated
// through a cancellable context the way the teacher's example/cmd/assistant
// wires its own long-running services.
package facade

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/aura-automation/aura/action"
	"github.com/aura-automation/aura/commander"
	"github.com/aura-automation/aura/container"
	"github.com/aura-automation/aura/engine"
	"github.com/aura-automation/aura/eventbus"
	"github.com/aura-automation/aura/eventbus/pulsebus"
	"github.com/aura-automation/aura/execmgr"
	"github.com/aura-automation/aura/interrupt"
	"github.com/aura-automation/aura/orchestrator"
	"github.com/aura-automation/aura/planner"
	"github.com/aura-automation/aura/plugin"
	"github.com/aura-automation/aura/queue"
	"github.com/aura-automation/aura/schedule"
	"github.com/aura-automation/aura/store"
	"github.com/aura-automation/aura/telemetry"
	"github.com/aura-automation/aura/template"
	"github.com/aura-automation/aura/workerpool"
)

// planEntry bundles everything the facade built for one loaded plan plugin.
type planEntry struct {
	manifest      *plugin.Manifest
	orch          *orchestrator.Orchestrator
	cm            *orchestrator.ContextManager
	scheduleStore *schedule.Store
	stateMap      *planner.StateMap
	plan          *planner.Planner

	mu            sync.Mutex
	scheduleItems []schedule.Item
	interrupts    map[string]*interrupt.Rule
	enabledGlobal map[string]bool
}

// runStatusEntry is the facade's unified run-status/timeline record. Its key
// doubles as a schedule.Item.ID (scheduled runs) and an execmgr run id
// (every run): schedule's itemPayload sets payload["id"] = item.ID and
// execmgr.Manager.Submit reads that same "id" key back out of the tasklet
// payload as its runID, so one map keyed on that value serves both
// schedule.RunStatusStore and execmgr.StatusSink/timeline lookups without a
// translation layer. Ad hoc runs get a generated UUID in the same slot.
type runStatusEntry struct {
	RunID     string
	PlanName  string
	TaskID    string
	Status    string
	QueuedAt  time.Time
	StartedAt time.Time
	EndedAt   time.Time
	Result    *engine.Result
	Err       error
	Timeline  []timelineEntry
}

type timelineEntry struct {
	At   time.Time
	Note string
}

// Facade is the C14 aggregator: the only type embedders and cmd/aurad
// construct directly.
type Facade struct {
	baseDir string
	cfg     *Config
	log     telemetry.Logger
	bundle  telemetry.Bundle

	bus          *eventbus.Bus
	bridge       *pulsebus.Bridge
	bridgeCancel context.CancelFunc
	ioPool       *workerpool.Pool
	cpuPool      *workerpool.Pool

	container *container.Container
	actions   *action.Registry
	injector  *action.Injector
	renderer  *template.Renderer

	q           *queue.Queue
	execMgr     *execmgr.Manager
	interruptCh *interrupt.Channel

	commanderSvc *commander.Service
	scheduleSvc  *schedule.Service
	interruptSvc *interrupt.Service

	mu    sync.RWMutex
	plans map[string]*planEntry

	statusMu    sync.Mutex
	runStatus   map[string]*runStatusEntry
	statusStore store.Store

	runningMu    sync.Mutex
	runningTasks map[string]context.CancelFunc

	running   atomic.Bool
	cancelRun context.CancelFunc
	wg        sync.WaitGroup
}

// Option configures a Facade at construction time.
type Option func(*facadeOptions)

type facadeOptions struct {
	container    *container.Container
	actions      *action.Registry
	bundle       *telemetry.Bundle
	queueSize    int
	ioWorkers    int
	cpuWorkers   int
	maxConcTasks int
	retryPolicy   *planner.RetryPolicy
	statusStore   store.Store
	bridgeClient    pulsebus.Client
	cooldownStore   interrupt.CooldownStore
	resourceLimiter execmgr.ClusterResourceLimiter
}

// WithStatusStore installs a pluggable backend (memory/redis/mongo; see the
// store package) that the facade write-through persists run-status records
// to, and preloads from at startup so in-flight/recent run status survives a
// restart. Without this option status lives in process memory only.
func WithStatusStore(s store.Store) Option {
	return func(o *facadeOptions) { o.statusStore = s }
}

// WithContainer installs a pre-built service container. The facade still
// registers every discovered core-type plugin's actions/services/hooks on
// top of it via plugin.LoadOrBuildAPI, so a caller only needs this option to
// seed services the plugin tree itself can't provide (test doubles, an
// embedder's own built-ins).
func WithContainer(c *container.Container) Option {
	return func(o *facadeOptions) { o.container = c }
}

// WithActionRegistry installs a pre-built action registry.
func WithActionRegistry(r *action.Registry) Option {
	return func(o *facadeOptions) { o.actions = r }
}

// WithTelemetry installs the logger/metrics/tracer bundle every component
// shares.
func WithTelemetry(b telemetry.Bundle) Option {
	return func(o *facadeOptions) { o.bundle = &b }
}

// WithQueueSize overrides the main tasklet queue's capacity (default 1024).
func WithQueueSize(n int) Option { return func(o *facadeOptions) { o.queueSize = n } }

// WithWorkerPools overrides the IO-bound and CPU-bound pool sizes.
func WithWorkerPools(ioWorkers, cpuWorkers int) Option {
	return func(o *facadeOptions) { o.ioWorkers, o.cpuWorkers = ioWorkers, cpuWorkers }
}

// WithMaxConcurrentTasks overrides execmgr's task concurrency ceiling.
func WithMaxConcurrentTasks(n int) Option {
	return func(o *facadeOptions) { o.maxConcTasks = n }
}

// WithPlannerRetryPolicy overrides every plan's planner retry policy.
func WithPlannerRetryPolicy(r planner.RetryPolicy) Option {
	return func(o *facadeOptions) { o.retryPolicy = &r }
}

// WithEventBridge installs a pulsebus.Client so the facade's event bus is
// shared across a cluster (spec §4.1's event bus extended to distributed
// deployments): every PublishEvent also relays onto the shared Pulse
// stream, and events relayed by other processes are dispatched to this
// process's local subscribers. Without this option the bus is process-local
// only, which is the default and sufficient for a single-process embedder.
func WithEventBridge(c pulsebus.Client) Option {
	return func(o *facadeOptions) { o.bridgeClient = c }
}

// WithClusterCooldownStore installs an interrupt.CooldownStore (typically a
// *rmap.Map) so every process in a cluster honors one shared cooldown per
// interrupt rule (spec §4.7), instead of each tracking its own. Without
// this option cooldowns are process-local.
func WithClusterCooldownStore(s interrupt.CooldownStore) Option {
	return func(o *facadeOptions) { o.cooldownStore = s }
}

// WithClusterResourceLimiter installs an execmgr.ClusterResourceLimiter
// (typically a *rmap.Map) so tasklet resource tags gate concurrency
// cluster-wide (spec §5's resource tags extended to distributed
// deployments), instead of each process enforcing its own local limit.
func WithClusterResourceLimiter(l execmgr.ClusterResourceLimiter) Option {
	return func(o *facadeOptions) { o.resourceLimiter = l }
}

// New discovers every plugin under baseDir/plans and baseDir/packages,
// builds one Orchestrator per plan plugin, and wires the scheduler,
// interrupt guardian, and commander against them. It does not start any
// background service; call Start for that.
func New(baseDir string, opts ...Option) (*Facade, error) {
	fo := &facadeOptions{queueSize: 1024, ioWorkers: 8, cpuWorkers: 4, maxConcTasks: 8}
	for _, o := range opts {
		o(fo)
	}

	manifests, err := plugin.Discover(baseDir)
	if err != nil {
		return nil, fmt.Errorf("facade: discover plugins: %w", err)
	}
	ordered, err := plugin.TopoSort(manifests)
	if err != nil {
		return nil, fmt.Errorf("facade: order plugins: %w", err)
	}

	planDirs := make(map[string]string)
	for _, m := range ordered {
		if m.Type == plugin.TypePlan {
			planDirs[m.Identity.Name] = m.Path
		}
	}
	cfg, err := LoadConfig(baseDir, planDirs)
	if err != nil {
		return nil, fmt.Errorf("facade: load config: %w", err)
	}

	bundle := telemetry.Noop()
	if fo.bundle != nil {
		bundle = *fo.bundle
	}

	f := &Facade{
		baseDir:      baseDir,
		cfg:          cfg,
		log:          bundle.Logger,
		bundle:       bundle,
		ioPool:       workerpool.New(fo.ioWorkers, fo.queueSize),
		cpuPool:      workerpool.New(fo.cpuWorkers, fo.queueSize),
		container:    fo.container,
		actions:      fo.actions,
		q:            queue.New(fo.queueSize),
		interruptCh:  interrupt.NewChannel(fo.queueSize),
		plans:        make(map[string]*planEntry),
		runStatus:    make(map[string]*runStatusEntry),
		runningTasks: make(map[string]context.CancelFunc),
		statusStore:  fo.statusStore,
	}
	if f.container == nil {
		f.container = container.New()
	}
	if f.actions == nil {
		f.actions = action.NewRegistry(f.log)
	}
	if f.statusStore != nil {
		f.preloadRunStatus()
	}

	f.bus = eventbus.New(eventbus.WithSyncPool(f.ioPool), eventbus.WithLogger(f.log))
	if fo.bridgeClient != nil {
		f.bridge = pulsebus.NewBridge(fo.bridgeClient, f.bus, pulsebus.WithLogger(f.log))
	}

	renderer, err := template.New(template.WithConfigAccessor(f.cfg.Get), template.WithLogger(f.log))
	if err != nil {
		return nil, fmt.Errorf("facade: build template renderer: %w", err)
	}
	f.renderer = renderer
	f.injector = action.New(f.actions, f.container, f.renderer, action.WithSyncPool(f.cpuPool), action.WithLogger(f.log))

	retry := planner.RetryPolicy{Attempts: 1}
	if fo.retryPolicy != nil {
		retry = *fo.retryPolicy
	}

	hooks := execmgr.NewHookManager(f.log)

	for _, m := range ordered {
		if m.Type != plugin.TypePlan {
			if err := plugin.LoadOrBuildAPI(m, f.actions, f.container, hooks); err != nil {
				return nil, fmt.Errorf("facade: load core plugin %q: %w", m.Identity.CanonicalID(), err)
			}
			continue
		}
		entry, err := f.loadPlan(m, retry)
		if err != nil {
			return nil, fmt.Errorf("facade: load plan %q: %w", m.Identity.Name, err)
		}
		f.plans[m.Identity.Name] = entry
	}

	execOpts := []execmgr.Option{
		execmgr.WithStatusSink(f), execmgr.WithRunningRegistry(f), execmgr.WithLogger(f.log),
	}
	if fo.resourceLimiter != nil {
		execOpts = append(execOpts, execmgr.WithClusterResourceLimiter(fo.resourceLimiter))
	}
	f.execMgr = execmgr.New(planProviderFunc(f.planRunner), hooks, fo.maxConcTasks, execOpts...)

	f.scheduleSvc = schedule.New(scheduleItemSourceFunc(f.scheduleItems), f, f, f.q,
		schedule.WithLogger(f.log), schedule.WithRunningGate(f.running.Load))

	interruptOpts := []interrupt.Option{interrupt.WithLogger(f.log), interrupt.WithRunningGate(f.running.Load)}
	if fo.cooldownStore != nil {
		interruptOpts = append(interruptOpts, interrupt.WithCooldownStore(fo.cooldownStore))
	}
	f.interruptSvc = interrupt.New(f, f, f.interruptCh, interruptOpts...)

	f.commanderSvc = commander.New(f.q, f.interruptCh, f.q, f.execMgr, f,
		commander.WithLogger(f.log), commander.WithRunningGate(f.running.Load), commander.WithCanceller(f))

	return f, nil
}

// loadPlan builds one plan's Orchestrator, ContextManager, schedule store,
// and planner, and preloads its schedule items and interrupt rules.
func (f *Facade) loadPlan(m *plugin.Manifest, retry planner.RetryPolicy) (*planEntry, error) {
	planName := m.Identity.Name

	cm := orchestrator.NewContextManager(planName, m.Path,
		orchestrator.WithIOPool(f.ioPool),
		orchestrator.WithConfigAccessor(f.cfg),
		orchestrator.WithContextManagerLogger(f.log))

	orch := orchestrator.New(planName, f.baseDir, f.actions, f.injector, cm, orchestrator.WithLogger(f.log))

	entry := &planEntry{
		manifest:      m,
		orch:          orch,
		cm:            cm,
		scheduleStore: schedule.NewStore(m.Path, f.log),
		interrupts:    make(map[string]*interrupt.Rule),
		enabledGlobal: make(map[string]bool),
	}

	items, err := entry.scheduleStore.Load(planName)
	if err != nil {
		return nil, err
	}
	entry.scheduleItems = items

	rules, err := interrupt.LoadFile(m.Path, planName)
	if err != nil {
		return nil, err
	}
	for i := range rules {
		r := rules[i]
		entry.interrupts[r.Name] = &r
		if r.EnabledByDefault {
			entry.enabledGlobal[r.Name] = true
		}
	}

	statesPath := filepath.Join(m.Path, "states_map.yaml")
	if _, err := os.Stat(statesPath); err == nil {
		sm, err := planner.NewLoader().Load(statesPath, 1)
		if err != nil {
			return nil, fmt.Errorf("states_map.yaml: %w", err)
		}
		entry.stateMap = sm
		entry.plan = planner.New(sm, orch, planner.WithPublisher(f.bus), planner.WithRetryPolicy(retry), planner.WithLogger(f.log))
	}

	return entry, nil
}

// planRunner resolves a plan name into its execmgr.PlanRunner (its
// Orchestrator's ExecuteTask method matches that interface exactly).
func (f *Facade) planRunner(planName string) (execmgr.PlanRunner, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	e, ok := f.plans[planName]
	if !ok {
		return nil, false
	}
	return e.orch, true
}

// planProviderFunc adapts a lookup function to execmgr.PlanProvider.
type planProviderFunc func(planName string) (execmgr.PlanRunner, bool)

func (f planProviderFunc) Plan(planName string) (execmgr.PlanRunner, bool) { return f(planName) }

// scheduleItemSourceFunc adapts a zero-arg aggregator to schedule.ItemSource.
type scheduleItemSourceFunc func() []schedule.Item

func (f scheduleItemSourceFunc) ScheduleItems() []schedule.Item { return f() }

// scheduleItems aggregates every loaded plan's schedule items, the
// ItemSource backing function installed above.
func (f *Facade) scheduleItems() []schedule.Item {
	f.mu.RLock()
	defer f.mu.RUnlock()
	var out []schedule.Item
	for _, e := range f.plans {
		e.mu.Lock()
		out = append(out, e.scheduleItems...)
		e.mu.Unlock()
	}
	return out
}

// newRunID mints a synthetic run identifier for an ad hoc run (spec.md §6
// "RunAdHoc"); scheduled runs reuse their schedule.Item.ID instead so that
// schedule and execmgr status lookups share one key space.
func newRunID() string { return uuid.NewString() }
