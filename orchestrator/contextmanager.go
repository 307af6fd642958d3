package orchestrator

import (
	"context"
	"os"
	"path/filepath"

	"github.com/aura-automation/aura/eventbus"
	"github.com/aura-automation/aura/runcontext"
	"github.com/aura-automation/aura/telemetry"
	"github.com/aura-automation/aura/value"
	"github.com/aura-automation/aura/workerpool"
)

// ConfigAccessor hands a plan its active configuration block, bound via the
// config service (spec §4.3, context_manager.py's
// service_registry.get_service_instance('config')).
type ConfigAccessor interface {
	ActivePlanConfig(planName string) map[string]any
}

// ContextManager builds a fresh *runcontext.Context for every task run,
// seeding it with the plan's persistent context, active config, and the
// well-known metadata keys the engine and its actions expect. Grounded on
// original_source/packages/aura_core/context_manager.py's ContextManager.
type ContextManager struct {
	planName          string
	planPath          string
	persistentCtxPath string
	ioPool            runcontext.IOPool
	config            ConfigAccessor
	log               telemetry.Logger
}

// ContextManagerOption configures a ContextManager.
type ContextManagerOption func(*ContextManager)

// WithIOPool installs the pool PersistentContext.Save dispatches onto.
func WithIOPool(p *workerpool.Pool) ContextManagerOption {
	return func(cm *ContextManager) { cm.ioPool = p }
}

// WithConfigAccessor installs the config service lookup (absent in tests
// that don't exercise plan configuration).
func WithConfigAccessor(c ConfigAccessor) ContextManagerOption {
	return func(cm *ContextManager) { cm.config = c }
}

// WithContextManagerLogger installs the logger.
func WithContextManagerLogger(l telemetry.Logger) ContextManagerOption {
	return func(cm *ContextManager) { cm.log = l }
}

// NewContextManager constructs a manager rooted at planPath.
func NewContextManager(planName, planPath string, opts ...ContextManagerOption) *ContextManager {
	cm := &ContextManager{
		planName:          planName,
		planPath:          planPath,
		persistentCtxPath: filepath.Join(planPath, "persistent_context.json"),
		log:               telemetry.NoopLogger{},
	}
	for _, o := range opts {
		o(cm)
	}
	return cm
}

// CreateContext builds a Context for one task run (spec §4.3,
// context_manager.py's create_context): persistent-context values are
// flattened into the new context, the active plan config is bound under
// "config", and __plan_name__/__task_name__/debug_dir/event are set.
func (cm *ContextManager) CreateContext(ctx context.Context, fullTaskID string, triggeringEvent *eventbus.Event) *runcontext.Context {
	rc := runcontext.New()

	pc := runcontext.Load(cm.persistentCtxPath, runcontext.WithIOPool(cm.ioPool), runcontext.WithLogger(cm.log))
	rc.SetOpaque(runcontext.KeyPersistentContext, pc)
	for k, v := range pc.GetAll() {
		rc.Set(k, value.FromGo(v))
	}

	cfg := map[string]any{}
	if cm.config != nil {
		cfg = cm.config.ActivePlanConfig(cm.planName)
	}
	rc.Set(runcontext.KeyConfig, value.FromGo(cfg))

	debugDir := filepath.Join(cm.planPath, "debug_screenshots")
	_ = os.MkdirAll(debugDir, 0o755)
	rc.Set(runcontext.KeyDebugDir, value.String(debugDir))
	rc.Set(runcontext.KeyTaskName, value.String(fullTaskID))
	rc.Set(runcontext.KeyPlanName, value.String(cm.planName))
	if triggeringEvent != nil {
		rc.SetOpaque(runcontext.KeyEvent, triggeringEvent)
	}

	return rc
}

// PersistentContextData reads the plan's persistent context document without
// attaching it to a task run, used by the facade's introspection API
// (get_persistent_context_data).
func (cm *ContextManager) PersistentContextData() map[string]any {
	pc := runcontext.Load(cm.persistentCtxPath, runcontext.WithLogger(cm.log))
	return pc.GetAll()
}

// SavePersistentContextData overwrites the plan's persistent context
// document with data (save_persistent_context_data), blocking until the
// write completes.
func (cm *ContextManager) SavePersistentContextData(ctx context.Context, data map[string]any) error {
	pc := runcontext.Load(cm.persistentCtxPath, runcontext.WithIOPool(cm.ioPool), runcontext.WithLogger(cm.log))
	pc.Replace(data)
	return <-pc.Save(ctx)
}
