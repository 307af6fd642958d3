// Package orchestrator implements C7: the per-plan coordinator that loads
// task YAML, builds a fresh Context for each run, drives an engine.Engine,
// and resolves go_task jumps within its own plan. Grounded on
// original_source/packages/aura_core/orchestrator.py (Orchestrator) and
// task_loader.py (TaskLoader).
package orchestrator

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/aura-automation/aura/engine"
	"github.com/aura-automation/aura/errcat"
	"github.com/aura-automation/aura/telemetry"
)

func noCtx() context.Context { return context.Background() }

// TaskLoader reads and caches a plan's tasks/*.yaml files (spec.md §3
// "Task"), indexing every task by "relative/path/task_key" within the plan,
// grounded on task_loader.py's TaskLoader.get_task_data /
// get_all_task_definitions.
//
// The Python source fronts this with a cachetools.TTLCache; nothing in this
// repo reloads a plan's task files while it's running (a plan reload goes
// through plugin discovery, which rebuilds the loader from scratch), so this
// TaskLoader simply caches forever per instance rather than carrying a TTL
// eviction policy the source never actually needs here.
type TaskLoader struct {
	planName string
	tasksDir string
	log      telemetry.Logger

	mu     sync.RWMutex
	byFile map[string]map[string]*engine.Task
}

// NewTaskLoader constructs a loader rooted at planPath/tasks.
func NewTaskLoader(planName, planPath string, log telemetry.Logger) *TaskLoader {
	if log == nil {
		log = telemetry.NoopLogger{}
	}
	return &TaskLoader{
		planName: planName,
		tasksDir: filepath.Join(planPath, "tasks"),
		log:      log,
		byFile:   make(map[string]map[string]*engine.Task),
	}
}

// rawTaskFile is one decoded tasks/*.yaml file: task key to engine.Task.
type rawTaskFile map[string]*engine.Task

// LoadTask resolves "relative/path/task_key" against tasksDir, lazily
// parsing and caching the owning YAML file (spec §4.3.2 "run_task",
// orchestrator.py's Orchestrator.execute_task / load_task_data).
func (l *TaskLoader) LoadTask(taskNameInPlan string) (*engine.Task, bool) {
	parts := strings.Split(taskNameInPlan, "/")
	if len(parts) == 0 {
		return nil, false
	}
	filePart := parts[0]
	taskKey := parts[len(parts)-1]
	if len(parts) > 1 {
		filePart = strings.Join(parts[:len(parts)-1], "/")
	}

	file, err := l.loadFile(filePart)
	if err != nil {
		l.log.Warn(noCtx(), "orchestrator: failed to load task file",
			"plan", l.planName, "file", filePart, "error", err.Error())
		return nil, false
	}
	task, ok := file[taskKey]
	if !ok {
		l.log.Warn(noCtx(), "orchestrator: task definition not found",
			"plan", l.planName, "task", taskNameInPlan)
		return nil, false
	}
	return task, true
}

func (l *TaskLoader) loadFile(relPath string) (rawTaskFile, error) {
	fullPath := filepath.Join(l.tasksDir, relPath+".yaml")

	l.mu.RLock()
	cached, ok := l.byFile[fullPath]
	l.mu.RUnlock()
	if ok {
		return cached, nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if cached, ok := l.byFile[fullPath]; ok {
		return cached, nil
	}

	raw, err := os.ReadFile(fullPath)
	if err != nil {
		if os.IsNotExist(err) {
			l.byFile[fullPath] = rawTaskFile{}
			return rawTaskFile{}, nil
		}
		return nil, err
	}

	var decoded map[string]*engine.Task
	if err := yaml.Unmarshal(raw, &decoded); err != nil {
		return nil, errcat.NewConfigError("failed to parse task file "+fullPath, err)
	}
	if decoded == nil {
		decoded = map[string]*engine.Task{}
	}

	l.byFile[fullPath] = decoded
	return decoded, nil
}

// AllTasks walks tasksDir and returns every task keyed by its full id
// ("relative/path/task_key"), matching
// task_loader.py's get_all_task_definitions (used by the facade's plan
// inspection surface, C14).
func (l *TaskLoader) AllTasks() map[string]*engine.Task {
	out := make(map[string]*engine.Task)
	_ = filepath.WalkDir(l.tasksDir, func(path string, d os.DirEntry, err error) error {
		if err != nil || d == nil || d.IsDir() || filepath.Ext(path) != ".yaml" {
			return nil
		}
		rel, relErr := filepath.Rel(l.tasksDir, path)
		if relErr != nil {
			return nil
		}
		rel = strings.TrimSuffix(rel, ".yaml")
		filePart := strings.ReplaceAll(rel, string(filepath.Separator), "/")
		tasks, loadErr := l.loadFile(filePart)
		if loadErr != nil {
			return nil
		}
		for key, task := range tasks {
			out[filePart+"/"+key] = task
		}
		return nil
	})
	return out
}
