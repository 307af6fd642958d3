package orchestrator_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aura-automation/aura/action"
	"github.com/aura-automation/aura/container"
	"github.com/aura-automation/aura/engine"
	"github.com/aura-automation/aura/orchestrator"
	"github.com/aura-automation/aura/template"
	"github.com/aura-automation/aura/value"
)

func writeTaskFile(t *testing.T, planDir, relPath, body string) {
	t.Helper()
	full := filepath.Join(planDir, "tasks", relPath+".yaml")
	require.NoError(t, os.MkdirAll(filepath.Dir(full), 0o755))
	require.NoError(t, os.WriteFile(full, []byte(body), 0o644))
}

func newTestOrchestrator(t *testing.T, planName string) (*orchestrator.Orchestrator, *action.Registry, string) {
	t.Helper()
	baseDir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(baseDir, "plans", planName), 0o755))

	renderer, err := template.New()
	require.NoError(t, err)
	reg := action.NewRegistry(nil)
	c := container.New()
	inj := action.New(reg, c, renderer)
	cm := orchestrator.NewContextManager(planName, filepath.Join(baseDir, "plans", planName))
	o := orchestrator.New(planName, baseDir, reg, inj, cm)
	return o, reg, filepath.Join(baseDir, "plans", planName)
}

func TestExecuteTask_RunsStepsFromYAML(t *testing.T) {
	o, reg, planDir := newTestOrchestrator(t, "demo_plan")
	var ran bool
	reg.Register(&action.Definition{
		Name:     "mark_ran",
		PluginID: "acme/core",
		Func: func(ctx context.Context, args action.Args) (value.Value, error) {
			ran = true
			return value.Bool(true), nil
		},
	})

	writeTaskFile(t, planDir, "main", `
hello:
  steps:
    - name: step one
      action: mark_ran
`)

	result, err := o.ExecuteTask(context.Background(), "main/hello", nil)
	require.NoError(t, err)
	assert.Equal(t, engine.StatusSuccess, result.Status)
	assert.True(t, ran)
}

func TestExecuteTask_FollowsGoTaskWithinPlan(t *testing.T) {
	o, reg, planDir := newTestOrchestrator(t, "demo_plan")
	var order []string
	reg.Register(&action.Definition{
		Name:     "record_a",
		PluginID: "acme/core",
		Func: func(ctx context.Context, args action.Args) (value.Value, error) {
			order = append(order, "a")
			return value.Bool(true), nil
		},
	})
	reg.Register(&action.Definition{
		Name:     "record_b",
		PluginID: "acme/core",
		Func: func(ctx context.Context, args action.Args) (value.Value, error) {
			order = append(order, "b")
			return value.Bool(true), nil
		},
	})

	writeTaskFile(t, planDir, "main", `
first:
  steps:
    - action: record_a
    - go_task: demo_plan/main/second
second:
  steps:
    - action: record_b
`)

	result, err := o.ExecuteTask(context.Background(), "main/first", nil)
	require.NoError(t, err)
	assert.Equal(t, engine.StatusSuccess, result.Status)
	assert.Equal(t, []string{"a", "b"}, order)
}

func TestExecuteTask_CrossPlanGoTaskIsRejected(t *testing.T) {
	o, _, planDir := newTestOrchestrator(t, "demo_plan")
	writeTaskFile(t, planDir, "main", `
first:
  steps:
    - go_task: other_plan/main/second
`)

	_, err := o.ExecuteTask(context.Background(), "main/first", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cross-plan")
}

func TestExecuteTask_MissingTaskReturnsError(t *testing.T) {
	o, _, _ := newTestOrchestrator(t, "demo_plan")
	_, err := o.ExecuteTask(context.Background(), "main/missing", nil)
	assert.Error(t, err)
}

func TestPerformConditionCheck_RejectsNonReadOnlyAction(t *testing.T) {
	o, reg, _ := newTestOrchestrator(t, "demo_plan")
	reg.Register(&action.Definition{
		Name:     "writes_stuff",
		PluginID: "acme/core",
		ReadOnly: false,
		Func: func(ctx context.Context, args action.Args) (value.Value, error) {
			return value.Bool(true), nil
		},
	})

	ok := o.PerformConditionCheck(context.Background(), "writes_stuff", nil)
	assert.False(t, ok)
}

func TestPerformConditionCheck_ReturnsTruthyResult(t *testing.T) {
	o, reg, _ := newTestOrchestrator(t, "demo_plan")
	reg.Register(&action.Definition{
		Name:     "check_ready",
		PluginID: "acme/core",
		ReadOnly: true,
		Func: func(ctx context.Context, args action.Args) (value.Value, error) {
			return value.Bool(true), nil
		},
	})

	ok := o.PerformConditionCheck(context.Background(), "check_ready", nil)
	assert.True(t, ok)
}

func TestGetFileContent_RejectsPathEscape(t *testing.T) {
	o, _, _ := newTestOrchestrator(t, "demo_plan")
	_, err := o.GetFileContent("../../etc/passwd")
	assert.Error(t, err)
}

func TestSaveAndGetFileContent_RoundTrips(t *testing.T) {
	o, _, _ := newTestOrchestrator(t, "demo_plan")
	require.NoError(t, o.SaveFileContent("notes/readme.txt", "hello world"))
	got, err := o.GetFileContent("notes/readme.txt")
	require.NoError(t, err)
	assert.Equal(t, "hello world", got)
}

func TestTaskDefinitions_ListsEveryTask(t *testing.T) {
	o, _, planDir := newTestOrchestrator(t, "demo_plan")
	writeTaskFile(t, planDir, "main", `
alpha:
  steps: []
beta:
  steps: []
`)

	defs := o.TaskDefinitions()
	assert.Len(t, defs, 2)
	assert.Contains(t, defs, "main/alpha")
	assert.Contains(t, defs, "main/beta")
}
