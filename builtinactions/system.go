package builtinactions

import (
	"context"
	"fmt"
	"strings"

	"github.com/aura-automation/aura/action"
	"github.com/aura-automation/aura/errcat"
	"github.com/aura-automation/aura/runcontext"
	"github.com/aura-automation/aura/telemetry"
	"github.com/aura-automation/aura/value"
)

// registerSystem adds the always-available control-flow and logging actions,
// grounded on atomic_actions.py's log/stop_task/assert_condition/run_task/
// set_persistent_value/save_persistent_context.
func registerSystem(reg *action.Registry, log telemetry.Logger) {
	reg.Register(&action.Definition{
		Name:     "log",
		ReadOnly: true,
		Public:   true,
		PluginID: PluginID,
		Params: []action.ParamSpec{
			{Name: "message", Kind: action.ParamRendered},
			{Name: "level", Kind: action.ParamRendered, Default: defaultString("info")},
		},
		Func: func(ctx context.Context, args action.Args) (value.Value, error) {
			message, _ := args.Value("message")
			levelVal, _ := args.Value("level")
			level, _ := levelVal.AsString()
			msg, _ := message.AsString()
			switch strings.ToLower(level) {
			case "warning", "warn":
				log.Warn(ctx, msg)
			case "error":
				log.Error(ctx, msg)
			case "debug":
				log.Debug(ctx, msg)
			default:
				log.Info(ctx, msg)
			}
			return value.Bool(true), nil
		},
	})

	reg.Register(&action.Definition{
		Name:     "stop_task",
		ReadOnly: true,
		Public:   true,
		PluginID: PluginID,
		Params: []action.ParamSpec{
			{Name: "message", Kind: action.ParamRendered, Default: defaultString("task stopped")},
			{Name: "success", Kind: action.ParamRendered, Default: defaultBool(true)},
		},
		Func: func(ctx context.Context, args action.Args) (value.Value, error) {
			messageVal, _ := args.Value("message")
			message, _ := messageVal.AsString()
			successVal, _ := args.Value("success")
			success, _ := successVal.AsBool()
			return value.Null, &errcat.StopTask{Success: success, Reason: message}
		},
	})

	reg.Register(&action.Definition{
		Name:     "assert_condition",
		ReadOnly: true,
		Public:   true,
		PluginID: PluginID,
		Params: []action.ParamSpec{
			{Name: "condition", Kind: action.ParamRendered},
			{Name: "message", Kind: action.ParamRendered, Default: defaultString("assertion failed")},
		},
		Func: func(ctx context.Context, args action.Args) (value.Value, error) {
			condVal, _ := args.Value("condition")
			messageVal, _ := args.Value("message")
			message, _ := messageVal.AsString()
			if !condVal.Truthy() {
				return value.Null, &errcat.StopTask{Success: false, Reason: message}
			}
			log.Info(ctx, "assertion passed", "message", message)
			return value.Bool(true), nil
		},
	})

	// run_task is a placeholder registration only: the engine special-cases
	// the action name "run_task" itself (see engine.go) and never reaches
	// this Func. It exists so ListActions/discovery surfaces the action the
	// same way every other one does.
	reg.Register(&action.Definition{
		Name:     "run_task",
		Public:   true,
		PluginID: PluginID,
		Params: []action.ParamSpec{
			{Name: "task_name", Kind: action.ParamRendered},
			{Name: "plan_name", Kind: action.ParamRendered, Default: defaultString("")},
			{Name: "engine", Kind: action.ParamEngine},
		},
		Func: func(ctx context.Context, args action.Args) (value.Value, error) {
			return value.Null, fmt.Errorf("run_task: invoked directly instead of being intercepted by the engine")
		},
	})

	reg.Register(&action.Definition{
		Name:     "set_persistent_value",
		Public:   true,
		PluginID: PluginID,
		Params: []action.ParamSpec{
			{Name: "key", Kind: action.ParamRendered},
			{Name: "value", Kind: action.ParamRendered},
			{Name: "persistent_context", Kind: action.ParamPersistentContext},
		},
		Func: func(ctx context.Context, args action.Args) (value.Value, error) {
			pc, ok := persistentContext(args)
			if !ok {
				log.Error(ctx, "set_persistent_value: no persistent context bound to this run")
				return value.Bool(false), nil
			}
			keyVal, _ := args.Value("key")
			key, _ := keyVal.AsString()
			val, _ := args.Value("value")
			pc.Set(key, value.ToGo(val))
			return value.Bool(true), nil
		},
	})

	reg.Register(&action.Definition{
		Name:     "save_persistent_context",
		Public:   true,
		PluginID: PluginID,
		Params: []action.ParamSpec{
			{Name: "persistent_context", Kind: action.ParamPersistentContext},
		},
		Func: func(ctx context.Context, args action.Args) (value.Value, error) {
			pc, ok := persistentContext(args)
			if !ok {
				log.Error(ctx, "save_persistent_context: no persistent context bound to this run")
				return value.Bool(false), nil
			}
			if err := <-pc.Save(ctx); err != nil {
				return value.Bool(false), err
			}
			return value.Bool(true), nil
		},
	})
}

// persistentContext resolves the *runcontext.PersistentContext bound to this
// run, if any. The injector always populates Args' context regardless of
// which Params a Definition declares (action/injector.go's prepareArgs), so
// this reaches past the ParamPersistentContext value.Value handle straight to
// the side table rather than re-deriving it from the handle id.
func persistentContext(args action.Args) (*runcontext.PersistentContext, bool) {
	rc := args.Context()
	if rc == nil {
		return nil, false
	}
	v, ok := rc.GetOpaque(runcontext.KeyPersistentContext)
	if !ok {
		return nil, false
	}
	pc, ok := v.(*runcontext.PersistentContext)
	return pc, ok
}

func defaultString(s string) *value.Value {
	v := value.String(s)
	return &v
}

func defaultBool(b bool) *value.Value {
	v := value.Bool(b)
	return &v
}
