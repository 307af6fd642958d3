package action_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aura-automation/aura/action"
	"github.com/aura-automation/aura/container"
	"github.com/aura-automation/aura/runcontext"
	"github.com/aura-automation/aura/template"
	"github.com/aura-automation/aura/value"
)

type fakeService struct{ tag string }

func newInjector(t *testing.T) (*action.Registry, *container.Container, *action.Injector) {
	t.Helper()
	reg := action.NewRegistry(nil)
	c := container.New()
	renderer, err := template.New()
	require.NoError(t, err)
	inj := action.New(reg, c, renderer)
	return reg, c, inj
}

func TestExecute_ActionNotFound(t *testing.T) {
	_, _, inj := newInjector(t)
	rc := runcontext.New()
	_, err := inj.Execute(context.Background(), rc, nil, "missing", nil)
	require.Error(t, err)
}

func TestExecute_RenderedParamByName(t *testing.T) {
	reg, _, inj := newInjector(t)
	reg.Register(&action.Definition{
		Name:     "greet",
		PluginID: "acme/core",
		Params:   []action.ParamSpec{{Name: "who", Kind: action.ParamRendered}},
		Func: func(ctx context.Context, args action.Args) (value.Value, error) {
			who, _ := args.Value("who")
			s, _ := who.AsString()
			return value.String("hi " + s), nil
		},
	})

	rc := runcontext.New()
	out, err := inj.Execute(context.Background(), rc, nil, "GREET", map[string]value.Value{
		"who": value.String("world"),
	})
	require.NoError(t, err)
	s, _ := out.AsString()
	assert.Equal(t, "hi world", s)
}

func TestExecute_MissingRequiredParamErrors(t *testing.T) {
	reg, _, inj := newInjector(t)
	reg.Register(&action.Definition{
		Name:     "needs_x",
		PluginID: "acme/core",
		Params:   []action.ParamSpec{{Name: "x", Kind: action.ParamRendered}},
		Func: func(ctx context.Context, args action.Args) (value.Value, error) {
			return value.Null, nil
		},
	})

	rc := runcontext.New()
	_, err := inj.Execute(context.Background(), rc, nil, "needs_x", nil)
	require.Error(t, err)
}

func TestExecute_FallsBackToContextThenDefault(t *testing.T) {
	reg, _, inj := newInjector(t)
	def := value.String("fallback")
	reg.Register(&action.Definition{
		Name:     "with_default",
		PluginID: "acme/core",
		Params:   []action.ParamSpec{{Name: "x", Kind: action.ParamRendered, Default: &def}},
		Func: func(ctx context.Context, args action.Args) (value.Value, error) {
			v, _ := args.Value("x")
			return v, nil
		},
	})

	rc := runcontext.New()
	out, err := inj.Execute(context.Background(), rc, nil, "with_default", nil)
	require.NoError(t, err)
	s, _ := out.AsString()
	assert.Equal(t, "fallback", s)

	rc.Set("x", value.String("from-context"))
	out, err = inj.Execute(context.Background(), rc, nil, "with_default", nil)
	require.NoError(t, err)
	s, _ = out.AsString()
	assert.Equal(t, "from-context", s)
}

func TestExecute_ServiceDependencyInjectedByAlias(t *testing.T) {
	reg, c, inj := newInjector(t)
	require.NoError(t, c.Register(container.Registration{
		ShortName: "svc", FQID: "acme/core/svc", PluginID: "acme/core",
		Factory: func(c *container.Container) (any, error) { return &fakeService{tag: "injected"}, nil },
	}, false, false))

	reg.Register(&action.Definition{
		Name:     "uses_service",
		PluginID: "acme/core",
		Params:   []action.ParamSpec{{Name: "svc", Kind: action.ParamService, ServiceAlias: "svc"}},
		Func: func(ctx context.Context, args action.Args) (value.Value, error) {
			svc, ok := args.Service("svc")
			require.True(t, ok)
			return value.String(svc.(*fakeService).tag), nil
		},
	})

	rc := runcontext.New()
	out, err := inj.Execute(context.Background(), rc, nil, "uses_service", nil)
	require.NoError(t, err)
	s, _ := out.AsString()
	assert.Equal(t, "injected", s)
}

func TestExecute_ReservedContextParam(t *testing.T) {
	reg, _, inj := newInjector(t)
	reg.Register(&action.Definition{
		Name:     "reads_context",
		PluginID: "acme/core",
		Params:   []action.ParamSpec{{Name: "context", Kind: action.ParamContext}},
		Func: func(ctx context.Context, args action.Args) (value.Value, error) {
			rc := args.Context()
			return rc.Get("plan"), nil
		},
	})

	rc := runcontext.New()
	rc.Set("plan", value.String("demo"))
	out, err := inj.Execute(context.Background(), rc, nil, "reads_context", nil)
	require.NoError(t, err)
	s, _ := out.AsString()
	assert.Equal(t, "demo", s)
}

func TestExecute_AsyncBypassesPool(t *testing.T) {
	reg, _, inj := newInjector(t)
	reg.Register(&action.Definition{
		Name:     "async_action",
		PluginID: "acme/core",
		IsAsync:  true,
		Func: func(ctx context.Context, args action.Args) (value.Value, error) {
			return value.Bool(true), nil
		},
	})
	rc := runcontext.New()
	out, err := inj.Execute(context.Background(), rc, nil, "async_action", nil)
	require.NoError(t, err)
	b, _ := out.AsBool()
	assert.True(t, b)
}

func TestRegistry_OverrideLastWins(t *testing.T) {
	reg := action.NewRegistry(nil)
	reg.Register(&action.Definition{Name: "dup", PluginID: "acme/a"})
	reg.Register(&action.Definition{Name: "dup", PluginID: "acme/b"})
	d, ok := reg.Get("DUP")
	require.True(t, ok)
	assert.Equal(t, "acme/b", d.PluginID)
}
