package container_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aura-automation/aura/container"
)

type configService struct{ value string }

func (c *configService) Get() string { return c.value }

type loggerService struct{ cfg *configService }

func (l *loggerService) Format(msg string) string { return l.cfg.Get() + ": " + msg }

func TestResolve_ByShortNameAndFQID(t *testing.T) {
	c := container.New()
	require.NoError(t, c.Register(container.Registration{
		ShortName: "config",
		FQID:      "acme/core/config",
		PluginID:  "acme/core",
		Factory:   func(c *container.Container) (any, error) { return &configService{value: "prod"}, nil },
	}, false, false))

	byShort, err := c.Resolve("config")
	require.NoError(t, err)
	byFQID, err := c.Resolve("acme/core/config")
	require.NoError(t, err)
	assert.Same(t, byShort, byFQID)
}

func TestResolve_ConstructorDependencyByAlias(t *testing.T) {
	c := container.New()
	require.NoError(t, c.Register(container.Registration{
		ShortName: "config", FQID: "acme/core/config", PluginID: "acme/core",
		Factory: func(c *container.Container) (any, error) { return &configService{value: "prod"}, nil },
	}, false, false))
	require.NoError(t, c.Register(container.Registration{
		ShortName: "logger", FQID: "acme/core/logger", PluginID: "acme/core",
		Factory: func(c *container.Container) (any, error) {
			cfg, err := c.Resolve("config")
			if err != nil {
				return nil, err
			}
			return &loggerService{cfg: cfg.(*configService)}, nil
		},
	}, false, false))

	inst, err := c.Resolve("logger")
	require.NoError(t, err)
	assert.Equal(t, "prod: hi", inst.(*loggerService).Format("hi"))
}

func TestResolve_CycleIsFatal(t *testing.T) {
	c := container.New()
	require.NoError(t, c.Register(container.Registration{
		ShortName: "a", FQID: "x/a", PluginID: "x",
		Factory: func(c *container.Container) (any, error) { return c.Resolve("b") },
	}, false, false))
	require.NoError(t, c.Register(container.Registration{
		ShortName: "b", FQID: "x/b", PluginID: "x",
		Factory: func(c *container.Container) (any, error) { return c.Resolve("a") },
	}, false, false))

	_, err := c.Resolve("a")
	require.Error(t, err)
}

func TestRegister_BareCollisionWithoutIntentIsFatal(t *testing.T) {
	c := container.New()
	require.NoError(t, c.Register(container.Registration{
		ShortName: "config", FQID: "acme/core/config", PluginID: "acme/core",
		Factory: func(c *container.Container) (any, error) { return &configService{}, nil },
	}, false, false))

	err := c.Register(container.Registration{
		ShortName: "config", FQID: "acme/other/config", PluginID: "acme/other",
		Factory: func(c *container.Container) (any, error) { return &configService{}, nil },
	}, false, false)
	require.Error(t, err)
}

func TestRegister_ExtendAndOverrideTogetherIsFatal(t *testing.T) {
	c := container.New()
	require.NoError(t, c.Register(container.Registration{
		ShortName: "config", FQID: "acme/core/config", PluginID: "acme/core",
		Factory: func(c *container.Container) (any, error) { return &configService{}, nil },
	}, false, false))

	err := c.Register(container.Registration{
		ShortName: "config", FQID: "acme/other/config", PluginID: "acme/other",
	}, true, true)
	require.Error(t, err)
}

type parentSvc struct{}

func (p *parentSvc) Greet() string { return "parent" }
func (p *parentSvc) Shared() string { return "parent-shared" }

type childSvc struct{ parent *parentSvc }

func (c *childSvc) Greet() string { return "child" }

func TestResolve_ExtensionBuildsInheritanceProxy(t *testing.T) {
	c := container.New()
	require.NoError(t, c.Register(container.Registration{
		ShortName: "greeter", FQID: "acme/core/greeter", PluginID: "acme/core",
		Factory: func(c *container.Container) (any, error) { return &parentSvc{}, nil },
	}, false, false))
	require.NoError(t, c.Register(container.Registration{
		ShortName: "greeter", FQID: "acme/ext/greeter", PluginID: "acme/ext",
		ExtensionFactory: func(c *container.Container, parent any) (any, error) {
			return &childSvc{parent: parent.(*parentSvc)}, nil
		},
	}, true, false))

	inst, err := c.Resolve("greeter")
	require.NoError(t, err)
	proxy := inst.(*container.ExtensionProxy)

	results, ok := proxy.Call("Greet")
	require.True(t, ok)
	assert.Equal(t, "child", results[0])

	results, ok = proxy.Call("Shared")
	require.True(t, ok)
	assert.Equal(t, "parent-shared", results[0])

	_, ok = proxy.MethodByName("Nonexistent")
	assert.False(t, ok)
}
