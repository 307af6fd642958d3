// Command aurad runs the long-running execution-core daemon: it discovers
// every plan under a base directory, starts the facade (scheduler +
// commander + event bus), and blocks until asked to shut down.
//
// # Configuration
//
// Environment variables (spec.md §6 "environment variables prefixed AURA_"):
//
//	AURA_BASE_DIR           - plans root directory (default: "./plans")
//	AURA_STATUS_STORE       - status-store backend: "memory", "redis", or
//	                          "mongo" (default: "memory")
//	AURA_REDIS_URL          - redis address, used when AURA_STATUS_STORE=redis
//	                          (default: "localhost:6379")
//	AURA_REDIS_PASSWORD     - redis password (optional)
//	AURA_MONGO_URI          - mongo connection URI, used when
//	                          AURA_STATUS_STORE=mongo (default:
//	                          "mongodb://localhost:27017")
//	AURA_MONGO_DATABASE     - mongo database name (default: "aura")
//	AURA_ANTHROPIC_API_KEY  - enables the ai.generate_text builtin action
//	AURA_ANTHROPIC_MODEL    - default model for ai.generate_text
//	AURA_EVENT_BRIDGE_REDIS_URL - when set, shares the event bus with every
//	                          other aurad pointed at the same Redis instance
//
// # Example
//
//	AURA_BASE_DIR=./plans AURA_STATUS_STORE=redis AURA_REDIS_URL=localhost:6379 \
//	    go run ./cmd/aurad
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	redisclient "github.com/redis/go-redis/v9"

	"goa.design/clue/log"
	"goa.design/pulse/rmap"

	"github.com/aura-automation/aura/action"
	"github.com/aura-automation/aura/builtinactions"
	"github.com/aura-automation/aura/eventbus/pulsebus"
	"github.com/aura-automation/aura/facade"
	"github.com/aura-automation/aura/store"
	"github.com/aura-automation/aura/store/memory"
	storemongo "github.com/aura-automation/aura/store/mongo"
	storeredis "github.com/aura-automation/aura/store/redis"
	"github.com/aura-automation/aura/telemetry"
)

func main() {
	os.Exit(run())
}

// run returns a spec.md §6 exit code: 0 success, 1 init failure.
func run() int {
	var (
		baseDirF = flag.String("base-dir", envOr("AURA_BASE_DIR", "./plans"), "Plans root directory")
		dbgF     = flag.Bool("debug", false, "Log request/response detail")
	)
	flag.Parse()

	format := log.FormatJSON
	if log.IsTerminal() {
		format = log.FormatTerminal
	}
	ctx := log.Context(context.Background(), log.WithFormat(format))
	if *dbgF {
		ctx = log.Context(ctx, log.WithDebug())
	}

	bundle := telemetry.Bundle{
		Logger:  telemetry.NewClueLogger(),
		Metrics: telemetry.NewClueMetrics(),
		Tracer:  telemetry.NewClueTracer(),
	}

	statusStore, closeStore, err := openStatusStore(ctx, bundle.Logger)
	if err != nil {
		log.Error(ctx, err, log.KV{K: "msg", V: "open status store"})
		return 1
	}
	defer closeStore()

	reg := action.NewRegistry(bundle.Logger)
	registerBuiltins(reg, bundle.Logger)

	facadeOpts := []facade.Option{
		facade.WithActionRegistry(reg),
		facade.WithTelemetry(bundle),
		facade.WithStatusStore(statusStore),
	}
	bridgeClient, cooldowns, closeCluster, err := openClusterCoordination(ctx)
	if err != nil {
		log.Error(ctx, err, log.KV{K: "msg", V: "open cluster coordination"})
		return 1
	}
	if bridgeClient != nil {
		defer closeCluster()
		facadeOpts = append(facadeOpts,
			facade.WithEventBridge(bridgeClient),
			facade.WithClusterCooldownStore(cooldowns),
			facade.WithClusterResourceLimiter(cooldowns),
		)
	}

	f, err := facade.New(*baseDirF, facadeOpts...)
	if err != nil {
		log.Error(ctx, err, log.KV{K: "msg", V: "construct facade"})
		return 1
	}

	if err := f.Start(ctx); err != nil {
		log.Error(ctx, err, log.KV{K: "msg", V: "start facade"})
		return 1
	}

	log.Print(ctx, log.KV{K: "msg", V: "aurad started"}, log.KV{K: "base_dir", V: *baseDirF}, log.KV{K: "plans", V: len(f.ListPlans())})

	sigCtx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()
	<-sigCtx.Done()

	log.Print(ctx, log.KV{K: "msg", V: "shutting down"})
	stopCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := f.Stop(stopCtx); err != nil {
		log.Error(ctx, err, log.KV{K: "msg", V: "stop facade"})
		return 1
	}
	return 0
}

// registerBuiltins wires builtinactions' system actions into reg, enabling
// ai.generate_text only when an API key is configured and always installing
// a JSON debug-capture action.
func registerBuiltins(reg *action.Registry, logger telemetry.Logger) {
	opts := []builtinactions.Option{
		builtinactions.WithLogger(logger),
		builtinactions.WithDebugCapture(builtinactions.NewJSONDebugCapture(logger)),
	}
	if apiKey := os.Getenv("AURA_ANTHROPIC_API_KEY"); apiKey != "" {
		model := envOr("AURA_ANTHROPIC_MODEL", "claude-sonnet-4-5-20250929")
		gen, err := builtinactions.NewAnthropicTextGenerator(apiKey, model)
		if err == nil {
			opts = append(opts, builtinactions.WithTextGenerator(gen))
		}
	}
	builtinactions.Register(reg, opts...)
}

// openStatusStore constructs the store.Store backend named by
// AURA_STATUS_STORE, returning a cleanup func that closes any underlying
// client connection.
func openStatusStore(ctx context.Context, logger telemetry.Logger) (store.Store, func(), error) {
	switch envOr("AURA_STATUS_STORE", "memory") {
	case "memory":
		return memory.New(), func() {}, nil

	case "redis":
		rdb := redisclient.NewClient(&redisclient.Options{
			Addr:     envOr("AURA_REDIS_URL", "localhost:6379"),
			Password: os.Getenv("AURA_REDIS_PASSWORD"),
		})
		if err := rdb.Ping(ctx).Err(); err != nil {
			return nil, nil, fmt.Errorf("connect to redis: %w", err)
		}
		return storeredis.New(rdb, "aura:"), func() {
			if err := rdb.Close(); err != nil {
				logger.Error(ctx, "close redis", "error", err)
			}
		}, nil

	case "mongo":
		client, err := mongo.Connect(options.Client().ApplyURI(envOr("AURA_MONGO_URI", "mongodb://localhost:27017")))
		if err != nil {
			return nil, nil, fmt.Errorf("connect to mongo: %w", err)
		}
		if err := client.Ping(ctx, nil); err != nil {
			return nil, nil, fmt.Errorf("ping mongo: %w", err)
		}
		coll := client.Database(envOr("AURA_MONGO_DATABASE", "aura")).Collection("run_status")
		return storemongo.New(coll), func() {
			if err := client.Disconnect(ctx); err != nil {
				logger.Error(ctx, "disconnect mongo", "error", err)
			}
		}, nil

	default:
		return nil, nil, fmt.Errorf("unknown AURA_STATUS_STORE backend %q", os.Getenv("AURA_STATUS_STORE"))
	}
}

// openClusterCoordination connects to AURA_EVENT_BRIDGE_REDIS_URL when set,
// sharing this process's event bus (pulsebus.Client), interrupt-rule
// cooldowns, and resource-tag concurrency limits with every other aurad
// pointed at the same Redis instance (spec §4.1/§4.7/§5 extended to
// distributed deployments). Cooldowns and resource limits share one joined
// rmap.Map under distinct key prefixes (interrupt.cooldownKey vs
// execmgr's cluster semaphore key), the way registry.go joins one
// *rmap.Map per concern off a single *redis.Client. Returns nil values and
// a no-op cleanup when the env var is unset.
func openClusterCoordination(ctx context.Context) (pulsebus.Client, *rmap.Map, func(), error) {
	url := os.Getenv("AURA_EVENT_BRIDGE_REDIS_URL")
	if url == "" {
		return nil, nil, func() {}, nil
	}
	rdb := redisclient.NewClient(&redisclient.Options{Addr: url})
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, nil, nil, fmt.Errorf("connect to cluster redis: %w", err)
	}
	client, err := pulsebus.NewClient(rdb, 0)
	if err != nil {
		rdb.Close()
		return nil, nil, nil, err
	}
	cooldowns, err := rmap.Join(ctx, "aura:interrupt-cooldowns", rdb)
	if err != nil {
		rdb.Close()
		return nil, nil, nil, fmt.Errorf("join cooldown map: %w", err)
	}
	return client, cooldowns, func() {
		cooldowns.Close()
		rdb.Close()
	}, nil
}

func envOr(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}
