// Package main implements Lightflow's CLI surface (spec.md §6): config
// management, workflow start/stop/abort/status, and the worker loop,
// wired against the in-process (memqueue/memsignalbus/memstore) or
// Redis-backed concrete adapters selected by configuration.
package main

import (
	"fmt"
	"os"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/lightflow-run/lightflow/internal/config"
	"github.com/lightflow-run/lightflow/internal/digraph"
	"github.com/lightflow-run/lightflow/internal/logger"
	"github.com/lightflow-run/lightflow/internal/queue"
	"github.com/lightflow-run/lightflow/internal/queue/memqueue"
	"github.com/lightflow-run/lightflow/internal/queue/redisqueue"
	"github.com/lightflow-run/lightflow/internal/runtime"
	"github.com/lightflow-run/lightflow/internal/signalbus"
	"github.com/lightflow-run/lightflow/internal/signalbus/memsignalbus"
	"github.com/lightflow-run/lightflow/internal/signalbus/redissignalbus"
	"github.com/lightflow-run/lightflow/internal/store"
	"github.com/lightflow-run/lightflow/internal/store/filestore"
	"github.com/lightflow-run/lightflow/internal/store/memstore"
	"github.com/lightflow-run/lightflow/internal/store/redisstore"
)

// backend is "memory" (the default, single-process) or "redis"
// (cfg.Broker.Host/Signal.Host/Store.Host pointing at a real server).
// A host of "memory" or the empty string selects the in-process
// implementation for that concern independently, so a deployment can
// e.g. run Redis for the broker while keeping an in-process store.
const memoryHost = "memory"

// app bundles the concrete adapters one CLI invocation wires together
// from the loaded Config, the shared construction the teacher's own
// cmd/common.go performs for its client/persistence pair.
type app struct {
	cfg    config.Config
	log    logger.Logger
	queue  queue.Queue
	bus    signalbus.Bus
	store  store.Factory
	loader *digraph.Loader
	runner *runtime.Runner
}

func newApp(cfg config.Config, quiet, debug bool) (*app, error) {
	var opts []logger.Option
	if debug {
		opts = append(opts, logger.WithDebug())
	}
	if cfg.Logging.Format != "" {
		opts = append(opts, logger.WithFormat(cfg.Logging.Format))
	}
	if quiet || cfg.Logging.Quiet {
		opts = append(opts, logger.WithQuiet())
	}
	lg := logger.NewLogger(opts...)

	q, err := buildQueue(cfg.Broker)
	if err != nil {
		return nil, err
	}
	bus, err := buildBus(cfg.Signal)
	if err != nil {
		return nil, err
	}
	st, err := buildStore(cfg.Store)
	if err != nil {
		return nil, err
	}

	loader, err := digraph.NewLoader(cfg.Workflows, 64)
	if err != nil {
		return nil, fmt.Errorf("build workflow loader: %w", err)
	}

	runner := runtime.NewRunner(runtime.NewScriptRegistry())

	return &app{cfg: cfg, log: lg, queue: q, bus: bus, store: st, loader: loader, runner: runner}, nil
}

func buildQueue(cfg config.EndpointConfig) (queue.Queue, error) {
	if cfg.Host == "" || cfg.Host == memoryHost {
		return memqueue.New(queue.DefaultLeaseDuration), nil
	}
	return redisqueue.New(redisUniversalClient(cfg), "lightflow:queue"), nil
}

func buildBus(cfg config.EndpointConfig) (signalbus.Bus, error) {
	if cfg.Host == "" || cfg.Host == memoryHost {
		return memsignalbus.New(), nil
	}
	return redissignalbus.New(redisUniversalClient(cfg), "lightflow:signal"), nil
}

// buildStore picks the in-process, on-disk, or Redis-backed document
// store adapter. "file" is only meaningful here: the broker and signal
// bus have no on-disk counterpart.
func buildStore(cfg config.EndpointConfig) (store.Factory, error) {
	switch cfg.Host {
	case "", memoryHost:
		return memstore.New(), nil
	case "file":
		dir := cfg.Dir
		if dir == "" {
			dir = "./lightflow-store"
		}
		return filestore.New(dir), nil
	default:
		return redisstore.New(redisUniversalClient(cfg), "lightflow:store"), nil
	}
}

func redisUniversalClient(cfg config.EndpointConfig) redis.UniversalClient {
	return redis.NewUniversalClient(&redis.UniversalOptions{
		Addrs: []string{cfg.Addr()}, DB: cfg.Database, Username: cfg.Auth, Password: cfg.Password,
	})
}

// newRunID mints a time-ordered run id the way internal/dagrun does.
func newRunID() string { return uuid.Must(uuid.NewV7()).String() }

// fatalf prints err to stderr and exits with the given code, the
// exit-code contract spec.md §6 defines for the CLI surface.
func fatalf(code int, format string, args ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(code)
}
