package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/piyushagarwal-55/flowforge/bus"
	"github.com/piyushagarwal-55/flowforge/core"
	"github.com/piyushagarwal-55/flowforge/daemon"
	"github.com/piyushagarwal-55/flowforge/engine"
	"github.com/piyushagarwal-55/flowforge/llmprovider"
	"github.com/piyushagarwal-55/flowforge/mcpserver"
	flowotel "github.com/piyushagarwal-55/flowforge/otel"
	"github.com/piyushagarwal-55/flowforge/runtime"
	"github.com/piyushagarwal-55/flowforge/server"
	"github.com/piyushagarwal-55/flowforge/store"
	"github.com/piyushagarwal-55/flowforge/tool"
)

// app is the assembled daemon: every collaborator the HTTP server needs,
// plus the background workers and what must be closed on shutdown.
type app struct {
	cfg    daemon.Config
	logger *slog.Logger

	store     store.Store
	registry  *tool.Registry
	events    *bus.RingBuffer
	logBus    *bus.MemBus
	providers *flowotel.Providers
	manager   *runtime.Manager
	engine    *engine.Engine
	server    *server.Server
	scheduler *server.Scheduler
	watcher   *daemon.Watcher

	closers []func() error
}

type appOptions struct {
	SchedulePoll time.Duration
}

// buildApp wires the runtime from cfg and loads its starting state. On error
// everything opened so far is closed.
func buildApp(ctx context.Context, cfg daemon.Config, opts appOptions, logger *slog.Logger) (_ *app, err error) {
	if logger == nil {
		logger = slog.Default()
	}
	a := &app{cfg: cfg, logger: logger}
	defer func() {
		if err != nil {
			_ = a.close(context.Background())
		}
	}()

	records, logs, err := a.openStores(ctx)
	if err != nil {
		return nil, err
	}

	deps := tool.BuiltinDeps{Records: records}
	if cfg.LLM.Provider != "" {
		completer, err := llmprovider.NewCompleter(llmprovider.Config{
			Provider: cfg.LLM.Provider,
			APIKey:   cfg.LLM.APIKey(),
			Model:    cfg.LLM.Model,
		})
		if err != nil {
			return nil, err
		}
		deps.Completer = completer
	}
	a.registry = tool.NewRegistry(logger)
	tool.RegisterBuiltins(a.registry, deps)

	a.events = bus.NewRingBuffer(cfg.Events.Capacity)
	a.logBus = bus.NewMemBus(bus.MemBusConfig{})
	a.closers = append(a.closers, a.logBus.Close)
	emitter := core.MultiEmitter(bus.NewStoreSubscriber(logs, logger), a.logBus)

	managerCfg := runtime.ManagerConfig{
		Registry:             a.registry,
		Sink:                 a.events,
		TelemetryMaxInFlight: int64(cfg.Telemetry.MaxInFlight),
		MaxInvocations:       cfg.Ledger.MaxInvocations,
		InvokeTimeout:        cfg.Runtime.InvokeTimeout,
		Logger:               logger,
	}
	if cfg.Telemetry.Enabled {
		a.providers, err = flowotel.Setup(ctx, flowotel.SetupConfig{
			ServiceName:  cfg.Telemetry.ServiceName,
			OTLPEndpoint: cfg.Telemetry.OTLPEndpoint,
			Global:       true,
		})
		if err != nil {
			return nil, fmt.Errorf("telemetry: %w", err)
		}
		emitter = a.providers.Emitter(emitter)
		managerCfg.Telemetry = a.providers.Telemetry
	}
	managerCfg.Emitter = emitter

	a.manager = runtime.NewManager(managerCfg)
	a.engine = engine.New(engine.Config{Invoker: a.manager, Emitter: emitter, Logger: logger})
	var bridgeOpts []mcpserver.Option
	if cfg.HTTP.AllowAnonymous {
		bridgeOpts = append(bridgeOpts, mcpserver.AllowAnonymous())
	}
	a.server = server.NewServer(server.ServerConfig{
		Manager:        a.manager,
		Engine:         a.engine,
		Store:          a.store,
		Events:         a.events,
		Bus:            a.logBus,
		LogStore:       logs,
		MCP:            mcpserver.NewBridge(a.manager, logger, bridgeOpts...),
		AllowAnonymous: cfg.HTTP.AllowAnonymous,
		CORSOrigin:     cfg.HTTP.CORSOrigin,
		MaxBody:        cfg.HTTP.MaxBody,
		Logger:         logger,
	})

	if err := daemon.Bootstrap(ctx, cfg, a.store, a.server, logger); err != nil {
		return nil, fmt.Errorf("bootstrap: %w", err)
	}

	if cfg.DefinitionsDir != "" {
		a.watcher, err = daemon.NewWatcher(daemon.WatcherConfig{
			Dir:     cfg.DefinitionsDir,
			Applier: a.server,
			Logger:  logger,
		})
		if err != nil {
			return nil, err
		}
		if err := a.watcher.LoadAll(ctx); err != nil {
			return nil, err
		}
	}

	if len(cfg.Schedules) > 0 {
		a.scheduler, err = server.NewScheduler(server.SchedulerConfig{
			Runner:       a.server,
			Schedules:    cfg.Schedules,
			PollInterval: opts.SchedulePoll,
			Logger:       logger,
		})
		if err != nil {
			return nil, err
		}
		a.server.SetScheduler(a.scheduler)
	}
	return a, nil
}

// openStores opens the definition store, the record store behind the db.*
// tools and the execution log store for the configured driver.
func (a *app) openStores(ctx context.Context) (tool.RecordStore, bus.LogStore, error) {
	switch a.cfg.Storage.Driver {
	case daemon.DriverSQLite:
		st, err := store.NewSQLiteStore(store.SQLiteConfig{DSN: a.cfg.Storage.DSN})
		if err != nil {
			return nil, nil, fmt.Errorf("opening sqlite store: %w", err)
		}
		a.store = st
		a.closers = append(a.closers, st.Close)

		records, err := tool.NewSQLiteRecordStore(a.cfg.Storage.DSN)
		if err != nil {
			return nil, nil, fmt.Errorf("opening sqlite record store: %w", err)
		}
		a.closers = append(a.closers, records.Close)

		logs, err := bus.NewSQLiteLogStore(bus.SQLiteStoreConfig{DSN: a.cfg.Storage.DSN})
		if err != nil {
			return nil, nil, fmt.Errorf("opening sqlite log store: %w", err)
		}
		a.closers = append(a.closers, logs.Close)
		return records, logs, nil

	case daemon.DriverPostgres:
		st, err := store.OpenPostgres(ctx, a.cfg.Storage.DSN)
		if err != nil {
			return nil, nil, fmt.Errorf("opening postgres store: %w", err)
		}
		a.store = st
		a.closers = append(a.closers, st.Close)
		return tool.NewMemoryRecordStore(), bus.NewMemLogStore(), nil

	default:
		a.store = store.NewMemoryStore()
		return tool.NewMemoryRecordStore(), bus.NewMemLogStore(), nil
	}
}

// start launches the background workers.
func (a *app) start(ctx context.Context) error {
	if a.watcher != nil {
		if err := a.watcher.Start(ctx); err != nil {
			return err
		}
	}
	if a.scheduler != nil {
		if err := a.scheduler.Start(ctx); err != nil {
			return err
		}
	}
	return nil
}

// close stops workers first, then flushes telemetry, then closes stores.
func (a *app) close(ctx context.Context) error {
	var errs []error
	if a.scheduler != nil {
		errs = append(errs, a.scheduler.Stop(ctx))
	}
	if a.watcher != nil {
		errs = append(errs, a.watcher.Close())
	}
	if a.manager != nil {
		errs = append(errs, a.manager.Close(ctx))
	}
	if a.providers != nil {
		errs = append(errs, a.providers.Shutdown(ctx))
	}
	for i := len(a.closers) - 1; i >= 0; i-- {
		errs = append(errs, a.closers[i]())
	}
	a.closers = nil
	return errors.Join(errs...)
}
