package factory

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"

	"github.com/mcoot/sideline/internal/api"
	"github.com/mcoot/sideline/internal/api/sse"
	"github.com/mcoot/sideline/internal/config"
	"github.com/mcoot/sideline/internal/connectivity"
	"github.com/mcoot/sideline/internal/dependencies/clock"
	"github.com/mcoot/sideline/internal/dependencies/ids"
	"github.com/mcoot/sideline/internal/notify"
	"github.com/mcoot/sideline/internal/offline"
	"github.com/mcoot/sideline/internal/queue"
	"github.com/mcoot/sideline/internal/router"
	"github.com/mcoot/sideline/internal/services/backup"
	"github.com/mcoot/sideline/internal/services/datastore"
	"github.com/mcoot/sideline/internal/storage"
	"github.com/mcoot/sideline/internal/storage/badger"
	"github.com/mcoot/sideline/internal/storage/memory"
	redisstorage "github.com/mcoot/sideline/internal/storage/redis"
	"github.com/mcoot/sideline/internal/supervisor"
	"github.com/mcoot/sideline/internal/syncer"
	"github.com/mcoot/sideline/internal/txn"
)

// LocalStore is a local provider that also persists the pending queue
type LocalStore interface {
	storage.LocalProvider
	storage.QueueStore
}

// App contains all wired application components
type App struct {
	// Storage
	Local  LocalStore
	Queue  *queue.Queue
	Router *router.Router

	// External dependencies
	Clock        clock.Clock
	IDs          ids.Generator
	Connectivity *connectivity.Switch

	// Sync
	Cache     *offline.Manager
	Syncer    *syncer.Manager
	Scheduler *syncer.Scheduler
	Events    *notify.Bus
	Hub       *sse.Hub

	// Services
	Transactions *txn.Manager
	Store        *datastore.Service
	Backups      *backup.Service

	logger  *slog.Logger
	closers []io.Closer
}

// Dependencies are the pieces New builds from configuration and tests
// replace with fakes
type Dependencies struct {
	Local           LocalStore
	Factories       map[string]router.Factory
	DefaultProvider string
	Clock           clock.Clock
	IDs             ids.Generator
	Connectivity    *connectivity.Switch
	Breaker         router.BreakerConfig
	Sync            syncer.Config

	// Sinks receive sync events in addition to the event stream
	Sinks  []notify.Sink
	Logger *slog.Logger
}

// New creates a new application with all dependencies wired
func New(cfg config.Config, logger *slog.Logger) (*App, error) {
	if logger == nil {
		logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	clk := clock.New()

	local, err := badger.Open(cfg.Local)
	if err != nil {
		return nil, err
	}
	closers := []io.Closer{local}
	fail := func(err error) (*App, error) {
		closeAll(closers, logger)
		return nil, err
	}

	factories := map[string]router.Factory{
		config.RemoteMemory: MemoryFactory(clk),
	}
	if cfg.Remote.Provider == config.RemoteRedis {
		remote, err := redisstorage.Dial(cfg.Redis, clk)
		if err != nil {
			return fail(fmt.Errorf("failed to configure redis: %w", err))
		}
		closers = append(closers, remote)
		factories[config.RemoteRedis] = func(userID string) (storage.RemoteProvider, error) {
			return remote.ForUser(userID), nil
		}
	}

	var sinks []notify.Sink
	if cfg.Notify.NATSURL != "" {
		nats, err := notify.NewNATSSink(cfg.Notify.NATSURL, cfg.Notify.Subject, logger)
		if err != nil {
			return fail(err)
		}
		closers = append(closers, nats)
		sinks = append(sinks, nats)
	}

	app, err := newWithDependencies(Dependencies{
		Local:           local,
		Factories:       factories,
		DefaultProvider: cfg.Remote.Provider,
		Clock:           clk,
		IDs:             ids.New(),
		Connectivity:    connectivity.NewSwitch(cfg.Agent.StartOnline),
		Breaker:         cfg.Breaker,
		Sync:            cfg.Sync,
		Sinks:           sinks,
		Logger:          logger,
	})
	if err != nil {
		return fail(err)
	}
	app.closers = append(closers, app.Router)

	if cfg.Agent.UserID != "" {
		if err := app.Router.UpdateAuthState(true, cfg.Agent.UserID); err != nil {
			return fail(err)
		}
	}
	return app, nil
}

// newWithDependencies wires the application around deps
func newWithDependencies(deps Dependencies) (*App, error) {
	logger := deps.Logger
	if logger == nil {
		logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}

	hub := sse.NewHub(logger)
	bus := notify.NewBus(logger, append([]notify.Sink{hub}, deps.Sinks...)...)

	rtr, err := router.New(deps.DefaultProvider, deps.Factories, deps.Breaker, logger)
	if err != nil {
		return nil, err
	}

	q := queue.New(deps.Local, deps.Clock, deps.IDs, bus, logger)
	cache := offline.New(deps.Local, rtr, q, deps.Connectivity, rtr, deps.Clock, logger)
	drainer := syncer.New(deps.Sync, cache, deps.Connectivity, bus, deps.Clock, logger)
	txns := txn.New(deps.IDs, deps.Clock, logger)

	return &App{
		Local:        deps.Local,
		Queue:        q,
		Router:       rtr,
		Clock:        deps.Clock,
		IDs:          deps.IDs,
		Connectivity: deps.Connectivity,
		Cache:        cache,
		Syncer:       drainer,
		Scheduler:    syncer.NewScheduler(drainer, deps.Connectivity, deps.Sync.Interval, logger),
		Events:       bus,
		Hub:          hub,
		Transactions: txns,
		Store:        datastore.New(cache, rtr, drainer, deps.Connectivity, deps.IDs, logger),
		Backups:      backup.New(cache, txns, deps.Clock, logger),
		logger:       logger,
	}, nil
}

// Handler returns the agent HTTP API
func (a *App) Handler() http.Handler {
	return api.NewRouter(api.RouterConfig{
		Logger:       a.logger,
		Store:        a.Store,
		Backups:      a.Backups,
		Syncer:       a.Syncer,
		Identity:     a.Router,
		Connectivity: a.Connectivity,
		Transactions: a.Transactions,
		Hub:          a.Hub,
	})
}

// Supervise adds the long-lived services to tree
func (a *App) Supervise(tree *supervisor.Tree, server *api.Server) {
	tree.AddSyncService(a.Hub)
	tree.AddSyncService(a.Scheduler)
	tree.AddAPIService(server)
}

// Close releases storage and connections in reverse order of creation
func (a *App) Close() error {
	return closeAll(a.closers, a.logger)
}

func closeAll(closers []io.Closer, logger *slog.Logger) error {
	var errs []error
	for i := len(closers) - 1; i >= 0; i-- {
		if err := closers[i].Close(); err != nil {
			logger.Error("failed to close resource", slog.Any("error", err))
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// MemoryFactory returns a router factory whose remotes live in process
// memory, one namespace per user
func MemoryFactory(clk clock.Clock) router.Factory {
	var mu sync.Mutex
	remotes := make(map[string]*memory.Remote)
	return func(userID string) (storage.RemoteProvider, error) {
		mu.Lock()
		defer mu.Unlock()
		r, ok := remotes[userID]
		if !ok {
			r = memory.NewRemote(clk)
			remotes[userID] = r
		}
		return r, nil
	}
}
