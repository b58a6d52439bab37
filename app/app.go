// Package app wires the host together: credentials, sessions, the agent
// process supervisor, the event bus and the socket server.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/zhubert/agentdesk/claude"
	"github.com/zhubert/agentdesk/config"
	"github.com/zhubert/agentdesk/credstore"
	"github.com/zhubert/agentdesk/ipc"
	"github.com/zhubert/agentdesk/logger"
	"github.com/zhubert/agentdesk/manager"
	"github.com/zhubert/agentdesk/paths"
	"github.com/zhubert/agentdesk/process"
	"github.com/zhubert/agentdesk/session"
	"github.com/zhubert/agentdesk/sysstats"
)

// Deps overrides collaborators. Zero fields get production defaults.
type Deps struct {
	Credentials   *credstore.Store
	Sampler       sysstats.Sampler
	RunnerFactory claude.RunnerFactory
	Store         session.Store
	Tracker       *process.Tracker
}

// App owns every long-lived component of a running host.
type App struct {
	Config      *config.Config
	Credentials *credstore.Store
	Registry    *session.Registry
	Tracker     *process.Tracker
	Manager     *manager.SessionManager
	Bus         *ipc.Bus
	Relay       *ipc.Relay
	Server      *ipc.Server

	sampler sysstats.Sampler
	log     *slog.Logger

	mu      sync.Mutex
	started bool
	stopped bool
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// New builds the component graph without starting anything.
func New(cfg *config.Config, deps Deps) (*App, error) {
	if cfg == nil {
		cfg = config.Default()
	}

	creds := deps.Credentials
	if creds == nil {
		c, err := credstore.Open()
		if err != nil {
			return nil, fmt.Errorf("failed to open provider store: %w", err)
		}
		creds = c
	}

	store := deps.Store
	if store == nil {
		dir, err := paths.SessionsDir()
		if err != nil {
			return nil, err
		}
		store = session.NewFileStore(dir)
	}

	tracker := deps.Tracker
	if tracker == nil {
		dir, err := paths.PidsDir()
		if err != nil {
			return nil, err
		}
		tracker = process.NewTracker(dir)
	}

	sampler := deps.Sampler
	if sampler == nil {
		sampler = sysstats.HostSampler{}
	}

	registry := session.NewRegistry(store, cfg.MaxHistoryMessages)
	if err := registry.Load(); err != nil {
		return nil, fmt.Errorf("failed to load sessions: %w", err)
	}

	bus := ipc.NewBus(ipc.DefaultSubscriberBuffer)

	opts := manager.OptionsFromConfig(cfg)
	opts.Tracker = tracker
	mgr := manager.NewSessionManager(registry, creds, bus, opts)
	if deps.RunnerFactory != nil {
		mgr.SetRunnerFactory(deps.RunnerFactory)
	}

	relay := ipc.NewRelay(mgr, creds, bus)
	a := &App{
		Config:      cfg,
		Credentials: creds,
		Registry:    registry,
		Tracker:     tracker,
		Manager:     mgr,
		Bus:         bus,
		Relay:       relay,
		sampler:     sampler,
		log:         logger.WithComponent("app"),
	}
	a.Server = ipc.NewServer(relay, bus, mgr, a.staticData)
	return a, nil
}

func (a *App) staticData(ctx context.Context) (any, error) {
	return a.sampler.Static(ctx)
}

// Start reaps agents orphaned by a previous host, then starts resource
// polling and the provider file watcher.
func (a *App) Start(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.started {
		return errors.New("app already started")
	}
	if a.stopped {
		return errors.New("app is shut down")
	}
	a.started = true

	if killed, err := a.Tracker.CleanupOrphans(ctx); err != nil {
		a.log.Warn("orphan cleanup failed", "error", err)
	} else if killed > 0 {
		a.log.Info("killed orphaned agent processes", "count", killed)
	}

	a.ctx, a.cancel = context.WithCancel(context.Background())

	poller := sysstats.NewPoller(a.sampler, a.Config.StatsInterval.Std(), a.Bus)
	a.wg.Go(func() {
		poller.Run(a.ctx)
	})
	a.wg.Go(func() {
		if err := a.Credentials.Watch(a.ctx, credstore.DefaultWatchDebounce, a.Relay.BroadcastProviders); err != nil {
			a.log.Warn("provider watcher unavailable", "error", err)
		}
	})

	a.log.Info("host started",
		"sessions", len(a.Registry.List()),
		"statsInterval", a.Config.StatsInterval.Std())
	return nil
}

// Serve runs the socket server on listener until Shutdown.
func (a *App) Serve(listener net.Listener) error {
	return a.Server.Serve(listener)
}

// ListenAndServe binds the configured socket and serves on it.
func (a *App) ListenAndServe() error {
	return a.Server.ListenAndServe(a.Config.SocketPath)
}

// Shutdown disconnects clients, stops every session and background task,
// and flushes session state. It is safe to call more than once.
func (a *App) Shutdown(ctx context.Context) error {
	a.mu.Lock()
	if a.stopped {
		a.mu.Unlock()
		return nil
	}
	a.stopped = true
	cancel := a.cancel
	a.mu.Unlock()

	start := time.Now()
	a.log.Info("shutting down")

	err := a.Server.Shutdown(ctx)
	a.Manager.Shutdown()
	if cancel != nil {
		cancel()
	}

	done := make(chan struct{})
	go func() {
		a.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		err = errors.Join(err, ctx.Err())
	}
	a.Bus.Close()

	a.log.Info("shutdown complete", "elapsed", time.Since(start))
	return err
}
