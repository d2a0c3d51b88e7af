// Package app is the composition root: bootstrap stays
// orchestration-only.
package app

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/gin-gonic/gin"

	"mintbind.io/mintbind/internal/api/handlers"
	"mintbind.io/mintbind/internal/binder"
	"mintbind.io/mintbind/internal/config"
	"mintbind.io/mintbind/internal/coordinator"
	"mintbind.io/mintbind/internal/crossref"
	"mintbind.io/mintbind/internal/datacite"
	"mintbind.io/mintbind/internal/idlock"
	"mintbind.io/mintbind/internal/idmap"
	"mintbind.io/mintbind/internal/infrastructure"
	"mintbind.io/mintbind/internal/mailer"
	"mintbind.io/mintbind/internal/minter"
	"mintbind.io/mintbind/internal/policy"
	"mintbind.io/mintbind/internal/pkg/worker"
	"mintbind.io/mintbind/internal/status"
)

// Application holds composed application dependencies.
type Application struct {
	Manager *config.Manager
	Router  *gin.Engine
	DB      *infrastructure.DatabaseClients
	Pools   *worker.Pools

	daemon   *crossref.Daemon
	reporter *status.Reporter
}

// noopEnqueuer satisfies the coordinator when the registrar pipeline
// is disabled; the coordinator never calls it in that configuration.
type noopEnqueuer struct{}

func (noopEnqueuer) Enqueue(context.Context, string, string, string,
	map[string]string) error {
	return nil
}

// prefixProvider builds minter clients for the registered shoulders,
// cached per configuration generation so a reload rebuilds them once.
type prefixProvider struct {
	mgr *config.Manager

	mu     sync.Mutex
	gen    int64
	cached map[string]coordinator.PrefixEntry
}

func (p *prefixProvider) get() map[string]coordinator.PrefixEntry {
	gen := p.mgr.Generation()
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cached == nil || p.gen != gen {
		m := make(map[string]coordinator.PrefixEntry)
		for _, pc := range p.mgr.Current().Prefixes {
			m[pc.Prefix] = coordinator.PrefixEntry{
				Prefix: pc.Prefix,
				Minter: minter.NewNoid(pc.Minter, pc.MinterUsername, pc.MinterPassword),
			}
		}
		p.cached = m
		p.gen = gen
	}
	return p.cached
}

// Bootstrap initializes all dependencies using manual DI.
func Bootstrap(ctx context.Context, cfg *config.Config) (*Application, error) {
	mgr := config.NewManager(cfg)

	pools, err := worker.NewPools(ctx, worker.PoolConfig{
		GeneralPoolSize:   cfg.Worker.GeneralPoolSize,
		RegistrarPoolSize: cfg.Worker.RegistrarPoolSize,
	})
	if err != nil {
		return nil, fmt.Errorf("init worker pools: %w", err)
	}

	var db *infrastructure.DatabaseClients
	if cfg.Crossref.Enabled {
		db, err = infrastructure.NewDatabaseClients(ctx, cfg.Database)
		if err != nil {
			pools.Shutdown()
			return nil, fmt.Errorf("init database: %w", err)
		}
		if cfg.Database.AutoMigrate {
			if err := db.AutoMigrate(ctx); err != nil {
				db.Close()
				pools.Shutdown()
				return nil, fmt.Errorf("migrate: %w", err)
			}
		}
	}

	var store binder.Store
	if cfg.Binder.Enabled {
		store = binder.NewEggClient(cfg.Binder.URL,
			cfg.Binder.Username, cfg.Binder.Password)
	} else {
		store = binder.NewMem()
	}

	dir := staticDirectory(cfg)
	dc := datacite.NewDisabled()
	locks := idlock.NewRegistry()

	var queue *crossref.Queue
	var enqueuer coordinator.Enqueuer = noopEnqueuer{}
	if db != nil {
		queue = crossref.NewQueue(db.Pool)
		enqueuer = queue
	}

	prefixes := &prefixProvider{mgr: mgr}
	settings := func() coordinator.Settings {
		c := mgr.Current()
		return coordinator.Settings{
			BaseURL:               c.BaseURL,
			AdminUsername:         c.AdminUsername,
			DefaultDoiProfile:     c.Profiles.DefaultDoi,
			DefaultArkProfile:     c.Profiles.DefaultArk,
			DefaultUrnUuidProfile: c.Profiles.DefaultUrnUuid,
			CrossrefEnabled:       c.Crossref.Enabled,
		}
	}
	authz := policy.Ownership{AdminUsername: cfg.AdminUsername}
	coord := coordinator.New(store, locks, authz, dir, dc, enqueuer,
		settings, prefixes.get)

	app := &Application{
		Manager: mgr,
		DB:      db,
		Pools:   pools,
	}

	if queue != nil && cfg.Crossref.DaemonEnabled {
		wire := crossref.NewClient(func() crossref.ClientConfig {
			c := mgr.Current().Crossref
			return crossref.ClientConfig{
				RealServer: c.RealServer,
				TestServer: c.TestServer,
				DepositURL: c.DepositURL,
				ResultsURL: c.ResultsURL,
				Username:   c.Username,
				Password:   c.Password,
			}
		})
		notify := func(owner string) string {
			return mgr.Current().Crossref.NotifyEmails[owner]
		}
		app.daemon = crossref.NewDaemon(queue, wire, coord,
			mailer.New(cfg.Mail), notify, db.CloseIdle, mgr)
	}

	var queueStats status.QueueStats
	if queue != nil {
		queueStats = queue
	}
	var connStats func() (int, int)
	if db != nil {
		connStats = db.ConnStats
	}
	app.reporter = status.NewReporter(coord, dc, queueStats, connStats,
		func() time.Duration { return mgr.Current().StatusReportingInterval })

	server := handlers.NewServer(coord, dir, store, dc, mgr, queue, db,
		app.restartDaemon)
	app.Router = newRouter(server)
	return app, nil
}

// staticDirectory builds the identity directory from configuration.
func staticDirectory(cfg *config.Config) idmap.Directory {
	byName := make(map[string]string, len(cfg.Users))
	byPID := make(map[string]idmap.StaticAgent, len(cfg.Users))
	for name, pid := range cfg.Users {
		byName[name] = pid
		byPID[pid] = idmap.StaticAgent{Name: name, Kind: idmap.KindUser}
	}
	return idmap.Static{ByName: byName, ByPID: byPID}
}

// Start launches background services: the registration daemon and the
// status reporter.
func (a *Application) Start(ctx context.Context) error {
	if a.daemon != nil {
		a.restartDaemon()
	}
	return a.Pools.SubmitDetached(func(ctx context.Context) {
		a.reporter.Run(ctx)
	})
}

// restartDaemon submits a daemon task under the current configuration
// generation; any prior generation retires itself at its next abort
// checkpoint.
func (a *Application) restartDaemon() {
	if a.daemon == nil {
		return
	}
	generation := a.Manager.Generation()
	_ = a.Pools.SubmitDetached(func(ctx context.Context) {
		a.daemon.Run(ctx, generation)
	})
}

// Shutdown releases all resources.
func (a *Application) Shutdown() {
	a.Pools.Shutdown()
	if a.DB != nil {
		a.DB.Close()
	}
}
