package agent

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"time"

	"github.com/mwantia/fabric/pkg/container"
	"github.com/mwantia/lakesync/internal/api"
	config "github.com/mwantia/lakesync/internal/config/server"
	"github.com/mwantia/lakesync/internal/rebuild"
	"github.com/mwantia/lakesync/internal/refresh"
	"github.com/mwantia/lakesync/pkg/db/store"
	"github.com/mwantia/lakesync/pkg/lock"
	"github.com/mwantia/lakesync/pkg/log"
)

type LakeSyncAgent struct {
	mutex sync.RWMutex
	wait  sync.WaitGroup

	cfg *config.BaseServerConfig
	sc  *container.ServiceContainer
	log log.LoggerService

	components *Components
	scheduler  *rebuild.Scheduler
	server     *api.Server
}

func NewAgent(cfg *config.BaseServerConfig) *LakeSyncAgent {
	return &LakeSyncAgent{
		cfg: cfg,
		sc:  container.NewServiceContainer(),
		log: log.NewLoggerService("agent", cfg.Log),
	}
}

func (lsa *LakeSyncAgent) setupServices(ctx context.Context) error {
	catalog, err := NewCatalog(lsa.cfg.Metadata)
	if err != nil {
		return err
	}
	errs := container.Errors{}

	lsa.log.Debug("Registering 'LoggerService'...")
	errs.Add(container.Register[log.LoggerServiceImpl](lsa.sc,
		container.With[log.LoggerService](),
		container.WithInstance(lsa.log)))

	lsa.log.Debug("Registering 'CatalogStore' (%s)...", lsa.cfg.Metadata.Type)
	switch impl := catalog.(type) {
	case *store.SQLiteStore:
		errs.Add(container.Register[*store.SQLiteStore](lsa.sc,
			container.With[store.CatalogStore](),
			container.WithInstance(impl),
			container.AsSingleton()))
	case *store.PostgresStore:
		errs.Add(container.Register[*store.PostgresStore](lsa.sc,
			container.With[store.CatalogStore](),
			container.WithInstance(impl),
			container.AsSingleton()))
	}

	switch impl := NewLocker(lsa.cfg.Lock).(type) {
	case *lock.LocalLocker:
		lsa.log.Debug("Registering 'Locker' (local)...")
		errs.Add(container.Register[*lock.LocalLocker](lsa.sc,
			container.With[lock.Locker](),
			container.WithInstance(impl),
			container.AsSingleton()))
	case *lock.RedisLocker:
		lsa.log.Debug("Registering 'Locker' (redis)...")
		errs.Add(container.Register[*lock.RedisLocker](lsa.sc,
			container.With[lock.Locker](),
			container.WithInstance(impl),
			container.AsSingleton()))
	}

	if err := errs.Errors(); err != nil {
		return err
	}

	// Resolving runs Init on lifecycle services and hands them to the
	// container for cleanup on shutdown.
	logger, err := container.Resolve[log.LoggerService](ctx, lsa.sc)
	if err != nil {
		return fmt.Errorf("failed to resolve logger: %w", err)
	}
	resolved, err := container.Resolve[store.CatalogStore](ctx, lsa.sc)
	if err != nil {
		catalog.Close()
		return fmt.Errorf("failed to open %s catalog: %w", lsa.cfg.Metadata.Type, err)
	}
	lsa.log.Info("Opened %s catalog", lsa.cfg.Metadata.Type)

	var locker lock.Locker
	if lsa.cfg.Lock.Type == config.LockTypeLocal || lsa.cfg.Lock.Type == config.LockTypeRedis {
		if locker, err = container.Resolve[lock.Locker](ctx, lsa.sc); err != nil {
			return fmt.Errorf("failed to set up %s locker: %w", lsa.cfg.Lock.Type, err)
		}
	}

	var refresher rebuild.Refresher
	if trigger, ok := NewRefresher(lsa.cfg, resolved, logger.Named("refresh")).(*refresh.Trigger); ok {
		lsa.log.Debug("Registering 'Refresher'...")
		err := container.Register[*refresh.Trigger](lsa.sc,
			container.With[rebuild.Refresher](),
			container.WithInstance(trigger),
			container.AsSingleton())
		if err != nil {
			return err
		}
		if refresher, err = container.Resolve[rebuild.Refresher](ctx, lsa.sc); err != nil {
			return fmt.Errorf("failed to resolve refresher: %w", err)
		}
	}

	lsa.components = NewComponents(lsa.cfg, resolved, locker, refresher, logger)
	return nil
}

func (lsa *LakeSyncAgent) setupServer() error {
	if !lsa.cfg.HTTP.Enabled {
		return nil
	}

	c := lsa.components
	handler := api.NewHandler(c.Catalog, c.Service, c.Deleter, c.Lifecycle, c.Factory, lsa.log.Named("api"), api.Config{
		Token:          lsa.cfg.HTTP.Token,
		AdminAccessKey: lsa.cfg.Admin.AccessKey,
		AdminSecretKey: lsa.cfg.Admin.SecretKey,
		PresignTTL:     config.ParseDuration(lsa.cfg.Storage.PresignTTL, time.Hour),
	})

	lsa.server = api.NewServer(lsa.cfg.HTTP.Address, handler.Router(),
		config.ParseDuration(lsa.cfg.HTTP.ReadTimeout, 15*time.Second),
		config.ParseDuration(lsa.cfg.HTTP.WriteTimeout, 5*time.Minute),
		lsa.log.Named("http"))

	errCh, err := lsa.server.Start()
	if err != nil {
		return fmt.Errorf("failed to start http server: %w", err)
	}

	lsa.wait.Add(1)
	go func() {
		defer lsa.wait.Done()
		for err := range errCh {
			lsa.log.Error("HTTP server stopped: %v", err)
		}
	}()

	return nil
}

func (lsa *LakeSyncAgent) Serve(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, os.Interrupt)
	defer cancel()

	lsa.mutex.Lock()

	if err := lsa.setupServices(ctx); err != nil {
		lsa.mutex.Unlock()
		lsa.cleanup(context.Background())
		return err
	}
	if err := lsa.setupServer(); err != nil {
		lsa.mutex.Unlock()
		lsa.cleanup(context.Background())
		return err
	}

	lsa.scheduler = rebuild.NewScheduler(lsa.components.Service,
		config.ParseDuration(lsa.cfg.Rebuild.Interval, 0), lsa.log.Named("scheduler"))
	lsa.scheduler.Start(ctx)

	lsa.mutex.Unlock()
	<-ctx.Done()

	timeout, err := time.ParseDuration(lsa.cfg.ShutdownTimeout)
	if err != nil {
		// Set default of 60 seconds if error
		timeout = 60 * time.Second
	}

	shutdown, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	lsa.mutex.Lock()
	defer lsa.mutex.Unlock()

	if lsa.server != nil {
		if err := lsa.server.Shutdown(shutdown); err != nil {
			lsa.log.Warn("Failed to shutdown http server: %v", err)
		}
	}
	lsa.scheduler.Stop()

	if err := lsa.sc.Cleanup(shutdown); err != nil {
		return fmt.Errorf("failed to complete service container cleanup: %w", err)
	}

	lsa.wait.Wait()
	return nil
}

// cleanup releases whatever setupServices already resolved.
func (lsa *LakeSyncAgent) cleanup(ctx context.Context) {
	if err := lsa.sc.Cleanup(ctx); err != nil {
		lsa.log.Warn("Failed to clean up services: %v", err)
	}
}
