package agent

import (
	"context"
	"fmt"
	"time"

	config "github.com/mwantia/lakesync/internal/config/server"
	"github.com/mwantia/lakesync/internal/rebuild"
	"github.com/mwantia/lakesync/internal/refresh"
	"github.com/mwantia/lakesync/pkg/db/store"
	"github.com/mwantia/lakesync/pkg/lock"
	"github.com/mwantia/lakesync/pkg/log"
	"github.com/mwantia/lakesync/pkg/objstore"
)

// Components are the rebuild services built from one configuration. The
// agent serves them over HTTP; the catalog commands use them directly.
type Components struct {
	Catalog     store.CatalogStore
	Factory     objstore.Factory
	Locker      lock.Locker
	Reconciler  *rebuild.Reconciler
	Invalidator *rebuild.Invalidator
	Deleter     *rebuild.Deleter
	Lifecycle   *rebuild.Lifecycle
	Service     *rebuild.Service
}

// NewCatalog builds the configured metadata store without connecting it.
func NewCatalog(cfg config.MetadataServerConfig) (store.CatalogStore, error) {
	level := store.ParseLogLevel(cfg.LogLevel)
	switch cfg.Type {
	case config.MetadataTypeSQLite:
		return store.NewSQLiteStore(store.SQLiteConfig{
			Path:     cfg.SQLite.Path,
			LogLevel: level,
		})
	case config.MetadataTypePostgres:
		return store.NewPostgresStore(store.PostgresConfig{
			DSN:          cfg.Postgres.DSN,
			MaxOpenConns: cfg.Postgres.MaxOpenConns,
			MaxIdleConns: cfg.Postgres.MaxIdleConns,
			LogLevel:     level,
		})
	default:
		return nil, fmt.Errorf("unsupported metadata type '%s'", cfg.Type)
	}
}

// OpenCatalog connects to the configured metadata database and applies
// pending migrations.
func OpenCatalog(ctx context.Context, cfg config.MetadataServerConfig) (store.CatalogStore, error) {
	catalog, err := NewCatalog(cfg)
	if err != nil {
		return nil, err
	}

	if err := catalog.Init(ctx); err != nil {
		catalog.Close()
		return nil, fmt.Errorf("failed to open %s catalog: %w", cfg.Type, err)
	}
	return catalog, nil
}

// NewLocker builds the configured locker without contacting it. It returns
// nil when locking is disabled.
func NewLocker(cfg config.LockServerConfig) lock.Locker {
	switch cfg.Type {
	case config.LockTypeLocal:
		return lock.NewLocalLocker()
	case config.LockTypeRedis:
		return lock.NewRedisLocker(lock.RedisConfig{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
	default:
		return nil
	}
}

// OpenLocker is NewLocker followed by a reachability check for redis.
func OpenLocker(ctx context.Context, cfg config.LockServerConfig) (lock.Locker, error) {
	locker := NewLocker(cfg)
	if client, ok := locker.(*lock.RedisLocker); ok {
		if err := client.Init(ctx); err != nil {
			client.Close()
			return nil, fmt.Errorf("failed to reach redis at '%s': %w", cfg.Redis.Addr, err)
		}
	}
	return locker, nil
}

// NewRefresher returns the refresh trigger, or nil when rebuilds should not
// hand dirty sources to the aggregation worker.
func NewRefresher(cfg *config.BaseServerConfig, catalog store.CatalogStore, logger log.LoggerService) rebuild.Refresher {
	trigger := refresh.NewTrigger(catalog, logger, refresh.Config{
		WorkerURL:   cfg.Refresh.WorkerURL,
		AccountURL:  cfg.Refresh.AccountURL,
		SendTimeout: config.ParseDuration(cfg.Refresh.SendTimeout, refresh.DefaultSendTimeout),
	})
	if !cfg.Rebuild.RefreshOnRebuild || !trigger.Enabled() {
		return nil
	}
	return trigger
}

func NewComponents(cfg *config.BaseServerConfig, catalog store.CatalogStore, locker lock.Locker, refresher rebuild.Refresher, logger log.LoggerService) *Components {
	cache := objstore.NewPresignCache(cfg.Storage.PresignCacheSize,
		config.ParseDuration(cfg.Storage.PresignTTL, time.Hour)/4)
	factory := objstore.NewMinioFactory(objstore.MinioConfig{
		Endpoint: cfg.Storage.Endpoint,
		UseSSL:   cfg.Storage.UseSSL,
		Region:   cfg.Storage.Region,
		PageSize: cfg.Storage.PageSize,
	}, cache)

	reconciler := rebuild.NewReconciler(catalog, factory, logger.Named("reconciler"), rebuild.ReconcilerOptions{
		Attempts:   cfg.Rebuild.Attempts,
		RetryDelay: config.ParseDuration(cfg.Rebuild.RetryDelay, rebuild.DefaultRetryDelay),
		Endpoint:   cfg.Storage.Endpoint,
		UseSSL:     cfg.Storage.UseSSL,
		Locker:     locker,
		LockTTL:    config.ParseDuration(cfg.Lock.TTL, rebuild.DefaultLockTTL),
	})
	invalidator := rebuild.NewInvalidator(catalog, logger.Named("invalidator"))

	return &Components{
		Catalog:     catalog,
		Factory:     factory,
		Locker:      locker,
		Reconciler:  reconciler,
		Invalidator: invalidator,
		Deleter:     rebuild.NewDeleter(catalog, factory, logger.Named("deleter")),
		Lifecycle:   rebuild.NewLifecycle(catalog, factory, logger.Named("lifecycle"), cfg.Storage.Endpoint, cfg.Storage.UseSSL),
		Service:     rebuild.NewService(catalog, reconciler, invalidator, refresher, logger.Named("rebuild")),
	}
}
