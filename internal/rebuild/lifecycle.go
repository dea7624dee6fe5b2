package rebuild

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/mwantia/lakesync/pkg/db/models"
	"github.com/mwantia/lakesync/pkg/db/store"
	"github.com/mwantia/lakesync/pkg/log"
	"github.com/mwantia/lakesync/pkg/objstore"
)

// Callback is what the aggregation worker reports for a source run.
type Callback struct {
	Key   string `json:"key"`
	Size  int64  `json:"size"`
	Error string `json:"error,omitempty"`
}

// Lifecycle drives the refresh state machine of sources.
type Lifecycle struct {
	catalog  store.CatalogStore
	factory  objstore.Factory
	logger   log.LoggerService
	endpoint string
	useSSL   bool
	now      func() time.Time
}

func NewLifecycle(catalog store.CatalogStore, factory objstore.Factory, logger log.LoggerService, endpoint string, useSSL bool) *Lifecycle {
	return &Lifecycle{
		catalog:  catalog,
		factory:  factory,
		logger:   logger,
		endpoint: endpoint,
		useSSL:   useSSL,
		now:      time.Now,
	}
}

// StartSource moves a source into running and persists it.
func (l *Lifecycle) StartSource(ctx context.Context, sourceID uint) (*models.Source, error) {
	source, err := l.catalog.GetSource(ctx, sourceID)
	if err != nil {
		return nil, err
	}
	if err := source.Start(); err != nil {
		return nil, err
	}
	if err := l.catalog.UpdateSource(ctx, source); err != nil {
		return nil, fmt.Errorf("failed to persist source %d: %w", sourceID, err)
	}
	return source, nil
}

// HandleCallback finishes a running source. A successful aggregate is
// recorded as a file, bumping its version on every callback. Size and
// modification time are taken from the bucket so the next reconciliation
// sees the aggregate as unchanged.
func (l *Lifecycle) HandleCallback(ctx context.Context, sourceID uint, cb Callback) (*models.Source, error) {
	source, err := l.catalog.GetSource(ctx, sourceID)
	if err != nil {
		return nil, err
	}
	if source.State != models.SourceRunning {
		return nil, models.ErrSourceNotRunning
	}

	if cb.Error != "" {
		if err := source.Fail(cb.Error); err != nil {
			return nil, err
		}
		if err := l.catalog.UpdateSource(ctx, source); err != nil {
			return nil, fmt.Errorf("failed to persist source %d: %w", sourceID, err)
		}
		l.logger.Warn("Aggregation of source %d failed: %s", sourceID, cb.Error)
		return source, nil
	}

	key := strings.TrimPrefix(strings.TrimSpace(cb.Key), "/")
	if key == "" || cb.Size < 0 {
		return nil, fmt.Errorf("%w: key is required and size must not be negative", ErrInvalidCallback)
	}

	account, err := l.catalog.GetAccount(ctx, source.AccountID)
	if err != nil {
		return nil, fmt.Errorf("failed to load account '%s': %w", source.AccountID, err)
	}

	now := l.now().UTC()
	object, err := l.stat(ctx, account, key)
	if err != nil {
		return nil, fmt.Errorf("failed to stat aggregate '%s': %w", key, err)
	}
	if object == nil {
		l.logger.Warn("Aggregate '%s' of source %d is not in bucket '%s', recording reported size", key, sourceID, account.Bucket)
		object = &objstore.ObjectInfo{Key: key, Size: cb.Size, LastModified: now}
	}

	file, err := l.catalog.RecordAggregate(ctx, account.ID, key, object.Size,
		models.FileURL(l.endpoint, account.Bucket, key, l.useSSL), object.LastModified.UTC(), now)
	if err != nil {
		return nil, fmt.Errorf("failed to record aggregate '%s': %w", key, err)
	}

	files, err := l.catalog.ListAccountFiles(ctx, account.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to list files: %w", err)
	}

	if err := source.Succeed(file.ID, MaxPathLevel(MatchFiles(files, FilterOf(source))), now); err != nil {
		return nil, err
	}
	if err := l.catalog.UpdateSource(ctx, source); err != nil {
		return nil, fmt.Errorf("failed to persist source %d: %w", sourceID, err)
	}

	l.logger.Info("Source %d aggregated into '%s' (version %d)", sourceID, key, file.Version)
	return source, nil
}

// stat heads the aggregate in the account's bucket. It returns nil when the
// object does not exist or the account cannot reach its bucket.
func (l *Lifecycle) stat(ctx context.Context, account *models.Account, key string) (*objstore.ObjectInfo, error) {
	if l.factory == nil || !account.HasCredentials() {
		return nil, nil
	}

	client, err := l.factory.New(credentialsOf(account))
	if err != nil {
		return nil, err
	}

	object, err := client.HeadObject(ctx, account.Bucket, key)
	switch {
	case objstore.IsNotFound(err):
		return nil, nil
	case err != nil:
		return nil, err
	}
	return &object, nil
}
