package rebuild

import (
	"context"
	"errors"
	"fmt"

	"github.com/mwantia/lakesync/pkg/db/models"
	"github.com/mwantia/lakesync/pkg/db/store"
	"github.com/mwantia/lakesync/pkg/log"
	"github.com/mwantia/lakesync/pkg/objstore"
)

// Deleter removes files from the bucket, including every stored version,
// and then from the catalog.
type Deleter struct {
	catalog store.CatalogStore
	factory objstore.Factory
	logger  log.LoggerService
}

func NewDeleter(catalog store.CatalogStore, factory objstore.Factory, logger log.LoggerService) *Deleter {
	return &Deleter{
		catalog: catalog,
		factory: factory,
		logger:  logger,
	}
}

// DeleteFiles succeeds when at least one of the files was removed. Files
// that could not be removed stay in the catalog and are reported through a
// *PartialDeletionError.
func (d *Deleter) DeleteFiles(ctx context.Context, creds objstore.Credentials, accountID string, files []models.File) (bool, error) {
	keys := make([]string, 0, len(files))
	for _, file := range files {
		keys = append(keys, file.Key)
	}
	keys = uniqueKeys(keys)
	if len(keys) == 0 {
		return false, ErrNoFiles
	}

	if err := creds.Validate(); err != nil {
		return false, err
	}
	client, err := d.factory.New(creds)
	if err != nil {
		return false, fmt.Errorf("failed to create object store client: %w", err)
	}

	var (
		failed []string
		errs   []error
	)
	deleted := 0
	for _, key := range keys {
		if err := d.deleteOne(ctx, client, creds.Bucket, accountID, key); err != nil {
			deletedFilesTotal.WithLabelValues("failed").Inc()
			d.logger.Warn("Skipping deletion of '%s' in account '%s': %v", key, accountID, err)
			failed = append(failed, key)
			errs = append(errs, fmt.Errorf("%s: %w", key, err))
			continue
		}

		deletedFilesTotal.WithLabelValues("deleted").Inc()
		deleted++
	}

	d.logger.Info("Deleted %d of %d file(s) in account '%s'", deleted, len(keys), accountID)
	if len(failed) == 0 {
		return true, nil
	}

	return deleted > 0, &PartialDeletionError{
		Keys:    failed,
		Total:   len(keys),
		Deleted: deleted,
		Err:     errors.Join(errs...),
	}
}

func (d *Deleter) deleteOne(ctx context.Context, client objstore.ObjectStore, bucket, accountID, key string) error {
	versions, err := client.ListVersions(ctx, bucket, key)
	if err != nil {
		return fmt.Errorf("failed to list versions: %w", err)
	}

	// The listing is prefix based; "a.csv" must not take "a.csv.bak" along.
	exact := make([]objstore.ObjectVersion, 0, len(versions))
	for _, version := range versions {
		if version.Key == key {
			exact = append(exact, version)
		}
	}

	if failures := client.DeleteObjects(ctx, bucket, exact); len(failures) > 0 {
		errs := make([]error, 0, len(failures))
		for _, failure := range failures {
			errs = append(errs, fmt.Errorf("version '%s': %w", failure.VersionID, failure.Err))
		}
		return fmt.Errorf("failed to delete %d of %d version(s): %w", len(failures), len(exact), errors.Join(errs...))
	}

	_, err = client.HeadObject(ctx, bucket, key)
	switch {
	case err == nil:
		return fmt.Errorf("object still exists after deleting %d version(s)", len(exact))
	case !objstore.IsNotFound(err):
		return fmt.Errorf("failed to verify deletion: %w", err)
	}

	file, err := d.catalog.GetFile(ctx, accountID, key)
	if errors.Is(err, store.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to load catalog record: %w", err)
	}
	if err := d.catalog.DeleteFile(ctx, file.ID); err != nil {
		return fmt.Errorf("failed to delete catalog record: %w", err)
	}
	return nil
}
