package rebuild

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mwantia/lakesync/pkg/db/models"
	"github.com/mwantia/lakesync/pkg/db/store"
	"github.com/mwantia/lakesync/pkg/lock"
	"github.com/mwantia/lakesync/pkg/log"
	"github.com/mwantia/lakesync/pkg/objstore"
)

const (
	DefaultAttempts   = 3
	DefaultRetryDelay = 500 * time.Millisecond
	DefaultLockTTL    = 5 * time.Minute
)

type ReconcilerOptions struct {
	Attempts   int
	RetryDelay time.Duration

	// Endpoint and UseSSL are only used to derive file URLs.
	Endpoint string
	UseSSL   bool

	// Locker serializes passes of the same account when set.
	Locker  lock.Locker
	LockTTL time.Duration
}

// Reconciler keeps the file catalog of an account in line with its bucket.
type Reconciler struct {
	catalog store.CatalogStore
	factory objstore.Factory
	logger  log.LoggerService
	opts    ReconcilerOptions
	now     func() time.Time
}

func NewReconciler(catalog store.CatalogStore, factory objstore.Factory, logger log.LoggerService, opts ReconcilerOptions) *Reconciler {
	if opts.Attempts <= 0 {
		opts.Attempts = DefaultAttempts
	}
	if opts.RetryDelay < 0 {
		opts.RetryDelay = 0
	}
	if opts.LockTTL <= 0 {
		opts.LockTTL = DefaultLockTTL
	}

	return &Reconciler{
		catalog: catalog,
		factory: factory,
		logger:  logger,
		opts:    opts,
		now:     time.Now,
	}
}

func credentialsOf(account *models.Account) objstore.Credentials {
	return objstore.Credentials{
		AccessKey: account.AccessKey,
		SecretKey: account.SecretKey,
		Bucket:    account.Bucket,
		Region:    account.Region,
	}
}

func LockKey(accountID string) string {
	return "lakesync:rebuild:" + accountID
}

// pass performs one attempt and returns the affected files once its
// changes are committed.
type pass func(ctx context.Context, client objstore.ObjectStore, account *models.Account) ([]AffectedFile, error)

// Reconcile walks the whole bucket listing and applies the difference to
// the catalog in one transaction.
func (r *Reconciler) Reconcile(ctx context.Context, account *models.Account) Result {
	return r.run(ctx, "reconcile", account, r.reconcilePass)
}

// UpdateKeys refreshes only the given keys, e.g. after an upload
// notification. Keys that no longer exist are removed from the catalog.
func (r *Reconciler) UpdateKeys(ctx context.Context, account *models.Account, keys []string) Result {
	keys = uniqueKeys(keys)
	if len(keys) == 0 {
		return Result{Status: StatusOK}
	}

	return r.run(ctx, "update_keys", account, func(ctx context.Context, client objstore.ObjectStore, account *models.Account) ([]AffectedFile, error) {
		return r.updateKeysPass(ctx, client, account, keys)
	})
}

func (r *Reconciler) run(ctx context.Context, operation string, account *models.Account, attempt pass) Result {
	started := time.Now()
	result := r.retry(ctx, operation, account, attempt)
	rebuildDuration.WithLabelValues(operation, string(result.Status)).Observe(time.Since(started).Seconds())

	if result.OK() {
		rebuildFilesTotal.WithLabelValues(string(ChangeCreated)).Add(float64(result.Count(ChangeCreated)))
		rebuildFilesTotal.WithLabelValues(string(ChangeUpdated)).Add(float64(result.Count(ChangeUpdated)))
		rebuildFilesTotal.WithLabelValues(string(ChangeDeleted)).Add(float64(result.Count(ChangeDeleted)))
	}
	return result
}

func (r *Reconciler) retry(ctx context.Context, operation string, account *models.Account, attempt pass) Result {
	if account == nil || !account.HasCredentials() {
		rebuildAttemptsTotal.WithLabelValues(string(StatusConfigError)).Inc()
		id := ""
		if account != nil {
			id = account.ID
		}
		r.logger.Error("Unable to %s account '%s': %v", operation, id, ErrMissingCredentials)
		return Result{Status: StatusConfigError, Err: ErrMissingCredentials}
	}

	client, err := r.factory.New(credentialsOf(account))
	if err != nil {
		rebuildAttemptsTotal.WithLabelValues(string(StatusConfigError)).Inc()
		r.logger.Error("Unable to create object store client for account '%s': %v", account.ID, err)
		return Result{Status: StatusConfigError, Err: err}
	}

	var lastErr error
	attempts := 0
	for attempts < r.opts.Attempts {
		attempts++

		affected, err := r.locked(ctx, account.ID, func() ([]AffectedFile, error) {
			return attempt(ctx, client, account)
		})
		if err == nil {
			rebuildAttemptsTotal.WithLabelValues("success").Inc()
			r.logger.Debug("Completed %s of account '%s' after %d attempt(s) with %d affected file(s)",
				operation, account.ID, attempts, len(affected))
			return Result{Status: StatusOK, Affected: affected, Attempts: attempts}
		}

		rebuildAttemptsTotal.WithLabelValues("failure").Inc()
		lastErr = err
		r.logger.Warn("Attempt %d/%d to %s account '%s' failed: %v", attempts, r.opts.Attempts, operation, account.ID, err)

		if !retryable(err) || attempts == r.opts.Attempts {
			break
		}
		if err := sleep(ctx, r.opts.RetryDelay); err != nil {
			lastErr = err
			break
		}
	}

	r.logger.Error("Giving up to %s account '%s' after %d attempt(s): %v", operation, account.ID, attempts, lastErr)
	return Result{Status: StatusDegraded, Attempts: attempts, Err: lastErr}
}

func (r *Reconciler) locked(ctx context.Context, accountID string, fn func() ([]AffectedFile, error)) ([]AffectedFile, error) {
	if r.opts.Locker == nil {
		return fn()
	}

	var affected []AffectedFile
	err := lock.WithLock(ctx, r.opts.Locker, LockKey(accountID), r.opts.LockTTL, func() error {
		var err error
		affected, err = fn()
		return err
	})
	return affected, err
}

// retryable treats every failure as transient except permanent object
// store errors and cancellation.
func retryable(err error) bool {
	if errors.Is(err, context.Canceled) {
		return false
	}

	var storeErr *objstore.Error
	if errors.As(err, &storeErr) {
		return objstore.IsTransient(err)
	}
	return true
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// diff collects the changes of one attempt. It is discarded when the
// attempt fails.
type diff struct {
	account  *models.Account
	endpoint string
	useSSL   bool

	changes  store.ChangeSet
	affected []AffectedFile
	// created maps positions in affected to the records in changes.Create,
	// which only receive their IDs on commit.
	created map[int]*models.File
}

func (r *Reconciler) newDiff(account *models.Account) *diff {
	return &diff{
		account:  account,
		endpoint: r.opts.Endpoint,
		useSSL:   r.opts.UseSSL,
		changes:  store.ChangeSet{CheckedAt: r.now().UTC()},
		created:  make(map[int]*models.File),
	}
}

// observe records one object seen in the bucket against its catalog record,
// which is nil for unknown keys.
func (d *diff) observe(existing *models.File, object objstore.ObjectInfo) {
	now := d.changes.CheckedAt
	url := models.FileURL(d.endpoint, d.account.Bucket, object.Key, d.useSSL)

	if existing == nil {
		file := &models.File{
			AccountID:    d.account.ID,
			Key:          object.Key,
			Size:         object.Size,
			ETag:         object.ETag,
			URL:          url,
			Version:      1,
			LastModified: object.LastModified.UTC(),
			LastChecked:  now,
		}
		d.changes.Create = append(d.changes.Create, file)
		d.created[len(d.affected)] = file
		d.affected = append(d.affected, AffectedFile{File: *file, Change: ChangeCreated})
		return
	}

	if !existing.ContentChanged(object.Size, object.LastModified) {
		d.changes.Touch = append(d.changes.Touch, existing.ID)
		return
	}

	d.affected = append(d.affected, AffectedFile{File: *existing, Change: ChangeUpdated})

	existing.Size = object.Size
	existing.ETag = object.ETag
	existing.URL = url
	existing.LastModified = object.LastModified.UTC()
	existing.LastChecked = now
	existing.Version++
	d.changes.Update = append(d.changes.Update, existing)
}

func (d *diff) remove(existing *models.File) {
	d.affected = append(d.affected, AffectedFile{File: *existing, Change: ChangeDeleted})
	d.changes.Delete = append(d.changes.Delete, existing.ID)
}

// commit applies the changes in one transaction and returns the affected
// files with the IDs of created records filled in.
func (d *diff) commit(ctx context.Context, catalog store.CatalogStore) ([]AffectedFile, error) {
	if err := catalog.ApplyChanges(ctx, d.account.ID, d.changes); err != nil {
		return nil, fmt.Errorf("failed to commit catalog changes: %w", err)
	}

	for i, file := range d.created {
		d.affected[i].File = *file
	}
	return d.affected, nil
}

func (r *Reconciler) reconcilePass(ctx context.Context, client objstore.ObjectStore, account *models.Account) ([]AffectedFile, error) {
	known, err := r.catalog.ListAccountFiles(ctx, account.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to load catalog: %w", err)
	}

	byKey := make(map[string]*models.File, len(known))
	for i := range known {
		byKey[known[i].Key] = &known[i]
	}

	d := r.newDiff(account)
	seen := make(map[string]struct{}, len(known))
	token := ""
	pages := 0

	for {
		page, err := client.ListPage(ctx, account.Bucket, token)
		if err != nil {
			return nil, fmt.Errorf("failed to list page %d: %w", pages+1, err)
		}
		pages++

		for _, object := range page.Objects {
			if _, ok := seen[object.Key]; ok {
				continue
			}
			seen[object.Key] = struct{}{}
			d.observe(byKey[object.Key], object)
		}

		if !page.Truncated {
			break
		}
		if page.NextToken == "" || page.NextToken == token {
			return nil, fmt.Errorf("listing of bucket '%s' is truncated without a usable continuation token", account.Bucket)
		}
		token = page.NextToken
	}

	// Only now that every page has been seen is a missing key really gone.
	for i := range known {
		if _, ok := seen[known[i].Key]; !ok {
			d.remove(&known[i])
		}
	}

	r.logger.Debug("Listed %d object(s) in %d page(s) for account '%s'", len(seen), pages, account.ID)
	return d.commit(ctx, r.catalog)
}

func (r *Reconciler) updateKeysPass(ctx context.Context, client objstore.ObjectStore, account *models.Account, keys []string) ([]AffectedFile, error) {
	d := r.newDiff(account)

	for _, key := range keys {
		existing, err := r.catalog.GetFile(ctx, account.ID, key)
		if err != nil && !errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("failed to load '%s': %w", key, err)
		}

		object, err := client.HeadObject(ctx, account.Bucket, key)
		switch {
		case objstore.IsNotFound(err):
			if existing != nil {
				d.remove(existing)
			}
		case err != nil:
			return nil, err
		default:
			d.observe(existing, object)
		}
	}

	return d.commit(ctx, r.catalog)
}

func uniqueKeys(keys []string) []string {
	seen := make(map[string]struct{}, len(keys))
	unique := make([]string, 0, len(keys))
	for _, key := range keys {
		key = strings.TrimPrefix(strings.TrimSpace(key), "/")
		if key == "" {
			continue
		}
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		unique = append(unique, key)
	}
	return unique
}
