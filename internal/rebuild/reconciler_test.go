package rebuild

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/mwantia/lakesync/pkg/db/models"
	"github.com/mwantia/lakesync/pkg/db/store"
	"github.com/mwantia/lakesync/pkg/lock"
	"github.com/mwantia/lakesync/pkg/log"
	"github.com/mwantia/lakesync/pkg/objstore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func throttled(int) error {
	return &objstore.Error{Op: "ListPage", Bucket: "lake", Err: objstore.ErrThrottled}
}

func TestReconcile_Scenario(t *testing.T) {
	ctx := context.Background()
	catalog := newCatalog(t)
	account := newAccount(t, catalog, "acc")
	seedFile(t, catalog, account.ID, "a.csv", 100, t0)

	bucket := newMemoryStore()
	bucket.put("a.csv", 200, t1)
	bucket.put("b.csv", 50, t1)

	result := newTestReconciler(catalog, bucket, ReconcilerOptions{}).Reconcile(ctx, account)
	require.True(t, result.OK(), "unexpected error: %v", result.Err)
	require.Len(t, result.Affected, 2)
	assert.Equal(t, 1, result.Attempts)

	updated := result.Affected[0]
	assert.Equal(t, ChangeUpdated, updated.Change)
	assert.Equal(t, "a.csv", updated.File.Key)
	assert.Equal(t, int64(100), updated.File.Size, "affected entry holds the record before the update")

	created := result.Affected[1]
	assert.Equal(t, ChangeCreated, created.Change)
	assert.Equal(t, "b.csv", created.File.Key)
	assert.Equal(t, int64(1), created.File.Version)
	assert.NotZero(t, created.File.ID)

	a, err := catalog.GetFile(ctx, account.ID, "a.csv")
	require.NoError(t, err)
	assert.Equal(t, int64(200), a.Size)
	assert.Equal(t, int64(2), a.Version)
	assert.True(t, a.LastModified.Equal(t1))

	b, err := catalog.GetFile(ctx, account.ID, "b.csv")
	require.NoError(t, err)
	assert.Equal(t, int64(50), b.Size)
	assert.Equal(t, int64(1), b.Version)
	assert.Equal(t, "https://acc-lake.s3.amazonaws.com/b.csv", b.URL)
}

func TestReconcile_Idempotent(t *testing.T) {
	ctx := context.Background()
	catalog := newCatalog(t)
	account := newAccount(t, catalog, "acc")

	bucket := newMemoryStore()
	bucket.put("data/a.csv", 10, t0)
	bucket.put("data/b.csv", 20, t0)

	r := newTestReconciler(catalog, bucket, ReconcilerOptions{})
	first := time.Date(2024, 4, 1, 0, 0, 0, 0, time.UTC)
	second := first.Add(time.Hour)

	r.now = func() time.Time { return first }
	result := r.Reconcile(ctx, account)
	require.True(t, result.OK())
	assert.Len(t, result.Affected, 2)

	before, err := catalog.ListAccountFiles(ctx, account.ID)
	require.NoError(t, err)

	r.now = func() time.Time { return second }
	result = r.Reconcile(ctx, account)
	require.True(t, result.OK())
	assert.Empty(t, result.Affected)

	after, err := catalog.ListAccountFiles(ctx, account.ID)
	require.NoError(t, err)
	require.Len(t, after, len(before))
	for i := range after {
		assert.Equal(t, before[i].Version, after[i].Version)
		assert.Equal(t, before[i].Size, after[i].Size)
		assert.True(t, before[i].LastModified.Equal(after[i].LastModified))
		assert.True(t, after[i].LastChecked.Equal(second), "last_checked of %s", after[i].Key)
	}
}

func TestReconcile_Pagination(t *testing.T) {
	ctx := context.Background()
	catalog := newCatalog(t)
	account := newAccount(t, catalog, "acc")

	// e.csv is only listed on the last page.
	seedFile(t, catalog, account.ID, "e.csv", 5, t0)

	bucket := newMemoryStore()
	bucket.pageSize = 2
	for _, key := range []string{"a.csv", "b.csv", "c.csv", "d.csv"} {
		bucket.put(key, 1, t0)
	}
	bucket.put("e.csv", 5, t0)

	result := newTestReconciler(catalog, bucket, ReconcilerOptions{}).Reconcile(ctx, account)
	require.True(t, result.OK())
	assert.Equal(t, 3, bucket.listCalls)
	assert.Equal(t, 4, result.Count(ChangeCreated))
	assert.Zero(t, result.Count(ChangeDeleted))

	_, err := catalog.GetFile(ctx, account.ID, "e.csv")
	assert.NoError(t, err)
}

func TestReconcile_DeletesMissingFiles(t *testing.T) {
	ctx := context.Background()
	catalog := newCatalog(t)
	account := newAccount(t, catalog, "acc")
	seedFile(t, catalog, account.ID, "gone.csv", 7, t0)
	seedFile(t, catalog, account.ID, "kept.csv", 8, t0)

	bucket := newMemoryStore()
	bucket.put("kept.csv", 8, t0)

	result := newTestReconciler(catalog, bucket, ReconcilerOptions{}).Reconcile(ctx, account)
	require.True(t, result.OK())
	require.Len(t, result.Affected, 1)
	assert.Equal(t, ChangeDeleted, result.Affected[0].Change)
	assert.Equal(t, "gone.csv", result.Affected[0].File.Key)
	assert.Equal(t, int64(7), result.Affected[0].File.Size)

	_, err := catalog.GetFile(ctx, account.ID, "gone.csv")
	assert.Error(t, err)
}

func TestReconcile_RetryExhaustion(t *testing.T) {
	ctx := context.Background()
	catalog := newCatalog(t)
	account := newAccount(t, catalog, "acc")
	seedFile(t, catalog, account.ID, "old.csv", 1, t0)

	bucket := newMemoryStore()
	bucket.put("new.csv", 1, t0)
	bucket.listErr = throttled

	result := newTestReconciler(catalog, bucket, ReconcilerOptions{}).Reconcile(ctx, account)
	assert.Equal(t, StatusDegraded, result.Status)
	assert.Equal(t, 3, result.Attempts)
	assert.Equal(t, 3, bucket.listCalls)
	assert.Empty(t, result.Affected)
	assert.ErrorIs(t, result.Err, objstore.ErrThrottled)

	files, err := catalog.ListAccountFiles(ctx, account.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"old.csv"}, fileKeys(files))
}

func TestReconcile_FailureOnLaterPageCommitsNothing(t *testing.T) {
	ctx := context.Background()
	catalog := newCatalog(t)
	account := newAccount(t, catalog, "acc")
	seedFile(t, catalog, account.ID, "z.csv", 1, t0)

	bucket := newMemoryStore()
	bucket.pageSize = 1
	bucket.put("a.csv", 1, t0)
	bucket.put("b.csv", 1, t0)
	bucket.listErr = func(call int) error {
		if call%2 == 0 {
			return throttled(call)
		}
		return nil
	}

	result := newTestReconciler(catalog, bucket, ReconcilerOptions{}).Reconcile(ctx, account)
	assert.Equal(t, StatusDegraded, result.Status)
	assert.Equal(t, 3, result.Attempts)

	files, err := catalog.ListAccountFiles(ctx, account.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"z.csv"}, fileKeys(files))
}

func TestReconcile_RecoversAfterTransientFailure(t *testing.T) {
	ctx := context.Background()
	catalog := newCatalog(t)
	account := newAccount(t, catalog, "acc")

	bucket := newMemoryStore()
	bucket.put("a.csv", 1, t0)
	bucket.put("b.csv", 1, t0)
	bucket.listErr = func(call int) error {
		if call == 1 {
			return throttled(call)
		}
		return nil
	}

	result := newTestReconciler(catalog, bucket, ReconcilerOptions{}).Reconcile(ctx, account)
	require.True(t, result.OK())
	assert.Equal(t, 2, result.Attempts)
	assert.Len(t, result.Affected, 2)
}

func TestReconcile_RetriesFailedCommitOnce(t *testing.T) {
	ctx := context.Background()
	sqlite := newCatalog(t)
	account := newAccount(t, sqlite, "acc")
	seedFile(t, sqlite, account.ID, "a.csv", 100, t0)
	seedFile(t, sqlite, account.ID, "c.csv", 1, t0)

	bucket := newMemoryStore()
	bucket.put("a.csv", 200, t1)
	bucket.put("b.csv", 50, t1)

	catalog := &faultyCatalog{CatalogStore: sqlite, applyFailures: 1}
	result := newTestReconciler(catalog, bucket, ReconcilerOptions{}).Reconcile(ctx, account)
	require.True(t, result.OK(), "unexpected error: %v", result.Err)
	assert.Equal(t, 2, result.Attempts)
	assert.Equal(t, 2, catalog.applyCalls)

	// The failed attempt leaves nothing behind in the result.
	seen := map[string]int{}
	for _, a := range result.Affected {
		seen[a.File.Key]++
	}
	assert.Equal(t, map[string]int{"a.csv": 1, "b.csv": 1, "c.csv": 1}, seen)
	assert.Equal(t, 1, result.Count(ChangeCreated))
	assert.Equal(t, 1, result.Count(ChangeUpdated))
	assert.Equal(t, 1, result.Count(ChangeDeleted))

	a, err := sqlite.GetFile(ctx, account.ID, "a.csv")
	require.NoError(t, err)
	assert.Equal(t, int64(2), a.Version)
	assert.Equal(t, int64(200), a.Size)

	files, err := sqlite.ListAccountFiles(ctx, account.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"a.csv", "b.csv"}, fileKeys(files))
}

func TestReconcile_PermanentStoreErrorIsNotRetried(t *testing.T) {
	catalog := newCatalog(t)
	account := newAccount(t, catalog, "acc")

	bucket := newMemoryStore()
	bucket.listErr = func(int) error {
		return &objstore.Error{Op: "ListPage", Err: objstore.ErrAccessDenied}
	}

	result := newTestReconciler(catalog, bucket, ReconcilerOptions{}).Reconcile(context.Background(), account)
	assert.Equal(t, StatusDegraded, result.Status)
	assert.Equal(t, 1, result.Attempts)
	assert.ErrorIs(t, result.Err, objstore.ErrAccessDenied)
}

func TestReconcile_ConfigError(t *testing.T) {
	catalog := newCatalog(t)
	account := &models.Account{ID: "acc", Bucket: "lake", AccessKey: "AKIA"}

	called := false
	factory := objstore.FactoryFunc(func(objstore.Credentials) (objstore.ObjectStore, error) {
		called = true
		return nil, errors.New("unexpected")
	})

	result := NewReconciler(catalog, factory, log.NewNopLogger(), ReconcilerOptions{}).Reconcile(context.Background(), account)
	assert.Equal(t, StatusConfigError, result.Status)
	assert.Zero(t, result.Attempts)
	assert.Empty(t, result.Affected)
	assert.ErrorIs(t, result.Err, ErrMissingCredentials)
	assert.False(t, called)
}

func TestReconcile_VersionIncrement(t *testing.T) {
	ctx := context.Background()
	catalog := newCatalog(t)
	account := newAccount(t, catalog, "acc")

	bucket := newMemoryStore()
	bucket.put("grows.csv", 10, t0)
	bucket.put("static.csv", 10, t0)

	r := newTestReconciler(catalog, bucket, ReconcilerOptions{})
	require.True(t, r.Reconcile(ctx, account).OK())

	// Same modification time, only the size differs.
	bucket.put("grows.csv", 20, t0)
	result := r.Reconcile(ctx, account)
	require.True(t, result.OK())
	assert.Equal(t, []string{"grows.csv"}, result.Keys())

	require.True(t, r.Reconcile(ctx, account).OK())

	grows, err := catalog.GetFile(ctx, account.ID, "grows.csv")
	require.NoError(t, err)
	assert.Equal(t, int64(2), grows.Version)

	static, err := catalog.GetFile(ctx, account.ID, "static.csv")
	require.NoError(t, err)
	assert.Equal(t, int64(1), static.Version)
}

func TestReconcile_CatalogsHiddenKeys(t *testing.T) {
	ctx := context.Background()
	catalog := newCatalog(t)
	account := newAccount(t, catalog, "acc")

	bucket := newMemoryStore()
	bucket.put(".meta/state.csv", 1, t0)
	bucket.put("data/.tmp.csv", 1, t0)

	result := newTestReconciler(catalog, bucket, ReconcilerOptions{}).Reconcile(ctx, account)
	require.True(t, result.OK())
	assert.Len(t, result.Affected, 2)

	files, err := catalog.ListAccountFiles(ctx, account.ID)
	require.NoError(t, err)
	assert.Len(t, files, 2)

	visible, err := catalog.ListFiles(ctx, account.ID, store.FileFilter{})
	require.NoError(t, err)
	assert.Empty(t, visible)
}

func TestReconcile_LockHeldElsewhere(t *testing.T) {
	ctx := context.Background()
	catalog := newCatalog(t)
	account := newAccount(t, catalog, "acc")

	bucket := newMemoryStore()
	bucket.put("a.csv", 1, t0)

	locker := lock.NewLocalLocker()
	release, err := locker.Acquire(ctx, LockKey(account.ID), time.Minute)
	require.NoError(t, err)

	r := newTestReconciler(catalog, bucket, ReconcilerOptions{Locker: locker})
	result := r.Reconcile(ctx, account)
	assert.Equal(t, StatusDegraded, result.Status)
	assert.Equal(t, 3, result.Attempts)
	assert.ErrorIs(t, result.Err, lock.ErrNotAcquired)
	assert.Zero(t, bucket.listCalls)

	require.NoError(t, release(ctx))
	result = r.Reconcile(ctx, account)
	require.True(t, result.OK())
	assert.Len(t, result.Affected, 1)
}

func TestUpdateKeys(t *testing.T) {
	ctx := context.Background()
	catalog := newCatalog(t)
	account := newAccount(t, catalog, "acc")
	seedFile(t, catalog, account.ID, "changed.csv", 1, t0)
	seedFile(t, catalog, account.ID, "same.csv", 1, t0)
	seedFile(t, catalog, account.ID, "removed.csv", 1, t0)
	seedFile(t, catalog, account.ID, "untouched.csv", 1, t0)

	bucket := newMemoryStore()
	bucket.put("new.csv", 3, t1)
	bucket.put("changed.csv", 2, t1)
	bucket.put("same.csv", 1, t0)

	result := newTestReconciler(catalog, bucket, ReconcilerOptions{}).UpdateKeys(ctx, account,
		[]string{"new.csv", "changed.csv", "same.csv", "removed.csv", "unknown.csv", "new.csv", " "})
	require.True(t, result.OK())
	assert.Equal(t, 1, result.Count(ChangeCreated))
	assert.Equal(t, 1, result.Count(ChangeUpdated))
	assert.Equal(t, 1, result.Count(ChangeDeleted))
	assert.Zero(t, bucket.listCalls)

	files, err := catalog.ListAccountFiles(ctx, account.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"changed.csv", "new.csv", "same.csv", "untouched.csv"}, fileKeys(files))

	changed, err := catalog.GetFile(ctx, account.ID, "changed.csv")
	require.NoError(t, err)
	assert.Equal(t, int64(2), changed.Version)
}

func TestUpdateKeys_NoKeys(t *testing.T) {
	catalog := newCatalog(t)
	account := newAccount(t, catalog, "acc")

	result := newTestReconciler(catalog, newMemoryStore(), ReconcilerOptions{}).UpdateKeys(context.Background(), account, nil)
	assert.True(t, result.OK())
	assert.Empty(t, result.Affected)
}
