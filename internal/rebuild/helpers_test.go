package rebuild

import (
	"context"
	"errors"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/mwantia/lakesync/pkg/db/models"
	"github.com/mwantia/lakesync/pkg/db/store"
	"github.com/mwantia/lakesync/pkg/log"
	"github.com/mwantia/lakesync/pkg/objstore"
	"github.com/stretchr/testify/require"
)

var (
	t0 = time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	t1 = time.Date(2024, 3, 2, 10, 0, 0, 0, time.UTC)
)

// memoryStore is an in-memory versioned bucket.
type memoryStore struct {
	mu       sync.Mutex
	objects  map[string]objstore.ObjectInfo
	versions map[string][]objstore.ObjectVersion
	pageSize int
	serial   int

	listCalls     int
	listVersions  int
	listErr       func(call int) error
	headErr       error
	failDelete    map[string]bool
	survivesPurge map[string]bool
}

func newMemoryStore() *memoryStore {
	return &memoryStore{
		objects:       make(map[string]objstore.ObjectInfo),
		versions:      make(map[string][]objstore.ObjectVersion),
		pageSize:      1000,
		failDelete:    make(map[string]bool),
		survivesPurge: make(map[string]bool),
	}
}

func (m *memoryStore) put(key string, size int64, modified time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.serial++
	versionID := "v" + strconv.Itoa(m.serial)
	m.objects[key] = objstore.ObjectInfo{Key: key, Size: size, LastModified: modified, VersionID: versionID}
	m.versions[key] = append(m.versions[key], objstore.ObjectVersion{Key: key, VersionID: versionID, LastModified: modified})
}

// remove leaves a delete marker, like a versioned bucket does.
func (m *memoryStore) remove(key string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.serial++
	delete(m.objects, key)
	m.versions[key] = append(m.versions[key], objstore.ObjectVersion{Key: key, VersionID: "dm" + strconv.Itoa(m.serial), IsDeleteMarker: true})
}

func (m *memoryStore) ListPage(ctx context.Context, bucket, token string) (objstore.Page, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.listCalls++
	if m.listErr != nil {
		if err := m.listErr(m.listCalls); err != nil {
			return objstore.Page{}, err
		}
	}

	keys := make([]string, 0, len(m.objects))
	for key := range m.objects {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	start := 0
	if token != "" {
		start, _ = strconv.Atoi(token)
	}
	end := min(start+m.pageSize, len(keys))

	page := objstore.Page{}
	for _, key := range keys[start:end] {
		page.Objects = append(page.Objects, m.objects[key])
	}
	if end < len(keys) {
		page.Truncated = true
		page.NextToken = strconv.Itoa(end)
	}
	return page, nil
}

func (m *memoryStore) HeadObject(ctx context.Context, bucket, key string) (objstore.ObjectInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.headErr != nil {
		return objstore.ObjectInfo{}, m.headErr
	}

	object, ok := m.objects[key]
	if !ok {
		return objstore.ObjectInfo{}, &objstore.Error{Op: "HeadObject", Bucket: bucket, Key: key, Err: objstore.ErrNotFound}
	}
	return object, nil
}

func (m *memoryStore) ListVersions(ctx context.Context, bucket, prefix string) ([]objstore.ObjectVersion, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.listVersions++
	var versions []objstore.ObjectVersion
	for key, list := range m.versions {
		if strings.HasPrefix(key, prefix) {
			versions = append(versions, list...)
		}
	}
	return versions, nil
}

func (m *memoryStore) DeleteObjects(ctx context.Context, bucket string, objects []objstore.ObjectVersion) []objstore.DeleteError {
	m.mu.Lock()
	defer m.mu.Unlock()

	var failures []objstore.DeleteError
	for _, object := range objects {
		if m.failDelete[object.Key] {
			failures = append(failures, objstore.DeleteError{Key: object.Key, VersionID: object.VersionID, Err: objstore.ErrAccessDenied})
			continue
		}

		kept := m.versions[object.Key][:0]
		for _, v := range m.versions[object.Key] {
			if v.VersionID != object.VersionID {
				kept = append(kept, v)
			}
		}
		m.versions[object.Key] = kept
		if len(kept) == 0 && !m.survivesPurge[object.Key] {
			delete(m.versions, object.Key)
			delete(m.objects, object.Key)
		}
	}
	return failures
}

func (m *memoryStore) PresignGet(ctx context.Context, bucket, key string, ttl time.Duration) (string, error) {
	return "https://signed.example/" + bucket + "/" + key, nil
}

func (m *memoryStore) factory() objstore.Factory {
	return objstore.FactoryFunc(func(creds objstore.Credentials) (objstore.ObjectStore, error) {
		if err := creds.Validate(); err != nil {
			return nil, err
		}
		return m, nil
	})
}

func newCatalog(t *testing.T) *store.SQLiteStore {
	t.Helper()

	catalog, err := store.NewSQLiteStore(store.SQLiteConfig{Path: filepath.Join(t.TempDir(), "catalog.db")})
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, catalog.Connect(ctx))
	require.NoError(t, catalog.Migrate(ctx))

	t.Cleanup(func() { _ = catalog.Close() })
	return catalog
}

func newAccount(t *testing.T, catalog store.CatalogStore, id string) *models.Account {
	t.Helper()

	account := &models.Account{
		ID:        id,
		Name:      id,
		Bucket:    id + "-lake",
		AccessKey: "AKIA",
		SecretKey: "secret",
	}
	require.NoError(t, catalog.CreateAccount(context.Background(), account))
	return account
}

func seedFile(t *testing.T, catalog store.CatalogStore, accountID, key string, size int64, modified time.Time) *models.File {
	t.Helper()

	file := &models.File{
		AccountID:    accountID,
		Key:          key,
		Size:         size,
		Version:      1,
		LastModified: modified,
		LastChecked:  modified,
	}
	require.NoError(t, catalog.CreateFile(context.Background(), file))
	return file
}

func newSource(t *testing.T, catalog store.CatalogStore, accountID, name, dir string, recursive bool) *models.Source {
	t.Helper()

	source := &models.Source{
		AccountID:       accountID,
		Name:            name,
		DirectoryFilter: dir,
		IncludeSubdirs:  recursive,
	}
	require.NoError(t, catalog.CreateSource(context.Background(), source))
	return source
}

func newTestReconciler(catalog store.CatalogStore, bucket *memoryStore, opts ReconcilerOptions) *Reconciler {
	return NewReconciler(catalog, bucket.factory(), log.NewNopLogger(), opts)
}

func fileKeys(files []models.File) []string {
	keys := make([]string, 0, len(files))
	for _, f := range files {
		keys = append(keys, f.Key)
	}
	return keys
}

// faultyCatalog fails the first applyFailures commits and every
// MarkSourcesDirty call when dirtyErr is set.
type faultyCatalog struct {
	store.CatalogStore

	applyFailures int
	applyCalls    int
	dirtyErr      error
}

func (c *faultyCatalog) ApplyChanges(ctx context.Context, accountID string, changes store.ChangeSet) error {
	c.applyCalls++
	if c.applyCalls <= c.applyFailures {
		return errors.New("database is locked")
	}
	return c.CatalogStore.ApplyChanges(ctx, accountID, changes)
}

func (c *faultyCatalog) MarkSourcesDirty(ctx context.Context, ids []uint) error {
	if c.dirtyErr != nil {
		return c.dirtyErr
	}
	return c.CatalogStore.MarkSourcesDirty(ctx, ids)
}
