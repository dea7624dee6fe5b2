package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/mwantia/lakesync/internal/rebuild"
	"github.com/mwantia/lakesync/pkg/db/models"
	"github.com/mwantia/lakesync/pkg/db/store"
	"github.com/mwantia/lakesync/pkg/log"
	"github.com/mwantia/lakesync/pkg/objstore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var modified = time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC)

// bucket is a flat, unversioned in-memory object store.
type bucket struct {
	mu      sync.Mutex
	objects map[string]objstore.ObjectInfo
	creds   []objstore.Credentials
}

func (b *bucket) ListPage(ctx context.Context, name, token string) (objstore.Page, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	page := objstore.Page{}
	for _, object := range b.objects {
		page.Objects = append(page.Objects, object)
	}
	sort.Slice(page.Objects, func(i, j int) bool { return page.Objects[i].Key < page.Objects[j].Key })
	return page, nil
}

func (b *bucket) HeadObject(ctx context.Context, name, key string) (objstore.ObjectInfo, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	object, ok := b.objects[key]
	if !ok {
		return objstore.ObjectInfo{}, &objstore.Error{Op: "HeadObject", Key: key, Err: objstore.ErrNotFound}
	}
	return object, nil
}

func (b *bucket) ListVersions(ctx context.Context, name, prefix string) ([]objstore.ObjectVersion, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	var versions []objstore.ObjectVersion
	for key := range b.objects {
		if strings.HasPrefix(key, prefix) {
			versions = append(versions, objstore.ObjectVersion{Key: key, VersionID: "null", IsLatest: true})
		}
	}
	return versions, nil
}

func (b *bucket) DeleteObjects(ctx context.Context, name string, objects []objstore.ObjectVersion) []objstore.DeleteError {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, object := range objects {
		delete(b.objects, object.Key)
	}
	return nil
}

func (b *bucket) PresignGet(ctx context.Context, name, key string, ttl time.Duration) (string, error) {
	return "https://signed.example/" + name + "/" + key + "?ttl=" + ttl.String(), nil
}

type fixture struct {
	catalog *store.SQLiteStore
	bucket  *bucket
	account *models.Account
	server  *httptest.Server
}

func newFixture(t *testing.T, cfg Config) *fixture {
	t.Helper()
	ctx := context.Background()

	catalog, err := store.NewSQLiteStore(store.SQLiteConfig{Path: filepath.Join(t.TempDir(), "catalog.db")})
	require.NoError(t, err)
	require.NoError(t, catalog.Connect(ctx))
	require.NoError(t, catalog.Migrate(ctx))
	t.Cleanup(func() { _ = catalog.Close() })

	account := &models.Account{ID: "acc", Name: "acc", Bucket: "lake", AccessKey: "a", SecretKey: "s"}
	require.NoError(t, catalog.CreateAccount(ctx, account))

	b := &bucket{objects: map[string]objstore.ObjectInfo{}}
	factory := objstore.FactoryFunc(func(creds objstore.Credentials) (objstore.ObjectStore, error) {
		b.mu.Lock()
		b.creds = append(b.creds, creds)
		b.mu.Unlock()
		return b, creds.Validate()
	})

	logger := log.NewNopLogger()
	reconciler := rebuild.NewReconciler(catalog, factory, logger, rebuild.ReconcilerOptions{})
	service := rebuild.NewService(catalog, reconciler, rebuild.NewInvalidator(catalog, logger), nil, logger)
	handler := NewHandler(catalog, service,
		rebuild.NewDeleter(catalog, factory, logger),
		rebuild.NewLifecycle(catalog, factory, logger, "", true),
		factory, logger, cfg)

	server := httptest.NewServer(handler.Router())
	t.Cleanup(server.Close)

	return &fixture{catalog: catalog, bucket: b, account: account, server: server}
}

func (f *fixture) put(key string, size int64) {
	f.bucket.mu.Lock()
	defer f.bucket.mu.Unlock()
	f.bucket.objects[key] = objstore.ObjectInfo{Key: key, Size: size, LastModified: modified}
}

func (f *fixture) do(t *testing.T, method, path string, body any, headers ...string) *http.Response {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}

	req, err := http.NewRequest(method, f.server.URL+path, reader)
	require.NoError(t, err)
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decodeBody[T any](t *testing.T, resp *http.Response) T {
	t.Helper()

	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

func TestRebuild(t *testing.T) {
	f := newFixture(t, Config{})
	f.put("data/a.csv", 10)
	f.put("data/b.csv", 20)

	resp := f.do(t, http.MethodPost, "/api/v1/accounts/acc/rebuild", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	body := decodeBody[rebuildResponse](t, resp)
	assert.Equal(t, "ok", body.Status)
	assert.Equal(t, 2, body.Created)
	assert.ElementsMatch(t, []string{"data/a.csv", "data/b.csv"}, body.Affected)

	resp = f.do(t, http.MethodPost, "/api/v1/accounts/missing/rebuild", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestUploads(t *testing.T) {
	f := newFixture(t, Config{})
	f.put("in/a.csv", 1)

	resp := f.do(t, http.MethodPost, "/api/v1/accounts/acc/uploads", keysRequest{Keys: []string{"in/a.csv"}})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body := decodeBody[rebuildResponse](t, resp)
	assert.Equal(t, 1, body.Created)

	resp = f.do(t, http.MethodPost, "/api/v1/accounts/acc/uploads", keysRequest{})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestDeleteFiles(t *testing.T) {
	f := newFixture(t, Config{AdminAccessKey: "admin", AdminSecretKey: "admin-secret"})
	f.put("a.csv", 1)
	f.do(t, http.MethodPost, "/api/v1/accounts/acc/rebuild", nil)

	resp := f.do(t, http.MethodPost, "/api/v1/accounts/acc/files/delete", keysRequest{Keys: []string{"a.csv", "a.csv"}})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body := decodeBody[deleteResponse](t, resp)
	assert.True(t, body.Success)

	_, err := f.catalog.GetFile(context.Background(), "acc", "a.csv")
	assert.ErrorIs(t, err, store.ErrNotFound)

	f.bucket.mu.Lock()
	last := f.bucket.creds[len(f.bucket.creds)-1]
	f.bucket.mu.Unlock()
	assert.Equal(t, "admin", last.AccessKey)
	assert.Equal(t, "lake", last.Bucket)
}

func TestCallback(t *testing.T) {
	f := newFixture(t, Config{})
	ctx := context.Background()

	source := &models.Source{AccountID: "acc", Name: "s", DirectoryFilter: "data"}
	require.NoError(t, f.catalog.CreateSource(ctx, source))

	path := "/api/v1/sources/" + itoa(source.ID) + "/callback"

	resp := f.do(t, http.MethodPost, path, rebuild.Callback{Key: "agg/s.csv", Size: 10})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	source.State = models.SourceRunning
	require.NoError(t, f.catalog.UpdateSource(ctx, source))

	resp = f.do(t, http.MethodPost, path, rebuild.Callback{Key: "agg/s.csv", Size: 10})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	stored, err := f.catalog.GetSource(ctx, source.ID)
	require.NoError(t, err)
	assert.Equal(t, models.SourceSuccess, stored.State)

	resp = f.do(t, http.MethodPost, "/api/v1/sources/abc/callback", rebuild.Callback{})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = f.do(t, http.MethodPost, "/api/v1/sources/9999/callback", rebuild.Callback{Key: "x.csv"})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestListFiles(t *testing.T) {
	f := newFixture(t, Config{})
	f.put("data/a.csv", 1)
	f.put("data/.hidden.csv", 1)
	f.do(t, http.MethodPost, "/api/v1/accounts/acc/rebuild", nil)

	resp := f.do(t, http.MethodGet, "/api/v1/accounts/acc/files", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	files := decodeBody[[]fileResponse](t, resp)
	require.Len(t, files, 1)
	assert.Equal(t, "data/a.csv", files[0].Key)

	resp = f.do(t, http.MethodGet, "/api/v1/accounts/acc/files?hidden=true", nil)
	files = decodeBody[[]fileResponse](t, resp)
	assert.Len(t, files, 2)
}

func TestListFiles_Paging(t *testing.T) {
	f := newFixture(t, Config{})
	f.put(".hidden/a.csv", 1)
	f.put(".hidden/b.csv", 1)
	f.put("data/c.csv", 1)
	f.put("data_2/d.csv", 1)
	f.do(t, http.MethodPost, "/api/v1/accounts/acc/rebuild", nil)

	resp := f.do(t, http.MethodGet, "/api/v1/accounts/acc/files?limit=2", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	files := decodeBody[[]fileResponse](t, resp)
	require.Len(t, files, 2)
	assert.Equal(t, "data/c.csv", files[0].Key)
	assert.Equal(t, "data_2/d.csv", files[1].Key)

	resp = f.do(t, http.MethodGet, "/api/v1/accounts/acc/files?limit=2&offset=2", nil)
	files = decodeBody[[]fileResponse](t, resp)
	assert.Empty(t, files)

	resp = f.do(t, http.MethodGet, "/api/v1/accounts/acc/files?prefix=data_", nil)
	files = decodeBody[[]fileResponse](t, resp)
	require.Len(t, files, 1)
	assert.Equal(t, "data_2/d.csv", files[0].Key)
}

func TestSourceFiles(t *testing.T) {
	f := newFixture(t, Config{PresignTTL: 15 * time.Minute})
	ctx := context.Background()
	f.put("data/a.csv", 1)
	f.put("data/sub/b.csv", 1)
	f.do(t, http.MethodPost, "/api/v1/accounts/acc/rebuild", nil)

	source := &models.Source{AccountID: "acc", Name: "s", DirectoryFilter: "data"}
	require.NoError(t, f.catalog.CreateSource(ctx, source))

	resp := f.do(t, http.MethodGet, "/api/v1/accounts/acc/sources/"+itoa(source.ID)+"/files", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	files := decodeBody[[]fileResponse](t, resp)
	require.Len(t, files, 1)
	assert.Equal(t, "https://signed.example/lake/data/a.csv?ttl=15m0s", files[0].URL)
}

func TestRuns(t *testing.T) {
	f := newFixture(t, Config{})
	f.do(t, http.MethodPost, "/api/v1/accounts/acc/rebuild?trigger=manual", nil)

	resp := f.do(t, http.MethodGet, "/api/v1/accounts/acc/runs", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	runs := decodeBody[[]models.RebuildRun](t, resp)
	require.Len(t, runs, 1)
	assert.Equal(t, rebuild.TriggerManual, runs[0].Trigger)
}

func TestToken(t *testing.T) {
	f := newFixture(t, Config{Token: "secret"})

	resp := f.do(t, http.MethodGet, "/api/v1/accounts/acc/files", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp = f.do(t, http.MethodGet, "/api/v1/accounts/acc/files", nil, "Authorization", "Bearer secret")
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp = f.do(t, http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestMetrics(t *testing.T) {
	f := newFixture(t, Config{})
	f.do(t, http.MethodGet, "/healthz", nil)

	resp := f.do(t, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var buf bytes.Buffer
	_, err := buf.ReadFrom(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, buf.String(), `lakesync_http_requests_total{method="GET",route="/healthz",status="200"}`)
}

func itoa(id uint) string {
	return strconv.FormatUint(uint64(id), 10)
}
