package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wukibaka/cloudpaste/internal/cache"
	"github.com/wukibaka/cloudpaste/internal/config"
	"github.com/wukibaka/cloudpaste/internal/mount"
	"github.com/wukibaka/cloudpaste/internal/storage/storagetest"
	"github.com/wukibaka/cloudpaste/internal/vfs"
	"github.com/wukibaka/cloudpaste/pkg/types"
)

func newTestHandler(t *testing.T) (http.Handler, *storagetest.Driver) {
	t.Helper()

	driver := storagetest.NewDriver()
	repo := storagetest.NewMountRepo(&types.Mount{
		ID: "m1", Owner: "admin:1", Name: "docs", MountPath: "/docs/",
		StorageType: types.StorageTypeS3, StorageConfigID: "c1", IsActive: true,
	})
	configs := storagetest.NewConfigRepo(&types.S3Config{ID: "c1", Bucket: "b"})

	registry := mount.NewRegistry(repo)
	manager := mount.NewManager(registry, configs, storagetest.PlainSecrets{}, nil, nil)
	manager.SetBuildFunc(func(ctx context.Context, cfg *types.S3Config, secretKey string) (types.Driver, error) {
		return driver, nil
	})

	fs := vfs.New(manager, cache.NewSearchCache(time.Minute), nil)

	auth := func(r *http.Request) (types.Principal, error) {
		if r.Header.Get("Authorization") == "" {
			return types.Principal{}, errors.New("missing credentials")
		}
		return types.AdminPrincipal("1"), nil
	}

	cfg := config.DefaultConfiguration().Server
	srv := NewServer(cfg, fs, auth, Options{})
	return srv.Handler(), driver
}

func doJSON(t *testing.T, handler http.Handler, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	var reader *strings.Reader
	if body == "" {
		reader = strings.NewReader("")
	} else {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, reader)
	req.Header.Set("Authorization", "Bearer test")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func TestUnauthenticatedRequestsGet401(t *testing.T) {
	handler, _ := newTestHandler(t)

	req := httptest.NewRequest(http.MethodGet, "/api/fs/list?path=/docs/", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestListAndErrorMapping(t *testing.T) {
	handler, driver := newTestHandler(t)
	driver.Put("/a/x.txt", []byte("hi"))

	rec := doJSON(t, handler, http.MethodGet, "/api/fs/list?path=/docs/", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var listing types.DirectoryListing
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &listing))
	require.Len(t, listing.Items, 1)
	assert.Equal(t, "a", listing.Items[0].Name)
	assert.True(t, listing.Items[0].IsDirectory)

	// Paths outside every mount map to 404.
	rec = doJSON(t, handler, http.MethodGet, "/api/fs/info?path=/elsewhere/x.txt", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	var errBody map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &errBody))
	assert.Equal(t, "NOT_FOUND", errBody["kind"])
}

func TestUploadAndDownload(t *testing.T) {
	handler, driver := newTestHandler(t)

	rec := doJSON(t, handler, http.MethodPost, "/api/fs/upload?path=/docs/x.txt&filename=x.txt", "hello")
	require.Equal(t, http.StatusCreated, rec.Code)

	var resp map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, false, resp["useMultipart"])
	assert.NotEmpty(t, resp["slug"])
	assert.True(t, driver.Has("/x.txt"))

	rec = doJSON(t, handler, http.MethodGet, "/api/fs/download?path=/docs/x.txt", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "hello", rec.Body.String())
	assert.Contains(t, rec.Header().Get("Content-Disposition"), "attachment")
}

func TestMkdirRemoveRename(t *testing.T) {
	handler, driver := newTestHandler(t)

	rec := doJSON(t, handler, http.MethodPost, "/api/fs/mkdir", `{"path":"/docs/a/"}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.True(t, driver.Has("/a/"))

	// A second mkdir conflicts.
	rec = doJSON(t, handler, http.MethodPost, "/api/fs/mkdir", `{"path":"/docs/a/"}`)
	assert.Equal(t, http.StatusConflict, rec.Code)

	driver.Put("/a/x.txt", []byte("1"))
	rec = doJSON(t, handler, http.MethodPost, "/api/fs/rename",
		`{"oldPath":"/docs/a/x.txt","newPath":"/docs/a/y.txt"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.False(t, driver.Has("/a/x.txt"))
	assert.True(t, driver.Has("/a/y.txt"))

	rec = doJSON(t, handler, http.MethodDelete, "/api/fs/remove?path=/docs/a/y.txt", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.False(t, driver.Has("/a/y.txt"))
}

func TestBatchRemoveEndpoint(t *testing.T) {
	handler, driver := newTestHandler(t)
	driver.Put("/a.txt", []byte("1"))
	driver.Put("/b.txt", []byte("2"))

	rec := doJSON(t, handler, http.MethodPost, "/api/fs/batch-remove",
		`{"paths":["/docs/a.txt","/docs/b.txt","/docs/missing.txt"]}`)
	require.Equal(t, http.StatusOK, rec.Code)

	var result types.BatchRemoveResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	assert.Equal(t, 2, result.Success)
	require.Len(t, result.Failed, 1)
	assert.Equal(t, "/docs/missing.txt", result.Failed[0].Path)
}

func TestSearchEndpointValidation(t *testing.T) {
	handler, _ := newTestHandler(t)

	rec := doJSON(t, handler, http.MethodGet, "/api/fs/search?q=x&limit=10", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doJSON(t, handler, http.MethodGet, "/api/fs/search?q=abc&limit=201", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doJSON(t, handler, http.MethodGet, "/api/fs/search?q=abc&limit=10&offset=-1", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSearchEndpoint(t *testing.T) {
	handler, driver := newTestHandler(t)
	driver.Put("/reports/q3.pdf", []byte("pdf"))

	rec := doJSON(t, handler, http.MethodGet, "/api/fs/search?q=q3&limit=10", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var result vfs.SearchResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	require.Equal(t, 1, result.Total)
	assert.Equal(t, "q3.pdf", result.Hits[0].Name)
}

func TestPresignEndpoint(t *testing.T) {
	handler, driver := newTestHandler(t)
	driver.Put("/x.txt", []byte("1"))

	rec := doJSON(t, handler, http.MethodPost, "/api/fs/presign?path=/docs/x.txt", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var result types.PresignResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	assert.Equal(t, "GET", result.Method)
	assert.Contains(t, result.URL, "storagetest.local")

	rec = doJSON(t, handler, http.MethodPost, "/api/fs/presign?path=/docs/x.txt&expiresIn=-5", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestUploadSteersLargeBodiesToMultipart(t *testing.T) {
	handler, _ := newTestHandler(t)

	req := httptest.NewRequest(http.MethodPost, "/api/fs/upload?path=/docs/big.bin", strings.NewReader(""))
	req.Header.Set("Authorization", "Bearer test")
	req.ContentLength = multipartThreshold + 1
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, true, resp["useMultipart"])
}

func TestCORSPreflight(t *testing.T) {
	handler, _ := newTestHandler(t)

	req := httptest.NewRequest(http.MethodOptions, "/api/fs/list", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "86400", rec.Header().Get("Access-Control-Max-Age"))
}
