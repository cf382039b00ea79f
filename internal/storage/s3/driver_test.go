package s3

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wukibaka/cloudpaste/internal/cache"
	ferrors "github.com/wukibaka/cloudpaste/pkg/errors"
	"github.com/wukibaka/cloudpaste/pkg/types"
)

func testConfig() *types.S3Config {
	return &types.S3Config{
		ID:          "cfg-1",
		Name:        "fake",
		Endpoint:    "https://s3.fake.example",
		Bucket:      "b",
		AccessKeyID: "AK",
		RootPrefix:  "root",
	}
}

func testMount() *types.Mount {
	return &types.Mount{
		ID:              "m1",
		Owner:           "admin:1",
		Name:            "docs",
		MountPath:       "/docs/",
		StorageType:     types.StorageTypeS3,
		StorageConfigID: "cfg-1",
		CacheTTLSeconds: 60,
		IsActive:        true,
	}
}

type testEnv struct {
	fake   *fakeS3
	driver *Driver
	cache  *cache.DirectoryCache
	mount  *types.Mount
	files  *recordingFiles
}

// recordingFiles is a minimal in-memory FileRepository.
type recordingFiles struct {
	created []*types.FileRecord
	deleted []string
}

func (r *recordingFiles) CreateFile(ctx context.Context, f *types.FileRecord) error {
	if f.ID == "" {
		f.ID = fmt.Sprintf("id-%d", len(r.created)+1)
	}
	if f.Slug == "" {
		f.Slug = "M-" + f.ID
	}
	r.created = append(r.created, f)
	return nil
}

func (r *recordingFiles) GetFileBySlug(ctx context.Context, slug string) (*types.FileRecord, error) {
	for _, f := range r.created {
		if f.Slug == slug {
			return f, nil
		}
	}
	return nil, ferrors.NotFound("no such file")
}

func (r *recordingFiles) DeleteFilesByStoragePath(ctx context.Context, configID, storagePath string) (int, error) {
	r.deleted = append(r.deleted, configID+":"+storagePath)
	return 0, nil
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	fake := newFakeS3()
	dirCache := cache.NewDirectoryCache(0)
	files := &recordingFiles{}
	driver := newDriverWithAPI(fake, fakePresigner{}, testConfig(), Deps{
		DirCache: dirCache,
		Files:    files,
	})
	return &testEnv{fake: fake, driver: driver, cache: dirCache, mount: testMount(), files: files}
}

func TestCreateDirectoryAndList(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	require.NoError(t, env.driver.CreateDirectory(ctx, env.mount, "/a/"))

	listing, err := env.driver.ListDirectory(ctx, env.mount, "/")
	require.NoError(t, err)
	require.Len(t, listing.Items, 1)
	assert.Equal(t, "a", listing.Items[0].Name)
	assert.True(t, listing.Items[0].IsDirectory)
	assert.Equal(t, "/docs/a/", listing.Items[0].Path)
}

func TestCreateDirectoryIdempotenceLaw(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	require.NoError(t, env.driver.CreateDirectory(ctx, env.mount, "/a/"))

	err := env.driver.CreateDirectory(ctx, env.mount, "/a/")
	assert.True(t, ferrors.IsKind(err, ferrors.KindConflict), "second mkdir must conflict, got %v", err)

	require.NoError(t, env.driver.RemoveItem(ctx, env.mount, "/a/"))
	require.NoError(t, env.driver.CreateDirectory(ctx, env.mount, "/a/"))
}

func TestCreateDirectoryRequiresParent(t *testing.T) {
	env := newTestEnv(t)
	err := env.driver.CreateDirectory(context.Background(), env.mount, "/missing/child/")
	assert.True(t, ferrors.IsKind(err, ferrors.KindConflict))
}

func TestUploadRoundTrip(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	require.NoError(t, env.driver.CreateDirectory(ctx, env.mount, "/a/"))

	// Populate the listing cache so the upload's invalidation is observable.
	_, err := env.driver.ListDirectory(ctx, env.mount, "/a/")
	require.NoError(t, err)
	require.NotNil(t, env.cache.Get(env.mount.ID, "/a/"))

	record, err := env.driver.UploadFile(ctx, env.mount, "/a/x.txt",
		strings.NewReader("hi"), types.AdminPrincipal("1"),
		types.UploadOptions{Filename: "x.txt", Size: 2})
	require.NoError(t, err)
	assert.Equal(t, "root/a/x.txt", record.StoragePath)
	assert.Equal(t, "admin:1", record.CreatedBy)
	assert.Equal(t, "cfg-1", record.S3ConfigID)
	require.Len(t, env.files.created, 1)

	info, err := env.driver.GetFileInfo(ctx, env.mount, "/a/x.txt")
	require.NoError(t, err)
	assert.Equal(t, int64(2), info.Size)
	assert.False(t, info.IsDirectory)
	// Plain MD5 etag for single-shot uploads.
	assert.Equal(t, "49f68a5c8493ec2c0bf489821c21fc3b", info.ETag)

	resp, err := env.driver.DownloadFile(ctx, env.mount, "/a/x.txt", false)
	require.NoError(t, err)
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, "hi", string(data))
	assert.Contains(t, resp.Disposition, "attachment")

	// The cache entry for the containing directory is gone after upload.
	assert.Nil(t, env.cache.Get(env.mount.ID, "/a/"))
}

func TestUploadRejectsExecutables(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.driver.UploadFile(context.Background(), env.mount, "/run.exe",
		strings.NewReader("MZ"), types.AdminPrincipal("1"),
		types.UploadOptions{Filename: "run.exe", Size: 2})
	assert.True(t, ferrors.IsKind(err, ferrors.KindForbidden))
}

func TestUploadRequiresParent(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.driver.UploadFile(context.Background(), env.mount, "/nope/x.txt",
		strings.NewReader("x"), types.AdminPrincipal("1"),
		types.UploadOptions{Filename: "x.txt", Size: 1})
	assert.True(t, ferrors.IsKind(err, ferrors.KindConflict))
}

func TestListDirectoryUsesCache(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	require.NoError(t, env.driver.CreateDirectory(ctx, env.mount, "/a/"))

	_, err := env.driver.ListDirectory(ctx, env.mount, "/")
	require.NoError(t, err)
	calls := env.fake.callCounts["ListObjectsV2"]

	_, err = env.driver.ListDirectory(ctx, env.mount, "/")
	require.NoError(t, err)
	assert.Equal(t, calls, env.fake.callCounts["ListObjectsV2"], "second list must come from cache")
}

func TestListDirectorySkipsPlaceholdersAndStripsETags(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	env.fake.put("root/a/", nil, directoryContentType)
	env.fake.put("root/a/f.txt", []byte("data"), "text/plain")
	env.fake.put("root/a/sub/", nil, directoryContentType)

	listing, err := env.driver.ListDirectory(ctx, env.mount, "/a/")
	require.NoError(t, err)
	require.Len(t, listing.Items, 2)
	assert.Equal(t, "sub", listing.Items[0].Name)
	assert.True(t, listing.Items[0].IsDirectory)
	assert.Equal(t, "f.txt", listing.Items[1].Name)
	assert.NotContains(t, listing.Items[1].ETag, `"`)
}

func TestGetFileInfoHeadForbiddenFallsBackToGet(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	env.fake.put("root/a/", nil, directoryContentType)
	env.fake.put("root/a/x.txt", []byte("hi"), "text/plain")
	env.fake.headErrFor["root/a/x.txt"] = forbiddenErr()

	info, err := env.driver.GetFileInfo(ctx, env.mount, "/a/x.txt")
	require.NoError(t, err)
	assert.Equal(t, int64(2), info.Size)
}

func TestGetFileInfoImplicitDirectory(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	// No marker object for /a/, only a deeper key.
	env.fake.put("root/a/x.txt", []byte("hi"), "text/plain")

	info, err := env.driver.GetFileInfo(ctx, env.mount, "/a")
	require.NoError(t, err)
	assert.True(t, info.IsDirectory)

	_, err = env.driver.GetFileInfo(ctx, env.mount, "/zzz")
	assert.True(t, ferrors.IsKind(err, ferrors.KindNotFound))
}

func TestRenameLaw(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	require.NoError(t, env.driver.CreateDirectory(ctx, env.mount, "/a/"))
	_, err := env.driver.UploadFile(ctx, env.mount, "/a/x.txt",
		strings.NewReader("hi"), types.AdminPrincipal("1"),
		types.UploadOptions{Filename: "x.txt", Size: 2})
	require.NoError(t, err)

	require.NoError(t, env.driver.RenameItem(ctx, env.mount, "/a/x.txt", "/a/y.txt"))

	exists, err := env.driver.exists(ctx, env.mount, "/a/x.txt")
	require.NoError(t, err)
	assert.False(t, exists)

	info, err := env.driver.GetFileInfo(ctx, env.mount, "/a/y.txt")
	require.NoError(t, err)
	assert.Equal(t, int64(2), info.Size)
}

func TestRenameRejectsTypeMismatchAndExistingDestination(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	require.NoError(t, env.driver.CreateDirectory(ctx, env.mount, "/a/"))
	for _, name := range []string{"/a/x.txt", "/a/y.txt"} {
		_, err := env.driver.UploadFile(ctx, env.mount, name,
			strings.NewReader("z"), types.AdminPrincipal("1"),
			types.UploadOptions{Filename: "f.txt", Size: 1})
		require.NoError(t, err)
	}

	err := env.driver.RenameItem(ctx, env.mount, "/a/x.txt", "/a/z/")
	assert.True(t, ferrors.IsKind(err, ferrors.KindBadRequest))

	err = env.driver.RenameItem(ctx, env.mount, "/a/x.txt", "/a/y.txt")
	assert.True(t, ferrors.IsKind(err, ferrors.KindConflict))
}

func TestRenameDirectoryWalksPrefix(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	env.fake.put("root/a/", nil, directoryContentType)
	env.fake.put("root/a/one.txt", []byte("1"), "text/plain")
	env.fake.put("root/a/sub/", nil, directoryContentType)
	env.fake.put("root/a/sub/two.txt", []byte("22"), "text/plain")

	require.NoError(t, env.driver.RenameItem(ctx, env.mount, "/a/", "/b/"))

	for _, gone := range []string{"root/a/", "root/a/one.txt", "root/a/sub/two.txt"} {
		_, ok := env.fake.objects[gone]
		assert.False(t, ok, "key %s must be deleted", gone)
	}
	for _, present := range []string{"root/b/", "root/b/one.txt", "root/b/sub/", "root/b/sub/two.txt"} {
		_, ok := env.fake.objects[present]
		assert.True(t, ok, "key %s must exist", present)
	}
}

func TestCopySkipExisting(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	env.fake.put("root/a/", nil, directoryContentType)
	env.fake.put("root/a/x.txt", []byte("hi"), "text/plain")

	outcome, err := env.driver.CopyItem(ctx, env.mount, "/a/", env.mount, "/b/", types.CopyOptions{SkipExisting: true})
	require.NoError(t, err)
	assert.Equal(t, 2, outcome.Copied) // marker + file
	assert.Equal(t, 0, outcome.Skipped)

	outcome, err = env.driver.CopyItem(ctx, env.mount, "/a/", env.mount, "/b/", types.CopyOptions{SkipExisting: true})
	require.NoError(t, err)
	assert.Equal(t, 0, outcome.Copied)
	assert.Equal(t, 2, outcome.Skipped)
}

func TestRemoveDirectoryScenario(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	env.fake.put("root/a/", nil, directoryContentType)
	env.fake.put("root/a/x.txt", []byte("hi"), "text/plain")
	env.fake.put("root/b/", nil, directoryContentType)

	require.NoError(t, env.driver.RemoveItem(ctx, env.mount, "/a/"))

	listing, err := env.driver.ListDirectory(ctx, env.mount, "/")
	require.NoError(t, err)
	require.Len(t, listing.Items, 1)
	assert.Equal(t, "b", listing.Items[0].Name)

	err = env.driver.RemoveItem(ctx, env.mount, "/a/")
	assert.True(t, ferrors.IsKind(err, ferrors.KindNotFound), "empty scan must be NotFound, got %v", err)
}

func TestRemoveDirectoryPaginates(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	for i := 0; i < 1500; i++ {
		env.fake.put(fmt.Sprintf("root/big/f-%04d.bin", i), []byte{0}, "application/octet-stream")
	}

	require.NoError(t, env.driver.RemoveItem(ctx, env.mount, "/big/"))
	assert.Empty(t, env.fake.sortedKeys("root/big/"))
}

func TestRemoveMissingFileIsNotFound(t *testing.T) {
	env := newTestEnv(t)
	err := env.driver.RemoveItem(context.Background(), env.mount, "/missing.txt")
	assert.True(t, ferrors.IsKind(err, ferrors.KindNotFound))
}

func TestPresignDefaultsAndDirectoryRejection(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	_, err := env.driver.GeneratePresignedURL(ctx, env.mount, "/a/", types.PresignOptions{})
	assert.True(t, ferrors.IsKind(err, ferrors.KindBadRequest))

	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	env.driver.clock = func() time.Time { return now }

	res, err := env.driver.GeneratePresignedURL(ctx, env.mount, "/a/x.txt", types.PresignOptions{})
	require.NoError(t, err)
	assert.Equal(t, "GET", res.Method)
	assert.Equal(t, now.Add(DefaultPresignLifetime), res.ExpiresAt)
	assert.Contains(t, res.URL, "root/a/x.txt")
}

func TestMultipartLifecycle(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	require.NoError(t, env.driver.CreateDirectory(ctx, env.mount, "/a/"))

	init, err := env.driver.InitMultipart(ctx, env.mount, "/a/big.bin", types.MultipartInitRequest{
		Filename: "big.bin",
		Size:     40 * 1024 * 1024,
		PartSize: 16 * 1024 * 1024,
	})
	require.NoError(t, err)
	assert.Equal(t, "root/a/big.bin", init.Key)
	require.Len(t, init.PartURLs, 3)
	assert.Contains(t, init.PartURLs[2], "partNumber=3")

	// Simulate the browser uploading two parts out of order.
	etag2 := env.fake.registerPart(init.UploadID, 2, bytes.Repeat([]byte("b"), 4))
	etag1 := env.fake.registerPart(init.UploadID, 1, bytes.Repeat([]byte("a"), 4))

	parts, err := env.driver.ListMultipartParts(ctx, env.mount, "/a/big.bin", init.UploadID)
	require.NoError(t, err)
	assert.Len(t, parts, 2)

	uploads, err := env.driver.ListMultipartUploads(ctx, env.mount, "/a/")
	require.NoError(t, err)
	require.Len(t, uploads, 1)
	assert.Equal(t, init.UploadID, uploads[0].UploadID)

	urls, err := env.driver.RefreshMultipartURLs(ctx, env.mount, "/a/big.bin", init.UploadID, []int32{3})
	require.NoError(t, err)
	assert.Contains(t, urls[3], "partNumber=3")

	record, err := env.driver.CompleteMultipart(ctx, env.mount, "/a/big.bin", init.UploadID,
		[]types.MultipartPart{
			{PartNumber: 2, ETag: etag2},
			{PartNumber: 1, ETag: etag1},
		}, types.AdminPrincipal("1"))
	require.NoError(t, err)
	assert.Equal(t, "root/a/big.bin", record.StoragePath)

	resp, err := env.driver.DownloadFile(ctx, env.mount, "/a/big.bin", true)
	require.NoError(t, err)
	defer resp.Body.Close()
	data, _ := io.ReadAll(resp.Body)
	assert.Equal(t, "aaaabbbb", string(data))
}

func TestMultipartAbort(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	init, err := env.driver.InitMultipart(ctx, env.mount, "/big.bin", types.MultipartInitRequest{Size: 1})
	require.NoError(t, err)

	require.NoError(t, env.driver.AbortMultipart(ctx, env.mount, "/big.bin", init.UploadID))

	uploads, err := env.driver.ListMultipartUploads(ctx, env.mount, "")
	require.NoError(t, err)
	assert.Empty(t, uploads)
}

func TestSearchMatchesBasename(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	env.fake.put("root/a/", nil, directoryContentType)
	env.fake.put("root/a/x.txt", []byte("hi"), "text/plain")
	env.fake.put("root/a/notes.md", []byte("hi"), "text/markdown")
	env.fake.put("root/x-dir/readme.md", []byte("hi"), "text/markdown")

	hits, err := env.driver.Search(ctx, env.mount, "X", types.SearchOptions{})
	require.NoError(t, err)
	// Basename matching only: x.txt matches, readme.md under x-dir does not.
	require.Len(t, hits, 1)
	assert.Equal(t, "x.txt", hits[0].Name)
	assert.Equal(t, "/docs/a/x.txt", hits[0].Path)
}
