// Package s3 implements the storage driver for S3-compatible object stores.
//
// The driver layers directory semantics on a flat keyspace: directories are
// zero-byte marker objects whose key ends in a slash, listings use
// ListObjectsV2 with a "/" delimiter, and rename is emulated as copy plus
// delete. Provider quirks the driver absorbs: HEAD returning 403 instead of
// 404, opaque "UnknownError" responses, multi-page listings behind
// continuation tokens, and quoted ETags.
package s3

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awss3 "github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	awshttp "github.com/aws/smithy-go/transport/http"

	"github.com/wukibaka/cloudpaste/internal/cache"
	ferrors "github.com/wukibaka/cloudpaste/pkg/errors"
	"github.com/wukibaka/cloudpaste/pkg/pathutil"
	"github.com/wukibaka/cloudpaste/pkg/types"
)

const directoryContentType = "application/x-directory"

// listPageSize bounds one ListObjectsV2 page during directory walks.
const listPageSize = 1000

// Driver serves one S3 configuration. It advertises every capability.
type Driver struct {
	api      api
	presign  presignAPI
	cfg      *types.S3Config
	bucket   string
	dirCache *cache.DirectoryCache
	files    types.FileRepository
	logger   *slog.Logger
	clock    func() time.Time
}

// Deps are the collaborators a driver needs beyond its S3 client.
type Deps struct {
	DirCache *cache.DirectoryCache
	Files    types.FileRepository
	Logger   *slog.Logger
	Clock    func() time.Time
}

// NewDriver builds a driver for cfg, constructing the S3 client from the
// decrypted secret.
func NewDriver(ctx context.Context, cfg *types.S3Config, secretKey string, deps Deps) (*Driver, error) {
	client, err := newClient(ctx, cfg, secretKey)
	if err != nil {
		return nil, ferrors.Internal("failed to build s3 client", err)
	}
	return newDriverWithAPI(client, awss3.NewPresignClient(client), cfg, deps), nil
}

// newDriverWithAPI wires a driver against an arbitrary client, used directly
// by tests.
func newDriverWithAPI(client api, presign presignAPI, cfg *types.S3Config, deps Deps) *Driver {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default().With("component", "s3-driver", "bucket", cfg.Bucket)
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	return &Driver{
		api:      client,
		presign:  presign,
		cfg:      cfg,
		bucket:   cfg.Bucket,
		dirCache: deps.DirCache,
		files:    deps.Files,
		logger:   logger,
		clock:    clock,
	}
}

// Type returns the storage type this driver serves.
func (d *Driver) Type() string { return types.StorageTypeS3 }

// Capabilities advertises the full capability set.
func (d *Driver) Capabilities() types.CapabilitySet {
	return types.NewCapabilitySet(
		types.CapReader, types.CapWriter, types.CapAtomic,
		types.CapPresigned, types.CapMultipart,
	)
}

// Close releases driver resources. The SDK client holds no connections that
// outlive requests.
func (d *Driver) Close() error { return nil }

// translateError maps SDK failures onto the engine error kinds. It is the
// single point where provider errors cross into typed errors.
func (d *Driver) translateError(err error, op, key string) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return ferrors.Cancelled(err)
	}

	var noKey *s3types.NoSuchKey
	var notFound *s3types.NotFound
	if errors.As(err, &noKey) || errors.As(err, &notFound) {
		return ferrors.Newf(ferrors.KindNotFound, "%s: %s not found", op, key)
	}

	status := httpStatusOf(err)
	switch status {
	case 404:
		return ferrors.Newf(ferrors.KindNotFound, "%s: %s not found", op, key)
	case 409:
		return ferrors.Wrap(ferrors.KindConflict, op+" conflict on "+key, err)
	}
	if status > 0 {
		return ferrors.Provider(status, op+" failed for "+key, err)
	}
	return ferrors.Wrap(ferrors.KindProviderTransient, op+" failed for "+key, err)
}

func httpStatusOf(err error) int {
	var re *awshttp.ResponseError
	if errors.As(err, &re) {
		return re.HTTPStatusCode()
	}
	return 0
}

// isAccessDeniedOrOpaque reports the HEAD failure modes some providers
// return for objects that do exist: 403 instead of 404, or an opaque
// UnknownError.
func isAccessDeniedOrOpaque(err error) bool {
	if httpStatusOf(err) == 403 {
		return true
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		code := apiErr.ErrorCode()
		return code == "AccessDenied" || code == "UnknownError"
	}
	return false
}

func isNotFound(err error) bool {
	var noKey *s3types.NoSuchKey
	var nf *s3types.NotFound
	return errors.As(err, &noKey) || errors.As(err, &nf) || httpStatusOf(err) == 404
}

func stripETag(etag string) string {
	return strings.Trim(etag, `"`)
}

// ListDirectory lists one directory level under subPath, directories first,
// both halves ordered lexicographically. Listings are cached per mount when
// the mount carries a positive cache TTL.
func (d *Driver) ListDirectory(ctx context.Context, mount *types.Mount, subPath string) (*types.DirectoryListing, error) {
	subPath, err := pathutil.Normalize(subPath, true)
	if err != nil {
		return nil, err
	}

	ttl := time.Duration(mount.CacheTTLSeconds) * time.Second
	if ttl > 0 && d.dirCache != nil {
		if cached := d.dirCache.Get(mount.ID, subPath); cached != nil {
			return cached, nil
		}
	}

	prefix := d.keyFor(subPath)
	logicalDir := pathutil.Join(mount.MountPath, subPath)

	var dirs, files []types.ListingItem
	var token *string
	for {
		out, err := d.api.ListObjectsV2(ctx, &awss3.ListObjectsV2Input{
			Bucket:            aws.String(d.bucket),
			Prefix:            aws.String(prefix),
			Delimiter:         aws.String("/"),
			MaxKeys:           aws.Int32(listPageSize),
			ContinuationToken: token,
		})
		if err != nil {
			return nil, d.translateError(err, "ListDirectory", subPath)
		}

		for _, cp := range out.CommonPrefixes {
			name := strings.TrimSuffix(strings.TrimPrefix(aws.ToString(cp.Prefix), prefix), "/")
			if name == "" {
				continue
			}
			dirs = append(dirs, types.ListingItem{
				Name:        name,
				Path:        pathutil.Join(logicalDir, name+"/"),
				IsDirectory: true,
				MountID:     mount.ID,
			})
		}
		for _, obj := range out.Contents {
			key := aws.ToString(obj.Key)
			// Directory placeholders list under their own prefix.
			if key == prefix || strings.HasSuffix(key, "/") {
				continue
			}
			name := strings.TrimPrefix(key, prefix)
			files = append(files, types.ListingItem{
				Name:        name,
				Path:        pathutil.Join(logicalDir, name),
				IsDirectory: false,
				Size:        aws.ToInt64(obj.Size),
				Modified:    aws.ToTime(obj.LastModified),
				ETag:        stripETag(aws.ToString(obj.ETag)),
				MountID:     mount.ID,
			})
		}

		if !aws.ToBool(out.IsTruncated) {
			break
		}
		token = out.NextContinuationToken
	}

	sort.Slice(dirs, func(i, j int) bool { return dirs[i].Name < dirs[j].Name })
	sort.Slice(files, func(i, j int) bool { return files[i].Name < files[j].Name })

	listing := &types.DirectoryListing{
		Path:        logicalDir,
		MountID:     mount.ID,
		StorageType: types.StorageTypeS3,
		Items:       append(dirs, files...),
	}

	if ttl > 0 && d.dirCache != nil {
		d.dirCache.Set(mount.ID, subPath, listing, ttl)
	}
	return listing, nil
}

// GetFileInfo stats subPath. HEAD failures of 403 or an opaque code fall
// back to a GET without a Range; a 404 falls back to a one-key prefix
// listing to detect directories that exist only implicitly.
func (d *Driver) GetFileInfo(ctx context.Context, mount *types.Mount, subPath string) (*types.ObjectInfo, error) {
	key := d.keyFor(subPath)

	head, err := d.api.HeadObject(ctx, &awss3.HeadObjectInput{
		Bucket: aws.String(d.bucket),
		Key:    aws.String(key),
	})
	if err == nil {
		return d.infoFromHead(subPath, key, head), nil
	}

	if isAccessDeniedOrOpaque(err) {
		// Some providers refuse HEAD but allow GET on the same key.
		got, gerr := d.api.GetObject(ctx, &awss3.GetObjectInput{
			Bucket: aws.String(d.bucket),
			Key:    aws.String(key),
		})
		if gerr == nil {
			defer got.Body.Close()
			return &types.ObjectInfo{
				Key:         key,
				Name:        pathutil.Basename(subPath),
				Size:        aws.ToInt64(got.ContentLength),
				Modified:    aws.ToTime(got.LastModified),
				ETag:        stripETag(aws.ToString(got.ETag)),
				ContentType: aws.ToString(got.ContentType),
				IsDirectory: pathutil.IsDirRef(subPath) || aws.ToString(got.ContentType) == directoryContentType,
			}, nil
		}
		err = gerr
	}

	if isNotFound(err) {
		// A directory may exist only as a common prefix of deeper keys.
		probePrefix := strings.TrimSuffix(key, "/") + "/"
		out, lerr := d.api.ListObjectsV2(ctx, &awss3.ListObjectsV2Input{
			Bucket:  aws.String(d.bucket),
			Prefix:  aws.String(probePrefix),
			MaxKeys: aws.Int32(1),
		})
		if lerr == nil && len(out.Contents) > 0 {
			return &types.ObjectInfo{
				Key:         probePrefix,
				Name:        pathutil.Basename(subPath),
				IsDirectory: true,
			}, nil
		}
		return nil, ferrors.Newf(ferrors.KindNotFound, "path %s not found", subPath)
	}

	return nil, d.translateError(err, "GetFileInfo", subPath)
}

func (d *Driver) infoFromHead(subPath, key string, head *awss3.HeadObjectOutput) *types.ObjectInfo {
	contentType := aws.ToString(head.ContentType)
	return &types.ObjectInfo{
		Key:         key,
		Name:        pathutil.Basename(subPath),
		Size:        aws.ToInt64(head.ContentLength),
		Modified:    aws.ToTime(head.LastModified),
		ETag:        stripETag(aws.ToString(head.ETag)),
		ContentType: contentType,
		IsDirectory: pathutil.IsDirRef(subPath) || contentType == directoryContentType,
	}
}

// exists reports whether subPath denotes a live file or directory.
func (d *Driver) exists(ctx context.Context, mount *types.Mount, subPath string) (bool, error) {
	_, err := d.GetFileInfo(ctx, mount, subPath)
	if err == nil {
		return true, nil
	}
	if ferrors.IsKind(err, ferrors.KindNotFound) {
		return false, nil
	}
	return false, err
}

// parentExists checks that the containing directory of subPath is present,
// either as a marker object or as a non-empty prefix. The root always
// exists.
func (d *Driver) parentExists(ctx context.Context, mount *types.Mount, subPath string) (bool, error) {
	parent := pathutil.ParentOf(subPath)
	if parent == pathutil.Root {
		return true, nil
	}
	return d.exists(ctx, mount, parent)
}

// invalidateContaining drops the cached ancestor chain of subPath after a
// mutation.
func (d *Driver) invalidateContaining(mount *types.Mount, subPath string) {
	if d.dirCache == nil {
		return
	}
	d.dirCache.InvalidatePathAndAncestors(mount.ID, subPath)
}
