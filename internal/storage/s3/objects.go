package s3

import (
	"context"
	"fmt"
	"io"
	"mime"
	"net/url"
	"path"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awss3 "github.com/aws/aws-sdk-go-v2/service/s3"

	ferrors "github.com/wukibaka/cloudpaste/pkg/errors"
	"github.com/wukibaka/cloudpaste/pkg/pathutil"
	"github.com/wukibaka/cloudpaste/pkg/types"
)

// executableExtensions is the closed set of filename extensions whose MIME
// group is treated as executable and refused on upload.
var executableExtensions = map[string]struct{}{
	".exe": {}, ".dll": {}, ".msi": {}, ".bat": {}, ".cmd": {}, ".com": {},
	".scr": {}, ".ps1": {}, ".vbs": {}, ".sh": {}, ".jar": {}, ".apk": {},
	".deb": {}, ".rpm": {},
}

func isExecutableFilename(name string) bool {
	_, ok := executableExtensions[strings.ToLower(path.Ext(name))]
	return ok
}

func contentTypeFor(filename, declared string) string {
	if declared != "" && declared != "application/octet-stream" {
		return declared
	}
	if byExt := mime.TypeByExtension(path.Ext(filename)); byExt != "" {
		return byExt
	}
	return "application/octet-stream"
}

// objectURL renders the canonical path-style URL recorded on file records.
func (d *Driver) objectURL(key string) string {
	endpoint := strings.TrimSuffix(d.cfg.Endpoint, "/")
	if endpoint == "" {
		return fmt.Sprintf("s3://%s/%s", d.bucket, key)
	}
	return fmt.Sprintf("%s/%s/%s", endpoint, d.bucket, key)
}

// DownloadFile streams the object at subPath. Ownership of the response body
// transfers to the caller. inline selects the Content-Disposition; the
// filename is URL-encoded for non-ASCII safety.
func (d *Driver) DownloadFile(ctx context.Context, mount *types.Mount, subPath string, inline bool) (*types.FileResponse, error) {
	if pathutil.IsDirRef(subPath) {
		return nil, ferrors.BadRequest("cannot download a directory")
	}
	key := d.keyFor(subPath)

	out, err := d.api.GetObject(ctx, &awss3.GetObjectInput{
		Bucket: aws.String(d.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, d.translateError(err, "DownloadFile", subPath)
	}

	disposition := "inline"
	if !inline {
		disposition = fmt.Sprintf(`attachment; filename="%s"`, url.PathEscape(pathutil.Basename(subPath)))
	}
	return &types.FileResponse{
		Body:          out.Body,
		ContentType:   aws.ToString(out.ContentType),
		ContentLength: aws.ToInt64(out.ContentLength),
		ETag:          stripETag(aws.ToString(out.ETag)),
		LastModified:  aws.ToTime(out.LastModified),
		Disposition:   disposition,
	}, nil
}

// UploadFile stores a single-shot upload at subPath, records the file row
// and invalidates the containing directory chain.
func (d *Driver) UploadFile(ctx context.Context, mount *types.Mount, subPath string, body io.Reader, principal types.Principal, opts types.UploadOptions) (*types.FileRecord, error) {
	if pathutil.IsDirRef(subPath) {
		return nil, ferrors.BadRequest("upload target must be a file path")
	}
	filename := opts.Filename
	if filename == "" {
		filename = pathutil.Basename(subPath)
	}
	if isExecutableFilename(filename) {
		return nil, ferrors.Newf(ferrors.KindForbidden, "refusing executable file type %q", path.Ext(filename))
	}

	ok, err := d.parentExists(ctx, mount, subPath)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ferrors.Conflict("parent directory does not exist")
	}

	key := d.keyFor(subPath)
	contentType := contentTypeFor(filename, opts.MimeType)

	in := &awss3.PutObjectInput{
		Bucket:      aws.String(d.bucket),
		Key:         aws.String(key),
		Body:        body,
		ContentType: aws.String(contentType),
	}
	if opts.Size > 0 {
		in.ContentLength = aws.Int64(opts.Size)
	}

	out, err := d.api.PutObject(ctx, in)
	if err != nil {
		return nil, d.translateError(err, "UploadFile", subPath)
	}

	d.invalidateContaining(mount, subPath)

	record := &types.FileRecord{
		Filename:    filename,
		StoragePath: key,
		S3URL:       d.objectURL(key),
		MimeType:    contentType,
		Size:        opts.Size,
		S3ConfigID:  d.cfg.ID,
		ETag:        stripETag(aws.ToString(out.ETag)),
		CreatedBy:   principal.OwnerTag(),
	}
	if d.files != nil {
		if err := d.files.CreateFile(ctx, record); err != nil {
			return nil, ferrors.Internal("upload stored but file record failed", err)
		}
	}
	return record, nil
}

// CreateDirectory writes a zero-byte marker object for subPath. The target
// must be absent and the parent present.
func (d *Driver) CreateDirectory(ctx context.Context, mount *types.Mount, subPath string) error {
	subPath, err := pathutil.Normalize(subPath, true)
	if err != nil {
		return err
	}
	if subPath == pathutil.Root {
		return ferrors.Conflict("directory already exists")
	}

	exists, err := d.exists(ctx, mount, subPath)
	if err != nil {
		return err
	}
	if exists {
		return ferrors.Conflict("directory already exists")
	}

	ok, err := d.parentExists(ctx, mount, subPath)
	if err != nil {
		return err
	}
	if !ok {
		return ferrors.Conflict("parent directory does not exist")
	}

	key := d.keyFor(subPath)
	_, err = d.api.PutObject(ctx, &awss3.PutObjectInput{
		Bucket:      aws.String(d.bucket),
		Key:         aws.String(key),
		Body:        strings.NewReader(""),
		ContentType: aws.String(directoryContentType),
	})
	if err != nil {
		return d.translateError(err, "CreateDirectory", subPath)
	}

	d.invalidateContaining(mount, pathutil.ParentOf(subPath))
	return nil
}

// RemoveItem deletes a file, or recursively deletes every key under a
// directory sub-path. A directory scan that sees no keys at all reports
// NotFound. File records under the removed path are deleted best-effort.
func (d *Driver) RemoveItem(ctx context.Context, mount *types.Mount, subPath string) error {
	if pathutil.IsDirRef(subPath) {
		return d.removeDirectory(ctx, mount, subPath)
	}

	key := d.keyFor(subPath)
	if _, err := d.api.HeadObject(ctx, &awss3.HeadObjectInput{
		Bucket: aws.String(d.bucket),
		Key:    aws.String(key),
	}); err != nil {
		if isNotFound(err) {
			return ferrors.Newf(ferrors.KindNotFound, "path %s not found", subPath)
		}
		if !isAccessDeniedOrOpaque(err) {
			return d.translateError(err, "RemoveItem", subPath)
		}
	}

	if _, err := d.api.DeleteObject(ctx, &awss3.DeleteObjectInput{
		Bucket: aws.String(d.bucket),
		Key:    aws.String(key),
	}); err != nil {
		return d.translateError(err, "RemoveItem", subPath)
	}

	d.deleteFileRecords(ctx, key)
	d.invalidateContaining(mount, subPath)
	return nil
}

func (d *Driver) removeDirectory(ctx context.Context, mount *types.Mount, subPath string) error {
	prefix := d.keyFor(subPath)
	seen := 0
	var token *string
	for {
		out, err := d.api.ListObjectsV2(ctx, &awss3.ListObjectsV2Input{
			Bucket:            aws.String(d.bucket),
			Prefix:            aws.String(prefix),
			MaxKeys:           aws.Int32(listPageSize),
			ContinuationToken: token,
		})
		if err != nil {
			return d.translateError(err, "RemoveItem", subPath)
		}

		for _, obj := range out.Contents {
			seen++
			if _, err := d.api.DeleteObject(ctx, &awss3.DeleteObjectInput{
				Bucket: aws.String(d.bucket),
				Key:    obj.Key,
			}); err != nil {
				return d.translateError(err, "RemoveItem", aws.ToString(obj.Key))
			}
		}

		if !aws.ToBool(out.IsTruncated) {
			break
		}
		token = out.NextContinuationToken
	}

	if seen == 0 {
		return ferrors.Newf(ferrors.KindNotFound, "directory %s not found", subPath)
	}

	d.deleteFileRecords(ctx, prefix)
	d.invalidateContaining(mount, subPath)
	return nil
}

// deleteFileRecords removes persisted records under storagePath. Failures are
// logged and swallowed; record cleanup never blocks the data path.
func (d *Driver) deleteFileRecords(ctx context.Context, storagePath string) {
	if d.files == nil {
		return
	}
	if _, err := d.files.DeleteFilesByStoragePath(ctx, d.cfg.ID, storagePath); err != nil {
		d.logger.Warn("file record cleanup failed",
			"storage_path", storagePath, "error", err)
	}
}
