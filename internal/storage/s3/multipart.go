package s3

import (
	"context"
	"sort"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awss3 "github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"

	ferrors "github.com/wukibaka/cloudpaste/pkg/errors"
	"github.com/wukibaka/cloudpaste/pkg/pathutil"
	"github.com/wukibaka/cloudpaste/pkg/types"
)

const (
	// minPartSize is the provider minimum for every part but the last.
	minPartSize = 5 * 1024 * 1024
	// defaultPartSize is used when the frontend does not pick a size.
	defaultPartSize = 16 * 1024 * 1024
	// multipartURLLifetime bounds each per-part presigned PUT URL.
	multipartURLLifetime = 24 * time.Hour
)

// InitMultipart opens a provider multipart session for subPath and returns
// one presigned PUT URL per part, signed against the final key. Session
// state lives with the provider; nothing is persisted locally.
func (d *Driver) InitMultipart(ctx context.Context, mount *types.Mount, subPath string, req types.MultipartInitRequest) (*types.MultipartInit, error) {
	if pathutil.IsDirRef(subPath) {
		return nil, ferrors.BadRequest("multipart target must be a file path")
	}
	filename := req.Filename
	if filename == "" {
		filename = pathutil.Basename(subPath)
	}
	if isExecutableFilename(filename) {
		return nil, ferrors.Newf(ferrors.KindForbidden, "refusing executable file type")
	}

	ok, err := d.parentExists(ctx, mount, subPath)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ferrors.Conflict("parent directory does not exist")
	}

	partSize := req.PartSize
	if partSize <= 0 {
		partSize = defaultPartSize
	}
	if partSize < minPartSize {
		partSize = minPartSize
	}
	partCount := int(req.Size / partSize)
	if req.Size%partSize != 0 || partCount == 0 {
		partCount++
	}

	key := d.keyFor(subPath)
	created, err := d.api.CreateMultipartUpload(ctx, &awss3.CreateMultipartUploadInput{
		Bucket:      aws.String(d.bucket),
		Key:         aws.String(key),
		ContentType: aws.String(contentTypeFor(filename, req.MimeType)),
	})
	if err != nil {
		return nil, d.translateError(err, "InitMultipart", subPath)
	}
	uploadID := aws.ToString(created.UploadId)

	urls := make([]string, 0, partCount)
	for part := int32(1); part <= int32(partCount); part++ {
		signed, err := d.presignPart(ctx, key, uploadID, part)
		if err != nil {
			// Abandon the half-built session rather than leak it.
			_, _ = d.api.AbortMultipartUpload(ctx, &awss3.AbortMultipartUploadInput{
				Bucket:   aws.String(d.bucket),
				Key:      aws.String(key),
				UploadId: created.UploadId,
			})
			return nil, err
		}
		urls = append(urls, signed)
	}

	return &types.MultipartInit{
		UploadID: uploadID,
		Key:      key,
		PartSize: partSize,
		PartURLs: urls,
	}, nil
}

func (d *Driver) presignPart(ctx context.Context, key, uploadID string, partNumber int32) (string, error) {
	req, err := d.presign.PresignUploadPart(ctx, &awss3.UploadPartInput{
		Bucket:     aws.String(d.bucket),
		Key:        aws.String(key),
		UploadId:   aws.String(uploadID),
		PartNumber: aws.Int32(partNumber),
	}, awss3.WithPresignExpires(multipartURLLifetime))
	if err != nil {
		return "", d.translateError(err, "PresignUploadPart", key)
	}
	return req.URL, nil
}

// CompleteMultipart finalizes the session, records the file row and
// invalidates the containing directory chain.
func (d *Driver) CompleteMultipart(ctx context.Context, mount *types.Mount, subPath string, uploadID string, parts []types.MultipartPart, principal types.Principal) (*types.FileRecord, error) {
	if len(parts) == 0 {
		return nil, ferrors.BadRequest("completed part list cannot be empty")
	}

	sorted := make([]types.MultipartPart, len(parts))
	copy(sorted, parts)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].PartNumber < sorted[j].PartNumber })

	completed := make([]s3types.CompletedPart, len(sorted))
	for i, p := range sorted {
		completed[i] = s3types.CompletedPart{
			PartNumber: aws.Int32(p.PartNumber),
			ETag:       aws.String(p.ETag),
		}
	}

	key := d.keyFor(subPath)
	out, err := d.api.CompleteMultipartUpload(ctx, &awss3.CompleteMultipartUploadInput{
		Bucket:   aws.String(d.bucket),
		Key:      aws.String(key),
		UploadId: aws.String(uploadID),
		MultipartUpload: &s3types.CompletedMultipartUpload{
			Parts: completed,
		},
	})
	if err != nil {
		return nil, d.translateError(err, "CompleteMultipart", subPath)
	}

	d.invalidateContaining(mount, subPath)

	filename := pathutil.Basename(subPath)
	record := &types.FileRecord{
		Filename:    filename,
		StoragePath: key,
		S3URL:       d.objectURL(key),
		MimeType:    contentTypeFor(filename, ""),
		S3ConfigID:  d.cfg.ID,
		ETag:        stripETag(aws.ToString(out.ETag)),
		CreatedBy:   principal.OwnerTag(),
	}
	if d.files != nil {
		if err := d.files.CreateFile(ctx, record); err != nil {
			return nil, ferrors.Internal("multipart completed but file record failed", err)
		}
	}
	return record, nil
}

// AbortMultipart cancels a provider session.
func (d *Driver) AbortMultipart(ctx context.Context, mount *types.Mount, subPath string, uploadID string) error {
	_, err := d.api.AbortMultipartUpload(ctx, &awss3.AbortMultipartUploadInput{
		Bucket:   aws.String(d.bucket),
		Key:      aws.String(d.keyFor(subPath)),
		UploadId: aws.String(uploadID),
	})
	if err != nil {
		return d.translateError(err, "AbortMultipart", subPath)
	}
	return nil
}

// ListMultipartUploads reports in-flight provider sessions under subPath,
// which is how abandoned sessions are discovered.
func (d *Driver) ListMultipartUploads(ctx context.Context, mount *types.Mount, subPath string) ([]types.MultipartUpload, error) {
	in := &awss3.ListMultipartUploadsInput{
		Bucket: aws.String(d.bucket),
	}
	if subPath != "" {
		in.Prefix = aws.String(d.keyFor(subPath))
	}

	out, err := d.api.ListMultipartUploads(ctx, in)
	if err != nil {
		return nil, d.translateError(err, "ListMultipartUploads", subPath)
	}

	uploads := make([]types.MultipartUpload, 0, len(out.Uploads))
	for _, u := range out.Uploads {
		uploads = append(uploads, types.MultipartUpload{
			UploadID:  aws.ToString(u.UploadId),
			Key:       aws.ToString(u.Key),
			Initiated: aws.ToTime(u.Initiated),
		})
	}
	return uploads, nil
}

// ListMultipartParts reports the parts the provider has accepted so far for
// one session.
func (d *Driver) ListMultipartParts(ctx context.Context, mount *types.Mount, subPath string, uploadID string) ([]types.MultipartPart, error) {
	out, err := d.api.ListParts(ctx, &awss3.ListPartsInput{
		Bucket:   aws.String(d.bucket),
		Key:      aws.String(d.keyFor(subPath)),
		UploadId: aws.String(uploadID),
	})
	if err != nil {
		return nil, d.translateError(err, "ListMultipartParts", subPath)
	}

	parts := make([]types.MultipartPart, 0, len(out.Parts))
	for _, p := range out.Parts {
		parts = append(parts, types.MultipartPart{
			PartNumber: aws.ToInt32(p.PartNumber),
			ETag:       stripETag(aws.ToString(p.ETag)),
		})
	}
	return parts, nil
}

// RefreshMultipartURLs re-signs the PUT URLs for the requested part numbers
// of a resumable session.
func (d *Driver) RefreshMultipartURLs(ctx context.Context, mount *types.Mount, subPath string, uploadID string, partNumbers []int32) (map[int32]string, error) {
	if len(partNumbers) == 0 {
		return map[int32]string{}, nil
	}
	key := d.keyFor(subPath)

	urls := make(map[int32]string, len(partNumbers))
	for _, part := range partNumbers {
		if part < 1 {
			return nil, ferrors.Newf(ferrors.KindBadRequest, "invalid part number %d", part)
		}
		signed, err := d.presignPart(ctx, key, uploadID, part)
		if err != nil {
			return nil, err
		}
		urls[part] = signed
	}
	return urls, nil
}
