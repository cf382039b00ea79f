package s3

import (
	"context"
	"net/url"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awss3 "github.com/aws/aws-sdk-go-v2/service/s3"

	ferrors "github.com/wukibaka/cloudpaste/pkg/errors"
	"github.com/wukibaka/cloudpaste/pkg/pathutil"
	"github.com/wukibaka/cloudpaste/pkg/types"
)

// copySource renders the URL-encoded CopySource header value.
func (d *Driver) copySource(key string) string {
	return url.PathEscape(d.bucket + "/" + key)
}

// RenameItem moves oldSubPath to newSubPath within this driver's storage
// configuration. Both ends must be the same type; the destination parent must
// exist and the destination itself must not. Renames are copy-then-delete;
// directory renames walk the whole prefix page by page.
func (d *Driver) RenameItem(ctx context.Context, mount *types.Mount, oldSubPath, newSubPath string) error {
	if pathutil.IsDirRef(oldSubPath) != pathutil.IsDirRef(newSubPath) {
		return ferrors.BadRequest("source and destination must be the same type")
	}

	ok, err := d.parentExists(ctx, mount, newSubPath)
	if err != nil {
		return err
	}
	if !ok {
		return ferrors.Conflict("destination parent directory does not exist")
	}

	exists, err := d.exists(ctx, mount, newSubPath)
	if err != nil {
		return err
	}
	if exists {
		return ferrors.Conflict("destination already exists")
	}

	if pathutil.IsDirRef(oldSubPath) {
		if err := d.renameDirectory(ctx, oldSubPath, newSubPath); err != nil {
			return err
		}
	} else {
		oldKey := d.keyFor(oldSubPath)
		newKey := d.keyFor(newSubPath)
		if err := d.copyThenDelete(ctx, oldKey, newKey); err != nil {
			return err
		}
	}

	d.deleteFileRecords(ctx, d.keyFor(oldSubPath))
	d.invalidateContaining(mount, oldSubPath)
	d.invalidateContaining(mount, newSubPath)
	return nil
}

func (d *Driver) renameDirectory(ctx context.Context, oldSubPath, newSubPath string) error {
	oldPrefix := d.keyFor(oldSubPath)
	newPrefix := d.keyFor(newSubPath)

	seen := 0
	var token *string
	for {
		out, err := d.api.ListObjectsV2(ctx, &awss3.ListObjectsV2Input{
			Bucket:            aws.String(d.bucket),
			Prefix:            aws.String(oldPrefix),
			MaxKeys:           aws.Int32(listPageSize),
			ContinuationToken: token,
		})
		if err != nil {
			return d.translateError(err, "RenameItem", oldSubPath)
		}

		for _, obj := range out.Contents {
			seen++
			oldKey := aws.ToString(obj.Key)
			newKey := newPrefix + strings.TrimPrefix(oldKey, oldPrefix)
			if err := d.copyThenDelete(ctx, oldKey, newKey); err != nil {
				return err
			}
		}

		if !aws.ToBool(out.IsTruncated) {
			break
		}
		token = out.NextContinuationToken
	}

	if seen == 0 {
		return ferrors.Newf(ferrors.KindNotFound, "directory %s not found", oldSubPath)
	}
	return nil
}

func (d *Driver) copyThenDelete(ctx context.Context, oldKey, newKey string) error {
	if _, err := d.api.CopyObject(ctx, &awss3.CopyObjectInput{
		Bucket:     aws.String(d.bucket),
		Key:        aws.String(newKey),
		CopySource: aws.String(d.copySource(oldKey)),
	}); err != nil {
		return d.translateError(err, "RenameItem", oldKey)
	}
	if _, err := d.api.DeleteObject(ctx, &awss3.DeleteObjectInput{
		Bucket: aws.String(d.bucket),
		Key:    aws.String(oldKey),
	}); err != nil {
		return d.translateError(err, "RenameItem", oldKey)
	}
	return nil
}

// CopyItem copies within this driver's storage configuration. skipExisting
// HEAD-probes each destination first. Directory copies walk the source
// prefix; file copies move exactly one object.
func (d *Driver) CopyItem(ctx context.Context, srcMount *types.Mount, srcSubPath string, dstMount *types.Mount, dstSubPath string, opts types.CopyOptions) (*types.CopyOutcome, error) {
	if pathutil.IsDirRef(srcSubPath) != pathutil.IsDirRef(dstSubPath) {
		return nil, ferrors.BadRequest("source and destination must be the same type")
	}

	ok, err := d.parentExists(ctx, dstMount, dstSubPath)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ferrors.Conflict("destination parent directory does not exist")
	}

	outcome := &types.CopyOutcome{}
	if pathutil.IsDirRef(srcSubPath) {
		if err := d.copyDirectory(ctx, srcSubPath, dstSubPath, opts, outcome); err != nil {
			return nil, err
		}
	} else {
		if err := d.copyOne(ctx, d.keyFor(srcSubPath), d.keyFor(dstSubPath), opts, outcome); err != nil {
			return nil, err
		}
	}

	d.invalidateContaining(dstMount, dstSubPath)
	return outcome, nil
}

func (d *Driver) copyDirectory(ctx context.Context, srcSubPath, dstSubPath string, opts types.CopyOptions, outcome *types.CopyOutcome) error {
	srcPrefix := d.keyFor(srcSubPath)
	dstPrefix := d.keyFor(dstSubPath)

	seen := 0
	var token *string
	for {
		out, err := d.api.ListObjectsV2(ctx, &awss3.ListObjectsV2Input{
			Bucket:            aws.String(d.bucket),
			Prefix:            aws.String(srcPrefix),
			MaxKeys:           aws.Int32(listPageSize),
			ContinuationToken: token,
		})
		if err != nil {
			return d.translateError(err, "CopyItem", srcSubPath)
		}

		for _, obj := range out.Contents {
			seen++
			srcKey := aws.ToString(obj.Key)
			dstKey := dstPrefix + strings.TrimPrefix(srcKey, srcPrefix)
			if err := d.copyOne(ctx, srcKey, dstKey, opts, outcome); err != nil {
				return err
			}
		}

		if !aws.ToBool(out.IsTruncated) {
			break
		}
		token = out.NextContinuationToken
	}

	if seen == 0 {
		return ferrors.Newf(ferrors.KindNotFound, "directory %s not found", srcSubPath)
	}
	return nil
}

func (d *Driver) copyOne(ctx context.Context, srcKey, dstKey string, opts types.CopyOptions, outcome *types.CopyOutcome) error {
	if opts.SkipExisting {
		_, err := d.api.HeadObject(ctx, &awss3.HeadObjectInput{
			Bucket: aws.String(d.bucket),
			Key:    aws.String(dstKey),
		})
		if err == nil {
			outcome.Skipped++
			return nil
		}
		if !isNotFound(err) && !isAccessDeniedOrOpaque(err) {
			return d.translateError(err, "CopyItem", dstKey)
		}
	}

	if _, err := d.api.CopyObject(ctx, &awss3.CopyObjectInput{
		Bucket:     aws.String(d.bucket),
		Key:        aws.String(dstKey),
		CopySource: aws.String(d.copySource(srcKey)),
	}); err != nil {
		return d.translateError(err, "CopyItem", srcKey)
	}
	outcome.Copied++
	return nil
}
