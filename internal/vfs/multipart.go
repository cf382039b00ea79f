package vfs

import (
	"context"

	"github.com/wukibaka/cloudpaste/pkg/types"
)

// MultipartInit opens a frontend multipart session for path.
func (fs *FileSystem) MultipartInit(ctx context.Context, p types.Principal, path string, req types.MultipartInitRequest) (init *types.MultipartInit, err error) {
	start := fs.clock()
	defer func() { fs.record("mpu_init", start, err) }()

	driver, mnt, subPath, err := fs.manager.GetDriverByPath(ctx, p, path)
	if err != nil {
		return nil, err
	}
	mp, err := asMultipart(driver)
	if err != nil {
		return nil, err
	}
	return mp.InitMultipart(ctx, mnt, subPath, req)
}

// MultipartComplete finalizes a session and returns the file record.
func (fs *FileSystem) MultipartComplete(ctx context.Context, p types.Principal, path, uploadID string, parts []types.MultipartPart) (record *types.FileRecord, err error) {
	start := fs.clock()
	defer func() { fs.record("mpu_complete", start, err) }()

	driver, mnt, subPath, err := fs.manager.GetDriverByPath(ctx, p, path)
	if err != nil {
		return nil, err
	}
	mp, err := asMultipart(driver)
	if err != nil {
		return nil, err
	}
	return mp.CompleteMultipart(ctx, mnt, subPath, uploadID, parts, p)
}

// MultipartAbort cancels a session.
func (fs *FileSystem) MultipartAbort(ctx context.Context, p types.Principal, path, uploadID string) (err error) {
	start := fs.clock()
	defer func() { fs.record("mpu_abort", start, err) }()

	driver, mnt, subPath, err := fs.manager.GetDriverByPath(ctx, p, path)
	if err != nil {
		return err
	}
	mp, err := asMultipart(driver)
	if err != nil {
		return err
	}
	return mp.AbortMultipart(ctx, mnt, subPath, uploadID)
}

// MultipartList reports in-flight sessions under path.
func (fs *FileSystem) MultipartList(ctx context.Context, p types.Principal, path string) (uploads []types.MultipartUpload, err error) {
	start := fs.clock()
	defer func() { fs.record("mpu_list", start, err) }()

	driver, mnt, subPath, err := fs.manager.GetDriverByPath(ctx, p, path)
	if err != nil {
		return nil, err
	}
	mp, err := asMultipart(driver)
	if err != nil {
		return nil, err
	}
	return mp.ListMultipartUploads(ctx, mnt, subPath)
}

// MultipartParts reports the provider-accepted parts of a session.
func (fs *FileSystem) MultipartParts(ctx context.Context, p types.Principal, path, uploadID string) (parts []types.MultipartPart, err error) {
	start := fs.clock()
	defer func() { fs.record("mpu_parts", start, err) }()

	driver, mnt, subPath, err := fs.manager.GetDriverByPath(ctx, p, path)
	if err != nil {
		return nil, err
	}
	mp, err := asMultipart(driver)
	if err != nil {
		return nil, err
	}
	return mp.ListMultipartParts(ctx, mnt, subPath, uploadID)
}

// MultipartRefresh re-signs part upload URLs for a resumable session.
func (fs *FileSystem) MultipartRefresh(ctx context.Context, p types.Principal, path, uploadID string, partNumbers []int32) (urls map[int32]string, err error) {
	start := fs.clock()
	defer func() { fs.record("mpu_refresh", start, err) }()

	driver, mnt, subPath, err := fs.manager.GetDriverByPath(ctx, p, path)
	if err != nil {
		return nil, err
	}
	mp, err := asMultipart(driver)
	if err != nil {
		return nil, err
	}
	return mp.RefreshMultipartURLs(ctx, mnt, subPath, uploadID, partNumbers)
}
