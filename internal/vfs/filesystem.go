// Package vfs is the user-facing facade of the virtual filesystem engine.
// Every operation resolves its logical path to a driver through the mount
// manager, verifies the driver advertises the required capability, and
// delegates. Drivers invalidate the directory cache on mutation; the facade
// never touches it directly.
package vfs

import (
	"context"
	"io"
	"log/slog"
	"time"

	"github.com/wukibaka/cloudpaste/internal/cache"
	"github.com/wukibaka/cloudpaste/internal/mount"
	ferrors "github.com/wukibaka/cloudpaste/pkg/errors"
	"github.com/wukibaka/cloudpaste/pkg/pathutil"
	"github.com/wukibaka/cloudpaste/pkg/types"
)

// OperationRecorder observes operation outcomes for metrics.
type OperationRecorder interface {
	RecordOperation(op string, duration time.Duration, err error)
}

// FileSystem dispatches user-facing operations to storage drivers.
type FileSystem struct {
	manager     *mount.Manager
	searchCache *cache.SearchCache
	recorder    OperationRecorder
	logger      *slog.Logger
	clock       func() time.Time
}

// New creates the facade. recorder may be nil.
func New(manager *mount.Manager, searchCache *cache.SearchCache, recorder OperationRecorder) *FileSystem {
	return &FileSystem{
		manager:     manager,
		searchCache: searchCache,
		recorder:    recorder,
		logger:      slog.Default().With("component", "vfs"),
		clock:       time.Now,
	}
}

func (fs *FileSystem) record(op string, start time.Time, err error) {
	if fs.recorder != nil {
		fs.recorder.RecordOperation(op, fs.clock().Sub(start), err)
	}
}

// requireCapability fails fast with Unimplemented before any I/O when the
// driver does not advertise the capability an operation needs.
func requireCapability(d types.Driver, c types.Capability) error {
	if !d.Capabilities().Has(c) {
		return ferrors.Newf(ferrors.KindUnimplemented,
			"storage driver %s does not support %s", d.Type(), c)
	}
	return nil
}

func asReader(d types.Driver) (types.Reader, error) {
	if err := requireCapability(d, types.CapReader); err != nil {
		return nil, err
	}
	r, ok := d.(types.Reader)
	if !ok {
		return nil, ferrors.Newf(ferrors.KindUnimplemented,
			"storage driver %s does not support %s", d.Type(), types.CapReader)
	}
	return r, nil
}

func asWriter(d types.Driver) (types.Writer, error) {
	if err := requireCapability(d, types.CapWriter); err != nil {
		return nil, err
	}
	w, ok := d.(types.Writer)
	if !ok {
		return nil, ferrors.Newf(ferrors.KindUnimplemented,
			"storage driver %s does not support %s", d.Type(), types.CapWriter)
	}
	return w, nil
}

func asAtomic(d types.Driver) (types.Atomic, error) {
	if err := requireCapability(d, types.CapAtomic); err != nil {
		return nil, err
	}
	a, ok := d.(types.Atomic)
	if !ok {
		return nil, ferrors.Newf(ferrors.KindUnimplemented,
			"storage driver %s does not support %s", d.Type(), types.CapAtomic)
	}
	return a, nil
}

func asPresigned(d types.Driver) (types.Presigned, error) {
	if err := requireCapability(d, types.CapPresigned); err != nil {
		return nil, err
	}
	p, ok := d.(types.Presigned)
	if !ok {
		return nil, ferrors.Newf(ferrors.KindUnimplemented,
			"storage driver %s does not support %s", d.Type(), types.CapPresigned)
	}
	return p, nil
}

func asMultipart(d types.Driver) (types.Multipart, error) {
	if err := requireCapability(d, types.CapMultipart); err != nil {
		return nil, err
	}
	m, ok := d.(types.Multipart)
	if !ok {
		return nil, ferrors.Newf(ferrors.KindUnimplemented,
			"storage driver %s does not support %s", d.Type(), types.CapMultipart)
	}
	return m, nil
}

// List returns the directory listing at path. Ancestor directories no mount
// covers produce a virtual listing synthesized from the mount table.
func (fs *FileSystem) List(ctx context.Context, p types.Principal, path string) (listing *types.DirectoryListing, err error) {
	start := fs.clock()
	defer func() { fs.record("list", start, err) }()

	path, err = pathutil.Normalize(path, true)
	if err != nil {
		return nil, err
	}

	res, err := fs.manager.Registry().Resolve(ctx, p, path)
	if err != nil {
		if ferrors.IsKind(err, ferrors.KindNotFound) && path == pathutil.Root {
			// An empty namespace still has a root.
			return fs.manager.Registry().VirtualListing(ctx, p, path)
		}
		return nil, err
	}
	if res.IsVirtual {
		return fs.manager.Registry().VirtualListing(ctx, p, path)
	}

	driver, err := fs.manager.GetDriver(ctx, res.Mount)
	if err != nil {
		return nil, err
	}
	reader, err := asReader(driver)
	if err != nil {
		return nil, err
	}

	fs.manager.Registry().UpdateLastUsed(res.Mount.ID)
	return reader.ListDirectory(ctx, res.Mount, res.SubPath)
}

// Info returns metadata for the file or directory at path.
func (fs *FileSystem) Info(ctx context.Context, p types.Principal, path string) (info *types.ObjectInfo, err error) {
	start := fs.clock()
	defer func() { fs.record("info", start, err) }()

	driver, mnt, subPath, err := fs.manager.GetDriverByPath(ctx, p, path)
	if err != nil {
		return nil, err
	}
	reader, err := asReader(driver)
	if err != nil {
		return nil, err
	}
	return reader.GetFileInfo(ctx, mnt, subPath)
}

// Download streams the file at path; inline selects the disposition.
func (fs *FileSystem) Download(ctx context.Context, p types.Principal, path string, inline bool) (resp *types.FileResponse, err error) {
	start := fs.clock()
	defer func() { fs.record("download", start, err) }()

	driver, mnt, subPath, err := fs.manager.GetDriverByPath(ctx, p, path)
	if err != nil {
		return nil, err
	}
	reader, err := asReader(driver)
	if err != nil {
		return nil, err
	}
	return reader.DownloadFile(ctx, mnt, subPath, inline)
}

// Upload stores body at path and returns the persisted file record.
func (fs *FileSystem) Upload(ctx context.Context, p types.Principal, path string, body io.Reader, opts types.UploadOptions) (record *types.FileRecord, err error) {
	start := fs.clock()
	defer func() { fs.record("upload", start, err) }()

	driver, mnt, subPath, err := fs.manager.GetDriverByPath(ctx, p, path)
	if err != nil {
		return nil, err
	}
	writer, err := asWriter(driver)
	if err != nil {
		return nil, err
	}
	return writer.UploadFile(ctx, mnt, subPath, body, p, opts)
}

// Mkdir creates the directory at path.
func (fs *FileSystem) Mkdir(ctx context.Context, p types.Principal, path string) (err error) {
	start := fs.clock()
	defer func() { fs.record("mkdir", start, err) }()

	path, err = pathutil.Normalize(path, true)
	if err != nil {
		return err
	}
	driver, mnt, subPath, err := fs.manager.GetDriverByPath(ctx, p, path)
	if err != nil {
		return err
	}
	writer, err := asWriter(driver)
	if err != nil {
		return err
	}
	return writer.CreateDirectory(ctx, mnt, subPath)
}

// Remove deletes the file or directory tree at path.
func (fs *FileSystem) Remove(ctx context.Context, p types.Principal, path string) (err error) {
	start := fs.clock()
	defer func() { fs.record("remove", start, err) }()

	driver, mnt, subPath, err := fs.manager.GetDriverByPath(ctx, p, path)
	if err != nil {
		return err
	}
	writer, err := asWriter(driver)
	if err != nil {
		return err
	}
	return writer.RemoveItem(ctx, mnt, subPath)
}

// Rename moves oldPath to newPath. Both ends must resolve to the same
// mount; cross-mount renames are rejected.
func (fs *FileSystem) Rename(ctx context.Context, p types.Principal, oldPath, newPath string) (err error) {
	start := fs.clock()
	defer func() { fs.record("rename", start, err) }()

	driver, oldMount, oldSub, err := fs.manager.GetDriverByPath(ctx, p, oldPath)
	if err != nil {
		return err
	}
	newRes, err := fs.manager.Registry().Resolve(ctx, p, newPath)
	if err != nil {
		return err
	}
	if newRes.IsVirtual || newRes.Mount.ID != oldMount.ID {
		return ferrors.BadRequest("cannot rename across mounts")
	}

	atomic, err := asAtomic(driver)
	if err != nil {
		return err
	}
	return atomic.RenameItem(ctx, oldMount, oldSub, newRes.SubPath)
}

// Copy copies srcPath to dstPath. Copies within one storage configuration
// run on the driver; copies crossing configurations return a CrossStorage
// outcome holding the presigned transfer pair for the caller to execute.
func (fs *FileSystem) Copy(ctx context.Context, p types.Principal, srcPath, dstPath string, opts types.CopyOptions) (outcome *types.CopyOutcome, err error) {
	start := fs.clock()
	defer func() { fs.record("copy", start, err) }()

	srcDriver, srcMount, srcSub, err := fs.manager.GetDriverByPath(ctx, p, srcPath)
	if err != nil {
		return nil, err
	}
	dstRes, err := fs.manager.Registry().Resolve(ctx, p, dstPath)
	if err != nil {
		return nil, err
	}
	if dstRes.IsVirtual {
		return nil, ferrors.BadRequest("copy destination is a virtual directory")
	}

	if srcMount.StorageConfigID == dstRes.Mount.StorageConfigID {
		atomic, err := asAtomic(srcDriver)
		if err != nil {
			return nil, err
		}
		return atomic.CopyItem(ctx, srcMount, srcSub, dstRes.Mount, dstRes.SubPath, opts)
	}

	return fs.crossStorageCopy(ctx, srcDriver, srcMount, srcSub, dstRes, srcPath)
}

// crossStorageCopy assembles the presigned GET/PUT pair for a copy between
// storage configurations. Directory trees cannot cross configurations in a
// single transfer.
func (fs *FileSystem) crossStorageCopy(ctx context.Context, srcDriver types.Driver, srcMount *types.Mount, srcSub string, dstRes *mount.Resolution, srcPath string) (*types.CopyOutcome, error) {
	if pathutil.IsDirRef(srcSub) {
		return nil, ferrors.BadRequest("directories cannot be copied across storage configurations")
	}

	srcPresign, err := asPresigned(srcDriver)
	if err != nil {
		return nil, err
	}
	srcReader, err := asReader(srcDriver)
	if err != nil {
		return nil, err
	}

	dstDriver, err := fs.manager.GetDriver(ctx, dstRes.Mount)
	if err != nil {
		return nil, err
	}
	dstPresign, err := asPresigned(dstDriver)
	if err != nil {
		return nil, err
	}

	meta, err := srcReader.GetFileInfo(ctx, srcMount, srcSub)
	if err != nil {
		return nil, err
	}
	getURL, err := srcPresign.GeneratePresignedURL(ctx, srcMount, srcSub, types.PresignOptions{Method: "GET"})
	if err != nil {
		return nil, err
	}
	putURL, err := dstPresign.GeneratePresignedURL(ctx, dstRes.Mount, dstRes.SubPath, types.PresignOptions{Method: "PUT"})
	if err != nil {
		return nil, err
	}

	fs.logger.Info("cross-storage copy prepared",
		"source", srcPath, "src_config", srcMount.StorageConfigID,
		"dst_config", dstRes.Mount.StorageConfigID)

	return &types.CopyOutcome{
		CrossStorage: true,
		GetURL:       getURL.URL,
		PutURL:       putURL.URL,
		Metadata:     meta,
	}, nil
}

// Presign generates a presigned URL for direct provider access to path.
func (fs *FileSystem) Presign(ctx context.Context, p types.Principal, path string, opts types.PresignOptions) (result *types.PresignResult, err error) {
	start := fs.clock()
	defer func() { fs.record("presign", start, err) }()

	driver, mnt, subPath, err := fs.manager.GetDriverByPath(ctx, p, path)
	if err != nil {
		return nil, err
	}
	presigned, err := asPresigned(driver)
	if err != nil {
		return nil, err
	}
	return presigned.GeneratePresignedURL(ctx, mnt, subPath, opts)
}
