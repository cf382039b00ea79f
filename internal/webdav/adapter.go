// Package webdav exposes the filesystem engine as a WebDAV surface built on
// golang.org/x/net/webdav. The adapter translates webdav.FileSystem calls to
// facade operations; the principal travels in the request context.
package webdav

import (
	"bytes"
	"context"
	"io"
	"os"
	"path"
	"strings"
	"time"

	"golang.org/x/net/webdav"

	"github.com/wukibaka/cloudpaste/internal/vfs"
	ferrors "github.com/wukibaka/cloudpaste/pkg/errors"
	"github.com/wukibaka/cloudpaste/pkg/pathutil"
	"github.com/wukibaka/cloudpaste/pkg/types"
)

type principalKey struct{}

// WithPrincipal stores the authenticated principal for adapter calls.
func WithPrincipal(ctx context.Context, p types.Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

func principalFrom(ctx context.Context) (types.Principal, bool) {
	p, ok := ctx.Value(principalKey{}).(types.Principal)
	return p, ok
}

// Adapter implements webdav.FileSystem over the engine facade.
type Adapter struct {
	fs *vfs.FileSystem
}

// NewAdapter wraps the facade.
func NewAdapter(fs *vfs.FileSystem) *Adapter {
	return &Adapter{fs: fs}
}

// translateError maps engine error kinds onto the os sentinel errors the
// webdav handler understands.
func translateError(err error) error {
	if err == nil {
		return nil
	}
	switch ferrors.KindOf(err) {
	case ferrors.KindNotFound:
		return os.ErrNotExist
	case ferrors.KindConflict:
		return os.ErrExist
	case ferrors.KindForbidden, ferrors.KindUnauthenticated:
		return os.ErrPermission
	default:
		return err
	}
}

func cleanName(name string) string {
	if name == "" {
		return "/"
	}
	name = path.Clean("/" + name)
	if name == "." {
		return "/"
	}
	return name
}

// Mkdir creates a collection.
func (a *Adapter) Mkdir(ctx context.Context, name string, _ os.FileMode) error {
	p, ok := principalFrom(ctx)
	if !ok {
		return os.ErrPermission
	}
	return translateError(a.fs.Mkdir(ctx, p, cleanName(name)+"/"))
}

// Stat reports metadata for name.
func (a *Adapter) Stat(ctx context.Context, name string) (os.FileInfo, error) {
	p, ok := principalFrom(ctx)
	if !ok {
		return nil, os.ErrPermission
	}
	name = cleanName(name)
	if name == "/" {
		return dirInfo("/", time.Time{}), nil
	}

	info, err := a.fs.Info(ctx, p, name)
	if err != nil {
		return nil, translateError(err)
	}
	if info.IsDirectory {
		return dirInfo(pathutil.Basename(name), info.Modified), nil
	}
	return &fileInfo{
		name:    pathutil.Basename(name),
		size:    info.Size,
		modTime: info.Modified,
	}, nil
}

// RemoveAll deletes a file or a whole collection.
func (a *Adapter) RemoveAll(ctx context.Context, name string) error {
	p, ok := principalFrom(ctx)
	if !ok {
		return os.ErrPermission
	}
	name = cleanName(name)

	target := name
	if info, err := a.fs.Info(ctx, p, name); err == nil && info.IsDirectory {
		target = name + "/"
	}
	return translateError(a.fs.Remove(ctx, p, target))
}

// Rename moves a file or collection; both ends keep their form.
func (a *Adapter) Rename(ctx context.Context, oldName, newName string) error {
	p, ok := principalFrom(ctx)
	if !ok {
		return os.ErrPermission
	}
	oldName = cleanName(oldName)
	newName = cleanName(newName)

	if info, err := a.fs.Info(ctx, p, oldName); err == nil && info.IsDirectory {
		oldName += "/"
		newName += "/"
	}
	return translateError(a.fs.Rename(ctx, p, oldName, newName))
}

// OpenFile opens name for reading or writing. Reads buffer the object so the
// webdav handler can seek; writes buffer locally and upload on Close.
func (a *Adapter) OpenFile(ctx context.Context, name string, flag int, _ os.FileMode) (webdav.File, error) {
	p, ok := principalFrom(ctx)
	if !ok {
		return nil, os.ErrPermission
	}
	name = cleanName(name)

	if flag&(os.O_WRONLY|os.O_RDWR) != 0 {
		return &writeFile{ctx: ctx, adapter: a, principal: p, name: name}, nil
	}

	if name == "/" {
		return a.openDir(ctx, p, "/")
	}
	info, err := a.fs.Info(ctx, p, name)
	if err != nil {
		return nil, translateError(err)
	}
	if info.IsDirectory {
		return a.openDir(ctx, p, name+"/")
	}

	resp, err := a.fs.Download(ctx, p, name, true)
	if err != nil {
		return nil, translateError(err)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	return &readFile{
		reader: bytes.NewReader(data),
		info: &fileInfo{
			name:    pathutil.Basename(name),
			size:    int64(len(data)),
			modTime: resp.LastModified,
		},
	}, nil
}

func (a *Adapter) openDir(ctx context.Context, p types.Principal, dir string) (webdav.File, error) {
	listing, err := a.fs.List(ctx, p, dir)
	if err != nil {
		return nil, translateError(err)
	}

	infos := make([]os.FileInfo, 0, len(listing.Items))
	for _, item := range listing.Items {
		if item.IsDirectory {
			infos = append(infos, dirInfo(item.Name, item.Modified))
			continue
		}
		infos = append(infos, &fileInfo{name: item.Name, size: item.Size, modTime: item.Modified})
	}
	return &dirFile{
		info:    dirInfo(strings.TrimSuffix(pathutil.Basename(dir), "/"), time.Time{}),
		entries: infos,
	}, nil
}

// fileInfo implements os.FileInfo for objects and directories.
type fileInfo struct {
	name    string
	size    int64
	modTime time.Time
	isDir   bool
}

func dirInfo(name string, modTime time.Time) *fileInfo {
	return &fileInfo{name: name, modTime: modTime, isDir: true}
}

func (fi *fileInfo) Name() string { return fi.name }
func (fi *fileInfo) Size() int64  { return fi.size }
func (fi *fileInfo) Mode() os.FileMode {
	if fi.isDir {
		return os.ModeDir | 0o755
	}
	return 0o644
}
func (fi *fileInfo) ModTime() time.Time { return fi.modTime }
func (fi *fileInfo) IsDir() bool        { return fi.isDir }
func (fi *fileInfo) Sys() interface{}   { return nil }

// readFile serves a buffered object body with seeking.
type readFile struct {
	reader *bytes.Reader
	info   *fileInfo
}

func (f *readFile) Read(p []byte) (int, error)                   { return f.reader.Read(p) }
func (f *readFile) Seek(offset int64, whence int) (int64, error) { return f.reader.Seek(offset, whence) }
func (f *readFile) Close() error                                 { return nil }
func (f *readFile) Stat() (os.FileInfo, error)                   { return f.info, nil }
func (f *readFile) Write(p []byte) (int, error)                  { return 0, os.ErrPermission }
func (f *readFile) Readdir(count int) ([]os.FileInfo, error)     { return nil, os.ErrInvalid }

// dirFile serves a directory listing.
type dirFile struct {
	info    *fileInfo
	entries []os.FileInfo
	offset  int
}

func (f *dirFile) Read(p []byte) (int, error)                   { return 0, os.ErrInvalid }
func (f *dirFile) Seek(offset int64, whence int) (int64, error) { return 0, os.ErrInvalid }
func (f *dirFile) Close() error                                 { return nil }
func (f *dirFile) Stat() (os.FileInfo, error)                   { return f.info, nil }
func (f *dirFile) Write(p []byte) (int, error)                  { return 0, os.ErrPermission }

func (f *dirFile) Readdir(count int) ([]os.FileInfo, error) {
	if count <= 0 {
		entries := f.entries[f.offset:]
		f.offset = len(f.entries)
		return entries, nil
	}
	if f.offset >= len(f.entries) {
		return nil, io.EOF
	}
	end := f.offset + count
	if end > len(f.entries) {
		end = len(f.entries)
	}
	entries := f.entries[f.offset:end]
	f.offset = end
	return entries, nil
}

// writeFile buffers PUT bodies and uploads on Close.
type writeFile struct {
	ctx       context.Context
	adapter   *Adapter
	principal types.Principal
	name      string
	buf       bytes.Buffer
	closed    bool
}

func (f *writeFile) Write(p []byte) (int, error) { return f.buf.Write(p) }

func (f *writeFile) Close() error {
	if f.closed {
		return nil
	}
	f.closed = true

	_, err := f.adapter.fs.Upload(f.ctx, f.principal, f.name, bytes.NewReader(f.buf.Bytes()), types.UploadOptions{
		Filename: pathutil.Basename(f.name),
		Size:     int64(f.buf.Len()),
	})
	return translateError(err)
}

func (f *writeFile) Read(p []byte) (int, error)                   { return 0, os.ErrInvalid }
func (f *writeFile) Seek(offset int64, whence int) (int64, error) { return 0, os.ErrInvalid }
func (f *writeFile) Readdir(count int) ([]os.FileInfo, error)     { return nil, os.ErrInvalid }
func (f *writeFile) Stat() (os.FileInfo, error) {
	return &fileInfo{name: pathutil.Basename(f.name), size: int64(f.buf.Len())}, nil
}
