// Package storagetest provides an in-memory storage driver and repositories
// for exercising the engine without a provider.
package storagetest

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"time"

	ferrors "github.com/wukibaka/cloudpaste/pkg/errors"
	"github.com/wukibaka/cloudpaste/pkg/pathutil"
	"github.com/wukibaka/cloudpaste/pkg/types"
)

// Driver is an in-memory implementation of every driver capability. Paths
// are stored as sub-paths; directory entries end in a slash.
type Driver struct {
	mu      sync.Mutex
	objects map[string][]byte
	modTime map[string]time.Time
	nextID  int
}

// NewDriver creates an empty driver.
func NewDriver() *Driver {
	return &Driver{
		objects: make(map[string][]byte),
		modTime: make(map[string]time.Time),
	}
}

// Type implements types.Driver.
func (d *Driver) Type() string { return types.StorageTypeS3 }

// Capabilities advertises the full set.
func (d *Driver) Capabilities() types.CapabilitySet {
	return types.NewCapabilitySet(
		types.CapReader, types.CapWriter, types.CapAtomic,
		types.CapPresigned, types.CapMultipart,
	)
}

// Close implements types.Driver.
func (d *Driver) Close() error { return nil }

// Put seeds an object directly.
func (d *Driver) Put(subPath string, data []byte) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.objects[subPath] = append([]byte(nil), data...)
	d.modTime[subPath] = time.Now().UTC()
}

// Has reports whether a sub-path is present.
func (d *Driver) Has(subPath string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, ok := d.objects[subPath]
	return ok
}

func (d *Driver) ListDirectory(ctx context.Context, m *types.Mount, subPath string) (*types.DirectoryListing, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !pathutil.IsDirRef(subPath) {
		subPath += "/"
	}
	seen := make(map[string]bool)
	var items []types.ListingItem
	for key := range d.objects {
		if key == subPath || !strings.HasPrefix(key, subPath) {
			continue
		}
		rest := strings.TrimPrefix(key, subPath)
		name := rest
		isDir := false
		if idx := strings.Index(rest, "/"); idx >= 0 {
			name = rest[:idx]
			isDir = true
		}
		if name == "" || seen[name] {
			continue
		}
		seen[name] = true
		item := types.ListingItem{
			Name:        name,
			Path:        pathutil.Join(pathutil.Join(m.MountPath, subPath), name),
			IsDirectory: isDir,
			MountID:     m.ID,
		}
		if !isDir {
			item.Size = int64(len(d.objects[key]))
			item.Modified = d.modTime[key]
		}
		items = append(items, item)
	}
	sort.Slice(items, func(i, j int) bool {
		if items[i].IsDirectory != items[j].IsDirectory {
			return items[i].IsDirectory
		}
		return items[i].Name < items[j].Name
	})
	return &types.DirectoryListing{
		Path:        pathutil.Join(m.MountPath, subPath),
		MountID:     m.ID,
		StorageType: types.StorageTypeS3,
		Items:       items,
	}, nil
}

func (d *Driver) GetFileInfo(ctx context.Context, m *types.Mount, subPath string) (*types.ObjectInfo, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if data, ok := d.objects[subPath]; ok {
		return &types.ObjectInfo{
			Key:         subPath,
			Name:        pathutil.Basename(subPath),
			Size:        int64(len(data)),
			Modified:    d.modTime[subPath],
			IsDirectory: pathutil.IsDirRef(subPath),
		}, nil
	}
	probe := strings.TrimSuffix(subPath, "/") + "/"
	for key := range d.objects {
		if strings.HasPrefix(key, probe) {
			return &types.ObjectInfo{
				Key:         probe,
				Name:        pathutil.Basename(subPath),
				IsDirectory: true,
			}, nil
		}
	}
	return nil, ferrors.Newf(ferrors.KindNotFound, "path %s not found", subPath)
}

func (d *Driver) DownloadFile(ctx context.Context, m *types.Mount, subPath string, inline bool) (*types.FileResponse, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	data, ok := d.objects[subPath]
	if !ok {
		return nil, ferrors.Newf(ferrors.KindNotFound, "path %s not found", subPath)
	}
	disposition := "inline"
	if !inline {
		disposition = fmt.Sprintf(`attachment; filename="%s"`, pathutil.Basename(subPath))
	}
	return &types.FileResponse{
		Body:          io.NopCloser(bytes.NewReader(data)),
		ContentLength: int64(len(data)),
		ContentType:   "application/octet-stream",
		LastModified:  d.modTime[subPath],
		Disposition:   disposition,
	}, nil
}

func (d *Driver) Search(ctx context.Context, m *types.Mount, query string, opts types.SearchOptions) ([]types.SearchHit, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	needle := strings.ToLower(query)
	var hits []types.SearchHit
	for key, data := range d.objects {
		if strings.HasSuffix(key, "/") {
			continue
		}
		name := pathutil.Basename(key)
		if !strings.Contains(strings.ToLower(name), needle) {
			continue
		}
		hits = append(hits, types.SearchHit{
			Name:     name,
			SubPath:  key,
			Path:     pathutil.Join(m.MountPath, key),
			MountID:  m.ID,
			Size:     int64(len(data)),
			Modified: d.modTime[key],
		})
	}
	return hits, nil
}

func (d *Driver) UploadFile(ctx context.Context, m *types.Mount, subPath string, body io.Reader, p types.Principal, opts types.UploadOptions) (*types.FileRecord, error) {
	data, err := io.ReadAll(body)
	if err != nil {
		return nil, err
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	d.objects[subPath] = data
	d.modTime[subPath] = time.Now().UTC()
	d.nextID++
	id := fmt.Sprintf("file-%d", d.nextID)
	return &types.FileRecord{
		ID:          id,
		Slug:        "M-" + id,
		Filename:    opts.Filename,
		StoragePath: subPath,
		Size:        int64(len(data)),
		CreatedBy:   p.OwnerTag(),
	}, nil
}

func (d *Driver) CreateDirectory(ctx context.Context, m *types.Mount, subPath string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, ok := d.objects[subPath]; ok {
		return ferrors.Conflict("directory already exists")
	}
	d.objects[subPath] = nil
	d.modTime[subPath] = time.Now().UTC()
	return nil
}

func (d *Driver) RemoveItem(ctx context.Context, m *types.Mount, subPath string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if pathutil.IsDirRef(subPath) {
		removed := 0
		for key := range d.objects {
			if strings.HasPrefix(key, subPath) {
				delete(d.objects, key)
				delete(d.modTime, key)
				removed++
			}
		}
		if removed == 0 {
			return ferrors.Newf(ferrors.KindNotFound, "directory %s not found", subPath)
		}
		return nil
	}

	if _, ok := d.objects[subPath]; !ok {
		return ferrors.Newf(ferrors.KindNotFound, "path %s not found", subPath)
	}
	delete(d.objects, subPath)
	delete(d.modTime, subPath)
	return nil
}

func (d *Driver) RenameItem(ctx context.Context, m *types.Mount, oldSub, newSub string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if pathutil.IsDirRef(oldSub) != pathutil.IsDirRef(newSub) {
		return ferrors.BadRequest("source and destination must be the same type")
	}
	if _, ok := d.objects[newSub]; ok {
		return ferrors.Conflict("destination already exists")
	}

	if pathutil.IsDirRef(oldSub) {
		moved := 0
		for key, data := range d.objects {
			if strings.HasPrefix(key, oldSub) {
				newKey := newSub + strings.TrimPrefix(key, oldSub)
				d.objects[newKey] = data
				d.modTime[newKey] = d.modTime[key]
				delete(d.objects, key)
				delete(d.modTime, key)
				moved++
			}
		}
		if moved == 0 {
			return ferrors.Newf(ferrors.KindNotFound, "directory %s not found", oldSub)
		}
		return nil
	}

	data, ok := d.objects[oldSub]
	if !ok {
		return ferrors.Newf(ferrors.KindNotFound, "path %s not found", oldSub)
	}
	d.objects[newSub] = data
	d.modTime[newSub] = d.modTime[oldSub]
	delete(d.objects, oldSub)
	delete(d.modTime, oldSub)
	return nil
}

func (d *Driver) CopyItem(ctx context.Context, srcMount *types.Mount, srcSub string, dstMount *types.Mount, dstSub string, opts types.CopyOptions) (*types.CopyOutcome, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	outcome := &types.CopyOutcome{}
	copyOne := func(src, dst string) {
		if opts.SkipExisting {
			if _, ok := d.objects[dst]; ok {
				outcome.Skipped++
				return
			}
		}
		d.objects[dst] = append([]byte(nil), d.objects[src]...)
		d.modTime[dst] = time.Now().UTC()
		outcome.Copied++
	}

	if pathutil.IsDirRef(srcSub) {
		found := false
		for key := range d.objects {
			if strings.HasPrefix(key, srcSub) {
				found = true
				copyOne(key, dstSub+strings.TrimPrefix(key, srcSub))
			}
		}
		if !found {
			return nil, ferrors.Newf(ferrors.KindNotFound, "directory %s not found", srcSub)
		}
		return outcome, nil
	}

	if _, ok := d.objects[srcSub]; !ok {
		return nil, ferrors.Newf(ferrors.KindNotFound, "path %s not found", srcSub)
	}
	copyOne(srcSub, dstSub)
	return outcome, nil
}

func (d *Driver) GeneratePresignedURL(ctx context.Context, m *types.Mount, subPath string, opts types.PresignOptions) (*types.PresignResult, error) {
	if pathutil.IsDirRef(subPath) {
		return nil, ferrors.BadRequest("cannot presign a directory")
	}
	method := opts.Method
	if method == "" {
		method = "GET"
	}
	return &types.PresignResult{
		URL:    fmt.Sprintf("https://storagetest.local/%s%s", strings.ToLower(method), subPath),
		Method: method,
	}, nil
}

func (d *Driver) InitMultipart(ctx context.Context, m *types.Mount, subPath string, req types.MultipartInitRequest) (*types.MultipartInit, error) {
	return &types.MultipartInit{
		UploadID: "mem-upload",
		Key:      subPath,
		PartSize: 5 * 1024 * 1024,
		PartURLs: []string{"https://storagetest.local/part/1"},
	}, nil
}

func (d *Driver) CompleteMultipart(ctx context.Context, m *types.Mount, subPath, uploadID string, parts []types.MultipartPart, p types.Principal) (*types.FileRecord, error) {
	d.Put(subPath, nil)
	return &types.FileRecord{ID: "mem-file", Slug: "M-mem", StoragePath: subPath, CreatedBy: p.OwnerTag()}, nil
}

func (d *Driver) AbortMultipart(ctx context.Context, m *types.Mount, subPath, uploadID string) error {
	return nil
}

func (d *Driver) ListMultipartUploads(ctx context.Context, m *types.Mount, subPath string) ([]types.MultipartUpload, error) {
	return []types.MultipartUpload{}, nil
}

func (d *Driver) ListMultipartParts(ctx context.Context, m *types.Mount, subPath, uploadID string) ([]types.MultipartPart, error) {
	return []types.MultipartPart{}, nil
}

func (d *Driver) RefreshMultipartURLs(ctx context.Context, m *types.Mount, subPath, uploadID string, partNumbers []int32) (map[int32]string, error) {
	urls := make(map[int32]string, len(partNumbers))
	for _, n := range partNumbers {
		urls[n] = fmt.Sprintf("https://storagetest.local/part/%d", n)
	}
	return urls, nil
}
