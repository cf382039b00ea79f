package vfs

import (
	"context"
	"strings"

	"github.com/wukibaka/cloudpaste/pkg/pathutil"
	"github.com/wukibaka/cloudpaste/pkg/types"
)

// CopyRequest is one item of a batch copy.
type CopyRequest struct {
	Source      string `json:"source"`
	Destination string `json:"destination"`
}

// BatchRemove deletes every path in the list, continuing past per-item
// failures. The first path selects the driver and every remaining path is
// routed through it; paths outside that mount fail per-item. Success plus
// failures always totals the input length.
func (fs *FileSystem) BatchRemove(ctx context.Context, p types.Principal, paths []string) (result *types.BatchRemoveResult, err error) {
	start := fs.clock()
	defer func() { fs.record("batch_remove", start, err) }()

	result = &types.BatchRemoveResult{Failed: []types.BatchFailure{}}
	if len(paths) == 0 {
		return result, nil
	}

	driver, batchMount, _, err := fs.manager.GetDriverByPath(ctx, p, paths[0])
	if err != nil {
		return nil, err
	}
	writer, err := asWriter(driver)
	if err != nil {
		return nil, err
	}

	base := strings.TrimSuffix(batchMount.MountPath, "/")
	for _, path := range paths {
		subPath, ok := subPathWithin(base, path)
		if !ok {
			result.Failed = append(result.Failed, types.BatchFailure{
				Path:  path,
				Error: "path is outside the batch mount",
			})
			continue
		}
		if err := writer.RemoveItem(ctx, batchMount, subPath); err != nil {
			result.Failed = append(result.Failed, types.BatchFailure{Path: path, Error: err.Error()})
			continue
		}
		result.Success++
	}
	return result, nil
}

func subPathWithin(base, logicalPath string) (string, bool) {
	switch {
	case logicalPath == base || logicalPath == base+"/":
		return "/", true
	case strings.HasPrefix(logicalPath, base+"/"):
		return logicalPath[len(base):], true
	}
	return "", false
}

// BatchCopy copies every item, continuing past per-item failures. When a
// source is a directory the destination is corrected to directory form.
// Copies that cross storage configurations accumulate their presigned
// transfer pairs into CrossStorageResults for the caller to execute.
func (fs *FileSystem) BatchCopy(ctx context.Context, p types.Principal, items []CopyRequest, skipExisting bool) (result *types.BatchCopyResult, err error) {
	start := fs.clock()
	defer func() { fs.record("batch_copy", start, err) }()

	result = &types.BatchCopyResult{Failed: []types.BatchFailure{}}
	for _, item := range items {
		src := item.Source
		dst := item.Destination
		if pathutil.IsDirRef(src) && !pathutil.IsDirRef(dst) {
			dst += "/"
		}

		outcome, err := fs.Copy(ctx, p, src, dst, types.CopyOptions{SkipExisting: skipExisting})
		if err != nil {
			result.Failed = append(result.Failed, types.BatchFailure{Path: src, Error: err.Error()})
			continue
		}

		result.Details = append(result.Details, *outcome)
		if outcome.CrossStorage {
			result.CrossStorageResults = append(result.CrossStorageResults, *outcome)
			result.Success++
			continue
		}
		if outcome.Copied > 0 {
			result.Success++
		} else if outcome.Skipped > 0 {
			result.Skipped++
		} else {
			result.Success++
		}
	}
	return result, nil
}
