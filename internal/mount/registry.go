// Package mount resolves logical paths to mounts and pools storage drivers
// per storage configuration.
package mount

import (
	"context"
	"log/slog"
	"sort"
	"strings"
	"time"

	ferrors "github.com/wukibaka/cloudpaste/pkg/errors"
	"github.com/wukibaka/cloudpaste/pkg/pathutil"
	"github.com/wukibaka/cloudpaste/pkg/types"
)

// Registry resolves logical paths against the persisted mount table.
type Registry struct {
	mounts types.MountRepository
	logger *slog.Logger
}

// NewRegistry creates a registry over the mount repository.
func NewRegistry(mounts types.MountRepository) *Registry {
	return &Registry{
		mounts: mounts,
		logger: slog.Default().With("component", "mount-registry"),
	}
}

// ListForPrincipal returns the active mounts the principal may address.
// Admins see every mount they own; API keys see their permitted set
// regardless of owner.
func (r *Registry) ListForPrincipal(ctx context.Context, p types.Principal) ([]*types.Mount, error) {
	if p.Admin {
		all, err := r.mounts.ListMountsByOwner(ctx, p.OwnerTag())
		if err != nil {
			return nil, err
		}
		active := all[:0]
		for _, m := range all {
			if m.IsActive {
				active = append(active, m)
			}
		}
		return active, nil
	}

	mounts := make([]*types.Mount, 0, len(p.PermittedMountIDs))
	for _, id := range p.PermittedMountIDs {
		m, err := r.mounts.GetMount(ctx, id)
		if err != nil {
			if ferrors.IsKind(err, ferrors.KindNotFound) {
				continue
			}
			return nil, err
		}
		if m.IsActive {
			mounts = append(mounts, m)
		}
	}
	return mounts, nil
}

// Resolution is the result of resolving one logical path.
type Resolution struct {
	Mount     *types.Mount
	SubPath   string
	IsVirtual bool
}

// Resolve finds the responsible mount for logicalPath: among the principal's
// active mounts, the longest mount path that covers the logical path wins.
// When no mount covers the path but the path is a proper ancestor of at
// least one mount, the resolution is virtual. Otherwise NotFound.
func (r *Registry) Resolve(ctx context.Context, p types.Principal, logicalPath string) (*Resolution, error) {
	mounts, err := r.ListForPrincipal(ctx, p)
	if err != nil {
		return nil, err
	}

	sort.Slice(mounts, func(i, j int) bool {
		return len(mounts[i].MountPath) > len(mounts[j].MountPath)
	})

	for _, m := range mounts {
		if sub, ok := subPathUnder(m.MountPath, logicalPath); ok {
			return &Resolution{Mount: m, SubPath: sub}, nil
		}
	}

	dir := logicalPath
	if !pathutil.IsDirRef(dir) {
		dir += "/"
	}
	for _, m := range mounts {
		if pathutil.IsAncestorOf(dir, dirForm(m.MountPath)) {
			return &Resolution{IsVirtual: true}, nil
		}
	}

	return nil, ferrors.Newf(ferrors.KindNotFound, "no mount covers path %s", logicalPath)
}

// subPathUnder computes the remainder of logicalPath below mountPath,
// reporting whether the mount covers the path at all.
func subPathUnder(mountPath, logicalPath string) (string, bool) {
	base := strings.TrimSuffix(mountPath, "/")
	switch {
	case logicalPath == base || logicalPath == base+"/":
		return "/", true
	case strings.HasPrefix(logicalPath, base+"/"):
		return logicalPath[len(base):], true
	}
	return "", false
}

func dirForm(p string) string {
	if strings.HasSuffix(p, "/") {
		return p
	}
	return p + "/"
}

// VirtualListing synthesizes a directory listing for an ancestor directory
// of the principal's mounts: pseudo-entries for mount points plus the
// intermediate directory names leading to them.
func (r *Registry) VirtualListing(ctx context.Context, p types.Principal, logicalPath string) (*types.DirectoryListing, error) {
	dir, err := pathutil.Normalize(logicalPath, true)
	if err != nil {
		return nil, err
	}

	mounts, err := r.ListForPrincipal(ctx, p)
	if err != nil {
		return nil, err
	}

	seen := make(map[string]bool)
	var items []types.ListingItem
	for _, m := range mounts {
		mp := dirForm(m.MountPath)
		if dir != pathutil.Root && !strings.HasPrefix(mp, dir) {
			continue
		}
		rest := strings.TrimPrefix(mp, dir)
		if dir == pathutil.Root {
			rest = strings.TrimPrefix(mp, "/")
		}
		if rest == "" {
			continue
		}
		name := rest
		if idx := strings.Index(rest, "/"); idx >= 0 {
			name = rest[:idx]
		}
		if name == "" || seen[name] {
			continue
		}
		seen[name] = true

		isMount := rest == name+"/"
		item := types.ListingItem{
			Name:        name,
			Path:        pathutil.Join(dir, name+"/"),
			IsDirectory: true,
			IsVirtual:   !isMount,
			IsMount:     isMount,
		}
		if isMount {
			item.MountID = m.ID
		}
		items = append(items, item)
	}

	if len(items) == 0 && dir != pathutil.Root {
		return nil, ferrors.Newf(ferrors.KindNotFound, "no mount covers path %s", logicalPath)
	}

	sort.Slice(items, func(i, j int) bool { return items[i].Name < items[j].Name })
	return &types.DirectoryListing{
		Path:      dir,
		IsVirtual: true,
		IsRoot:    dir == pathutil.Root,
		Items:     items,
	}, nil
}

// UpdateLastUsed records mount usage without ever blocking the data path:
// the write happens on its own goroutine with its own deadline, and
// failures are logged and swallowed.
func (r *Registry) UpdateLastUsed(mountID string) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := r.mounts.TouchMountLastUsed(ctx, mountID, time.Now().UTC()); err != nil {
			r.logger.Warn("failed to update mount last-used", "mount_id", mountID, "error", err)
		}
	}()
}
