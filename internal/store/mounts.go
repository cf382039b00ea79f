package store

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"strings"
	"time"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"

	ferrors "github.com/wukibaka/cloudpaste/pkg/errors"
	"github.com/wukibaka/cloudpaste/pkg/types"
)

// reservedMountPrefixes are logical segments the HTTP surfaces own; mounts
// must not shadow them.
var reservedMountPrefixes = []string{"/api", "/dav"}

func validateMountPath(path string) error {
	if path == "" || path[0] != '/' {
		return ferrors.Newf(ferrors.KindBadRequest, "mount path %q must be absolute", path)
	}
	trimmed := strings.TrimSuffix(path, "/")
	for _, reserved := range reservedMountPrefixes {
		if trimmed == reserved || strings.HasPrefix(path, reserved+"/") {
			return ferrors.Newf(ferrors.KindBadRequest, "mount path %q shadows reserved segment %s", path, reserved)
		}
	}
	return nil
}

// CreateMount persists a new mount, assigning an id when absent.
func (s *Store) CreateMount(ctx context.Context, m *types.Mount) error {
	if err := ctx.Err(); err != nil {
		return ferrors.Cancelled(err)
	}
	if err := validateMountPath(m.MountPath); err != nil {
		return err
	}
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	m.CreatedAt = now
	m.UpdatedAt = now

	err := s.db.Update(func(txn *badger.Txn) error {
		return putJSON(txn, prefixMount+m.ID, m)
	})
	if err != nil {
		return ferrors.Internal("failed to persist mount", err)
	}
	return nil
}

// UpdateMount overwrites an existing mount row.
func (s *Store) UpdateMount(ctx context.Context, m *types.Mount) error {
	if err := ctx.Err(); err != nil {
		return ferrors.Cancelled(err)
	}
	if err := validateMountPath(m.MountPath); err != nil {
		return err
	}
	m.UpdatedAt = time.Now().UTC()

	err := s.db.Update(func(txn *badger.Txn) error {
		var existing types.Mount
		if err := getJSON(txn, prefixMount+m.ID, &existing); err != nil {
			return err
		}
		m.CreatedAt = existing.CreatedAt
		return putJSON(txn, prefixMount+m.ID, m)
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return ferrors.Newf(ferrors.KindNotFound, "mount %s not found", m.ID)
	}
	if err != nil {
		return ferrors.Internal("failed to update mount", err)
	}
	return nil
}

// DeleteMount removes a mount row.
func (s *Store) DeleteMount(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return ferrors.Cancelled(err)
	}
	err := s.db.Update(func(txn *badger.Txn) error {
		if _, err := txn.Get([]byte(prefixMount + id)); err != nil {
			return err
		}
		return txn.Delete([]byte(prefixMount + id))
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return ferrors.Newf(ferrors.KindNotFound, "mount %s not found", id)
	}
	if err != nil {
		return ferrors.Internal("failed to delete mount", err)
	}
	return nil
}

// GetMount fetches one mount by id.
func (s *Store) GetMount(ctx context.Context, id string) (*types.Mount, error) {
	if err := ctx.Err(); err != nil {
		return nil, ferrors.Cancelled(err)
	}
	var m types.Mount
	err := s.db.View(func(txn *badger.Txn) error {
		return getJSON(txn, prefixMount+id, &m)
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, ferrors.Newf(ferrors.KindNotFound, "mount %s not found", id)
	}
	if err != nil {
		return nil, ferrors.Internal("failed to read mount", err)
	}
	return &m, nil
}

// ListMountsByOwner returns every mount owned by owner, ordered by sort order
// then mount path.
func (s *Store) ListMountsByOwner(ctx context.Context, owner string) ([]*types.Mount, error) {
	if err := ctx.Err(); err != nil {
		return nil, ferrors.Cancelled(err)
	}
	var mounts []*types.Mount
	err := s.scanPrefix(prefixMount, func(val []byte) error {
		var m types.Mount
		if err := json.Unmarshal(val, &m); err != nil {
			return err
		}
		if m.Owner == owner {
			mounts = append(mounts, &m)
		}
		return nil
	})
	if err != nil {
		return nil, ferrors.Internal("failed to scan mounts", err)
	}

	sort.Slice(mounts, func(i, j int) bool {
		if mounts[i].SortOrder != mounts[j].SortOrder {
			return mounts[i].SortOrder < mounts[j].SortOrder
		}
		return mounts[i].MountPath < mounts[j].MountPath
	})
	return mounts, nil
}

// TouchMountLastUsed updates the last-used timestamp. Callers treat this as
// best-effort and never block the data path on it.
func (s *Store) TouchMountLastUsed(ctx context.Context, id string, at time.Time) error {
	if err := ctx.Err(); err != nil {
		return ferrors.Cancelled(err)
	}
	err := s.db.Update(func(txn *badger.Txn) error {
		var m types.Mount
		if err := getJSON(txn, prefixMount+id, &m); err != nil {
			return err
		}
		m.LastUsedAt = at
		return putJSON(txn, prefixMount+id, &m)
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return ferrors.Newf(ferrors.KindNotFound, "mount %s not found", id)
	}
	if err != nil {
		return ferrors.Internal("failed to touch mount", err)
	}
	return nil
}
