package store

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"

	ferrors "github.com/wukibaka/cloudpaste/pkg/errors"
	"github.com/wukibaka/cloudpaste/pkg/types"
)

func filePathKey(configID, storagePath string) string {
	return prefixFilePath + configID + "/" + strings.TrimPrefix(storagePath, "/")
}

// CreateFile persists an uploaded file record, assigning an id and the
// M-<first5ofid> slug when absent.
func (s *Store) CreateFile(ctx context.Context, f *types.FileRecord) error {
	if err := ctx.Err(); err != nil {
		return ferrors.Cancelled(err)
	}
	if f.ID == "" {
		f.ID = uuid.NewString()
	}
	if f.Slug == "" {
		f.Slug = "M-" + strings.ReplaceAll(f.ID, "-", "")[:5]
	}
	now := time.Now().UTC()
	f.CreatedAt = now
	f.UpdatedAt = now

	err := s.db.Update(func(txn *badger.Txn) error {
		if err := putJSON(txn, prefixFile+f.ID, f); err != nil {
			return err
		}
		if err := txn.Set([]byte(prefixFileSlug+f.Slug), []byte(f.ID)); err != nil {
			return err
		}
		return txn.Set([]byte(filePathKey(f.S3ConfigID, f.StoragePath)), []byte(f.ID))
	})
	if err != nil {
		return ferrors.Internal("failed to persist file record", err)
	}
	return nil
}

// GetFileBySlug fetches a file record by its public slug.
func (s *Store) GetFileBySlug(ctx context.Context, slug string) (*types.FileRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, ferrors.Cancelled(err)
	}
	var f types.FileRecord
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(prefixFileSlug + slug))
		if err != nil {
			return err
		}
		var id string
		if err := item.Value(func(v []byte) error {
			id = string(v)
			return nil
		}); err != nil {
			return err
		}
		return getJSON(txn, prefixFile+id, &f)
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, ferrors.Newf(ferrors.KindNotFound, "file %s not found", slug)
	}
	if err != nil {
		return nil, ferrors.Internal("failed to read file record", err)
	}
	return &f, nil
}

// DeleteFilesByStoragePath removes every record stored under the exact
// storage path or beneath it (directory removal), returning the count.
func (s *Store) DeleteFilesByStoragePath(ctx context.Context, configID, storagePath string) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, ferrors.Cancelled(err)
	}

	pathPrefix := filePathKey(configID, storagePath)
	var ids []string
	var pathKeys []string

	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(pathPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			item := it.Item()
			key := string(item.Key())
			if key != pathPrefix && !strings.HasSuffix(pathPrefix, "/") &&
				!strings.HasPrefix(key, pathPrefix+"/") {
				continue
			}
			pathKeys = append(pathKeys, key)
			if err := item.Value(func(v []byte) error {
				ids = append(ids, string(v))
				return nil
			}); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return 0, ferrors.Internal("failed to scan file records", err)
	}
	if len(ids) == 0 {
		return 0, nil
	}

	err = s.db.Update(func(txn *badger.Txn) error {
		for i, id := range ids {
			var f types.FileRecord
			if err := getJSON(txn, prefixFile+id, &f); err == nil {
				_ = txn.Delete([]byte(prefixFileSlug + f.Slug))
			}
			if err := txn.Delete([]byte(prefixFile + id)); err != nil {
				return err
			}
			if err := txn.Delete([]byte(pathKeys[i])); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return 0, ferrors.Internal("failed to delete file records", err)
	}
	return len(ids), nil
}

// listFiles is used by tests to inspect all records.
func (s *Store) listFiles() ([]*types.FileRecord, error) {
	var files []*types.FileRecord
	err := s.scanPrefix(prefixFile, func(val []byte) error {
		var f types.FileRecord
		if err := json.Unmarshal(val, &f); err != nil {
			return err
		}
		files = append(files, &f)
		return nil
	})
	return files, err
}
