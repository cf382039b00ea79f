package store

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"time"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	ferrors "github.com/wukibaka/cloudpaste/pkg/errors"
	"github.com/wukibaka/cloudpaste/pkg/types"
)

var configValidator = validator.New()

// CreateConfig persists a new S3 configuration after struct validation.
// The secret key must already be encrypted by the caller.
func (s *Store) CreateConfig(ctx context.Context, c *types.S3Config) error {
	if err := ctx.Err(); err != nil {
		return ferrors.Cancelled(err)
	}
	if err := configValidator.Struct(c); err != nil {
		return ferrors.Wrap(ferrors.KindBadRequest, "invalid s3 config", err)
	}
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	c.CreatedAt = now
	c.UpdatedAt = now

	err := s.db.Update(func(txn *badger.Txn) error {
		return putJSON(txn, prefixS3Config+c.ID, c)
	})
	if err != nil {
		return ferrors.Internal("failed to persist s3 config", err)
	}
	return nil
}

// UpdateConfig overwrites an existing configuration and notifies listeners so
// pooled drivers built from the old values are torn down.
func (s *Store) UpdateConfig(ctx context.Context, c *types.S3Config) error {
	if err := ctx.Err(); err != nil {
		return ferrors.Cancelled(err)
	}
	if err := configValidator.Struct(c); err != nil {
		return ferrors.Wrap(ferrors.KindBadRequest, "invalid s3 config", err)
	}
	c.UpdatedAt = time.Now().UTC()

	err := s.db.Update(func(txn *badger.Txn) error {
		var existing types.S3Config
		if err := getJSON(txn, prefixS3Config+c.ID, &existing); err != nil {
			return err
		}
		c.CreatedAt = existing.CreatedAt
		return putJSON(txn, prefixS3Config+c.ID, c)
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return ferrors.Newf(ferrors.KindNotFound, "s3 config %s not found", c.ID)
	}
	if err != nil {
		return ferrors.Internal("failed to update s3 config", err)
	}

	s.notifyConfigChanged(c.ID)
	return nil
}

// DeleteConfig removes a configuration and notifies listeners.
func (s *Store) DeleteConfig(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return ferrors.Cancelled(err)
	}
	err := s.db.Update(func(txn *badger.Txn) error {
		if _, err := txn.Get([]byte(prefixS3Config + id)); err != nil {
			return err
		}
		return txn.Delete([]byte(prefixS3Config + id))
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return ferrors.Newf(ferrors.KindNotFound, "s3 config %s not found", id)
	}
	if err != nil {
		return ferrors.Internal("failed to delete s3 config", err)
	}

	s.notifyConfigChanged(id)
	return nil
}

// GetConfig fetches one configuration by id.
func (s *Store) GetConfig(ctx context.Context, id string) (*types.S3Config, error) {
	if err := ctx.Err(); err != nil {
		return nil, ferrors.Cancelled(err)
	}
	var c types.S3Config
	err := s.db.View(func(txn *badger.Txn) error {
		return getJSON(txn, prefixS3Config+id, &c)
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, ferrors.Newf(ferrors.KindNotFound, "s3 config %s not found", id)
	}
	if err != nil {
		return nil, ferrors.Internal("failed to read s3 config", err)
	}
	return &c, nil
}

// ListConfigs returns every stored configuration ordered by name.
func (s *Store) ListConfigs(ctx context.Context) ([]*types.S3Config, error) {
	if err := ctx.Err(); err != nil {
		return nil, ferrors.Cancelled(err)
	}
	var configs []*types.S3Config
	err := s.scanPrefix(prefixS3Config, func(val []byte) error {
		var c types.S3Config
		if err := json.Unmarshal(val, &c); err != nil {
			return err
		}
		configs = append(configs, &c)
		return nil
	})
	if err != nil {
		return nil, ferrors.Internal("failed to scan s3 configs", err)
	}

	sort.Slice(configs, func(i, j int) bool { return configs[i].Name < configs[j].Name })
	return configs, nil
}
