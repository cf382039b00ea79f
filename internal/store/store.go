// Package store persists mounts, S3 configurations and file records in an
// embedded BadgerDB database.
//
// Storage model: one JSON row per key under a namespaced prefix, so different
// record types never collide and prefix scans stay cheap:
//
//	mount:<id>                    Mount row
//	s3cfg:<id>                    S3Config row
//	file:<id>                     FileRecord row
//	fileslug:<slug>               file id
//	filepath:<configID>/<path>    file id, for lookup by storage path
//
// The tables are small (tens to hundreds of rows) so owner filtering happens
// on scan rather than through secondary indexes.
package store

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	badger "github.com/dgraph-io/badger/v4"
)

const (
	prefixMount    = "mount:"
	prefixS3Config = "s3cfg:"
	prefixFile     = "file:"
	prefixFileSlug = "fileslug:"
	prefixFilePath = "filepath:"
)

// Store is the Badger-backed persistence layer. It implements
// types.MountRepository, types.S3ConfigRepository and types.FileRepository.
type Store struct {
	db     *badger.DB
	logger *slog.Logger

	mu              sync.RWMutex
	configListeners []func(storageType, configID string)
}

// Open opens (creating if needed) the database at dir.
func Open(dir string) (*Store, error) {
	opts := badger.DefaultOptions(dir).WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open store at %s: %w", dir, err)
	}
	return &Store{
		db:     db,
		logger: slog.Default().With("component", "store"),
	}, nil
}

// OpenInMemory opens a volatile database, used by tests.
func OpenInMemory() (*Store, error) {
	opts := badger.DefaultOptions("").WithInMemory(true).WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open in-memory store: %w", err)
	}
	return &Store{
		db:     db,
		logger: slog.Default().With("component", "store"),
	}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// OnConfigChanged registers a listener invoked after an S3 configuration is
// updated or deleted, so downstream driver pools can drop stale clients.
func (s *Store) OnConfigChanged(fn func(storageType, configID string)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.configListeners = append(s.configListeners, fn)
}

func (s *Store) notifyConfigChanged(configID string) {
	s.mu.RLock()
	listeners := make([]func(string, string), len(s.configListeners))
	copy(listeners, s.configListeners)
	s.mu.RUnlock()

	for _, fn := range listeners {
		fn("S3", configID)
	}
}

// putJSON marshals v and writes it at key within txn.
func putJSON(txn *badger.Txn, key string, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", key, err)
	}
	return txn.Set([]byte(key), data)
}

// getJSON reads key within txn and unmarshals into v. Returns
// badger.ErrKeyNotFound when absent.
func getJSON(txn *badger.Txn, key string, v interface{}) error {
	item, err := txn.Get([]byte(key))
	if err != nil {
		return err
	}
	return item.Value(func(data []byte) error {
		return json.Unmarshal(data, v)
	})
}

// scanPrefix iterates all values under prefix, invoking fn with each raw row.
func (s *Store) scanPrefix(prefix string, fn func(val []byte) error) error {
	return s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(prefix)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			if err := it.Item().Value(fn); err != nil {
				return err
			}
		}
		return nil
	})
}
