package mount

import (
	"context"
	"log/slog"
	"sync"

	"github.com/wukibaka/cloudpaste/internal/cache"
	s3driver "github.com/wukibaka/cloudpaste/internal/storage/s3"
	ferrors "github.com/wukibaka/cloudpaste/pkg/errors"
	"github.com/wukibaka/cloudpaste/pkg/types"
)

// BuildFunc constructs a driver for one decrypted configuration. The default
// builds the S3 driver; tests substitute stubs.
type BuildFunc func(ctx context.Context, cfg *types.S3Config, secretKey string) (types.Driver, error)

// Manager pools drivers keyed by (storageType, configID). Construction runs
// under a per-key lock so concurrent resolutions of the same configuration
// build a single client; readers hit the pool without blocking builders of
// other keys.
type Manager struct {
	registry *Registry
	configs  types.S3ConfigRepository
	secrets  types.SecretBox
	build    BuildFunc
	logger   *slog.Logger

	mu    sync.RWMutex
	pool  map[string]types.Driver
	locks map[string]*sync.Mutex
}

// NewManager creates a driver pool over the config repository. dirCache and
// files are handed to every driver built.
func NewManager(registry *Registry, configs types.S3ConfigRepository, secrets types.SecretBox, dirCache *cache.DirectoryCache, files types.FileRepository) *Manager {
	m := &Manager{
		registry: registry,
		configs:  configs,
		secrets:  secrets,
		logger:   slog.Default().With("component", "mount-manager"),
		pool:     make(map[string]types.Driver),
		locks:    make(map[string]*sync.Mutex),
	}
	m.build = func(ctx context.Context, cfg *types.S3Config, secretKey string) (types.Driver, error) {
		return s3driver.NewDriver(ctx, cfg, secretKey, s3driver.Deps{
			DirCache: dirCache,
			Files:    files,
		})
	}
	return m
}

// SetBuildFunc replaces driver construction, used by tests.
func (m *Manager) SetBuildFunc(build BuildFunc) {
	m.build = build
}

// Registry exposes the underlying mount registry.
func (m *Manager) Registry() *Registry {
	return m.registry
}

func poolKey(storageType, configID string) string {
	return storageType + ":" + configID
}

// GetDriver returns the pooled driver for the mount's configuration,
// building one on first use.
func (m *Manager) GetDriver(ctx context.Context, mnt *types.Mount) (types.Driver, error) {
	if mnt.StorageType != types.StorageTypeS3 {
		return nil, ferrors.Newf(ferrors.KindUnimplemented, "unsupported storage type %s", mnt.StorageType)
	}
	key := poolKey(mnt.StorageType, mnt.StorageConfigID)

	m.mu.RLock()
	driver, ok := m.pool[key]
	m.mu.RUnlock()
	if ok {
		return driver, nil
	}

	lock := m.keyLock(key)
	lock.Lock()
	defer lock.Unlock()

	m.mu.RLock()
	driver, ok = m.pool[key]
	m.mu.RUnlock()
	if ok {
		return driver, nil
	}

	cfg, err := m.configs.GetConfig(ctx, mnt.StorageConfigID)
	if err != nil {
		return nil, err
	}
	secretKey, err := m.secrets.Decrypt(cfg.EncryptedSecretKey)
	if err != nil {
		return nil, ferrors.Internal("failed to decrypt storage secret", err)
	}

	driver, err = m.build(ctx, cfg, secretKey)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	m.pool[key] = driver
	m.mu.Unlock()

	m.logger.Info("storage driver built", "storage_type", mnt.StorageType, "config_id", mnt.StorageConfigID)
	return driver, nil
}

func (m *Manager) keyLock(key string) *sync.Mutex {
	m.mu.Lock()
	defer m.mu.Unlock()
	lock, ok := m.locks[key]
	if !ok {
		lock = &sync.Mutex{}
		m.locks[key] = lock
	}
	return lock
}

// GetDriverByPath resolves logicalPath for the principal and returns the
// responsible driver, mount and sub-path. Virtual resolutions have no
// driver and come back NotFound; callers that can serve virtual paths use
// Registry().Resolve directly. Successful resolutions touch the mount's
// last-used timestamp in the background.
func (m *Manager) GetDriverByPath(ctx context.Context, p types.Principal, logicalPath string) (types.Driver, *types.Mount, string, error) {
	res, err := m.registry.Resolve(ctx, p, logicalPath)
	if err != nil {
		return nil, nil, "", err
	}
	if res.IsVirtual {
		return nil, nil, "", ferrors.Newf(ferrors.KindNotFound, "path %s is a virtual directory", logicalPath)
	}

	driver, err := m.GetDriver(ctx, res.Mount)
	if err != nil {
		return nil, nil, "", err
	}

	m.registry.UpdateLastUsed(res.Mount.ID)
	return driver, res.Mount, res.SubPath, nil
}

// ClearConfigCache tears down the pooled driver for one configuration so
// the next resolution re-reads it. Wired to the config store's change
// notifications.
func (m *Manager) ClearConfigCache(storageType, configID string) {
	key := poolKey(storageType, configID)

	m.mu.Lock()
	driver, ok := m.pool[key]
	delete(m.pool, key)
	m.mu.Unlock()

	if ok {
		if err := driver.Close(); err != nil {
			m.logger.Warn("failed to close replaced driver", "config_id", configID, "error", err)
		}
		m.logger.Info("storage driver evicted", "storage_type", storageType, "config_id", configID)
	}
}

// Close tears down every pooled driver.
func (m *Manager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for key, driver := range m.pool {
		if err := driver.Close(); err != nil {
			m.logger.Warn("failed to close driver", "key", key, "error", err)
		}
		delete(m.pool, key)
	}
}
