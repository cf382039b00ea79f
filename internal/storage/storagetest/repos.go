package storagetest

import (
	"context"
	"sync"
	"time"

	ferrors "github.com/wukibaka/cloudpaste/pkg/errors"
	"github.com/wukibaka/cloudpaste/pkg/types"
)

// MountRepo is an in-memory types.MountRepository.
type MountRepo struct {
	mu     sync.Mutex
	mounts map[string]*types.Mount
}

// NewMountRepo seeds a repository.
func NewMountRepo(mounts ...*types.Mount) *MountRepo {
	r := &MountRepo{mounts: make(map[string]*types.Mount)}
	for _, m := range mounts {
		r.mounts[m.ID] = m
	}
	return r
}

func (r *MountRepo) CreateMount(ctx context.Context, m *types.Mount) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.mounts[m.ID] = m
	return nil
}

func (r *MountRepo) UpdateMount(ctx context.Context, m *types.Mount) error {
	return r.CreateMount(ctx, m)
}

func (r *MountRepo) DeleteMount(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.mounts, id)
	return nil
}

func (r *MountRepo) GetMount(ctx context.Context, id string) (*types.Mount, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if m, ok := r.mounts[id]; ok {
		return m, nil
	}
	return nil, ferrors.NotFound("no such mount")
}

func (r *MountRepo) ListMountsByOwner(ctx context.Context, owner string) ([]*types.Mount, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*types.Mount
	for _, m := range r.mounts {
		if m.Owner == owner {
			out = append(out, m)
		}
	}
	return out, nil
}

func (r *MountRepo) TouchMountLastUsed(ctx context.Context, id string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if m, ok := r.mounts[id]; ok {
		m.LastUsedAt = at
	}
	return nil
}

// ConfigRepo is an in-memory types.S3ConfigRepository.
type ConfigRepo struct {
	mu      sync.Mutex
	configs map[string]*types.S3Config
}

// NewConfigRepo seeds a repository.
func NewConfigRepo(configs ...*types.S3Config) *ConfigRepo {
	r := &ConfigRepo{configs: make(map[string]*types.S3Config)}
	for _, c := range configs {
		r.configs[c.ID] = c
	}
	return r
}

func (r *ConfigRepo) CreateConfig(ctx context.Context, c *types.S3Config) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.configs[c.ID] = c
	return nil
}

func (r *ConfigRepo) UpdateConfig(ctx context.Context, c *types.S3Config) error {
	return r.CreateConfig(ctx, c)
}

func (r *ConfigRepo) DeleteConfig(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.configs, id)
	return nil
}

func (r *ConfigRepo) GetConfig(ctx context.Context, id string) (*types.S3Config, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if c, ok := r.configs[id]; ok {
		return c, nil
	}
	return nil, ferrors.NotFound("no such config")
}

func (r *ConfigRepo) ListConfigs(ctx context.Context) ([]*types.S3Config, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*types.S3Config, 0, len(r.configs))
	for _, c := range r.configs {
		out = append(out, c)
	}
	return out, nil
}

// PlainSecrets is a pass-through types.SecretBox.
type PlainSecrets struct{}

func (PlainSecrets) Encrypt(s string) (string, error) { return s, nil }
func (PlainSecrets) Decrypt(s string) (string, error) { return s, nil }
