package store

import (
	"context"
	"sync"

	"github.com/helmwind/browserpilot/internal/domain/session/model"
)

// MemoryStore is the in-memory Store used by tests and store-less
// deployments. Profiles and plugin sets are seeded programmatically.
type MemoryStore struct {
	mu       sync.RWMutex
	profiles map[model.Key]model.Profile
	plugins  map[model.Key][]model.PluginSpec
	defaults map[model.TenantID][]model.PluginSpec
}

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		profiles: map[model.Key]model.Profile{},
		plugins:  map[model.Key][]model.PluginSpec{},
		defaults: map[model.TenantID][]model.PluginSpec{},
	}
}

// PutProfile seeds a fingerprint profile.
func (s *MemoryStore) PutProfile(p model.Profile) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.profiles[model.Key{Tenant: p.Tenant, Profile: p.ID}] = p
}

// PutPlugins seeds per-profile plugin overrides.
func (s *MemoryStore) PutPlugins(key model.Key, specs []model.PluginSpec) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.plugins[key] = specs
}

// PutTenantDefaults seeds tenant-wide plugin defaults.
func (s *MemoryStore) PutTenantDefaults(tenant model.TenantID, specs []model.PluginSpec) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.defaults[tenant] = specs
}

// Load implements ports.FingerprintStore.
func (s *MemoryStore) Load(_ context.Context, tenant model.TenantID, profile model.ProfileID) (model.Profile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.profiles[model.Key{Tenant: tenant, Profile: profile}]
	if !ok {
		return model.Profile{}, model.ErrProfileNotFound
	}
	return p, nil
}

// Count implements ports.FingerprintStore.
func (s *MemoryStore) Count(_ context.Context, tenant model.TenantID) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for key := range s.profiles {
		if key.Tenant == tenant {
			n++
		}
	}
	return n, nil
}

// LoadPlugins implements ports.PluginConfigStore: per-profile overrides win
// over tenant defaults by kind; with neither, the built-in default set.
func (s *MemoryStore) LoadPlugins(_ context.Context, tenant model.TenantID, profile model.ProfileID) ([]model.PluginSpec, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return mergePluginSpecs(s.defaults[tenant], s.plugins[model.Key{Tenant: tenant, Profile: profile}]), nil
}

// Close implements Store.
func (s *MemoryStore) Close() error { return nil }

// mergePluginSpecs resolves the effective plugin set. Overrides replace
// defaults of the same kind; kinds absent from both fall back to the
// built-in defaults.
func mergePluginSpecs(tenantDefaults, overrides []model.PluginSpec) []model.PluginSpec {
	byKind := map[model.PluginKind]model.PluginSpec{}
	for _, spec := range model.DefaultPluginSpecs() {
		byKind[spec.Kind] = spec
	}
	for _, spec := range tenantDefaults {
		byKind[spec.Kind] = spec
	}
	for _, spec := range overrides {
		byKind[spec.Kind] = spec
	}

	// Stable order: the canonical chain order.
	order := []model.PluginKind{model.PluginLog, model.PluginPageLimit, model.PluginRandomWait, model.PluginRetry}
	out := make([]model.PluginSpec, 0, len(order))
	for _, kind := range order {
		if spec, ok := byKind[kind]; ok {
			out = append(out, spec)
		}
	}
	return out
}
