package statestore

import (
	"context"
	"sort"
	"sync"
)

// MemStore is an in-process Store implementation used by unit tests in
// place of a live Redis connection. It mirrors the semantics of the
// production Redis store exactly, including putInstanceIfAbsent's
// atomicity (guaranteed here by a single mutex rather than SETNX).
type MemStore struct {
	mu sync.Mutex

	instances    map[string]Instance
	modelConfigs map[string]ModelConfig
	apiKeys      map[string]ApiKey
}

// NewMemStore returns an empty MemStore.
func NewMemStore() *MemStore {
	return &MemStore{
		instances:    make(map[string]Instance),
		modelConfigs: make(map[string]ModelConfig),
		apiKeys:      make(map[string]ApiKey),
	}
}

func (s *MemStore) GetInstance(_ context.Context, id string) (*Instance, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	inst, ok := s.instances[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := inst
	return &cp, nil
}

func (s *MemStore) ListInstances(_ context.Context, filter ListInstancesFilter) ([]Instance, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []Instance
	for _, inst := range s.instances {
		if filter.Model != "" && inst.Model != filter.Model {
			continue
		}
		if filter.Status != "" && inst.Status != filter.Status {
			continue
		}
		out = append(out, inst)
	}
	return out, nil
}

func (s *MemStore) PutInstance(_ context.Context, inst Instance) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.instances[inst.InstanceID] = inst
	return nil
}

func (s *MemStore) PutInstanceIfAbsent(_ context.Context, inst Instance) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.instances[inst.InstanceID]; exists {
		return false, nil
	}
	s.instances[inst.InstanceID] = inst
	return true, nil
}

func (s *MemStore) UpdateInstance(_ context.Context, id string, fields InstanceFields) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	inst, ok := s.instances[id]
	if !ok {
		return ErrNotFound
	}
	if fields.ProviderInstanceID != nil {
		inst.ProviderInstanceID = *fields.ProviderInstanceID
	}
	if fields.Status != nil {
		inst.Status = *fields.Status
	}
	if fields.IP != nil {
		inst.IP = *fields.IP
	}
	if fields.LastRequestAt != nil {
		inst.LastRequestAt = *fields.LastRequestAt
	}
	s.instances[id] = inst
	return nil
}

func (s *MemStore) DeleteInstance(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.instances, id)
	return nil
}

func (s *MemStore) GetModelConfig(_ context.Context, name string) (*ModelConfig, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cfg, ok := s.modelConfigs[name]
	if !ok {
		return nil, ErrNotFound
	}
	cp := cfg
	return &cp, nil
}

func (s *MemStore) ListModelConfigs(_ context.Context) ([]ModelConfig, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]ModelConfig, 0, len(s.modelConfigs))
	for _, cfg := range s.modelConfigs {
		out = append(out, cfg)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (s *MemStore) PutModelConfig(_ context.Context, cfg ModelConfig) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.modelConfigs[cfg.Name] = cfg
	return nil
}

func (s *MemStore) GetApiKey(_ context.Context, hash string) (*ApiKey, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key, ok := s.apiKeys[hash]
	if !ok {
		return nil, ErrNotFound
	}
	cp := key
	return &cp, nil
}

func (s *MemStore) PutApiKey(_ context.Context, key ApiKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.apiKeys[key.KeyHash] = key
	return nil
}

func (s *MemStore) DeleteApiKey(_ context.Context, hash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.apiKeys, hash)
	return nil
}

func (s *MemStore) ListApiKeys(_ context.Context, email string) ([]ApiKey, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []ApiKey
	for _, key := range s.apiKeys {
		if key.Email == email {
			out = append(out, key)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt > out[j].CreatedAt })
	return out, nil
}

func (s *MemStore) UpdateApiKeyLastUsed(_ context.Context, hash string, ts int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key, ok := s.apiKeys[hash]
	if !ok {
		return ErrNotFound
	}
	key.LastUsedAt = ts
	s.apiKeys[hash] = key
	return nil
}

var _ Store = (*MemStore)(nil)
