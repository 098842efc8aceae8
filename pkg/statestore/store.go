package statestore

import "context"

// Store is the sole synchronization primitive shared by every stateless
// process in the control plane. putInstanceIfAbsent is the only primitive
// that provides cross-process mutual exclusion; every other method is a
// plain point read/write.
type Store interface {
	GetInstance(ctx context.Context, id string) (*Instance, error)
	ListInstances(ctx context.Context, filter ListInstancesFilter) ([]Instance, error)
	PutInstance(ctx context.Context, inst Instance) error
	// PutInstanceIfAbsent succeeds iff no row with the same InstanceID
	// exists. It must not fail on contention — it reports the outcome via
	// the bool return, never an error, for a losing caller.
	PutInstanceIfAbsent(ctx context.Context, inst Instance) (bool, error)
	UpdateInstance(ctx context.Context, id string, fields InstanceFields) error
	DeleteInstance(ctx context.Context, id string) error

	GetModelConfig(ctx context.Context, name string) (*ModelConfig, error)
	ListModelConfigs(ctx context.Context) ([]ModelConfig, error)
	PutModelConfig(ctx context.Context, cfg ModelConfig) error

	GetApiKey(ctx context.Context, hash string) (*ApiKey, error)
	PutApiKey(ctx context.Context, key ApiKey) error
	DeleteApiKey(ctx context.Context, hash string) error
	ListApiKeys(ctx context.Context, email string) ([]ApiKey, error)
	UpdateApiKeyLastUsed(ctx context.Context, hash string, ts int64) error
}
