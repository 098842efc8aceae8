package statestore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// RedisStore is the production Store backend. PutInstanceIfAbsent is
// implemented with SETNX, which is atomic at the single-key level and
// supplies the same all-or-nothing semantics as the conditional insert
// (ConditionExpression="attribute_not_exists(instance_id)") it replaces.
//
// The instance writes (PutInstance, UpdateInstance, DeleteInstance) and
// UpdateApiKeyLastUsed each run their GET, field merge, and
// write inside a WATCH/MULTI/EXEC optimistic-locking transaction: if the
// key changes between the GET and the EXEC, go-redis reports
// redis.TxFailedErr and watchRetry replays the whole read-modify-write
// rather than silently clobbering a concurrent writer.
//
// listInstances filters are backed by explicit secondary index sets —
// one per model, one per status, and one covering every instance — so a
// (model, status) query intersects two small sets instead of scanning the
// keyspace.
type RedisStore struct {
	rdb *redis.Client
}

// maxOptimisticLockRetries bounds how many times watchRetry replays a
// transaction after losing the WATCH race before giving up.
const maxOptimisticLockRetries = 10

// watchRetry runs fn under a WATCH on keys, retrying on redis.TxFailedErr.
func (s *RedisStore) watchRetry(ctx context.Context, fn func(tx *redis.Tx) error, keys ...string) error {
	for i := 0; i < maxOptimisticLockRetries; i++ {
		err := s.rdb.Watch(ctx, fn, keys...)
		if err == nil {
			return nil
		}
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return err
	}
	return fmt.Errorf("exceeded %d retries on optimistic lock for %v", maxOptimisticLockRetries, keys)
}

func getTxJSON[T any](ctx context.Context, tx *redis.Tx, key string) (*T, error) {
	raw, err := tx.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("statestore: get %s: %w", key, err)
	}

	var v T
	if err := json.Unmarshal([]byte(raw), &v); err != nil {
		return nil, fmt.Errorf("statestore: decoding %s: %w", key, err)
	}
	return &v, nil
}

// NewRedisStore wraps an already-connected Redis client.
func NewRedisStore(rdb *redis.Client) *RedisStore {
	return &RedisStore{rdb: rdb}
}

const keyPrefix = "diogenes"

func instanceKey(id string) string            { return fmt.Sprintf("%s:instance:%s", keyPrefix, id) }
func allInstancesIndexKey() string             { return fmt.Sprintf("%s:idx:instances:all", keyPrefix) }
func modelIndexKey(model string) string        { return fmt.Sprintf("%s:idx:instances:model:%s", keyPrefix, model) }
func statusIndexKey(status InstanceStatus) string {
	return fmt.Sprintf("%s:idx:instances:status:%s", keyPrefix, status)
}
func modelConfigKey(name string) string   { return fmt.Sprintf("%s:modelconfig:%s", keyPrefix, name) }
func allModelConfigsKey() string          { return fmt.Sprintf("%s:idx:modelconfigs:all", keyPrefix) }
func apiKeyKey(hash string) string        { return fmt.Sprintf("%s:apikey:%s", keyPrefix, hash) }
func apiKeyEmailIndexKey(email string) string {
	return fmt.Sprintf("%s:idx:apikeys:email:%s", keyPrefix, email)
}

func (s *RedisStore) GetInstance(ctx context.Context, id string) (*Instance, error) {
	return getJSON[Instance](ctx, s.rdb, instanceKey(id))
}

func (s *RedisStore) ListInstances(ctx context.Context, filter ListInstancesFilter) ([]Instance, error) {
	ids, err := s.instanceIDs(ctx, filter)
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = instanceKey(id)
	}

	vals, err := s.rdb.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("statestore: mget instances: %w", err)
	}

	out := make([]Instance, 0, len(vals))
	for _, v := range vals {
		if v == nil {
			continue
		}
		str, ok := v.(string)
		if !ok {
			continue
		}
		var inst Instance
		if err := json.Unmarshal([]byte(str), &inst); err != nil {
			return nil, fmt.Errorf("statestore: decoding instance: %w", err)
		}
		out = append(out, inst)
	}
	return out, nil
}

func (s *RedisStore) instanceIDs(ctx context.Context, filter ListInstancesFilter) ([]string, error) {
	switch {
	case filter.Model != "" && filter.Status != "":
		return s.rdb.SInter(ctx, modelIndexKey(filter.Model), statusIndexKey(filter.Status)).Result()
	case filter.Model != "":
		return s.rdb.SMembers(ctx, modelIndexKey(filter.Model)).Result()
	case filter.Status != "":
		return s.rdb.SMembers(ctx, statusIndexKey(filter.Status)).Result()
	default:
		return s.rdb.SMembers(ctx, allInstancesIndexKey()).Result()
	}
}

func (s *RedisStore) PutInstance(ctx context.Context, inst Instance) error {
	key := instanceKey(inst.InstanceID)

	txf := func(tx *redis.Tx) error {
		prev, err := getTxJSON[Instance](ctx, tx, key)
		if err != nil && !errors.Is(err, ErrNotFound) {
			return err
		}

		data, err := json.Marshal(inst)
		if err != nil {
			return fmt.Errorf("statestore: encoding instance: %w", err)
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			if prev != nil {
				pipe.SRem(ctx, modelIndexKey(prev.Model), prev.InstanceID)
				pipe.SRem(ctx, statusIndexKey(prev.Status), prev.InstanceID)
			}
			pipe.Set(ctx, key, data, 0)
			pipe.SAdd(ctx, allInstancesIndexKey(), inst.InstanceID)
			pipe.SAdd(ctx, modelIndexKey(inst.Model), inst.InstanceID)
			pipe.SAdd(ctx, statusIndexKey(inst.Status), inst.InstanceID)
			return nil
		})
		return err
	}

	if err := s.watchRetry(ctx, txf, key); err != nil {
		return fmt.Errorf("statestore: putting instance: %w", err)
	}
	return nil
}

// PutInstanceIfAbsent is the only primitive that provides cross-process
// mutual exclusion. SETNX is a single-key atomic operation; there is no
// race window between the absence check and the write.
func (s *RedisStore) PutInstanceIfAbsent(ctx context.Context, inst Instance) (bool, error) {
	data, err := json.Marshal(inst)
	if err != nil {
		return false, fmt.Errorf("statestore: encoding instance: %w", err)
	}

	ok, err := s.rdb.SetNX(ctx, instanceKey(inst.InstanceID), data, 0).Result()
	if err != nil {
		return false, fmt.Errorf("statestore: claiming instance: %w", err)
	}
	if !ok {
		return false, nil
	}

	_, err = s.rdb.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.SAdd(ctx, allInstancesIndexKey(), inst.InstanceID)
		pipe.SAdd(ctx, modelIndexKey(inst.Model), inst.InstanceID)
		pipe.SAdd(ctx, statusIndexKey(inst.Status), inst.InstanceID)
		return nil
	})
	if err != nil {
		return true, fmt.Errorf("statestore: indexing claimed instance: %w", err)
	}
	return true, nil
}

func (s *RedisStore) UpdateInstance(ctx context.Context, id string, fields InstanceFields) error {
	key := instanceKey(id)

	txf := func(tx *redis.Tx) error {
		inst, err := getTxJSON[Instance](ctx, tx, key)
		if err != nil {
			return err
		}

		prevStatus := inst.Status
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

		data, err := json.Marshal(inst)
		if err != nil {
			return fmt.Errorf("statestore: encoding instance: %w", err)
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, data, 0)
			if fields.Status != nil && prevStatus != inst.Status {
				pipe.SRem(ctx, statusIndexKey(prevStatus), id)
				pipe.SAdd(ctx, statusIndexKey(inst.Status), id)
			}
			return nil
		})
		return err
	}

	if err := s.watchRetry(ctx, txf, key); err != nil {
		return fmt.Errorf("statestore: updating instance: %w", err)
	}
	return nil
}

func (s *RedisStore) DeleteInstance(ctx context.Context, id string) error {
	key := instanceKey(id)

	txf := func(tx *redis.Tx) error {
		inst, err := getTxJSON[Instance](ctx, tx, key)
		if errors.Is(err, ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Del(ctx, key)
			pipe.SRem(ctx, allInstancesIndexKey(), id)
			pipe.SRem(ctx, modelIndexKey(inst.Model), id)
			pipe.SRem(ctx, statusIndexKey(inst.Status), id)
			return nil
		})
		return err
	}

	if err := s.watchRetry(ctx, txf, key); err != nil {
		return fmt.Errorf("statestore: deleting instance: %w", err)
	}
	return nil
}

func (s *RedisStore) GetModelConfig(ctx context.Context, name string) (*ModelConfig, error) {
	return getJSON[ModelConfig](ctx, s.rdb, modelConfigKey(name))
}

func (s *RedisStore) ListModelConfigs(ctx context.Context) ([]ModelConfig, error) {
	names, err := s.rdb.SMembers(ctx, allModelConfigsKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("statestore: listing model configs: %w", err)
	}
	out := make([]ModelConfig, 0, len(names))
	for _, name := range names {
		cfg, err := s.GetModelConfig(ctx, name)
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, *cfg)
	}
	return out, nil
}

func (s *RedisStore) PutModelConfig(ctx context.Context, cfg ModelConfig) error {
	data, err := json.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("statestore: encoding model config: %w", err)
	}

	_, err = s.rdb.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, modelConfigKey(cfg.Name), data, 0)
		pipe.SAdd(ctx, allModelConfigsKey(), cfg.Name)
		return nil
	})
	if err != nil {
		return fmt.Errorf("statestore: putting model config: %w", err)
	}
	return nil
}

func (s *RedisStore) GetApiKey(ctx context.Context, hash string) (*ApiKey, error) {
	return getJSON[ApiKey](ctx, s.rdb, apiKeyKey(hash))
}

func (s *RedisStore) PutApiKey(ctx context.Context, key ApiKey) error {
	data, err := json.Marshal(key)
	if err != nil {
		return fmt.Errorf("statestore: encoding api key: %w", err)
	}

	_, err = s.rdb.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, apiKeyKey(key.KeyHash), data, 0)
		pipe.SAdd(ctx, apiKeyEmailIndexKey(key.Email), key.KeyHash)
		return nil
	})
	if err != nil {
		return fmt.Errorf("statestore: putting api key: %w", err)
	}
	return nil
}

func (s *RedisStore) DeleteApiKey(ctx context.Context, hash string) error {
	key, err := s.GetApiKey(ctx, hash)
	if errors.Is(err, ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}

	_, err = s.rdb.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, apiKeyKey(hash))
		pipe.SRem(ctx, apiKeyEmailIndexKey(key.Email), hash)
		return nil
	})
	if err != nil {
		return fmt.Errorf("statestore: deleting api key: %w", err)
	}
	return nil
}

func (s *RedisStore) ListApiKeys(ctx context.Context, email string) ([]ApiKey, error) {
	hashes, err := s.rdb.SMembers(ctx, apiKeyEmailIndexKey(email)).Result()
	if err != nil {
		return nil, fmt.Errorf("statestore: listing api keys: %w", err)
	}
	out := make([]ApiKey, 0, len(hashes))
	for _, hash := range hashes {
		key, err := s.GetApiKey(ctx, hash)
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, *key)
	}
	return out, nil
}

func (s *RedisStore) UpdateApiKeyLastUsed(ctx context.Context, hash string, ts int64) error {
	key := apiKeyKey(hash)

	txf := func(tx *redis.Tx) error {
		apiKey, err := getTxJSON[ApiKey](ctx, tx, key)
		if err != nil {
			return err
		}
		apiKey.LastUsedAt = ts

		data, err := json.Marshal(apiKey)
		if err != nil {
			return fmt.Errorf("statestore: encoding api key: %w", err)
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, data, 0)
			return nil
		})
		return err
	}

	if err := s.watchRetry(ctx, txf, key); err != nil {
		return fmt.Errorf("statestore: updating api key last_used: %w", err)
	}
	return nil
}

func getJSON[T any](ctx context.Context, rdb *redis.Client, key string) (*T, error) {
	raw, err := rdb.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("statestore: get %s: %w", key, err)
	}

	var v T
	if err := json.Unmarshal([]byte(raw), &v); err != nil {
		return nil, fmt.Errorf("statestore: decoding %s: %w", key, err)
	}
	return &v, nil
}

var _ Store = (*RedisStore)(nil)
